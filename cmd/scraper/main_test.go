package main

import (
	"testing"
	"time"

	"github.com/gridsight/utility-bill-worker/tools/dateparse"
)

func TestParseArgs(t *testing.T) {
	start := time.Now().UTC().AddDate(0, -2, 0).Format(dateparse.Layout)
	end := time.Now().UTC().AddDate(0, -1, 0).Format(dateparse.Layout)

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"by oid", []string{"by-oid", "5866", start, end}, false},
		{"by key and meter", []string{"coned", "42", start, end}, false},
		{"too few args", []string{"by-oid", "5866", start}, true},
		{"bad oid", []string{"by-oid", "abc", start, end}, true},
		{"bad meter oid", []string{"coned", "abc", start, end}, true},
		{"bad date", []string{"by-oid", "5866", "2024-13-40", end}, true},
		{"inverted range", []string{"by-oid", "5866", end, start}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := parseArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseArgs failed: %v", err)
			}
			if tt.args[0] == "by-oid" {
				if req.DataSourceOID != 5866 {
					t.Errorf("Expected data source oid 5866, got %d", req.DataSourceOID)
				}
			} else {
				if req.ScraperKey != "coned" || req.MeterOID != 42 {
					t.Errorf("Expected key/meter form, got %+v", req)
				}
			}
		})
	}
}
