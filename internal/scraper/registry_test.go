package scraper_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/gridsight/utility-bill-worker/internal/scraper"
)

type nopScraper struct{}

func (nopScraper) RequiresBrowser() bool { return false }

func (nopScraper) Scrape(ctx context.Context, in scraper.Inputs) (*scraper.Result, error) {
	return &scraper.Result{}, nil
}

func nopFactory(in scraper.Inputs) (scraper.Scraper, error) {
	return nopScraper{}, nil
}

func TestRegister_DuplicateKeyFails(t *testing.T) {
	r := scraper.NewRegistry()

	if err := r.Register("coned", nopFactory); err != nil {
		t.Fatalf("First registration failed: %v", err)
	}
	if err := r.Register("coned", nopFactory); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
}

func TestRegister_EmptyKeyFails(t *testing.T) {
	r := scraper.NewRegistry()

	if err := r.Register("", nopFactory); err == nil {
		t.Error("Expected empty key registration to fail")
	}
}

func TestMustRegister_PanicsOnDuplicate(t *testing.T) {
	r := scraper.NewRegistry()
	r.MustRegister("coned", nopFactory)

	defer func() {
		if recover() == nil {
			t.Error("Expected MustRegister to panic on duplicate key")
		}
	}()
	r.MustRegister("coned", nopFactory)
}

func TestNew_UnknownKeyIsNotFound(t *testing.T) {
	r := scraper.NewRegistry()

	_, err := r.New("no-such-utility", scraper.Inputs{})
	if err == nil {
		t.Fatal("Expected an error for an unknown key")
	}
	if kind := scraper.KindOf(err); kind != scraper.KindNotFound {
		t.Errorf("Expected NotFound, got %s", kind)
	}
}

func TestKeys_Sorted(t *testing.T) {
	r := scraper.NewRegistry()
	r.MustRegister("pseg", nopFactory)
	r.MustRegister("coned", nopFactory)
	r.MustRegister("nationalgrid", nopFactory)

	want := []string{"coned", "nationalgrid", "pseg"}
	if got := r.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected keys %v, got %v", want, got)
	}
}
