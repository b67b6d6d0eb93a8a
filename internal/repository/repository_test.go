package repository

import (
	"testing"

	"github.com/google/uuid"

	"github.com/gridsight/utility-bill-worker/internal/db"
)

func TestNullableDataSourceID(t *testing.T) {
	// A run that failed before resolving its data source carries no id and
	// must insert NULL, not a dangling 0 reference
	unresolved := &db.ScrapeRun{ID: uuid.New(), Outcome: db.OutcomeFailed}
	if got := nullableDataSourceID(unresolved); got != nil {
		t.Errorf("Expected NULL for an unresolved run, got %d", *got)
	}

	resolved := &db.ScrapeRun{ID: uuid.New(), DataSourceID: 5866, Outcome: db.OutcomeSucceeded}
	got := nullableDataSourceID(resolved)
	if got == nil || *got != 5866 {
		t.Errorf("Expected data source id 5866, got %v", got)
	}
}
