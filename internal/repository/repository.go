// Package repository persists cases. Every operation touches a single row;
// Claim is the only conditional write and is what keeps concurrent analysis
// attempts for the same case from racing.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dharsanguruparan/settlementops/internal/model"
)

// ErrNotFound is returned when no case has the requested id.
var ErrNotFound = errors.New("case not found")

// CaseRepository is implemented by the Postgres, SQLite and in-memory stores.
type CaseRepository interface {
	// Create inserts c in status pending and fills in its ID and timestamps.
	Create(ctx context.Context, c *model.Case) error
	Get(ctx context.Context, id int64) (*model.Case, error)
	// List returns summaries, newest first.
	List(ctx context.Context) ([]model.CaseSummary, error)
	// Claim moves the case to processing if it is pending or failed, or if a
	// previous claim started before staleBefore. It reports whether this
	// caller won the claim.
	Claim(ctx context.Context, id int64, staleBefore time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id int64, result model.AnalysisResult) error
	// MarkFailed records the error and drops any stored analysis.
	MarkFailed(ctx context.Context, id int64, message string) error
	// Delete removes the row and returns it so the caller can remove files.
	Delete(ctx context.Context, id int64) (*model.Case, error)
}
