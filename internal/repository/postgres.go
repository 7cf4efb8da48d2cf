package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/settlementops/internal/model"
)

const caseColumns = `id, created_at, updated_at,
	settlement_filename, settlement_path, settlement_media_type,
	bid_filename, bid_path, bid_media_type,
	settlement_text, bid_text,
	analysis_status, analysis_json, analysis_error, analysis_issues, analysis_started_at,
	case_name, case_number, jurisdiction, settlement_type`

// Postgres wraps all SQL used by the API and the worker.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a repository.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Create inserts a pending case before any analysis begins.
func (r *Postgres) Create(ctx context.Context, c *model.Case) error {
	now := time.Now().UTC()
	var bidName, bidPath, bidMedia *string
	if c.Bid != nil {
		bidName, bidPath, bidMedia = &c.Bid.Filename, &c.Bid.Path, &c.Bid.MediaType
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO cases (created_at, updated_at,
			settlement_filename, settlement_path, settlement_media_type,
			bid_filename, bid_path, bid_media_type, has_bid,
			settlement_text, bid_text, analysis_status)
		VALUES ($1,$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id
	`, now, c.Settlement.Filename, c.Settlement.Path, c.Settlement.MediaType,
		bidName, bidPath, bidMedia, c.HasBid(),
		c.SettlementText, c.BidText, model.StatusPending).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	c.AnalysisStatus = model.StatusPending
	return nil
}

// Get returns a case by id.
func (r *Postgres) Get(ctx context.Context, id int64) (*model.Case, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=$1`, id)
	c, err := scanPostgresCase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select case: %w", err)
	}
	return c, nil
}

// List returns summaries without the analysis document or extracted text.
func (r *Postgres) List(ctx context.Context) ([]model.CaseSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, created_at, settlement_filename, bid_filename, has_bid,
			analysis_status, case_name, case_number, jurisdiction, settlement_type
		FROM cases ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()
	var out []model.CaseSummary
	for rows.Next() {
		var (
			s      model.CaseSummary
			status string
		)
		if err := rows.Scan(&s.ID, &s.CreatedAt, &s.SettlementFilename, &s.BidFilename, &s.HasBid,
			&status, &s.CaseName, &s.CaseNumber, &s.Jurisdiction, &s.SettlementType); err != nil {
			return nil, fmt.Errorf("scan case summary: %w", err)
		}
		if s.AnalysisStatus, err = model.ParseAnalysisStatus(status); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	return out, nil
}

// Claim is a conditional update; the affected row count tells the caller
// whether it won.
func (r *Postgres) Claim(ctx context.Context, id int64, staleBefore time.Time) (bool, error) {
	now := time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE cases
		SET analysis_status=$1, analysis_started_at=$2, updated_at=$2
		WHERE id=$3 AND (
			analysis_status IN ($4, $5)
			OR (analysis_status=$1 AND (analysis_started_at IS NULL OR analysis_started_at < $6))
		)
	`, model.StatusProcessing, now, id, model.StatusPending, model.StatusFailed, staleBefore)
	if err != nil {
		return false, fmt.Errorf("claim case: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if err := r.exists(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// MarkCompleted stores the analysis and its denormalized fields.
func (r *Postgres) MarkCompleted(ctx context.Context, id int64, result model.AnalysisResult) error {
	issues := result.Issues
	if issues == nil {
		issues = []string{}
	}
	return r.update(ctx, `
		UPDATE cases
		SET analysis_status=$1, analysis_json=$2, analysis_error=NULL, analysis_issues=$3,
			case_name=$4, case_number=$5, jurisdiction=$6, settlement_type=$7, updated_at=$8
		WHERE id=$9
	`, model.StatusCompleted, string(result.JSON), issues,
		result.CaseName, result.CaseNumber, result.Jurisdiction, result.SettlementType,
		time.Now().UTC(), id)
}

// MarkFailed stores the error message and clears any analysis.
func (r *Postgres) MarkFailed(ctx context.Context, id int64, message string) error {
	return r.update(ctx, `
		UPDATE cases
		SET analysis_status=$1, analysis_error=$2, analysis_json=NULL, analysis_issues=NULL, updated_at=$3
		WHERE id=$4
	`, model.StatusFailed, message, time.Now().UTC(), id)
}

// Delete removes the row and returns it.
func (r *Postgres) Delete(ctx context.Context, id int64) (*model.Case, error) {
	row := r.pool.QueryRow(ctx, `DELETE FROM cases WHERE id=$1 RETURNING `+caseColumns, id)
	c, err := scanPostgresCase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("delete case: %w", err)
	}
	return c, nil
}

func (r *Postgres) update(ctx context.Context, stmt string, args ...any) error {
	tag, err := r.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Postgres) exists(ctx context.Context, id int64) error {
	var found bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM cases WHERE id=$1)`, id).Scan(&found); err != nil {
		return fmt.Errorf("check case: %w", err)
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func scanPostgresCase(row pgx.Row) (*model.Case, error) {
	var (
		c                        model.Case
		bidName, bidPath, bidMed *string
		status                   string
		analysis                 *string
	)
	if err := row.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt,
		&c.Settlement.Filename, &c.Settlement.Path, &c.Settlement.MediaType,
		&bidName, &bidPath, &bidMed,
		&c.SettlementText, &c.BidText,
		&status, &analysis, &c.AnalysisError, &c.AnalysisIssues, &c.AnalysisStartedAt,
		&c.CaseName, &c.CaseNumber, &c.Jurisdiction, &c.SettlementType); err != nil {
		return nil, err
	}
	st, err := model.ParseAnalysisStatus(status)
	if err != nil {
		return nil, err
	}
	c.AnalysisStatus = st
	if analysis != nil {
		c.AnalysisJSON = []byte(*analysis)
	}
	if bidName != nil && bidPath != nil && bidMed != nil {
		c.Bid = &model.DocumentRef{Filename: *bidName, Path: *bidPath, MediaType: *bidMed}
	}
	if len(c.AnalysisIssues) == 0 {
		c.AnalysisIssues = nil
	}
	return &c, nil
}
