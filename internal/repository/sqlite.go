package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dharsanguruparan/settlementops/internal/model"
)

// sqliteTime is fixed width and always UTC, so string comparison in SQL
// matches chronological order.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLite is the embedded store used by default.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite wraps an open handle; see database.OpenSQLite.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *SQLite) Create(ctx context.Context, c *model.Case) error {
	now := r.now()
	var bidName, bidPath, bidMedia sql.NullString
	if c.Bid != nil {
		bidName = sql.NullString{String: c.Bid.Filename, Valid: true}
		bidPath = sql.NullString{String: c.Bid.Path, Valid: true}
		bidMedia = sql.NullString{String: c.Bid.MediaType, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO cases (created_at, updated_at,
			settlement_filename, settlement_path, settlement_media_type,
			bid_filename, bid_path, bid_media_type, has_bid,
			settlement_text, bid_text, analysis_status)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
	`, formatTime(now), formatTime(now),
		c.Settlement.Filename, c.Settlement.Path, c.Settlement.MediaType,
		bidName, bidPath, bidMedia, c.HasBid(),
		nullString(c.SettlementText), nullString(c.BidText), string(model.StatusPending))
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert case id: %w", err)
	}
	c.ID = id
	c.CreatedAt = now
	c.UpdatedAt = now
	c.AnalysisStatus = model.StatusPending
	return nil
}

func (r *SQLite) Get(ctx context.Context, id int64) (*model.Case, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id)
	c, err := scanSQLiteCase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select case: %w", err)
	}
	return c, nil
}

func (r *SQLite) List(ctx context.Context) ([]model.CaseSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, created_at, settlement_filename, bid_filename, has_bid,
			analysis_status, case_name, case_number, jurisdiction, settlement_type
		FROM cases ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()
	var out []model.CaseSummary
	for rows.Next() {
		var (
			s                                    model.CaseSummary
			created, status                      string
			bidName, name, number, juris, stType sql.NullString
		)
		if err := rows.Scan(&s.ID, &created, &s.SettlementFilename, &bidName, &s.HasBid,
			&status, &name, &number, &juris, &stType); err != nil {
			return nil, fmt.Errorf("scan case summary: %w", err)
		}
		if s.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if s.AnalysisStatus, err = model.ParseAnalysisStatus(status); err != nil {
			return nil, err
		}
		s.BidFilename = stringPtr(bidName)
		s.CaseName = stringPtr(name)
		s.CaseNumber = stringPtr(number)
		s.Jurisdiction = stringPtr(juris)
		s.SettlementType = stringPtr(stType)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	return out, nil
}

func (r *SQLite) Claim(ctx context.Context, id int64, staleBefore time.Time) (bool, error) {
	now := formatTime(r.now())
	res, err := r.db.ExecContext(ctx, `
		UPDATE cases
		SET analysis_status=?, analysis_started_at=?, updated_at=?
		WHERE id=? AND (
			analysis_status IN (?, ?)
			OR (analysis_status=? AND (analysis_started_at IS NULL OR analysis_started_at < ?))
		)
	`, string(model.StatusProcessing), now, now, id,
		string(model.StatusPending), string(model.StatusFailed),
		string(model.StatusProcessing), formatTime(staleBefore.UTC()))
	if err != nil {
		return false, fmt.Errorf("claim case: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim case: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	var one int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM cases WHERE id=?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check case: %w", err)
	}
	return false, nil
}

func (r *SQLite) MarkCompleted(ctx context.Context, id int64, result model.AnalysisResult) error {
	issues, err := json.Marshal(result.Issues)
	if err != nil {
		return fmt.Errorf("encode issues: %w", err)
	}
	if len(result.Issues) == 0 {
		issues = []byte("[]")
	}
	return r.update(ctx, `
		UPDATE cases
		SET analysis_status=?, analysis_json=?, analysis_error=NULL, analysis_issues=?,
			case_name=?, case_number=?, jurisdiction=?, settlement_type=?, updated_at=?
		WHERE id=?
	`, string(model.StatusCompleted), string(result.JSON), string(issues),
		nullString(result.CaseName), nullString(result.CaseNumber),
		nullString(result.Jurisdiction), nullString(result.SettlementType),
		formatTime(r.now()), id)
}

func (r *SQLite) MarkFailed(ctx context.Context, id int64, message string) error {
	return r.update(ctx, `
		UPDATE cases
		SET analysis_status=?, analysis_error=?, analysis_json=NULL, analysis_issues=NULL, updated_at=?
		WHERE id=?
	`, string(model.StatusFailed), message, formatTime(r.now()), id)
}

func (r *SQLite) Delete(ctx context.Context, id int64) (*model.Case, error) {
	c, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.update(ctx, `DELETE FROM cases WHERE id=?`, id); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *SQLite) update(ctx context.Context, stmt string, args ...any) error {
	res, err := r.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSQLiteCase(row *sql.Row) (*model.Case, error) {
	var (
		c                                   model.Case
		created, updated, status            string
		bidName, bidPath, bidMed            sql.NullString
		settlementText, bidText             sql.NullString
		analysis, analysisErr, issues       sql.NullString
		started                             sql.NullString
		name, number, juris, settlementType sql.NullString
	)
	if err := row.Scan(&c.ID, &created, &updated,
		&c.Settlement.Filename, &c.Settlement.Path, &c.Settlement.MediaType,
		&bidName, &bidPath, &bidMed,
		&settlementText, &bidText,
		&status, &analysis, &analysisErr, &issues, &started,
		&name, &number, &juris, &settlementType); err != nil {
		return nil, err
	}
	var err error
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if c.AnalysisStatus, err = model.ParseAnalysisStatus(status); err != nil {
		return nil, err
	}
	if started.Valid {
		t, err := parseTime(started.String)
		if err != nil {
			return nil, err
		}
		c.AnalysisStartedAt = &t
	}
	if bidName.Valid && bidPath.Valid && bidMed.Valid {
		c.Bid = &model.DocumentRef{Filename: bidName.String, Path: bidPath.String, MediaType: bidMed.String}
	}
	if analysis.Valid {
		c.AnalysisJSON = []byte(analysis.String)
	}
	if issues.Valid && issues.String != "" {
		if err := json.Unmarshal([]byte(issues.String), &c.AnalysisIssues); err != nil {
			return nil, fmt.Errorf("decode issues: %w", err)
		}
		if len(c.AnalysisIssues) == 0 {
			c.AnalysisIssues = nil
		}
	}
	c.SettlementText = stringPtr(settlementText)
	c.BidText = stringPtr(bidText)
	c.AnalysisError = stringPtr(analysisErr)
	c.CaseName = stringPtr(name)
	c.CaseNumber = stringPtr(number)
	c.Jurisdiction = stringPtr(juris)
	c.SettlementType = stringPtr(settlementType)
	return &c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
