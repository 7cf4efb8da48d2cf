// Package model contains the struct definitions shared across packages.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// AnalysisStatus describes the analysis lifecycle of a case. A named string
// type keeps arbitrary strings out of status columns.
type AnalysisStatus string

const (
	StatusPending    AnalysisStatus = "pending"
	StatusProcessing AnalysisStatus = "processing"
	StatusCompleted  AnalysisStatus = "completed"
	StatusFailed     AnalysisStatus = "failed"
)

func (s AnalysisStatus) String() string {
	return string(s)
}

// ParseAnalysisStatus maps a stored value back to a status.
func ParseAnalysisStatus(s string) (AnalysisStatus, error) {
	switch AnalysisStatus(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return AnalysisStatus(s), nil
	}
	return "", fmt.Errorf("unknown analysis status %q", s)
}

// AnalysisQuality tells a fully schema-conformant analysis apart from one
// that parsed as JSON but carries validation findings.
type AnalysisQuality string

const (
	QualityComplete AnalysisQuality = "complete"
	QualityPartial  AnalysisQuality = "partial"
)

// DocumentRef points at one stored upload.
type DocumentRef struct {
	Filename  string `json:"filename"`
	Path      string `json:"-"`
	MediaType string `json:"media_type"`
}

// Case is the single persisted entity. The bid reference is nil when no bid
// was uploaded, so HasBid cannot disagree with the bid fields.
type Case struct {
	ID        int64
	CreatedAt time.Time
	UpdatedAt time.Time

	Settlement DocumentRef
	Bid        *DocumentRef

	SettlementText *string
	BidText        *string

	AnalysisStatus    AnalysisStatus
	AnalysisJSON      json.RawMessage
	AnalysisError     *string
	AnalysisIssues    []string
	AnalysisStartedAt *time.Time

	CaseName       *string
	CaseNumber     *string
	Jurisdiction   *string
	SettlementType *string
}

// HasBid reports whether a bid document was uploaded with the case.
func (c *Case) HasBid() bool {
	return c.Bid != nil
}

// Analyzed reports whether a cached analysis can be served.
func (c *Case) Analyzed() bool {
	return c.AnalysisStatus == StatusCompleted && len(c.AnalysisJSON) > 0
}

// Quality is only meaningful for completed cases.
func (c *Case) Quality() *AnalysisQuality {
	if !c.Analyzed() {
		return nil
	}
	q := QualityComplete
	if len(c.AnalysisIssues) > 0 {
		q = QualityPartial
	}
	return &q
}

// Document returns the reference for "settlement" or "bid".
func (c *Case) Document(docType string) (*DocumentRef, bool) {
	switch docType {
	case "settlement":
		ref := c.Settlement
		return &ref, ref.Path != ""
	case "bid":
		return c.Bid, c.Bid != nil && c.Bid.Path != ""
	}
	return nil, false
}

// Summary projects the case onto the fields used by list views.
func (c *Case) Summary() CaseSummary {
	s := CaseSummary{
		ID:                 c.ID,
		CreatedAt:          c.CreatedAt,
		SettlementFilename: c.Settlement.Filename,
		HasBid:             c.HasBid(),
		AnalysisStatus:     c.AnalysisStatus,
		CaseName:           c.CaseName,
		CaseNumber:         c.CaseNumber,
		Jurisdiction:       c.Jurisdiction,
		SettlementType:     c.SettlementType,
	}
	if c.Bid != nil {
		name := c.Bid.Filename
		s.BidFilename = &name
	}
	return s
}

// CaseSummary is the lightweight projection returned by list queries. It
// never carries the analysis JSON or extracted text.
type CaseSummary struct {
	ID                 int64          `json:"id"`
	CreatedAt          time.Time      `json:"created_at"`
	SettlementFilename string         `json:"settlement_filename"`
	BidFilename        *string        `json:"bid_filename"`
	HasBid             bool           `json:"has_bid"`
	AnalysisStatus     AnalysisStatus `json:"analysis_status"`
	CaseName           *string        `json:"case_name"`
	CaseNumber         *string        `json:"case_number"`
	Jurisdiction       *string        `json:"jurisdiction"`
	SettlementType     *string        `json:"settlement_type"`
}

// AnalysisResult is what a successful analysis writes back to the case.
type AnalysisResult struct {
	JSON           json.RawMessage
	Issues         []string
	CaseName       *string
	CaseNumber     *string
	Jurisdiction   *string
	SettlementType *string
}
