package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/settlementops/internal/export"
	"github.com/dharsanguruparan/settlementops/internal/model"
	pdfutil "github.com/dharsanguruparan/settlementops/internal/pdf"
	"github.com/dharsanguruparan/settlementops/internal/repository"
	"github.com/dharsanguruparan/settlementops/internal/storage"
)

// uploadField is the multipart field carrying the documents.
const uploadField = "files"

var errFileTooLarge = errors.New("file too large")

type uploadResponse struct {
	ID                 int64                `json:"id"`
	SettlementFilename string               `json:"settlement_filename"`
	BidFilename        *string              `json:"bid_filename"`
	HasBid             bool                 `json:"has_bid"`
	AnalysisStatus     model.AnalysisStatus `json:"analysis_status"`
}

type caseDetail struct {
	ID                 int64                  `json:"id"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
	SettlementFilename string                 `json:"settlement_filename"`
	BidFilename        *string                `json:"bid_filename"`
	HasBid             bool                   `json:"has_bid"`
	AnalysisStatus     model.AnalysisStatus   `json:"analysis_status"`
	AnalysisJSON       json.RawMessage        `json:"analysis_json"`
	AnalysisError      *string                `json:"analysis_error"`
	AnalysisQuality    *model.AnalysisQuality `json:"analysis_quality"`
	AnalysisIssues     []string               `json:"analysis_issues"`
	CaseName           *string                `json:"case_name"`
	CaseNumber         *string                `json:"case_number"`
	Jurisdiction       *string                `json:"jurisdiction"`
	SettlementType     *string                `json:"settlement_type"`
}

func newCaseDetail(c *model.Case) caseDetail {
	s := c.Summary()
	return caseDetail{
		ID:                 c.ID,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
		SettlementFilename: c.Settlement.Filename,
		BidFilename:        s.BidFilename,
		HasBid:             c.HasBid(),
		AnalysisStatus:     c.AnalysisStatus,
		AnalysisJSON:       c.AnalysisJSON,
		AnalysisError:      c.AnalysisError,
		AnalysisQuality:    c.Quality(),
		AnalysisIssues:     issues(c),
		CaseName:           c.CaseName,
		CaseNumber:         c.CaseNumber,
		Jurisdiction:       c.Jurisdiction,
		SettlementType:     c.SettlementType,
	}
}

// issues is an empty list for completed cases and null otherwise.
func issues(c *model.Case) []string {
	if c.Analyzed() && c.AnalysisIssues == nil {
		return []string{}
	}
	return c.AnalysisIssues
}

// handleUpload streams the multipart body. The first file part is the
// settlement, the second the bid; any further parts are ignored.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, 2*s.cfg.MaxFileSize+1<<20)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}

	var saved []model.DocumentRef
	var texts []string
	cleanup := func() {
		for _, ref := range saved {
			if err := s.store.Remove(context.WithoutCancel(ctx), ref.Path); err != nil {
				s.logger.Warn("upload.cleanup", zap.String("path", ref.Path), zap.Error(err))
			}
		}
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			cleanup()
			s.respondUploadError(w, err)
			return
		}
		if part.FormName() != uploadField || part.FileName() == "" || len(saved) == 2 {
			part.Close()
			continue
		}
		ref, text, err := s.saveUpload(ctx, part)
		part.Close()
		if err != nil {
			cleanup()
			s.respondUploadError(w, err)
			return
		}
		saved = append(saved, ref)
		texts = append(texts, text)
	}
	if len(saved) == 0 {
		respondError(w, http.StatusBadRequest, "At least one file is required")
		return
	}

	c := &model.Case{
		Settlement:     saved[0],
		SettlementText: &texts[0],
	}
	if len(saved) > 1 {
		c.Bid = &saved[1]
		c.BidText = &texts[1]
	}
	if err := s.repo.Create(ctx, c); err != nil {
		cleanup()
		s.logger.Error("upload.create", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to store case")
		return
	}
	s.logger.Info("upload.saved", zap.Int64("case_id", c.ID), zap.Bool("has_bid", c.HasBid()))

	resp := uploadResponse{
		ID:                 c.ID,
		SettlementFilename: c.Settlement.Filename,
		HasBid:             c.HasBid(),
		AnalysisStatus:     model.StatusPending,
	}
	if c.Bid != nil {
		resp.BidFilename = &c.Bid.Filename
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondUploadError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, errFileTooLarge), errors.As(err, &maxErr):
		respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds limit (%d bytes)", s.cfg.MaxFileSize))
	default:
		s.logger.Warn("upload.failed", zap.Error(err))
		respondError(w, http.StatusBadRequest, "invalid upload")
	}
}

// saveUpload reads one part into memory, bounded by the per-file limit, so
// the same bytes feed both the store and the text extractor.
func (s *Server) saveUpload(ctx context.Context, part *multipart.Part) (model.DocumentRef, string, error) {
	data, err := readPart(part, s.cfg.MaxFileSize)
	if err != nil {
		return model.DocumentRef{}, "", err
	}
	ref, err := s.store.Save(ctx, part.FileName(), bytes.NewReader(data))
	if err != nil {
		return model.DocumentRef{}, "", err
	}
	return ref, pdfutil.ExtractText(data, ref.MediaType), nil
}

func readPart(part io.Reader, limit int64) ([]byte, error) {
	var out bytes.Buffer
	buf := make([]byte, 32*1024)
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			if int64(out.Len()+n) > limit {
				return nil, errFileTooLarge
			}
			out.Write(buf[:n])
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return out.Bytes(), nil
			}
			return nil, fmt.Errorf("read file: %w", readErr)
		}
	}
}

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.repo.List(r.Context())
	if err != nil {
		s.logger.Error("cases.list", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list cases")
		return
	}
	if summaries == nil {
		summaries = []model.CaseSummary{}
	}
	respondJSON(w, http.StatusOK, summaries)
}

// loadCase answers 404 or 500 itself when the case cannot be read.
func (s *Server) loadCase(w http.ResponseWriter, r *http.Request, id int64) (*model.Case, bool) {
	c, err := s.repo.Get(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		respondError(w, http.StatusNotFound, detailCaseNotFound)
		return nil, false
	}
	if err != nil {
		s.logger.Error("cases.get", zap.Int64("case_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load case")
		return nil, false
	}
	return c, true
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	c, ok := s.loadCase(w, r, id)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newCaseDetail(c))
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	docType := chi.URLParam(r, "docType")
	if docType != "settlement" && docType != "bid" {
		respondError(w, http.StatusBadRequest, "doc_type must be 'settlement' or 'bid'")
		return
	}
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	c, ok := s.loadCase(w, r, id)
	if !ok {
		return
	}
	missing := fmt.Sprintf("No %s file found", docType)
	ref, ok := c.Document(docType)
	if !ok {
		respondError(w, http.StatusNotFound, missing)
		return
	}
	rc, err := s.store.Open(r.Context(), ref.Path)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, missing)
		return
	}
	if err != nil {
		s.logger.Error("cases.document", zap.Int64("case_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to open document")
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", ref.MediaType)
	w.Header().Set("Content-Disposition", "inline")
	http.ServeContent(w, r, ref.Filename, c.CreatedAt, rc)
}

func (s *Server) handleDeleteCase(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	c, err := s.repo.Delete(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		respondError(w, http.StatusNotFound, detailCaseNotFound)
		return
	}
	if err != nil {
		s.logger.Error("cases.delete", zap.Int64("case_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to delete case")
		return
	}
	// The row is gone; a file that cannot be removed is only logged.
	paths := []string{c.Settlement.Path}
	if c.Bid != nil {
		paths = append(paths, c.Bid.Path)
	}
	for _, p := range paths {
		if err := s.store.Remove(r.Context(), p); err != nil {
			s.logger.Warn("cases.delete.file", zap.Int64("case_id", id), zap.String("path", p), zap.Error(err))
		}
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	c, ok := s.loadCase(w, r, id)
	if !ok {
		return
	}
	data, err := s.exporter.CaseWorkbook(c)
	if errors.Is(err, export.ErrNotAnalyzed) {
		respondError(w, http.StatusBadRequest, "Case has no analysis yet")
		return
	}
	if err != nil {
		s.logger.Error("cases.export", zap.Int64("case_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to build workbook")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="case-%d.xlsx"`, id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
