package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/settlementops/internal/analysis"
	"github.com/dharsanguruparan/settlementops/internal/model"
	"github.com/dharsanguruparan/settlementops/internal/processing"
	"github.com/dharsanguruparan/settlementops/internal/queue"
	"github.com/dharsanguruparan/settlementops/internal/repository"
)

type analyzeResponse struct {
	ID              int64                  `json:"id"`
	AnalysisStatus  model.AnalysisStatus   `json:"analysis_status"`
	AnalysisJSON    json.RawMessage        `json:"analysis_json"`
	AnalysisError   *string                `json:"analysis_error"`
	AnalysisQuality *model.AnalysisQuality `json:"analysis_quality"`
	AnalysisIssues  []string               `json:"analysis_issues"`
	Cached          bool                   `json:"cached"`
	Queued          bool                   `json:"queued,omitempty"`
}

func newAnalyzeResponse(c *model.Case, cached bool) analyzeResponse {
	return analyzeResponse{
		ID:              c.ID,
		AnalysisStatus:  c.AnalysisStatus,
		AnalysisJSON:    c.AnalysisJSON,
		AnalysisError:   c.AnalysisError,
		AnalysisQuality: c.Quality(),
		AnalysisIssues:  issues(c),
		Cached:          cached,
	}
}

// handleAnalyze runs the analysis and waits for it, or with ?async=true
// queues it and answers 202 straight away.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		s.analyzeAsync(w, r, id)
		return
	}

	res, err := s.pool.Analyze(r.Context(), id)
	if err != nil {
		s.respondAnalyzeError(w, r, id, err)
		return
	}
	respondJSON(w, http.StatusOK, newAnalyzeResponse(res.Case, res.Cached))
}

func (s *Server) analyzeAsync(w http.ResponseWriter, r *http.Request, id int64) {
	c, ok := s.loadCase(w, r, id)
	if !ok {
		return
	}
	if c.Analyzed() {
		respondJSON(w, http.StatusOK, newAnalyzeResponse(c, true))
		return
	}
	var err error
	if s.queue != nil {
		err = queue.EnqueueAnalyze(r.Context(), s.queue, id)
	} else {
		_, err = s.pool.Submit(id)
	}
	if err != nil {
		s.respondAnalyzeError(w, r, id, err)
		return
	}
	resp := newAnalyzeResponse(c, false)
	resp.Queued = true
	respondJSON(w, http.StatusAccepted, resp)
}

func (s *Server) respondAnalyzeError(w http.ResponseWriter, r *http.Request, id int64, err error) {
	var failed *analysis.FailedError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		respondError(w, http.StatusNotFound, detailCaseNotFound)
	case errors.Is(err, analysis.ErrInProgress):
		respondError(w, http.StatusConflict, "Analysis already in progress")
	case errors.Is(err, processing.ErrQueueFull), errors.Is(err, processing.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, "Analysis queue is full, retry later")
	case errors.As(err, &failed):
		respondError(w, http.StatusInternalServerError, failed.Message)
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// The client left; the analysis continues on the pool.
		s.logger.Info("analyze.client_gone", zap.Int64("case_id", id))
	default:
		s.logger.Error("analyze.error", zap.Int64("case_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "analysis failed")
	}
}
