package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/settlementops/internal/llm"
	"github.com/dharsanguruparan/settlementops/internal/metrics"
	"github.com/dharsanguruparan/settlementops/internal/prompt"
)

type chatRequest struct {
	Messages []llm.Message `json:"messages"`
}

// chatEvent is one server-sent event. Type is delta, stop or error.
type chatEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

// handleChat validates everything before the first byte of the stream, so
// request errors are still plain JSON responses. Once streaming has begun a
// failure is reported as an error event instead of a stop event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id, ok := caseID(w, r)
	if !ok {
		return
	}
	c, ok := s.loadCase(w, r, id)
	if !ok {
		return
	}
	if !c.Analyzed() {
		respondError(w, http.StatusBadRequest, "Case has no analysis yet")
		return
	}
	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := llm.ValidateMessages(body.Messages); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var settlementText, bidText string
	if c.SettlementText != nil {
		settlementText = *c.SettlementText
	}
	if c.BidText != nil {
		bidText = *c.BidText
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(ev chatEvent) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	logger := s.logger.With(zap.Int64("case_id", id))
	err := s.provider.Stream(r.Context(), llm.ChatRequest{
		System:    prompt.ChatSystemPrompt(c.AnalysisJSON, settlementText, bidText),
		Messages:  body.Messages,
		MaxTokens: s.cfg.ChatMaxTokens,
	}, func(delta string) error {
		return send(chatEvent{Type: "delta", Text: delta})
	})
	switch {
	case err == nil:
		metrics.ChatStreams.WithLabelValues("completed").Inc()
		_ = send(chatEvent{Type: "stop"})
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		metrics.ChatStreams.WithLabelValues("cancelled").Inc()
		logger.Info("chat.client_gone")
	default:
		metrics.ChatStreams.WithLabelValues("error").Inc()
		logger.Warn("chat.stream_failed", zap.Error(err))
		_ = send(chatEvent{Type: "error", Message: err.Error()})
	}
}
