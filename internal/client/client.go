// Package client is a typed HTTP client for the case management API, used by
// settlementctl.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/settlementops/internal/llm"
	"github.com/dharsanguruparan/settlementops/internal/model"
)

// APIError is a non-2xx answer. Detail carries the server's message.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Detail)
}

// ErrStreamEnded is returned by Chat when the stream closes without a stop
// or error event.
var ErrStreamEnded = errors.New("chat stream ended unexpectedly")

// Case is the full case record as served by GET /api/cases/{id}.
type Case struct {
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

// Upload is the answer to an upload.
type Upload struct {
	ID                 int64                `json:"id"`
	SettlementFilename string               `json:"settlement_filename"`
	BidFilename        *string              `json:"bid_filename"`
	HasBid             bool                 `json:"has_bid"`
	AnalysisStatus     model.AnalysisStatus `json:"analysis_status"`
}

// Analysis is the answer to an analyze call.
type Analysis struct {
	ID              int64                  `json:"id"`
	AnalysisStatus  model.AnalysisStatus   `json:"analysis_status"`
	AnalysisJSON    json.RawMessage        `json:"analysis_json"`
	AnalysisError   *string                `json:"analysis_error"`
	AnalysisQuality *model.AnalysisQuality `json:"analysis_quality"`
	AnalysisIssues  []string               `json:"analysis_issues"`
	Cached          bool                   `json:"cached"`
	Queued          bool                   `json:"queued"`
}

// File is one document to upload.
type File struct {
	Name string
	Body io.Reader
}

type chatEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Message string `json:"message"`
}

// Client talks to one API base URL such as http://localhost:8000.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client, which has no timeout since
// analyses and chat streams are long-lived.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	return c.doJSON(ctx, http.MethodGet, "/api/health", nil, &out)
}

func (c *Client) ListCases(ctx context.Context) ([]model.CaseSummary, error) {
	var out []model.CaseSummary
	if err := c.doJSON(ctx, http.MethodGet, "/api/cases", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetCase(ctx context.Context, id int64) (*Case, error) {
	var out Case
	if err := c.doJSON(ctx, http.MethodGet, casePath(id, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadCase sends the settlement and, when bid is non-nil, the bid.
func (c *Client) UploadCase(ctx context.Context, settlement File, bid *File) (*Upload, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		files := []File{settlement}
		if bid != nil {
			files = append(files, *bid)
		}
		for _, f := range files {
			part, err := mw.CreateFormFile("files", filepath.Base(f.Name))
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			if _, err := io.Copy(part, f.Body); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/api/cases/upload", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out Upload
	if err := c.send(req, &out); err != nil {
		pr.Close()
		return nil, err
	}
	return &out, nil
}

// Analyze requests an analysis. With async the server answers as soon as the
// job is queued.
func (c *Client) Analyze(ctx context.Context, id int64, async bool) (*Analysis, error) {
	p := casePath(id, "/analyze")
	if async {
		p += "?async=true"
	}
	var out Analysis
	if err := c.doJSON(ctx, http.MethodPost, p, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Document opens the stored settlement or bid. The caller closes the body.
func (c *Client) Document(ctx context.Context, id int64, docType string) (io.ReadCloser, string, error) {
	return c.download(ctx, casePath(id, "/pdf/"+url.PathEscape(docType)))
}

// Export downloads the case workbook. The caller closes the body.
func (c *Client) Export(ctx context.Context, id int64) (io.ReadCloser, error) {
	body, _, err := c.download(ctx, casePath(id, "/export.xlsx"))
	return body, err
}

func (c *Client) DeleteCase(ctx context.Context, id int64) error {
	var out map[string]bool
	return c.doJSON(ctx, http.MethodDelete, casePath(id, ""), nil, &out)
}

// Chat streams an answer, calling onDelta for each text fragment. An error
// event from the server is returned as an *APIError with status 200.
func (c *Client) Chat(ctx context.Context, id int64, messages []llm.Message, onDelta func(string) error) error {
	body, err := json.Marshal(map[string]any{"messages": messages})
	if err != nil {
		return fmt.Errorf("encode chat: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, casePath(id, "/chat"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var ev chatEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
			return fmt.Errorf("decode chat event: %w", err)
		}
		switch ev.Type {
		case "delta":
			if err := onDelta(ev.Text); err != nil {
				return err
			}
		case "stop":
			return nil
		case "error":
			return &APIError{Status: resp.StatusCode, Detail: ev.Message}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return ErrStreamEnded
}

func (c *Client) download(ctx context.Context, p string) (io.ReadCloser, string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, p, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, "", decodeError(resp)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

func (c *Client) doJSON(ctx context.Context, method, p string, body any, out any) error {
	var r io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		r = bytes.NewReader(bs)
	}
	req, err := c.newRequest(ctx, method, p, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, p string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+p, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(middleware.RequestIDHeader, uuid.NewString())
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("client.send_error", zap.String("url", req.URL.String()), zap.Error(err))
		return err
	}
	defer resp.Body.Close()
	c.logger.Debug("client.response",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", req.Header.Get(middleware.RequestIDHeader)),
		zap.Duration("elapsed", time.Since(start)),
	)
	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Detail != "" {
		apiErr.Detail = body.Detail
	} else {
		apiErr.Detail = strings.TrimSpace(string(raw))
	}
	return apiErr
}

func casePath(id int64, suffix string) string {
	return fmt.Sprintf("/api/cases/%d%s", id, suffix)
}
