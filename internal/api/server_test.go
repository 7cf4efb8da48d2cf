package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/settlementops/internal/analysis"
	"github.com/dharsanguruparan/settlementops/internal/config"
	"github.com/dharsanguruparan/settlementops/internal/llm"
	"github.com/dharsanguruparan/settlementops/internal/model"
	"github.com/dharsanguruparan/settlementops/internal/processing"
	"github.com/dharsanguruparan/settlementops/internal/repository"
	"github.com/dharsanguruparan/settlementops/internal/storage"
)

const analysisReply = "```json\n" + `{"case_name":"Doe v. Acme","case_number":"1:24-cv-00001","jurisdiction":"S.D.N.Y.","settlement_type":"Claims-Made","summary":"Privacy settlement.","timeline":{"milestones":[]},"operational_checklist":{"data_intake":[{"task":"Receive class list","details":"CSV","deadline_ref":"T+14"}]},"conflict_audit":[]}` + "\n```"

type fakeProvider struct {
	mu        sync.Mutex
	calls     int
	reply     string
	deltas    []string
	streamErr error
	chats     []llm.ChatRequest
}

func (f *fakeProvider) Complete(context.Context, llm.CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.reply, nil
}

func (f *fakeProvider) Stream(_ context.Context, req llm.ChatRequest, onDelta func(string) error) error {
	f.mu.Lock()
	f.chats = append(f.chats, req)
	deltas, streamErr := f.deltas, f.streamErr
	f.mu.Unlock()
	for _, d := range deltas {
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return streamErr
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	handler  http.Handler
	repo     *repository.Memory
	store    *storage.Local
	provider *fakeProvider
	pool     *processing.Processor
}

func newHarness(t *testing.T, start bool, poolOpts ...processing.Option) *harness {
	t.Helper()
	cfg := &config.Config{
		Address:        ":0",
		MaxFileSize:    1 << 10,
		AllowedOrigins: []string{"*"},
		ChatMaxTokens:  4096,
	}
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	repo := repository.NewMemory()
	provider := &fakeProvider{reply: analysisReply}
	svc, err := analysis.New(repo, store, provider)
	require.NoError(t, err)
	pool := processing.New(svc, poolOpts...)
	if start {
		ctx, cancel := context.WithCancel(context.Background())
		pool.Start(ctx)
		t.Cleanup(func() {
			_ = pool.Shutdown(context.Background())
			cancel()
		})
	}
	srv := New(Deps{
		Config:   cfg,
		Repo:     repo,
		Store:    store,
		Pool:     pool,
		Provider: provider,
	})
	return &harness{handler: srv.Routes(), repo: repo, store: store, provider: provider, pool: pool}
}

type upload struct {
	field, name, body string
}

func (h *harness) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) upload(t *testing.T, files ...upload) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, f.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("note", "ignored"))
	require.NoError(t, mw.Close())
	return h.do(t, http.MethodPost, "/api/cases/upload", &buf, mw.FormDataContentType())
}

func (h *harness) createCase(t *testing.T, withBid bool) int64 {
	t.Helper()
	files := []upload{{"files", "settlement.pdf", "%PDF-1.4 settlement"}}
	if withBid {
		files = append(files, upload{"files", "bid.pdf", "%PDF-1.4 bid"})
	}
	rec := h.upload(t, files...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ID
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	return decode[errorResponse](t, rec).Detail
}

func TestHealth(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestUploadRequiresFile(t *testing.T) {
	h := newHarness(t, false)
	rec := h.upload(t)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "At least one file is required", detail(t, rec))

	rec = h.do(t, http.MethodPost, "/api/cases/upload", strings.NewReader("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadSettlementOnly(t *testing.T) {
	h := newHarness(t, false)
	rec := h.upload(t, upload{"files", "agreement.pdf", "%PDF-1.4"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":1,"settlement_filename":"agreement.pdf","bid_filename":null,"has_bid":false,"analysis_status":"pending"}`, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/cases/1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, "pending", got["analysis_status"])
	assert.Nil(t, got["analysis_json"])
	assert.Nil(t, got["analysis_error"])
	assert.Nil(t, got["case_name"])
	assert.Equal(t, false, got["has_bid"])
}

func TestUploadWithBidIgnoresExtraFiles(t *testing.T) {
	h := newHarness(t, false)
	rec := h.upload(t,
		upload{"files", "settlement.pdf", "%PDF-1.4 s"},
		upload{"files", "bid.png", "png"},
		upload{"files", "extra.pdf", "%PDF-1.4 x"},
	)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[uploadResponse](t, rec)
	assert.True(t, resp.HasBid)
	require.NotNil(t, resp.BidFilename)
	assert.Equal(t, "bid.png", *resp.BidFilename)

	c, err := h.repo.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "image/png", c.Bid.MediaType)
	// Only PDFs have text extracted; an unparsable PDF yields empty text.
	assert.Equal(t, "", *c.BidText)
	assert.Equal(t, "", *c.SettlementText)
}

func TestUploadTooLarge(t *testing.T) {
	h := newHarness(t, false)
	rec := h.upload(t, upload{"files", "big.pdf", strings.Repeat("x", 2<<10)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	list := h.do(t, http.MethodGet, "/api/cases", nil, "")
	assert.JSONEq(t, `[]`, list.Body.String())
}

func TestListNewestFirst(t *testing.T) {
	h := newHarness(t, false)
	first := h.createCase(t, false)
	second := h.createCase(t, true)

	rec := h.do(t, http.MethodGet, "/api/cases", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]map[string]any](t, rec)
	require.Len(t, list, 2)
	assert.EqualValues(t, second, list[0]["id"])
	assert.EqualValues(t, first, list[1]["id"])
	assert.Equal(t, "bid.pdf", list[0]["bid_filename"])
	assert.NotContains(t, list[0], "analysis_json")
}

func TestAnalyzeThenCached(t *testing.T) {
	h := newHarness(t, true)
	id := h.createCase(t, true)

	rec := h.do(t, http.MethodPost, "/api/cases/1/analyze", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[map[string]any](t, rec)
	assert.EqualValues(t, id, first["id"])
	assert.Equal(t, "completed", first["analysis_status"])
	assert.Equal(t, false, first["cached"])
	assert.Equal(t, "partial", first["analysis_quality"])
	assert.NotEmpty(t, first["analysis_issues"])
	assert.Nil(t, first["analysis_error"])

	rec = h.do(t, http.MethodPost, "/api/cases/1/analyze", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[map[string]any](t, rec)
	assert.Equal(t, true, second["cached"])
	assert.Equal(t, first["analysis_json"], second["analysis_json"])
	assert.Equal(t, 1, h.provider.Calls())

	rec = h.do(t, http.MethodGet, "/api/cases/1", nil, "")
	got := decode[map[string]any](t, rec)
	assert.Equal(t, "Doe v. Acme", got["case_name"])
	assert.Equal(t, "Claims-Made", got["settlement_type"])
	assert.Equal(t, first["analysis_json"], got["analysis_json"])
}

func TestStoredAnalysisServedVerbatim(t *testing.T) {
	h := newHarness(t, true)
	id := h.createCase(t, false)
	stored := `{"case_name":"Smith & Jones <LLC>","summary":"Fees > $1M & costs"}`
	name := "Smith & Jones <LLC>"
	require.NoError(t, h.repo.MarkCompleted(context.Background(), id, model.AnalysisResult{
		JSON:     json.RawMessage(stored),
		CaseName: &name,
	}))

	type analysisBody struct {
		AnalysisJSON json.RawMessage `json:"analysis_json"`
		CaseName     string          `json:"case_name"`
	}
	rec := h.do(t, http.MethodGet, "/api/cases/1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[analysisBody](t, rec)
	assert.Equal(t, stored, string(got.AnalysisJSON))
	assert.Equal(t, name, got.CaseName)
	assert.NotContains(t, rec.Body.String(), `\u0026`)

	rec = h.do(t, http.MethodPost, "/api/cases/1/analyze", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stored, string(decode[analysisBody](t, rec).AnalysisJSON))
	assert.Equal(t, 0, h.provider.Calls())
}

func TestAnalyzeErrors(t *testing.T) {
	h := newHarness(t, true)

	rec := h.do(t, http.MethodPost, "/api/cases/99/analyze", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Case not found", detail(t, rec))

	id := h.createCase(t, false)
	h.provider.mu.Lock()
	h.provider.reply = "Sorry, I cannot help with that."
	h.provider.mu.Unlock()
	rec = h.do(t, http.MethodPost, "/api/cases/1/analyze", nil, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "could not parse JSON from AI response", detail(t, rec))

	c, err := h.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "failed", c.AnalysisStatus.String())

	won, err := h.repo.Claim(context.Background(), id, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, won)
	rec = h.do(t, http.MethodPost, "/api/cases/1/analyze", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAnalyzeAsync(t *testing.T) {
	h := newHarness(t, true)
	h.createCase(t, false)

	rec := h.do(t, http.MethodPost, "/api/cases/1/analyze?async=true", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[map[string]any](t, rec)
	assert.Equal(t, true, resp["queued"])

	require.Eventually(t, func() bool {
		c, err := h.repo.Get(context.Background(), 1)
		return err == nil && c.Analyzed()
	}, 2*time.Second, 10*time.Millisecond)

	rec = h.do(t, http.MethodPost, "/api/cases/1/analyze?async=true", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["cached"])

	rec = h.do(t, http.MethodPost, "/api/cases/7/analyze?async=true", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyzeQueueFull(t *testing.T) {
	h := newHarness(t, false, processing.WithWorkers(1), processing.WithQueueSize(1))
	h.createCase(t, false)
	h.createCase(t, false)
	_, err := h.pool.Submit(1)
	require.NoError(t, err)

	rec := h.do(t, http.MethodPost, "/api/cases/2/analyze", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = h.do(t, http.MethodPost, "/api/cases/2/analyze?async=1", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServeDocument(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(t, http.MethodGet, "/api/cases/99/pdf/contract", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "doc_type must be 'settlement' or 'bid'", detail(t, rec))

	rec = h.do(t, http.MethodGet, "/api/cases/99/pdf/settlement", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Case not found", detail(t, rec))

	id := h.createCase(t, false)
	rec = h.do(t, http.MethodGet, "/api/cases/1/pdf/settlement", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "inline", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-1.4 settlement", rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/cases/1/pdf/bid", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No bid file found", detail(t, rec))

	c, err := h.repo.Get(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, h.store.Remove(context.Background(), c.Settlement.Path))
	rec = h.do(t, http.MethodGet, "/api/cases/1/pdf/settlement", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No settlement file found", detail(t, rec))
}

func TestDeleteCase(t *testing.T) {
	h := newHarness(t, false)
	id := h.createCase(t, true)
	c, err := h.repo.Get(context.Background(), id)
	require.NoError(t, err)

	rec := h.do(t, http.MethodDelete, "/api/cases/1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":true}`, rec.Body.String())

	for _, p := range []string{c.Settlement.Path, c.Bid.Path} {
		_, err := h.store.Open(context.Background(), p)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/cases/1", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodDelete, "/api/cases/1", nil, "").Code)
}

func readEvents(t *testing.T, body string) []chatEvent {
	t.Helper()
	var events []chatEvent
	for _, frame := range strings.Split(strings.TrimSpace(body), "\n\n") {
		require.True(t, strings.HasPrefix(frame, "data: "), frame)
		var ev chatEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestChat(t *testing.T) {
	h := newHarness(t, true)
	chat := func(body string) *httptest.ResponseRecorder {
		return h.do(t, http.MethodPost, "/api/cases/1/chat", strings.NewReader(body), "application/json")
	}
	valid := `{"messages":[{"role":"user","content":"When is the claims deadline?"}]}`

	rec := chat(valid)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h.createCase(t, false)
	rec = chat(valid)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Case has no analysis yet", detail(t, rec))

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/api/cases/1/analyze", nil, "").Code)

	rec = chat(`{"messages":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = chat(`{"messages":[{"role":"robot","content":"x"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = chat(`not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.provider.deltas = []string{"The claims ", "deadline is TBD."}
	rec = chat(valid)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, []chatEvent{
		{Type: "delta", Text: "The claims "},
		{Type: "delta", Text: "deadline is TBD."},
		{Type: "stop"},
	}, readEvents(t, rec.Body.String()))

	require.Len(t, h.provider.chats, 1)
	sent := h.provider.chats[0]
	assert.Contains(t, sent.System, "=== STRUCTURED ANALYSIS ===")
	assert.NotContains(t, sent.System, "=== ADMINISTRATIVE BID TEXT ===")
	assert.Equal(t, int64(4096), sent.MaxTokens)
}

func TestChatErrorMidStream(t *testing.T) {
	h := newHarness(t, true)
	h.createCase(t, false)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/api/cases/1/analyze", nil, "").Code)

	h.provider.deltas = []string{"Partial "}
	h.provider.streamErr = errors.New("overloaded")
	rec := h.do(t, http.MethodPost, "/api/cases/1/chat",
		strings.NewReader(`{"messages":[{"role":"user","content":"q"}]}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	events := readEvents(t, rec.Body.String())
	assert.Equal(t, []chatEvent{
		{Type: "delta", Text: "Partial "},
		{Type: "error", Message: "overloaded"},
	}, events)
}

func TestExport(t *testing.T) {
	h := newHarness(t, true)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/cases/1/export.xlsx", nil, "").Code)

	h.createCase(t, true)
	rec := h.do(t, http.MethodGet, "/api/cases/1/export.xlsx", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/api/cases/1/analyze", nil, "").Code)
	rec = h.do(t, http.MethodGet, "/api/cases/1/export.xlsx", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="case-1.xlsx"`)
	// XLSX files are zip archives.
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
}

func TestInvalidCaseID(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(t, http.MethodGet, "/api/cases/abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, false)
	h.do(t, http.MethodGet, "/api/health", nil, "")
	rec := h.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",path="/api/health",status_code="200"}`)
}
