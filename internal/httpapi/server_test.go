package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/amscreen/internal/classifier"
	"horse.fit/amscreen/internal/guard"
	"horse.fit/amscreen/internal/pipeline"
	"horse.fit/amscreen/internal/search"
	"horse.fit/amscreen/internal/session"
	schema "horse.fit/amscreen/schema"
)

type stubSearcher struct{}

func (stubSearcher) Search(context.Context, string, int) ([]search.Hit, error) {
	return nil, nil
}

type stubFetcher struct{}

func (stubFetcher) FetchText(context.Context, string) (string, error) {
	return "", nil
}

type stubClassifier struct{}

func (stubClassifier) Triage(context.Context, []classifier.TriageItem, string) (*schema.TriageResult, error) {
	return &schema.TriageResult{}, nil
}

func (stubClassifier) GroupTitles(context.Context, []string, string) ([][]int, error) {
	return nil, nil
}

func (stubClassifier) ClusterIncidents(context.Context, []string, string) ([][]int, []string, error) {
	return nil, nil, nil
}

func (stubClassifier) Analyze(context.Context, string, string, string) (*schema.AnalyzeResult, error) {
	return &schema.AnalyzeResult{}, nil
}

func (stubClassifier) Consolidate(context.Context, []classifier.ConsolidateItem, string) (*schema.ConsolidateResult, error) {
	return &schema.ConsolidateResult{}, nil
}

func testServer(t *testing.T) (*Server, session.Store) {
	t.Helper()
	store := session.NewMemoryStore(time.Hour)
	service := pipeline.NewService(
		stubSearcher{}, stubFetcher{}, stubClassifier{},
		store, guard.NewRegistry(), pipeline.Options{}, zerolog.Nop(),
	)
	return NewServer(service, zerolog.Nop(), Options{}), store
}

func doRequest(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.buildEcho().ServeHTTP(rec, req)
	return rec
}

func decodeJSend(t *testing.T, rec *httptest.ResponseRecorder) jsendResponse {
	t.Helper()
	var resp jsendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeJSend(t, rec)
	if resp.Status != "success" {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestStartScreeningRejectsMissingSubject(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/screenings", `{"subject_name":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if resp := decodeJSend(t, rec); resp.Status != "fail" {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestStartScreeningRejectsBadLanguageMode(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/screenings", `{"subject_name":"张三","language_mode":"fr"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestScreeningStatusNotFound(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/screenings/does-not-exist", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestScreeningStatusAndPause(t *testing.T) {
	t.Parallel()

	srv, store := testServer(t)
	ctx := context.Background()
	sess := &session.Session{
		SessionID:   "sess-1",
		SubjectName: "张三",
		Phase:       session.PhaseAnalyze,
	}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/screenings/sess-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSend(t, rec)
	data, _ := json.Marshal(resp.Data)
	var summary session.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Phase != session.PhaseAnalyze || summary.SubjectName != "张三" {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/screenings/sess-1/pause", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("pause status = %d, body = %s", rec.Code, rec.Body.String())
	}
	paused, err := store.IsPaused(ctx, "sess-1")
	if err != nil || !paused {
		t.Fatalf("expected session paused, got paused=%v err=%v", paused, err)
	}
}

func TestStartScreeningStreamsEvents(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/screenings", `{"subject_name":"Ivan Petrov"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echoHeaderContentType); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: phase_start") {
		t.Fatalf("missing phase_start event in stream: %s", body)
	}
	if !strings.Contains(body, "event: complete") {
		t.Fatalf("missing complete event in stream: %s", body)
	}
}

func TestResumeUnknownSessionWithoutSubjectIs404(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/screenings/does-not-exist/resume", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestResumeUnknownSessionWithSubjectStartsFresh(t *testing.T) {
	t.Parallel()

	srv, store := testServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/screenings/does-not-exist/resume",
		`{"subject_name":"Ivan Petrov"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "event: complete") {
		t.Fatalf("expected a fresh run to stream to completion: %s", rec.Body.String())
	}

	// The fresh session was persisted under a new ID, not the stale one.
	summaries, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 1 || summaries[0].SessionID == "does-not-exist" {
		t.Fatalf("unexpected sessions after fallback: %+v", summaries)
	}
}

const echoHeaderContentType = "Content-Type"
