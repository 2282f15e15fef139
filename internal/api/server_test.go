package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/clip-harvester/internal/entity"
	"github.com/JakeFAU/clip-harvester/internal/harvest"
)

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(Config{}), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatusReturnsReport(t *testing.T) {
	t.Parallel()

	s, runs, _ := newTestServerWithFakes(Config{})
	runs.report = harvest.Report{
		RunID:   "0190b7d4-6f1a-7c3e-9a57-3c5d0e4b8f21",
		Running: true,
		Phases:  []harvest.PhaseReport{{Phase: harvest.PhaseInstitutions, Items: 12, Failed: 1}},
	}

	rec := serve(t, s, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got harvest.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, runs.report.RunID, got.RunID)
	require.True(t, got.Running)
	require.Len(t, got.Phases, 1)
	require.Equal(t, 12, got.Phases[0].Items)
}

func TestStartRun(t *testing.T) {
	t.Parallel()

	s, runs, _ := newTestServerWithFakes(Config{})
	rec := serve(t, s, http.MethodPost, "/v1/runs", `{"phases":["turns","enrollments"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []harvest.Phase{harvest.PhaseTurns, harvest.PhaseEnrollments}, runs.started)

	rec = serve(t, s, http.MethodPost, "/v1/runs", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Empty(t, runs.started)
}

func TestStartRunRejectsBadInput(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServerWithFakes(Config{})

	rec := serve(t, s, http.MethodPost, "/v1/runs", `{invalid`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, s, http.MethodPost, "/v1/runs", `{"phases":["grades"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown phase")
}

func TestStartRunConflict(t *testing.T) {
	t.Parallel()

	s, runs, _ := newTestServerWithFakes(Config{})
	runs.startErr = harvest.ErrRunning

	rec := serve(t, s, http.MethodPost, "/v1/runs", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestFindStudents(t *testing.T) {
	t.Parallel()

	s, _, dir := newTestServerWithFakes(Config{})
	dir.students = []entity.Student{{
		Identity:     entity.Identity{ExternalID: "12345"},
		Name:         "João Silva",
		Abbreviation: "js",
		Course:       &entity.Course{Abbreviation: "MIEI"},
		Institution:  &entity.Institution{Abbreviation: "FCT"},
	}}

	rec := serve(t, s, http.MethodGet, "/v1/students?q=jo%C3%A3o+silva", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "joão silva", dir.query)
	require.JSONEq(t,
		`{"students":[{"external_id":"12345","name":"João Silva","abbreviation":"js","course":"MIEI","institution":"FCT"}]}`,
		rec.Body.String())

	rec = serve(t, s, http.MethodGet, "/v1/students", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	dir.err = errors.New("connection refused")
	rec = serve(t, s, http.MethodGet, "/v1/students?q=ana", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "connection refused")
}

func TestCurrentPeriods(t *testing.T) {
	t.Parallel()

	s, _, dir := newTestServerWithFakes(Config{})
	dir.periods = []*entity.Period{{Letter: entity.PeriodSemester, Stage: 2, Stages: 2}}

	rec := serve(t, s, http.MethodGet, "/v1/periods/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, time.March, dir.month)
	require.JSONEq(t, `{"month":3,"periods":[{"letter":"s","stage":2,"stages":2,"name":"2/2s"}]}`, rec.Body.String())
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	s := newTestServer(Config{APIKey: "secret"})

	// Probes stay open.
	rec := serve(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, s, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, s, http.MethodGet, "/v1/status?api_key=secret", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(Config{})
	serve(t, s, http.MethodGet, "/healthz", "")
	rec := serve(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(Config{}), http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s, _, dir := newTestServerWithFakes(Config{})
	dir.panics = true
	rec := serve(t, s, http.MethodGet, "/v1/students?q=ana", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	s := newTestServer(Config{})
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type fakeRuns struct {
	mu       sync.Mutex
	report   harvest.Report
	started  []harvest.Phase
	startErr error
}

func (f *fakeRuns) Status() harvest.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.report
}

func (f *fakeRuns) Start(_ context.Context, phases ...harvest.Phase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = phases
	return nil
}

type fakeDirectory struct {
	students []entity.Student
	periods  []*entity.Period
	err      error
	panics   bool
	query    string
	month    time.Month
}

func (f *fakeDirectory) FindStudents(_ context.Context, query string) ([]entity.Student, error) {
	if f.panics {
		panic("boom")
	}
	f.query = query
	return f.students, f.err
}

func (f *fakeDirectory) PeriodsForMonth(month time.Month) []*entity.Period {
	f.month = month
	return f.periods
}

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time {
	return c.now
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func newTestServer(cfg Config) *Server {
	s, _, _ := newTestServerWithFakes(cfg)
	return s
}

func newTestServerWithFakes(cfg Config) (*Server, *fakeRuns, *fakeDirectory) {
	runs := &fakeRuns{}
	dir := &fakeDirectory{}
	clock := fakeClock{now: time.Date(2024, time.March, 11, 9, 0, 0, 0, time.UTC)}
	return NewServer(context.Background(), runs, dir, clock, cfg, zap.NewNop()), runs, dir
}

func serve(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	}
	var req *http.Request
	if reader != nil {
		req = httptest.NewRequest(method, target, reader)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}
