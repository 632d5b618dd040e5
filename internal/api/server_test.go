package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/forge/internal/pool"
	"github.com/seantiz/forge/internal/store"
	"github.com/seantiz/forge/internal/stream"
	"github.com/seantiz/forge/internal/textstat"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	hist, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { hist.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	p, err := pool.New[textstat.Request, textstat.Stats](
		textstat.JobIntegration{Factory: textstat.InProcFactory()},
		pool.Options{
			Size:           1,
			Handshake:      textstat.Handshake(),
			HealthInterval: time.Hour,
			Logger:         logger,
			OnSettle: func(rec pool.Record) {
				_ = hist.InsertRecord(context.Background(), &store.Record{
					ID:          rec.JobID,
					Hash:        rec.Hash,
					Priority:    rec.Priority,
					Outcome:     rec.Outcome,
					DurationMS:  rec.Duration.Milliseconds(),
					SubmittedAt: rec.SubmittedAt,
					SettledAt:   rec.SettledAt,
				})
			},
		},
	)
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	t.Cleanup(p.Shutdown)

	pl, err := stream.New[textstat.Request, textstat.Segment, textstat.Stats](
		textstat.StreamIntegration{Factory: textstat.InProcFactory()},
		stream.Options{
			Handshake: textstat.Handshake(),
			Tags:      textstat.StreamTags(),
			Logger:    logger,
		},
	)
	if err != nil {
		t.Fatalf("stream.New: %v", err)
	}
	t.Cleanup(pl.Close)

	return NewServer(":0", p, pl, stream.NewBroker(), hist, logger)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// Workers come up asynchronously; the endpoint reports "degraded"
	// until the first one finishes its handshake.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/healthz")
		if err != nil {
			t.Fatalf("GET /healthz: %v", err)
		}
		var body healthResponse
		decodeJSON(t, resp, &body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("healthz status code = %d", resp.StatusCode)
		}
		if body.Status == "ok" {
			if body.WorkersReady != 1 || body.PoolSize != 1 {
				t.Errorf("healthz body = %+v, want 1/1 workers", body)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("healthz never reported ok, last body %+v", body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSubmitJobComputesStats(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/jobs", submitJobRequest{Text: "one two\nthree\n"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var st textstat.Stats
	decodeJSON(t, resp, &st)
	if st.Lines != 2 || st.Words != 3 || st.Approx {
		t.Fatalf("stats = %+v, want 2 lines, 3 words, exact", st)
	}

	// Settlement lands in the history asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/v1/jobs")
		if err != nil {
			t.Fatalf("GET /v1/jobs: %v", err)
		}
		var list listJobsResponse
		decodeJSON(t, resp, &list)
		if list.Total == 1 {
			if list.Jobs[0].Outcome != "completed" {
				t.Fatalf("history outcome = %q, want completed", list.Jobs[0].Outcome)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("history total = %d, want 1", list.Total)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSubmitJobRequiresText(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/jobs", submitJobRequest{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSubmitBatch(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/jobs/batch", submitBatchRequest{
		Texts: []string{"a b", "c d e", ""},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body batchResponse
	decodeJSON(t, resp, &body)
	if len(body.Stats) != 3 {
		t.Fatalf("got %d results, want 3", len(body.Stats))
	}
	if body.Stats[0].Words != 2 || body.Stats[1].Words != 3 || body.Stats[2].Bytes != 0 {
		t.Errorf("batch stats = %+v", body.Stats)
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/jobs/nonexistent")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET /v1/stats: %v", err)
	}
	var body statsResponse
	decodeJSON(t, resp, &body)
	if body.Pool.Size != 1 {
		t.Errorf("pool size = %d, want 1", body.Pool.Size)
	}
	if body.History == nil {
		t.Error("missing history summary")
	}
}

func TestWorkersEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/workers")
	if err != nil {
		t.Fatalf("GET /v1/workers: %v", err)
	}
	var body workersResponse
	decodeJSON(t, resp, &body)
	if len(body.Workers) != 1 {
		t.Fatalf("got %d workers, want 1", len(body.Workers))
	}
}

// readSSE reads SSE lines from the stream endpoint until the done event or a
// timeout, returning the data payloads seen.
func readSSE(t *testing.T, url string) []string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var data []string
	scanner := bufio.NewScanner(resp.Body)
	sawDone := false
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: done" {
			sawDone = true
		}
		if strings.HasPrefix(line, "data: ") && !sawDone {
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
	if !sawDone {
		t.Fatal("SSE stream ended without done event")
	}
	return data
}

func TestStreamLifecycle(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/streams", startStreamRequest{Text: strings.Repeat("word ", 600)})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var started startStreamResponse
	decodeJSON(t, resp, &started)
	if started.ID == "" {
		t.Fatal("missing stream id")
	}

	// The stream may settle before we subscribe; either way the subscriber
	// gets a terminating done event.
	readSSE(t, ts.URL+"/v1/streams/"+started.ID)
}

func TestCancelStream(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/streams", startStreamRequest{Text: "short"})
	var started startStreamResponse
	decodeJSON(t, resp, &started)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/streams/"+started.ID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", delResp.StatusCode)
	}

	// Whether the cancel landed or the stream had already settled, a
	// subscriber sees a terminating done event.
	readSSE(t, ts.URL+"/v1/streams/"+started.ID)
}

func TestCancelUnknownStreamKeepsTopics(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/streams/no-such-id", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body["status"] != "not_active" {
		t.Fatalf("cancel unknown = %d %v, want 200/not_active", resp.StatusCode, body)
	}

	// A stream started afterwards is unaffected and still reaches its
	// subscriber.
	post := postJSON(t, ts.URL+"/v1/streams", startStreamRequest{Text: strings.Repeat("word ", 600)})
	var started startStreamResponse
	decodeJSON(t, post, &started)
	if data := readSSE(t, ts.URL+"/v1/streams/"+started.ID); len(data) == 0 {
		t.Fatal("stream produced no events")
	}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/healthz", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /healthz: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestRateLimiterRejectsFloods(t *testing.T) {
	l := newIPLimiter()

	allowed := 0
	for range 200 {
		if l.allow("10.0.0.1") {
			allowed++
		}
	}
	if allowed >= 200 {
		t.Fatal("limiter never rejected")
	}
	if allowed < limiterBurst {
		t.Errorf("allowed %d, want at least the burst of %d", allowed, limiterBurst)
	}

	// A different client has its own budget.
	if !l.allow("10.0.0.2") {
		t.Error("fresh client rejected")
	}
}
