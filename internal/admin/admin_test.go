package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sheerbytes/segflux/internal/logging"
	"github.com/sheerbytes/segflux/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSource struct {
	history session.History
	stats   session.StatsSnapshot
}

func (f *fakeSource) History() session.History { return f.history }
func (f *fakeSource) Stats() session.StatsSnapshot { return f.stats }

type brokenHistory struct{}

func (brokenHistory) Add(context.Context, session.Record) error { return errors.New("down") }
func (brokenHistory) List(context.Context, int) ([]session.Record, error) {
	return nil, errors.New("down")
}
func (brokenHistory) Get(context.Context, string) (session.Record, bool, error) {
	return session.Record{}, false, errors.New("down")
}

func newTestSource(t *testing.T) *fakeSource {
	t.Helper()
	h := session.NewMemoryHistory(10)
	ctx := context.Background()
	_ = h.Add(ctx, session.Record{ID: "first", Filename: "a.bin", State: session.Completed, BytesSent: 10})
	_ = h.Add(ctx, session.Record{ID: "second", Filename: "b.bin", State: session.RequestParsed, Err: "file not found"})
	return &fakeSource{history: h, stats: session.StatsSnapshot{Sessions: 2, Completed: 1, Rejected: 1, BytesSent: 10}}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	h := NewHandler(newTestSource(t), logging.Discard())
	rec := get(t, h, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || !body["ok"] {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestStats(t *testing.T) {
	h := NewHandler(newTestSource(t), logging.Discard())
	rec := get(t, h, "/stats")
	var got session.StatsSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Sessions != 2 || got.Rejected != 1 {
		t.Fatalf("unexpected stats %+v", got)
	}
}

func TestListSessions(t *testing.T) {
	h := NewHandler(newTestSource(t), logging.Discard())
	rec := get(t, h, "/sessions?limit=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Sessions []session.Record `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Sessions) != 1 || body.Sessions[0].ID != "second" {
		t.Fatalf("unexpected sessions %+v", body.Sessions)
	}
	if body.Sessions[0].State != session.RequestParsed {
		t.Fatalf("state not decoded: %v", body.Sessions[0].State)
	}

	if rec := get(t, h, "/sessions?limit=abc"); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid limit status = %d", rec.Code)
	}
}

func TestListSessionsEmpty(t *testing.T) {
	h := NewHandler(&fakeSource{history: session.NewMemoryHistory(1)}, logging.Discard())
	rec := get(t, h, "/sessions")
	if rec.Body.String() != `{"sessions":[]}` {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestGetSession(t *testing.T) {
	h := NewHandler(newTestSource(t), logging.Discard())
	rec := get(t, h, "/sessions/first")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got session.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Filename != "a.bin" || got.BytesSent != 10 {
		t.Fatalf("unexpected record %+v", got)
	}
	if rec := get(t, h, "/sessions/nope"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing session status = %d", rec.Code)
	}
}

func TestHistoryFailure(t *testing.T) {
	h := NewHandler(&fakeSource{history: brokenHistory{}}, logging.Discard())
	if rec := get(t, h, "/sessions"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("list status = %d", rec.Code)
	}
	if rec := get(t, h, "/sessions/x"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("get status = %d", rec.Code)
	}
}

func TestServeListenerShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	handler := NewHandler(newTestSource(t), logging.Discard())
	done := make(chan error, 1)
	go func() { done <- ServeListener(ctx, ln, handler, logging.Discard()) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeListener: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("admin server did not shut down")
	}
}
