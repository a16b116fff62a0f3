package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/ferry/internal/duckdb"
	"github.com/tinytelemetry/ferry/internal/handler"
	"github.com/tinytelemetry/ferry/internal/model"
	"github.com/tinytelemetry/ferry/internal/trigger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeInvoker struct {
	got      []byte
	deadline bool
	res      handler.Result
	err      error
}

func (f *fakeInvoker) Invoke(ctx context.Context, raw []byte) (handler.Result, error) {
	f.got = raw
	_, f.deadline = ctx.Deadline()
	return f.res, f.err
}

func newTestServer(t *testing.T, inv Invoker) (*duckdb.Store, *gin.Engine) {
	t.Helper()
	store, err := duckdb.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv := NewServer("", inv, store, Config{InvokeTimeout: time.Minute})
	return store, srv.routes()
}

func seed(t *testing.T, store *duckdb.Store, index string, n int) {
	t.Helper()
	loc := model.SourceLocator{Kind: model.SourceSQS, Queue: "ingest", MessageID: index}
	events := make([]model.Event, n)
	for i := range events {
		events[i] = model.Event{
			Timestamp:   time.Now().UTC().Add(time.Duration(i) * time.Second),
			Message:     fmt.Sprintf("line %d", i),
			Offset:      int64(i * 10),
			Locator:     loc,
			Index:       index,
			DeliveryKey: model.DeliveryKey(loc, int64(i*10)),
		}
	}
	if _, err := store.BulkCreate(context.Background(), events); err != nil {
		t.Fatalf("BulkCreate: %v", err)
	}
}

func do(t *testing.T, r *gin.Engine, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("unmarshal %s: %v", w.Body.String(), err)
		}
	}
	return w, out
}

func TestHealthEndpoint(t *testing.T) {
	store, r := newTestServer(t, &fakeInvoker{})
	seed(t, store, "logs-generic-default", 2)

	w, body := do(t, r, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if body["status"] != "ok" || body["event_count"] != float64(2) {
		t.Fatalf("health body = %v", body)
	}
}

func TestHealthEndpoint_WrongMethod(t *testing.T) {
	_, r := newTestServer(t, &fakeInvoker{})

	w, body := do(t, r, http.MethodPost, "/api/health", nil)
	if w.Code != http.StatusMethodNotAllowed && w.Code != http.StatusNotFound {
		t.Errorf("health POST status = %d, want 405 or 404", w.Code)
	}
	if body != nil {
		t.Errorf("plain-text error decoded as JSON: %v", body)
	}
}

func TestInvokeEndpoint(t *testing.T) {
	inv := &fakeInvoker{res: handler.Result{Status: handler.StatusContinuing, Units: 2, Continued: 1}}
	_, r := newTestServer(t, inv)

	event := []byte(`{"Records":[]}`)
	w, body := do(t, r, http.MethodPost, "/api/invoke", event)
	if w.Code != http.StatusOK {
		t.Fatalf("invoke status = %d: %s", w.Code, w.Body.String())
	}
	if !bytes.Equal(inv.got, event) {
		t.Fatalf("invoker got %q", inv.got)
	}
	if !inv.deadline {
		t.Fatal("invocation context has no deadline")
	}
	if body["status"] != "continuing" || body["continued_units"] != float64(1) {
		t.Fatalf("invoke body = %v", body)
	}
}

func TestInvokeEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		err  error
		want int
	}{
		{name: "empty body", body: nil, want: http.StatusBadRequest},
		{name: "unsupported", body: []byte(`{}`), err: trigger.ErrUnsupportedTrigger, want: http.StatusBadRequest},
		{name: "unknown input", body: []byte(`{}`), err: fmt.Errorf("%w: sqs x", handler.ErrInputNotFound), want: http.StatusNotFound},
		{name: "transport", body: []byte(`{}`), err: fmt.Errorf("s3: get: timeout"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, r := newTestServer(t, &fakeInvoker{err: tt.err, res: handler.Result{Status: handler.StatusError}})
			w, body := do(t, r, http.MethodPost, "/api/invoke", tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if _, ok := body["error"]; !ok {
				t.Fatalf("body without error: %v", body)
			}
		})
	}
}

func TestEventCountEndpoint(t *testing.T) {
	store, r := newTestServer(t, &fakeInvoker{})
	seed(t, store, "logs-a-default", 3)
	seed(t, store, "logs-b-default", 1)

	w, body := do(t, r, http.MethodGet, "/api/events/count", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["total"] != float64(4) {
		t.Fatalf("total = %v, want 4", body["total"])
	}
	byIndex, _ := body["by_index"].(map[string]any)
	if byIndex["logs-a-default"] != float64(3) || byIndex["logs-b-default"] != float64(1) {
		t.Fatalf("by_index = %v", byIndex)
	}
}

func TestEventsEndpoint(t *testing.T) {
	store, r := newTestServer(t, &fakeInvoker{})
	seed(t, store, "logs-a-default", 5)
	seed(t, store, "logs-b-default", 2)

	w, body := do(t, r, http.MethodGet, "/api/events?limit=2&index=logs-a-default", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if body["count"] != float64(2) {
		t.Fatalf("count = %v, want 2", body["count"])
	}
	events, _ := body["events"].([]any)
	for _, e := range events {
		if e.(map[string]any)["index"] != "logs-a-default" {
			t.Fatalf("event from another index: %v", e)
		}
	}

	w, _ = do(t, r, http.MethodGet, "/api/events?limit=zero", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", w.Code)
	}
}
