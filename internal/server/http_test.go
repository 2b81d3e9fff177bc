package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sjin4861/deepcatch-agent/internal/bridge"
	"github.com/sjin4861/deepcatch-agent/internal/callstore"
	"github.com/sjin4861/deepcatch-agent/internal/config"
	"github.com/sjin4861/deepcatch-agent/internal/engine"
	"github.com/sjin4861/deepcatch-agent/internal/metrics"
)

type fakeRunner struct {
	got    engine.CallRequest
	result engine.Result
}

func (f *fakeRunner) Run(ctx context.Context, req engine.CallRequest) engine.Result {
	f.got = req
	return f.result
}

type fakeBridger struct {
	got    chan string
	active int
	err    error
}

func newFakeBridger() *fakeBridger {
	return &fakeBridger{got: make(chan string, 1)}
}

func (f *fakeBridger) CreateSession(ctx context.Context, callSID string, tconn bridge.TelephonyConn) (*bridge.Session, error) {
	select {
	case f.got <- callSID:
	default:
	}
	// the test server does not need a live session; release the leg
	_ = tconn.Close()
	return nil, f.err
}

func (f *fakeBridger) ActiveSessionCount() int { return f.active }

func newTestServer(t *testing.T, store *callstore.Store, bridges Bridger, runner CallRunner) *HTTPServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHTTPServer(config.ServerConfig{Address: "127.0.0.1", Port: 0},
		logger, store, bridges, runner, metrics.NewMetricsWith(prometheus.NewRegistry()))
}

func TestHandleHealth(t *testing.T) {
	h := newTestServer(t, callstore.New(), &fakeBridger{active: 2}, &fakeRunner{})

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field = %v, want healthy", body["status"])
	}
}

func TestHandleStartCall(t *testing.T) {
	runner := &fakeRunner{result: engine.Result{
		CallSID: "CA1",
		State:   engine.StateCompleted,
	}}
	h := newTestServer(t, callstore.New(), &fakeBridger{}, runner)

	body := `{"shop_name": "해진호", "phone": "010-1234-5678", "scenario_id": "probe"}`
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/calls", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if runner.got.Phone != "010-1234-5678" || runner.got.ScenarioID != "probe" {
		t.Errorf("runner received %+v", runner.got)
	}
	var result engine.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if result.CallSID != "CA1" || result.State != engine.StateCompleted {
		t.Errorf("result = %+v", result)
	}
}

func TestHandleStartCallRejectsBadBody(t *testing.T) {
	h := newTestServer(t, callstore.New(), &fakeBridger{}, &fakeRunner{})

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/calls", strings.NewReader("{")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/calls", strings.NewReader("{}")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty request: status = %d, want 400", rec.Code)
	}
}

func TestHandleCallDetail(t *testing.T) {
	store := callstore.New()
	store.UpdateStatus("CA42", "in-progress")
	store.AppendTranscript("CA42", "shop", "네, 가능합니다.")
	h := newTestServer(t, store, &fakeBridger{}, &fakeRunner{})

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/calls/CA42", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		CallSID    string           `json:"call_sid"`
		Status     string           `json:"status"`
		Final      bool             `json:"final"`
		Transcript []callstore.Turn `json:"transcript"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Status != "in-progress" || body.Final {
		t.Errorf("status = %q final = %v", body.Status, body.Final)
	}
	if len(body.Transcript) != 1 {
		t.Errorf("transcript has %d turns, want 1", len(body.Transcript))
	}

	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/calls/CA999", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown call: status = %d, want 404", rec.Code)
	}
}

func TestHandleVoiceStatus(t *testing.T) {
	store := callstore.New()
	h := newTestServer(t, store, &fakeBridger{}, &fakeRunner{})

	form := url.Values{"CallSid": {"CA7"}, "CallStatus": {"ringing"}}
	req := httptest.NewRequest(http.MethodPost, "/voice/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if status, ok := store.GetStatus("CA7"); !ok || status != "ringing" {
		t.Errorf("store status = %q ok = %v, want ringing", status, ok)
	}

	req = httptest.NewRequest(http.MethodPost, "/voice/status", strings.NewReader("CallSid=CA7"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("incomplete webhook: status = %d, want 400", rec.Code)
	}
}

func TestHandleVoiceStreamRequiresCallSID(t *testing.T) {
	h := newTestServer(t, callstore.New(), &fakeBridger{}, &fakeRunner{})

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/voice/stream", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleVoiceStreamUpgrade(t *testing.T) {
	bridger := newFakeBridger()
	h := newTestServer(t, callstore.New(), bridger, &fakeRunner{})

	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/voice/stream?call_sid=CA9"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	select {
	case callSID := <-bridger.got:
		if callSID != "CA9" {
			t.Errorf("bridger received call SID %q, want CA9", callSID)
		}
	case <-time.After(time.Second):
		t.Fatal("bridge session was never created")
	}
}
