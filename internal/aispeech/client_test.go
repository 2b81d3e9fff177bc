package aispeech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjin4861/deepcatch-agent/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

var upgrader = websocket.Upgrader{}

// fakeService runs a websocket server standing in for the speech backend.
type fakeService struct {
	t *testing.T

	mu       sync.Mutex
	query    map[string]string
	binary   [][]byte
	texts    []string
	sessions chan *websocket.Conn
}

func newFakeService(t *testing.T) (*fakeService, *httptest.Server) {
	f := &fakeService{t: t, sessions: make(chan *websocket.Conn, 1)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.query = map[string]string{}
		for k := range r.URL.Query() {
			f.query[k] = r.URL.Query().Get(k)
		}
		f.mu.Unlock()

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		f.sessions <- ws

		for {
			msgType, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			f.mu.Lock()
			if msgType == websocket.BinaryMessage {
				f.binary = append(f.binary, data)
			} else {
				f.texts = append(f.texts, string(data))
			}
			f.mu.Unlock()
		}
	}))
	return f, srv
}

func wsConfig(srvURL string) config.AISpeechConfig {
	return config.AISpeechConfig{
		Endpoint:   "ws" + strings.TrimPrefix(srvURL, "http"),
		APIKey:     "k",
		Model:      "realtime-1",
		Voice:      "alloy",
		Language:   "ko",
		SampleRate: 16000,
		Timeout:    5,
	}
}

func TestDialSendsSessionParams(t *testing.T) {
	fake, srv := newFakeService(t)
	defer srv.Close()

	conn, err := Dial(context.Background(), wsConfig(srv.URL), Callbacks{}, testLogger())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.query["sample_rate"] != "16000" {
		t.Errorf("sample_rate = %q", fake.query["sample_rate"])
	}
	if fake.query["encoding"] != "pcm_s16le" {
		t.Errorf("encoding = %q", fake.query["encoding"])
	}
	if fake.query["language"] != "ko" {
		t.Errorf("language = %q", fake.query["language"])
	}
}

func TestSendAudioAndText(t *testing.T) {
	fake, srv := newFakeService(t)
	defer srv.Close()

	conn, err := Dial(context.Background(), wsConfig(srv.URL), Callbacks{}, testLogger())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.SendAudio([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}
	if err := conn.SendText("안녕하세요"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		fake.mu.Lock()
		gotBoth := len(fake.binary) == 1 && len(fake.texts) == 1
		fake.mu.Unlock()
		if gotBoth {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for frames")
		case <-time.After(10 * time.Millisecond):
		}
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if string(fake.binary[0]) != "\x01\x02\x03\x04" {
		t.Errorf("binary frame mismatch: %v", fake.binary[0])
	}
	var ti textInput
	if err := json.Unmarshal([]byte(fake.texts[0]), &ti); err != nil {
		t.Fatalf("text frame unparseable: %v", err)
	}
	if ti.Message != "text_input" || ti.Text != "안녕하세요" {
		t.Errorf("unexpected text frame: %+v", ti)
	}
}

func TestEventDispatch(t *testing.T) {
	fake, srv := newFakeService(t)
	defer srv.Close()

	type captured struct {
		transcripts []string
		finals      []bool
		audio       [][]byte
		chunks      []string
	}
	var mu sync.Mutex
	var got captured

	conn, err := Dial(context.Background(), wsConfig(srv.URL), Callbacks{
		OnTranscript: func(text string, final bool) {
			mu.Lock()
			got.transcripts = append(got.transcripts, text)
			got.finals = append(got.finals, final)
			mu.Unlock()
		},
		OnAudioChunk: func(pcm []byte) {
			mu.Lock()
			got.audio = append(got.audio, pcm)
			mu.Unlock()
		},
		OnTextChunk: func(text string) {
			mu.Lock()
			got.chunks = append(got.chunks, text)
			mu.Unlock()
		},
	}, testLogger())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	ws := <-fake.sessions
	events := []string{
		`{"message": "transcription", "text": "네 가능합니다", "final": true}`,
		`{"message": "speech_synthesis_chunk", "audio": "` +
			base64.StdEncoding.EncodeToString([]byte{0, 1, 0, 2}) + `"}`,
		`{"message": "text_chunk", "text": "몇 분이"}`,
		`{"message": "unknown_kind"}`,
		`not json at all`,
	}
	for _, ev := range events {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(ev)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		done := len(got.transcripts) == 1 && len(got.audio) == 1 && len(got.chunks) == 1
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for callbacks")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if got.transcripts[0] != "네 가능합니다" || !got.finals[0] {
		t.Errorf("transcript dispatch wrong: %v final=%v", got.transcripts, got.finals)
	}
	if string(got.audio[0]) != "\x00\x01\x00\x02" {
		t.Errorf("audio dispatch wrong: %v", got.audio[0])
	}
	if got.chunks[0] != "몇 분이" {
		t.Errorf("text chunk dispatch wrong: %v", got.chunks)
	}
}

func TestCloseIdempotentAndDone(t *testing.T) {
	_, srv := newFakeService(t)
	defer srv.Close()

	conn, err := Dial(context.Background(), wsConfig(srv.URL), Callbacks{}, testLogger())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("first close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done() not closed after Close()")
	}
}

func TestDialFailure(t *testing.T) {
	cfg := wsConfig("http://127.0.0.1:1")
	if _, err := Dial(context.Background(), cfg, Callbacks{}, testLogger()); err == nil {
		t.Fatal("expected dial failure")
	}
}
