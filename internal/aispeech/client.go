// Package aispeech maintains the realtime connection to the speech/LLM
// service: PCM audio and text go out, transcriptions, synthesized audio
// chunks and response text come back as JSON events.
package aispeech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sjin4861/deepcatch-agent/internal/config"
)

// Callbacks receive events from the service. Nil members are skipped.
// They are invoked from the connection's reader goroutine, so they must not
// block for long.
type Callbacks struct {
	OnTranscript func(text string, final bool)
	OnAudioChunk func(pcm []byte)
	OnTextChunk  func(text string)
	OnError      func(err error)
}

// event is the JSON envelope of every server message.
type event struct {
	Message string `json:"message"`
	Text    string `json:"text,omitempty"`
	Final   bool   `json:"final,omitempty"`
	Audio   string `json:"audio,omitempty"` // base64 PCM
	Error   string `json:"error,omitempty"`
}

// textInput is the client→server text event used for scripted lines.
type textInput struct {
	Message string `json:"message"`
	Text    string `json:"text"`
}

// Conn is one live connection to the speech service.
type Conn struct {
	ws        *websocket.Conn
	callbacks Callbacks
	logger    *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the speech service with the session parameters encoded in
// the query string and starts the reader goroutine.
func Dial(ctx context.Context, cfg config.AISpeechConfig, callbacks Callbacks, logger *slog.Logger) (*Conn, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid aispeech endpoint: %w", err)
	}

	q := u.Query()
	q.Set("model", cfg.Model)
	q.Set("voice", cfg.Voice)
	q.Set("language", cfg.Language)
	q.Set("encoding", "pcm_s16le")
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("api_key", cfg.APIKey)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: cfg.GetTimeoutDuration()}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("aispeech dial failed: %w", err)
	}

	c := &Conn{
		ws:        ws,
		callbacks: callbacks,
		logger:    logger,
		done:      make(chan struct{}),
	}
	go c.readLoop()

	logger.Info("aispeech connected",
		slog.String("endpoint", u.Host),
		slog.Int("sample_rate", cfg.SampleRate))
	return c, nil
}

// SendAudio forwards one PCM chunk to the service as a binary frame.
func (c *Conn) SendAudio(pcm []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return fmt.Errorf("aispeech audio send failed: %w", err)
	}
	return nil
}

// SendText submits a text utterance for synthesis, used by scripted calls.
func (c *Conn) SendText(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteJSON(textInput{Message: "text_input", Text: text}); err != nil {
		return fmt.Errorf("aispeech text send failed: %w", err)
	}
	return nil
}

// Done is closed when the reader goroutine exits, whether by Close or by a
// connection failure.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.done)

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("aispeech connection dropped", slog.String("error", err.Error()))
				if c.callbacks.OnError != nil {
					c.callbacks.OnError(err)
				}
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var ev event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn("aispeech event unparseable", slog.String("error", err.Error()))
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Conn) dispatch(ev event) {
	switch ev.Message {
	case "transcription":
		if c.callbacks.OnTranscript != nil {
			c.callbacks.OnTranscript(ev.Text, ev.Final)
		}
	case "speech_synthesis_chunk":
		if c.callbacks.OnAudioChunk == nil || ev.Audio == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(ev.Audio)
		if err != nil {
			c.logger.Warn("aispeech audio chunk undecodable", slog.String("error", err.Error()))
			return
		}
		c.callbacks.OnAudioChunk(pcm)
	case "text_chunk":
		if c.callbacks.OnTextChunk != nil {
			c.callbacks.OnTextChunk(ev.Text)
		}
	case "error":
		c.logger.Error("aispeech service error", slog.String("error", ev.Error))
		if c.callbacks.OnError != nil {
			c.callbacks.OnError(fmt.Errorf("aispeech service error: %s", ev.Error))
		}
	default:
		c.logger.Debug("aispeech event ignored", slog.String("message", ev.Message))
	}
}
