package bridge

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sjin4861/deepcatch-agent/internal/aispeech"
	"github.com/sjin4861/deepcatch-agent/internal/audio"
	"github.com/sjin4861/deepcatch-agent/internal/callstore"
	"github.com/sjin4861/deepcatch-agent/internal/config"
	"github.com/sjin4861/deepcatch-agent/internal/metrics"
)

// TelephonyConn is the carrier-side websocket surface the session needs.
// Satisfied by *websocket.Conn.
type TelephonyConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// SpeechConn is the AI-side surface. Satisfied by *aispeech.Conn.
type SpeechConn interface {
	SendAudio(pcm []byte) error
	SendText(text string) error
	Close() error
}

// Telephony leg states.
const (
	legAwaitingStart int32 = iota
	legStreaming
	legClosed
)

// Session bridges one call's audio. Created when the carrier connects its
// media stream, destroyed when either leg ends.
type Session struct {
	ID      string
	CallSID string

	tconn TelephonyConn
	ai    SpeechConn

	store   *callstore.Store
	cfg     config.BridgeConfig
	aiRate  int
	metrics *metrics.Metrics
	logger  *slog.Logger

	legState atomic.Int32

	streamMu  sync.Mutex
	streamSID string

	// pending assistant text, flushed to the transcript store when the
	// remote party's next final utterance arrives or the session closes
	textMu      sync.Mutex
	pendingText strings.Builder

	outbound chan []byte

	droppedInbound  atomic.Uint64
	droppedOutbound atomic.Uint64

	errMu sync.Mutex
	err   error

	done      chan struct{}
	closeOnce sync.Once

	startTime    time.Time
	lastActivity atomic.Int64

	wg sync.WaitGroup
}

func newSession(callSID string, tconn TelephonyConn, store *callstore.Store,
	cfg config.BridgeConfig, aiRate int, m *metrics.Metrics, logger *slog.Logger) *Session {

	now := time.Now()
	s := &Session{
		ID:        uuid.NewString(),
		CallSID:   callSID,
		tconn:     tconn,
		store:     store,
		cfg:       cfg,
		aiRate:    aiRate,
		metrics:   m,
		logger:    logger,
		outbound:  make(chan []byte, cfg.OutboundQueue),
		done:      make(chan struct{}),
		startTime: now,
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// start launches the leg goroutines. The AI connection must be bound first.
func (s *Session) start() {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.readLoop()
	}()
	go func() {
		defer s.wg.Done()
		s.writeLoop()
	}()
}

// wait blocks until both leg goroutines have exited. Callers must Close
// first; waiting from inside a leg goroutine deadlocks.
func (s *Session) wait() {
	s.wg.Wait()
}

// aiCallbacks wires AI events back into this session.
func (s *Session) aiCallbacks() aispeech.Callbacks {
	return aispeech.Callbacks{
		OnTranscript: s.handleTranscript,
		OnAudioChunk: s.handleAIAudio,
		OnTextChunk:  s.handleAIText,
		OnError: func(err error) {
			s.fail(LegAI, err)
		},
	}
}

// StreamSID returns the media stream identifier captured from the start
// event, empty until then.
func (s *Session) StreamSID() string {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	return s.streamSID
}

// SendText forwards a text utterance to the AI leg for synthesis.
func (s *Session) SendText(text string) error {
	return s.ai.SendText(text)
}

// Done is closed when the session has fully shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the first leg failure, or nil for a clean stop.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Dropped returns the inbound and outbound dropped-frame counts.
func (s *Session) Dropped() (inbound, outbound uint64) {
	return s.droppedInbound.Load(), s.droppedOutbound.Load()
}

// Close shuts both legs down. Safe to call repeatedly and from any
// goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.legState.Store(legClosed)
		s.flushAssistantText()
		close(s.done)
		_ = s.tconn.Close()
		if s.ai != nil {
			_ = s.ai.Close()
		}
		s.metrics.RecordBridgeClosed()

		in, out := s.Dropped()
		s.logger.Info("bridge session closed",
			slog.String("session_id", s.ID),
			slog.String("call_sid", s.CallSID),
			slog.Duration("duration", time.Since(s.startTime)),
			slog.Uint64("dropped_inbound", in),
			slog.Uint64("dropped_outbound", out),
		)
	})
}

func (s *Session) fail(leg string, err error) {
	s.errMu.Lock()
	first := s.err == nil
	if first {
		s.err = &BridgeError{Leg: leg, Err: err}
	}
	s.errMu.Unlock()

	// the engine watches the status store, not the bridge
	if first && s.CallSID != "" {
		s.store.UpdateStatus(s.CallSID, "failed")
	}

	s.logger.Warn("bridge leg failed",
		slog.String("session_id", s.ID),
		slog.String("call_sid", s.CallSID),
		slog.String("leg", leg),
		slog.String("error", err.Error()),
	)
	s.Close()
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// readLoop consumes the telephony leg until stop, error, or Close.
func (s *Session) readLoop() {
	for {
		_, data, err := s.tconn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				// already closing, the read error is a consequence
			default:
				if isExpectedClose(err) {
					s.Close()
				} else {
					s.fail(LegTelephony, err)
				}
			}
			return
		}
		s.touch()

		var ev mediaEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.metrics.RecordMalformedFrame()
			s.logger.Debug("unparseable media event dropped",
				slog.String("call_sid", s.CallSID))
			continue
		}

		switch ev.Event {
		case eventConnected:
			// handshake preamble, nothing to bind yet

		case eventStart:
			if ev.Start != nil {
				s.streamMu.Lock()
				s.streamSID = ev.Start.StreamSID
				s.streamMu.Unlock()
			}
			s.legState.Store(legStreaming)
			s.logger.Info("media stream started",
				slog.String("session_id", s.ID),
				slog.String("call_sid", s.CallSID),
				slog.String("stream_sid", s.StreamSID()),
			)

		case eventMedia:
			s.handleInboundMedia(ev.Media)

		case eventStop:
			s.logger.Info("media stream stopped by carrier",
				slog.String("session_id", s.ID),
				slog.String("call_sid", s.CallSID),
			)
			s.Close()
			return

		default:
			s.logger.Debug("unknown media event ignored",
				slog.String("event", ev.Event))
		}
	}
}

// handleInboundMedia moves one carrier frame onto the AI leg:
// base64 mu-law → PCM-16 → AI sample rate.
func (s *Session) handleInboundMedia(media *mediaPayload) {
	if s.legState.Load() != legStreaming || media == nil {
		s.droppedInbound.Add(1)
		s.metrics.RecordFrameDropped(LegTelephony)
		return
	}

	mulaw, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		s.metrics.RecordMalformedFrame()
		s.droppedInbound.Add(1)
		return
	}
	s.metrics.RecordFrameInbound()

	samples, err := audio.Resample(audio.DecodeMuLaw(mulaw), s.cfg.TelephonyRate, s.aiRate)
	if err != nil {
		s.metrics.RecordMalformedFrame()
		s.droppedInbound.Add(1)
		return
	}

	if err := s.ai.SendAudio(audio.SamplesToPCM(samples)); err != nil {
		s.droppedInbound.Add(1)
		s.metrics.RecordFrameDropped(LegAI)
	}
}

// handleAIAudio moves synthesized PCM toward the telephony leg:
// AI sample rate → 8 kHz mu-law → fixed frames on the outbound queue.
func (s *Session) handleAIAudio(pcm []byte) {
	samples, err := audio.PCMToSamples(pcm)
	if err != nil {
		s.metrics.RecordMalformedFrame()
		return
	}

	samples, err = audio.Resample(samples, s.aiRate, s.cfg.TelephonyRate)
	if err != nil {
		s.metrics.RecordMalformedFrame()
		return
	}

	for _, frame := range audio.SplitFrames(audio.EncodeMuLaw(samples), s.cfg.FrameBytes) {
		select {
		case s.outbound <- frame:
		case <-s.done:
			return
		default:
			// queue full: the telephony leg is behind, drop rather than stall the AI leg
			s.droppedOutbound.Add(1)
			s.metrics.RecordFrameDropped(LegTelephony)
		}
	}
}

func (s *Session) handleTranscript(text string, final bool) {
	if !final || strings.TrimSpace(text) == "" {
		return
	}
	// the remote party finished an utterance; whatever assistant text
	// accumulated before it belongs earlier in the transcript
	s.flushAssistantText()
	s.store.AppendTranscript(s.CallSID, "shop", text)
	s.metrics.RecordTranscriptTurn()
	s.touch()
}

func (s *Session) handleAIText(text string) {
	s.textMu.Lock()
	s.pendingText.WriteString(text)
	s.textMu.Unlock()
	s.touch()
}

func (s *Session) flushAssistantText() {
	s.textMu.Lock()
	text := strings.TrimSpace(s.pendingText.String())
	s.pendingText.Reset()
	s.textMu.Unlock()

	if text == "" {
		return
	}
	s.store.AppendTranscript(s.CallSID, "assistant", text)
	s.metrics.RecordTranscriptTurn()
}

// writeLoop drains the outbound queue into carrier media events.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.outbound:
			ev := mediaEvent{
				Event:     eventMedia,
				StreamSID: s.StreamSID(),
				Media: &mediaPayload{
					Payload: base64.StdEncoding.EncodeToString(frame),
				},
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := s.tconn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.fail(LegTelephony, err)
				return
			}
			s.metrics.RecordFrameOutbound()
		}
	}
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return false
	}
	return errors.Is(err, net.ErrClosed)
}
