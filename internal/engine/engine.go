package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sjin4861/deepcatch-agent/internal/callstore"
	"github.com/sjin4861/deepcatch-agent/internal/carrier"
	"github.com/sjin4861/deepcatch-agent/internal/config"
	"github.com/sjin4861/deepcatch-agent/internal/extract"
	"github.com/sjin4861/deepcatch-agent/internal/metrics"
	"github.com/sjin4861/deepcatch-agent/internal/phone"
	"github.com/sjin4861/deepcatch-agent/internal/scenario"
)

// Placer is the call placement collaborator. Satisfied by *carrier.Client.
type Placer interface {
	PlaceCall(ctx context.Context, to, streamURL, statusURL string) (*carrier.Placement, error)
}

// TextSender delivers one text utterance into a live call.
type TextSender interface {
	SendText(text string) error
}

// Bridges locates the live audio session for a call, when one exists.
// Scripted lines are spoken through it.
type Bridges interface {
	TextSender(callSID string) (TextSender, bool)
}

// Options collects the engine's collaborators and configuration.
type Options struct {
	Engine   config.EngineConfig
	Scenario config.ScenarioConfig
	Placer   Placer
	Store    *callstore.Store
	Bridges  Bridges // optional
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// URLs handed to the carrier when placing a call
	StreamURL string
	StatusURL string
}

// Engine executes calls. One Engine serves many calls; each Run invocation
// owns its call exclusively.
type Engine struct {
	cfg         config.EngineConfig
	scenarioCfg config.ScenarioConfig
	placer      Placer
	store       *callstore.Store
	bridges     Bridges
	metrics     *metrics.Metrics
	logger      *slog.Logger
	streamURL   string
	statusURL   string
}

// New creates an engine from its options.
func New(opts Options) *Engine {
	return &Engine{
		cfg:         opts.Engine,
		scenarioCfg: opts.Scenario,
		placer:      opts.Placer,
		store:       opts.Store,
		bridges:     opts.Bridges,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		streamURL:   opts.StreamURL,
		statusURL:   opts.StatusURL,
	}
}

// Run drives one call to a terminal state and returns its result. It never
// panics out: unexpected internal errors become a failed result carrying the
// panic text.
func (e *Engine) Run(ctx context.Context, req CallRequest) (result Result) {
	sess := newCallSession(req)
	e.metrics.RecordCallStarted()

	defer func() {
		if r := recover(); r != nil {
			sess.ErrorCode = "internal_error"
			sess.Message = fmt.Sprint(r)
			sess.end(StateFailed)
			result = sess.result()
			e.logger.Error("call run recovered from panic",
				slog.String("call_sid", sess.CallSID),
				slog.String("panic", sess.Message))
		}
		if sess.CallSID != "" {
			e.store.Cleanup(sess.CallSID)
		}
		e.metrics.RecordCallFinished(string(result.State),
			time.Since(sess.StartedAt).Seconds())
	}()

	e.prepare(sess, req)
	e.place(ctx, sess)

	if !sess.State.Terminal() && sess.State != StateExtracting {
		e.pollLoop(ctx, sess)
	}
	if sess.State == StateExtracting {
		e.extract(sess)
	}
	e.finalize(sess)

	result = sess.result()
	return result
}

// prepare loads the scenario script, if any, and feeds its opening line. A
// script that is already exhausted marks the session finished so the run
// can complete without a live call.
func (e *Engine) prepare(sess *session, req CallRequest) {
	sess.State = StatePreparing

	if req.ScenarioID == "" {
		return
	}
	sess.scenarioActive = true
	sess.script = scenario.Load(e.scenarioCfg.Dir, req.ScenarioID, e.logger)

	if line, ok := sess.script.NextAssistantLine(); ok {
		sess.appendTurn("assistant", line)
	}
	if sess.script.Finished() {
		sess.scenarioFinished = true
	}

	e.logger.Info("call prepared",
		slog.String("shop", sess.ShopName),
		slog.String("scenario_id", req.ScenarioID),
		slog.Int("script_lines", sess.script.Len()),
		slog.Bool("scenario_finished", sess.scenarioFinished))
}

// place asks the carrier to dial. A finished scenario skips dialing
// entirely and goes straight to extraction.
func (e *Engine) place(ctx context.Context, sess *session) {
	if sess.State != StatePreparing {
		return
	}
	sess.State = StateDialing

	if sess.scenarioFinished {
		sess.State = StateExtracting
		return
	}

	e.metrics.RecordPlacementRequest()
	placement, err := e.placer.PlaceCall(ctx, sess.Phone, e.streamURL, e.statusURL)
	if err != nil {
		e.metrics.RecordPlacementFailure()
		sess.ErrorCode = "placement_failed"
		sess.Message = err.Error()
		sess.end(StateFailed)
		return
	}

	sess.CallSID = placement.SID
	if normalized, err := phone.Validate(sess.Phone); err == nil {
		sess.Phone = normalized
	}
	e.store.UpdateStatus(placement.SID, placement.Status)
	sess.State = StateRinging

	e.logger.Info("call dialing",
		slog.String("call_sid", sess.CallSID),
		slog.String("to", sess.Phone))
}

// pollLoop alternates monitor and stream until the call terminates, enters
// extraction, or the state stops changing for too many consecutive polls.
// Hitting the ceiling is not a failure; the run proceeds with whatever
// state currently holds.
func (e *Engine) pollLoop(ctx context.Context, sess *session) {
	idle := 0
	for !sess.State.Terminal() && sess.State != StateExtracting {
		prev := sess.State

		e.monitor(sess)
		if !sess.State.Terminal() && sess.State != StateExtracting {
			e.stream(sess)
		}
		if sess.State.Terminal() || sess.State == StateExtracting {
			return
		}

		if sess.State == prev {
			idle++
			if idle >= e.cfg.MaxIdleLoops {
				sess.Message = fmt.Sprintf("no status change after %d polls in state %s",
					idle, sess.State)
				e.logger.Warn("status polling ceiling reached",
					slog.String("call_sid", sess.CallSID),
					slog.String("state", string(sess.State)))
				return
			}
		} else {
			idle = 0
		}

		select {
		case <-ctx.Done():
			sess.ErrorCode = "canceled"
			sess.Message = ctx.Err().Error()
			sess.end(StateCanceled)
			return
		case <-time.After(e.cfg.GetPollIntervalDuration()):
		}
	}
}

// monitor enforces the per-call time limits and folds the carrier's latest
// status token into the call state.
func (e *Engine) monitor(sess *session) {
	elapsed := time.Since(sess.StartedAt)
	if elapsed > e.cfg.GetCallTimeoutDuration() {
		sess.ErrorCode = "timeout"
		sess.Message = "call exceeded the total duration limit"
		sess.end(StateFailed)
		return
	}
	if (sess.State == StateDialing || sess.State == StateRinging) &&
		elapsed > e.cfg.GetRingTimeoutDuration() {
		sess.ErrorCode = "timeout"
		sess.Message = "call was not answered within the ring limit"
		sess.end(StateFailed)
		return
	}

	status, ok := e.store.GetStatus(sess.CallSID)
	if !ok {
		return
	}
	mapped, known := stateForStatus(status)
	if !known {
		e.logger.Debug("unknown carrier status ignored",
			slog.String("call_sid", sess.CallSID),
			slog.String("status", status))
		return
	}

	switch mapped {
	case StateConnected:
		// idempotent; an already streaming call stays streaming
		if sess.State != StateStreaming {
			sess.State = StateConnected
		}
	case StateNoAnswer:
		sess.ErrorCode = status
		sess.end(StateNoAnswer)
	case StateFailed:
		sess.ErrorCode = status
		sess.Message = "carrier reported " + status
		sess.end(StateFailed)
	default:
		// dialing/ringing progress; never regress an established call
		if sess.State == StateDialing || sess.State == StateRinging {
			sess.State = mapped
		}
	}
}

// stream drains buffered transcript turns into the session and feeds
// scripted assistant lines. The call moves to extraction once the carrier
// reports completion or the script runs out, whichever happens first.
func (e *Engine) stream(sess *session) {
	if sess.State != StateConnected && sess.State != StateStreaming {
		return
	}
	sess.State = StateStreaming

	sess.Transcript = append(sess.Transcript, e.store.DrainTranscript(sess.CallSID)...)

	if sess.scenarioActive && !sess.scenarioFinished {
		if e.scenarioCfg.Mode == "batch" {
			for _, line := range sess.script.RemainingAssistantLines() {
				e.feedLine(sess, line)
			}
		} else if speaker := sess.lastSpeaker(); speaker != "" && speaker != "assistant" {
			if line, ok := sess.script.NextAssistantLine(); ok {
				e.feedLine(sess, line)
			}
		}
		if sess.script.Finished() {
			sess.scenarioFinished = true
		}
	}

	if status, _ := e.store.GetStatus(sess.CallSID); status == carrier.StatusCompleted ||
		sess.scenarioFinished {
		sess.State = StateExtracting
	}
}

func (e *Engine) feedLine(sess *session, line string) {
	sess.appendTurn("assistant", line)
	if e.bridges == nil {
		return
	}
	if sender, ok := e.bridges.TextSender(sess.CallSID); ok {
		if err := sender.SendText(line); err != nil {
			e.logger.Warn("scripted line delivery failed",
				slog.String("call_sid", sess.CallSID),
				slog.String("error", err.Error()))
		}
	}
}

// extract runs once, only from the extracting state, and completes the call.
func (e *Engine) extract(sess *session) {
	if sess.State != StateExtracting {
		return
	}

	sess.Slots = extract.FromTranscript(sess.Transcript)
	if sess.Slots.PriceQuote != "" {
		e.metrics.RecordSlotExtracted("price")
	}
	if sess.Slots.CapacityConfirmed != 0 {
		e.metrics.RecordSlotExtracted("capacity")
	}
	if sess.Slots.DepartureTime != "" {
		e.metrics.RecordSlotExtracted("departure_time")
	}
	if len(sess.Slots.Notes) != 0 {
		e.metrics.RecordSlotExtracted("notes")
	}

	sess.end(StateCompleted)
}

// finalize closes out the run. Non-terminal leftovers keep their state; the
// message records why the run stopped short.
func (e *Engine) finalize(sess *session) {
	if sess.CallSID != "" {
		// turns that arrived after the last poll still belong to the result
		sess.Transcript = append(sess.Transcript, e.store.DrainTranscript(sess.CallSID)...)
	}
	if !sess.State.Terminal() {
		if sess.Message == "" {
			sess.Message = "call ended without reaching a terminal state"
		}
		if sess.EndedAt.IsZero() {
			sess.EndedAt = time.Now()
		}
	}

	e.logger.Info("call finished",
		slog.String("call_sid", sess.CallSID),
		slog.String("state", string(sess.State)),
		slog.Int("transcript_turns", len(sess.Transcript)),
		slog.Duration("duration", time.Since(sess.StartedAt)),
		slog.String("error_code", sess.ErrorCode))
}
