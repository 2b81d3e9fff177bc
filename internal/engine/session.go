package engine

import (
	"time"

	"github.com/sjin4861/deepcatch-agent/internal/callstore"
	"github.com/sjin4861/deepcatch-agent/internal/extract"
	"github.com/sjin4861/deepcatch-agent/internal/scenario"
)

// CallRequest describes the call the external planner wants placed.
type CallRequest struct {
	ShopName   string `json:"shop_name"`
	Phone      string `json:"phone"`
	ScenarioID string `json:"scenario_id,omitempty"`
}

// session is the per-call working state, owned exclusively by one Run
// invocation for its whole lifetime.
type session struct {
	CallSID    string
	ShopName   string
	Phone      string
	State      CallState
	Transcript []callstore.Turn
	Slots      extract.Slots
	StartedAt  time.Time
	EndedAt    time.Time
	ErrorCode  string
	Message    string

	script           *scenario.Script
	scenarioActive   bool
	scenarioFinished bool
}

// Result is the structured outcome handed back to the caller. Every Run
// produces one, no matter how the call went.
type Result struct {
	CallSID    string           `json:"call_sid"`
	State      CallState        `json:"state"`
	ShopName   string           `json:"shop_name"`
	Phone      string           `json:"phone"`
	Transcript []callstore.Turn `json:"transcript"`
	Slots      extract.Slots    `json:"slots"`
	StartedAt  time.Time        `json:"started_at"`
	EndedAt    time.Time        `json:"ended_at,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Message    string           `json:"message,omitempty"`
}

func newCallSession(req CallRequest) *session {
	return &session{
		ShopName:  req.ShopName,
		Phone:     req.Phone,
		State:     StatePending,
		StartedAt: time.Now(),
	}
}

func (s *session) end(state CallState) {
	s.State = state
	if s.EndedAt.IsZero() {
		s.EndedAt = time.Now()
	}
}

func (s *session) appendTurn(speaker, text string) {
	s.Transcript = append(s.Transcript, callstore.Turn{
		Speaker: speaker,
		Text:    text,
		TS:      time.Now(),
	})
}

// lastSpeaker returns the speaker of the newest transcript turn, empty when
// no turns exist yet.
func (s *session) lastSpeaker() string {
	if len(s.Transcript) == 0 {
		return ""
	}
	return s.Transcript[len(s.Transcript)-1].Speaker
}

func (s *session) result() Result {
	return Result{
		CallSID:    s.CallSID,
		State:      s.State,
		ShopName:   s.ShopName,
		Phone:      s.Phone,
		Transcript: s.Transcript,
		Slots:      s.Slots,
		StartedAt:  s.StartedAt,
		EndedAt:    s.EndedAt,
		ErrorCode:  s.ErrorCode,
		Message:    s.Message,
	}
}
