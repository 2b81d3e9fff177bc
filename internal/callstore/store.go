package callstore

import (
	"sync"
	"time"
)

// Turn is a single transcript utterance attributed to one side of the call.
type Turn struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	TS      time.Time `json:"ts"`
}

// finalStatuses are carrier status tokens after which a call can no longer
// change state.
var finalStatuses = map[string]bool{
	"completed": true,
	"failed":    true,
	"no-answer": true,
	"canceled":  true,
	"busy":      true,
}

// Store buffers transcript turns and tracks the last reported carrier status
// for each call. The zero-value semantics are deliberate: querying an unknown
// call SID returns empty results, never an error.
type Store struct {
	statusMu sync.Mutex
	statuses map[string]string

	transcriptMu sync.Mutex
	transcripts  map[string][]Turn
}

// New creates an empty store.
func New() *Store {
	return &Store{
		statuses:    make(map[string]string),
		transcripts: make(map[string][]Turn),
	}
}

// AppendTranscript buffers one turn for the call. Turns are kept in arrival
// order until drained.
func (s *Store) AppendTranscript(callSID, speaker, text string) {
	if callSID == "" {
		return
	}

	s.transcriptMu.Lock()
	defer s.transcriptMu.Unlock()

	s.transcripts[callSID] = append(s.transcripts[callSID], Turn{
		Speaker: speaker,
		Text:    text,
		TS:      time.Now(),
	})
}

// DrainTranscript returns all buffered turns for the call in order and
// clears the buffer. Draining an unknown call returns nil.
func (s *Store) DrainTranscript(callSID string) []Turn {
	s.transcriptMu.Lock()
	defer s.transcriptMu.Unlock()

	turns := s.transcripts[callSID]
	if len(turns) == 0 {
		return nil
	}
	delete(s.transcripts, callSID)
	return turns
}

// PeekTranscript returns a copy of the buffered turns without clearing them.
func (s *Store) PeekTranscript(callSID string) []Turn {
	s.transcriptMu.Lock()
	defer s.transcriptMu.Unlock()

	turns := s.transcripts[callSID]
	if len(turns) == 0 {
		return nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// UpdateStatus records the latest carrier status token for the call.
func (s *Store) UpdateStatus(callSID, status string) {
	if callSID == "" || status == "" {
		return
	}

	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.statuses[callSID] = status
}

// GetStatus returns the last recorded status for the call and whether one
// exists.
func (s *Store) GetStatus(callSID string) (string, bool) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	status, ok := s.statuses[callSID]
	return status, ok
}

// IsFinal reports whether the call's last status is terminal. Unknown calls
// are not final.
func (s *Store) IsFinal(callSID string) bool {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	return finalStatuses[s.statuses[callSID]]
}

// IsFinalStatus reports whether a status token is terminal.
func IsFinalStatus(status string) bool {
	return finalStatuses[status]
}

// Cleanup removes all state for the call. Safe to call for unknown SIDs and
// safe to call more than once.
func (s *Store) Cleanup(callSID string) {
	s.statusMu.Lock()
	delete(s.statuses, callSID)
	s.statusMu.Unlock()

	s.transcriptMu.Lock()
	delete(s.transcripts, callSID)
	s.transcriptMu.Unlock()
}

// ActiveCalls returns the SIDs with a recorded status, for monitoring.
func (s *Store) ActiveCalls() []string {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	out := make([]string, 0, len(s.statuses))
	for sid := range s.statuses {
		out = append(out, sid)
	}
	return out
}
