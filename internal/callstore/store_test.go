package callstore

import (
	"fmt"
	"sync"
	"testing"
)

func TestAppendDrainOrder(t *testing.T) {
	s := New()

	s.AppendTranscript("CA1", "shop", "여보세요")
	s.AppendTranscript("CA1", "assistant", "안녕하세요, 예약 문의드립니다")
	s.AppendTranscript("CA1", "shop", "네 말씀하세요")

	turns := s.DrainTranscript("CA1")
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	if turns[0].Speaker != "shop" || turns[1].Speaker != "assistant" {
		t.Errorf("turn order broken: %s, %s", turns[0].Speaker, turns[1].Speaker)
	}
	if turns[2].Text != "네 말씀하세요" {
		t.Errorf("unexpected last turn text: %q", turns[2].Text)
	}

	// Drain clears the buffer.
	if again := s.DrainTranscript("CA1"); again != nil {
		t.Errorf("expected empty buffer after drain, got %d turns", len(again))
	}
}

func TestDrainUnknownCall(t *testing.T) {
	s := New()
	if turns := s.DrainTranscript("CAmissing"); turns != nil {
		t.Errorf("expected nil for unknown call, got %v", turns)
	}
}

func TestAppendEmptySIDIgnored(t *testing.T) {
	s := New()
	s.AppendTranscript("", "shop", "ignored")
	if got := s.ActiveCalls(); len(got) != 0 {
		t.Errorf("expected no state for empty SID, got %v", got)
	}
}

func TestPeekDoesNotClear(t *testing.T) {
	s := New()
	s.AppendTranscript("CA1", "shop", "hello")

	if got := s.PeekTranscript("CA1"); len(got) != 1 {
		t.Fatalf("peek: expected 1 turn, got %d", len(got))
	}
	if got := s.DrainTranscript("CA1"); len(got) != 1 {
		t.Fatalf("drain after peek: expected 1 turn, got %d", len(got))
	}
}

func TestStatusLifecycle(t *testing.T) {
	s := New()

	if _, ok := s.GetStatus("CA1"); ok {
		t.Error("expected no status for unknown call")
	}
	if s.IsFinal("CA1") {
		t.Error("unknown call must not be final")
	}

	s.UpdateStatus("CA1", "ringing")
	if status, ok := s.GetStatus("CA1"); !ok || status != "ringing" {
		t.Errorf("expected ringing, got %q (ok=%v)", status, ok)
	}
	if s.IsFinal("CA1") {
		t.Error("ringing must not be final")
	}

	s.UpdateStatus("CA1", "completed")
	if !s.IsFinal("CA1") {
		t.Error("completed must be final")
	}
}

func TestFinalStatusSet(t *testing.T) {
	finals := []string{"completed", "failed", "no-answer", "canceled", "busy"}
	for _, status := range finals {
		if !IsFinalStatus(status) {
			t.Errorf("%s must be final", status)
		}
	}
	for _, status := range []string{"queued", "ringing", "in-progress", "initiated", ""} {
		if IsFinalStatus(status) {
			t.Errorf("%s must not be final", status)
		}
	}
}

func TestCleanup(t *testing.T) {
	s := New()
	s.UpdateStatus("CA1", "in-progress")
	s.AppendTranscript("CA1", "shop", "hello")

	s.Cleanup("CA1")
	if _, ok := s.GetStatus("CA1"); ok {
		t.Error("status survived cleanup")
	}
	if turns := s.DrainTranscript("CA1"); turns != nil {
		t.Error("transcript survived cleanup")
	}

	// Idempotent, and fine for unknown calls.
	s.Cleanup("CA1")
	s.Cleanup("CAother")
}

func TestConcurrentAppendAndDrain(t *testing.T) {
	s := New()
	const writers = 8
	const perWriter = 100

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.AppendTranscript("CA1", "shop", fmt.Sprintf("w%d-%d", w, i))
				// Status updates run on an independent lock.
				s.UpdateStatus("CA1", "in-progress")
			}
		}(w)
	}
	wg.Wait()

	total := 0
	for {
		turns := s.DrainTranscript("CA1")
		if turns == nil {
			break
		}
		total += len(turns)
	}
	if total != writers*perWriter {
		t.Errorf("expected %d turns total, got %d", writers*perWriter, total)
	}
}
