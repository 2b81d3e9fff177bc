package scenario

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func writeScenario(t *testing.T, dir, id, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, id+".json"), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write scenario file: %v", err)
	}
}

func TestLoadStepsShape(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "reservation", `{
		"id": "reservation",
		"steps": [
			{"role": "assistant", "text": "안녕하세요, 내일 예약 가능한가요?"},
			{"role": "user", "text": "네 가능합니다"},
			{"role": "assistant", "text": "4명입니다"},
			{"role": "user", "text": ""}
		]
	}`)

	s := Load(dir, "reservation", testLogger())
	if s.Len() != 3 {
		t.Fatalf("expected 3 steps after dropping empty text, got %d", s.Len())
	}

	line, ok := s.NextAssistantLine()
	if !ok || line != "안녕하세요, 내일 예약 가능한가요?" {
		t.Errorf("first assistant line wrong: %q (ok=%v)", line, ok)
	}

	// Skips the user step.
	line, ok = s.NextAssistantLine()
	if !ok || line != "4명입니다" {
		t.Errorf("second assistant line wrong: %q (ok=%v)", line, ok)
	}

	if !s.Finished() {
		t.Error("expected finished after consuming all steps")
	}
	if _, ok := s.NextAssistantLine(); ok {
		t.Error("expected no lines after finish")
	}
}

func TestLoadAssistantLinesShape(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "quick", `{
		"assistant_lines": ["첫 번째", "  ", "두 번째"]
	}`)

	s := Load(dir, "quick", testLogger())
	if s.Len() != 2 {
		t.Fatalf("expected 2 lines, got %d", s.Len())
	}
	if lines := s.RemainingAssistantLines(); len(lines) != 2 || lines[1] != "두 번째" {
		t.Errorf("unexpected lines: %v", lines)
	}
}

func TestLoadDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken", `{not json`)
	writeScenario(t, dir, "wrongshape", `{"dialog": ["hi"]}`)

	tests := []struct {
		name    string
		dir, id string
	}{
		{"missing file", dir, "nope"},
		{"missing dir", filepath.Join(dir, "absent"), "x"},
		{"malformed json", dir, "broken"},
		{"unrecognized shape", dir, "wrongshape"},
		{"empty id", dir, ""},
		{"empty dir", "", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Load(tt.dir, tt.id, testLogger())
			if s.Len() != 0 {
				t.Errorf("expected empty script, got %d steps", s.Len())
			}
			if !s.Finished() {
				t.Error("empty script must report finished")
			}
			if _, ok := s.NextAssistantLine(); ok {
				t.Error("empty script must yield no lines")
			}
		})
	}
}

func TestCursorMonotonic(t *testing.T) {
	s := FromSteps([]Step{
		{Role: "assistant", Text: "a"},
		{Role: "assistant", Text: "b"},
	})

	first, _ := s.NextAssistantLine()
	second, _ := s.NextAssistantLine()
	if first != "a" || second != "b" {
		t.Errorf("cursor order broken: %q, %q", first, second)
	}
	if _, ok := s.NextAssistantLine(); ok {
		t.Error("cursor must not rewind")
	}
}

func TestUserOnlyScriptFinishes(t *testing.T) {
	s := FromSteps([]Step{
		{Role: "user", Text: "여보세요"},
	})

	if _, ok := s.NextAssistantLine(); ok {
		t.Error("expected no assistant line in user-only script")
	}
	if !s.Finished() {
		t.Error("scanning past user steps must finish the script")
	}
}
