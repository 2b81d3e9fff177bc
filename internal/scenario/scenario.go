// Package scenario loads scripted call content for test runs. A scenario
// file replaces the live AI conversation with predetermined assistant lines
// so call flows can be exercised without a speech backend.
package scenario

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Step is one scripted utterance.
type Step struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// scriptFile covers both accepted on-disk shapes: a steps list with roles,
// or a bare list of assistant lines.
type scriptFile struct {
	Steps          []Step   `json:"steps"`
	AssistantLines []string `json:"assistant_lines"`
}

// Script is an in-memory cursor over a loaded scenario. The zero value is an
// empty, already-finished script.
type Script struct {
	steps  []Step
	cursor int
}

// Load reads <dir>/<id>.json. Any problem (missing directory or file,
// unparseable JSON, unrecognized shape) yields an empty script, never an
// error: a broken script must not take the call flow down with it.
func Load(dir, id string, logger *slog.Logger) *Script {
	if dir == "" || id == "" {
		return &Script{}
	}

	path := filepath.Join(dir, id+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("scenario file unavailable",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return &Script{}
	}

	var file scriptFile
	if err := json.Unmarshal(data, &file); err != nil {
		logger.Error("scenario file unparseable",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return &Script{}
	}

	steps := normalize(file)
	logger.Debug("scenario loaded",
		slog.String("id", id),
		slog.Int("steps", len(steps)))
	return &Script{steps: steps}
}

// FromSteps builds a script directly, for tests and programmatic injection.
func FromSteps(steps []Step) *Script {
	return &Script{steps: normalize(scriptFile{Steps: steps})}
}

func normalize(file scriptFile) []Step {
	var steps []Step
	for _, s := range file.Steps {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		if s.Role == "" {
			s.Role = "assistant"
		}
		steps = append(steps, s)
	}
	if len(steps) > 0 {
		return steps
	}

	for _, line := range file.AssistantLines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		steps = append(steps, Step{Role: "assistant", Text: line})
	}
	return steps
}

// Len returns the number of scripted steps.
func (s *Script) Len() int {
	return len(s.steps)
}

// NextAssistantLine advances the cursor to the next assistant step and
// returns its text. Non-assistant steps are skipped. Returns false when the
// script has no assistant lines left. The cursor never rewinds.
func (s *Script) NextAssistantLine() (string, bool) {
	for s.cursor < len(s.steps) {
		step := s.steps[s.cursor]
		s.cursor++
		if step.Role == "assistant" {
			return step.Text, true
		}
	}
	return "", false
}

// RemainingAssistantLines drains every assistant line left in the script,
// in order. Used by batch-mode injection.
func (s *Script) RemainingAssistantLines() []string {
	var lines []string
	for {
		line, ok := s.NextAssistantLine()
		if !ok {
			return lines
		}
		lines = append(lines, line)
	}
}

// Finished reports whether the cursor has passed the last step.
func (s *Script) Finished() bool {
	return s.cursor >= len(s.steps)
}
