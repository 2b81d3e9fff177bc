// Package extract scans call transcripts for structured booking facts:
// a quoted price, confirmed party size, departure time, and free-text
// weather or tide remarks.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sjin4861/deepcatch-agent/internal/callstore"
)

// recentWindow bounds how many trailing turns are scanned. Slots favor the
// most recent mention, so older turns add cost without adding signal.
const recentWindow = 12

// maxNotes caps the free-text condition sentences carried in the result.
const maxNotes = 2

var (
	pricePattern = regexp.MustCompile(`(\d{1,3}(?:,\d{3})+|\d+(?:\.\d+)?)\s*(?:만\s*원|만원|원|krw|KRW)`)

	capacityPattern = regexp.MustCompile(`(\d{1,2})\s*(?:명|인|people)`)

	clockPattern = regexp.MustCompile(`((?:오전|오후)?\s*\d{1,2}\s*시(?:\s*\d{1,2}\s*분)?|\d{1,2}:[0-5]\d)`)

	departureKeywords = []string{"출발", "출항", "집결", "departure"}
	notesKeywords     = []string{"날씨", "물때", "바람", "파도", "weather", "tide"}

	sentenceSplit = regexp.MustCompile(`[.!?。\n]+`)
)

// Slots holds the facts recovered from a transcript. Empty fields mean the
// fact was never mentioned; that is a normal outcome, not an error.
type Slots struct {
	PriceQuote        string   `json:"price_quote,omitempty"`
	CapacityConfirmed int      `json:"capacity_confirmed,omitempty"`
	DepartureTime     string   `json:"departure_time,omitempty"`
	Notes             []string `json:"notes,omitempty"`
}

// Empty reports whether no slot was filled.
func (s Slots) Empty() bool {
	return s.PriceQuote == "" && s.CapacityConfirmed == 0 &&
		s.DepartureTime == "" && len(s.Notes) == 0
}

// Merge overlays other onto s field-by-field: a filled field in other wins,
// an empty one never clears what s already has.
func (s Slots) Merge(other Slots) Slots {
	if other.PriceQuote != "" {
		s.PriceQuote = other.PriceQuote
	}
	if other.CapacityConfirmed != 0 {
		s.CapacityConfirmed = other.CapacityConfirmed
	}
	if other.DepartureTime != "" {
		s.DepartureTime = other.DepartureTime
	}
	if len(other.Notes) != 0 {
		s.Notes = other.Notes
	}
	return s
}

// FromTranscript scans the trailing turns of a transcript, oldest first so a
// later mention overwrites an earlier one.
func FromTranscript(turns []callstore.Turn) Slots {
	if len(turns) > recentWindow {
		turns = turns[len(turns)-recentWindow:]
	}

	var slots Slots
	for _, turn := range turns {
		slots = slots.Merge(fromText(turn.Text))
	}
	return slots
}

func fromText(text string) Slots {
	var slots Slots

	if m := pricePattern.FindStringSubmatch(text); m != nil {
		slots.PriceQuote = strings.Join(strings.Fields(m[0]), "")
	}

	if m := capacityPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= 99 {
			slots.CapacityConfirmed = n
		}
	}

	if hasKeyword(text, departureKeywords) {
		if m := clockPattern.FindStringSubmatch(text); m != nil {
			slots.DepartureTime = strings.TrimSpace(m[1])
		}
	}

	for _, sentence := range sentenceSplit.Split(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" || !hasKeyword(sentence, notesKeywords) {
			continue
		}
		slots.Notes = append(slots.Notes, sentence)
		if len(slots.Notes) == maxNotes {
			break
		}
	}

	return slots
}

func hasKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
