package phone

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{"korean mobile with hyphens", "010-1234-5678", "+821012345678"},
		{"korean mobile bare", "01012345678", "+821012345678"},
		{"already e164", "+821012345678", "+821012345678"},
		{"nanp 10 digit", "2345551234", "+12345551234"},
		{"nanp 11 digit", "12345551234", "+12345551234"},
		{"with spaces and parens", "(234) 555-1234", "+12345551234"},
		{"unknown prefix gets plus", "4915112345678", "+4915112345678"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.expected {
				t.Errorf("Normalize(%q) = %q, expected %q", tt.in, got, tt.expected)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		normalized string
		wantErr    bool
	}{
		{"valid korean mobile", "010-1234-5678", "+821012345678", false},
		{"valid us number", "+12345551234", "+12345551234", false},
		{"valid japanese mobile", "+819012345678", "+819012345678", false},
		{"empty", "", "", true},
		{"not a number", "abc", "", true},
		{"unsupported country", "+4915112345678", "", true},
		{"korean landline shape rejected", "+8221234567", "", true},
		{"us number with zero area code", "+10345551234", "", true},
		{"too short", "+82", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidNumber) {
					t.Fatalf("expected ErrInvalidNumber, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.normalized {
				t.Errorf("Validate(%q) = %q, expected %q", tt.in, got, tt.normalized)
			}
		})
	}
}
