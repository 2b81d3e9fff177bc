// Package phone validates and normalizes dial targets to E.164 before they
// reach the carrier API.
package phone

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidNumber indicates a dial target that cannot be normalized into a
// supported E.164 number.
var ErrInvalidNumber = errors.New("invalid phone number")

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// country holds the per-country dialing plan checks for the regions the
// service places calls to.
type country struct {
	name    string
	pattern *regexp.Regexp
	example string
}

var countries = map[string]country{
	"1": {
		name:    "US/Canada",
		pattern: regexp.MustCompile(`^\+1[2-9]\d{2}[2-9]\d{6}$`),
		example: "+12345551234",
	},
	"82": {
		name:    "South Korea",
		pattern: regexp.MustCompile(`^\+82(10|11|16|17|18|19)\d{7,8}$`),
		example: "+821012345678",
	},
	"81": {
		name:    "Japan",
		pattern: regexp.MustCompile(`^\+81[789]0\d{8}$`),
		example: "+819012345678",
	},
}

var separators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

// Normalize strips separators and prefixes the country code where it can be
// inferred: Korean mobile numbers starting 010, 10/11-digit NANP numbers.
func Normalize(raw string) string {
	cleaned := separators.Replace(raw)
	if cleaned == "" || strings.HasPrefix(cleaned, "+") {
		return cleaned
	}

	switch {
	case strings.HasPrefix(cleaned, "010"):
		return "+82" + cleaned[1:]
	case len(cleaned) == 11 && strings.HasPrefix(cleaned, "1"):
		return "+" + cleaned
	case len(cleaned) == 10:
		return "+1" + cleaned
	default:
		return "+" + cleaned
	}
}

// Validate normalizes the number and checks it against E.164 and the dialing
// plan of its country. It returns the normalized number on success.
func Validate(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("empty number: %w", ErrInvalidNumber)
	}

	normalized := Normalize(raw)
	if !e164Pattern.MatchString(normalized) {
		return "", fmt.Errorf("%q is not E.164: %w", normalized, ErrInvalidNumber)
	}

	code := countryCode(normalized)
	if code == "" {
		return "", fmt.Errorf("unsupported country for %q: %w", normalized, ErrInvalidNumber)
	}

	c := countries[code]
	if !c.pattern.MatchString(normalized) {
		return "", fmt.Errorf("%q does not match the %s plan (example %s): %w",
			normalized, c.name, c.example, ErrInvalidNumber)
	}

	return normalized, nil
}

func countryCode(phone string) string {
	for _, length := range []int{1, 2, 3} {
		if len(phone) > 1+length {
			if code := phone[1 : 1+length]; countries[code].pattern != nil {
				return code
			}
		}
	}
	return ""
}
