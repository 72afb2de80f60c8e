package types

import "strings"

// PhoneValue is the canonical representation of a phone number. It is
// constructed once at the system boundary where a service response is parsed;
// everything downstream compares and caches on the Canonical form only.
type PhoneValue struct {
	Formatted string `json:"formatted"`
	Canonical string `json:"canonical"`
}

// NewPhoneValue builds a PhoneValue from a single raw string.
func NewPhoneValue(raw string) PhoneValue {
	return PhoneValue{
		Formatted: strings.TrimSpace(raw),
		Canonical: CanonicalPhone(raw),
	}
}

// PhonePair builds a PhoneValue from a (formatted, cleaned) pair as returned
// by the lookup service. The cleaned element wins; an empty cleaned element
// falls back to the formatted one.
func PhonePair(formatted, cleaned string) PhoneValue {
	src := cleaned
	if strings.TrimSpace(src) == "" {
		src = formatted
	}
	return PhoneValue{
		Formatted: strings.TrimSpace(formatted),
		Canonical: CanonicalPhone(src),
	}
}

// IsZero reports whether the value carries no usable number.
func (p PhoneValue) IsZero() bool {
	return p.Canonical == ""
}

// CanonicalPhone normalizes a raw phone string to its 10-digit comparison
// form: digits only, with a single leading "1" stripped from 11-digit input.
func CanonicalPhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits
}
