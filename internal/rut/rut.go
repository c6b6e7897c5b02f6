// Package rut validates and canonicalizes Chilean national identifiers (RUT/RUN).
package rut

import (
	"errors"
	"strings"
)

// ErrInvalidBody is returned when a RUT body is empty or contains non-digits.
var ErrInvalidBody = errors.New("rut body must be numeric")

const (
	minLength = 8
	maxLength = 9
)

// Clean keeps only digits and the K check character, upper-cased.
func Clean(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'k' || r == 'K':
			b.WriteRune('K')
		}
	}
	return b.String()
}

// CheckDigit computes the modulo-11 check character for a numeric body.
func CheckDigit(body string) (string, error) {
	if body == "" {
		return "", ErrInvalidBody
	}
	sum := 0
	weight := 2
	for i := len(body) - 1; i >= 0; i-- {
		c := body[i]
		if c < '0' || c > '9' {
			return "", ErrInvalidBody
		}
		sum += int(c-'0') * weight
		weight++
		if weight > 7 {
			weight = 2
		}
	}

	switch r := sum % 11; r {
	case 0:
		return "0", nil
	case 1:
		return "K", nil
	default:
		return string(rune('0' + 11 - r)), nil
	}
}

// Validate reports whether candidate is a well-formed RUT whose check
// character matches its body. Separators and case are ignored.
func Validate(candidate string) bool {
	clean := Clean(candidate)
	if len(clean) < minLength || len(clean) > maxLength {
		return false
	}
	body, dv := clean[:len(clean)-1], clean[len(clean)-1:]
	expected, err := CheckDigit(body)
	if err != nil {
		return false
	}
	return expected == dv
}

// Canonicalize returns the storage form "body-check". Values shorter than
// two characters after cleaning are returned cleaned but otherwise unchanged.
// Canonicalize(Canonicalize(x)) == Canonicalize(x).
func Canonicalize(raw string) string {
	clean := Clean(raw)
	if len(clean) < 2 {
		return clean
	}
	return clean[:len(clean)-1] + "-" + clean[len(clean)-1:]
}

// Format returns the dotted display form, e.g. "12.345.678-5".
func Format(raw string) string {
	clean := Clean(raw)
	if len(clean) < 2 {
		return clean
	}
	body, dv := clean[:len(clean)-1], clean[len(clean)-1:]

	var b strings.Builder
	lead := len(body) % 3
	if lead > 0 {
		b.WriteString(body[:lead])
	}
	for i := lead; i < len(body); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(body[i : i+3])
	}
	b.WriteByte('-')
	b.WriteString(dv)
	return b.String()
}
