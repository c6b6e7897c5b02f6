// Package qrpayload extracts an employee RUT from the text encoded in a QR code.
//
// Payloads come from national ID cards (registry URLs), badges printed by
// the attendance app (JSON) and hand-made codes (free text). Extraction runs
// an ordered list of strategies and stops at the first plausible candidate.
package qrpayload

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/kozaktomas/rh360-attendance/internal/rut"
)

// ErrNoIdentity is returned when no strategy yields a plausible RUT.
var ErrNoIdentity = errors.New("no identity found in QR payload")

// Result is the outcome of a successful extraction.
type Result struct {
	RUT      string // canonical form
	Strategy string // name of the strategy that produced it
	Valid    bool   // checksum verified
}

// Strategy turns raw payload text into a candidate RUT.
type Strategy struct {
	Name string
	Find func(payload string) (string, bool)
}

var (
	dashedPattern = regexp.MustCompile(`\d{7,8}-?[0-9kK]`)
	loosePattern  = regexp.MustCompile(`\d{7,8}[0-9kK]`)
	identityChars = regexp.MustCompile(`[^0-9kK\-]`)
)

// DefaultStrategies is the extraction order used by Extract.
var DefaultStrategies = []Strategy{
	{Name: "pattern", Find: findDashedPattern},
	{Name: "json", Find: findJSONField},
	{Name: "stripped", Find: findStripped},
	{Name: "loose", Find: findLoosePattern},
}

func findDashedPattern(payload string) (string, bool) {
	m := dashedPattern.FindString(payload)
	return m, m != ""
}

func findJSONField(payload string) (string, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &obj); err != nil {
		return "", false
	}
	for _, field := range []string{"rut", "run"} {
		for key, val := range obj {
			if !strings.EqualFold(key, field) {
				continue
			}
			switch v := val.(type) {
			case string:
				if v != "" {
					return v, true
				}
			case float64:
				return strconv.FormatFloat(v, 'f', -1, 64), true
			}
		}
	}
	return "", false
}

func findStripped(payload string) (string, bool) {
	s := identityChars.ReplaceAllString(payload, "")
	return s, len(s) >= 8
}

func findLoosePattern(payload string) (string, bool) {
	m := loosePattern.FindString(payload)
	return m, m != ""
}

// plausible reports whether a candidate has the shape of a RUT.
func plausible(candidate string) bool {
	n := len(rut.Clean(candidate))
	return n >= 8 && n <= 9
}

// Extract runs DefaultStrategies against payload.
func Extract(payload string) (*Result, error) {
	return ExtractWith(payload, DefaultStrategies)
}

// ExtractWith runs the given strategies in order and returns the first
// plausible candidate. A candidate with a bad checksum is still returned,
// with Valid set to false.
func ExtractWith(payload string, strategies []Strategy) (*Result, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, ErrNoIdentity
	}
	for _, s := range strategies {
		candidate, ok := s.Find(payload)
		if !ok || !plausible(candidate) {
			continue
		}
		return &Result{
			RUT:      rut.Canonicalize(candidate),
			Strategy: s.Name,
			Valid:    rut.Validate(candidate),
		}, nil
	}
	return nil, ErrNoIdentity
}
