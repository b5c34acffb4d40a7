package engine

import (
	"encoding/json"
	"strings"
)

// VerdictKind tags what a generative backend's output turned out to be.
type VerdictKind int

const (
	// VerdictIntent is a well-formed classification verdict.
	VerdictIntent VerdictKind = iota
	// VerdictUnparseable carries raw text that could not be decoded; the
	// caller treats it as a low-confidence free-form reply instead of
	// discarding it.
	VerdictUnparseable
)

// Verdict is the strictly-typed result of parsing a generative backend's
// structured classification output.
type Verdict struct {
	Kind       VerdictKind
	Intent     string
	Confidence float64
	Entities   map[string]string
	Reply      string
	// Raw holds the original backend text for the unparseable variant.
	Raw string
}

type verdictWire struct {
	Intent     string            `json:"intent"`
	Confidence *float64          `json:"confidence"`
	Entities   map[string]string `json:"entities"`
	Reply      string            `json:"reply"`
}

// ParseVerdict decodes a backend's structured output defensively. The text
// may be wrapped in markdown fences or surrounded by prose; the first
// top-level JSON object found is decoded. Anything without a usable intent
// field becomes the unparseable variant carrying the raw text.
func ParseVerdict(raw string) Verdict {
	body := extractJSONObject(raw)
	if body == "" {
		return Verdict{Kind: VerdictUnparseable, Raw: raw}
	}

	var wire verdictWire
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return Verdict{Kind: VerdictUnparseable, Raw: raw}
	}
	if strings.TrimSpace(wire.Intent) == "" {
		return Verdict{Kind: VerdictUnparseable, Raw: raw}
	}

	confidence := 0.0
	if wire.Confidence != nil {
		confidence = *wire.Confidence
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Verdict{
		Kind:       VerdictIntent,
		Intent:     strings.ToLower(strings.TrimSpace(wire.Intent)),
		Confidence: confidence,
		Entities:   wire.Entities,
		Reply:      strings.TrimSpace(wire.Reply),
	}
}

// extractJSONObject returns the first balanced top-level JSON object in s,
// stripping markdown code fences along the way.
func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
