package engine

import "testing"

func TestParseVerdictWellFormed(t *testing.T) {
	v := ParseVerdict(`{"intent": "wifi", "confidence": 0.92, "entities": {"room": "A2"}, "reply": "The password is at the desk."}`)
	if v.Kind != VerdictIntent {
		t.Fatalf("kind = %v", v.Kind)
	}
	if v.Intent != "wifi" || v.Confidence != 0.92 {
		t.Errorf("got %+v", v)
	}
	if v.Entities["room"] != "A2" {
		t.Errorf("entities = %v", v.Entities)
	}
	if v.Reply != "The password is at the desk." {
		t.Errorf("reply = %q", v.Reply)
	}
}

func TestParseVerdictMarkdownFenced(t *testing.T) {
	v := ParseVerdict("```json\n{\"intent\": \"thanks\", \"confidence\": 0.8}\n```")
	if v.Kind != VerdictIntent || v.Intent != "thanks" {
		t.Errorf("got %+v", v)
	}
}

func TestParseVerdictSurroundedByProse(t *testing.T) {
	v := ParseVerdict(`Sure! Here is the classification: {"intent": "checkin", "confidence": 0.75} Hope that helps.`)
	if v.Kind != VerdictIntent || v.Intent != "checkin" {
		t.Errorf("got %+v", v)
	}
}

func TestParseVerdictNestedBracesInStrings(t *testing.T) {
	v := ParseVerdict(`{"intent": "pricing", "confidence": 1, "reply": "rates: {weekday: 80}"}`)
	if v.Kind != VerdictIntent || v.Reply != "rates: {weekday: 80}" {
		t.Errorf("got %+v", v)
	}
}

func TestParseVerdictClampsConfidence(t *testing.T) {
	if v := ParseVerdict(`{"intent": "wifi", "confidence": 3.5}`); v.Confidence != 1 {
		t.Errorf("high: got %v", v.Confidence)
	}
	if v := ParseVerdict(`{"intent": "wifi", "confidence": -1}`); v.Confidence != 0 {
		t.Errorf("low: got %v", v.Confidence)
	}
}

func TestParseVerdictNormalizesIntent(t *testing.T) {
	v := ParseVerdict(`{"intent": "  WiFi  ", "confidence": 0.9}`)
	if v.Intent != "wifi" {
		t.Errorf("got %q", v.Intent)
	}
}

func TestParseVerdictUnparseable(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"free prose", "The guest is probably asking about wifi."},
		{"empty", ""},
		{"broken json", `{"intent": "wifi",`},
		{"missing intent", `{"confidence": 0.9, "reply": "hello"}`},
		{"blank intent", `{"intent": "  ", "confidence": 0.9}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := ParseVerdict(tc.raw)
			if v.Kind != VerdictUnparseable {
				t.Errorf("kind = %v, want unparseable", v.Kind)
			}
			if v.Raw != tc.raw {
				t.Errorf("raw not preserved: %q", v.Raw)
			}
		})
	}
}
