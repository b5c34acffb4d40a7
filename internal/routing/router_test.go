package routing

import (
	"testing"

	"github.com/pelangihq/intentd/internal/config"
	"github.com/pelangihq/intentd/pkg/models"
)

func newRouter(rules ...models.RoutingRule) *Router {
	return New(config.NewDomainConfig(config.DomainFile{Routing: rules}))
}

func TestRouteFirstMatchingRuleWins(t *testing.T) {
	r := newRouter(
		models.RoutingRule{Intent: "checkin", Action: "send_checkin_guide"},
		models.RoutingRule{Intent: "checkin", Action: "never_reached"},
	)

	d := r.Route(Env{Intent: "checkin", Confidence: 0.9})
	if !d.Matched || d.Action != "send_checkin_guide" {
		t.Errorf("got %+v, want first rule's action", d)
	}
}

func TestRouteNoRuleForIntent(t *testing.T) {
	r := newRouter(models.RoutingRule{Intent: "wifi", Action: "send_wifi"})

	d := r.Route(Env{Intent: "checkout"})
	if d.Matched || d.Action != "" {
		t.Errorf("got %+v, want unmatched decision", d)
	}
}

func TestRouteGuardConditions(t *testing.T) {
	r := newRouter(
		models.RoutingRule{Intent: "complaint", Action: "escalate_to_staff", Condition: "repeats >= 2"},
		models.RoutingRule{Intent: "complaint", Action: "apologize"},
	)

	d := r.Route(Env{Intent: "complaint", Repeats: 0})
	if d.Action != "apologize" {
		t.Errorf("repeats=0: got %q, want apologize", d.Action)
	}

	d = r.Route(Env{Intent: "complaint", Repeats: 2})
	if d.Action != "escalate_to_staff" {
		t.Errorf("repeats=2: got %q, want escalate_to_staff", d.Action)
	}
}

func TestRouteGuardOnSlotsAndLang(t *testing.T) {
	r := newRouter(
		models.RoutingRule{Intent: "booking", Action: "confirm_ms", Condition: `lang == "ms" && slots["room"] != ""`},
		models.RoutingRule{Intent: "booking", Action: "ask_details"},
	)

	d := r.Route(Env{Intent: "booking", Lang: "ms", Slots: map[string]string{"room": "A2"}})
	if d.Action != "confirm_ms" {
		t.Errorf("got %q, want confirm_ms", d.Action)
	}

	d = r.Route(Env{Intent: "booking", Lang: "en", Slots: map[string]string{"room": "A2"}})
	if d.Action != "ask_details" {
		t.Errorf("got %q, want ask_details", d.Action)
	}
}

func TestRouteBrokenGuardSkipsRule(t *testing.T) {
	r := newRouter(
		models.RoutingRule{Intent: "wifi", Action: "broken", Condition: "not valid ((("},
		models.RoutingRule{Intent: "wifi", Action: "send_wifi"},
	)

	d := r.Route(Env{Intent: "wifi"})
	if d.Action != "send_wifi" {
		t.Errorf("got %q, want fallthrough past broken guard", d.Action)
	}
}

func TestRouteGuardCacheSurvivesRepeatedCalls(t *testing.T) {
	r := newRouter(
		models.RoutingRule{Intent: "checkout", Action: "late_checkout", Condition: "confidence > 0.8"},
	)

	for i := 0; i < 3; i++ {
		d := r.Route(Env{Intent: "checkout", Confidence: 0.95})
		if d.Action != "late_checkout" {
			t.Fatalf("call %d: got %q", i, d.Action)
		}
	}
	r.mu.Lock()
	n := len(r.programs)
	r.mu.Unlock()
	if n != 1 {
		t.Errorf("expected 1 cached program, got %d", n)
	}
}
