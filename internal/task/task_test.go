package task

import (
	"strings"
	"testing"
)

func TestApplyEventTransitions(t *testing.T) {
	cases := []struct {
		event Event
		want  Status
	}{
		{EventPlan, StatusInProgress},
		{EventExecute, StatusInProgress},
		{EventCritique, StatusInProgress},
		{EventAwaitingTool, StatusInProgress},
		{EventComplete, StatusCompleted},
		{EventFail, StatusFailed},
		{EventReject, StatusFailed},
		{EventEscalate, StatusEscalated},
		{EventCancel, StatusCancelled},
	}
	for _, tc := range cases {
		env := NewEnvelope("tester", Core{Name: "t", RequiredCapabilities: []string{"x"}})
		if err := env.ApplyEvent(tc.event, "tester"); err != nil {
			t.Fatalf("apply %s: %v", tc.event, err)
		}
		if env.Header.Status != tc.want {
			t.Fatalf("event %s: status=%s want=%s", tc.event, env.Header.Status, tc.want)
		}
		if env.Header.LastEvent != tc.event {
			t.Fatalf("event %s: last_event=%s", tc.event, env.Header.LastEvent)
		}
	}
}

func TestApplyEventAppendsHistory(t *testing.T) {
	env := NewEnvelope("tester", Core{Name: "t", RequiredCapabilities: []string{"x"}})
	for _, ev := range []Event{EventPlan, EventExecute, EventComplete} {
		if err := env.ApplyEvent(ev, "agent-1"); err != nil {
			t.Fatalf("apply %s: %v", ev, err)
		}
	}
	if len(env.Header.History) != 3 {
		t.Fatalf("history length=%d want=3", len(env.Header.History))
	}
	if env.Header.History[0].Event != EventPlan || env.Header.History[2].Event != EventComplete {
		t.Fatalf("history order wrong: %+v", env.Header.History)
	}
	if env.Header.History[1].Actor != "agent-1" {
		t.Fatalf("actor=%s want=agent-1", env.Header.History[1].Actor)
	}
}

func TestApplyEventRejectsFinalState(t *testing.T) {
	env := NewEnvelope("tester", Core{Name: "t", RequiredCapabilities: []string{"x"}})
	if err := env.ApplyEvent(EventComplete, "tester"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := env.ApplyEvent(EventExecute, "tester"); err == nil {
		t.Fatalf("expected error applying event to final envelope")
	}
	if len(env.Header.History) != 1 {
		t.Fatalf("history must not grow after rejected transition")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env := NewEnvelope("planner", Core{
		Name:                 "summarize report",
		Description:          "summarize the quarterly report",
		Category:             "nlp",
		RequiredCapabilities: []string{"text_summarization"},
		Parallelizable:       true,
		EstimatedDuration:    12.5,
		Payload:              map[string]any{"source": "q3.pdf"},
	})
	raw, err := Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Task.ID != env.Task.ID {
		t.Fatalf("task id=%s want=%s", got.Task.ID, env.Task.ID)
	}
	if got.Header.ConversationID != env.Header.ConversationID {
		t.Fatalf("conversation id mismatch")
	}
	if got.Task.EstimatedDuration != 12.5 {
		t.Fatalf("estimated_duration=%v", got.Task.EstimatedDuration)
	}
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":       "{nope",
		"missing task":   `{"header":{"conversation_id":"c","sender":"s","status":"new","last_event":"plan","timestamp":"2026-01-01T00:00:00Z"}}`,
		"bad status":     `{"header":{"conversation_id":"c","sender":"s","status":"weird","last_event":"plan","timestamp":"2026-01-01T00:00:00Z"},"task":{"id":"t","name":"n","required_capabilities":[]}}`,
		"empty task id":  `{"header":{"conversation_id":"c","sender":"s","status":"new","last_event":"plan","timestamp":"2026-01-01T00:00:00Z"},"task":{"id":"","name":"n","required_capabilities":[]}}`,
		"bad confidence": `{"header":{"conversation_id":"c","sender":"s","status":"new","last_event":"plan","confidence":1.5,"timestamp":"2026-01-01T00:00:00Z"},"task":{"id":"t","name":"n","required_capabilities":[]}}`,
	}
	for name, raw := range cases {
		if _, err := Decode([]byte(raw)); err == nil {
			t.Fatalf("%s: expected decode error", name)
		}
	}
}

func TestDecodeIsFieldOrderIndependent(t *testing.T) {
	raw := `{"task":{"required_capabilities":["x"],"id":"t1","name":"n"},"header":{"timestamp":"2026-01-01T00:00:00Z","last_event":"plan","status":"new","sender":"s","conversation_id":"c"}}`
	env, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode reordered payload: %v", err)
	}
	if env.Task.ID != "t1" || env.Header.Sender != "s" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestStrategyFor(t *testing.T) {
	if StrategyFor(EffortLow) != StrategyDirect {
		t.Fatalf("low effort must map to direct answer")
	}
	if StrategyFor(EffortMedium) != StrategyCoT {
		t.Fatalf("medium effort must map to chain-of-thought")
	}
	if StrategyFor(EffortHigh) != StrategyCoD {
		t.Fatalf("high effort must map to chain-of-draft")
	}
}

func TestNewEnvelopeDefaults(t *testing.T) {
	env := NewEnvelope("sender", Core{Name: "n", RequiredCapabilities: []string{"x"}})
	if env.Task.ID == "" {
		t.Fatalf("expected generated task id")
	}
	if env.Header.Status != StatusNew || env.Header.LastEvent != EventPlan {
		t.Fatalf("unexpected initial header: %+v", env.Header)
	}
	if !strings.Contains(env.Header.ConversationID, "-") {
		t.Fatalf("expected uuid conversation id, got %s", env.Header.ConversationID)
	}
}
