package registry

import (
	"testing"
	"time"
)

func TestScoreSignals(t *testing.T) {
	cap := Capability{
		Name:        "text_summarization",
		Description: "condense long documents into short summaries",
		Examples:    []string{"summarize this meeting transcript"},
		Tags:        []string{"nlp", "text"},
	}

	if got := Score(cap, "text_summarization", nil); got != 1.0 {
		t.Fatalf("exact name match score=%v want=1.0", got)
	}
	if got := Score(cap, "summarization", nil); got != 0.8 {
		t.Fatalf("name substring score=%v want=0.8", got)
	}
	if got := Score(cap, "meeting transcript", nil); got != 0.7 {
		t.Fatalf("example substring score=%v want=0.7", got)
	}
	if got := Score(cap, "condense long", nil); got != 0.6 {
		t.Fatalf("description substring score=%v want=0.6", got)
	}
	if got := Score(cap, "unrelated", nil); got != 0 {
		t.Fatalf("no match score=%v want=0", got)
	}
}

func TestScoreTagOverlap(t *testing.T) {
	cap := Capability{Name: "ocr", Tags: []string{"vision", "text"}}

	// one of two query tags matched: 0.5 + 1/2*0.4
	if got := Score(cap, "", []string{"text", "audio"}); got != 0.7 {
		t.Fatalf("partial tag overlap score=%v want=0.7", got)
	}
	// full overlap: 0.5 + 0.4
	if got := Score(cap, "", []string{"text", "vision"}); got != 0.9 {
		t.Fatalf("full tag overlap score=%v want=0.9", got)
	}
	if got := Score(cap, "", []string{"audio"}); got != 0 {
		t.Fatalf("no tag overlap score=%v want=0", got)
	}
}

func TestScoreCaseInsensitive(t *testing.T) {
	cap := Capability{Name: "Math", Tags: []string{"Calc"}}
	if got := Score(cap, "MATH", nil); got != 1.0 {
		t.Fatalf("case-insensitive name score=%v", got)
	}
	if got := Score(cap, "", []string{"calc"}); got != 0.9 {
		t.Fatalf("case-insensitive tag score=%v", got)
	}
}

func TestRankOrdersByScoreThenRecency(t *testing.T) {
	now := time.Now().UTC()
	entries := []Entry{
		{
			AgentID:       "nlp_agent",
			LastHeartbeat: now,
			Capabilities:  []Capability{{Name: "summarization", Description: "text work including math word problems"}},
		},
		{
			AgentID:       "calc_agent",
			LastHeartbeat: now.Add(-time.Second),
			Capabilities:  []Capability{{Name: "math", Description: "arithmetic and algebra"}},
		},
	}

	got := Rank(entries, "math", nil, 0.6)
	if len(got) != 2 {
		t.Fatalf("candidates=%d want=2", len(got))
	}
	if got[0].AgentID != "calc_agent" || got[0].Score != 1.0 {
		t.Fatalf("winner=%+v want calc_agent at 1.0", got[0])
	}
	if got[1].AgentID != "nlp_agent" || got[1].Score != 0.6 {
		t.Fatalf("runner-up=%+v want nlp_agent at 0.6", got[1])
	}
}

func TestRankTieBreaksOnHeartbeat(t *testing.T) {
	now := time.Now().UTC()
	entries := []Entry{
		{AgentID: "older", LastHeartbeat: now.Add(-time.Minute), Capabilities: []Capability{{Name: "math"}}},
		{AgentID: "fresher", LastHeartbeat: now, Capabilities: []Capability{{Name: "math"}}},
	}
	got := Rank(entries, "math", nil, 0.5)
	if len(got) != 2 || got[0].AgentID != "fresher" {
		t.Fatalf("tie-break failed: %+v", got)
	}
}

func TestRankFiltersBelowMinScore(t *testing.T) {
	entries := []Entry{
		{AgentID: "weak", Capabilities: []Capability{{Name: "ocr", Description: "reads math symbols"}}},
	}
	if got := Rank(entries, "math", nil, 0.7); len(got) != 0 {
		t.Fatalf("expected empty ranking, got %+v", got)
	}
}

func TestRankScoreNeverDropsWhenCapabilityAdded(t *testing.T) {
	base := Entry{AgentID: "calc_agent", Capabilities: []Capability{
		{Name: "math_operations", Tags: []string{"math"}},
	}}
	before := Rank([]Entry{base}, "math", nil, 0.3)
	if len(before) != 1 {
		t.Fatalf("baseline ranking: %+v", before)
	}

	extended := base
	extended.Capabilities = append(extended.Capabilities, Capability{Name: "math"})
	after := Rank([]Entry{extended}, "math", nil, 0.3)
	if len(after) != 1 || after[0].Score < before[0].Score {
		t.Fatalf("adding an exact match lowered the score: before=%v after=%+v", before[0].Score, after)
	}
	if after[0].Score != 1.0 {
		t.Fatalf("exact match score=%v want=1.0", after[0].Score)
	}
}

func TestRankGradesAgentByStrongestCapability(t *testing.T) {
	entries := []Entry{
		{AgentID: "multi", Capabilities: []Capability{
			{Name: "stats", Description: "math heavy statistics"},
			{Name: "math"},
		}},
	}
	got := Rank(entries, "math", nil, 0.5)
	if len(got) != 1 || got[0].Score != 1.0 || got[0].Capability != "math" {
		t.Fatalf("strongest capability not used: %+v", got)
	}
}
