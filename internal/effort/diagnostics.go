package effort

import "taskmesh/internal/task"

// Version identifies the estimation model that produced a Diagnostics value.
// Bump it when the scoring rules change so recorded outcomes stay comparable.
const Version = "1.0.0"

// Thresholds are the word-count cutoffs in effect for one estimate, after
// complexity scaling.
type Thresholds struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
}

// Diagnostics explains one effort estimate end to end: the raw signals, the
// base decision, and every adjustment that moved it. Adjustment fields are
// empty when the corresponding rule did not fire.
type Diagnostics struct {
	ModelVersion    string              `json:"model_version"`
	WordCount       int                 `json:"word_count"`
	ComplexityScore float64             `json:"complexity_score"`
	CategoryScores  map[string]int      `json:"category_scores"`
	OverlapBonus    float64             `json:"overlap_bonus,omitempty"`
	MatchedKeywords map[string][]string `json:"matched_keywords,omitempty"`
	Thresholds      Thresholds          `json:"thresholds"`

	BaseEffort task.Effort `json:"base_effort"`

	EventAdjustment      string `json:"event_adjustment,omitempty"`
	IntentAdjustment     string `json:"intent_adjustment,omitempty"`
	ConfidenceAdjustment string `json:"confidence_adjustment,omitempty"`
	DeadlineAdjustment   string `json:"deadline_adjustment,omitempty"`
	CategoryAdjustment   string `json:"category_adjustment,omitempty"`

	FinalEffort task.Effort `json:"final_effort"`
}
