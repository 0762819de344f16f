// Package effort estimates the reasoning effort a task demands from the
// wording of its description, adjusted by lifecycle context, and tunes its
// own weights from recorded task outcomes.
package effort

import (
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"

	"taskmesh/internal/task"
)

const (
	historyLimit      = 1000
	minSamplesForTune = 10

	weightMin = 0.1
	weightMax = 5.0
	// maxWeightShift bounds how far one tuning cycle may move a weight.
	maxWeightShift = 0.3

	complexityHigh   = 2.0
	complexityMedium = 0.5
)

type category struct {
	keywords []string
	weight   float64
}

func defaultCategories() map[string]*category {
	return map[string]*category{
		"analytical": {
			keywords: []string{"analyze", "evaluate", "assess", "research", "investigate", "study",
				"examine", "review", "diagnose", "audit", "survey", "inspect"},
			weight: 1.0,
		},
		"comparative": {
			keywords: []string{"compare", "contrast", "differentiate", "versus", "pros and cons",
				"trade-off", "benchmark", "measure against", "weigh", "rank"},
			weight: 1.5,
		},
		"creative": {
			keywords: []string{"design", "create", "optimize", "improve", "innovate", "develop",
				"build", "construct", "craft", "devise", "formulate", "invent"},
			weight: 2.0,
		},
		"complex": {
			keywords: []string{"hypothesize", "synthesize", "debate", "refactor", "architect",
				"theorize", "model", "simulate", "predict", "extrapolate",
				"integrate", "transform", "restructure"},
			weight: 2.5,
		},
	}
}

type wordThresholds struct {
	high, medium           int
	highScale, mediumScale float64
}

// Config tunes a Classifier at construction. Zero values take the defaults.
type Config struct {
	// AutoTune lets outcome analysis adjust weights and thresholds in
	// place. Estimation itself is unaffected by the flag.
	AutoTune bool
}

// Classifier holds all mutable estimation state behind one lock: keyword
// weights, word-count thresholds, and the outcome history. There is no
// package-level state; independent classifiers do not influence each other.
type Classifier struct {
	mu         sync.Mutex
	categories map[string]*category
	thresholds wordThresholds
	autoTune   bool
	history    []Outcome
	// sinceAnalysis counts outcomes recorded since the last analysis pass,
	// so the cadence holds even once history sits at its cap.
	sinceAnalysis int
	wordRe        map[string]*regexp.Regexp
	logger        *log.Logger
}

func NewClassifier(cfg Config, logger *log.Logger) *Classifier {
	if logger == nil {
		logger = log.Default()
	}
	c := &Classifier{
		categories: defaultCategories(),
		thresholds: wordThresholds{high: 50, medium: 20, highScale: 5, mediumScale: 2},
		autoTune:   cfg.AutoTune,
		wordRe:     make(map[string]*regexp.Regexp),
		logger:     logger,
	}
	for _, cat := range c.categories {
		for _, kw := range cat.keywords {
			if !strings.Contains(kw, " ") {
				c.wordRe[kw] = regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
			}
		}
	}
	return c
}

// ComplexityScore grades content by weighted keyword occurrences. Single
// words match on word boundaries; multi-word phrases match as substrings.
// Content spanning several categories earns an overlap bonus.
func (c *Classifier) ComplexityScore(content string) (float64, map[string]int, map[string][]string, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.complexityScoreLocked(content)
}

func (c *Classifier) complexityScoreLocked(content string) (float64, map[string]int, map[string][]string, float64) {
	lower := strings.ToLower(content)
	scores := make(map[string]int)
	matched := make(map[string][]string)
	total := 0.0

	for name, cat := range c.categories {
		count := 0
		for _, kw := range cat.keywords {
			var n int
			if strings.Contains(kw, " ") {
				n = strings.Count(lower, kw)
			} else {
				n = len(c.wordRe[kw].FindAllString(lower, -1))
			}
			if n > 0 {
				count += n
				matched[name] = append(matched[name], kw)
			}
		}
		scores[name] = count
		total += float64(count) * cat.weight
	}

	active := 0
	for _, count := range scores {
		if count > 0 {
			active++
		}
	}
	bonus := 0.0
	if active > 1 {
		bonus = 0.25 * float64(active-1)
		total += bonus
	}
	return total, scores, matched, bonus
}

// Context carries the lifecycle signals that can raise an estimate.
// Adjustments only ever escalate; nothing here lowers the base effort.
type Context struct {
	Event            task.Event
	Intent           task.Intent
	Confidence       *float64
	DeadlinePressure *float64
}

var highEffortEvents = map[string]bool{
	string(task.EventRefine):   true,
	string(task.EventEscalate): true,
	string(task.EventCritique): true,
	string(task.EventConclude): true,
	"analyze":                  true,
	"evaluate":                 true,
	"compare":                  true,
	"refactor":                 true,
}

// Estimate grades the content and applies context adjustments. The returned
// diagnostics record every input to the decision.
func (c *Classifier) Estimate(content string, ectx Context) (task.Effort, Diagnostics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	score, scores, matched, bonus := c.complexityScoreLocked(content)
	wordCount := len(strings.Fields(content))

	highThreshold := maxf(10, float64(c.thresholds.high)-score*c.thresholds.highScale)
	mediumThreshold := maxf(5, float64(c.thresholds.medium)-score*c.thresholds.mediumScale)

	diag := Diagnostics{
		ModelVersion:    Version,
		WordCount:       wordCount,
		ComplexityScore: score,
		CategoryScores:  scores,
		OverlapBonus:    bonus,
		MatchedKeywords: matched,
		Thresholds:      Thresholds{High: highThreshold, Medium: mediumThreshold},
	}

	var base task.Effort
	switch {
	case score >= complexityHigh || float64(wordCount) > highThreshold:
		base = task.EffortHigh
	case score >= complexityMedium || float64(wordCount) > mediumThreshold:
		base = task.EffortMedium
	default:
		base = task.EffortLow
	}
	diag.BaseEffort = base
	final := base

	if ev := strings.ToLower(string(ectx.Event)); ev != "" {
		switch {
		case highEffortEvents[ev] && final != task.EffortHigh:
			final = task.EffortHigh
			diag.EventAdjustment = fmt.Sprintf("raised to high by %s event", ev)
		case (ev == string(task.EventPlan) || ev == string(task.EventExecute)) && final == task.EffortLow:
			final = task.EffortMedium
			diag.EventAdjustment = fmt.Sprintf("raised to medium by %s event", ev)
		}
	}

	if ectx.Intent == task.IntentModifyTask || ectx.Intent == task.IntentStartTask {
		switch final {
		case task.EffortLow:
			final = task.EffortMedium
			diag.IntentAdjustment = fmt.Sprintf("raised to medium by %s intent", ectx.Intent)
		case task.EffortMedium:
			final = task.EffortHigh
			diag.IntentAdjustment = fmt.Sprintf("raised to high by %s intent", ectx.Intent)
		}
	}

	if ectx.Confidence != nil && *ectx.Confidence < 0.75 {
		switch final {
		case task.EffortLow:
			final = task.EffortMedium
			diag.ConfidenceAdjustment = fmt.Sprintf("raised to medium by low confidence %.2f", *ectx.Confidence)
		case task.EffortMedium:
			final = task.EffortHigh
			diag.ConfidenceAdjustment = fmt.Sprintf("raised to high by low confidence %.2f", *ectx.Confidence)
		}
	}

	if ectx.DeadlinePressure != nil && *ectx.DeadlinePressure > 0.7 && final != task.EffortHigh {
		diag.DeadlineAdjustment = fmt.Sprintf("raised from %s to high by deadline pressure %.2f", final, *ectx.DeadlinePressure)
		final = task.EffortHigh
	}

	// Complex-category vocabulary never resolves to a low estimate.
	if scores["complex"] > 0 && final == task.EffortLow {
		final = task.EffortMedium
		diag.CategoryAdjustment = "raised to medium by complex-category keywords"
	}

	diag.FinalEffort = final
	return final, diag
}

// Annotate estimates effort for an envelope and stamps the header with the
// result and the matching reasoning strategy.
func (c *Classifier) Annotate(env *task.Envelope) Diagnostics {
	conf := env.Header.Confidence
	eff, diag := c.Estimate(env.Task.Description+" "+env.Task.Name, Context{
		Event:      env.Header.LastEvent,
		Confidence: &conf,
	})
	env.Header.Effort = eff
	env.Header.Strategy = task.StrategyFor(eff)
	return diag
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
