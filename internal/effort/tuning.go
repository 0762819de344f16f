package effort

import (
	"fmt"
	"math"
	"sort"
	"time"

	"taskmesh/internal/task"
)

// Outcome is one finished task fed back into the model: what was predicted
// and what actually happened.
type Outcome struct {
	TaskID      string      `json:"task_id"`
	Diagnostics Diagnostics `json:"diagnostics"`
	Duration    float64     `json:"duration_seconds"`
	Success     bool        `json:"success"`
	Feedback    string      `json:"feedback,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Stats summarizes observed durations for one effort level.
type Stats struct {
	Count       int     `json:"count"`
	AvgDuration float64 `json:"avg_duration"`
	MedianDur   float64 `json:"median_duration"`
	StdevDur    float64 `json:"stdev_duration"`
	MinDuration float64 `json:"min_duration"`
	MaxDuration float64 `json:"max_duration"`
	SuccessRate float64 `json:"success_rate"`
}

// Recommendation is one proposed parameter change with its numeric
// justification.
type Recommendation struct {
	Target    string  `json:"target"`
	Current   float64 `json:"current"`
	Suggested float64 `json:"suggested"`
	Reason    string  `json:"reason"`
}

// Report is the result of one outcome analysis pass.
type Report struct {
	SampleSize         int                   `json:"sample_size"`
	EffortStats        map[task.Effort]Stats `json:"effort_stats"`
	Misclassifications []string              `json:"misclassifications"`
	Recommendations    []Recommendation      `json:"recommendations"`
	AppliedChanges     []string              `json:"applied_changes"`
}

// RecordOutcome appends an outcome to the bounded history and periodically
// triggers analysis once enough samples have accumulated.
func (c *Classifier) RecordOutcome(outcome Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = time.Now().UTC()
	}
	c.history = append(c.history, outcome)
	if len(c.history) > historyLimit {
		c.history = c.history[len(c.history)-historyLimit:]
	}
	c.sinceAnalysis++
	if len(c.history) >= minSamplesForTune && c.sinceAnalysis >= 2*minSamplesForTune {
		c.analyzeLocked()
	}
}

// HistorySize reports how many outcomes are currently retained.
func (c *Classifier) HistorySize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

// Weight reports the current weight of a keyword category.
func (c *Classifier) Weight(category string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cat, ok := c.categories[category]; ok {
		return cat.weight
	}
	return 0
}

// WordCutoffs reports the current base word-count thresholds.
func (c *Classifier) WordCutoffs() (high, medium int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.thresholds.high, c.thresholds.medium
}

// Analyze runs one analysis pass over the recorded outcomes and, when
// auto-tuning is on, applies the bounded parameter changes it recommends.
func (c *Classifier) Analyze() Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.analyzeLocked()
}

func (c *Classifier) analyzeLocked() Report {
	c.sinceAnalysis = 0
	report := Report{
		SampleSize:  len(c.history),
		EffortStats: make(map[task.Effort]Stats),
	}
	if len(c.history) < minSamplesForTune {
		c.logger.Printf("effort: analysis skipped, %d samples < %d required", len(c.history), minSamplesForTune)
		return report
	}

	byEffort := make(map[task.Effort][]Outcome)
	for _, o := range c.history {
		byEffort[o.Diagnostics.FinalEffort] = append(byEffort[o.Diagnostics.FinalEffort], o)
	}
	for eff, outcomes := range byEffort {
		report.EffortStats[eff] = computeStats(outcomes)
	}

	low, hasLow := report.EffortStats[task.EffortLow]
	med, hasMed := report.EffortStats[task.EffortMedium]
	high, hasHigh := report.EffortStats[task.EffortHigh]
	enough := func(s Stats) bool { return s.Count >= minSamplesForTune/2 }

	if hasLow && hasMed && enough(low) && enough(med) && low.AvgDuration > med.AvgDuration*0.9 {
		report.Misclassifications = append(report.Misclassifications,
			fmt.Sprintf("low tasks run as long as medium: low=%.2fs (n=%d) medium=%.2fs (n=%d)",
				low.AvgDuration, low.Count, med.AvgDuration, med.Count))
		report.Recommendations = append(report.Recommendations, Recommendation{
			Target:    "word_count_medium_threshold",
			Current:   float64(c.thresholds.medium),
			Suggested: maxf(5, float64(c.thresholds.medium-3)),
			Reason:    fmt.Sprintf("low avg %.2fs exceeds 90%% of medium avg %.2fs", low.AvgDuration, med.AvgDuration),
		})
	}
	if hasMed && hasHigh && enough(med) && enough(high) && med.AvgDuration > high.AvgDuration*0.9 {
		report.Misclassifications = append(report.Misclassifications,
			fmt.Sprintf("medium tasks run as long as high: medium=%.2fs (n=%d) high=%.2fs (n=%d)",
				med.AvgDuration, med.Count, high.AvgDuration, high.Count))
		report.Recommendations = append(report.Recommendations, Recommendation{
			Target:    "word_count_high_threshold",
			Current:   float64(c.thresholds.high),
			Suggested: maxf(10, float64(c.thresholds.high-5)),
			Reason:    fmt.Sprintf("medium avg %.2fs exceeds 90%% of high avg %.2fs", med.AvgDuration, high.AvgDuration),
		})
	}
	if hasHigh && hasMed && high.Count >= minSamplesForTune &&
		high.AvgDuration < med.AvgDuration*1.2 && high.SuccessRate > 0.95 {
		report.Misclassifications = append(report.Misclassifications,
			fmt.Sprintf("high tasks finish fast with %.1f%% success, likely overestimated: high=%.2fs medium=%.2fs",
				high.SuccessRate*100, high.AvgDuration, med.AvgDuration))
		report.Recommendations = append(report.Recommendations,
			Recommendation{
				Target:    "word_count_high_threshold",
				Current:   float64(c.thresholds.high),
				Suggested: math.Min(100, float64(c.thresholds.high+10)),
				Reason:    fmt.Sprintf("high avg %.2fs with success %.2f", high.AvgDuration, high.SuccessRate),
			},
			Recommendation{
				Target:    "complex_weight",
				Current:   c.categories["complex"].weight,
				Suggested: maxf(0.5, round2(c.categories["complex"].weight*0.85)),
				Reason:    "fast successful high tasks suggest complex vocabulary is overweighted",
			})
	}

	if c.autoTune {
		report.AppliedChanges = c.applyLocked(report.Recommendations)
	}
	c.logger.Printf("effort: analysis done samples=%d misclassifications=%d recommendations=%d applied=%d",
		report.SampleSize, len(report.Misclassifications), len(report.Recommendations), len(report.AppliedChanges))
	return report
}

// applyLocked enacts recommendations within hard bounds: weights stay in
// [0.1, 5.0] and move at most 30% per cycle, word thresholds keep their
// floors and the high threshold its ceiling.
func (c *Classifier) applyLocked(recs []Recommendation) []string {
	var applied []string
	seen := make(map[string]bool)
	for _, rec := range recs {
		if seen[rec.Target] {
			continue
		}
		switch rec.Target {
		case "word_count_medium_threshold":
			old := c.thresholds.medium
			next := int(maxf(5, rec.Suggested))
			if next != old {
				c.thresholds.medium = next
				msg := fmt.Sprintf("medium word threshold %d -> %d (%s)", old, next, rec.Reason)
				c.logger.Printf("effort: %s", msg)
				applied = append(applied, msg)
			}
		case "word_count_high_threshold":
			old := c.thresholds.high
			next := int(math.Min(100, maxf(10, rec.Suggested)))
			if next != old {
				c.thresholds.high = next
				msg := fmt.Sprintf("high word threshold %d -> %d (%s)", old, next, rec.Reason)
				c.logger.Printf("effort: %s", msg)
				applied = append(applied, msg)
			}
		default:
			name, ok := categoryForTarget(rec.Target)
			if !ok {
				continue
			}
			cat, ok := c.categories[name]
			if !ok {
				continue
			}
			old := cat.weight
			next := maxf(weightMin, math.Min(weightMax, rec.Suggested))
			if shift := math.Abs(next-old) / old; shift > maxWeightShift {
				if next > old {
					next = round2(old * (1 + maxWeightShift))
				} else {
					next = round2(old * (1 - maxWeightShift))
				}
			}
			if next != old {
				cat.weight = next
				msg := fmt.Sprintf("%s weight %.2f -> %.2f (%s)", name, old, next, rec.Reason)
				c.logger.Printf("effort: %s", msg)
				applied = append(applied, msg)
			}
		}
		seen[rec.Target] = true
	}
	return applied
}

func categoryForTarget(target string) (string, bool) {
	const suffix = "_weight"
	if len(target) <= len(suffix) || target[len(target)-len(suffix):] != suffix {
		return "", false
	}
	return target[:len(target)-len(suffix)], true
}

func computeStats(outcomes []Outcome) Stats {
	durations := make([]float64, 0, len(outcomes))
	successes := 0
	for _, o := range outcomes {
		durations = append(durations, o.Duration)
		if o.Success {
			successes++
		}
	}
	sort.Float64s(durations)
	s := Stats{
		Count:       len(outcomes),
		MinDuration: durations[0],
		MaxDuration: durations[len(durations)-1],
		SuccessRate: float64(successes) / float64(len(outcomes)),
	}
	sum := 0.0
	for _, d := range durations {
		sum += d
	}
	s.AvgDuration = sum / float64(len(durations))
	mid := len(durations) / 2
	if len(durations)%2 == 0 {
		s.MedianDur = (durations[mid-1] + durations[mid]) / 2
	} else {
		s.MedianDur = durations[mid]
	}
	if len(durations) > 1 {
		varSum := 0.0
		for _, d := range durations {
			varSum += (d - s.AvgDuration) * (d - s.AvgDuration)
		}
		s.StdevDur = math.Sqrt(varSum / float64(len(durations)-1))
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
