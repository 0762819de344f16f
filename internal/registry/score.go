package registry

import (
	"sort"
	"strings"
)

// Score grades how well a capability answers a query. Matching is
// case-insensitive. An exact name match is a perfect answer; weaker signals
// degrade from substring-of-name down to tag overlap. The strongest
// applicable signal wins.
func Score(cap Capability, query string, queryTags []string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	name := strings.ToLower(cap.Name)

	best := 0.0
	if q != "" {
		if q == name {
			return 1.0
		}
		if strings.Contains(name, q) {
			best = 0.8
		}
		if best < 0.7 {
			for _, ex := range cap.Examples {
				if strings.Contains(strings.ToLower(ex), q) {
					best = 0.7
					break
				}
			}
		}
		if best < 0.6 && strings.Contains(strings.ToLower(cap.Description), q) {
			best = 0.6
		}
	}
	if len(queryTags) > 0 {
		matched := 0
		for _, qt := range queryTags {
			for _, t := range cap.Tags {
				if strings.EqualFold(qt, t) {
					matched++
					break
				}
			}
		}
		if matched > 0 {
			tagScore := 0.5 + float64(matched)/float64(len(queryTags))*0.4
			if tagScore > best {
				best = tagScore
			}
		}
	}
	return best
}

// Rank scores every agent against a query and returns the candidates at or
// above minScore, best first. An agent is graded by its strongest
// capability. Ties go to the agent heard from most recently.
func Rank(entries []Entry, query string, queryTags []string, minScore float64) []Candidate {
	type ranked struct {
		Candidate
		idx int
	}
	var out []ranked
	for i, e := range entries {
		bestScore := 0.0
		bestCap := ""
		for _, c := range e.Capabilities {
			if s := Score(c, query, queryTags); s > bestScore {
				bestScore = s
				bestCap = c.Name
			}
		}
		if bestScore >= minScore && bestScore > 0 {
			out = append(out, ranked{Candidate{AgentID: e.AgentID, Capability: bestCap, Score: bestScore}, i})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return entries[out[i].idx].LastHeartbeat.After(entries[out[j].idx].LastHeartbeat)
	})
	candidates := make([]Candidate, len(out))
	for i, r := range out {
		candidates[i] = r.Candidate
	}
	return candidates
}
