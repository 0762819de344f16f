// Package registry tracks live agents and the capabilities they advertise,
// and answers capability queries with scored candidates.
package registry

import "time"

// Capability is one advertised skill of an agent.
type Capability struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Version     string         `json:"version,omitempty"`
	Examples    []string       `json:"examples,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
}

type EntryStatus string

const (
	StatusActive EntryStatus = "active"
	StatusStale  EntryStatus = "stale"
)

// Entry is one registered agent. Re-registering under the same agent id
// replaces the entry and resets its liveness clock.
type Entry struct {
	AgentID       string       `json:"agent_id"`
	Name          string       `json:"name,omitempty"`
	AgentType     string       `json:"agent_type"`
	Description   string       `json:"description,omitempty"`
	Version       string       `json:"version,omitempty"`
	Host          string       `json:"host,omitempty"`
	Port          int          `json:"port,omitempty"`
	Tags          []string     `json:"tags,omitempty"`
	Capabilities  []Capability `json:"capabilities"`
	Status        EntryStatus  `json:"status"`
	RegisteredAt  time.Time    `json:"registered_at"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
}

// Candidate is one scored answer to a capability query.
type Candidate struct {
	AgentID    string  `json:"agent_id"`
	Capability string  `json:"matched_capability"`
	Score      float64 `json:"score"`
}
