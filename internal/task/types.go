package task

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusEscalated  Status = "escalated"
	StatusCancelled  Status = "cancelled"
)

type Event string

const (
	EventPlan         Event = "plan"
	EventExecute      Event = "execute"
	EventCritique     Event = "critique"
	EventRefine       Event = "refine"
	EventConclude     Event = "conclude"
	EventComplete     Event = "complete"
	EventFail         Event = "fail"
	EventEscalate     Event = "escalate"
	EventReject       Event = "reject"
	EventCancel       Event = "cancel"
	EventInfo         Event = "info"
	EventAwaitingTool Event = "awaiting_tool"
	EventToolComplete Event = "tool_complete"
)

type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

type Strategy string

const (
	StrategyDirect Strategy = "direct_answer"
	StrategyCoT    Strategy = "chain-of-thought"
	StrategyCoD    Strategy = "chain-of-draft"
)

// StrategyFor maps a reasoning effort to the cognitive strategy an agent
// should apply when working the task.
func StrategyFor(effort Effort) Strategy {
	switch effort {
	case EffortMedium:
		return StrategyCoT
	case EffortHigh:
		return StrategyCoD
	default:
		return StrategyDirect
	}
}

type Intent string

const (
	IntentStartTask  Intent = "start_task"
	IntentModifyTask Intent = "modify_task"
	IntentChat       Intent = "chat"
)

// Core is the immutable business definition of a unit of work. It is created
// once and never mutated; a correction is a new Core with a new id.
type Core struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	Description          string         `json:"description"`
	Category             string         `json:"category"`
	RequiredCapabilities []string       `json:"required_capabilities"`
	Dependencies         []string       `json:"dependencies,omitempty"`
	Parallelizable       bool           `json:"parallelizable"`
	EstimatedDuration    float64        `json:"estimated_duration,omitempty"`
	Payload              map[string]any `json:"payload,omitempty"`
}

// HistoryEntry is one appended lifecycle transition. History is append-only,
// never rewritten.
type HistoryEntry struct {
	Event     Event     `json:"event"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

// Header is the mutable orchestration metadata wrapping a Core.
type Header struct {
	ConversationID  string         `json:"conversation_id"`
	Sender          string         `json:"sender"`
	CandidateAgents []string       `json:"candidate_agents,omitempty"`
	AssignedAgent   string         `json:"assigned_agent,omitempty"`
	Status          Status         `json:"status"`
	Confidence      float64        `json:"confidence"`
	Effort          Effort         `json:"effort,omitempty"`
	Strategy        Strategy       `json:"strategy,omitempty"`
	LastEvent       Event          `json:"last_event"`
	History         []HistoryEntry `json:"history,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Envelope is the unit shipped on the wire.
type Envelope struct {
	Header Header `json:"header"`
	Task   Core   `json:"task"`
}

// NewEnvelope builds an envelope in the initial state. Missing core id and
// conversation id are generated.
func NewEnvelope(sender string, core Core) Envelope {
	if core.ID == "" {
		core.ID = uuid.NewString()
	}
	return Envelope{
		Header: Header{
			ConversationID: uuid.NewString(),
			Sender:         sender,
			Status:         StatusNew,
			Confidence:     0.9,
			LastEvent:      EventPlan,
			Timestamp:      time.Now().UTC(),
		},
		Task: core,
	}
}
