// Package matcher assigns unclaimed tasks to agents by querying the
// capability registry and routing the envelope to the winner's inbox.
package matcher

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"taskmesh/internal/registry"
	"taskmesh/internal/stream"
	"taskmesh/internal/task"
)

// Registry is the slice of the registry API the matcher needs.
type Registry interface {
	Match(ctx context.Context, query string, tags []string, minScore float64) ([]registry.Candidate, error)
}

type Config struct {
	Group    string
	Consumer string
	// MinScore is the per-capability floor a candidate must clear.
	MinScore float64
	// FallbackAgent receives tasks no capable agent was found for. Empty
	// means unmatched tasks are rejected.
	FallbackAgent string
	BatchSize     int
	Block         time.Duration
}

type Service struct {
	log    stream.Log
	reg    Registry
	cfg    Config
	logger *log.Logger
}

func New(streamLog stream.Log, reg Registry, cfg Config, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Group == "" {
		cfg.Group = "matcher-grp"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "matcher-0"
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = 0.6
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 8
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	return &Service{log: streamLog, reg: reg, cfg: cfg, logger: logger}
}

// Run consumes the unassigned channel until the context ends.
func (s *Service) Run(ctx context.Context) error {
	if err := s.log.EnsureGroup(ctx, stream.ChannelUnassigned, s.cfg.Group); err != nil {
		return err
	}
	for {
		if _, err := s.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Printf("matcher: step failed: %v", err)
		}
	}
}

// Step consumes and dispatches one batch. It returns how many messages were
// handled. A message is acked only after its envelope has been published
// onward; a publish failure leaves it pending for redelivery.
func (s *Service) Step(ctx context.Context) (int, error) {
	msgs, err := s.log.Consume(ctx, stream.ChannelUnassigned, s.cfg.Group, s.cfg.Consumer, s.cfg.BatchSize, s.cfg.Block)
	if err != nil {
		return 0, err
	}
	handled := 0
	for _, msg := range msgs {
		if err := s.dispatch(ctx, msg); err != nil {
			s.logger.Printf("matcher: dispatch message=%s failed: %v", msg.ID, err)
			continue
		}
		handled++
	}
	return handled, nil
}

func (s *Service) dispatch(ctx context.Context, msg stream.Message) error {
	env, err := task.Decode(msg.Payload)
	if err != nil {
		// Malformed payloads cannot be matched by anyone. Drop them so
		// they do not wedge the group.
		s.logger.Printf("matcher: dropping malformed message=%s: %v", msg.ID, err)
		return msg.Ack(ctx)
	}

	if env.Header.AssignedAgent != "" {
		if err := s.deliver(ctx, env, env.Header.AssignedAgent); err != nil {
			return err
		}
		return msg.Ack(ctx)
	}

	ranked, err := s.rank(ctx, env)
	if err != nil {
		return err
	}

	switch {
	case len(ranked) > 0:
		env.Header.AssignedAgent = ranked[0].agentID
		env.Header.CandidateAgents = agentIDs(ranked)
		s.logger.Printf("matcher: task=%s assigned=%s score=%.2f candidates=%d",
			env.Task.ID, ranked[0].agentID, ranked[0].score, len(ranked))
		if err := s.deliver(ctx, env, ranked[0].agentID); err != nil {
			return err
		}
	case s.cfg.FallbackAgent != "":
		env.Header.AssignedAgent = s.cfg.FallbackAgent
		s.logger.Printf("matcher: task=%s no capable agent, falling back to %s", env.Task.ID, s.cfg.FallbackAgent)
		if err := s.deliver(ctx, env, s.cfg.FallbackAgent); err != nil {
			return err
		}
	default:
		if err := s.reject(ctx, env); err != nil {
			return err
		}
	}
	return msg.Ack(ctx)
}

type rankedAgent struct {
	agentID string
	score   float64
	order   int
}

// rank queries the registry once per required capability and grades each
// candidate by the average of its scores over the capabilities it matched.
// Capabilities an agent did not match do not dilute its average.
func (s *Service) rank(ctx context.Context, env task.Envelope) ([]rankedAgent, error) {
	type acc struct {
		sum   float64
		n     int
		order int
	}
	scores := make(map[string]*acc)
	next := 0
	for _, capName := range env.Task.RequiredCapabilities {
		candidates, err := s.reg.Match(ctx, capName, nil, s.cfg.MinScore)
		if err != nil {
			return nil, fmt.Errorf("match capability %q: %w", capName, err)
		}
		for _, c := range candidates {
			a, ok := scores[c.AgentID]
			if !ok {
				a = &acc{order: next}
				next++
				scores[c.AgentID] = a
			}
			a.sum += c.Score
			a.n++
		}
	}
	ranked := make([]rankedAgent, 0, len(scores))
	for id, a := range scores {
		ranked = append(ranked, rankedAgent{agentID: id, score: a.sum / float64(a.n), order: a.order})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].order < ranked[j].order
	})
	return ranked, nil
}

func (s *Service) deliver(ctx context.Context, env task.Envelope, agentID string) error {
	raw, err := task.Encode(env)
	if err != nil {
		return err
	}
	if err := s.log.Publish(ctx, stream.Inbox(agentID), raw); err != nil {
		return fmt.Errorf("deliver task %s to %s: %w", env.Task.ID, agentID, err)
	}
	// Audit copy for the monitor and anyone replaying dispatch decisions.
	if err := s.log.Publish(ctx, stream.ChannelDispatch, raw); err != nil {
		return fmt.Errorf("audit task %s: %w", env.Task.ID, err)
	}
	return nil
}

// rejectReason travels with the envelope so downstream consumers see why
// the task never reached an agent, not just the matcher's log.
const rejectReason = "no suitable agent found for required capabilities"

func (s *Service) reject(ctx context.Context, env task.Envelope) error {
	if env.Task.Payload == nil {
		env.Task.Payload = make(map[string]any)
	}
	env.Task.Payload["reason"] = rejectReason
	if err := env.ApplyEvent(task.EventReject, "matcher"); err != nil {
		return err
	}
	raw, err := task.Encode(env)
	if err != nil {
		return err
	}
	if err := s.log.Publish(ctx, stream.ChannelEvents, raw); err != nil {
		return fmt.Errorf("reject task %s: %w", env.Task.ID, err)
	}
	s.logger.Printf("matcher: task=%s rejected, no capable agent and no fallback", env.Task.ID)
	return nil
}

func agentIDs(ranked []rankedAgent) []string {
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.agentID
	}
	return ids
}
