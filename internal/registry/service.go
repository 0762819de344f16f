package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

var ErrAgentUnknown = errors.New("agent is not registered")

// Store is the persistence the service needs.
type Store interface {
	UpsertAgent(ctx context.Context, entry Entry) error
	GetAgent(ctx context.Context, agentID string) (Entry, error)
	ListAgents(ctx context.Context) ([]Entry, error)
	DeleteAgent(ctx context.Context, agentID string) error
}

type Config struct {
	// HeartbeatTimeout is how long an agent may stay silent before it is
	// marked stale and dropped from discovery.
	HeartbeatTimeout time.Duration
	// PurgeAfter is how long a silent agent is kept before its entry is
	// removed entirely. A heartbeat inside this window revives it.
	PurgeAfter time.Duration
}

type Service struct {
	store  Store
	cfg    Config
	logger *log.Logger
	now    func() time.Time
}

func NewService(store Store, cfg Config, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 30 * time.Second
	}
	if cfg.PurgeAfter <= cfg.HeartbeatTimeout {
		cfg.PurgeAfter = 4 * cfg.HeartbeatTimeout
	}
	return &Service{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Register upserts an agent entry and resets its liveness clock. A returning
// agent re-registering under the same id replaces its previous entry.
func (s *Service) Register(ctx context.Context, entry Entry) (Entry, error) {
	if entry.AgentID == "" {
		return Entry{}, errors.New("agent_id is required")
	}
	now := s.now().UTC()
	entry.Status = StatusActive
	entry.RegisteredAt = now
	entry.LastHeartbeat = now
	if err := s.store.UpsertAgent(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("register agent %s: %w", entry.AgentID, err)
	}
	s.logger.Printf("registry: registered agent=%s type=%s capabilities=%d", entry.AgentID, entry.AgentType, len(entry.Capabilities))
	return entry, nil
}

// Heartbeat refreshes an agent's liveness clock. A stale agent that
// heartbeats before it is purged becomes active again.
func (s *Service) Heartbeat(ctx context.Context, agentID string) error {
	entry, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	entry.LastHeartbeat = s.now().UTC()
	if entry.Status == StatusStale {
		s.logger.Printf("registry: agent=%s revived by heartbeat", agentID)
	}
	entry.Status = StatusActive
	if err := s.store.UpsertAgent(ctx, entry); err != nil {
		return fmt.Errorf("heartbeat agent %s: %w", agentID, err)
	}
	return nil
}

type ListFilter struct {
	AgentType string
	Status    EntryStatus
	// All includes stale entries. Discovery excludes them by default.
	All bool
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	entries, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	var out []Entry
	for _, e := range entries {
		e.Status = s.effectiveStatus(e)
		if !filter.All && e.Status != StatusActive {
			continue
		}
		if filter.AgentType != "" && e.AgentType != filter.AgentType {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, agentID string) (Entry, error) {
	entry, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return Entry{}, err
	}
	entry.Status = s.effectiveStatus(entry)
	return entry, nil
}

func (s *Service) Deregister(ctx context.Context, agentID string) error {
	if err := s.store.DeleteAgent(ctx, agentID); err != nil {
		return err
	}
	s.logger.Printf("registry: deregistered agent=%s", agentID)
	return nil
}

// Count reports how many agents are currently discoverable.
func (s *Service) Count(ctx context.Context) (int, error) {
	entries, err := s.List(ctx, ListFilter{})
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// RegisterCapabilities replaces the stored capability set for an agent and
// reports how many capabilities are now registered. An unknown agent id gets
// a minimal entry; re-registration is an idempotent upsert.
func (s *Service) RegisterCapabilities(ctx context.Context, agentID string, caps []Capability) (int, error) {
	if agentID == "" {
		return 0, errors.New("agent_id is required")
	}
	entry, err := s.store.GetAgent(ctx, agentID)
	if errors.Is(err, ErrAgentUnknown) {
		entry = Entry{AgentID: agentID, RegisteredAt: s.now().UTC()}
	} else if err != nil {
		return 0, err
	}
	entry.Capabilities = caps
	entry.Status = StatusActive
	entry.LastHeartbeat = s.now().UTC()
	if err := s.store.UpsertAgent(ctx, entry); err != nil {
		return 0, fmt.Errorf("register capabilities for %s: %w", agentID, err)
	}
	s.logger.Printf("registry: agent=%s capabilities replaced count=%d", agentID, len(caps))
	return len(caps), nil
}

// Capabilities returns the capability set of an agent. An unknown agent id
// yields an empty list, not an error.
func (s *Service) Capabilities(ctx context.Context, agentID string) ([]Capability, error) {
	entry, err := s.store.GetAgent(ctx, agentID)
	if errors.Is(err, ErrAgentUnknown) {
		return []Capability{}, nil
	}
	if err != nil {
		return nil, err
	}
	return entry.Capabilities, nil
}

// Match answers a capability query with ranked candidates drawn from the
// discoverable agents.
func (s *Service) Match(ctx context.Context, query string, tags []string, minScore float64) ([]Candidate, error) {
	entries, err := s.List(ctx, ListFilter{})
	if err != nil {
		return nil, err
	}
	return Rank(entries, query, tags, minScore), nil
}

// Capability returns the named capability and the agents providing it.
func (s *Service) Capability(ctx context.Context, name string) (Capability, []string, error) {
	entries, err := s.List(ctx, ListFilter{})
	if err != nil {
		return Capability{}, nil, err
	}
	var found Capability
	var providers []string
	for _, e := range entries {
		for _, c := range e.Capabilities {
			if c.Name == name {
				found = c
				providers = append(providers, e.AgentID)
			}
		}
	}
	if len(providers) == 0 {
		return Capability{}, nil, fmt.Errorf("capability %q: %w", name, ErrAgentUnknown)
	}
	return found, providers, nil
}

// Sweep runs one eviction pass. Agents silent past the heartbeat timeout are
// marked stale; agents silent past the purge window are removed.
func (s *Service) Sweep(ctx context.Context) (stale, purged int, err error) {
	entries, err := s.store.ListAgents(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("sweep: %w", err)
	}
	now := s.now().UTC()
	for _, e := range entries {
		silent := now.Sub(e.LastHeartbeat)
		switch {
		case silent > s.cfg.PurgeAfter:
			if err := s.store.DeleteAgent(ctx, e.AgentID); err != nil {
				return stale, purged, fmt.Errorf("purge agent %s: %w", e.AgentID, err)
			}
			purged++
			s.logger.Printf("registry: purged agent=%s silent=%s", e.AgentID, silent.Truncate(time.Second))
		case silent > s.cfg.HeartbeatTimeout && e.Status != StatusStale:
			e.Status = StatusStale
			if err := s.store.UpsertAgent(ctx, e); err != nil {
				return stale, purged, fmt.Errorf("mark stale agent %s: %w", e.AgentID, err)
			}
			stale++
			s.logger.Printf("registry: agent=%s marked stale silent=%s", e.AgentID, silent.Truncate(time.Second))
		}
	}
	return stale, purged, nil
}

// RunSweeper loops Sweep on the given interval until the context ends.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := s.Sweep(ctx); err != nil {
				s.logger.Printf("registry: sweep failed: %v", err)
			}
		}
	}
}

func (s *Service) effectiveStatus(e Entry) EntryStatus {
	if s.now().UTC().Sub(e.LastHeartbeat) > s.cfg.HeartbeatTimeout {
		return StatusStale
	}
	return e.Status
}
