// Package agentrt is the shared runtime every mesh agent embeds: it
// registers with the registry, consumes the agent's inbox, runs the handler,
// reports results, and keeps the agent discoverable with heartbeats.
package agentrt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskmesh/internal/registry"
	"taskmesh/internal/stream"
	"taskmesh/internal/task"
)

type State string

const (
	StateUnregistered State = "unregistered"
	StateRegistering  State = "registering"
	StateActive       State = "active"
	StateDraining     State = "draining"
	StateStopped      State = "stopped"
)

// Handler is the work an agent performs on one envelope. The returned
// envelope is published as the task's result. An error marks the task
// failed; the failure is still published and the message still acked.
type Handler interface {
	Handle(ctx context.Context, env task.Envelope) (task.Envelope, error)
}

type HandlerFunc func(ctx context.Context, env task.Envelope) (task.Envelope, error)

func (f HandlerFunc) Handle(ctx context.Context, env task.Envelope) (task.Envelope, error) {
	return f(ctx, env)
}

// Registry is the slice of the registry client the runtime needs.
type Registry interface {
	Register(ctx context.Context, entry registry.Entry) (registry.Entry, error)
	Heartbeat(ctx context.Context, agentID string) error
	Deregister(ctx context.Context, agentID string) error
}

type Config struct {
	AgentID      string
	AgentType    string
	Version      string
	Capabilities []registry.Capability

	BatchSize         int
	Block             time.Duration
	HeartbeatInterval time.Duration
}

type Runtime struct {
	cfg      Config
	log      stream.Log
	reg      Registry
	handler  Handler
	logger   *log.Logger
	group    string
	consumer string

	mu    sync.Mutex
	state State
}

func New(cfg Config, streamLog stream.Log, reg Registry, handler Handler, logger *log.Logger) (*Runtime, error) {
	if cfg.AgentID == "" {
		return nil, errors.New("agent id is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 4
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return &Runtime{
		cfg:      cfg,
		log:      streamLog,
		reg:      reg,
		handler:  handler,
		logger:   logger,
		group:    cfg.AgentID + "-grp",
		consumer: cfg.AgentID + "-" + suffix,
		state:    StateUnregistered,
	}, nil
}

func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Run registers the agent and serves its inbox until the context ends, then
// drains and deregisters.
func (r *Runtime) Run(ctx context.Context) error {
	r.setState(StateRegistering)
	if err := r.register(ctx); err != nil {
		r.setState(StateStopped)
		return err
	}
	if err := r.log.EnsureGroup(ctx, stream.Inbox(r.cfg.AgentID), r.group); err != nil {
		r.setState(StateStopped)
		return err
	}
	r.setState(StateActive)
	r.logger.Printf("agent %s: active consumer=%s", r.cfg.AgentID, r.consumer)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.heartbeatLoop(ctx)
	}()

	for ctx.Err() == nil {
		msgs, err := r.log.Consume(ctx, stream.Inbox(r.cfg.AgentID), r.group, r.consumer, r.cfg.BatchSize, r.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			r.logger.Printf("agent %s: consume failed: %v", r.cfg.AgentID, err)
			continue
		}
		for _, msg := range msgs {
			r.handleMessage(ctx, msg)
		}
	}

	r.setState(StateDraining)
	wg.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.reg.Deregister(shutdownCtx, r.cfg.AgentID); err != nil {
		r.logger.Printf("agent %s: deregister failed: %v", r.cfg.AgentID, err)
	}
	r.setState(StateStopped)
	r.logger.Printf("agent %s: stopped", r.cfg.AgentID)
	return nil
}

func (r *Runtime) register(ctx context.Context) error {
	_, err := r.reg.Register(ctx, registry.Entry{
		AgentID:      r.cfg.AgentID,
		AgentType:    r.cfg.AgentType,
		Version:      r.cfg.Version,
		Capabilities: r.cfg.Capabilities,
	})
	if err != nil {
		return fmt.Errorf("register agent %s: %w", r.cfg.AgentID, err)
	}
	return nil
}

// heartbeatLoop keeps the agent discoverable. A heartbeat rejected as
// unknown means the registry purged us; re-register instead of dying.
func (r *Runtime) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := r.reg.Heartbeat(ctx, r.cfg.AgentID)
			if errors.Is(err, registry.ErrAgentUnknown) {
				r.logger.Printf("agent %s: registry forgot us, re-registering", r.cfg.AgentID)
				if err := r.register(ctx); err != nil {
					r.logger.Printf("agent %s: re-register failed: %v", r.cfg.AgentID, err)
				}
				continue
			}
			if err != nil && ctx.Err() == nil {
				r.logger.Printf("agent %s: heartbeat failed: %v", r.cfg.AgentID, err)
			}
		}
	}
}

func (r *Runtime) handleMessage(ctx context.Context, msg stream.Message) {
	env, err := task.Decode(msg.Payload)
	if err != nil {
		// A payload we cannot decode will never decode. Ack and move on.
		r.logger.Printf("agent %s: dropping malformed message=%s: %v", r.cfg.AgentID, msg.ID, err)
		if ackErr := msg.Ack(ctx); ackErr != nil {
			r.logger.Printf("agent %s: ack malformed message=%s: %v", r.cfg.AgentID, msg.ID, ackErr)
		}
		return
	}

	result, handleErr := r.handler.Handle(ctx, env)
	if handleErr != nil {
		r.logger.Printf("agent %s: task=%s handler failed: %v", r.cfg.AgentID, env.Task.ID, handleErr)
		result = env
		if result.Task.Payload == nil {
			result.Task.Payload = make(map[string]any)
		}
		result.Task.Payload["error"] = handleErr.Error()
		if err := result.ApplyEvent(task.EventFail, r.cfg.AgentID); err != nil {
			r.logger.Printf("agent %s: task=%s mark failed: %v", r.cfg.AgentID, env.Task.ID, err)
		}
	} else if !task.IsFinal(result.Header.Status) && result.Header.LastEvent == env.Header.LastEvent {
		// Handler returned without recording an event of its own.
		if err := result.ApplyEvent(task.EventComplete, r.cfg.AgentID); err != nil {
			r.logger.Printf("agent %s: task=%s mark complete: %v", r.cfg.AgentID, env.Task.ID, err)
		}
	}

	raw, err := task.Encode(result)
	if err != nil {
		r.logger.Printf("agent %s: task=%s encode result: %v", r.cfg.AgentID, env.Task.ID, err)
		return
	}
	if err := r.log.Publish(ctx, stream.ChannelEvents, raw); err != nil {
		// Leave the message unacked so the work is retried.
		r.logger.Printf("agent %s: task=%s publish result: %v", r.cfg.AgentID, env.Task.ID, err)
		return
	}
	if err := msg.Ack(ctx); err != nil {
		r.logger.Printf("agent %s: task=%s ack: %v", r.cfg.AgentID, env.Task.ID, err)
	}
}
