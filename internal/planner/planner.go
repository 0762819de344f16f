// Package planner turns a high-level task into a dependency-ordered set of
// subtasks, marks which subtasks may run side by side, and finds the
// duration-critical chain through the plan.
package planner

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskmesh/internal/stream"
	"taskmesh/internal/task"
)

// Decomposer produces the subtasks of an envelope. Implementations are
// supplied by the caller; the reference deployment backs this with an LLM.
type Decomposer interface {
	Decompose(ctx context.Context, env task.Envelope) ([]task.Core, error)
}

// DecomposeFunc adapts a function to the Decomposer interface.
type DecomposeFunc func(ctx context.Context, env task.Envelope) ([]task.Core, error)

func (f DecomposeFunc) Decompose(ctx context.Context, env task.Envelope) ([]task.Core, error) {
	return f(ctx, env)
}

type Planner struct {
	dec    Decomposer
	log    stream.Log
	logger *log.Logger
}

func New(dec Decomposer, streamLog stream.Log, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.Default()
	}
	return &Planner{dec: dec, log: streamLog, logger: logger}
}

// ParallelGroups buckets parallelizable tasks that share an identical
// dependency set. Group ids are numbered from one in scan order. A task
// that is not parallelizable never joins a group, even if its dependencies
// match.
func ParallelGroups(cores []task.Core) map[string]string {
	groups := make(map[string]string)
	byDeps := make(map[string]string)
	next := 1
	for _, c := range cores {
		if !c.Parallelizable {
			continue
		}
		key := depsKey(c.Dependencies)
		groupID, ok := byDeps[key]
		if !ok {
			groupID = fmt.Sprintf("parallel_group_%d", next)
			next++
			byDeps[key] = groupID
		}
		groups[c.ID] = groupID
	}
	return groups
}

func depsKey(deps []string) string {
	sorted := append([]string(nil), deps...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

// PathResult is the duration-critical chain through a plan, listed in
// execution order.
type PathResult struct {
	Path     []string
	Duration float64
}

// CriticalPath computes the longest duration chain through the dependency
// graph. A dependency that closes a cycle contributes zero and is reported
// as a data fault rather than aborting the plan.
func (p *Planner) CriticalPath(cores []task.Core) PathResult {
	byID := make(map[string]task.Core, len(cores))
	for _, c := range cores {
		byID[c.ID] = c
	}

	memo := make(map[string]float64)
	bestDep := make(map[string]string)
	onStack := make(map[string]bool)

	var longest func(id string) float64
	longest = func(id string) float64 {
		if v, ok := memo[id]; ok {
			return v
		}
		c, ok := byID[id]
		if !ok {
			p.logger.Printf("planner: dependency %q points at no task in the plan", id)
			memo[id] = 0
			return 0
		}
		onStack[id] = true
		best := 0.0
		for _, dep := range c.Dependencies {
			if onStack[dep] {
				p.logger.Printf("planner: dependency cycle at task=%s dep=%s, treating as zero", id, dep)
				continue
			}
			if v := longest(dep); v > best {
				best = v
				bestDep[id] = dep
			}
		}
		onStack[id] = false
		memo[id] = c.EstimatedDuration + best
		return memo[id]
	}

	var endID string
	total := -1.0
	for _, c := range cores {
		if v := longest(c.ID); v > total {
			total = v
			endID = c.ID
		}
	}
	if endID == "" {
		return PathResult{}
	}

	var path []string
	for id := endID; id != ""; id = bestDep[id] {
		path = append(path, id)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return PathResult{Path: path, Duration: total}
}

// Plan decomposes the envelope into subtask envelopes, annotates them with
// their parallel group and critical-path membership, and publishes each one
// for matching. Children inherit the parent's conversation.
func (p *Planner) Plan(ctx context.Context, env task.Envelope) ([]task.Envelope, error) {
	cores, err := p.dec.Decompose(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("decompose task %s: %w", env.Task.ID, err)
	}
	for i := range cores {
		if cores[i].ID == "" {
			cores[i].ID = uuid.NewString()
		}
	}

	groups := ParallelGroups(cores)
	critical := p.CriticalPath(cores)
	onPath := make(map[string]bool, len(critical.Path))
	for _, id := range critical.Path {
		onPath[id] = true
	}

	now := time.Now().UTC()
	children := make([]task.Envelope, 0, len(cores))
	for _, core := range cores {
		if core.Payload == nil {
			core.Payload = make(map[string]any)
		}
		core.Payload["parent_task_id"] = env.Task.ID
		if groupID, ok := groups[core.ID]; ok {
			core.Payload["group_id"] = groupID
		}
		core.Payload["critical_path"] = onPath[core.ID]

		child := task.Envelope{
			Header: task.Header{
				ConversationID: env.Header.ConversationID,
				Sender:         "planner",
				Status:         task.StatusNew,
				Confidence:     env.Header.Confidence,
				Effort:         env.Header.Effort,
				Strategy:       env.Header.Strategy,
				LastEvent:      task.EventPlan,
				Timestamp:      now,
			},
			Task: core,
		}
		children = append(children, child)
	}

	for _, child := range children {
		raw, err := task.Encode(child)
		if err != nil {
			return nil, err
		}
		if err := p.log.Publish(ctx, stream.ChannelUnassigned, raw); err != nil {
			return nil, fmt.Errorf("publish subtask %s: %w", child.Task.ID, err)
		}
	}
	p.logger.Printf("planner: task=%s planned subtasks=%d groups=%d critical_path=%v",
		env.Task.ID, len(children), len(groupSet(groups)), critical.Path)
	return children, nil
}

// Handle lets a planner run as a mesh agent: the incoming task is
// decomposed, its subtasks are queued for matching, and the parent envelope
// records the plan.
func (p *Planner) Handle(ctx context.Context, env task.Envelope) (task.Envelope, error) {
	children, err := p.Plan(ctx, env)
	if err != nil {
		return env, err
	}
	ids := make([]string, len(children))
	for i, c := range children {
		ids[i] = c.Task.ID
	}
	if env.Task.Payload == nil {
		env.Task.Payload = make(map[string]any)
	}
	env.Task.Payload["subtask_ids"] = ids
	if err := env.ApplyEvent(task.EventPlan, "planner"); err != nil {
		return env, err
	}
	return env, nil
}

func groupSet(groups map[string]string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, g := range groups {
		set[g] = struct{}{}
	}
	return set
}
