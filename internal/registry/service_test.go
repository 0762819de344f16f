package registry_test

import (
	"context"
	"errors"
	"log"
	"path/filepath"
	"testing"
	"time"

	"taskmesh/internal/registry"
	"taskmesh/internal/store/sqlite"
)

func newTestService(t *testing.T, cfg registry.Config) *registry.Service {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return registry.NewService(store, cfg, log.New(testWriter{t}, "", 0))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func entry(id string, caps ...registry.Capability) registry.Entry {
	return registry.Entry{
		AgentID:      id,
		AgentType:    "worker",
		Capabilities: caps,
	}
}

func TestRegisterAndList(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, registry.Config{HeartbeatTimeout: time.Minute})

	if _, err := svc.Register(ctx, entry("calc_agent", registry.Capability{Name: "math"})); err != nil {
		t.Fatalf("register: %v", err)
	}
	entries, err := svc.List(ctx, registry.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != registry.StatusActive {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestRegisterRequiresAgentID(t *testing.T) {
	svc := newTestService(t, registry.Config{})
	if _, err := svc.Register(context.Background(), registry.Entry{}); err == nil {
		t.Fatalf("expected error for missing agent_id")
	}
}

func TestHeartbeatUnknownAgent(t *testing.T) {
	svc := newTestService(t, registry.Config{})
	err := svc.Heartbeat(context.Background(), "ghost")
	if !errors.Is(err, registry.ErrAgentUnknown) {
		t.Fatalf("expected ErrAgentUnknown, got %v", err)
	}
}

func TestStaleAgentsExcludedFromDiscovery(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, registry.Config{
		HeartbeatTimeout: 30 * time.Millisecond,
		PurgeAfter:       time.Minute,
	})

	if _, err := svc.Register(ctx, entry("calc_agent", registry.Capability{Name: "math"})); err != nil {
		t.Fatalf("register: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	fresh, err := svc.List(ctx, registry.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("silent agent still discoverable: %+v", fresh)
	}

	all, err := svc.List(ctx, registry.ListFilter{All: true})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 || all[0].Status != registry.StatusStale {
		t.Fatalf("expected stale entry in full listing: %+v", all)
	}

	candidates, err := svc.Match(ctx, "math", nil, 0.5)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("stale agent matched: %+v", candidates)
	}
}

func TestHeartbeatRevivesStaleAgent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, registry.Config{
		HeartbeatTimeout: 30 * time.Millisecond,
		PurgeAfter:       time.Minute,
	})

	if _, err := svc.Register(ctx, entry("calc_agent")); err != nil {
		t.Fatalf("register: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, _, err := svc.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if err := svc.Heartbeat(ctx, "calc_agent"); err != nil {
		t.Fatalf("heartbeat after stale: %v", err)
	}

	entries, err := svc.List(ctx, registry.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != registry.StatusActive {
		t.Fatalf("heartbeat did not revive agent: %+v", entries)
	}
}

func TestSweepMarksStaleThenPurges(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, registry.Config{
		HeartbeatTimeout: 20 * time.Millisecond,
		PurgeAfter:       80 * time.Millisecond,
	})

	if _, err := svc.Register(ctx, entry("calc_agent")); err != nil {
		t.Fatalf("register: %v", err)
	}

	time.Sleep(40 * time.Millisecond)
	stale, purged, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if stale != 1 || purged != 0 {
		t.Fatalf("first sweep stale=%d purged=%d", stale, purged)
	}

	time.Sleep(60 * time.Millisecond)
	stale, purged, err = svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if purged != 1 {
		t.Fatalf("second sweep stale=%d purged=%d, want purge", stale, purged)
	}

	err = svc.Heartbeat(ctx, "calc_agent")
	if !errors.Is(err, registry.ErrAgentUnknown) {
		t.Fatalf("purged agent must be unknown, got %v", err)
	}
}

func TestReregisterResetsClock(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, registry.Config{
		HeartbeatTimeout: 30 * time.Millisecond,
		PurgeAfter:       time.Minute,
	})

	if _, err := svc.Register(ctx, entry("calc_agent")); err != nil {
		t.Fatalf("register: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := svc.Register(ctx, entry("calc_agent")); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	entries, err := svc.List(ctx, registry.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("re-registered agent not discoverable: %+v", entries)
	}
}

func TestRegisterCapabilitiesReplacesSet(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, registry.Config{HeartbeatTimeout: time.Minute})

	if _, err := svc.Register(ctx, entry("calc_agent", registry.Capability{Name: "math"})); err != nil {
		t.Fatalf("register: %v", err)
	}
	count, err := svc.RegisterCapabilities(ctx, "calc_agent", []registry.Capability{
		{Name: "algebra"},
		{Name: "statistics"},
	})
	if err != nil {
		t.Fatalf("register capabilities: %v", err)
	}
	if count != 2 {
		t.Fatalf("count=%d want=2", count)
	}

	caps, err := svc.Capabilities(ctx, "calc_agent")
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	if len(caps) != 2 || caps[0].Name != "algebra" {
		t.Fatalf("replacement did not take: %+v", caps)
	}
}

func TestCapabilitiesOfUnknownAgentIsEmpty(t *testing.T) {
	svc := newTestService(t, registry.Config{})
	caps, err := svc.Capabilities(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	if len(caps) != 0 {
		t.Fatalf("expected empty list, got %+v", caps)
	}
}

func TestCapabilityLookup(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, registry.Config{HeartbeatTimeout: time.Minute})

	cap := registry.Capability{Name: "math", Description: "arithmetic"}
	if _, err := svc.Register(ctx, entry("calc_agent", cap)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, entry("stats_agent", cap)); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, providers, err := svc.Capability(ctx, "math")
	if err != nil {
		t.Fatalf("capability: %v", err)
	}
	if got.Description != "arithmetic" || len(providers) != 2 {
		t.Fatalf("capability=%+v providers=%v", got, providers)
	}

	if _, _, err := svc.Capability(ctx, "teleportation"); !errors.Is(err, registry.ErrAgentUnknown) {
		t.Fatalf("expected ErrAgentUnknown for unknown capability, got %v", err)
	}
}
