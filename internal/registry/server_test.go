package registry_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"taskmesh/internal/registry"
)

func newTestServer(t *testing.T) (*httptest.Server, *registry.Client) {
	t.Helper()
	svc := newTestService(t, registry.Config{HeartbeatTimeout: time.Minute})
	server := httptest.NewServer(registry.NewHandler(svc))
	t.Cleanup(server.Close)
	return server, registry.NewClient(server.URL)
}

func TestHTTPRegisterHeartbeatAndHealth(t *testing.T) {
	ctx := context.Background()
	_, client := newTestServer(t)

	registered, err := client.Register(ctx, registry.Entry{
		AgentID:   "calc_agent",
		AgentType: "worker",
		Capabilities: []registry.Capability{
			{Name: "math", Description: "arithmetic and algebra"},
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if registered.Status != registry.StatusActive {
		t.Fatalf("registered status=%s", registered.Status)
	}

	if err := client.Heartbeat(ctx, "calc_agent"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	health, err := client.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Status != "ok" || health.RegisteredCount != 1 {
		t.Fatalf("health=%+v", health)
	}
}

func TestHTTPHeartbeatUnknownIs404(t *testing.T) {
	_, client := newTestServer(t)
	err := client.Heartbeat(context.Background(), "ghost")
	if !errors.Is(err, registry.ErrAgentUnknown) {
		t.Fatalf("expected ErrAgentUnknown, got %v", err)
	}
}

func TestHTTPCapabilityRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, client := newTestServer(t)

	if _, err := client.Register(ctx, registry.Entry{
		AgentID:      "calc_agent",
		AgentType:    "worker",
		Capabilities: []registry.Capability{{Name: "math"}},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	count, err := client.RegisterCapabilities(ctx, "calc_agent", []registry.Capability{
		{Name: "algebra"},
		{Name: "statistics", Tags: []string{"math"}},
	})
	if err != nil {
		t.Fatalf("register capabilities: %v", err)
	}
	if count != 2 {
		t.Fatalf("count=%d want=2", count)
	}

	caps, err := client.Capabilities(ctx, "calc_agent")
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	if len(caps) != 2 || caps[0].Name != "algebra" {
		t.Fatalf("caps=%+v", caps)
	}

	empty, err := client.Capabilities(ctx, "ghost")
	if err != nil {
		t.Fatalf("capabilities of unknown: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty list for unknown agent, got %+v", empty)
	}
}

func TestHTTPMatchAndDeregister(t *testing.T) {
	ctx := context.Background()
	_, client := newTestServer(t)

	if _, err := client.Register(ctx, registry.Entry{
		AgentID:      "calc_agent",
		AgentType:    "worker",
		Capabilities: []registry.Capability{{Name: "math"}},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	candidates, err := client.Match(ctx, "math", nil, 0.6)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(candidates) != 1 || candidates[0].AgentID != "calc_agent" {
		t.Fatalf("candidates=%+v", candidates)
	}

	if err := client.Deregister(ctx, "calc_agent"); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	agents, err := client.ListAgents(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(agents) != 0 {
		t.Fatalf("agents after deregister: %+v", agents)
	}
}
