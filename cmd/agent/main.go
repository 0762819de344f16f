package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"taskmesh/internal/agentrt"
	"taskmesh/internal/config"
	"taskmesh/internal/effort"
	"taskmesh/internal/planner"
	"taskmesh/internal/registry"
	"taskmesh/internal/stream"
	"taskmesh/internal/task"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.taskmesh/config.toml)")
	idFlag := flag.String("id", "", "agent id override")
	typeFlag := flag.String("type", "", "agent type override")
	roleFlag := flag.String("role", "echo", "agent role: echo or planner")
	capsFlag := flag.String("capabilities", "", "comma-separated capability names override")
	registryURL := flag.String("registry", "", "registry base URL override")
	backendFlag := flag.String("backend", "", "stream backend override (memory|redis|nats)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	agentID := firstNonEmpty(*idFlag, cfg.Agent.ID)
	if agentID == "" {
		log.Fatalf("agent id is required (-id or [agent] id)")
	}
	baseURL := firstNonEmpty(*registryURL, cfg.Agent.RegistryURL, "http://localhost:8090")

	streamLog, err := openLog(firstNonEmpty(*backendFlag, cfg.Stream.Backend, "redis"), cfg.Stream)
	if err != nil {
		log.Fatalf("open stream log: %v", err)
	}
	defer func() {
		_ = streamLog.Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	classifier := effort.NewClassifier(effort.Config{AutoTune: cfg.Classifier.AutoTune}, log.Default())
	handler, err := buildHandler(*roleFlag, streamLog, classifier)
	if err != nil {
		log.Fatalf("build handler: %v", err)
	}

	runtime, err := agentrt.New(agentrt.Config{
		AgentID:           agentID,
		AgentType:         firstNonEmpty(*typeFlag, cfg.Agent.Type, *roleFlag),
		Version:           firstNonEmpty(cfg.Agent.Version, "1.0.0"),
		Capabilities:      capabilities(firstNonEmpty(*capsFlag, strings.Join(cfg.Agent.Capabilities, ","))),
		HeartbeatInterval: durationMS(cfg.Agent.HeartbeatIntervalMS, 10*time.Second),
	}, streamLog, registry.NewClient(baseURL), handler, log.Default())
	if err != nil {
		log.Fatalf("create runtime: %v", err)
	}

	log.Printf("agent %s started role=%s registry=%s", agentID, *roleFlag, baseURL)
	if err := runtime.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("agent failed: %v", err)
	}
}

func buildHandler(role string, streamLog stream.Log, classifier *effort.Classifier) (agentrt.Handler, error) {
	switch role {
	case "echo":
		return echoHandler(classifier), nil
	case "planner":
		p := planner.New(planner.DecomposeFunc(payloadDecompose), streamLog, log.Default())
		return agentrt.HandlerFunc(p.Handle), nil
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
}

// echoHandler is the smoke-test worker: it grades the task's effort, stamps
// the strategy, and reflects the description back as the result.
func echoHandler(classifier *effort.Classifier) agentrt.Handler {
	return agentrt.HandlerFunc(func(_ context.Context, env task.Envelope) (task.Envelope, error) {
		diag := classifier.Annotate(&env)
		if env.Task.Payload == nil {
			env.Task.Payload = make(map[string]any)
		}
		env.Task.Payload["result"] = fmt.Sprintf("echo: %s", env.Task.Description)
		env.Task.Payload["effort_diagnostics"] = diag
		return env, nil
	})
}

// payloadDecompose reads a pre-built plan out of payload["subtasks"]. The
// reference deployment swaps this for an LLM-backed decomposer.
func payloadDecompose(_ context.Context, env task.Envelope) ([]task.Core, error) {
	raw, ok := env.Task.Payload["subtasks"]
	if !ok {
		return nil, fmt.Errorf("task %s has no subtasks payload to plan from", env.Task.ID)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode subtasks of task %s: %w", env.Task.ID, err)
	}
	var cores []task.Core
	if err := json.Unmarshal(encoded, &cores); err != nil {
		return nil, fmt.Errorf("decode subtasks of task %s: %w", env.Task.ID, err)
	}
	return cores, nil
}

func capabilities(csv string) []registry.Capability {
	var caps []registry.Capability
	for _, name := range strings.Split(csv, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		caps = append(caps, registry.Capability{Name: name})
	}
	return caps
}

func openLog(backend string, cfg config.StreamConfig) (stream.Log, error) {
	switch backend {
	case "memory":
		return stream.NewMemoryLog(), nil
	case "redis":
		return stream.NewRedisLog(firstNonEmpty(cfg.Redis, "redis://localhost:6379/0"))
	case "nats":
		return stream.NewNATSLog(firstNonEmpty(cfg.NATS, "nats://localhost:4222"))
	default:
		return nil, fmt.Errorf("unknown stream backend %q", backend)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func durationMS(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}
