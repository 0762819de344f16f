package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"taskmesh/internal/config"
	"taskmesh/internal/matcher"
	"taskmesh/internal/registry"
	"taskmesh/internal/stream"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.taskmesh/config.toml)")
	registryURL := flag.String("registry", "", "registry base URL override")
	backendFlag := flag.String("backend", "", "stream backend override (memory|redis|nats)")
	fallbackFlag := flag.String("fallback", "", "fallback agent override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
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

	svc := matcher.New(streamLog, registry.NewClient(baseURL), matcher.Config{
		Group:         cfg.Matcher.Group,
		Consumer:      cfg.Matcher.Consumer,
		MinScore:      cfg.Matcher.MinScore,
		FallbackAgent: firstNonEmpty(*fallbackFlag, cfg.Matcher.FallbackAgent),
		BatchSize:     cfg.Matcher.BatchSize,
		Block:         durationMS(cfg.Matcher.BlockMS, 5*time.Second),
	}, log.Default())

	log.Printf("matcher started registry=%s", baseURL)
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("matcher failed: %v", err)
	}
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
