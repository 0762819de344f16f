package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"taskmesh/internal/config"
	"taskmesh/internal/registry"
	sqlitestore "taskmesh/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.taskmesh/config.toml)")
	addrFlag := flag.String("addr", "", "http listen address override")
	dbPathFlag := flag.String("db", "", "sqlite database path override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	addr := firstNonEmpty(*addrFlag, cfg.Registry.Addr, ":8090")
	dbPath := filepath.Clean(firstNonEmpty(*dbPathFlag, cfg.Registry.DBPath, "data/taskmesh.db"))

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Fatalf("create db directory: %v", err)
	}

	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		log.Fatalf("open sqlite store: %v", err)
	}
	defer func() {
		_ = store.Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migrate sqlite: %v", err)
	}

	svc := registry.NewService(store, registry.Config{
		HeartbeatTimeout: durationMS(cfg.Registry.HeartbeatTimeoutMS, 30*time.Second),
		PurgeAfter:       durationMS(cfg.Registry.PurgeAfterMS, 0),
	}, log.Default())
	go svc.RunSweeper(ctx, durationMS(cfg.Registry.SweepIntervalMS, 10*time.Second))

	server := &http.Server{
		Addr:              addr,
		Handler:           loggingMiddleware(registry.NewHandler(svc)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("registry started addr=%s db=%s", addr, dbPath)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server failed: %v", err)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
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
