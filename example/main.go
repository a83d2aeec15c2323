package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/kzs0/spanbridge"
	"github.com/kzs0/spanbridge/trace"
)

type Config struct {
	Addr     string        `envconfig:"ADDR" default:":8080"`
	LoopTerm time.Duration `envconfig:"LOOP_TERM" default:"10s"`
}

func main() {
	ctx := context.Background()

	var cfg Config
	if err := envconfig.Process("EXAMPLE", &cfg); err != nil {
		cfg = Config{Addr: ":8080", LoopTerm: 10 * time.Second}
	}

	agentCfg, err := spanbridge.FromEnv()
	if err != nil {
		agentCfg = spanbridge.DefaultConfig()
	}
	agentCfg.Service = "example-service"
	agentCfg.LogFormat = "console"
	agentCfg.ServerEnabled = true

	// Initialize the agent - the observability server starts because
	// ServerEnabled is set.
	ctx, close := spanbridge.Init(ctx, spanbridge.WithConfig(agentCfg))
	defer close()

	log := spanbridge.Logger(ctx)
	log.Info("observability server listening",
		zap.String("metrics", "http://localhost:9090/metrics"),
		zap.String("health", "http://localhost:9090/health"))

	mux := http.NewServeMux()
	mux.HandleFunc("/users", handleUsers)

	appServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           spanbridge.HTTPMiddleware(ctx, mux),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	go loop(loopCtx, "http://localhost"+cfg.Addr+"/users", cfg.LoopTerm)

	go func() {
		log.Info("application server listening", zap.String("addr", cfg.Addr))
		if err := appServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("application server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := appServer.Shutdown(shutdownCtx); err != nil {
		log.Error("application server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func handleUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	spanbridge.Logger(ctx).Info("processing user request", zap.String("path", r.URL.Path))

	result, err := lookup(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = fmt.Fprintf(w, "Result: %s\n", result)
}

// lookup fans out to two workers. Each worker continues the request's
// trace on its own goroutine.
func lookup(ctx context.Context) (string, error) {
	tracing := spanbridge.Tracing(ctx, "workers")
	async := tracing.ExportAsync(ctx)

	results := make([]string, 2)
	var wg sync.WaitGroup
	for i, shard := range []string{"users-a", "users-b"} {
		i, shard := i, shard
		wg.Add(1)
		go func() {
			defer wg.Done()
			wctx := trace.Attach(ctx)
			scope := tracing.ImportAsync(wctx, async)
			defer scope.Close()

			span := tracing.NextSpan(wctx).SetName("query " + shard).Tag("db.shard", shard)
			defer span.Finish()

			time.Sleep(20 * time.Millisecond)
			spanbridge.Logger(wctx).Debug("shard queried", zap.String("shard", shard))
			results[i] = shard
		}()
	}
	wg.Wait()
	return fmt.Sprintf("%v", results), nil
}

// loop calls the application server periodically, so every tick produces a
// client span and the server span continuing it.
func loop(ctx context.Context, url string, term time.Duration) {
	ticker := time.NewTicker(term)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			spanbridge.Logger(ctx).Info("background loop stopping")
			return
		case <-ticker.C:
			tick(ctx, url)
		}
	}
}

func tick(ctx context.Context, url string) {
	span := spanbridge.Tracing(ctx, "loop").NextSpan(ctx).SetName("loop.tick")
	defer span.Finish()

	resp, err := spanbridge.Get(ctx, url)
	if err != nil {
		span.Error(err)
		spanbridge.Logger(ctx).Warn("tick failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
}
