package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/portero-gateway/portero/internal/adapter/aggregator"
	"github.com/portero-gateway/portero/internal/adapter/approvalchat"
	"github.com/portero-gateway/portero/internal/adapter/audit"
	"github.com/portero-gateway/portero/internal/adapter/filestore"
	"github.com/portero-gateway/portero/internal/adapter/httpapi"
	"github.com/portero-gateway/portero/internal/adapter/mcpbackend"
	"github.com/portero-gateway/portero/internal/adapter/otelmw"
	"github.com/portero-gateway/portero/internal/adapter/registry"
	"github.com/portero-gateway/portero/internal/adapter/router"
	"github.com/portero-gateway/portero/internal/config"
	"github.com/portero-gateway/portero/internal/logger"
	"github.com/portero-gateway/portero/internal/service"
)

// executorWorkers is the fixed size of the Executor's background worker
// pool. Not exposed as config: spec.md never asks for tunable concurrency
// here, and a fixed small pool is enough to drain a chat-approval-gated
// workload.
const executorWorkers = 4

// maxAuditBytes bounds the live audit.log before the audit rotator (driven by
// runAuditRotation) compresses it. Not config-driven for the same reason as executorWorkers.
const maxAuditBytes = 50 << 20

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	log.Info("config loaded",
		"addr", cfg.Server.Addr,
		"state_dir", cfg.State.Dir,
		"policy_default", cfg.Policy.Default,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- State Store ---
	st, err := filestore.New(cfg.State.Dir)
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}
	if cfg.State.LegacyApprovalsPath != "" {
		if err := st.ImportLegacyApprovals(ctx, cfg.State.LegacyApprovalsPath); err != nil {
			log.Warn("legacy approvals import failed", "path", cfg.State.LegacyApprovalsPath, "error", err)
		}
	}

	// --- Backend Registry ---
	reg := registry.New()
	defer func() {
		for _, closeErr := range reg.CloseAll(context.Background()) {
			log.Warn("backend close failed", "error", closeErr)
		}
	}()

	defs, skipped, err := config.LoadBackends(cfg.BackendsFile)
	if err != nil {
		return fmt.Errorf("load backends: %w", err)
	}
	for _, name := range skipped {
		log.Warn("backend definition skipped: unresolved placeholder", "backend", name)
	}
	for _, def := range defs {
		b, err := mcpbackend.Dial(ctx, def)
		if err != nil {
			log.Error("backend dial failed", "backend", def.Name, "error", err)
			continue
		}
		reg.Register(b, mcpbackend.PinnedSet(def))
		log.Info("backend registered", "backend", def.Name, "transport", def.Transport)
	}

	replacements, err := config.LoadReplacements(cfg.ReplacementsFile)
	if err != nil {
		return fmt.Errorf("load replacements: %w", err)
	}

	// --- Aggregator / Router ---
	agg, err := aggregator.New(reg, cfg.Aggregator.MaxCacheBytes, cfg.Aggregator.CacheTTL)
	if err != nil {
		return fmt.Errorf("aggregator: %w", err)
	}
	rtr := router.New(reg)

	// --- Policy / Tasks / Approval ---
	resolver := service.NewPolicyResolver(st, cfg.Policy)
	tasks := service.NewTaskManager(st)
	channel := approvalchat.New(st, cfg.Approval.PairingSecretHash, cfg.Approval.DigestWindow, cfg.Approval.DigestMaxNotices, log)
	channel.WarnIfUnpairedAfter(ctx, cfg.Approval.SlowStartWarning)
	if cfg.Approval.SlackWebhookURL != "" {
		channel.SetFallbackNotifier(approvalchat.NewSlackNotifier(cfg.Approval.SlackWebhookURL))
		log.Info("slack fallback notifications enabled")
	}

	executor := service.NewExecutor(tasks, rtr, replacements, channel, st, log)
	decisions := service.NewDecisionProcessor(channel, tasks, st, executor, cfg.Approval.GrantShortTTL, cfg.Approval.GrantLongTTL, log)
	cleanup := service.NewCleanupLoop(st, cfg.Cleanup.Interval, cfg.Cleanup.PendingApprovalTTL, log)

	rotator := &audit.Rotator{Path: filepath.Join(cfg.State.Dir, "audit.log"), MaxBytes: maxAuditBytes, Logger: log}

	pipeline := service.NewPipeline(agg, rtr, replacements, resolver, tasks, channel, st, log)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return executor.Run(gctx, executorWorkers) })
	group.Go(func() error { return decisions.Run(gctx) })
	group.Go(func() error { return cleanup.Run(gctx) })
	group.Go(func() error { return runAuditRotation(gctx, rotator, cfg.Cleanup.Interval) })

	// --- HTTP ---
	api := httpapi.New(pipeline, cfg.Server.BearerToken, log)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(otelmw.HTTPMiddleware(cfg.Logging.Service))
	r.Use(chimw.Timeout(30 * time.Second))

	api.Routes(r, cfg.Server.MaxBodyBytes, channel.HandleWS)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group.Go(func() error {
		log.Info("starting server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	<-gctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown failed", "error", err)
	}

	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// runAuditRotation ticks the Audit Sink's rotation check at the same cadence
// as the Cleanup Loop (spec.md §4.11/§4.12 run on the same maintenance
// heartbeat), independent of CleanupLoop itself so state-cleanup and
// audit-log housekeeping stay in separate, individually testable units.
func runAuditRotation(ctx context.Context, r *audit.Rotator, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.RotateIfNeeded()
		}
	}
}
