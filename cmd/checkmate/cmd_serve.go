package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/checkmate/internal/api"
	"github.com/user/checkmate/internal/blob"
	"github.com/user/checkmate/internal/capability"
	"github.com/user/checkmate/internal/config"
	"github.com/user/checkmate/internal/gateway"
	"github.com/user/checkmate/internal/orchestrator"
	"github.com/user/checkmate/internal/resilience"
	"github.com/user/checkmate/internal/session"
	"github.com/user/checkmate/internal/store"
	"github.com/user/checkmate/internal/types"
	"github.com/user/checkmate/internal/ws"
	"github.com/user/checkmate/pkg/llm"
	"github.com/user/checkmate/pkg/llm/anthropic"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the checkmate server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)
	logger := slog.Default()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Session store: redis primary with in-memory fallback; memory only
	// when redis is unreachable at startup.
	memory := store.NewMemoryStore()
	var sessionStore types.SessionStore = memory
	var redis *store.RedisStore
	if cfg.Redis.URL != "" {
		redis = store.NewRedisStore(cfg.Redis.URL)
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		err := redis.Ping(pingCtx)
		pingCancel()
		if err != nil {
			logger.Warn("redis unreachable, using in-memory session store", "error", err)
			redis = nil
		} else {
			sessionStore = store.NewFallbackStore(redis, memory, logger)
			logger.Info("redis session store connected", "url", cfg.Redis.URL)
		}
	}

	blobs := blob.NewFileStore(filepath.Join(cfg.DataDir, "frames"))

	// Resilience layer
	breakers := resilience.NewRegistry()
	exec := resilience.NewExecutor(breakers, logger)
	recoverer := resilience.NewRecoverer(logger)
	registerRecoveryActions(recoverer, cfg, redis)
	exec.SetRecoverer(recoverer)
	monitor := resilience.NewMonitor(breakers, logger)
	go monitor.Run(ctx)

	// LLM provider
	provider := anthropic.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})

	budget, err := orchestrator.NewBudgeter(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
	if err != nil {
		return fmt.Errorf("create prompt budgeter: %w", err)
	}

	// Capability registry
	caps := capability.NewRegistry(exec)
	var search *capability.WebSearch
	if cfg.SerpAPI.APIKey != "" {
		search = capability.NewWebSearch(cfg.SerpAPI.APIKey, cfg.SerpAPI.Endpoint)
		caps.Register(search)
		caps.Register(capability.NewClaimCheck(search))
		caps.Register(capability.NewReverseImage(cfg.SerpAPI.APIKey, cfg.SerpAPI.Endpoint))
	} else {
		logger.Warn("web search disabled (no serpapi key)")
	}
	caps.Register(capability.NewFetchURL())
	caps.Register(capability.NewVideoMetadata(cfg.YouTube.APIKey))

	// Sessions
	ttl := time.Duration(cfg.Redis.TTLHours) * time.Hour
	sessions := session.NewManager(sessionStore, ttl, logger)

	// Orchestrator pipeline
	managerStep := orchestrator.NewManagerStep(provider, exec, budget, logger)
	checker := orchestrator.NewChecker(provider, exec, caps, blobs, cfg.MaxToolRounds, logger)
	orch := orchestrator.New(managerStep, checker, sessions, logger)

	// Gateway
	gw := gateway.New(orch, int64(cfg.MaxConcurrent), logger)
	gw.Start(ctx)
	defer gw.Stop()

	// Connection manager
	conns := ws.NewManager(
		time.Duration(cfg.Heartbeat.IntervalSeconds)*time.Second,
		time.Duration(cfg.Heartbeat.TimeoutSeconds)*time.Second,
		logger)
	go conns.Run(ctx)
	wsh := ws.NewHandler(conns, sessions, gw, logger)

	// Session sweeper for TIME and ACTIVITY policies
	sweeper := session.NewSweeper(sessions, func(id types.SessionID, reason session.EndReason) {
		conns.Send(id, types.NewWSMessage(types.MsgSessionEnd, types.SessionEndPayload{
			Reason: string(reason),
		}))
		gw.SessionEnded(id)
	}, logger)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("start session sweeper: %w", err)
	}
	defer sweeper.Stop()

	// HTTP control surface
	opts := []api.Option{
		api.WithProbe("llm:manager", func(ctx context.Context) error {
			_, err := provider.Complete(ctx, "Reply with OK.", []llm.Message{
				{Role: "user", Content: "ping"},
			}, nil)
			return err
		}),
	}
	if search != nil {
		opts = append(opts, api.WithProbe("tool:web_search", func(ctx context.Context) error {
			_, err := search.Search(ctx, "connectivity check", 1)
			return err
		}))
	}
	if redis != nil {
		opts = append(opts, api.WithRedisPing(redis.Ping))
	}
	if strings.EqualFold(cfg.LogLevel, "debug") {
		opts = append(opts, api.WithDebug())
	}
	server := api.NewServer(sessions, wsh, conns, breakers, monitor, recoverer, logger, opts...)

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Listen,
		Handler: server.Handler(),
	}
	go func() {
		logger.Info("http server started", "listen", cfg.HTTP.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	logger.Info("checkmate started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"max_tool_rounds", cfg.MaxToolRounds,
		"llm_model", cfg.LLM.Model,
		"redis", redis != nil,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	cancel()
	gw.Queue.WaitIdle(10 * time.Second)
	return nil
}

// registerRecoveryActions installs the remediation menu for each failure
// kind. Automatic actions run after retry exhaustion; the rest are exposed
// through POST /recovery/{action}.
func registerRecoveryActions(r *resilience.Recoverer, cfg *config.Config, redis *store.RedisStore) {
	probeURL := func(ctx context.Context, url string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}

	r.Register(resilience.KindNetwork, resilience.RecoveryAction{
		Name:        "check_connectivity",
		Description: "Verify the model endpoint is reachable",
		Automatic:   true,
		Priority:    1,
		Run: func(ctx context.Context) error {
			return probeURL(ctx, cfg.LLM.BaseURL)
		},
	})
	r.Register(resilience.KindNetwork, resilience.RecoveryAction{
		Name:        "switch_to_offline_mode",
		Description: "Stop outbound calls until connectivity returns",
		Priority:    2,
	})
	r.Register(resilience.KindRateLimit, resilience.RecoveryAction{
		Name:        "exponential_backoff",
		Description: "Wait out the provider's rate limit window",
		Automatic:   true,
		Priority:    1,
		Run: func(ctx context.Context) error {
			select {
			case <-time.After(5 * time.Second):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
	r.Register(resilience.KindUnavailable, resilience.RecoveryAction{
		Name:        "health_check",
		Description: "Probe the session store and model endpoint",
		Automatic:   true,
		Priority:    1,
		Run: func(ctx context.Context) error {
			if redis != nil {
				if err := redis.Ping(ctx); err != nil {
					return err
				}
			}
			return probeURL(ctx, cfg.LLM.BaseURL)
		},
	})
	r.Register(resilience.KindUnavailable, resilience.RecoveryAction{
		Name:        "fallback_service",
		Description: "Route session reads to the in-memory store",
		Priority:    2,
	})
	r.Register(resilience.KindAuth, resilience.RecoveryAction{
		Name:        "refresh_credentials",
		Description: "Rotate the provider API key (operator action)",
	})
}
