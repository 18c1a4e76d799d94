package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/guiIerme/JobFinder-sub003/internal/adapter/identity"
	"github.com/guiIerme/JobFinder-sub003/internal/adapter/llm"
	"github.com/guiIerme/JobFinder-sub003/internal/adapter/notify"
	"github.com/guiIerme/JobFinder-sub003/internal/analytics"
	"github.com/guiIerme/JobFinder-sub003/internal/assembler"
	"github.com/guiIerme/JobFinder-sub003/internal/bus"
	"github.com/guiIerme/JobFinder-sub003/internal/chat"
	"github.com/guiIerme/JobFinder-sub003/internal/config"
	"github.com/guiIerme/JobFinder-sub003/internal/hub"
	internalhttp "github.com/guiIerme/JobFinder-sub003/internal/http"
	"github.com/guiIerme/JobFinder-sub003/internal/knowledge"
	"github.com/guiIerme/JobFinder-sub003/internal/logging"
	"github.com/guiIerme/JobFinder-sub003/internal/pipeline"
	"github.com/guiIerme/JobFinder-sub003/internal/policy"
	"github.com/guiIerme/JobFinder-sub003/internal/ratelimit"
	"github.com/guiIerme/JobFinder-sub003/internal/repository"
	"github.com/guiIerme/JobFinder-sub003/internal/session"
	"github.com/guiIerme/JobFinder-sub003/internal/transport/rpc"
	"github.com/guiIerme/JobFinder-sub003/internal/ws"
)

const (
	maintenanceInterval = time.Minute
	shutdownTimeout     = 15 * time.Second
)

var policyFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the assistant gateway",
	Long: `Start the WebSocket gateway, the internal HTTP API and, when RPC_PORT
is set, the JSON-RPC push endpoint. Configuration comes from the environment
and an optional .env file.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&policyFile, "policy", "", "Rego file overriding the default escalation policy")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("version", Version).
		Int("ws_port", cfg.WSPort).
		Int("http_port", cfg.HTTPPort).
		Int("rpc_port", cfg.RPCPort).
		Str("mode", cfg.AssistantMode).
		Msg("starting assistant gateway")

	repo, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repo.Close()

	metrics := analytics.NewMetrics()
	recorder := analytics.NewRecorder(repo, metrics)
	notifier := notify.NewClient(cfg.NotifierAddr)
	defer notifier.Wait()

	sessions := session.New(repo,
		session.WithFinalizer(recorder),
		session.WithNotifier(notifier),
		session.WithRetention(cfg.SessionRetention),
	)

	idx := knowledge.NewIndex(repo)
	defer idx.Close()
	if err := idx.LoadDefaults(ctx); err != nil {
		return err
	}

	policySource, err := readPolicy(policyFile)
	if err != nil {
		return err
	}
	engine, err := policy.NewEngine(ctx, policySource)
	if err != nil {
		return err
	}

	gen := llm.NewGenerator(cfg.AssistantMode, cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout)
	pipe := pipeline.New(gen, assembler.New(idx, cfg.KnowledgeTopK, cfg.HistoryTurns), pipeline.Config{
		Model:              cfg.LLMModel,
		Timeout:            cfg.LLMTimeout,
		CacheTTL:           cfg.CacheTTL,
		BreakerThreshold:   cfg.BreakerThreshold,
		BreakerCooldown:    cfg.BreakerCooldown,
		BreakerMaxCooldown: cfg.BreakerMaxCooldown,
	}, metrics)

	messageBus := bus.NewInProcess()
	defer messageBus.Close()
	connectionHub := hub.NewHub(ctx, messageBus, metrics)

	svc := chat.New(chat.Config{
		HistoryTurns: cfg.HistoryTurns,
		Contacts: chat.Contacts{
			Email: cfg.SupportEmail,
			Phone: cfg.SupportPhone,
			Hours: cfg.SupportHours,
		},
	}, sessions, pipe, engine, recorder, connectionHub, metrics)

	auth, err := newGate(cfg)
	if err != nil {
		return err
	}
	limiter := ratelimit.New(cfg.RateLimit, cfg.RateWindow)

	wsServer := ws.NewServer(cfg, connectionHub, auth, svc, limiter, metrics)
	wsEcho := echo.New()
	wsEcho.HideBanner = true
	wsEcho.HidePort = true
	wsEcho.Use(middleware.Logger())
	wsEcho.Use(middleware.Recover())
	wsEcho.GET("/ws", wsServer.HandleWebSocket)

	httpServer := internalhttp.NewServer(
		internalhttp.NewHandler(svc, idx, recorder, connectionHub, metrics.Handler()),
		cfg.AdminAPIKey,
	)

	var rpcServer *rpc.Server
	if cfg.RPCPort > 0 {
		if rpcServer, err = rpc.NewServer(connectionHub); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.WSPort)
		logging.Info().Str("addr", addr).Msg("websocket server listening")
		return ignoreClosed(wsEcho.Start(addr))
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logging.Info().Str("addr", addr).Msg("internal http server listening")
		return ignoreClosed(httpServer.Start(addr))
	})
	if rpcServer != nil {
		g.Go(func() error {
			addr := fmt.Sprintf(":%d", cfg.RPCPort)
			logging.Info().Str("addr", addr).Msg("rpc server listening")
			return rpcServer.Start(addr)
		})
	}
	g.Go(func() error {
		sessions.RunCleanup(gctx, cfg.CleanupInterval)
		return nil
	})
	g.Go(func() error {
		runMaintenance(gctx, limiter, pipe.Cache())
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Info().Msg("shutting down assistant gateway")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		errs = append(errs, wsEcho.Shutdown(shutdownCtx), httpServer.Shutdown(shutdownCtx))
		if rpcServer != nil {
			errs = append(errs, rpcServer.Shutdown(shutdownCtx))
		}
		svc.Wait()
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logging.Info().Msg("assistant gateway stopped")
	return nil
}

func newGate(cfg *config.Config) (*identity.Gate, error) {
	var provider identity.Provider
	switch {
	case cfg.IdentityURL != "":
		provider = identity.NewHTTPProvider(cfg.IdentityURL)
	case cfg.StaticTokens != "":
		static, err := identity.ParseStaticTokens(cfg.StaticTokens)
		if err != nil {
			return nil, fmt.Errorf("parse STATIC_TOKENS: %w", err)
		}
		provider = static
	default:
		logging.Warn().Msg("no identity provider configured, only anonymous access is possible")
	}
	return identity.NewGate(provider, cfg.AllowAnonymous), nil
}

// runMaintenance drops idle rate windows and expired cache entries.
func runMaintenance(ctx context.Context, limiter *ratelimit.Limiter, cache *pipeline.Cache) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			windows := limiter.Sweep()
			entries := cache.Sweep()
			if windows > 0 || entries > 0 {
				logging.Debug().Int("rate_windows", windows).Int("cache_entries", entries).Msg("maintenance sweep")
			}
		}
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
