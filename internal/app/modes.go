package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/curvelabs/launchpad/internal/scheduler"
	"github.com/curvelabs/launchpad/internal/server"
	"github.com/curvelabs/launchpad/internal/server/handler"
	"github.com/curvelabs/launchpad/internal/server/ws"
	"github.com/curvelabs/launchpad/internal/service"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// services bundles the settlement services shared by the modes.
type services struct {
	curve   *service.CurveService
	grad    *service.GraduationService
	revenue *service.RevenueService
}

// buildServices constructs the settlement services from wired dependencies.
func (a *App) buildServices(deps *Dependencies) *services {
	revenue := service.NewRevenueService(
		deps.RevenueStore, deps.Chain, deps.SignalBus, deps.AuditStore,
		a.logger, service.RevenueConfig{
			PlatformAddress: a.cfg.Revenue.PlatformAddress,
			MaxRetries:      a.cfg.Revenue.MaxRetries,
			CallTimeout:     a.cfg.Revenue.CallTimeout.Duration,
		},
	)

	curve := service.NewCurveService(
		deps.AgentStore, deps.TradeStore, deps.HoldingStore, revenue,
		deps.LockManager, deps.SignalBus, deps.AuditStore,
		a.logger, service.CurveConfig{
			FeeBps:        a.cfg.Curve.FeeBps,
			CreatorFeeBps: a.cfg.Curve.CreatorFeeBps,
			LockTTL:       a.cfg.Curve.LockTTL.Duration,
		},
	)

	grad := service.NewGraduationService(
		deps.AgentStore, deps.GradStore, deps.HoldingStore, deps.Chain,
		deps.LockManager, deps.SignalBus, deps.AuditStore,
		a.logger, service.GraduationConfig{
			BatchSize:   a.cfg.Graduation.BatchSize,
			RewardBps:   a.cfg.Graduation.RewardBps,
			LockTTL:     a.cfg.Graduation.LockTTL.Duration,
			CallTimeout: a.cfg.Graduation.CallTimeout.Duration,
		},
	)

	return &services{curve: curve, grad: grad, revenue: revenue}
}

// ServerMode runs the HTTP + WebSocket API only.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

// SchedulerMode runs the background loops only: the graduation sweep, the
// revenue retry sweep, and the cold-storage archiver.
func (a *App) SchedulerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scheduler mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.startScheduler(ctx, g, deps, svcs)
	return g.Wait()
}

// FullMode runs the API and the background loops in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}
	if a.cfg.Scheduler.Enabled {
		a.startScheduler(ctx, g, deps, svcs)
	}

	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.DBPinger, deps.CachePinger, a.logger),
		Agents:     handler.NewAgentHandler(svcs.curve, a.logger),
		Trades:     handler.NewTradeHandler(svcs.curve, a.logger),
		Graduation: handler.NewGraduationHandler(svcs.grad, a.logger),
		Revenue:    handler.NewRevenueHandler(svcs.revenue, a.logger),
	}

	serverCfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}
	if a.cfg.RateLimit.Enabled {
		serverCfg.RateLimit = a.cfg.RateLimit.Requests
		serverCfg.RateLimitWindow = a.cfg.RateLimit.Window.Duration
	}

	srv := server.NewServer(serverCfg, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startScheduler adds the scheduler goroutine to the given errgroup.
func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	sched := scheduler.New(
		deps.AgentStore,
		svcs.grad,
		svcs.revenue,
		deps.Archiver,
		deps.TradeStore,
		deps.OffsetStore,
		deps.Chain,
		deps.Notifier,
		a.logger,
		scheduler.Config{
			GraduationInterval: a.cfg.Scheduler.GraduationInterval.Duration,
			RetryInterval:      a.cfg.Scheduler.RetryInterval.Duration,
			ArchiveCron:        a.cfg.Scheduler.ArchiveCron,
			RetentionDays:      a.cfg.Scheduler.ArchiveRetentionDays,
			ContractAddress:    a.cfg.Chain.ContractAddress,
		},
	)

	g.Go(func() error {
		return sched.Run(ctx)
	})
}
