package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hephyrius/selfmarket/internal/crypto"
	"github.com/hephyrius/selfmarket/internal/notify"
	"github.com/hephyrius/selfmarket/internal/server"
	"github.com/hephyrius/selfmarket/internal/server/handler"
	"github.com/hephyrius/selfmarket/internal/server/ws"
	"github.com/hephyrius/selfmarket/internal/service"
)

// services bundles the service layer built on top of the wired dependencies.
type services struct {
	markets *service.MarketService
	trades  *service.TradeService
	tokens  *service.TokenService
}

// buildServices constructs the service layer and rehydrates the in-memory
// registry from the persistent store.
func (a *App) buildServices(ctx context.Context, deps *Dependencies) (*services, error) {
	markets := service.NewMarketService(
		deps.Registry,
		deps.MarketStore,
		deps.ContributionStore,
		deps.VoteStore,
		deps.MarketCache,
		deps.SignalBus,
		deps.LockManager,
		deps.AuditStore,
		deps.Notifier,
		a.cfg.Market.Domain(),
		a.logger,
	)
	if err := markets.Rehydrate(ctx); err != nil {
		return nil, fmt.Errorf("rehydrate markets: %w", err)
	}

	trades := service.NewTradeService(markets, deps.TradeStore, deps.PriceCache, deps.SignalBus, a.logger)
	tokens := service.NewTokenService(deps.Collateral, deps.Signer.Address(), deps.FaucetAmount, a.logger)

	return &services{markets: markets, trades: trades, tokens: tokens}, nil
}

// ServeMode runs the HTTP API and WebSocket hub.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	svcs, err := a.buildServices(ctx, deps)
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

// KeeperMode runs the phase keeper and, when object storage is wired, the
// archive loop. No HTTP server is started.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")

	svcs, err := a.buildServices(ctx, deps)
	if err != nil {
		return fmt.Errorf("keeper mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startKeeper(ctx, g, svcs)
	a.startArchiveLoop(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode runs only the cold-storage archive loop.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: object storage not configured")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiveLoop(ctx, g, deps)
	return g.Wait()
}

// FullMode runs every subsystem: the HTTP API, the phase keeper, and the
// archive loop.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	svcs, err := a.buildServices(ctx, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svcs)
	a.startKeeper(ctx, g, svcs)
	a.startArchiveLoop(ctx, g, deps)
	return g.Wait()
}

// startHTTPServer adds the API server and WebSocket hub to the errgroup. The
// server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled by config")
		return
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	var operatorAuth *crypto.HMACAuth
	if a.cfg.Operator.ApiKey != "" {
		operatorAuth = &crypto.HMACAuth{
			Key:    a.cfg.Operator.ApiKey,
			Secret: a.cfg.Operator.ApiSecret,
		}
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		OperatorAuth:    operatorAuth,
		RateLimiter:     deps.RateLimiter,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Markets: handler.NewMarketHandler(svcs.markets, deps.Archiver, a.logger),
		Trades:  handler.NewTradeHandler(svcs.trades, a.logger),
		Tokens:  handler.NewTokenHandler(svcs.tokens, svcs.markets, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startKeeper adds the phase-advancing loop to the errgroup. Each tick walks
// the registry and fires every transition whose deadline has passed.
func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, svcs *services) {
	if !a.cfg.Keeper.Enabled {
		a.logger.InfoContext(ctx, "keeper disabled by config")
		return
	}

	interval := a.cfg.Keeper.Interval.Duration
	if interval <= 0 {
		interval = 30 * time.Second
	}

	g.Go(func() error {
		a.logger.InfoContext(ctx, "keeper started", slog.Duration("interval", interval))
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				advanced, err := svcs.markets.AdvanceDue(ctx)
				if err != nil {
					a.logger.ErrorContext(ctx, "keeper: advance failed",
						slog.String("error", err.Error()),
					)
					continue
				}
				if advanced > 0 {
					a.logger.InfoContext(ctx, "keeper: advanced markets",
						slog.Int("count", advanced),
					)
				}
			}
		}
	})
}

// startArchiveLoop adds the cold-storage archive loop to the errgroup. It is
// a no-op when no archiver is wired (modes without S3).
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}

	interval := a.cfg.Keeper.ArchiveInterval.Duration
	if interval <= 0 {
		interval = time.Hour
	}

	g.Go(func() error {
		a.logger.InfoContext(ctx, "archive loop started", slog.Duration("interval", interval))
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				count, err := deps.Archiver.ArchiveEnded(ctx)
				if err != nil {
					a.logger.ErrorContext(ctx, "archive: run failed",
						slog.String("error", err.Error()),
					)
					_ = deps.Notifier.Notify(ctx, notify.EventError, "Archive run failed", err.Error())
					continue
				}
				if count > 0 {
					a.logger.InfoContext(ctx, "archive: markets archived",
						slog.Int64("count", count),
					)
					_ = deps.Notifier.Notify(ctx, notify.EventArchive, "Markets archived",
						fmt.Sprintf("%d ended market(s) moved to cold storage", count))
				}
			}
		}
	})
}
