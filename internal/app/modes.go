package app

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/simplifi-protocol/simplifi-core/internal/ledger"
	"github.com/simplifi-protocol/simplifi-core/internal/market"
	"github.com/simplifi-protocol/simplifi-core/internal/nft"
	"github.com/simplifi-protocol/simplifi-core/internal/notify"
	"github.com/simplifi-protocol/simplifi-core/internal/pipeline"
	"github.com/simplifi-protocol/simplifi-core/internal/roles"
	"github.com/simplifi-protocol/simplifi-core/internal/server"
	"github.com/simplifi-protocol/simplifi-core/internal/server/handler"
	"github.com/simplifi-protocol/simplifi-core/internal/server/ws"
	"github.com/simplifi-protocol/simplifi-core/internal/token"
)

// Core holds the wired protocol state machines. Everything hangs off the
// in-memory ledgers; the stores in Dependencies are their durable mirror.
type Core struct {
	Stable *token.Ledger
	PT     *token.Ledger
	Oracle *market.Oracle
	Router *market.Router
	Roles  *roles.Registry
	NFT    *nft.Registry
	Engine *ledger.Engine
}

func commonAddr(s string) common.Address {
	return common.HexToAddress(s)
}

// buildCore constructs the protocol state machines from configuration: the
// stable and principal token ledgers, the yield market, the role registry,
// the position NFT collection, and the strategy engine tying them together.
func (a *App) buildCore(deps *Dependencies) (*Core, error) {
	cfg := a.cfg
	deployer := cfg.DeployerAddress()

	stable := token.NewLedger(
		cfg.Protocol.StableName,
		cfg.Protocol.StableSymbol,
		uint8(cfg.Protocol.StableDecimals),
		commonAddr(cfg.Protocol.StableAddress),
		deployer,
		big.NewInt(0),
	)
	pt := token.NewLedger(
		"SimpliFi Principal Token",
		"PT-"+cfg.Protocol.StableSymbol,
		uint8(cfg.Protocol.StableDecimals),
		commonAddr(cfg.Protocol.PTAddress),
		deployer,
		big.NewInt(0),
	)

	oracle := market.NewOracle()
	if err := oracle.SetYield(pt.Address(), cfg.Strategy.YieldPercent); err != nil {
		return nil, fmt.Errorf("set oracle yield: %w", err)
	}
	if err := oracle.SetDuration(pt.Address(), cfg.Strategy.Duration.Duration); err != nil {
		return nil, fmt.Errorf("set oracle duration: %w", err)
	}

	router := market.NewRouter(commonAddr(cfg.Protocol.RouterAddress), stable, pt, oracle)

	roleReg := roles.NewRegistry(deployer, deps.SignalBus, deps.AuditStore, a.logger)
	nftReg := nft.NewRegistry(deployer, cfg.NFT.BaseURI, deps.SignalBus, a.logger)

	engine, err := ledger.NewEngine(
		commonAddr(cfg.Protocol.EngineAddress),
		cfg.Fees.ProtocolFeePoints,
		cfg.Fees.CGPFeePoints,
		ledger.Deps{
			Roles:    roleReg,
			Router:   router,
			Oracle:   oracle,
			NFT:      nftReg,
			Stable:   stable,
			PosStore: deps.PositionStore,
			FeeStore: deps.FeeStore,
			Audit:    deps.AuditStore,
			Bus:      deps.SignalBus,
			Logger:   a.logger,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	// Only the engine may mint and burn position tokens.
	if err := nftReg.SetStrategyContract(deployer, engine.Address()); err != nil {
		return nil, fmt.Errorf("bind strategy contract: %w", err)
	}

	return &Core{
		Stable: stable,
		PT:     pt,
		Oracle: oracle,
		Router: router,
		Roles:  roleReg,
		NFT:    nftReg,
		Engine: engine,
	}, nil
}

// ServerMode runs the HTTP API, WebSocket hub, and notification bridge.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, core *Core) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startNotifyBridge(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, core, nil)

	return g.Wait()
}

// FullMode runs everything server mode does plus the archival pipeline.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, core *Core) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startNotifyBridge(ctx, g, deps)

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(
			deps.Archiver,
			deps.LockManager,
			a.cfg.Pipeline.ArchiveInterval.Duration,
			a.cfg.Pipeline.ArchiveRetentionDays,
			a.logger,
		)
		g.Go(func() error {
			err := archiver.RunPeriodic(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	} else if a.cfg.Pipeline.Enabled {
		a.logger.WarnContext(ctx, "full mode: archival pipeline disabled, S3 or Postgres missing")
	}

	a.startHTTPServer(ctx, g, deps, core, archiver)

	return g.Wait()
}

// startNotifyBridge forwards fee events from the bus to the configured
// notification channels.
func (a *App) startNotifyBridge(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	bridge := notify.NewBridge(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		err := bridge.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. Audit and archive endpoints are registered only when their
// backing dependencies are wired; archiver may be nil.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	core *Core,
	archiver *pipeline.Archiver,
) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled by configuration")
		return
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		ActivePosCount: core.Engine.GetAllActivePositionsCount,
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(a.logger),
		Status:      handler.NewStatusHandler(a.cfg.Mode, time.Now().UTC(), core.Engine.GetAllActivePositionsCount),
		Token:       handler.NewTokenHandler(core.Stable, core.Roles, a.logger),
		Roles:       handler.NewRoleHandler(core.Roles, a.logger),
		Strategy:    handler.NewStrategyHandler(core.Engine, a.logger),
		Positions:   handler.NewPositionHandler(core.Engine, a.logger),
		Fees:        handler.NewFeeHandler(core.Engine, a.logger),
		Marketplace: handler.NewMarketplaceHandler(core.Engine, a.logger),
		NFT:         handler.NewNFTHandler(core.NFT, a.logger),
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}
	if deps.BlobReader != nil {
		ah := handler.NewArchiveHandler(deps.BlobReader, a.logger)
		if archiver != nil {
			ah = ah.WithTriggerChannel(archiver.TriggerChannel())
		}
		handlers.Archive = ah
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimiter:     deps.RateLimiter,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, a.logger)

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
