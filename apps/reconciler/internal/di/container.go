package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/eligibility"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/handler"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/ledger"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/middleware"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/projection"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/reconcile"
	"github.com/yugo-dao/yugo-sync/apps/reconciler/internal/worker"
	"github.com/yugo-dao/yugo-sync/pkg/chain"
	"github.com/yugo-dao/yugo-sync/pkg/config"
	"github.com/yugo-dao/yugo-sync/pkg/database"
	"github.com/yugo-dao/yugo-sync/pkg/kafka"
	"github.com/yugo-dao/yugo-sync/pkg/logger"
	pkgredis "github.com/yugo-dao/yugo-sync/pkg/redis"
	"github.com/yugo-dao/yugo-sync/pkg/saga"
	"go.uber.org/zap"
)

// Container holds all dependencies for the reconciler
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	// Infrastructure, nil when not configured
	DB        *database.PostgresDB
	Redis     *pkgredis.Client
	Producer  *kafka.Producer
	EthClient *ethclient.Client

	// Stores
	Store  projection.Store
	Client *projection.Client
	States saga.StateStore

	// Core
	Caller      string
	Gateway     ledger.Gateway
	Projector   *eligibility.Projector
	Engine      *reconcile.Engine
	Refresher   *worker.ProjectionRefresher
	RateLimiter middleware.Limiter

	// Handlers
	HealthHandler *handler.HealthHandler
	IntentHandler *handler.IntentHandler
	ViewHandler   *handler.ViewHandler

	closers []func()
}

// NewContainer connects the configured backends and wires the engine.
// Anything opened before a failure is closed again.
func NewContainer(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	if log == nil {
		log = logger.NewNop()
	}
	c := &Container{Config: cfg, Logger: log}
	if err := c.build(ctx); err != nil {
		c.Close(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context) (err error) {
	cfg, log := c.Config, c.Logger

	usePostgres := cfg.Store.Backend == config.StoreBackendPostgres
	checks := map[string]handler.HealthChecker{}

	if usePostgres {
		c.DB, err = database.NewPostgres(ctx, database.FromConfig(&cfg.Database))
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		c.closers = append(c.closers, c.DB.Close)
		checks["postgres"] = c.DB
	}

	if usePostgres || cfg.Server.RateLimitRedis {
		c.Redis, err = pkgredis.NewClient(ctx, pkgredis.FromConfig(&cfg.Redis))
		if err != nil {
			return err
		}
		c.closers = append(c.closers, func() { _ = c.Redis.Close() })
		checks["redis"] = c.Redis
	}

	if cfg.Kafka.Enabled {
		c.Producer, err = kafka.NewProducer(kafka.FromConfig(&cfg.Kafka))
		if err != nil {
			return fmt.Errorf("failed to create kafka producer: %w", err)
		}
		c.closers = append(c.closers, c.Producer.Close)
		checks["kafka"] = handler.HealthCheckFunc(c.Producer.Ping)
	}

	if err = c.initStores(ctx, usePostgres); err != nil {
		return err
	}
	if err = c.initGateway(ctx); err != nil {
		return err
	}

	c.Projector = eligibility.NewProjector(eligibility.Config{Caller: c.Caller})

	engineCfg := reconcile.Config{
		Gateway:           c.Gateway,
		Store:             c.Client,
		Projector:         c.Projector,
		States:            c.States,
		Caller:            c.Caller,
		SettlementTimeout: cfg.Ledger.SettlementTimeout,
		Logger:            log,
	}
	if c.Producer != nil {
		engineCfg.Publisher = c.Producer
	}
	if c.Redis != nil {
		engineCfg.Guard = c.Redis
	}
	c.Engine, err = reconcile.NewEngine(engineCfg)
	if err != nil {
		return err
	}

	c.Refresher = worker.NewProjectionRefresher(c.Client, c.Projector, log, nil)
	c.initRateLimiter()

	c.HealthHandler = handler.NewHealthHandler(c.Caller, c.Engine.InFlight, checks)
	c.IntentHandler = handler.NewIntentHandler(c.Engine, cfg.Server.WriteTimeout)
	c.ViewHandler = handler.NewViewHandler(c.Refresher)

	log.Info("container ready",
		zap.String("caller", c.Caller),
		zap.String("gateway", c.Gateway.Name()),
		zap.String("store", cfg.Store.Backend),
		zap.Bool("kafka", c.Producer != nil),
		zap.Bool("settlement_guard", c.Redis != nil),
	)
	return nil
}

func (c *Container) initStores(ctx context.Context, usePostgres bool) error {
	if !usePostgres {
		mem := projection.NewMemoryStore()
		c.closers = append(c.closers, func() { _ = mem.Close() })
		c.Store = mem
		c.Client = projection.NewClient(mem)
		c.States = saga.NewMemoryStateStore()
		return nil
	}

	feed := projection.NewRedisFeed(c.Redis.Client, c.Config.Store.ChannelPrefix)
	pg := projection.NewPostgresStore(c.DB.Pool(), feed)
	if err := pg.EnsureSchema(ctx); err != nil {
		return err
	}
	states := saga.NewPostgresStateStore(c.DB.Pool())
	if err := states.EnsureSchema(ctx); err != nil {
		return err
	}

	c.Store = pg
	c.Client = projection.NewClient(pg)
	c.States = states
	return nil
}

// initGateway dials the chain when an RPC URL is configured. Otherwise the
// simulated gateway settles every call locally, attributed to the signer key
// or to a throwaway key.
func (c *Container) initGateway(ctx context.Context) error {
	lc := &c.Config.Ledger
	if lc.Enabled() {
		gw, client, err := ledger.DialEthGateway(ctx, lc, c.Logger)
		if err != nil {
			return err
		}
		c.EthClient = client
		c.closers = append(c.closers, client.Close)
		c.Gateway = gw
		c.Caller = gw.From()
		return nil
	}

	caller, err := signerAddress(lc.SignerKey)
	if err != nil {
		return err
	}
	if lc.SignerKey == "" {
		c.Logger.Warn("no signer key configured, using a throwaway identity", zap.String("caller", caller))
	}
	c.Caller = caller
	c.Gateway = ledger.NewMemoryGateway(ledger.SimulatedResponder(caller))
	return nil
}

func signerAddress(hexKey string) (string, error) {
	if hexKey == "" {
		key, err := crypto.GenerateKey()
		if err != nil {
			return "", err
		}
		return chain.FromAddress(crypto.PubkeyToAddress(key.PublicKey)), nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid signer key: %w", err)
	}
	return chain.FromAddress(crypto.PubkeyToAddress(key.PublicKey)), nil
}

func (c *Container) initRateLimiter() {
	sc := c.Config.Server
	if sc.RateLimitRPS <= 0 {
		return
	}
	rl := c.rateLimitConfig()
	if sc.RateLimitRedis && c.Redis != nil {
		c.RateLimiter = middleware.NewRedisRateLimiter(c.Redis, rl)
		return
	}
	local := middleware.NewLocalRateLimiter(rl)
	c.closers = append(c.closers, local.Stop)
	c.RateLimiter = local
}

func (c *Container) rateLimitConfig() middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = c.Config.Server.RateLimitRPS
	if c.Config.Server.RateLimitBurst > 0 {
		rl.BurstSize = c.Config.Server.RateLimitBurst
	}
	return rl
}

// Router builds the HTTP router with every route mounted
func (c *Container) Router() *gin.Engine {
	if !c.Config.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Tracing(), middleware.AccessLog(c.Logger.Named("http")))

	var submit []gin.HandlerFunc
	if c.RateLimiter != nil {
		submit = append(submit, middleware.RateLimiter(c.RateLimiter, c.rateLimitConfig(), c.Logger))
	}
	handler.RegisterRoutes(r, c.HealthHandler, c.IntentHandler, c.ViewHandler, submit...)
	return r
}

// Start begins keeping the view current
func (c *Container) Start(ctx context.Context) error {
	if err := c.Refresher.Start(ctx); err != nil && !errors.Is(err, worker.ErrAlreadyRunning) {
		return err
	}
	return nil
}

// Close drains the engine, stops the refresher and releases every backend in
// reverse order of opening
func (c *Container) Close(ctx context.Context) {
	if c.Engine != nil {
		drainCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := c.Engine.Close(drainCtx); err != nil {
			c.Logger.Warn("intents still in flight at shutdown", zap.Int("in_flight", c.Engine.InFlight()), zap.Error(err))
		}
		cancel()
	}
	if c.Refresher != nil {
		c.Refresher.Stop()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
