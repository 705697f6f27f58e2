package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/agentvault/internal/blob/s3"
	"github.com/alanyoungcy/agentvault/internal/cache/redis"
	"github.com/alanyoungcy/agentvault/internal/config"
	"github.com/alanyoungcy/agentvault/internal/domain"
	"github.com/alanyoungcy/agentvault/internal/notify"
	"github.com/alanyoungcy/agentvault/internal/server/handler"
	"github.com/alanyoungcy/agentvault/internal/store/memory"
	"github.com/alanyoungcy/agentvault/internal/store/postgres"
	"github.com/alanyoungcy/agentvault/internal/system"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Ledger domain.LedgerStore
	Mirror domain.MirrorStore
	Audit  domain.AuditStore

	// Coordination. LockManager is nil without Redis.
	RateLimiter domain.RateLimiter
	Deduper     domain.Deduper
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Archiver is nil unless archival is enabled.
	Archiver domain.Archiver

	Notifier *notify.Notifier

	// Pingers are reported by the health endpoint.
	Pingers map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Pingers: make(map[string]handler.Pinger)}

	// --- Stores ---
	if strings.EqualFold(cfg.Storage, "postgres") {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Ledger = postgres.NewLedgerStore(pool)
		deps.Mirror = postgres.NewMirrorStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Pingers["postgres"] = pgClient
	} else {
		logger.WarnContext(ctx, "wire: using in-memory storage; state is lost on restart")
		deps.Ledger = memory.NewLedgerStore()
		deps.Mirror = memory.NewMirrorStore()
		deps.Audit = memory.NewAuditStore()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Deduper = redis.NewDeduper(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBusWithMaxLen(redisClient, cfg.Redis.StreamMaxLen)
		deps.Pingers["redis"] = redisClient
	} else {
		deps.RateLimiter = memory.NewRateLimiter()
		deps.Deduper = memory.NewDeduper()
		deps.SignalBus = memory.NewSignalBus()
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Pingers["s3"] = s3Client

		if cfg.Archive.Enabled {
			deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Ledger, deps.Audit)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPI,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// ChainParams converts the validated chain section into deployment
// parameters.
func ChainParams(cfg config.ChainConfig) (system.Params, error) {
	deployer := common.HexToAddress(cfg.Deployer)
	var executor common.Address
	if cfg.Executor != "" {
		executor = common.HexToAddress(cfg.Executor)
	}
	p := system.DefaultParams(deployer, executor)
	p.FeeBps = cfg.FeeBps
	p.Faucet = cfg.Faucet
	if cfg.FeeCollector != "" {
		p.FeeCollector = common.HexToAddress(cfg.FeeCollector)
	}

	var err error
	if p.Liquidity, err = domain.ParseEther(cfg.Liquidity); err != nil {
		return p, fmt.Errorf("chain params: liquidity: %w", err)
	}
	if p.VenueFunding, err = domain.ParseEther(cfg.VenueFunding); err != nil {
		return p, fmt.Errorf("chain params: venue funding: %w", err)
	}
	if p.Constraints, err = cfg.Constraints.Parse(); err != nil {
		return p, fmt.Errorf("chain params: constraints: %w", err)
	}

	if len(cfg.Alloc) > 0 {
		p.Alloc = make(map[common.Address]*big.Int, len(cfg.Alloc))
		for addr, amount := range cfg.Alloc {
			wei, err := domain.ParseEther(amount)
			if err != nil {
				return p, fmt.Errorf("chain params: alloc %s: %w", addr, err)
			}
			p.Alloc[common.HexToAddress(addr)] = wei
		}
	}

	p.Markets = make([]system.MarketSeed, 0, len(cfg.Markets))
	for _, m := range cfg.Markets {
		p.Markets = append(p.Markets, system.MarketSeed{
			Key:            m.Key,
			Name:           m.Name,
			Region:         m.Region,
			ProbabilityBps: m.ProbabilityBps,
		})
	}
	return p, nil
}
