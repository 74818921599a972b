package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/curvelabs/launchpad/internal/blob/s3"
	"github.com/curvelabs/launchpad/internal/cache/redis"
	"github.com/curvelabs/launchpad/internal/chain/evm"
	"github.com/curvelabs/launchpad/internal/chain/stub"
	"github.com/curvelabs/launchpad/internal/config"
	"github.com/curvelabs/launchpad/internal/crypto"
	"github.com/curvelabs/launchpad/internal/domain"
	"github.com/curvelabs/launchpad/internal/notify"
	"github.com/curvelabs/launchpad/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	AgentStore   domain.AgentStore
	TradeStore   domain.TradeStore
	HoldingStore domain.HoldingStore
	GradStore    domain.GraduationStore
	RevenueStore domain.RevenueStore
	OffsetStore  domain.IndexerOffsetStore
	AuditStore   domain.AuditStore

	// Caches
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// External ledger
	Chain domain.ChainClient

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Health probes
	DBPinger    *postgres.Client
	CachePinger *redis.Client

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
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
	deps.AgentStore = postgres.NewAgentStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.HoldingStore = postgres.NewHoldingStore(pool)
	deps.GradStore = postgres.NewGraduationStore(pool)
	deps.RevenueStore = postgres.NewRevenueStore(pool)
	deps.OffsetStore = postgres.NewIndexerOffsetStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.DBPinger = pgClient

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.CachePinger = redisClient

	// --- External ledger ---
	if cfg.Chain.Stub {
		deps.Chain = stub.New()
	} else {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Chain.PrivateKey,
			EncryptedKeyPath: cfg.Chain.EncryptedKeyPath,
			KeyPassword:      cfg.Chain.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: resolve operator key: %w", err)
		}
		evmClient, err := evm.New(evm.Config{
			RPCURL:          cfg.Chain.RPCURL,
			ContractAddress: cfg.Chain.ContractAddress,
			ChainID:         cfg.Chain.ChainID,
			PrivateKeyHex:   keyHex,
			ConfirmTimeout:  cfg.Chain.ConfirmTimeout.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: evm: %w", err)
		}
		closers = append(closers, evmClient.Close)
		deps.Chain = evmClient
	}

	// --- S3 blob storage (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.TradeStore,
			deps.AuditStore,
			deps.AgentStore,
			deps.GradStore,
			deps.AuditStore,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
