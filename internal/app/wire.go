package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	algocrypto "github.com/algorand/go-algorand-sdk/v2/crypto"

	s3blob "github.com/alanyoungcy/algomarkets/internal/blob/s3"
	"github.com/alanyoungcy/algomarkets/internal/cache/redis"
	"github.com/alanyoungcy/algomarkets/internal/config"
	"github.com/alanyoungcy/algomarkets/internal/crypto"
	"github.com/alanyoungcy/algomarkets/internal/domain"
	"github.com/alanyoungcy/algomarkets/internal/notify"
	"github.com/alanyoungcy/algomarkets/internal/platform/algorand"
	"github.com/alanyoungcy/algomarkets/internal/store/postgres"
)

// Dependencies bundles every dependency the modes need. It is constructed by
// Wire and torn down by the returned cleanup function. Everything except
// Ledger and Notifier is optional and nil when its backend is disabled.
type Dependencies struct {
	// Ledger signs with the deployer account; read-only when no key is configured.
	Ledger domain.Ledger

	// Stores
	DeploymentStore domain.DeploymentStore
	AuditStore      domain.AuditStore

	// Deployer run lock
	LockManager domain.LockManager

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Probes are infrastructure health checks keyed by backend name.
	Probes map[string]func(context.Context) error

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

	deps := &Dependencies{Probes: map[string]func(context.Context) error{}}

	// --- Deployer account and algod ---
	var account algocrypto.Account
	if config.NeedsSigner(cfg.Mode) || hasKey(cfg.Wallet) {
		acct, err := crypto.LoadAccount(crypto.KeyConfig{
			Mnemonic:         cfg.Wallet.Mnemonic,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: deployer account: %w", err)
		}
		account = acct
	}
	client, err := algorand.New(algorand.ClientConfig{
		Address:    cfg.Algod.Address,
		Token:      cfg.Algod.Token,
		WaitRounds: cfg.Algod.WaitRounds,
	}, account, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: algod: %w", err)
	}
	deps.Ledger = client

	// --- PostgreSQL ---
	if cfg.Supabase.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.DeploymentStore = postgres.NewDeploymentStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Probes["postgres"] = pgClient.Ping
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
			Namespace:  "algomarkets:" + cfg.Algod.Network,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient, logger)
		deps.Probes["redis"] = redisClient.Ping
	}

	// --- S3 registry archive ---
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

		deps.BlobWriter = s3Client
		deps.BlobReader = s3Client
		deps.Probes["s3"] = s3Client.Health
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

func hasKey(w config.WalletConfig) bool {
	return strings.TrimSpace(w.Mnemonic) != "" || w.EncryptedKeyPath != ""
}
