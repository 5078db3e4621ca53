package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ALGOMARKETS_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ALGOMARKETS_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject the deployer mnemonic at run time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Algod ──
	setStr(&cfg.Algod.Address, "ALGOMARKETS_ALGOD_ADDRESS")
	setStr(&cfg.Algod.Address, "ALGOD_SERVER") // algokit compatibility alias
	setStr(&cfg.Algod.Token, "ALGOMARKETS_ALGOD_TOKEN")
	setStr(&cfg.Algod.Token, "ALGOD_TOKEN") // algokit compatibility alias
	setStr(&cfg.Algod.Network, "ALGOMARKETS_ALGOD_NETWORK")
	setUint64(&cfg.Algod.WaitRounds, "ALGOMARKETS_ALGOD_WAIT_ROUNDS")

	// ── Wallet ──
	setStr(&cfg.Wallet.Mnemonic, "ALGOMARKETS_WALLET_MNEMONIC")
	setStr(&cfg.Wallet.Mnemonic, "DEPLOYER_MNEMONIC") // compatibility alias
	setStr(&cfg.Wallet.EncryptedKeyPath, "ALGOMARKETS_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "ALGOMARKETS_WALLET_KEY_PASSWORD")

	// ── Deploy ──
	setStr(&cfg.Deploy.ApprovalPath, "ALGOMARKETS_DEPLOY_APPROVAL_PATH")
	setStr(&cfg.Deploy.ClearPath, "ALGOMARKETS_DEPLOY_CLEAR_PATH")
	setUint64(&cfg.Deploy.FundAmount, "ALGOMARKETS_DEPLOY_FUND_AMOUNT")
	setDuration(&cfg.Deploy.AvgBlockTime, "ALGOMARKETS_DEPLOY_AVG_BLOCK_TIME")
	setStr(&cfg.Deploy.RegistryPath, "ALGOMARKETS_DEPLOY_REGISTRY_PATH")
	setStr(&cfg.Deploy.CatalogPath, "ALGOMARKETS_DEPLOY_CATALOG_PATH")
	setDuration(&cfg.Deploy.LockTTL, "ALGOMARKETS_DEPLOY_LOCK_TTL")

	// ── Settlement ──
	setUint64(&cfg.Settlement.RevenueAppID, "ALGOMARKETS_SETTLEMENT_REVENUE_APP_ID")
	setStr(&cfg.Settlement.EpochFile, "ALGOMARKETS_SETTLEMENT_EPOCH_FILE")
	setUint64(&cfg.Settlement.FundMargin, "ALGOMARKETS_SETTLEMENT_FUND_MARGIN")
	setBool(&cfg.Settlement.MarkSettled, "ALGOMARKETS_SETTLEMENT_MARK_SETTLED")

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "ALGOMARKETS_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "ALGOMARKETS_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "ALGOMARKETS_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "ALGOMARKETS_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "ALGOMARKETS_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "ALGOMARKETS_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "ALGOMARKETS_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "ALGOMARKETS_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "ALGOMARKETS_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "ALGOMARKETS_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "ALGOMARKETS_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ALGOMARKETS_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ALGOMARKETS_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ALGOMARKETS_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ALGOMARKETS_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "ALGOMARKETS_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ALGOMARKETS_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ALGOMARKETS_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ALGOMARKETS_S3_REGION")
	setStr(&cfg.S3.Bucket, "ALGOMARKETS_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ALGOMARKETS_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ALGOMARKETS_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ALGOMARKETS_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ALGOMARKETS_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ALGOMARKETS_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ALGOMARKETS_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ALGOMARKETS_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ALGOMARKETS_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ALGOMARKETS_MODE")
	setStr(&cfg.LogLevel, "ALGOMARKETS_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
