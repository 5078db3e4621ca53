// Package config defines the top-level configuration for the algomarkets
// operator tooling and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/algomarkets/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ALGOMARKETS_* environment variables.
type Config struct {
	Algod      AlgodConfig      `toml:"algod"`
	Wallet     WalletConfig     `toml:"wallet"`
	Deploy     DeployConfig     `toml:"deploy"`
	Settlement SettlementConfig `toml:"settlement"`
	Supabase   SupabaseConfig   `toml:"supabase"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// AlgodConfig holds the node endpoint the tooling talks to.
type AlgodConfig struct {
	Address    string `toml:"address"`
	Token      string `toml:"token"`
	Network    string `toml:"network"`
	WaitRounds uint64 `toml:"wait_rounds"`
}

// WalletConfig holds the deployer/operator credentials.
type WalletConfig struct {
	Mnemonic         string `toml:"mnemonic"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// DeployConfig holds the market deployment parameters.
type DeployConfig struct {
	ApprovalPath string             `toml:"approval_path"`
	ClearPath    string             `toml:"clear_path"`
	GlobalSchema domain.StateSchema `toml:"global_schema"`
	LocalSchema  domain.StateSchema `toml:"local_schema"`
	ExtraPages   uint32             `toml:"extra_pages"`
	// FundAmount is paid to every new application so it can hold boxes.
	FundAmount   uint64   `toml:"fund_amount"`
	AvgBlockTime duration `toml:"avg_block_time"`
	RegistryPath string   `toml:"registry_path"`
	CatalogPath  string   `toml:"catalog_path"`
	LockTTL      duration `toml:"lock_ttl"`
}

// SettlementConfig holds the revenue contract parameters.
type SettlementConfig struct {
	RevenueAppID uint64 `toml:"revenue_app_id"`
	EpochFile    string `toml:"epoch_file"`
	FundMargin   uint64 `toml:"fund_margin"`
	MarkSettled  bool   `toml:"mark_settled"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "4.5s", "10m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Algod: AlgodConfig{
			Address:    "http://localhost:4001",
			Network:    "localnet",
			WaitRounds: 4,
		},
		Deploy: DeployConfig{
			ApprovalPath: "contracts/market/approval.teal",
			ClearPath:    "contracts/market/clear.teal",
			GlobalSchema: domain.StateSchema{NumUint: 8, NumByteSlice: 4},
			FundAmount:   200_000,
			AvgBlockTime: duration{4500 * time.Millisecond},
			RegistryPath: "deployments/markets.json",
			LockTTL:      duration{30 * time.Minute},
		},
		Settlement: SettlementConfig{
			EpochFile:  "epoch.json",
			FundMargin: 100_000,
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   4,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "algomarkets",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"deploy_completed", "settle_completed", "error"},
		},
		Mode:     "deploy",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"deploy":  true,
	"settle":  true,
	"health":  true,
	"inspect": true,
	"delete":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsSigner reports whether the mode submits transactions.
func NeedsSigner(mode string) bool {
	switch strings.ToLower(mode) {
	case "deploy", "settle", "delete":
		return true
	default:
		return false
	}
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: deploy, settle, health, inspect, delete)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Algod
	if strings.TrimSpace(c.Algod.Address) == "" {
		errs = append(errs, "algod: address must not be empty")
	}
	if c.Algod.Network == "" {
		errs = append(errs, "algod: network must not be empty")
	}
	if c.Algod.WaitRounds == 0 {
		errs = append(errs, "algod: wait_rounds must be >= 1")
	}

	// Wallet: a signing key is required for every mode that writes to the ledger.
	if NeedsSigner(mode) {
		if c.Wallet.Mnemonic == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either mnemonic or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Deploy
	if mode == "deploy" {
		if c.Deploy.ApprovalPath == "" || c.Deploy.ClearPath == "" {
			errs = append(errs, "deploy: approval_path and clear_path must be set")
		}
		if c.Deploy.FundAmount < 100_000 {
			errs = append(errs, fmt.Sprintf("deploy: fund_amount must be >= 100000 microAlgos, got %d", c.Deploy.FundAmount))
		}
	}
	if c.Deploy.AvgBlockTime.Duration <= 0 {
		errs = append(errs, "deploy: avg_block_time must be > 0")
	}
	if c.Deploy.RegistryPath == "" {
		errs = append(errs, "deploy: registry_path must not be empty")
	}

	// Settlement
	if mode == "settle" {
		if c.Settlement.RevenueAppID == 0 {
			errs = append(errs, "settlement: revenue_app_id must be set for mode settle")
		}
		if c.Settlement.EpochFile == "" {
			errs = append(errs, "settlement: epoch_file must be set for mode settle")
		}
	}

	// Supabase
	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
