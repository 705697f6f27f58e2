// Package config defines the top-level configuration for agentd and agentctl
// and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/agentvault/internal/adapter"
	"github.com/alanyoungcy/agentvault/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by AGENTVAULT_* environment variables.
type Config struct {
	Chain     ChainConfig     `toml:"chain"`
	Key       KeyConfig       `toml:"key"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Sequencer SequencerConfig `toml:"sequencer"`
	Indexer   IndexerConfig   `toml:"indexer"`
	Tx        TxConfig        `toml:"tx"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	Storage   string          `toml:"storage"`
	LogLevel  string          `toml:"log_level"`
}

// ChainConfig describes the deployment created at genesis. Amounts are
// decimal ether strings.
type ChainConfig struct {
	Deployer     string            `toml:"deployer"`
	Executor     string            `toml:"executor"`
	FeeCollector string            `toml:"fee_collector"`
	FeeBps       uint64            `toml:"fee_bps"`
	Liquidity    string            `toml:"liquidity"`
	VenueFunding string            `toml:"venue_funding"`
	Faucet       bool              `toml:"faucet"`
	Constraints  ConstraintsConfig `toml:"constraints"`
	Alloc        map[string]string `toml:"alloc"`
	Markets      []MarketConfig    `toml:"markets"`
}

// ConstraintsConfig holds the initial global trade and loss-limit bounds.
type ConstraintsConfig struct {
	MinTradeSize      string `toml:"min_trade_size"`
	MaxTradeSize      string `toml:"max_trade_size"`
	MinDailyLossLimit string `toml:"min_daily_loss_limit"`
	MaxDailyLossLimit string `toml:"max_daily_loss_limit"`
}

// MarketConfig is a market registered at genesis.
type MarketConfig struct {
	Key            string `toml:"key"`
	Name           string `toml:"name"`
	Region         string `toml:"region"`
	ProbabilityBps uint64 `toml:"probability_bps"`
}

// KeyConfig locates the signing key agentctl uses.
type KeyConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	APIURL           string `toml:"api_url"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters. When disabled, the event
// bus, rate limiter and deduper run in process.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
	Namespace    string `toml:"namespace"`
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
	Prefix         string `toml:"prefix"`
}

// ArchiveConfig controls the periodic event archive to S3.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// SequencerConfig controls the single-writer lock held in Redis.
type SequencerConfig struct {
	LockTTL duration `toml:"lock_ttl"`
}

// IndexerConfig tunes the mirror indexer.
type IndexerConfig struct {
	BatchSize    int      `toml:"batch_size"`
	PollInterval duration `toml:"poll_interval"`
}

// TxConfig controls admission of submitted transactions.
type TxConfig struct {
	RequireSignatures bool     `toml:"require_signatures"`
	MaxDeadline       duration `toml:"max_deadline"`
	RateLimit         int      `toml:"rate_limit"`
	RateWindow        duration `toml:"rate_window"`
}

// duration wraps time.Duration so it can be decoded from a TOML string such
// as "30s" or "5m".
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPI       string   `toml:"telegram_api"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
}

// Development accounts. They are the first two keys of the standard local
// test mnemonic and must never hold real funds.
const (
	DevDeployer = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	DevExecutor = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			Deployer:     DevDeployer,
			Executor:     DevExecutor,
			FeeBps:       adapter.DefaultFeeBps,
			Liquidity:    "10",
			VenueFunding: "100",
			Constraints: ConstraintsConfig{
				MinTradeSize:      "0.001",
				MaxTradeSize:      "1",
				MinDailyLossLimit: "0.01",
				MaxDailyLossLimit: "5",
			},
			Markets: []MarketConfig{
				{Key: "NIGERIA_ELECTION_2027", Name: "Nigerian Presidential Election 2027", Region: "Nigeria", ProbabilityBps: 4_200},
				{Key: "SA_POLICY_CHANGE", Name: "South Africa Mining Policy Change 2026", Region: "South Africa", ProbabilityBps: 3_500},
			},
		},
		Key: KeyConfig{
			APIURL: "http://localhost:8080",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "agentvault",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			StreamMaxLen: 10_000,
			Namespace:    "agentvault",
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "agentvault",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
			Interval:      duration{24 * time.Hour},
		},
		Sequencer: SequencerConfig{
			LockTTL: duration{15 * time.Second},
		},
		Indexer: IndexerConfig{
			BatchSize:    500,
			PollInterval: duration{time.Second},
		},
		Tx: TxConfig{
			RequireSignatures: true,
			MaxDeadline:       duration{10 * time.Minute},
			RateLimit:         30,
			RateWindow:        duration{time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"*"},
			RateLimit:   300,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			TelegramAPI:     "https://api.telegram.org",
			DiscordUsername: "agentvault",
		},
		Mode:     "node",
		Storage:  "memory",
		LogLevel: "info",
	}
}

// validModes lists the recognised operating modes.
var validModes = map[string]bool{
	"node":      true,
	"sequencer": true,
	"indexer":   true,
}

var validStorage = map[string]bool{
	"memory":   true,
	"postgres": true,
}

// validLogLevels lists the recognised log levels.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for obvious mistakes and returns a
// combined error describing every problem found. It returns nil when the
// configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: node, sequencer, indexer)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	storage := strings.ToLower(c.Storage)
	if !validStorage[storage] {
		errs = append(errs, fmt.Sprintf("unknown storage %q (valid: memory, postgres)", c.Storage))
	}
	if mode == "indexer" && storage != "postgres" {
		errs = append(errs, "indexer mode reads the shared ledger and requires storage = \"postgres\"")
	}

	errs = append(errs, c.Chain.validate()...)

	// Key: the password must accompany an encrypted key file.
	if c.Key.EncryptedKeyPath != "" && c.Key.KeyPassword == "" {
		errs = append(errs, "key: key_password is required when encrypted_key_path is set")
	}

	if storage == "postgres" {
		if c.Postgres.DSN == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Sequencer.LockTTL.Duration < 3*time.Second {
			errs = append(errs, "sequencer: lock_ttl must be at least 3s")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	if c.Indexer.BatchSize < 1 {
		errs = append(errs, "indexer: batch_size must be >= 1")
	}
	if c.Indexer.PollInterval.Duration <= 0 {
		errs = append(errs, "indexer: poll_interval must be > 0")
	}

	if c.Tx.MaxDeadline.Duration <= 0 {
		errs = append(errs, "tx: max_deadline must be > 0")
	}
	if c.Tx.RateLimit < 0 {
		errs = append(errs, "tx: rate_limit must be >= 0")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c ChainConfig) validate() []string {
	var errs []string

	if !common.IsHexAddress(c.Deployer) {
		errs = append(errs, fmt.Sprintf("chain: deployer %q is not an address", c.Deployer))
	}
	if c.Executor != "" && !common.IsHexAddress(c.Executor) {
		errs = append(errs, fmt.Sprintf("chain: executor %q is not an address", c.Executor))
	}
	if c.FeeCollector != "" && !common.IsHexAddress(c.FeeCollector) {
		errs = append(errs, fmt.Sprintf("chain: fee_collector %q is not an address", c.FeeCollector))
	}
	if c.FeeBps > adapter.MaxFeeBps {
		errs = append(errs, fmt.Sprintf("chain: fee_bps must be <= %d, got %d", adapter.MaxFeeBps, c.FeeBps))
	}

	if _, err := domain.ParseEther(c.Liquidity); err != nil {
		errs = append(errs, "chain: liquidity: "+err.Error())
	}
	if _, err := domain.ParseEther(c.VenueFunding); err != nil {
		errs = append(errs, "chain: venue_funding: "+err.Error())
	}

	if _, err := c.Constraints.Parse(); err != nil {
		errs = append(errs, "chain: constraints: "+err.Error())
	}

	for addr, amount := range c.Alloc {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("chain: alloc key %q is not an address", addr))
		}
		if _, err := domain.ParseEther(amount); err != nil {
			errs = append(errs, fmt.Sprintf("chain: alloc %s: %v", addr, err))
		}
	}

	seen := make(map[string]bool, len(c.Markets))
	for i, m := range c.Markets {
		if m.Key == "" {
			errs = append(errs, fmt.Sprintf("chain: markets[%d]: key must not be empty", i))
			continue
		}
		if seen[m.Key] {
			errs = append(errs, fmt.Sprintf("chain: markets[%d]: duplicate key %q", i, m.Key))
		}
		seen[m.Key] = true
		if m.ProbabilityBps >= 10_000 {
			errs = append(errs, fmt.Sprintf("chain: markets[%d]: probability_bps must be < 10000, got %d", i, m.ProbabilityBps))
		}
	}
	return errs
}

// Parse converts the bounds to wei and checks that each pair is ordered.
func (c ConstraintsConfig) Parse() (domain.MarketConstraints, error) {
	var out domain.MarketConstraints
	fields := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"min_trade_size", c.MinTradeSize, &out.MinTradeSize},
		{"max_trade_size", c.MaxTradeSize, &out.MaxTradeSize},
		{"min_daily_loss_limit", c.MinDailyLossLimit, &out.MinDailyLossLimit},
		{"max_daily_loss_limit", c.MaxDailyLossLimit, &out.MaxDailyLossLimit},
	}
	for _, f := range fields {
		v, err := domain.ParseEther(f.raw)
		if err != nil {
			return out, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	if !out.Valid() {
		return out, fmt.Errorf("min must not exceed max for trade size and daily loss limit")
	}
	return out, nil
}
