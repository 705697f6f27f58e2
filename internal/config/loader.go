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
// built-in defaults, applies AGENTVAULT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AGENTVAULT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.Deployer, "AGENTVAULT_CHAIN_DEPLOYER")
	setStr(&cfg.Chain.Executor, "AGENTVAULT_CHAIN_EXECUTOR")
	setStr(&cfg.Chain.FeeCollector, "AGENTVAULT_CHAIN_FEE_COLLECTOR")
	setUint64(&cfg.Chain.FeeBps, "AGENTVAULT_CHAIN_FEE_BPS")
	setStr(&cfg.Chain.Liquidity, "AGENTVAULT_CHAIN_LIQUIDITY")
	setStr(&cfg.Chain.VenueFunding, "AGENTVAULT_CHAIN_VENUE_FUNDING")
	setBool(&cfg.Chain.Faucet, "AGENTVAULT_CHAIN_FAUCET")

	// ── Key ──
	setStr(&cfg.Key.PrivateKey, "AGENTVAULT_KEY_PRIVATE_KEY")
	setStr(&cfg.Key.EncryptedKeyPath, "AGENTVAULT_KEY_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Key.KeyPassword, "AGENTVAULT_KEY_PASSWORD")
	setStr(&cfg.Key.APIURL, "AGENTVAULT_API_URL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "AGENTVAULT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "AGENTVAULT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "AGENTVAULT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "AGENTVAULT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "AGENTVAULT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "AGENTVAULT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "AGENTVAULT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "AGENTVAULT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "AGENTVAULT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "AGENTVAULT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "AGENTVAULT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "AGENTVAULT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AGENTVAULT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AGENTVAULT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "AGENTVAULT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "AGENTVAULT_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "AGENTVAULT_REDIS_STREAM_MAX_LEN")
	setStr(&cfg.Redis.Namespace, "AGENTVAULT_REDIS_NAMESPACE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "AGENTVAULT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "AGENTVAULT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "AGENTVAULT_S3_REGION")
	setStr(&cfg.S3.Bucket, "AGENTVAULT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "AGENTVAULT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AGENTVAULT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "AGENTVAULT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "AGENTVAULT_S3_PREFIX")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "AGENTVAULT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "AGENTVAULT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "AGENTVAULT_ARCHIVE_INTERVAL")

	// ── Sequencer / Indexer ──
	setDuration(&cfg.Sequencer.LockTTL, "AGENTVAULT_SEQUENCER_LOCK_TTL")
	setInt(&cfg.Indexer.BatchSize, "AGENTVAULT_INDEXER_BATCH_SIZE")
	setDuration(&cfg.Indexer.PollInterval, "AGENTVAULT_INDEXER_POLL_INTERVAL")

	// ── Tx ──
	setBool(&cfg.Tx.RequireSignatures, "AGENTVAULT_TX_REQUIRE_SIGNATURES")
	setDuration(&cfg.Tx.MaxDeadline, "AGENTVAULT_TX_MAX_DEADLINE")
	setInt(&cfg.Tx.RateLimit, "AGENTVAULT_TX_RATE_LIMIT")
	setDuration(&cfg.Tx.RateWindow, "AGENTVAULT_TX_RATE_WINDOW")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "AGENTVAULT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "AGENTVAULT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "AGENTVAULT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "AGENTVAULT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "AGENTVAULT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "AGENTVAULT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "AGENTVAULT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "AGENTVAULT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "AGENTVAULT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "AGENTVAULT_MODE")
	setStr(&cfg.Storage, "AGENTVAULT_STORAGE")
	setStr(&cfg.LogLevel, "AGENTVAULT_LOG_LEVEL")
}

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
