package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

func TestDefaults_Validate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	c, err := cfg.Chain.Constraints.Parse()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultConstraints(), c)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Chain.Deployer = "nope"
	cfg.Chain.FeeBps = 5_000
	cfg.Chain.Liquidity = "-1"
	cfg.Chain.Constraints.MinTradeSize = "2"
	cfg.Chain.Markets = append(cfg.Chain.Markets, MarketConfig{Key: "SA_POLICY_CHANGE"})
	cfg.Archive.Enabled = true
	cfg.Notify.TelegramToken = "token"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`deployer "nope"`,
		"fee_bps must be <= 1000",
		"chain: liquidity",
		"chain: constraints: min must not exceed max",
		`duplicate key "SA_POLICY_CHANGE"`,
		"archive: requires s3.enabled",
		"telegram_token and telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_IndexerNeedsPostgres(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "indexer"
	require.ErrorContains(t, cfg.Validate(), "requires storage")

	cfg.Storage = "postgres"
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentvault.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "sequencer"

[chain]
fee_bps = 50

[[chain.markets]]
key = "KENYA_RATE_CUT"
name = "Kenya Rate Cut"
region = "Kenya"
probability_bps = 6000

[tx]
max_deadline = "2m"
`), 0o600))

	t.Setenv("AGENTVAULT_SERVER_PORT", "9090")
	t.Setenv("AGENTVAULT_NOTIFY_EVENTS", "AgentCreated, GlobalTradingPaused")
	t.Setenv("AGENTVAULT_TX_RATE_LIMIT", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sequencer", cfg.Mode)
	assert.Equal(t, uint64(50), cfg.Chain.FeeBps)
	require.Len(t, cfg.Chain.Markets, 1)
	assert.Equal(t, "KENYA_RATE_CUT", cfg.Chain.Markets[0].Key)
	assert.Equal(t, 2*time.Minute, cfg.Tx.MaxDeadline.Duration)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"AgentCreated", "GlobalTradingPaused"}, cfg.Notify.Events)
	assert.Equal(t, 30, cfg.Tx.RateLimit, "unparsable override is ignored")
	assert.Equal(t, DevDeployer, cfg.Chain.Deployer)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Key.PrivateKey = "0xabc"
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "admin"
	cfg.Chain.Alloc = map[string]string{DevExecutor: "1"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Key.PrivateKey)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Redis.Password)

	out.Chain.Alloc[DevExecutor] = "99"
	out.Chain.Markets[0].Key = "CHANGED"
	assert.Equal(t, "1", cfg.Chain.Alloc[DevExecutor])
	assert.Equal(t, "NIGERIA_ELECTION_2027", cfg.Chain.Markets[0].Key)
	assert.Equal(t, "0xabc", cfg.Key.PrivateKey)
}
