package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropsTypedAccessors(t *testing.T) {
	p := Props{
		KeyOrderAliveTime:   "5000",
		KeyOrderRiskRate:    "0.001",
		KeyMinOrderQuantity: "0.0001",
		KeyMaxPositionQty1K: "100",
	}

	alive, err := p.OrderAliveTime()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, alive)

	rate, err := p.OrderRiskRate()
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.001")))

	maxPos, err := p.MaxPositionQuantity()
	require.NoError(t, err)
	assert.True(t, maxPos.Equal(decimal.NewFromInt(100000)))

	delta, err := p.StatDelta()
	require.NoError(t, err)
	assert.True(t, delta.Equal(DefaultStatDelta))
}

func TestPropsMalformedValue(t *testing.T) {
	p := Props{KeyOrderAliveTime: "soon"}
	_, err := p.OrderAliveTime()
	require.Error(t, err)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_WALLEX_KEY", "secret-key")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
mode: "paper"
accounts:
  - name: "main"
    venue: "sim"
    api_key: "${TEST_WALLEX_KEY}"
strategies:
  - id: 1
    name: "quoter"
    executor: "spread-quoter"
    account: "main"
    enabled: true
    symbols: ["BTC-USDT"]
    props:
      order_alive_time: "100"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load([]string{"-config", path})
	require.NoError(t, err)
	assert.Equal(t, "paper", cfg.Mode)
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "secret-key", cfg.Accounts[0].APIKey)
	require.Len(t, cfg.Strategies, 1)
	assert.Equal(t, "1/quoter", cfg.Strategies[0].Identity())
}

func TestValidateRejectsUnknownAccount(t *testing.T) {
	cfg := Config{
		Mode:     "live",
		Accounts: []AccountConfig{{Name: "main", Venue: "sim"}},
		Strategies: []StrategyConfig{
			{ID: 1, Name: "quoter", Executor: "spread-quoter", Account: "ghost"},
		},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicateStrategy(t *testing.T) {
	cfg := Config{
		Mode:     "live",
		Accounts: []AccountConfig{{Name: "main", Venue: "sim"}},
		Strategies: []StrategyConfig{
			{ID: 1, Name: "quoter", Executor: "spread-quoter", Account: "main"},
			{ID: 1, Name: "other", Executor: "spread-quoter", Account: "main"},
		},
	}
	require.Error(t, cfg.Validate())
}

func TestCloneDoesNotAlias(t *testing.T) {
	orig := StrategyConfig{
		ID: 1, Name: "quoter", Executor: "spread-quoter", Account: "main",
		Props: Props{KeyStatDelta: "0.2"},
	}
	cp := orig.Clone()
	cp.Props[KeyStatDelta] = "0.5"
	assert.Equal(t, "0.2", orig.Props[KeyStatDelta])
}
