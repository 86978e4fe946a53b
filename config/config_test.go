package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polycopy/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_KeepsDefaultsForMissingKeys(t *testing.T) {
	path := writeConfig(t, "bot:\n  max_trade_amount: 40\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 40.0, cfg.Bot.MaxTradeAmount)
	assert.True(t, cfg.Bot.SkipOppositeSide, "bool default must survive a partial YAML")
	assert.True(t, cfg.Activity.SkipHistoryOnStart)
	assert.Equal(t, 5*time.Second, cfg.Bot.PollInterval())
	assert.Equal(t, "https://data-api.polymarket.com", cfg.API.DataBase)
	assert.Equal(t, int64(137), cfg.Live.ChainID)
	assert.Equal(t, "127.0.0.1:8080", cfg.Dashboard.Addr, "el dashboard no escucha en todas las interfaces por defecto")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("POLY_TARGET_WALLET", "0x1111111111111111111111111111111111111111")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("DRY_RUN", "false")
	path := writeConfig(t, "log:\n  level: debug\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0x1111111111111111111111111111111111111111", cfg.Bot.TargetWallet)
	assert.False(t, cfg.Bot.DryRun)
	assert.True(t, cfg.Telegram.Enabled())
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_RejectsInvalidBand(t *testing.T) {
	path := writeConfig(t, "bot:\n  min_price: 0.9\n  max_price: 0.2\n")

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price band")
}

func TestSettingsStore_UpdateValidates(t *testing.T) {
	store := config.NewSettingsStore(config.DefaultSettings())

	bad := 1.5
	_, err := store.Update(config.SettingsPatch{MaxSlippage: &bad})
	require.Error(t, err)
	assert.Equal(t, 0.10, store.Get().MaxSlippage, "invalid patch must not be stored")

	ref := config.ReferenceMarketPrice
	good := 0.05
	s, err := store.Update(config.SettingsPatch{MaxSlippage: &good, SlippageReference: &ref})
	require.NoError(t, err)
	assert.Equal(t, 0.05, s.MaxSlippage)
	assert.Equal(t, config.ReferenceMarketPrice, store.Get().SlippageReference)
}

func TestSettings_OptionalFiltersValidation(t *testing.T) {
	s := config.DefaultSettings()
	assert.Zero(t, s.NearResolutionThreshold, "desactivado por defecto")
	assert.Zero(t, s.DominantSideMin, "desactivado por defecto")

	for _, v := range []float64{0.4, 0.5, 1, -0.1} {
		bad := s
		bad.NearResolutionThreshold = v
		assert.Error(t, bad.Validate(), "near_resolution_threshold %.2f", v)
		bad = s
		bad.DominantSideMin = v
		assert.Error(t, bad.Validate(), "dominant_side_min %.2f", v)
	}

	store := config.NewSettingsStore(s)
	near, dom := 0.9, 0.55
	got, err := store.Update(config.SettingsPatch{NearResolutionThreshold: &near, DominantSideMin: &dom})
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.NearResolutionThreshold)
	assert.Equal(t, 0.55, got.DominantSideMin)
}

func TestSettingsPatch_TouchesSession(t *testing.T) {
	wallet := "0x2222222222222222222222222222222222222222"
	assert.True(t, config.SettingsPatch{TargetWallet: &wallet}.TouchesSession())

	poll := 10
	assert.False(t, config.SettingsPatch{PollIntervalSeconds: &poll}.TouchesSession())
}
