package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
app_env: test
transport:
  url: ws://localhost:8000/ws/agent
vision:
  monitor_index: 2
marketplace:
  base_dir: /opt/protrader/assets
  templates:
    kamas: kamas.png
    btn_jouer: /abs/play.png
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, v, err := Load(writeFile(t, "agent.yaml", sampleYAML))
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.Equal(t, "test", cfg.AppEnv)
	assert.Equal(t, 2, cfg.Vision.MonitorIndex)
	assert.InDelta(t, 0.88, cfg.Vision.DefaultThreshold, 1e-9)
	assert.Equal(t, []string{"x1", "x10", "x100", "x1000"}, cfg.Marketplace.SaleQtyOrder)
	assert.Equal(t, 5, cfg.Marketplace.ScanMaxAttemptsPerQty)
	assert.Equal(t, 100, cfg.Marketplace.BuyClickOffsetPx)
	assert.Equal(t, 6, cfg.Marketplace.SellClickMaxAttempts)
	assert.InDelta(t, 0.28, cfg.Marketplace.SellFallbackRegionRatio, 1e-9)
	assert.Equal(t, 240, cfg.Marketplace.SellFallbackOffsetPx)
	assert.Equal(t, 5, cfg.Marketplace.PurchaseMaxRetries)
	assert.Equal(t, 10, cfg.Marketplace.KamasCheckMaxAttempts)
	assert.Equal(t, 10, cfg.Marketplace.ConfirmMaxAttempts)
	assert.Zero(t, cfg.Marketplace.VerifyTimeout)
	assert.InDelta(t, 2.0, cfg.Marketplace.TickHz, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.Transport.PingInterval)
	assert.Equal(t, 1000, cfg.Transport.OutboundQueue)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PROTRADER_MARKETPLACE_TICK_HZ", "4")

	cfg, _, err := Load(writeFile(t, "agent.yaml", sampleYAML))
	require.NoError(t, err)
	assert.InDelta(t, 4.0, cfg.Marketplace.TickHz, 1e-9)
}

func TestLoad_MissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestDecode_Validation(t *testing.T) {
	testCases := []struct {
		name    string
		raw     map[string]any
		wantErr bool
	}{
		{
			name: "defaults are valid",
			raw:  map[string]any{},
		},
		{
			name:    "monitor index below one",
			raw:     map[string]any{"vision": map[string]any{"monitor_index": 0}},
			wantErr: true,
		},
		{
			name:    "threshold above one",
			raw:     map[string]any{"vision": map[string]any{"default_threshold": 1.5}},
			wantErr: true,
		},
		{
			name:    "empty template path",
			raw:     map[string]any{"marketplace": map[string]any{"templates": map[string]any{"kamas": ""}}},
			wantErr: true,
		},
		{
			name:    "unknown sale tier",
			raw:     map[string]any{"marketplace": map[string]any{"sale_qty_order": []any{"x5"}}},
			wantErr: true,
		},
		{
			name:    "telegram enabled without token",
			raw:     map[string]any{"telegram": map[string]any{"enabled": true}},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.raw)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")

	_, err := Write(path, map[string]any{
		"marketplace": map[string]any{"purchase_max_retries": 7},
	})
	require.NoError(t, err)

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Marketplace.PurchaseMaxRetries)
}

func TestMarketplaceConfig_TemplatePath(t *testing.T) {
	cfg, _, err := Load(writeFile(t, "agent.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/opt/protrader/assets", "kamas.png"), cfg.Marketplace.TemplatePath("kamas"))
	assert.Equal(t, "/abs/play.png", cfg.Marketplace.TemplatePath("btn_jouer"))
	assert.Empty(t, cfg.Marketplace.TemplatePath("recherche"))
}

func TestLoad_ShippedDevelopmentConfig(t *testing.T) {
	cfg, _, err := Load(filepath.Join("..", "..", "configs", "development.yaml"))
	require.NoError(t, err)

	assert.Zero(t, cfg.Marketplace.VerifyTimeout, "purchase verification keeps polling unless an operator opts in")
	assert.Equal(t, 10, cfg.Marketplace.ConfirmMaxAttempts)
	assert.Equal(t, 1, cfg.Marketplace.TiersPerTick)
}
