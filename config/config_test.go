package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glazyr/paygate/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, types.NetworkBase.String(), cfg.Network)
	assert.Equal(t, DefaultAssetAddress, cfg.AssetAddress)
	assert.Equal(t, DefaultTreasuryAddress, cfg.TreasuryAddress)
	assert.Equal(t, int32(6), cfg.AssetDecimals)
	assert.Equal(t, "1", cfg.MinPayment.String())
	assert.Equal(t, int64(1000), cfg.FramesPerUnit)
	assert.Equal(t, int64(10000), cfg.FreeFrameLimit)
	assert.Equal(t, BackendFile, cfg.LedgerBackend)
	assert.Equal(t, "data/x402-ledger.json", cfg.LedgerPath)
	assert.Equal(t, 4545, cfg.Server.Port)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paygate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
network: base-sepolia
min_payment: "2.50"
frames_per_unit: 400
free_frame_limit: 5
server:
  port: 8080
  upstream: http://localhost:3000
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, types.NetworkBaseSepolia.String(), cfg.Network)
	assert.Equal(t, "2.5", cfg.MinPayment.String())
	assert.Equal(t, int64(400), cfg.FramesPerUnit)
	assert.Equal(t, int64(5), cfg.FreeFrameLimit)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "http://localhost:3000", cfg.Server.Upstream)

	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultAssetAddress, cfg.AssetAddress)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SMOKE_TEST_SECRET", "hunter2")
	t.Setenv("SPONSORED_FRAME_LIMIT", "250")
	t.Setenv("PAYGATE_MIN_PAYMENT", "3.00")
	t.Setenv("PAYGATE_PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "hunter2", cfg.OperatorSecret)
	assert.Equal(t, int64(250), cfg.FreeFrameLimit)
	assert.Equal(t, "3", cfg.MinPayment.String())
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadRejectsBadAddress(t *testing.T) {
	t.Setenv("PAYGATE_TREASURY_ADDRESS", "not-an-address")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadRejectsBadMinPayment(t *testing.T) {
	t.Setenv("PAYGATE_MIN_PAYMENT", "one dollar")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadRejectsNegativeMinPayment(t *testing.T) {
	t.Setenv("PAYGATE_MIN_PAYMENT", "-1.00")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadBackendRequiresURL(t *testing.T) {
	t.Setenv("PAYGATE_LEDGER_BACKEND", "redis")

	_, err := Load("")
	require.Error(t, err)

	t.Setenv("PAYGATE_LEDGER_BACKEND", "postgres")
	_, err = Load("")
	require.Error(t, err)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("PAYGATE_LEDGER_BACKEND", "etcd")

	_, err := Load("")
	require.Error(t, err)
}

func TestMinPaymentAtomic(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "1000000", cfg.MinPaymentAtomic())
	assert.Equal(t, int64(1000), cfg.FramesForMinPayment())
}

func TestAddr(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:4545", cfg.Addr())
}
