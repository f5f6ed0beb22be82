package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 10000, cfg.DAG.Window)
	require.Equal(t, 30, cfg.Stitch.ConfirmAttempts)
	require.Equal(t, 2*time.Second, cfg.Stitch.ConfirmInterval)
	require.Equal(t, 30*time.Second, cfg.Stitch.TTL)
	require.True(t, cfg.Adaptive.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
dag:
  window: 64
  min_blue_delta: 7
adaptive:
  enabled: false
  base_reward: 10
  max_reward: 40
p2p:
  bootstrap_peers: ["ws://a:1/p2p", "ws://b:2/p2p"]
stitch:
  confirm_interval: 500ms
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 64, cfg.DAG.Window)
	require.Equal(t, uint64(7), cfg.DAG.MinBlueDelta)
	require.False(t, cfg.Adaptive.Enabled)
	require.Equal(t, uint64(40), cfg.Adaptive.MaxReward)
	require.Equal(t, []string{"ws://a:1/p2p", "ws://b:2/p2p"}, cfg.P2P.BootstrapPeers)
	require.Equal(t, 500*time.Millisecond, cfg.Stitch.ConfirmInterval)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STITCHBOT_DAG_WINDOW", "12")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 12, cfg.DAG.Window)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.Adaptive.MaxReward = bad.Adaptive.BaseReward - 1
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.DAG.Window = 0
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.Adaptive.MinRateLimit = bad.Adaptive.BaseRateLimit + 1
	require.Error(t, bad.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
