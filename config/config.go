package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the full configuration surface of the agent and the listener.
type Config struct {
	Log      LogConfig
	Node     NodeConfig
	P2P      P2PConfig
	HTTP     HTTPConfig
	LevelDB  LevelDBConfig
	Wallet   WalletConfig
	DAG      DAGConfig
	Adaptive AdaptiveConfig
	Stitch   StitchConfig
	Shutdown ShutdownConfig
}

type LogConfig struct {
	Level string
	File  string
}

type NodeConfig struct {
	RPCURL string
}

type P2PConfig struct {
	ListenAddr     string
	BootstrapPeers []string
}

type HTTPConfig struct {
	Port int
}

type LevelDBConfig struct {
	Path string
}

type WalletConfig struct {
	MnemonicFile string
}

type DAGConfig struct {
	Window       int
	MinBlueDelta uint64 // fracture eligibility
}

// AdaptiveConfig feeds the adaptive engine. Rate limits are in seconds, rewards in sompi.
type AdaptiveConfig struct {
	Enabled       bool
	BaseMinDelta  uint64
	MinDelta      uint64
	BaseRateLimit uint64
	MinRateLimit  uint64
	BaseReward    uint64
	MaxReward     uint64
	BonusCap      float64
}

type StitchConfig struct {
	TTL             time.Duration
	ConfirmInterval time.Duration
	ConfirmAttempts int
}

type ShutdownConfig struct {
	Grace time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("node.rpc_url", "ws://127.0.0.1:18110")
	v.SetDefault("p2p.listen_addr", ":16111")
	v.SetDefault("p2p.bootstrap_peers", []string{})
	v.SetDefault("http.port", 8080)
	v.SetDefault("leveldb.path", "data/stitches")
	v.SetDefault("wallet.mnemonic_file", "data/wallet.mnemonic")
	v.SetDefault("dag.window", 10000)
	v.SetDefault("dag.min_blue_delta", 200)
	v.SetDefault("adaptive.enabled", true)
	v.SetDefault("adaptive.base_min_delta", 200)
	v.SetDefault("adaptive.min_delta", 20)
	v.SetDefault("adaptive.base_rate_limit", 60)
	v.SetDefault("adaptive.min_rate_limit", 5)
	v.SetDefault("adaptive.base_reward", 100_000_000)
	v.SetDefault("adaptive.max_reward", 500_000_000)
	v.SetDefault("adaptive.bonus_cap", 5.0)
	v.SetDefault("stitch.ttl", 30*time.Second)
	v.SetDefault("stitch.confirm_interval", 2*time.Second)
	v.SetDefault("stitch.confirm_attempts", 30)
	v.SetDefault("shutdown.grace", 10*time.Second)
}

// Load reads the yaml file at path (if any) and applies STITCHBOT_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("stitchbot")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Log: LogConfig{
			Level: v.GetString("log.level"),
			File:  v.GetString("log.file"),
		},
		Node: NodeConfig{RPCURL: v.GetString("node.rpc_url")},
		P2P: P2PConfig{
			ListenAddr:     v.GetString("p2p.listen_addr"),
			BootstrapPeers: v.GetStringSlice("p2p.bootstrap_peers"),
		},
		HTTP:    HTTPConfig{Port: v.GetInt("http.port")},
		LevelDB: LevelDBConfig{Path: v.GetString("leveldb.path")},
		Wallet:  WalletConfig{MnemonicFile: v.GetString("wallet.mnemonic_file")},
		DAG: DAGConfig{
			Window:       v.GetInt("dag.window"),
			MinBlueDelta: v.GetUint64("dag.min_blue_delta"),
		},
		Adaptive: AdaptiveConfig{
			Enabled:       v.GetBool("adaptive.enabled"),
			BaseMinDelta:  v.GetUint64("adaptive.base_min_delta"),
			MinDelta:      v.GetUint64("adaptive.min_delta"),
			BaseRateLimit: v.GetUint64("adaptive.base_rate_limit"),
			MinRateLimit:  v.GetUint64("adaptive.min_rate_limit"),
			BaseReward:    v.GetUint64("adaptive.base_reward"),
			MaxReward:     v.GetUint64("adaptive.max_reward"),
			BonusCap:      v.GetFloat64("adaptive.bonus_cap"),
		},
		Stitch: StitchConfig{
			TTL:             v.GetDuration("stitch.ttl"),
			ConfirmInterval: v.GetDuration("stitch.confirm_interval"),
			ConfirmAttempts: v.GetInt("stitch.confirm_attempts"),
		},
		Shutdown: ShutdownConfig{Grace: v.GetDuration("shutdown.grace")},
	}
}

// Validate checks the relations between values that the engine relies on.
func (c *Config) Validate() error {
	switch {
	case c.DAG.Window <= 0:
		return errors.New("dag.window must be positive")
	case c.Adaptive.MaxReward < c.Adaptive.BaseReward:
		return errors.New("adaptive.max_reward must be >= adaptive.base_reward")
	case c.Adaptive.MinDelta > c.Adaptive.BaseMinDelta:
		return errors.New("adaptive.min_delta must be <= adaptive.base_min_delta")
	case c.Adaptive.MinRateLimit > c.Adaptive.BaseRateLimit:
		return errors.New("adaptive.min_rate_limit must be <= adaptive.base_rate_limit")
	case c.Adaptive.BonusCap < 0:
		return errors.New("adaptive.bonus_cap must not be negative")
	case c.Stitch.ConfirmAttempts <= 0 || c.Stitch.ConfirmInterval <= 0:
		return errors.New("stitch confirmation interval and attempts must be positive")
	case c.Stitch.TTL <= 0:
		return errors.New("stitch.ttl must be positive")
	}
	return nil
}
