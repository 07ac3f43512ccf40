package watchparty

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config controls how the SDK connects and how the sync engine behaves.
type Config struct {
	// BrokerURL is the websocket endpoint of the sync broker.
	BrokerURL string `mapstructure:"broker_url"`
	// APIBaseURL is the base URL of the room query API, used for the
	// initial member/history fetch and the leave beacon.
	APIBaseURL string `mapstructure:"api_base_url"`
	// Token is a bearer token attached to API calls.
	Token string `mapstructure:"token"`

	// UserID identifies this participant. Generated if empty.
	UserID    string `mapstructure:"user_id"`
	UserName  string `mapstructure:"user_name"`
	AvatarURL string `mapstructure:"avatar_url"`

	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`

	// BackoffTable holds reconnect delays indexed by consecutive-failure
	// count, clamped at the last entry.
	BackoffTable []time.Duration `mapstructure:"backoff_table"`

	// HeartbeatInterval is the period of the PING loop while connected.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// PongTimeout, when positive, treats a PING still unanswered after
	// this long as a dead connection and forces a reconnect. Zero keeps
	// the connection alive on socket-level close detection only.
	PongTimeout time.Duration `mapstructure:"pong_timeout"`

	// EchoSuppressWindow is how long after publishing a control intent the
	// engine drops inbound control events as echoes of its own action.
	EchoSuppressWindow time.Duration `mapstructure:"echo_suppress_window"`
	// ApplyRemoteSettle is how long the engine keeps treating local media
	// events as remote-induced after applying a remote control event.
	ApplyRemoteSettle time.Duration `mapstructure:"apply_remote_settle"`
	// UnmuteDelay is the wait before unmuting after an autoplay-blocked
	// muted fallback succeeded.
	UnmuteDelay time.Duration `mapstructure:"unmute_delay"`

	// HistoryPageSize is the chat history page size.
	HistoryPageSize int `mapstructure:"history_page_size"`
}

// DefaultConfig returns sensible defaults.
// Set a timeout to 0 to disable it.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:   10 * time.Second,
		ReadTimeout:        0,
		WriteTimeout:       10 * time.Second,
		BackoffTable:       []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second},
		HeartbeatInterval:  20 * time.Second,
		PongTimeout:        0,
		EchoSuppressWindow: 300 * time.Millisecond,
		ApplyRemoteSettle:  300 * time.Millisecond,
		UnmuteDelay:        1500 * time.Millisecond,
		HistoryPageSize:    20,
	}
}

// LoadConfig reads configuration from a yaml file and environment variables,
// layered over DefaultConfig. configPath is the directory containing config
// files, configName the file name without extension. A missing file is not an
// error; env vars alone suffice.
func LoadConfig(configPath, configName string) (Config, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")

	v.SetEnvPrefix("watchparty")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := DefaultConfig()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, WrapError(ErrorInvalidConfig, "read config", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, WrapError(ErrorInvalidConfig, "unmarshal config", err)
	}
	return cfg.withDefaults(), nil
}

// withDefaults fills zero values that would otherwise break the state
// machines (an empty backoff table, a zero heartbeat period).
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.BackoffTable) == 0 {
		c.BackoffTable = d.BackoffTable
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.EchoSuppressWindow <= 0 {
		c.EchoSuppressWindow = d.EchoSuppressWindow
	}
	if c.ApplyRemoteSettle <= 0 {
		c.ApplyRemoteSettle = d.ApplyRemoteSettle
	}
	if c.UnmuteDelay <= 0 {
		c.UnmuteDelay = d.UnmuteDelay
	}
	if c.HistoryPageSize <= 0 {
		c.HistoryPageSize = d.HistoryPageSize
	}
	return c
}
