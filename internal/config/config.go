// Package config loads and validates the agent's mutable user configuration.
//
// The config file and the POST /config rewrite are both JSON, per the
// control-plane external interface — this is the one persisted surface
// that must stay JSON rather than the teacher's usual YAML.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"time"
)

// Policy pairs an entry and/or exit predicate, identified by id.
type Policy struct {
	ID             string `json:"id"`
	EntryPredicate string `json:"entry_predicate,omitempty"`
	ExitPredicate  string `json:"exit_predicate,omitempty"`
}

// Config is the full mutable trading configuration (spec §3).
type Config struct {
	MaxEthPerTrade float64  `json:"max_eth_per_trade"`
	Slippage       float64  `json:"slippage"`
	MaxPositions   int      `json:"max_positions"`
	GroupInterval  int      `json:"group_interval"`
	MaxGroups      int      `json:"max_groups"`
	OnlyPairs      []string `json:"only_pairs"`
	ExcludePairs   []string `json:"exclude_pairs"`
	Policies       []Policy `json:"policies"`

	Log        LoggingConfig     `json:"log"`
	RPC        RPCConfig         `json:"rpc"`
	Feed       FeedConfig        `json:"feed"`
	Control    ControlConfig     `json:"control"`
	Persist    PersistenceConfig `json:"persistence"`
	Telegram   TelegramConfig    `json:"telegram"`
	Timescale  TimescaleConfig   `json:"timescale"`
	ChainSet   string            `json:"chain_set_path"`
}

type LoggingConfig struct {
	Level string `json:"level"`
}

type RPCConfig struct {
	URL     string        `json:"url"`
	Timeout time.Duration `json:"timeout"`
}

type FeedConfig struct {
	URL       string        `json:"url"`
	ChainTags []string      `json:"chain_tags"`
	Reconnect time.Duration `json:"reconnect_delay"`
}

type ControlConfig struct {
	Port int `json:"port"`
}

type PersistenceConfig struct {
	ConfigPath   string `json:"-"`
	TradesPath   string `json:"-"`
	TradeLogPath string `json:"-"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  string `json:"chat_id"`
}

type TimescaleConfig struct {
	Enabled         bool          `json:"enabled"`
	DSN             string        `json:"dsn"`
	Schema          string        `json:"schema"`
	QueueSize       int           `json:"queue_size"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// whitelisted keys accepted by the control API's POST /config (spec §4.8).
var whitelistedUpdateFields = map[string]bool{
	"max_eth_per_trade": true,
	"slippage":          true,
	"max_positions":     true,
	"group_interval":    true,
	"max_groups":        true,
	"only_pairs":        true,
	"exclude_pairs":     true,
}

// Store owns the live Config, guarding it with a mutex so the control API,
// the trade lifecycle, and the aggregation engine can all read/write it
// concurrently without racing.
type Store struct {
	mu   sync.RWMutex
	cfg  Config
	path string
}

func NewStore(path string, cfg Config) *Store {
	return &Store{cfg: cfg, path: path}
}

func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// ApplyUpdate merges whitelisted fields from a raw JSON object into the
// config, persists the result to disk, and returns the new Config.
// Unknown keys are ignored, not rejected — matching the spec's "update
// whitelisted keys" language rather than a strict-schema PATCH.
func (s *Store) ApplyUpdate(raw map[string]json.RawMessage) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cfg
	for key, value := range raw {
		if !whitelistedUpdateFields[key] {
			continue
		}
		switch key {
		case "max_eth_per_trade":
			if err := json.Unmarshal(value, &next.MaxEthPerTrade); err != nil {
				return s.cfg, err
			}
		case "slippage":
			if err := json.Unmarshal(value, &next.Slippage); err != nil {
				return s.cfg, err
			}
		case "max_positions":
			if err := json.Unmarshal(value, &next.MaxPositions); err != nil {
				return s.cfg, err
			}
		case "group_interval":
			if err := json.Unmarshal(value, &next.GroupInterval); err != nil {
				return s.cfg, err
			}
		case "max_groups":
			if err := json.Unmarshal(value, &next.MaxGroups); err != nil {
				return s.cfg, err
			}
		case "only_pairs":
			if err := json.Unmarshal(value, &next.OnlyPairs); err != nil {
				return s.cfg, err
			}
		case "exclude_pairs":
			if err := json.Unmarshal(value, &next.ExcludePairs); err != nil {
				return s.cfg, err
			}
		}
	}
	if err := validate(&next); err != nil {
		return s.cfg, err
	}
	if err := writeJSON(s.path, next); err != nil {
		return s.cfg, err
	}
	s.cfg = next
	return s.cfg, nil
}

// Load reads the JSON config file, applies defaults, and validates it.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func writeJSON(path string, cfg Config) error {
	if path == "" {
		return errors.New("config path is required")
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.RPC.URL == "" {
		cfg.RPC.URL = "https://eth.llamarpc.com"
	}
	if cfg.RPC.Timeout == 0 {
		cfg.RPC.Timeout = 10 * time.Second
	}
	if cfg.Feed.URL == "" {
		cfg.Feed.URL = "wss://feed.example.com/ws"
	}
	if len(cfg.Feed.ChainTags) == 0 {
		cfg.Feed.ChainTags = []string{"base_v3", "base_v4"}
	}
	if cfg.Feed.Reconnect == 0 {
		cfg.Feed.Reconnect = time.Second
	}
	if cfg.Control.Port == 0 {
		cfg.Control.Port = 8787
	}
	if cfg.GroupInterval == 0 {
		cfg.GroupInterval = 1
	}
	if cfg.MaxGroups == 0 {
		cfg.MaxGroups = 60
	}
	if cfg.MaxPositions == 0 {
		cfg.MaxPositions = 5
	}
	if cfg.ChainSet == "" {
		cfg.ChainSet = "internal/chainset/chainset.yaml"
	}
}

func validate(cfg *Config) error {
	if cfg.MaxEthPerTrade < 0 {
		return errors.New("max_eth_per_trade must be >= 0")
	}
	if cfg.Slippage < 0 || cfg.Slippage > 1 {
		return errors.New("slippage must be within [0,1]")
	}
	if cfg.MaxPositions < 0 {
		return errors.New("max_positions must be >= 0")
	}
	if cfg.GroupInterval <= 0 {
		return errors.New("group_interval must be > 0")
	}
	if cfg.MaxGroups <= 0 {
		return errors.New("max_groups must be > 0")
	}
	for i := range cfg.Policies {
		if strings.TrimSpace(cfg.Policies[i].ID) == "" {
			return errors.New("policy id is required")
		}
	}
	return nil
}
