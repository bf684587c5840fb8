package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/nsg-ethz/bgpsim/ospf"
	"github.com/nsg-ethz/bgpsim/prefix"
)

type Config struct {
	Service  ServiceConfig  `koanf:"service"`
	Engine   EngineConfig   `koanf:"engine"`
	Queue    QueueConfig    `koanf:"queue"`
	Kafka    KafkaConfig    `koanf:"kafka"`
	Postgres PostgresConfig `koanf:"postgres"`
}

type ServiceConfig struct {
	HTTPListen string `koanf:"http_listen"`
	LogLevel   string `koanf:"log_level"`
}

type EngineConfig struct {
	// PrefixMode is one of single, simple, ipv4.
	PrefixMode string `koanf:"prefix_mode"`
	// OspfMode is one of global, distributed.
	OspfMode   string `koanf:"ospf_mode"`
	Asn        uint32 `koanf:"asn"`
	StepBudget int    `koanf:"step_budget"`
	MaxPaths   int    `koanf:"max_paths"`
}

type QueueConfig struct {
	// Kind is fifo or timed.
	Kind string `koanf:"kind"`
	Seed int64  `koanf:"seed"`
}

type KafkaConfig struct {
	// Enabled turns the route-event feed on; the serve command then
	// replays consumed advertisements into the network.
	Enabled  bool     `koanf:"enabled"`
	Brokers  []string `koanf:"brokers"`
	ClientID string   `koanf:"client_id"`
	GroupID  string   `koanf:"group_id"`
	Topics   []string `koanf:"topics"`
}

type PostgresConfig struct {
	// DSN enables the results store when set.
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
	MinConns int32  `koanf:"min_conns"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load YAML file first.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: BGPSIM_ENGINE__STEP_BUDGET → engine.step_budget
	if err := k.Load(env.Provider("BGPSIM_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "BGPSIM_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			HTTPListen: ":8080",
			LogLevel:   "info",
		},
		Engine: EngineConfig{
			PrefixMode: "simple",
			OspfMode:   "global",
			Asn:        65001,
			StepBudget: 1_000_000,
			MaxPaths:   1024,
		},
		Queue: QueueConfig{
			Kind: "fifo",
			Seed: 1,
		},
		Kafka: KafkaConfig{
			ClientID: "bgpsim",
			GroupID:  "bgpsim-feed",
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
			MinConns: 1,
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Split comma-separated env strings for slice fields.
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}
	if len(cfg.Kafka.Topics) == 1 && strings.Contains(cfg.Kafka.Topics[0], ",") {
		cfg.Kafka.Topics = strings.Split(cfg.Kafka.Topics[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := prefix.ParseKind(c.Engine.PrefixMode); err != nil {
		return fmt.Errorf("config: engine.prefix_mode: %w", err)
	}
	if _, err := ospf.ParseKind(c.Engine.OspfMode); err != nil {
		return fmt.Errorf("config: engine.ospf_mode: %w", err)
	}
	if c.Engine.StepBudget <= 0 {
		return fmt.Errorf("config: engine.step_budget must be > 0 (got %d)", c.Engine.StepBudget)
	}
	if c.Engine.MaxPaths <= 0 {
		return fmt.Errorf("config: engine.max_paths must be > 0 (got %d)", c.Engine.MaxPaths)
	}
	switch c.Queue.Kind {
	case "fifo", "timed":
	default:
		return fmt.Errorf("config: queue.kind must be fifo or timed (got %q)", c.Queue.Kind)
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers is required when the feed is enabled")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("config: kafka.group_id is required when the feed is enabled")
		}
		if len(c.Kafka.Topics) == 0 {
			return fmt.Errorf("config: kafka.topics is required when the feed is enabled")
		}
	}
	if c.Postgres.DSN != "" {
		if c.Postgres.MaxConns <= 0 {
			return fmt.Errorf("config: postgres.max_conns must be > 0 (got %d)", c.Postgres.MaxConns)
		}
		if c.Postgres.MinConns < 0 {
			return fmt.Errorf("config: postgres.min_conns must be >= 0 (got %d)", c.Postgres.MinConns)
		}
	}
	return nil
}
