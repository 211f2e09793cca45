package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	MySQL     MySQLConfig     `yaml:"mysql"`
	Replica   ReplicaConfig   `yaml:"replica"`
	Binlog    BinlogConfig    `yaml:"binlog"`
	Sink      SinkConfig      `yaml:"sink"`
	NATS      NATSConfig      `yaml:"nats"`
	Redis     RedisConfig     `yaml:"redis"`
	Processor ProcessorConfig `yaml:"processor"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// ReplicaConfig is the identity announced with COM_REGISTER_SLAVE
type ReplicaConfig struct {
	ServerID uint32 `yaml:"server_id"`
	Hostname string `yaml:"hostname"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Port     uint16 `yaml:"port"`
}

type BinlogConfig struct {
	Filename         string        `yaml:"filename"`
	Position         uint32        `yaml:"position"`
	PositionFile     string        `yaml:"position_file"`
	SkipUntil        string        `yaml:"skip_until"`  // "<timestamp>-<position>" or "<position>"
	LogPackets       string        `yaml:"log_packets"` // "", rows, all
	HeartbeatPeriod  time.Duration `yaml:"heartbeat_period"`
	AnnounceChecksum bool          `yaml:"announce_checksum"`
	BufferSize       int           `yaml:"buffer_size"`
}

// SinkConfig selects where change events are published
type SinkConfig struct {
	Publishers []string `yaml:"publishers"` // nats, redis, stdout
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	Subject       string        `yaml:"subject"`
	MaxReconnect  int           `yaml:"max_reconnect"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

type ProcessorConfig struct {
	Enabled bool         `yaml:"enabled"`
	Script  string       `yaml:"script"`
	Rules   []RuleConfig `yaml:"rules"`
}

// RuleConfig reshapes the columns of matching tables. Empty database or table matches all.
type RuleConfig struct {
	Database  string            `yaml:"database"`
	Table     string            `yaml:"table"`
	Include   []string          `yaml:"include"`
	Exclude   []string          `yaml:"exclude"`
	Rename    map[string]string `yaml:"rename"`
	AddFields map[string]string `yaml:"add_fields"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads the YAML file at path, applies defaults and then environment
// overrides. A .env file in the working directory is loaded when present.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	config.setDefaults()
	return &config, nil
}

func (c *Config) setDefaults() {
	if c.MySQL.Port == 0 {
		c.MySQL.Port = 3306
	}
	if c.Replica.ServerID == 0 {
		c.Replica.ServerID = 1
	}
	if c.Replica.User == "" {
		c.Replica.User = c.MySQL.User
		if c.Replica.Password == "" {
			c.Replica.Password = c.MySQL.Password
		}
	}
	if c.Binlog.Position == 0 {
		c.Binlog.Position = 4
	}
	if len(c.Sink.Publishers) == 0 {
		c.Sink.Publishers = []string{"nats"}
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = "binlog:all"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// applyEnv overrides connection settings from the environment
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("MYSQL_HOST", &c.MySQL.Host)
	str("MYSQL_USER", &c.MySQL.User)
	str("MYSQL_PASSWORD", &c.MySQL.Password)
	str("MYSQL_DATABASE", &c.MySQL.Database)
	str("BINLOG_SKIP_UNTIL", &c.Binlog.SkipUntil)
	str("NATS_URL", &c.NATS.URL)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)

	if v, ok := lookup("MYSQL_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MYSQL_PORT %q: %w", v, err)
		}
		c.MySQL.Port = port
	}
	if v, ok := lookup("MYSQL_SLAVE_SERVER_ID"); ok && v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid MYSQL_SLAVE_SERVER_ID %q: %w", v, err)
		}
		c.Replica.ServerID = uint32(id)
	}
	return nil
}

// Validate checks that the required settings are present
func (c *Config) Validate() error {
	if c.MySQL.Host == "" {
		return errors.New("mysql.host is required")
	}
	if c.MySQL.User == "" {
		return errors.New("mysql.user is required")
	}
	if c.MySQL.Database == "" {
		return errors.New("mysql.database is required")
	}
	switch c.Binlog.LogPackets {
	case "", "rows", "all":
	default:
		return fmt.Errorf("binlog.log_packets must be empty, rows or all, got %q", c.Binlog.LogPackets)
	}
	for _, name := range c.Sink.Publishers {
		switch name {
		case "nats":
			if c.NATS.URL == "" || c.NATS.Subject == "" {
				return errors.New("nats.url and nats.subject are required for the nats publisher")
			}
		case "redis":
			if c.Redis.Addr == "" {
				return errors.New("redis.addr is required for the redis publisher")
			}
		case "stdout":
		default:
			return fmt.Errorf("unknown publisher %q", name)
		}
	}
	return nil
}
