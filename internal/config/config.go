package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LdDl/brick-tracker/tracker"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Inventory backends
const (
	BackendNone      = "none"
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendMQTT      = "mqtt"
	BackendWebSocket = "websocket"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "BRICK_"

// Config is the root configuration of bricktracker
type Config struct {
	Tracker   TrackerConfig   `yaml:"tracker"`
	Inventory InventoryConfig `yaml:"inventory"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TrackerConfig holds IdentityTracker settings
type TrackerConfig struct {
	MaxDisappeared int     `yaml:"max_disappeared"`
	Matching       string  `yaml:"matching"`
	MaxDistance    float64 `yaml:"max_distance"`
	TimeStep       float64 `yaml:"time_step"`
}

// InventoryConfig selects and configures the inventory backend
type InventoryConfig struct {
	Backend string `yaml:"backend"`
	// Run inventory calls on a background worker
	Async     bool `yaml:"async"`
	QueueSize int  `yaml:"queue_size"`
	// Seconds
	RequestTimeout int             `yaml:"request_timeout"`
	SQLite         SQLiteConfig    `yaml:"sqlite"`
	MQTT           MQTTConfig      `yaml:"mqtt"`
	WebSocket      WebSocketConfig `yaml:"websocket"`
}

// SQLiteConfig holds settings of the SQLite backend
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig holds settings of the MQTT backend
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// WebSocketConfig holds settings of the WebSocket backend
type WebSocketConfig struct {
	URL string `yaml:"url"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	// debug, info, warn, error
	Level string `yaml:"level"`
	// json or text
	Format string `yaml:"format"`
	// stdout or stderr
	Output string `yaml:"output"`
}

// Load reads configuration.
//
// Order of precedence, lowest first: defaults, YAML file at path (skipped when path is empty),
// variables from .env in the working directory, process environment (BRICK_* variables).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parse config file")
		}
	}

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return cfg, nil
}

// LoadDotEnv exports variables of the dotenv file. Missing file is not an error.
// Variables already present in the environment win.
func LoadDotEnv(filename string) error {
	err := godotenv.Load(filename)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "load %s", filename)
	}
	return nil
}

// Default returns configuration used when nothing else is given
func Default() *Config {
	return &Config{
		Tracker: TrackerConfig{
			MaxDisappeared: tracker.DefaultMaxDisappeared,
			Matching:       tracker.MatchingGreedy.String(),
			TimeStep:       1.0,
		},
		Inventory: InventoryConfig{
			Backend:        BackendMemory,
			QueueSize:      256,
			RequestTimeout: 5,
			SQLite: SQLiteConfig{
				Path: "./bricks.db",
			},
			MQTT: MQTTConfig{
				Broker:      "tcp://localhost:1883",
				ClientID:    "bricktracker",
				TopicPrefix: "bricks",
				QoS:         1,
			},
			WebSocket: WebSocketConfig{
				URL: "ws://localhost:8080/ws",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvPrefix + "MAX_DISAPPEARED"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%sMAX_DISAPPEARED", EnvPrefix)
		}
		cfg.Tracker.MaxDisappeared = n
	}
	if v := os.Getenv(EnvPrefix + "MATCHING"); v != "" {
		cfg.Tracker.Matching = v
	}
	if v := os.Getenv(EnvPrefix + "MAX_DISTANCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrapf(err, "%sMAX_DISTANCE", EnvPrefix)
		}
		cfg.Tracker.MaxDistance = f
	}

	if v := os.Getenv(EnvPrefix + "INVENTORY_BACKEND"); v != "" {
		cfg.Inventory.Backend = v
	}
	if v := os.Getenv(EnvPrefix + "INVENTORY_ASYNC"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%sINVENTORY_ASYNC", EnvPrefix)
		}
		cfg.Inventory.Async = b
	}
	if v := os.Getenv(EnvPrefix + "SQLITE_PATH"); v != "" {
		cfg.Inventory.SQLite.Path = v
	}
	if v := os.Getenv(EnvPrefix + "MQTT_BROKER"); v != "" {
		cfg.Inventory.MQTT.Broker = v
	}
	if v := os.Getenv(EnvPrefix + "MQTT_USERNAME"); v != "" {
		cfg.Inventory.MQTT.Username = v
	}
	if v := os.Getenv(EnvPrefix + "MQTT_PASSWORD"); v != "" {
		cfg.Inventory.MQTT.Password = v
	}
	if v := os.Getenv(EnvPrefix + "WS_URL"); v != "" {
		cfg.Inventory.WebSocket.URL = v
	}

	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	return nil
}

// Validate checks configuration and reports every problem at once
func (c *Config) Validate() error {
	var errs []string

	if c.Tracker.MaxDisappeared < 0 {
		errs = append(errs, "tracker.max_disappeared must not be negative")
	}
	if _, err := tracker.ParseMatchingAlgorithm(c.Tracker.Matching); err != nil {
		errs = append(errs, "tracker.matching must be greedy or hungarian")
	}
	if c.Tracker.MaxDistance < 0 {
		errs = append(errs, "tracker.max_distance must not be negative")
	}
	if c.Tracker.TimeStep <= 0 {
		errs = append(errs, "tracker.time_step must be positive")
	}

	switch c.Inventory.Backend {
	case BackendNone, BackendMemory:
	case BackendSQLite:
		if c.Inventory.SQLite.Path == "" {
			errs = append(errs, "inventory.sqlite.path is required")
		}
	case BackendMQTT:
		if c.Inventory.MQTT.Broker == "" {
			errs = append(errs, "inventory.mqtt.broker is required")
		}
		if c.Inventory.MQTT.QoS < 0 || c.Inventory.MQTT.QoS > 2 {
			errs = append(errs, "inventory.mqtt.qos must be 0, 1, or 2")
		}
	case BackendWebSocket:
		if c.Inventory.WebSocket.URL == "" {
			errs = append(errs, "inventory.websocket.url is required")
		}
	default:
		errs = append(errs, "inventory.backend must be one of none, memory, sqlite, mqtt, websocket")
	}
	if c.Inventory.Async && c.Inventory.QueueSize < 1 {
		errs = append(errs, "inventory.queue_size must be positive")
	}

	if len(errs) > 0 {
		return errors.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MatchingAlgorithm returns parsed tracker.matching. Call after Validate
func (c *Config) MatchingAlgorithm() tracker.MatchingAlgorithm {
	algorithm, _ := tracker.ParseMatchingAlgorithm(c.Tracker.Matching)
	return algorithm
}

// GetRequestTimeout returns request timeout as a Duration
func (c InventoryConfig) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}
