package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration values.
type Config struct {
	// Capture
	SerialPort     string `yaml:"serial_port"`
	SerialBaudRate int    `yaml:"serial_baud_rate"`
	ReplayPath     string `yaml:"replay_path"`
	PollIntervalUs int    `yaml:"poll_interval_us"` // replay pacing granularity

	// Recording (empty path disables the sink)
	BinLogPath string `yaml:"bin_log_path"`
	CSVPath    string `yaml:"csv_path"`
	SQLitePath string `yaml:"sqlite_path"`

	// Pipeline sizing
	QueueCapacity    int `yaml:"queue_capacity"`
	SubscriberBuffer int `yaml:"subscriber_buffer"`
	HistoryCapacity  int `yaml:"history_capacity"`

	// Node roles
	LeftFootNode      int `yaml:"left_foot_node"`
	LeftKneeProximal  int `yaml:"left_knee_proximal"`
	LeftKneeDistal    int `yaml:"left_knee_distal"`
	RightKneeProximal int `yaml:"right_knee_proximal"`
	RightKneeDistal   int `yaml:"right_knee_distal"`

	// MQTT (empty broker disables publishing)
	MQTTBroker      string `yaml:"mqtt_broker"`
	MQTTClientID    string `yaml:"mqtt_client_id"`
	MQTTTopicPrefix string `yaml:"mqtt_topic_prefix"`
	MQTTEncoding    string `yaml:"mqtt_encoding"` // json or msgpack

	// Web Server (port 0 disables it)
	WebServerPort int    `yaml:"web_server_port"`
	WebStaticDir  string `yaml:"web_static_dir"`
}

// Default returns a configuration that runs against the first USB serial
// adapter with only the web server enabled.
func Default() *Config {
	return &Config{
		SerialPort:        "/dev/ttyUSB0",
		SerialBaudRate:    115200,
		PollIntervalUs:    500,
		QueueCapacity:     4096,
		SubscriberBuffer:  256,
		HistoryCapacity:   500,
		LeftFootNode:      3,
		LeftKneeProximal:  1,
		LeftKneeDistal:    3,
		RightKneeProximal: 2,
		RightKneeDistal:   4,
		MQTTClientID:      "gait-computer",
		MQTTTopicPrefix:   "gait",
		MQTTEncoding:      "json",
		WebServerPort:     8080,
	}
}

// Package-level singleton: InitGlobal sets it once, Get reads it.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads a configuration file on top of Default(). Files ending in .yaml
// or .yml are YAML; anything else is KEY=VALUE lines with # comments.
func Load(configPath string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		cfg, err = loadYAML(configPath)
	default:
		cfg, err = loadKeyValue(configPath)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(configPath string) (*Config, error) {
	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

func loadKeyValue(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}
		if err := cfg.setValue(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return cfg, nil
}

func setInt(key, value string, dst *int) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = v
	return nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// Capture
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		return setInt(key, value, &c.SerialBaudRate)
	case "REPLAY_PATH":
		c.ReplayPath = value
	case "POLL_INTERVAL_US":
		return setInt(key, value, &c.PollIntervalUs)

	// Recording
	case "BIN_LOG_PATH":
		c.BinLogPath = value
	case "CSV_PATH":
		c.CSVPath = value
	case "SQLITE_PATH":
		c.SQLitePath = value

	// Pipeline sizing
	case "QUEUE_CAPACITY":
		return setInt(key, value, &c.QueueCapacity)
	case "SUBSCRIBER_BUFFER":
		return setInt(key, value, &c.SubscriberBuffer)
	case "HISTORY_CAPACITY":
		return setInt(key, value, &c.HistoryCapacity)

	// Node roles
	case "LEFT_FOOT_NODE":
		return setInt(key, value, &c.LeftFootNode)
	case "LEFT_KNEE_PROXIMAL":
		return setInt(key, value, &c.LeftKneeProximal)
	case "LEFT_KNEE_DISTAL":
		return setInt(key, value, &c.LeftKneeDistal)
	case "RIGHT_KNEE_PROXIMAL":
		return setInt(key, value, &c.RightKneeProximal)
	case "RIGHT_KNEE_DISTAL":
		return setInt(key, value, &c.RightKneeDistal)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "MQTT_TOPIC_PREFIX":
		c.MQTTTopicPrefix = value
	case "MQTT_ENCODING":
		c.MQTTEncoding = strings.ToLower(value)

	// Web Server
	case "WEB_SERVER_PORT":
		return setInt(key, value, &c.WebServerPort)
	case "WEB_STATIC_DIR":
		c.WebStaticDir = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks ranges; every field already has a default.
func (c *Config) validate() error {
	if c.SerialBaudRate <= 0 {
		return fmt.Errorf("SERIAL_BAUD_RATE must be positive, got %d", c.SerialBaudRate)
	}
	if c.PollIntervalUs <= 0 {
		return fmt.Errorf("POLL_INTERVAL_US must be positive, got %d", c.PollIntervalUs)
	}
	for _, v := range []struct {
		key string
		val int
	}{
		{"QUEUE_CAPACITY", c.QueueCapacity},
		{"SUBSCRIBER_BUFFER", c.SubscriberBuffer},
		{"HISTORY_CAPACITY", c.HistoryCapacity},
	} {
		if v.val < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", v.key, v.val)
		}
	}
	for _, v := range []struct {
		key string
		val int
	}{
		{"LEFT_FOOT_NODE", c.LeftFootNode},
		{"LEFT_KNEE_PROXIMAL", c.LeftKneeProximal},
		{"LEFT_KNEE_DISTAL", c.LeftKneeDistal},
		{"RIGHT_KNEE_PROXIMAL", c.RightKneeProximal},
		{"RIGHT_KNEE_DISTAL", c.RightKneeDistal},
	} {
		if v.val < 0 || v.val > 255 {
			return fmt.Errorf("%s must be a node id 0-255, got %d", v.key, v.val)
		}
	}
	switch c.MQTTEncoding {
	case "json", "msgpack":
	default:
		return fmt.Errorf("MQTT_ENCODING must be json or msgpack, got %q", c.MQTTEncoding)
	}
	if c.MQTTBroker != "" && c.MQTTTopicPrefix == "" {
		return fmt.Errorf("MQTT_TOPIC_PREFIX is required when MQTT_BROKER is set")
	}
	if c.WebServerPort < 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT must be 0-65535, got %d", c.WebServerPort)
	}
	return nil
}

// InitGlobal initializes the global configuration from file, or from
// Default() when configPath is empty. Only the first call has any effect.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		if configPath == "" {
			globalConfig = Default()
			return
		}
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
