package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the analyzer configuration
type Config struct {
	LogLevel string `yaml:"log_level"`

	MQTT        MQTTConfig   `yaml:"mqtt"`
	MQTTServers []MQTTConfig `yaml:"mqtt_servers"`

	Postgres PostgresConfig `yaml:"postgres"`
	API      APIConfig      `yaml:"api"`
	Writer   WriterConfig   `yaml:"writer"`
	Session  SessionConfig  `yaml:"session"`

	Integration IntegrationConfig `yaml:"integration"`

	Operators []OperatorConfig `yaml:"operators"`
	HideRules []HideRuleConfig `yaml:"hide_rules"`
}

// MQTTConfig represents one broker connection
type MQTTConfig struct {
	Server   string `yaml:"server"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	Format   string `yaml:"format"` // protobuf | json
	ClientID string `yaml:"client_id"`
}

// PostgresConfig represents database configuration
type PostgresConfig struct {
	URL             string   `yaml:"url"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// APIConfig represents the HTTP/WS layer configuration
type APIConfig struct {
	Bind          string   `yaml:"bind"`
	CORSOrigins   []string `yaml:"cors_origins"`
	JWTSecret     string   `yaml:"jwt_secret"`
	AdminPassword string   `yaml:"admin_password"`
}

// WriterConfig tunes the batched writer
type WriterConfig struct {
	BatchSize     int      `yaml:"batch_size"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// SessionConfig tunes the session tracker
type SessionConfig struct {
	InactivityWindow Duration `yaml:"inactivity_window"`
	SweepInterval    Duration `yaml:"sweep_interval"`
}

// IntegrationConfig represents downstream integrations
type IntegrationConfig struct {
	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig represents the NATS re-publisher; empty URL disables it
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// OperatorConfig is a user-supplied operator rule. Prefix accepts a single
// string or a list; a color-only entry (no prefix) recolors a built-in
// operator matched by name.
type OperatorConfig struct {
	Prefix       StringList `yaml:"prefix"`
	Name         string     `yaml:"name"`
	Priority     int        `yaml:"priority"`
	KnownDevices []string   `yaml:"known_devices"`
	Color        string     `yaml:"color"`
}

// HideRuleConfig suppresses rows from read endpoints
type HideRuleConfig struct {
	Type        string `yaml:"type"` // dev_addr | join_eui
	Prefix      string `yaml:"prefix"`
	Description string `yaml:"description"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	// 环境变量优先
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Parse parses configuration bytes, applies defaults and validates
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ANALYZER_MQTT_SERVER"); v != "" {
		c.MQTT.Server = v
	}
	if v := os.Getenv("ANALYZER_MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("ANALYZER_MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("ANALYZER_POSTGRES_URL"); v != "" {
		c.Postgres.URL = v
	}
	if v := os.Getenv("ANALYZER_API_BIND"); v != "" {
		c.API.Bind = v
	}
	if v := os.Getenv("ANALYZER_JWT_SECRET"); v != "" {
		c.API.JWTSecret = v
	}
	if v := os.Getenv("ANALYZER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ANALYZER_NATS_URL"); v != "" {
		c.Integration.NATS.URL = v
	}
}

func (c *Config) setDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	c.MQTT.setDefaults()
	for i := range c.MQTTServers {
		c.MQTTServers[i].setDefaults()
	}

	if c.API.Bind == "" {
		c.API.Bind = ":8080"
	}

	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = 1000
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = Duration(2 * time.Second)
	}

	// 默认比数据保留期（8天）更长
	if c.Session.InactivityWindow == 0 {
		c.Session.InactivityWindow = Duration(216 * time.Hour)
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = Duration(time.Hour)
	}

	if c.Integration.NATS.SubjectPrefix == "" {
		c.Integration.NATS.SubjectPrefix = "analyzer"
	}

	for i := range c.Operators {
		if c.Operators[i].Priority == 0 {
			c.Operators[i].Priority = 100
		}
	}
}

func (c *Config) validate() error {
	if err := c.MQTT.validate(); err != nil {
		return err
	}
	for i := range c.MQTTServers {
		if err := c.MQTTServers[i].validate(); err != nil {
			return fmt.Errorf("mqtt_servers[%d]: %w", i, err)
		}
	}

	for i, h := range c.HideRules {
		switch h.Type {
		case "dev_addr", "join_eui":
		default:
			return fmt.Errorf("hide_rules[%d]: invalid type %q", i, h.Type)
		}
		if h.Prefix == "" {
			return fmt.Errorf("hide_rules[%d]: prefix is required", i)
		}
	}

	for i, op := range c.Operators {
		if op.Name == "" {
			return fmt.Errorf("operators[%d]: name is required", i)
		}
	}

	return nil
}

func (m *MQTTConfig) setDefaults() {
	if m.Topic == "" {
		m.Topic = "#"
	}
	if m.Format == "" {
		m.Format = "protobuf"
	}
}

func (m *MQTTConfig) validate() error {
	if m.Server == "" {
		return nil // broker entry disabled
	}
	switch m.Format {
	case "protobuf", "json":
		return nil
	default:
		return fmt.Errorf("mqtt: invalid format %q (want protobuf or json)", m.Format)
	}
}

// Brokers returns the primary broker plus the additional ones, skipping
// entries with no server set.
func (c *Config) Brokers() []MQTTConfig {
	out := make([]MQTTConfig, 0, 1+len(c.MQTTServers))
	if c.MQTT.Server != "" {
		out = append(out, c.MQTT)
	}
	for _, m := range c.MQTTServers {
		if m.Server != "" {
			out = append(out, m)
		}
	}
	return out
}

// Duration is a time.Duration that unmarshals from "2s"/"1h" strings
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("parse duration: %s", value.Value)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// Std returns the standard library form
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// StringList accepts a YAML scalar or sequence of strings
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler
func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	var single string
	if err := value.Decode(&single); err == nil {
		*l = StringList{single}
		return nil
	}

	var many []string
	if err := value.Decode(&many); err != nil {
		return fmt.Errorf("prefix must be a string or a list of strings")
	}
	*l = StringList(many)
	return nil
}
