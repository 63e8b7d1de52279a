package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ReservedDeviceID is the schedule target meaning "every device".
// It can never be used as the ID of a real device.
const ReservedDeviceID = "ALL"

// Config is the root configuration structure for Domotic Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	KeepAlive int                 `yaml:"keep_alive"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Topics    MQTTTopicsConfig    `yaml:"topics"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`

	// InsecureSkipVerify accepts a broker certificate signed by an untrusted CA.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	// ClientID is generated as "domotic-<uuid>" when empty.
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int  `yaml:"initial_delay"`
	MaxDelay     int  `yaml:"max_delay"`
	ConnectRetry bool `yaml:"connect_retry"`
}

// MQTTTopicsConfig names the shared topics that are not bound to a device.
type MQTTTopicsConfig struct {
	Telemetry string `yaml:"telemetry"`
	Alert     string `yaml:"alert"`
}

// DeviceConfig describes one switchable outlet.
// Topic carries both commands and state echoes.
type DeviceConfig struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Topic string `yaml:"topic"`
}

// SchedulerConfig contains schedule evaluator settings.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`

	// ResumeActiveWindows marks windows that contain "now" at start-up as
	// already started so their end transition still fires.
	ResumeActiveWindows bool `yaml:"resume_active_windows"`

	// ReapplyOnResume re-issues the start action of resumed windows.
	ReapplyOnResume bool `yaml:"reapply_on_resume"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig holds HTTP server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

func (t APITimeoutConfig) ReadTimeout() time.Duration  { return seconds(t.Read) }
func (t APITimeoutConfig) WriteTimeout() time.Duration { return seconds(t.Write) }
func (t APITimeoutConfig) IdleTimeout() time.Duration  { return seconds(t.Idle) }

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings. Intervals are in
// seconds.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// PingPeriod is how often the server pings an idle client.
func (w WebSocketConfig) PingPeriod() time.Duration { return seconds(w.PingInterval) }

// ReadDeadline is how long a client may stay silent: one ping period plus
// the pong allowance.
func (w WebSocketConfig) ReadDeadline() time.Duration {
	return seconds(w.PingInterval + w.PongTimeout)
}

// WriteWait bounds a single frame write.
func (w WebSocketConfig) WriteWait() time.Duration { return seconds(w.PongTimeout) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load layers the file at path over the defaults, then the DOMOTIC_*
// environment over both, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration, used when no file is present.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config matching the original two-outlet deployment.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "home",
			Name:     "Domotic",
			Timezone: "Local",
		},
		Database: DatabaseConfig{
			Path:        "./data/domotic.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS:       0,
			KeepAlive: 60,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				ConnectRetry: true,
			},
			Topics: MQTTTopicsConfig{
				Telemetry: "sae301/temperature",
				Alert:     "sae301/alert",
			},
		},
		Devices: []DeviceConfig{
			{ID: "LED1", Name: "Prise 1", Topic: "sae301/led"},
			{ID: "LED2", Name: "Prise 2", Topic: "sae301_2/led"},
		},
		Scheduler: SchedulerConfig{
			Enabled:             true,
			ResumeActiveWindows: true,
			ReapplyOnResume:     false,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides copies set DOMOTIC_<SECTION>_<KEY> variables over cfg.
// A port that does not parse as an integer is ignored.
func applyEnvOverrides(cfg *Config) {
	for name, dst := range map[string]*string{
		"DOMOTIC_DATABASE_PATH":  &cfg.Database.Path,
		"DOMOTIC_MQTT_HOST":      &cfg.MQTT.Broker.Host,
		"DOMOTIC_MQTT_USERNAME":  &cfg.MQTT.Auth.Username,
		"DOMOTIC_MQTT_PASSWORD":  &cfg.MQTT.Auth.Password,
		"DOMOTIC_API_HOST":       &cfg.API.Host,
		"DOMOTIC_INFLUXDB_TOKEN": &cfg.InfluxDB.Token,
	} {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	if port, err := strconv.Atoi(os.Getenv("DOMOTIC_MQTT_PORT")); err == nil {
		cfg.MQTT.Broker.Port = port
	}
}

// problems collects validation failures so they can be reported together.
type problems []string

func (p *problems) check(ok bool, format string, args ...any) {
	if !ok {
		*p = append(*p, fmt.Sprintf(format, args...))
	}
}

func validPort(n int) bool { return n >= 1 && n <= 65535 }

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var p problems

	p.check(c.Site.ID != "", "site.id is required")
	p.check(c.Database.Path != "", "database.path is required")

	p.check(c.MQTT.Broker.Host != "", "mqtt.broker.host is required")
	p.check(validPort(c.MQTT.Broker.Port), "mqtt.broker.port must be between 1 and 65535")
	p.check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
	p.check(c.MQTT.Topics.Telemetry != "", "mqtt.topics.telemetry is required")
	p.check(c.MQTT.Topics.Alert != "", "mqtt.topics.alert is required")

	c.validateDevices(&p)

	p.check(validPort(c.API.Port), "api.port must be between 1 and 65535")
	p.check(!c.InfluxDB.Enabled || c.InfluxDB.URL != "", "influxdb.url is required when influxdb is enabled")

	if len(p) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(p, "; "))
	}
	return nil
}

// validateDevices requires at least one device, unique IDs and topics,
// and no use of the reserved "ALL" identifier.
func (c *Config) validateDevices(p *problems) {
	if len(c.Devices) == 0 {
		p.check(false, "devices must contain at least one device")
		return
	}

	ids := make(map[string]struct{}, len(c.Devices))
	topics := make(map[string]struct{}, len(c.Devices))
	for i, d := range c.Devices {
		_, dupID := ids[d.ID]
		_, dupTopic := topics[d.Topic]
		ids[d.ID] = struct{}{}

		switch {
		case d.ID == "":
			p.check(false, "devices[%d].id is required", i)
		case strings.EqualFold(d.ID, ReservedDeviceID):
			p.check(false, "devices[%d].id %q is reserved", i, d.ID)
		case dupID:
			p.check(false, "devices[%d].id %q is duplicated", i, d.ID)
		}

		if d.Topic == "" {
			p.check(false, "devices[%d].topic is required", i)
			continue
		}
		topics[d.Topic] = struct{}{}
		p.check(!dupTopic, "devices[%d].topic %q is duplicated", i, d.Topic)
		p.check(d.Topic != c.MQTT.Topics.Telemetry && d.Topic != c.MQTT.Topics.Alert,
			"devices[%d].topic %q collides with a shared topic", i, d.Topic)
	}
}

// Location resolves the site timezone used for schedule evaluation.
// "Local" or an empty value selects the host timezone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Site.Timezone {
	case "", "Local":
		return time.Local, nil
	default:
		loc, err := time.LoadLocation(c.Site.Timezone)
		if err != nil {
			return nil, fmt.Errorf("loading site timezone %q: %w", c.Site.Timezone, err)
		}
		return loc, nil
	}
}
