package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full MonoZone configuration, loaded from YAML with
// MONOZONE_* environment overrides layered on top.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	Amplifier AmplifierConfig `yaml:"amplifier"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig identifies the deployment and its timezone.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig holds the SQLite store settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// AmplifierConfig contains the iTach/amplifier connection settings.
type AmplifierConfig struct {
	// Host is the iTach IP address or hostname.
	Host string `yaml:"host"`

	// Port is the iTach serial-passthrough TCP port. Default: 4999.
	Port int `yaml:"port"`

	// Zones lists the wired zone IDs (1-6). Unlisted zones are ignored
	// even when the amplifier reports them.
	Zones []int `yaml:"zones"`

	// ZoneNames maps zone IDs to human-readable names.
	ZoneNames map[int]string `yaml:"zone_names"`

	// ConnectTimeout is the TCP dial timeout in seconds. Default: 5.
	ConnectTimeout int `yaml:"connect_timeout"`

	// CommandTimeout is the per-command response timeout in seconds.
	// Default: 2.
	CommandTimeout int `yaml:"command_timeout"`

	// PollInterval is the seconds between full zone status polls.
	// Default: 10. 0 keeps the default; polling cannot be disabled
	// because keypad changes are otherwise invisible.
	PollInterval int `yaml:"poll_interval"`

	// Reconnect contains reconnection backoff settings.
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig contains reconnection backoff settings (seconds).
type ReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// SchedulerConfig contains schedule evaluation settings.
type SchedulerConfig struct {
	// TickInterval is the seconds between due-schedule evaluations.
	// Default: 30.
	TickInterval int `yaml:"tick_interval"`

	// DeferralWindow is the minutes a firing blocked by a dead
	// amplifier link may run late before being recorded as failed.
	// Default: 10.
	DeferralWindow int `yaml:"deferral_window"`
}

// MQTTConfig contains MQTT broker connection settings. MQTT is
// optional: when disabled, zone state is simply not fanned out.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig locates the broker.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig carries broker credentials, normally injected via environment.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig tunes broker reconnect backoff, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings. Telemetry is
// optional and never blocks amplifier control.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig selects log level, format and destination.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads the YAML file at path on top of the built-in defaults,
// applies MONOZONE_* environment overrides and validates the result.
// Later layers win: defaults < file < environment.
//
// Returns:
//   - *Config: loaded and validated configuration
//   - error: when the file cannot be read or parsed, or validation fails
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

// defaultConfig is the baseline a config file overlays. Amplifier
// host is deliberately absent: there is no sensible default for
// where the iTach lives.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "MonoZone",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/monozone.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Amplifier: AmplifierConfig{
			Port:           4999,
			Zones:          []int{1, 2, 3, 4, 5, 6},
			ConnectTimeout: 5,
			CommandTimeout: 2,
			PollInterval:   10,
			Reconnect: ReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     30,
			},
		},
		Scheduler: SchedulerConfig{
			TickInterval:   30,
			DeferralWindow: 10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "monozone",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides lets MONOZONE_SECTION_KEY environment variables
// override file values. Secrets (broker password, InfluxDB token)
// are expected to arrive this way rather than living in config.yaml.
func applyEnvOverrides(cfg *Config) {
	overrides := map[string]*string{
		"MONOZONE_DATABASE_PATH":  &cfg.Database.Path,
		"MONOZONE_AMPLIFIER_HOST": &cfg.Amplifier.Host,
		"MONOZONE_MQTT_HOST":      &cfg.MQTT.Broker.Host,
		"MONOZONE_MQTT_USERNAME":  &cfg.MQTT.Auth.Username,
		"MONOZONE_MQTT_PASSWORD":  &cfg.MQTT.Auth.Password,
		"MONOZONE_INFLUXDB_TOKEN": &cfg.InfluxDB.Token,
	}
	for key, dst := range overrides {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("MONOZONE_AMPLIFIER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Amplifier.Port = port
		}
	}
}

// Validate collects every configuration problem into one error, so
// a misconfigured deployment reports all of its mistakes at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if _, err := time.LoadLocation(c.Site.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("site.timezone %q is not a valid IANA timezone", c.Site.Timezone))
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Amplifier.Host == "" {
		errs = append(errs, "amplifier.host is required (set MONOZONE_AMPLIFIER_HOST environment variable)")
	}
	if c.Amplifier.Port < 1 || c.Amplifier.Port > 65535 {
		errs = append(errs, "amplifier.port must be between 1 and 65535")
	}
	if len(c.Amplifier.Zones) == 0 {
		errs = append(errs, "amplifier.zones must list at least one zone")
	}
	seen := make(map[int]struct{}, len(c.Amplifier.Zones))
	for _, id := range c.Amplifier.Zones {
		if id < 1 || id > 6 {
			errs = append(errs, fmt.Sprintf("amplifier.zones: zone %d out of range 1-6", id))
			continue
		}
		if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Sprintf("amplifier.zones: duplicate zone %d", id))
		}
		seen[id] = struct{}{}
	}

	if c.Scheduler.TickInterval < 1 {
		errs = append(errs, "scheduler.tick_interval must be at least 1 second")
	}
	if c.Scheduler.DeferralWindow < 1 {
		errs = append(errs, "scheduler.deferral_window must be at least 1 minute")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Location returns the site timezone as a *time.Location. Validate
// guarantees it parses; UTC is the fallback for a zero config.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Site.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetConnectTimeout returns the amplifier dial timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Amplifier.ConnectTimeout) * time.Second
}

// GetCommandTimeout returns the amplifier command timeout as a Duration.
func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.Amplifier.CommandTimeout) * time.Second
}

// GetPollInterval returns the zone poll interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Amplifier.PollInterval) * time.Second
}

// GetTickInterval returns the scheduler tick as a Duration.
func (c *Config) GetTickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickInterval) * time.Second
}

// GetDeferralWindow returns the scheduler deferral window as a Duration.
func (c *Config) GetDeferralWindow() time.Duration {
	return time.Duration(c.Scheduler.DeferralWindow) * time.Minute
}
