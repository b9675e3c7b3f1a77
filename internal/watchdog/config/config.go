// Package config loads watchdog settings.
//
// Sources, lowest to highest precedence: built-in defaults, an optional JSON
// file (--config), WATCHDOG_* environment variables and explicitly set
// command-line flags. Keys match the flag names; in the environment dashes
// become underscores (WATCHDOG_REDIS_URL for --redis-url).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key.
const EnvPrefix = "WATCHDOG"

// Flag names double as config keys.
const (
	KeyConfig             = "config"
	KeyServerPath         = "server-path"
	KeyServerArgs         = "server-args"
	KeyPort               = "port"
	KeyTransportURL       = "transport-url"
	KeyRedisURL           = "redis-url"
	KeyMongoURI           = "mongo-uri"
	KeyAdminAddr          = "admin-addr"
	KeyCheckInterval      = "check-interval"
	KeyProbeTimeout       = "probe-timeout"
	KeyCooldown           = "cooldown"
	KeyGracePeriod        = "grace-period"
	KeyMaxRestartAttempts = "max-restart-attempts"
	KeyLogLevel           = "log-level"
)

// Config holds watchdog runtime settings.
//
// AdminAddr is optional; when empty the gRPC health probe is skipped.
type Config struct {
	ServerPath         string
	ServerArgs         []string
	Port               int
	TransportURL       string
	RedisURL           string
	MongoURI           string
	AdminAddr          string
	CheckInterval      time.Duration
	ProbeTimeout       time.Duration
	Cooldown           time.Duration
	GracePeriod        time.Duration
	MaxRestartAttempts int
	LogLevel           string
}

// LoadDefaults fills c with values matching a local development setup.
func (c *Config) LoadDefaults() {
	c.ServerPath = "./server"
	c.ServerArgs = nil
	c.Port = 8080
	c.TransportURL = "http://localhost:8080/health"
	c.RedisURL = "redis://localhost:6379/0"
	c.MongoURI = "mongodb://localhost:27017"
	c.AdminAddr = "localhost:8081"
	c.CheckInterval = 5 * time.Second
	c.ProbeTimeout = 2 * time.Second
	c.Cooldown = 60 * time.Second
	c.GracePeriod = 2 * time.Second
	c.MaxRestartAttempts = 5
	c.LogLevel = "info"
}

// RegisterFlags declares every setting on fs with the defaults as flag defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	var d Config
	d.LoadDefaults()

	fs.String(KeyConfig, "", "path to a JSON config file")
	fs.String(KeyServerPath, d.ServerPath, "server binary to supervise")
	fs.StringSlice(KeyServerArgs, d.ServerArgs, "arguments passed to the server binary")
	fs.Int(KeyPort, d.Port, "TCP port freed before every relaunch")
	fs.String(KeyTransportURL, d.TransportURL, "gateway health URL checked for transport liveness")
	fs.String(KeyRedisURL, d.RedisURL, "Redis URL probed for cache health")
	fs.String(KeyMongoURI, d.MongoURI, "MongoDB URI probed for log health")
	fs.String(KeyAdminAddr, d.AdminAddr, "gRPC admin address; empty disables the probe")
	fs.Duration(KeyCheckInterval, d.CheckInterval, "interval between probe rounds")
	fs.Duration(KeyProbeTimeout, d.ProbeTimeout, "timeout of a single probe")
	fs.Duration(KeyCooldown, d.Cooldown, "minimum time between restart attempts")
	fs.Duration(KeyGracePeriod, d.GracePeriod, "wait between SIGTERM and SIGKILL")
	fs.Int(KeyMaxRestartAttempts, d.MaxRestartAttempts, "restart attempts before raising an alert")
	fs.String(KeyLogLevel, d.LogLevel, "log level (debug, info, warn, error)")
}

// Load resolves a Config from the flags registered by RegisterFlags, the
// environment and the JSON file named by --config.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString(KeyConfig); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		ServerPath:         v.GetString(KeyServerPath),
		ServerArgs:         v.GetStringSlice(KeyServerArgs),
		Port:               v.GetInt(KeyPort),
		TransportURL:       v.GetString(KeyTransportURL),
		RedisURL:           v.GetString(KeyRedisURL),
		MongoURI:           v.GetString(KeyMongoURI),
		AdminAddr:          v.GetString(KeyAdminAddr),
		CheckInterval:      v.GetDuration(KeyCheckInterval),
		ProbeTimeout:       v.GetDuration(KeyProbeTimeout),
		Cooldown:           v.GetDuration(KeyCooldown),
		GracePeriod:        v.GetDuration(KeyGracePeriod),
		MaxRestartAttempts: v.GetInt(KeyMaxRestartAttempts),
		LogLevel:           v.GetString(KeyLogLevel),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the supervisor cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.ServerPath == "":
		return fmt.Errorf("%s must not be empty", KeyServerPath)
	case c.TransportURL == "":
		return fmt.Errorf("%s must not be empty", KeyTransportURL)
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("%s out of range: %d", KeyPort, c.Port)
	case c.CheckInterval <= 0:
		return fmt.Errorf("%s must be positive", KeyCheckInterval)
	case c.MaxRestartAttempts <= 0:
		return fmt.Errorf("%s must be positive", KeyMaxRestartAttempts)
	}
	return nil
}
