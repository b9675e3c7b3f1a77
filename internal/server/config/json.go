package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/pairchat/internal/flagx"
	"github.com/dmitrijs2005/pairchat/internal/timex"
)

// JsonConfig is the on-disk shape of the server config file. Interval
// fields use timex.Duration so both "5s" and integer nanoseconds parse.
// Absent fields leave the current value untouched.
type JsonConfig struct {
	ListenAddr            string         `json:"listen_addr"`
	AdminAddr             string         `json:"admin_addr"`
	DatabaseDSN           string         `json:"database_dsn"`
	RedisURL              string         `json:"redis_url"`
	MongoURI              string         `json:"mongo_uri"`
	MongoDatabase         string         `json:"mongo_database"`
	SecretKey             string         `json:"secret_key"`
	TokenValidityDuration timex.Duration `json:"token_validity_duration"`
	InstanceID            string         `json:"instance_id"`
	HeartbeatTimeout      timex.Duration `json:"heartbeat_timeout"`
	StorageTimeout        timex.Duration `json:"storage_timeout"`
	HealthCheckInterval   timex.Duration `json:"health_check_interval"`
	CleanupInterval       timex.Duration `json:"cleanup_interval"`
	MessageRingSize       int            `json:"message_ring_size"`
	LocalCacheSize        int            `json:"local_cache_size"`
	HistoryLimit          int            `json:"history_limit"`
	BcryptCost            int            `json:"bcrypt_cost"`
	LogLevel              string         `json:"log_level"`
}

// parseJson overlays values from the JSON file named by -c/-config (or the
// PAIRCHAT_CONFIG variable). Without a path it does nothing. An unreadable
// file or invalid JSON panics: a half-applied config is worse than none.
func parseJson(config *Config, args []string) {
	jsonConfigFile := flagx.ConfigFilePath(args, ConfigFileEnv)
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.ListenAddr, c.ListenAddr)
	setString(&config.AdminAddr, c.AdminAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.RedisURL, c.RedisURL)
	setString(&config.MongoURI, c.MongoURI)
	setString(&config.MongoDatabase, c.MongoDatabase)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.InstanceID, c.InstanceID)
	setString(&config.LogLevel, c.LogLevel)

	setDuration(&config.TokenValidityDuration, c.TokenValidityDuration)
	setDuration(&config.HeartbeatTimeout, c.HeartbeatTimeout)
	setDuration(&config.StorageTimeout, c.StorageTimeout)
	setDuration(&config.HealthCheckInterval, c.HealthCheckInterval)
	setDuration(&config.CleanupInterval, c.CleanupInterval)

	setInt(&config.MessageRingSize, c.MessageRingSize)
	setInt(&config.LocalCacheSize, c.LocalCacheSize)
	setInt(&config.HistoryLimit, c.HistoryLimit)
	setInt(&config.BcryptCost, c.BcryptCost)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
