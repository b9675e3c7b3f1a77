package config

import (
	"time"

	"github.com/spf13/viper"
)

// Environment keys recognized by parseEnv. The same keys may be placed in
// a dotenv file next to the binary.
const (
	EnvListenAddr          = "PAIRCHAT_LISTEN_ADDR"
	EnvAdminAddr           = "PAIRCHAT_ADMIN_ADDR"
	EnvDatabaseDSN         = "PAIRCHAT_DATABASE_DSN"
	EnvRedisURL            = "PAIRCHAT_REDIS_URL"
	EnvMongoURI            = "PAIRCHAT_MONGO_URI"
	EnvMongoDatabase       = "PAIRCHAT_MONGO_DATABASE"
	EnvSecretKey           = "PAIRCHAT_SECRET_KEY"
	EnvTokenValidity       = "PAIRCHAT_TOKEN_VALIDITY"
	EnvInstanceID          = "PAIRCHAT_INSTANCE_ID"
	EnvHeartbeatTimeout    = "PAIRCHAT_HEARTBEAT_TIMEOUT"
	EnvStorageTimeout      = "PAIRCHAT_STORAGE_TIMEOUT"
	EnvHealthCheckInterval = "PAIRCHAT_HEALTH_CHECK_INTERVAL"
	EnvCleanupInterval     = "PAIRCHAT_CLEANUP_INTERVAL"
	EnvMessageRingSize     = "PAIRCHAT_MESSAGE_RING_SIZE"
	EnvLocalCacheSize      = "PAIRCHAT_LOCAL_CACHE_SIZE"
	EnvHistoryLimit        = "PAIRCHAT_HISTORY_LIMIT"
	EnvBcryptCost          = "PAIRCHAT_BCRYPT_COST"
	EnvLogLevel            = "PAIRCHAT_LOG_LEVEL"
)

// parseEnv overlays values from the process environment and, when present,
// the dotenv file at envFile. Process variables win over the file.
// Durations use Go syntax ("5s", "1m30s").
func parseEnv(config *Config, envFile string) {
	v := viper.New()
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		_ = v.ReadInConfig()
	}
	v.AutomaticEnv()

	envString(v, EnvListenAddr, &config.ListenAddr)
	envString(v, EnvAdminAddr, &config.AdminAddr)
	envString(v, EnvDatabaseDSN, &config.DatabaseDSN)
	envString(v, EnvRedisURL, &config.RedisURL)
	envString(v, EnvMongoURI, &config.MongoURI)
	envString(v, EnvMongoDatabase, &config.MongoDatabase)
	envString(v, EnvSecretKey, &config.SecretKey)
	envString(v, EnvInstanceID, &config.InstanceID)
	envString(v, EnvLogLevel, &config.LogLevel)

	envDuration(v, EnvTokenValidity, &config.TokenValidityDuration)
	envDuration(v, EnvHeartbeatTimeout, &config.HeartbeatTimeout)
	envDuration(v, EnvStorageTimeout, &config.StorageTimeout)
	envDuration(v, EnvHealthCheckInterval, &config.HealthCheckInterval)
	envDuration(v, EnvCleanupInterval, &config.CleanupInterval)

	envInt(v, EnvMessageRingSize, &config.MessageRingSize)
	envInt(v, EnvLocalCacheSize, &config.LocalCacheSize)
	envInt(v, EnvHistoryLimit, &config.HistoryLimit)
	envInt(v, EnvBcryptCost, &config.BcryptCost)
}

func envString(v *viper.Viper, key string, dst *string) {
	if s := v.GetString(key); s != "" {
		*dst = s
	}
}

func envDuration(v *viper.Viper, key string, dst *time.Duration) {
	if d := v.GetDuration(key); d > 0 {
		*dst = d
	}
}

func envInt(v *viper.Viper, key string, dst *int) {
	if n := v.GetInt(key); n > 0 {
		*dst = n
	}
}
