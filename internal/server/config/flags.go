package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/pairchat/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   WebSocket gateway bind address (e.g., ":8080")
//	-m string   admin gRPC health bind address (e.g., ":8081")
//	-d string   PostgreSQL DSN
//	-r string   Redis URL
//	-g string   MongoDB URI
//	-n string   MongoDB database name
//	-s string   JWT HMAC secret key
//	-t int      session token validity, minutes
//	-i string   instance id used in ephemeral room ids
//	-l string   log level (debug, info, warn, error)
//
// Notes:
//   - The args are first filtered to only the flags recognized here using
//     flagx.FilterArgs, so -c/-config and unknown flags do not break parsing.
//   - Token validity is accepted in minutes and converted to time.Duration.
func parseFlags(config *Config, args []string) {
	args = flagx.FilterArgs(args, []string{"-a", "-m", "-d", "-r", "-g", "-n", "-s", "-t", "-i", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.ListenAddr, "a", config.ListenAddr, "address and port of the websocket gateway")
	fs.StringVar(&config.AdminAddr, "m", config.AdminAddr, "address and port of the admin health endpoint")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RedisURL, "r", config.RedisURL, "redis URL")
	fs.StringVar(&config.MongoURI, "g", config.MongoURI, "mongodb URI")
	fs.StringVar(&config.MongoDatabase, "n", config.MongoDatabase, "mongodb database")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	tokenValidity := fs.Int("t", int(config.TokenValidityDuration.Minutes()), "token_validity_duration (in minutes)")

	fs.StringVar(&config.InstanceID, "i", config.InstanceID, "instance id")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.TokenValidityDuration = time.Duration(*tokenValidity) * time.Minute
}
