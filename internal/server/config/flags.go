package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      session token validity, minutes
//	-r int      reset token validity, minutes
//	-m int      failed logins before lockout
//	-k int      lockout duration, minutes
//	-b string   password blacklist file
//	-l string   log level (debug, info, warn, error)
//
// os.Args is filtered with flagx.FilterArgs first, so flags owned by other
// parsers (-c, -env) do not cause errors here.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-t", "-r", "-m", "-k", "-b", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	sessionValidity := fs.Int("t", int(config.SessionValidity.Minutes()), "session_validity (in minutes)")
	resetTokenValidity := fs.Int("r", int(config.ResetTokenValidity.Minutes()), "reset_token_validity (in minutes)")

	fs.IntVar(&config.MaxLoginAttempts, "m", config.MaxLoginAttempts, "failed logins before lockout")
	lockout := fs.Int("k", int(config.LockoutDuration.Minutes()), "lockout_duration (in minutes)")

	fs.StringVar(&config.BlacklistFile, "b", config.BlacklistFile, "password blacklist file")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SessionValidity = time.Duration(*sessionValidity) * time.Minute
	config.ResetTokenValidity = time.Duration(*resetTokenValidity) * time.Minute
	config.LockoutDuration = time.Duration(*lockout) * time.Minute
}
