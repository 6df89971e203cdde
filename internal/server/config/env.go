package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/flagx"
	"github.com/joho/godotenv"
)

const envPrefix = "AUTHKEEPER_"

// parseEnv overlays AUTHKEEPER_* environment variables onto config.
//
// Variables are first seeded from a dotenv file: the one named by -env, or
// ./.env when present. godotenv never overrides variables that are already
// set in the process environment. An unreadable -env file or a malformed
// value panics, like the JSON and flag parsers.
func parseEnv(config *Config) {
	if path := flagx.EnvFileFlag(); path != "" {
		if err := godotenv.Load(path); err != nil {
			panic(err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	envString("ADDRESS", &config.EndpointAddr)
	envString("DATABASE_DSN", &config.DatabaseDSN)
	envString("SECRET_KEY", &config.SecretKey)
	envString("ENV", &config.Env)
	envString("LOG_LEVEL", &config.LogLevel)
	envString("LOG_FORMAT", &config.LogFormat)

	envDuration("SESSION_VALIDITY", &config.SessionValidity)
	envDuration("RESET_TOKEN_VALIDITY", &config.ResetTokenValidity)
	envBool("EXPOSE_RESET_TOKEN", &config.ExposeResetToken)
	envDuration("RESET_REQUEST_EVERY", &config.ResetRequestEvery)
	envInt("RESET_REQUEST_BURST", &config.ResetRequestBurst)

	envInt("MAX_LOGIN_ATTEMPTS", &config.MaxLoginAttempts)
	envDuration("LOCKOUT_DURATION", &config.LockoutDuration)
	envBool("LOCKOUT_REARM", &config.LockoutRearm)
	envString("LOGIN_IDENTIFIER", &config.LoginIdentifier)

	envInt("PASSWORD_HISTORY_COUNT", &config.PasswordHistoryCount)
	envInt("PASSWORD_HISTORY_RETENTION", &config.PasswordHistoryRetention)
	envDuration("PASSWORD_EXPIRY", &config.PasswordExpiry)

	envInt("PASSWORD_MIN_LENGTH", &config.PasswordMinLength)
	envInt("PASSWORD_MAX_LENGTH", &config.PasswordMaxLength)
	envBool("REQUIRE_UPPERCASE", &config.RequireUppercase)
	envBool("REQUIRE_LOWERCASE", &config.RequireLowercase)
	envBool("REQUIRE_NUMBERS", &config.RequireNumbers)
	envBool("REQUIRE_SPECIAL_CHARS", &config.RequireSpecialChars)
	envString("SPECIAL_CHARS", &config.SpecialChars)
	envString("BLACKLIST_FILE", &config.BlacklistFile)
	envInt("MIN_STRENGTH_SCORE", &config.MinStrengthScore)

	envString("S3_REGION", &config.S3Region)
	envString("S3_BASE_ENDPOINT", &config.S3BaseEndpoint)
	envString("S3_ACCESS_KEY", &config.S3AccessKey)
	envString("S3_SECRET_KEY", &config.S3SecretKey)

	envString("LIMITER_STORE", &config.LimiterStore)
	envString("REDIS_ADDR", &config.RedisAddr)
	envString("REDIS_PASSWORD", &config.RedisPassword)
	envInt("REDIS_DB", &config.RedisDB)

	envString("NOTIFIER", &config.Notifier)
	envList("KAFKA_BROKERS", &config.KafkaBrokers)
	envString("KAFKA_TOPIC_PREFIX", &config.KafkaTopicPrefix)

	envBool("METRICS_ENABLED", &config.MetricsEnabled)
	envInt("REQUESTS_PER_MINUTE", &config.RequestsPerMinute)
	envList("CORS_ORIGINS", &config.CORSOrigins)
}

func envString(name string, dst *string) {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		panic(err)
	}
	*dst = n
}

func envBool(name string, dst *bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		panic(err)
	}
	*dst = b
}

func envDuration(name string, dst *time.Duration) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		panic(err)
	}
	*dst = d
}

// envList splits a comma-separated value, dropping empty items.
func envList(name string, dst *[]string) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return
	}
	*dst = splitList(v)
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
