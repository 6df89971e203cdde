package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/flagx"
	"github.com/dmitrijs2005/authkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the server configuration file.
//
// Every field is optional: pointer fields left nil keep the value already
// present in Config (defaults or environment). Durations use timex.Duration,
// so both "15m" and integer nanoseconds are accepted.
type JsonConfig struct {
	EndpointAddr *string `json:"endpoint_addr"`
	DatabaseDSN  *string `json:"database_dsn"`
	SecretKey    *string `json:"secret_key"`
	Env          *string `json:"env"`
	LogLevel     *string `json:"log_level"`
	LogFormat    *string `json:"log_format"`

	SessionValidity    *timex.Duration `json:"session_validity"`
	ResetTokenValidity *timex.Duration `json:"reset_token_validity"`
	ExposeResetToken   *bool           `json:"expose_reset_token"`
	ResetRequestEvery  *timex.Duration `json:"reset_request_every"`
	ResetRequestBurst  *int            `json:"reset_request_burst"`

	MaxLoginAttempts *int            `json:"max_login_attempts"`
	LockoutDuration  *timex.Duration `json:"lockout_duration"`
	LockoutRearm     *bool           `json:"lockout_rearm"`
	LoginIdentifier  *string         `json:"login_identifier"`

	PasswordHistoryCount     *int            `json:"password_history_count"`
	PasswordHistoryRetention *int            `json:"password_history_retention"`
	PasswordExpiry           *timex.Duration `json:"password_expiry"`

	PasswordMinLength   *int    `json:"password_min_length"`
	PasswordMaxLength   *int    `json:"password_max_length"`
	RequireUppercase    *bool   `json:"require_uppercase"`
	RequireLowercase    *bool   `json:"require_lowercase"`
	RequireNumbers      *bool   `json:"require_numbers"`
	RequireSpecialChars *bool   `json:"require_special_chars"`
	SpecialChars        *string `json:"special_chars"`
	BlacklistFile       *string `json:"blacklist_file"`
	MinStrengthScore    *int    `json:"min_strength_score"`

	S3Region       *string `json:"s3_region"`
	S3BaseEndpoint *string `json:"s3_base_endpoint"`
	S3AccessKey    *string `json:"s3_access_key"`
	S3SecretKey    *string `json:"s3_secret_key"`

	LimiterStore  *string `json:"limiter_store"`
	RedisAddr     *string `json:"redis_addr"`
	RedisPassword *string `json:"redis_password"`
	RedisDB       *int    `json:"redis_db"`

	Notifier         *string  `json:"notifier"`
	KafkaBrokers     []string `json:"kafka_brokers"`
	KafkaTopicPrefix *string  `json:"kafka_topic_prefix"`

	MetricsEnabled    *bool    `json:"metrics_enabled"`
	RequestsPerMinute *int     `json:"requests_per_minute"`
	CORSOrigins       []string `json:"cors_origins"`
}

// parseJson loads configuration values from the JSON file named by the -c
// or -config flag. Without either flag nothing is loaded. An unreadable file
// or invalid JSON panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	set(&config.EndpointAddr, c.EndpointAddr)
	set(&config.DatabaseDSN, c.DatabaseDSN)
	set(&config.SecretKey, c.SecretKey)
	set(&config.Env, c.Env)
	set(&config.LogLevel, c.LogLevel)
	set(&config.LogFormat, c.LogFormat)

	setDuration(&config.SessionValidity, c.SessionValidity)
	setDuration(&config.ResetTokenValidity, c.ResetTokenValidity)
	set(&config.ExposeResetToken, c.ExposeResetToken)
	setDuration(&config.ResetRequestEvery, c.ResetRequestEvery)
	set(&config.ResetRequestBurst, c.ResetRequestBurst)

	set(&config.MaxLoginAttempts, c.MaxLoginAttempts)
	setDuration(&config.LockoutDuration, c.LockoutDuration)
	set(&config.LockoutRearm, c.LockoutRearm)
	set(&config.LoginIdentifier, c.LoginIdentifier)

	set(&config.PasswordHistoryCount, c.PasswordHistoryCount)
	set(&config.PasswordHistoryRetention, c.PasswordHistoryRetention)
	setDuration(&config.PasswordExpiry, c.PasswordExpiry)

	set(&config.PasswordMinLength, c.PasswordMinLength)
	set(&config.PasswordMaxLength, c.PasswordMaxLength)
	set(&config.RequireUppercase, c.RequireUppercase)
	set(&config.RequireLowercase, c.RequireLowercase)
	set(&config.RequireNumbers, c.RequireNumbers)
	set(&config.RequireSpecialChars, c.RequireSpecialChars)
	set(&config.SpecialChars, c.SpecialChars)
	set(&config.BlacklistFile, c.BlacklistFile)
	set(&config.MinStrengthScore, c.MinStrengthScore)

	set(&config.S3Region, c.S3Region)
	set(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	set(&config.S3AccessKey, c.S3AccessKey)
	set(&config.S3SecretKey, c.S3SecretKey)

	set(&config.LimiterStore, c.LimiterStore)
	set(&config.RedisAddr, c.RedisAddr)
	set(&config.RedisPassword, c.RedisPassword)
	set(&config.RedisDB, c.RedisDB)

	set(&config.Notifier, c.Notifier)
	if c.KafkaBrokers != nil {
		config.KafkaBrokers = c.KafkaBrokers
	}
	set(&config.KafkaTopicPrefix, c.KafkaTopicPrefix)

	set(&config.MetricsEnabled, c.MetricsEnabled)
	set(&config.RequestsPerMinute, c.RequestsPerMinute)
	if c.CORSOrigins != nil {
		config.CORSOrigins = c.CORSOrigins
	}
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}
