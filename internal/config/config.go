package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App         AppConfig
	Store       StoreConfig
	ClickHouse  ClickHouseConfig
	ThreatIntel ThreatIntelConfig
	Validation  ValidationConfig
	Ops         OpsConfig
}

type AppConfig struct {
	Env  string
	Port int
	Host string
}

type StoreConfig struct {
	// Driver is "clickhouse" or "memory"
	Driver string
}

type ClickHouseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	// MaxOpenConns bounds the driver pool
	MaxOpenConns int
	// ConnectRetries is how many failed startup pings are retried
	ConnectRetries int
}

type ThreatIntelConfig struct {
	AbuseIPDBKey    string
	VirusTotalKey   string
	AlienVaultKey   string
	URLhausAuthKey  string
	SafeBrowsingKey string
	URLScanKey      string
	NeutrinoUserID  string
	NeutrinoKey     string
}

type ValidationConfig struct {
	BatchSize       int
	FetchMultiplier int
	Workers         int
	BatchBudget     time.Duration
	RecheckCooldown time.Duration
	Schedule        string
	PolicyPath      string
}

type OpsConfig struct {
	// JWTSecret signs ops API tokens; empty disables authentication
	JWTSecret   string
	CORSOrigins []string
	// RateLimit is requests per minute per client IP
	RateLimit int
	// DisableManualRuns rejects POST /validation/run, for deployments where
	// a standalone validator daemon owns the batch schedule and the quota
	DisableManualRuns bool
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/app")
	viper.AddConfigPath("/etc/feedvalidator")

	// Environment variables
	viper.AutomaticEnv()

	bindEnvVars()
	setDefaults()

	// Try to read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("Error reading config file", "error", err)
		}
	}

	config := &Config{
		App: AppConfig{
			Env:  viper.GetString("APP_ENV"),
			Port: viper.GetInt("APP_PORT"),
			Host: viper.GetString("APP_HOST"),
		},
		Store: StoreConfig{
			Driver: viper.GetString("STORE_DRIVER"),
		},
		ClickHouse: ClickHouseConfig{
			Host:     viper.GetString("CLICKHOUSE_HOST"),
			Port:     viper.GetInt("CLICKHOUSE_PORT"),
			User:     viper.GetString("CLICKHOUSE_USER"),
			Password: viper.GetString("CLICKHOUSE_PASSWORD"),
			Database: viper.GetString("CLICKHOUSE_DATABASE"),

			MaxOpenConns:   viper.GetInt("CLICKHOUSE_MAX_CONNS"),
			ConnectRetries: viper.GetInt("CLICKHOUSE_CONNECT_RETRIES"),
		},
		ThreatIntel: ThreatIntelConfig{
			AbuseIPDBKey:    viper.GetString("ABUSEIPDB_API_KEY"),
			VirusTotalKey:   viper.GetString("VIRUSTOTAL_API_KEY"),
			AlienVaultKey:   viper.GetString("ALIENVAULT_API_KEY"),
			URLhausAuthKey:  viper.GetString("URLHAUS_AUTH_KEY"),
			SafeBrowsingKey: viper.GetString("SAFEBROWSING_API_KEY"),
			URLScanKey:      viper.GetString("URLSCAN_API_KEY"),
			NeutrinoUserID:  viper.GetString("NEUTRINO_USER_ID"),
			NeutrinoKey:     viper.GetString("NEUTRINO_API_KEY"),
		},
		Validation: ValidationConfig{
			BatchSize:       viper.GetInt("VALIDATION_BATCH_SIZE"),
			FetchMultiplier: viper.GetInt("VALIDATION_FETCH_MULTIPLIER"),
			Workers:         viper.GetInt("VALIDATION_WORKERS"),
			BatchBudget:     viper.GetDuration("VALIDATION_BATCH_BUDGET"),
			RecheckCooldown: viper.GetDuration("VALIDATION_RECHECK_COOLDOWN"),
			Schedule:        viper.GetString("VALIDATION_SCHEDULE"),
			PolicyPath:      viper.GetString("VALIDATOR_POLICY_PATH"),
		},
		Ops: OpsConfig{
			JWTSecret:   viper.GetString("OPS_JWT_SECRET"),
			CORSOrigins: viper.GetStringSlice("OPS_CORS_ORIGINS"),
			RateLimit:   viper.GetInt("OPS_RATE_LIMIT"),

			DisableManualRuns: viper.GetBool("OPS_DISABLE_MANUAL_RUNS"),
		},
	}

	return config, nil
}

func bindEnvVars() {
	// App
	viper.BindEnv("APP_ENV")
	viper.BindEnv("APP_PORT")
	viper.BindEnv("APP_HOST")

	// Store
	viper.BindEnv("STORE_DRIVER")

	// ClickHouse
	viper.BindEnv("CLICKHOUSE_HOST")
	viper.BindEnv("CLICKHOUSE_PORT")
	viper.BindEnv("CLICKHOUSE_USER")
	viper.BindEnv("CLICKHOUSE_PASSWORD")
	viper.BindEnv("CLICKHOUSE_DATABASE")
	viper.BindEnv("CLICKHOUSE_MAX_CONNS")
	viper.BindEnv("CLICKHOUSE_CONNECT_RETRIES")

	// Threat Intel
	viper.BindEnv("ABUSEIPDB_API_KEY")
	viper.BindEnv("VIRUSTOTAL_API_KEY")
	viper.BindEnv("ALIENVAULT_API_KEY")
	viper.BindEnv("URLHAUS_AUTH_KEY")
	viper.BindEnv("SAFEBROWSING_API_KEY")
	viper.BindEnv("URLSCAN_API_KEY")
	viper.BindEnv("NEUTRINO_USER_ID")
	viper.BindEnv("NEUTRINO_API_KEY")

	// Validation
	viper.BindEnv("VALIDATION_BATCH_SIZE")
	viper.BindEnv("VALIDATION_FETCH_MULTIPLIER")
	viper.BindEnv("VALIDATION_WORKERS")
	viper.BindEnv("VALIDATION_BATCH_BUDGET")
	viper.BindEnv("VALIDATION_RECHECK_COOLDOWN")
	viper.BindEnv("VALIDATION_SCHEDULE")
	viper.BindEnv("VALIDATOR_POLICY_PATH")

	// Ops API
	viper.BindEnv("OPS_JWT_SECRET")
	viper.BindEnv("OPS_CORS_ORIGINS")
	viper.BindEnv("OPS_RATE_LIMIT")
	viper.BindEnv("OPS_DISABLE_MANUAL_RUNS")
}

func setDefaults() {
	// App defaults
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_HOST", "0.0.0.0")

	viper.SetDefault("STORE_DRIVER", "clickhouse")

	// ClickHouse defaults
	viper.SetDefault("CLICKHOUSE_HOST", "localhost")
	viper.SetDefault("CLICKHOUSE_PORT", 9000)
	viper.SetDefault("CLICKHOUSE_USER", "feedvalidator")
	viper.SetDefault("CLICKHOUSE_DATABASE", "threat_feeds")
	viper.SetDefault("CLICKHOUSE_MAX_CONNS", 10)
	viper.SetDefault("CLICKHOUSE_CONNECT_RETRIES", 5)

	// Validation defaults
	viper.SetDefault("VALIDATION_BATCH_SIZE", 25)
	viper.SetDefault("VALIDATION_FETCH_MULTIPLIER", 3)
	viper.SetDefault("VALIDATION_WORKERS", 5)
	viper.SetDefault("VALIDATION_BATCH_BUDGET", 4*time.Minute)
	viper.SetDefault("VALIDATION_RECHECK_COOLDOWN", 6*time.Hour)
	viper.SetDefault("VALIDATION_SCHEDULE", "@every 2m")

	// Ops API defaults
	viper.SetDefault("OPS_CORS_ORIGINS", []string{"http://localhost:3000"})
	viper.SetDefault("OPS_RATE_LIMIT", 120)
	viper.SetDefault("OPS_DISABLE_MANUAL_RUNS", false)
}

func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func SetupLogger(cfg *Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if cfg.IsDevelopment() {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}
