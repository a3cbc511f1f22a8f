package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/CanvassSync/internal/api"
	"github.com/BTreeMap/CanvassSync/internal/extsync"
	"github.com/BTreeMap/CanvassSync/internal/store"
	"github.com/BTreeMap/CanvassSync/internal/util"
	"github.com/BTreeMap/CanvassSync/internal/van"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CanvassSync state data
	DefaultStateDir = "/var/lib/canvasssync"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "canvasssync.db"
	// DefaultAPIAddr is the default HTTP listen address
	DefaultAPIAddr = api.DefaultAddr
	// DefaultCanvassTimezone is the zone canvass dates are bucketed in
	DefaultCanvassTimezone = "UTC"
)

// Config holds environment configuration
type Config struct {
	DatabaseURL                    string
	StateDir                       string
	APIAddr                        string
	VANBaseURL                     string
	VANContactTypeID               int
	CanvassTimezone                string
	SecretsPassphrase              string
	TwilioAuthToken                string
	PublicBaseURL                  string
	JobPollInterval                time.Duration
	JobConcurrency                 int
	ResultCodesOnQuestionResponses bool
	LogLevel                       string

	// defaultDSN is set when DatabaseURL was derived from StateDir.
	defaultDSN bool
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:                    os.Getenv("DATABASE_URL"),
		StateDir:                       os.Getenv("CANVASSSYNC_STATE_DIR"),
		APIAddr:                        os.Getenv("API_ADDR"),
		VANBaseURL:                     os.Getenv("VAN_BASE_URL"),
		VANContactTypeID:               util.ParseIntEnv("VAN_CONTACT_TYPE_ID", van.DefaultContactTypeID),
		CanvassTimezone:                os.Getenv("CANVASS_TIMEZONE"),
		SecretsPassphrase:              os.Getenv("SECRETS_PASSPHRASE"),
		TwilioAuthToken:                os.Getenv("TWILIO_AUTH_TOKEN"),
		PublicBaseURL:                  os.Getenv("PUBLIC_BASE_URL"),
		JobPollInterval:                util.ParseDurationEnv("JOB_POLL_INTERVAL", store.DefaultPollInterval),
		JobConcurrency:                 util.ParseIntEnv("JOB_CONCURRENCY", store.DefaultConcurrency),
		ResultCodesOnQuestionResponses: util.ParseBoolEnv("SYNC_RESULT_CODES_ON_QUESTION_RESPONSES", false),
		LogLevel:                       os.Getenv("LOG_LEVEL"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CANVASSSYNC_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}
	if config.VANBaseURL == "" {
		config.VANBaseURL = van.DefaultBaseURL
	}
	if config.CanvassTimezone == "" {
		config.CanvassTimezone = DefaultCanvassTimezone
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		config.defaultDSN = true
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"CANVASSSYNC_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"VAN_BASE_URL", config.VANBaseURL,
		"VAN_CONTACT_TYPE_ID", config.VANContactTypeID,
		"SECRETS_PASSPHRASE_SET", config.SecretsPassphrase != "",
		"TWILIO_AUTH_TOKEN_SET", config.TwilioAuthToken != "",
		"JOB_POLL_INTERVAL", config.JobPollInterval,
		"JOB_CONCURRENCY", config.JobConcurrency)

	return config
}

// initializeLogger sets up structured logging at the given level
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(config Config) []store.Option {
	if store.DetectDSNType(config.DatabaseURL) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		return []store.Option{store.WithPostgresDSN(config.DatabaseURL)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", config.DatabaseURL)
	return []store.Option{store.WithSQLiteDSN(config.DatabaseURL)}
}

// buildVANOptions constructs VAN adapter options
func buildVANOptions(config Config, loc *time.Location) []van.Option {
	return []van.Option{
		van.WithBaseURL(config.VANBaseURL),
		van.WithContactTypeID(config.VANContactTypeID),
		van.WithLocation(loc),
		van.WithQuestionResponseResultCodes(config.ResultCodesOnQuestionResponses),
		van.WithDispatcher(extsync.NewDispatcher()),
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config) []api.Option {
	apiOpts := []api.Option{api.WithAddr(config.APIAddr)}
	if config.TwilioAuthToken != "" {
		apiOpts = append(apiOpts, api.WithTwilioAuthToken(config.TwilioAuthToken))
	}
	if config.PublicBaseURL != "" {
		apiOpts = append(apiOpts, api.WithPublicBaseURL(config.PublicBaseURL))
	}
	return apiOpts
}
