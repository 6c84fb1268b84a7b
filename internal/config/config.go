package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/duckmesh/rsbulk/internal/execution"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Backend string

const (
	BackendDataAPI Backend = "dataapi"
	BackendPGWire  Backend = "pgwire"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	Redshift      RedshiftConfig
	Execution     ExecutionConfig
	Waiter        WaiterConfig
	ObjectStore   ObjectStoreConfig
	Verify        VerifyConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

// RedshiftConfig is never defaulted: every field comes from the environment.
type RedshiftConfig struct {
	Database   string
	ClusterID  string
	DBUser     string
	IAMRoleARN string
	Region     string
}

type ExecutionConfig struct {
	Backend         Backend
	StatementName   string
	PGWireDSN       string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type WaiterConfig struct {
	PollInterval time.Duration
	MaxAttempts  int
	// MaxWait, when set, replaces MaxAttempts with MaxWait / PollInterval.
	MaxWait time.Duration
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type VerifyConfig struct {
	Enabled bool
	MaxKeys int
}

type ObservabilityConfig struct {
	LogLevel    slog.Level
	LogJSON     bool
	MetricsAddr string
}

// Credentials returns the statement credentials bundle as configured. It does
// not validate; operations reject an incomplete bundle before any call.
func (c Config) Credentials() execution.Credentials {
	return execution.Credentials{
		Database:   c.Redshift.Database,
		ClusterID:  c.Redshift.ClusterID,
		DBUser:     c.Redshift.DBUser,
		IAMRoleARN: c.Redshift.IAMRoleARN,
	}
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("RSBULK_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid RSBULK_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	steps := []error{
		applyString(lookup, "RSBULK_SERVICE_NAME", &cfg.Service.Name),
		applyString(lookup, "RSBULK_REDSHIFT_DATABASE", &cfg.Redshift.Database),
		applyString(lookup, "RSBULK_REDSHIFT_CLUSTER_ID", &cfg.Redshift.ClusterID),
		applyString(lookup, "RSBULK_REDSHIFT_DB_USER", &cfg.Redshift.DBUser),
		applyString(lookup, "RSBULK_REDSHIFT_IAM_ROLE_ARN", &cfg.Redshift.IAMRoleARN),
		applyString(lookup, "RSBULK_AWS_REGION", &cfg.Redshift.Region),
		applyBackend(lookup, "RSBULK_EXECUTION_BACKEND", &cfg.Execution.Backend),
		applyString(lookup, "RSBULK_STATEMENT_NAME", &cfg.Execution.StatementName),
		applyString(lookup, "RSBULK_PGWIRE_DSN", &cfg.Execution.PGWireDSN),
		applyInt(lookup, "RSBULK_PGWIRE_MAX_OPEN_CONNS", &cfg.Execution.MaxOpenConns),
		applyDuration(lookup, "RSBULK_PGWIRE_CONN_MAX_LIFETIME", &cfg.Execution.ConnMaxLifetime),
		applyDuration(lookup, "RSBULK_WAITER_POLL_INTERVAL", &cfg.Waiter.PollInterval),
		applyInt(lookup, "RSBULK_WAITER_MAX_ATTEMPTS", &cfg.Waiter.MaxAttempts),
		applyDuration(lookup, "RSBULK_WAITER_MAX_WAIT", &cfg.Waiter.MaxWait),
		applyString(lookup, "RSBULK_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint),
		applyString(lookup, "RSBULK_OBJECTSTORE_REGION", &cfg.ObjectStore.Region),
		applyString(lookup, "RSBULK_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket),
		applyString(lookup, "RSBULK_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID),
		applyString(lookup, "RSBULK_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey),
		applyBool(lookup, "RSBULK_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL),
		applyString(lookup, "RSBULK_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix),
		applyBool(lookup, "RSBULK_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket),
		applyBool(lookup, "RSBULK_VERIFY_ENABLED", &cfg.Verify.Enabled),
		applyInt(lookup, "RSBULK_VERIFY_MAX_KEYS", &cfg.Verify.MaxKeys),
		applyBool(lookup, "RSBULK_LOG_JSON", &cfg.Observability.LogJSON),
		applyLogLevel(lookup, "RSBULK_LOG_LEVEL", &cfg.Observability.LogLevel),
		applyString(lookup, "RSBULK_METRICS_ADDR", &cfg.Observability.MetricsAddr),
	}
	for _, err := range steps {
		if err != nil {
			return Config{}, err
		}
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.Waiter.PollInterval <= 0 {
		return Config{}, fmt.Errorf("waiter poll interval must be > 0")
	}
	if cfg.Waiter.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("waiter max attempts must be >= 1")
	}
	if cfg.Waiter.MaxWait < 0 {
		return Config{}, fmt.Errorf("waiter max wait must be >= 0")
	}
	if cfg.Execution.Backend == BackendPGWire && cfg.Execution.PGWireDSN == "" {
		return Config{}, fmt.Errorf("RSBULK_PGWIRE_DSN is required for the pgwire backend")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "rsbulk"},
		Execution: ExecutionConfig{
			Backend:         BackendDataAPI,
			StatementName:   "rsbulk",
			MaxOpenConns:    4,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Waiter: WaiterConfig{
			PollInterval: 2 * time.Second,
			MaxAttempts:  10,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "s3.amazonaws.com",
			Region:           "us-east-1",
			UseSSL:           true,
			Prefix:           "temp_loads",
			AutoCreateBucket: false,
		},
		Verify: VerifyConfig{
			Enabled: true,
			MaxKeys: 10,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  false,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Waiter.PollInterval = 10 * time.Millisecond
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Observability.LogJSON = true
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyBackend(lookup LookupFunc, key string, dst *Backend) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	backend := Backend(strings.ToLower(strings.TrimSpace(raw)))
	switch backend {
	case BackendDataAPI, BackendPGWire:
		*dst = backend
		return nil
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
