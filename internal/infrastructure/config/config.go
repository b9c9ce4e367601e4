package config

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Catalog drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Log       LogConfig
	Catalog   CatalogConfig
	Storage   StorageConfig
	Reader    ReaderConfig
	Normalize NormalizeConfig
	Ingest    IngestConfig
	Analysis  AnalysisConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	Output     string // stdout, stderr, or file path
	TimeFormat string
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// CatalogConfig holds the measurement catalog database settings
type CatalogConfig struct {
	Enabled         bool
	Driver          string // sqlite or postgres
	Path            string // sqlite database file
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	LogLevel        string
	SlowThreshold   time.Duration
	AutoMigrate     bool // apply pending migrations when the catalog is opened
}

// StorageConfig holds settings for the S3-compatible raw data archive
type StorageConfig struct {
	Root         string // base directory for relative local paths
	Endpoint     string
	Region       string
	Bucket       string // default bucket for keys without s3:// prefix
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
}

// ReaderConfig holds instrument file decoding settings
type ReaderConfig struct {
	Encoding         string // auto or an encoding label
	DecimalSeparator string // auto, dot or comma
	MaxErrors        int
}

// NormalizeConfig holds channel mapping settings
type NormalizeConfig struct {
	Aliases      map[string]string // raw column -> quantity
	Computed     map[string]string // quantity -> expression
	KeepUnmapped bool
}

// IngestConfig holds batch import settings
type IngestConfig struct {
	MaxWorkers    int
	JobTimeout    time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	SkipExisting  bool // skip files whose checksum is already catalogued
}

// AnalysisConfig holds analyzer defaults
type AnalysisConfig struct {
	EISModel           string
	MaxIterations      int
	Diffusivity        float64 // cm²/s
	KinematicViscosity float64 // cm²/s
	Concentration      float64 // mol/L
	Temperature        float64 // K, for files without a temperature header
	LimitingPotential  *float64 // V, nil picks the plateau
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with ECHEM_ prefix (e.g., ECHEM_CATALOG_DRIVER)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration from an explicit file. An empty path searches
// the working directory and the user configuration directory.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "echem"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("ECHEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Booleans that default to true must be registered so that env vars
	// and an explicit false in the file are honoured
	v.SetDefault("catalog.enabled", true)
	v.SetDefault("catalog.auto_migrate", true)
	v.SetDefault("storage.use_path_style", true)
	// zero disables retries, so the default cannot come from applyDefaults
	v.SetDefault("ingest.retry_attempts", 3)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Output:     v.GetString("log.output"),
			TimeFormat: v.GetString("log.time_format"),
		},
		Catalog: CatalogConfig{
			Enabled:         v.GetBool("catalog.enabled"),
			Driver:          v.GetString("catalog.driver"),
			Path:            v.GetString("catalog.path"),
			Host:            v.GetString("catalog.host"),
			Port:            v.GetInt("catalog.port"),
			User:            v.GetString("catalog.user"),
			Password:        v.GetString("catalog.password"),
			DBName:          v.GetString("catalog.dbname"),
			SSLMode:         v.GetString("catalog.sslmode"),
			MaxOpenConns:    v.GetInt("catalog.max_open_conns"),
			MaxIdleConns:    v.GetInt("catalog.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("catalog.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("catalog.conn_max_idle_time"),
			LogLevel:        v.GetString("catalog.log_level"),
			SlowThreshold:   v.GetDuration("catalog.slow_threshold"),
			AutoMigrate:     v.GetBool("catalog.auto_migrate"),
		},
		Storage: StorageConfig{
			Root:         v.GetString("storage.root"),
			Endpoint:     v.GetString("storage.endpoint"),
			Region:       v.GetString("storage.region"),
			Bucket:       v.GetString("storage.bucket"),
			AccessKey:    v.GetString("storage.access_key"),
			SecretKey:    v.GetString("storage.secret_key"),
			UseSSL:       v.GetBool("storage.use_ssl"),
			UsePathStyle: v.GetBool("storage.use_path_style"),
		},
		Reader: ReaderConfig{
			Encoding:         v.GetString("reader.encoding"),
			DecimalSeparator: v.GetString("reader.decimal_separator"),
			MaxErrors:        v.GetInt("reader.max_errors"),
		},
		Normalize: NormalizeConfig{
			Aliases:      v.GetStringMapString("normalize.aliases"),
			Computed:     v.GetStringMapString("normalize.computed"),
			KeepUnmapped: v.GetBool("normalize.keep_unmapped"),
		},
		Ingest: IngestConfig{
			MaxWorkers:    v.GetInt("ingest.max_workers"),
			JobTimeout:    v.GetDuration("ingest.job_timeout"),
			RetryAttempts: v.GetInt("ingest.retry_attempts"),
			RetryDelay:    v.GetDuration("ingest.retry_delay"),
			SkipExisting:  v.GetBool("ingest.skip_existing"),
		},
		Analysis: AnalysisConfig{
			EISModel:           v.GetString("analysis.eis_model"),
			MaxIterations:      v.GetInt("analysis.max_iterations"),
			Diffusivity:        v.GetFloat64("analysis.diffusivity"),
			KinematicViscosity: v.GetFloat64("analysis.kinematic_viscosity"),
			Concentration:      v.GetFloat64("analysis.concentration"),
			Temperature:        v.GetFloat64("analysis.temperature"),
		},
	}
	if v.IsSet("analysis.limiting_potential") {
		lp := v.GetFloat64("analysis.limiting_potential")
		cfg.Analysis.LimitingPotential = &lp
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file
func Default() *Config {
	cfg := &Config{
		Catalog: CatalogConfig{Enabled: true, AutoMigrate: true},
		Storage: StorageConfig{UsePathStyle: true},
		Ingest:  IngestConfig{RetryAttempts: 3},
	}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "echem"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stderr"
	}
	if cfg.Log.TimeFormat == "" {
		cfg.Log.TimeFormat = "15:04:05.000"
	}
	if cfg.Catalog.Driver == "" {
		cfg.Catalog.Driver = DriverSQLite
	}
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = "echem.db"
	}
	if cfg.Catalog.Host == "" {
		cfg.Catalog.Host = "localhost"
	}
	if cfg.Catalog.Port == 0 {
		cfg.Catalog.Port = 5432
	}
	if cfg.Catalog.User == "" {
		cfg.Catalog.User = "postgres"
	}
	if cfg.Catalog.DBName == "" {
		cfg.Catalog.DBName = "echem"
	}
	if cfg.Catalog.SSLMode == "" {
		cfg.Catalog.SSLMode = "disable"
	}
	if cfg.Catalog.MaxOpenConns == 0 {
		cfg.Catalog.MaxOpenConns = 10
	}
	if cfg.Catalog.MaxIdleConns == 0 {
		cfg.Catalog.MaxIdleConns = 2
	}
	if cfg.Catalog.ConnMaxLifetime == 0 {
		cfg.Catalog.ConnMaxLifetime = 60
	}
	if cfg.Catalog.ConnMaxIdleTime == 0 {
		cfg.Catalog.ConnMaxIdleTime = 30
	}
	if cfg.Catalog.LogLevel == "" {
		cfg.Catalog.LogLevel = "warn"
	}
	if cfg.Catalog.SlowThreshold == 0 {
		cfg.Catalog.SlowThreshold = 200 * time.Millisecond
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "."
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Reader.Encoding == "" {
		cfg.Reader.Encoding = "auto"
	}
	if cfg.Reader.DecimalSeparator == "" {
		cfg.Reader.DecimalSeparator = "auto"
	}
	if cfg.Reader.MaxErrors == 0 {
		cfg.Reader.MaxErrors = 100
	}
	if cfg.Ingest.MaxWorkers == 0 {
		cfg.Ingest.MaxWorkers = 4
	}
	if cfg.Ingest.JobTimeout == 0 {
		cfg.Ingest.JobTimeout = 2 * time.Minute
	}
	if cfg.Ingest.RetryDelay == 0 {
		cfg.Ingest.RetryDelay = time.Second
	}
	if cfg.Analysis.EISModel == "" {
		cfg.Analysis.EISModel = "randles"
	}
	if cfg.Analysis.MaxIterations == 0 {
		cfg.Analysis.MaxIterations = 2000
	}
	if cfg.Analysis.Temperature == 0 {
		cfg.Analysis.Temperature = 298.15
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Catalog.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("catalog.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Catalog.Driver)
	}
	if c.Catalog.MaxOpenConns <= 0 {
		return fmt.Errorf("catalog.max_open_conns must be positive")
	}
	if c.Catalog.MaxIdleConns < 0 {
		return fmt.Errorf("catalog.max_idle_conns cannot be negative")
	}
	if c.Catalog.MaxIdleConns > c.Catalog.MaxOpenConns {
		return fmt.Errorf("catalog.max_idle_conns (%d) cannot exceed catalog.max_open_conns (%d)",
			c.Catalog.MaxIdleConns, c.Catalog.MaxOpenConns)
	}
	if c.Ingest.MaxWorkers <= 0 {
		return fmt.Errorf("ingest.max_workers must be positive")
	}
	if c.Ingest.RetryAttempts < 0 {
		return fmt.Errorf("ingest.retry_attempts cannot be negative")
	}
	switch c.Reader.DecimalSeparator {
	case "auto", ".", ",", "dot", "comma", "point":
	default:
		return fmt.Errorf("reader.decimal_separator must be auto, dot or comma, got %q", c.Reader.DecimalSeparator)
	}
	switch c.Analysis.EISModel {
	case "randles", "randles_cpe":
	default:
		return fmt.Errorf("analysis.eis_model must be randles or randles_cpe, got %q", c.Analysis.EISModel)
	}
	if c.Analysis.MaxIterations <= 0 {
		return fmt.Errorf("analysis.max_iterations must be positive")
	}
	if c.Analysis.Diffusivity < 0 || c.Analysis.KinematicViscosity < 0 || c.Analysis.Concentration < 0 {
		return fmt.Errorf("analysis transport properties cannot be negative")
	}
	if c.Analysis.Temperature < 0 {
		return fmt.Errorf("analysis.temperature must be in kelvin, got %g", c.Analysis.Temperature)
	}
	if lp := c.Analysis.LimitingPotential; lp != nil && (math.IsNaN(*lp) || math.IsInf(*lp, 0)) {
		return fmt.Errorf("analysis.limiting_potential must be finite")
	}

	if c.App.Env == "production" && c.Catalog.Driver == DriverPostgres {
		if c.Catalog.Password == "" {
			return fmt.Errorf("catalog.password is required in production")
		}
		if c.Catalog.SSLMode == "disable" {
			return fmt.Errorf("catalog.sslmode cannot be 'disable' in production")
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *CatalogConfig) DSN() string {
	if d.Driver == DriverSQLite {
		if d.Path == ":memory:" {
			return "file::memory:?cache=shared&_foreign_keys=on"
		}
		return "file:" + filepath.ToSlash(d.Path) + "?_foreign_keys=on&_busy_timeout=5000"
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// HasCredentials reports whether static S3 credentials are configured
func (s *StorageConfig) HasCredentials() bool {
	return s.AccessKey != "" && s.SecretKey != ""
}
