package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/timmy/webpmigrate/internal/domain"
)

// FileEnv names the environment variable that points Load at a config file
// when no explicit path is given. The supervisor sets it for the job it runs.
const FileEnv = "WEBPMIGRATE_CONFIG"

type Config struct {
	// File is the absolute path of the config file that was read, if any.
	File string `mapstructure:"-"`

	Convert    ConvertConfig    `mapstructure:"convert"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Log        LogConfig        `mapstructure:"log"`
}

type ConvertConfig struct {
	Quality      int      `mapstructure:"quality"`
	DryRun       bool     `mapstructure:"dry_run"`
	SiteID       string   `mapstructure:"site_id"`
	CommitEvery  int      `mapstructure:"commit_every"`
	Pack         bool     `mapstructure:"pack"`
	ContentTypes []string `mapstructure:"content_types"`
	FieldNames   []string `mapstructure:"field_names"`
	ScanBatch    int      `mapstructure:"scan_batch"`
}

// RunConfig converts the loaded settings into the job's immutable run configuration.
func (c ConvertConfig) RunConfig() domain.RunConfig {
	return domain.RunConfig{
		Quality:      c.Quality,
		DryRun:       c.DryRun,
		SiteID:       c.SiteID,
		CommitEvery:  c.CommitEvery,
		Pack:         c.Pack,
		ContentTypes: append([]string(nil), c.ContentTypes...),
		FieldNames:   append([]string(nil), c.FieldNames...),
	}.Normalized()
}

type StorageConfig struct {
	Type      string `mapstructure:"type"` // inline, filesystem, s3, r2, s3compatible
	Root      string `mapstructure:"root"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
}

type SupervisorConfig struct {
	ServerIdentity string        `mapstructure:"server_identity"`
	ServerCommand  []string      `mapstructure:"server_command"`
	JobCommand     []string      `mapstructure:"job_command"`
	GracePeriod    time.Duration `mapstructure:"grace_period"`
	LogFile        string        `mapstructure:"log_file"`
	LockFile       string        `mapstructure:"lock_file"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	File    string `mapstructure:"file"`
	MaxSize int    `mapstructure:"max_size"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"quality":      "convert.quality",
	"dry-run":      "convert.dry_run",
	"site":         "convert.site_id",
	"commit-every": "convert.commit_every",
	"pack":         "convert.pack",
	"content-type": "convert.content_types",
	"field":        "convert.field_names",
	"scan-batch":   "convert.scan_batch",
	"db-driver":    "database.driver",
	"db-path":      "database.path",
	"grace-period": "supervisor.grace_period",
	"log-file":     "supervisor.log_file",
	"log-level":    "log.level",
}

// Load reads configuration from an optional file, the environment and flags.
// Precedence: changed flags, environment, config file, defaults.
// Parameters:
//   - configPath: explicit config file; empty falls back to $WEBPMIGRATE_CONFIG,
//     then searches ./configs and ..
//   - flags: command flags to bind; may be nil.
// Returns:
//   - *Config: loaded configuration.
//   - error: wraps domain.ErrConfig on any read or decode failure.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath == "" {
		configPath = os.Getenv(FileEnv)
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: failed to read config file: %v", domain.ErrConfig, err)
		}
	}

	// Short names kept from the shell wrapper the job replaces
	v.BindEnv("convert.quality", "QUALITY")
	v.BindEnv("convert.dry_run", "DRY_RUN")
	v.BindEnv("convert.site_id", "SITE_ID", "PLONE_SITE_ID")
	v.BindEnv("convert.commit_every", "COMMIT_EVERY")
	v.BindEnv("convert.pack", "PACK")
	v.BindEnv("convert.content_types", "CONTENT_TYPES")
	v.BindEnv("convert.field_names", "FIELD_NAMES")
	v.BindEnv("convert.scan_batch", "SCAN_BATCH")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.path", "DB_PATH")
	v.BindEnv("database.dsn", "DATABASE_URL")
	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.root", "STORAGE_ROOT")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("storage.bucket", "STORAGE_BUCKET")
	v.BindEnv("storage.region", "STORAGE_REGION")
	v.BindEnv("supervisor.server_identity", "SERVER_IDENTITY")
	v.BindEnv("supervisor.server_command", "SERVER_COMMAND")
	v.BindEnv("supervisor.job_command", "JOB_COMMAND")
	v.BindEnv("supervisor.grace_period", "GRACE_PERIOD")
	v.BindEnv("supervisor.log_file", "MIGRATION_LOG")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")
	v.BindEnv("log.file", "LOG_FILE")

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("%w: bind flag %s: %v", domain.ErrConfig, name, err)
				}
			}
		}
		if f := flags.Lookup("no-pack"); f != nil && f.Changed {
			v.Set("convert.pack", false)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %v", domain.ErrConfig, err)
	}
	cfg.normalize()
	if used := v.ConfigFileUsed(); used != "" {
		if abs, err := filepath.Abs(used); err == nil {
			used = abs
		}
		if _, err := os.Stat(used); err == nil {
			cfg.File = used
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("convert.quality", domain.DefaultQuality)
	v.SetDefault("convert.dry_run", false)
	v.SetDefault("convert.site_id", domain.DefaultSiteID)
	v.SetDefault("convert.commit_every", domain.DefaultCommitEvery)
	v.SetDefault("convert.pack", true)
	v.SetDefault("convert.content_types", domain.DefaultContentTypes())
	v.SetDefault("convert.field_names", domain.DefaultFieldNames())
	v.SetDefault("convert.scan_batch", 100)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/content.db")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("storage.type", "inline")
	v.SetDefault("storage.root", "./data/blobs")
	v.SetDefault("supervisor.server_identity", "parts/instance/etc/zope.conf")
	v.SetDefault("supervisor.server_command", []string{"bin/instance", "start"})
	v.SetDefault("supervisor.job_command", []string{"webpmigrate-convert"})
	v.SetDefault("supervisor.grace_period", 10*time.Second)
	v.SetDefault("supervisor.log_file", "./logs/webp-migration.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.max_size", 1024)
}

func (c *Config) normalize() {
	c.Convert.ContentTypes = splitList(c.Convert.ContentTypes)
	c.Convert.FieldNames = splitList(c.Convert.FieldNames)
	c.Supervisor.ServerCommand = splitCommand(c.Supervisor.ServerCommand)
	c.Supervisor.JobCommand = splitCommand(c.Supervisor.JobCommand)
	if c.Supervisor.LockFile == "" && c.Supervisor.LogFile != "" {
		c.Supervisor.LockFile = c.Supervisor.LogFile + ".lock"
	}
	c.Storage.Type = strings.ToLower(strings.TrimSpace(c.Storage.Type))
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
}

// splitList flattens comma separated entries; "News Item" keeps its space.
func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// splitCommand accepts either an argv list or a single shell-like string.
func splitCommand(argv []string) []string {
	if len(argv) == 1 {
		return strings.Fields(argv[0])
	}
	return argv
}
