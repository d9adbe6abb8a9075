package core

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. QUERYENGINE_STORAGE_DRIVER.
const EnvPrefix = "QUERYENGINE"

// Config is the process configuration shared by the CLI and embedders.
type Config struct {
	Storage  StorageConfig `mapstructure:"storage"`
	Blob     BlobConfig    `mapstructure:"blob"`
	Log      LogConfig     `mapstructure:"log"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
	PageSize int           `mapstructure:"page_size"`
}

// StorageConfig selects and locates the backend.
type StorageConfig struct {
	Driver         string `mapstructure:"driver"`
	SQLitePath     string `mapstructure:"sqlite_path"`
	PostgresDSN    string `mapstructure:"postgres_dsn"`
	BadgerPath     string `mapstructure:"badger_path"`
	BadgerInMemory bool   `mapstructure:"badger_in_memory"`
}

// BlobConfig selects and locates the archive store used by set exports.
type BlobConfig struct {
	Driver      string `mapstructure:"driver"`
	FSRoot      string `mapstructure:"fs_root"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3Region    string `mapstructure:"s3_region"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Prefix    string `mapstructure:"s3_prefix"`
	S3PathStyle bool   `mapstructure:"s3_path_style"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

// MetricsConfig selects the metrics exporter: none, expvar or prometheus.
type MetricsConfig struct {
	Exporter string `mapstructure:"exporter"`
}

// SetDefaults registers the default value of every configuration key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", string(StorageSQLite))
	v.SetDefault("storage.sqlite_path", "queryengine.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.badger_path", "queryengine.badger")
	v.SetDefault("storage.badger_in_memory", false)

	v.SetDefault("blob.driver", "fs")
	v.SetDefault("blob.fs_root", "blobdata")
	v.SetDefault("blob.s3_bucket", "")
	v.SetDefault("blob.s3_region", "")
	v.SetDefault("blob.s3_endpoint", "")
	v.SetDefault("blob.s3_prefix", "")
	v.SetDefault("blob.s3_path_style", false)

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")

	v.SetDefault("metrics.exporter", "none")
	v.SetDefault("page_size", 256)
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// LoadConfig reads configuration from defaults, the optional file at path
// (TOML, YAML or JSON by extension) and QUERYENGINE_* environment variables,
// in increasing precedence.
func LoadConfig(path string) (Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	}
	return LoadWithViper(v)
}

// LoadWithViper decodes a prepared viper instance.
func LoadWithViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return cfg, nil
}
