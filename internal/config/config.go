// Package config loads opnsensectl settings from the YAML file, the
// environment (optionally seeded from .env) and, for credentials, the
// operator.
package config

import (
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"opnsensectl/internal/fault"
	"opnsensectl/internal/logging"
	"opnsensectl/internal/opnsense"
	"opnsensectl/internal/poll"
	"opnsensectl/internal/prompt"
	"opnsensectl/internal/storage"
)

const (
	// EnvConfig names the config file when --config is not given.
	EnvConfig = "OPNSENSE_CONFIG"
	// DefaultPath is used when neither --config nor OPNSENSE_CONFIG is set.
	DefaultPath = "opnsense.yml"
	// DefaultOutputDir is where local artifacts go.
	DefaultOutputDir = "backups"
	// DotEnvFile is read from the working directory when present.
	DotEnvFile = ".env"
)

// Config is the top-level configuration.
type Config struct {
	Connection Connection              `yaml:"connection"`
	OutputDir  string                  `yaml:"outputDir,omitempty"`
	LogFile    string                  `yaml:"logFile,omitempty"`
	Poll       Poll                    `yaml:"poll"`
	Retention  storage.RetentionPolicy `yaml:"retention"`
	Storage    []StorageConfig         `yaml:"storage,omitempty"`
}

type Connection struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"apiKey"`
	APISecret string `yaml:"apiSecret"`
}

// Poll tunes the availability check.
type Poll struct {
	MaxWait  time.Duration `yaml:"maxWait,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
}

// StorageConfig defines an offsite mirror.
type StorageConfig struct {
	Name string `yaml:"name,omitempty"` // optional display name; defaults to type
	Type string `yaml:"type"`           // "local", "s3", "pbs"

	// Local backend
	Path string `yaml:"path,omitempty"`

	// S3 backend
	Bucket          string `yaml:"bucket,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"accessKeyId,omitempty"`
	SecretAccessKey string `yaml:"secretAccessKey,omitempty"`
	StorageClass    string `yaml:"storageClass,omitempty"`
	ForcePathStyle  bool   `yaml:"forcePathStyle,omitempty"`

	// PBS backend
	Server      string `yaml:"server,omitempty"`
	Port        int    `yaml:"port,omitempty"`
	Datastore   string `yaml:"datastore,omitempty"`
	Namespace   string `yaml:"namespace,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	Fingerprint string `yaml:"fingerprint,omitempty"`
	BackupID    string `yaml:"backupId,omitempty"`

	// Retention overrides the top-level policy for this mirror.
	Retention *storage.RetentionPolicy `yaml:"retention,omitempty"`
}

// Parse reads and parses the config file at the given path.
func Parse(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fault.Configuration(errors.Wrap(err, "read config file"), "")
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fault.Configuration(errors.Wrapf(err, "parse config %s", path), "check the YAML syntax")
	}
	return cfg, nil
}

// Path resolves the config file path from (in order of priority):
// 1. the --config flag
// 2. OPNSENSE_CONFIG
// 3. ./opnsense.yml
// explicit reports whether the operator named the file.
func Path(flag string) (path string, explicit bool) {
	if flag != "" {
		return flag, true
	}
	if v := os.Getenv(EnvConfig); v != "" {
		return v, true
	}
	return DefaultPath, false
}

// Load resolves and parses the config file, seeds the environment from
// .env, applies environment overrides and fills defaults. A missing default
// file is not an error; a missing explicit one is.
func Load(flag string) (Config, error) {
	if err := loadDotEnv(DotEnvFile); err != nil {
		return Config{}, err
	}

	path, explicit := Path(flag)
	cfg, err := Parse(path)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
		cfg = Config{}
	}

	applyEnv(&cfg)
	setDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnv exports the variables of file that are not already set.
func loadDotEnv(file string) error {
	if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(file); err != nil {
		return fault.Configuration(errors.Wrapf(err, "load %s", file), "")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(opnsense.EnvURL); v != "" {
		cfg.Connection.URL = v
	}
	if v := os.Getenv(opnsense.EnvAPIKey); v != "" {
		cfg.Connection.APIKey = v
	}
	if v := os.Getenv(opnsense.EnvAPISecret); v != "" {
		cfg.Connection.APISecret = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}
	if cfg.LogFile == "" {
		cfg.LogFile = logging.DefaultFile
	}
	if cfg.Poll.MaxWait <= 0 {
		cfg.Poll.MaxWait = poll.DefaultMaxWait
	}
	if cfg.Poll.Interval <= 0 {
		cfg.Poll.Interval = poll.DefaultInterval
	}
	for i := range cfg.Storage {
		if cfg.Storage[i].Retention == nil {
			r := cfg.Retention
			cfg.Storage[i].Retention = &r
		}
	}
}

// Validate checks the storage section: known types, required fields and
// unique names.
func (c Config) Validate() error {
	seen := make(map[string]bool)
	for _, sc := range c.Storage {
		name := StorageConfigName(sc)
		switch sc.Type {
		case "local":
			if sc.Path == "" {
				return fault.Configurationf("storage %q: path is required", name)
			}
		case "s3":
			if sc.Bucket == "" {
				return fault.Configurationf("storage %q: bucket is required", name)
			}
		case "pbs":
			if sc.Server == "" || sc.Datastore == "" {
				return fault.Configurationf("storage %q: server and datastore are required", name)
			}
		default:
			return fault.Configurationf("storage %q: unsupported type %q", name, sc.Type)
		}
		if seen[name] {
			return fault.Configurationf("storage %q is defined twice; assign unique names", name)
		}
		seen[name] = true
	}
	return nil
}

// StorageConfigName returns the effective name for a storage config entry.
// If a custom name is set it takes precedence; otherwise the type is used.
func StorageConfigName(sc StorageConfig) string {
	if sc.Name != "" {
		return sc.Name
	}
	return sc.Type
}

// FindStorage returns the storage entry with the given effective name.
func (c Config) FindStorage(name string) (StorageConfig, error) {
	var names []string
	for _, sc := range c.Storage {
		if StorageConfigName(sc) == name {
			return sc, nil
		}
		names = append(names, StorageConfigName(sc))
	}
	return StorageConfig{}, fault.Configuration(
		errors.Newf("storage %q not configured", name),
		"available: "+strings.Join(names, ", "))
}

// Credentials returns the connection settings as a credential set.
func (c Config) Credentials() opnsense.Credentials {
	return opnsense.Credentials{
		URL:       c.Connection.URL,
		APIKey:    c.Connection.APIKey,
		APISecret: c.Connection.APISecret,
	}
}

// ResolveCredentials asks the operator for any connection field the file
// and environment left empty, then validates the result.
func ResolveCredentials(cfg Config, in prompt.Provider) (opnsense.Credentials, error) {
	creds := cfg.Credentials()
	var err error
	if creds.URL == "" {
		if creds.URL, err = in.Ask("Enter OPNsense URL (e.g., https://192.168.1.1): "); err != nil {
			return creds, fault.Configuration(errors.Wrap(err, "read URL"), "set "+opnsense.EnvURL)
		}
	}
	if creds.APIKey == "" {
		if creds.APIKey, err = in.Ask("Enter OPNsense API key: "); err != nil {
			return creds, fault.Configuration(errors.Wrap(err, "read API key"), "set "+opnsense.EnvAPIKey)
		}
	}
	if creds.APISecret == "" {
		if creds.APISecret, err = in.AskSecret("Enter OPNsense API secret: "); err != nil {
			return creds, fault.Configuration(errors.Wrap(err, "read API secret"), "set "+opnsense.EnvAPISecret)
		}
	}
	return creds, creds.Validate()
}
