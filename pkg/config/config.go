package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Storage backend names accepted by store.backend.
const (
	BackendGithub = "github"
	BackendR2     = "r2"
)

type Config struct {
	General   GeneralConfig   `toml:"general"`
	Daemon    DaemonConfig    `toml:"daemon"`
	Store     StoreConfig     `toml:"store"`
	Predictor PredictorConfig `toml:"predictor"`
	API       APIConfig       `toml:"api"`
	Logging   LoggingConfig   `toml:"logging"`
}

type GeneralConfig struct {
	DataDir string `toml:"data_dir"`
}

type DaemonConfig struct {
	PIDFile       string        `toml:"pid_file"`
	StdoutFile    string        `toml:"stdout_file"`
	StderrFile    string        `toml:"stderr_file"`
	StopAttempts  int           `toml:"stop_attempts"`
	StopInterval  string        `toml:"stop_interval"`
	StopIntervalD time.Duration `toml:"-"`
}

type StoreConfig struct {
	// Backend selects the storage backend: "github" or "r2".
	Backend     string           `toml:"backend"`
	ModelDir    string           `toml:"model_dir"`
	UpdateCheck bool             `toml:"update_check"`
	Repository  RepositoryConfig `toml:"repository"`
	R2          R2Config         `toml:"r2"`
}

type RepositoryConfig struct {
	URL      string        `toml:"url"`
	Token    string        `toml:"token"`
	Timeout  string        `toml:"timeout"`
	TimeoutD time.Duration `toml:"-"`
}

// R2Config describes the object-storage backend: an S3 compatible bucket
// plus the key-value index holding the expected digest of each model.
type R2Config struct {
	Bucket          string `toml:"bucket"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	Insecure        bool   `toml:"insecure"`
	// KVURI is the base URL of the digest index; digests are read from
	// KVURI/<model name>.
	KVURI          string        `toml:"kv_uri"`
	KVClientID     string        `toml:"kv_client_id"`
	KVSecret       string        `toml:"kv_secret"`
	IndexCacheTTL  string        `toml:"index_cache_ttl"`
	IndexCacheTTLD time.Duration `toml:"-"`
}

type PredictorConfig struct {
	// Enabled lists the challenge types to load. Empty means all.
	Enabled     []string `toml:"enabled"`
	Concurrency int      `toml:"concurrency"`
}

type APIConfig struct {
	ListenAddr string `toml:"listen_addr"`
	// RateLimit is the per-client request rate in requests per second.
	// Zero disables limiting.
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".solverd")

	return &Config{
		General: GeneralConfig{
			DataDir: dataDir,
		},
		Daemon: DaemonConfig{
			PIDFile:      "/var/run/solverd.pid",
			StdoutFile:   "/var/run/solverd.out",
			StderrFile:   "/var/run/solverd.err",
			StopAttempts: 360,
			StopInterval: "1s",
		},
		Store: StoreConfig{
			Backend:     BackendGithub,
			ModelDir:    filepath.Join(dataDir, "models"),
			UpdateCheck: false,
			Repository: RepositoryConfig{
				URL:     "https://github.com/solverd/models/releases/download/model",
				Timeout: "10m",
			},
			R2: R2Config{
				IndexCacheTTL: "5m",
			},
		},
		Predictor: PredictorConfig{
			Concurrency: 4,
		},
		API: APIConfig{
			ListenAddr: "127.0.0.1:8000",
			RateLimit:  20,
			RateBurst:  40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func LoadFromFile(path string) (*Config, error) {
	expandedPath, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expand path: %w", err)
	}

	data, err := os.ReadFile(expandedPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("decode TOML: %w", err)
	}

	if err := cfg.postProcess(); err != nil {
		return nil, fmt.Errorf("post process config: %w", err)
	}

	return cfg, nil
}

func (c *Config) postProcess() error {
	var err error

	if c.Daemon.StopIntervalD, err = time.ParseDuration(c.Daemon.StopInterval); err != nil {
		return fmt.Errorf("parse daemon.stop_interval: %w", err)
	}

	if c.Store.Repository.TimeoutD, err = time.ParseDuration(c.Store.Repository.Timeout); err != nil {
		return fmt.Errorf("parse store.repository.timeout: %w", err)
	}

	if c.Store.R2.IndexCacheTTLD, err = time.ParseDuration(c.Store.R2.IndexCacheTTL); err != nil {
		return fmt.Errorf("parse store.r2.index_cache_ttl: %w", err)
	}

	c.General.DataDir, err = expandPath(c.General.DataDir)
	if err != nil {
		return fmt.Errorf("expand general.data_dir: %w", err)
	}

	c.Store.ModelDir, err = expandPath(c.Store.ModelDir)
	if err != nil {
		return fmt.Errorf("expand store.model_dir: %w", err)
	}

	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.Store.Repository.URL = strings.TrimRight(c.Store.Repository.URL, "/")
	c.Store.R2.KVURI = strings.TrimRight(c.Store.R2.KVURI, "/")

	return nil
}

func (c *Config) Validate() error {
	if c.Daemon.PIDFile == "" || c.Daemon.StdoutFile == "" || c.Daemon.StderrFile == "" {
		return fmt.Errorf("daemon pid_file, stdout_file and stderr_file must be set")
	}

	if c.Daemon.StopAttempts < 1 {
		return fmt.Errorf("daemon.stop_attempts must be at least 1, got %d", c.Daemon.StopAttempts)
	}

	if c.Store.ModelDir == "" {
		return fmt.Errorf("store.model_dir must be set")
	}

	switch c.Store.Backend {
	case BackendGithub:
		if c.Store.Repository.URL == "" {
			return fmt.Errorf("store.repository.url must be set for the %s backend", BackendGithub)
		}
	case BackendR2:
		r2 := c.Store.R2
		if r2.Bucket == "" || r2.Endpoint == "" {
			return fmt.Errorf("store.r2.bucket and store.r2.endpoint must be set for the %s backend", BackendR2)
		}
		if r2.KVURI == "" || r2.KVClientID == "" || r2.KVSecret == "" {
			return fmt.Errorf("store.r2.kv_uri, kv_client_id and kv_secret must be set for the %s backend", BackendR2)
		}
	default:
		return fmt.Errorf("invalid store.backend: %q (valid: %s, %s)", c.Store.Backend, BackendGithub, BackendR2)
	}

	if c.Predictor.Concurrency < 1 {
		return fmt.Errorf("predictor.concurrency must be at least 1, got %d", c.Predictor.Concurrency)
	}

	if c.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit must not be negative, got %v", c.API.RateLimit)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid logging level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid logging format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SOLVERD_DATA_DIR"); v != "" {
		cfg.General.DataDir = v
	}
	if v := os.Getenv("SOLVERD_PID_FILE"); v != "" {
		cfg.Daemon.PIDFile = v
	}
	if v := os.Getenv("SOLVERD_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("SOLVERD_MODEL_DIR"); v != "" {
		cfg.Store.ModelDir = v
	}
	if v := os.Getenv("SOLVERD_UPDATE_CHECK"); v != "" {
		cfg.Store.UpdateCheck = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("SOLVERD_REPOSITORY_URL"); v != "" {
		cfg.Store.Repository.URL = v
	}
	if v := os.Getenv("SOLVERD_REPOSITORY_TOKEN"); v != "" {
		cfg.Store.Repository.Token = v
	}
	if v := os.Getenv("SOLVERD_R2_BUCKET"); v != "" {
		cfg.Store.R2.Bucket = v
	}
	if v := os.Getenv("SOLVERD_R2_ENDPOINT"); v != "" {
		cfg.Store.R2.Endpoint = v
	}
	if v := os.Getenv("SOLVERD_R2_ACCESS_KEY_ID"); v != "" {
		cfg.Store.R2.AccessKeyID = v
	}
	if v := os.Getenv("SOLVERD_R2_SECRET_ACCESS_KEY"); v != "" {
		cfg.Store.R2.SecretAccessKey = v
	}
	if v := os.Getenv("SOLVERD_KV_URI"); v != "" {
		cfg.Store.R2.KVURI = v
	}
	if v := os.Getenv("SOLVERD_KV_CLIENT_ID"); v != "" {
		cfg.Store.R2.KVClientID = v
	}
	if v := os.Getenv("SOLVERD_KV_SECRET"); v != "" {
		cfg.Store.R2.KVSecret = v
	}
	if v := os.Getenv("SOLVERD_PREDICTOR_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Predictor.Concurrency = n
		}
	}
	if v := os.Getenv("SOLVERD_API_LISTEN"); v != "" {
		cfg.API.ListenAddr = v
	}
	if v := os.Getenv("SOLVERD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SOLVERD_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get user home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}

	return path, nil
}

func Load(configPath string) (*Config, error) {
	var cfg *Config
	var err error

	if configPath != "" {
		cfg, err = LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", configPath, err)
		}
	} else {
		cfg = Default()
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.postProcess(); err != nil {
		return nil, fmt.Errorf("post process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
