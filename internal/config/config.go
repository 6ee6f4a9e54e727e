// Package config resolves runtime settings from, in increasing priority,
// built-in defaults, a .graphcore.yaml file, a .env file, the process
// environment, and finally CLI flags applied by the caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"neuralvault/graphcore/internal/progress"
	"neuralvault/graphcore/internal/wire"
)

const (
	FileName  = ".graphcore.yaml"
	EnvFile   = ".env"
	EnvPrefix = "GRAPHCORE_"
)

// Config is the resolved configuration.
type Config struct {
	// Path is the config file that was loaded, empty if none.
	Path string

	DBPath        string
	SocketNetwork string
	SocketAddress string

	ProgressURL       string
	ProgressNamespace string
	ProgressEvent     string
	ReconnectBackoff  time.Duration

	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DBPath:            defaultDBPath(),
		SocketNetwork:     "unix",
		SocketAddress:     wire.DefaultSocketPath(),
		ProgressURL:       "http://127.0.0.1:8765",
		ProgressNamespace: "/",
		ProgressEvent:     progress.DefaultEvent,
		ReconnectBackoff:  progress.DefaultBackoff,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "graphcore.db"
	}
	return filepath.Join(home, ".graphcore", "graphcore.db")
}

// FileConfig mirrors the YAML layout. Unset keys keep the lower-priority value.
type FileConfig struct {
	DB       *DBFileConfig       `yaml:"db"`
	Socket   *SocketFileConfig   `yaml:"socket"`
	Progress *ProgressFileConfig `yaml:"progress"`
	Logging  *LoggingFileConfig  `yaml:"logging"`
	Metrics  *MetricsFileConfig  `yaml:"metrics"`
}

type DBFileConfig struct {
	Path *string `yaml:"path"`
}

type SocketFileConfig struct {
	Network *string `yaml:"network"`
	Address *string `yaml:"address"`
}

type ProgressFileConfig struct {
	URL       *string `yaml:"url"`
	Namespace *string `yaml:"namespace"`
	Event     *string `yaml:"event"`
	Backoff   *string `yaml:"backoff"`
}

type LoggingFileConfig struct {
	Level  *string `yaml:"level"`
	Format *string `yaml:"format"`
}

type MetricsFileConfig struct {
	Addr *string `yaml:"addr"`
}

// Discover walks up from dir looking for name and returns the first match.
func Discover(dir, name string) (string, bool) {
	for {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// Load resolves the configuration. An explicit path must exist; otherwise
// the file is discovered from the working directory and may be absent.
// A .env next to the config file (or in the working directory) supplies
// GRAPHCORE_* values that the real environment has not set.
func Load(path string) (Config, error) {
	cfg := Default()

	cwd, err := os.Getwd()
	if err != nil {
		return cfg, fmt.Errorf("resolving working directory: %w", err)
	}
	if path == "" {
		if found, ok := Discover(cwd, FileName); ok {
			path = found
		}
	}

	envDir := cwd
	if path != "" {
		fc, err := loadFileConfig(path)
		if err != nil {
			return cfg, fmt.Errorf("loading %s: %w", path, err)
		}
		if err := applyFileConfig(&cfg, fc); err != nil {
			return cfg, fmt.Errorf("applying %s: %w", path, err)
		}
		cfg.Path = path
		envDir = filepath.Dir(path)
	}

	dotenv, err := readDotenv(filepath.Join(envDir, EnvFile))
	if err != nil {
		return cfg, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

func applyFileConfig(cfg *Config, fc *FileConfig) error {
	if fc == nil {
		return nil
	}
	if db := fc.DB; db != nil && db.Path != nil {
		cfg.DBPath = expandPath(*db.Path)
	}
	if s := fc.Socket; s != nil {
		setString(&cfg.SocketNetwork, s.Network)
		if s.Address != nil {
			cfg.SocketAddress = expandPath(*s.Address)
		}
	}
	if p := fc.Progress; p != nil {
		setString(&cfg.ProgressURL, p.URL)
		setString(&cfg.ProgressNamespace, p.Namespace)
		setString(&cfg.ProgressEvent, p.Event)
		if p.Backoff != nil {
			d, err := parseBackoff(*p.Backoff)
			if err != nil {
				return err
			}
			cfg.ReconnectBackoff = d
		}
	}
	if l := fc.Logging; l != nil {
		setString(&cfg.LogLevel, l.Level)
		setString(&cfg.LogFormat, l.Format)
	}
	if m := fc.Metrics; m != nil {
		setString(&cfg.MetricsAddr, m.Addr)
	}
	return nil
}

func readDotenv(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	vals, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return vals, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(dst *string, key string) {
		if v, ok := lookup(EnvPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(&cfg.DBPath, "DB")
	cfg.DBPath = expandPath(cfg.DBPath)
	str(&cfg.SocketNetwork, "SOCKET_NETWORK")
	str(&cfg.SocketAddress, "SOCKET")
	cfg.SocketAddress = expandPath(cfg.SocketAddress)
	str(&cfg.ProgressURL, "PROGRESS_URL")
	str(&cfg.ProgressNamespace, "PROGRESS_NAMESPACE")
	str(&cfg.ProgressEvent, "PROGRESS_EVENT")
	str(&cfg.LogLevel, "LOG_LEVEL")
	str(&cfg.LogFormat, "LOG_FORMAT")
	str(&cfg.MetricsAddr, "METRICS_ADDR")

	if v, ok := lookup(EnvPrefix + "PROGRESS_BACKOFF"); ok && v != "" {
		d, err := parseBackoff(v)
		if err != nil {
			return fmt.Errorf("%sPROGRESS_BACKOFF: %w", EnvPrefix, err)
		}
		cfg.ReconnectBackoff = d
	}
	return nil
}

func parseBackoff(s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid backoff %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("backoff must be positive, got %s", d)
	}
	return d, nil
}

func setString(dst *string, v *string) {
	if v != nil && strings.TrimSpace(*v) != "" {
		*dst = strings.TrimSpace(*v)
	}
}

func expandPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
