// Package config loads teal worker configuration: the region selector, the
// dispatcher function name used to invoke peer workers, an optional fixed
// session timeout, and a logging toggle (spec §6 "Configuration /
// environment"). Grounded on pkg/fpm/config/config.go's ini-style
// GlobalConfig/PoolConfig split, generalized to a single flat Config (a
// Teal worker has no per-pool subdivision the way PHP-FPM does) plus an
// optional YAML file via gopkg.in/yaml.v3 and environment-variable
// overrides, as SPEC_FULL.md's ambient stack section describes.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is a worker's full runtime configuration.
type Config struct {
	Region             string        `yaml:"region"`
	DispatcherFunction string        `yaml:"dispatcher_function"`
	SessionTimeout     time.Duration `yaml:"session_timeout"`
	LogEnabled         bool          `yaml:"log_enabled"`

	Listen            string `yaml:"listen"`
	StoreDSN          string `yaml:"store_dsn"`
	Workers           int    `yaml:"workers"`
	QueueSize         int    `yaml:"queue_size"`
	ExecutableCacheSize int  `yaml:"executable_cache_size"`
	DefaultExecutableRef string `yaml:"default_executable_ref"`
}

// Default matches pkg/fpm/config.LoadConfig's built-in defaults block,
// adapted to a single-process Teal worker instead of a pool of PHP-FPM
// children.
func Default() Config {
	return Config{
		Region:               "local",
		DispatcherFunction:   "teal-dispatch",
		SessionTimeout:       0, // 0 means unbounded
		LogEnabled:           true,
		Listen:               ":8090",
		StoreDSN:             "",
		Workers:              4,
		QueueSize:            64,
		ExecutableCacheSize:  32,
		DefaultExecutableRef: "default",
	}
}

// Load reads a configuration file at path. YAML (.yaml/.yml) files are
// unmarshalled directly; anything else is parsed as the teacher's
// ini-style "key = value" format. Either way, ApplyEnv is then run on top.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return ApplyEnv(cfg), nil
	}

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
		}
		return ApplyEnv(cfg), nil
	}

	file, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if err := apply(&cfg, key, value); err != nil {
			return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, err
	}
	return ApplyEnv(cfg), nil
}

func apply(cfg *Config, key, value string) error {
	switch key {
	case "region":
		cfg.Region = value
	case "dispatcher_function":
		cfg.DispatcherFunction = value
	case "session_timeout":
		dur, err := parseDuration(value)
		if err != nil {
			return err
		}
		cfg.SessionTimeout = dur
	case "log_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		cfg.LogEnabled = b
	case "listen":
		cfg.Listen = value
	case "store_dsn":
		cfg.StoreDSN = value
	case "workers":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Workers = n
	case "queue_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.QueueSize = n
	case "executable_cache_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.ExecutableCacheSize = n
	case "default_executable_ref":
		cfg.DefaultExecutableRef = value
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "s") {
		seconds, err := strconv.Atoi(strings.TrimSuffix(s, "s"))
		if err != nil {
			return 0, err
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if strings.HasSuffix(s, "m") {
		minutes, err := strconv.Atoi(strings.TrimSuffix(s, "m"))
		if err != nil {
			return 0, err
		}
		return time.Duration(minutes) * time.Minute, nil
	}
	return time.ParseDuration(s)
}

// ApplyEnv overlays TEAL_-prefixed environment variables on top of cfg,
// following the teacher's convention of config-file-then-env-override.
func ApplyEnv(cfg Config) Config {
	if v := os.Getenv("TEAL_REGION"); v != "" {
		cfg.Region = v
	}
	if v := os.Getenv("TEAL_DISPATCHER_FUNCTION"); v != "" {
		cfg.DispatcherFunction = v
	}
	if v := os.Getenv("TEAL_SESSION_TIMEOUT"); v != "" {
		if dur, err := parseDuration(v); err == nil {
			cfg.SessionTimeout = dur
		}
	}
	if v := os.Getenv("TEAL_LOG_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LogEnabled = b
		}
	}
	if v := os.Getenv("TEAL_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("TEAL_STORE_DSN"); v != "" {
		cfg.StoreDSN = v
	}
	return cfg
}
