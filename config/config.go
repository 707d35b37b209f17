package config

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	StoreLevelDB = "leveldb"
	StoreJSON    = "json"
)

// Default values
const (
	DefaultDataDir            = "./data"
	DefaultHTTPAddr           = ":8080"
	DefaultRateLimitPerMinute = 100
	DefaultMaxBodySizeBytes   = 1 << 20 // 1MB
	DefaultSyncInterval       = 30 * time.Second
	DefaultSnapshotKeep       = 5
	DefaultShutdownTimeout    = 30 * time.Second
)

// Config holds the ledger daemon configuration.
type Config struct {
	DataDir            string        `yaml:"data_dir"`
	Store              string        `yaml:"store"`
	HTTPAddr           string        `yaml:"http_addr"`
	LogLevel           string        `yaml:"log_level"`
	LogFormat          string        `yaml:"log_format"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	MaxBodySizeBytes   int64         `yaml:"max_body_size_bytes"`
	TrustedProxies     []string      `yaml:"trusted_proxies"`
	SyncInterval       time.Duration `yaml:"sync_interval"`
	SigningKeyPath     string        `yaml:"signing_key"`
	SnapshotKeep       int           `yaml:"snapshot_keep"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
}

func Default() *Config {
	return &Config{
		DataDir:            DefaultDataDir,
		Store:              StoreLevelDB,
		HTTPAddr:           DefaultHTTPAddr,
		LogLevel:           "info",
		LogFormat:          "json",
		RateLimitPerMinute: DefaultRateLimitPerMinute,
		MaxBodySizeBytes:   DefaultMaxBodySizeBytes,
		SyncInterval:       DefaultSyncInterval,
		SnapshotKeep:       DefaultSnapshotKeep,
		ShutdownTimeout:    DefaultShutdownTimeout,
	}
}

// Load reads the optional YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", path)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("LEDGER_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := getenv("LEDGER_STORE"); v != "" {
		cfg.Store = v
	}

	if v := getenv("LEDGER_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}

	if v := getenv("LEDGER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := getenv("LEDGER_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	if v := getenv("LEDGER_RATE_LIMIT_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "invalid LEDGER_RATE_LIMIT_PER_MINUTE")
		}
		cfg.RateLimitPerMinute = n
	}

	if v := getenv("LEDGER_MAX_BODY_SIZE_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrap(err, "invalid LEDGER_MAX_BODY_SIZE_BYTES")
		}
		cfg.MaxBodySizeBytes = n
	}

	if v := getenv("LEDGER_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.TrustedProxies = append(cfg.TrustedProxies, p)
			}
		}
	}

	if v := getenv("LEDGER_SYNC_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(err, "invalid LEDGER_SYNC_INTERVAL")
		}
		cfg.SyncInterval = d
	}

	if v := getenv("LEDGER_SIGNING_KEY"); v != "" {
		cfg.SigningKeyPath = v
	}

	if v := getenv("LEDGER_SNAPSHOT_KEEP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "invalid LEDGER_SNAPSHOT_KEEP")
		}
		cfg.SnapshotKeep = n
	}

	if v := getenv("LEDGER_SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(err, "invalid LEDGER_SHUTDOWN_TIMEOUT")
		}
		cfg.ShutdownTimeout = d
	}

	return nil
}

func (cfg *Config) Validate() error {
	switch cfg.Store {
	case StoreLevelDB, StoreJSON:
	default:
		return errors.Errorf("unknown store %q, want %q or %q", cfg.Store, StoreLevelDB, StoreJSON)
	}

	switch {
	case cfg.DataDir == "":
		return errors.New("data_dir is required")
	case cfg.HTTPAddr == "":
		return errors.New("http_addr is required")
	case cfg.RateLimitPerMinute <= 0:
		return errors.New("rate_limit_per_minute must be positive")
	case cfg.MaxBodySizeBytes <= 0:
		return errors.New("max_body_size_bytes must be positive")
	case cfg.SyncInterval < 0:
		return errors.New("sync_interval must not be negative")
	case cfg.SnapshotKeep <= 0:
		return errors.New("snapshot_keep must be positive")
	case cfg.ShutdownTimeout <= 0:
		return errors.New("shutdown_timeout must be positive")
	}

	if _, err := cfg.TrustedNetworks(); err != nil {
		return err
	}

	return nil
}

// TrustedNetworks parses TrustedProxies. A bare address is a single-host
// network.
func (cfg *Config) TrustedNetworks() ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(cfg.TrustedProxies))
	for _, p := range cfg.TrustedProxies {
		if strings.Contains(p, "/") {
			_, n, err := net.ParseCIDR(p)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid trusted proxy %q", p)
			}
			nets = append(nets, n)
			continue
		}

		ip := net.ParseIP(p)
		if ip == nil {
			return nil, errors.Errorf("invalid trusted proxy %q", p)
		}
		bits := 8 * net.IPv6len
		if v4 := ip.To4(); v4 != nil {
			ip, bits = v4, 8*net.IPv4len
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}

	return nets, nil
}

// KeyPath is where the signing key lives, defaulting into the data dir.
func (cfg *Config) KeyPath() string {
	if cfg.SigningKeyPath != "" {
		return cfg.SigningKeyPath
	}

	return filepath.Join(cfg.DataDir, "signing_key.json")
}

func (cfg *Config) StorePath() string {
	return filepath.Join(cfg.DataDir, cfg.Store)
}

func (cfg *Config) SnapshotDir() string {
	return filepath.Join(cfg.DataDir, "snapshots")
}
