// Package config loads and persists agent settings. HEALTHWATCH_*
// environment variables (optionally seeded from a .env file) override the
// YAML config file, which overrides the built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/vertti/healthwatch/pkg/probe"
)

const (
	AppName   = "healthwatch"
	FileName  = AppName + ".yaml"
	EnvPrefix = "HEALTHWATCH"

	DefaultEndpoint = "http://localhost:3000/api/report"
)

// Keys.
const (
	KeyEndpoint       = "endpoint"
	KeyInterval       = "interval"
	KeyMachineID      = "machine_id"
	KeyDataDir        = "data_dir"
	KeyCommandTimeout = "command_timeout"
	KeyUpdateTimeout  = "update_timeout"
	KeyCAFile         = "ca_file"
)

var (
	// ErrUnknownKey is returned by Set for keys that are not settings.
	ErrUnknownKey = errors.New("unknown config key")
	// ErrReadOnlyKey is returned by Set for the machine id.
	ErrReadOnlyKey = errors.New("config key is read-only")
)

var settableKeys = map[string]bool{
	KeyEndpoint:       true,
	KeyInterval:       true,
	KeyDataDir:        true,
	KeyCommandTimeout: true,
	KeyUpdateTimeout:  true,
	KeyCAFile:         true,
}

// Config is a validated snapshot of the settings.
type Config struct {
	Endpoint       string
	Interval       Interval
	MachineID      string
	DataDir        string
	CommandTimeout time.Duration
	UpdateTimeout  time.Duration
	CAFile         string
}

// Validate checks the endpoint URL, interval and timeouts.
func (c Config) Validate() error {
	u, err := url.ParseRequestURI(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", c.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid endpoint %q: scheme must be http or https", c.Endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid endpoint %q: missing host", c.Endpoint)
	}
	if !c.Interval.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidInterval, int(c.Interval))
	}
	if c.CommandTimeout <= 0 || c.UpdateTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}

// ProbeOptions returns the probe settings derived from c.
func (c Config) ProbeOptions() probe.Options {
	return probe.Options{CommandTimeout: c.CommandTimeout, UpdateTimeout: c.UpdateTimeout}
}

// Manager owns the viper instance backing one config file.
type Manager struct {
	mu     sync.Mutex
	v      *viper.Viper
	path   string
	logger logr.Logger
}

// DefaultDir returns the per-user directory holding the config file and state.
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, AppName)
}

// Load reads the config file at path (DefaultDir()/healthwatch.yaml when
// empty). A missing file is not an error. A .env file in the working
// directory, if present, is loaded into the environment first.
func Load(path string, logger logr.Logger) (*Manager, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	if path == "" {
		path = filepath.Join(DefaultDir(), FileName)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault(KeyEndpoint, DefaultEndpoint)
	v.SetDefault(KeyInterval, int(DefaultInterval))
	v.SetDefault(KeyMachineID, "")
	v.SetDefault(KeyDataDir, filepath.Dir(path))
	v.SetDefault(KeyCommandTimeout, probe.DefaultCommandTimeout.String())
	v.SetDefault(KeyUpdateTimeout, probe.DefaultUpdateTimeout.String())
	v.SetDefault(KeyCAFile, "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		logger.V(1).Info("no config file, using defaults", "path", path)
	}

	return &Manager{v: v, path: path, logger: logger.WithName("config")}, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Path returns the config file location.
func (m *Manager) Path() string { return m.path }

// Config returns the current settings, validated.
func (m *Manager) Config() (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config()
}

func (m *Manager) config() (Config, error) {
	interval, err := ParseInterval(m.v.GetString(KeyInterval))
	if err != nil {
		return Config{}, err
	}
	c := Config{
		Endpoint:       m.v.GetString(KeyEndpoint),
		Interval:       interval,
		MachineID:      m.v.GetString(KeyMachineID),
		DataDir:        m.v.GetString(KeyDataDir),
		CommandTimeout: m.v.GetDuration(KeyCommandTimeout),
		UpdateTimeout:  m.v.GetDuration(KeyUpdateTimeout),
		CAFile:         m.v.GetString(KeyCAFile),
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Settings returns every key with its effective value, sorted by key.
func (m *Manager) Settings() [][2]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := m.v.AllKeys()
	sort.Strings(keys)
	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, m.v.GetString(k)})
	}
	return out
}

// EnsureMachineID returns the persisted machine id, generating and saving a
// new one on first use. The agent must not start if this fails.
func (m *Manager) EnsureMachineID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id := m.v.GetString(KeyMachineID); id != "" {
		return id, nil
	}

	id := uuid.NewString()
	m.v.Set(KeyMachineID, id)
	if err := m.save(); err != nil {
		m.v.Set(KeyMachineID, "")
		return "", fmt.Errorf("failed to persist machine id: %w", err)
	}
	m.logger.Info("generated machine id", "machineId", id)
	return id, nil
}

// Set validates and stores value under key, then saves the file.
func (m *Manager) Set(key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == KeyMachineID {
		return fmt.Errorf("%w: %s", ErrReadOnlyKey, key)
	}
	if !settableKeys[key] {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.v.Get(key)
	switch key {
	case KeyInterval:
		i, err := ParseInterval(value)
		if err != nil {
			return err
		}
		m.v.Set(key, int(i))
	case KeyCommandTimeout, KeyUpdateTimeout:
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid duration for %s: %q", key, value)
		}
		m.v.Set(key, d.String())
	default:
		m.v.Set(key, value)
	}

	if _, err := m.config(); err != nil {
		m.v.Set(key, prev)
		return err
	}
	return m.save()
}

func (m *Manager) save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := m.v.WriteConfigAs(m.path); err != nil {
		return fmt.Errorf("failed to write config %s: %w", m.path, err)
	}
	return nil
}

// Watch calls fn with the new settings each time the config file changes.
// Invalid edits are logged and ignored.
func (m *Manager) Watch(fn func(Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	m.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := m.Config()
		if err != nil {
			m.logger.Error(err, "ignoring invalid config change", "file", e.Name)
			return
		}
		m.logger.Info("config reloaded", "file", e.Name, "op", e.Op.String())
		fn(cfg)
	})
	m.v.WatchConfig()
	return nil
}
