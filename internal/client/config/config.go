package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openmined/syftsync/internal/client/storage"
	"github.com/openmined/syftsync/internal/utils"
)

var (
	home, _                 = os.UserHomeDir()
	DefaultConfigPath       = filepath.Join(home, ".syftsync", "config.json")
	DefaultLogFilePath      = filepath.Join(home, ".syftsync", "logs", "syftsync.log")
	DefaultDataDir          = filepath.Join(home, "SyftBox")
	DefaultServerURL        = "https://syftbox.openmined.org"
	DefaultControlPlaneAddr = "localhost:7938"
)

var (
	ErrInvalidURL  = errors.New("invalid url")
	ErrInvalidAddr = errors.New("invalid address")
)

// ControlPlane configures the local http api of the daemon
type ControlPlane struct {
	Addr  string `json:"addr,omitempty"`
	Token string `json:"token,omitempty"`
}

type Config struct {
	DataDir        string        `json:"data_dir"`
	Email          string        `json:"email"`
	ServerURL      string        `json:"server_url"`
	AccessToken    string        `json:"access_token,omitempty"`
	Workers        int           `json:"workers,omitempty"`
	BulkThreshold  int           `json:"bulk_threshold,omitempty"`
	Interval       time.Duration `json:"interval,omitempty"`
	StorageBackend string        `json:"storage_backend,omitempty"`
	ControlPlane   ControlPlane  `json:"control_plane"`
	Path           string        `json:"-"`
}

// Validate normalizes the config in place and reports the first invalid
// field.
func (c *Config) Validate() error {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if err := utils.ValidateEmail(c.Email); err != nil {
		return err
	}

	dataDir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	c.DataDir = dataDir

	if c.Path != "" {
		path, err := utils.ResolvePath(c.Path)
		if err != nil {
			return fmt.Errorf("config path: %w", err)
		}
		c.Path = path
	}

	if err := validateURL(c.ServerURL); err != nil {
		return fmt.Errorf("server url: %w", err)
	}
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")

	if c.Workers < 0 {
		return fmt.Errorf("workers: must not be negative, got %d", c.Workers)
	}
	if c.BulkThreshold < 0 {
		return fmt.Errorf("bulk threshold: must not be negative, got %d", c.BulkThreshold)
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval: must not be negative, got %s", c.Interval)
	}

	switch c.StorageBackend {
	case "", storage.BackendSqlite, storage.BackendMemory:
	default:
		return fmt.Errorf("storage backend: %w %q", storage.ErrUnknownBackend, c.StorageBackend)
	}

	if c.ControlPlane.Addr != "" {
		if err := validateAddr(c.ControlPlane.Addr); err != nil {
			return fmt.Errorf("control plane addr: %w", err)
		}
	}

	return nil
}

// Save writes the config as json to its Path. The file holds the access
// token and is only readable by the user.
func (c *Config) Save() error {
	if c.Path == "" {
		return fmt.Errorf("config save: %w", utils.ErrEmptyPath)
	}
	if err := utils.EnsureParent(c.Path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(c.Path, data, 0o600)
}

func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config parse %s: %w", path, err)
	}
	cfg.Path = path

	return &cfg, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}

func validateAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAddr, err)
	}
	if port == "" {
		return fmt.Errorf("%w: missing port", ErrInvalidAddr)
	}
	if strings.Contains(host, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidAddr, addr)
	}
	return nil
}
