package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// UserdataSuffix is where Steam keeps per-user data, relative to $HOME.
const UserdataSuffix = ".local/share/Steam/userdata"

// DefaultPort is the listen port when nothing else is configured.
const DefaultPort = 3000

var ErrNoHome = errors.New("could not determine home directory")

// Config is intentionally small and YAML-friendly.
// If Auth.Users and Auth.Tokens are empty, steamshots runs without auth.
type Config struct {
	// Port is the TCP port; the bind address is always 0.0.0.0.
	Port int `yaml:"port"`

	// FollowSymlinks controls whether symlinked folders inside the root are
	// entered. Symlinked files are always served when their target stays
	// inside the root; symlinks that leave the root never are.
	FollowSymlinks bool `yaml:"follow_symlinks"`

	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	WebDAV     WebDAVConfig     `yaml:"webdav"`
	Thumbnails ThumbnailsConfig `yaml:"thumbnails"`
	Auth       AuthConfig       `yaml:"auth"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// ServerConfig holds HTTP server timeouts. There is deliberately no write
// timeout: range downloads of large files may take a while.
type ServerConfig struct {
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	IdleTimeout       Duration `yaml:"idle_timeout"`
}

type MetricsConfig struct {
	// Enabled exposes /metrics on the main listener.
	Enabled bool `yaml:"enabled"`
}

type WebDAVConfig struct {
	// Enabled mounts the root read-only under /dav/.
	Enabled bool `yaml:"enabled"`
}

type ThumbnailsConfig struct {
	// Generate renders a thumbnail in memory when Steam's thumbnails/ copy is
	// missing. Off by default: a missing thumbnail is a plain 404.
	Generate bool `yaml:"generate"`
	// MaxEdge is the longest side of a generated thumbnail, in pixels.
	MaxEdge int `yaml:"max_edge"`
}

type AuthConfig struct {
	// Optional enables "public + authenticated" mode: requests without
	// Authorization pass as anonymous, invalid credentials still get 401.
	Optional bool `yaml:"optional"`

	// Users is a map of username -> bcrypt hash.
	// Example:
	//   alice: {bcrypt: "$2a$10$..."}
	Users map[string]User `yaml:"users,omitempty"`

	// Tokens maps bearer tokens to usernames.
	// Request header: Authorization: Bearer <token>
	Tokens map[string]string `yaml:"tokens,omitempty"`
}

type User struct {
	Bcrypt string `yaml:"bcrypt"`
}

// Duration is a time.Duration written as "10s" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port: DefaultPort,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			ReadHeaderTimeout: Duration(10 * time.Second),
			IdleTimeout:       Duration(120 * time.Second),
		},
		Metrics:    MetricsConfig{Enabled: true},
		Thumbnails: ThumbnailsConfig{MaxEdge: 256},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults. Unlike most loaders it never writes the file back: the
// service is read-only on disk.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from STEAMSHOTS_* variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("STEAMSHOTS_PORT"); ok && v != "" {
		p, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid STEAMSHOTS_PORT: %w", err)
		}
		c.Port = p
	}
	if v, ok := lookup("STEAMSHOTS_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("STEAMSHOTS_LOG_FORMAT"); ok && v != "" {
		c.Log.Format = v
	}
	return nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.Thumbnails.MaxEdge <= 0 {
		c.Thumbnails.MaxEdge = 256
	}
	for name, u := range c.Auth.Users {
		if strings.TrimSpace(u.Bcrypt) == "" {
			return fmt.Errorf("config: user %q has no bcrypt hash", name)
		}
	}
	return nil
}

// Addr is the listen address for the configured port.
func (c *Config) Addr() string {
	return "0.0.0.0:" + strconv.Itoa(c.Port)
}

// Root is the sanctioned base directory, resolved once at startup. When
// resolution failed Err is set and Dir is empty; handlers that need the root
// turn Err into a 500.
type Root struct {
	Dir string
	Err error
}

// ResolveRoot derives the root from the home directory; it is not
// configurable. homeDir is usually os.UserHomeDir.
func (c *Config) ResolveRoot(homeDir func() (string, error)) Root {
	home, err := homeDir()
	if err != nil || home == "" {
		return Root{Err: ErrNoHome}
	}
	return Root{Dir: filepath.Join(home, filepath.FromSlash(UserdataSuffix))}
}
