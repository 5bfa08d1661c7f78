package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vango-dev/pagecycle/internal/errors"
)

const (
	// ConfigFileName is the name of the JSON configuration file.
	ConfigFileName = "pagecycle.json"

	// DefaultAddr is the default listen address.
	DefaultAddr = "localhost:8080"

	// DefaultCookieName is the default session cookie name.
	DefaultCookieName = "pagecycle_session"

	// DefaultMarkupDir is the default template directory.
	DefaultMarkupDir = "markup"
)

// FileNames are the configuration file names Load looks for, in order.
var FileNames = []string{ConfigFileName, "pagecycle.yaml", "pagecycle.yml"}

// Session store kinds.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreS3     = "s3"
)

// Config represents the complete pagecycle configuration.
type Config struct {
	// Name is the application name.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Server  ServerConfig  `json:"server,omitempty" yaml:"server,omitempty"`
	Pages   PagesConfig   `json:"pages,omitempty" yaml:"pages,omitempty"`
	Render  RenderConfig  `json:"render,omitempty" yaml:"render,omitempty"`
	Markup  MarkupConfig  `json:"markup,omitempty" yaml:"markup,omitempty"`
	Session SessionConfig `json:"session,omitempty" yaml:"session,omitempty"`
	Metrics MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Log     LogConfig     `json:"log,omitempty" yaml:"log,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig contains HTTP server settings. Durations use
// time.ParseDuration syntax ("30s", "2m").
type ServerConfig struct {
	Addr            string `json:"addr,omitempty" yaml:"addr,omitempty"`
	ReadTimeout     string `json:"readTimeout,omitempty" yaml:"readTimeout,omitempty"`
	WriteTimeout    string `json:"writeTimeout,omitempty" yaml:"writeTimeout,omitempty"`
	IdleTimeout     string `json:"idleTimeout,omitempty" yaml:"idleTimeout,omitempty"`
	ShutdownTimeout string `json:"shutdownTimeout,omitempty" yaml:"shutdownTimeout,omitempty"`

	// CookieName is the session cookie name.
	CookieName string `json:"cookieName,omitempty" yaml:"cookieName,omitempty"`

	// SecureCookie marks the session cookie Secure.
	SecureCookie bool `json:"secureCookie,omitempty" yaml:"secureCookie,omitempty"`
}

// PagesConfig contains page storage settings.
type PagesConfig struct {
	// MaxPerMap is the capacity of each page map.
	MaxPerMap int `json:"maxPerMap,omitempty" yaml:"maxPerMap,omitempty"`

	// MaxVersions limits the change-sets kept per page. Zero keeps all.
	MaxVersions int `json:"maxVersions,omitempty" yaml:"maxVersions,omitempty"`
}

// RenderConfig contains render engine settings.
type RenderConfig struct {
	// ComponentUseCheck enables the consistency check after full page
	// renders. Default: true.
	ComponentUseCheck *bool `json:"componentUseCheck,omitempty" yaml:"componentUseCheck,omitempty"`

	// StripTags removes pc:* attributes from output and drops the tags of
	// pc:* elements, keeping what they render.
	StripTags bool `json:"stripTags,omitempty" yaml:"stripTags,omitempty"`
}

// MarkupConfig contains template settings.
type MarkupConfig struct {
	Dir       string `json:"dir,omitempty" yaml:"dir,omitempty"`
	CacheSize int    `json:"cacheSize,omitempty" yaml:"cacheSize,omitempty"`

	// Watch invalidates cached templates when their files change.
	Watch bool `json:"watch,omitempty" yaml:"watch,omitempty"`
}

// SessionConfig contains session settings.
type SessionConfig struct {
	// Store is one of memory, sqlite or s3.
	Store       string   `json:"store,omitempty" yaml:"store,omitempty"`
	SQLitePath  string   `json:"sqlitePath,omitempty" yaml:"sqlitePath,omitempty"`
	S3          S3Config `json:"s3,omitempty" yaml:"s3,omitempty"`
	MaxSessions int      `json:"maxSessions,omitempty" yaml:"maxSessions,omitempty"`
	TTL         string   `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// S3Config locates the S3 session store.
type S3Config struct {
	Bucket   string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region   string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	Enabled    bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	TracerName string `json:"tracerName,omitempty" yaml:"tracerName,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level,omitempty" yaml:"level,omitempty"`

	// Format is text or json.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the first configuration file found in dir.
func Load(dir string) (*Config, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, errors.New("E101").
		WithDetail("No configuration file found in " + dir).
		WithSuggestion("Create " + ConfigFileName + " or pass --config")
}

// LoadFile reads configuration from the specified file path. The format
// is chosen by extension: .yaml and .yml are YAML, anything else JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E101").
				WithDetail("No configuration file at " + path)
		}
		return nil, errors.New("E100").Wrap(err)
	}

	cfg := &Config{}
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.New("E100").
			WithDetail("Failed to parse " + filepath.Base(path) + ": " + err.Error()).
			Wrap(err)
	}

	cfg.configPath = path
	cfg.applyDefaults()
	return cfg, nil
}

// SaveTo writes the configuration in the format implied by path.
func (c *Config) SaveTo(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.New("E100").Wrap(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New("E100").Wrap(err)
	}
	c.configPath = path
	return nil
}

// Path returns the path the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	// Server
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "30s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "30s"
	}
	if c.Server.IdleTimeout == "" {
		c.Server.IdleTimeout = "2m"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "30s"
	}
	if c.Server.CookieName == "" {
		c.Server.CookieName = DefaultCookieName
	}

	// Pages
	if c.Pages.MaxPerMap == 0 {
		c.Pages.MaxPerMap = 5
	}

	// Render
	if c.Render.ComponentUseCheck == nil {
		on := true
		c.Render.ComponentUseCheck = &on
	}

	// Markup
	if c.Markup.Dir == "" {
		c.Markup.Dir = DefaultMarkupDir
	}
	if c.Markup.CacheSize == 0 {
		c.Markup.CacheSize = 128
	}

	// Session
	if c.Session.Store == "" {
		c.Session.Store = StoreMemory
	}
	if c.Session.Store == StoreSQLite && c.Session.SQLitePath == "" {
		c.Session.SQLitePath = "pagecycle.db"
	}
	if c.Session.MaxSessions == 0 {
		c.Session.MaxSessions = 10000
	}
	if c.Session.TTL == "" {
		c.Session.TTL = "30m"
	}

	// Observability
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "pagecycle"
	}
	if c.Tracing.TracerName == "" {
		c.Tracing.TracerName = "pagecycle"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	durations := map[string]string{
		"server.readTimeout":     c.Server.ReadTimeout,
		"server.writeTimeout":    c.Server.WriteTimeout,
		"server.idleTimeout":     c.Server.IdleTimeout,
		"server.shutdownTimeout": c.Server.ShutdownTimeout,
		"session.ttl":            c.Session.TTL,
	}
	for _, key := range sortedKeys(durations) {
		if d, err := time.ParseDuration(durations[key]); err != nil || d < 0 {
			return errors.New("E102").
				WithDetail(key + " must be a duration such as \"30s\", got " + strconv.Quote(durations[key]))
		}
	}

	switch {
	case c.Pages.MaxPerMap < 1:
		return errors.New("E102").WithDetail("pages.maxPerMap must be at least 1")
	case c.Pages.MaxVersions < 0:
		return errors.New("E102").WithDetail("pages.maxVersions must not be negative")
	case c.Markup.CacheSize < 0:
		return errors.New("E102").WithDetail("markup.cacheSize must not be negative")
	case c.Session.MaxSessions < 1:
		return errors.New("E102").WithDetail("session.maxSessions must be at least 1")
	}

	switch c.Session.Store {
	case StoreMemory, StoreSQLite:
	case StoreS3:
		if c.Session.S3.Bucket == "" {
			return errors.New("E102").
				WithDetail("session.s3.bucket is required for the s3 store")
		}
	default:
		return errors.New("E103").
			WithDetail("Got " + strconv.Quote(c.Session.Store))
	}

	if _, ok := parseLevel(c.Log.Level); !ok {
		return errors.New("E102").
			WithDetail("log.level must be debug, info, warn or error")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.New("E102").
			WithDetail("log.format must be text or json")
	}
	return nil
}

// CheckRendering reports whether the consistency check is enabled.
func (c *Config) CheckRendering() bool {
	return c.Render.ComponentUseCheck == nil || *c.Render.ComponentUseCheck
}

// Duration parses one of the duration settings. Invalid values yield
// fallback; Validate reports them.
func Duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	level, _ := parseLevel(c.Log.Level)
	return level
}

// Exists reports whether dir contains a configuration file.
func Exists(dir string) bool {
	for _, name := range FileNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
