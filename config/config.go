// Package config provides YAML configuration parsing for pulsewatch.
//
// This package enables running pulsewatch as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8080
//	check_interval: 30s
//
//	auth:
//	  jwt_secret: ${PULSEWATCH_JWT_SECRET}
//
//	devices:
//	  - name: core-switch
//	    host: 10.0.0.2
//	    type: switch
//	  - name: api
//	    host: api.internal
//	    type: server
//	    check_url: https://api.internal/health
//
//	grids:
//	  - name: edge
//	    host_template: "edge-{{.site}}.internal"
//	    type: router
//	    dimensions:
//	      site: [lon, fra, nyc]
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/jpalmerr/pulsewatch/model"
	"gopkg.in/yaml.v3"
)

// minCheckInterval is the minimum allowed check interval.
// This prevents accidental flooding of devices with overly aggressive probing.
const minCheckInterval = 1 * time.Second

const (
	defaultPort             = 8080
	defaultCheckInterval    = 30 * time.Second
	defaultProbeTimeout     = 5 * time.Second
	defaultWarningThreshold = 1 * time.Second
	defaultMaxConcurrency   = 1
	defaultAlertRetention   = 30 * 24 * time.Hour
	defaultSMTPPort         = 25

	maxProbeTimeout   = time.Minute
	maxMaxConcurrency = 64
)

// Config is the root configuration structure for pulsewatch.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Title names this instance. Defaults to "PulseWatch" if not set.
	Title string `yaml:"title"`

	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// CheckInterval is the time between check cycles. Defaults to 30s.
	CheckInterval Duration `yaml:"check_interval"`

	// ProbeTimeout bounds a single probe. Defaults to 5s.
	ProbeTimeout Duration `yaml:"probe_timeout"`

	// WarningThreshold is the response time above which a reachable
	// device is reported as warning. Defaults to 1s.
	WarningThreshold Duration `yaml:"warning_threshold"`

	// MaxConcurrency is the number of devices checked in parallel.
	// Defaults to 1, which checks devices one after another.
	MaxConcurrency int `yaml:"max_concurrency"`

	// AlertRetention is how long resolved alerts are kept. Defaults to 720h.
	AlertRetention Duration `yaml:"alert_retention"`

	// Timezone is the IANA zone for the daily jobs. Empty means local time.
	Timezone string `yaml:"timezone"`

	// AllowedOrigins restricts the browser origins accepted by /ws.
	AllowedOrigins []string `yaml:"allowed_origins"`

	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	SMTP     SMTPConfig     `yaml:"smtp"`

	// Devices defines individual devices to monitor.
	Devices []DeviceConfig `yaml:"devices"`

	// Grids defines device grids that expand via cartesian product.
	Grids []GridConfig `yaml:"grids"`
}

// DatabaseConfig selects PostgreSQL persistence. Empty DSN keeps state in memory.
type DatabaseConfig struct {
	// DSN is a lib/pq connection string.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	DSN string `yaml:"dsn"`
}

// RedisConfig enables the Redis read cache. Empty Addr disables caching.
type RedisConfig struct {
	Addr string `yaml:"addr"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	// JWTSecret is the HS256 signing secret. Required.
	JWTSecret string `yaml:"jwt_secret"`
}

// SMTPConfig configures alert email delivery. Empty Host logs notifications
// instead of sending them.
type SMTPConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// Enabled reports whether an SMTP server is configured.
func (s SMTPConfig) Enabled() bool {
	return s.Host != ""
}

// DeviceConfig defines a single monitored device.
type DeviceConfig struct {
	// Name is the unique display name of the device.
	Name string `yaml:"name"`

	// Host is the IP address or hostname pinged when CheckURL is empty.
	Host string `yaml:"host"`

	// Type is one of server, database, switch, router, pc, other.
	// Defaults to other.
	Type string `yaml:"type"`

	// CheckURL switches the probe from ICMP to an HTTP GET.
	// Supports environment variable substitution.
	CheckURL string `yaml:"check_url"`

	// Port is appended to CheckURL when the URL has no explicit port.
	Port int `yaml:"port"`

	Description string `yaml:"description"`

	// Active controls whether check cycles include the device.
	// Defaults to true.
	Active *bool `yaml:"active"`
}

// GridConfig defines a device grid that expands via cartesian product.
//
// For example, with dimensions {site: [lon, fra], role: [core, edge]},
// the grid expands to 4 devices: fra/core, fra/edge, lon/core, lon/edge.
type GridConfig struct {
	// Name is the base name for generated devices.
	Name string `yaml:"name"`

	// HostTemplate is a Go template for generating hosts.
	// Dimension keys are available as template variables: {{.site}}
	HostTemplate string `yaml:"host_template"`

	// CheckURLTemplate is a Go template for generating check URLs.
	CheckURLTemplate string `yaml:"check_url_template"`

	// Dimensions maps dimension names to their possible values.
	// The cartesian product of all dimensions generates the devices.
	Dimensions map[string][]string `yaml:"dimensions"`

	Type        string `yaml:"type"`
	Port        int    `yaml:"port"`
	Description string `yaml:"description"`
	Active      *bool  `yaml:"active"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded after parsing, field by
// field. Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data, applies defaults and validates the
// result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.CheckInterval == 0 {
		c.CheckInterval = Duration(defaultCheckInterval)
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = Duration(defaultProbeTimeout)
	}
	if c.WarningThreshold == 0 {
		c.WarningThreshold = Duration(defaultWarningThreshold)
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = defaultMaxConcurrency
	}
	if c.AlertRetention == 0 {
		c.AlertRetention = Duration(defaultAlertRetention)
	}
	if c.SMTP.Host != "" && c.SMTP.Port == 0 {
		c.SMTP.Port = defaultSMTPPort
	}
}

// Location returns the time zone for daily jobs.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.CheckInterval.Duration() < minCheckInterval {
		return fmt.Errorf("check_interval must be at least %s, got %s", minCheckInterval, c.CheckInterval.Duration())
	}
	if d := c.ProbeTimeout.Duration(); d <= 0 || d > maxProbeTimeout {
		return fmt.Errorf("probe_timeout must be between 0 and %s, got %s", maxProbeTimeout, d)
	}
	if c.WarningThreshold.Duration() <= 0 {
		return fmt.Errorf("warning_threshold must be positive, got %s", c.WarningThreshold.Duration())
	}
	if c.MaxConcurrency < 1 || c.MaxConcurrency > maxMaxConcurrency {
		return fmt.Errorf("max_concurrency must be between 1 and %d, got %d", maxMaxConcurrency, c.MaxConcurrency)
	}
	if c.AlertRetention.Duration() < time.Hour {
		return fmt.Errorf("alert_retention must be at least 1h, got %s", c.AlertRetention.Duration())
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	if err := c.expandSecrets(); err != nil {
		return err
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if err := c.SMTP.validate(); err != nil {
		return err
	}

	for i := range c.Devices {
		if err := c.Devices[i].expandAndValidate(fmt.Sprintf("devices[%d]", i)); err != nil {
			return err
		}
	}
	for i := range c.Grids {
		if err := c.Grids[i].expandAndValidate(fmt.Sprintf("grids[%d]", i)); err != nil {
			return err
		}
	}

	// a database may already hold the devices
	if len(c.Devices) == 0 && len(c.Grids) == 0 && c.Database.DSN == "" {
		return errors.New("at least one device or grid must be defined")
	}

	return nil
}

func (c *Config) expandSecrets() error {
	fields := []struct {
		name string
		ptr  *string
	}{
		{"database.dsn", &c.Database.DSN},
		{"redis.addr", &c.Redis.Addr},
		{"auth.jwt_secret", &c.Auth.JWTSecret},
		{"smtp.host", &c.SMTP.Host},
		{"smtp.username", &c.SMTP.Username},
		{"smtp.password", &c.SMTP.Password},
	}
	for _, f := range fields {
		expanded, err := expandEnvVars(*f.ptr)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.ptr = expanded
	}
	return nil
}

func (s SMTPConfig) validate() error {
	if !s.Enabled() {
		return nil
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("smtp.port must be between 1 and 65535, got %d", s.Port)
	}
	if !strings.Contains(s.From, "@") {
		return fmt.Errorf("smtp.from must be an email address, got %q", s.From)
	}
	if len(s.To) == 0 {
		return errors.New("smtp.to requires at least one recipient")
	}
	for i, addr := range s.To {
		if !strings.Contains(addr, "@") {
			return fmt.Errorf("smtp.to[%d] must be an email address, got %q", i, addr)
		}
	}
	return nil
}

func (d *DeviceConfig) expandAndValidate(path string) error {
	if d.Name == "" {
		return fmt.Errorf("%s: name is required", path)
	}
	ctx := fmt.Sprintf("%s (%s)", path, d.Name)

	host, err := expandEnvVars(d.Host)
	if err != nil {
		return fmt.Errorf("%s: host: %w", ctx, err)
	}
	d.Host = host

	checkURL, err := expandEnvVars(d.CheckURL)
	if err != nil {
		return fmt.Errorf("%s: check_url: %w", ctx, err)
	}
	d.CheckURL = checkURL

	if d.Host == "" && d.CheckURL == "" {
		return fmt.Errorf("%s: host or check_url is required", ctx)
	}
	if d.CheckURL != "" {
		if err := validateCheckURL(d.CheckURL); err != nil {
			return fmt.Errorf("%s: %w", ctx, err)
		}
	}
	return validateCommon(ctx, d.Type, d.Port)
}

func (g *GridConfig) expandAndValidate(path string) error {
	if g.Name == "" {
		return fmt.Errorf("%s: name is required", path)
	}
	ctx := fmt.Sprintf("%s (%s)", path, g.Name)

	if g.HostTemplate == "" && g.CheckURLTemplate == "" {
		return fmt.Errorf("%s: host_template or check_url_template is required", ctx)
	}

	templates := []struct {
		name string
		ptr  *string
	}{
		{"host_template", &g.HostTemplate},
		{"check_url_template", &g.CheckURLTemplate},
	}
	for _, t := range templates {
		if *t.ptr == "" {
			continue
		}
		expanded, err := expandEnvVars(*t.ptr)
		if err != nil {
			return fmt.Errorf("%s: %s: %w", ctx, t.name, err)
		}
		*t.ptr = expanded

		// fail fast before the builder tries to use an invalid template
		if _, err := template.New("").Parse(expanded); err != nil {
			return fmt.Errorf("%s: invalid %s: %w", ctx, t.name, err)
		}
	}

	if len(g.Dimensions) == 0 {
		return fmt.Errorf("%s: at least one dimension is required", ctx)
	}
	for dimName, dimValues := range g.Dimensions {
		if len(dimValues) == 0 {
			return fmt.Errorf("%s: dimension %q has no values", ctx, dimName)
		}
		seen := make(map[string]struct{}, len(dimValues))
		for _, v := range dimValues {
			if _, exists := seen[v]; exists {
				return fmt.Errorf("%s: dimension %q has duplicate value %q", ctx, dimName, v)
			}
			seen[v] = struct{}{}
		}
	}

	return validateCommon(ctx, g.Type, g.Port)
}

func validateCommon(ctx, deviceType string, port int) error {
	if deviceType != "" && !model.DeviceType(deviceType).Valid() {
		return fmt.Errorf("%s: type must be one of server, database, switch, router, pc, other, got %q", ctx, deviceType)
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s: port must be between 0 and 65535, got %d", ctx, port)
	}
	return nil
}

func validateCheckURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid check_url: %w", err)
	}
	if parsed.Scheme == "" {
		return errors.New("check_url must have a scheme (http:// or https://)")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("check_url scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("check_url must have a host")
	}
	return nil
}
