package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalAuth = `
auth:
  jwt_secret: s3cret
`

func TestParse_MinimalConfig(t *testing.T) {
	yaml := minimalAuth + `
devices:
  - name: gateway
    host: 10.0.0.1
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// check defaults applied
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.CheckInterval.Duration() != 30*time.Second {
		t.Errorf("CheckInterval = %v, want 30s", cfg.CheckInterval.Duration())
	}
	if cfg.ProbeTimeout.Duration() != 5*time.Second {
		t.Errorf("ProbeTimeout = %v, want 5s", cfg.ProbeTimeout.Duration())
	}
	if cfg.WarningThreshold.Duration() != time.Second {
		t.Errorf("WarningThreshold = %v, want 1s", cfg.WarningThreshold.Duration())
	}
	if cfg.MaxConcurrency != 1 {
		t.Errorf("MaxConcurrency = %d, want 1", cfg.MaxConcurrency)
	}
	if cfg.AlertRetention.Duration() != 720*time.Hour {
		t.Errorf("AlertRetention = %v, want 720h", cfg.AlertRetention.Duration())
	}
	if cfg.SMTP.Enabled() {
		t.Error("SMTP.Enabled() = true, want false")
	}
	if len(cfg.Devices) != 1 {
		t.Errorf("len(Devices) = %d, want 1", len(cfg.Devices))
	}
}

func TestParse_FullConfig(t *testing.T) {
	yaml := `
title: NOC
port: 9090
check_interval: 10s
probe_timeout: 2s
warning_threshold: 500ms
max_concurrency: 8
alert_retention: 168h
timezone: UTC
allowed_origins: [https://noc.example.com]

database:
  dsn: postgres://pw@db/pulsewatch?sslmode=disable
redis:
  addr: redis:6379
auth:
  jwt_secret: s3cret
smtp:
  host: mail.example.com
  username: alerts
  password: hunter2
  from: alerts@example.com
  to: [ops@example.com, oncall@example.com]

devices:
  - name: api
    host: api.internal
    type: server
    check_url: https://api.internal/health
    port: 8443
    description: public API
    active: false
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Title != "NOC" {
		t.Errorf("Title = %q, want %q", cfg.Title, "NOC")
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.CheckInterval.Duration() != 10*time.Second {
		t.Errorf("CheckInterval = %v, want 10s", cfg.CheckInterval.Duration())
	}
	if cfg.ProbeTimeout.Duration() != 2*time.Second {
		t.Errorf("ProbeTimeout = %v, want 2s", cfg.ProbeTimeout.Duration())
	}
	if cfg.WarningThreshold.Duration() != 500*time.Millisecond {
		t.Errorf("WarningThreshold = %v, want 500ms", cfg.WarningThreshold.Duration())
	}
	if cfg.MaxConcurrency != 8 {
		t.Errorf("MaxConcurrency = %d, want 8", cfg.MaxConcurrency)
	}
	if cfg.AlertRetention.Duration() != 168*time.Hour {
		t.Errorf("AlertRetention = %v, want 168h", cfg.AlertRetention.Duration())
	}
	loc, err := cfg.Location()
	if err != nil || loc != time.UTC {
		t.Errorf("Location() = %v, %v, want UTC", loc, err)
	}
	if len(cfg.AllowedOrigins) != 1 {
		t.Errorf("len(AllowedOrigins) = %d, want 1", len(cfg.AllowedOrigins))
	}
	if cfg.Database.DSN == "" {
		t.Error("Database.DSN is empty")
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("Redis.Addr = %q, want %q", cfg.Redis.Addr, "redis:6379")
	}
	if !cfg.SMTP.Enabled() {
		t.Error("SMTP.Enabled() = false, want true")
	}
	if cfg.SMTP.Port != 25 {
		t.Errorf("SMTP.Port = %d, want default 25", cfg.SMTP.Port)
	}
	if len(cfg.SMTP.To) != 2 {
		t.Errorf("len(SMTP.To) = %d, want 2", len(cfg.SMTP.To))
	}

	d := cfg.Devices[0]
	if d.Type != "server" {
		t.Errorf("Type = %q, want %q", d.Type, "server")
	}
	if d.CheckURL != "https://api.internal/health" {
		t.Errorf("CheckURL = %q, want %q", d.CheckURL, "https://api.internal/health")
	}
	if d.Port != 8443 {
		t.Errorf("Port = %d, want 8443", d.Port)
	}
	if d.Active == nil || *d.Active {
		t.Errorf("Active = %v, want false", d.Active)
	}
}

func TestParse_GridConfig(t *testing.T) {
	yaml := minimalAuth + `
grids:
  - name: edge
    host_template: "edge-{{.site}}-{{.role}}.internal"
    type: router
    dimensions:
      site: [lon, fra]
      role: [a, b]
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(cfg.Grids) != 1 {
		t.Fatalf("len(Grids) = %d, want 1", len(cfg.Grids))
	}
	g := cfg.Grids[0]
	if g.HostTemplate != "edge-{{.site}}-{{.role}}.internal" {
		t.Errorf("HostTemplate = %q", g.HostTemplate)
	}
	if len(g.Dimensions) != 2 {
		t.Errorf("len(Dimensions) = %d, want 2", len(g.Dimensions))
	}
}

func TestParse_DatabaseAllowsNoDevices(t *testing.T) {
	yaml := minimalAuth + `
database:
  dsn: postgres://localhost/pulsewatch
`
	if _, err := Parse([]byte(yaml)); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
}

func TestParse_EnvVarSubstitution(t *testing.T) {
	// t.Setenv auto-restores after test (Go 1.17+)
	t.Setenv("TEST_JWT_SECRET", "from-env")
	t.Setenv("TEST_API_HOST", "api.test.com")
	t.Setenv("TEST_DB_PASSWORD", "pw")

	yaml := `
auth:
  jwt_secret: ${TEST_JWT_SECRET}
database:
  dsn: postgres://app:${TEST_DB_PASSWORD}@db/app
devices:
  - name: api
    host: ${TEST_API_HOST}
    check_url: https://${TEST_API_HOST}/health
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "from-env")
	}
	if cfg.Database.DSN != "postgres://app:pw@db/app" {
		t.Errorf("DSN = %q, want %q", cfg.Database.DSN, "postgres://app:pw@db/app")
	}
	if cfg.Devices[0].Host != "api.test.com" {
		t.Errorf("Host = %q, want %q", cfg.Devices[0].Host, "api.test.com")
	}
	if cfg.Devices[0].CheckURL != "https://api.test.com/health" {
		t.Errorf("CheckURL = %q, want %q", cfg.Devices[0].CheckURL, "https://api.test.com/health")
	}
}

func TestParse_EnvVarDefault(t *testing.T) {
	yaml := `
auth:
  jwt_secret: ${PULSEWATCH_TEST_UNSET_SECRET:-fallback}
devices:
  - name: gw
    host: ${PULSEWATCH_TEST_UNSET_HOST:-10.0.0.1}
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "fallback" {
		t.Errorf("JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "fallback")
	}
	if cfg.Devices[0].Host != "10.0.0.1" {
		t.Errorf("Host = %q, want %q", cfg.Devices[0].Host, "10.0.0.1")
	}
}

func TestParse_EnvVarMissing(t *testing.T) {
	yaml := `
auth:
  jwt_secret: ${PULSEWATCH_TEST_DEFINITELY_UNSET}
devices:
  - name: gw
    host: 10.0.0.1
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("Parse() expected error for missing env var")
	}
	if !strings.Contains(err.Error(), "auth.jwt_secret") || !strings.Contains(err.Error(), "PULSEWATCH_TEST_DEFINITELY_UNSET") {
		t.Errorf("error = %q, want field and variable name", err.Error())
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name        string
		yaml        string
		wantErrLike string
	}{
		{
			name:        "no devices",
			yaml:        minimalAuth,
			wantErrLike: "at least one device or grid",
		},
		{
			name: "missing jwt secret",
			yaml: `
devices:
  - name: gw
    host: 10.0.0.1
`,
			wantErrLike: "auth.jwt_secret is required",
		},
		{
			name: "interval too short",
			yaml: minimalAuth + `
check_interval: 500ms
devices:
  - name: gw
    host: 10.0.0.1
`,
			wantErrLike: "check_interval must be at least",
		},
		{
			name: "probe timeout too long",
			yaml: minimalAuth + `
probe_timeout: 2m
devices:
  - name: gw
    host: 10.0.0.1
`,
			wantErrLike: "probe_timeout must be between",
		},
		{
			name: "concurrency too high",
			yaml: minimalAuth + `
max_concurrency: 1000
devices:
  - name: gw
    host: 10.0.0.1
`,
			wantErrLike: "max_concurrency must be between",
		},
		{
			name: "retention too short",
			yaml: minimalAuth + `
alert_retention: 5m
devices:
  - name: gw
    host: 10.0.0.1
`,
			wantErrLike: "alert_retention must be at least",
		},
		{
			name: "bad port",
			yaml: minimalAuth + `
port: 70000
devices:
  - name: gw
    host: 10.0.0.1
`,
			wantErrLike: "port must be between 1 and 65535",
		},
		{
			name: "unknown timezone",
			yaml: minimalAuth + `
timezone: Mars/Olympus
devices:
  - name: gw
    host: 10.0.0.1
`,
			wantErrLike: "invalid timezone",
		},
		{
			name: "device missing name",
			yaml: minimalAuth + `
devices:
  - host: 10.0.0.1
`,
			wantErrLike: "devices[0]: name is required",
		},
		{
			name: "device missing host and url",
			yaml: minimalAuth + `
devices:
  - name: gw
`,
			wantErrLike: "devices[0] (gw): host or check_url is required",
		},
		{
			name: "device bad type",
			yaml: minimalAuth + `
devices:
  - name: gw
    host: 10.0.0.1
    type: toaster
`,
			wantErrLike: "type must be one of",
		},
		{
			name: "device bad check url scheme",
			yaml: minimalAuth + `
devices:
  - name: gw
    check_url: ftp://10.0.0.1
`,
			wantErrLike: "scheme must be http or https",
		},
		{
			name: "device port out of range",
			yaml: minimalAuth + `
devices:
  - name: gw
    host: 10.0.0.1
    port: -1
`,
			wantErrLike: "port must be between 0 and 65535",
		},
		{
			name: "grid missing templates",
			yaml: minimalAuth + `
grids:
  - name: edge
    dimensions:
      site: [lon]
`,
			wantErrLike: "host_template or check_url_template is required",
		},
		{
			name: "grid without dimensions",
			yaml: minimalAuth + `
grids:
  - name: edge
    host_template: "edge.internal"
`,
			wantErrLike: "at least one dimension is required",
		},
		{
			name: "grid dimension empty",
			yaml: minimalAuth + `
grids:
  - name: edge
    host_template: "edge-{{.site}}"
    dimensions:
      site: []
`,
			wantErrLike: "has no values",
		},
		{
			name: "grid duplicate dimension value",
			yaml: minimalAuth + `
grids:
  - name: edge
    host_template: "edge-{{.site}}"
    dimensions:
      site: [lon, lon]
`,
			wantErrLike: `dimension "site" has duplicate value "lon"`,
		},
		{
			name: "grid unparseable template",
			yaml: minimalAuth + `
grids:
  - name: edge
    host_template: "edge-{{.site"
    dimensions:
      site: [lon]
`,
			wantErrLike: "invalid host_template",
		},
		{
			name: "smtp without recipients",
			yaml: minimalAuth + `
smtp:
  host: mail.example.com
  from: alerts@example.com
devices:
  - name: gw
    host: 10.0.0.1
`,
			wantErrLike: "smtp.to requires at least one recipient",
		},
		{
			name: "smtp bad sender",
			yaml: minimalAuth + `
smtp:
  host: mail.example.com
  from: alerts
  to: [ops@example.com]
devices:
  - name: gw
    host: 10.0.0.1
`,
			wantErrLike: "smtp.from must be an email address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErrLike) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErrLike)
			}
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("devices: [unclosed"))
	if err == nil {
		t.Fatal("Parse() expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "failed to parse YAML") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "failed to parse YAML")
	}
}

func TestParse_InvalidDuration(t *testing.T) {
	yaml := minimalAuth + `
check_interval: soon
devices:
  - name: gw
    host: 10.0.0.1
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("Parse() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "invalid duration")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulsewatch.yaml")
	content := minimalAuth + `
devices:
  - name: gw
    host: 10.0.0.1
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Devices[0].Name != "gw" {
		t.Errorf("Devices[0].Name = %q, want %q", cfg.Devices[0].Name, "gw")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "failed to read config file")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("PW_SET", "value")
	t.Setenv("PW_EMPTY", "")

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "no vars", input: "plain", want: "plain"},
		{name: "set var", input: "a-${PW_SET}-b", want: "a-value-b"},
		{name: "empty but set", input: "${PW_EMPTY:-default}", want: ""},
		{name: "default used", input: "${PW_UNSET_X:-fallback}", want: "fallback"},
		{name: "empty default", input: "${PW_UNSET_X:-}", want: ""},
		{name: "missing", input: "${PW_UNSET_X}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandEnvVars(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expandEnvVars() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("expandEnvVars() = %q, want %q", got, tt.want)
			}
		})
	}
}
