package config

import (
	"reflect"
	"strings"
	"testing"

	"github.com/jpalmerr/pulsewatch/model"
)

func TestBuildDevices_SingleDevice(t *testing.T) {
	cfg := &Config{
		Devices: []DeviceConfig{
			{Name: "gateway", Host: "10.0.0.1"},
		},
	}

	devices, err := BuildDevices(cfg)
	if err != nil {
		t.Fatalf("BuildDevices() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("len(devices) = %d, want 1", len(devices))
	}

	d := devices[0]
	if d.Name != "gateway" {
		t.Errorf("Name = %q, want %q", d.Name, "gateway")
	}
	if d.Host != "10.0.0.1" {
		t.Errorf("Host = %q, want %q", d.Host, "10.0.0.1")
	}
	if d.Type != model.TypeOther {
		t.Errorf("Type = %q, want %q", d.Type, model.TypeOther)
	}
	if d.Status != model.StatusUnknown {
		t.Errorf("Status = %q, want %q", d.Status, model.StatusUnknown)
	}
	if !d.IsActive {
		t.Error("IsActive = false, want true")
	}
}

func TestBuildDevices_DeviceWithAllOptions(t *testing.T) {
	inactive := false
	cfg := &Config{
		Devices: []DeviceConfig{
			{
				Name:        "api",
				Host:        "api.internal",
				Type:        "server",
				CheckURL:    "https://api.internal/health",
				Port:        8443,
				Description: "public API",
				Active:      &inactive,
			},
		},
	}

	devices, err := BuildDevices(cfg)
	if err != nil {
		t.Fatalf("BuildDevices() error = %v", err)
	}

	want := model.Device{
		Name:        "api",
		Host:        "api.internal",
		Type:        model.TypeServer,
		Status:      model.StatusUnknown,
		CheckURL:    "https://api.internal/health",
		Port:        8443,
		Description: "public API",
		IsActive:    false,
	}
	if !reflect.DeepEqual(devices[0], want) {
		t.Errorf("device = %+v, want %+v", devices[0], want)
	}
}

func TestBuildDevices_GridExpansion(t *testing.T) {
	cfg := &Config{
		Grids: []GridConfig{
			{
				Name:         "edge",
				HostTemplate: "edge-{{.site}}-{{.role}}.internal",
				Type:         "router",
				Dimensions: map[string][]string{
					"site": {"lon", "fra"},
					"role": {"a", "b"},
				},
			},
		},
	}

	devices, err := BuildDevices(cfg)
	if err != nil {
		t.Fatalf("BuildDevices() error = %v", err)
	}
	if len(devices) != 4 {
		t.Fatalf("len(devices) = %d, want 4", len(devices))
	}

	// keys sort role before site, so role varies slowest
	wantNames := []string{"edge-a-lon", "edge-a-fra", "edge-b-lon", "edge-b-fra"}
	wantHosts := []string{
		"edge-lon-a.internal", "edge-fra-a.internal",
		"edge-lon-b.internal", "edge-fra-b.internal",
	}
	for i, d := range devices {
		if d.Name != wantNames[i] {
			t.Errorf("devices[%d].Name = %q, want %q", i, d.Name, wantNames[i])
		}
		if d.Host != wantHosts[i] {
			t.Errorf("devices[%d].Host = %q, want %q", i, d.Host, wantHosts[i])
		}
		if d.Type != model.TypeRouter {
			t.Errorf("devices[%d].Type = %q, want %q", i, d.Type, model.TypeRouter)
		}
	}
}

func TestBuildDevices_GridCheckURLTemplate(t *testing.T) {
	cfg := &Config{
		Grids: []GridConfig{
			{
				Name:             "api",
				CheckURLTemplate: "https://{{.env}}.example.com/health",
				Dimensions:       map[string][]string{"env": {"prod"}},
			},
		},
	}

	devices, err := BuildDevices(cfg)
	if err != nil {
		t.Fatalf("BuildDevices() error = %v", err)
	}
	if devices[0].CheckURL != "https://prod.example.com/health" {
		t.Errorf("CheckURL = %q, want %q", devices[0].CheckURL, "https://prod.example.com/health")
	}
	if devices[0].Host != "" {
		t.Errorf("Host = %q, want empty", devices[0].Host)
	}
}

func TestBuildDevices_Combined(t *testing.T) {
	cfg := &Config{
		Devices: []DeviceConfig{{Name: "gw", Host: "10.0.0.1"}},
		Grids: []GridConfig{
			{
				Name:         "sw",
				HostTemplate: "sw-{{.n}}",
				Dimensions:   map[string][]string{"n": {"1", "2"}},
			},
		},
	}

	devices, err := BuildDevices(cfg)
	if err != nil {
		t.Fatalf("BuildDevices() error = %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("len(devices) = %d, want 3", len(devices))
	}
	if devices[0].Name != "gw" {
		t.Errorf("devices[0].Name = %q, want direct devices first", devices[0].Name)
	}
}

func TestBuildDevices_Errors(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *Config
		wantErrLike string
	}{
		{
			name: "missing template key",
			cfg: &Config{Grids: []GridConfig{{
				Name:         "edge",
				HostTemplate: "edge-{{.missing}}",
				Dimensions:   map[string][]string{"site": {"lon"}},
			}}},
			wantErrLike: "host template execution failed",
		},
		{
			name: "rendered url invalid",
			cfg: &Config{Grids: []GridConfig{{
				Name:             "edge",
				CheckURLTemplate: "{{.site}}/health",
				Dimensions:       map[string][]string{"site": {"lon"}},
			}}},
			wantErrLike: "check_url must have a scheme",
		},
		{
			name: "duplicate name across device and grid",
			cfg: &Config{
				Devices: []DeviceConfig{{Name: "sw-1", Host: "10.0.0.1"}},
				Grids: []GridConfig{{
					Name:         "sw",
					HostTemplate: "sw-{{.n}}",
					Dimensions:   map[string][]string{"n": {"1"}},
				}},
			},
			wantErrLike: `duplicate device name "sw-1"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildDevices(tt.cfg)
			if err == nil {
				t.Fatal("BuildDevices() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErrLike) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErrLike)
			}
		})
	}
}

func TestCartesianProduct(t *testing.T) {
	tests := []struct {
		name       string
		dimensions map[string][]string
		want       []map[string]string
	}{
		{
			name:       "empty",
			dimensions: nil,
			want:       nil,
		},
		{
			name:       "single dimension",
			dimensions: map[string][]string{"env": {"prod", "staging"}},
			want: []map[string]string{
				{"env": "prod"},
				{"env": "staging"},
			},
		},
		{
			name: "two dimensions",
			dimensions: map[string][]string{
				"env":    {"prod", "staging"},
				"region": {"us"},
			},
			want: []map[string]string{
				{"env": "prod", "region": "us"},
				{"env": "staging", "region": "us"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cartesianProduct(tt.dimensions)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("cartesianProduct() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildGridName(t *testing.T) {
	got := buildGridName("edge", map[string]string{"site": "lon", "role": "core"})
	if got != "edge-core-lon" {
		t.Errorf("buildGridName() = %q, want %q", got, "edge-core-lon")
	}
}
