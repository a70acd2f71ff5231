package config

import (
	"bytes"
	"fmt"
	"sort"
	"text/template"

	"github.com/jpalmerr/pulsewatch/model"
)

// BuildDevices converts parsed configuration into device seeds.
//
// It processes both direct devices and grids, returning a combined slice.
// Grid dimensions are expanded via cartesian product. Names must be unique
// across the result because the store upserts seeds by name.
func BuildDevices(cfg *Config) ([]model.Device, error) {
	var devices []model.Device

	for _, dc := range cfg.Devices {
		devices = append(devices, buildDevice(dc))
	}

	for _, gc := range cfg.Grids {
		gridDevices, err := buildGridDevices(gc)
		if err != nil {
			return nil, err
		}
		devices = append(devices, gridDevices...)
	}

	seen := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("duplicate device name %q", d.Name)
		}
		seen[d.Name] = struct{}{}
	}

	return devices, nil
}

// buildDevice converts a single DeviceConfig to a device seed.
func buildDevice(dc DeviceConfig) model.Device {
	deviceType := model.DeviceType(dc.Type)
	if deviceType == "" {
		deviceType = model.TypeOther
	}
	active := true
	if dc.Active != nil {
		active = *dc.Active
	}
	return model.Device{
		Name:        dc.Name,
		Host:        dc.Host,
		Type:        deviceType,
		Status:      model.StatusUnknown,
		CheckURL:    dc.CheckURL,
		Port:        dc.Port,
		Description: dc.Description,
		IsActive:    active,
	}
}

// buildGridDevices expands a GridConfig into multiple devices via cartesian product.
func buildGridDevices(gc GridConfig) ([]model.Device, error) {
	// use missingkey=error to fail fast on missing template variables
	hostTmpl, err := parseTemplate("host", gc.HostTemplate)
	if err != nil {
		return nil, err
	}
	urlTmpl, err := parseTemplate("check_url", gc.CheckURLTemplate)
	if err != nil {
		return nil, err
	}

	var devices []model.Device
	for _, combo := range cartesianProduct(gc.Dimensions) {
		host, err := execute(hostTmpl, combo)
		if err != nil {
			return nil, fmt.Errorf("grid (%s) with dimensions %v: host template execution failed: %w", gc.Name, combo, err)
		}
		checkURL, err := execute(urlTmpl, combo)
		if err != nil {
			return nil, fmt.Errorf("grid (%s) with dimensions %v: check_url template execution failed: %w", gc.Name, combo, err)
		}
		if checkURL != "" {
			if err := validateCheckURL(checkURL); err != nil {
				return nil, fmt.Errorf("grid (%s) with dimensions %v: %w", gc.Name, combo, err)
			}
		}

		devices = append(devices, buildDevice(DeviceConfig{
			Name:        buildGridName(gc.Name, combo),
			Host:        host,
			Type:        gc.Type,
			CheckURL:    checkURL,
			Port:        gc.Port,
			Description: gc.Description,
			Active:      gc.Active,
		}))
	}

	return devices, nil
}

func parseTemplate(name, text string) (*template.Template, error) {
	if text == "" {
		return nil, nil
	}
	return template.New(name).Option("missingkey=error").Parse(text)
}

func execute(tmpl *template.Template, combo map[string]string) (string, error) {
	if tmpl == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, combo); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// buildGridName creates a display name for a grid device.
func buildGridName(baseName string, combo map[string]string) string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(combo))
	for k := range combo {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	name := baseName
	for _, k := range keys {
		name += "-" + combo[k]
	}
	return name
}

// cartesianProduct generates all combinations of dimension values.
func cartesianProduct(dimensions map[string][]string) []map[string]string {
	if len(dimensions) == 0 {
		return nil
	}

	// sort dimension keys for deterministic ordering
	keys := make([]string, 0, len(dimensions))
	for k := range dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// start with single empty combination
	result := []map[string]string{{}}

	for _, key := range keys {
		var next []map[string]string
		for _, combo := range result {
			for _, val := range dimensions[key] {
				c := make(map[string]string, len(combo)+1)
				for k, v := range combo {
					c[k] = v
				}
				c[key] = val
				next = append(next, c)
			}
		}
		result = next
	}

	return result
}
