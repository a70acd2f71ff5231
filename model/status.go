package model

// Status represents the believed health of a device.
//
// Status is a string type holding one of four values: [StatusOnline],
// [StatusOffline], [StatusWarning] or [StatusUnknown]. Devices start as
// unknown and are moved between the other values by check cycles.
type Status string

const (
	// StatusOnline indicates the last probe succeeded within the warning threshold.
	StatusOnline Status = "online"

	// StatusOffline indicates the last probe failed.
	StatusOffline Status = "offline"

	// StatusWarning indicates the last probe succeeded but was slow.
	StatusWarning Status = "warning"

	// StatusUnknown indicates the device has not been checked yet.
	StatusUnknown Status = "unknown"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of the four known status values.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusWarning, StatusUnknown:
		return true
	}
	return false
}

// Adverse reports whether the status counts as a failed check.
func (s Status) Adverse() bool {
	return s == StatusOffline || s == StatusWarning
}

// DeviceType classifies a monitored device.
type DeviceType string

const (
	TypeServer   DeviceType = "server"
	TypeDatabase DeviceType = "database"
	TypeSwitch   DeviceType = "switch"
	TypeRouter   DeviceType = "router"
	TypePC       DeviceType = "pc"
	TypeOther    DeviceType = "other"
)

// Valid reports whether t is a known device type.
func (t DeviceType) Valid() bool {
	switch t {
	case TypeServer, TypeDatabase, TypeSwitch, TypeRouter, TypePC, TypeOther:
		return true
	}
	return false
}

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	// LevelDisaster is raised when a device becomes unreachable.
	LevelDisaster AlertLevel = "disaster"

	// LevelWarning is raised when a device responds slowly.
	LevelWarning AlertLevel = "warning"

	// LevelInformation records a recovery.
	LevelInformation AlertLevel = "information"
)

// Notifies reports whether alerts of this level are sent by email.
func (l AlertLevel) Notifies() bool {
	return l == LevelDisaster || l == LevelWarning
}
