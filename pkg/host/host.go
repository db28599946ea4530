// Package host is the single choke point for operations with OS
// side-effects: service manager queries and actions, network interface
// state, and the helper shell scripts shipped with the appliance.
// Nothing else in the daemon shells out.
package host

import (
	"context"
	"time"
)

// Service units managed by the daemon.
const (
	ServiceCapture  = "networktap-capture"
	ServiceSuricata = "suricata"
	ServiceZeek     = "zeek"
	ServiceWeb      = "networktap-web"
)

// Helper scripts invoked through RunScript. Paths are resolved against
// the adapter's script directory.
const (
	ScriptSwitchMode        = "switch_mode"
	ScriptConfigureFirewall = "configure_firewall"
	ScriptStartCapture      = "start_capture"
	ScriptStorageCleanup    = "storage_cleanup"
	ScriptUpdateCheck       = "update_check"
	ScriptUpdateStatus      = "update_status"
	ScriptWifiStatus        = "wifi_status"
)

// Default deadlines for outbound operations.
const (
	StatusTimeout = 5 * time.Second
	ActionTimeout = 30 * time.Second
	ScriptTimeout = 60 * time.Second
	SurveyTimeout = 90 * time.Second
)

// ServiceState mirrors the host service manager's view of a unit.
type ServiceState string

const (
	StateActive   ServiceState = "active"
	StateInactive ServiceState = "inactive"
	StateFailed   ServiceState = "failed"
	StateUnknown  ServiceState = "unknown"
)

// ServiceStatus is a point-in-time sample of one unit. It is derived on
// demand and never stored.
type ServiceStatus struct {
	Name  string       `json:"name"`
	State ServiceState `json:"state"`
	Since time.Time    `json:"since,omitempty"`
}

// Running reports whether the unit is active.
func (s ServiceStatus) Running() bool {
	return s.State == StateActive
}

// ServiceAction is a verb accepted by the service manager.
type ServiceAction string

const (
	ActionStart   ServiceAction = "start"
	ActionStop    ServiceAction = "stop"
	ActionRestart ServiceAction = "restart"
	ActionReload  ServiceAction = "reload"
)

// Valid reports whether the action is one the adapter will forward.
func (a ServiceAction) Valid() bool {
	switch a {
	case ActionStart, ActionStop, ActionRestart, ActionReload:
		return true
	}
	return false
}

// Result captures the outcome of one subprocess execution.
type Result struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

// OK reports whether the command exited zero without timing out.
func (r Result) OK() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Interface is the parsed state of one network interface.
type Interface struct {
	Name    string   `json:"name"`
	State   string   `json:"state"`
	MAC     string   `json:"mac"`
	IPv4    []string `json:"ipv4"`
	MTU     int      `json:"mtu"`
	RxBytes uint64   `json:"rx_bytes"`
	TxBytes uint64   `json:"tx_bytes"`
	Master  string   `json:"master,omitempty"`
}

// Adapter is the interface the rest of the daemon programs against.
// Production code uses System; tests substitute fakes.
type Adapter interface {
	// ServiceStatus samples the state of one unit.
	ServiceStatus(ctx context.Context, name string) (ServiceStatus, error)

	// ServiceAction forwards start/stop/restart/reload to the service
	// manager and returns the command result.
	ServiceAction(ctx context.Context, name string, action ServiceAction) (Result, error)

	// ListInterfaces returns the state of all network interfaces.
	ListInterfaces(ctx context.Context) ([]Interface, error)

	// RunScript executes a named helper script with the given timeout.
	RunScript(ctx context.Context, script string, args []string, timeout time.Duration) (Result, error)

	// Reboot schedules a host reboot. It detaches before issuing so the
	// HTTP response can be written first.
	Reboot(ctx context.Context) error
}
