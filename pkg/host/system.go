package host

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/networktap/networktap/internal/logger"
)

// ErrUnknownScript is returned for script names outside the shipped set.
var ErrUnknownScript = errors.New("unknown helper script")

// System is the production Adapter backed by systemctl, ip(8), and the
// helper scripts installed under ScriptDir.
type System struct {
	// ScriptDir is where the appliance installer places helper scripts.
	ScriptDir string

	// Systemctl and IP allow overriding binary paths in tests.
	Systemctl string
	IP        string
}

// NewSystem returns a System adapter with standard binary paths.
func NewSystem(scriptDir string) *System {
	return &System{
		ScriptDir: scriptDir,
		Systemctl: "systemctl",
		IP:        "ip",
	}
}

var knownScripts = map[string]bool{
	ScriptSwitchMode:        true,
	ScriptConfigureFirewall: true,
	ScriptStartCapture:      true,
	ScriptStorageCleanup:    true,
	ScriptUpdateCheck:       true,
	ScriptUpdateStatus:      true,
	ScriptWifiStatus:        true,
}

// run executes one command under a deadline and captures its output.
// The error return is reserved for spawn failures; nonzero exits and
// timeouts are reported through the Result.
func run(ctx context.Context, timeout time.Duration, prog string, args ...string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, prog, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		if res.TimedOut {
			res.ExitCode = -1
			return res, nil
		}
		return res, fmt.Errorf("exec %s: %w", prog, err)
	}

	return res, nil
}

// ServiceStatus samples one unit via `systemctl show`.
func (s *System) ServiceStatus(ctx context.Context, name string) (ServiceStatus, error) {
	res, err := run(ctx, StatusTimeout, s.Systemctl, "show", name,
		"--property=ActiveState,ActiveEnterTimestamp", "--no-pager")
	if err != nil {
		return ServiceStatus{Name: name, State: StateUnknown}, err
	}
	if res.TimedOut {
		return ServiceStatus{Name: name, State: StateUnknown},
			fmt.Errorf("systemctl show %s: timed out after %s", name, StatusTimeout)
	}
	return parseServiceShow(name, res.Stdout), nil
}

// parseServiceShow extracts ActiveState and ActiveEnterTimestamp from
// `systemctl show` property output.
func parseServiceShow(name, out string) ServiceStatus {
	st := ServiceStatus{Name: name, State: StateUnknown}
	for _, ln := range strings.Split(out, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(ln), "=")
		if !ok {
			continue
		}
		switch k {
		case "ActiveState":
			switch v {
			case "active", "activating":
				st.State = StateActive
			case "inactive", "deactivating":
				st.State = StateInactive
			case "failed":
				st.State = StateFailed
			}
		case "ActiveEnterTimestamp":
			// systemd renders e.g. "Mon 2026-01-05 10:04:01 UTC"
			if v != "" && v != "n/a" {
				if t, err := time.Parse("Mon 2006-01-02 15:04:05 MST", v); err == nil {
					st.Since = t
				}
			}
		}
	}
	return st
}

// ServiceAction forwards a verb to systemctl.
func (s *System) ServiceAction(ctx context.Context, name string, action ServiceAction) (Result, error) {
	if !action.Valid() {
		return Result{}, fmt.Errorf("invalid service action %q", action)
	}

	res, err := run(ctx, ActionTimeout, s.Systemctl, string(action), name)
	if err != nil {
		return res, err
	}

	if !res.OK() {
		logger.Warn("service action failed",
			"service", name, "action", string(action),
			"exit_code", res.ExitCode, "stderr", strings.TrimSpace(res.Stderr))
	} else {
		logger.Debug("service action", "service", name, "action", string(action))
	}
	return res, nil
}

// ListInterfaces parses `ip -j -s addr show`.
func (s *System) ListInterfaces(ctx context.Context) ([]Interface, error) {
	res, err := run(ctx, StatusTimeout, s.IP, "-j", "-s", "addr", "show")
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, fmt.Errorf("ip addr show: exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return ParseInterfaces([]byte(res.Stdout))
}

// ipLink is the subset of iproute2 JSON the daemon surfaces.
type ipLink struct {
	Ifname    string `json:"ifname"`
	Operstate string `json:"operstate"`
	Address   string `json:"address"`
	MTU       int    `json:"mtu"`
	Master    string `json:"master"`
	AddrInfo  []struct {
		Family string `json:"family"`
		Local  string `json:"local"`
		Prefix int    `json:"prefixlen"`
	} `json:"addr_info"`
	Stats64 struct {
		RX struct {
			Bytes uint64 `json:"bytes"`
		} `json:"rx"`
		TX struct {
			Bytes uint64 `json:"bytes"`
		} `json:"tx"`
	} `json:"stats64"`
}

// ParseInterfaces decodes the kernel-provided interface JSON.
func ParseInterfaces(data []byte) ([]Interface, error) {
	var links []ipLink
	if err := json.Unmarshal(data, &links); err != nil {
		return nil, fmt.Errorf("parse interface JSON: %w", err)
	}

	ifaces := make([]Interface, 0, len(links))
	for _, l := range links {
		iface := Interface{
			Name:    l.Ifname,
			State:   strings.ToLower(l.Operstate),
			MAC:     l.Address,
			MTU:     l.MTU,
			Master:  l.Master,
			RxBytes: l.Stats64.RX.Bytes,
			TxBytes: l.Stats64.TX.Bytes,
		}
		for _, a := range l.AddrInfo {
			if a.Family == "inet" {
				iface.IPv4 = append(iface.IPv4, fmt.Sprintf("%s/%d", a.Local, a.Prefix))
			}
		}
		ifaces = append(ifaces, iface)
	}
	return ifaces, nil
}

// RunScript executes one of the shipped helper scripts.
func (s *System) RunScript(ctx context.Context, script string, args []string, timeout time.Duration) (Result, error) {
	if !knownScripts[script] {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownScript, script)
	}
	if timeout <= 0 {
		timeout = ScriptTimeout
	}

	path := filepath.Join(s.ScriptDir, script+".sh")
	logger.Debug("running helper script", "path", path, "args", strings.Join(args, " "))

	res, err := run(ctx, timeout, path, args...)
	if err != nil {
		return res, err
	}
	if res.TimedOut {
		logger.Warn("helper script timed out", "path", path, "timeout", timeout.String())
	} else if !res.OK() {
		logger.Warn("helper script failed",
			"path", path, "exit_code", res.ExitCode, "stderr", strings.TrimSpace(res.Stderr))
	}
	return res, nil
}

// Reboot issues `systemctl reboot` detached from the calling request so
// the API response can flush before the host goes down.
func (s *System) Reboot(ctx context.Context) error {
	logger.Warn("host reboot requested")

	// Deliberately not CommandContext: the reboot must survive the
	// HTTP request context being cancelled.
	cmd := exec.Command(s.Systemctl, "reboot")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start reboot: %w", err)
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}
