// Package mode supervises SPAN/bridge transitions. A switch stops the
// capture stack, persists the new mode, reconfigures the network
// through the host helper script, and brings the stack back up. At most
// one transition runs at a time; a failed reconfiguration is rolled
// back, and a failed rollback latches the controller degraded until an
// operator intervenes.
package mode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/networktap/networktap/internal/logger"
	"github.com/networktap/networktap/pkg/config"
	"github.com/networktap/networktap/pkg/host"
	"github.com/networktap/networktap/pkg/metrics"
)

// State is the controller's position in the transition state machine.
type State string

const (
	StateStableSpan    State = "stable_span"
	StateStableBridge  State = "stable_bridge"
	StateStopping      State = "stopping"
	StateReconfiguring State = "reconfiguring"
	StateStarting      State = "starting"
	StateRolledBack    State = "rolled_back"
)

// Transition stage names, in execution order, as surfaced in responses.
const (
	StageStopping      = "stopping"
	StageReconfiguring = "reconfiguring"
	StageStarting      = "starting"
)

// ErrBusy rejects a switch while another transition holds the lock.
var ErrBusy = errors.New("mode transition already in flight")

// ErrDegraded rejects switches after a failed rollback. Only a daemon
// restart (after manual repair) clears it.
var ErrDegraded = errors.New("mode controller degraded, manual intervention required")

// TransitionError wraps a failed transition with the stage it died in.
type TransitionError struct {
	From  config.Mode
	To    config.Mode
	Stage string
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("mode switch %s to %s failed during %s: %v", e.From, e.To, e.Stage, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// Result reports a completed switch.
type Result struct {
	From            config.Mode `json:"from"`
	To              config.Mode `json:"to"`
	StagesCompleted []string    `json:"stages_completed"`
	NoOp            bool        `json:"no_op,omitempty"`
}

// Status is the controller's externally visible state.
type Status struct {
	Mode     config.Mode `json:"mode"`
	State    State       `json:"state"`
	Degraded bool        `json:"degraded"`
}

// Controller owns the transition lock and state machine.
type Controller struct {
	host  host.Adapter
	store *config.Store

	lock     chan struct{} // capacity 1; TryLock semantics
	state    atomic.Value  // State
	degraded atomic.Bool

	mu       sync.Mutex
	switched []func(from, to config.Mode)
}

// New creates a Controller in the stable state matching the current
// config.
func New(h host.Adapter, store *config.Store) *Controller {
	c := &Controller{host: h, store: store, lock: make(chan struct{}, 1)}
	c.state.Store(stableState(store.Get().Mode))
	return c
}

func stableState(m config.Mode) State {
	if m == config.ModeBridge {
		return StateStableBridge
	}
	return StateStableSpan
}

// Status reports the current mode, machine state, and degraded flag.
func (c *Controller) Status() Status {
	return Status{
		Mode:     c.store.Get().Mode,
		State:    c.state.Load().(State),
		Degraded: c.degraded.Load(),
	}
}

// OnSwitched registers a callback invoked after a successful switch,
// outside the transition lock.
func (c *Controller) OnSwitched(fn func(from, to config.Mode)) {
	c.mu.Lock()
	c.switched = append(c.switched, fn)
	c.mu.Unlock()
}

// Switch transitions the appliance to target. Switching to the current
// mode is a no-op success. Concurrent switches fail with ErrBusy; a
// degraded controller fails every switch with ErrDegraded.
func (c *Controller) Switch(ctx context.Context, target config.Mode) (Result, error) {
	if target != config.ModeSpan && target != config.ModeBridge {
		return Result{}, &config.InvalidConfigError{Key: config.KeyMode, Reason: fmt.Sprintf("unknown mode %q", target)}
	}
	if c.degraded.Load() {
		return Result{}, ErrDegraded
	}

	current := c.store.Get().Mode
	if current == target {
		return Result{From: current, To: target, NoOp: true}, nil
	}

	select {
	case c.lock <- struct{}{}:
	default:
		return Result{}, ErrBusy
	}
	defer func() { <-c.lock }()

	// Re-read under the lock; a racing switch may have won.
	current = c.store.Get().Mode
	if current == target {
		return Result{From: current, To: target, NoOp: true}, nil
	}

	logger.Info("mode switch starting", "from", string(current), "to", string(target))
	res := Result{From: current, To: target}

	c.state.Store(StateStopping)
	c.stopStack(ctx)
	res.StagesCompleted = append(res.StagesCompleted, StageStopping)

	c.state.Store(StateReconfiguring)
	if err := c.reconfigure(ctx, current, target); err != nil {
		metrics.ModeTransitions.WithLabelValues("rolled_back").Inc()
		return Result{}, err
	}
	res.StagesCompleted = append(res.StagesCompleted, StageReconfiguring)

	c.state.Store(StateStarting)
	c.startStack(ctx)
	res.StagesCompleted = append(res.StagesCompleted, StageStarting)

	c.state.Store(stableState(target))
	metrics.ModeTransitions.WithLabelValues("success").Inc()
	logger.Info("mode switch complete", "from", string(current), "to", string(target))

	c.mu.Lock()
	hooks := append(c.switched[:0:0], c.switched...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(current, target)
	}
	return res, nil
}

// stopStack stops capture, Suricata, then Zeek. Stop failures are
// logged and tolerated; the service manager kills units that ignore the
// deadline.
func (c *Controller) stopStack(ctx context.Context) {
	for _, svc := range []string{host.ServiceCapture, host.ServiceSuricata, host.ServiceZeek} {
		actx, cancel := context.WithTimeout(ctx, host.ActionTimeout)
		if _, err := c.host.ServiceAction(actx, svc, host.ActionStop); err != nil {
			logger.Warn("stop failed during mode switch", "service", svc, "error", err)
		}
		cancel()
	}
}

// reconfigure persists the target mode and runs the network helper. On
// script failure it reverts the config and re-runs the helper for the
// old mode; if that rollback fails too, the controller latches degraded.
func (c *Controller) reconfigure(ctx context.Context, from, to config.Mode) error {
	if _, err := c.store.Update(map[string]string{config.KeyMode: string(to)}); err != nil {
		c.state.Store(stableState(from))
		return &TransitionError{From: from, To: to, Stage: StageReconfiguring, Err: err}
	}

	res, err := c.host.RunScript(ctx, host.ScriptSwitchMode, []string{string(to)}, host.ScriptTimeout)
	if err == nil && res.OK() {
		return nil
	}
	if err == nil {
		err = fmt.Errorf("switch_mode exit %d: %s", res.ExitCode, res.Stderr)
	}
	logger.Error("switch_mode failed, rolling back",
		"from", string(from), "to", string(to), "error", err)

	c.rollback(ctx, from, to)
	return &TransitionError{From: from, To: to, Stage: StageReconfiguring, Err: err}
}

func (c *Controller) rollback(ctx context.Context, from, to config.Mode) {
	c.state.Store(StateRolledBack)

	if _, err := c.store.Update(map[string]string{config.KeyMode: string(from)}); err != nil {
		c.markDegraded("config revert failed", err)
		return
	}
	res, err := c.host.RunScript(ctx, host.ScriptSwitchMode, []string{string(from)}, host.ScriptTimeout)
	if err != nil || !res.OK() {
		if err == nil {
			err = fmt.Errorf("exit %d: %s", res.ExitCode, res.Stderr)
		}
		c.markDegraded("rollback switch_mode failed", err)
		return
	}

	// Best effort: bring the stack back up under the old mode.
	c.startStack(ctx)
	c.state.Store(stableState(from))
	logger.Warn("mode switch rolled back", "mode", string(from))
}

func (c *Controller) markDegraded(msg string, err error) {
	c.degraded.Store(true)
	metrics.ModeTransitions.WithLabelValues("degraded").Inc()
	logger.Error("mode controller degraded: "+msg, "error", err)
}

// startStack starts capture and the enabled IDS engines. Start failures
// are logged; the resulting service states are visible via the system
// status endpoint.
func (c *Controller) startStack(ctx context.Context) {
	snap := c.store.Get()

	services := []string{host.ServiceCapture}
	if snap.SuricataEnabled {
		services = append(services, host.ServiceSuricata)
	}
	if snap.ZeekEnabled {
		services = append(services, host.ServiceZeek)
	}

	for _, svc := range services {
		actx, cancel := context.WithTimeout(ctx, host.ActionTimeout)
		if _, err := c.host.ServiceAction(actx, svc, host.ActionStart); err != nil {
			logger.Warn("start failed after mode switch", "service", svc, "error", err)
		}
		cancel()
	}
}
