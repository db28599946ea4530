// Package hosttest provides a scriptable host.Adapter for tests.
package hosttest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/networktap/networktap/pkg/host"
)

// Call records one invocation against the fake.
type Call struct {
	Op      string // "status", "action", "interfaces", "script", "reboot"
	Name    string // service or script name
	Action  host.ServiceAction
	Args    []string
	Timeout time.Duration
}

// Fake is an in-memory host.Adapter. States maps unit name to its
// current state; actions mutate it the way the real service manager
// would. All fields may be set before use; the zero value works.
type Fake struct {
	mu     sync.Mutex
	states map[string]host.ServiceState
	since  map[string]time.Time
	calls  []Call

	// Interfaces is returned by ListInterfaces.
	Interfaces []host.Interface

	// ScriptResults maps script name to a canned result. Unlisted
	// scripts succeed with exit 0.
	ScriptResults map[string]host.Result

	// ScriptQueue maps script name to per-call results consumed in
	// order; it takes precedence over ScriptResults while non-empty.
	ScriptQueue map[string][]host.Result

	// FailActions maps "name/action" to an error forced on that call.
	FailActions map[string]error

	// StatusErr, when set, fails every ServiceStatus call.
	StatusErr error
}

// SetState primes a unit's state.
func (f *Fake) SetState(name string, st host.ServiceState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.states == nil {
		f.states = make(map[string]host.ServiceState)
		f.since = make(map[string]time.Time)
	}
	f.states[name] = st
	f.since[name] = time.Now()
}

// State reads a unit's current state.
func (f *Fake) State(name string) host.ServiceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[name]; ok {
		return st
	}
	return host.StateUnknown
}

// Calls returns a copy of everything invoked so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *Fake) ServiceStatus(_ context.Context, name string) (host.ServiceStatus, error) {
	f.record(Call{Op: "status", Name: name})
	if f.StatusErr != nil {
		return host.ServiceStatus{}, f.StatusErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[name]
	if !ok {
		st = host.StateUnknown
	}
	return host.ServiceStatus{Name: name, State: st, Since: f.since[name]}, nil
}

func (f *Fake) ServiceAction(_ context.Context, name string, action host.ServiceAction) (host.Result, error) {
	f.record(Call{Op: "action", Name: name, Action: action})
	if err := f.FailActions[name+"/"+string(action)]; err != nil {
		return host.Result{ExitCode: 1, Stderr: err.Error()}, err
	}

	switch action {
	case host.ActionStart, host.ActionRestart, host.ActionReload:
		f.SetState(name, host.StateActive)
	case host.ActionStop:
		f.SetState(name, host.StateInactive)
	default:
		return host.Result{}, fmt.Errorf("invalid action %q", action)
	}
	return host.Result{ExitCode: 0}, nil
}

func (f *Fake) ListInterfaces(context.Context) ([]host.Interface, error) {
	f.record(Call{Op: "interfaces"})
	return f.Interfaces, nil
}

func (f *Fake) RunScript(_ context.Context, script string, args []string, timeout time.Duration) (host.Result, error) {
	f.record(Call{Op: "script", Name: script, Args: args, Timeout: timeout})
	f.mu.Lock()
	if q := f.ScriptQueue[script]; len(q) > 0 {
		r := q[0]
		f.ScriptQueue[script] = q[1:]
		f.mu.Unlock()
		if !r.OK() {
			return r, fmt.Errorf("script %s failed: exit %d", script, r.ExitCode)
		}
		return r, nil
	}
	f.mu.Unlock()
	if r, ok := f.ScriptResults[script]; ok {
		if !r.OK() {
			return r, fmt.Errorf("script %s failed: exit %d", script, r.ExitCode)
		}
		return r, nil
	}
	return host.Result{ExitCode: 0}, nil
}

func (f *Fake) Reboot(context.Context) error {
	f.record(Call{Op: "reboot"})
	return nil
}
