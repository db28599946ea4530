package tail

import (
	"errors"
	"fmt"

	"github.com/networktap/networktap/pkg/events"
)

// ParseFunc turns one complete log line into an alert. ok is false when
// the line is well formed but not an alert (Suricata stats records,
// non-alert event types); a non-nil error marks the line malformed.
// Parsers must copy from the line slice, not retain it.
type ParseFunc func(line []byte) (a events.Alert, ok bool, err error)

// ErrUnavailable marks a followed or tailed source that exists in the
// configuration but cannot be read, typically a permission problem.
// Missing files are not unavailable; they yield empty results.
var ErrUnavailable = errors.New("source unavailable")

func unavailable(path string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
}
