package tail

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/networktap/networktap/pkg/events"
	"github.com/networktap/networktap/pkg/metrics"
)

const (
	// CacheTTL bounds how stale a synchronous tail read may be. Repeat
	// REST polls within the window are served from memory.
	CacheTTL = 5 * time.Second

	// DefaultTailBytes is how far back a bounded read looks when the
	// caller does not say.
	DefaultTailBytes = 512 * 1024
)

// Reader serves bounded synchronous reads of a file's tail. Results are
// cached for CacheTTL keyed by (path, size, mtime), so an unchanged file
// is never re-read within the window, and concurrent callers on the
// same key share a single read.
type Reader struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry

	group singleflight.Group
}

type cacheEntry struct {
	value   any
	expires time.Time
}

// NewReader creates a Reader with the default TTL.
func NewReader() *Reader {
	return &Reader{
		ttl:     CacheTTL,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Alerts reads up to maxBytes from the end of path and parses each
// complete line, most-recent-last. A missing file yields an empty
// result; an unreadable one fails with ErrUnavailable. Malformed lines
// are counted and skipped.
func (r *Reader) Alerts(source events.Source, path string, maxBytes int64, parse ParseFunc) ([]events.Alert, error) {
	v, err := r.cached("alerts", path, maxBytes, func(lines [][]byte) any {
		alerts := make([]events.Alert, 0, len(lines))
		for _, line := range lines {
			a, ok, perr := parse(line)
			if perr != nil {
				metrics.TailParseErrors.WithLabelValues(string(source)).Inc()
				continue
			}
			if !ok {
				continue
			}
			alerts = append(alerts, a)
		}
		return alerts
	})
	if err != nil {
		return nil, err
	}
	return v.([]events.Alert), nil
}

// Lines reads up to maxBytes from the end of path and returns the
// complete lines verbatim. Used by the Zeek statistics endpoints, which
// aggregate over analyzer-specific record shapes.
func (r *Reader) Lines(path string, maxBytes int64) ([][]byte, error) {
	v, err := r.cached("lines", path, maxBytes, func(lines [][]byte) any {
		return lines
	})
	if err != nil {
		return nil, err
	}
	return v.([][]byte), nil
}

// cached reads the file identity, consults the cache, and falls back to
// a single-flight read+transform.
func (r *Reader) cached(kind, path string, maxBytes int64, transform func([][]byte) any) (any, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return transform(nil), nil
		}
		return nil, unavailable(path, err)
	}

	key := fmt.Sprintf("%s|%s|%d|%d|%d", kind, path, maxBytes, fi.Size(), fi.ModTime().UnixNano())

	r.mu.Lock()
	if e, ok := r.entries[key]; ok && r.now().Before(e.expires) {
		r.mu.Unlock()
		return e.value, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(key, func() (any, error) {
		lines, err := readTailLines(path, maxBytes)
		if err != nil {
			return nil, err
		}
		value := transform(lines)

		r.mu.Lock()
		r.prune()
		r.entries[key] = cacheEntry{value: value, expires: r.now().Add(r.ttl)}
		r.mu.Unlock()
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// prune drops expired entries. Called with mu held; keys embed size and
// mtime, so without pruning the map would grow with every file change.
func (r *Reader) prune() {
	now := r.now()
	for k, e := range r.entries {
		if !now.Before(e.expires) {
			delete(r.entries, k)
		}
	}
}

// readTailLines returns the complete lines within the last maxBytes of
// the file. When the window starts mid-line the first partial line is
// skipped; a trailing line without a newline is still being written and
// is skipped too.
func readTailLines(path string, maxBytes int64) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, unavailable(path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, unavailable(path, err)
	}

	if maxBytes <= 0 {
		maxBytes = DefaultTailBytes
	}
	start := int64(0)
	if fi.Size() > maxBytes {
		start = fi.Size() - maxBytes
	}

	buf := make([]byte, fi.Size()-start)
	n, err := f.ReadAt(buf, start)
	if err != nil && n == 0 {
		return nil, unavailable(path, err)
	}
	buf = buf[:n]

	if start > 0 {
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			buf = buf[i+1:]
		} else {
			return nil, nil
		}
	}

	var lines [][]byte
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(buf[:i], []byte{'\r'})
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, line)
		}
		buf = buf[i+1:]
	}
	return lines, nil
}
