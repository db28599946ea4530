package tail

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/networktap/networktap/pkg/events"
)

// lineParser treats every line as a signature so tests can follow plain
// text fixtures. Lines starting with "bad" simulate parse failures.
func lineParser(line []byte) (events.Alert, bool, error) {
	s := string(line)
	if strings.HasPrefix(s, "bad") {
		return events.Alert{}, false, errors.New("unparseable")
	}
	return events.Alert{
		Source:    events.SourceSuricata,
		Timestamp: time.Now().UTC(),
		Signature: s,
	}, true, nil
}

// collector drains a subscription into a slice so slow-consumer drops
// never distort follower tests.
type collector struct {
	mu   sync.Mutex
	got  []string
	done chan struct{}
}

func collect(sub *events.Subscription) *collector {
	c := &collector{done: make(chan struct{})}
	go func() {
		defer close(c.done)
		for a := range sub.C() {
			c.mu.Lock()
			c.got = append(c.got, a.Signature)
			c.mu.Unlock()
		}
	}()
	return c
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

func startFollower(t *testing.T, path string) (*events.Bus, *collector) {
	t.Helper()

	bus := events.New()
	sub := bus.Subscribe(events.Filter{})
	c := collect(sub)

	f := &Follower{Path: path, Source: events.SourceSuricata, Parse: lineParser, Bus: bus}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		bus.Close()
		<-c.done
	})
	return bus, c
}

func appendLines(t *testing.T, path string, start, n int) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	defer f.Close()
	for i := start; i < start+n; i++ {
		_, err := fmt.Fprintf(f, "line-%05d\n", i)
		require.NoError(t, err)
	}
}

func waitCount(t *testing.T, c *collector, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.count() == want },
		5*time.Second, 10*time.Millisecond, "got %d of %d events", c.count(), want)
}

func TestFollowerReadsExistingAndAppended(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eve.json")
	appendLines(t, path, 0, 3)

	_, c := startFollower(t, path)
	waitCount(t, c, 3)

	appendLines(t, path, 3, 2)
	waitCount(t, c, 5)

	assert.Equal(t, []string{"line-00000", "line-00001", "line-00002", "line-00003", "line-00004"}, c.snapshot())
}

func TestFollowerSurvivesRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eve.json")

	_, c := startFollower(t, path)

	appendLines(t, path, 0, 1000)
	waitCount(t, c, 1000)

	require.NoError(t, os.Rename(path, path+".1"))
	appendLines(t, path, 1000, 500)
	waitCount(t, c, 1500)

	got := c.snapshot()
	for i, sig := range got {
		require.Equal(t, fmt.Sprintf("line-%05d", i), sig)
	}
}

// drainSignatures empties everything currently queued on a
// subscription without blocking.
func drainSignatures(sub *events.Subscription) []string {
	var got []string
	for {
		select {
		case a := <-sub.C():
			got = append(got, a.Signature)
		default:
			return got
		}
	}
}

// pollFollower builds a follower wired to a fresh bus so tests can step
// the poll loop by hand.
func pollFollower(t *testing.T, path string) (*Follower, *events.Subscription) {
	t.Helper()
	bus := events.New()
	sub := bus.Subscribe(events.Filter{})
	f := &Follower{Path: path, Source: events.SourceSuricata, Parse: lineParser, Bus: bus}
	f.cur.Path = path
	t.Cleanup(func() {
		f.closeFile()
		bus.Close()
	})
	return f, sub
}

func TestFollowerDrainsOldFileOnRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eve.json")
	appendLines(t, path, 0, 10)

	f, sub := pollFollower(t, path)
	f.poll()
	require.Len(t, drainSignatures(sub), 10)

	// Lines land in the old file after the last poll, then rotation
	// moves it aside before the follower looks again. They must still
	// come through, in order, ahead of the new file's lines.
	appendLines(t, path, 10, 5)
	require.NoError(t, os.Rename(path, path+".1"))
	appendLines(t, path, 15, 5)

	f.poll()
	got := drainSignatures(sub)
	require.Len(t, got, 10)
	for i, sig := range got {
		assert.Equal(t, fmt.Sprintf("line-%05d", i+10), sig)
	}
}

func TestFollowerFlushesUnterminatedLineOnRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eve.json")
	require.NoError(t, os.WriteFile(path, []byte("first\nstranded"), 0644))

	f, sub := pollFollower(t, path)
	f.poll()
	assert.Equal(t, []string{"first"}, drainSignatures(sub))

	// Nothing will ever complete the trailing line once the file is
	// rotated away, so it is emitted as-is.
	require.NoError(t, os.Rename(path, path+".1"))
	appendLines(t, path, 0, 1)

	f.poll()
	assert.Equal(t, []string{"stranded", "line-00000"}, drainSignatures(sub))
}

func TestFollowerTreatsTruncationAsRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eve.json")
	appendLines(t, path, 0, 10)

	_, c := startFollower(t, path)
	waitCount(t, c, 10)

	require.NoError(t, os.Truncate(path, 0))
	appendLines(t, path, 100, 3)
	waitCount(t, c, 13)

	got := c.snapshot()
	assert.Equal(t, "line-00100", got[10])
	assert.Equal(t, "line-00102", got[12])
}

func TestFollowerRetainsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eve.json")
	_, c := startFollower(t, path)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteString("half-a-")
	require.NoError(t, err)

	// The incomplete line must not be emitted.
	time.Sleep(4 * TickInterval)
	assert.Zero(t, c.count())

	_, err = f.WriteString("line\nwhole-line\n")
	require.NoError(t, err)
	waitCount(t, c, 2)

	assert.Equal(t, []string{"half-a-line", "whole-line"}, c.snapshot())
}

func TestFollowerSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eve.json")
	_, c := startFollower(t, path)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteString("line-a\nbad-garbage\nline-b\n")
	require.NoError(t, err)

	waitCount(t, c, 2)
	assert.Equal(t, []string{"line-a", "line-b"}, c.snapshot())
}

func TestFollowerWaitsForMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eve.json")

	_, c := startFollower(t, path)

	time.Sleep(2 * TickInterval)
	assert.Zero(t, c.count())

	appendLines(t, path, 0, 4)
	waitCount(t, c, 4)
}
