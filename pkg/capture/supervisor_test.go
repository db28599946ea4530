package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/networktap/networktap/pkg/host"
	"github.com/networktap/networktap/pkg/host/hosttest"
)

// seedCaptureDir lays out a realistic capture root: one in-progress
// file under active/ and rotated files under archive/ with descending
// ages.
func seedCaptureDir(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "active"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "archive"), 0755))

	now := time.Now()
	write := func(rel string, age time.Duration) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.WriteFile(path, []byte("pcap"), 0644))
		mt := now.Add(-age)
		require.NoError(t, os.Chtimes(path, mt, mt))
	}

	write("active/capture_20260105_100000.pcap", 0)
	write("archive/capture_20260105_090000.pcap.gz", time.Hour)
	write("archive/capture_20260105_080000.pcap.gz", 2*time.Hour)
	write("archive/capture_20260104_080000.pcap.gz", 26*time.Hour)

	// Noise the scanner must ignore.
	require.NoError(t, os.WriteFile(filepath.Join(root, "archive", "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "capture_invalid.pcap"), []byte("x"), 0644))
	return root
}

func newSupervisor(t *testing.T, root string) (*Supervisor, *hosttest.Fake) {
	t.Helper()
	fake := &hosttest.Fake{}
	return New(fake, func() string { return root }), fake
}

func TestStatusReportsServiceAndArtifacts(t *testing.T) {
	root := seedCaptureDir(t)
	s, fake := newSupervisor(t, root)
	fake.SetState(host.ServiceCapture, host.StateActive)

	st, err := s.Status(context.Background())
	require.NoError(t, err)

	assert.True(t, st.Running)
	require.NotNil(t, st.ActiveFile)
	assert.Equal(t, "active/capture_20260105_100000.pcap", st.ActiveFile.Name)
	require.Len(t, st.RecentFiles, 4)
	assert.Equal(t, "active/capture_20260105_100000.pcap", st.RecentFiles[0].Name)
	assert.Equal(t, "archive/capture_20260104_080000.pcap.gz", st.RecentFiles[3].Name)
	assert.True(t, st.RecentFiles[1].Compressed)
}

func TestStatusMissingRootIsEmpty(t *testing.T) {
	s, fake := newSupervisor(t, filepath.Join(t.TempDir(), "never-created"))
	fake.SetState(host.ServiceCapture, host.StateInactive)

	st, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Nil(t, st.ActiveFile)
	assert.Empty(t, st.RecentFiles)
}

func TestScanIsCached(t *testing.T) {
	root := seedCaptureDir(t)
	s, fake := newSupervisor(t, root)
	fake.SetState(host.ServiceCapture, host.StateActive)

	_, err := s.Status(context.Background())
	require.NoError(t, err)

	// A file added after the scan is invisible until the TTL lapses.
	late := filepath.Join(root, "archive", "capture_20260105_110000.pcap")
	require.NoError(t, os.WriteFile(late, []byte("pcap"), 0644))

	st, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.Len(t, st.RecentFiles, 4)

	s.now = func() time.Time { return time.Now().Add(ScanTTL + time.Second) }
	st, err = s.Status(context.Background())
	require.NoError(t, err)
	assert.Len(t, st.RecentFiles, 5)
}

func TestStartConflictsWhenRunning(t *testing.T) {
	root := seedCaptureDir(t)
	s, fake := newSupervisor(t, root)
	fake.SetState(host.ServiceCapture, host.StateActive)

	_, err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestStartStopRoundTrip(t *testing.T) {
	root := seedCaptureDir(t)
	s, fake := newSupervisor(t, root)
	fake.SetState(host.ServiceCapture, host.StateInactive)

	st, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, host.StateActive, fake.State(host.ServiceCapture))

	st, err = s.Stop(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Running)

	// Stopping an idle service stays a no-op success.
	_, err = s.Stop(context.Background())
	require.NoError(t, err)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	root := seedCaptureDir(t)
	s, _ := newSupervisor(t, root)

	page, total, err := s.List(0, 2, "")
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 2)
	assert.Equal(t, "active/capture_20260105_100000.pcap", page[0].Name)

	page, total, err = s.List(2, 2, "")
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 2)
	assert.Equal(t, "archive/capture_20260104_080000.pcap.gz", page[1].Name)

	page, _, err = s.List(99, 10, "")
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestListFilterSubstring(t *testing.T) {
	root := seedCaptureDir(t)
	s, _ := newSupervisor(t, root)

	page, total, err := s.List(0, 0, "20260104")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, page, 1)
	assert.Equal(t, "archive/capture_20260104_080000.pcap.gz", page[0].Name)
}

func TestOpenRejectsEscapes(t *testing.T) {
	root := seedCaptureDir(t)
	s, _ := newSupervisor(t, root)

	_, _, err := s.Open("../../etc/shadow")
	assert.ErrorIs(t, err, host.ErrPathEscapes)

	_, _, err = s.Open("/etc/shadow")
	assert.ErrorIs(t, err, host.ErrPathEscapes)
}

func TestOpenServesArtifact(t *testing.T) {
	root := seedCaptureDir(t)
	s, _ := newSupervisor(t, root)

	f, art, err := s.Open("archive/capture_20260105_090000.pcap.gz")
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, int64(4), art.Size)
	assert.True(t, art.Compressed)
}

func TestOpenMissingFile(t *testing.T) {
	root := seedCaptureDir(t)
	s, _ := newSupervisor(t, root)

	_, _, err := s.Open("archive/capture_19990101_000000.pcap")
	assert.True(t, os.IsNotExist(err))
}

func TestStatusErrorPropagates(t *testing.T) {
	root := seedCaptureDir(t)
	s, fake := newSupervisor(t, root)
	fake.StatusErr = context.DeadlineExceeded

	_, err := s.Status(context.Background())
	assert.Error(t, err)
}
