// Package retention reclaims disk space on the capture volume. It
// deletes capture artifacts past their age limit, evicts oldest-first
// when free disk drops below the configured floor, and rotates the IDS
// event log when it outgrows its cap. Runs are idempotent and safe
// alongside a live capture producer.
package retention

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/klauspost/compress/gzip"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/networktap/networktap/internal/logger"
	"github.com/networktap/networktap/pkg/config"
	"github.com/networktap/networktap/pkg/host"
	"github.com/networktap/networktap/pkg/metrics"
)

// Interval is the default cadence between scheduled runs.
const Interval = time.Hour

// rotatedSuffix is the timestamp layout appended to a rotated event log.
const rotatedSuffix = "20060102T150405"

var artifactName = regexp.MustCompile(`^capture_\d{8}_\d{6}\.pcap(\.gz)?$`)

// Reason records why an artifact was removed.
type Reason string

const (
	ReasonAge  Reason = "age"
	ReasonDisk Reason = "disk"
)

// DeletedFile is one artifact removed during a run.
type DeletedFile struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Reason Reason `json:"reason"`
}

// Report summarizes one retention run.
type Report struct {
	Deleted         []DeletedFile `json:"deleted"`
	BytesReclaimed  int64         `json:"bytes_reclaimed"`
	FreePctBefore   float64       `json:"free_pct_before"`
	FreePctAfter    float64       `json:"free_pct_after"`
	RotatedEventLog string        `json:"rotated_event_log,omitempty"`
}

// Engine runs retention passes against the live config snapshot.
type Engine struct {
	host host.Adapter
	cfg  func() *config.Snapshot
	now  func() time.Time

	// freePct is injectable for tests; production reads the capture
	// volume through gopsutil.
	freePct func(path string) (float64, error)
}

// New creates an Engine bound to the config snapshot accessor.
func New(h host.Adapter, cfg func() *config.Snapshot) *Engine {
	return &Engine{
		host:    h,
		cfg:     cfg,
		now:     time.Now,
		freePct: diskFreePct,
	}
}

func diskFreePct(path string) (float64, error) {
	u, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return 100 - u.UsedPercent, nil
}

type candidate struct {
	name string
	path string
	size int64
	mod  time.Time
}

// Run executes one full retention pass: age-based deletion, low-disk
// eviction, then event-log rotation. Individual failures are logged and
// skipped; the pass always completes.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	snap := e.cfg()
	var rep Report

	free, err := e.freePct(snap.CaptureDir)
	if err != nil {
		logger.Warn("disk usage check failed", "path", snap.CaptureDir, "error", err)
		free = 100
	}
	rep.FreePctBefore = free

	files := e.enumerate(snap.CaptureDir)

	// Age limit first.
	cutoff := e.now().Add(-time.Duration(snap.RetentionDays) * 24 * time.Hour)
	remaining := files[:0:0]
	for i, c := range files {
		if c.mod.Before(cutoff) && e.deletable(files, i) {
			if e.remove(c, ReasonAge, &rep) {
				continue
			}
		}
		remaining = append(remaining, c)
	}

	// Low-disk eviction, oldest first, until the floor is met or
	// nothing deletable remains.
	if rep.FreePctBefore < float64(snap.MinFreeDiskPct) {
		for i := 0; i < len(remaining); i++ {
			free, err = e.freePct(snap.CaptureDir)
			if err != nil || free >= float64(snap.MinFreeDiskPct) {
				break
			}
			if !e.deletable(remaining, i) {
				continue
			}
			c := remaining[i]
			if e.remove(c, ReasonDisk, &rep) {
				logger.Info("evicted capture for disk space",
					"path", c.path, "size", c.size, "free_pct", free)
			}
		}
	}

	if free, err = e.freePct(snap.CaptureDir); err == nil {
		rep.FreePctAfter = free
	} else {
		rep.FreePctAfter = rep.FreePctBefore
	}

	if rotated, err := e.rotateEventLog(ctx, snap); err != nil {
		logger.Warn("event log rotation failed",
			"path", snap.SuricataEveLog, "error", err)
	} else if rotated != "" {
		rep.RotatedEventLog = rotated
	}

	if len(rep.Deleted) > 0 || rep.RotatedEventLog != "" {
		logger.Info("retention pass complete",
			"deleted", len(rep.Deleted),
			"bytes", rep.BytesReclaimed,
			"free_pct", rep.FreePctAfter)
	}
	return rep, nil
}

// enumerate lists capture artifacts oldest-first across the root,
// active/ and archive/ directories.
func (e *Engine) enumerate(root string) []candidate {
	var files []candidate
	for _, sub := range []string{"", "active", "archive"} {
		dir := filepath.Join(root, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, ent := range entries {
			if ent.IsDir() || !artifactName.MatchString(ent.Name()) {
				continue
			}
			fi, err := ent.Info()
			if err != nil {
				continue
			}
			name := ent.Name()
			if sub != "" {
				name = sub + "/" + ent.Name()
			}
			files = append(files, candidate{
				name: name,
				path: filepath.Join(dir, ent.Name()),
				size: fi.Size(),
				mod:  fi.ModTime(),
			})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	return files
}

// deletable reports whether files[i] may be removed: never the newest
// artifact (the one the capture producer is writing) and never a file
// another process holds an advisory lock on.
func (e *Engine) deletable(files []candidate, i int) bool {
	newest := 0
	for j := range files {
		if files[j].mod.After(files[newest].mod) {
			newest = j
		}
	}
	if i == newest {
		return false
	}

	lock := flock.New(files[i].path)
	locked, err := lock.TryLock()
	if err != nil || !locked {
		return false
	}
	lock.Unlock()
	return true
}

func (e *Engine) remove(c candidate, reason Reason, rep *Report) bool {
	if err := os.Remove(c.path); err != nil {
		logger.Warn("retention delete failed", "path", c.path, "error", err)
		return false
	}
	rep.Deleted = append(rep.Deleted, DeletedFile{Name: c.name, Size: c.size, Reason: reason})
	rep.BytesReclaimed += c.size
	metrics.RetentionDeletedFiles.Inc()
	metrics.RetentionDeletedBytes.Add(float64(c.size))
	logger.Debug("deleted capture artifact",
		"path", c.path, "size", c.size, "reason", string(reason))
	return true
}

// rotateEventLog renames the EVE log when it exceeds its size cap,
// compresses the rotated copy, and reloads Suricata so it reopens the
// live path. Returns the compressed file name, or empty when no
// rotation was due.
func (e *Engine) rotateEventLog(ctx context.Context, snap *config.Snapshot) (string, error) {
	path := snap.SuricataEveLog
	if path == "" || snap.EventLogMaxSize == 0 {
		return "", nil
	}

	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	if fi.Size() <= int64(snap.EventLogMaxSize.Bytes()) {
		return "", nil
	}

	rotated := fmt.Sprintf("%s.%s", path, e.now().UTC().Format(rotatedSuffix))
	if err := os.Rename(path, rotated); err != nil {
		return "", err
	}
	logger.Info("rotated event log", "path", path, "size", fi.Size())

	if _, err := e.host.ServiceAction(ctx, host.ServiceSuricata, host.ActionReload); err != nil {
		logger.Warn("suricata reload after rotation failed", "error", err)
	}

	gz := rotated + ".gz"
	if err := gzipFile(rotated, gz); err != nil {
		// Keep the uncompressed rotation rather than lose it.
		return rotated, err
	}
	if err := os.Remove(rotated); err != nil {
		return gz, err
	}
	return gz, nil
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}

	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
