package tail

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/networktap/networktap/internal/logger"
	"github.com/networktap/networktap/pkg/events"
	"github.com/networktap/networktap/pkg/metrics"
)

const (
	// TickInterval is the poll cadence. Filesystem notifications wake
	// the loop earlier; the tick is the fallback for filesystems where
	// they are unreliable.
	TickInterval = 250 * time.Millisecond

	readChunk = 64 * 1024
)

// Follower is one producer loop tracking a single log file. It reads
// the file from the beginning, survives rotation and truncation, and
// publishes every parsed alert to the bus. Zero value is not usable;
// set Path, Source, Parse and Bus.
type Follower struct {
	Path   string
	Source events.Source
	Parse  ParseFunc
	Bus    *events.Bus

	cur     Cursor
	partial []byte
	file    *os.File

	missingLogged bool
	openLogged    bool
}

// Run follows the file until ctx is canceled. It only ever returns
// ctx.Err(): every file and parse problem is counted, logged, and
// retried on the next tick.
func (f *Follower) Run(ctx context.Context) error {
	f.cur.Path = f.Path
	defer f.closeFile()

	var fsEvents chan fsnotify.Event
	var fsErrors chan error
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		// Watch the directory, not the file: the file may not exist
		// yet, and rotation replaces it.
		if werr := watcher.Add(filepath.Dir(f.Path)); werr != nil {
			logger.Debug("fsnotify watch failed, polling only",
				"path", f.Path, "error", werr)
		} else {
			fsEvents = watcher.Events
			fsErrors = watcher.Errors
		}
	} else {
		logger.Debug("fsnotify unavailable, polling only", "error", err)
	}

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case ev := <-fsEvents:
			if ev.Name != f.Path {
				continue
			}
		case <-fsErrors:
			continue
		}
		f.poll()
	}
}

// poll stats the path, handles rotation, and drains new bytes.
func (f *Follower) poll() {
	fi, err := os.Stat(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			if !f.missingLogged {
				logger.Debug("followed file missing, waiting",
					"source", string(f.Source), "path", f.Path)
				f.missingLogged = true
			}
			f.closeFile()
			f.cur = Cursor{Path: f.Path}
			f.partial = nil
			return
		}
		if !f.openLogged {
			logger.Warn("cannot stat followed file",
				"source", string(f.Source), "path", f.Path, "error", err)
			f.openLogged = true
		}
		return
	}
	f.missingLogged = false

	if f.file != nil && f.cur.rotated(fi) {
		metrics.TailRotations.WithLabelValues(string(f.Source)).Inc()
		logger.Info("log rotated, following new file",
			"source", string(f.Source), "path", f.Path)
		// The open handle still points at the previous generation.
		// Drain it to EOF before letting go, then flush any
		// unterminated tail line: nothing will ever complete it.
		f.drain()
		if len(f.partial) > 0 {
			f.emit(bytes.TrimSuffix(f.partial, []byte{'\r'}))
		}
		f.closeFile()
		f.partial = nil
	}

	if f.file == nil {
		file, err := os.Open(f.Path)
		if err != nil {
			if !f.openLogged {
				logger.Warn("cannot open followed file",
					"source", string(f.Source), "path", f.Path, "error", err)
				f.openLogged = true
			}
			return
		}
		f.openLogged = false
		f.file = file
		f.cur.reset(fi)
	}

	f.drain()
	f.cur.LastSize = fi.Size()
}

// drain reads from the cursor offset to EOF, emitting complete lines
// and keeping the trailing partial line buffered for the next poll.
func (f *Follower) drain() {
	if _, err := f.file.Seek(f.cur.Offset, io.SeekStart); err != nil {
		logger.Warn("seek failed, reopening",
			"source", string(f.Source), "path", f.Path, "error", err)
		f.closeFile()
		return
	}

	buf := make([]byte, readChunk)
	for {
		n, err := f.file.Read(buf)
		if n > 0 {
			f.cur.Offset += int64(n)
			f.consume(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				logger.Warn("read failed, reopening",
					"source", string(f.Source), "path", f.Path, "error", err)
				f.closeFile()
			}
			return
		}
	}
}

func (f *Follower) consume(data []byte) {
	f.partial = append(f.partial, data...)
	for {
		i := bytes.IndexByte(f.partial, '\n')
		if i < 0 {
			return
		}
		line := f.partial[:i]
		f.partial = f.partial[i+1:]
		f.emit(bytes.TrimSuffix(line, []byte{'\r'}))
	}
}

func (f *Follower) emit(line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	metrics.TailLines.WithLabelValues(string(f.Source)).Inc()

	a, ok, err := f.Parse(line)
	if err != nil {
		metrics.TailParseErrors.WithLabelValues(string(f.Source)).Inc()
		logger.Debug("skipping malformed line",
			"source", string(f.Source), "path", f.Path, "error", err)
		return
	}
	if !ok {
		return
	}
	f.Bus.Publish(a)
}

func (f *Follower) closeFile() {
	if f.file != nil {
		f.file.Close()
		f.file = nil
	}
}
