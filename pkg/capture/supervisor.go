package capture

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/networktap/networktap/internal/logger"
	"github.com/networktap/networktap/pkg/host"
)

const (
	// ScanTTL bounds how often the capture directory is re-walked for
	// status and listing calls.
	ScanTTL = 5 * time.Second

	// RecentFiles is how many artifacts a status response includes.
	RecentFiles = 10
)

// Supervisor mediates all capture operations. The dir func reads the
// capture root from the live config snapshot so mode switches and
// config patches take effect without restarting.
type Supervisor struct {
	host host.Adapter
	dir  func() string
	now  func() time.Time

	mu       sync.Mutex
	scanned  []Artifact
	scanRoot string
	scanAt   time.Time

	group singleflight.Group
}

// New creates a Supervisor over the host adapter.
func New(h host.Adapter, dir func() string) *Supervisor {
	return &Supervisor{host: h, dir: dir, now: time.Now}
}

// Status reports the capture service state and the newest artifacts.
// Directory scans are cached for ScanTTL; service state is live.
func (s *Supervisor) Status(ctx context.Context) (Status, error) {
	svc, err := s.host.ServiceStatus(ctx, host.ServiceCapture)
	if err != nil {
		return Status{}, err
	}

	artifacts, err := s.artifacts()
	if err != nil {
		return Status{}, err
	}

	st := Status{
		Running:     svc.Running(),
		Since:       svc.Since,
		RecentFiles: limitArtifacts(artifacts, RecentFiles),
	}
	for i := range artifacts {
		if strings.HasPrefix(artifacts[i].Name, "active/") {
			st.ActiveFile = &artifacts[i]
			break
		}
	}
	return st, nil
}

// Start begins capturing. Fails with ErrAlreadyRunning when the service
// is active; otherwise returns the post-action status.
func (s *Supervisor) Start(ctx context.Context) (Status, error) {
	svc, err := s.host.ServiceStatus(ctx, host.ServiceCapture)
	if err != nil {
		return Status{}, err
	}
	if svc.Running() {
		return Status{}, ErrAlreadyRunning
	}

	if _, err := s.host.ServiceAction(ctx, host.ServiceCapture, host.ActionStart); err != nil {
		return Status{}, err
	}
	logger.Info("capture started", "service", host.ServiceCapture)
	s.invalidate()
	return s.Status(ctx)
}

// Stop halts capturing. Stopping an idle service is a no-op success.
func (s *Supervisor) Stop(ctx context.Context) (Status, error) {
	if _, err := s.host.ServiceAction(ctx, host.ServiceCapture, host.ActionStop); err != nil {
		return Status{}, err
	}
	logger.Info("capture stopped", "service", host.ServiceCapture)
	s.invalidate()
	return s.Status(ctx)
}

// Restart bounces the capture service.
func (s *Supervisor) Restart(ctx context.Context) (Status, error) {
	if _, err := s.host.ServiceAction(ctx, host.ServiceCapture, host.ActionRestart); err != nil {
		return Status{}, err
	}
	logger.Info("capture restarted", "service", host.ServiceCapture)
	s.invalidate()
	return s.Status(ctx)
}

// List paginates artifacts newest-first. filter, when non-empty, is a
// substring match on the relative name. total is the match count before
// pagination.
func (s *Supervisor) List(offset, limit int, filter string) (files []Artifact, total int, err error) {
	artifacts, err := s.artifacts()
	if err != nil {
		return nil, 0, err
	}

	if filter != "" {
		matched := artifacts[:0:0]
		for _, a := range artifacts {
			if strings.Contains(a.Name, filter) {
				matched = append(matched, a)
			}
		}
		artifacts = matched
	}

	total = len(artifacts)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []Artifact{}, total, nil
	}
	artifacts = artifacts[offset:]
	if limit > 0 && len(artifacts) > limit {
		artifacts = artifacts[:limit]
	}
	return artifacts, total, nil
}

// Open resolves name inside the capture root and opens it for download.
// Escaping names fail with host.ErrPathEscapes; the caller maps missing
// files and escapes to its own status codes.
func (s *Supervisor) Open(name string) (*os.File, Artifact, error) {
	path, err := host.SafeJoin(s.dir(), name)
	if err != nil {
		return nil, Artifact{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, Artifact{}, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Artifact{}, err
	}

	return f, Artifact{
		Name:       name,
		Size:       fi.Size(),
		ModTime:    fi.ModTime(),
		Compressed: strings.HasSuffix(name, ".gz"),
		path:       path,
	}, nil
}

// artifacts returns the cached scan, refreshing under single-flight
// when stale or when the capture root changed.
func (s *Supervisor) artifacts() ([]Artifact, error) {
	root := s.dir()

	s.mu.Lock()
	if s.scanRoot == root && s.now().Sub(s.scanAt) < ScanTTL {
		cached := s.scanned
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do(root, func() (any, error) {
		artifacts, err := scanRoot(root)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.scanned = artifacts
		s.scanRoot = root
		s.scanAt = s.now()
		s.mu.Unlock()
		return artifacts, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Artifact), nil
}

func (s *Supervisor) invalidate() {
	s.mu.Lock()
	s.scanAt = time.Time{}
	s.mu.Unlock()
}

// scanRoot walks the capture layout (root, active/, archive/) and
// returns matching artifacts sorted newest-first. A missing root yields
// an empty list; capture may simply never have run.
func scanRoot(root string) ([]Artifact, error) {
	var artifacts []Artifact

	for _, sub := range []string{"", "active", "archive"} {
		dir := filepath.Join(root, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !artifactName.MatchString(e.Name()) {
				continue
			}
			fi, err := e.Info()
			if err != nil {
				continue
			}
			name := e.Name()
			if sub != "" {
				name = sub + "/" + e.Name()
			}
			artifacts = append(artifacts, Artifact{
				Name:       name,
				Size:       fi.Size(),
				ModTime:    fi.ModTime(),
				Compressed: strings.HasSuffix(name, ".gz"),
				path:       filepath.Join(dir, e.Name()),
			})
		}
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].ModTime.After(artifacts[j].ModTime)
	})
	return artifacts, nil
}

func limitArtifacts(a []Artifact, n int) []Artifact {
	if len(a) > n {
		a = a[:n]
	}
	out := make([]Artifact, len(a))
	copy(out, a)
	return out
}
