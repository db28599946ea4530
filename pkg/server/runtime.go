// Package server assembles the daemon: config store, host adapter, log
// followers, event bus, capture supervisor, retention engine, mode
// controller and the HTTP API, with one lifecycle for all of them.
package server

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/networktap/networktap/internal/logger"
	"github.com/networktap/networktap/pkg/api"
	"github.com/networktap/networktap/pkg/auth"
	"github.com/networktap/networktap/pkg/capture"
	"github.com/networktap/networktap/pkg/config"
	"github.com/networktap/networktap/pkg/events"
	"github.com/networktap/networktap/pkg/host"
	"github.com/networktap/networktap/pkg/mode"
	"github.com/networktap/networktap/pkg/retention"
	"github.com/networktap/networktap/pkg/stats"
	"github.com/networktap/networktap/pkg/tail"
)

const (
	// followerJoinTimeout bounds how long shutdown waits for producer
	// loops before moving on.
	followerJoinTimeout = 5 * time.Second

	// finalRetentionTimeout bounds the last cleanup pass on shutdown.
	finalRetentionTimeout = 10 * time.Second
)

// Options carries the settings that come from the CLI rather than the
// config file.
type Options struct {
	Version string

	// BindAddr overrides the WEB_PORT-derived listen address when set.
	BindAddr string
}

// Runtime owns every long-lived component of the daemon. Create with
// New, run with Serve, stop by canceling the context.
type Runtime struct {
	store *config.Store
	host  host.Adapter
	opts  Options

	bus       *events.Bus
	reader    *tail.Reader
	capture   *capture.Supervisor
	retention *retention.Engine
	mode      *mode.Controller
	sampler   *stats.Sampler
	zeek      *stats.Zeek
	api       *api.Server

	serveOnce sync.Once

	followMu     sync.Mutex
	followCancel context.CancelFunc
	followWG     *sync.WaitGroup
}

// New wires all components around the store and host adapter. Nothing
// starts running until Serve.
func New(store *config.Store, h host.Adapter, opts Options) *Runtime {
	snap := store.Get()

	r := &Runtime{
		store:  store,
		host:   h,
		opts:   opts,
		bus:    events.New(),
		reader: tail.NewReader(),
	}

	captureDir := func() string { return store.Get().CaptureDir }
	zeekLogDir := func() string { return store.Get().ZeekLogDir }
	cfg := func() *config.Snapshot { return store.Get() }

	r.capture = capture.New(h, captureDir)
	r.retention = retention.New(h, cfg)
	r.mode = mode.New(h, store)
	r.sampler = stats.NewSampler(captureDir)
	r.zeek = stats.NewZeek(r.reader, zeekLogDir)

	addr := opts.BindAddr
	if addr == "" {
		addr = fmt.Sprintf(":%d", snap.WebPort)
	}
	serverCfg := api.ServerConfig{Addr: addr}
	if snap.TLSEnabled {
		serverCfg.TLSCert = snap.TLSCert
		serverCfg.TLSKey = snap.TLSKey
	}

	r.api = api.NewServer(serverCfg, api.Deps{
		Store:     store,
		Host:      h,
		Capture:   r.capture,
		Retention: r.retention,
		Mode:      r.mode,
		Bus:       r.bus,
		Reader:    r.reader,
		Gate:      auth.New(cfg),
		Sampler:   r.sampler,
		Zeek:      r.zeek,
		Hub:       api.NewHub(),
		Version:   opts.Version,
		StartedAt: time.Now(),
	})

	// A mode switch moves the engines to a different interface; their
	// logs start over, so the followers start over too.
	r.mode.OnSwitched(func(from, to config.Mode) {
		logger.Info("mode switched, restarting log followers",
			"from", string(from), "to", string(to))
		r.restartFollowers()
	})

	return r
}

// Serve starts every component and blocks until ctx is canceled or the
// API server fails. It returns nil on a clean shutdown.
func (r *Runtime) Serve(ctx context.Context) error {
	var err error
	r.serveOnce.Do(func() {
		err = r.serve(ctx)
	})
	return err
}

func (r *Runtime) serve(ctx context.Context) error {
	snap := r.store.Get()
	logger.Info("starting networktap runtime",
		"version", r.opts.Version,
		"mode", string(snap.Mode),
		"capture_dir", snap.CaptureDir,
		"suricata", snap.SuricataEnabled,
		"zeek", snap.ZeekEnabled)

	// Background workers run under their own context so shutdown can
	// stop them independently of the API server.
	workCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	g, workCtx := errgroup.WithContext(workCtx)
	g.Go(func() error {
		return r.sampler.Run(workCtx)
	})
	g.Go(func() error {
		return r.retentionLoop(workCtx)
	})

	r.startFollowers(workCtx)

	apiDone := make(chan error, 1)
	go func() {
		apiDone <- r.api.Start(ctx)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("runtime shutdown requested")
		if err := <-apiDone; err != nil {
			serveErr = err
		}
	case err := <-apiDone:
		if err != nil {
			logger.Error("API server failed", "error", err)
			serveErr = err
		}
	}

	// Producers first, then the final cleanup pass, then the bus so no
	// publisher races a closed channel.
	r.stopFollowers()
	stopWorkers()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("background worker error", "error", err)
	}
	r.finalRetention()
	r.bus.Close()

	logger.Info("networktap runtime stopped")
	return serveErr
}

// retentionLoop runs the cleanup engine on its fixed interval.
func (r *Runtime) retentionLoop(ctx context.Context) error {
	ticker := time.NewTicker(retention.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rep, err := r.retention.Run(ctx)
			if err != nil {
				logger.Warn("retention run failed", "error", err)
				continue
			}
			if len(rep.Deleted) > 0 || rep.RotatedEventLog != "" {
				logger.Info("retention run completed",
					"deleted", len(rep.Deleted),
					"bytes_reclaimed", rep.BytesReclaimed,
					"rotated_event_log", rep.RotatedEventLog)
			}
		}
	}
}

// finalRetention takes one last cleanup pass so a long downtime does
// not start with a full disk.
func (r *Runtime) finalRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), finalRetentionTimeout)
	defer cancel()
	if _, err := r.retention.Run(ctx); err != nil {
		logger.Warn("final retention run failed", "error", err)
	}
}

// startFollowers launches one producer loop per enabled engine log.
func (r *Runtime) startFollowers(parent context.Context) {
	r.followMu.Lock()
	defer r.followMu.Unlock()

	snap := r.store.Get()
	ctx, cancel := context.WithCancel(parent)
	r.followCancel = cancel

	var wg sync.WaitGroup
	r.followWG = &wg

	start := func(f *tail.Follower) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Run(ctx)
		}()
		logger.Info("following log", "source", string(f.Source), "path", f.Path)
	}

	if snap.SuricataEnabled {
		start(&tail.Follower{
			Path:   snap.SuricataEveLog,
			Source: events.SourceSuricata,
			Parse:  tail.ParseEVE,
			Bus:    r.bus,
		})
	}
	if snap.ZeekEnabled {
		start(&tail.Follower{
			Path:   filepath.Join(snap.ZeekLogDir, "notice.log"),
			Source: events.SourceZeek,
			Parse:  tail.ParseNotice,
			Bus:    r.bus,
		})
	}
}

// stopFollowers cancels the producer loops and waits briefly for them
// to drain.
func (r *Runtime) stopFollowers() {
	r.followMu.Lock()
	cancel, wg := r.followCancel, r.followWG
	r.followCancel, r.followWG = nil, nil
	r.followMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(followerJoinTimeout):
		logger.Warn("log followers did not stop in time")
	}
}

// restartFollowers bounces the producer loops against the current
// config. Called after a mode switch.
func (r *Runtime) restartFollowers() {
	r.stopFollowers()
	r.startFollowers(context.Background())
}
