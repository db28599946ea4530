package config

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Store owns the configuration file and the in-memory snapshot.
//
// Readers call Get and never block on writers; the snapshot pointer is
// swapped atomically after the file rewrite succeeds. Writers are
// serialized by a mutex held only for the duration of the rewrite.
type Store struct {
	path string

	writeMu sync.Mutex
	snap    atomic.Pointer[Snapshot]

	modeMu       sync.Mutex
	onModeChange []func(from, to Mode)
}

// ResolvePath returns the config path to use: explicit flag value, then
// the NETWORKTAP_CONFIG environment variable, then the default.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return DefaultPath
}

// Load reads and validates the config file and returns a Store over it.
func Load(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the current snapshot. The returned value is immutable and
// remains valid after later updates.
func (s *Store) Get() *Snapshot {
	return s.snap.Load()
}

// Reload re-reads the file from disk and swaps the snapshot. In-flight
// snapshots held by readers remain valid.
func (s *Store) Reload() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", s.path, err)
	}

	doc, err := parseDocument(data)
	if err != nil {
		return &InvalidConfigError{Reason: err.Error()}
	}

	snap, err := snapshotFromValues(doc.values())
	if err != nil {
		return err
	}
	if err := validateSnapshot(snap); err != nil {
		return err
	}

	s.snap.Store(snap)
	return nil
}

// Update applies a patch of raw KEY=VALUE pairs. The patch is validated
// against the merged result first; on success the file is rewritten
// atomically and the in-memory snapshot swapped. On any failure neither
// the file nor the snapshot changes.
func (s *Store) Update(patch map[string]string) (*Snapshot, error) {
	if len(patch) == 0 {
		return s.Get(), nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", s.path, err)
	}
	doc, err := parseDocument(data)
	if err != nil {
		return nil, &InvalidConfigError{Reason: err.Error()}
	}

	doc.apply(patch)

	snap, err := snapshotFromValues(doc.values())
	if err != nil {
		return nil, err
	}
	if err := validateSnapshot(snap); err != nil {
		return nil, err
	}

	old := s.snap.Load()

	if err := doc.writeAtomic(s.path); err != nil {
		return nil, err
	}
	s.snap.Store(snap)

	if old != nil && old.Mode != snap.Mode {
		s.notifyModeChange(old.Mode, snap.Mode)
	}

	return snap, nil
}

// OnModeChange registers a callback invoked after an Update changes MODE.
// Callbacks run synchronously on the updater's goroutine.
func (s *Store) OnModeChange(fn func(from, to Mode)) {
	s.modeMu.Lock()
	defer s.modeMu.Unlock()
	s.onModeChange = append(s.onModeChange, fn)
}

func (s *Store) notifyModeChange(from, to Mode) {
	s.modeMu.Lock()
	fns := append([]func(from, to Mode){}, s.onModeChange...)
	s.modeMu.Unlock()
	for _, fn := range fns {
		fn(from, to)
	}
}

// View returns the typed snapshot flattened to KEY=VALUE pairs for the
// API, secrets redacted. Unknown keys are included verbatim.
func (s *Store) View() map[string]string {
	snap := s.Get()
	if snap == nil {
		return nil
	}

	m := map[string]string{
		KeyMode:                 string(snap.Mode),
		KeyNIC1:                 snap.NIC1,
		KeyNIC2:                 snap.NIC2,
		KeyBridgeName:           snap.BridgeName,
		KeyMgmtIP:               snap.MgmtIP,
		KeyMgmtGateway:          snap.MgmtGateway,
		KeyMgmtDNS:              snap.MgmtDNS,
		KeyWebPort:              fmt.Sprintf("%d", snap.WebPort),
		KeyWebUser:              snap.WebUser,
		KeyWebRole:              snap.WebRole,
		KeyTLSEnabled:           fmt.Sprintf("%t", snap.TLSEnabled),
		KeyTLSCert:              snap.TLSCert,
		KeyTLSKey:               snap.TLSKey,
		KeyCaptureDir:           snap.CaptureDir,
		KeyCaptureRotateSeconds: fmt.Sprintf("%d", snap.CaptureRotateSeconds),
		KeyCaptureFileLimit:     fmt.Sprintf("%d", snap.CaptureFileLimit),
		KeyCaptureSnaplen:       fmt.Sprintf("%d", snap.CaptureSnaplen),
		KeyCaptureCompress:      fmt.Sprintf("%t", snap.CaptureCompress),
		KeyCaptureFilter:        snap.CaptureFilter,
		KeyRetentionDays:        fmt.Sprintf("%d", snap.RetentionDays),
		KeyMinFreeDiskPct:       fmt.Sprintf("%d", snap.MinFreeDiskPct),
		KeyEventLogMaxSize:      snap.EventLogMaxSize.String(),
		KeySuricataEnabled:      fmt.Sprintf("%t", snap.SuricataEnabled),
		KeySuricataEveLog:       snap.SuricataEveLog,
		KeySuricataIface:        snap.SuricataIface,
		KeyZeekEnabled:          fmt.Sprintf("%t", snap.ZeekEnabled),
		KeyZeekLogDir:           snap.ZeekLogDir,
		KeyZeekIface:            snap.ZeekIface,
	}
	for k, v := range snap.extra {
		m[k] = v
	}
	return m
}
