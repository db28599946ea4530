// Package config implements the networktap configuration store.
//
// Configuration lives in a flat KEY=VALUE file (default
// /etc/networktap.conf). The store keeps an immutable typed snapshot in
// memory; readers take the current snapshot pointer without locking, and
// writers rewrite the file atomically before swapping the pointer.
// Unknown keys and comments survive rewrites untouched.
package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/networktap/networktap/internal/bytesize"
)

// Mode is the appliance capture mode.
type Mode string

const (
	// ModeSpan is passive monitoring: one NIC promiscuous with no IP,
	// the other carrying management traffic.
	ModeSpan Mode = "span"
	// ModeBridge is transparent L2: both NICs join a software bridge
	// that carries the management IP.
	ModeBridge Mode = "bridge"
)

// Default values applied when a key is absent from the config file.
const (
	DefaultPath            = "/etc/networktap.conf"
	DefaultBridgeName      = "br0"
	DefaultWebPort         = 8443
	DefaultRotateSeconds   = 300
	DefaultFileLimit       = 1000
	DefaultSnaplen         = 65535
	DefaultRetentionDays   = 7
	DefaultMinFreeDiskPct  = 20
	DefaultEventLogMaxSize = 500 * bytesize.MiB
)

// EnvConfigPath overrides the default config path when set.
const EnvConfigPath = "NETWORKTAP_CONFIG"

// Snapshot is an immutable view of the configuration. A Snapshot is never
// mutated after construction; the store replaces the whole pointer on
// every successful update.
type Snapshot struct {
	Mode Mode `validate:"required,oneof=span bridge"`

	// Interfaces
	NIC1       string `validate:"required"`
	NIC2       string `validate:"required"`
	BridgeName string `validate:"required"`

	// Management network
	MgmtIP      string
	MgmtGateway string
	MgmtDNS     string

	// Web / API
	WebPort     int    `validate:"min=1,max=65535"`
	WebUser     string `validate:"required"`
	WebPassHash string
	WebPassSalt string
	WebRole     string `validate:"oneof=admin viewer"`
	TLSEnabled  bool
	TLSCert     string
	TLSKey      string

	// Capture
	CaptureDir           string `validate:"required"`
	CaptureRotateSeconds int    `validate:"min=1"`
	CaptureFileLimit     int    `validate:"min=1"`
	CaptureSnaplen       int    `validate:"min=0"`
	CaptureCompress      bool
	CaptureFilter        string

	// Retention
	RetentionDays   int `validate:"min=1"`
	MinFreeDiskPct  int `validate:"min=0,max=100"`
	EventLogMaxSize bytesize.ByteSize

	// IDS engines
	SuricataEnabled bool
	SuricataEveLog  string
	SuricataIface   string
	ZeekEnabled     bool
	ZeekLogDir      string
	ZeekIface       string

	// extra holds unknown keys so rewrites round-trip them.
	extra map[string]string
}

// CaptureInterface returns the interface the capture subprocess listens on.
// In span mode this is NIC1; in bridge mode it is the bridge itself.
func (s *Snapshot) CaptureInterface() string {
	if s.Mode == ModeBridge {
		return s.BridgeName
	}
	return s.NIC1
}

// ManagementInterface returns the interface carrying the management IP.
func (s *Snapshot) ManagementInterface() string {
	if s.Mode == ModeBridge {
		return s.BridgeName
	}
	return s.NIC2
}

// Extra returns the value of an unknown (untyped) key, if present.
func (s *Snapshot) Extra(key string) (string, bool) {
	v, ok := s.extra[key]
	return v, ok
}

// Keys recognized at the typed layer. Anything else is preserved verbatim.
const (
	KeyMode                 = "MODE"
	KeyNIC1                 = "NIC1"
	KeyNIC2                 = "NIC2"
	KeyBridgeName           = "BRIDGE_NAME"
	KeyMgmtIP               = "MGMT_IP"
	KeyMgmtGateway          = "MGMT_GATEWAY"
	KeyMgmtDNS              = "MGMT_DNS"
	KeyWebPort              = "WEB_PORT"
	KeyWebUser              = "WEB_USER"
	KeyWebPassHash          = "WEB_PASS_HASH"
	KeyWebPassSalt          = "WEB_PASS_SALT"
	KeyWebRole              = "WEB_ROLE"
	KeyTLSEnabled           = "TLS_ENABLED"
	KeyTLSCert              = "TLS_CERT"
	KeyTLSKey               = "TLS_KEY"
	KeyCaptureDir           = "CAPTURE_DIR"
	KeyCaptureRotateSeconds = "CAPTURE_ROTATE_SECONDS"
	KeyCaptureFileLimit     = "CAPTURE_FILE_LIMIT"
	KeyCaptureSnaplen       = "CAPTURE_SNAPLEN"
	KeyCaptureCompress      = "CAPTURE_COMPRESS"
	KeyCaptureFilter        = "CAPTURE_FILTER"
	KeyRetentionDays        = "RETENTION_DAYS"
	KeyMinFreeDiskPct       = "MIN_FREE_DISK_PCT"
	KeyEventLogMaxSize      = "EVENT_LOG_MAX_SIZE"
	KeySuricataEnabled      = "SURICATA_ENABLED"
	KeySuricataEveLog       = "SURICATA_EVE_LOG"
	KeySuricataIface        = "SURICATA_IFACE"
	KeyZeekEnabled          = "ZEEK_ENABLED"
	KeyZeekLogDir           = "ZEEK_LOG_DIR"
	KeyZeekIface            = "ZEEK_IFACE"
)

// snapshotFromValues builds a typed Snapshot from raw key/value pairs,
// applying defaults for absent keys. It does not validate; callers run
// validation on the result.
func snapshotFromValues(values map[string]string) (*Snapshot, error) {
	s := &Snapshot{
		BridgeName:           DefaultBridgeName,
		WebPort:              DefaultWebPort,
		WebRole:              "admin",
		CaptureRotateSeconds: DefaultRotateSeconds,
		CaptureFileLimit:     DefaultFileLimit,
		CaptureSnaplen:       DefaultSnaplen,
		RetentionDays:        DefaultRetentionDays,
		MinFreeDiskPct:       DefaultMinFreeDiskPct,
		EventLogMaxSize:      DefaultEventLogMaxSize,
		extra:                make(map[string]string),
	}

	for key, val := range values {
		var err error
		switch key {
		case KeyMode:
			s.Mode = Mode(strings.ToLower(val))
		case KeyNIC1:
			s.NIC1 = val
		case KeyNIC2:
			s.NIC2 = val
		case KeyBridgeName:
			s.BridgeName = val
		case KeyMgmtIP:
			s.MgmtIP = val
		case KeyMgmtGateway:
			s.MgmtGateway = val
		case KeyMgmtDNS:
			s.MgmtDNS = val
		case KeyWebPort:
			s.WebPort, err = parseInt(key, val)
		case KeyWebUser:
			s.WebUser = val
		case KeyWebPassHash:
			s.WebPassHash = val
		case KeyWebPassSalt:
			s.WebPassSalt = val
		case KeyWebRole:
			s.WebRole = strings.ToLower(val)
		case KeyTLSEnabled:
			s.TLSEnabled = parseBool(val)
		case KeyTLSCert:
			s.TLSCert = val
		case KeyTLSKey:
			s.TLSKey = val
		case KeyCaptureDir:
			s.CaptureDir = val
		case KeyCaptureRotateSeconds:
			s.CaptureRotateSeconds, err = parseInt(key, val)
		case KeyCaptureFileLimit:
			s.CaptureFileLimit, err = parseInt(key, val)
		case KeyCaptureSnaplen:
			s.CaptureSnaplen, err = parseInt(key, val)
		case KeyCaptureCompress:
			s.CaptureCompress = parseBool(val)
		case KeyCaptureFilter:
			s.CaptureFilter = val
		case KeyRetentionDays:
			s.RetentionDays, err = parseInt(key, val)
		case KeyMinFreeDiskPct:
			s.MinFreeDiskPct, err = parseInt(key, val)
		case KeyEventLogMaxSize:
			s.EventLogMaxSize, err = parseSize(key, val)
		case KeySuricataEnabled:
			s.SuricataEnabled = parseBool(val)
		case KeySuricataEveLog:
			s.SuricataEveLog = val
		case KeySuricataIface:
			s.SuricataIface = val
		case KeyZeekEnabled:
			s.ZeekEnabled = parseBool(val)
		case KeyZeekLogDir:
			s.ZeekLogDir = val
		case KeyZeekIface:
			s.ZeekIface = val
		default:
			s.extra[key] = val
		}
		if err != nil {
			return nil, err
		}
	}

	if s.SuricataIface == "" {
		s.SuricataIface = s.CaptureInterface()
	}
	if s.ZeekIface == "" {
		s.ZeekIface = s.CaptureInterface()
	}

	return s, nil
}

func parseInt(key, val string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0, &InvalidConfigError{Key: key, Reason: fmt.Sprintf("not an integer: %q", val)}
	}
	return n, nil
}

func parseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on", "enabled":
		return true
	default:
		return false
	}
}

func parseSize(key, val string) (bytesize.ByteSize, error) {
	sz, err := bytesize.Parse(val)
	if err != nil {
		return 0, &InvalidConfigError{Key: key, Reason: err.Error()}
	}
	return sz, nil
}

// validateSnapshot applies both struct-tag validation and the cross-field
// invariants the tags cannot express.
func validateSnapshot(s *Snapshot) error {
	if err := validate.Struct(s); err != nil {
		return &InvalidConfigError{Reason: err.Error()}
	}

	for key, p := range map[string]string{
		KeyCaptureDir:     s.CaptureDir,
		KeySuricataEveLog: s.SuricataEveLog,
		KeyZeekLogDir:     s.ZeekLogDir,
		KeyTLSCert:        s.TLSCert,
		KeyTLSKey:         s.TLSKey,
	} {
		if p != "" && !filepath.IsAbs(p) {
			return &InvalidConfigError{Key: key, Reason: fmt.Sprintf("path must be absolute: %q", p)}
		}
	}

	if s.Mode == ModeSpan && s.NIC1 == s.NIC2 {
		return &InvalidConfigError{Key: KeyNIC2, Reason: "capture and management interfaces must differ in span mode"}
	}
	if s.SuricataEnabled && s.SuricataEveLog == "" {
		return &InvalidConfigError{Key: KeySuricataEveLog, Reason: "required when SURICATA_ENABLED"}
	}
	if s.ZeekEnabled && s.ZeekLogDir == "" {
		return &InvalidConfigError{Key: KeyZeekLogDir, Reason: "required when ZEEK_ENABLED"}
	}
	if s.TLSEnabled && (s.TLSCert == "" || s.TLSKey == "") {
		return &InvalidConfigError{Key: KeyTLSEnabled, Reason: "TLS_CERT and TLS_KEY required when TLS_ENABLED"}
	}

	return nil
}

// InvalidConfigError reports a configuration value that failed validation.
type InvalidConfigError struct {
	Key    string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("invalid config: %s", e.Reason)
	}
	return fmt.Sprintf("invalid config: %s: %s", e.Key, e.Reason)
}
