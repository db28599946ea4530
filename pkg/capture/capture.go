// Package capture is a thin facade over the external capture service
// and the pcap directory it writes. It never runs tcpdump itself: it
// issues service actions through the host adapter and inspects the
// on-disk artifacts.
package capture

import (
	"errors"
	"regexp"
	"time"
)

// Artifact is one rotated (or in-progress) capture file. Name is the
// path relative to the capture root and doubles as the download handle.
type Artifact struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"mtime"`
	Compressed bool      `json:"compressed"`

	path string
}

// Status is the supervisor's composite view: service state plus the
// most recent artifacts.
type Status struct {
	Running     bool       `json:"running"`
	Since       time.Time  `json:"since,omitempty"`
	ActiveFile  *Artifact  `json:"active_file,omitempty"`
	RecentFiles []Artifact `json:"recent_files"`
}

// ErrAlreadyRunning is returned by Start when the capture service is
// already active.
var ErrAlreadyRunning = errors.New("capture already running")

// artifactName matches the rotation naming scheme,
// capture_YYYYMMDD_HHMMSS.pcap with an optional .gz suffix.
var artifactName = regexp.MustCompile(`^capture_\d{8}_\d{6}\.pcap(\.gz)?$`)
