// Package events implements the in-process alert bus: a fan-out from the
// log followers to websocket subscribers and the recent-event ring.
package events

import (
	"encoding/json"
	"time"
)

// Source identifies which engine produced an alert.
type Source string

const (
	SourceSuricata Source = "suricata"
	SourceZeek     Source = "zeek"
	SourceAnomaly  Source = "anomaly"
)

// Valid reports whether the source is one the bus tracks.
func (s Source) Valid() bool {
	switch s {
	case SourceSuricata, SourceZeek, SourceAnomaly:
		return true
	}
	return false
}

// Alert is one normalized event on the bus. Alerts are immutable after
// publish; the ID is assigned by the bus, monotonic per source.
type Alert struct {
	ID        uint64          `json:"id"`
	Source    Source          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Severity  int             `json:"severity"`
	Signature string          `json:"signature"`
	SrcIP     string          `json:"src_ip,omitempty"`
	DstIP     string          `json:"dst_ip,omitempty"`
	SrcPort   int             `json:"src_port,omitempty"`
	DstPort   int             `json:"dst_port,omitempty"`
	Proto     string          `json:"proto,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// Filter narrows a subscription. The zero value matches everything.
type Filter struct {
	Source      Source `json:"source,omitempty"`
	MinSeverity int    `json:"min_severity,omitempty"`
}

// Match reports whether the alert passes the filter.
func (f Filter) Match(a Alert) bool {
	if f.Source != "" && a.Source != f.Source {
		return false
	}
	if f.MinSeverity > 0 && a.Severity < f.MinSeverity {
		return false
	}
	return true
}
