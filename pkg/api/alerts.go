package api

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/networktap/networktap/pkg/events"
	"github.com/networktap/networktap/pkg/host"
	"github.com/networktap/networktap/pkg/tail"
)

const (
	defaultAlertLimit = 100
	maxAlertLimit     = 500
)

// alerts serves GET /alerts and its /alerts/recent alias from bounded
// cached tails of the engine logs.
func (h *handlers) alerts(w http.ResponseWriter, r *http.Request) {
	limit, aerr := queryInt(r, "limit", defaultAlertLimit)
	if aerr != nil {
		Fail(w, r, aerr)
		return
	}
	if limit < 1 {
		limit = defaultAlertLimit
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}

	source := events.Source(r.URL.Query().Get("source"))
	if source != "" && !source.Valid() {
		Fail(w, r, Errf(KindValidation, "source must be suricata, zeek or anomaly"))
		return
	}

	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			Fail(w, r, Errf(KindValidation, "since must be RFC 3339"))
			return
		}
		since = t
	}

	snap := h.Store.Get()
	var alerts []events.Alert

	if source == "" || source == events.SourceSuricata {
		if snap.SuricataEnabled {
			got, err := h.Reader.Alerts(events.SourceSuricata, snap.SuricataEveLog, tail.DefaultTailBytes, tail.ParseEVE)
			if err != nil {
				Fail(w, r, err)
				return
			}
			alerts = append(alerts, got...)
		} else if source == events.SourceSuricata {
			Fail(w, r, Errf(KindSourceUnavailable, "suricata is disabled"))
			return
		}
	}
	if source == "" || source == events.SourceZeek {
		if snap.ZeekEnabled {
			got, err := h.Reader.Alerts(events.SourceZeek,
				filepath.Join(snap.ZeekLogDir, "notice.log"), tail.DefaultTailBytes, tail.ParseNotice)
			if err != nil {
				Fail(w, r, err)
				return
			}
			alerts = append(alerts, got...)
		} else if source == events.SourceZeek {
			Fail(w, r, Errf(KindSourceUnavailable, "zeek is disabled"))
			return
		}
	}

	if !since.IsZero() {
		filtered := alerts[:0:0]
		for _, a := range alerts {
			if a.Timestamp.After(since) {
				filtered = append(filtered, a)
			}
		}
		alerts = filtered
	}
	if len(alerts) > limit {
		alerts = alerts[len(alerts)-limit:]
	}
	if alerts == nil {
		alerts = []events.Alert{}
	}
	Cached(w, alerts, tail.CacheTTL)
}

// zeekLogType restricts the log selector to plain analyzer names.
var zeekLogType = regexp.MustCompile(`^[a-z0-9_]+$`)

const defaultZeekLogLimit = 100

// zeekLogs serves raw entries of one analyzer log, newest last.
func (h *handlers) zeekLogs(w http.ResponseWriter, r *http.Request) {
	logType := chi.URLParam(r, "type")
	if !zeekLogType.MatchString(logType) {
		Fail(w, r, Errf(KindValidation, "invalid log type"))
		return
	}

	limit, aerr := queryInt(r, "limit", defaultZeekLogLimit)
	if aerr != nil {
		Fail(w, r, aerr)
		return
	}
	if limit < 1 {
		limit = defaultZeekLogLimit
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}

	snap := h.Store.Get()
	if !snap.ZeekEnabled {
		Fail(w, r, Errf(KindSourceUnavailable, "zeek is disabled"))
		return
	}

	path, err := host.SafeJoin(snap.ZeekLogDir, logType+".log")
	if err != nil {
		Fail(w, r, err)
		return
	}
	lines, err := h.Reader.Lines(path, tail.DefaultTailBytes)
	if err != nil {
		Fail(w, r, err)
		return
	}

	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	entries := make([]json.RawMessage, 0, len(lines))
	for _, line := range lines {
		if json.Valid(line) {
			entries = append(entries, json.RawMessage(line))
		}
	}
	Cached(w, entries, tail.CacheTTL)
}
