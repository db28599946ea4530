package tail

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/networktap/networktap/pkg/events"
)

type zeekNotice struct {
	TS    json.RawMessage `json:"ts"`
	Note  string          `json:"note"`
	Msg   string          `json:"msg"`
	Src   string          `json:"src"`
	Dst   string          `json:"dst"`
	Proto string          `json:"proto"`
	OrigH string          `json:"id.orig_h"`
	OrigP int             `json:"id.orig_p"`
	RespH string          `json:"id.resp_h"`
	RespP int             `json:"id.resp_p"`
}

// ParseNotice extracts Zeek notice.log entries. The note name becomes
// the signature; notices carry no numeric severity, so a fixed midrange
// value keeps them visible without outranking IDS alerts.
func ParseNotice(line []byte) (events.Alert, bool, error) {
	var rec zeekNotice
	if err := json.Unmarshal(line, &rec); err != nil {
		return events.Alert{}, false, err
	}
	if rec.Note == "" {
		return events.Alert{}, false, nil
	}

	src, dst := rec.Src, rec.Dst
	if src == "" {
		src = rec.OrigH
	}
	if dst == "" {
		dst = rec.RespH
	}

	raw := make(json.RawMessage, len(line))
	copy(raw, line)

	return events.Alert{
		Source:    events.SourceZeek,
		Timestamp: parseZeekTS(rec.TS),
		Severity:  2,
		Signature: rec.Note,
		SrcIP:     src,
		DstIP:     dst,
		SrcPort:   rec.OrigP,
		DstPort:   rec.RespP,
		Proto:     rec.Proto,
		Raw:       raw,
	}, true, nil
}

// parseZeekTS accepts both Zeek timestamp encodings: epoch seconds as a
// JSON number, or ISO-8601 when the json-streaming plugin is active.
func parseZeekTS(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Now().UTC()
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UTC()
		}
		return time.Now().UTC()
	}

	epoch, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Now().UTC()
	}
	sec := int64(epoch)
	nsec := int64((epoch - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
