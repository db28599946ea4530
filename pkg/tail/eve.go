package tail

import (
	"encoding/json"
	"time"

	"github.com/networktap/networktap/pkg/events"
)

// eveTimeLayout is Suricata's EVE timestamp format. The offset carries
// no colon, so RFC3339 alone does not parse it.
const eveTimeLayout = "2006-01-02T15:04:05.999999-0700"

type eveRecord struct {
	Timestamp string `json:"timestamp"`
	EventType string `json:"event_type"`
	SrcIP     string `json:"src_ip"`
	SrcPort   int    `json:"src_port"`
	DestIP    string `json:"dest_ip"`
	DestPort  int    `json:"dest_port"`
	Proto     string `json:"proto"`
	Alert     struct {
		Signature string `json:"signature"`
		Severity  int    `json:"severity"`
	} `json:"alert"`
}

// ParseEVE extracts alert records from a Suricata EVE JSON line. Lines
// with any other event_type (flow, stats, dns, ...) are valid but
// skipped.
func ParseEVE(line []byte) (events.Alert, bool, error) {
	var rec eveRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return events.Alert{}, false, err
	}
	if rec.EventType != "alert" {
		return events.Alert{}, false, nil
	}

	ts, err := time.Parse(eveTimeLayout, rec.Timestamp)
	if err != nil {
		if ts, err = time.Parse(time.RFC3339Nano, rec.Timestamp); err != nil {
			ts = time.Now()
		}
	}

	raw := make(json.RawMessage, len(line))
	copy(raw, line)

	return events.Alert{
		Source:    events.SourceSuricata,
		Timestamp: ts.UTC(),
		Severity:  rec.Alert.Severity,
		Signature: rec.Alert.Signature,
		SrcIP:     rec.SrcIP,
		DstIP:     rec.DestIP,
		SrcPort:   rec.SrcPort,
		DstPort:   rec.DestPort,
		Proto:     rec.Proto,
		Raw:       raw,
	}, true, nil
}
