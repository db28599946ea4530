package tail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/networktap/networktap/pkg/events"
)

const eveAlertLine = `{"timestamp":"2026-01-05T10:04:01.123456+0000","event_type":"alert","src_ip":"10.0.0.5","src_port":44231,"dest_ip":"192.168.1.10","dest_port":443,"proto":"TCP","alert":{"action":"allowed","signature_id":2100498,"signature":"GPL ATTACK_RESPONSE id check returned root","severity":1}}`

func TestParseEVEAlert(t *testing.T) {
	a, ok, err := ParseEVE([]byte(eveAlertLine))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, events.SourceSuricata, a.Source)
	assert.Equal(t, "GPL ATTACK_RESPONSE id check returned root", a.Signature)
	assert.Equal(t, 1, a.Severity)
	assert.Equal(t, "10.0.0.5", a.SrcIP)
	assert.Equal(t, "192.168.1.10", a.DstIP)
	assert.Equal(t, 44231, a.SrcPort)
	assert.Equal(t, 443, a.DstPort)
	assert.Equal(t, "TCP", a.Proto)

	want := time.Date(2026, 1, 5, 10, 4, 1, 123456000, time.UTC)
	assert.True(t, a.Timestamp.Equal(want), "got %v", a.Timestamp)
	assert.JSONEq(t, eveAlertLine, string(a.Raw))
}

func TestParseEVESkipsOtherEventTypes(t *testing.T) {
	for _, line := range []string{
		`{"timestamp":"2026-01-05T10:04:01.000000+0000","event_type":"flow","src_ip":"10.0.0.5"}`,
		`{"timestamp":"2026-01-05T10:04:01.000000+0000","event_type":"stats"}`,
		`{"timestamp":"2026-01-05T10:04:01.000000+0000","event_type":"dns","dns":{"type":"query"}}`,
	} {
		_, ok, err := ParseEVE([]byte(line))
		assert.NoError(t, err)
		assert.False(t, ok, "line should be skipped: %s", line)
	}
}

func TestParseEVEMalformed(t *testing.T) {
	_, _, err := ParseEVE([]byte(`{"event_type": "alert",`))
	assert.Error(t, err)
}

func TestParseEVERFC3339Timestamp(t *testing.T) {
	line := `{"timestamp":"2026-01-05T10:04:01.5Z","event_type":"alert","alert":{"signature":"x","severity":3}}`
	a, ok, err := ParseEVE([]byte(line))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 500*time.Millisecond,
		time.Duration(a.Timestamp.Nanosecond()))
}

func TestParseNoticeEpochTimestamp(t *testing.T) {
	line := `{"ts":1767607441.25,"note":"Scan::Port_Scan","msg":"10.0.0.9 scanned 50 ports","src":"10.0.0.9","dst":"192.168.1.1","proto":"tcp"}`

	a, ok, err := ParseNotice([]byte(line))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, events.SourceZeek, a.Source)
	assert.Equal(t, "Scan::Port_Scan", a.Signature)
	assert.Equal(t, "10.0.0.9", a.SrcIP)
	assert.Equal(t, "192.168.1.1", a.DstIP)
	assert.Equal(t, int64(1767607441), a.Timestamp.Unix())
	assert.Equal(t, 250*time.Millisecond,
		time.Duration(a.Timestamp.Nanosecond()).Round(time.Millisecond))
}

func TestParseNoticeConnFallback(t *testing.T) {
	line := `{"ts":"2026-01-05T10:04:01Z","note":"SSL::Invalid_Server_Cert","id.orig_h":"10.0.0.2","id.orig_p":55000,"id.resp_h":"203.0.113.7","id.resp_p":443}`

	a, ok, err := ParseNotice([]byte(line))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "10.0.0.2", a.SrcIP)
	assert.Equal(t, "203.0.113.7", a.DstIP)
	assert.Equal(t, 55000, a.SrcPort)
	assert.Equal(t, 443, a.DstPort)
	assert.Equal(t, time.Date(2026, 1, 5, 10, 4, 1, 0, time.UTC), a.Timestamp)
}

func TestParseNoticeSkipsNoteless(t *testing.T) {
	_, ok, err := ParseNotice([]byte(`{"ts":1767607441.0,"uid":"C1x2y3"}`))
	assert.NoError(t, err)
	assert.False(t, ok)
}
