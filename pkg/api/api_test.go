package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/networktap/networktap/pkg/auth"
	"github.com/networktap/networktap/pkg/capture"
	"github.com/networktap/networktap/pkg/config"
	"github.com/networktap/networktap/pkg/events"
	"github.com/networktap/networktap/pkg/host"
	"github.com/networktap/networktap/pkg/host/hosttest"
	"github.com/networktap/networktap/pkg/mode"
	"github.com/networktap/networktap/pkg/retention"
	"github.com/networktap/networktap/pkg/stats"
	"github.com/networktap/networktap/pkg/tail"
)

const testPassword = "tap-me-gently"

type testEnv struct {
	srv   *httptest.Server
	store *config.Store
	fake  *hosttest.Fake
	bus   *events.Bus
	dirs  struct {
		capture string
		zeek    string
		eve     string
	}
}

func newTestEnv(t *testing.T, role string) *testEnv {
	t.Helper()

	env := &testEnv{}
	env.dirs.capture = t.TempDir()
	env.dirs.zeek = t.TempDir()
	env.dirs.eve = filepath.Join(t.TempDir(), "eve.json")

	salt, hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)

	confPath := filepath.Join(t.TempDir(), "networktap.conf")
	conf := fmt.Sprintf(`MODE=span
NIC1=eth0
NIC2=eth1
WEB_USER=admin
WEB_PASS_SALT=%s
WEB_PASS_HASH=%s
WEB_ROLE=%s
CAPTURE_DIR=%s
SURICATA_ENABLED=yes
SURICATA_EVE_LOG=%s
ZEEK_ENABLED=yes
ZEEK_LOG_DIR=%s
`, salt, hash, role, env.dirs.capture, env.dirs.eve, env.dirs.zeek)
	require.NoError(t, os.WriteFile(confPath, []byte(conf), 0640))

	env.store, err = config.Load(confPath)
	require.NoError(t, err)

	env.fake = &hosttest.Fake{}
	env.fake.SetState(host.ServiceCapture, host.StateInactive)
	env.fake.SetState(host.ServiceSuricata, host.StateActive)

	env.bus = events.New()
	t.Cleanup(env.bus.Close)

	reader := tail.NewReader()
	snap := func() *config.Snapshot { return env.store.Get() }
	deps := Deps{
		Store:     env.store,
		Host:      env.fake,
		Capture:   capture.New(env.fake, func() string { return snap().CaptureDir }),
		Retention: retention.New(env.fake, snap),
		Mode:      mode.New(env.fake, env.store),
		Bus:       env.bus,
		Reader:    reader,
		Gate:      auth.New(snap),
		Sampler:   stats.NewSampler(func() string { return snap().CaptureDir }),
		Zeek:      stats.NewZeek(reader, func() string { return snap().ZeekLogDir }),
		Hub:       NewHub(),
		Version:   "test",
		StartedAt: time.Now(),
	}

	env.srv = httptest.NewServer(NewRouter(deps))
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, authed bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	if authed {
		req.SetBasicAuth("admin", testPassword)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeData(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	var env struct {
		Data json.RawMessage `json:"data"`
		Meta *Meta           `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	if out != nil {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
}

func decodeError(t *testing.T, resp *http.Response) Error {
	t.Helper()
	defer resp.Body.Close()
	var body struct {
		Error Error `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func TestHealthIsUnauthenticated(t *testing.T) {
	env := newTestEnv(t, "admin")

	resp := env.do(t, http.MethodGet, "/health", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	decodeData(t, resp, &body)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "test", body.Version)
}

func TestMetricsRequiresAuth(t *testing.T) {
	env := newTestEnv(t, "viewer")

	resp := env.do(t, http.MethodGet, "/metrics", nil, false)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/metrics", nil, true)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "networktap_")
}

func TestMissingCredentials(t *testing.T) {
	env := newTestEnv(t, "admin")

	resp := env.do(t, http.MethodGet, "/system/status", nil, false)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	e := decodeError(t, resp)
	assert.Equal(t, KindUnauthenticated, e.Kind)
}

func TestWrongPassword(t *testing.T) {
	env := newTestEnv(t, "admin")

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/system/status", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "wrong")
	resp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSystemStatus(t *testing.T) {
	env := newTestEnv(t, "admin")

	resp := env.do(t, http.MethodGet, "/system/status", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Services []host.ServiceStatus `json:"services"`
		Mode     string               `json:"mode"`
		MemTotal uint64               `json:"mem_total"`
	}
	decodeData(t, resp, &body)
	assert.Equal(t, "span", body.Mode)
	assert.NotZero(t, body.MemTotal)
	require.Len(t, body.Services, 4)

	byName := map[string]host.ServiceState{}
	for _, s := range body.Services {
		byName[s.Name] = s.State
	}
	assert.Equal(t, host.StateActive, byName[host.ServiceSuricata])
	assert.Equal(t, host.StateInactive, byName[host.ServiceCapture])
}

func TestViewerCannotMutate(t *testing.T) {
	env := newTestEnv(t, "viewer")

	// Reads are allowed.
	resp := env.do(t, http.MethodGet, "/capture/status", nil, true)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Mutations are not.
	resp = env.do(t, http.MethodPost, "/capture/start", nil, true)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	e := decodeError(t, resp)
	assert.Equal(t, KindForbidden, e.Kind)
}

func TestCaptureLifecycle(t *testing.T) {
	env := newTestEnv(t, "admin")

	resp := env.do(t, http.MethodPost, "/capture/start", nil, true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var st capture.Status
	decodeData(t, resp, &st)
	assert.True(t, st.Running)

	// Second start conflicts.
	resp = env.do(t, http.MethodPost, "/capture/start", nil, true)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	e := decodeError(t, resp)
	assert.Equal(t, KindConflict, e.Kind)

	resp = env.do(t, http.MethodPost, "/capture/stop", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, resp, &st)
	assert.False(t, st.Running)
}

func TestConfigViewHidesSecrets(t *testing.T) {
	env := newTestEnv(t, "admin")

	resp := env.do(t, http.MethodGet, "/config", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view map[string]string
	decodeData(t, resp, &view)
	assert.Equal(t, "span", view["MODE"])
	assert.NotContains(t, view, "WEB_PASS_HASH")
	assert.NotContains(t, view, "WEB_PASS_SALT")
}

func TestConfigPatch(t *testing.T) {
	env := newTestEnv(t, "admin")

	resp := env.do(t, http.MethodPatch, "/config",
		strings.NewReader(`{"RETENTION_DAYS": "14"}`), true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 14, env.store.Get().RetentionDays)

	// Invalid values are rejected and nothing changes.
	resp = env.do(t, http.MethodPatch, "/config",
		strings.NewReader(`{"WEB_PORT": "99999"}`), true)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	e := decodeError(t, resp)
	assert.Equal(t, KindInvalidConfig, e.Kind)

	// Mode changes must go through the dedicated endpoint.
	resp = env.do(t, http.MethodPatch, "/config",
		strings.NewReader(`{"MODE": "bridge"}`), true)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, config.ModeSpan, env.store.Get().Mode)
}

func TestModeSwitchEndpoint(t *testing.T) {
	env := newTestEnv(t, "admin")

	resp := env.do(t, http.MethodPost, "/config/mode",
		strings.NewReader(`{"mode": "bridge"}`), true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res mode.Result
	decodeData(t, resp, &res)
	assert.Equal(t, config.ModeSpan, res.From)
	assert.Equal(t, config.ModeBridge, res.To)
	assert.Equal(t, []string{"stopping", "reconfiguring", "starting"}, res.StagesCompleted)

	resp = env.do(t, http.MethodGet, "/config/mode", nil, true)
	var st mode.Status
	decodeData(t, resp, &st)
	assert.Equal(t, config.ModeBridge, st.Mode)
}

func TestPasswordRotation(t *testing.T) {
	env := newTestEnv(t, "admin")

	resp := env.do(t, http.MethodPost, "/config/password",
		strings.NewReader(`{"password": "a-new-passphrase"}`), true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Old credentials stop working immediately.
	resp = env.do(t, http.MethodGet, "/system/status", nil, true)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/system/status", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "a-new-passphrase")
	resp2, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestPasswordTooShort(t *testing.T) {
	env := newTestEnv(t, "admin")

	resp := env.do(t, http.MethodPost, "/config/password",
		strings.NewReader(`{"password": "short"}`), true)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	e := decodeError(t, resp)
	assert.Equal(t, KindValidation, e.Kind)
}

func TestAlertsFromEveLog(t *testing.T) {
	env := newTestEnv(t, "admin")

	var lines strings.Builder
	for _, sig := range []string{"A", "B", "C"} {
		fmt.Fprintf(&lines,
			`{"timestamp":"2026-01-05T10:04:0%d.000000+0000","event_type":"alert","src_ip":"10.0.0.5","dest_ip":"10.0.0.9","alert":{"signature":%q,"severity":2}}`+"\n",
			len(sig), sig)
	}
	lines.WriteString(`{"timestamp":"2026-01-05T10:04:05.000000+0000","event_type":"flow"}` + "\n")
	require.NoError(t, os.WriteFile(env.dirs.eve, []byte(lines.String()), 0644))

	resp := env.do(t, http.MethodGet, "/alerts?source=suricata", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var alerts []events.Alert
	decodeData(t, resp, &alerts)
	require.Len(t, alerts, 3)
	assert.Equal(t, "A", alerts[0].Signature)
	assert.Equal(t, "10.0.0.5", alerts[0].SrcIP)
}

func TestAlertsBadSource(t *testing.T) {
	env := newTestEnv(t, "admin")

	resp := env.do(t, http.MethodGet, "/alerts?source=wireshark", nil, true)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestZeekLogsRejectsTraversal(t *testing.T) {
	env := newTestEnv(t, "admin")

	resp := env.do(t, http.MethodGet, "/zeek/logs/..%2F..%2Fetc%2Fpasswd", nil, true)
	defer resp.Body.Close()
	assert.True(t, resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound,
		"got %d", resp.StatusCode)
}

func TestPcapListAndDownload(t *testing.T) {
	env := newTestEnv(t, "admin")
	archive := filepath.Join(env.dirs.capture, "archive")
	require.NoError(t, os.MkdirAll(archive, 0755))
	payload := []byte("fake pcap bytes for range testing")
	require.NoError(t, os.WriteFile(filepath.Join(archive, "capture_20260105_090000.pcap"), payload, 0644))

	resp := env.do(t, http.MethodGet, "/pcaps", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body pcapListBody
	decodeData(t, resp, &body)
	require.Equal(t, 1, body.Total)
	assert.Equal(t, "archive/capture_20260105_090000.pcap", body.Files[0].Name)

	// Full download.
	resp = env.do(t, http.MethodGet, "/pcaps/archive/capture_20260105_090000.pcap", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Byte range.
	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/pcaps/archive/capture_20260105_090000.pcap", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", testPassword)
	req.Header.Set("Range", "bytes=0-3")
	resp2, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusPartialContent, resp2.StatusCode)
	got, err = io.ReadAll(resp2.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("fake"), got)
}

func TestPcapDownloadEscapeForbidden(t *testing.T) {
	env := newTestEnv(t, "admin")

	tests := []struct {
		name string
		path string
	}{
		{"encoded traversal", "/pcaps/..%2F..%2Fetc%2Fpasswd"},
		{"plain traversal", "/pcaps/../../etc/passwd"},
		{"encoded absolute", "/pcaps/%2Fetc%2Fpasswd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, tt.path, nil, true)
			defer resp.Body.Close()
			require.Equal(t, http.StatusForbidden, resp.StatusCode)

			e := decodeError(t, resp)
			assert.Equal(t, KindForbidden, e.Kind)
		})
	}
}

func TestRebootRequiresConfirmHeader(t *testing.T) {
	env := newTestEnv(t, "admin")

	resp := env.do(t, http.MethodPost, "/system/reboot", nil, true)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/system/reboot", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", testPassword)
	req.Header.Set(confirmRebootHeader, "yes")
	resp2, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp2.StatusCode)

	var rebooted bool
	for _, c := range env.fake.Calls() {
		if c.Op == "reboot" {
			rebooted = true
		}
	}
	assert.True(t, rebooted)
}

func TestServiceActionAllowlist(t *testing.T) {
	env := newTestEnv(t, "admin")

	resp := env.do(t, http.MethodPost, "/system/service/sshd/stop", nil, true)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/system/service/suricata/restart", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st host.ServiceStatus
	decodeData(t, resp, &st)
	assert.Equal(t, host.StateActive, st.State)
}

func TestRetentionRunEndpoint(t *testing.T) {
	env := newTestEnv(t, "admin")

	resp := env.do(t, http.MethodPost, "/retention/run", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rep retention.Report
	decodeData(t, resp, &rep)
	assert.Empty(t, rep.Deleted)
}

func TestMutationRateLimit(t *testing.T) {
	env := newTestEnv(t, "admin")

	var throttled bool
	for i := 0; i < 30; i++ {
		resp := env.do(t, http.MethodPost, "/capture/stop", nil, true)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			throttled = true
			break
		}
	}
	assert.True(t, throttled, "expected a 429 within 30 rapid mutations")
}

func TestStatsEndpoints(t *testing.T) {
	env := newTestEnv(t, "admin")
	require.NoError(t, os.WriteFile(filepath.Join(env.dirs.zeek, "conn.log"),
		[]byte(`{"ts":1767607441.0,"proto":"tcp","service":"http","id.orig_h":"10.0.0.2","id.resp_h":"10.0.0.3","orig_bytes":10,"resp_bytes":20}`+"\n"), 0644))

	resp := env.do(t, http.MethodGet, "/stats/protocols", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var protos []stats.CountEntry
	decodeData(t, resp, &protos)
	require.Len(t, protos, 1)
	assert.Equal(t, "tcp", protos[0].Name)

	resp = env.do(t, http.MethodGet, "/stats/talkers", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestCachedResponsesCarryMeta(t *testing.T) {
	env := newTestEnv(t, "admin")

	resp := env.do(t, http.MethodGet, "/capture/status", nil, true)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envl struct {
		Meta *Meta `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envl))
	require.NotNil(t, envl.Meta)
	assert.True(t, envl.Meta.Cached)
	assert.Equal(t, int64(5000), envl.Meta.TTLMs)
}
