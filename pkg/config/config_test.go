package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `# NetworkTap appliance configuration
MODE=span
NIC1=eth0
NIC2=eth1

WEB_PORT=8443
WEB_USER=admin
WEB_PASS_HASH=abc123
WEB_PASS_SALT=def456

CAPTURE_DIR=/data/pcaps
CAPTURE_FILTER="not port 22 and host=weird"
RETENTION_DAYS=7
MIN_FREE_DISK_PCT=20

SURICATA_ENABLED=yes
SURICATA_EVE_LOG=/var/log/suricata/eve.json
ZEEK_ENABLED=no

# kept by an installer script, not ours
INSTALLER_VERSION=1.4.2
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "networktap.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0640))
	return path
}

func TestLoad(t *testing.T) {
	store, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	snap := store.Get()
	assert.Equal(t, ModeSpan, snap.Mode)
	assert.Equal(t, "eth0", snap.NIC1)
	assert.Equal(t, "eth1", snap.NIC2)
	assert.Equal(t, 8443, snap.WebPort)
	assert.Equal(t, "/data/pcaps", snap.CaptureDir)
	assert.True(t, snap.SuricataEnabled)
	assert.False(t, snap.ZeekEnabled)

	// quoted value containing '=' survives
	assert.Equal(t, "not port 22 and host=weird", snap.CaptureFilter)

	// defaults fill absent keys
	assert.Equal(t, DefaultBridgeName, snap.BridgeName)
	assert.Equal(t, DefaultRotateSeconds, snap.CaptureRotateSeconds)

	// unknown key preserved at the untyped layer
	v, ok := snap.Extra("INSTALLER_VERSION")
	assert.True(t, ok)
	assert.Equal(t, "1.4.2", v)
}

func TestDerivedInterfaces(t *testing.T) {
	store, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	snap := store.Get()
	assert.Equal(t, "eth0", snap.CaptureInterface())
	assert.Equal(t, "eth1", snap.ManagementInterface())

	_, err = store.Update(map[string]string{KeyMode: "bridge"})
	require.NoError(t, err)

	snap = store.Get()
	assert.Equal(t, "br0", snap.CaptureInterface())
	assert.Equal(t, "br0", snap.ManagementInterface())
}

func TestUpdateAtomicAndRoundTrip(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	store, err := Load(path)
	require.NoError(t, err)

	_, err = store.Update(map[string]string{KeyRetentionDays: "14"})
	require.NoError(t, err)
	assert.Equal(t, 14, store.Get().RetentionDays)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	// patched value rewritten, unknown key and comments untouched
	assert.Contains(t, content, "RETENTION_DAYS=14")
	assert.Contains(t, content, "INSTALLER_VERSION=1.4.2")
	assert.Contains(t, content, "# NetworkTap appliance configuration")
	assert.Contains(t, content, "# kept by an installer script, not ours")
}

func TestUpdateValidationFailureLeavesStateUnchanged(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	store, err := Load(path)
	require.NoError(t, err)

	before, err := os.ReadFile(path)
	require.NoError(t, err)
	snapBefore := store.Get()

	_, err = store.Update(map[string]string{KeyWebPort: "99999"})
	require.Error(t, err)

	var ice *InvalidConfigError
	assert.ErrorAs(t, err, &ice)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Same(t, snapBefore, store.Get())
}

func TestUpdateRejectsSameNICsInSpanMode(t *testing.T) {
	store, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	_, err = store.Update(map[string]string{KeyNIC2: "eth0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}

func TestNoOpUpdate(t *testing.T) {
	store, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	snap := store.Get()
	got, err := store.Update(nil)
	require.NoError(t, err)
	assert.Same(t, snap, got)
}

func TestModeChangeNotification(t *testing.T) {
	store, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	var gotOld, gotNew Mode
	store.OnModeChange(func(from, to Mode) {
		gotOld, gotNew = from, to
	})

	_, err = store.Update(map[string]string{KeyMode: "bridge"})
	require.NoError(t, err)
	assert.Equal(t, ModeSpan, gotOld)
	assert.Equal(t, ModeBridge, gotNew)

	// non-mode updates do not notify
	gotOld, gotNew = "", ""
	_, err = store.Update(map[string]string{KeyRetentionDays: "9"})
	require.NoError(t, err)
	assert.Empty(t, string(gotOld))
}

func TestReloadPicksUpExternalEdits(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	store, err := Load(path)
	require.NoError(t, err)

	edited := strings.Replace(sampleConfig, "RETENTION_DAYS=7", "RETENTION_DAYS=30", 1)
	require.NoError(t, os.WriteFile(path, []byte(edited), 0640))

	old := store.Get()
	require.NoError(t, store.Reload())

	assert.Equal(t, 30, store.Get().RetentionDays)
	// the old snapshot is still intact for holders
	assert.Equal(t, 7, old.RetentionDays)
}

func TestViewOmitsSecrets(t *testing.T) {
	store, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	view := store.View()
	assert.Equal(t, "span", view[KeyMode])
	assert.Equal(t, "1.4.2", view["INSTALLER_VERSION"])
	_, hasHash := view[KeyWebPassHash]
	_, hasSalt := view[KeyWebPassSalt]
	assert.False(t, hasHash)
	assert.False(t, hasSalt)
}

func TestInvalidLines(t *testing.T) {
	_, err := Load(writeConfig(t, "MODE=span\nNOT A KV LINE\n"))
	require.Error(t, err)
}

func TestWhitespaceAndQuotes(t *testing.T) {
	cfg := "MODE=span\nNIC1= eth0 \nNIC2='eth1'\nWEB_USER=admin\nCAPTURE_DIR=/data/pcaps\n"
	store, err := Load(writeConfig(t, cfg))
	require.NoError(t, err)

	snap := store.Get()
	assert.Equal(t, "eth0", snap.NIC1)
	assert.Equal(t, "eth1", snap.NIC2)
}
