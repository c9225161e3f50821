package newsgate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratus/internal/strategy"
)

const sampleVerdict = `{
  "ok": true,
  "blocked_sides": {"long": true, "short": false},
  "reasons": {"long": ["fomc decision in 30m"], "short": []},
  "generated_at": "2025-06-01T11:30:00Z"
}`

func TestParseVerdict(t *testing.T) {
	v, err := ParseVerdict([]byte(sampleVerdict))
	require.NoError(t, err)
	assert.True(t, v.OK)
	assert.True(t, v.BlockedLong)
	assert.False(t, v.BlockedShort)
	assert.Equal(t, []string{"fomc decision in 30m"}, v.ReasonsLong)
	assert.Equal(t, 2025, v.GeneratedAt.Year())
}

func TestParseVerdictRejectsBadShape(t *testing.T) {
	_, err := ParseVerdict([]byte(`{"ok": true}`))
	assert.Error(t, err, "missing blocked_sides must fail the schema")

	_, err = ParseVerdict([]byte(`{"ok": "yes", "blocked_sides": {"long": false, "short": false}}`))
	assert.Error(t, err)

	_, err = ParseVerdict([]byte(`not json`))
	assert.Error(t, err)
}

func writeVerdict(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileGateBlockedPerSide(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "verdict.json")
	writeVerdict(t, path, sampleVerdict)

	gate, err := NewFileGate(Config{Path: path})
	require.NoError(t, err)
	defer gate.Close()

	blocked, reasons := gate.Blocked(strategy.SideLong)
	assert.True(t, blocked)
	assert.NotEmpty(t, reasons)

	blocked, _ = gate.Blocked(strategy.SideShort)
	assert.False(t, blocked)
}

func TestFileGateReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "verdict.json")
	writeVerdict(t, path, sampleVerdict)

	gate, err := NewFileGate(Config{Path: path})
	require.NoError(t, err)
	defer gate.Close()

	writeVerdict(t, path, `{"ok": true, "blocked_sides": {"long": false, "short": true}}`)

	// the watcher delivers asynchronously
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if blocked, _ := gate.Blocked(strategy.SideShort); blocked {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	blocked, _ := gate.Blocked(strategy.SideShort)
	assert.True(t, blocked)
	blocked, _ = gate.Blocked(strategy.SideLong)
	assert.False(t, blocked)
}

func TestFileGateMissingVerdict(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.json")

	failOpen, err := NewFileGate(Config{Path: path})
	require.NoError(t, err)
	defer failOpen.Close()
	blocked, _ := failOpen.Blocked(strategy.SideLong)
	assert.False(t, blocked, "fail open by default")

	failClosed, err := NewFileGate(Config{Path: path, BlockOnMissing: true})
	require.NoError(t, err)
	defer failClosed.Close()
	blocked, reasons := failClosed.Blocked(strategy.SideLong)
	assert.True(t, blocked)
	assert.Equal(t, []string{"news verdict unavailable"}, reasons)
}

func TestNotOKBlocksBothSides(t *testing.T) {
	v, err := ParseVerdict([]byte(`{"ok": false, "blocked_sides": {"long": false, "short": false}}`))
	require.NoError(t, err)

	gate := &FileGate{}
	gate.setVerdict(v)
	blocked, reasons := gate.Blocked(strategy.SideLong)
	assert.True(t, blocked)
	assert.NotEmpty(t, reasons)
	blocked, _ = gate.Blocked(strategy.SideShort)
	assert.True(t, blocked)
}

func TestStaleVerdictTreatedAsMissing(t *testing.T) {
	v, err := ParseVerdict([]byte(sampleVerdict)) // generated_at 2025-06-01
	require.NoError(t, err)

	gate := &FileGate{cfg: Config{MaxAge: time.Hour, BlockOnMissing: true}}
	gate.setVerdict(v)
	assert.Nil(t, gate.Current())
	blocked, _ := gate.Blocked(strategy.SideShort)
	assert.True(t, blocked)
}
