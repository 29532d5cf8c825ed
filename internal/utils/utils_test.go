package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.50 KB", FormatSize(1536))
	assert.Equal(t, "2.00 MB", FormatSize(2*1024*1024))
}

func TestFormatBitrate(t *testing.T) {
	assert.Equal(t, "900 kbps", FormatBitrate(900_000))
	assert.Equal(t, "1.5 Mbps", FormatBitrate(1_500_000))
	assert.Equal(t, "12 bps", FormatBitrate(12))
}

func TestGetUniqueFilename(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "bob.ogg")
	assert.Equal(t, name, GetUniqueFilename(name))

	require.NoError(t, os.WriteFile(name, nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "bob (1).ogg"), GetUniqueFilename(name))
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "bob_smith", SafeName(" bob smith "))
	assert.Equal(t, "a_b_c", SafeName("a/b:c"))
	assert.Equal(t, "unnamed", SafeName("  "))
}

func TestFormatTimeDuration(t *testing.T) {
	assert.Equal(t, "42s", FormatTimeDuration(42*time.Second))
	assert.Equal(t, "2m 5s", FormatTimeDuration(125*time.Second))
	assert.Equal(t, "1h 0m 1s", FormatTimeDuration(time.Hour+time.Second))
}

func TestVPNHint(t *testing.T) {
	assert.Equal(t, "wg", vpnHint("wg0"))
	assert.Equal(t, "tun", vpnHint("utun3"))
	assert.Empty(t, vpnHint("eth0"))
}
