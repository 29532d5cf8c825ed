package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"COMMUNE_CONFIG", "COMMUNE_SERVER", "COMMUNE_TRANSPORT", "COMMUNE_CODEC",
	"COMMUNE_METRICS_ADDR", "COMMUNE_REQUEST_TIMEOUT", "COMMUNE_FORCE_RELAY",
	"STUN_SERVER", "TURN_SERVER", "TURN_USERNAME", "TURN_PASSWORD",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "commune.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, DefaultServer, cfg.ServerURL)
	assert.Equal(t, TransportWebSocket, cfg.Transport)
	assert.Equal(t, "json", cfg.Codec)
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	assert.Equal(t, 1000, cfg.CodecOptions().VideoGoogleStartBitrate)

	enc := cfg.SendEncodings()
	require.Len(t, enc, 3)
	assert.Equal(t, "r0", enc[0].RID)
	assert.Equal(t, uint64(900_000), enc[2].MaxBitrate)
	assert.Equal(t, "S1T3", enc[1].ScalabilityMode)

	servers := cfg.ICEServers()
	require.Len(t, servers, 1)
	assert.Equal(t, []string{DefaultSTUN}, servers[0].URLs)
	assert.Equal(t, webrtc.ICETransportPolicyAll, cfg.ICETransportPolicy())
}

func TestLoadPriority(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
server: ws://file:1/ws
codec: msgpack
request_timeout: 3s
turn: turn:file.example
turn_username: fileuser
encodings:
  - rid: only
    max_bitrate: 500000
`)
	t.Setenv("COMMUNE_CONFIG", path)
	t.Setenv("COMMUNE_SERVER", "ws://env:2/ws")
	t.Setenv("TURN_USERNAME", "envuser")

	cfg, err := Load(Options{TURNUser: "flaguser", Codec: "json"})
	require.NoError(t, err)

	assert.Equal(t, "ws://env:2/ws", cfg.ServerURL)
	assert.Equal(t, "json", cfg.Codec)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "flaguser", cfg.TURNUser)
	require.Len(t, cfg.Encodings, 1)
	assert.Equal(t, "only", cfg.Encodings[0].RID)

	servers := cfg.ICEServers()
	require.Len(t, servers, 2)
	assert.Equal(t, "flaguser", servers[1].Username)
	assert.Contains(t, servers[1].URLs, "turn:file.example:3478?transport=udp")
}

func TestLoadFlagConfigFileWinsOverEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("COMMUNE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	path := writeFile(t, "transport: socketio\n")

	cfg, err := Load(Options{ConfigFile: path})
	require.NoError(t, err)
	assert.Equal(t, TransportSocketIO, cfg.Transport)
}

func TestLoadEmptyFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(Options{ConfigFile: writeFile(t, "")})
	require.NoError(t, err)
	assert.Equal(t, DefaultServer, cfg.ServerURL)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		opts Options
	}{
		{name: "missing file", opts: Options{ConfigFile: "/nonexistent/commune.yaml"}},
		{name: "bad transport", opts: Options{Transport: "carrier-pigeon"}},
		{name: "bad codec", opts: Options{Codec: "xml"}},
		{name: "msgpack over socketio", opts: Options{Transport: TransportSocketIO, Codec: "msgpack"}},
		{name: "relay without turn", opts: Options{ForceRelay: true}},
		{name: "bad timeout", env: map[string]string{"COMMUNE_REQUEST_TIMEOUT": "soon"}},
		{name: "bad relay flag", env: map[string]string{"COMMUNE_FORCE_RELAY": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestForceRelayPolicy(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(Options{ForceRelay: true, TURNServer: "turn:relay.example"})
	require.NoError(t, err)
	assert.Equal(t, webrtc.ICETransportPolicyRelay, cfg.ICETransportPolicy())
}
