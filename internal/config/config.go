package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/ubaish01/commune--client/internal/engine"
	"github.com/ubaish01/commune--client/internal/protocol"
	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultServer         = "ws://localhost:3000/ws"
	DefaultTransport      = TransportWebSocket
	DefaultCodec          = "json"
	DefaultSTUN           = "stun:stun.l.google.com:19302"
	DefaultRequestTimeout = 10 * time.Second
	DefaultStartBitrate   = 1000
)

// Signaling transports
const (
	TransportWebSocket = "websocket"
	TransportSocketIO  = "socketio"
)

// Encoding is one simulcast layer as written in the config file.
type Encoding struct {
	RID             string `yaml:"rid"`
	MaxBitrate      uint64 `yaml:"max_bitrate"`
	ScalabilityMode string `yaml:"scalability_mode"`
}

// Config holds application configuration
type Config struct {
	// ServerURL is the signaling endpoint
	ServerURL string `yaml:"server"`
	// Transport is "websocket" or "socketio"
	Transport string `yaml:"transport"`
	// Codec is the websocket envelope format, "json" or "msgpack"
	Codec string `yaml:"codec"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	MetricsAddr    string        `yaml:"metrics_addr"`

	// ICE servers for WebRTC
	STUNServer string `yaml:"stun"`
	TURNServer string `yaml:"turn"`
	TURNUser   string `yaml:"turn_username"`
	TURNPass   string `yaml:"turn_password"`
	ForceRelay bool   `yaml:"force_relay"`

	Encodings         []Encoding `yaml:"encodings"`
	VideoStartBitrate int        `yaml:"video_start_bitrate"`

	// DiscoveryConcurrency bounds parallel consumer negotiations
	DiscoveryConcurrency int    `yaml:"discovery_concurrency"`
	RecordDir            string `yaml:"record_dir"`
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigFile     string
	ServerURL      string
	Transport      string
	Codec          string
	RequestTimeout time.Duration
	MetricsAddr    string
	STUNServer     string
	TURNServer     string
	TURNUser       string
	TURNPass       string
	ForceRelay     bool
	RecordDir      string
}

// Default returns the built-in configuration: a local websocket server and
// three simulcast layers.
func Default() Config {
	return Config{
		ServerURL:      DefaultServer,
		Transport:      DefaultTransport,
		Codec:          DefaultCodec,
		RequestTimeout: DefaultRequestTimeout,
		STUNServer:     DefaultSTUN,
		Encodings: []Encoding{
			{RID: "r0", MaxBitrate: 100_000, ScalabilityMode: "S1T3"},
			{RID: "r1", MaxBitrate: 300_000, ScalabilityMode: "S1T3"},
			{RID: "r2", MaxBitrate: 900_000, ScalabilityMode: "S1T3"},
		},
		VideoStartBitrate: DefaultStartBitrate,
	}
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. YAML file from --config or COMMUNE_CONFIG
// 4. Defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := Default()

	path := opts.ConfigFile
	if path == "" {
		path = os.Getenv("COMMUNE_CONFIG")
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyFlags(&cfg, opts)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.ServerURL, "COMMUNE_SERVER")
	setString(&cfg.Transport, "COMMUNE_TRANSPORT")
	setString(&cfg.Codec, "COMMUNE_CODEC")
	setString(&cfg.MetricsAddr, "COMMUNE_METRICS_ADDR")
	setString(&cfg.STUNServer, "STUN_SERVER")
	setString(&cfg.TURNServer, "TURN_SERVER")
	setString(&cfg.TURNUser, "TURN_USERNAME")
	setString(&cfg.TURNPass, "TURN_PASSWORD")

	if v := os.Getenv("COMMUNE_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("COMMUNE_REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if v := os.Getenv("COMMUNE_FORCE_RELAY"); v != "" {
		relay, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("COMMUNE_FORCE_RELAY: %w", err)
		}
		cfg.ForceRelay = relay
	}
	return nil
}

func applyFlags(cfg *Config, opts Options) {
	if opts.ServerURL != "" {
		cfg.ServerURL = opts.ServerURL
	}
	if opts.Transport != "" {
		cfg.Transport = opts.Transport
	}
	if opts.Codec != "" {
		cfg.Codec = opts.Codec
	}
	if opts.RequestTimeout > 0 {
		cfg.RequestTimeout = opts.RequestTimeout
	}
	if opts.MetricsAddr != "" {
		cfg.MetricsAddr = opts.MetricsAddr
	}
	if opts.STUNServer != "" {
		cfg.STUNServer = opts.STUNServer
	}
	if opts.TURNServer != "" {
		cfg.TURNServer = opts.TURNServer
	}
	if opts.TURNUser != "" {
		cfg.TURNUser = opts.TURNUser
	}
	if opts.TURNPass != "" {
		cfg.TURNPass = opts.TURNPass
	}
	if opts.ForceRelay {
		cfg.ForceRelay = true
	}
	if opts.RecordDir != "" {
		cfg.RecordDir = opts.RecordDir
	}
}

// Validate checks values that cannot be fixed up silently.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server URL is empty")
	}
	switch c.Transport {
	case TransportWebSocket, TransportSocketIO:
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportWebSocket, TransportSocketIO)
	}
	switch c.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("unknown codec %q (want json or msgpack)", c.Codec)
	}
	if c.Transport == TransportSocketIO && c.Codec != "json" {
		return fmt.Errorf("codec %s is not available over socket.io", c.Codec)
	}
	if c.ForceRelay && c.TURNServer == "" {
		return errors.New("cannot force relay mode without TURN server configured")
	}
	for _, e := range c.Encodings {
		if e.MaxBitrate == 0 {
			return fmt.Errorf("encoding %q has no max_bitrate", e.RID)
		}
	}
	return nil
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
	}
}

// ICEServers returns the STUN and TURN servers for the media engine.
func (c *Config) ICEServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if c.STUNServer != "" {
		servers = append(servers, webrtc.ICEServer{URLs: []string{c.STUNServer}})
	}
	if turn := c.GetTURNServers(); turn != nil {
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return servers
}

// ICETransportPolicy is relay-only when ForceRelay is set.
func (c *Config) ICETransportPolicy() webrtc.ICETransportPolicy {
	if c.ForceRelay {
		return webrtc.ICETransportPolicyRelay
	}
	return webrtc.ICETransportPolicyAll
}

// SendEncodings converts the configured layers to wire encodings.
func (c *Config) SendEncodings() []protocol.RtpEncodingParameters {
	out := make([]protocol.RtpEncodingParameters, 0, len(c.Encodings))
	for _, e := range c.Encodings {
		out = append(out, protocol.RtpEncodingParameters{
			RID:             e.RID,
			MaxBitrate:      e.MaxBitrate,
			ScalabilityMode: e.ScalabilityMode,
		})
	}
	return out
}

func (c *Config) CodecOptions() engine.CodecOptions {
	return engine.CodecOptions{VideoGoogleStartBitrate: c.VideoStartBitrate}
}
