package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/ubaish01/commune--client/internal/conference"
	"github.com/ubaish01/commune--client/internal/config"
	"github.com/ubaish01/commune--client/internal/media"
	"github.com/ubaish01/commune--client/internal/protocol"
	"github.com/ubaish01/commune--client/internal/render"
	"github.com/ubaish01/commune--client/internal/ui"
	"github.com/ubaish01/commune--client/internal/utils"
)

var (
	flagName        string
	flagServer      string
	flagTransport   string
	flagCodec       string
	flagConfig      string
	flagTimeout     time.Duration
	flagVideo       string
	flagAudio       string
	flagLoop        bool
	flagRecordDir   string
	flagSTUN        string
	flagTURN        string
	flagTURNUser    string
	flagTURNPass    string
	flagRelay       bool
	flagMetricsAddr string
	flagPlain       bool
)

var joinCmd = &cobra.Command{
	Use:     "join <room>",
	Aliases: []string{"j"},
	Short:   "Join a room, publish local media and render everyone else",
	Long: `Join a conference room. Local audio and video are published from the given
files (or as idle tracks), and every other participant's media is consumed
and shown in the room view.

Examples:
  commune join standup --name alice
  commune join standup --name bob --video clip.ivf --audio voice.ogg --loop
  commune join standup --name carol --transport socketio --server http://localhost:3000
  commune join standup --name dave --record-dir ./recordings --plain`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room := strings.TrimSpace(args[0])
		if room == "" {
			return errors.New("room name must not be empty")
		}
		if strings.TrimSpace(flagName) == "" {
			return errors.New("--name must not be empty")
		}

		cfg, err := LoadConfig(config.Options{
			ConfigFile:     flagConfig,
			ServerURL:      flagServer,
			Transport:      flagTransport,
			Codec:          flagCodec,
			RequestTimeout: flagTimeout,
			MetricsAddr:    flagMetricsAddr,
			STUNServer:     flagSTUN,
			TURNServer:     flagTURN,
			TURNUser:       flagTURNUser,
			TURNPass:       flagTURNPass,
			ForceRelay:     flagRelay,
			RecordDir:      flagRecordDir,
		})
		if err != nil {
			return err
		}

		return joinRoom(cmd, room, strings.TrimSpace(flagName), cfg)
	},
}

func joinRoom(cmd *cobra.Command, room, name string, cfg *config.Config) error {
	ctx, cancel := contextWithCancel(cmd)
	defer cancel()

	if cfg.MetricsAddr != "" {
		startMetrics(ctx, cfg.MetricsAddr)
	}

	sp := ui.NewConnectionSpinner(fmt.Sprintf("Connecting to %s...", cfg.ServerURL))
	sp.Start()
	channel, err := DialSignaling(ctx, cfg)
	if err != nil {
		sp.Error("Could not reach the signaling server")
		return conference.NewError("connect to server", fmt.Errorf("%w: %w", conference.ErrSignaling, err))
	}
	defer channel.Close()
	sp.Success(fmt.Sprintf("Connected via %s", cfg.Transport))

	source := media.NewSource(media.Options{VideoFile: flagVideo, AudioFile: flagAudio, Loop: flagLoop})
	surface := render.NewSurface(render.Options{RecordDir: cfg.RecordDir})
	defer surface.Close()

	session, err := conference.NewSession(channel, NewDevice(cfg), acquireFrom(source), surface, conference.Options{
		Room:                   room,
		Name:                   name,
		Encodings:              cfg.SendEncodings(),
		CodecOptions:           cfg.CodecOptions(),
		DiscoveryConcurrency:   cfg.DiscoveryConcurrency,
		AwaitConnectionSuccess: true,
		ConnectionGrace:        connectionGrace,
	})
	if err != nil {
		return err
	}

	var published []string
	session.OnStateChange(func(state conference.State) {
		if state != conference.StateActive {
			return
		}
		for _, kind := range []protocol.MediaKind{protocol.KindAudio, protocol.KindVideo} {
			if p, ok := session.SendPath().Producer(kind); ok {
				published = append(published, fmt.Sprintf("%s (%s)", kind, p.ID()))
			}
		}
	})

	var (
		view    *ui.RoomView
		plainSp *ui.Spinner
	)
	if flagPlain {
		plainSp = followPlain(room, session, surface)
	} else {
		view = ui.NewRoomView(room, name, session, surface, cancel)
		view.Start()
	}

	started := time.Now()
	err = session.Run(ctx)
	if view != nil {
		view.Stop()
	}
	if plainSp != nil {
		plainSp.Stop()
	}
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = nil
	}

	ui.RenderSessionSummary(ui.SessionSummary{
		Room:      room,
		Name:      name,
		SocketID:  session.SocketID(),
		State:     session.State().String(),
		Duration:  time.Since(started),
		Producers: published,
		Layers:    cfg.SendEncodings(),
		Elements:  surface.History(),
	})
	return err
}

// followPlain shows a spinner until the room is joined, then prints state
// and roster changes as plain lines instead of running the room view.
func followPlain(room string, session *conference.Session, surface *render.Surface) *ui.Spinner {
	sp := ui.NewWaitingSpinner(fmt.Sprintf("Joining %s...", room))
	sp.Start()

	session.OnStateChange(func(state conference.State) {
		switch state {
		case conference.StateActive:
			sp.Success(fmt.Sprintf("Joined %s", room))
		case conference.StateFailed, conference.StateClosed:
			sp.Stop()
			ui.PrintInfof("session %s", state)
		default:
			sp.UpdateMessage(fmt.Sprintf("Joining %s (%s)...", room, state))
		}
	})
	surface.OnChange(func() {
		var names []string
		for _, el := range surface.Elements() {
			if !el.Hidden {
				names = append(names, el.Label)
			}
		}
		ui.PrintInfof("%d remote elements: %s", surface.Len(), strings.Join(names, ", "))
	})
	return sp
}

// applyRelayHint forces TURN-only media when a VPN or CGNAT interface is
// detected and a TURN server is available.
func applyRelayHint(cfg *config.Config) {
	if cfg.ForceRelay || cfg.TURNServer == "" {
		return
	}
	if force, iface := utils.ShouldForceRelay(); force {
		cfg.ForceRelay = true
		ui.PrintWarningf("Interface %s looks like a VPN or CGNAT, relaying media through TURN", iface)
	}
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name shown to other participants (required)")
	joinCmd.Flags().StringVar(&flagServer, "server", "", "Signaling server URL")
	joinCmd.Flags().StringVar(&flagTransport, "transport", "", "Signaling transport: websocket or socketio (Engine.IO 3; socket.io v3/v4 servers need allowEIO3)")
	joinCmd.Flags().StringVar(&flagCodec, "codec", "", "Websocket envelope codec: json or msgpack")
	joinCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "YAML config file")
	joinCmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "Signaling request timeout")
	joinCmd.Flags().StringVar(&flagVideo, "video", "", "IVF file (VP8/VP9) to publish as video")
	joinCmd.Flags().StringVar(&flagAudio, "audio", "", "Ogg/Opus file to publish as audio")
	joinCmd.Flags().BoolVar(&flagLoop, "loop", false, "Loop the media files")
	joinCmd.Flags().StringVar(&flagRecordDir, "record-dir", "", "Record remote media into this directory")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	joinCmd.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	joinCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	joinCmd.Flags().BoolVar(&flagPlain, "plain", false, "Print plain log lines instead of the room view")

	_ = joinCmd.MarkFlagRequired("name")
}
