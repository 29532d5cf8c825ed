// Package media provides the participant's local tracks: IVF and Ogg files
// played back in real time, or idle tracks when no file is given.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/ubaish01/commune--client/internal/engine"
	"github.com/ubaish01/commune--client/internal/protocol"
)

var ErrUnsupportedFile = errors.New("unsupported media file")

type Options struct {
	// VideoFile is an IVF file with VP8 or VP9 frames.
	VideoFile string
	// AudioFile is an Ogg file with Opus pages.
	AudioFile string
	// Loop restarts playback at the end of a file instead of ending the track.
	Loop   bool
	Logger *slog.Logger
}

type Source struct {
	opts Options
	log  *slog.Logger
}

func NewSource(opts Options) *Source {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Source{opts: opts, log: log.With("module", "media")}
}

// Acquire opens the configured files and starts playback. Tracks without a
// file are idle: they exist so the room sees both kinds but carry no media.
func (s *Source) Acquire(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := uuid.NewString()
	playCtx, cancel := context.WithCancel(context.Background())
	st := &Stream{cancel: cancel}

	video, err := s.openVideo(streamID)
	if err != nil {
		cancel()
		return nil, err
	}
	audio, err := s.openAudio(streamID)
	if err != nil {
		cancel()
		if video.file != nil {
			_ = video.file.Close()
		}
		return nil, err
	}

	st.video, st.audio = video.track, audio.track
	for _, p := range []*player{video, audio} {
		if p.file == nil {
			continue
		}
		p := p
		st.wg.Add(1)
		go func() {
			defer st.wg.Done()
			defer p.file.Close()
			defer p.track.end()
			if err := p.play(playCtx, s.opts.Loop); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn("playback stopped", "file", p.file.Name(), "error", err)
			}
		}()
	}

	s.log.Info("local media ready", "video", describe(s.opts.VideoFile), "audio", describe(s.opts.AudioFile))
	return st, nil
}

func describe(path string) string {
	if path == "" {
		return "idle"
	}
	return path
}

func (s *Source) openVideo(streamID string) (*player, error) {
	if s.opts.VideoFile == "" {
		track, err := newTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, protocol.KindVideo, "video", streamID)
		return &player{track: track}, err
	}

	f, err := os.Open(s.opts.VideoFile)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read %s: %w", s.opts.VideoFile, err)
	}

	var mime string
	switch header.FourCC {
	case "VP80":
		mime = webrtc.MimeTypeVP8
	case "VP90":
		mime = webrtc.MimeTypeVP9
	default:
		f.Close()
		return nil, fmt.Errorf("%w: video codec %q", ErrUnsupportedFile, header.FourCC)
	}

	track, err := newTrack(webrtc.RTPCodecCapability{MimeType: mime, ClockRate: 90000}, protocol.KindVideo, "video", streamID)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &player{track: track, file: f, play: ivfPlayback(f, track)}, nil
}

func (s *Source) openAudio(streamID string) (*player, error) {
	opus := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if s.opts.AudioFile == "" {
		track, err := newTrack(opus, protocol.KindAudio, "audio", streamID)
		return &player{track: track}, err
	}

	f, err := os.Open(s.opts.AudioFile)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	if _, _, err := oggreader.NewWith(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFile, s.opts.AudioFile, err)
	}

	track, err := newTrack(opus, protocol.KindAudio, "audio", streamID)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &player{track: track, file: f, play: oggPlayback(f, track)}, nil
}

type player struct {
	track *Track
	file  *os.File
	play  func(ctx context.Context, loop bool) error
}

// ivfPlayback writes one frame per timebase tick.
func ivfPlayback(f *os.File, track *Track) func(context.Context, bool) error {
	return func(ctx context.Context, loop bool) error {
		for {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return err
			}
			reader, header, err := ivfreader.NewWith(f)
			if err != nil {
				return err
			}

			frameDuration := time.Second
			if header.TimebaseDenominator > 0 {
				frameDuration = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
			}

			frames := 0
			ticker := time.NewTicker(frameDuration)
			err = func() error {
				defer ticker.Stop()
				for {
					frame, _, err := reader.ParseNextFrame()
					if err != nil {
						return err
					}
					if err := track.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
						return err
					}
					frames++
					select {
					case <-ticker.C:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}()
			if !errors.Is(err, io.EOF) {
				return err
			}
			if !loop || frames == 0 {
				return nil
			}
		}
	}
}

// oggPlayback writes one page at a time, paced by granule positions.
func oggPlayback(f *os.File, track *Track) func(context.Context, bool) error {
	return func(ctx context.Context, loop bool) error {
		for {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return err
			}
			reader, _, err := oggreader.NewWith(f)
			if err != nil {
				return err
			}

			var lastGranule uint64
			pages := 0
			for {
				page, header, err := reader.ParseNextPage()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return err
				}

				var duration time.Duration
				if header.GranulePosition > lastGranule {
					samples := header.GranulePosition - lastGranule
					duration = time.Duration(samples) * time.Second / 48000
				}
				lastGranule = header.GranulePosition

				if err := track.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
					return err
				}
				pages++
				if duration == 0 {
					continue
				}
				select {
				case <-time.After(duration):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if !loop || pages == 0 {
				return nil
			}
		}
	}
}

// Stream is the acquired pair of local tracks.
type Stream struct {
	audio, video *Track

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (s *Stream) AudioTrack() engine.LocalTrack {
	if s.audio == nil {
		return nil
	}
	return s.audio
}

func (s *Stream) VideoTrack() engine.LocalTrack {
	if s.video == nil {
		return nil
	}
	return s.video
}

// Close stops playback and ends both tracks.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		for _, t := range []*Track{s.audio, s.video} {
			if t != nil {
				t.end()
			}
		}
	})
	return nil
}
