// Package render is the terminal client's render surface: one element per
// consumed remote producer, each draining its track and optionally
// recording it to disk.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/ubaish01/commune--client/internal/engine"
	"github.com/ubaish01/commune--client/internal/metrics"
	"github.com/ubaish01/commune--client/internal/protocol"
)

const DefaultPLIInterval = 3 * time.Second

type Options struct {
	// RecordDir enables recording of every element into this directory.
	RecordDir string
	// PLIInterval is how often video elements request a keyframe. Zero uses
	// DefaultPLIInterval, negative disables it.
	PLIInterval time.Duration
	Logger      *slog.Logger
}

// Element is a snapshot of one rendered remote producer.
type Element struct {
	ProducerID string
	Kind       protocol.MediaKind
	// Label is the participant name shown on video elements.
	Label     string
	Hidden    bool
	MimeType  string
	Packets   uint64
	Bytes     uint64
	Recording string
	Attached  time.Time
}

type element struct {
	Element
	track  engine.RemoteTrack
	cancel context.CancelFunc

	packets atomic.Uint64
	bytes   atomic.Uint64
}

func (e *element) snapshot() Element {
	out := e.Element
	out.Packets = e.packets.Load()
	out.Bytes = e.bytes.Load()
	return out
}

type Surface struct {
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	elements  map[string]*element
	departed  []Element
	observers []func()
	wg        sync.WaitGroup
}

func NewSurface(opts Options) *Surface {
	if opts.PLIInterval == 0 {
		opts.PLIInterval = DefaultPLIInterval
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Surface{
		opts:     opts,
		log:      log.With("module", "render"),
		elements: make(map[string]*element),
	}
}

// Attach creates the element for producerID. Audio elements are hidden;
// video elements carry label.
func (s *Surface) Attach(producerID string, kind protocol.MediaKind, label string, track engine.RemoteTrack) error {
	if track == nil {
		return fmt.Errorf("attach %s: no track", producerID)
	}

	s.mu.Lock()
	if _, ok := s.elements[producerID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("attach %s: element already exists", producerID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	el := &element{
		Element: Element{
			ProducerID: producerID,
			Kind:       kind,
			Hidden:     kind == protocol.KindAudio,
			MimeType:   track.MimeType(),
			Attached:   time.Now(),
		},
		track:  track,
		cancel: cancel,
	}
	if kind == protocol.KindVideo {
		el.Label = label
	}

	rec, path, err := s.openRecorder(producerID, label, track.MimeType())
	if err != nil {
		s.log.Warn("recording disabled for element", "producer", producerID, "error", err)
	}
	el.Recording = path

	s.elements[producerID] = el
	s.wg.Add(1)
	if kind == protocol.KindVideo && s.opts.PLIInterval > 0 {
		s.wg.Add(1)
		go s.requestKeyframes(ctx, el)
	}
	s.mu.Unlock()

	go s.sink(ctx, el, rec)

	s.log.Debug("element attached", "producer", producerID, "kind", kind, "label", label)
	s.notify()
	return nil
}

// Detach destroys the element of producerID. Unknown ids are ignored.
func (s *Surface) Detach(producerID string) {
	s.mu.Lock()
	el, ok := s.elements[producerID]
	if ok {
		delete(s.elements, producerID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	el.cancel()
	s.mu.Lock()
	s.departed = append(s.departed, el.snapshot())
	s.mu.Unlock()
	s.log.Debug("element detached", "producer", producerID)
	s.notify()
}

// Elements returns every element, video first, then by label and id.
func (s *Surface) Elements() []Element {
	s.mu.Lock()
	out := make([]Element, 0, len(s.elements))
	for _, el := range s.elements {
		out = append(out, el.snapshot())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Hidden != out[j].Hidden {
			return !out[i].Hidden
		}
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].ProducerID < out[j].ProducerID
	})
	return out
}

// History returns every element attached since the surface was created,
// detached ones with their final counters.
func (s *Surface) History() []Element {
	current := s.Elements()
	s.mu.Lock()
	out := append([]Element(nil), s.departed...)
	s.mu.Unlock()
	return append(out, current...)
}

func (s *Surface) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.elements)
}

// OnChange registers fn to run after every attach or detach.
func (s *Surface) OnChange(fn func()) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *Surface) notify() {
	s.mu.Lock()
	observers := append([]func(){}, s.observers...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn()
	}
}

// Close detaches every element and waits for their sinks. Tracks must be
// closed by their owners for the sinks to return.
func (s *Surface) Close() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.elements))
	for id := range s.elements {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Detach(id)
	}
	s.wg.Wait()
}

func (s *Surface) sink(ctx context.Context, el *element, rec recorder) {
	defer s.wg.Done()
	defer func() {
		if rec == nil {
			return
		}
		if err := rec.Close(); err != nil {
			s.log.Warn("close recording", "producer", el.ProducerID, "error", err)
		}
	}()

	kind := string(el.Kind)
	for {
		pkt, err := el.track.ReadRTP()
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		el.packets.Add(1)
		el.bytes.Add(uint64(len(pkt.Payload)))
		metrics.RTPPacketsReceived.WithLabelValues(kind).Inc()
		metrics.RTPBytesReceived.WithLabelValues(kind).Add(float64(len(pkt.Payload)))

		if rec != nil {
			if err := rec.WriteRTP(pkt); err != nil {
				s.log.Warn("recording stopped", "producer", el.ProducerID, "error", err)
				_ = rec.Close()
				rec = nil
			}
		}
	}
}

// requestKeyframes sends a picture loss indication right away and then on
// every interval, so recordings and late decoders get keyframes.
func (s *Surface) requestKeyframes(ctx context.Context, el *element) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PLIInterval)
	defer ticker.Stop()

	for {
		err := el.track.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: el.track.SSRC()}})
		if err != nil {
			s.log.Debug("send PLI", "producer", el.ProducerID, "error", err)
		} else {
			metrics.PLISentTotal.Inc()
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
