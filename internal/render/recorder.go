package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/ubaish01/commune--client/internal/utils"
)

type recorder interface {
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

// openRecorder returns a writer for the element, or nil when recording is
// off. Opus goes to Ogg, VP8 to IVF; other codecs are not recorded.
func (s *Surface) openRecorder(producerID, label, mime string) (recorder, string, error) {
	if s.opts.RecordDir == "" {
		return nil, "", nil
	}
	if err := os.MkdirAll(s.opts.RecordDir, 0o755); err != nil {
		return nil, "", err
	}

	base := filepath.Join(s.opts.RecordDir, utils.SafeName(label)+"-"+producerID)
	switch strings.ToLower(mime) {
	case strings.ToLower(webrtc.MimeTypeOpus):
		path := utils.GetUniqueFilename(base + ".ogg")
		w, err := oggwriter.New(path, 48000, 2)
		if err != nil {
			return nil, "", err
		}
		return w, path, nil
	case strings.ToLower(webrtc.MimeTypeVP8):
		path := utils.GetUniqueFilename(base + ".ivf")
		w, err := ivfwriter.New(path)
		if err != nil {
			return nil, "", err
		}
		return w, path, nil
	default:
		return nil, "", fmt.Errorf("cannot record %s", mime)
	}
}
