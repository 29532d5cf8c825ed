package media

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubaish01/commune--client/internal/protocol"
)

// writeIVF writes a minimal IVF file with n frames at 1ms per frame.
func writeIVF(t *testing.T, fourcc string, n int) string {
	t.Helper()
	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[4:], 0)
	binary.LittleEndian.PutUint16(header[6:], 32)
	copy(header[8:12], fourcc)
	binary.LittleEndian.PutUint16(header[12:], 320)
	binary.LittleEndian.PutUint16(header[14:], 240)
	binary.LittleEndian.PutUint32(header[16:], 1000)
	binary.LittleEndian.PutUint32(header[20:], 1)
	binary.LittleEndian.PutUint32(header[24:], uint32(n))

	data := header
	for i := 0; i < n; i++ {
		frame := []byte{0x10, 0x02, 0x03, byte(i)}
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:], uint32(len(frame)))
		binary.LittleEndian.PutUint64(fh[4:], uint64(i))
		data = append(data, fh...)
		data = append(data, frame...)
	}

	path := filepath.Join(t.TempDir(), "clip.ivf")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func writeOgg(t *testing.T, pages int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.ogg")
	w, err := oggwriter.New(path, 48000, 2)
	require.NoError(t, err)
	for i := 0; i < pages; i++ {
		require.NoError(t, w.WriteRTP(&rtp.Packet{
			Header:  rtp.Header{SequenceNumber: uint16(i), Timestamp: uint32(i * 48)},
			Payload: []byte{0xfc, 0xff, 0xfe},
		}))
	}
	require.NoError(t, w.Close())
	return path
}

func TestIdleSource(t *testing.T) {
	st, err := NewSource(Options{}).Acquire(context.Background())
	require.NoError(t, err)

	audio := st.AudioTrack().(*Track)
	video := st.VideoTrack().(*Track)
	assert.Equal(t, protocol.KindAudio, audio.MediaKind())
	assert.Equal(t, protocol.KindVideo, video.MediaKind())
	assert.Equal(t, webrtc.MimeTypeOpus, audio.Codec().MimeType)
	assert.Equal(t, webrtc.MimeTypeVP8, video.Codec().MimeType)
	assert.Equal(t, audio.TrackLocal().StreamID(), video.TrackLocal().StreamID())

	select {
	case <-video.Ended():
		t.Fatal("idle track ended before Close")
	default:
	}

	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
	<-video.Ended()
	<-audio.Ended()
}

func TestIVFPlaybackEnds(t *testing.T) {
	st, err := NewSource(Options{VideoFile: writeIVF(t, "VP80", 5)}).Acquire(context.Background())
	require.NoError(t, err)
	defer st.Close()

	video := st.VideoTrack().(*Track)
	select {
	case <-video.Ended():
	case <-time.After(2 * time.Second):
		t.Fatal("video playback did not finish")
	}
}

func TestIVFCodecDetection(t *testing.T) {
	st, err := NewSource(Options{VideoFile: writeIVF(t, "VP90", 1)}).Acquire(context.Background())
	require.NoError(t, err)
	defer st.Close()
	assert.Equal(t, webrtc.MimeTypeVP9, st.VideoTrack().(*Track).Codec().MimeType)

	_, err = NewSource(Options{VideoFile: writeIVF(t, "AV01", 1)}).Acquire(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedFile)
}

func TestOggPlaybackEnds(t *testing.T) {
	st, err := NewSource(Options{AudioFile: writeOgg(t, 4)}).Acquire(context.Background())
	require.NoError(t, err)
	defer st.Close()

	audio := st.AudioTrack().(*Track)
	select {
	case <-audio.Ended():
	case <-time.After(2 * time.Second):
		t.Fatal("audio playback did not finish")
	}
}

func TestLoopRunsUntilClose(t *testing.T) {
	st, err := NewSource(Options{VideoFile: writeIVF(t, "VP80", 2), Loop: true}).Acquire(context.Background())
	require.NoError(t, err)

	video := st.VideoTrack().(*Track)
	select {
	case <-video.Ended():
		t.Fatal("looping track ended on its own")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, st.Close())
	<-video.Ended()
}

func TestAcquireMissingFile(t *testing.T) {
	_, err := NewSource(Options{AudioFile: filepath.Join(t.TempDir(), "missing.ogg")}).Acquire(context.Background())
	assert.Error(t, err)

	_, err = NewSource(Options{VideoFile: filepath.Join(t.TempDir(), "missing.ivf")}).Acquire(context.Background())
	assert.Error(t, err)
}
