package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
)

// Mode selects how a frame's payload is interpreted.
type Mode byte

const (
	ModePacket Mode = 1
	ModeFile   Mode = 2
	ModeBinary Mode = 3
)

func (m Mode) valid() bool {
	return m >= ModePacket && m <= ModeBinary
}

func (m Mode) String() string {
	switch m {
	case ModePacket:
		return "packet"
	case ModeFile:
		return "file"
	case ModeBinary:
		return "binary"
	default:
		return "unknown"
	}
}

const (
	// DefaultStartTag and DefaultEndTag are the per-endpoint frame
	// delimiters unless configured otherwise.
	DefaultStartTag byte = 231
	DefaultEndTag   byte = 67

	tagLength  = 4
	bufferSize = 1024

	// maxFrameLength caps the declared payload length; anything larger
	// is treated as a corrupted length field and triggers a resync.
	maxFrameLength = 1 << 28
)

// ErrPartialWrite reports a socket write that did not take the full
// segment; the writer never resumes mid-frame.
var ErrPartialWrite = errors.New("io error: partial frame write")

// Writer emits frames onto a connection: four start-tag bytes, one mode
// byte, a little-endian uint32 length, the payload, four end-tag bytes.
// Each segment is one write call.
type Writer struct {
	mu       sync.Mutex
	conn     io.Writer
	startTag byte
	endTag   byte
}

// NewWriter creates a frame writer with the given tag bytes.
func NewWriter(conn io.Writer, startTag, endTag byte) *Writer {
	return &Writer{conn: conn, startTag: startTag, endTag: endTag}
}

// Send writes one frame. Concurrent senders are serialized so frames never
// interleave on the socket.
func (w *Writer) Send(mode Mode, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := [tagLength]byte{w.startTag, w.startTag, w.startTag, w.startTag}
	end := [tagLength]byte{w.endTag, w.endTag, w.endTag, w.endTag}
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(payload)))

	segments := [][]byte{start[:], {byte(mode)}, length[:], payload, end[:]}
	for _, segment := range segments {
		if len(segment) == 0 {
			// Empty payload: nothing to put on the socket for this
			// segment.
			continue
		}
		n, err := w.conn.Write(segment)
		if err != nil {
			return fmt.Errorf("io error: frame write: %w", err)
		}
		if n != len(segment) {
			return ErrPartialWrite
		}
	}
	metrics.FramesSent.Inc()
	return nil
}

// Reader drives the framing state machine over a connection. Frames are
// delivered through OnFrame; a read error ends the loop through
// OnDisconnect. Tag or length deviations log one line, bump the resync
// counter, and restart the start-tag search without closing the
// connection.
type Reader struct {
	conn     io.Reader
	startTag byte
	endTag   byte

	// OnFrame receives each complete frame's mode and payload.
	OnFrame func(mode Mode, payload []byte)
	// OnDisconnect is called once when the read loop ends.
	OnDisconnect func(err error)

	resyncs uint64
}

// NewReader creates a frame reader with the given tag bytes.
func NewReader(conn io.Reader, startTag, endTag byte) *Reader {
	return &Reader{conn: conn, startTag: startTag, endTag: endTag}
}

// Resyncs returns how many times the reader had to restart the start-tag
// search.
func (r *Reader) Resyncs() uint64 { return r.resyncs }

// Run blocks reading frames until the connection errors or closes.
// Intended to be launched on its own goroutine by the session.
func (r *Reader) Run() {
	logger := log.WithComponent("wire")

	var one [1]byte
	var header [tagLength]byte

	for {
		// ReadStart: find four consecutive start-tag bytes.
		matched := 0
		desynced := false
		for matched < tagLength {
			if _, err := io.ReadFull(r.conn, one[:]); err != nil {
				r.disconnect(err)
				return
			}
			if one[0] == r.startTag {
				matched++
				continue
			}
			if !desynced && matched > 0 {
				// Only a partial tag counts as a desync; scanning
				// through inter-frame garbage logs once per frame.
				desynced = true
			}
			matched = 0
		}
		if desynced {
			r.noteResync(logger, "start tag")
		}

		// ReadMode.
		if _, err := io.ReadFull(r.conn, one[:]); err != nil {
			r.disconnect(err)
			return
		}
		mode := Mode(one[0])
		if !mode.valid() {
			r.noteResync(logger, "mode byte")
			continue
		}

		// ReadLength.
		if _, err := io.ReadFull(r.conn, header[:]); err != nil {
			r.disconnect(err)
			return
		}
		length := binary.LittleEndian.Uint32(header[:])
		if length > maxFrameLength {
			r.noteResync(logger, "length field")
			continue
		}

		// ReadPayload: chunked into a fixed buffer, accumulated.
		payload := make([]byte, 0, length)
		var chunk [bufferSize]byte
		remaining := int(length)
		for remaining > 0 {
			want := remaining
			if want > bufferSize {
				want = bufferSize
			}
			n, err := io.ReadFull(r.conn, chunk[:want])
			if err != nil {
				r.disconnect(err)
				return
			}
			payload = append(payload, chunk[:n]...)
			remaining -= n
		}

		// ReadEnd.
		if _, err := io.ReadFull(r.conn, header[:]); err != nil {
			r.disconnect(err)
			return
		}
		if header[0] != r.endTag || header[1] != r.endTag ||
			header[2] != r.endTag || header[3] != r.endTag {
			r.noteResync(logger, "end tag")
			continue
		}

		metrics.FramesReceived.Inc()
		if r.OnFrame != nil {
			r.OnFrame(mode, payload)
		}
	}
}

func (r *Reader) noteResync(logger zerolog.Logger, where string) {
	r.resyncs++
	metrics.FrameResyncs.Inc()
	logger.Warn().Str("position", where).Uint64("resyncs", r.resyncs).
		Msg("frame desync, restarting start-tag search")
}

func (r *Reader) disconnect(err error) {
	if r.OnDisconnect != nil {
		r.OnDisconnect(err)
	}
}
