package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingWriter records each Write call as its own segment.
type countingWriter struct {
	segments [][]byte
}

func (w *countingWriter) Write(p []byte) (int, error) {
	copied := make([]byte, len(p))
	copy(copied, p)
	w.segments = append(w.segments, copied)
	return len(p), nil
}

func TestWriterFrameLayout(t *testing.T) {
	out := &countingWriter{}
	w := NewWriter(out, DefaultStartTag, DefaultEndTag)

	payload := bytes.Repeat([]byte{0x5A}, 64*1024)
	require.NoError(t, w.Send(ModePacket, payload))

	// One write per segment: start, mode, length, payload, end.
	require.Len(t, out.segments, 5)
	assert.Equal(t, []byte{231, 231, 231, 231}, out.segments[0])
	assert.Equal(t, []byte{1}, out.segments[1])

	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(payload)))
	assert.Equal(t, length[:], out.segments[2])
	assert.Equal(t, payload, out.segments[3])
	assert.Equal(t, []byte{67, 67, 67, 67}, out.segments[4])
}

func TestWriterEmptyPayload(t *testing.T) {
	out := &countingWriter{}
	w := NewWriter(out, DefaultStartTag, DefaultEndTag)
	require.NoError(t, w.Send(ModeBinary, nil))

	// The zero-length payload segment is elided at the socket layer.
	require.Len(t, out.segments, 4)
	assert.Equal(t, []byte{3}, out.segments[1])
	assert.Equal(t, []byte{0, 0, 0, 0}, out.segments[2])
}

func buildFrame(t *testing.T, startTag, endTag byte, mode Mode, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write([]byte{startTag, startTag, startTag, startTag})
	buf.WriteByte(byte(mode))
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(payload)))
	buf.Write(length[:])
	buf.Write(payload)
	buf.Write([]byte{endTag, endTag, endTag, endTag})
	return buf.Bytes()
}

// runReader feeds data to a Reader and collects delivered frames until the
// stream ends.
func runReader(t *testing.T, data []byte) (frames []struct {
	mode    Mode
	payload []byte
}, resyncs uint64) {
	t.Helper()

	r := NewReader(bytes.NewReader(data), DefaultStartTag, DefaultEndTag)
	done := make(chan struct{})
	r.OnFrame = func(mode Mode, payload []byte) {
		frames = append(frames, struct {
			mode    Mode
			payload []byte
		}{mode, payload})
	}
	r.OnDisconnect = func(err error) { close(done) }

	go r.Run()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not finish")
	}
	return frames, r.Resyncs()
}

func TestReaderDeliversFrame(t *testing.T) {
	payload := []byte("hello frame")
	frames, resyncs := runReader(t, buildFrame(t, DefaultStartTag, DefaultEndTag, ModePacket, payload))

	require.Len(t, frames, 1)
	assert.Equal(t, ModePacket, frames[0].mode)
	assert.Equal(t, payload, frames[0].payload)
	assert.Zero(t, resyncs)
}

func TestReaderLargePayloadChunked(t *testing.T) {
	payload := bytes.Repeat([]byte{0xC3}, 64*1024)
	frames, resyncs := runReader(t, buildFrame(t, DefaultStartTag, DefaultEndTag, ModeBinary, payload))

	require.Len(t, frames, 1)
	assert.Equal(t, payload, frames[0].payload)
	assert.Zero(t, resyncs)
}

func TestReaderResyncsPastGarbage(t *testing.T) {
	payload := []byte("survivor")
	var stream bytes.Buffer
	// Garbage that includes a partial start tag, then a valid frame.
	stream.Write([]byte{1, 2, 3, DefaultStartTag, DefaultStartTag, 9})
	stream.Write(buildFrame(t, DefaultStartTag, DefaultEndTag, ModePacket, payload))

	frames, resyncs := runReader(t, stream.Bytes())
	require.Len(t, frames, 1)
	assert.Equal(t, payload, frames[0].payload)
	assert.NotZero(t, resyncs)
}

func TestReaderResyncsOnBadMode(t *testing.T) {
	good := []byte("good frame")
	var stream bytes.Buffer
	// Valid start tag followed by an invalid mode byte.
	stream.Write([]byte{DefaultStartTag, DefaultStartTag, DefaultStartTag, DefaultStartTag, 99})
	stream.Write(buildFrame(t, DefaultStartTag, DefaultEndTag, ModeFile, good))

	frames, resyncs := runReader(t, stream.Bytes())
	require.Len(t, frames, 1)
	assert.Equal(t, ModeFile, frames[0].mode)
	assert.Equal(t, good, frames[0].payload)
	assert.NotZero(t, resyncs)
}

func TestReaderResyncsOnBadEndTag(t *testing.T) {
	bad := buildFrame(t, DefaultStartTag, DefaultEndTag, ModePacket, []byte("dropped"))
	bad[len(bad)-1] = 0 // corrupt the end tag
	good := buildFrame(t, DefaultStartTag, DefaultEndTag, ModePacket, []byte("kept"))

	frames, resyncs := runReader(t, append(bad, good...))
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("kept"), frames[0].payload)
	assert.NotZero(t, resyncs)
}

func TestReaderDisconnectOnEOF(t *testing.T) {
	r := NewReader(bytes.NewReader(nil), DefaultStartTag, DefaultEndTag)
	var got error
	done := make(chan struct{})
	r.OnDisconnect = func(err error) {
		got = err
		close(done)
	}
	go r.Run()
	<-done
	assert.ErrorIs(t, got, io.EOF)
}

func TestSegmentsRoundTrip(t *testing.T) {
	var buf []byte
	buf = AppendStringSegment(buf, "source-1")
	buf = AppendStringSegment(buf, "")
	buf = AppendSegment(buf, []byte{1, 2, 3})

	offset := 0
	s1, err := ReadStringSegment(buf, &offset)
	require.NoError(t, err)
	assert.Equal(t, "source-1", s1)

	s2, err := ReadStringSegment(buf, &offset)
	require.NoError(t, err)
	assert.Empty(t, s2)

	data, err := ReadSegment(buf, &offset)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
	assert.Equal(t, len(buf), offset)

	_, err = ReadSegment(buf, &offset)
	assert.Error(t, err)
}

func TestSegmentTruncated(t *testing.T) {
	buf := AppendStringSegment(nil, "hello")
	offset := 0
	_, err := ReadSegment(buf[:len(buf)-2], &offset)
	assert.Error(t, err)
}

func TestPipelineOrder(t *testing.T) {
	var ops []string
	p := &Pipeline{
		CompressEnabled: true,
		EncryptEnabled:  true,
		CompressFn: func(data []byte, forward bool) ([]byte, error) {
			if forward {
				ops = append(ops, "compress")
			} else {
				ops = append(ops, "decompress")
			}
			return data, nil
		},
		EncryptFn: func(data []byte, forward bool) ([]byte, error) {
			if forward {
				ops = append(ops, "encrypt")
			} else {
				ops = append(ops, "decrypt")
			}
			return data, nil
		},
	}

	_, err := p.Outbound([]byte("x"))
	require.NoError(t, err)
	_, err = p.Inbound([]byte("x"))
	require.NoError(t, err)

	assert.Equal(t, []string{"compress", "encrypt", "decrypt", "decompress"}, ops)
}

func TestPipelineRealCodecs(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 16)
	iv := bytes.Repeat([]byte{9}, 16)
	p := &Pipeline{
		CompressEnabled: true,
		EncryptEnabled:  true,
		BlockBytes:      1024,
		Key:             key,
		IV:              iv,
	}

	payload := bytes.Repeat([]byte("sixty four kilobytes of data "), 2300)[:64*1024]
	wireForm, err := p.Outbound(payload)
	require.NoError(t, err)
	assert.NotEqual(t, payload, wireForm)

	restored, err := p.Inbound(wireForm)
	require.NoError(t, err)
	assert.Equal(t, payload, restored)
}

func TestPipelineDisabledPassThrough(t *testing.T) {
	p := &Pipeline{}
	data := []byte("untouched")
	out, err := p.Outbound(data)
	require.NoError(t, err)
	assert.Equal(t, data, out)
	out, err = p.Inbound(data)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}
