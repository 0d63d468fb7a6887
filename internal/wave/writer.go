// Package wave emits the 44-byte WAVE (RIFF) header SlimStreamer prefixes
// onto every Streaming Session response, followed by raw PCM passthrough.
package wave

import (
	"encoding/binary"
	"io"

	"github.com/heiderich/slimstreamer/internal/audio"
)

const (
	headerSize  = 44
	formatTagPCM = 0x0001
)

// Header builds the 44-byte little-endian RIFF/fmt/data header for params.
// The data chunk size is written as zero: the stream is unbounded and
// clients are expected to ignore the declared length.
func Header(params audio.Params) []byte {
	payloadChannels := params.Channels - 1
	payloadBytesPerFrame := params.PayloadBytesPerFrame()
	byteRate := params.SamplingRate * payloadBytesPerFrame

	h := make([]byte, headerSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36) // + 0 data bytes
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // fmt chunk size for PCM
	binary.LittleEndian.PutUint16(h[20:22], formatTagPCM)
	binary.LittleEndian.PutUint16(h[22:24], uint16(payloadChannels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(params.SamplingRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], uint16(payloadBytesPerFrame))
	binary.LittleEndian.PutUint16(h[34:36], uint16(params.BitDepth))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], 0)
	return h
}

// Writer wraps a byte sink with a WAVE header emitter. WriteHeader must be
// called exactly once, before any call to Write.
type Writer struct {
	dst    io.Writer
	params audio.Params
}

// NewWriter returns a Writer over dst for the given capture params.
func NewWriter(dst io.Writer, params audio.Params) *Writer {
	return &Writer{dst: dst, params: params}
}

// WriteHeader emits the 44-byte WAVE header.
func (w *Writer) WriteHeader() error {
	_, err := w.dst.Write(Header(w.params))
	return err
}

// Write passes PCM payload bytes straight through to the underlying sink.
func (w *Writer) Write(p []byte) (int, error) {
	return w.dst.Write(p)
}
