package audio

import (
	stderrors "errors"
	"sync/atomic"

	sserrors "github.com/heiderich/slimstreamer/internal/errors"
)

// CaptureSource is the blocking producer: it reads interleaved PCM frames
// from a Device, filters stream markers, strips the marker channel, and
// enqueues chunks into a ChunkQueue. Start's hot loop performs no heap
// allocation and holds no lock besides the atomic producing flag.
type CaptureSource struct {
	device Device
	params Params
	queue  *ChunkQueue

	producing atomic.Bool
	state     State
}

// NewCaptureSource wires a Device and a destination ChunkQueue under a fixed
// Params. The queue must have been constructed with the same Params.
func NewCaptureSource(device Device, params Params, queue *ChunkQueue) *CaptureSource {
	return &CaptureSource{device: device, params: params, queue: queue}
}

// Open acquires the underlying device.
func (c *CaptureSource) Open() error {
	if err := c.device.Open(); err != nil {
		return sserrors.NewDeviceError("open", err)
	}
	return nil
}

// Producing reports whether the capture loop is currently running. Safe to
// call from any goroutine.
func (c *CaptureSource) Producing() bool { return c.producing.Load() }

// State returns the current streaming state. Only meaningful while the
// caller is certain no concurrent Start is running, or as an approximate
// diagnostic otherwise.
func (c *CaptureSource) State() State { return c.state }

// Start blocks the calling goroutine on the capture loop until Stop is
// called or the device reports it was stopped externally. overflow is
// invoked (not on a fresh goroutine — on this same hot loop) whenever the
// chunk queue has no free slot; it is not required to be real-time-safe, but
// a slow overflow callback shows up as a capture gap.
func (c *CaptureSource) Start(overflow func()) error {
	if err := c.device.Start(); err != nil {
		_ = c.device.Close()
		return sserrors.NewDeviceError("start", err)
	}
	c.producing.Store(true)
	defer c.producing.Store(false)

	bytesPerFrame := c.params.BytesPerFrame()
	markerOffset := bytesPerFrame - 1
	srcBuf := make([]byte, c.params.FramesPerChunk*bytesPerFrame)

	for c.producing.Load() {
		frames, err := c.device.ReadInterleaved(srcBuf, c.params.FramesPerChunk)
		if err != nil {
			if stderrors.Is(err, ErrDeviceStopped) {
				return nil
			}
			if c.device.Recover(err) {
				continue
			}
			_ = c.device.Drop()
			return sserrors.NewDeviceError("read", err)
		}

		offset := c.containsData(srcBuf, frames, bytesPerFrame, markerOffset)
		if offset < 0 {
			continue
		}

		payloadBytesPerFrame := c.params.PayloadBytesPerFrame()
		c.queue.Enqueue(func(chunk *Chunk) bool {
			written := c.copyData(srcBuf, offset, frames, bytesPerFrame, payloadBytesPerFrame, markerOffset, chunk.buf)
			chunk.dataSize = written * payloadBytesPerFrame
			chunk.samplingRate = c.params.SamplingRate
			return true
		}, overflow)
	}
	return nil
}

// Stop signals the capture loop to exit. graceful requests the device drain
// in-flight samples first; otherwise samples are dropped immediately.
func (c *CaptureSource) Stop(graceful bool) error {
	c.producing.Store(false)
	if graceful {
		return c.device.Drain()
	}
	return c.device.Drop()
}

// Close releases the underlying device. Call after Start has returned.
func (c *CaptureSource) Close() error {
	return c.device.Close()
}

// containsData walks every frame in buf, updating c.state on every
// BeginningOfStream/EndOfStream marker it sees, and returns the index of the
// first frame whose marker is Data while in Streaming state, or -1 if none.
func (c *CaptureSource) containsData(buf []byte, frames, bytesPerFrame, markerOffset int) int {
	firstData := -1
	for i := 0; i < frames; i++ {
		marker, ok := classify(buf[i*bytesPerFrame+markerOffset])
		if !ok {
			continue
		}
		switch marker {
		case MarkerBeginningOfStream:
			c.state = Streaming
		case MarkerEndOfStream:
			c.state = Stopped
		case MarkerData:
			if c.state == Streaming && firstData < 0 {
				firstData = i
			}
		}
	}
	return firstData
}

// copyData replays the marker transitions of buf from offset onward (the
// state at offset is always Streaming, since that is how offset was chosen)
// and copies the first channels-1 channels of every Data frame admitted
// while Streaming into dst, advancing by payloadBytesPerFrame each time. It
// returns the number of frames written.
func (c *CaptureSource) copyData(buf []byte, offset, frames, bytesPerFrame, payloadBytesPerFrame, markerOffset int, dst []byte) int {
	localState := Streaming
	written := 0
	dstOff := 0
	for i := offset; i < frames; i++ {
		marker, ok := classify(buf[i*bytesPerFrame+markerOffset])
		if !ok {
			continue
		}
		switch marker {
		case MarkerBeginningOfStream:
			localState = Streaming
		case MarkerEndOfStream:
			localState = Stopped
		case MarkerData:
			if localState != Streaming {
				continue
			}
			src := buf[i*bytesPerFrame : i*bytesPerFrame+payloadBytesPerFrame]
			copy(dst[dstOff:dstOff+payloadBytesPerFrame], src)
			dstOff += payloadBytesPerFrame
			written++
		}
	}
	return written
}
