package audio

import "errors"

// ErrDeviceStopped is the sentinel a Device implementation must return from
// ReadInterleaved (wrapped or bare, checked with errors.Is) when the device
// was stopped externally rather than having failed. The capture loop treats
// this as a clean exit, not a DeviceError.
var ErrDeviceStopped = errors.New("audio: device stopped externally")

// Device is the capability set the Capture Source consumes from a hardware
// capture backend. Implementations are free to wrap ALSA, CoreAudio, WASAPI,
// or a test fake; the capture loop only ever calls these seven methods.
type Device interface {
	// Open acquires device resources for the configured Params.
	Open() error
	// Start begins the capture stream.
	Start() error
	// ReadInterleaved blocks until up to maxFrames interleaved frames are
	// available, writing raw bytes into buf and returning the frame count
	// actually read. A negative-result condition is reported as an error;
	// ErrDeviceStopped distinguishes an externally requested stop from a
	// genuine device fault.
	ReadInterleaved(buf []byte, maxFrames int) (int, error)
	// Drain lets in-flight samples finish before stopping.
	Drain() error
	// Drop discards in-flight samples and stops immediately.
	Drop() error
	// Close releases device resources.
	Close() error
	// Recover attempts to resume from a read error. It returns true if the
	// device is usable again and the read loop may retry.
	Recover(err error) bool
}
