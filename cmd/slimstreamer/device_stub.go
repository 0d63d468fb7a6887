package main

import (
	"sync/atomic"
	"time"

	"github.com/heiderich/slimstreamer/internal/audio"
)

// silenceDevice is a placeholder audio.Device that generates a continuous
// silent stream: one BeginningOfStream frame followed by zeroed Data frames
// at roughly the configured sampling rate. The concrete hardware capture
// backend (ALSA/CoreAudio/WASAPI) is out of scope (spec.md §1's "concrete
// hardware-device library" non-goal); this exists so `slimstreamer` is
// runnable end to end without one.
type silenceDevice struct {
	params audio.Params

	started atomic.Bool
	stopped atomic.Bool
	wroteBoS bool
}

func newSilenceDevice(params audio.Params) *silenceDevice {
	return &silenceDevice{params: params}
}

func (d *silenceDevice) Open() error { return nil }

func (d *silenceDevice) Start() error {
	d.started.Store(true)
	return nil
}

func (d *silenceDevice) ReadInterleaved(buf []byte, maxFrames int) (int, error) {
	if d.stopped.Load() {
		return 0, audio.ErrDeviceStopped
	}
	bytesPerFrame := d.params.BytesPerFrame()
	markerOffset := bytesPerFrame - 1

	frames := maxFrames
	for i := 0; i < frames; i++ {
		off := i * bytesPerFrame
		for b := 0; b < bytesPerFrame; b++ {
			buf[off+b] = 0
		}
		if !d.wroteBoS && i == 0 {
			buf[off+markerOffset] = byte(audio.MarkerBeginningOfStream)
			d.wroteBoS = true
		} else {
			buf[off+markerOffset] = byte(audio.MarkerData)
		}
	}

	// Pace reads to roughly real time instead of spinning: one chunk's
	// worth of frames at the configured sampling rate.
	time.Sleep(time.Duration(frames) * time.Second / time.Duration(d.params.SamplingRate))
	return frames, nil
}

func (d *silenceDevice) Drain() error {
	d.stopped.Store(true)
	return nil
}

func (d *silenceDevice) Drop() error {
	d.stopped.Store(true)
	return nil
}

func (d *silenceDevice) Close() error { return nil }

func (d *silenceDevice) Recover(error) bool { return false }
