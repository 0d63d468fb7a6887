package audio

import (
	"fmt"

	sserrors "github.com/heiderich/slimstreamer/internal/errors"
)

// Params describes a capture device's fixed format. It is immutable once
// constructed by NewParams.
type Params struct {
	DeviceName    string
	SamplingRate  int
	Channels      int // includes the trailing marker channel
	BitDepth      int // multiple of 8
	FramesPerChunk int
	Periods       int
}

// NewParams validates and constructs a Params. ConfigError is returned for a
// bit depth that isn't a positive multiple of 8, fewer than two channels, or
// a non-positive framesPerChunk. The sampling rate is not checked here.
func NewParams(deviceName string, samplingRate, channels, bitDepth, framesPerChunk, periods int) (Params, error) {
	p := Params{
		DeviceName:     deviceName,
		SamplingRate:   samplingRate,
		Channels:       channels,
		BitDepth:       bitDepth,
		FramesPerChunk: framesPerChunk,
		Periods:        periods,
	}
	if bitDepth <= 0 || bitDepth%8 != 0 {
		return Params{}, sserrors.NewConfigError("params.bitDepth", fmt.Errorf("bit depth %d is not a positive multiple of 8", bitDepth))
	}
	if channels < 2 {
		return Params{}, sserrors.NewConfigError("params.channels", fmt.Errorf("channels %d must include at least one payload channel and the marker channel", channels))
	}
	if framesPerChunk <= 0 {
		return Params{}, sserrors.NewConfigError("params.framesPerChunk", fmt.Errorf("framesPerChunk %d must be positive", framesPerChunk))
	}
	return p, nil
}

// BytesPerFrame is channels * bitDepth/8, the width of one captured frame
// including its marker channel.
func (p Params) BytesPerFrame() int {
	return p.Channels * (p.BitDepth / 8)
}

// PayloadBytesPerFrame is (channels-1) * bitDepth/8, the width of a
// post-strip frame emitted to clients.
func (p Params) PayloadBytesPerFrame() int {
	return (p.Channels - 1) * (p.BitDepth / 8)
}

// ChunkCapacity is the byte size of a fully-filled Chunk buffer for these
// params: framesPerChunk * payloadBytesPerFrame.
func (p Params) ChunkCapacity() int {
	return p.FramesPerChunk * p.PayloadBytesPerFrame()
}
