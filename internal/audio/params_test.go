package audio

import (
	stderrors "errors"
	"testing"

	sserrors "github.com/heiderich/slimstreamer/internal/errors"
)

func TestNewParamsDerivedWidths(t *testing.T) {
	p, err := NewParams("hw:0", 48000, 3, 16, 480, 2)
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	if got := p.BytesPerFrame(); got != 6 {
		t.Fatalf("BytesPerFrame() = %d, want 6", got)
	}
	if got := p.PayloadBytesPerFrame(); got != 4 {
		t.Fatalf("PayloadBytesPerFrame() = %d, want 4", got)
	}
	if got := p.ChunkCapacity(); got != 480*4 {
		t.Fatalf("ChunkCapacity() = %d, want %d", got, 480*4)
	}
}

func TestNewParamsRejectsBadBitDepth(t *testing.T) {
	_, err := NewParams("hw:0", 48000, 3, 12, 480, 2)
	if err == nil {
		t.Fatalf("expected error for non-multiple-of-8 bit depth")
	}
	if !sserrors.IsSlimstreamerError(err) {
		t.Fatalf("expected a classified slimstreamer error, got %v", err)
	}
	var cfg *sserrors.ConfigError
	if !stderrors.As(err, &cfg) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
}

func TestNewParamsRejectsTooFewChannels(t *testing.T) {
	if _, err := NewParams("hw:0", 48000, 1, 16, 480, 2); err == nil {
		t.Fatalf("expected error for channels < 2")
	}
}

func TestNewParamsRejectsZeroFramesPerChunk(t *testing.T) {
	if _, err := NewParams("hw:0", 48000, 3, 16, 0, 2); err == nil {
		t.Fatalf("expected error for framesPerChunk <= 0")
	}
}
