package timestamp

import (
	"testing"

	"github.com/zsiec/mediaparse/internal/media"
)

func TestAudioHelperExactRate(t *testing.T) {
	t.Parallel()

	h, err := NewAudioHelper(media.MPEG2Timescale, 48000)
	if err != nil {
		t.Fatal(err)
	}
	h.SetBaseTimestamp(9000)

	if got := h.FrameDuration(1024); got != 1920 {
		t.Errorf("FrameDuration(1024): got %d, want 1920", got)
	}
	h.AddFrames(1024)
	if got := h.Timestamp(); got != 9000+1920 {
		t.Errorf("Timestamp: got %d, want %d", got, 9000+1920)
	}
}

func TestAudioHelperNoDrift(t *testing.T) {
	t.Parallel()

	h, err := NewAudioHelper(media.MPEG2Timescale, 44100)
	if err != nil {
		t.Fatal(err)
	}
	h.SetBaseTimestamp(0)

	var sum int64
	for i := 0; i < 441; i++ {
		sum += h.FrameDuration(1024)
		h.AddFrames(1024)
	}
	// 441 frames of 1024 samples at 44.1 kHz is exactly 10.24 s.
	want := int64(441 * 1024 * 90000 / 44100)
	if sum != want {
		t.Errorf("summed durations: got %d, want %d", sum, want)
	}
	if got := h.Timestamp(); got != want {
		t.Errorf("Timestamp: got %d, want %d", got, want)
	}
}

func TestAudioHelperUnsetBase(t *testing.T) {
	t.Parallel()

	h, err := NewAudioHelper(media.MPEG2Timescale, 48000)
	if err != nil {
		t.Fatal(err)
	}
	h.AddFrames(1024)
	if got := h.Timestamp(); got != media.NoTimestamp {
		t.Errorf("Timestamp without base: got %d, want NoTimestamp", got)
	}
}

func TestAudioHelperSetBaseRestartsCount(t *testing.T) {
	t.Parallel()

	h, err := NewAudioHelper(media.MPEG2Timescale, 48000)
	if err != nil {
		t.Fatal(err)
	}
	h.SetBaseTimestamp(0)
	h.AddFrames(4096)
	h.SetBaseTimestamp(100)
	if got := h.Timestamp(); got != 100 {
		t.Errorf("Timestamp after rebase: got %d, want 100", got)
	}
}

func TestNewAudioHelperInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		timescale  int64
		sampleRate int
	}{
		{name: "zero rate", timescale: 90000, sampleRate: 0},
		{name: "negative rate", timescale: 90000, sampleRate: -1},
		{name: "zero timescale", timescale: 0, sampleRate: 48000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewAudioHelper(tc.timescale, tc.sampleRate); err == nil {
				t.Error("expected error")
			}
		})
	}
}
