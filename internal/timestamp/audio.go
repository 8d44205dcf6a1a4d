// Package timestamp derives per-frame timestamps for fixed-rate audio
// streams whose upstream carrier only timestamps some of the frames.
package timestamp

import (
	"fmt"

	"github.com/zsiec/mediaparse/internal/media"
)

// AudioHelper produces timestamps for consecutive audio frames at a fixed
// sample rate. The rate is bound at construction: when a stream's rate
// changes, build a new helper and carry the old Timestamp over with
// SetBaseTimestamp.
type AudioHelper struct {
	timescale  int64
	sampleRate int64
	base       int64
	frameCount int64
}

// NewAudioHelper returns a helper for the given output timescale (ticks per
// second) and sample rate. The base timestamp starts unset.
func NewAudioHelper(timescale int64, sampleRate int) (*AudioHelper, error) {
	if timescale <= 0 {
		return nil, fmt.Errorf("timestamp: invalid timescale %d", timescale)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("timestamp: invalid sample rate %d", sampleRate)
	}
	return &AudioHelper{
		timescale:  timescale,
		sampleRate: int64(sampleRate),
		base:       media.NoTimestamp,
	}, nil
}

// SampleRate returns the rate the helper was built for.
func (h *AudioHelper) SampleRate() int {
	return int(h.sampleRate)
}

// SetBaseTimestamp anchors the next frame at ts and restarts the frame count.
func (h *AudioHelper) SetBaseTimestamp(ts int64) {
	h.base = ts
	h.frameCount = 0
}

// BaseTimestamp returns the last anchor, or media.NoTimestamp.
func (h *AudioHelper) BaseTimestamp() int64 {
	return h.base
}

// AddFrames advances the position by n audio samples (per channel).
func (h *AudioHelper) AddFrames(n int64) {
	h.frameCount += n
}

// Timestamp returns the timestamp of the current position, or
// media.NoTimestamp while no base has been set.
func (h *AudioHelper) Timestamp() int64 {
	if h.base == media.NoTimestamp {
		return media.NoTimestamp
	}
	return h.base + h.ticks(h.frameCount)
}

// FrameDuration returns the duration of the next n samples. Rounding is done
// on absolute positions so that consecutive durations never drift.
func (h *AudioHelper) FrameDuration(n int64) int64 {
	return h.ticks(h.frameCount+n) - h.ticks(h.frameCount)
}

func (h *AudioHelper) ticks(frames int64) int64 {
	return frames * h.timescale / h.sampleRate
}
