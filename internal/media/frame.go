// Package media defines the core types that flow out of the parsers:
// stream descriptors, timestamped samples, and the callback and capability
// interfaces every container or elementary-stream parser implements.
package media

import (
	"fmt"
	"math"
)

// Timestamp sentinels and common timescales. Timestamps are expressed in
// ticks of the owning stream's Timescale.
const (
	NoTimestamp      int64 = math.MinInt64
	InfiniteDuration int64 = math.MaxInt64

	MPEG2Timescale        = 90000
	MicrosecondsPerSecond = 1000000
)

// StreamKind distinguishes audio and video streams.
type StreamKind int

// Supported stream kinds.
const (
	KindAudio StreamKind = iota
	KindVideo
)

func (k StreamKind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return fmt.Sprintf("StreamKind(%d)", int(k))
	}
}

// Codec identifies the compressed format of a stream.
type Codec string

// Codecs produced by the parsers in this module.
const (
	CodecUnknown Codec = ""
	CodecAAC     Codec = "aac"
	CodecOpus    Codec = "opus"
	CodecVorbis  Codec = "vorbis"
	CodecVP8     Codec = "vp8"
	CodecVP9     Codec = "vp9"
	CodecAV1     Codec = "av1"
	CodecH264    Codec = "h264"
)

// AudioParams holds the audio-specific part of a StreamInfo.
type AudioParams struct {
	SampleRate int
	Channels   int
	SampleBits int
}

// VideoParams holds the video-specific part of a StreamInfo.
type VideoParams struct {
	Width  int
	Height int
}

// StreamInfo describes one elementary stream. A StreamInfo is built once,
// handed to the init or new-stream callback, and not modified afterwards.
type StreamInfo struct {
	TrackID     uint32
	Kind        StreamKind
	Codec       Codec
	CodecString string // RFC 6381 form, e.g. "mp4a.40.2"
	CodecConfig []byte // e.g. AudioSpecificConfig or CodecPrivate
	Timescale   int64
	Duration    int64 // in Timescale ticks, InfiniteDuration when unknown
	Encrypted   bool
	KeyID       []byte

	Audio AudioParams
	Video VideoParams
}

// Sample is one complete access unit (an audio frame or a video block)
// ready for remuxing. Data is owned by the sample.
type Sample struct {
	TrackID    uint32
	Data       []byte
	PTS        int64
	DTS        int64
	Duration   int64
	IsKeyframe bool
}

// CopySample builds a Sample holding a private copy of data.
func CopySample(trackID uint32, data []byte, isKeyframe bool) *Sample {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Sample{
		TrackID:    trackID,
		Data:       buf,
		PTS:        NoTimestamp,
		DTS:        NoTimestamp,
		IsKeyframe: isKeyframe,
	}
}
