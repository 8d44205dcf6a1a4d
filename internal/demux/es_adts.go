package demux

import (
	"fmt"
	"log/slog"

	"github.com/bluenviron/mediacommon/pkg/codecs/mpeg4audio"

	"github.com/zsiec/mediaparse/internal/bytequeue"
	"github.com/zsiec/mediaparse/internal/media"
	"github.com/zsiec/mediaparse/internal/timestamp"
)

// pendingPTS ties a carrier timestamp to the byte offset, within the
// unconsumed window, at which the timestamped buffer started.
type pendingPTS struct {
	offset int
	pts    int64
}

// ADTSParser extracts AAC frames from an ADTS elementary stream delivered in
// arbitrary fragments. The first valid frame fixes the stream configuration;
// later frames are assumed to share it and their headers are not reexamined.
// Mid-stream reconfiguration is therefore not detected.
type ADTSParser struct {
	log           *slog.Logger
	trackID       uint32
	onNewStream   media.NewStreamFunc
	onSample      media.EmitSampleFunc
	sbrInMimeType bool

	queue   bytequeue.Queue
	pending []pendingPTS
	info    *media.StreamInfo
	clock   *timestamp.AudioHelper
}

var _ media.ESParser = (*ADTSParser)(nil)

// ADTSOption configures an ADTSParser.
type ADTSOption func(*ADTSParser)

// WithADTSLogger sets the logger. The default is slog.Default().
func WithADTSLogger(log *slog.Logger) ADTSOption {
	return func(p *ADTSParser) {
		if log != nil {
			p.log = log
		}
	}
}

// WithSBRInMimeType records that the container signalled HE-AAC, in which
// case the decoder output rate is twice the ADTS rate (capped at 48 kHz).
func WithSBRInMimeType(sbr bool) ADTSOption {
	return func(p *ADTSParser) {
		p.sbrInMimeType = sbr
	}
}

// NewADTSParser creates a parser for one ADTS stream. onNewStream is called
// once, when the first frame establishes the configuration; onSample is
// called for every complete frame.
func NewADTSParser(trackID uint32, onNewStream media.NewStreamFunc, onSample media.EmitSampleFunc, opts ...ADTSOption) *ADTSParser {
	p := &ADTSParser{
		log:         slog.Default(),
		trackID:     trackID,
		onNewStream: onNewStream,
		onSample:    onSample,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("component", "adts", "track", trackID)
	return p
}

// StreamInfo returns the established configuration, or nil before the first
// valid frame.
func (p *ADTSParser) StreamInfo() *media.StreamInfo {
	return p.info
}

// Parse appends data to the stream and emits every complete frame. pts, if
// not media.NoTimestamp, applies to the first frame starting at or after the
// beginning of data. A header carrying a reserved sampling frequency or an
// unsupported channel configuration makes the stream unusable and is
// reported as an error wrapping ErrInvalidADTS.
func (p *ADTSParser) Parse(data []byte, pts, dts int64) error {
	if pts != media.NoTimestamp {
		p.pending = append(p.pending, pendingPTS{offset: p.queue.Len(), pts: pts})
	}

	p.queue.Push(data)
	buf := p.queue.Peek()

	pos := 0
	for {
		start, size, found := findADTSFrame(buf, pos)
		pos = start
		if !found {
			break
		}
		if size > len(buf)-start {
			break // partial frame, wait for the rest
		}

		frame := buf[start : start+size]
		if err := p.updateAudioConfig(adtsHeader(frame)); err != nil {
			return err
		}

		for len(p.pending) > 0 && p.pending[0].offset <= start {
			p.clock.SetBaseTimestamp(p.pending[0].pts)
			p.pending = p.pending[1:]
		}

		sample := media.CopySample(p.trackID, frame, true)
		sample.PTS = p.clock.Timestamp()
		sample.DTS = sample.PTS
		sample.Duration = p.clock.FrameDuration(mpeg4audio.SamplesPerAccessUnit)
		if p.onSample != nil {
			p.onSample(sample)
		}

		p.clock.AddFrames(mpeg4audio.SamplesPerAccessUnit)
		pos += size
	}

	p.discard(pos)
	return nil
}

// Flush is a no-op: a trailing partial frame can never be completed, and is
// dropped by Reset.
func (p *ADTSParser) Flush() {}

// Reset drops buffered bytes, pending timestamps and the established
// configuration, so that the next stream may use a different one.
func (p *ADTSParser) Reset() {
	p.queue.Reset()
	p.pending = nil
	p.info = nil
}

func (p *ADTSParser) discard(n int) {
	if n <= 0 {
		return
	}
	for i := range p.pending {
		p.pending[i].offset -= n
	}
	p.queue.Pop(n)
}

func (p *ADTSParser) updateAudioConfig(h adtsHeader) error {
	if p.info != nil {
		return nil
	}

	sampleRate, err := h.sampleRate()
	if err != nil {
		return err
	}
	channels, err := h.channels()
	if err != nil {
		return err
	}

	objectType := mpeg4audio.ObjectType(h.profile() + 1)
	extendedRate := sampleRate
	if p.sbrInMimeType {
		extendedRate = min(2*sampleRate, 48000)
	}

	info := &media.StreamInfo{
		TrackID:     p.trackID,
		Kind:        media.KindAudio,
		Codec:       media.CodecAAC,
		CodecString: fmt.Sprintf("mp4a.40.%d", objectType),
		Timescale:   media.MPEG2Timescale,
		Duration:    media.InfiniteDuration,
		Audio: media.AudioParams{
			SampleRate: sampleRate,
			Channels:   channels,
			SampleBits: 16,
		},
	}
	cfg := mpeg4audio.Config{
		Type:         objectType,
		SampleRate:   sampleRate,
		ChannelCount: channels,
	}
	if asc, err := cfg.Marshal(); err != nil {
		p.log.Warn("cannot build AudioSpecificConfig", "error", err)
	} else {
		info.CodecConfig = asc
	}

	// A new rate means a new helper; only the running timestamp carries over.
	clock, err := timestamp.NewAudioHelper(media.MPEG2Timescale, sampleRate)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidADTS, err)
	}
	if p.clock != nil {
		clock.SetBaseTimestamp(p.clock.Timestamp())
	}
	p.clock = clock
	p.info = info

	p.log.Debug("audio configuration",
		"sample_rate", sampleRate,
		"extended_sample_rate", extendedRate,
		"channel_config", h.channelConfig(),
		"profile", h.profile(),
	)

	if p.onNewStream != nil {
		p.onNewStream(info)
	}
	return nil
}
