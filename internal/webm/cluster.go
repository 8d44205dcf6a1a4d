package webm

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	ebmlgo "github.com/at-wat/ebml-go"

	"github.com/zsiec/mediaparse/internal/ebml"
	"github.com/zsiec/mediaparse/internal/media"
)

// ClusterParser consumes Cluster elements. The container parser hands it
// the whole unconsumed window, starting at a Cluster header.
type ClusterParser interface {
	// Parse consumes as many complete elements from the start of buf as it
	// can and returns the byte count. 0 with a nil error means more data is
	// needed.
	Parse(buf []byte) (int, error)
	// ClusterEnded reports whether the last Parse call finished a cluster.
	ClusterEnded() bool
	// Flush abandons the cluster in progress.
	Flush()
}

// ClusterConfig carries what a ClusterParser needs from the headers.
type ClusterConfig struct {
	TimecodeScale uint64
	Audio         *Track
	Video         *Track
	TextTracks    map[uint64]bool
	IgnoredTracks map[uint64]bool
	OnSample      media.EmitSampleFunc
	Logger        *slog.Logger
}

// ClusterParserFactory builds the cluster parser once the headers are known.
type ClusterParserFactory func(cfg ClusterConfig) ClusterParser

// blockParser is the default ClusterParser. It emits one sample per frame of
// every SimpleBlock and BlockGroup of the selected audio and video tracks,
// with timestamps in microseconds.
type blockParser struct {
	cfg ClusterConfig
	log *slog.Logger

	inCluster    bool
	sizeKnown    bool
	remaining    uint64
	timecode     int64
	haveTimecode bool
	ended        bool
}

// NewClusterParser returns the default ClusterParser.
func NewClusterParser(cfg ClusterConfig) ClusterParser {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.TimecodeScale == 0 {
		cfg.TimecodeScale = defaultTimecodeScale
	}
	return &blockParser{cfg: cfg, log: log.With("component", "webm-cluster")}
}

func (c *blockParser) ClusterEnded() bool {
	return c.ended
}

func (c *blockParser) Flush() {
	c.inCluster = false
	c.haveTimecode = false
	c.ended = false
}

func (c *blockParser) Parse(buf []byte) (int, error) {
	c.ended = false
	consumed := 0

	for {
		rest := buf[consumed:]

		if c.inCluster && c.sizeKnown && c.remaining == 0 {
			c.endCluster()
			return consumed, nil
		}

		h, n, err := ebml.ReadElementHeader(rest)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return consumed, nil
		}

		if !c.inCluster {
			if h.ID != ebml.IDCluster {
				return 0, fmt.Errorf("%w: %v where a cluster was expected", ErrUnexpectedElement, h.ID)
			}
			c.inCluster = true
			c.haveTimecode = false
			c.remaining, c.sizeKnown = h.Size.Value()
			consumed += n
			continue
		}

		if !c.sizeKnown && endsUnknownSizeCluster(h.ID) {
			c.endCluster()
			return consumed, nil
		}

		size, known := h.Size.Value()
		if !known {
			return 0, &ParseError{Element: h.ID, Err: errors.New("unknown size inside a cluster")}
		}
		total := uint64(n) + size
		if c.sizeKnown && total > c.remaining {
			return 0, &ParseError{Element: h.ID, Err: errors.New("element overruns its cluster")}
		}
		if uint64(len(rest)) < total {
			return consumed, nil
		}

		if err := c.parseChild(h.ID, rest[n:total]); err != nil {
			return 0, err
		}
		consumed += int(total)
		if c.sizeKnown {
			c.remaining -= total
		}
	}
}

func (c *blockParser) endCluster() {
	c.inCluster = false
	c.ended = true
}

// endsUnknownSizeCluster reports whether id can only appear at the top
// level, and therefore closes a cluster of unknown size.
func endsUnknownSizeCluster(id ebml.ID) bool {
	switch id {
	case ebml.IDCluster, ebml.IDCues, ebml.IDTags, ebml.IDChapters,
		ebml.IDAttachments, ebml.IDSeekHead, ebml.IDInfo, ebml.IDTracks,
		ebml.IDSegment, ebml.IDEBMLHeader:
		return true
	}
	return false
}

func (c *blockParser) parseChild(id ebml.ID, payload []byte) error {
	switch id {
	case ebml.IDTimecode:
		c.timecode = int64(readUint(payload))
		c.haveTimecode = true
		return nil
	case ebml.IDSimpleBlock:
		return c.parseBlock(payload, true, false, -1)
	case ebml.IDBlockGroup:
		return c.parseBlockGroup(payload)
	default:
		return nil
	}
}

func (c *blockParser) parseBlockGroup(payload []byte) error {
	var (
		block       []byte
		hasRef      bool
		durationTck int64 = -1
	)
	for len(payload) > 0 {
		h, n, err := ebml.ReadElementHeader(payload)
		if err != nil {
			return err
		}
		size, known := h.Size.Value()
		if n == 0 || !known || uint64(len(payload)-n) < size {
			return &ParseError{Element: ebml.IDBlockGroup, Err: errors.New("truncated child element")}
		}
		body := payload[n : n+int(size)]
		switch h.ID {
		case ebml.IDBlock:
			block = body
		case ebml.IDBlockDuration:
			durationTck = int64(readUint(body))
		case ebml.IDReferenceBlock:
			hasRef = true
		}
		payload = payload[n+int(size):]
	}
	if block == nil {
		return &ParseError{Element: ebml.IDBlockGroup, Err: errors.New("no Block")}
	}
	return c.parseBlock(block, false, !hasRef, durationTck)
}

// parseBlock emits the frames of a Block or SimpleBlock. durationTicks is
// the BlockDuration, or -1 when absent.
func (c *blockParser) parseBlock(payload []byte, simple, groupKeyframe bool, durationTicks int64) error {
	if !c.haveTimecode {
		return &ParseError{Element: ebml.IDCluster, Err: errors.New("block before cluster timecode")}
	}

	b, err := ebmlgo.UnmarshalBlock(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return &ParseError{Element: ebml.IDSimpleBlock, Err: err}
	}

	var track *Track
	switch {
	case c.cfg.Audio != nil && b.TrackNumber == c.cfg.Audio.Number:
		track = c.cfg.Audio
	case c.cfg.Video != nil && b.TrackNumber == c.cfg.Video.Number:
		track = c.cfg.Video
	case c.cfg.TextTracks[b.TrackNumber], c.cfg.IgnoredTracks[b.TrackNumber]:
		return nil
	default:
		return fmt.Errorf("webm: block for unknown track %d", b.TrackNumber)
	}

	keyframe := groupKeyframe
	if simple {
		keyframe = b.Keyframe
	}
	if track.Stream.Kind == media.KindAudio {
		keyframe = true
	}

	ts := c.micros(c.timecode + int64(b.Timecode))
	frameDuration := int64(track.DefaultDuration / 1000)
	if durationTicks >= 0 && len(b.Data) == 1 {
		frameDuration = c.micros(durationTicks)
	}

	for _, frame := range b.Data {
		s := media.CopySample(track.Stream.TrackID, frame, keyframe)
		s.PTS = ts
		s.DTS = ts
		s.Duration = frameDuration
		if c.cfg.OnSample != nil {
			c.cfg.OnSample(s)
		}
		ts += frameDuration
	}
	return nil
}

// micros converts timecode ticks to microseconds.
func (c *blockParser) micros(ticks int64) int64 {
	return ticks * int64(c.cfg.TimecodeScale) / 1000
}

func readUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
