package webm

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	ebmlgo "github.com/at-wat/ebml-go"

	"github.com/zsiec/mediaparse/internal/ebml"
)

const defaultTimecodeScale = 1000000 // 1 ms ticks

// Info holds the Segment Info fields the parser needs.
type Info struct {
	// TimecodeScale is the length of one timecode tick in nanoseconds.
	TimecodeScale uint64
	// Duration is in timecode ticks, or negative when absent.
	Duration float64
}

// DurationMicros converts Duration to microseconds. ok is false when the
// segment declares no duration.
func (i Info) DurationMicros() (int64, bool) {
	if i.Duration <= 0 {
		return 0, false
	}
	return int64(i.Duration * float64(i.TimecodeScale) / 1000), true
}

// InfoParser decodes a whole Info element (header included) at the start of
// buf. It returns the bytes consumed, or 0 with a nil error when buf does
// not yet hold the complete element.
type InfoParser interface {
	ParseInfo(buf []byte) (Info, int, error)
}

// TracksParser decodes a whole Tracks element (header included) at the
// start of buf, with the same need-more-data contract as InfoParser.
// Text tracks are reported as ignored when ignoreText is set.
type TracksParser interface {
	ParseTracks(buf []byte, ignoreText bool) (*Tracks, int, error)
}

type infoDoc struct {
	Info struct {
		TimecodeScale uint64
		Duration      float64
	}
}

// EBMLInfoParser is the default InfoParser, built on ebml-go.
type EBMLInfoParser struct{}

// ParseInfo implements InfoParser.
func (EBMLInfoParser) ParseInfo(buf []byte) (Info, int, error) {
	elem, err := wholeElement(buf, ebml.IDInfo)
	if elem == nil || err != nil {
		return Info{}, 0, err
	}

	var doc infoDoc
	doc.Info.Duration = -1
	if err := unmarshal(elem, &doc); err != nil {
		return Info{}, 0, &ParseError{Element: ebml.IDInfo, Err: err}
	}

	info := Info{
		TimecodeScale: doc.Info.TimecodeScale,
		Duration:      doc.Info.Duration,
	}
	if info.TimecodeScale == 0 {
		info.TimecodeScale = defaultTimecodeScale
	}
	return info, len(elem), nil
}

// wholeElement returns the element at the start of buf, header included,
// once it is completely buffered. It returns nil, nil while more data is
// needed.
func wholeElement(buf []byte, want ebml.ID) ([]byte, error) {
	h, n, err := ebml.ReadElementHeader(buf)
	if err != nil || n == 0 {
		return nil, err
	}
	if h.ID != want {
		return nil, &ParseError{Element: want, Err: fmt.Errorf("found element %v", h.ID)}
	}
	size, known := h.Size.Value()
	if !known {
		return nil, &ParseError{Element: want, Err: errors.New("unknown size")}
	}
	if uint64(len(buf)-n) < size {
		return nil, nil
	}
	return buf[:n+int(size)], nil
}

func unmarshal(elem []byte, v any) error {
	err := ebmlgo.Unmarshal(bytes.NewReader(elem), v, ebmlgo.WithIgnoreUnknown(true))
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
