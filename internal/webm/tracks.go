package webm

import (
	"fmt"

	"github.com/zsiec/mediaparse/internal/ebml"
	"github.com/zsiec/mediaparse/internal/media"
)

// Matroska TrackType values.
const (
	trackTypeVideo    = 0x01
	trackTypeAudio    = 0x02
	trackTypeSubtitle = 0x11
	trackTypeMetadata = 0x21
)

// Track is the audio or video track selected from a Tracks element.
type Track struct {
	Number uint64
	// DefaultDuration is the duration of one block in nanoseconds, or 0.
	DefaultDuration uint64
	Stream          *media.StreamInfo
}

// Tracks is the decoded Tracks element. At most one audio and one video
// track are selected; any further track is ignored.
type Tracks struct {
	Audio   *Track
	Video   *Track
	Text    map[uint64]bool
	Ignored map[uint64]bool
}

// Streams returns the selected streams, audio first.
func (t *Tracks) Streams() []*media.StreamInfo {
	var streams []*media.StreamInfo
	if t.Audio != nil {
		streams = append(streams, t.Audio.Stream)
	}
	if t.Video != nil {
		streams = append(streams, t.Video.Stream)
	}
	return streams
}

type codecMapping struct {
	kind   media.StreamKind
	codec  media.Codec
	string string
}

var codecIDs = map[string]codecMapping{
	"A_OPUS":   {media.KindAudio, media.CodecOpus, "opus"},
	"A_VORBIS": {media.KindAudio, media.CodecVorbis, "vorbis"},
	"V_VP8":    {media.KindVideo, media.CodecVP8, "vp8"},
	"V_VP9":    {media.KindVideo, media.CodecVP9, "vp9"},
	"V_AV1":    {media.KindVideo, media.CodecAV1, "av01"},
}

type tracksDoc struct {
	Tracks struct {
		TrackEntry []trackEntry
	}
}

type trackEntry struct {
	TrackNumber      uint64
	TrackType        uint64
	CodecID          string
	CodecPrivate     []byte
	DefaultDuration  uint64
	Audio            audioEntry
	Video            videoEntry
	ContentEncodings contentEncodings
}

type audioEntry struct {
	SamplingFrequency float64
	Channels          uint64
	BitDepth          uint64
}

type videoEntry struct {
	PixelWidth  uint64
	PixelHeight uint64
}

type contentEncodings struct {
	ContentEncoding []contentEncoding
}

type contentEncoding struct {
	ContentEncryption contentEncryption
}

type contentEncryption struct {
	ContentEncAlgo  uint64
	ContentEncKeyID []byte
}

// keyID returns the encryption key ID of the entry, if it is encrypted.
func (e *trackEntry) keyID() []byte {
	for _, enc := range e.ContentEncodings.ContentEncoding {
		if len(enc.ContentEncryption.ContentEncKeyID) > 0 {
			return enc.ContentEncryption.ContentEncKeyID
		}
	}
	return nil
}

// EBMLTracksParser is the default TracksParser, built on ebml-go.
type EBMLTracksParser struct{}

// ParseTracks implements TracksParser.
func (EBMLTracksParser) ParseTracks(buf []byte, ignoreText bool) (*Tracks, int, error) {
	elem, err := wholeElement(buf, ebml.IDTracks)
	if elem == nil || err != nil {
		return nil, 0, err
	}

	var doc tracksDoc
	if err := unmarshal(elem, &doc); err != nil {
		return nil, 0, &ParseError{Element: ebml.IDTracks, Err: err}
	}

	tracks := &Tracks{
		Text:    make(map[uint64]bool),
		Ignored: make(map[uint64]bool),
	}
	for i := range doc.Tracks.TrackEntry {
		e := &doc.Tracks.TrackEntry[i]
		if e.TrackNumber == 0 {
			return nil, 0, &ParseError{Element: ebml.IDTracks, Err: fmt.Errorf("track %d has no number", i)}
		}

		switch e.TrackType {
		case trackTypeAudio, trackTypeVideo:
			slot := &tracks.Audio
			if e.TrackType == trackTypeVideo {
				slot = &tracks.Video
			}
			if *slot != nil {
				tracks.Ignored[e.TrackNumber] = true
				continue
			}
			track, err := newTrack(e)
			if err != nil {
				return nil, 0, &ParseError{Element: ebml.IDTracks, Err: err}
			}
			*slot = track

		case trackTypeSubtitle, trackTypeMetadata:
			if ignoreText {
				tracks.Ignored[e.TrackNumber] = true
			} else {
				tracks.Text[e.TrackNumber] = true
			}

		default:
			tracks.Ignored[e.TrackNumber] = true
		}
	}
	return tracks, len(elem), nil
}

func newTrack(e *trackEntry) (*Track, error) {
	m, ok := codecIDs[e.CodecID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, e.CodecID)
	}
	wantKind := media.KindAudio
	if e.TrackType == trackTypeVideo {
		wantKind = media.KindVideo
	}
	if m.kind != wantKind {
		return nil, fmt.Errorf("codec %s in a %s track", e.CodecID, wantKind)
	}

	info := &media.StreamInfo{
		TrackID:     uint32(e.TrackNumber),
		Kind:        m.kind,
		Codec:       m.codec,
		CodecString: m.string,
		CodecConfig: e.CodecPrivate,
		Timescale:   media.MicrosecondsPerSecond,
		Duration:    media.InfiniteDuration,
	}
	if keyID := e.keyID(); keyID != nil {
		info.Encrypted = true
		info.KeyID = keyID
	}

	switch m.kind {
	case media.KindAudio:
		info.Audio = media.AudioParams{
			SampleRate: int(e.Audio.SamplingFrequency),
			Channels:   int(e.Audio.Channels),
			SampleBits: int(e.Audio.BitDepth),
		}
		if info.Audio.SampleRate == 0 {
			info.Audio.SampleRate = 8000
		}
		if info.Audio.Channels == 0 {
			info.Audio.Channels = 1
		}
	case media.KindVideo:
		if e.Video.PixelWidth == 0 || e.Video.PixelHeight == 0 {
			return nil, fmt.Errorf("video track %d has no dimensions", e.TrackNumber)
		}
		info.Video = media.VideoParams{
			Width:  int(e.Video.PixelWidth),
			Height: int(e.Video.PixelHeight),
		}
	}

	return &Track{
		Number:          e.TrackNumber,
		DefaultDuration: e.DefaultDuration,
		Stream:          info,
	}, nil
}
