// Package webm parses the top level of a WebM stream delivered in chunks of
// any size. It skips metadata elements, decodes Info and Tracks into stream
// descriptors, and hands clusters to a ClusterParser that emits samples.
package webm

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zsiec/mediaparse/internal/bytequeue"
	"github.com/zsiec/mediaparse/internal/ebml"
	"github.com/zsiec/mediaparse/internal/media"
)

var (
	// ErrClusterBeforeInfo is returned when a Cluster precedes the Info and
	// Tracks elements that describe its tracks.
	ErrClusterBeforeInfo = errors.New("webm: cluster before info")
	// ErrUnexpectedElement is returned for a top-level element that has no
	// place in a WebM stream.
	ErrUnexpectedElement = errors.New("webm: unexpected element")
	// ErrParserFailed is returned by every Parse call after a failure.
	ErrParserFailed = errors.New("webm: parser in error state")
	// ErrUnsupportedCodec is returned for an audio or video track whose
	// CodecID is not a WebM codec.
	ErrUnsupportedCodec = errors.New("webm: unsupported codec")
)

// ParseError wraps a failure to decode a particular element.
type ParseError struct {
	Element ebml.ID
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("webm: element %v: %v", e.Element, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// State is the position of the Parser in the stream.
type State int

// Parser states. StateError is terminal.
const (
	StateWaitingForInit State = iota
	StateParsingHeaders
	StateParsingClusters
	StateError
)

func (s State) String() string {
	switch s {
	case StateWaitingForInit:
		return "waiting-for-init"
	case StateParsingHeaders:
		return "parsing-headers"
	case StateParsingClusters:
		return "parsing-clusters"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Parser is the WebM container parser.
type Parser struct {
	log          *slog.Logger
	onInit       media.InitFunc
	onSample     media.EmitSampleFunc
	keys         media.KeySource
	infoParser   InfoParser
	tracksParser TracksParser
	newCluster   ClusterParserFactory
	ignoreText   bool

	state      State
	queue      bytequeue.Queue
	cluster    ClusterParser
	liveStream bool
}

var _ media.Parser = (*Parser)(nil)

// Option configures a Parser.
type Option func(*Parser)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(p *Parser) {
		if log != nil {
			p.log = log
		}
	}
}

// WithKeySource registers the receiver of encrypted tracks' key IDs.
func WithKeySource(ks media.KeySource) Option {
	return func(p *Parser) {
		p.keys = ks
	}
}

// WithClusterParserFactory replaces the default cluster parser.
func WithClusterParserFactory(f ClusterParserFactory) Option {
	return func(p *Parser) {
		if f != nil {
			p.newCluster = f
		}
	}
}

// WithInfoParser replaces the default Info decoder.
func WithInfoParser(ip InfoParser) Option {
	return func(p *Parser) {
		if ip != nil {
			p.infoParser = ip
		}
	}
}

// WithTracksParser replaces the default Tracks decoder.
func WithTracksParser(tp TracksParser) Option {
	return func(p *Parser) {
		if tp != nil {
			p.tracksParser = tp
		}
	}
}

// WithIgnoreTextTracks controls whether blocks of subtitle and metadata
// tracks are dropped (the default) or passed to the cluster parser's text
// track set.
func WithIgnoreTextTracks(ignore bool) Option {
	return func(p *Parser) {
		p.ignoreText = ignore
	}
}

// NewParser creates a parser bound to its callbacks. onInit is called once,
// with every selected stream, before the first sample.
func NewParser(onInit media.InitFunc, onSample media.EmitSampleFunc, opts ...Option) *Parser {
	p := &Parser{
		log:          slog.Default(),
		onInit:       onInit,
		onSample:     onSample,
		infoParser:   EBMLInfoParser{},
		tracksParser: EBMLTracksParser{},
		newCluster:   NewClusterParser,
		ignoreText:   true,
		state:        StateWaitingForInit,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("component", "webm")
	p.setState(StateParsingHeaders)
	return p
}

// State returns the current state.
func (p *Parser) State() State {
	return p.state
}

// LiveStream reports whether the Segment was written with an unknown size,
// as live encoders do.
func (p *Parser) LiveStream() bool {
	return p.liveStream
}

// Parse appends data to the stream and consumes every complete element.
// After a failure the parser stays in StateError and further calls return
// ErrParserFailed.
func (p *Parser) Parse(data []byte) error {
	if p.state == StateError {
		return ErrParserFailed
	}

	p.queue.Push(data)
	buf := p.queue.Peek()

	parsed := 0
	for len(buf) > 0 {
		prev := p.state

		var (
			n   int
			err error
		)
		switch p.state {
		case StateParsingHeaders:
			n, err = p.parseHeader(buf)
		case StateParsingClusters:
			n, err = p.parseCluster(buf)
		default:
			return ErrParserFailed
		}
		if err != nil {
			p.setState(StateError)
			p.log.Warn("parse failed", "error", err)
			return err
		}
		if n == 0 && p.state == prev {
			break
		}

		buf = buf[n:]
		parsed += n
	}

	p.queue.Pop(parsed)
	return nil
}

// Flush drops buffered bytes and the cluster in progress. The stream
// descriptors are kept: parsing resumes with the next element and init is
// not called again.
func (p *Parser) Flush() {
	p.queue.Reset()
	if p.cluster != nil {
		p.cluster.Flush()
	}
	if p.state == StateParsingClusters {
		p.setState(StateParsingHeaders)
	}
}

func (p *Parser) setState(s State) {
	p.log.Debug("state change", "from", p.state, "to", s)
	p.state = s
}

func (p *Parser) parseHeader(buf []byte) (int, error) {
	h, n, err := ebml.ReadElementHeader(buf)
	if err != nil || n == 0 {
		return 0, err
	}

	switch h.ID {
	case ebml.IDEBMLHeader, ebml.IDSeekHead, ebml.IDVoid, ebml.IDCRC32,
		ebml.IDCues, ebml.IDChapters, ebml.IDTags, ebml.IDAttachments:
		size, known := h.Size.Value()
		if !known {
			return 0, &ParseError{Element: h.ID, Err: errors.New("unknown size")}
		}
		if uint64(len(buf)-n) < size {
			return 0, nil
		}
		p.log.Debug("skipping element", "id", h.ID, "size", size)
		return n + int(size), nil

	case ebml.IDCluster:
		if p.cluster == nil {
			return 0, ErrClusterBeforeInfo
		}
		p.setState(StateParsingClusters)
		return 0, nil

	case ebml.IDSegment:
		if h.Size.IsUnknown() {
			p.liveStream = true
		}
		return n, nil

	case ebml.IDInfo:
		return p.parseInfoAndTracks(buf)

	default:
		return 0, fmt.Errorf("%w: %v", ErrUnexpectedElement, h.ID)
	}
}

// parseInfoAndTracks decodes Info and the Tracks element that follows it.
// Nothing is consumed until both are completely buffered.
func (p *Parser) parseInfoAndTracks(buf []byte) (int, error) {
	info, n, err := p.infoParser.ParseInfo(buf)
	if err != nil || n == 0 {
		return 0, err
	}
	tracks, m, err := p.tracksParser.ParseTracks(buf[n:], p.ignoreText)
	if err != nil || m == 0 {
		return 0, err
	}

	if p.cluster != nil {
		p.log.Debug("ignoring repeated headers")
		return n + m, nil
	}

	streams := tracks.Streams()
	durationUS, hasDuration := info.DurationMicros()
	for _, s := range streams {
		if hasDuration {
			s.Duration = durationUS
		}
		if s.Encrypted && p.keys != nil {
			p.keys.OnEncryptedMediaInitData(s.KeyID)
		}
	}
	if tracks.Audio == nil {
		p.log.Debug("no audio track")
	}
	if tracks.Video == nil {
		p.log.Debug("no video track")
	}

	p.log.Info("stream initialized",
		"streams", len(streams),
		"timecode_scale", info.TimecodeScale,
		"live", p.liveStream,
	)
	if p.onInit != nil {
		p.onInit(streams)
	}

	p.cluster = p.newCluster(ClusterConfig{
		TimecodeScale: info.TimecodeScale,
		Audio:         tracks.Audio,
		Video:         tracks.Video,
		TextTracks:    tracks.Text,
		IgnoredTracks: tracks.Ignored,
		OnSample:      p.onSample,
		Logger:        p.log,
	})
	return n + m, nil
}

func (p *Parser) parseCluster(buf []byte) (int, error) {
	n, err := p.cluster.Parse(buf)
	if err != nil {
		return 0, err
	}
	if p.cluster.ClusterEnded() {
		p.setState(StateParsingHeaders)
	}
	return n, nil
}
