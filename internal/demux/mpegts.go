package demux

import (
	"fmt"
	"log/slog"

	"github.com/zsiec/mediaparse/internal/media"
	"github.com/zsiec/mediaparse/internal/mpegts"
)

// TSParser demuxes an MPEG transport stream carrying ADTS AAC audio. Each
// AAC elementary stream gets its own ADTSParser with the PID as track ID.
//
// The init callback fires once, after every AAC stream announced by the
// program maps seen so far has produced its first frame. Samples produced
// before that are held back and delivered right after init.
type TSParser struct {
	log      *slog.Logger
	onInit   media.InitFunc
	onSample media.EmitSampleFunc

	dmx    *mpegts.Demuxer
	audio  map[uint16]*ADTSParser
	order  []uint16
	inited bool
	held   []*media.Sample
}

var _ media.Parser = (*TSParser)(nil)

// TSOption configures a TSParser.
type TSOption func(*TSParser)

// WithTSLogger sets the logger. The default is slog.Default().
func WithTSLogger(log *slog.Logger) TSOption {
	return func(p *TSParser) {
		if log != nil {
			p.log = log
		}
	}
}

// NewTSParser creates a transport stream parser.
func NewTSParser(onInit media.InitFunc, onSample media.EmitSampleFunc, opts ...TSOption) *TSParser {
	p := &TSParser{
		log:      slog.Default(),
		onInit:   onInit,
		onSample: onSample,
		audio:    make(map[uint16]*ADTSParser),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("component", "ts")
	p.dmx = mpegts.NewDemuxer(
		mpegts.DemuxerOptLogger(p.log),
		mpegts.DemuxerOptProgramMapHandler(p.handleProgramMap),
		mpegts.DemuxerOptPESHandler(p.handlePES),
	)
	return p
}

// Parse feeds a chunk of the transport stream.
func (p *TSParser) Parse(data []byte) error {
	if err := p.dmx.Feed(data); err != nil {
		return fmt.Errorf("demux: transport stream: %w", err)
	}
	return nil
}

// Flush delivers the PES packets still being assembled and, if some but not
// all audio streams were configured, completes init with those that were.
func (p *TSParser) Flush() {
	if err := p.dmx.Flush(); err != nil {
		p.log.Warn("flush failed", "error", err)
	}
	for _, pid := range p.order {
		p.audio[pid].Flush()
	}
	if !p.inited && len(p.configured()) > 0 {
		p.finishInit()
	}
}

func (p *TSParser) handleProgramMap(pm *mpegts.ProgramMap) error {
	for _, es := range pm.Streams {
		if es.StreamType != mpegts.StreamTypeADTSAAC {
			p.log.Debug("ignoring elementary stream", "pid", es.PID, "stream_type", es.StreamType)
			continue
		}
		if _, ok := p.audio[es.PID]; ok {
			continue
		}
		if p.inited {
			p.log.Warn("audio stream added after init, ignoring", "pid", es.PID)
			continue
		}
		p.audio[es.PID] = NewADTSParser(uint32(es.PID), p.handleNewStream, p.handleSample,
			WithADTSLogger(p.log))
		p.order = append(p.order, es.PID)
		p.log.Info("found audio PID", "pid", es.PID, "program", pm.ProgramNumber)
	}
	return nil
}

func (p *TSParser) handlePES(pes *mpegts.PES) error {
	es, ok := p.audio[pes.PID]
	if !ok {
		return nil
	}
	return es.Parse(pes.Data, pes.PTS, pes.DTS)
}

func (p *TSParser) handleNewStream(*media.StreamInfo) {
	if p.inited {
		return
	}
	if len(p.configured()) == len(p.order) {
		p.finishInit()
	}
}

func (p *TSParser) handleSample(s *media.Sample) {
	if !p.inited {
		p.held = append(p.held, s)
		return
	}
	if p.onSample != nil {
		p.onSample(s)
	}
}

func (p *TSParser) configured() []*media.StreamInfo {
	var infos []*media.StreamInfo
	for _, pid := range p.order {
		if info := p.audio[pid].StreamInfo(); info != nil {
			infos = append(infos, info)
		}
	}
	return infos
}

func (p *TSParser) finishInit() {
	p.inited = true
	if p.onInit != nil {
		p.onInit(p.configured())
	}
	held := p.held
	p.held = nil
	for _, s := range held {
		if p.onSample != nil {
			p.onSample(s)
		}
	}
}
