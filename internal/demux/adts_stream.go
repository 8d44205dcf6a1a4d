package demux

import (
	"log/slog"

	"github.com/zsiec/mediaparse/internal/media"
)

// rawADTSTrackID is the track ID given to the only stream of a raw ADTS file.
const rawADTSTrackID = 1

// ADTSStreamParser reads a bare ADTS stream, such as an .aac file, with no
// container around it. The stream has a single track whose timeline starts
// at zero; init fires when the first frame establishes its configuration.
type ADTSStreamParser struct {
	es      *ADTSParser
	onInit  media.InitFunc
	started bool
}

var _ media.Parser = (*ADTSStreamParser)(nil)

// NewADTSStreamParser creates a parser for a bare ADTS stream. A nil log
// means slog.Default().
func NewADTSStreamParser(onInit media.InitFunc, onSample media.EmitSampleFunc, log *slog.Logger) *ADTSStreamParser {
	p := &ADTSStreamParser{onInit: onInit}
	p.es = NewADTSParser(rawADTSTrackID, p.handleNewStream, onSample, WithADTSLogger(log))
	return p
}

// Parse feeds the next fragment of the stream.
func (p *ADTSStreamParser) Parse(data []byte) error {
	pts := media.NoTimestamp
	if !p.started {
		pts = 0
		p.started = true
	}
	return p.es.Parse(data, pts, pts)
}

// Flush ends the stream. A trailing partial frame is never emitted.
func (p *ADTSStreamParser) Flush() {
	p.es.Flush()
}

func (p *ADTSStreamParser) handleNewStream(info *media.StreamInfo) {
	if p.onInit != nil {
		p.onInit([]*media.StreamInfo{info})
	}
}
