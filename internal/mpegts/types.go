// Package mpegts demultiplexes an MPEG transport stream that arrives in
// chunks of any size. It discovers programs from the PAT and PMT and
// reassembles the PES packets of every elementary stream a PMT announces.
package mpegts

// Stream types (ISO/IEC 13818-1, Table 2-34) that callers commonly route.
const (
	StreamTypeADTSAAC = 0x0F
	StreamTypeH264    = 0x1B
	StreamTypeH265    = 0x24
)

type packetHeader struct {
	pid                uint16
	continuityCounter  uint8
	hasAdaptationField bool
	hasPayload         bool
	unitStart          bool
	transportError     bool
	discontinuity      bool
}

// packet is a view over one 188-byte transport packet. payload aliases the
// input buffer.
type packet struct {
	header  packetHeader
	payload []byte
}

// ElementaryStream is one entry of a program map.
type ElementaryStream struct {
	PID        uint16
	StreamType uint8
}

// ProgramMap is a parsed Program Map Table.
type ProgramMap struct {
	PID           uint16
	ProgramNumber uint16
	PCRPID        uint16
	Streams       []ElementaryStream
}

// PES is a reassembled PES packet. PTS and DTS are 90 kHz values, or
// media.NoTimestamp when the header carries none. A header with only a PTS
// reports it as the DTS as well.
type PES struct {
	PID      uint16
	StreamID uint8
	PTS      int64
	DTS      int64
	Data     []byte
}
