package mpegts

import (
	"fmt"

	"github.com/zsiec/mediaparse/internal/media"
)

const pesHeaderSize = 6

// isPESPayload checks for the PES start code prefix (0x000001).
func isPESPayload(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

// pesComplete reports whether buf holds a PES packet with a declared length
// that has been fully received. Unbounded packets are never complete.
func pesComplete(buf []byte) bool {
	if len(buf) < pesHeaderSize {
		return false
	}
	n := int(buf[4])<<8 | int(buf[5])
	return n > 0 && len(buf) >= pesHeaderSize+n
}

// hasOptionalPESHeader excludes the stream IDs that carry no optional header:
// padding, private_stream_2, ECM, EMM, DSMCC, H.222.1 type E and the program
// stream directory.
func hasOptionalPESHeader(streamID uint8) bool {
	switch streamID {
	case 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

func parsePES(pid uint16, payload []byte) (*PES, error) {
	if len(payload) < pesHeaderSize {
		return nil, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(payload))
	}
	if !isPESPayload(payload) {
		return nil, fmt.Errorf("mpegts: invalid PES start code")
	}

	pes := &PES{
		PID:      pid,
		StreamID: payload[3],
		PTS:      media.NoTimestamp,
		DTS:      media.NoTimestamp,
	}

	end := len(payload)
	if n := int(payload[4])<<8 | int(payload[5]); n > 0 && pesHeaderSize+n < end {
		end = pesHeaderSize + n
	}

	if !hasOptionalPESHeader(pes.StreamID) {
		pes.Data = payload[pesHeaderSize:end]
		return pes, nil
	}

	if len(payload) < 9 {
		return nil, fmt.Errorf("mpegts: PES optional header too short")
	}

	// payload[7]: PTS_DTS_flags(2) ESCR(1) ES_rate(1) DSM_trick(1)
	// additional_copy(1) CRC(1) extension(1); payload[8]: header_data_length.
	flags := payload[7] >> 6
	dataStart := min(9+int(payload[8]), end)

	switch flags {
	case 2:
		if len(payload) >= 14 {
			pes.PTS = parseTimestamp(payload[9:14])
			pes.DTS = pes.PTS
		}
	case 3:
		if len(payload) >= 19 {
			pes.PTS = parseTimestamp(payload[9:14])
			pes.DTS = parseTimestamp(payload[14:19])
		}
	}

	pes.Data = payload[dataStart:end]
	return pes, nil
}

// parseTimestamp extracts a 33-bit PTS or DTS from its 5-byte encoding.
func parseTimestamp(bs []byte) int64 {
	return int64(bs[0]>>1&0x07)<<30 |
		int64(bs[1])<<22 |
		int64(bs[2]>>1&0x7F)<<15 |
		int64(bs[3])<<7 |
		int64(bs[4]>>1&0x7F)
}
