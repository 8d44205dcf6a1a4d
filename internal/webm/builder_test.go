package webm

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/zsiec/mediaparse/internal/ebml"
)

// Element IDs only needed to build test streams.
const (
	idTimecodeScale   ebml.ID = 0x2AD7B1
	idDuration        ebml.ID = 0x4489
	idTrackEntry      ebml.ID = 0xAE
	idTrackNumber     ebml.ID = 0xD7
	idTrackType       ebml.ID = 0x83
	idCodecID         ebml.ID = 0x86
	idDefaultDuration ebml.ID = 0x23E383
	idAudio           ebml.ID = 0xE1
	idSampling        ebml.ID = 0xB5
	idChannels        ebml.ID = 0x9F
	idVideo           ebml.ID = 0xE0
	idPixelWidth      ebml.ID = 0xB0
	idPixelHeight     ebml.ID = 0xBA
	idContentEncs     ebml.ID = 0x6D80
	idContentEnc      ebml.ID = 0x6240
	idContentEncrypt  ebml.ID = 0x5035
	idContentEncKeyID ebml.ID = 0x47E2
	idEBMLVersion     ebml.ID = 0x4286
)

var unknownSize = []byte{0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

func idBytes(id ebml.ID) []byte {
	b := binary.BigEndian.AppendUint32(nil, uint32(id))
	for len(b) > 1 && b[0] == 0 {
		b = b[1:]
	}
	return b
}

func sizeBytes(n int) []byte {
	switch {
	case n < 0x7F:
		return []byte{0x80 | byte(n)}
	case n < 0x3FFF:
		return []byte{0x40 | byte(n>>8), byte(n)}
	default:
		b := binary.BigEndian.AppendUint64(nil, uint64(n))
		b[0] = 0x01
		return b
	}
}

func el(id ebml.ID, children ...[]byte) []byte {
	payload := bytes.Join(children, nil)
	out := append(idBytes(id), sizeBytes(len(payload))...)
	return append(out, payload...)
}

// openEl writes an element header with unknown size.
func openEl(id ebml.ID) []byte {
	return append(idBytes(id), unknownSize...)
}

func uintEl(id ebml.ID, v uint64) []byte {
	b := binary.BigEndian.AppendUint64(nil, v)
	for len(b) > 1 && b[0] == 0 {
		b = b[1:]
	}
	return el(id, b)
}

func floatEl(id ebml.ID, f float64) []byte {
	return el(id, binary.BigEndian.AppendUint64(nil, math.Float64bits(f)))
}

func strEl(id ebml.ID, s string) []byte {
	return el(id, []byte(s))
}

// block builds a SimpleBlock or Block body without lacing.
func block(track uint8, timecode int16, flags byte, data []byte) []byte {
	b := []byte{0x80 | track, byte(uint16(timecode) >> 8), byte(timecode), flags}
	return append(b, data...)
}

func ebmlHeader() []byte {
	return el(ebml.IDEBMLHeader, uintEl(idEBMLVersion, 1), strEl(0x4282, "webm"))
}

func infoEl(scale uint64, duration float64) []byte {
	return el(ebml.IDInfo, uintEl(idTimecodeScale, scale), floatEl(idDuration, duration))
}

func audioTrack(number uint64, codec string) []byte {
	return el(idTrackEntry,
		uintEl(idTrackNumber, number),
		uintEl(idTrackType, trackTypeAudio),
		strEl(idCodecID, codec),
		el(idAudio, floatEl(idSampling, 48000), uintEl(idChannels, 2)),
	)
}

func videoTrack(number uint64, keyID []byte) []byte {
	children := [][]byte{
		uintEl(idTrackNumber, number),
		uintEl(idTrackType, trackTypeVideo),
		strEl(idCodecID, "V_VP8"),
		el(idVideo, uintEl(idPixelWidth, 640), uintEl(idPixelHeight, 360)),
	}
	if keyID != nil {
		children = append(children,
			el(idContentEncs, el(idContentEnc, el(idContentEncrypt,
				uintEl(0x47E1, 5), el(idContentEncKeyID, keyID)))))
	}
	return el(idTrackEntry, children...)
}

func textTrack(number uint64) []byte {
	return el(idTrackEntry,
		uintEl(idTrackNumber, number),
		uintEl(idTrackType, trackTypeSubtitle),
		strEl(idCodecID, "D_WEBVTT/SUBTITLES"),
	)
}
