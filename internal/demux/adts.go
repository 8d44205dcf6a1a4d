package demux

import (
	"errors"
	"fmt"
)

// ErrInvalidADTS is returned when the ADTS sync word or header is malformed.
var ErrInvalidADTS = errors.New("invalid ADTS header")

const adtsHeaderMinSize = 7

// AAC sample rate index table (ISO 14496-3). Indexes 13 and 14 are
// reserved; 15 means an explicit rate, which ADTS cannot carry.
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// Channel count per channel_configuration. 0 means the layout is signalled
// in-band by a program config element, which is not supported.
var aacChannelCounts = [...]int{0, 1, 2, 3, 4, 5, 6, 8}

// adtsHeader is a view over the first bytes of an ADTS frame.
type adtsHeader []byte

// isADTSSyncWord checks the 12-bit sync word and that the layer field is 0.
// b must hold at least 2 bytes.
func isADTSSyncWord(b []byte) bool {
	return b[0] == 0xFF && b[1]&0xF6 == 0xF0
}

func (h adtsHeader) frameSize() int {
	return int(h[3]&0x03)<<11 | int(h[4])<<3 | int(h[5]>>5)
}

func (h adtsHeader) profile() int {
	return int(h[2]>>6) & 0x03
}

func (h adtsHeader) frequencyIndex() int {
	return int(h[2]>>2) & 0x0F
}

func (h adtsHeader) channelConfig() int {
	return int(h[2]&0x01)<<2 | int(h[3]>>6)&0x03
}

// sampleRate validates and resolves the frequency index.
func (h adtsHeader) sampleRate() (int, error) {
	idx := h.frequencyIndex()
	if idx >= len(aacSampleRates) {
		return 0, fmt.Errorf("%w: frequency index %d", ErrInvalidADTS, idx)
	}
	return aacSampleRates[idx], nil
}

// channels validates and resolves the channel configuration.
func (h adtsHeader) channels() (int, error) {
	cfg := h.channelConfig()
	if cfg == 0 || cfg >= len(aacChannelCounts) {
		return 0, fmt.Errorf("%w: channel configuration %d", ErrInvalidADTS, cfg)
	}
	return aacChannelCounts[cfg], nil
}

// findADTSFrame looks for the next ADTS frame in buf at or after pos.
//
// When found, newPos is the frame start and size its total length (header
// plus payload); the frame itself may extend past the end of buf. When not
// found, newPos is the first offset that has not been examined, so a later
// call with more data resumes there. newPos is never less than pos.
//
// A candidate sync word is confirmed by a second sync word right after the
// frame whenever enough bytes are buffered to check it.
func findADTSFrame(buf []byte, pos int) (newPos, size int, found bool) {
	maxOffset := len(buf) - adtsHeaderMinSize
	if pos > maxOffset {
		return pos, 0, false
	}

	for offset := pos; offset <= maxOffset; offset++ {
		cur := buf[offset:]
		if !isADTSSyncWord(cur) {
			continue
		}

		frameSize := adtsHeader(cur).frameSize()
		if frameSize < adtsHeaderMinSize {
			continue
		}

		if len(cur) >= frameSize+2 && !isADTSSyncWord(cur[frameSize:]) {
			continue
		}

		return offset, frameSize, true
	}

	return maxOffset + 1, 0, false
}
