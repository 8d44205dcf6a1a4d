package mpegts

import (
	"errors"
	"fmt"
)

const (
	pidPAT = 0x0000

	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

var errCRC = errors.New("CRC32 mismatch")

// MPEG-2 CRC32, polynomial 0x04C11DB7, no reflection.
var crc32Table [256]uint32

func init() {
	for i := range crc32Table {
		crc := uint32(i) << 24
		for range 8 {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		crc32Table[i] = crc
	}
}

func computeCRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = crc<<8 ^ crc32Table[byte(crc>>24)^b]
	}
	return crc
}

// verifyCRC32 checks a section that ends with its own CRC.
func verifyCRC32(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("data too short for CRC32")
	}
	if computeCRC32(data) != 0 {
		return errCRC
	}
	return nil
}

// sections splits a PSI unit (pointer field first) into its sections. The
// second result is false while the last section is still incomplete. Stuffing
// (0xFF) and bytes without the section_syntax_indicator end the list.
func sections(payload []byte) ([][]byte, bool) {
	if len(payload) < 1 {
		return nil, false
	}
	offset := 1 + int(payload[0])
	if offset >= len(payload) {
		return nil, false
	}

	var out [][]byte
	for offset < len(payload) {
		if payload[offset] == 0xFF {
			return out, true
		}
		if offset+3 > len(payload) {
			return out, false
		}
		if payload[offset+1]&0x80 == 0 {
			return out, true
		}
		n := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
		end := offset + 3 + n
		if end > len(payload) {
			return out, false
		}
		out = append(out, payload[offset:end])
		offset = end
	}
	return out, true
}

// parsePAT returns the PMT PID of every program. The network PID (program
// number 0) is skipped.
func parsePAT(data []byte) ([]uint16, error) {
	if err := verifyCRC32(data); err != nil {
		return nil, fmt.Errorf("mpegts: PAT: %w", err)
	}
	// 8 header bytes, 4 bytes per program, 4 CRC bytes.
	if len(data) < 12 {
		return nil, fmt.Errorf("mpegts: PAT too short")
	}

	var pids []uint16
	for i := 8; i+4 <= len(data)-4; i += 4 {
		program := uint16(data[i])<<8 | uint16(data[i+1])
		if program == 0 {
			continue
		}
		pids = append(pids, uint16(data[i+2]&0x1F)<<8|uint16(data[i+3]))
	}
	return pids, nil
}

func parsePMT(pid uint16, data []byte) (*ProgramMap, error) {
	if err := verifyCRC32(data); err != nil {
		return nil, fmt.Errorf("mpegts: PMT: %w", err)
	}
	// 12 header bytes, then program descriptors, stream entries and the CRC.
	if len(data) < 16 {
		return nil, fmt.Errorf("mpegts: PMT too short")
	}

	pm := &ProgramMap{
		PID:           pid,
		ProgramNumber: uint16(data[3])<<8 | uint16(data[4]),
		PCRPID:        uint16(data[8]&0x1F)<<8 | uint16(data[9]),
	}

	end := len(data) - 4
	offset := 12 + (int(data[10]&0x0F)<<8 | int(data[11]))
	for offset+5 <= end {
		pm.Streams = append(pm.Streams, ElementaryStream{
			StreamType: data[offset],
			PID:        uint16(data[offset+1]&0x1F)<<8 | uint16(data[offset+2]),
		})
		offset += 5 + (int(data[offset+3]&0x0F)<<8 | int(data[offset+4]))
	}
	return pm, nil
}
