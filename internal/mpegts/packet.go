package mpegts

import "fmt"

const (
	packetSize = 188
	syncByte   = 0x47
)

func parsePacket(buf []byte) (packet, error) {
	if len(buf) != packetSize {
		return packet{}, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), packetSize)
	}
	if buf[0] != syncByte {
		return packet{}, fmt.Errorf("mpegts: invalid sync byte 0x%02X", buf[0])
	}

	var p packet
	p.header.transportError = buf[1]&0x80 != 0
	p.header.unitStart = buf[1]&0x40 != 0
	p.header.pid = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	p.header.hasAdaptationField = buf[3]&0x20 != 0
	p.header.hasPayload = buf[3]&0x10 != 0
	p.header.continuityCounter = buf[3] & 0x0F

	offset := 4
	if p.header.hasAdaptationField {
		afLen := int(buf[offset])
		if afLen > 0 {
			p.header.discontinuity = buf[offset+1]&0x80 != 0
		}
		offset = min(offset+1+afLen, packetSize)
	}

	if p.header.hasPayload && offset < packetSize {
		p.payload = buf[offset:packetSize:packetSize]
	}
	return p, nil
}

// unitAssembler collects the payloads of one PID into whole units (a PSI
// section run or a PES packet), delimited by the payload_unit_start flag.
type unitAssembler struct {
	buf    []byte
	lastCC uint8
	active bool
}

// add appends p. If p starts a new unit while another was in progress, the
// previous unit is returned.
func (a *unitAssembler) add(p packet) []byte {
	h := p.header
	if h.transportError {
		a.drop()
		return nil
	}
	if !h.hasPayload {
		return nil
	}

	if a.active && !h.discontinuity {
		expected := (a.lastCC + 1) & 0x0F
		if h.continuityCounter != expected {
			if h.continuityCounter == a.lastCC {
				return nil // duplicate
			}
			a.drop()
		}
	}

	var done []byte
	if h.unitStart {
		if a.active && len(a.buf) > 0 {
			done = a.buf
		}
		a.buf = nil
		a.active = true
	} else if !a.active {
		return nil // mid-unit, wait for the next start
	}

	a.lastCC = h.continuityCounter
	a.buf = append(a.buf, p.payload...)
	return done
}

// take returns the unit in progress and starts waiting for the next one.
func (a *unitAssembler) take() []byte {
	buf := a.buf
	a.drop()
	return buf
}

func (a *unitAssembler) drop() {
	a.buf = nil
	a.active = false
}
