// Package ebml reads EBML element headers from a byte window that may end
// anywhere, as needed when a Matroska or WebM stream arrives in pieces.
//
// Element payloads are decoded elsewhere; this package only frames them.
package ebml

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidID is returned for an element ID longer than 4 bytes or
	// with every value bit set.
	ErrInvalidID = errors.New("ebml: invalid element ID")
	// ErrInvalidSize is returned for a size field longer than 8 bytes.
	ErrInvalidSize = errors.New("ebml: invalid element size")
)

const (
	maxIDLength   = 4
	maxSizeLength = 8
)

// ID is an element ID including its length marker bits, as written in the
// Matroska specification (Segment is 0x18538067).
type ID uint32

// Element IDs used by WebM.
const (
	IDEBMLHeader     ID = 0x1A45DFA3
	IDVoid           ID = 0xEC
	IDCRC32          ID = 0xBF
	IDSegment        ID = 0x18538067
	IDSeekHead       ID = 0x114D9B74
	IDInfo           ID = 0x1549A966
	IDTracks         ID = 0x1654AE6B
	IDCluster        ID = 0x1F43B675
	IDCues           ID = 0x1C53BB6B
	IDChapters       ID = 0x1043A770
	IDTags           ID = 0x1254C367
	IDAttachments    ID = 0x1941A469
	IDTimecode       ID = 0xE7
	IDPosition       ID = 0xA7
	IDPrevSize       ID = 0xAB
	IDSimpleBlock    ID = 0xA3
	IDBlockGroup     ID = 0xA0
	IDBlock          ID = 0xA1
	IDBlockDuration  ID = 0x9B
	IDReferenceBlock ID = 0xFB
	IDDiscardPadding ID = 0x75A2
)

func (id ID) String() string {
	return fmt.Sprintf("0x%X", uint32(id))
}

// Size is the payload size of an element. Live streams write Segment and
// Cluster elements with an unknown size; their end is only found by
// reaching the next element that cannot be a child.
type Size struct {
	n     uint64
	known bool
}

// Known returns a Size of n bytes.
func Known(n uint64) Size {
	return Size{n: n, known: true}
}

// Unknown returns the unknown Size.
func Unknown() Size {
	return Size{}
}

// Value returns the size in bytes and whether it is known.
func (s Size) Value() (uint64, bool) {
	return s.n, s.known
}

// IsUnknown reports whether the size is unknown.
func (s Size) IsUnknown() bool {
	return !s.known
}

func (s Size) String() string {
	if !s.known {
		return "unknown"
	}
	return fmt.Sprintf("%d", s.n)
}

// Header is a decoded element header.
type Header struct {
	ID   ID
	Size Size
}

// ReadElementHeader decodes the element header at the start of buf and
// returns it with its encoded length. When buf ends before the header does,
// it returns a zero Header, 0 and a nil error: the caller should retry with
// more data.
func ReadElementHeader(buf []byte) (Header, int, error) {
	if len(buf) == 0 {
		return Header{}, 0, nil
	}

	idLen := vintLength(buf[0])
	if idLen == 0 || idLen > maxIDLength {
		return Header{}, 0, fmt.Errorf("%w: first byte 0x%02X", ErrInvalidID, buf[0])
	}
	if len(buf) < idLen {
		return Header{}, 0, nil
	}
	var id uint32
	for _, b := range buf[:idLen] {
		id = id<<8 | uint32(b)
	}
	if vintValue(buf[:idLen]) == allOnes(idLen) {
		return Header{}, 0, fmt.Errorf("%w: reserved ID 0x%X", ErrInvalidID, id)
	}

	rest := buf[idLen:]
	if len(rest) == 0 {
		return Header{}, 0, nil
	}
	sizeLen := vintLength(rest[0])
	if sizeLen == 0 {
		return Header{}, 0, fmt.Errorf("%w: first byte 0x00", ErrInvalidSize)
	}
	if len(rest) < sizeLen {
		return Header{}, 0, nil
	}

	h := Header{ID: ID(id)}
	if v := vintValue(rest[:sizeLen]); v == allOnes(sizeLen) {
		h.Size = Unknown()
	} else {
		h.Size = Known(v)
	}
	return h, idLen + sizeLen, nil
}

// vintLength returns the encoded length announced by the leading zero bits
// of first, or 0 when first is zero (a length above 8).
func vintLength(first byte) int {
	for n := 1; n <= maxSizeLength; n++ {
		if first&(0x80>>(n-1)) != 0 {
			return n
		}
	}
	return 0
}

// vintValue returns the value bits of a variable-length integer, without
// its length marker.
func vintValue(b []byte) uint64 {
	v := uint64(b[0] & (0xFF >> len(b)))
	for _, c := range b[1:] {
		v = v<<8 | uint64(c)
	}
	return v
}

func allOnes(length int) uint64 {
	return 1<<(7*length) - 1
}
