// Package demux extracts audio access units from MPEG elementary and
// transport streams. [ADTSParser] frames an ADTS AAC elementary stream
// delivered in arbitrary fragments and derives per-frame timestamps from
// the sparse timestamps of its carrier. [TSParser] routes the AAC streams
// of an MPEG transport stream into one ADTSParser each, and
// [ADTSStreamParser] reads a bare ADTS file as a single-track container.
package demux
