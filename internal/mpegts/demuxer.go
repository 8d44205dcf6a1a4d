package mpegts

import (
	"bytes"
	"errors"
	"log/slog"
	"maps"
	"slices"

	"github.com/zsiec/mediaparse/internal/bytequeue"
)

// Demuxer is a push-based transport stream demultiplexer. Bytes are fed in
// with Feed in chunks of any size; program maps and PES packets are
// delivered through the handlers set at construction, in stream order.
//
// Corrupt packets, sections with a bad CRC and PES packets with a bad start
// code are skipped. Lost sync is recovered by scanning for the next sync
// byte.
type Demuxer struct {
	log          *slog.Logger
	onProgramMap func(*ProgramMap) error
	onPES        func(*PES) error

	queue     bytequeue.Queue
	pmtPIDs   map[uint16]bool
	esPIDs    map[uint16]bool
	lastPMT   map[uint16]string
	assembler map[uint16]*unitAssembler
}

// DemuxerOpt configures a Demuxer.
type DemuxerOpt func(*Demuxer)

// DemuxerOptLogger sets the logger. The default is slog.Default().
func DemuxerOptLogger(log *slog.Logger) DemuxerOpt {
	return func(d *Demuxer) {
		if log != nil {
			d.log = log
		}
	}
}

// DemuxerOptProgramMapHandler is called for every new or changed PMT. An
// error aborts the current Feed.
func DemuxerOptProgramMapHandler(fn func(*ProgramMap) error) DemuxerOpt {
	return func(d *Demuxer) {
		d.onProgramMap = fn
	}
}

// DemuxerOptPESHandler is called for every reassembled PES packet of a
// stream listed in a PMT. The packet's Data is owned by the handler. An
// error aborts the current Feed.
func DemuxerOptPESHandler(fn func(*PES) error) DemuxerOpt {
	return func(d *Demuxer) {
		d.onPES = fn
	}
}

// NewDemuxer creates a demuxer.
func NewDemuxer(opts ...DemuxerOpt) *Demuxer {
	d := &Demuxer{log: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("component", "mpegts")
	d.reset()
	return d
}

// Feed appends data to the stream and processes every complete packet.
func (d *Demuxer) Feed(data []byte) error {
	d.queue.Push(data)
	for {
		buf := d.queue.Peek()
		if len(buf) == 0 {
			return nil
		}
		if buf[0] != syncByte {
			n := bytes.IndexByte(buf, syncByte)
			if n < 0 {
				n = len(buf)
			}
			d.log.Debug("sync lost, skipping", "bytes", n)
			d.queue.Pop(n)
			continue
		}
		if len(buf) < packetSize {
			return nil
		}

		pkt, err := parsePacket(buf[:packetSize])
		if err != nil {
			d.queue.Pop(1)
			continue
		}
		err = d.handle(pkt)
		d.queue.Pop(packetSize)
		if err != nil {
			return err
		}
	}
}

// Flush delivers every PES packet still in progress, as happens at end of
// stream for unbounded packets. A trailing partial transport packet is
// discarded.
func (d *Demuxer) Flush() error {
	d.queue.Reset()

	var errs []error
	for _, pid := range slices.Sorted(maps.Keys(d.assembler)) {
		a := d.assembler[pid]
		if !a.active {
			continue
		}
		unit := a.take()
		if !d.esPIDs[pid] {
			continue
		}
		if err := d.emitPES(pid, unit); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reset forgets all buffered data and program state.
func (d *Demuxer) Reset() {
	d.queue.Reset()
	d.reset()
}

func (d *Demuxer) reset() {
	d.pmtPIDs = make(map[uint16]bool)
	d.esPIDs = make(map[uint16]bool)
	d.lastPMT = make(map[uint16]string)
	d.assembler = make(map[uint16]*unitAssembler)
}

func (d *Demuxer) unit(pid uint16) *unitAssembler {
	a, ok := d.assembler[pid]
	if !ok {
		a = &unitAssembler{}
		d.assembler[pid] = a
	}
	return a
}

func (d *Demuxer) handle(p packet) error {
	pid := p.header.pid
	switch {
	case pid == pidPAT || d.pmtPIDs[pid]:
		a := d.unit(pid)
		if prev := a.add(p); prev != nil {
			if err := d.handlePSI(pid, prev); err != nil {
				return err
			}
		}
		if !a.active {
			return nil
		}
		if _, complete := sections(a.buf); complete {
			return d.handlePSI(pid, a.take())
		}
		return nil

	case d.esPIDs[pid]:
		a := d.unit(pid)
		if prev := a.add(p); prev != nil {
			if err := d.emitPES(pid, prev); err != nil {
				return err
			}
		}
		if a.active && pesComplete(a.buf) {
			return d.emitPES(pid, a.take())
		}
	}
	return nil
}

func (d *Demuxer) handlePSI(pid uint16, payload []byte) error {
	secs, _ := sections(payload)
	for _, sec := range secs {
		switch sec[0] {
		case tableIDPAT:
			if pid != pidPAT {
				continue
			}
			pmtPIDs, err := parsePAT(sec)
			if err != nil {
				d.log.Debug("skipping PAT", "error", err)
				continue
			}
			for _, p := range pmtPIDs {
				d.pmtPIDs[p] = true
			}

		case tableIDPMT:
			if !d.pmtPIDs[pid] {
				continue
			}
			if d.lastPMT[pid] == string(sec) {
				continue
			}
			pm, err := parsePMT(pid, sec)
			if err != nil {
				d.log.Debug("skipping PMT", "pid", pid, "error", err)
				continue
			}
			d.lastPMT[pid] = string(sec)
			for _, es := range pm.Streams {
				d.esPIDs[es.PID] = true
			}
			d.log.Debug("program map", "pid", pid, "program", pm.ProgramNumber, "streams", len(pm.Streams))
			if d.onProgramMap != nil {
				if err := d.onProgramMap(pm); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (d *Demuxer) emitPES(pid uint16, unit []byte) error {
	pes, err := parsePES(pid, unit)
	if err != nil {
		d.log.Debug("skipping PES", "pid", pid, "error", err)
		return nil
	}
	if d.onPES == nil {
		return nil
	}
	return d.onPES(pes)
}
