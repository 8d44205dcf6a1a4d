// Package pipeline drives one ingested stream: it reads the stream's bytes,
// feeds them to the container parser chosen for its format, and forwards
// stream descriptors and samples to a Sink while collecting counters.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/mediaparse/internal/ingest"
	"github.com/zsiec/mediaparse/internal/media"
)

// DefaultReadSize is the read buffer used when none is configured: ten SRT
// payloads of seven TS packets.
const DefaultReadSize = 1316 * 10

// Sink receives a stream's output. Both methods are called from the
// pipeline's goroutine, OnInit once before the first OnSample.
type Sink interface {
	OnInit(streams []*media.StreamInfo)
	OnSample(s *media.Sample)
}

// Stats is a point-in-time snapshot of a pipeline's counters.
type Stats struct {
	BytesRead int64 `json:"bytesRead"`
	Reads     int64 `json:"reads"`
	Samples   int64 `json:"samples"`
	Streams   int   `json:"streams"`
	LastPTS   int64 `json:"lastPts"`
	UptimeMs  int64 `json:"uptimeMs"`
}

type parserFactory func(onInit media.InitFunc, onSample media.EmitSampleFunc) (media.Parser, error)

// Pipeline owns one stream's parser. It is not safe for concurrent Run
// calls; Stats may be called from any goroutine.
type Pipeline struct {
	log       *slog.Logger
	streamKey string
	input     io.Reader
	sink      Sink
	readSize  int
	parser    media.Parser
	startTime time.Time

	bytesRead atomic.Int64
	reads     atomic.Int64
	samples   atomic.Int64
	streams   atomic.Int32
	lastPTS   atomic.Int64
}

// Option configures a Pipeline.
type Option func(*config)

type config struct {
	log       *slog.Logger
	readSize  int
	newParser parserFactory
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

// WithReadSize sets the size of each read from the input.
func WithReadSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.readSize = n
		}
	}
}

// New creates a Pipeline that parses input as format and forwards the
// result to sink.
func New(streamKey string, input io.Reader, format ingest.InputFormat, sink Sink, opts ...Option) (*Pipeline, error) {
	cfg := config{
		log:      slog.Default(),
		readSize: DefaultReadSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	log := cfg.log.With("stream", streamKey, "format", format)
	if cfg.newParser == nil {
		cfg.newParser = func(onInit media.InitFunc, onSample media.EmitSampleFunc) (media.Parser, error) {
			return ingest.NewParser(format, onInit, onSample, log)
		}
	}

	p := &Pipeline{
		log:       log,
		streamKey: streamKey,
		input:     input,
		sink:      sink,
		readSize:  cfg.readSize,
		startTime: time.Now(),
	}
	p.lastPTS.Store(media.NoTimestamp)

	parser, err := cfg.newParser(p.handleInit, p.handleSample)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", streamKey, err)
	}
	p.parser = parser
	return p, nil
}

// Stats returns the current counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		BytesRead: p.bytesRead.Load(),
		Reads:     p.reads.Load(),
		Samples:   p.samples.Load(),
		Streams:   int(p.streams.Load()),
		LastPTS:   p.lastPTS.Load(),
		UptimeMs:  time.Since(p.startTime).Milliseconds(),
	}
}

// Run reads the input until EOF, then flushes the parser. It returns nil at
// EOF or when ctx is cancelled, and the first read or parse error
// otherwise. A parse error is terminal for the stream.
func (p *Pipeline) Run(ctx context.Context) error {
	buf := make([]byte, p.readSize)
	for {
		if ctx.Err() != nil {
			p.log.Info("pipeline cancelled")
			return nil
		}

		n, err := p.input.Read(buf)
		if n > 0 {
			p.bytesRead.Add(int64(n))
			p.reads.Add(1)
			if perr := p.parser.Parse(buf[:n]); perr != nil {
				return fmt.Errorf("pipeline %s: %w", p.streamKey, perr)
			}
		}
		if err == nil {
			continue
		}

		p.parser.Flush()
		if errors.Is(err, io.EOF) {
			s := p.Stats()
			p.log.Info("input ended", "bytes", s.BytesRead, "samples", s.Samples)
			return nil
		}
		return fmt.Errorf("pipeline %s: read: %w", p.streamKey, err)
	}
}

func (p *Pipeline) handleInit(streams []*media.StreamInfo) {
	p.streams.Store(int32(len(streams)))
	for _, s := range streams {
		p.log.Info("stream",
			"track", s.TrackID,
			"kind", s.Kind,
			"codec", s.CodecString,
		)
	}
	if p.sink != nil {
		p.sink.OnInit(streams)
	}
}

func (p *Pipeline) handleSample(s *media.Sample) {
	p.samples.Add(1)
	p.lastPTS.Store(s.PTS)
	if p.sink != nil {
		p.sink.OnSample(s)
	}
}
