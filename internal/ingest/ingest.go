// Package ingest tracks active ingest connections, couples each one's byte
// pipe with its container format, and dispatches new streams to the
// parsing pipeline.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/mediaparse/internal/demux"
	"github.com/zsiec/mediaparse/internal/media"
	"github.com/zsiec/mediaparse/internal/webm"
)

// ErrDuplicateStream is returned by Register when the key is already live.
var ErrDuplicateStream = errors.New("ingest: stream already exists")

// InputFormat identifies the container format of an ingested stream.
type InputFormat int

// Supported ingest container formats.
const (
	FormatMPEGTS InputFormat = iota
	FormatWebM
	FormatADTS
)

func (f InputFormat) String() string {
	switch f {
	case FormatMPEGTS:
		return "mpegts"
	case FormatWebM:
		return "webm"
	case FormatADTS:
		return "adts"
	default:
		return fmt.Sprintf("InputFormat(%d)", int(f))
	}
}

// FormatFromName picks the container format from the extension of a stream
// key or file name. Anything unrecognized is treated as MPEG-TS, the format
// SRT publishers send by default.
func FormatFromName(name string) InputFormat {
	switch strings.ToLower(path.Ext(name)) {
	case ".webm", ".mkv", ".mka":
		return FormatWebM
	case ".aac", ".adts":
		return FormatADTS
	default:
		return FormatMPEGTS
	}
}

// NewParser returns the container parser for format, bound to its
// callbacks. A nil log means slog.Default().
func NewParser(format InputFormat, onInit media.InitFunc, onSample media.EmitSampleFunc, log *slog.Logger) (media.Parser, error) {
	switch format {
	case FormatMPEGTS:
		return demux.NewTSParser(onInit, onSample, demux.WithTSLogger(log)), nil
	case FormatWebM:
		return webm.NewParser(onInit, onSample, webm.WithLogger(log)), nil
	case FormatADTS:
		return demux.NewADTSStreamParser(onInit, onSample, log), nil
	default:
		return nil, fmt.Errorf("ingest: unknown format %v", format)
	}
}

// IngestStats captures connection-level metrics for an ingest stream.
type IngestStats struct {
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Stream represents an active ingest connection. Bytes the receiver writes
// into the pipe are read by the stream's pipeline.
type Stream struct {
	Key       string
	StartedAt time.Time
	Format    InputFormat
	input     io.ReadCloser
	pw        io.WriteCloser
	done      chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// RecordRead increments the byte and read counters, called by the receiver
// after each successful socket read.
func (s *Stream) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr stores the remote address of the ingest connection.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Done is closed when the stream is unregistered.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// IngestStats returns a snapshot of ingest connection metrics.
func (s *Stream) IngestStats() IngestStats {
	addr, _ := s.remoteAddr.Load().(string)
	return IngestStats{
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

// StreamFunc is called, on its own goroutine, for every registered stream.
// input yields the stream's bytes until it is unregistered.
type StreamFunc func(key string, input io.Reader, format InputFormat)

// Registry tracks active ingest streams by key. It is the rendezvous point
// between the network receivers and the parsing pipelines.
type Registry struct {
	log     *slog.Logger
	mu      sync.RWMutex
	streams map[string]*Stream

	onStream StreamFunc
}

// NewRegistry creates a Registry. If log is nil, slog.Default() is used.
func NewRegistry(onStream StreamFunc, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log.With("component", "ingest-registry"),
		streams:  make(map[string]*Stream),
		onStream: onStream,
	}
}

// Register creates a stream with the given key and format and returns the
// Writer the receiver should write into. A key that is already live is
// rejected with ErrDuplicateStream.
func (r *Registry) Register(key string, format InputFormat) (*Stream, io.Writer, error) {
	r.mu.Lock()
	if _, ok := r.streams[key]; ok {
		r.mu.Unlock()
		r.log.Warn("stream already exists, rejecting duplicate", "key", key)
		return nil, nil, fmt.Errorf("%w: %q", ErrDuplicateStream, key)
	}

	pr, pw := io.Pipe()
	stream := &Stream{
		Key:       key,
		StartedAt: time.Now(),
		Format:    format,
		input:     pr,
		pw:        pw,
		done:      make(chan struct{}),
	}
	r.streams[key] = stream
	r.mu.Unlock()

	r.log.Info("stream registered", "key", key, "format", format)
	if r.onStream != nil {
		go r.onStream(key, pr, format)
	}
	return stream, pw, nil
}

// Unregister removes a stream by key, closing its pipe and signaling Done.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	stream, ok := r.streams[key]
	if ok {
		delete(r.streams, key)
	}
	r.mu.Unlock()

	if ok {
		stream.pw.Close()
		close(stream.done)
		r.log.Info("stream removed", "key", key)
	}
}

// Has reports whether key is live.
func (r *Registry) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// Get returns the Stream for the given key, or false if not found.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// List returns all active streams ordered by key.
func (r *Registry) List() []*Stream {
	r.mu.RLock()
	streams := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.mu.RUnlock()

	sort.Slice(streams, func(i, j int) bool { return streams[i].Key < streams[j].Key })
	return streams
}
