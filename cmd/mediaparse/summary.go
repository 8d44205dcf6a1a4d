package main

import (
	"log/slog"
	"sync"

	"github.com/zsiec/mediaparse/internal/media"
)

// trackSummary accumulates what was seen of one track.
type trackSummary struct {
	info      *media.StreamInfo
	samples   int64
	bytes     int64
	keyframes int64
	firstPTS  int64
	lastPTS   int64
}

// summary is a pipeline.Sink that counts samples per track.
type summary struct {
	mu     sync.Mutex
	order  []uint32
	tracks map[uint32]*trackSummary
}

func newSummary() *summary {
	return &summary{tracks: make(map[uint32]*trackSummary)}
}

func (s *summary) track(id uint32) *trackSummary {
	t, ok := s.tracks[id]
	if !ok {
		t = &trackSummary{firstPTS: media.NoTimestamp, lastPTS: media.NoTimestamp}
		s.tracks[id] = t
		s.order = append(s.order, id)
	}
	return t
}

func (s *summary) OnInit(streams []*media.StreamInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, info := range streams {
		s.track(info.TrackID).info = info
	}
}

func (s *summary) OnSample(sm *media.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.track(sm.TrackID)
	t.samples++
	t.bytes += int64(len(sm.Data))
	if sm.IsKeyframe {
		t.keyframes++
	}
	if t.firstPTS == media.NoTimestamp {
		t.firstPTS = sm.PTS
	}
	t.lastPTS = sm.PTS
}

func (s *summary) log(log *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		log.Info("no tracks found")
		return
	}
	for _, id := range s.order {
		t := s.tracks[id]
		attrs := []any{
			"track", id,
			"samples", t.samples,
			"bytes", t.bytes,
			"keyframes", t.keyframes,
			"first_pts", t.firstPTS,
			"last_pts", t.lastPTS,
		}
		if t.info != nil {
			attrs = append(attrs,
				"kind", t.info.Kind,
				"codec", t.info.CodecString,
				"timescale", t.info.Timescale,
			)
			if t.info.Kind == media.KindAudio {
				attrs = append(attrs, "sample_rate", t.info.Audio.SampleRate, "channels", t.info.Audio.Channels)
			} else {
				attrs = append(attrs, "width", t.info.Video.Width, "height", t.info.Video.Height)
			}
			if t.info.Encrypted {
				attrs = append(attrs, "encrypted", true)
			}
		}
		log.Info("track summary", attrs...)
	}
}
