package demux

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/zsiec/mediaparse/internal/media"
)

// makeADTSFrame builds an ADTS frame (7-byte header, no CRC, AAC-LC) around
// payload.
//
// Byte 2: [profile:2][sampling_freq_idx:4][private:1][channel_cfg_hi:1]
// Byte 3: [channel_cfg_lo:2][orig:1][home:1][cp_id:1][cp_start:1][frame_length_hi:2]
// Byte 4: [frame_length_mid:8]
// Byte 5: [frame_length_lo:3][buffer_fullness_hi:5]
// Byte 6: [buffer_fullness_lo:6][num_frames_minus1:2]
func makeADTSFrame(freqIdx, channelCfg int, payload []byte) []byte {
	size := adtsHeaderMinSize + len(payload)
	h := []byte{
		0xFF,
		0xF1,
		byte(1<<6 | (freqIdx&0x0F)<<2 | (channelCfg>>2)&0x01),
		byte((channelCfg&0x03)<<6 | (size>>11)&0x03),
		byte(size >> 3),
		byte((size&0x07)<<5 | 0x1F),
		0xFC,
	}
	return append(h, payload...)
}

// payloadOf returns n bytes that never contain 0xFF.
func payloadOf(n int, seed byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i)*3 + seed
		if p[i] == 0xFF {
			p[i] = 0x7F
		}
	}
	return p
}

// adtsStream concatenates count 48 kHz stereo frames of varying sizes.
func adtsStream(count int) ([]byte, [][]byte) {
	var stream []byte
	var frames [][]byte
	for i := 0; i < count; i++ {
		f := makeADTSFrame(3, 2, payloadOf(20+i*13%97, byte(i)))
		frames = append(frames, f)
		stream = append(stream, f...)
	}
	return stream, frames
}

type adtsRecorder struct {
	infos   []*media.StreamInfo
	samples []*media.Sample
}

func (r *adtsRecorder) parser(opts ...ADTSOption) *ADTSParser {
	return NewADTSParser(256,
		func(info *media.StreamInfo) { r.infos = append(r.infos, info) },
		func(s *media.Sample) { r.samples = append(r.samples, s) },
		opts...)
}

func TestFindADTSFrame(t *testing.T) {
	t.Parallel()

	frame := makeADTSFrame(3, 2, payloadOf(10, 1))
	two := append(append([]byte{}, frame...), frame...)

	tests := []struct {
		name      string
		buf       []byte
		pos       int
		wantPos   int
		wantSize  int
		wantFound bool
	}{
		{name: "single frame", buf: frame, pos: 0, wantPos: 0, wantSize: len(frame), wantFound: true},
		{name: "second frame", buf: two, pos: len(frame), wantPos: len(frame), wantSize: len(frame), wantFound: true},
		{name: "leading junk", buf: append([]byte{0x00, 0x12, 0x34}, frame...), pos: 0, wantPos: 3, wantSize: len(frame), wantFound: true},
		{name: "short buffer", buf: frame[:6], pos: 0, wantPos: 0, wantFound: false},
		{name: "pos past lookahead", buf: frame, pos: len(frame) - 3, wantPos: len(frame) - 3, wantFound: false},
		{name: "no sync word", buf: bytes.Repeat([]byte{0x11}, 20), pos: 0, wantPos: 14, wantFound: false},
		{name: "header only", buf: frame[:7], pos: 0, wantPos: 0, wantSize: len(frame), wantFound: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			pos, size, found := findADTSFrame(tc.buf, tc.pos)
			if found != tc.wantFound {
				t.Fatalf("found: got %v, want %v", found, tc.wantFound)
			}
			if pos != tc.wantPos {
				t.Errorf("pos: got %d, want %d", pos, tc.wantPos)
			}
			if found && size != tc.wantSize {
				t.Errorf("size: got %d, want %d", size, tc.wantSize)
			}
		})
	}
}

func TestFindADTSFrameRejectsTinyFrameSize(t *testing.T) {
	t.Parallel()

	bad := makeADTSFrame(3, 2, nil)
	// frame_length = 6 is shorter than the header itself.
	bad[3] = bad[3] &^ 0x03
	bad[4] = 0x00
	bad[5] = 6<<5 | 0x1F

	pos, _, found := findADTSFrame(bad, 0)
	if found {
		t.Fatalf("frame with length 6 accepted at %d", pos)
	}
}

func TestFindADTSFrameRequiresSecondSync(t *testing.T) {
	t.Parallel()

	frame := makeADTSFrame(3, 2, payloadOf(10, 1))
	buf := append(append([]byte{}, frame...), 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00)

	_, _, found := findADTSFrame(buf, 0)
	if found {
		t.Fatal("frame without a following sync word should be rejected when the check is possible")
	}
}

func TestADTSParserSingleBuffer(t *testing.T) {
	t.Parallel()

	stream, frames := adtsStream(5)
	var rec adtsRecorder
	p := rec.parser()

	if err := p.Parse(stream, media.NoTimestamp, media.NoTimestamp); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rec.samples) != len(frames) {
		t.Fatalf("samples: got %d, want %d", len(rec.samples), len(frames))
	}
	for i, s := range rec.samples {
		if !bytes.Equal(s.Data, frames[i]) {
			t.Errorf("sample %d: data mismatch", i)
		}
		if !s.IsKeyframe {
			t.Errorf("sample %d: not a keyframe", i)
		}
		if s.TrackID != 256 {
			t.Errorf("sample %d: track %d, want 256", i, s.TrackID)
		}
	}

	if len(rec.infos) != 1 {
		t.Fatalf("stream infos: got %d, want 1", len(rec.infos))
	}
	info := rec.infos[0]
	if info.Audio.SampleRate != 48000 || info.Audio.Channels != 2 {
		t.Errorf("config: got %d Hz / %d ch, want 48000 Hz / 2 ch", info.Audio.SampleRate, info.Audio.Channels)
	}
	if info.Codec != media.CodecAAC || info.CodecString != "mp4a.40.2" {
		t.Errorf("codec: got %q / %q, want aac / mp4a.40.2", info.Codec, info.CodecString)
	}
	if info.Timescale != media.MPEG2Timescale {
		t.Errorf("timescale: got %d, want %d", info.Timescale, media.MPEG2Timescale)
	}
	// AAC-LC, 48 kHz (index 3), 2 channels: 00010 0011 0010 000
	if want := []byte{0x11, 0x90}; !bytes.Equal(info.CodecConfig, want) {
		t.Errorf("AudioSpecificConfig: got %x, want %x", info.CodecConfig, want)
	}
}

func TestADTSParserSampleOwnsData(t *testing.T) {
	t.Parallel()

	stream, _ := adtsStream(2)
	var rec adtsRecorder
	p := rec.parser()
	if err := p.Parse(stream, 0, 0); err != nil {
		t.Fatal(err)
	}
	want := append([]byte{}, rec.samples[0].Data...)
	for i := range stream {
		stream[i] = 0
	}
	if !bytes.Equal(rec.samples[0].Data, want) {
		t.Error("sample data aliases the input buffer")
	}
}

func TestADTSParserChunkingInvariance(t *testing.T) {
	t.Parallel()

	stream, frames := adtsStream(40)

	var whole adtsRecorder
	if err := whole.parser().Parse(stream, 90000, 90000); err != nil {
		t.Fatal(err)
	}
	if len(whole.samples) != len(frames) {
		t.Fatalf("whole-buffer samples: got %d, want %d", len(whole.samples), len(frames))
	}

	rng := rand.New(rand.NewPCG(1, 2))
	for trial := 0; trial < 50; trial++ {
		var rec adtsRecorder
		p := rec.parser()
		rest := stream
		first := true
		for len(rest) > 0 {
			n := 1 + rng.IntN(64)
			if n > len(rest) {
				n = len(rest)
			}
			pts := media.NoTimestamp
			if first {
				pts = 90000
				first = false
			}
			if err := p.Parse(rest[:n], pts, pts); err != nil {
				t.Fatalf("trial %d: Parse: %v", trial, err)
			}
			rest = rest[n:]
		}
		if diff := cmp.Diff(whole.samples, rec.samples); diff != "" {
			t.Fatalf("trial %d: chunked samples differ (-whole +chunked):\n%s", trial, diff)
		}
		if len(rec.infos) != 1 {
			t.Errorf("trial %d: stream infos: got %d, want 1", trial, len(rec.infos))
		}
	}
}

func TestADTSParserByteAtATime(t *testing.T) {
	t.Parallel()

	stream, frames := adtsStream(6)
	var rec adtsRecorder
	p := rec.parser()
	for i := range stream {
		if err := p.Parse(stream[i:i+1], media.NoTimestamp, media.NoTimestamp); err != nil {
			t.Fatal(err)
		}
	}
	if len(rec.samples) != len(frames) {
		t.Fatalf("samples: got %d, want %d", len(rec.samples), len(frames))
	}
	for i := range frames {
		if !bytes.Equal(rec.samples[i].Data, frames[i]) {
			t.Errorf("sample %d: data mismatch", i)
		}
	}
}

func TestADTSParserFalseSyncRejected(t *testing.T) {
	t.Parallel()

	// A sync-like pattern whose frame_length (16) points into the middle of
	// the real frame that follows, where no second sync word exists.
	junk := []byte{0xFF, 0xF1, 0x4C, 0x80, 0x02, 0x00, 0x00, 0x11, 0x22, 0x33}
	stream, frames := adtsStream(3)
	buf := append(junk, stream...)

	var rec adtsRecorder
	if err := rec.parser().Parse(buf, media.NoTimestamp, media.NoTimestamp); err != nil {
		t.Fatal(err)
	}
	if len(rec.samples) != len(frames) {
		t.Fatalf("samples: got %d, want %d", len(rec.samples), len(frames))
	}
	if !bytes.Equal(rec.samples[0].Data, frames[0]) {
		t.Error("first sample should be the first real frame")
	}
}

func TestADTSParserConfigFrozen(t *testing.T) {
	t.Parallel()

	first := makeADTSFrame(3, 2, payloadOf(30, 1))  // 48 kHz stereo
	second := makeADTSFrame(4, 1, payloadOf(30, 2)) // 44.1 kHz mono
	buf := append(append([]byte{}, first...), second...)

	var rec adtsRecorder
	if err := rec.parser().Parse(buf, 0, 0); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rec.infos) != 1 {
		t.Fatalf("stream infos: got %d, want 1", len(rec.infos))
	}
	if rec.infos[0].Audio.SampleRate != 48000 {
		t.Errorf("sample rate: got %d, want 48000", rec.infos[0].Audio.SampleRate)
	}
	if len(rec.samples) != 2 {
		t.Fatalf("samples: got %d, want 2", len(rec.samples))
	}
	// Durations keep following the frozen rate.
	if rec.samples[1].Duration != 1920 {
		t.Errorf("second duration: got %d, want 1920", rec.samples[1].Duration)
	}
}

func TestADTSParserRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		freqIdx    int
		channelCfg int
	}{
		{name: "channel config 0", freqIdx: 3, channelCfg: 0},
		{name: "reserved frequency 13", freqIdx: 13, channelCfg: 2},
		{name: "explicit frequency 15", freqIdx: 15, channelCfg: 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			frame := makeADTSFrame(tc.freqIdx, tc.channelCfg, payloadOf(16, 3))
			var rec adtsRecorder
			err := rec.parser().Parse(frame, 0, 0)
			if !errors.Is(err, ErrInvalidADTS) {
				t.Fatalf("Parse: got %v, want ErrInvalidADTS", err)
			}
			if len(rec.samples) != 0 {
				t.Errorf("samples: got %d, want 0", len(rec.samples))
			}
			if len(rec.infos) != 0 {
				t.Errorf("stream infos: got %d, want 0", len(rec.infos))
			}
		})
	}
}

func TestADTSParserTimestampAttachment(t *testing.T) {
	t.Parallel()

	const pts = 123456
	stream, _ := adtsStream(2)
	var rec adtsRecorder
	if err := rec.parser().Parse(stream, pts, pts); err != nil {
		t.Fatal(err)
	}
	if len(rec.samples) != 2 {
		t.Fatalf("samples: got %d, want 2", len(rec.samples))
	}
	if rec.samples[0].PTS != pts || rec.samples[0].DTS != pts {
		t.Errorf("first PTS/DTS: got %d/%d, want %d", rec.samples[0].PTS, rec.samples[0].DTS, pts)
	}
	// 1024 samples at 48 kHz on a 90 kHz clock.
	if rec.samples[0].Duration != 1920 {
		t.Errorf("duration: got %d, want 1920", rec.samples[0].Duration)
	}
	if rec.samples[1].PTS != pts+1920 {
		t.Errorf("second PTS: got %d, want %d", rec.samples[1].PTS, pts+1920)
	}
}

func TestADTSParserLaterTimestampRebases(t *testing.T) {
	t.Parallel()

	_, frames := adtsStream(3)
	var rec adtsRecorder
	p := rec.parser()

	if err := p.Parse(frames[0], 1000, 1000); err != nil {
		t.Fatal(err)
	}
	// No timestamp on the second buffer: extrapolated.
	if err := p.Parse(frames[1], media.NoTimestamp, media.NoTimestamp); err != nil {
		t.Fatal(err)
	}
	if err := p.Parse(frames[2], 50000, 50000); err != nil {
		t.Fatal(err)
	}

	want := []int64{1000, 1000 + 1920, 50000}
	for i, s := range rec.samples {
		if s.PTS != want[i] {
			t.Errorf("sample %d PTS: got %d, want %d", i, s.PTS, want[i])
		}
	}
}

func TestADTSParserTimestampMidFrame(t *testing.T) {
	t.Parallel()

	stream, frames := adtsStream(2)
	var rec adtsRecorder
	p := rec.parser()

	// The second buffer starts inside frame 0; its timestamp belongs to
	// frame 1, the first frame starting after that point.
	split := 3
	if err := p.Parse(stream[:split], 1000, 1000); err != nil {
		t.Fatal(err)
	}
	if err := p.Parse(stream[split:], 7000, 7000); err != nil {
		t.Fatal(err)
	}
	if len(rec.samples) != len(frames) {
		t.Fatalf("samples: got %d, want %d", len(rec.samples), len(frames))
	}
	if rec.samples[0].PTS != 1000 {
		t.Errorf("first PTS: got %d, want 1000", rec.samples[0].PTS)
	}
	if rec.samples[1].PTS != 7000 {
		t.Errorf("second PTS: got %d, want 7000", rec.samples[1].PTS)
	}
}

func TestADTSParserNoTimestamp(t *testing.T) {
	t.Parallel()

	stream, _ := adtsStream(2)
	var rec adtsRecorder
	if err := rec.parser().Parse(stream, media.NoTimestamp, media.NoTimestamp); err != nil {
		t.Fatal(err)
	}
	for i, s := range rec.samples {
		if s.PTS != media.NoTimestamp {
			t.Errorf("sample %d PTS: got %d, want NoTimestamp", i, s.PTS)
		}
	}
}

func TestADTSParserResetAllowsNewConfig(t *testing.T) {
	t.Parallel()

	var rec adtsRecorder
	p := rec.parser()

	if err := p.Parse(makeADTSFrame(3, 2, payloadOf(20, 1)), 0, 0); err != nil {
		t.Fatal(err)
	}
	// A partial frame is pending when the stream is reset.
	if err := p.Parse(makeADTSFrame(3, 2, payloadOf(20, 2))[:10], media.NoTimestamp, media.NoTimestamp); err != nil {
		t.Fatal(err)
	}
	p.Reset()

	// New stream at 44.1 kHz without a carrier timestamp: the running
	// timestamp of the previous stream carries over to the new clock.
	if err := p.Parse(makeADTSFrame(4, 1, payloadOf(20, 3)), media.NoTimestamp, media.NoTimestamp); err != nil {
		t.Fatal(err)
	}

	if len(rec.infos) != 2 {
		t.Fatalf("stream infos: got %d, want 2", len(rec.infos))
	}
	if rec.infos[1].Audio.SampleRate != 44100 || rec.infos[1].Audio.Channels != 1 {
		t.Errorf("second config: got %d Hz / %d ch, want 44100 Hz / 1 ch",
			rec.infos[1].Audio.SampleRate, rec.infos[1].Audio.Channels)
	}
	if len(rec.samples) != 2 {
		t.Fatalf("samples: got %d, want 2", len(rec.samples))
	}
	if rec.samples[1].PTS != 1920 {
		t.Errorf("PTS after reset: got %d, want 1920", rec.samples[1].PTS)
	}
	if rec.samples[1].Duration != 2089 {
		t.Errorf("duration at 44.1 kHz: got %d, want 2089", rec.samples[1].Duration)
	}
}

func TestADTSParserWithCRCHeader(t *testing.T) {
	t.Parallel()

	// protection_absent = 0: 9-byte header, the frame is still emitted whole.
	frame := makeADTSFrame(3, 2, payloadOf(24, 5))
	frame[1] = 0xF0
	var rec adtsRecorder
	if err := rec.parser().Parse(frame, 0, 0); err != nil {
		t.Fatal(err)
	}
	if len(rec.samples) != 1 || !bytes.Equal(rec.samples[0].Data, frame) {
		t.Fatal("CRC-protected frame not emitted whole")
	}
}

func TestADTSParserFlushKeepsPartialFrame(t *testing.T) {
	t.Parallel()

	frame := makeADTSFrame(3, 2, payloadOf(40, 1))
	var rec adtsRecorder
	p := rec.parser()
	if err := p.Parse(frame[:20], 0, 0); err != nil {
		t.Fatal(err)
	}
	p.Flush()
	if len(rec.samples) != 0 {
		t.Fatalf("Flush emitted %d samples, want 0", len(rec.samples))
	}
	if err := p.Parse(frame[20:], media.NoTimestamp, media.NoTimestamp); err != nil {
		t.Fatal(err)
	}
	if len(rec.samples) != 1 {
		t.Fatalf("samples: got %d, want 1", len(rec.samples))
	}
}

func FuzzADTSParser(f *testing.F) {
	stream, _ := adtsStream(3)
	f.Add(stream)
	f.Add([]byte{0xFF, 0xF1, 0x4C, 0x80, 0x01, 0xA0, 0xFC})
	f.Fuzz(func(t *testing.T, data []byte) {
		p := NewADTSParser(1, nil, nil)
		half := len(data) / 2
		_ = p.Parse(data[:half], 0, 0)
		_ = p.Parse(data[half:], media.NoTimestamp, media.NoTimestamp) // must not panic
	})
}

func BenchmarkADTSParser(b *testing.B) {
	stream, _ := adtsStream(50)
	b.SetBytes(int64(len(stream)))
	for b.Loop() {
		p := NewADTSParser(1, nil, nil)
		_ = p.Parse(stream, 0, 0)
	}
}
