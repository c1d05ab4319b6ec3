package vad

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxalabs/voice-agent/internal/audio"
)

// stubClassifier returns a fixed probability and counts invocations.
type stubClassifier struct {
	prob  float64
	err   error
	calls int
}

func (c *stubClassifier) Classify(_ context.Context, _ []int16) (float64, error) {
	c.calls++
	return c.prob, c.err
}

// scriptedClassifier replays a fixed probability sequence, then repeats the
// last value.
type scriptedClassifier struct {
	probs []float64
	calls int
}

func (c *scriptedClassifier) Classify(_ context.Context, _ []int16) (float64, error) {
	i := c.calls
	c.calls++
	if i >= len(c.probs) {
		i = len(c.probs) - 1
	}
	return c.probs[i], nil
}

// testConfig shrinks the default durations to a handful of 10-sample frames
// so each scenario stays readable: 3 frames of speech to open, 4 frames of
// silence to close, 20 frames max.
func testConfig() Config {
	return Config{
		SampleRate:            1000,
		FrameSize:             10,
		Threshold:             0.5,
		MinAudioLevel:         0.012,
		MinSpeechDuration:     30 * time.Millisecond,
		MinSilenceDuration:    40 * time.Millisecond,
		MaxSpeechDuration:     200 * time.Millisecond,
		MinConsecutiveSpeech:  3,
		MinConsecutiveSilence: 4,
		MinSpeechBytes:        40,
	}
}

func loudFrame(n int) []byte {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = 5000
	}
	return audio.EncodePCM16(samples)
}

func quietFrame(n int) []byte {
	return audio.EncodePCM16(make([]int16, n))
}

// feed pushes each frame through Process and returns the first closed segment.
func feed(t *testing.T, s *Segmenter, frames [][]byte) (Segment, bool) {
	t.Helper()
	for _, f := range frames {
		seg, closed, err := s.Process(context.Background(), f)
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if closed {
			return seg, true
		}
	}
	return Segment{}, false
}

func repeat(frame []byte, n int) [][]byte {
	frames := make([][]byte, n)
	for i := range frames {
		frames[i] = frame
	}
	return frames
}

func TestSegmenter_EmitsAfterSpeechThenSilence(t *testing.T) {
	cls := &stubClassifier{prob: 0.9}
	s := NewSegmenter(testConfig(), cls, zerolog.Nop())

	frames := append(repeat(loudFrame(10), 6), repeat(quietFrame(10), 4)...)
	seg, closed := feed(t, s, frames)
	if !closed {
		t.Fatal("Expected a segment after 6 speech + 4 silence frames")
	}
	if seg.Samples != 100 {
		t.Errorf("Expected 100 samples (speech plus trailing silence), got %d", seg.Samples)
	}
	if seg.Forced {
		t.Error("Silence-closed segment should not be marked forced")
	}
	if seg.Duration != 100*time.Millisecond {
		t.Errorf("Expected 100ms duration, got %v", seg.Duration)
	}
	if s.Speaking() {
		t.Error("Segmenter should be idle after the segment closed")
	}
}

func TestSegmenter_QuietFramesNeverReachClassifier(t *testing.T) {
	cls := &stubClassifier{prob: 0.9}
	s := NewSegmenter(testConfig(), cls, zerolog.Nop())

	feed(t, s, repeat(quietFrame(10), 20))
	if cls.calls != 0 {
		t.Errorf("Expected 0 classifier calls for sub-threshold audio, got %d", cls.calls)
	}
}

func TestSegmenter_LockedIsNoOp(t *testing.T) {
	cls := &stubClassifier{prob: 0.9}
	s := NewSegmenter(testConfig(), cls, zerolog.Nop())
	s.SetLocked(true)

	if _, closed := feed(t, s, repeat(loudFrame(10), 30)); closed {
		t.Error("Locked segmenter must not emit segments")
	}
	if cls.calls != 0 {
		t.Errorf("Locked segmenter must not classify, got %d calls", cls.calls)
	}

	// Audio pushed while locked must not surface after unlocking either.
	s.SetLocked(false)
	if _, closed := feed(t, s, repeat(quietFrame(10), 10)); closed {
		t.Error("No segment expected from audio discarded while locked")
	}
}

func TestSegmenter_DebounceDropsShortSpikes(t *testing.T) {
	cls := &stubClassifier{prob: 0.9}
	s := NewSegmenter(testConfig(), cls, zerolog.Nop())

	// Two speech frames never reach the three-frame debounce, so after the
	// silence run the pre-buffer is cleared and the next utterance starts
	// clean.
	spike := append(repeat(loudFrame(10), 2), repeat(quietFrame(10), 8)...)
	if _, closed := feed(t, s, spike); closed {
		t.Fatal("Two-frame spike must not produce a segment")
	}

	utterance := append(repeat(loudFrame(10), 6), repeat(quietFrame(10), 4)...)
	seg, closed := feed(t, s, utterance)
	if !closed {
		t.Fatal("Expected a segment from the real utterance")
	}
	if seg.Samples != 100 {
		t.Errorf("Spike frames leaked into the segment: got %d samples, want 100", seg.Samples)
	}
}

func TestSegmenter_InterleavedSilencePreserved(t *testing.T) {
	cls := &stubClassifier{prob: 0.9}
	s := NewSegmenter(testConfig(), cls, zerolog.Nop())

	var frames [][]byte
	frames = append(frames, repeat(loudFrame(10), 4)...)
	frames = append(frames, repeat(quietFrame(10), 2)...) // short pause, below both close conditions
	frames = append(frames, repeat(loudFrame(10), 4)...)
	frames = append(frames, repeat(quietFrame(10), 4)...)

	seg, closed := feed(t, s, frames)
	if !closed {
		t.Fatal("Expected a segment")
	}
	if seg.Samples != 140 {
		t.Errorf("Expected 140 samples including the mid-utterance pause, got %d", seg.Samples)
	}
}

func TestSegmenter_MaxDurationForcesClose(t *testing.T) {
	cls := &stubClassifier{prob: 0.9}
	s := NewSegmenter(testConfig(), cls, zerolog.Nop())

	seg, closed := feed(t, s, repeat(loudFrame(10), 30))
	if !closed {
		t.Fatal("Expected a forced segment from continuous speech")
	}
	if !seg.Forced {
		t.Error("Max-duration segment should be marked forced")
	}
	if seg.Samples != 200 {
		t.Errorf("Expected close at exactly 200 samples, got %d", seg.Samples)
	}
}

func TestSegmenter_ShortSegmentDiscarded(t *testing.T) {
	cfg := testConfig()
	cfg.MinSpeechBytes = 400 // 200 samples, more than the utterance below
	cls := &stubClassifier{prob: 0.9}
	s := NewSegmenter(cfg, cls, zerolog.Nop())

	frames := append(repeat(loudFrame(10), 6), repeat(quietFrame(10), 4)...)
	if _, closed := feed(t, s, frames); closed {
		t.Error("Segment below the byte floor must be discarded")
	}
	if s.Speaking() {
		t.Error("Discarding must still reset the speaking state")
	}
}

func TestSegmenter_ClassifierSilenceClosesSegment(t *testing.T) {
	// Loud but non-speech audio: the classifier, not the energy gate,
	// decides these frames are silence.
	cls := &scriptedClassifier{probs: []float64{
		0.9, 0.9, 0.9, 0.9, 0.9, 0.9,
		0.1,
	}}
	s := NewSegmenter(testConfig(), cls, zerolog.Nop())

	seg, closed := feed(t, s, repeat(loudFrame(10), 10))
	if !closed {
		t.Fatal("Expected a segment closed by classifier-scored silence")
	}
	if seg.Samples != 100 {
		t.Errorf("Expected 100 samples, got %d", seg.Samples)
	}
}

func TestSegmenter_ClassifierErrorSkipsFrame(t *testing.T) {
	cls := &stubClassifier{prob: 0, err: errors.New("inference failed")}
	s := NewSegmenter(testConfig(), cls, zerolog.Nop())

	_, closed, err := s.Process(context.Background(), loudFrame(100))
	if err != nil {
		t.Fatalf("Transient classifier errors must not fail Process: %v", err)
	}
	if closed {
		t.Error("No segment expected when every frame errors")
	}
	if s.Speaking() {
		t.Error("Errored frames must not open a segment")
	}
}

func TestSegmenter_ProcessHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cls := &stubClassifier{prob: 0, err: context.Canceled}
	s := NewSegmenter(testConfig(), cls, zerolog.Nop())

	_, _, err := s.Process(ctx, loudFrame(10))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestSegmenter_ResetUnlocksAndClears(t *testing.T) {
	cls := &stubClassifier{prob: 0.9}
	s := NewSegmenter(testConfig(), cls, zerolog.Nop())

	feed(t, s, repeat(loudFrame(10), 5))
	if !s.Speaking() {
		t.Fatal("Expected an open segment before reset")
	}

	s.SetLocked(true)
	s.Reset()
	if s.Locked() {
		t.Error("Reset must unlock the segmenter")
	}
	if s.Speaking() {
		t.Error("Reset must drop the open segment")
	}

	// Idempotent.
	s.Reset()
	if s.Locked() || s.Speaking() {
		t.Error("Second reset changed state unexpectedly")
	}
}
