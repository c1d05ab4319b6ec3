package vad

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxalabs/voice-agent/internal/audio"
)

// Config holds the segmentation tunables. Durations are converted to sample
// counts once at construction.
type Config struct {
	SampleRate int // Hz
	FrameSize  int // samples per analysis frame

	Threshold     float64 // classifier probability above which a frame is speech
	MinAudioLevel float64 // RMS below which a frame is forced silence without classifying

	MinSpeechDuration  time.Duration // accumulated speech needed to open a segment
	MinSilenceDuration time.Duration // accumulated silence needed to close a segment
	MaxSpeechDuration  time.Duration // hard cap on one segment

	MinConsecutiveSpeech  int // consecutive speech frames needed to open
	MinConsecutiveSilence int // consecutive silence frames needed to close

	MinSpeechBytes int // segments shorter than this are discarded as noise
}

// DefaultConfig returns segmentation settings tuned for 16 kHz real-time
// conversation.
func DefaultConfig() Config {
	return Config{
		SampleRate:            16000,
		FrameSize:             512,
		Threshold:             0.5,
		MinAudioLevel:         0.012,
		MinSpeechDuration:     300 * time.Millisecond,
		MinSilenceDuration:    600 * time.Millisecond,
		MaxSpeechDuration:     30 * time.Second,
		MinConsecutiveSpeech:  3,
		MinConsecutiveSilence: 4,
		MinSpeechBytes:        int(0.8 * 16000 * 2),
	}
}

// Segment is one continuous user utterance, closed by silence or by the
// max-duration cap.
type Segment struct {
	PCM      []byte // little-endian 16-bit samples
	Samples  int
	Duration time.Duration
	Forced   bool // closed by the max-duration cap rather than silence
}

// Segmenter consumes raw PCM pushes and emits completed speech segments.
// State is owned exclusively by one session. Process, SetLocked and Reset
// may be called from different goroutines (the session read loop versus the
// turn goroutine); a single mutex serializes them.
type Segmenter struct {
	cfg        Config
	classifier Classifier
	log        zerolog.Logger

	mu             sync.Mutex
	fb             *audio.FrameBuffer
	locked         bool
	speaking       bool
	consecSpeech   int
	consecSilence  int
	speechSamples  int
	silenceSamples int

	segment []int16

	minSpeechSamples  int
	minSilenceSamples int
	maxSpeechSamples  int
}

// NewSegmenter creates a segmenter in the idle state.
func NewSegmenter(cfg Config, classifier Classifier, log zerolog.Logger) *Segmenter {
	return &Segmenter{
		cfg:               cfg,
		classifier:        classifier,
		log:               log,
		fb:                audio.NewFrameBuffer(cfg.FrameSize),
		minSpeechSamples:  samplesFor(cfg.MinSpeechDuration, cfg.SampleRate),
		minSilenceSamples: samplesFor(cfg.MinSilenceDuration, cfg.SampleRate),
		maxSpeechSamples:  samplesFor(cfg.MaxSpeechDuration, cfg.SampleRate),
	}
}

func samplesFor(d time.Duration, rate int) int {
	return int(d.Seconds() * float64(rate))
}

// Process queues raw PCM bytes, classifies complete frames, and reports
// whether a segment closed. While locked it is a pure no-op. At most one
// segment is returned per call; surplus audio stays queued for the next one.
func (s *Segmenter) Process(ctx context.Context, data []byte) (Segment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locked {
		return Segment{}, false, nil
	}

	s.fb.Push(data)

	for {
		frame, ok := s.fb.NextFrame()
		if !ok {
			return Segment{}, false, nil
		}

		rms := audio.RMS(frame)
		if rms < s.cfg.MinAudioLevel {
			// Too quiet to bother the classifier; forced silence.
			if seg, closed := s.onSilenceFrame(frame); closed {
				return seg, true, nil
			}
			continue
		}

		prob, err := s.classifier.Classify(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return Segment{}, false, ctx.Err()
			}
			s.log.Warn().Err(err).Msg("Classifier inference failed, skipping frame")
			continue
		}

		if prob > s.cfg.Threshold {
			if seg, closed := s.onSpeechFrame(frame); closed {
				return seg, true, nil
			}
		} else {
			if seg, closed := s.onSilenceFrame(frame); closed {
				return seg, true, nil
			}
		}
	}
}

// onSpeechFrame handles one speech-classified frame. Must hold s.mu.
func (s *Segmenter) onSpeechFrame(frame []int16) (Segment, bool) {
	s.consecSpeech++
	s.consecSilence = 0
	s.silenceSamples = 0
	s.speechSamples += len(frame)
	s.segment = append(s.segment, frame...)

	if !s.speaking &&
		s.consecSpeech >= s.cfg.MinConsecutiveSpeech &&
		s.speechSamples >= s.minSpeechSamples {
		s.speaking = true
		s.log.Debug().Msg("Speech started")
	}

	if s.speaking && len(s.segment) >= s.maxSpeechSamples {
		return s.closeSegment(true)
	}
	return Segment{}, false
}

// onSilenceFrame handles one silence or forced-quiet frame. Must hold s.mu.
func (s *Segmenter) onSilenceFrame(frame []int16) (Segment, bool) {
	s.consecSpeech = 0
	s.consecSilence++

	if s.speaking {
		// Keep interleaved silence so short pauses survive in the audio.
		s.silenceSamples += len(frame)
		s.segment = append(s.segment, frame...)

		if s.consecSilence >= s.cfg.MinConsecutiveSilence &&
			s.silenceSamples >= s.minSilenceSamples {
			return s.closeSegment(false)
		}
		if len(s.segment) >= s.maxSpeechSamples {
			return s.closeSegment(true)
		}
		return Segment{}, false
	}

	// Debounce failed: a few spikes never confirmed into speech, so drop
	// the accumulated pre-buffer instead of letting it leak into the next
	// utterance.
	if s.consecSilence > 5 && len(s.segment) > 0 {
		s.segment = s.segment[:0]
		s.speechSamples = 0
	}
	return Segment{}, false
}

// closeSegment finalizes the current buffer. Segments below the minimum byte
// floor are discarded silently. Must hold s.mu.
func (s *Segmenter) closeSegment(forced bool) (Segment, bool) {
	pcm := audio.EncodePCM16(s.segment)
	samples := len(s.segment)

	s.speaking = false
	s.segment = nil
	s.speechSamples = 0
	s.silenceSamples = 0
	s.consecSpeech = 0
	s.consecSilence = 0

	if len(pcm) < s.cfg.MinSpeechBytes {
		s.log.Debug().Int("bytes", len(pcm)).Msg("Segment too short, discarding")
		return Segment{}, false
	}

	seg := Segment{
		PCM:      pcm,
		Samples:  samples,
		Duration: time.Duration(samples) * time.Second / time.Duration(s.cfg.SampleRate),
		Forced:   forced,
	}
	s.log.Debug().
		Int("bytes", len(pcm)).
		Dur("duration", seg.Duration).
		Bool("forced", forced).
		Msg("Segment closed")
	return seg, true
}

// SetLocked locks or unlocks the segmenter. Locking also drops any
// in-progress segment state so assistant playback captured by the
// microphone cannot turn into a phantom utterance.
func (s *Segmenter) SetLocked(locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.locked = locked
	if locked {
		s.resetStateLocked()
	}
}

// Locked reports whether a turn currently owns the segmenter.
func (s *Segmenter) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Speaking reports whether a segment is currently open.
func (s *Segmenter) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Reset clears all counters and buffers and unlocks. Idempotent.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.locked = false
	s.resetStateLocked()
	s.fb.Reset()
}

// resetStateLocked clears segmentation state. Must hold s.mu.
func (s *Segmenter) resetStateLocked() {
	s.speaking = false
	s.segment = nil
	s.speechSamples = 0
	s.silenceSamples = 0
	s.consecSpeech = 0
	s.consecSilence = 0
}
