package vad

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxalabs/voice-agent/internal/audio"
)

// Classifier scores a single analysis frame with the probability [0,1] that
// it contains speech. Implementations must be safe for concurrent use: one
// classifier instance is shared read-only across all sessions.
type Classifier interface {
	Classify(ctx context.Context, frame []int16) (float64, error)
}

// EnergyClassifier is a pure-Go classifier combining RMS energy with
// zero-crossing rate. Voiced speech carries energy with a low-to-mid
// crossing rate; broadband noise crosses far more often and is damped.
type EnergyClassifier struct {
	// speechLevel is the normalized RMS at which the energy score saturates.
	speechLevel float64
	// noisyZCR is the crossing rate above which a frame is treated as noise.
	noisyZCR float64
}

// NewEnergyClassifier creates a classifier with the given saturation level.
func NewEnergyClassifier(speechLevel float64) (*EnergyClassifier, error) {
	if speechLevel <= 0 || speechLevel > 1 {
		return nil, fmt.Errorf("vad: speechLevel must be in (0,1], got %v", speechLevel)
	}
	return &EnergyClassifier{
		speechLevel: speechLevel,
		noisyZCR:    0.35,
	}, nil
}

// Classify implements Classifier.
func (c *EnergyClassifier) Classify(_ context.Context, frame []int16) (float64, error) {
	p := audio.RMS(frame) / c.speechLevel
	if p > 1 {
		p = 1
	}
	if audio.ZeroCrossingRate(frame) > c.noisyZCR {
		p *= 0.5
	}
	return p, nil
}

// DefaultSpeechLevel is the normalized RMS of comfortably loud speech at
// 16 kHz; quiet speech around 0.02 still scores well above a 0.5 threshold.
const DefaultSpeechLevel = 0.05

var (
	modelMu     sync.Mutex
	sharedModel Classifier
	modelErr    error
)

// LoadModel returns the process-wide shared classifier, initializing it on
// first call. The mutex is only contended at startup. A load failure is
// remembered and returned to every caller: sessions cannot start without a
// classifier, and the failure is surfaced as an initialization error rather
// than retried automatically.
func LoadModel() (Classifier, error) {
	modelMu.Lock()
	defer modelMu.Unlock()
	if sharedModel != nil || modelErr != nil {
		return sharedModel, modelErr
	}
	sharedModel, modelErr = NewEnergyClassifier(DefaultSpeechLevel)
	return sharedModel, modelErr
}
