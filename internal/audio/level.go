package audio

import "math"

// CalculateRMS returns the root mean square energy of a PCM16 frame.
// Used to meter caller input level and to drive speech-activity detection.
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// ActivityConfig holds configuration for speech-activity detection on the
// outbound capture stream.
type ActivityConfig struct {
	EnergyThreshold float64 // RMS threshold above which a frame counts as speech
	SilenceFrames   int     // consecutive quiet frames before speech is considered ended
}

// DefaultActivityConfig returns thresholds tuned for 16kHz capture frames.
func DefaultActivityConfig() *ActivityConfig {
	return &ActivityConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   4,
	}
}

// ActivityDetector tracks whether the caller is currently speaking.
// Observability only: it never gates the outbound stream.
type ActivityDetector struct {
	config         *ActivityConfig
	silenceCounter int
	speaking       bool
}

// NewActivityDetector creates a detector; a nil config selects defaults.
func NewActivityDetector(config *ActivityConfig) *ActivityDetector {
	if config == nil {
		config = DefaultActivityConfig()
	}
	return &ActivityDetector{config: config}
}

// ProcessFrame folds one capture frame into the detector state.
// Returns (speaking, speechStarted, speechEnded) for this frame.
func (d *ActivityDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	var started, ended bool

	if CalculateRMS(samples) > d.config.EnergyThreshold {
		d.silenceCounter = 0
		if !d.speaking {
			d.speaking = true
			started = true
		}
	} else {
		d.silenceCounter++
		if d.speaking && d.silenceCounter >= d.config.SilenceFrames {
			d.speaking = false
			d.silenceCounter = 0
			ended = true
		}
	}

	return d.speaking, started, ended
}

// IsSpeaking reports the current detector state.
func (d *ActivityDetector) IsSpeaking() bool {
	return d.speaking
}

// Reset clears the detector state between calls.
func (d *ActivityDetector) Reset() {
	d.silenceCounter = 0
	d.speaking = false
}
