package vad

import (
	"context"

	"github.com/xpanvictor/migoto-coach/pkg/io/audio"
)

// Result is the verdict on one recorded clip.
type Result struct {
	HasVoice   bool    `json:"hasVoice"`
	Confidence float32 `json:"confidence"`
}

// Detector decides whether a clip holds any speech worth transcribing.
type Detector interface {
	DetectVoice(ctx context.Context, clip audio.Clip) (Result, error)
}

type Config struct {
	Threshold       float32 `mapstructure:"threshold"`        // silero speech probability, 0.0-1.0
	EnergyThreshold float32 `mapstructure:"energy_threshold"` // normalized mean square, 0.0-1.0
	MinSpeechMs     int     `mapstructure:"min_speech_ms"`    // shorter clips are silence
	MinSilenceMs    int     `mapstructure:"min_silence_ms"`   // forwarded to silero
}

func DefaultConfig() Config {
	return Config{
		Threshold:       0.3,
		EnergyThreshold: 0.0005,
		MinSpeechMs:     100,
		MinSilenceMs:    200,
	}
}

// Energy is an RMS gate over the clip's PCM16 samples.
type Energy struct {
	cfg Config
}

func NewEnergy(cfg Config) *Energy {
	return &Energy{cfg: cfg}
}

func (e *Energy) DetectVoice(_ context.Context, clip audio.Clip) (Result, error) {
	return energyOf(clip, e.cfg), nil
}

func energyOf(clip audio.Clip, cfg Config) Result {
	pcm := clip.PCM()
	if tooShort(clip, cfg) {
		return Result{}
	}

	var sum int64
	samples := len(pcm) / 2
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		sum += int64(sample) * int64(sample)
	}
	// mean square normalized to 0..1
	energy := float32(float64(sum) / float64(samples) / (32768.0 * 32768.0))

	if cfg.EnergyThreshold <= 0 {
		return Result{HasVoice: energy > 0, Confidence: 1}
	}
	confidence := energy / cfg.EnergyThreshold
	if confidence > 1 {
		confidence = 1
	}
	return Result{HasVoice: energy > cfg.EnergyThreshold, Confidence: confidence}
}

func tooShort(clip audio.Clip, cfg Config) bool {
	pcm := clip.PCM()
	if len(pcm) < 2 || clip.SampleRate <= 0 {
		return true
	}
	channels := int(clip.Channels)
	if channels <= 0 {
		channels = 1
	}
	minSamples := int(clip.SampleRate) * cfg.MinSpeechMs / 1000
	return len(pcm)/2/channels < minSamples
}
