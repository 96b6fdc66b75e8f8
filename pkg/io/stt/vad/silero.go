package vad

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/xpanvictor/migoto-coach/pkg/Logger"
	"github.com/xpanvictor/migoto-coach/pkg/io/audio"
)

type segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// sileroResponse is the body of the Silero service's /vad endpoint
type sileroResponse struct {
	HasVoice         bool      `json:"has_voice"`
	Confidence       float32   `json:"confidence"`
	Segments         []segment `json:"segments"`
	ProcessingTimeMs float64   `json:"processing_time_ms"`
}

// Silero asks a Silero VAD sidecar about the clip. When the sidecar cannot
// answer it falls back to the energy gate, so a VAD outage never blocks a
// turn.
type Silero struct {
	cfg        Config
	logger     *Logger.Logger
	httpClient *http.Client
	serviceURL string
}

func NewSilero(serviceURL string, cfg Config, logger *Logger.Logger) *Silero {
	return &Silero{
		cfg:        cfg,
		logger:     logger.Named("vad"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		serviceURL: serviceURL,
	}
}

func (s *Silero) DetectVoice(ctx context.Context, clip audio.Clip) (Result, error) {
	if tooShort(clip, s.cfg) {
		return Result{}, nil
	}

	result, err := s.call(ctx, clip)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		s.logger.Warnf("Silero VAD service failed, falling back to energy-based VAD: %v", err)
		return energyOf(clip, s.cfg), nil
	}
	return result, nil
}

func (s *Silero) call(ctx context.Context, clip audio.Clip) (Result, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(clip.WAV); err != nil {
		return Result{}, fmt.Errorf("failed to write audio data: %w", err)
	}
	_ = writer.WriteField("threshold", fmt.Sprintf("%.3f", s.cfg.Threshold))
	_ = writer.WriteField("min_speech_duration_ms", strconv.Itoa(s.cfg.MinSpeechMs))
	_ = writer.WriteField("min_silence_duration_ms", strconv.Itoa(s.cfg.MinSilenceMs))
	_ = writer.WriteField("sampling_rate", strconv.Itoa(int(clip.SampleRate)))
	if err := writer.Close(); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serviceURL+"/vad", body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to call VAD service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("VAD service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var sr sileroResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Result{}, fmt.Errorf("failed to decode response: %w", err)
	}

	s.logger.Debugf("Silero VAD: hasVoice=%v, confidence=%.3f, segments=%d, processing_time=%.1fms",
		sr.HasVoice, sr.Confidence, len(sr.Segments), sr.ProcessingTimeMs)
	return Result{HasVoice: sr.HasVoice, Confidence: sr.Confidence}, nil
}
