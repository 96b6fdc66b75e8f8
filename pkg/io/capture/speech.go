package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xpanvictor/migoto-coach/pkg/Logger"
	"github.com/xpanvictor/migoto-coach/pkg/io/audio"
	"github.com/xpanvictor/migoto-coach/pkg/io/stt"
	"github.com/xpanvictor/migoto-coach/pkg/io/stt/vad"
)

var (
	ErrEmptyTranscript = errors.New("capture: no speech detected")
	ErrTranscription   = errors.New("capture: transcription failed")
)

// Speech records an utterance and turns it into text.
type Speech struct {
	capturer    AudioCapturer
	transcriber stt.Transcriber
	language    string
	gate        vad.Detector
	logger      *Logger.Logger
}

func NewSpeech(capturer AudioCapturer, transcriber stt.Transcriber, language string, logger *Logger.Logger) *Speech {
	return &Speech{
		capturer:    capturer,
		transcriber: transcriber,
		language:    language,
		logger:      logger.Named("speech"),
	}
}

// WithGate skips transcription of clips the detector hears no voice in.
func (s *Speech) WithGate(d vad.Detector) *Speech {
	s.gate = d
	return s
}

func (s *Speech) StartRecording(ctx context.Context) error {
	return s.capturer.Start(ctx)
}

// StopRecording finalizes the utterance and transcribes it.
func (s *Speech) StopRecording(ctx context.Context) (string, error) {
	clip, err := s.capturer.Stop(ctx)
	if errors.Is(err, audio.ErrNoFrames) {
		return "", ErrEmptyTranscript
	}
	if err != nil {
		return "", err
	}

	if s.gate != nil {
		res, err := s.gate.DetectVoice(ctx, clip)
		switch {
		case err != nil && ctx.Err() != nil:
			return "", ctx.Err()
		case err != nil:
			s.logger.Warnf("voice detection failed, transcribing anyway: %v", err)
		case !res.HasVoice:
			s.logger.Debugf("no voice in %d bytes of audio", clip.PCMBytes)
			return "", ErrEmptyTranscript
		}
	}

	tr, err := s.transcriber.Transcribe(ctx, clip, s.language)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrTranscription, err)
	}

	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	s.logger.Debugf("transcribed %d bytes of audio into %q", clip.PCMBytes, text)
	return text, nil
}

func (s *Speech) Abort() {
	s.capturer.Abort()
}
