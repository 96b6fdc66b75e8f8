package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/xpanvictor/migoto-coach/pkg/Logger"
	"github.com/xpanvictor/migoto-coach/pkg/io/audio"
	"github.com/xpanvictor/migoto-coach/pkg/io/stt"
)

// Transcriber uses the OpenAI audio transcription API.
type Transcriber struct {
	client openai.Client
	model  openai.AudioModel
	logger *Logger.Logger
}

var _ stt.Transcriber = (*Transcriber)(nil)

func New(apiKey, baseURL string, logger *Logger.Logger) *Transcriber {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Transcriber{
		client: openai.NewClient(opts...),
		model:  openai.AudioModelWhisper1,
		logger: logger.Named("openai-stt"),
	}
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, clip audio.Clip, language string) (stt.Transcript, error) {
	if len(clip.WAV) == 0 {
		return stt.Transcript{}, errors.New("openai: empty clip")
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(clip.WAV), "utterance.wav", "audio/wav"),
		Model: t.model,
	}
	if language != "" {
		params.Language = openai.String(language)
	}

	res, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("openai transcription failed: %w", err)
	}

	t.logger.Debugf("openai transcription: %q", res.Text)
	return stt.Transcript{
		Text:        strings.TrimSpace(res.Text),
		Language:    language,
		GeneratedAt: time.Now(),
	}, nil
}
