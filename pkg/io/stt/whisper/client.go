package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xpanvictor/migoto-coach/pkg/Logger"
	"github.com/xpanvictor/migoto-coach/pkg/io/audio"
	"github.com/xpanvictor/migoto-coach/pkg/io/stt"
)

// TranscriptionResponse represents the response from the whisper ASR service
type TranscriptionResponse struct {
	Text     string                 `json:"text"`
	Language string                 `json:"language"`
	Segments []TranscriptionSegment `json:"segments,omitempty"`
}

type TranscriptionSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	ID    int     `json:"id"`
}

// WhisperClient uploads finished clips to a whisper-asr-webservice instance.
type WhisperClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *Logger.Logger
}

var _ stt.Transcriber = (*WhisperClient)(nil)

func NewWhisperClient(baseURL string, logger *Logger.Logger) *WhisperClient {
	return &WhisperClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.Named("whisper"),
	}
}

// Transcribe implements stt.Transcriber.
func (w *WhisperClient) Transcribe(ctx context.Context, clip audio.Clip, language string) (stt.Transcript, error) {
	if len(clip.WAV) == 0 {
		return stt.Transcript{}, errors.New("whisper: empty clip")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio_file", "utterance.wav")
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(clip.WAV); err != nil {
		return stt.Transcript{}, fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return stt.Transcript{}, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	q := url.Values{}
	q.Set("encode", "true")
	q.Set("task", "transcribe")
	q.Set("output", "json")
	if language != "" {
		q.Set("language", language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/asr?"+q.Encode(), &body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		w.logger.Errorf("whisper service error (status %d): %s", resp.StatusCode, string(raw))
		return stt.Transcript{}, fmt.Errorf("whisper service returned status %d", resp.StatusCode)
	}

	var transcription TranscriptionResponse
	if err := json.Unmarshal(raw, &transcription); err != nil {
		// some deployments answer output=json with plain text
		w.logger.Debugf("treating non-JSON whisper response as text (%d bytes)", len(raw))
		transcription = TranscriptionResponse{Text: string(raw), Language: language}
	}

	w.logger.Debugf("whisper transcription: %q (language: %s)", transcription.Text, transcription.Language)
	return stt.Transcript{
		Text:        strings.TrimSpace(transcription.Text),
		Language:    transcription.Language,
		GeneratedAt: time.Now(),
	}, nil
}
