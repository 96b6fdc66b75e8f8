package stt

import (
	"context"
	"time"

	"github.com/xpanvictor/migoto-coach/pkg/io/audio"
)

type Transcript struct {
	Text        string
	Language    string
	GeneratedAt time.Time
}

// Transcriber turns a recorded clip into text in the given language.
type Transcriber interface {
	Transcribe(ctx context.Context, clip audio.Clip, language string) (Transcript, error)
}
