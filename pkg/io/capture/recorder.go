package capture

import (
	"context"
	"errors"
	"sync"

	"github.com/xpanvictor/migoto-coach/pkg/Logger"
	"github.com/xpanvictor/migoto-coach/pkg/io/audio"
	audioring "github.com/xpanvictor/migoto-coach/pkg/io/stt/audioRing"
)

var (
	ErrDeviceUnavailable = errors.New("capture: audio input device unavailable")
	ErrAlreadyRecording  = errors.New("capture: already recording")
	ErrNotRecording      = errors.New("capture: not recording")
)

// AudioCapturer records one utterance at a time.
type AudioCapturer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (audio.Clip, error)
	Abort()
}

// Device is the remote end that owns the microphone.
type Device interface {
	MicrophoneAvailable() bool
}

// FrameRecorder captures frames pushed by a device between Start and Stop.
// Frames pushed while not recording are dropped.
type FrameRecorder struct {
	device Device
	logger *Logger.Logger

	mu        sync.Mutex
	buf       audioring.AudioRingBuffer
	recording bool
	dropped   int
}

var _ AudioCapturer = (*FrameRecorder)(nil)

func NewFrameRecorder(device Device, bufferBytes int, logger *Logger.Logger) *FrameRecorder {
	if bufferBytes <= 0 {
		bufferBytes = 4 << 20
	}
	return &FrameRecorder{
		device: device,
		buf:    audioring.New(bufferBytes),
		logger: logger.Named("recorder"),
	}
}

// Start implements AudioCapturer.
func (r *FrameRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return ErrAlreadyRecording
	}
	if r.device == nil || !r.device.MicrophoneAvailable() {
		return ErrDeviceUnavailable
	}
	r.buf.Reset()
	r.dropped = 0
	r.recording = true
	return nil
}

// Push buffers a frame if a recording is open.
func (r *FrameRecorder) Push(frame audioring.AudioInput) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return false
	}
	if err := r.buf.Enqueue(frame); err != nil {
		r.dropped++
		return false
	}
	return true
}

// Stop implements AudioCapturer. The capture is released whether or not
// any audio was recorded.
func (r *FrameRecorder) Stop(ctx context.Context) (audio.Clip, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return audio.Clip{}, ErrNotRecording
	}
	r.recording = false
	frames := r.buf.Drain()
	dropped := r.dropped
	r.mu.Unlock()

	if dropped > 0 {
		r.logger.Warnf("dropped %d oversized frames during recording", dropped)
	}
	return audio.EncodeWAV(frames)
}

// Abort implements AudioCapturer.
func (r *FrameRecorder) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	r.buf.Reset()
}

func (r *FrameRecorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}
