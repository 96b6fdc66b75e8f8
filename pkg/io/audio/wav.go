package audio

import (
	"encoding/binary"
	"errors"

	audioring "github.com/xpanvictor/migoto-coach/pkg/io/stt/audioRing"
)

const (
	wavHeaderSize     = 44
	bitsPerSample     = 16
	defaultSampleRate = 16000
)

var ErrNoFrames = errors.New("audio: no frames")

// Clip is a finished recording ready for upload.
type Clip struct {
	WAV        []byte
	SampleRate int32
	Channels   int16
	PCMBytes   int
}

// EncodeWAV wraps PCM16 frames in a RIFF/WAVE container. Sample rate and
// channel count come from the first frame.
func EncodeWAV(frames []audioring.AudioInput) (Clip, error) {
	if len(frames) == 0 {
		return Clip{}, ErrNoFrames
	}

	sampleRate := frames[0].SampleRate
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	channels := frames[0].Channels
	if channels <= 0 {
		channels = 1
	}

	dataSize := 0
	for _, f := range frames {
		dataSize += len(f.Data)
	}
	if dataSize == 0 {
		return Clip{}, ErrNoFrames
	}

	blockAlign := int(channels) * bitsPerSample / 8
	byteRate := int(sampleRate) * blockAlign

	out := make([]byte, wavHeaderSize, wavHeaderSize+dataSize)
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(wavHeaderSize+dataSize-8))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataSize))

	for _, f := range frames {
		out = append(out, f.Data...)
	}

	return Clip{WAV: out, SampleRate: sampleRate, Channels: channels, PCMBytes: dataSize}, nil
}

// PCM returns the samples without the WAV header.
func (c Clip) PCM() []byte {
	if len(c.WAV) < wavHeaderSize {
		return nil
	}
	return c.WAV[wavHeaderSize:]
}
