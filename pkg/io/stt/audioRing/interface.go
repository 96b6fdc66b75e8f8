package audioring

import (
	"encoding/binary"
	"errors"
	"time"
)

// headerSize is timestamp(8) + sampleRate(4) + channels(2) + dataLen(4).
const headerSize = 18

var ErrShortFrame = errors.New("audioring: encoded frame shorter than header")

// AudioInput is one PCM16 frame pushed by a capture device.
type AudioInput struct {
	Data       []byte
	Timestamp  time.Time
	SampleRate int32
	Channels   int16
}

func (a *AudioInput) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerSize+len(a.Data))
	binary.LittleEndian.PutUint64(buf[0:], uint64(a.Timestamp.UnixNano()))
	binary.LittleEndian.PutUint32(buf[8:], uint32(a.SampleRate))
	binary.LittleEndian.PutUint16(buf[12:], uint16(a.Channels))
	binary.LittleEndian.PutUint32(buf[14:], uint32(len(a.Data)))
	copy(buf[headerSize:], a.Data)
	return buf, nil
}

func (a *AudioInput) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize {
		return ErrShortFrame
	}
	a.Timestamp = time.Unix(0, int64(binary.LittleEndian.Uint64(data[0:])))
	a.SampleRate = int32(binary.LittleEndian.Uint32(data[8:]))
	a.Channels = int16(binary.LittleEndian.Uint16(data[12:]))
	dataLen := int(binary.LittleEndian.Uint32(data[14:]))
	if len(data[headerSize:]) < dataLen {
		return ErrShortFrame
	}
	a.Data = make([]byte, dataLen)
	copy(a.Data, data[headerSize:headerSize+dataLen])
	return nil
}

// Duration is the playback length of the frame's PCM16 samples.
func (a *AudioInput) Duration() time.Duration {
	if a.SampleRate <= 0 || a.Channels <= 0 {
		return 0
	}
	samples := len(a.Data) / 2 / int(a.Channels)
	return time.Duration(samples) * time.Second / time.Duration(a.SampleRate)
}

// AudioRingBuffer holds the frames of one utterance. When full, the oldest
// frames are evicted to make room.
type AudioRingBuffer interface {
	Enqueue(frame AudioInput) error
	Dequeue() (AudioInput, bool)
	Drain() []AudioInput
	Reset()
	Frames() int
	Len() int
	Capacity() int
}
