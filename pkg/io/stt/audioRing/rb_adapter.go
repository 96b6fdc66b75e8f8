package audioring

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/smallnest/ringbuffer"
)

const sizePrefix = 4

var ErrFrameTooLarge = errors.New("audioring: frame too large for buffer")

type rb_impl struct {
	mu     sync.Mutex
	size   int
	frames int
	rb     *ringbuffer.RingBuffer
}

func New(size int) AudioRingBuffer {
	return &rb_impl{
		size: size,
		rb:   ringbuffer.New(size).SetBlocking(false),
	}
}

// Enqueue implements AudioRingBuffer.
func (r *rb_impl) Enqueue(frame AudioInput) error {
	data, err := frame.MarshalBinary()
	if err != nil {
		return err
	}

	required := len(data) + sizePrefix
	if required > r.rb.Capacity() {
		return ErrFrameTooLarge
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for r.rb.Free() < required {
		if !r.dropOldest() {
			r.rb.Reset()
			r.frames = 0
			break
		}
	}

	var prefix [sizePrefix]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := r.rb.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := r.rb.Write(data); err != nil {
		return err
	}
	r.frames++
	return nil
}

// Dequeue implements AudioRingBuffer.
func (r *rb_impl) Dequeue() (AudioInput, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next()
}

// Drain implements AudioRingBuffer.
func (r *rb_impl) Drain() []AudioInput {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]AudioInput, 0, r.frames)
	for {
		frame, ok := r.next()
		if !ok {
			break
		}
		out = append(out, frame)
	}
	return out
}

// Reset implements AudioRingBuffer.
func (r *rb_impl) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rb.Reset()
	r.frames = 0
}

// Frames implements AudioRingBuffer.
func (r *rb_impl) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Len implements AudioRingBuffer.
func (r *rb_impl) Len() int {
	return r.rb.Length()
}

// Capacity implements AudioRingBuffer.
func (r *rb_impl) Capacity() int {
	return r.size
}

func (r *rb_impl) readPrefix() (int, bool) {
	if r.rb.IsEmpty() {
		return 0, false
	}
	var prefix [sizePrefix]byte
	n, err := r.rb.Read(prefix[:])
	if err != nil || n != sizePrefix {
		return 0, false
	}
	return int(binary.LittleEndian.Uint32(prefix[:])), true
}

// next must be called with mu held.
func (r *rb_impl) next() (AudioInput, bool) {
	size, ok := r.readPrefix()
	if !ok {
		return AudioInput{}, false
	}
	data := make([]byte, size)
	n, err := r.rb.Read(data)
	if err != nil || n != size {
		return AudioInput{}, false
	}
	r.frames--

	var frame AudioInput
	if err := frame.UnmarshalBinary(data); err != nil {
		return AudioInput{}, false
	}
	return frame, true
}

// dropOldest must be called with mu held.
func (r *rb_impl) dropOldest() bool {
	size, ok := r.readPrefix()
	if !ok {
		return false
	}
	if size > 0 {
		skip := make([]byte, size)
		n, err := r.rb.Read(skip)
		if err != nil || n != size {
			return false
		}
	}
	r.frames--
	return true
}
