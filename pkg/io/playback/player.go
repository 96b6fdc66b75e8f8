package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/xpanvictor/migoto-coach/pkg/Logger"
)

var ErrSinkUnavailable = errors.New("playback: audio sink unavailable")

// Sink is where clips are played. Play hands the clip over and returns; the
// sink later reports completion through Player.Ended.
type Sink interface {
	Play(id string, clip Clip) error
	Stop(id string) error
}

// Callbacks are invoked without any player lock held.
type Callbacks struct {
	OnStart func(id string)
	OnEnd   func(id string)
	OnSkip  func(id string)
}

type instance struct {
	id string
	cb Callbacks
}

// Player drives a single shared sink. At most one clip is active; starting
// a new one discards the previous one silently.
type Player struct {
	sink    Sink
	decoder Decoder
	logger  *Logger.Logger

	mu     sync.Mutex
	active *instance
}

func NewPlayer(sink Sink, decoder Decoder, logger *Logger.Logger) *Player {
	return &Player{sink: sink, decoder: decoder, logger: logger.Named("playback")}
}

// Play decodes payload and starts it on the sink. A decode failure returns
// ErrPlaybackDecode and leaves the sink untouched.
func (p *Player) Play(ctx context.Context, payload string, cb Callbacks) (string, error) {
	clip, err := p.decoder.Decode(ctx, payload)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()

	p.mu.Lock()
	if p.active != nil {
		p.stopLocked()
	}
	p.active = &instance{id: id, cb: cb}
	if err := p.sink.Play(id, clip); err != nil {
		p.active = nil
		p.mu.Unlock()
		return "", fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	p.mu.Unlock()

	p.logger.Debugf("playing %s (%d bytes, %s)", id, len(clip.Data), clip.ContentType)
	if cb.OnStart != nil {
		cb.OnStart(id)
	}
	return id, nil
}

// Skip stops the active clip and fires its OnSkip. With nothing playing it
// does nothing and returns false.
func (p *Player) Skip() bool {
	p.mu.Lock()
	inst := p.active
	if inst == nil {
		p.mu.Unlock()
		return false
	}
	p.stopLocked()
	p.mu.Unlock()

	if inst.cb.OnSkip != nil {
		inst.cb.OnSkip(inst.id)
	}
	return true
}

// Ended is the sink's completion report. Reports for clips that are no
// longer active are ignored.
func (p *Player) Ended(id string) bool {
	p.mu.Lock()
	inst := p.active
	if inst == nil || inst.id != id {
		p.mu.Unlock()
		return false
	}
	p.active = nil
	p.mu.Unlock()

	if inst.cb.OnEnd != nil {
		inst.cb.OnEnd(inst.id)
	}
	return true
}

// Stop halts and discards the active clip without callbacks.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		p.stopLocked()
	}
}

func (p *Player) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil
}

func (p *Player) stopLocked() {
	if err := p.sink.Stop(p.active.id); err != nil {
		p.logger.Warnf("sink stop for %s failed: %v", p.active.id, err)
	}
	p.active = nil
}
