package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/xpanvictor/migoto-coach/internal/types"
	"github.com/xpanvictor/migoto-coach/pkg/Logger"
	"github.com/xpanvictor/migoto-coach/pkg/io/chatapi"
)

const DefaultStreamTimeout = 45 * time.Second

// ChatService is the remote side of a dialogue.
type ChatService interface {
	Initialize(ctx context.Context, req chatapi.InitRequest) (string, error)
	SendMessage(ctx context.Context, sessionID, text string) (string, error)
	Stream(ctx context.Context, handle string) (chatapi.Stream, error)
	Complete(ctx context.Context, req chatapi.CompleteRequest) error
	Report(ctx context.Context, sessionID string) (json.RawMessage, error)
}

// Session owns the remote session id of one conversation attempt and runs
// strictly sequential turns against it.
type Session struct {
	chat          ChatService
	sc            types.SessionContext
	streamTimeout time.Duration
	logger        *Logger.Logger

	mu         sync.Mutex
	id         string
	generation uint64
	inFlight   bool
	cancel     context.CancelFunc
}

func NewSession(chat ChatService, sc types.SessionContext, streamTimeout time.Duration, logger *Logger.Logger) *Session {
	if streamTimeout <= 0 {
		streamTimeout = DefaultStreamTimeout
	}
	return &Session{
		chat:          chat,
		sc:            sc,
		streamTimeout: streamTimeout,
		logger:        logger.Named("dialogue"),
	}
}

// ID returns the remote session id, or "" before the first turn.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// SendTurn sends one learner utterance and waits for the streamed reply.
// The remote session is created on the first call.
func (s *Session) SendTurn(ctx context.Context, text string) (*BotResponse, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	turnCtx, cancel := context.WithCancel(ctx)
	s.inFlight = true
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	sessionID, err := s.ensureSession(turnCtx)
	if err != nil {
		return nil, err
	}

	handle, err := s.chat.SendMessage(turnCtx, sessionID, text)
	if err != nil {
		return nil, fmt.Errorf("%w: send message: %v", ErrStream, err)
	}

	streamCtx, cancelStream := context.WithTimeout(turnCtx, s.streamTimeout)
	defer cancelStream()

	stream, err := s.chat.Stream(streamCtx, handle)
	if err != nil {
		if errors.Is(streamCtx.Err(), context.DeadlineExceeded) {
			return nil, ErrStreamTimeout
		}
		return nil, fmt.Errorf("%w: open: %v", ErrStream, err)
	}
	defer stream.Close()

	return s.collect(streamCtx, handle, stream)
}

// collect reads fragments until the channel closes. Closure is the only
// completion signal the service gives.
// TODO: stop on the chat service's terminal event once it publishes one.
func (s *Session) collect(ctx context.Context, handle string, stream chatapi.Stream) (*BotResponse, error) {
	acc := newAccumulator()
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			switch {
			case errors.Is(ctx.Err(), context.DeadlineExceeded):
				return nil, ErrStreamTimeout
			case ctx.Err() != nil:
				return nil, ctx.Err()
			case acc.fragments > 0:
				s.logger.Warnf("stream %s broke after %d fragments, keeping partial reply: %v", handle, acc.fragments, err)
				return &acc.resp, nil
			default:
				return nil, fmt.Errorf("%w: %v", ErrStream, err)
			}
		}
		if len(ev.Data) == 0 {
			continue
		}
		if err := acc.merge(ev.Data); err != nil {
			s.logger.Warnf("dropping malformed fragment on stream %s: %v", handle, err)
		}
	}

	if acc.fragments == 0 {
		return nil, fmt.Errorf("%w: stream closed without a reply", ErrStream)
	}
	return &acc.resp, nil
}

func (s *Session) ensureSession(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.id != "" {
		id := s.id
		s.mu.Unlock()
		return id, nil
	}
	gen := s.generation
	s.mu.Unlock()

	id, err := s.chat.Initialize(ctx, chatapi.InitRequest{
		Mode:                string(s.sc.Mode),
		PersonaID:           s.sc.PersonaID,
		AvatarID:            s.sc.AvatarID,
		AvatarInteractionID: s.sc.AvatarInteractionID,
		LanguageID:          s.sc.LanguageCode,
		ScenarioID:          s.sc.ScenarioID,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSessionCreate, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return "", context.Canceled
	}
	s.id = id
	s.logger.Infof("created chat session %s (mode=%s)", id, s.sc.Mode)
	return id, nil
}

// Complete reports the attempt as complete to the chat service.
func (s *Session) Complete(ctx context.Context) error {
	id := s.ID()
	if id == "" {
		return ErrNoSession
	}
	return s.chat.Complete(ctx, chatapi.CompleteRequest{
		Mode:                string(s.sc.Mode),
		ScenarioID:          s.sc.ScenarioID,
		AvatarInteractionID: s.sc.AvatarInteractionID,
		SessionID:           id,
	})
}

// Report fetches the scoring report of the current session.
func (s *Session) Report(ctx context.Context) (json.RawMessage, error) {
	id := s.ID()
	if id == "" {
		return nil, ErrNoSession
	}
	return s.chat.Report(ctx, id)
}

// Close cancels the open stream, if any. The session id survives.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Reset closes any open stream and forgets the session id, so the next
// turn starts a new attempt.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.id = ""
	s.generation++
}
