package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/xpanvictor/migoto-coach/pkg/io/device"
	"github.com/xpanvictor/migoto-coach/pkg/io/playback"
)

const (
	writeWait     = 10 * time.Second
	outboundQueue = 64
)

var (
	errSessionClosed = errors.New("session not active")
	errSlowClient    = errors.New("client is not reading, outbound queue full")
)

type frame struct {
	binary bool
	data   []byte
}

// Session represents one WebSocket connection. All writes go through a
// single writer goroutine.
type Session struct {
	UserID      string
	Token       string
	SessionID   uuid.UUID
	Conn        *websocket.Conn
	ConnectedAt time.Time

	out       chan frame
	done      chan struct{}
	closeOnce sync.Once

	mutex        sync.RWMutex
	lastActive   time.Time
	IsActive     bool
	sequence     int
	caps         device.Capabilities
	conversation *conversation
}

// NewSession creates a new WebSocket session
func NewSession(userID, token string, conn *websocket.Conn, capabilities device.Capabilities) *Session {
	now := time.Now()
	return &Session{
		UserID:      userID,
		Token:       token,
		SessionID:   uuid.New(),
		Conn:        conn,
		ConnectedAt: now,
		lastActive:  now,
		IsActive:    true,
		caps:        capabilities,
		out:         make(chan frame, outboundQueue),
		done:        make(chan struct{}),
	}
}

// SendWebSocketMessage queues a JSON message for the client
func (s *Session) SendWebSocketMessage(msgType MessageType, data interface{}) error {
	s.mutex.Lock()
	if !s.IsActive {
		s.mutex.Unlock()
		return errSessionClosed
	}
	s.sequence++
	msg := WSMessage{
		Type:      msgType,
		Data:      data,
		SessionID: s.SessionID.String(),
		Sequence:  s.sequence,
		Timestamp: time.Now(),
	}
	s.mutex.Unlock()

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msgType, err)
	}
	return s.enqueue(frame{data: raw})
}

// SendError sends an error message to the client
func (s *Session) SendError(code, message string) error {
	return s.SendWebSocketMessage(MessageTypeError, ErrorMessage{Code: code, Message: message})
}

// enqueue never blocks: callers may hold the turn controller's lock. A
// client that lets the queue fill up is disconnected.
func (s *Session) enqueue(f frame) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.out <- f:
		return nil
	case <-s.done:
		return errSessionClosed
	default:
		go s.Close()
		return errSlowClient
	}
}

// writeLoop owns the connection's write side until ctx ends or the session
// closes.
func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case f := <-s.out:
			kind := websocket.TextMessage
			if f.binary {
				kind = websocket.BinaryMessage
			}
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(kind, f.data); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-s.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// MicrophoneAvailable implements capture.Device.
func (s *Session) MicrophoneAvailable() bool {
	return s.IsAlive() && s.Capabilities().AudioInput
}

// Play implements playback.Sink: a playback header followed by the clip as
// one binary frame. The client reports the end with playback_ended.
func (s *Session) Play(id string, clip playback.Clip) error {
	if !s.Capabilities().AudioSink {
		return errors.New("client cannot play audio")
	}
	if err := s.SendWebSocketMessage(MessageTypePlayback, PlaybackMessage{
		ID:          id,
		ContentType: clip.ContentType,
		Bytes:       len(clip.Data),
	}); err != nil {
		return err
	}
	return s.enqueue(frame{binary: true, data: clip.Data})
}

// Stop implements playback.Sink.
func (s *Session) Stop(id string) error {
	err := s.SendWebSocketMessage(MessageTypePlaybackStop, PlaybackEndedMessage{ID: id})
	if errors.Is(err, errSessionClosed) {
		return nil
	}
	return err
}

func (s *Session) Capabilities() device.Capabilities {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.caps
}

func (s *Session) setCapabilities(caps device.Capabilities) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.caps = caps
}

func (s *Session) setConversation(c *conversation) *conversation {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	prev := s.conversation
	s.conversation = c
	return prev
}

func (s *Session) Conversation() *conversation {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.conversation
}

// UpdateLastActive updates the last activity timestamp
func (s *Session) UpdateLastActive() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastActive = time.Now()
}

// Close stops the writer and closes the connection. Safe to call twice.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mutex.Lock()
		s.IsActive = false
		s.mutex.Unlock()
		close(s.done)
		err = s.Conn.Close()
	})
	return err
}

// IsExpired checks if the session has expired based on inactivity
func (s *Session) IsExpired(timeout time.Duration) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return time.Since(s.lastActive) > timeout
}

func (s *Session) IsAlive() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.IsActive
}

func (s *Session) LastActive() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastActive
}
