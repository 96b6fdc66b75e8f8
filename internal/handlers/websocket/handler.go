package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/xpanvictor/migoto-coach/internal/config"
	"github.com/xpanvictor/migoto-coach/internal/domains/conversation/metrics"
	"github.com/xpanvictor/migoto-coach/internal/domains/conversation/turn"
	"github.com/xpanvictor/migoto-coach/internal/domains/dialogue"
	"github.com/xpanvictor/migoto-coach/internal/handlers"
	"github.com/xpanvictor/migoto-coach/internal/types"
	"github.com/xpanvictor/migoto-coach/pkg/Logger"
	"github.com/xpanvictor/migoto-coach/pkg/io/capture"
	"github.com/xpanvictor/migoto-coach/pkg/io/chatapi"
	"github.com/xpanvictor/migoto-coach/pkg/io/device"
	"github.com/xpanvictor/migoto-coach/pkg/io/playback"
	"github.com/xpanvictor/migoto-coach/pkg/io/stt"
	"github.com/xpanvictor/migoto-coach/pkg/io/stt/vad"
	"golang.org/x/sync/errgroup"
)

const maxFrameBytes = 1 << 20

var defaultCapabilities = device.Capabilities{AudioInput: true, AudioSink: true, TextSink: true}

// Pipeline holds the shared services every conversation is built from
type Pipeline struct {
	Chat        *chatapi.Client
	Transcriber stt.Transcriber
	// Gate is optional; without it every recording is transcribed.
	Gate        vad.Detector
	Decoder     playback.Decoder
	Archiver    turn.Archiver
	Recorder    metrics.Recorder
	Voice       config.VoiceConfig
	ChatConfig  config.ChatServiceConfig
}

// WebSocketHandler handles WebSocket connections and routes
type WebSocketHandler struct {
	logger            *Logger.Logger
	pipeline          Pipeline
	connectionManager *ConnectionManager
	inputManager      *InputStreamManager
	upgrader          websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(logger *Logger.Logger, pipeline Pipeline, sessionTimeout time.Duration) *WebSocketHandler {
	logger = logger.Named("ws")
	return &WebSocketHandler{
		logger:            logger,
		pipeline:          pipeline,
		connectionManager: NewConnectionManager(sessionTimeout, logger),
		inputManager:      NewInputStreamManager(logger),
		upgrader: websocket.Upgrader{
			// learners are identified by token, not origin
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/conversation", h.HandleConversation)
	router.GET("/stats", h.HandleStats)
}

// HandleConversation upgrades the request and serves one conversation
// connection until the client goes away.
func (h *WebSocketHandler) HandleConversation(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	session := NewSession(c.GetString(handlers.CtxUserID), c.GetString(handlers.CtxToken), conn, defaultCapabilities)
	h.connectionManager.RegisterConnection(session)
	defer h.connectionManager.UnregisterConnection(session.SessionID)

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer session.Close()
		return h.readLoop(gctx, session)
	})
	g.Go(func() error {
		defer session.Close()
		return session.writeLoop(gctx)
	})
	if err := g.Wait(); err != nil {
		h.logger.Infof("connection %s ended: %v", session.SessionID, err)
	}
	cancel()

	if conv := session.setConversation(nil); conv != nil {
		out := conv.close()
		h.logger.Infof("conversation on %s closed (session=%s, turns=%d)", session.SessionID, out.SessionID, len(out.History))
	}
}

// HandleStats provides connection statistics
func (h *WebSocketHandler) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"data":   h.connectionManager.GetStats(),
	})
}

func (h *WebSocketHandler) readLoop(ctx context.Context, session *Session) error {
	h.logger.Infof("Starting WebSocket connection handling for session %s", session.SessionID)
	for {
		messageType, data, err := session.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && session.IsAlive() {
				return fmt.Errorf("read: %w", err)
			}
			h.logger.Infof("WebSocket connection closed for session %s", session.SessionID)
			return nil
		}
		session.UpdateLastActive()

		switch messageType {
		case websocket.TextMessage:
			h.handleTextMessage(ctx, session, data)
		case websocket.BinaryMessage:
			h.handleBinaryMessage(session, data)
		}
	}
}

func (h *WebSocketHandler) handleTextMessage(ctx context.Context, session *Session, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = session.SendError("INVALID_MESSAGE", "Invalid message format")
		return
	}

	var err error
	switch msg.Type {
	case MessageTypeInit:
		var init InitMessage
		if err = decodeData(msg.Data, &init); err == nil {
			h.handleInit(session, init)
		}
	case MessageTypeControl:
		var control ControlMessage
		if err = decodeData(msg.Data, &control); err == nil {
			err = h.inputManager.HandleControl(ctx, session, control)
		}
	case MessageTypeText:
		var text TextMessage
		if err = decodeData(msg.Data, &text); err == nil {
			err = h.inputManager.HandleTextInput(ctx, session, text.Content)
		}
	case MessageTypePlaybackEnded:
		var ended PlaybackEndedMessage
		if err = decodeData(msg.Data, &ended); err == nil {
			err = h.inputManager.HandlePlaybackEnded(session, ended)
		}
	default:
		_ = session.SendError("UNKNOWN_MESSAGE_TYPE", fmt.Sprintf("Unknown message type: %s", msg.Type))
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, errNoConversation):
		_ = session.SendError("NOT_INITIALIZED", "send init before anything else")
	default:
		_ = session.SendError("INVALID_MESSAGE", err.Error())
	}
}

// handleBinaryMessage treats binary frames as 16-bit mono PCM
func (h *WebSocketHandler) handleBinaryMessage(session *Session, data []byte) {
	if err := h.inputManager.HandleAudioInput(session, data); err != nil {
		_ = session.SendError("NOT_INITIALIZED", "send init before streaming audio")
	}
}

// handleInit replaces the connection's conversation with a fresh one
func (h *WebSocketHandler) handleInit(session *Session, init InitMessage) {
	mode, err := types.ParseMode(init.Mode)
	if err != nil {
		_ = session.SendError("INVALID_INIT", err.Error())
		return
	}
	language := init.Language
	if language == "" {
		language = h.pipeline.Voice.DefaultLanguage
	}
	sc := types.SessionContext{
		LearnerID:           session.UserID,
		Mode:                mode,
		PersonaID:           init.PersonaID,
		AvatarID:            init.AvatarID,
		AvatarInteractionID: init.AvatarInteractionID,
		LanguageCode:        language,
		ScenarioID:          init.ScenarioID,
		AuthToken:           session.Token,
	}
	if err := sc.Validate(); err != nil {
		_ = session.SendError("INVALID_INIT", err.Error())
		return
	}

	if prev := session.setConversation(nil); prev != nil {
		prev.close()
	}
	session.setCapabilities(init.Capabilities.Merge(defaultCapabilities))

	sampleRate := init.SampleRate
	if sampleRate <= 0 {
		sampleRate = h.pipeline.Voice.SampleRate
	}
	conv := h.newConversation(session, sc, sampleRate)
	session.setConversation(conv)

	h.logger.Infof("conversation initialized on %s (mode=%s, scenario=%s)", session.SessionID, mode, sc.ScenarioID)
	_ = session.SendWebSocketMessage(MessageTypeInit, InitAck{
		Status:       "ready",
		ConnectionID: session.SessionID.String(),
		UserID:       session.UserID,
		Mode:         string(mode),
		State:        string(conv.controller.State()),
	})
}

func (h *WebSocketHandler) newConversation(session *Session, sc types.SessionContext, sampleRate int32) *conversation {
	logger := h.logger.With("connection", session.SessionID.String())
	p := h.pipeline

	conv := &conversation{
		recorder:   capture.NewFrameRecorder(session, p.Voice.CaptureBytes, logger),
		player:     playback.NewPlayer(session, p.Decoder, logger),
		sampleRate: sampleRate,
		session:    session,
		logger:     logger,
	}
	speech := capture.NewSpeech(conv.recorder, p.Transcriber, sc.LanguageCode, logger)
	if p.Gate != nil {
		speech.WithGate(p.Gate)
	}
	chat := p.Chat.WithToken(sc.AuthToken)
	conv.controller = turn.NewController(turn.Config{
		Session:  sc,
		Capture:  speech,
		Dialogue: dialogue.NewSession(chat, sc, p.ChatConfig.StreamTimeout, logger),
		Player:   conv.player,
		Observer: conv,
		Archiver: p.Archiver,
		Recorder: p.Recorder,
		Logger:   logger,
	})
	return conv
}

func decodeData(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(raw, v)
}

func (h *WebSocketHandler) ConnectionCount() int {
	return h.connectionManager.GetSessionCount()
}

// Close shuts down the WebSocket handler
func (h *WebSocketHandler) Close() error {
	return h.connectionManager.Close()
}
