package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xpanvictor/migoto-coach/internal/config"
	"github.com/xpanvictor/migoto-coach/pkg/Logger"
	"github.com/xpanvictor/migoto-coach/pkg/io/audio"
	"github.com/xpanvictor/migoto-coach/pkg/io/chatapi"
	"github.com/xpanvictor/migoto-coach/pkg/io/playback"
	"github.com/xpanvictor/migoto-coach/pkg/io/stt"
)

var speech = base64.StdEncoding.EncodeToString([]byte("RIFF\x24\x00\x00\x00WAVEfmt "))

type fixedTranscriber struct{ text string }

func (f fixedTranscriber) Transcribe(ctx context.Context, clip audio.Clip, language string) (stt.Transcript, error) {
	return stt.Transcript{Text: f.text, Language: language, GeneratedAt: time.Now()}, nil
}

func chatServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/initialize", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"remote-1"}`))
	})
	mux.HandleFunc("/chat/remote-1/message", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"m1"}`))
	})
	mux.HandleFunc("/chat/stream/m1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprintf(w, "data: %s\n\n", reply)
	})
	mux.HandleFunc("/chat/complete", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return httptest.NewServer(mux)
}

func newTestServer(t *testing.T, chatURL string) (*httptest.Server, *WebSocketHandler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := NewWebSocketHandler(Logger.Nop(), Pipeline{
		Chat:        chatapi.New(chatURL, time.Second, Logger.Nop()),
		Transcriber: fixedTranscriber{text: "hello"},
		Decoder:     playback.Decoder{},
		Voice:       config.VoiceConfig{SampleRate: 16000, CaptureBytes: 1 << 16, DefaultLanguage: "en"},
		ChatConfig:  config.ChatServiceConfig{StreamTimeout: time.Second},
	}, time.Minute)
	router := gin.New()
	h.RegisterRoutes(router.Group("/ws"))
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		_ = h.Close()
	})
	return srv, h
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/conversation"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type received struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

func send(t *testing.T, conn *websocket.Conn, msgType MessageType, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{"type": msgType, "data": data})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

// next returns the next JSON message of the given type, skipping others.
// Binary frames are returned as a message of type "binary".
func next(t *testing.T, conn *websocket.Conn, want MessageType, match func(json.RawMessage) bool) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		kind, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		if kind == websocket.BinaryMessage {
			if want == "binary" {
				return received{Type: "binary", Data: raw}
			}
			continue
		}
		var msg received
		require.NoError(t, json.Unmarshal(raw, &msg))
		if msg.Type == want && (match == nil || match(msg.Data)) {
			return msg
		}
	}
}

func stateIs(to string) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		var s StateMessage
		return json.Unmarshal(raw, &s) == nil && s.To == to
	}
}

func TestControlBeforeInitIsRejected(t *testing.T) {
	chat := chatServer(t, `{"response":"hi"}`)
	defer chat.Close()
	srv, _ := newTestServer(t, chat.URL)
	conn := dial(t, srv)

	send(t, conn, MessageTypeControl, ControlMessage{Action: ActionStartRecording})
	msg := next(t, conn, MessageTypeError, nil)

	var e ErrorMessage
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	assert.Equal(t, "NOT_INITIALIZED", e.Code)
}

func TestInitRejectsUnknownMode(t *testing.T) {
	chat := chatServer(t, `{"response":"hi"}`)
	defer chat.Close()
	srv, _ := newTestServer(t, chat.URL)
	conn := dial(t, srv)

	send(t, conn, MessageTypeInit, InitMessage{Mode: "sing", AvatarInteractionID: "ai-1"})
	msg := next(t, conn, MessageTypeError, nil)

	var e ErrorMessage
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	assert.Equal(t, "INVALID_INIT", e.Code)
}

func TestLearnModeTextTurn(t *testing.T) {
	chat := chatServer(t, `{"response":"Welcome to the cafe"}`)
	defer chat.Close()
	srv, h := newTestServer(t, chat.URL)
	conn := dial(t, srv)

	send(t, conn, MessageTypeInit, InitMessage{Mode: "learn", AvatarInteractionID: "ai-1", ScenarioID: "cafe"})
	ack := next(t, conn, MessageTypeInit, nil)
	var init InitAck
	require.NoError(t, json.Unmarshal(ack.Data, &init))
	assert.Equal(t, "ready", init.Status)
	assert.Equal(t, "idle", init.State)

	send(t, conn, MessageTypeText, TextMessage{Content: "hello"})

	var turns []TurnMessage
	for len(turns) < 2 {
		var tm TurnMessage
		require.NoError(t, json.Unmarshal(next(t, conn, MessageTypeTurn, nil).Data, &tm))
		turns = append(turns, tm)
	}
	assert.Equal(t, "hello", turns[0].Turn.Text)
	assert.Equal(t, "Welcome to the cafe", turns[1].Turn.Text)
	next(t, conn, MessageTypeState, stateIs("idle"))

	stats := h.connectionManager.GetStats()
	assert.Equal(t, 1, stats["active_sessions"])
}

func TestSpokenTurnOverSocket(t *testing.T) {
	chat := chatServer(t, `{"response":"Hi!","audio":"`+speech+`"}`)
	defer chat.Close()
	srv, _ := newTestServer(t, chat.URL)
	conn := dial(t, srv)

	send(t, conn, MessageTypeInit, InitMessage{Mode: "try", AvatarInteractionID: "ai-1"})
	next(t, conn, MessageTypeInit, nil)

	send(t, conn, MessageTypeControl, ControlMessage{Action: ActionStartRecording})
	next(t, conn, MessageTypeState, stateIs("recording"))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, make([]byte, 640)))
	send(t, conn, MessageTypeControl, ControlMessage{Action: ActionStopRecording})

	header := next(t, conn, MessageTypePlayback, nil)
	var pb PlaybackMessage
	require.NoError(t, json.Unmarshal(header.Data, &pb))
	assert.True(t, strings.HasPrefix(pb.ContentType, "audio/"), pb.ContentType)
	clip := next(t, conn, "binary", nil)
	assert.Len(t, clip.Data, pb.Bytes)

	send(t, conn, MessageTypePlaybackEnded, PlaybackEndedMessage{ID: pb.ID})
	next(t, conn, MessageTypeState, stateIs("idle"))
}

func TestSecondStartRecordingIsBusy(t *testing.T) {
	chat := chatServer(t, `{"response":"hi"}`)
	defer chat.Close()
	srv, _ := newTestServer(t, chat.URL)
	conn := dial(t, srv)

	send(t, conn, MessageTypeInit, InitMessage{Mode: "try", AvatarInteractionID: "ai-1"})
	next(t, conn, MessageTypeInit, nil)

	send(t, conn, MessageTypeControl, ControlMessage{Action: ActionStartRecording})
	send(t, conn, MessageTypeControl, ControlMessage{Action: ActionStartRecording})

	var e ErrorMessage
	require.NoError(t, json.Unmarshal(next(t, conn, MessageTypeError, nil).Data, &e))
	assert.Equal(t, "BUSY", e.Code)
}
