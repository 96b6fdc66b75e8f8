package websocket

import (
	"encoding/json"
	"time"

	"github.com/xpanvictor/migoto-coach/internal/domains/conversation/metrics"
	"github.com/xpanvictor/migoto-coach/internal/types"
	"github.com/xpanvictor/migoto-coach/pkg/io/device"
)

// MessageType defines the type of WebSocket message
type MessageType string

// client -> server
const (
	MessageTypeInit          MessageType = "init"
	MessageTypeControl       MessageType = "control"
	MessageTypeText          MessageType = "text"
	MessageTypePlaybackEnded MessageType = "playback_ended"
)

// server -> client
const (
	MessageTypeState        MessageType = "state"
	MessageTypeTurn         MessageType = "turn"
	MessageTypeNotice       MessageType = "notice"
	MessageTypePlayback     MessageType = "playback"
	MessageTypePlaybackStop MessageType = "playback_stop"
	MessageTypeFinished     MessageType = "finished"
	MessageTypeError        MessageType = "error"
)

// Control actions.
const (
	ActionStartRecording = "start_recording"
	ActionStopRecording  = "stop_recording"
	ActionSkip           = "skip"
	ActionFinish         = "finish"
	ActionRestart        = "restart"
)

// WSMessage is the envelope of every JSON frame sent to the client
type WSMessage struct {
	Type      MessageType `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	Sequence  int         `json:"sequence,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// inboundMessage is the envelope of client frames; Data is decoded per type.
type inboundMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// InitMessage selects the conversation to run on this connection
type InitMessage struct {
	Mode                string              `json:"mode"`
	PersonaID           string              `json:"personaId"`
	AvatarID            string              `json:"avatarId"`
	AvatarInteractionID string              `json:"avatarInteractionId"`
	Language            string              `json:"language"`
	ScenarioID          string              `json:"scenarioId"`
	SampleRate          int32               `json:"sampleRate,omitempty"`
	Capabilities        device.Capabilities `json:"capabilities"`
}

type ControlMessage struct {
	Action string `json:"action"`
}

type TextMessage struct {
	Content string `json:"content"`
}

type PlaybackEndedMessage struct {
	ID string `json:"id"`
}

type InitAck struct {
	Status       string `json:"status"`
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId,omitempty"`
	Mode         string `json:"mode"`
	State        string `json:"state"`
}

type StateMessage struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type TurnMessage struct {
	Index   int                    `json:"index"`
	Updated bool                   `json:"updated,omitempty"`
	Turn    types.ConversationTurn `json:"turn"`
}

type NoticeMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PlaybackMessage announces the binary frame that follows it
type PlaybackMessage struct {
	ID          string `json:"id"`
	ContentType string `json:"contentType"`
	Bytes       int    `json:"bytes"`
}

type FinishedMessage struct {
	Reason    string                   `json:"reason"`
	SessionID string                   `json:"sessionId,omitempty"`
	History   []types.ConversationTurn `json:"history"`
	Timing    metrics.TimingMetrics    `json:"timing"`
	Report    json.RawMessage          `json:"report,omitempty"`
}

// ErrorMessage contains error information
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
