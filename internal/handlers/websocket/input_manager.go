package websocket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xpanvictor/migoto-coach/internal/domains/conversation/turn"
	"github.com/xpanvictor/migoto-coach/pkg/Logger"
	audioring "github.com/xpanvictor/migoto-coach/pkg/io/stt/audioRing"
)

var errNoConversation = errors.New("conversation not initialized")

// InputStreamManager routes client input into the session's conversation
type InputStreamManager struct {
	logger *Logger.Logger
}

func NewInputStreamManager(logger *Logger.Logger) *InputStreamManager {
	return &InputStreamManager{logger: logger}
}

// HandleTextInput submits typed text as the learner's turn
func (im *InputStreamManager) HandleTextInput(ctx context.Context, session *Session, text string) error {
	conv := session.Conversation()
	if conv == nil {
		return errNoConversation
	}
	conv.run(func() {
		if err := conv.controller.SubmitText(ctx, text); err != nil {
			im.reportControlError(session, "text", err)
		}
	})
	return nil
}

// HandleControl applies a control action. Actions that wait on remote
// services run off the read loop so playback reports and skips still
// arrive.
func (im *InputStreamManager) HandleControl(ctx context.Context, session *Session, control ControlMessage) error {
	conv := session.Conversation()
	if conv == nil {
		return errNoConversation
	}

	switch control.Action {
	case ActionStartRecording:
		if err := conv.controller.StartRecording(ctx); err != nil {
			im.reportControlError(session, control.Action, err)
		}
	case ActionStopRecording:
		conv.run(func() {
			if err := conv.controller.StopRecording(ctx); err != nil {
				im.reportControlError(session, control.Action, err)
			}
		})
	case ActionSkip:
		conv.controller.Skip()
	case ActionFinish:
		conv.run(func() {
			if err := conv.controller.Finish(ctx); err != nil {
				im.reportControlError(session, control.Action, err)
			}
		})
	case ActionRestart:
		if err := conv.controller.Restart(); err != nil {
			im.reportControlError(session, control.Action, err)
		}
	default:
		return fmt.Errorf("unknown control action %q", control.Action)
	}
	return nil
}

// HandleAudioInput buffers one PCM frame for the open recording
func (im *InputStreamManager) HandleAudioInput(session *Session, data []byte) error {
	conv := session.Conversation()
	if conv == nil {
		return errNoConversation
	}
	frame := audioring.AudioInput{
		Data:       data,
		Timestamp:  time.Now(),
		SampleRate: conv.sampleRate,
		Channels:   1,
	}
	if !conv.recorder.Push(frame) {
		im.logger.Debugf("dropped %d-byte frame for session %s (not recording)", len(data), session.SessionID)
	}
	return nil
}

// HandlePlaybackEnded forwards the client's completion report to the player
func (im *InputStreamManager) HandlePlaybackEnded(session *Session, msg PlaybackEndedMessage) error {
	conv := session.Conversation()
	if conv == nil {
		return errNoConversation
	}
	conv.player.Ended(msg.ID)
	return nil
}

// reportControlError tells the client why a request was refused. Pipeline
// failures already reached it as notices, so only refusals are sent.
func (im *InputStreamManager) reportControlError(session *Session, action string, err error) {
	var code string
	switch {
	case errors.Is(err, turn.ErrBusy):
		code = "BUSY"
	case errors.Is(err, turn.ErrNotRecording):
		code = "NOT_RECORDING"
	case errors.Is(err, turn.ErrFinished):
		code = "FINISHED"
	case errors.Is(err, turn.ErrEmptyText):
		code = "EMPTY_TEXT"
	case errors.Is(err, turn.ErrTurnAborted), errors.Is(err, context.Canceled):
		return
	default:
		im.logger.Debugf("%s failed for session %s: %v", action, session.SessionID, err)
		return
	}
	_ = session.SendError(code, fmt.Sprintf("%s rejected: %v", action, err))
}
