package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/xpanvictor/migoto-coach/internal/domains/conversation/turn"
	"github.com/xpanvictor/migoto-coach/internal/types"
	"github.com/xpanvictor/migoto-coach/pkg/Logger"
	"github.com/xpanvictor/migoto-coach/pkg/io/capture"
	"github.com/xpanvictor/migoto-coach/pkg/io/playback"
)

const closeTimeout = 10 * time.Second

// conversation is the pipeline attached to one connection: the turn
// controller plus the recorder the connection feeds and the player that
// drives the connection as its audio sink.
type conversation struct {
	controller *turn.Controller
	recorder   *capture.FrameRecorder
	player     *playback.Player
	sampleRate int32

	session *Session
	logger  *Logger.Logger

	// in-flight StopRecording / SubmitText / Finish calls
	work sync.WaitGroup
}

// run executes a blocking controller call off the read loop.
func (c *conversation) run(fn func()) {
	c.work.Add(1)
	go func() {
		defer c.work.Done()
		fn()
	}()
}

// close releases the pipeline and waits for in-flight calls to unwind.
func (c *conversation) close() turn.Outcome {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	out := c.controller.Close(ctx)
	c.work.Wait()
	return out
}

// StateChanged implements turn.Observer.
func (c *conversation) StateChanged(from, to turn.State) {
	c.send(MessageTypeState, StateMessage{From: string(from), To: string(to)})
}

// TurnAdded implements turn.Observer.
func (c *conversation) TurnAdded(index int, t types.ConversationTurn) {
	c.send(MessageTypeTurn, TurnMessage{Index: index, Turn: t})
}

// TurnUpdated implements turn.Observer.
func (c *conversation) TurnUpdated(index int, t types.ConversationTurn) {
	c.send(MessageTypeTurn, TurnMessage{Index: index, Updated: true, Turn: t})
}

// Notice implements turn.Observer.
func (c *conversation) Notice(n turn.Notice) {
	if n.Err != nil {
		c.logger.Warnf("notice %s: %v", n.Code, n.Err)
	}
	c.send(MessageTypeNotice, NoticeMessage{Code: n.Code, Message: n.Message})
}

// Finished implements turn.Observer.
func (c *conversation) Finished(o turn.Outcome) {
	c.send(MessageTypeFinished, FinishedMessage{
		Reason:    o.Reason,
		SessionID: o.SessionID,
		History:   o.History,
		Timing:    o.Timing,
		Report:    o.Report,
	})
}

func (c *conversation) send(msgType MessageType, data interface{}) {
	if err := c.session.SendWebSocketMessage(msgType, data); err != nil && err != errSessionClosed {
		c.logger.Errorf("failed to send %s: %v", msgType, err)
	}
}
