package turn

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/xpanvictor/migoto-coach/internal/domains/conversation/metrics"
	"github.com/xpanvictor/migoto-coach/internal/domains/dialogue"
	"github.com/xpanvictor/migoto-coach/internal/types"
	"github.com/xpanvictor/migoto-coach/pkg/Logger"
	"github.com/xpanvictor/migoto-coach/pkg/io/playback"
)

const defaultConcludeTimeout = 15 * time.Second

// coachingPrompt stands in for the correct answer when the model judged the
// learner wrong without supplying one.
const coachingPrompt = "That wasn't quite right. Listen to the reply and try again."

// Capture records one utterance and turns it into text.
type Capture interface {
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (string, error)
	Abort()
}

// Dialogue exchanges learner text with the remote model.
type Dialogue interface {
	SendTurn(ctx context.Context, text string) (*dialogue.BotResponse, error)
	Complete(ctx context.Context) error
	Report(ctx context.Context) (json.RawMessage, error)
	ID() string
	Reset()
	Close()
}

// Player commands the conversation's single audio sink.
type Player interface {
	Play(ctx context.Context, payload string, cb playback.Callbacks) (string, error)
	Skip() bool
	Stop()
}

// Observer receives everything the learner should see. Calls may be made
// with the controller lock held, so implementations must not call back into
// the controller.
type Observer interface {
	StateChanged(from, to State)
	TurnAdded(index int, turn types.ConversationTurn)
	TurnUpdated(index int, turn types.ConversationTurn)
	Notice(n Notice)
	Finished(o Outcome)
}

// Archiver persists a concluded attempt.
type Archiver interface {
	Archive(ctx context.Context, o Outcome) error
}

// Outcome summarizes a concluded attempt.
type Outcome struct {
	LearnerID  string                   `json:"learnerId"`
	Mode       types.Mode               `json:"mode"`
	ScenarioID string                   `json:"scenarioId"`
	SessionID  string                   `json:"sessionId"`
	Reason     string                   `json:"reason"`
	History    []types.ConversationTurn `json:"history"`
	Timing     metrics.TimingMetrics    `json:"timing"`
	Duration   time.Duration            `json:"duration"`
	Report     json.RawMessage          `json:"report,omitempty"`
	EndedAt    time.Time                `json:"endedAt"`
}

// Conclusion reasons.
const (
	ReasonComplete = "complete"
	ReasonFinished = "finished"
	ReasonClosed   = "closed"
)

type Config struct {
	Session  types.SessionContext
	Capture  Capture
	Dialogue Dialogue
	Player   Player
	Observer Observer
	Archiver Archiver
	Recorder metrics.Recorder
	Logger   *Logger.Logger

	// ConcludeTimeout bounds the completion, report and archive calls.
	ConcludeTimeout time.Duration
	Now             func() time.Time
}

// Controller runs one conversation: record, transcribe, exchange, speak,
// back to idle. All transitions happen under mu.
type Controller struct {
	sc       types.SessionContext
	capture  Capture
	dialogue Dialogue
	player   Player
	observer Observer
	archiver Archiver
	recorder metrics.Recorder
	logger   *Logger.Logger
	timeout  time.Duration
	now      func() time.Time

	mu        sync.Mutex
	machine   *fsm.FSM
	history   []types.ConversationTurn
	timing    *metrics.Accumulator
	epoch     uint64
	cancel    context.CancelFunc
	concluded bool
	closed    bool

	// loading cancels the reply clip while it is decoded or fetched; a skip
	// in that window is remembered in skipped.
	loading context.CancelFunc
	skipped bool
}

func NewController(cfg Config) *Controller {
	c := &Controller{
		sc:       cfg.Session,
		capture:  cfg.Capture,
		dialogue: cfg.Dialogue,
		player:   cfg.Player,
		observer: cfg.Observer,
		archiver: cfg.Archiver,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
		timeout:  cfg.ConcludeTimeout,
		now:      cfg.Now,
		timing:   metrics.NewAccumulator(),
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	if c.recorder == nil {
		c.recorder = metrics.NopRecorder{}
	}
	if c.logger == nil {
		c.logger = Logger.Nop()
	}
	c.logger = c.logger.Named("turn").With("mode", string(c.sc.Mode))
	if c.timeout <= 0 {
		c.timeout = defaultConcludeTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}

	c.machine = fsm.NewFSM(
		string(StateIdle),
		transitions,
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.logger.Debugf("%s: %s -> %s", e.Event, e.Src, e.Dst)
			},
		},
	)
	c.recorder.ConversationOpened()
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State(c.machine.Current())
}

// History returns a copy of the committed turns.
func (c *Controller) History() []types.ConversationTurn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.ConversationTurn(nil), c.history...)
}

func (c *Controller) Metrics() metrics.TimingMetrics {
	return c.timing.Snapshot()
}

func (c *Controller) SessionID() string {
	return c.dialogue.ID()
}

func (c *Controller) Session() types.SessionContext {
	return c.sc
}

// StartRecording acquires the capture. Outside idle it fails with ErrBusy
// and acquires nothing.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.readyLocked(); err != nil {
		return err
	}
	if err := c.capture.StartRecording(ctx); err != nil {
		c.observer.Notice(classify(err))
		return err
	}
	c.timing.MarkSessionStart(c.now())
	c.fire(evRecord)
	return nil
}

// StopRecording transcribes the utterance and runs the exchange. It returns
// once the reply is committed; playback continues asynchronously.
func (c *Controller) StopRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.current() == StateFinished {
		c.mu.Unlock()
		return ErrFinished
	}
	if c.current() != StateRecording {
		c.mu.Unlock()
		return ErrNotRecording
	}
	c.fire(evStop)
	epoch, workCtx := c.beginWorkLocked(ctx)
	c.mu.Unlock()
	defer c.endWork(epoch)

	text, err := c.capture.StopRecording(workCtx)

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return ErrTurnAborted
	}
	if err != nil {
		c.fire(evCaptureFailed)
		c.observer.Notice(classify(err))
		c.mu.Unlock()
		return err
	}
	c.fire(evTranscribed)
	c.mu.Unlock()

	return c.exchange(workCtx, epoch, text)
}

// SubmitText sends typed text as the learner's turn.
func (c *Controller) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if err := c.readyLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if text == "" {
		c.mu.Unlock()
		return ErrEmptyText
	}
	c.timing.MarkSessionStart(c.now())
	c.fire(evSubmit)
	epoch, workCtx := c.beginWorkLocked(ctx)
	c.mu.Unlock()
	defer c.endWork(epoch)

	return c.exchange(workCtx, epoch, text)
}

func (c *Controller) exchange(ctx context.Context, epoch uint64, text string) error {
	c.timing.BeginTurn(c.now())
	resp, err := c.dialogue.SendTurn(ctx, text)

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		c.recorder.ObserveTurn(string(c.sc.Mode), 0, metrics.OutcomeAborted)
		return ErrTurnAborted
	}
	if err != nil {
		c.timing.AbandonTurn()
		c.recorder.ObserveTurn(string(c.sc.Mode), 0, metrics.OutcomeFailed)
		c.fire(evDialogueFailed)
		c.observer.Notice(classify(err))
		c.mu.Unlock()
		return err
	}

	latency, _ := c.timing.EndTurn(c.now())
	c.recorder.ObserveTurn(string(c.sc.Mode), latency, metrics.OutcomeReplied)
	c.commitLocked(text, resp)

	if resp.Complete {
		c.abortWorkLocked()
		c.fire(evFinish)
		o := c.outcomeLocked(ReasonComplete)
		c.concluded = true
		c.mu.Unlock()
		c.conclude(ctx, o)
		return nil
	}

	if !c.sc.Mode.Spoken() || resp.SynthesizedAudio == "" {
		c.fire(evReplySilent)
		c.mu.Unlock()
		return nil
	}
	playCtx, cancelPlay := context.WithCancel(ctx)
	defer cancelPlay()
	c.loading = cancelPlay
	c.skipped = false
	c.fire(evReplySpoken)
	c.mu.Unlock()

	c.speak(playCtx, epoch, resp.SynthesizedAudio)
	return nil
}

// speak starts playback outside the lock. A reply that cannot be played is
// treated as already heard.
func (c *Controller) speak(ctx context.Context, epoch uint64, payload string) {
	done := func(string) { c.playbackDone(epoch) }
	_, err := c.player.Play(ctx, payload, playback.Callbacks{OnEnd: done, OnSkip: done})

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		if err == nil {
			c.player.Stop()
		}
		return
	}
	c.loading = nil
	if c.skipped {
		c.skipped = false
		if err == nil {
			c.player.Stop()
		}
		if c.current() == StateSpeaking {
			c.fire(evPlaybackDone)
		}
		return
	}
	if err != nil {
		c.logger.Warnf("reply playback failed: %v", err)
		c.observer.Notice(classify(err))
		if c.current() == StateSpeaking {
			c.fire(evPlaybackDone)
		}
	}
}

func (c *Controller) playbackDone(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch || c.current() != StateSpeaking {
		return
	}
	c.fire(evPlaybackDone)
}

// Skip ends the reply being spoken. Anywhere but speaking it does nothing.
// A skip that arrives while the clip is still loading cancels the load and
// ends the turn once it returns.
func (c *Controller) Skip() bool {
	c.mu.Lock()
	if c.current() != StateSpeaking {
		c.mu.Unlock()
		return false
	}
	if c.loading != nil {
		c.skipped = true
		c.loading()
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()
	return c.player.Skip()
}

// Finish concludes the attempt on the learner's request: the sink is
// stopped, capture released and any open stream closed before the
// completion call is made.
func (c *Controller) Finish(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.current() == StateFinished {
		c.mu.Unlock()
		return ErrFinished
	}
	c.abortWorkLocked()
	c.fire(evFinish)
	o := c.outcomeLocked(ReasonFinished)
	c.concluded = true
	c.mu.Unlock()

	c.conclude(ctx, o)
	return nil
}

// Restart drops the remote session and the history and returns to idle.
// The next turn creates a new session.
func (c *Controller) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrFinished
	}
	c.abortWorkLocked()
	c.dialogue.Reset()
	c.history = nil
	c.timing.Reset()
	c.concluded = false
	c.reset()
	return nil
}

// Close releases everything the conversation holds. An attempt that was
// never concluded is archived with reason "closed".
func (c *Controller) Close(ctx context.Context) Outcome {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Outcome{}
	}
	c.abortWorkLocked()
	o := c.outcomeLocked(ReasonClosed)
	archive := !c.concluded && o.SessionID != ""
	c.closed = true
	c.dialogue.Reset()
	if c.current() != StateFinished {
		c.machine.SetState(string(StateFinished))
	}
	c.mu.Unlock()

	c.recorder.ConversationClosed()
	if archive {
		c.recorder.ObserveSession(string(o.Mode), o.Duration)
		c.archive(ctx, o)
	}
	return o
}

// conclude runs the remote completion, the Assess report and archiving.
// It outlives the caller's cancellation but is bounded by the timeout.
func (c *Controller) conclude(ctx context.Context, o Outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	if o.SessionID != "" {
		if err := c.dialogue.Complete(ctx); err != nil {
			c.logger.Warnf("completion for session %s failed: %v", o.SessionID, err)
			c.observer.Notice(newNotice(NoticeCompletionFailed, err))
		}
		if o.Mode == types.ModeAssess {
			report, err := c.dialogue.Report(ctx)
			if err != nil {
				c.logger.Warnf("report for session %s failed: %v", o.SessionID, err)
				c.observer.Notice(newNotice(NoticeReportFailed, err))
			} else {
				o.Report = report
			}
		}
	}

	c.recorder.ObserveSession(string(o.Mode), o.Duration)
	c.archive(ctx, o)
	c.observer.Finished(o)
}

func (c *Controller) archive(ctx context.Context, o Outcome) {
	if c.archiver == nil || len(o.History) == 0 {
		return
	}
	if err := c.archiver.Archive(ctx, o); err != nil {
		c.logger.Errorf("archiving session %s failed: %v", o.SessionID, err)
	}
}

// commitLocked appends the learner turn and the reply, with a coaching turn
// in between when the mode coaches and the answer was wrong. The coaching
// text is the correct answer when the model gave one.
func (c *Controller) commitLocked(text string, resp *dialogue.BotResponse) {
	at := c.now()
	prev := c.history

	next := AppendUserTurn(prev, types.ConversationTurn{Text: text, At: at})
	if c.sc.Mode.Coaches() && !resp.Correct {
		coaching := resp.CorrectAnswer
		if coaching == "" {
			coaching = coachingPrompt
		}
		next = AppendBotTurn(next, types.ConversationTurn{
			Text:     coaching,
			Coaching: true,
			IsFinal:  false,
			At:       at,
		})
	}
	next = AppendBotTurn(next, types.ConversationTurn{
		Text:    resp.ResponseText,
		Correct: types.BoolPtr(resp.Correct),
		IsFinal: resp.Complete,
		Emotion: resp.EmotionTag,
		At:      at,
	})
	c.history = next

	for i := range prev {
		if !sameCorrect(prev[i].Correct, next[i].Correct) {
			c.observer.TurnUpdated(i, next[i])
		}
	}
	for i := len(prev); i < len(next); i++ {
		c.observer.TurnAdded(i, next[i])
	}
}

func sameCorrect(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (c *Controller) outcomeLocked(reason string) Outcome {
	now := c.now()
	return Outcome{
		LearnerID:  c.sc.LearnerID,
		Mode:       c.sc.Mode,
		ScenarioID: c.sc.ScenarioID,
		SessionID:  c.dialogue.ID(),
		Reason:     reason,
		History:    append([]types.ConversationTurn(nil), c.history...),
		Timing:     c.timing.Snapshot(),
		Duration:   c.timing.SessionDuration(now),
		EndedAt:    now,
	}
}

func (c *Controller) readyLocked() error {
	if c.closed || c.current() == StateFinished {
		return ErrFinished
	}
	if c.current().Busy() {
		return ErrBusy
	}
	return nil
}

func (c *Controller) beginWorkLocked(parent context.Context) (uint64, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	c.epoch++
	c.cancel = cancel
	return c.epoch, ctx
}

func (c *Controller) endWork(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch == c.epoch && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// abortWorkLocked invalidates in-flight work and releases every resource
// the turn may hold.
func (c *Controller) abortWorkLocked() {
	c.epoch++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.loading = nil
	c.skipped = false
	c.player.Stop()
	c.capture.Abort()
	c.dialogue.Close()
	c.timing.AbandonTurn()
}

func (c *Controller) current() State {
	return State(c.machine.Current())
}

func (c *Controller) fire(event string) {
	from := c.current()
	if err := c.machine.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			c.logger.Errorf("event %s rejected in %s: %v", event, from, err)
		}
		return
	}
	c.observer.StateChanged(from, c.current())
}

func (c *Controller) reset() {
	from := c.current()
	c.machine.SetState(string(StateIdle))
	if from != StateIdle {
		c.observer.StateChanged(from, StateIdle)
	}
}

type nopObserver struct{}

func (nopObserver) StateChanged(State, State) {}
func (nopObserver) TurnAdded(int, types.ConversationTurn) {}
func (nopObserver) TurnUpdated(int, types.ConversationTurn) {}
func (nopObserver) Notice(Notice) {}
func (nopObserver) Finished(Outcome) {}
