package turn

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xpanvictor/migoto-coach/internal/domains/dialogue"
	"github.com/xpanvictor/migoto-coach/internal/types"
	"github.com/xpanvictor/migoto-coach/pkg/Logger"
	"github.com/xpanvictor/migoto-coach/pkg/io/capture"
	"github.com/xpanvictor/migoto-coach/pkg/io/playback"
)

var speech = base64.StdEncoding.EncodeToString([]byte("RIFF\x24\x00\x00\x00WAVEfmt "))

type fakeCapture struct {
	mu       sync.Mutex
	starts   int
	aborts   int
	startErr error
	text     string
	stopErr  error
}

func (f *fakeCapture) StartRecording(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	return nil
}

func (f *fakeCapture) StopRecording(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text, f.stopErr
}

func (f *fakeCapture) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
}

type fakeDialogue struct {
	mu        sync.Mutex
	replies   []*dialogue.BotResponse
	err       error
	block     chan struct{}
	sent      []string
	id        string
	creates   int
	completes int
	resets    int
	closes    int
	report    json.RawMessage
}

func (f *fakeDialogue) SendTurn(ctx context.Context, text string) (*dialogue.BotResponse, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.id == "" {
		f.creates++
		f.id = "sess-1"
	}
	f.sent = append(f.sent, text)
	resp := f.replies[0]
	f.replies = f.replies[1:]
	return resp, nil
}

func (f *fakeDialogue) Complete(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes++
	return nil
}

func (f *fakeDialogue) Report(ctx context.Context) (json.RawMessage, error) {
	return f.report, nil
}

func (f *fakeDialogue) ID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}

func (f *fakeDialogue) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.id = ""
}

func (f *fakeDialogue) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

type sink struct {
	mu      sync.Mutex
	played  []string
	stopped []string
}

func (s *sink) Play(id string, clip playback.Clip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = append(s.played, id)
	return nil
}

func (s *sink) Stop(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, id)
	return nil
}

func (s *sink) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.played) == 0 {
		return ""
	}
	return s.played[len(s.played)-1]
}

type observer struct {
	mu       sync.Mutex
	states   []State
	added    []types.ConversationTurn
	updated  []int
	notices  []Notice
	finished chan Outcome
}

func newObserver() *observer {
	return &observer{finished: make(chan Outcome, 1)}
}

func (o *observer) StateChanged(from, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, to)
}

func (o *observer) TurnAdded(i int, t types.ConversationTurn) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.added = append(o.added, t)
}

func (o *observer) TurnUpdated(i int, t types.ConversationTurn) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updated = append(o.updated, i)
}

func (o *observer) Notice(n Notice) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notices = append(o.notices, n)
}

func (o *observer) Finished(out Outcome) { o.finished <- out }

func (o *observer) codes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var codes []string
	for _, n := range o.notices {
		codes = append(codes, n.Code)
	}
	return codes
}

type archive struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (a *archive) Archive(ctx context.Context, o Outcome) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = append(a.outcomes, o)
	return nil
}

type harness struct {
	c        *Controller
	capture  *fakeCapture
	dialogue *fakeDialogue
	player   *playback.Player
	sink     *sink
	obs      *observer
	archive  *archive
}

func newHarness(mode types.Mode, replies ...*dialogue.BotResponse) *harness {
	h := &harness{
		capture:  &fakeCapture{text: "hello"},
		dialogue: &fakeDialogue{replies: replies},
		sink:     &sink{},
		obs:      newObserver(),
		archive:  &archive{},
	}
	h.player = playback.NewPlayer(h.sink, playback.Decoder{}, Logger.Nop())
	h.c = NewController(Config{
		Session:  types.SessionContext{LearnerID: "learner-1", Mode: mode, AvatarInteractionID: "ai-1", ScenarioID: "scn-1"},
		Capture:  h.capture,
		Dialogue: h.dialogue,
		Player:   h.player,
		Observer: h.obs,
		Archiver: h.archive,
		Logger:   Logger.Nop(),
	})
	return h
}

func (h *harness) speak(t *testing.T) {
	t.Helper()
	require.NoError(t, h.c.StartRecording(context.Background()))
	require.NoError(t, h.c.StopRecording(context.Background()))
}

func TestSpokenReplyPlaysThenReturnsToIdle(t *testing.T) {
	h := newHarness(types.ModeTry, &dialogue.BotResponse{ResponseText: "Hi there", Correct: true, SynthesizedAudio: speech})

	h.speak(t)
	assert.Equal(t, StateSpeaking, h.c.State())
	require.Len(t, h.sink.played, 1)

	hist := h.c.History()
	require.Len(t, hist, 2)
	assert.Equal(t, types.RoleUser, hist[0].Role)
	assert.Equal(t, "hello", hist[0].Text)
	assert.True(t, hist[0].IsFinal)
	assert.Equal(t, "Hi there", hist[1].Text)
	assert.False(t, hist[1].IsFinal)

	require.True(t, h.player.Ended(h.sink.last()))
	assert.Equal(t, StateIdle, h.c.State())
	assert.Equal(t, []State{StateRecording, StateTranscribing, StateAwaitingModel, StateSpeaking, StateIdle}, h.obs.states)

	m := h.c.Metrics()
	assert.Len(t, m.TurnStartTimes, 1)
	assert.Len(t, m.PerTurnIntervals, 1)
	assert.False(t, m.SessionStart.IsZero())
}

func TestLearnModeIsSilent(t *testing.T) {
	h := newHarness(types.ModeLearn, &dialogue.BotResponse{ResponseText: "Read along", Correct: true, SynthesizedAudio: speech})

	require.NoError(t, h.c.SubmitText(context.Background(), "hello"))
	assert.Equal(t, StateIdle, h.c.State())
	assert.Empty(t, h.sink.played)
	assert.Len(t, h.c.History(), 2)
}

func TestSpokenReplyWithoutAudioGoesIdle(t *testing.T) {
	h := newHarness(types.ModeAssess, &dialogue.BotResponse{ResponseText: "No voice", Correct: true})

	require.NoError(t, h.c.SubmitText(context.Background(), "hello"))
	assert.Equal(t, StateIdle, h.c.State())
	assert.Empty(t, h.sink.played)
}

func TestUndecodableAudioCompletesImmediately(t *testing.T) {
	h := newHarness(types.ModeTry, &dialogue.BotResponse{ResponseText: "Broken", Correct: true, SynthesizedAudio: "%%% not audio"})

	require.NoError(t, h.c.SubmitText(context.Background(), "hello"))
	assert.Equal(t, StateIdle, h.c.State())
	assert.Equal(t, []string{NoticePlaybackDecode}, h.obs.codes())
	assert.Len(t, h.c.History(), 2)
}

func TestStartRecordingRejectsReentry(t *testing.T) {
	h := newHarness(types.ModeTry)

	var wg sync.WaitGroup
	var accepted, busy atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := h.c.StartRecording(context.Background())
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrBusy):
				busy.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(7), busy.Load())
	assert.Equal(t, 1, h.capture.starts)
	assert.Equal(t, StateRecording, h.c.State())
}

func TestSkipWhileIdleIsNoop(t *testing.T) {
	h := newHarness(types.ModeTry)

	assert.False(t, h.c.Skip())
	assert.Equal(t, StateIdle, h.c.State())
	assert.Empty(t, h.obs.states)
	assert.Empty(t, h.obs.notices)
	assert.Empty(t, h.sink.stopped)
}

func TestSkipWhileSpeaking(t *testing.T) {
	h := newHarness(types.ModeTry, &dialogue.BotResponse{ResponseText: "Long story", Correct: true, SynthesizedAudio: speech})
	require.NoError(t, h.c.SubmitText(context.Background(), "hello"))
	require.Equal(t, StateSpeaking, h.c.State())

	assert.True(t, h.c.Skip())
	assert.Equal(t, StateIdle, h.c.State())
	assert.Equal(t, h.sink.played, h.sink.stopped)
}

func TestSkipWhileReplyAudioLoads(t *testing.T) {
	requested := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(requested)
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write([]byte("RIFF\x24\x00\x00\x00WAVEfmt "))
	}))
	defer srv.Close()
	defer close(release)

	h := newHarness(types.ModeTry, &dialogue.BotResponse{ResponseText: "Listen", Correct: true, SynthesizedAudio: srv.URL + "/reply.wav"})
	done := make(chan error, 1)
	go func() { done <- h.c.SubmitText(context.Background(), "hello") }()

	select {
	case <-requested:
	case <-time.After(time.Second):
		t.Fatal("reply audio was never requested")
	}
	require.Equal(t, StateSpeaking, h.c.State())
	assert.True(t, h.c.Skip())

	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, h.c.State())
	assert.Empty(t, h.sink.played)
	assert.Empty(t, h.obs.codes())
	assert.Len(t, h.c.History(), 2)
}

func TestEmptyTranscriptLeavesHistoryUnchanged(t *testing.T) {
	h := newHarness(types.ModeTry)
	h.capture.stopErr = capture.ErrEmptyTranscript

	require.NoError(t, h.c.StartRecording(context.Background()))
	err := h.c.StopRecording(context.Background())
	assert.ErrorIs(t, err, capture.ErrEmptyTranscript)

	assert.Equal(t, StateIdle, h.c.State())
	assert.Empty(t, h.c.History())
	assert.Equal(t, []string{NoticeEmptyTranscript}, h.obs.codes())
	assert.Empty(t, h.dialogue.sent)
}

func TestDeviceUnavailable(t *testing.T) {
	h := newHarness(types.ModeTry)
	h.capture.startErr = capture.ErrDeviceUnavailable

	err := h.c.StartRecording(context.Background())
	assert.ErrorIs(t, err, capture.ErrDeviceUnavailable)
	assert.Equal(t, StateIdle, h.c.State())
	assert.Equal(t, []string{NoticeDeviceUnavailable}, h.obs.codes())
}

func TestDialogueFailureRecovers(t *testing.T) {
	h := newHarness(types.ModeTry, &dialogue.BotResponse{ResponseText: "second try", Correct: true})
	h.dialogue.err = dialogue.ErrStreamTimeout

	err := h.c.SubmitText(context.Background(), "hello")
	assert.ErrorIs(t, err, dialogue.ErrStreamTimeout)
	assert.Equal(t, StateIdle, h.c.State())
	assert.Empty(t, h.c.History())
	assert.Equal(t, []string{NoticeStreamTimeout}, h.obs.codes())

	h.dialogue.err = nil
	require.NoError(t, h.c.SubmitText(context.Background(), "hello"))
	assert.Len(t, h.c.History(), 2)
}

func TestTryModeInsertsCoachingTurn(t *testing.T) {
	h := newHarness(types.ModeTry, &dialogue.BotResponse{
		ResponseText:  "Let's try that again.",
		Correct:       false,
		CorrectAnswer: "Say: thank you for waiting.",
	})

	require.NoError(t, h.c.SubmitText(context.Background(), "whatever"))
	hist := h.c.History()
	require.Len(t, hist, 3)

	assert.Equal(t, types.RoleUser, hist[0].Role)
	assert.True(t, hist[0].IsIncorrect())
	assert.True(t, hist[1].Coaching)
	assert.Equal(t, "Say: thank you for waiting.", hist[1].Text)
	assert.False(t, hist[2].Coaching)
	assert.True(t, hist[2].IsIncorrect())
	assert.Len(t, h.obs.added, 3)
}

func TestTryModeCoachesWithoutCorrectAnswer(t *testing.T) {
	h := newHarness(types.ModeTry, &dialogue.BotResponse{ResponseText: "Hmm, not quite.", Correct: false})

	require.NoError(t, h.c.SubmitText(context.Background(), "wrong"))
	hist := h.c.History()
	require.Len(t, hist, 3)

	assert.True(t, hist[0].IsIncorrect())
	assert.True(t, hist[1].Coaching)
	assert.Equal(t, coachingPrompt, hist[1].Text)
	assert.Equal(t, "Hmm, not quite.", hist[2].Text)
}

func TestAssessModeDoesNotCoach(t *testing.T) {
	h := newHarness(types.ModeAssess, &dialogue.BotResponse{
		ResponseText:  "Next question.",
		Correct:       false,
		CorrectAnswer: "ignored",
	})

	require.NoError(t, h.c.SubmitText(context.Background(), "wrong"))
	hist := h.c.History()
	require.Len(t, hist, 2)
	assert.True(t, hist[0].IsIncorrect())
}

func TestCompletePayloadFinishes(t *testing.T) {
	h := newHarness(types.ModeAssess,
		&dialogue.BotResponse{ResponseText: "Question two?", Correct: true},
		&dialogue.BotResponse{ResponseText: "All done.", Correct: true, Complete: true, SynthesizedAudio: speech},
	)
	h.dialogue.report = json.RawMessage(`{"score":87}`)

	require.NoError(t, h.c.SubmitText(context.Background(), "hello"))
	require.NoError(t, h.c.SubmitText(context.Background(), "goodbye"))

	assert.Equal(t, StateFinished, h.c.State())
	assert.Empty(t, h.sink.played, "the closing reply is not played")
	assert.Equal(t, 1, h.dialogue.completes)

	out := <-h.obs.finished
	assert.Equal(t, ReasonComplete, out.Reason)
	assert.Equal(t, "sess-1", out.SessionID)
	assert.JSONEq(t, `{"score":87}`, string(out.Report))
	require.Len(t, out.History, 4)
	assert.True(t, out.History[3].IsFinal)

	require.Len(t, h.archive.outcomes, 1)
	assert.ErrorIs(t, h.c.SubmitText(context.Background(), "more"), ErrFinished)
	assert.ErrorIs(t, h.c.StartRecording(context.Background()), ErrFinished)
}

func TestFinishStopsActivePlayback(t *testing.T) {
	h := newHarness(types.ModeTry, &dialogue.BotResponse{ResponseText: "Talking", Correct: true, SynthesizedAudio: speech})
	require.NoError(t, h.c.SubmitText(context.Background(), "hello"))
	require.Equal(t, StateSpeaking, h.c.State())

	require.NoError(t, h.c.Finish(context.Background()))
	assert.Equal(t, StateFinished, h.c.State())
	assert.Equal(t, h.sink.played, h.sink.stopped)
	assert.Equal(t, 1, h.dialogue.completes)
	assert.Equal(t, ReasonFinished, (<-h.obs.finished).Reason)

	// a late completion report for the stopped clip changes nothing
	assert.False(t, h.player.Ended(h.sink.last()))
	assert.Equal(t, StateFinished, h.c.State())
	assert.ErrorIs(t, h.c.Finish(context.Background()), ErrFinished)
}

func TestResultAfterFinishIsDiscarded(t *testing.T) {
	h := newHarness(types.ModeTry, &dialogue.BotResponse{ResponseText: "late", Correct: true})
	h.dialogue.block = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.c.SubmitText(context.Background(), "hello") }()
	require.Eventually(t, func() bool { return h.c.State() == StateAwaitingModel }, time.Second, time.Millisecond)

	require.NoError(t, h.c.Finish(context.Background()))
	assert.ErrorIs(t, <-done, ErrTurnAborted)
	assert.Empty(t, h.c.History())
	assert.Equal(t, StateFinished, h.c.State())
	assert.GreaterOrEqual(t, h.dialogue.closes, 1)
}

func TestRestartStartsOver(t *testing.T) {
	h := newHarness(types.ModeTry,
		&dialogue.BotResponse{ResponseText: "one", Correct: true},
		&dialogue.BotResponse{ResponseText: "two", Correct: true},
	)
	require.NoError(t, h.c.SubmitText(context.Background(), "hello"))
	require.Len(t, h.c.History(), 2)

	require.NoError(t, h.c.Restart())
	assert.Equal(t, StateIdle, h.c.State())
	assert.Empty(t, h.c.History())
	assert.Empty(t, h.c.SessionID())
	assert.Empty(t, h.c.Metrics().TurnStartTimes)
	assert.Equal(t, 1, h.dialogue.resets)

	require.NoError(t, h.c.SubmitText(context.Background(), "hello again"))
	assert.Len(t, h.c.History(), 2)
}

func TestCloseArchivesUnfinishedAttempt(t *testing.T) {
	h := newHarness(types.ModeTry, &dialogue.BotResponse{ResponseText: "Hi", Correct: true, SynthesizedAudio: speech})
	h.speak(t)
	require.Equal(t, StateSpeaking, h.c.State())

	out := h.c.Close(context.Background())
	assert.Equal(t, ReasonClosed, out.Reason)
	assert.Equal(t, "sess-1", out.SessionID)
	assert.Equal(t, h.sink.played, h.sink.stopped)
	assert.GreaterOrEqual(t, h.capture.aborts, 1)
	assert.Zero(t, h.dialogue.completes)
	require.Len(t, h.archive.outcomes, 1)

	assert.ErrorIs(t, h.c.StartRecording(context.Background()), ErrFinished)
	assert.Equal(t, Outcome{}, h.c.Close(context.Background()))
}

func TestHistoryGrowsOnlyOnCompletedTurns(t *testing.T) {
	h := newHarness(types.ModeLearn,
		&dialogue.BotResponse{ResponseText: "a", Correct: true},
		&dialogue.BotResponse{ResponseText: "b", Correct: true},
	)
	lengths := []int{len(h.c.History())}

	require.NoError(t, h.c.SubmitText(context.Background(), "one"))
	lengths = append(lengths, len(h.c.History()))

	h.capture.stopErr = capture.ErrEmptyTranscript
	require.NoError(t, h.c.StartRecording(context.Background()))
	require.Error(t, h.c.StopRecording(context.Background()))
	lengths = append(lengths, len(h.c.History()))

	require.NoError(t, h.c.SubmitText(context.Background(), "two"))
	lengths = append(lengths, len(h.c.History()))

	assert.Equal(t, []int{0, 2, 2, 4}, lengths)
}

func TestSubmitRejectsBlankText(t *testing.T) {
	h := newHarness(types.ModeTry)
	assert.ErrorIs(t, h.c.SubmitText(context.Background(), "  "), ErrEmptyText)
	assert.Equal(t, StateIdle, h.c.State())
}
