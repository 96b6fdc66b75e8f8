package turn

import "github.com/looplab/fsm"

type State string

const (
	StateIdle          State = "idle"
	StateRecording     State = "recording"
	StateTranscribing  State = "transcribing"
	StateAwaitingModel State = "awaiting_model"
	StateSpeaking      State = "speaking"
	StateFinished      State = "finished"
)

// Busy reports whether a turn is underway.
func (s State) Busy() bool {
	switch s {
	case StateRecording, StateTranscribing, StateAwaitingModel, StateSpeaking:
		return true
	}
	return false
}

const (
	evRecord         = "record"
	evStop           = "stop"
	evCaptureFailed  = "capture_failed"
	evTranscribed    = "transcribed"
	evSubmit         = "submit"
	evReplySpoken    = "reply_spoken"
	evReplySilent    = "reply_silent"
	evDialogueFailed = "dialogue_failed"
	evPlaybackDone   = "playback_done"
	evFinish         = "finish"
)

var transitions = fsm.Events{
	{Name: evRecord, Src: []string{string(StateIdle)}, Dst: string(StateRecording)},
	{Name: evStop, Src: []string{string(StateRecording)}, Dst: string(StateTranscribing)},
	{Name: evCaptureFailed, Src: []string{string(StateRecording), string(StateTranscribing)}, Dst: string(StateIdle)},
	{Name: evTranscribed, Src: []string{string(StateTranscribing)}, Dst: string(StateAwaitingModel)},
	{Name: evSubmit, Src: []string{string(StateIdle)}, Dst: string(StateAwaitingModel)},
	{Name: evReplySpoken, Src: []string{string(StateAwaitingModel)}, Dst: string(StateSpeaking)},
	{Name: evReplySilent, Src: []string{string(StateAwaitingModel)}, Dst: string(StateIdle)},
	{Name: evDialogueFailed, Src: []string{string(StateAwaitingModel)}, Dst: string(StateIdle)},
	{Name: evPlaybackDone, Src: []string{string(StateSpeaking)}, Dst: string(StateIdle)},
	{Name: evFinish, Src: []string{
		string(StateIdle), string(StateRecording), string(StateTranscribing),
		string(StateAwaitingModel), string(StateSpeaking),
	}, Dst: string(StateFinished)},
}
