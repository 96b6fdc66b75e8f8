package turn

import (
	"errors"

	"github.com/xpanvictor/migoto-coach/internal/domains/dialogue"
	"github.com/xpanvictor/migoto-coach/pkg/io/capture"
	"github.com/xpanvictor/migoto-coach/pkg/io/playback"
)

var (
	ErrBusy         = errors.New("turn: a turn is already in progress")
	ErrNotRecording = errors.New("turn: not recording")
	ErrFinished     = errors.New("turn: conversation is finished")
	ErrTurnAborted  = errors.New("turn: turn was aborted")
	ErrEmptyText    = errors.New("turn: empty text")
)

// Notice codes surfaced to the learner.
const (
	NoticeDeviceUnavailable   = "device_unavailable"
	NoticeEmptyTranscript     = "empty_transcript"
	NoticeTranscriptionFailed = "transcription_failed"
	NoticeSessionCreateFailed = "session_create_failed"
	NoticeStreamFailed        = "stream_failed"
	NoticeStreamTimeout       = "stream_timeout"
	NoticePlaybackDecode      = "playback_decode"
	NoticePlaybackUnavailable = "playback_unavailable"
	NoticeCompletionFailed    = "completion_failed"
	NoticeReportFailed        = "report_failed"
	NoticeUnexpected          = "unexpected"
)

// Notice is a transient, recoverable problem the learner should see.
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

var noticeMessages = map[string]string{
	NoticeDeviceUnavailable:   "Microphone is not available.",
	NoticeEmptyTranscript:     "We didn't catch that. Please try again.",
	NoticeTranscriptionFailed: "Speech could not be transcribed. Please try again.",
	NoticeSessionCreateFailed: "The conversation could not be started. Please try again.",
	NoticeStreamFailed:        "The avatar did not answer. Please try again.",
	NoticeStreamTimeout:       "The avatar took too long to answer. Please try again.",
	NoticePlaybackDecode:      "The reply audio could not be played.",
	NoticePlaybackUnavailable: "This device cannot play the reply audio.",
	NoticeCompletionFailed:    "The attempt could not be marked complete.",
	NoticeReportFailed:        "The report is not available yet.",
	NoticeUnexpected:          "Something went wrong. Please try again.",
}

func newNotice(code string, err error) Notice {
	return Notice{Code: code, Message: noticeMessages[code], Err: err}
}

// classify maps a pipeline failure onto its notice.
func classify(err error) Notice {
	switch {
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return newNotice(NoticeDeviceUnavailable, err)
	case errors.Is(err, capture.ErrEmptyTranscript):
		return newNotice(NoticeEmptyTranscript, err)
	case errors.Is(err, capture.ErrTranscription):
		return newNotice(NoticeTranscriptionFailed, err)
	case errors.Is(err, dialogue.ErrSessionCreate):
		return newNotice(NoticeSessionCreateFailed, err)
	case errors.Is(err, dialogue.ErrStreamTimeout):
		return newNotice(NoticeStreamTimeout, err)
	case errors.Is(err, dialogue.ErrStream):
		return newNotice(NoticeStreamFailed, err)
	case errors.Is(err, playback.ErrPlaybackDecode):
		return newNotice(NoticePlaybackDecode, err)
	case errors.Is(err, playback.ErrSinkUnavailable):
		return newNotice(NoticePlaybackUnavailable, err)
	}
	return newNotice(NoticeUnexpected, err)
}
