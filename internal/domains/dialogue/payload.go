package dialogue

import "encoding/json"

// BotResponse is the decoded assistant reply of one turn.
type BotResponse struct {
	ResponseText     string `json:"response"`
	EmotionTag       string `json:"emotion"`
	Correct          bool   `json:"correct"`
	CorrectAnswer    string `json:"correct_answer,omitempty"`
	Complete         bool   `json:"complete"`
	SynthesizedAudio string `json:"-"`
}

// fragment is one pushed event. Absent fields leave the accumulated
// value untouched.
type fragment struct {
	Response      *string `json:"response"`
	Delta         *string `json:"delta"`
	Emotion       *string `json:"emotion"`
	Correct       *bool   `json:"correct"`
	CorrectAnswer *string `json:"correct_answer"`
	Complete      *bool   `json:"complete"`
	Audio         *string `json:"audio"`
}

type accumulator struct {
	resp      BotResponse
	fragments int
}

func newAccumulator() *accumulator {
	return &accumulator{resp: BotResponse{Correct: true}}
}

func (a *accumulator) merge(data []byte) error {
	var f fragment
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if f.Response != nil {
		a.resp.ResponseText = *f.Response
	}
	if f.Delta != nil {
		a.resp.ResponseText += *f.Delta
	}
	if f.Emotion != nil {
		a.resp.EmotionTag = *f.Emotion
	}
	if f.Correct != nil {
		a.resp.Correct = *f.Correct
	}
	if f.CorrectAnswer != nil {
		a.resp.CorrectAnswer = *f.CorrectAnswer
	}
	if f.Complete != nil {
		a.resp.Complete = *f.Complete
	}
	if f.Audio != nil {
		a.resp.SynthesizedAudio = *f.Audio
	}
	a.fragments++
	return nil
}
