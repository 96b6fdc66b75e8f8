package device

type Transport string

const (
	TransportWS Transport = "ws"
)

// Capabilities are declared by the client when it connects.
type Capabilities struct {
	AudioInput bool `json:"audioInput"` // has a microphone
	AudioSink  bool `json:"audioSink"`  // can play audio
	TextSink   bool `json:"textSink"`
}

// Merge returns def when the client declared no capability at all.
func (c Capabilities) Merge(def Capabilities) Capabilities {
	if !c.AudioInput && !c.AudioSink && !c.TextSink {
		return def
	}
	return c
}
