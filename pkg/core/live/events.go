package live

// Event is one decoded unit of upstream output.
type Event interface {
	// EventType returns a stable name for logs and metrics.
	EventType() string
}

// TextFragment carries model text for the current turn.
type TextFragment struct {
	Text string
}

func (TextFragment) EventType() string { return "text" }

// AudioFragment carries raw 16-bit mono PCM for the current turn.
// MIMEType is the upstream tag, e.g. "audio/pcm;rate=24000".
type AudioFragment struct {
	Data     []byte
	MIMEType string
}

func (AudioFragment) EventType() string { return "audio" }

// TurnComplete marks the end of the current model turn.
type TurnComplete struct{}

func (TurnComplete) EventType() string { return "turn_complete" }

// Unrecognized is any upstream message the relay has no use for.
type Unrecognized struct {
	// Kind is a short description of what was received, for logs.
	Kind string
}

func (Unrecognized) EventType() string { return "unrecognized" }
