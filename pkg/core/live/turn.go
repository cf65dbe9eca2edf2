package live

import "strings"

// Turn accumulates the audio and text of one model turn.
type Turn struct {
	audio      []byte
	text       strings.Builder
	mimeType   string
	fragments  int
	audioStart bool
}

// ClosedTurn is the finalized content of a turn.
type ClosedTurn struct {
	Audio []byte
	Text  string
	// MIMEType is the tag of the first audio fragment, empty if there was no audio.
	MIMEType  string
	Fragments int
}

// OnAudioFragment appends PCM to the turn. It returns true for the first
// audio fragment of the turn and false afterwards.
func (t *Turn) OnAudioFragment(data []byte, mimeType string) (first bool) {
	t.audio = append(t.audio, data...)
	t.fragments++
	if t.audioStart {
		return false
	}
	t.audioStart = true
	t.mimeType = mimeType
	return true
}

// OnTextFragment appends text to the turn.
func (t *Turn) OnTextFragment(text string) {
	t.text.WriteString(text)
}

// Open reports whether any content has been accumulated since the last Close.
func (t *Turn) Open() bool {
	return t.audioStart || t.text.Len() > 0
}

// Len returns the number of buffered audio bytes.
func (t *Turn) Len() int {
	return len(t.audio)
}

// Close returns the accumulated turn and resets to an empty turn.
// The returned audio is not shared with later turns.
func (t *Turn) Close() ClosedTurn {
	out := ClosedTurn{
		Audio:     t.audio,
		Text:      t.text.String(),
		MIMEType:  t.mimeType,
		Fragments: t.fragments,
	}
	t.audio = nil
	t.text.Reset()
	t.mimeType = ""
	t.fragments = 0
	t.audioStart = false
	return out
}
