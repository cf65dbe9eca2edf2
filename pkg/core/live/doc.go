// Package live models one real-time conversation with an upstream voice model.
//
// The upstream side is a duplex stream split into two views: a Sender that
// accepts client media and a Receiver that yields upstream Events in arrival
// order. The relay that owns a session hands each view to exactly one
// goroutine, so neither direction can reach into the other.
//
// # Events
//
// Upstream output is decoded once, at the provider boundary, into one of:
//
//	TextFragment   text to show the user as soon as it arrives
//	AudioFragment  raw PCM to be buffered until the turn ends
//	TurnComplete   end of the current model turn
//	Unrecognized   anything else; logged and ignored
//
// # Turns
//
// A Turn collects the audio and text of one model turn. It is owned by a
// single goroutine and is not safe for concurrent use.
package live
