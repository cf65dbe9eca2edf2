package live

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned by Sender and Receiver after the stream is closed.
var ErrStreamClosed = errors.New("live stream closed")

// Sender is the client-to-upstream half of a stream.
type Sender interface {
	SendAudio(data []byte, mimeType string) error
	SendImage(data []byte, mimeType string) error
}

// Receiver is the upstream-to-client half of a stream. Receive blocks until
// the next event is available. It returns io.EOF when the upstream ends the
// stream normally.
type Receiver interface {
	Receive() (Event, error)
}

// Stream is one upstream conversation. Close unblocks pending Receive calls
// and is safe to call more than once and concurrently with either half.
type Stream interface {
	Sender() Sender
	Receiver() Receiver
	Close() error
}

// Dialer opens upstream streams configured by a fixed SessionPolicy.
type Dialer interface {
	Dial(ctx context.Context, policy SessionPolicy) (Stream, error)
}
