package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/nativeflow/pkg/core/audio"
	"github.com/vango-go/nativeflow/pkg/core/live"
)

type sentMedia struct {
	kind     string
	data     []byte
	mimeType string
}

type fakeStream struct {
	events    chan live.Event
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	sent    []sentMedia
	sendErr error
}

func newFakeStream(events ...live.Event) *fakeStream {
	f := &fakeStream{
		events: make(chan live.Event, len(events)+16),
		closed: make(chan struct{}),
	}
	for _, ev := range events {
		f.events <- ev
	}
	return f
}

func (f *fakeStream) Sender() live.Sender     { return f }
func (f *fakeStream) Receiver() live.Receiver { return f }

func (f *fakeStream) SendAudio(data []byte, mimeType string) error {
	return f.record("audio", data, mimeType)
}

func (f *fakeStream) SendImage(data []byte, mimeType string) error {
	return f.record("image", data, mimeType)
}

func (f *fakeStream) record(kind string, data []byte, mimeType string) error {
	select {
	case <-f.closed:
		return live.ErrStreamClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMedia{kind: kind, data: append([]byte(nil), data...), mimeType: mimeType})
	return nil
}

func (f *fakeStream) Receive() (live.Event, error) {
	select {
	case <-f.closed:
		return nil, live.ErrStreamClosed
	default:
	}
	select {
	case ev, ok := <-f.events:
		if !ok {
			return nil, io.EOF
		}
		return ev, nil
	case <-f.closed:
		return nil, live.ErrStreamClosed
	}
}

func (f *fakeStream) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeStream) sentSnapshot() []sentMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMedia(nil), f.sent...)
}

type fakeDialer struct {
	stream *fakeStream
	err    error

	mu       sync.Mutex
	policies []live.SessionPolicy
}

func (d *fakeDialer) Dial(_ context.Context, policy live.SessionPolicy) (live.Stream, error) {
	d.mu.Lock()
	d.policies = append(d.policies, policy)
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

func (d *fakeDialer) dialed() []live.SessionPolicy {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]live.SessionPolicy(nil), d.policies...)
}

// stubEncoder stands in for ffmpeg. It records the WAV it was given.
type stubEncoder struct {
	out []byte
	err error

	mu   sync.Mutex
	wavs [][]byte
}

func (e *stubEncoder) Encode(_ context.Context, wav []byte) ([]byte, error) {
	e.mu.Lock()
	e.wavs = append(e.wavs, append([]byte(nil), wav...))
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return e.out, nil
}

func (e *stubEncoder) Format() string   { return audio.FormatMP3 }
func (e *stubEncoder) MIMEType() string { return audio.MIMETypeMP3 }

func (e *stubEncoder) inputs() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.wavs...)
}

func fakeMP3(n int) []byte {
	out := make([]byte, n)
	out[0], out[1], out[2] = 'I', 'D', '3'
	return out
}

func pcm(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i % 251)
	}
	return out
}

// startSession serves one session over a real websocket and returns the
// client side plus a channel carrying Run's result.
func startSession(t *testing.T, deps Dependencies) (*websocket.Conn, <-chan error) {
	t.Helper()
	return startSessionWithHook(t, deps, nil)
}

// startSessionWithHook is startSession with a callback that sees the session
// before Run is called.
func startSessionWithHook(t *testing.T, deps Dependencies, hook func(*Session)) (*websocket.Conn, <-chan error) {
	t.Helper()

	errCh := make(chan error, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errCh <- err
			return
		}
		d := deps
		d.Conn = conn
		s, err := New(d)
		if err != nil {
			_ = conn.Close()
			errCh <- err
			return
		}
		if hook != nil {
			hook(s)
		}
		errCh <- s.Run()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, errCh
}

func writeJSON(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	if err := c.WriteJSON(v); err != nil {
		t.Fatalf("client write: %v", err)
	}
}

func audioInput(mimeType string, data []byte) map[string]any {
	return map[string]any{
		"realtime_input": map[string]any{
			"media_chunks": []map[string]any{
				{"mime_type": mimeType, "data": base64.StdEncoding.EncodeToString(data)},
			},
		},
	}
}

// readUntilTurnComplete collects client frames up to and including the
// first turn_complete.
func readUntilTurnComplete(t *testing.T, c *websocket.Conn) []map[string]any {
	t.Helper()
	var frames []map[string]any
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("client read after %d frames: %v", len(frames), err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("frame %q is not json: %v", data, err)
		}
		frames = append(frames, m)
		if _, ok := m["turn_complete"]; ok {
			return frames
		}
	}
}

func frameKinds(frames []map[string]any) []string {
	kinds := make([]string, 0, len(frames))
	for _, f := range frames {
		switch {
		case f["audio_start"] != nil:
			kinds = append(kinds, "audio_start")
		case f["audio"] != nil:
			kinds = append(kinds, "audio")
		case f["text"] != nil:
			kinds = append(kinds, "text")
		case f["turn_complete"] != nil:
			kinds = append(kinds, "turn_complete")
		default:
			kinds = append(kinds, "other")
		}
	}
	return kinds
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitRun(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not end")
		return errors.New("unreachable")
	}
}
