package server

import (
	"encoding/json"
	"io"
	"log"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeFramer is an in-memory Framer. Frames pushed with deliver are returned
// by ReadFrame; hangUp makes ReadFrame report EOF.
type fakeFramer struct {
	inbound  chan []byte
	hung     chan struct{}
	hangOnce sync.Once

	mu           sync.Mutex
	written      []string
	writeErr     error
	resourceErrs map[string]error
	closeCalls   map[string]int
}

func newFakeFramer() *fakeFramer {
	return &fakeFramer{
		inbound:      make(chan []byte, 16),
		hung:         make(chan struct{}),
		resourceErrs: make(map[string]error),
		closeCalls:   make(map[string]int),
	}
}

func (f *fakeFramer) ReadFrame() ([]byte, error) {
	select {
	case frame := <-f.inbound:
		return frame, nil
	case <-f.hung:
		return nil, io.EOF
	}
}

func (f *fakeFramer) WriteFrame(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writeErr != nil {
		return f.writeErr
	}
	select {
	case <-f.hung:
		return net.ErrClosed
	default:
	}

	var line string
	if err := json.Unmarshal(frame, &line); err != nil {
		return err
	}
	f.written = append(f.written, line)
	return nil
}

func (f *fakeFramer) SetReadDeadline(time.Time) error { return nil }
func (f *fakeFramer) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeFramer) RemoteAddr() string { return "fake:1" }

func (f *fakeFramer) Resources() []Resource {
	resource := func(name string) Resource {
		return Resource{Name: name, Close: func() error {
			f.mu.Lock()
			f.closeCalls[name]++
			err := f.resourceErrs[name]
			f.mu.Unlock()
			if name == "socket" {
				f.hangUp()
			}
			return err
		}}
	}
	return []Resource{resource("input"), resource("output"), resource("socket")}
}

func (f *fakeFramer) hangUp() {
	f.hangOnce.Do(func() { close(f.hung) })
}

func (f *fakeFramer) deliverRaw(frame string) {
	f.inbound <- []byte(frame)
}

func (f *fakeFramer) deliverUsername(t *testing.T, name string) {
	t.Helper()
	frame, err := json.Marshal(name)
	require.NoError(t, err)
	f.inbound <- frame
}

func (f *fakeFramer) deliverEnvelope(t *testing.T, kind Kind, body string) {
	t.Helper()
	frame, err := json.Marshal(Envelope{Kind: kind, Body: body})
	require.NoError(t, err)
	f.inbound <- frame
}

func (f *fakeFramer) setWriteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

func (f *fakeFramer) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

func (f *fakeFramer) closeCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls[name]
}

// waitForLines blocks until f has recorded at least n lines.
func waitForLines(t *testing.T, f *fakeFramer, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(f.lines()) >= n
	}, 2*time.Second, 5*time.Millisecond, "expected at least %d lines, got %q", n, f.lines())
	return f.lines()
}

func discardLogger() *log.Logger {
	return NewLogger(io.Discard)
}

func newTestHandle(id uint64, f *fakeFramer) *Handle {
	return NewHandle(id, f, *NewConfig(), discardLogger())
}
