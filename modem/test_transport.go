package modem

import (
	"bytes"
	"io"
	"sync"
)

// TestTransport is a test helper that simulates a blocking transport using channels.
// This is needed because the chat's reader goroutine continuously reads from the transport,
// and we need reads to block until data is available (like a real serial port would).
// Everything written to it is recorded and can be collected with Written.
type TestTransport struct {
	mu       sync.Mutex
	readChan chan []byte
	// readMu guards pending and serialises readers
	readMu   sync.Mutex
	pending  []byte
	written  bytes.Buffer
	writeErr error
	closed   bool
}

// NewTestTransport creates a new test transport for testing.
// Exported for use in tests.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan: make(chan []byte, 64),
	}
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return 0, t.writeErr
	}
	return t.written.Write(p)
}

// Read blocks until data is queued. Data that does not fit in p is kept
// for the next Read. Concurrent readers take turns.
func (t *TestTransport) Read(p []byte) (n int, err error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	if len(t.pending) == 0 {
		data, ok := <-t.readChan
		if !ok {
			return 0, io.EOF
		}
		t.pending = data
	}
	n = copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// SendData queues data to be read by the transport.
// This simulates receiving data from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.readChan <- []byte(data)
	}
}

// Written returns everything written since the previous call and clears it.
func (t *TestTransport) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.written.String()
	t.written.Reset()
	return s
}

// FailWrites makes every following Write return err. A nil err restores
// normal writes.
func (t *TestTransport) FailWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}
