package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeToken is an already completed MQTT token.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records publications. Methods other than Publish are not used
// by the publisher and panic through the nil embedded interface.
type fakeClient struct {
	mqtt.Client

	mu       sync.Mutex
	messages []published
	err      error
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return newFakeToken(c.err)
}

func (c *fakeClient) Messages() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published{}, c.messages...)
}

// syncBuffer is a bytes.Buffer safe for the publisher's background logging.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestMQTTPublisher(t *testing.T) {
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Publishes JSON under the event topic", func(t *testing.T) {
		client := &fakeClient{}
		pub := NewMQTTPublisher(client, "modem/events", slog.New(slog.NewTextHandler(&syncBuffer{}, nil)))

		pub.Publish(Event{Name: "new_message", Args: []string{`"SM"`, "3"}, Time: stamp})

		messages := client.Messages()
		require.Len(t, messages, 1)
		assert.Equal(t, "modem/events/new_message", messages[0].topic)
		assert.Equal(t, byte(1), messages[0].qos)
		assert.False(t, messages[0].retained)

		var got Event
		require.NoError(t, json.Unmarshal(messages[0].payload, &got))
		assert.Equal(t, "new_message", got.Name)
		assert.Equal(t, []string{`"SM"`, "3"}, got.Args)
		assert.True(t, stamp.Equal(got.Time))
	})

	t.Run("Logs failed deliveries", func(t *testing.T) {
		logs := &syncBuffer{}
		client := &fakeClient{err: errors.New("not connected")}
		pub := NewMQTTPublisher(client, "modem/events", slog.New(slog.NewTextHandler(logs, nil)))

		pub.Publish(Event{Name: "ready", Time: stamp})

		assert.Eventually(t, func() bool {
			return strings.Contains(logs.String(), "not connected")
		}, time.Second, 5*time.Millisecond)
	})
}

func TestLogPublisher(t *testing.T) {
	logs := &syncBuffer{}
	pub := LogPublisher{Logger: slog.New(slog.NewTextHandler(logs, nil))}

	pub.Publish(Event{Name: "power_down", Time: time.Now()})

	assert.Contains(t, logs.String(), "event=power_down")
}
