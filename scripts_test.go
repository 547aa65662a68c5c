package main

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBook = `
unsolicited:
  - prefix: "+CMTI: "
    separators: ","
    event: new_message
scripts:
  signal:
    timeout: 2s
    abort_on_errors: true
    commands:
      - request: "AT+CSQ"
        expect: [{prefix: "+CSQ: ", separators: ",", capture: csq}]
      - expect: [{prefix: "OK"}]
  list:
    timeout: 1m
    abort: [{prefix: "NO CARRIER"}]
    commands:
      - request: "AT+CMGL=4"
        multi: true
        expect:
          - {prefix: "+CMGL: ", separators: ",", partial: true, capture: header}
          - {partial: true, capture: pdu}
          - {prefix: "OK"}
  reset:
    timeout: 30s
    commands:
      - request: "AT+CFUN=1,1"
        timeout: 15s
`

// recordingPublisher keeps published events for inspection.
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event{}, p.events...)
}

func TestParseBook(t *testing.T) {
	book, err := ParseBook([]byte(testBook))
	require.NoError(t, err)

	assert.Equal(t, []string{"list", "reset", "signal"}, book.Names())

	signal := book.Scripts["signal"]
	assert.Equal(t, 2*time.Second, signal.Timeout)
	assert.True(t, signal.AbortOnErrors)
	require.Len(t, signal.Commands, 2)
	assert.Equal(t, "AT+CSQ", signal.Commands[0].Request)
	assert.Equal(t, "csq", signal.Commands[0].Expect[0].Capture)

	reset := book.Scripts["reset"]
	assert.Equal(t, 15*time.Second, reset.Commands[0].Timeout)
	assert.Empty(t, reset.Commands[0].Expect)
}

func TestParseBookErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "malformed",
			yaml: "scripts: [",
		},
		{
			name: "missing timeout",
			yaml: "scripts:\n  ping:\n    commands:\n      - request: AT\n        expect: [{prefix: OK}]\n",
			want: `script "ping": timeout must be positive`,
		},
		{
			name: "no commands",
			yaml: "scripts:\n  ping:\n    timeout: 1s\n",
			want: `script "ping": no commands`,
		},
		{
			name: "response-less command without timeout",
			yaml: "scripts:\n  ping:\n    timeout: 1s\n    commands:\n      - request: AT\n",
			want: `script "ping" command 0`,
		},
		{
			name: "empty command",
			yaml: "scripts:\n  ping:\n    timeout: 1s\n    commands:\n      - timeout: 1s\n",
			want: "neither request nor expect rules",
		},
		{
			name: "unsolicited rule without event",
			yaml: "unsolicited:\n  - prefix: RDY\n",
			want: "unsolicited rule 0: event is required",
		},
		{
			name: "unsolicited catch-all",
			yaml: "unsolicited:\n  - event: everything\n",
			want: "unsolicited rule 0: prefix is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBook([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidBook)
			if tt.want != "" {
				assert.ErrorContains(t, err, tt.want)
			}
		})
	}
}

func TestLoadBook(t *testing.T) {
	t.Run("Shipped book", func(t *testing.T) {
		book, err := LoadBook("scripts.yaml")
		require.NoError(t, err)
		assert.Contains(t, book.Names(), "init")
		assert.NotEmpty(t, book.UnsolicitedRules)
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := LoadBook(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestBookScript(t *testing.T) {
	book, err := ParseBook([]byte(testBook))
	require.NoError(t, err)

	t.Run("Unknown script", func(t *testing.T) {
		_, err := book.Script("dial", nil)
		assert.ErrorIs(t, err, ErrUnknownScript)
	})

	t.Run("Builds commands and abort rules", func(t *testing.T) {
		script, err := book.Script("signal", &Transcript{})
		require.NoError(t, err)

		assert.Equal(t, "signal", script.Name)
		assert.Equal(t, 2*time.Second, script.Timeout)
		require.Len(t, script.Commands, 2)
		assert.Equal(t, "AT+CSQ", script.Commands[0].Request)
		assert.Equal(t, "", script.Commands[1].Request)

		// abort_on_errors contributes the final error responses
		assert.NotNil(t, script.AbortMatches.Find("ERROR"))
		assert.NotNil(t, script.AbortMatches.Find("+CME ERROR: 10"))
		assert.Nil(t, script.AbortMatches.Find("OK"))
	})

	t.Run("Handlers record captures", func(t *testing.T) {
		transcript := &Transcript{}
		script, err := book.Script("list", transcript)
		require.NoError(t, err)

		matches := script.Commands[0].Matches
		_, err = matches.Dispatch("+CMGL: 1,1,,50", 32, nil)
		require.NoError(t, err)
		_, err = matches.Dispatch("07911326060032F064A9542954", 32, nil)
		require.NoError(t, err)
		m, err := matches.Dispatch("OK", 32, nil)
		require.NoError(t, err)
		assert.False(t, m.Partial)

		assert.Equal(t, []Capture{
			{Name: "header", Args: []string{"1", "1", "", "50"}},
			{Name: "pdu", Args: []string{"07911326060032F064A9542954"}},
		}, transcript.Captures())
	})

	t.Run("Each call builds a fresh script", func(t *testing.T) {
		first, second := &Transcript{}, &Transcript{}
		a, err := book.Script("signal", first)
		require.NoError(t, err)
		_, err = book.Script("signal", second)
		require.NoError(t, err)

		_, err = a.Commands[0].Matches.Dispatch("+CSQ: 15,99", 32, nil)
		require.NoError(t, err)

		assert.Len(t, first.Captures(), 1)
		assert.Empty(t, second.Captures())
	})
}

func TestBookUnsolicited(t *testing.T) {
	book, err := ParseBook([]byte(testBook))
	require.NoError(t, err)

	pub := &recordingPublisher{}
	set := book.Unsolicited(pub)

	m, err := set.Dispatch(`+CMTI: "SM",3`, 32, nil)
	require.NoError(t, err)
	require.NotNil(t, m)

	m, err = set.Dispatch("OK", 32, nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	events := pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "new_message", events[0].Name)
	assert.Equal(t, []string{`"SM"`, "3"}, events[0].Args)
	assert.False(t, events[0].Time.IsZero())
}
