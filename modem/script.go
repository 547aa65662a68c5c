package modem

import (
	"time"

	"i4.energy/across/modemchat/at"
)

// Result is the terminal outcome of a script run.
type Result int

const (
	ResultSuccess Result = iota // every command completed
	ResultAbort                 // abort match, Abort, Detach or write failure
	ResultTimeout               // script deadline passed
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultAbort:
		return "abort"
	case ResultTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// State is the position of the script runner.
type State int

const (
	StateIdle State = iota
	StateSending
	StateAwaitingMatch
	StateAwaitingMultiMatch
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAwaitingMatch:
		return "awaiting-match"
	case StateAwaitingMultiMatch:
		return "awaiting-multi-match"
	default:
		return "unknown"
	}
}

// ResultHandler is called exactly once per successful Run with the outcome
// and the chat's user data. The chat is idle again when it is called, so
// it may start the next script with Run, not RunWait: the handler runs on
// the worker that RunWait would wait on.
type ResultHandler func(c *Chat, result Result, userData any)

// Command is one request/response step of a Script.
type Command struct {
	// Request is written followed by the delimiter. An empty request sends
	// nothing and only waits for Matches.
	Request string
	// Matches completes the command on the first non-partial match.
	Matches at.MatchSet
	// Multi marks commands answered by a repeating list of partial matches.
	Multi bool
	// Timeout applies only to commands without Matches: the command
	// completes once Timeout has elapsed after sending.
	Timeout time.Duration
}

// Script is an ordered chat sequence run by a Chat. A Script is only read by
// the engine and may be reused and run again once it has finished.
type Script struct {
	// Name identifies the script in logs and metrics.
	Name         string
	Commands     []Command
	AbortMatches at.MatchSet
	// Timeout bounds the whole script, not each command.
	Timeout  time.Duration
	OnResult ResultHandler
}

func (s *Script) validate() error {
	if s == nil || len(s.Commands) == 0 || s.Timeout <= 0 {
		return ErrInvalidScript
	}
	return nil
}

func (s *Script) label() string {
	if s.Name == "" {
		return "unnamed"
	}
	return s.Name
}

// awaitState is the state entered once cmd has been sent.
func (cmd *Command) awaitState() State {
	if cmd.Multi {
		return StateAwaitingMultiMatch
	}
	return StateAwaitingMatch
}
