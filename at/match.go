package at

import (
	"errors"
	"strings"
)

// ErrTooManyArgs is returned when a matched line splits into more tokens
// than the caller allows. The handler is not invoked for such a line.
var ErrTooManyArgs = errors.New("too many response arguments")

// Handler receives the tokens of a matched line.
//
// args[0] is the matched prefix as received, the remaining entries are the
// fields that followed it. args is only valid for the duration of the call.
type Handler interface {
	HandleMatch(args []string, userData any)
}

// HandlerFunc adapts an ordinary function to a Handler.
type HandlerFunc func(args []string, userData any)

// HandleMatch calls f(args, userData).
func (f HandlerFunc) HandleMatch(args []string, userData any) {
	f(args, userData)
}

// Match identifies a response line by its prefix and describes how the rest
// of the line is split into fields.
type Match struct {
	// Prefix the line must start with. An empty prefix matches any line.
	Prefix string
	// Separators is the set of bytes the remainder is split on.
	Separators string
	// Handler is optional.
	Handler Handler
	// Partial matches do not complete the script command they belong to.
	Partial bool
	// Wildcards makes every '?' in Prefix match any single byte.
	Wildcards bool
}

// CatchAll reports whether m matches every line.
func (m *Match) CatchAll() bool {
	return m.Prefix == ""
}

// Matches reports whether line starts with the prefix of m.
func (m *Match) Matches(line string) bool {
	if len(line) < len(m.Prefix) {
		return false
	}
	if !m.Wildcards {
		return strings.HasPrefix(line, m.Prefix)
	}
	for i := 0; i < len(m.Prefix); i++ {
		if m.Prefix[i] != '?' && m.Prefix[i] != line[i] {
			return false
		}
	}
	return true
}

// Tokenize splits a line matched by m. Consecutive separators produce empty
// tokens so field positions are preserved; only a trailing empty field is
// omitted. maxArgs <= 0 disables the limit. Tokenize returns nil when m
// does not match line.
func (m *Match) Tokenize(line string, maxArgs int) ([]string, error) {
	if !m.Matches(line) {
		return nil, nil
	}

	args := make([]string, 0, 4)
	args = append(args, line[:len(m.Prefix)])
	rest := line[len(m.Prefix):]

	start := 0
	for i := 0; i < len(rest); i++ {
		if strings.IndexByte(m.Separators, rest[i]) < 0 {
			continue
		}
		if maxArgs > 0 && len(args) == maxArgs {
			return nil, ErrTooManyArgs
		}
		args = append(args, rest[start:i])
		start = i + 1
	}

	// An empty field at the end of the line is not reported.
	if start == len(rest) {
		return args, nil
	}
	if maxArgs > 0 && len(args) == maxArgs {
		return nil, ErrTooManyArgs
	}
	return append(args, rest[start:]), nil
}

// MatchSet is an ordered list of matches.
type MatchSet []Match

// Find returns the first match in s whose prefix starts line, or nil.
// Catch-all entries are only considered once no prefix matched, wherever
// they appear in s.
func (s MatchSet) Find(line string) *Match {
	var catchAll *Match
	for i := range s {
		m := &s[i]
		if m.CatchAll() {
			if catchAll == nil {
				catchAll = m
			}
			continue
		}
		if m.Matches(line) {
			return m
		}
	}
	return catchAll
}

// Dispatch finds the match for line, tokenizes it and invokes its handler.
// It returns the match that was found, or nil when no entry applies. When
// the token limit is exceeded the match is returned together with
// ErrTooManyArgs and the handler is not called.
func (s MatchSet) Dispatch(line string, maxArgs int, userData any) (*Match, error) {
	m := s.Find(line)
	if m == nil {
		return nil, nil
	}
	args, err := m.Tokenize(line, maxArgs)
	if err != nil {
		return m, err
	}
	if m.Handler != nil {
		m.Handler.HandleMatch(args, userData)
	}
	return m, nil
}
