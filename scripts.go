package main

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"i4.energy/across/modemchat/at"
	"i4.energy/across/modemchat/modem"
)

var (
	// ErrUnknownScript is returned when a script name is not in the book.
	ErrUnknownScript = errors.New("unknown script")

	// ErrInvalidBook is returned when a script book cannot be turned into
	// chat scripts. The wrapping error names the offending script and
	// command.
	ErrInvalidBook = errors.New("invalid script book")
)

// RuleSpec describes one match rule in the script book.
type RuleSpec struct {
	Prefix     string `yaml:"prefix"`
	Separators string `yaml:"separators"`
	Wildcards  bool   `yaml:"wildcards"`
	Partial    bool   `yaml:"partial"`
	// Capture stores the fields of matched lines in the run transcript
	// under this name. Only used by script rules.
	Capture string `yaml:"capture"`
	// Event is the name unsolicited matches are published under.
	Event string `yaml:"event"`
}

// CommandSpec is one step of a scripted conversation.
type CommandSpec struct {
	Request string        `yaml:"request"`
	Expect  []RuleSpec    `yaml:"expect"`
	Multi   bool          `yaml:"multi"`
	Timeout time.Duration `yaml:"timeout"`
}

// ScriptSpec is a named script as written in the book.
type ScriptSpec struct {
	Timeout time.Duration `yaml:"timeout"`
	// AbortOnErrors adds the final error responses of the AT command set
	// to Abort.
	AbortOnErrors bool          `yaml:"abort_on_errors"`
	Abort         []RuleSpec    `yaml:"abort"`
	Commands      []CommandSpec `yaml:"commands"`
}

// Book is the set of scripts and unsolicited rules the daemon serves.
type Book struct {
	UnsolicitedRules []RuleSpec            `yaml:"unsolicited"`
	Scripts          map[string]ScriptSpec `yaml:"scripts"`
}

// LoadBook reads and validates a script book from path.
func LoadBook(path string) (*Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script book: %w", err)
	}
	return ParseBook(data)
}

// ParseBook decodes and validates a YAML script book.
func ParseBook(data []byte) (*Book, error) {
	var book Book
	if err := yaml.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBook, err)
	}
	if err := book.validate(); err != nil {
		return nil, err
	}
	return &book, nil
}

func (b *Book) validate() error {
	for i, rule := range b.UnsolicitedRules {
		if rule.Prefix == "" {
			return fmt.Errorf("%w: unsolicited rule %d: prefix is required", ErrInvalidBook, i)
		}
		if rule.Event == "" {
			return fmt.Errorf("%w: unsolicited rule %d: event is required", ErrInvalidBook, i)
		}
	}

	for _, name := range b.Names() {
		spec := b.Scripts[name]
		if spec.Timeout <= 0 {
			return fmt.Errorf("%w: script %q: timeout must be positive", ErrInvalidBook, name)
		}
		if len(spec.Commands) == 0 {
			return fmt.Errorf("%w: script %q: no commands", ErrInvalidBook, name)
		}
		for i, cmd := range spec.Commands {
			if len(cmd.Expect) == 0 && cmd.Timeout <= 0 {
				return fmt.Errorf("%w: script %q command %d: a command without expect rules needs a timeout", ErrInvalidBook, name, i)
			}
			if cmd.Request == "" && len(cmd.Expect) == 0 {
				return fmt.Errorf("%w: script %q command %d: neither request nor expect rules", ErrInvalidBook, name, i)
			}
		}
	}
	return nil
}

// Names returns the script names in sorted order.
func (b *Book) Names() []string {
	names := make([]string, 0, len(b.Scripts))
	for name := range b.Scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Script builds a fresh chat script for name. Captured fields are recorded
// in transcript, which may be nil.
func (b *Book) Script(name string, transcript *Transcript) (*modem.Script, error) {
	spec, ok := b.Scripts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScript, name)
	}

	script := &modem.Script{
		Name:         name,
		Commands:     make([]modem.Command, 0, len(spec.Commands)),
		AbortMatches: transcript.matches(spec.Abort),
		Timeout:      spec.Timeout,
	}
	if spec.AbortOnErrors {
		script.AbortMatches = append(script.AbortMatches, at.FinalErrors(transcript.capture("error"))...)
	}
	for _, cmd := range spec.Commands {
		script.Commands = append(script.Commands, modem.Command{
			Request: cmd.Request,
			Matches: transcript.matches(cmd.Expect),
			Multi:   cmd.Multi,
			Timeout: cmd.Timeout,
		})
	}
	return script, nil
}

// Unsolicited builds the unsolicited match table. Every match is published
// to pub as an Event.
func (b *Book) Unsolicited(pub Publisher) at.MatchSet {
	set := make(at.MatchSet, 0, len(b.UnsolicitedRules))
	for _, rule := range b.UnsolicitedRules {
		event := rule.Event
		set = append(set, at.Match{
			Prefix:     rule.Prefix,
			Separators: rule.Separators,
			Wildcards:  rule.Wildcards,
			Handler: at.HandlerFunc(func(args []string, _ any) {
				pub.Publish(Event{
					Name: event,
					Args: slices.Clone(args[1:]),
					Time: time.Now(),
				})
			}),
		})
	}
	return set
}

// Capture is a line matched by a capturing rule.
type Capture struct {
	Name string   `json:"name"`
	Args []string `json:"args"`
}

// Transcript collects the captures of one script run. Handlers append to it
// from the chat worker while readers may be on other goroutines.
type Transcript struct {
	mu       sync.Mutex
	captures []Capture
}

// Captures returns a copy of the captures recorded so far.
func (t *Transcript) Captures() []Capture {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Capture{}, t.captures...)
}

func (t *Transcript) capture(name string) at.Handler {
	if t == nil || name == "" {
		return nil
	}
	return at.HandlerFunc(func(args []string, _ any) {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.captures = append(t.captures, Capture{Name: name, Args: slices.Clone(args[1:])})
	})
}

func (t *Transcript) matches(rules []RuleSpec) at.MatchSet {
	if len(rules) == 0 {
		return nil
	}
	set := make(at.MatchSet, 0, len(rules))
	for _, rule := range rules {
		set = append(set, at.Match{
			Prefix:     rule.Prefix,
			Separators: rule.Separators,
			Wildcards:  rule.Wildcards,
			Partial:    rule.Partial,
			Handler:    t.capture(rule.Capture),
		})
	}
	return set
}
