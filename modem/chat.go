package modem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"i4.energy/across/modemchat/at"
)

// Chat converses with a line oriented device such as a cellular modem. It
// frames received bytes into lines, hands every line to the unsolicited
// match table and drives at most one Script at a time.
//
// All framing, matching and script progress happen on a single worker
// goroutine started by Attach. Run, RunWait, Abort and Detach may be called
// from any goroutine. Match handlers and result callbacks run on the worker;
// a match handler must not call Run or Abort itself.
type Chat struct {
	// config is fixed at New
	config Config
	// logger is tagged with the chat component
	logger *slog.Logger
	// metrics may be nil
	metrics *Metrics
	// framer is only touched by the worker while attached
	framer *at.Framer

	// running is claimed by Run and released when a result is delivered
	running atomic.Bool
	// wake nudges the worker after Run or Abort
	wake chan struct{}

	mu sync.Mutex
	// transport is the attached byte stream, nil when detached
	transport Transport
	// reader reads the most recently attached transport and survives Detach
	reader *reader
	// cancel stops the worker goroutine
	cancel context.CancelFunc
	// done is closed when the worker has returned
	done chan struct{}
	// stopped is set once the worker has returned
	stopped bool

	// Script runner state
	script       *Script
	onDone       func(Result)
	index        int
	state        State
	deadline     time.Time
	cmdDeadline  time.Time
	abortPending bool
}

// reader owns the only goroutine reading a transport. It outlives a single
// attachment, so reattaching the same transport hands its chunks to the new
// worker instead of starting a second reader.
type reader struct {
	t  Transport
	rx chan []byte
	// quit is closed when another transport replaces this one
	quit chan struct{}
	// done is closed when the goroutine has returned
	done chan struct{}
	// err is the error that ended reading, valid once done is closed
	err error
}

func (r *reader) exited() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// completion carries a terminal result out of the critical section.
type completion struct {
	script *Script
	result Result
	onDone func(Result)
}

// New creates a detached Chat. It returns an error wrapping
// ErrInvalidConfig if config cannot be used.
func New(config Config) (*Chat, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	framer, err := at.NewFramer(config.ReceiveBufferSize, config.Delimiter, config.Filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &Chat{
		config:  config,
		logger:  config.Logger.With("component", "chat"),
		metrics: config.Metrics,
		framer:  framer,
		wake:    make(chan struct{}, 1),
	}, nil
}

// Attach binds an open transport and starts the worker. The worker stops
// when ctx is cancelled or Detach is called; a script running at that time
// ends with ResultAbort.
//
// Reattaching the transport used last resumes its reader, including any
// data received while detached. Attaching a different transport retires the
// old reader, which returns once its pending Read does.
//
// The Chat never closes the transport.
func (c *Chat) Attach(ctx context.Context, t Transport) error {
	if t == nil {
		return ErrNoTransport
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport != nil {
		return ErrAlreadyAttached
	}

	if c.reader == nil || c.reader.t != t {
		if c.reader != nil {
			close(c.reader.quit)
		}
		c.reader = &reader{
			t:    t,
			rx:   make(chan []byte, 16),
			quit: make(chan struct{}),
			done: make(chan struct{}),
		}
		c.framer.Reset()
		go c.readLoop(c.reader)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.transport = t
	c.cancel = cancel
	c.done = done
	c.stopped = false

	go c.loop(loopCtx, t, c.reader.rx, done)

	c.logger.Debug("transport attached")
	return nil
}

// Detach stops the worker, aborts a running script and releases the
// transport. The transport is left open and its reader keeps running, so
// nothing read while detached is lost to a later Attach of the same
// transport.
func (c *Chat) Detach() error {
	c.mu.Lock()
	if c.transport == nil {
		c.mu.Unlock()
		return ErrNotAttached
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done

	c.mu.Lock()
	c.transport = nil
	comp := c.finishLocked(ResultAbort)
	c.mu.Unlock()
	c.deliver(comp)

	c.logger.Debug("transport detached")
	return nil
}

// Run starts s and returns immediately. The outcome is delivered once to
// s.OnResult. Run returns ErrBusy without side effects while another
// script is running.
func (c *Chat) Run(s *Script) error {
	return c.start(s, nil)
}

// RunWait runs s and waits for its result. If ctx ends first the script is
// aborted and RunWait still waits for the result, returning it together
// with the context error when the script did not complete on its own.
func (c *Chat) RunWait(ctx context.Context, s *Script) (Result, error) {
	results := make(chan Result, 1)
	if err := c.start(s, func(r Result) { results <- r }); err != nil {
		return ResultAbort, err
	}

	select {
	case r := <-results:
		return r, nil
	case <-ctx.Done():
		c.Abort()
		r := <-results
		if r == ResultAbort {
			return r, ctx.Err()
		}
		return r, nil
	}
}

// Abort ends the running script with ResultAbort. It does nothing when no
// script is running and may be called any number of times.
func (c *Chat) Abort() {
	c.mu.Lock()
	if c.script != nil {
		c.abortPending = true
	}
	c.mu.Unlock()
	c.wakeup()
}

// Done returns a channel that is closed when the attached transport stops
// delivering data, for example because the port was closed or unplugged.
// It returns nil while detached.
func (c *Chat) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return nil
	}
	return c.reader.done
}

// Err returns the error that ended reading the attached transport, io.EOF
// when it was closed. It returns nil while Done is not closed.
func (c *Chat) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil || !c.reader.exited() {
		return nil
	}
	return c.reader.err
}

// Running reports whether a script is running.
func (c *Chat) Running() bool {
	return c.running.Load()
}

// State returns the current script runner state.
func (c *Chat) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Chat) start(s *Script, onDone func(Result)) error {
	if err := s.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.transport == nil || c.stopped {
		c.mu.Unlock()
		return ErrNotAttached
	}
	if !c.running.CompareAndSwap(false, true) {
		c.mu.Unlock()
		return ErrBusy
	}

	c.script = s
	c.onDone = onDone
	c.index = 0
	c.state = StateSending
	c.deadline = time.Now().Add(s.Timeout)
	c.abortPending = false
	c.mu.Unlock()

	c.metrics.scriptStarted(s.label())
	c.logger.Info("script started", "script", s.label(), "commands", len(s.Commands), "timeout", s.Timeout)

	c.wakeup()
	return nil
}

func (c *Chat) wakeup() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// readLoop is the only goroutine reading from r.t. Every chunk is copied and
// handed to whichever worker is current.
func (c *Chat) readLoop(r *reader) {
	defer close(r.done)
	defer close(r.rx)

	buf := make([]byte, c.config.ReceiveBufferSize)
	for {
		n, err := r.t.Read(buf)
		if n > 0 {
			select {
			case r.rx <- bytes.Clone(buf[:n]):
			case <-r.quit:
				r.err = err
				return
			}
		}
		if err != nil {
			r.err = err
			select {
			case <-r.quit:
			default:
				if errors.Is(err, io.EOF) {
					c.logger.Info("transport closed")
				} else {
					c.logger.Warn("transport read failed", "error", err)
				}
			}
			return
		}
	}
}

// loop is the worker. It feeds received chunks through the framer, sends
// pending requests and checks deadlines on every poll tick.
func (c *Chat) loop(ctx context.Context, t Transport, rx <-chan []byte, done chan struct{}) {
	defer close(done)
	defer c.stop()

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case chunk, ok := <-rx:
			if !ok {
				// Reader is gone; deadlines keep running.
				rx = nil
				continue
			}
			c.service(t)
			c.receive(t, chunk)

		case <-c.wake:

		case <-ticker.C:
		}

		c.service(t)
	}
}

// stop ends a script left running when the worker returns.
func (c *Chat) stop() {
	c.mu.Lock()
	c.stopped = true
	comp := c.finishLocked(ResultAbort)
	c.mu.Unlock()
	c.deliver(comp)
}

func (c *Chat) receive(t Transport, chunk []byte) {
	err := c.framer.Feed(chunk, func(line string) {
		c.handleLine(t, line)
	})
	if errors.Is(err, at.ErrLineTooLong) {
		c.metrics.overflow("line")
		c.logger.Warn("dropped oversized line", "capacity", c.config.ReceiveBufferSize, "error", err)
	}
}

func (c *Chat) handleLine(t Transport, line string) {
	c.metrics.lineReceived()
	c.logger.Debug("received line", "line", line)

	m, err := c.config.Unsolicited.Dispatch(line, c.config.MaxArgs, c.config.UserData)
	switch {
	case m != nil && err != nil:
		c.rejectArgs(line, err)
	case m != nil:
		c.metrics.unsolicitedMatched()
	}

	c.mu.Lock()
	s, index, state, aborting := c.script, c.index, c.state, c.abortPending
	c.mu.Unlock()

	// Lines arriving before the request went out belong to nothing.
	if s == nil || aborting || state == StateSending {
		return
	}

	if m, err := s.AbortMatches.Dispatch(line, c.config.MaxArgs, c.config.UserData); m != nil {
		if err != nil {
			c.rejectArgs(line, err)
			return
		}
		c.logger.Info("script abort match", "script", s.label(), "line", line)
		c.finish(ResultAbort)
		return
	}

	cmd := &s.Commands[index]
	m, err = cmd.Matches.Dispatch(line, c.config.MaxArgs, c.config.UserData)
	switch {
	case m == nil:
		return
	case err != nil:
		c.rejectArgs(line, err)
		return
	case m.Partial:
		return
	}

	c.advance(t)
}

func (c *Chat) rejectArgs(line string, err error) {
	c.metrics.overflow("args")
	c.logger.Warn("dropped line with too many arguments", "line", line, "capacity", c.config.MaxArgs, "error", err)
}

// service applies pending aborts, deadlines and sends until the script is
// waiting for input.
func (c *Chat) service(t Transport) {
	for {
		c.mu.Lock()
		if c.script == nil {
			c.mu.Unlock()
			return
		}

		now := time.Now()
		switch {
		case c.abortPending:
			comp := c.finishLocked(ResultAbort)
			c.mu.Unlock()
			c.deliver(comp)
			return

		case !now.Before(c.deadline):
			name := c.script.label()
			comp := c.finishLocked(ResultTimeout)
			c.mu.Unlock()
			c.logger.Info("script timed out", "script", name)
			c.deliver(comp)
			return
		}

		state := c.state
		cmd := &c.script.Commands[c.index]
		expired := state != StateSending && len(cmd.Matches) == 0 && !now.Before(c.cmdDeadline)
		c.mu.Unlock()

		switch {
		case state == StateSending:
			c.send(t)
		case expired:
			c.advance(t)
		default:
			return
		}
	}
}

// send writes the current request and moves to the matching await state.
func (c *Chat) send(t Transport) {
	c.mu.Lock()
	if c.script == nil || c.state != StateSending {
		c.mu.Unlock()
		return
	}
	s := c.script
	cmd := &s.Commands[c.index]
	c.mu.Unlock()

	if cmd.Request != "" {
		if _, err := t.Write([]byte(cmd.Request + c.config.Delimiter)); err != nil {
			c.logger.Warn("write request failed", "script", s.label(), "request", cmd.Request, "error", err)
			c.finish(ResultAbort)
			return
		}
		c.metrics.requestSent()
		c.logger.Debug("sent request", "script", s.label(), "request", cmd.Request)
	}

	c.mu.Lock()
	c.state = cmd.awaitState()
	if len(cmd.Matches) == 0 {
		c.cmdDeadline = time.Now().Add(cmd.Timeout)
	}
	c.mu.Unlock()
}

// advance completes the current command.
func (c *Chat) advance(t Transport) {
	c.mu.Lock()
	c.index++
	if c.index == len(c.script.Commands) {
		comp := c.finishLocked(ResultSuccess)
		c.mu.Unlock()
		c.deliver(comp)
		return
	}
	c.state = StateSending
	c.mu.Unlock()

	c.send(t)
}

func (c *Chat) finish(result Result) {
	c.mu.Lock()
	comp := c.finishLocked(result)
	c.mu.Unlock()
	c.deliver(comp)
}

// finishLocked returns the engine to idle. It returns nil when no script is
// running, which keeps results to one per run.
func (c *Chat) finishLocked(result Result) *completion {
	if c.script == nil {
		return nil
	}

	comp := &completion{script: c.script, result: result, onDone: c.onDone}

	c.script = nil
	c.onDone = nil
	c.index = 0
	c.state = StateIdle
	c.deadline = time.Time{}
	c.cmdDeadline = time.Time{}
	c.abortPending = false
	c.running.Store(false)

	return comp
}

// deliver reports a completion outside the lock.
func (c *Chat) deliver(comp *completion) {
	if comp == nil {
		return
	}

	name := comp.script.label()
	c.metrics.scriptFinished(name, comp.result)
	c.logger.Info("script finished", "script", name, "result", comp.result)

	if comp.script.OnResult != nil {
		comp.script.OnResult(c, comp.result, c.config.UserData)
	}
	if comp.onDone != nil {
		comp.onDone(comp.result)
	}
}
