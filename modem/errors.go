package modem

import (
	"errors"

	"i4.energy/across/modemchat/at"
)

var (
	// ErrBusy is returned by Run when a script is already running.
	//
	// The running script is not affected. Callers may retry once the
	// running script has delivered its result.
	ErrBusy = errors.New("chat script already running")

	// ErrInvalidScript is returned by Run for a nil script, a script
	// without commands or a script without a positive timeout.
	ErrInvalidScript = errors.New("invalid chat script")

	// ErrInvalidConfig is returned by New when the configuration cannot be
	// used, for example an empty delimiter or a zero sized buffer.
	ErrInvalidConfig = errors.New("invalid chat configuration")

	// ErrNoTransport is returned by Attach when called with a nil Transport.
	ErrNoTransport = errors.New("no transport")

	// ErrNotAttached is returned when an operation requires a transport and
	// none is attached.
	ErrNotAttached = errors.New("chat not attached")

	// ErrAlreadyAttached is returned by Attach when a transport is already
	// attached.
	ErrAlreadyAttached = errors.New("chat already attached")

	// ErrLineTooLong is reported when a modem response line exceeds the
	// receive buffer.
	//
	// This typically indicates malformed input, unexpected binary data,
	// or a protocol framing error.
	ErrLineTooLong = at.ErrLineTooLong

	// ErrTooManyArgs is reported when a matched line has more fields than
	// the configured argument capacity.
	ErrTooManyArgs = at.ErrTooManyArgs
)
