package common

import "errors"

// Sentinel errors for the observable failure categories a consoled client
// can surface. Wrap with fmt.Errorf("...: %w", ErrXxx) at the call site so
// callers can still errors.Is against the category.
var (
	// ErrConfig is returned when a call is made with invalid or missing arguments.
	ErrConfig = errors.New("config error")
	// ErrConnect is returned when the TCP connect to the server fails or times out.
	ErrConnect = errors.New("connect error")
	// ErrProtocol is returned when a frame is malformed, missing required
	// fields, or carries an unsupported major version.
	ErrProtocol = errors.New("protocol error")
	// ErrSubscribe is returned when the server rejects an open request or
	// confirms a mode lacking a requested permission.
	ErrSubscribe = errors.New("subscribe error")
	// ErrNotSubscribed is returned when a write is attempted on a stream
	// without write permission.
	ErrNotSubscribed = errors.New("not subscribed")
	// ErrConnectionLost is returned when the socket closes mid-session.
	ErrConnectionLost = errors.New("connection lost")
	// ErrTimeout is returned when a blocking operation exceeds its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrEncode is returned when a Frame cannot be marshaled to wire form.
	ErrEncode = errors.New("encode error")
)
