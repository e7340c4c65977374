package session

import "strings"

// errorList accumulates human-readable failure strings drawn from `fail`
// frames and internal decode errors, drained by GetError per spec's
// read-and-clear contract.
type errorList struct {
	queued []string
	last   string
}

func newErrorList() *errorList {
	return &errorList{}
}

// append adds a queued error, e.g. a `fail` frame.
func (e *errorList) append(msg string) {
	e.queued = append(e.queued, msg)
}

// setLast records a single-shot error, e.g. a failed synchronous call, in
// addition to whatever is already queued.
func (e *errorList) setLast(msg string) {
	e.last = msg
}

// drain returns the concatenation of the last single-shot error and all
// queued errors, then clears both, per spec's get_error contract.
func (e *errorList) drain() string {
	parts := make([]string, 0, len(e.queued)+1)
	if e.last != "" {
		parts = append(parts, e.last)
	}
	parts = append(parts, e.queued...)
	e.last = ""
	e.queued = nil
	return strings.Join(parts, "; ")
}
