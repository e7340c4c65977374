package transport

import (
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
)

// newRawFrameLogger opens (truncating) the file at path and returns an apex
// logger writing each inbound frame to it, per the protocol's "debug logging
// enabled, the Router appends raw inbound frames to raw.log, truncated on
// each run" rule.
func newRawFrameLogger(path string) (*log.Logger, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &log.Logger{
		Handler: text.New(f),
		Level:   log.DebugLevel,
	}, nil
}
