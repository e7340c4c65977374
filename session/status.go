package session

import (
	"strings"
	"time"
)

// StreamStatus is the Stream Descriptor of spec §3, keyed by uppercase name
// in Session.streams.
type StreamStatus struct {
	Name          string
	LastUpdate    time.Time
	ListenerCount int
	Writer        string
}

// permission is one of the {read, write} grants a Subscription can carry.
type permission string

const (
	permRead  permission = "read"
	permWrite permission = "write"
)

// parseMode parses a server-confirmed or client-requested mode string on
// whitespace and comma/hyphen boundaries, per spec §4.3's edge-case policy.
func parseMode(mode string) map[permission]bool {
	fields := strings.FieldsFunc(mode, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ',' || r == '-'
	})
	perms := map[permission]bool{}
	for _, f := range fields {
		switch strings.ToLower(f) {
		case "read":
			perms[permRead] = true
		case "write":
			perms[permWrite] = true
		}
	}
	return perms
}

// modeGrants reports whether confirmedMode contains every permission named
// in requestedMode.
func modeGrants(confirmedMode, requestedMode string) bool {
	confirmed := parseMode(confirmedMode)
	requested := parseMode(requestedMode)
	for perm := range requested {
		if !confirmed[perm] {
			return false
		}
	}
	return true
}

// Stats is a read-only snapshot of the server-reported general status,
// supplementing spec §4.3 with an accessor front-ends need to report server
// health (see SPEC_FULL.md §6).
type Stats struct {
	Uptime          int
	ClientCount     int
	LastGeneralAt   time.Time
	GeneralStatusOK bool
}
