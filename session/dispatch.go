package session

import (
	"strings"
	"time"

	"github.com/alwitt/consoled/wire"
	"github.com/apex/log"
)

// The inbound dispatch table of spec §4.3 is modeled as a tagged variant
// keyed by identifier (+ command), per spec §9's redesign note replacing
// duck-typed message objects with exhaustive pattern matching. Each variant
// below carries exactly the fields its row of the dispatch table needs; the
// dispatcher (grounded on common.TaskProcessor's type-keyed handler map,
// common/event_processing.go) routes by the variant's Go type instead of by
// a string identifier. A variant with no registered handler makes the
// dispatch return an error, which ProcessMessages records in the error list,
// rather than being silently ignored.

type dataVariant struct {
	Stream string
	Data   string
}

type okOpenVariant struct {
	Stream string
	Mode   string
}

type okCloseVariant struct {
	Stream string
}

type okStatusStreamVariant struct {
	Stream        string
	ListenerCount int
	Writer        string
}

type okStatusGeneralVariant struct {
	Streams     []string
	Uptime      int
	ClientCount int
}

type okWriteVariant struct{}

type failVariant struct {
	Command string
	Error   string
}

type unknownVariant struct {
	Identifier string
}

// toVariant converts a decoded, validated wire.Frame into the typed variant
// its identifier (and, for `ok`, its command) promises.
func toVariant(f wire.Frame) interface{} {
	switch f.Identifier {
	case "data":
		stream, _ := f.Get("stream")
		data, _ := f.Get("data")
		return dataVariant{Stream: strings.ToUpper(stream), Data: data}
	case "ok":
		command, _ := f.Get("command")
		switch command {
		case "open":
			stream, _ := f.Get("stream")
			mode, _ := f.Get("mode")
			return okOpenVariant{Stream: strings.ToUpper(stream), Mode: mode}
		case "close":
			stream, _ := f.Get("stream")
			return okCloseVariant{Stream: strings.ToUpper(stream)}
		case "status":
			if stream, ok := f.Get("stream"); ok && stream != "" {
				return okStatusStreamVariant{
					Stream:        strings.ToUpper(stream),
					ListenerCount: intField(f, "listener_count"),
					Writer:        stringField(f, "writer"),
				}
			}
			return okStatusGeneralVariant{
				Streams:     stringSliceField(f, "streams"),
				Uptime:      intField(f, "uptime"),
				ClientCount: intField(f, "client_count"),
			}
		case "write":
			return okWriteVariant{}
		default:
			return unknownVariant{Identifier: "ok/" + command}
		}
	case "fail":
		command, _ := f.Get("command")
		errMsg, _ := f.Get("error")
		return failVariant{Command: command, Error: errMsg}
	default:
		return unknownVariant{Identifier: f.Identifier}
	}
}

func intField(f wire.Frame, key string) int {
	v, ok := f.Fields[key]
	if !ok {
		return 0
	}
	num, ok := v.(float64)
	if !ok {
		return 0
	}
	return int(num)
}

func stringField(f wire.Frame, key string) string {
	s, _ := f.Get(key)
	return s
}

func stringSliceField(f wire.Frame, key string) []string {
	v, ok := f.Fields[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// handleData appends to an existing buffer; per spec, a data frame for an
// unknown stream is dropped silently and never creates a buffer.
func (s *Session) handleData(param interface{}) error {
	v := param.(dataVariant)
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	buf, exists := s.buffers[v.Stream]
	if !exists {
		return nil
	}
	buf.WriteString(v.Data)
	return nil
}

func (s *Session) handleOkOpen(param interface{}) error {
	v := param.(okOpenVariant)
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.subscribed[v.Stream] = v.Mode
	if _, exists := s.buffers[v.Stream]; !exists {
		s.buffers[v.Stream] = newLineBuffer()
	}
	return nil
}

func (s *Session) handleOkClose(param interface{}) error {
	v := param.(okCloseVariant)
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.subscribed, v.Stream)
	// The buffer survives on purpose: the application may still be draining
	// it via ReadStream. It is only cleared at disconnect (spec §3).
	return nil
}

func (s *Session) handleOkStatusStream(param interface{}) error {
	v := param.(okStatusStreamVariant)
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.streams[v.Stream] = &StreamStatus{
		Name:          v.Stream,
		LastUpdate:    time.Now(),
		ListenerCount: v.ListenerCount,
		Writer:        v.Writer,
	}
	return nil
}

func (s *Session) handleOkStatusGeneral(param interface{}) error {
	v := param.(okStatusGeneralVariant)
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.lastGeneral = time.Now()
	s.uptime = v.Uptime
	s.clientCount = v.ClientCount

	seen := make(map[string]bool, len(v.Streams))
	for _, name := range v.Streams {
		upper := strings.ToUpper(name)
		seen[upper] = true
		if _, exists := s.streams[upper]; !exists {
			s.streams[upper] = &StreamStatus{Name: upper}
		}
	}
	for name := range s.streams {
		if !seen[name] {
			delete(s.streams, name)
		}
	}
	return nil
}

func (s *Session) handleOkWrite(param interface{}) error {
	return nil
}

func (s *Session) handleFail(param interface{}) error {
	v := param.(failVariant)
	if v.Command != "" {
		s.errs.append(v.Command + ": " + v.Error)
	} else {
		s.errs.append(v.Error)
	}
	if v.Command == "open" {
		s.openFailure = v.Error
	}
	return nil
}

func (s *Session) handleUnknown(param interface{}) error {
	v := param.(unknownVariant)
	log.WithFields(s.LogTags).Debugf("Ignoring unrecognized frame identifier %q", v.Identifier)
	return nil
}
