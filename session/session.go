// Copyright 2021-2022 The httpmq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package session is the Client Session of the consoled client library: the
// foreground object the application holds. It owns the Router's lifecycle,
// exposes request/query methods, and is the sole mutator of the caches it
// keeps, since every mutation happens synchronously on the application's
// own goroutine: inside ProcessMessages, ReadStream's buffer drain, or
// Disconnect's reset (spec §5). cacheMu exists only so a
// second goroutine — a front-end's optional status endpoint, say — can read
// those caches without racing that mutation.
package session

import (
	"bytes"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alwitt/consoled/common"
	"github.com/alwitt/consoled/transport"
	"github.com/alwitt/consoled/wire"
	"github.com/apex/log"
	"github.com/google/uuid"
)

// Config mirrors common.ConsoledConfig as the in-process argument to New;
// see spec §4.3's construct(config) option list.
type Config struct {
	// Server is the consoled server hostname or address.
	Server string
	// Port is the consoled server TCP port.
	Port int
	// NoConnect skips the initial connect performed by New.
	NoConnect bool
	// Timeout bounds blocking waits.
	Timeout time.Duration
	// ConnectTimeout bounds the Router's TCP handshake.
	ConnectTimeout time.Duration
	// StatusLifetime is how long a cached general status is fresh.
	StatusLifetime time.Duration
	// Verbose enables additional informational logging.
	Verbose bool
	// Debug enables raw-frame logging to disk via the Router.
	Debug bool
	// DebugLogPath is where the Router appends raw inbound frames when Debug is set.
	DebugLogPath string
	// TimestampData prefixes received lines with a timestamp on read.
	TimestampData bool
	// TimestampFmt is the Go time format used for those prefixes.
	TimestampFmt string
}

// defaultConfig fills in the zero-value defaults spec §4.3 documents.
func defaultConfig() Config {
	return Config{
		Server:         "127.0.0.1",
		Port:           29168,
		Timeout:        5 * time.Second,
		ConnectTimeout: 5 * time.Second,
		StatusLifetime: 120 * time.Second,
		TimestampFmt:   "2006-01-02T15:04:05.000Z07:00 ",
	}
}

// Session is the Client Session.
type Session struct {
	common.Component

	cfg Config

	connMu sync.Mutex
	router *transport.Router

	// cacheMu guards streams/subscribed/buffers/lastGeneral/uptime/clientCount
	// against the one cross-goroutine reader the library actually has: a
	// front-end's optional HTTP status endpoint (e.g. cmd/mshell's
	// --status-port) querying these caches concurrently with ProcessMessages
	// mutating them on the application's own goroutine. Every mutation still
	// happens on that goroutine (dispatch.go's handlers under ProcessMessages,
	// ReadStream's drain, Disconnect's reset); cacheMu exists so a second
	// goroutine can read the result without racing it.
	// errs is unguarded by it: nothing outside the ProcessMessages-calling
	// goroutine ever touches the error list.
	cacheMu     sync.RWMutex
	streams     map[string]*StreamStatus
	subscribed  map[string]string
	buffers     map[string]*bytes.Buffer
	errs        *errorList
	lastGeneral time.Time
	uptime      int
	clientCount int

	// openFailure latches the most recent `fail` frame whose command was
	// "open", so Subscribe can fail fast instead of waiting out its full
	// timeout when the server has already rejected the request.
	openFailure string

	dispatcher common.TaskProcessor
}

// New allocates a Session and, unless cfg.NoConnect is set, connects.
func New(cfg Config) (*Session, error) {
	merged := mergeConfig(cfg)

	s := &Session{
		Component: common.Component{LogTags: log.Fields{
			"module": "session", "component": "client-session", "server": merged.Server,
		}},
		cfg:        merged,
		streams:    map[string]*StreamStatus{},
		subscribed: map[string]string{},
		buffers:    map[string]*bytes.Buffer{},
		errs:       newErrorList(),
	}

	dispatcher, err := common.GetNewTaskProcessorInstance("session-dispatch", 1)
	if err != nil {
		return nil, err
	}
	s.dispatcher = dispatcher
	if err := s.dispatcher.SetTaskExecutionMap(map[reflect.Type]common.TaskHandler{
		reflect.TypeOf(dataVariant{}):             s.handleData,
		reflect.TypeOf(okOpenVariant{}):           s.handleOkOpen,
		reflect.TypeOf(okCloseVariant{}):          s.handleOkClose,
		reflect.TypeOf(okStatusStreamVariant{}):   s.handleOkStatusStream,
		reflect.TypeOf(okStatusGeneralVariant{}):  s.handleOkStatusGeneral,
		reflect.TypeOf(okWriteVariant{}):          s.handleOkWrite,
		reflect.TypeOf(failVariant{}):             s.handleFail,
		reflect.TypeOf(unknownVariant{}):          s.handleUnknown,
	}); err != nil {
		return nil, err
	}

	if !merged.NoConnect {
		if err := s.Connect(""); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func mergeConfig(cfg Config) Config {
	def := defaultConfig()
	if cfg.Server != "" {
		def.Server = cfg.Server
	}
	if cfg.Port != 0 {
		def.Port = cfg.Port
	}
	if cfg.Timeout != 0 {
		def.Timeout = cfg.Timeout
	}
	if cfg.ConnectTimeout != 0 {
		def.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.StatusLifetime != 0 {
		def.StatusLifetime = cfg.StatusLifetime
	}
	if cfg.TimestampFmt != "" {
		def.TimestampFmt = cfg.TimestampFmt
	}
	def.NoConnect = cfg.NoConnect
	def.Verbose = cfg.Verbose
	def.Debug = cfg.Debug
	def.DebugLogPath = cfg.DebugLogPath
	def.TimestampData = cfg.TimestampData
	return def
}

// CheckServer opens and immediately closes a TCP connection to host:port,
// returning true on success. It is static in the sense that it needs no
// Session instance, mirroring spec §4.3's check_server(host).
func CheckServer(host string, port int, timeout time.Duration) bool {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Connect starts the Router and waits for the first general status, or the
// configured timeout, whichever comes first. Calling Connect while already
// connected is a no-op, per spec §8's idempotence law.
func (s *Session) Connect(host string) error {
	s.connMu.Lock()
	if s.router != nil && s.router.Connected() {
		s.connMu.Unlock()
		return nil
	}
	s.connMu.Unlock()

	server := s.cfg.Server
	if host != "" {
		server = host
	}

	debugPath := ""
	if s.cfg.Debug {
		debugPath = s.cfg.DebugLogPath
		if debugPath == "" {
			debugPath = "raw.log"
		}
	}

	router, err := transport.Start(server, s.cfg.Port, s.cfg.ConnectTimeout, debugPath)
	if err != nil {
		s.errs.setLast(err.Error())
		return err
	}

	s.connMu.Lock()
	s.router = router
	s.connMu.Unlock()

	if err := s.ReqAvailableStreams(); err != nil {
		s.errs.setLast(err.Error())
		return err
	}

	deadline := time.Now().Add(s.cfg.Timeout)
	for s.lastGeneralEquals(time.Time{}) {
		if time.Now().After(deadline) {
			err := fmt.Errorf("%w: no status response within %s", common.ErrTimeout, s.cfg.Timeout)
			s.errs.setLast(err.Error())
			return err
		}
		if _, procErr := s.ProcessMessages(100 * time.Millisecond); procErr != nil {
			return procErr
		}
	}
	return nil
}

// Connected reports whether the Router is alive and the socket is connected.
func (s *Session) Connected() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.router != nil && s.router.Connected()
}

// Disconnect closes every subscribed stream, signals the Router to shut
// down, waits up to cfg.Timeout for it to exit, and clears all caches.
func (s *Session) Disconnect() error {
	s.connMu.Lock()
	router := s.router
	s.connMu.Unlock()
	if router == nil {
		return nil
	}

	s.cacheMu.RLock()
	names := make([]string, 0, len(s.subscribed))
	for name := range s.subscribed {
		names = append(names, name)
	}
	s.cacheMu.RUnlock()
	for _, name := range names {
		_ = s.ReqCloseStream(name)
	}

	router.Shutdown()

	select {
	case <-router.Done():
	case <-time.After(s.cfg.Timeout):
		log.WithFields(s.LogTags).Warn("Router did not exit in time, forcing disconnect state")
	}

	s.connMu.Lock()
	s.router = nil
	s.connMu.Unlock()

	s.cacheMu.Lock()
	s.streams = map[string]*StreamStatus{}
	s.subscribed = map[string]string{}
	s.buffers = map[string]*bytes.Buffer{}
	s.lastGeneral = time.Time{}
	s.cacheMu.Unlock()
	return nil
}

// ProcessMessages drains all inbound frames currently queued, bounded by
// timeout (or cfg.Timeout if zero), dispatching each by identifier per the
// table in spec §4.3. It returns the number of frames processed.
func (s *Session) ProcessMessages(timeout time.Duration) (int, error) {
	s.connMu.Lock()
	router := s.router
	s.connMu.Unlock()
	if router == nil {
		return 0, nil
	}
	if timeout == 0 {
		timeout = s.cfg.Timeout
	}

	processed := 0
	budget := time.After(timeout)
	for {
		select {
		case delivery := <-router.Inbound():
			if delivery.Err != nil {
				s.errs.append(delivery.Err.Error())
			} else if err := s.dispatchFrame(delivery.Frame); err != nil {
				s.errs.append(err.Error())
			}
			processed++
			if delivery.Remaining == 0 {
				return processed, nil
			}
		case <-budget:
			return processed, nil
		}
	}
}

func (s *Session) dispatchFrame(f wire.Frame) error {
	variant := toVariant(f)
	return s.dispatcher.ProcessNewTaskParam(variant)
}

// ReqAvailableStreams sends a `status` request. It does not wait for a reply.
func (s *Session) ReqAvailableStreams() error {
	return s.send(wire.NewStatusRequest())
}

// ReadAvailableStreams returns the cached list of stream names.
func (s *Session) ReadAvailableStreams() []string {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	names := make([]string, 0, len(s.streams))
	for name := range s.streams {
		names = append(names, name)
	}
	return names
}

// AvailableStreams refreshes the cached stream list if it is older than
// cfg.StatusLifetime or absent, waiting up to 2*cfg.Timeout for the refresh,
// then returns the cache regardless of whether the refresh arrived in time
// (spec's boundary behavior: a missed refresh leaves the prior cache intact).
func (s *Session) AvailableStreams() []string {
	s.cacheMu.RLock()
	stale := s.lastGeneral.IsZero() || time.Since(s.lastGeneral) > s.cfg.StatusLifetime
	before := s.lastGeneral
	s.cacheMu.RUnlock()
	if stale {
		if err := s.ReqAvailableStreams(); err != nil {
			s.errs.setLast(err.Error())
			return s.ReadAvailableStreams()
		}
		deadline := time.Now().Add(2 * s.cfg.Timeout)
		for s.lastGeneralEquals(before) {
			if time.Now().After(deadline) {
				s.errs.append("timed out waiting for status refresh")
				break
			}
			if _, err := s.ProcessMessages(1 * time.Second); err != nil {
				break
			}
		}
	}
	return s.ReadAvailableStreams()
}

// lastGeneralEquals reports whether lastGeneral still matches t, guarding
// the read against dispatch.go's handlers updating it concurrently.
func (s *Session) lastGeneralEquals(t time.Time) bool {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.lastGeneral.Equal(t)
}

// ReqOpenStream sends an `open` request for name with the given permissions
// (space-separated subset of "read"/"write"; defaults to "read").
func (s *Session) ReqOpenStream(name, mode string) error {
	if name == "" {
		err := fmt.Errorf("%w: stream name is required", common.ErrConfig)
		s.errs.setLast(err.Error())
		return err
	}
	upper := strings.ToUpper(name)
	s.cacheMu.RLock()
	_, known := s.streams[upper]
	s.cacheMu.RUnlock()
	if !known {
		err := fmt.Errorf("%w: unknown stream %q", common.ErrConfig, upper)
		s.errs.setLast(err.Error())
		return err
	}
	if mode == "" {
		mode = "read"
	}
	id := uuid.New().String()
	log.WithFields(s.LogTags).Debugf("[%s] opening %s mode=%s", id, upper, mode)
	return s.send(wire.NewOpenRequest(upper, mode))
}

// ReqCloseStream sends a `close` request for name. A close on an
// unsubscribed stream is a no-op, per spec §8's idempotence law.
func (s *Session) ReqCloseStream(name string) error {
	upper := strings.ToUpper(name)
	s.cacheMu.RLock()
	_, subscribed := s.subscribed[upper]
	s.cacheMu.RUnlock()
	if !subscribed {
		return nil
	}
	id := uuid.New().String()
	log.WithFields(s.LogTags).Debugf("[%s] closing %s", id, upper)
	return s.send(wire.NewCloseRequest(upper))
}

// Subscribe refreshes status, opens name with mode, and waits up to
// cfg.Timeout for the server to confirm a mode containing every requested
// permission.
func (s *Session) Subscribe(name, mode string) error {
	s.AvailableStreams()
	upper := strings.ToUpper(name)
	if mode == "" {
		mode = "read"
	}
	s.openFailure = ""
	if err := s.ReqOpenStream(upper, mode); err != nil {
		return err
	}

	deadline := time.Now().Add(s.cfg.Timeout)
	for {
		s.cacheMu.RLock()
		confirmed, ok := s.subscribed[upper]
		s.cacheMu.RUnlock()
		if ok {
			if modeGrants(confirmed, mode) {
				return nil
			}
			err := fmt.Errorf("%w: server confirmed %q, requested %q", common.ErrSubscribe, confirmed, mode)
			s.errs.setLast(err.Error())
			return err
		}
		if s.openFailure != "" {
			err := fmt.Errorf("%w: %s", common.ErrSubscribe, s.openFailure)
			s.openFailure = ""
			s.errs.setLast(err.Error())
			return err
		}
		if time.Now().After(deadline) {
			err := fmt.Errorf("%w: no open acknowledgement for %s", common.ErrTimeout, upper)
			s.errs.setLast(err.Error())
			return err
		}
		if _, err := s.ProcessMessages(200 * time.Millisecond); err != nil {
			return err
		}
	}
}

// StreamInfo returns a deep copy of the cached descriptor for name, so the
// caller can hold onto it without racing a later status refresh that
// mutates the same *StreamStatus in place.
func (s *Session) StreamInfo(name string) (StreamStatus, bool) {
	s.cacheMu.RLock()
	entry, exists := s.streams[strings.ToUpper(name)]
	s.cacheMu.RUnlock()
	if !exists {
		return StreamStatus{}, false
	}
	var out StreamStatus
	if err := common.DeepCopy(entry, &out); err != nil {
		return StreamStatus{}, false
	}
	return out, true
}

// SubscribedStreams returns a read-only snapshot of the subscription cache.
func (s *Session) SubscribedStreams() map[string]string {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	out := make(map[string]string, len(s.subscribed))
	for k, v := range s.subscribed {
		out[k] = v
	}
	return out
}

// ReadStream drains inbound frames for up to ~300ms, then returns and clears
// the named stream's receive buffer, optionally prefixing every line with a
// timestamp (spec §9's resolved prefix-on-line-start rule).
func (s *Session) ReadStream(name string) string {
	_, _ = s.ProcessMessages(300 * time.Millisecond)

	upper := strings.ToUpper(name)
	s.cacheMu.Lock()
	buf, exists := s.buffers[upper]
	var raw string
	if exists {
		raw = buf.String()
		buf.Reset()
	}
	s.cacheMu.Unlock()
	if !exists {
		return ""
	}

	if !s.cfg.TimestampData || raw == "" {
		return raw
	}
	return timestampLines(raw, s.cfg.TimestampFmt)
}

// WriteStream sends a `write` request for name, rejecting the call if the
// session is not subscribed for write.
func (s *Session) WriteStream(name, data string) error {
	upper := strings.ToUpper(name)
	s.cacheMu.RLock()
	mode, subscribed := s.subscribed[upper]
	s.cacheMu.RUnlock()
	if !subscribed || !modeGrants(mode, "write") {
		err := fmt.Errorf("%w: %s", common.ErrNotSubscribed, upper)
		s.errs.setLast(err.Error())
		return err
	}
	return s.send(wire.NewWriteRequest(upper, data+"\r\n"))
}

// GetError returns the concatenation of the most recent single-shot error
// and any queued fail strings, then clears both.
func (s *Session) GetError() string {
	return s.errs.drain()
}

// Stats returns a read-only snapshot of server-reported general status.
func (s *Session) Stats() Stats {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return Stats{
		Uptime:          s.uptime,
		ClientCount:     s.clientCount,
		LastGeneralAt:   s.lastGeneral,
		GeneralStatusOK: !s.lastGeneral.IsZero(),
	}
}

func (s *Session) send(f wire.Frame) error {
	s.connMu.Lock()
	router := s.router
	s.connMu.Unlock()
	if router == nil {
		err := fmt.Errorf("%w: not connected", common.ErrConnect)
		s.errs.setLast(err.Error())
		return err
	}
	select {
	case router.Outbound() <- f:
		return nil
	case <-time.After(s.cfg.Timeout):
		err := fmt.Errorf("%w: outbound queue full", common.ErrTimeout)
		s.errs.setLast(err.Error())
		return err
	}
}

func newLineBuffer() *bytes.Buffer {
	return &bytes.Buffer{}
}
