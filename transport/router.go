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

// Package transport owns the Router: the background activity that holds the
// TCP connection to a consoled server, services ping-requests on its own,
// and hands every other inbound frame to whichever activity owns the
// Client Session. It never touches Client Session state directly; the two
// sides communicate only through the channels returned from Start.
package transport

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/alwitt/consoled/common"
	"github.com/alwitt/consoled/wire"
	"github.com/apex/log"
)

// state is the Router's connection lifecycle, matching the spec's
// DISCONNECTED -> CONNECTING -> CONNECTED -> DRAINING -> TERMINATED machine.
type state int

const (
	stateDisconnected state = iota
	stateConnecting
	stateConnected
	stateDraining
	stateTerminated
)

// outboundBuffer and inboundBuffer size the channels connecting the Router
// to the application; generous enough that a burst of requests or stream
// data never blocks the reader/writer goroutines on the application keeping up.
const (
	outboundBuffer = 64
	inboundBuffer  = 256
)

// InboundDelivery is one frame handed to the application, tagged with a
// hint of how many more frames were already queued behind it at the moment
// of delivery so the Client Session's drain loop knows when to stop. Err is
// set instead of Frame when the line that arrived failed to decode or
// validate; spec §3's Error List is documented as drawn from "fail
// messages and internal decode errors," so a malformed frame is still
// delivered, not merely logged and discarded.
type InboundDelivery struct {
	Frame     wire.Frame
	Err       error
	Remaining int
}

// Router owns the TCP connection to a consoled server.
type Router struct {
	common.Component

	conn net.Conn

	outbound chan wire.Frame
	inbound  chan InboundDelivery
	shutdown chan struct{}
	done     chan struct{}

	writeMu sync.Mutex

	stateMu sync.Mutex
	st      state

	debugLog *log.Logger
}

// Start dials the consoled server and launches the Router's reader and
// writer goroutines. It blocks until the TCP handshake completes or
// connectTimeout elapses.
func Start(host string, port int, connectTimeout time.Duration, debugLogPath string) (*Router, error) {
	logTags := log.Fields{"module": "transport", "component": "router", "server": host}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrConnect, err.Error())
	}

	r := &Router{
		Component: common.Component{LogTags: logTags},
		conn:      conn,
		outbound:  make(chan wire.Frame, outboundBuffer),
		inbound:   make(chan InboundDelivery, inboundBuffer),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		st:        stateConnecting,
	}

	if debugLogPath != "" {
		logger, openErr := newRawFrameLogger(debugLogPath)
		if openErr != nil {
			log.WithError(openErr).WithFields(logTags).Warn("Unable to open raw frame log")
		} else {
			r.debugLog = logger
		}
	}

	r.setState(stateConnected)

	var wg sync.WaitGroup
	readErr := make(chan error, 1)
	wg.Add(2)
	go r.readLoop(&wg, readErr)
	go r.writeLoop(&wg, readErr)
	go func() {
		wg.Wait()
		close(r.done)
	}()

	return r, nil
}

// Outbound returns the channel the application submits fully-formed frames on.
func (r *Router) Outbound() chan<- wire.Frame {
	return r.outbound
}

// Inbound returns the channel the application drains decoded frames from.
func (r *Router) Inbound() <-chan InboundDelivery {
	return r.inbound
}

// Shutdown signals the Router to close the connection and exit. It does not
// block; use Done to wait for termination.
func (r *Router) Shutdown() {
	r.stateMu.Lock()
	if r.st == stateTerminated || r.st == stateDraining {
		r.stateMu.Unlock()
		return
	}
	r.st = stateDraining
	r.stateMu.Unlock()
	close(r.shutdown)
}

// Done reports when the Router's goroutines have fully exited.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// Connected reports whether the Router believes the socket is still usable.
func (r *Router) Connected() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.st == stateConnected
}

func (r *Router) setState(s state) {
	r.stateMu.Lock()
	r.st = s
	r.stateMu.Unlock()
}

// writeFrame encodes and writes a frame to the socket, serialized against
// concurrent writers (the write loop forwarding outbound frames and the
// read loop answering pings autonomously).
func (r *Router) writeFrame(f wire.Frame) error {
	encoded, err := wire.Encode(f)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_, err = r.conn.Write(encoded)
	return err
}

// readLoop reads frames off the socket, answers ping-requests autonomously,
// and delivers everything else to the inbound channel. It batches whatever
// is already buffered from the most recent socket read so InboundDelivery's
// Remaining hint reflects frames that arrived together.
func (r *Router) readLoop(wg *sync.WaitGroup, readErr chan<- error) {
	defer wg.Done()
	br := bufio.NewReader(r.conn)

	var pending []InboundDelivery
	flush := func() bool {
		for i := range pending {
			pending[i].Remaining = len(pending) - i - 1
			select {
			case r.inbound <- pending[i]:
			case <-r.shutdown:
				return false
			}
		}
		pending = pending[:0]
		return true
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			log.WithError(err).WithFields(r.LogTags).Info("Read loop exiting")
			readErr <- fmt.Errorf("%w: %s", common.ErrConnectionLost, err.Error())
			r.setState(stateDraining)
			return
		}

		trimmed := trimTerminator(line)
		if r.debugLog != nil {
			r.debugLog.WithFields(r.LogTags).Info(string(trimmed))
		}

		frame, decodeErr := wire.DecodeLine(trimmed)
		if decodeErr != nil {
			log.WithError(decodeErr).WithFields(r.LogTags).Warn("Dropping malformed frame")
			pending = append(pending, InboundDelivery{Err: decodeErr})
			if br.Buffered() == 0 {
				if !flush() {
					return
				}
			}
			select {
			case <-r.shutdown:
				return
			default:
			}
			continue
		}

		if frame.Identifier == "ping-request" {
			if err := r.writeFrame(wire.NewPingResponse()); err != nil {
				log.WithError(err).WithFields(r.LogTags).Warn("Failed to answer ping")
			}
			if br.Buffered() == 0 {
				if !flush() {
					return
				}
			}
			continue
		}

		pending = append(pending, InboundDelivery{Frame: frame})
		if br.Buffered() == 0 {
			if !flush() {
				return
			}
		}

		select {
		case <-r.shutdown:
			return
		default:
		}
	}
}

// writeLoop forwards outbound frames from the application to the socket and
// observes the shutdown signal and read-loop failures.
func (r *Router) writeLoop(wg *sync.WaitGroup, readErr <-chan error) {
	defer wg.Done()
	defer func() { _ = r.conn.Close() }()

	for {
		select {
		case f := <-r.outbound:
			if err := r.writeFrame(f); err != nil {
				log.WithError(err).WithFields(r.LogTags).Warn("Failed to write outbound frame")
			}
		case err := <-readErr:
			log.WithError(err).WithFields(r.LogTags).Warn("Connection lost")
			r.drainOutbound()
			r.setState(stateDraining)
			return
		case <-r.shutdown:
			log.WithFields(r.LogTags).Info("Shutdown signalled, draining")
			r.drainOutbound()
			r.setState(stateTerminated)
			return
		}
	}
}

// drainOutbound flushes anything already queued in the outbound channel to
// the socket before the Router exits, per the spec's "Shutdown: ... drains
// outbound, exits" — frames the application queued before signalling
// shutdown (e.g. the close requests Disconnect issues) are still delivered.
// Frames submitted after this returns can still land in the channel's
// buffer, but they are never written, since nothing reads Outbound() any more.
func (r *Router) drainOutbound() {
	for {
		select {
		case f := <-r.outbound:
			if err := r.writeFrame(f); err != nil {
				log.WithError(err).WithFields(r.LogTags).Warn("Failed to flush outbound frame during shutdown")
				return
			}
		default:
			return
		}
	}
}

// trimTerminator strips a trailing CRLF or LF left by bufio.ReadString.
func trimTerminator(line string) []byte {
	b := []byte(line)
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
