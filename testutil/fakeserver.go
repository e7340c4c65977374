// Package testutil provides a minimal in-process stand-in for a consoled
// server, used by transport and session tests to exercise the wire protocol
// without a real server binary.
package testutil

import (
	"bufio"
	"net"
	"testing"

	"github.com/alwitt/consoled/wire"
	"github.com/stretchr/testify/require"
)

// FakeServer accepts a single TCP connection and exposes line-level
// send/receive helpers against it.
type FakeServer struct {
	t        *testing.T
	listener net.Listener
	accepted chan net.Conn
	conn     net.Conn
	reader   *bufio.Reader
}

// NewFakeServer starts listening on an ephemeral loopback port.
func NewFakeServer(t *testing.T) *FakeServer {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	s := &FakeServer{t: t, listener: listener, accepted: make(chan net.Conn, 1)}
	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			s.accepted <- conn
		}
	}()
	return s
}

// Addr returns the loopback host and port the server is listening on.
func (s *FakeServer) Addr() (string, int) {
	tcpAddr := s.listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", tcpAddr.Port
}

// AcceptClient blocks until a client connects, then readies the server to
// exchange frames with it.
func (s *FakeServer) AcceptClient() {
	s.conn = <-s.accepted
	s.reader = bufio.NewReader(s.conn)
}

// SendFrame encodes and writes a frame to the connected client.
func (s *FakeServer) SendFrame(f wire.Frame) {
	encoded, err := wire.Encode(f)
	require.Nil(s.t, err)
	_, err = s.conn.Write(encoded)
	require.Nil(s.t, err)
}

// SendRaw writes a CRLF-terminated line verbatim, letting a test put a
// malformed or unsupported-version frame on the wire without going through
// wire.Encode's validation.
func (s *FakeServer) SendRaw(line string) {
	_, err := s.conn.Write(append([]byte(line), 0x0D, 0x0A))
	require.Nil(s.t, err)
}

// ReadFrame blocks for the next CRLF-terminated frame the client sends.
func (s *FakeServer) ReadFrame() wire.Frame {
	line, err := s.reader.ReadString('\n')
	require.Nil(s.t, err)
	trimmed := []byte(line)
	for len(trimmed) > 0 && (trimmed[len(trimmed)-1] == '\n' || trimmed[len(trimmed)-1] == '\r') {
		trimmed = trimmed[:len(trimmed)-1]
	}
	frame, err := wire.Decode(trimmed)
	require.Nil(s.t, err)
	return frame
}

// Close shuts the listener and any accepted connection down.
func (s *FakeServer) Close() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	_ = s.listener.Close()
}
