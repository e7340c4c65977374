package session

import (
	"sync"
	"testing"
	"time"

	"github.com/alwitt/consoled/testutil"
	"github.com/alwitt/consoled/wire"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func newConnectedSession(t *testing.T) (*Session, *testutil.FakeServer) {
	server := testutil.NewFakeServer(t)
	host, port := server.Addr()

	done := make(chan struct{})
	var s *Session
	var err error
	go func() {
		s, err = New(Config{Server: host, Port: port, Timeout: 2 * time.Second})
		close(done)
	}()

	server.AcceptClient()
	// The initial status request Connect sends.
	req := server.ReadFrame()
	if req.Identifier != "status" {
		t.Fatalf("expected status request, got %s", req.Identifier)
	}
	server.SendFrame(wire.Frame{
		Version:    wire.ProtocolVersion,
		Identifier: "ok",
		Fields: map[string]interface{}{
			"command":      "status",
			"streams":      []interface{}{"A", "B"},
			"uptime":       10,
			"client_count": 1,
		},
	})

	<-done
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return s, server
}

func TestLifecycleAvailableStreams(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	s, server := newConnectedSession(t)
	defer server.Close()
	defer func() { _ = s.Disconnect() }()

	streams := s.AvailableStreams()
	assert.ElementsMatch([]string{"A", "B"}, streams)
}

func TestSubscribeAndReadData(t *testing.T) {
	assert := assert.New(t)

	s, server := newConnectedSession(t)
	defer server.Close()
	defer func() { _ = s.Disconnect() }()

	done := make(chan error, 1)
	go func() { done <- s.Subscribe("A", "read") }()

	open := server.ReadFrame()
	assert.Equal("open", open.Identifier)
	stream, _ := open.Get("stream")
	assert.Equal("A", stream)

	server.SendFrame(wire.Frame{
		Version:    wire.ProtocolVersion,
		Identifier: "ok",
		Fields: map[string]interface{}{
			"command": "open", "stream": "A", "mode": "read",
		},
	})

	assert.Nil(<-done)

	server.SendFrame(wire.Frame{
		Version:    wire.ProtocolVersion,
		Identifier: "data",
		Fields:     map[string]interface{}{"stream": "A", "data": "hello\n"},
	})

	time.Sleep(50 * time.Millisecond)
	assert.Equal("hello\n", s.ReadStream("A"))
}

func TestWriteGuardWithoutSubscription(t *testing.T) {
	assert := assert.New(t)

	s, server := newConnectedSession(t)
	defer server.Close()
	defer func() { _ = s.Disconnect() }()

	err := s.WriteStream("A", "x")
	assert.NotNil(err)
}

func TestFailSurfacesThroughGetError(t *testing.T) {
	assert := assert.New(t)

	s, server := newConnectedSession(t)
	defer server.Close()
	defer func() { _ = s.Disconnect() }()

	done := make(chan error, 1)
	go func() { done <- s.Subscribe("A", "read") }()

	open := server.ReadFrame()
	assert.Equal("open", open.Identifier)

	server.SendFrame(wire.Frame{
		Version:    wire.ProtocolVersion,
		Identifier: "fail",
		Fields:     map[string]interface{}{"command": "open", "error": "no such stream"},
	})

	assert.NotNil(<-done)
	assert.Contains(s.GetError(), "open: no such stream")
	assert.Equal("", s.GetError())
}

func TestMalformedFrameSurfacesThroughGetError(t *testing.T) {
	assert := assert.New(t)

	s, server := newConnectedSession(t)
	defer server.Close()
	defer func() { _ = s.Disconnect() }()

	server.SendRaw(`{not json`)

	time.Sleep(50 * time.Millisecond)
	_, err := s.ProcessMessages(300 * time.Millisecond)
	assert.Nil(err)
	assert.NotEqual("", s.GetError())
	assert.Equal("", s.GetError())
}

func TestConcurrentStatusReadsDuringDispatch(t *testing.T) {
	assert := assert.New(t)

	s, server := newConnectedSession(t)
	defer server.Close()
	defer func() { _ = s.Disconnect() }()

	done := make(chan error, 1)
	go func() { done <- s.Subscribe("A", "read") }()

	open := server.ReadFrame()
	assert.Equal("open", open.Identifier)

	// Simulate cmd/mshell's --status-port goroutine hammering the caches from
	// a second goroutine while the open acknowledgement below is dispatched on
	// this one; without cacheMu this is a concurrent map read/write.
	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = s.ReadAvailableStreams()
				_ = s.SubscribedStreams()
				_ = s.Stats()
			}
		}
	}()

	server.SendFrame(wire.Frame{
		Version:    wire.ProtocolVersion,
		Identifier: "ok",
		Fields:     map[string]interface{}{"command": "open", "stream": "A", "mode": "read"},
	})

	assert.Nil(<-done)
	close(stop)
	readers.Wait()
}

func TestDisconnectClosesSubscriptions(t *testing.T) {
	assert := assert.New(t)

	s, server := newConnectedSession(t)
	defer server.Close()

	for _, name := range []string{"A", "B"} {
		done := make(chan error, 1)
		go func() { done <- s.Subscribe(name, "read") }()
		open := server.ReadFrame()
		stream, _ := open.Get("stream")
		server.SendFrame(wire.Frame{
			Version:    wire.ProtocolVersion,
			Identifier: "ok",
			Fields:     map[string]interface{}{"command": "open", "stream": stream, "mode": "read"},
		})
		assert.Nil(<-done)
	}

	closeDone := make(chan error, 1)
	go func() { closeDone <- s.Disconnect() }()

	seenCloses := map[string]bool{}
	for i := 0; i < 2; i++ {
		f := server.ReadFrame()
		assert.Equal("close", f.Identifier)
		stream, _ := f.Get("stream")
		seenCloses[stream] = true
	}
	assert.True(seenCloses["A"])
	assert.True(seenCloses["B"])

	<-closeDone
	assert.False(s.Connected())
	assert.Empty(s.SubscribedStreams())
}
