package session

import (
	"bytes"
	"testing"

	"github.com/alwitt/consoled/wire"
	"github.com/stretchr/testify/assert"
)

func TestToVariantStatusGeneral(t *testing.T) {
	assert := assert.New(t)

	f := wire.Frame{
		Identifier: "ok",
		Fields: map[string]interface{}{
			"command":      "status",
			"streams":      []interface{}{"a", "b"},
			"uptime":       float64(42),
			"client_count": float64(3),
		},
	}
	v := toVariant(f)
	general, ok := v.(okStatusGeneralVariant)
	assert.True(ok)
	assert.Equal([]string{"a", "b"}, general.Streams)
	assert.Equal(42, general.Uptime)
	assert.Equal(3, general.ClientCount)
}

func TestToVariantStatusStream(t *testing.T) {
	assert := assert.New(t)

	f := wire.Frame{
		Identifier: "ok",
		Fields: map[string]interface{}{
			"command":        "status",
			"stream":         "console1",
			"listener_count": float64(2),
			"writer":         "bob",
		},
	}
	v := toVariant(f)
	stream, ok := v.(okStatusStreamVariant)
	assert.True(ok)
	assert.Equal("CONSOLE1", stream.Stream)
	assert.Equal(2, stream.ListenerCount)
	assert.Equal("bob", stream.Writer)
}

func TestToVariantUnknownIdentifier(t *testing.T) {
	assert := assert.New(t)

	v := toVariant(wire.Frame{Identifier: "ping-request"})
	unknown, ok := v.(unknownVariant)
	assert.True(ok)
	assert.Equal("ping-request", unknown.Identifier)
}

func TestHandleDataDropsUnknownStream(t *testing.T) {
	assert := assert.New(t)

	s := &Session{buffers: map[string]*bytes.Buffer{}}
	err := s.handleData(dataVariant{Stream: "GHOST", Data: "x"})
	assert.Nil(err)
	_, exists := s.buffers["GHOST"]
	assert.False(exists)
}

func TestHandleOkStatusGeneralDropsMissingStreams(t *testing.T) {
	assert := assert.New(t)

	s := &Session{streams: map[string]*StreamStatus{
		"A": {Name: "A"},
		"B": {Name: "B"},
	}}
	err := s.handleOkStatusGeneral(okStatusGeneralVariant{Streams: []string{"A"}})
	assert.Nil(err)
	_, hasA := s.streams["A"]
	_, hasB := s.streams["B"]
	assert.True(hasA)
	assert.False(hasB)
}
