package wire

import (
	"errors"
	"testing"

	"github.com/alwitt/consoled/common"
	"github.com/stretchr/testify/assert"
)

func TestEncodeAppendsTerminatorAndVersion(t *testing.T) {
	assert := assert.New(t)

	f := NewOpenRequest("CONSOLE1", "read")
	encoded, err := Encode(f)
	assert.Nil(err)
	assert.True(len(encoded) >= 2)
	assert.Equal(byte(0x0D), encoded[len(encoded)-2])
	assert.Equal(byte(0x0A), encoded[len(encoded)-1])

	decoded, err := Decode(encoded[:len(encoded)-2])
	assert.Nil(err)
	assert.Equal(ProtocolVersion, decoded.Version)
	assert.Equal("open", decoded.Identifier)
	stream, ok := decoded.Get("stream")
	assert.True(ok)
	assert.Equal("CONSOLE1", stream)
}

func TestEncodeWrapsErrEncodeOnMarshalFailure(t *testing.T) {
	assert := assert.New(t)

	f := newFrame("write", map[string]interface{}{"stream": "A", "data": make(chan int)})
	_, err := Encode(f)
	assert.NotNil(err)
	assert.True(errors.Is(err, common.ErrEncode))
}

func TestDecodeRejectsNonObject(t *testing.T) {
	assert := assert.New(t)

	_, err := Decode([]byte(`"just a string"`))
	assert.NotNil(err)

	_, err = Decode([]byte(`not json at all`))
	assert.NotNil(err)
}

func TestValidateRequiresVersionAndIdentifier(t *testing.T) {
	assert := assert.New(t)

	// Missing version
	f, err := Decode([]byte(`{"identifier":"status"}`))
	assert.Nil(err)
	assert.NotNil(Validate(f))

	// Missing identifier
	f, err = Decode([]byte(`{"version":0.51}`))
	assert.Nil(err)
	assert.NotNil(Validate(f))

	// Unsupported major version
	f, err = Decode([]byte(`{"version":1.0,"identifier":"status"}`))
	assert.Nil(err)
	assert.NotNil(Validate(f))

	// Valid
	f, err = Decode([]byte(`{"version":0.51,"identifier":"status"}`))
	assert.Nil(err)
	assert.Nil(Validate(f))
}

func TestDecodeLineRoundTrip(t *testing.T) {
	assert := assert.New(t)

	original := NewWriteRequest("A", "hello\r\n")
	encoded, err := Encode(original)
	assert.Nil(err)

	line := encoded[:len(encoded)-2]
	decoded, err := DecodeLine(line)
	assert.Nil(err)
	assert.Equal(original.Identifier, decoded.Identifier)
	assert.Equal(original.Version, decoded.Version)
	stream, _ := decoded.Get("stream")
	data, _ := decoded.Get("data")
	assert.Equal("A", stream)
	assert.Equal("hello\r\n", data)
}
