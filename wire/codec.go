// Package wire implements the consoled line-delimited JSON protocol: a pure,
// stateless codec shared by the Router and the Client Session so neither has
// to coordinate with the other about framing or validation.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/alwitt/consoled/common"
	"github.com/go-playground/validator/v10"
)

// frameEnvelope is a validator-tagged shadow of Frame's required fields.
// Validate runs it through go-playground/validator as a second, declarative
// check layered on top of the manual hasVersion/major-version gate below,
// the same belt-and-suspenders pattern the teacher applies to its REST
// request bodies.
type frameEnvelope struct {
	Identifier string  `validate:"required"`
	Version    float64 `validate:"gte=0"`
}

var envelopeValidator = validator.New()

// MajorVersion is the major protocol version this library speaks.
const MajorVersion = 0

// MinorVersion is the minor protocol version this library speaks.
const MinorVersion = 51

// ProtocolVersion is the numeric wire encoding of MajorVersion.MinorVersion,
// e.g. 0.51, per the "MAJOR + MINOR/100" rule.
const ProtocolVersion = float64(MajorVersion) + float64(MinorVersion)/100

// terminator is the exact frame delimiter the wire protocol requires.
var terminator = []byte{0x0D, 0x0A}

// Frame is one decoded JSON object. Fields beyond version/identifier are
// kept as a generic bag because the identifier determines which subset is
// meaningful; typed accessors below narrow a Frame into the variant its
// identifier promises.
type Frame struct {
	Version    float64
	Identifier string
	Fields     map[string]interface{}

	hasVersion bool
}

// Get returns a named field as a string, with an ok flag.
func (f Frame) Get(key string) (string, bool) {
	v, found := f.Fields[key]
	if !found {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// newFrame builds an outbound frame, stamping it with the local protocol version.
func newFrame(identifier string, fields map[string]interface{}) Frame {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	return Frame{Version: ProtocolVersion, Identifier: identifier, Fields: fields, hasVersion: true}
}

// NewStatusRequest builds a client->server `status` frame.
func NewStatusRequest() Frame {
	return newFrame("status", nil)
}

// NewOpenRequest builds a client->server `open` frame.
func NewOpenRequest(stream, mode string) Frame {
	return newFrame("open", map[string]interface{}{"stream": stream, "mode": mode})
}

// NewCloseRequest builds a client->server `close` frame.
func NewCloseRequest(stream string) Frame {
	return newFrame("close", map[string]interface{}{"stream": stream})
}

// NewWriteRequest builds a client->server `write` frame. The caller is
// responsible for having already appended the CRLF terminator to data, per
// the protocol's "library appends CRLF to data" rule.
func NewWriteRequest(stream, data string) Frame {
	return newFrame("write", map[string]interface{}{"stream": stream, "data": data})
}

// NewPingResponse builds the autonomous client->server reply to a ping-request.
func NewPingResponse() Frame {
	return newFrame("ping-response", nil)
}

// Encode serializes a Frame to a CRLF-terminated JSON line.
func Encode(f Frame) ([]byte, error) {
	payload := map[string]interface{}{}
	for k, v := range f.Fields {
		payload[k] = v
	}
	payload["version"] = ProtocolVersion
	payload["identifier"] = f.Identifier

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrEncode, err.Error())
	}
	out := make([]byte, 0, len(body)+len(terminator))
	out = append(out, body...)
	out = append(out, terminator...)
	return out, nil
}

// Decode parses one JSON object (without its terminator) into a Frame. It
// does not validate required fields; call Validate for that.
func Decode(line []byte) (Frame, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(line, &raw); err != nil {
		return Frame{}, fmt.Errorf("%w: malformed json: %s", common.ErrProtocol, err.Error())
	}
	if raw == nil {
		return Frame{}, fmt.Errorf("%w: empty frame", common.ErrProtocol)
	}

	f := Frame{Fields: map[string]interface{}{}}
	for k, v := range raw {
		switch k {
		case "version":
			num, ok := v.(float64)
			if !ok {
				return Frame{}, fmt.Errorf("%w: version is not numeric", common.ErrProtocol)
			}
			f.Version = num
			f.hasVersion = true
		case "identifier":
			id, ok := v.(string)
			if !ok {
				return Frame{}, fmt.Errorf("%w: identifier is not a string", common.ErrProtocol)
			}
			f.Identifier = id
		default:
			f.Fields[k] = v
		}
	}
	return f, nil
}

// Validate checks that f carries the required version and identifier fields
// and that its major version is one this library can understand.
func Validate(f Frame) error {
	if !f.hasVersion {
		return fmt.Errorf("%w: missing version", common.ErrProtocol)
	}
	if f.Identifier == "" {
		return fmt.Errorf("%w: missing identifier", common.ErrProtocol)
	}
	if err := envelopeValidator.Struct(frameEnvelope{Identifier: f.Identifier, Version: f.Version}); err != nil {
		return fmt.Errorf("%w: %s", common.ErrProtocol, err.Error())
	}
	major := int(f.Version)
	if major > MajorVersion {
		return fmt.Errorf(
			"%w: unsupported major version %d", common.ErrProtocol, major,
		)
	}
	return nil
}

// DecodeLine is the common Router/test entry point: decode followed by validate.
func DecodeLine(line []byte) (Frame, error) {
	f, err := Decode(line)
	if err != nil {
		return Frame{}, err
	}
	if err := Validate(f); err != nil {
		return Frame{}, err
	}
	return f, nil
}
