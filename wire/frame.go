package wire

import (
	"encoding/binary"

	"google.golang.org/protobuf/encoding/protowire"
)

// FrameHeaderLen is the size of the length header that precedes every
// buffer transferred across the sandbox boundary: at address A the
// payload begins, and at A-4 a little-endian u32 holds the total byte
// length including the header itself.
const FrameHeaderLen = 4

// Request is the envelope every call into the guest carries: a single
// opaque payload holding one of the request messages in the catalog.
type Request struct {
	Data []byte
}

// Response is the envelope every call out of the guest carries: either a
// payload holding one of the response messages, or an error string. A
// non-empty Error takes precedence over Data.
type Response struct {
	Data  []byte
	Error string
}

const (
	fieldRequestData = 1

	fieldResponseData  = 1
	fieldResponseError = 2
)

// Marshal encodes a Request.
func (m *Request) Marshal() ([]byte, error) {
	var b []byte
	b = appendBytesField(b, fieldRequestData, m.Data)
	return b, nil
}

// Unmarshal decodes a Request.
func (m *Request) Unmarshal(buf []byte) error {
	*m = Request{}
	return scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		if num == fieldRequestData {
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			m.Data = append([]byte(nil), sub...)
			return n, nil
		}
		return 0, nil
	})
}

// Marshal encodes a Response.
func (m *Response) Marshal() ([]byte, error) {
	var b []byte
	if m.Error != "" {
		b = appendStringField(b, fieldResponseError, m.Error)
		return b, nil
	}
	b = appendBytesField(b, fieldResponseData, m.Data)
	return b, nil
}

// Unmarshal decodes a Response.
func (m *Response) Unmarshal(buf []byte) error {
	*m = Response{}
	return scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldResponseData:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			m.Data = append([]byte(nil), sub...)
			return n, nil
		case fieldResponseError:
			return consumeString(data, &m.Error)
		}
		return 0, nil
	})
}

// EncodeFrame prefixes payload with its length header. The returned
// buffer holds the header at offset 0 and the payload at offset
// FrameHeaderLen; in linear memory the pointer handed across the
// boundary is the payload address, with the header just before it.
func EncodeFrame(payload []byte) []byte {
	out := make([]byte, FrameHeaderLen+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(len(payload)+FrameHeaderLen))
	copy(out[FrameHeaderLen:], payload)
	return out
}

// DecodeFrame validates the length header at the front of buf and
// returns the payload it delimits. A header shorter than 4 bytes, a
// total below the header size, or a total past the end of buf all
// return ErrMalformedEnvelope.
func DecodeFrame(buf []byte) ([]byte, error) {
	if len(buf) < FrameHeaderLen {
		return nil, ErrMalformedEnvelope
	}
	total := binary.LittleEndian.Uint32(buf)
	if total < FrameHeaderLen || uint64(total) > uint64(len(buf)) {
		return nil, ErrMalformedEnvelope
	}
	return buf[FrameHeaderLen:total], nil
}
