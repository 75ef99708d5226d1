// Package wire implements the hand-written protobuf-wire encode/decode for
// the ABI message catalog, without protoc-generated code. Every
// message in the catalog is a flat struct with a Marshal/Unmarshal pair
// built on protowire, matching the length-prefixed framing the embedding
// ABI uses for guest/host calls.
package wire

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformedEnvelope is returned when a length-prefixed envelope cannot
// be parsed: truncated length, length longer than the remaining buffer,
// or a field tag that does not decode as valid protobuf wire data.
var ErrMalformedEnvelope = errors.New("wire: malformed envelope")

// Envelope is one varint-length-prefixed record as written by
// EncodeEnvelope; a flush_logs payload is a sequence of them, one per
// WriteFlagLogsRequest chunk.
type Envelope struct {
	Data []byte
}

// EncodeEnvelope frames payload as a single length-prefixed record.
func EncodeEnvelope(payload []byte) []byte {
	var buf []byte
	buf = protowire.AppendVarint(buf, uint64(len(payload)))
	buf = append(buf, payload...)
	return buf
}

// DecodeEnvelope parses one length-prefixed record from the front of buf
// and returns the payload plus the number of bytes consumed.
func DecodeEnvelope(buf []byte) (payload []byte, consumed int, err error) {
	n, width := protowire.ConsumeVarint(buf)
	if width < 0 {
		return nil, 0, ErrMalformedEnvelope
	}
	start := width
	end := start + int(n)
	if end < start || end > len(buf) {
		return nil, 0, ErrMalformedEnvelope
	}
	return buf[start:end], end, nil
}
