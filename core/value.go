package core

import (
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

// LookupPath resolves a dotted path (e.g. "user.id") against a structured
// evaluation context. It returns the structpb.Value at the end of the path
// and true if every segment resolved; otherwise it returns (nil, false): a
// missing path or a non-struct intermediate counts as "not resolved". A
// path that ends on a struct resolves to that struct value, which
// CanonicalTerminal then rejects.
func LookupPath(ctx *structpb.Struct, path string) (*structpb.Value, bool) {
	if ctx == nil || path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")
	cur := ctx
	for i, seg := range segments {
		if cur == nil {
			return nil, false
		}
		v, ok := cur.GetFields()[seg]
		if !ok {
			return nil, false
		}
		if i == len(segments)-1 {
			return v, true
		}
		structVal := v.GetStructValue()
		if structVal == nil {
			return nil, false
		}
		cur = structVal
	}
	return nil, false
}
