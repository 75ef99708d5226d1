package core

import (
	"encoding/binary"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"google.golang.org/protobuf/types/known/structpb"
)

// maxTargetingKeyLen is the longest string accepted at the targeting-key
// position; a longer value is a targeting_key_error rather than a
// truncation.
const maxTargetingKeyLen = 100

// ExtractTargetingKey resolves a rule's targeting-key selector against an
// evaluation context: the dotted path must resolve to a string of at most
// 100 Unicode scalar values, or an integral number,
// canonicalized to its decimal textual form without leading zeros. A
// fractional number, bool, list, map, null, a missing path, or a too-long
// string all report (_, false), which callers translate to
// ReasonTargetingKeyError.
func ExtractTargetingKey(ctx *structpb.Struct, selector string) (string, bool) {
	v, ok := LookupPath(ctx, selector)
	if !ok {
		return "", false
	}
	return CanonicalTerminal(v)
}

// CanonicalTerminal canonicalizes a terminal context value: strings pass
// through (bounded at 100 scalar values), integral numbers become their
// decimal form. Every other kind reports false.
func CanonicalTerminal(v *structpb.Value) (string, bool) {
	switch k := v.Kind.(type) {
	case *structpb.Value_StringValue:
		if utf8.RuneCountInString(k.StringValue) > maxTargetingKeyLen {
			return "", false
		}
		return k.StringValue, true
	case *structpb.Value_NumberValue:
		if math.Trunc(k.NumberValue) != k.NumberValue {
			// Fractional number: explicit targeting_key_error.
			return "", false
		}
		return strconv.FormatInt(int64(k.NumberValue), 10), true
	default:
		return "", false
	}
}

// BucketOf computes the stable per-rule bucket hash for a targeting key:
// xxhash64 of the key salted with the rule name, so the same unit buckets
// differently across rules that should not correlate.
//
// The high 7 bytes of the hash are interpreted as a big-endian integer and
// reduced modulo bucketCount to give a value in [0, bucketCount).
func BucketOf(targetingKey, ruleName string, bucketCount uint32) uint32 {
	if bucketCount == 0 {
		return 0
	}
	h := xxhash.New()
	h.WriteString(ruleName)
	h.WriteString("\x00")
	h.WriteString(targetingKey)
	sum := h.Sum(nil)

	var buf [8]byte
	copy(buf[1:], sum[:7])
	n := binary.BigEndian.Uint64(buf[:])
	return uint32(n % uint64(bucketCount))
}

// SegmentMembershipHash computes the hash used to test membership in a
// segment's PackedBitset. It is independent of any rule: segment
// membership must be stable regardless of which rule references the
// segment.
func SegmentMembershipHash(targetingKey string, bitsetSize uint64) uint64 {
	if bitsetSize == 0 {
		return 0
	}
	sum := xxhash.Sum64String(targetingKey)
	return sum % bitsetSize
}
