package core

import (
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

// Golden vectors pinning the xxhash64 construction used for bucketing and
// segment membership. If these ever change,
// every sticky record ever written by a live deployment becomes invalid,
// so the construction itself, not just "a" deterministic hash, is
// covered here.
func TestBucketOfGoldenVectors(t *testing.T) {
	cases := []struct {
		rule, key string
		total     uint32
		want      uint32
	}{
		{"flags/tutorial-feature/rules/r1", "tutorial_visitor", 2, 0},
		{"flags/tutorial-feature/rules/r1", "visitor-42", 100, 0},
		{"rule-a", "unit-1", 10000, 7094},
	}
	for _, c := range cases {
		got := BucketOf(c.key, c.rule, c.total)
		if got != c.want {
			t.Fatalf("BucketOf(%q,%q,%d) = %d, want %d", c.key, c.rule, c.total, got, c.want)
		}
	}
}

func TestBucketOfIsDeterministic(t *testing.T) {
	a := BucketOf("unit-123", "flags/f/rules/r", 5000)
	b := BucketOf("unit-123", "flags/f/rules/r", 5000)
	if a != b {
		t.Fatalf("BucketOf must be deterministic: got %d then %d", a, b)
	}
}

func TestBucketOfSaltsByRuleName(t *testing.T) {
	a := BucketOf("unit-123", "rule-a", 1_000_000)
	b := BucketOf("unit-123", "rule-b", 1_000_000)
	if a == b {
		t.Fatalf("expected different rules to bucket the same unit differently (salting), got %d for both", a)
	}
}

func TestBucketOfZeroBucketsIsZero(t *testing.T) {
	if got := BucketOf("unit", "rule", 0); got != 0 {
		t.Fatalf("BucketOf with bucketCount=0 = %d, want 0", got)
	}
}

func TestSegmentMembershipHashGoldenVectors(t *testing.T) {
	cases := []struct {
		key  string
		size uint64
		want uint64
	}{
		{"tutorial_visitor", 1024, 651},
		{"unit-1", 256, 11},
	}
	for _, c := range cases {
		got := SegmentMembershipHash(c.key, c.size)
		if got != c.want {
			t.Fatalf("SegmentMembershipHash(%q,%d) = %d, want %d", c.key, c.size, got, c.want)
		}
	}
}

func TestSegmentMembershipHashZeroSize(t *testing.T) {
	if got := SegmentMembershipHash("x", 0); got != 0 {
		t.Fatalf("SegmentMembershipHash with size 0 = %d, want 0", got)
	}
}

func TestExtractTargetingKey(t *testing.T) {
	ctx, err := structpb.NewStruct(map[string]any{
		"visitor_id": "tutorial_visitor",
		"user": map[string]any{
			"id": "u-1",
		},
	})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	key, ok := ExtractTargetingKey(ctx, "visitor_id")
	if !ok || key != "tutorial_visitor" {
		t.Fatalf("ExtractTargetingKey = (%q, %v), want (tutorial_visitor, true)", key, ok)
	}

	key, ok = ExtractTargetingKey(ctx, "user.id")
	if !ok || key != "u-1" {
		t.Fatalf("ExtractTargetingKey(user.id) = (%q, %v), want (u-1, true)", key, ok)
	}
}

func TestExtractTargetingKeyMissingPath(t *testing.T) {
	ctx, _ := structpb.NewStruct(map[string]any{"other": "value"})
	if _, ok := ExtractTargetingKey(ctx, "visitor_id"); ok {
		t.Fatalf("expected a missing selector path to report false")
	}
}

func TestExtractTargetingKeyFractional(t *testing.T) {
	ctx, _ := structpb.NewStruct(map[string]any{"visitor_id": 3.14159})
	if _, ok := ExtractTargetingKey(ctx, "visitor_id"); ok {
		t.Fatalf("expected a fractional targeting key to report false (targeting_key_error)")
	}
}

func TestExtractTargetingKeyTooLong(t *testing.T) {
	long := make([]byte, 101)
	for i := range long {
		long[i] = 'a'
	}
	ctx, _ := structpb.NewStruct(map[string]any{"visitor_id": string(long)})
	if _, ok := ExtractTargetingKey(ctx, "visitor_id"); ok {
		t.Fatalf("expected a 101-character targeting key to report false")
	}
}

func TestExtractTargetingKeyInteger(t *testing.T) {
	ctx, _ := structpb.NewStruct(map[string]any{"visitor_id": 1234567890})
	key, ok := ExtractTargetingKey(ctx, "visitor_id")
	if !ok || key != "1234567890" {
		t.Fatalf("ExtractTargetingKey = (%q, %v), want (1234567890, true)", key, ok)
	}
}

func TestExtractTargetingKeyNegativeInteger(t *testing.T) {
	ctx, _ := structpb.NewStruct(map[string]any{"visitor_id": -42})
	key, ok := ExtractTargetingKey(ctx, "visitor_id")
	if !ok || key != "-42" {
		t.Fatalf("ExtractTargetingKey = (%q, %v), want (-42, true)", key, ok)
	}
}

func TestExtractTargetingKeyEmptyString(t *testing.T) {
	ctx, _ := structpb.NewStruct(map[string]any{"visitor_id": ""})
	key, ok := ExtractTargetingKey(ctx, "visitor_id")
	if !ok || key != "" {
		t.Fatalf("ExtractTargetingKey = (%q, %v), want an empty string accepted as a targeting key", key, ok)
	}
}

func TestExtractTargetingKeyWrongTerminalKinds(t *testing.T) {
	ctx, _ := structpb.NewStruct(map[string]any{
		"flag": true,
		"list": []any{"a"},
		"map":  map[string]any{"k": "v"},
		"null": nil,
	})
	for _, sel := range []string{"flag", "list", "map", "null"} {
		if _, ok := ExtractTargetingKey(ctx, sel); ok {
			t.Fatalf("expected selector %q to report false for a non-string non-integer terminal", sel)
		}
	}
}

func TestLookupPathDotted(t *testing.T) {
	ctx, err := structpb.NewStruct(map[string]any{
		"user": map[string]any{
			"id": "u-1",
		},
	})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	v, ok := LookupPath(ctx, "user.id")
	if !ok || v.GetStringValue() != "u-1" {
		t.Fatalf("LookupPath(user.id) = (%v, %v), want (u-1, true)", v, ok)
	}
}

func TestLookupPathMissingIntermediate(t *testing.T) {
	ctx, _ := structpb.NewStruct(map[string]any{"user": "not-a-struct"})
	if _, ok := LookupPath(ctx, "user.id"); ok {
		t.Fatalf("expected a non-struct intermediate to fail resolution")
	}
}

func TestLookupPathNilContext(t *testing.T) {
	if _, ok := LookupPath(nil, "anything"); ok {
		t.Fatalf("expected nil context to fail resolution")
	}
}
