package core

import (
	"context"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("structpb.NewStruct: %v", err)
	}
	return s
}

func tutorialFlag(t *testing.T) (*Snapshot, *Flag) {
	t.Helper()
	snap := &Snapshot{Segments: map[string]*Segment{
		"segments/everyone": {Name: "segments/everyone", Bitset: FullBitset()},
	}}
	flag := &Flag{
		Name:  "flags/tutorial-feature",
		State: FlagStateActive,
		Variants: map[string]*Variant{
			"flags/tutorial-feature/variants/on": {
				Name:  "flags/tutorial-feature/variants/on",
				Value: mustStruct(t, map[string]any{"enabled": true}),
			},
			"flags/tutorial-feature/variants/off": {
				Name:  "flags/tutorial-feature/variants/off",
				Value: mustStruct(t, map[string]any{"enabled": false}),
			},
		},
		Rules: []*Rule{{
			Name:                 "flags/tutorial-feature/rules/r1",
			Segment:              "segments/everyone",
			Enabled:              true,
			TargetingKeySelector: "visitor_id",
			AssignmentSpec: &AssignmentSpec{
				BucketCount: 2,
				Assignments: []Assignment{
					{ID: "a-on", Variant: "flags/tutorial-feature/variants/on", Ranges: []BucketRange{{Lower: 0, Upper: 1}}},
					{ID: "a-off", Variant: "flags/tutorial-feature/variants/off", Ranges: []BucketRange{{Lower: 1, Upper: 2}}},
				},
			},
		}},
	}
	return snap, flag
}

// A single rule on a full-audience segment with two variants split
// across the bucket space resolves deterministically for a given unit.
func TestEvaluateFlagHappyMatch(t *testing.T) {
	snap, flag := tutorialFlag(t)
	evalCtx := mustStruct(t, map[string]any{"visitor_id": "tutorial_visitor"})

	rv := snap.EvaluateFlag(context.Background(), flag, evalCtx, EvalOptions{})
	if rv.Reason != ReasonMatch {
		t.Fatalf("Reason = %v, want match", rv.Reason)
	}
	// "tutorial_visitor" buckets to 0 under this rule (golden vector in
	// targeting_test.go), which lands in the "on" range.
	if rv.Variant != "flags/tutorial-feature/variants/on" {
		t.Fatalf("Variant = %q, want the on variant", rv.Variant)
	}
	if rv.AssignmentID != "a-on" {
		t.Fatalf("AssignmentID = %q, want a-on", rv.AssignmentID)
	}
	if rv.Value == nil || !rv.Value.GetFields()["enabled"].GetBoolValue() {
		t.Fatalf("expected the variant's typed value, got %v", rv.Value)
	}
	if rv.TargetingKey != "tutorial_visitor" {
		t.Fatalf("TargetingKey = %q", rv.TargetingKey)
	}

	// Determinism.
	rv2 := snap.EvaluateFlag(context.Background(), flag, evalCtx, EvalOptions{})
	if rv2.Variant != rv.Variant {
		t.Fatalf("bucketing is not stable: got %q then %q", rv.Variant, rv2.Variant)
	}
}

func TestEvaluateFlagArchived(t *testing.T) {
	snap, flag := tutorialFlag(t)
	flag.State = FlagStateArchived
	evalCtx := mustStruct(t, map[string]any{"visitor_id": "tutorial_visitor"})

	rv := snap.EvaluateFlag(context.Background(), flag, evalCtx, EvalOptions{})
	if rv.Reason != ReasonFlagArchived {
		t.Fatalf("Reason = %v, want flag_archived", rv.Reason)
	}
	if rv.Variant != "" {
		t.Fatalf("expected no variant for an archived flag")
	}
}

func TestEvaluateFlagTargetingKeyError(t *testing.T) {
	snap, flag := tutorialFlag(t)
	evalCtx := mustStruct(t, map[string]any{"visitor_id": 3.14159})

	rv := snap.EvaluateFlag(context.Background(), flag, evalCtx, EvalOptions{})
	if rv.Reason != ReasonTargetingKeyError {
		t.Fatalf("Reason = %v, want targeting_key_error for a fractional key", rv.Reason)
	}
}

func TestEvaluateFlagDisabledRuleIsSkipped(t *testing.T) {
	snap, flag := tutorialFlag(t)
	flag.Rules[0].Enabled = false
	evalCtx := mustStruct(t, map[string]any{"visitor_id": "tutorial_visitor"})

	rv := snap.EvaluateFlag(context.Background(), flag, evalCtx, EvalOptions{})
	if rv.Reason != ReasonNoTreatmentMatch {
		t.Fatalf("Reason = %v, want no_treatment_match when the only rule is disabled", rv.Reason)
	}
}

func TestEvaluateFlagNoSegmentMatch(t *testing.T) {
	snap, flag := tutorialFlag(t)
	snap.Segments["segments/nobody"] = &Segment{Name: "segments/nobody", Bitset: EmptyBitset()}
	flag.Rules[0].Segment = "segments/nobody"
	evalCtx := mustStruct(t, map[string]any{"visitor_id": "tutorial_visitor"})

	rv := snap.EvaluateFlag(context.Background(), flag, evalCtx, EvalOptions{})
	if rv.Reason != ReasonNoSegmentMatch {
		t.Fatalf("Reason = %v, want no_segment_match", rv.Reason)
	}
}

func TestEvaluateFlagBucketGapFallsThrough(t *testing.T) {
	snap, flag := tutorialFlag(t)
	// First rule's ranges cover nothing; the second rule assigns everyone.
	flag.Rules[0].AssignmentSpec.Assignments = []Assignment{
		{ID: "a-gap", Variant: "flags/tutorial-feature/variants/on", Ranges: nil},
	}
	flag.Rules = append(flag.Rules, &Rule{
		Name:                 "flags/tutorial-feature/rules/r2",
		Segment:              "segments/everyone",
		Enabled:              true,
		TargetingKeySelector: "visitor_id",
		AssignmentSpec: &AssignmentSpec{
			BucketCount: 1,
			Assignments: []Assignment{
				{ID: "a-all", Variant: "flags/tutorial-feature/variants/off", Ranges: []BucketRange{{Lower: 0, Upper: 1}}},
			},
		},
	})
	evalCtx := mustStruct(t, map[string]any{"visitor_id": "tutorial_visitor"})

	rv := snap.EvaluateFlag(context.Background(), flag, evalCtx, EvalOptions{})
	if rv.Reason != ReasonMatch || rv.RuleName != "flags/tutorial-feature/rules/r2" {
		t.Fatalf("got (%v, %q), want the second rule to match after the gap", rv.Reason, rv.RuleName)
	}
}

func TestEvaluateFlagNoVariantTargetIsTerminal(t *testing.T) {
	snap, flag := tutorialFlag(t)
	flag.Rules[0].AssignmentSpec.Assignments = []Assignment{
		{ID: "a-hold", Variant: "", Ranges: []BucketRange{{Lower: 0, Upper: 2}}},
	}
	flag.Rules = append(flag.Rules, &Rule{
		Name:                 "flags/tutorial-feature/rules/r2",
		Enabled:              true,
		TargetingKeySelector: "visitor_id",
		AssignmentSpec: &AssignmentSpec{
			BucketCount: 1,
			Assignments: []Assignment{
				{ID: "a-all", Variant: "flags/tutorial-feature/variants/on", Ranges: []BucketRange{{Lower: 0, Upper: 1}}},
			},
		},
	})
	evalCtx := mustStruct(t, map[string]any{"visitor_id": "tutorial_visitor"})

	rv := snap.EvaluateFlag(context.Background(), flag, evalCtx, EvalOptions{})
	if rv.Reason != ReasonNoTreatmentMatch {
		t.Fatalf("Reason = %v, want a NoVariant target to terminate with no_treatment_match", rv.Reason)
	}
	if rv.RuleName != "flags/tutorial-feature/rules/r1" || rv.AssignmentID != "a-hold" {
		t.Fatalf("got (%q, %q), want the NoVariant assignment to be attributed", rv.RuleName, rv.AssignmentID)
	}
}

func TestEvaluateFlagPerRuleSelectors(t *testing.T) {
	snap, flag := tutorialFlag(t)
	flag.Rules[0].TargetingKeySelector = "user.id"
	evalCtx := mustStruct(t, map[string]any{
		"user": map[string]any{"id": "tutorial_visitor"},
	})

	rv := snap.EvaluateFlag(context.Background(), flag, evalCtx, EvalOptions{})
	if rv.Reason != ReasonMatch || rv.TargetingKey != "tutorial_visitor" {
		t.Fatalf("got (%v, %q), want the dotted selector to resolve", rv.Reason, rv.TargetingKey)
	}
}

func stickyTestFlag(t *testing.T, mode MaterializationReadMode) (*Snapshot, *Flag) {
	t.Helper()
	snap := &Snapshot{Segments: map[string]*Segment{
		"segments/everyone": {Name: "segments/everyone", Bitset: FullBitset()},
	}}
	flag := &Flag{
		Name:  "flags/sticky-test-flag",
		State: FlagStateActive,
		Variants: map[string]*Variant{
			"flags/sticky-test-flag/variants/on": {
				Name:  "flags/sticky-test-flag/variants/on",
				Value: mustStruct(t, map[string]any{"enabled": true}),
			},
		},
		Rules: []*Rule{{
			Name:                 "flags/sticky-test-flag/rules/sticky-rule",
			Segment:              "segments/everyone",
			Enabled:              true,
			TargetingKeySelector: "visitor_id",
			Materialization: &MaterializationSpec{
				Read:  "experiment_v1",
				Write: "experiment_v1",
				Mode:  mode,
			},
			AssignmentSpec: &AssignmentSpec{
				BucketCount: 1,
				Assignments: []Assignment{
					{ID: "a1", Variant: "flags/sticky-test-flag/variants/on", Ranges: []BucketRange{{Lower: 0, Upper: 1}}},
				},
			},
		}},
	}
	return snap, flag
}

func TestEvaluateFlagStickyHonored(t *testing.T) {
	snap, flag := stickyTestFlag(t, MaterializationReadMode{MaterializationMustMatch: true})
	evalCtx := mustStruct(t, map[string]any{"visitor_id": "tutorial_visitor"})
	mats := MaterializationMap{
		"tutorial_visitor": {
			"experiment_v1": {
				Included:      true,
				RuleToVariant: map[string]string{"flags/sticky-test-flag/rules/sticky-rule": "flags/sticky-test-flag/variants/on"},
			},
		},
	}

	rv := snap.EvaluateFlag(context.Background(), flag, evalCtx, EvalOptions{Materializations: mats})
	if rv.Reason != ReasonMatch || rv.Variant != "flags/sticky-test-flag/variants/on" {
		t.Fatalf("got (%v, %q), want the sticky variant honored", rv.Reason, rv.Variant)
	}
	// No new write when the sticky record is already in place.
	if len(rv.StickyWrites) != 0 {
		t.Fatalf("StickyWrites = %+v, want none for an already-recorded assignment", rv.StickyWrites)
	}
}

func TestEvaluateFlagStickyIntakeClosed(t *testing.T) {
	snap, flag := stickyTestFlag(t, MaterializationReadMode{MaterializationMustMatch: true})
	evalCtx := mustStruct(t, map[string]any{"visitor_id": "tutorial_visitor"})
	mats := MaterializationMap{
		"tutorial_visitor": {
			"experiment_v1": {Included: false},
		},
	}

	rv := snap.EvaluateFlag(context.Background(), flag, evalCtx, EvalOptions{Materializations: mats})
	if rv.Reason != ReasonNoTreatmentMatch {
		t.Fatalf("Reason = %v, want the closed-intake rule to miss", rv.Reason)
	}
	if len(rv.StickyWrites) != 0 {
		t.Fatalf("StickyWrites = %+v, want none under closed intake", rv.StickyWrites)
	}
}

func TestEvaluateFlagStickyLiveAssignmentWrites(t *testing.T) {
	snap, flag := stickyTestFlag(t, MaterializationReadMode{})
	evalCtx := mustStruct(t, map[string]any{"visitor_id": "tutorial_visitor"})
	mats := MaterializationMap{
		"tutorial_visitor": {
			"experiment_v1": {Included: false},
		},
	}

	rv := snap.EvaluateFlag(context.Background(), flag, evalCtx, EvalOptions{Materializations: mats})
	if rv.Reason != ReasonMatch {
		t.Fatalf("Reason = %v, want a live assignment under open intake", rv.Reason)
	}
	want := StickyWrite{
		Materialization: "experiment_v1",
		Unit:            "tutorial_visitor",
		FlagName:        "flags/sticky-test-flag",
		RuleName:        "flags/sticky-test-flag/rules/sticky-rule",
		Variant:         "flags/sticky-test-flag/variants/on",
	}
	if len(rv.StickyWrites) != 1 || rv.StickyWrites[0] != want {
		t.Fatalf("StickyWrites = %+v, want [%+v]", rv.StickyWrites, want)
	}
}

func TestEvaluateFlagStickyFailFast(t *testing.T) {
	snap, flag := stickyTestFlag(t, MaterializationReadMode{MaterializationMustMatch: true})
	evalCtx := mustStruct(t, map[string]any{"visitor_id": "tutorial_visitor"})

	rv := snap.EvaluateFlag(context.Background(), flag, evalCtx, EvalOptions{FailFastOnSticky: true})
	if len(rv.NeedsSticky) != 1 {
		t.Fatalf("NeedsSticky = %+v, want exactly one deferred rule", rv.NeedsSticky)
	}
	need := rv.NeedsSticky[0]
	if need.RuleName != "flags/sticky-test-flag/rules/sticky-rule" || need.Materialization != "experiment_v1" || need.Unit != "tutorial_visitor" {
		t.Fatalf("NeedsSticky[0] = %+v", need)
	}
	if rv.Variant != "" || rv.Reason == ReasonMatch {
		t.Fatalf("expected no variant for a deferred flag")
	}
}

func TestEvaluateFlagStickyNotProcessSkipsRule(t *testing.T) {
	snap, flag := stickyTestFlag(t, MaterializationReadMode{MaterializationMustMatch: true})
	evalCtx := mustStruct(t, map[string]any{"visitor_id": "tutorial_visitor"})

	rv := snap.EvaluateFlag(context.Background(), flag, evalCtx, EvalOptions{NotProcessSticky: true})
	if len(rv.NeedsSticky) != 0 {
		t.Fatalf("NeedsSticky = %+v, want none in not-process mode", rv.NeedsSticky)
	}
	if rv.Reason != ReasonNoTreatmentMatch {
		t.Fatalf("Reason = %v, want the sticky rule silently skipped", rv.Reason)
	}
}

type mapReader struct {
	records map[string]MaterializationInfo
	calls   int
}

func (m *mapReader) ReadMaterialization(ctx context.Context, unit, materialization string) (MaterializationInfo, bool, error) {
	m.calls++
	info, ok := m.records[unit+"/"+materialization]
	return info, ok, nil
}

func TestEvaluateFlagStickyReaderFallback(t *testing.T) {
	snap, flag := stickyTestFlag(t, MaterializationReadMode{MaterializationMustMatch: true})
	evalCtx := mustStruct(t, map[string]any{"visitor_id": "tutorial_visitor"})
	reader := &mapReader{records: map[string]MaterializationInfo{
		"tutorial_visitor/experiment_v1": {
			Included:      true,
			RuleToVariant: map[string]string{"flags/sticky-test-flag/rules/sticky-rule": "flags/sticky-test-flag/variants/on"},
		},
	}}

	rv := snap.EvaluateFlag(context.Background(), flag, evalCtx, EvalOptions{Reader: reader})
	if rv.Reason != ReasonMatch || rv.Variant != "flags/sticky-test-flag/variants/on" {
		t.Fatalf("got (%v, %q), want the reader's record honored", rv.Reason, rv.Variant)
	}
	if reader.calls != 1 {
		t.Fatalf("reader.calls = %d, want 1", reader.calls)
	}
}

func TestEvaluateFlagFailFastSkipsReader(t *testing.T) {
	snap, flag := stickyTestFlag(t, MaterializationReadMode{MaterializationMustMatch: true})
	evalCtx := mustStruct(t, map[string]any{"visitor_id": "tutorial_visitor"})
	reader := &mapReader{records: map[string]MaterializationInfo{}}

	rv := snap.EvaluateFlag(context.Background(), flag, evalCtx, EvalOptions{FailFastOnSticky: true, Reader: reader})
	if reader.calls != 0 {
		t.Fatalf("reader.calls = %d, want the fail-fast caller to stay the authority", reader.calls)
	}
	if len(rv.NeedsSticky) != 1 {
		t.Fatalf("NeedsSticky = %+v, want the deferred rule surfaced", rv.NeedsSticky)
	}
}
