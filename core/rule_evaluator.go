package core

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"
)

// EvalOptions carries the per-request sticky context into rule
// evaluation.
type EvalOptions struct {
	Materializations MaterializationMap
	FailFastOnSticky bool
	NotProcessSticky bool
	Reader           MaterializationReader
}

// ResolvedValue is the per-flag outcome of evaluating a flag's rules. A
// non-empty NeedsSticky means the flag is unresolved: the caller must
// supply the named materializations and re-drive.
type ResolvedValue struct {
	FlagName     string
	RuleName     string
	AssignmentID string
	Variant      string
	TargetingKey string
	Value        *structpb.Struct
	Schema       *structpb.Struct
	Reason       ResolveReason

	StickyWrites []StickyWrite
	NeedsSticky  []StickyRequest
}

// EvaluateFlag walks f's rules in order and returns the first terminal
// outcome:
//
//  1. A non-active flag is flag_archived before any rule runs.
//  2. Per enabled rule: extract the targeting key via the rule's
//     selector (an invalid key is a terminal targeting_key_error for
//     the whole flag), test segment membership and predicates, and
//     consult the rule's materialization to pick live bucketing,
//     a prior sticky assignment, a forced miss, or a deferral.
//  3. Live bucketing finds the first assignment whose ranges contain
//     the bucket: a variant target matches, a NoVariant target is a
//     terminal no_treatment_match, and a gap falls through to the next
//     rule.
//  4. With every rule missed, the reason is no_segment_match if at
//     least one rule's audience excluded the unit, else
//     no_treatment_match.
func (s *Snapshot) EvaluateFlag(ctx context.Context, f *Flag, evalCtx *structpb.Struct, opts EvalOptions) ResolvedValue {
	if f.State != FlagStateActive {
		return ResolvedValue{FlagName: f.Name, Reason: ReasonFlagArchived}
	}

	sawSegmentMiss := false
	for _, r := range f.Rules {
		if !r.Enabled {
			continue
		}

		key, ok := ExtractTargetingKey(evalCtx, r.TargetingKeySelector)
		if !ok {
			return ResolvedValue{FlagName: f.Name, RuleName: r.Name, Reason: ReasonTargetingKeyError}
		}
		member := s.ruleMatchesContext(r, key, evalCtx)

		if r.Materialization == nil || r.Materialization.Read == "" {
			if !member {
				sawSegmentMiss = true
				continue
			}
			if rv, terminal := s.assignFromBuckets(f, r, key); terminal {
				return rv
			}
			continue
		}

		info, have := s.lookupMaterialization(ctx, opts, key, r.Materialization.Read)
		decision, stickyVariant := r.Materialization.decide(info, have, r.Name, member)
		switch decision {
		case stickyNeedsRemote:
			if opts.NotProcessSticky {
				continue
			}
			if opts.FailFastOnSticky {
				return ResolvedValue{
					FlagName: f.Name,
					NeedsSticky: []StickyRequest{{
						FlagName:        f.Name,
						RuleName:        r.Name,
						Unit:            key,
						Materialization: r.Materialization.Read,
					}},
				}
			}
			continue
		case stickyHonor:
			return s.materializeVariant(f, r, key, "", stickyVariant, nil)
		case stickyMiss:
			continue
		case stickySegmentMiss:
			sawSegmentMiss = true
			continue
		case stickyLive:
			if rv, terminal := s.assignFromBuckets(f, r, key); terminal {
				return rv
			}
			continue
		}
	}

	if sawSegmentMiss {
		return ResolvedValue{FlagName: f.Name, Reason: ReasonNoSegmentMatch}
	}
	return ResolvedValue{FlagName: f.Name, Reason: ReasonNoTreatmentMatch}
}

// lookupMaterialization resolves (unit, materialization) from the
// request's supplied records first, then from the configured reader. The
// reader is skipped in NotProcessSticky mode (the caller asked for a
// best-effort local answer) and in FailFastOnSticky mode (the caller is
// the authority and wants to be told what is missing).
func (s *Snapshot) lookupMaterialization(ctx context.Context, opts EvalOptions, unit, name string) (MaterializationInfo, bool) {
	if info, ok := opts.Materializations.Lookup(unit, name); ok {
		return info, true
	}
	if opts.Reader == nil || opts.NotProcessSticky || opts.FailFastOnSticky {
		return MaterializationInfo{}, false
	}
	info, ok, err := opts.Reader.ReadMaterialization(ctx, unit, name)
	if err != nil || !ok {
		return MaterializationInfo{}, false
	}
	return info, true
}

// assignFromBuckets buckets key under r and scans r's assignments in
// order for one whose ranges contain the bucket. terminal
// is false when the bucket fell into a gap and the next rule should run.
func (s *Snapshot) assignFromBuckets(f *Flag, r *Rule, key string) (ResolvedValue, bool) {
	spec := r.AssignmentSpec
	if spec == nil || len(spec.Assignments) == 0 {
		return ResolvedValue{}, false
	}
	bucket := BucketOf(key, r.Name, spec.BucketCount)
	for _, a := range spec.Assignments {
		for _, rng := range a.Ranges {
			if bucket < rng.Lower || bucket >= rng.Upper {
				continue
			}
			if a.Variant == "" {
				return ResolvedValue{
					FlagName:     f.Name,
					RuleName:     r.Name,
					AssignmentID: a.ID,
					TargetingKey: key,
					Reason:       ReasonNoTreatmentMatch,
				}, true
			}
			var writes []StickyWrite
			if r.Materialization != nil && r.Materialization.Write != "" {
				writes = []StickyWrite{{
					Materialization: r.Materialization.Write,
					Unit:            key,
					FlagName:        f.Name,
					RuleName:        r.Name,
					Variant:         a.Variant,
				}}
			}
			return s.materializeVariant(f, r, key, a.ID, a.Variant, writes), true
		}
	}
	return ResolvedValue{}, false
}

// materializeVariant assembles the matched outcome with the variant's
// typed value and schema. A sticky record can name a variant the flag no
// longer defines; the match is still honored, with no value payload.
func (s *Snapshot) materializeVariant(f *Flag, r *Rule, key, assignmentID, variant string, writes []StickyWrite) ResolvedValue {
	rv := ResolvedValue{
		FlagName:     f.Name,
		RuleName:     r.Name,
		AssignmentID: assignmentID,
		Variant:      variant,
		TargetingKey: key,
		Reason:       ReasonMatch,
		StickyWrites: writes,
	}
	if v, ok := f.Variants[variant]; ok {
		rv.Value = v.Value
		rv.Schema = v.Schema
	}
	return rv
}
