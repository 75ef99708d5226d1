package core

import "context"

// MaterializationReadMode controls how a rule's materialization interacts
// with live evaluation.
type MaterializationReadMode struct {
	// MaterializationMustMatch closes intake: the unit must already be
	// recorded as a member of the read materialization for the rule to
	// match at all. With it false, new assignments are still permitted.
	MaterializationMustMatch bool

	// SegmentTargetingCanBeIgnored lets a recorded audience inclusion
	// stand in for the rule's current segment membership check when no
	// per-rule assignment exists yet. A recorded assignment is always
	// honored regardless of this flag: intake is closed on it and there
	// is nothing else to fall back to.
	SegmentTargetingCanBeIgnored bool
}

// MaterializationSpec marks a rule as reading and/or writing a named
// materialization. Read and Write may name the same materialization,
// different ones, or be empty independently.
type MaterializationSpec struct {
	Read  string
	Write string
	Mode  MaterializationReadMode
}

// MaterializationInfo is the caller-supplied (or reader-supplied) record
// for one (unit, materialization) pair: whether the unit is recorded as
// included in the audience, and the prior variant per rule.
type MaterializationInfo struct {
	Included      bool
	RuleToVariant map[string]string
}

// MaterializationMap indexes supplied materialization records by unit and
// then by materialization name.
type MaterializationMap map[string]map[string]MaterializationInfo

// Lookup returns the record for (unit, materialization), if supplied.
func (m MaterializationMap) Lookup(unit, materialization string) (MaterializationInfo, bool) {
	info, ok := m[unit][materialization]
	return info, ok
}

// StickyWrite is one (write_materialization, unit, rule, variant) record
// the caller must persist after a live assignment under a rule with a
// write materialization.
type StickyWrite struct {
	Materialization string
	Unit            string
	FlagName        string
	RuleName        string
	Variant         string
}

// StickyRequest identifies a rule whose decision was deferred because the
// required materialization was not available locally.
type StickyRequest struct {
	FlagName        string
	RuleName        string
	Unit            string
	Materialization string
}

// MaterializationReader lets a Resolver satisfy a sticky read locally
// instead of deferring to the caller. Implementations may be backed by a
// local cache (see hostshim's LRU reader) or a remote store; ok=false
// means the reader has no record for this (unit, materialization) pair.
type MaterializationReader interface {
	ReadMaterialization(ctx context.Context, unit, materialization string) (info MaterializationInfo, ok bool, err error)
}

// stickyDecision is the outcome of consulting a rule's materialization
// before bucketing.
type stickyDecision int

const (
	// stickyLive: live bucketing is permitted for this rule.
	stickyLive stickyDecision = iota
	// stickyHonor: a prior assignment exists and must be served as-is.
	stickyHonor
	// stickyMiss: the rule cannot match (intake closed and no prior
	// assignment to honor).
	stickyMiss
	// stickySegmentMiss: live evaluation would be permitted but the
	// segment excludes the unit; counts toward no_segment_match.
	stickySegmentMiss
	// stickyNeedsRemote: no local record; the caller must be asked.
	stickyNeedsRemote
)

// decide applies the materialization read protocol for one rule.
// segmentMember is the current segment membership of the unit; haveInfo
// is false when neither the request nor a reader produced a record for
// the read materialization.
func (spec *MaterializationSpec) decide(info MaterializationInfo, haveInfo bool, ruleName string, segmentMember bool) (stickyDecision, string) {
	if !haveInfo {
		return stickyNeedsRemote, ""
	}

	if info.Included {
		if v, ok := info.RuleToVariant[ruleName]; ok {
			// Intake is closed on a recorded assignment: it is served
			// as-is, and current segment membership no longer
			// participates.
			return stickyHonor, v
		}
		// Included in the audience, but no prior assignment under this
		// rule. With intake closed there is nothing to honor and nothing
		// new may be assigned, regardless of SegmentTargetingCanBeIgnored.
		if spec.Mode.MaterializationMustMatch {
			return stickyMiss, ""
		}
		// The recorded inclusion can stand in for the live segment check
		// when the rule allows it.
		if !segmentMember && !spec.Mode.SegmentTargetingCanBeIgnored {
			return stickySegmentMiss, ""
		}
		return stickyLive, ""
	}

	// Recorded as not included.
	if spec.Mode.MaterializationMustMatch {
		return stickyMiss, ""
	}
	if !segmentMember {
		return stickySegmentMiss, ""
	}
	return stickyLive, ""
}
