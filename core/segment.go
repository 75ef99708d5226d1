package core

import "google.golang.org/protobuf/types/known/structpb"

// SegmentMember reports whether targetingKey is a member of the named
// segment in this snapshot. An empty name means the rule applies
// to everyone. An unknown segment name is "not a member"; InstallSnapshot
// already logged and pruned dangling references, so by the time evaluation
// runs this is unreachable, but the check stays defensive at this layer.
func (s *Snapshot) SegmentMember(segName, targetingKey string) bool {
	if segName == "" {
		return true
	}
	seg, ok := s.Segments[segName]
	if !ok {
		return false
	}
	hash := SegmentMembershipHash(targetingKey, seg.bitsetSize())
	return seg.Bitset.Member(hash)
}

// ruleMatchesContext composes a rule's segment bitset with its predicate
// layers: the conjunction short-circuits, and predicates are
// checked in declaration order only after the bitset admits the unit.
func (s *Snapshot) ruleMatchesContext(r *Rule, targetingKey string, evalCtx *structpb.Struct) bool {
	if !s.SegmentMember(r.Segment, targetingKey) {
		return false
	}
	for _, p := range r.Predicates {
		if !p.matches(evalCtx) {
			return false
		}
	}
	return true
}

// matches reports whether the context value at p.Path canonicalizes to
// one of p.Values. A missing path or a non-canonicalizable terminal is
// "not a match", never an error: predicates gate audiences, they do not
// invalidate the evaluation the way a broken targeting key does.
func (p Predicate) matches(evalCtx *structpb.Struct) bool {
	v, ok := LookupPath(evalCtx, p.Path)
	if !ok {
		return false
	}
	got, ok := CanonicalTerminal(v)
	if !ok {
		return false
	}
	for _, want := range p.Values {
		if got == want {
			return true
		}
	}
	return false
}

// bitsetSize reports the membership space size for the segment's bitset,
// needed to compute a stable membership hash for packedBits segments.
// Full/Empty segments have no meaningful size; 0 is returned and Member
// ignores it in those cases.
func (seg *Segment) bitsetSize() uint64 {
	if seg.Bitset.kind == packedBits {
		return seg.Bitset.size
	}
	return 0
}
