package core

import (
	"github.com/sirupsen/logrus"

	"confidence-resolver/wire"
)

// DecodeSnapshot parses a host-compiled snapshot payload and installs it,
// applying InstallSnapshot's validation rules. accountID is
// the request-level account the state was compiled for.
func DecodeSnapshot(raw []byte, accountID string, log *logrus.Logger) (*Snapshot, error) {
	var w wire.Snapshot
	if err := w.Unmarshal(raw); err != nil {
		return nil, err
	}
	if accountID == "" {
		accountID = w.AccountID
	}

	clients := make([]*Client, 0, len(w.Clients))
	for _, wc := range w.Clients {
		c := &Client{Name: wc.Name}
		for _, wcred := range wc.Credentials {
			c.Credentials = append(c.Credentials, &Credential{Name: wcred.Name, Secret: wcred.Secret})
		}
		clients = append(clients, c)
	}

	segments := make([]*Segment, 0, len(w.Segments))
	for _, ws := range w.Segments {
		seg := &Segment{Name: ws.Name}
		switch ws.Kind {
		case 1:
			seg.Bitset = FullBitset()
		case 2:
			seg.Bitset = EmptyBitset()
		default:
			seg.Bitset = NewPackedBitset(ws.Words, ws.Size)
		}
		segments = append(segments, seg)
	}

	flags := make([]*Flag, 0, len(w.Flags))
	for _, wf := range w.Flags {
		f := &Flag{
			Name:     wf.Name,
			State:    FlagState(wf.State),
			Variants: make(map[string]*Variant, len(wf.Variants)),
			Clients:  make(map[string]bool, len(wf.ClientNames)),
		}
		for _, wv := range wf.Variants {
			f.Variants[wv.Name] = &Variant{Name: wv.Name, Value: wv.Value, Schema: wv.Schema}
		}
		for _, name := range wf.ClientNames {
			f.Clients[name] = true
		}
		for _, wr := range wf.Rules {
			r := &Rule{
				Name:                 wr.Name,
				Segment:              wr.Segment,
				Enabled:              wr.Enabled,
				TargetingKeySelector: wr.TargetingKeySelector,
			}
			for _, wp := range wr.Predicates {
				r.Predicates = append(r.Predicates, Predicate{Path: wp.Path, Values: wp.Values})
			}
			if wr.AssignmentSpec != nil {
				r.AssignmentSpec = &AssignmentSpec{BucketCount: wr.AssignmentSpec.BucketCount}
				for _, wa := range wr.AssignmentSpec.Assignments {
					a := Assignment{ID: wa.ID, Variant: wa.Variant}
					for _, wrange := range wa.Ranges {
						a.Ranges = append(a.Ranges, BucketRange{Lower: wrange.Lower, Upper: wrange.Upper})
					}
					r.AssignmentSpec.Assignments = append(r.AssignmentSpec.Assignments, a)
				}
			}
			if wr.MaterializationSpec != nil {
				r.Materialization = &MaterializationSpec{
					Read:  wr.MaterializationSpec.Read,
					Write: wr.MaterializationSpec.Write,
					Mode: MaterializationReadMode{
						MaterializationMustMatch:     wr.MaterializationSpec.MaterializationMustMatch,
						SegmentTargetingCanBeIgnored: wr.MaterializationSpec.SegmentTargetingCanBeIgnored,
					},
				}
			}
			f.Rules = append(f.Rules, r)
		}
		flags = append(flags, f)
	}

	return InstallSnapshot(accountID, clients, segments, flags, log), nil
}
