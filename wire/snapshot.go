package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// BucketRange is the wire form of core.BucketRange: [Lower, Upper).
type BucketRange struct {
	Lower, Upper uint32
}

// Assignment is the wire form of core.Assignment. An empty Variant
// means the NoVariant target.
type Assignment struct {
	ID      string
	Variant string
	Ranges  []BucketRange
}

// AssignmentSpec is the wire form of core.AssignmentSpec.
type AssignmentSpec struct {
	BucketCount uint32
	Assignments []Assignment
}

// MaterializationSpec is the wire form of core.MaterializationSpec.
type MaterializationSpec struct {
	Read                         string
	Write                        string
	MaterializationMustMatch     bool
	SegmentTargetingCanBeIgnored bool
}

// Predicate is the wire form of core.Predicate.
type Predicate struct {
	Path   string
	Values []string
}

// Rule is the wire form of core.Rule.
type Rule struct {
	Name                 string
	Segment              string
	Enabled              bool
	TargetingKeySelector string
	Predicates           []Predicate
	AssignmentSpec       *AssignmentSpec
	MaterializationSpec  *MaterializationSpec
}

// Variant pairs a variant name with its structured payload and schema.
type Variant struct {
	Name   string
	Value  *structpb.Struct
	Schema *structpb.Struct
}

// Flag is the wire form of core.Flag. State uses core.FlagState's
// numbering; ClientNames is the flag's authorized-clients set.
type Flag struct {
	Name        string
	State       int32
	Variants    []Variant
	Rules       []Rule
	ClientNames []string
}

// Segment is the wire form of core.Segment. Kind selects how Words
// should be interpreted: 0 = packed bits, 1 = full, 2 = empty.
type Segment struct {
	Name  string
	Kind  int32
	Size  uint64
	Words []uint64
}

// Credential is the wire form of core.Credential.
type Credential struct {
	Name   string
	Secret string
}

// Client is the wire form of core.Client.
type Client struct {
	Name        string
	Credentials []Credential
}

// Snapshot is the wire form of core.Snapshot's install inputs:
// everything the host-compiled state needs to carry for InstallSnapshot
// to build an evaluable Snapshot.
type Snapshot struct {
	Clients   []Client
	Segments  []Segment
	Flags     []Flag
	AccountID string
}

const (
	fieldBRLower = 1
	fieldBRUpper = 2

	fieldAssignID      = 1
	fieldAssignVariant = 2
	fieldAssignRanges  = 3

	fieldASBucketCount = 1
	fieldASAssignments = 2

	fieldMSRead      = 1
	fieldMSWrite     = 2
	fieldMSMustMatch = 3
	fieldMSIgnorable = 4

	fieldPredPath   = 1
	fieldPredValues = 2

	fieldRuleName     = 1
	fieldRuleSegment  = 2
	fieldRuleEnabled  = 3
	fieldRuleSelector = 4
	fieldRulePreds    = 5
	fieldRuleAssign   = 6
	fieldRuleSticky   = 7

	fieldVariantName   = 1
	fieldVariantValue  = 2
	fieldVariantSchema = 3

	fieldFlagName    = 1
	fieldFlagState   = 2
	fieldFlagVariant = 3
	fieldFlagRule    = 4
	fieldFlagClients = 5

	fieldSegName  = 1
	fieldSegKind  = 2
	fieldSegSize  = 3
	fieldSegWords = 4

	fieldCredName   = 1
	fieldCredSecret = 2

	fieldClientName = 1
	fieldClientCred = 2

	fieldSnapClients  = 1
	fieldSnapSegments = 2
	fieldSnapFlags    = 3
	fieldSnapAccount  = 4
)

func marshalBucketRange(r BucketRange) []byte {
	var b []byte
	b = appendVarintField(b, fieldBRLower, uint64(r.Lower))
	b = appendVarintField(b, fieldBRUpper, uint64(r.Upper))
	return b
}

func unmarshalBucketRange(buf []byte) (BucketRange, error) {
	var r BucketRange
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		var v uint64
		switch num {
		case fieldBRLower:
			n, err := consumeVarint(data, &v)
			r.Lower = uint32(v)
			return n, err
		case fieldBRUpper:
			n, err := consumeVarint(data, &v)
			r.Upper = uint32(v)
			return n, err
		}
		return 0, nil
	})
	return r, err
}

func marshalAssignment(a Assignment) []byte {
	var b []byte
	b = appendStringField(b, fieldAssignID, a.ID)
	b = appendStringField(b, fieldAssignVariant, a.Variant)
	for _, r := range a.Ranges {
		b = appendMessageField(b, fieldAssignRanges, marshalBucketRange(r))
	}
	return b
}

func unmarshalAssignment(buf []byte) (Assignment, error) {
	var a Assignment
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldAssignID:
			return consumeString(data, &a.ID)
		case fieldAssignVariant:
			return consumeString(data, &a.Variant)
		case fieldAssignRanges:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			r, err := unmarshalBucketRange(sub)
			if err != nil {
				return 0, err
			}
			a.Ranges = append(a.Ranges, r)
			return n, nil
		}
		return 0, nil
	})
	return a, err
}

func marshalAssignmentSpec(a *AssignmentSpec) []byte {
	if a == nil {
		return nil
	}
	var b []byte
	b = appendVarintField(b, fieldASBucketCount, uint64(a.BucketCount))
	for _, as := range a.Assignments {
		b = appendMessageField(b, fieldASAssignments, marshalAssignment(as))
	}
	return b
}

func unmarshalAssignmentSpec(buf []byte) (*AssignmentSpec, error) {
	a := &AssignmentSpec{}
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldASBucketCount:
			var v uint64
			n, err := consumeVarint(data, &v)
			a.BucketCount = uint32(v)
			return n, err
		case fieldASAssignments:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			as, err := unmarshalAssignment(sub)
			if err != nil {
				return 0, err
			}
			a.Assignments = append(a.Assignments, as)
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func marshalMaterializationSpec(m *MaterializationSpec) []byte {
	if m == nil {
		return nil
	}
	var b []byte
	b = appendStringField(b, fieldMSRead, m.Read)
	b = appendStringField(b, fieldMSWrite, m.Write)
	b = appendBoolField(b, fieldMSMustMatch, m.MaterializationMustMatch)
	b = appendBoolField(b, fieldMSIgnorable, m.SegmentTargetingCanBeIgnored)
	return b
}

func unmarshalMaterializationSpec(buf []byte) (*MaterializationSpec, error) {
	m := &MaterializationSpec{}
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldMSRead:
			return consumeString(data, &m.Read)
		case fieldMSWrite:
			return consumeString(data, &m.Write)
		case fieldMSMustMatch:
			return consumeBool(data, &m.MaterializationMustMatch)
		case fieldMSIgnorable:
			return consumeBool(data, &m.SegmentTargetingCanBeIgnored)
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func marshalPredicate(p Predicate) []byte {
	var b []byte
	b = appendStringField(b, fieldPredPath, p.Path)
	for _, v := range p.Values {
		b = appendStringField(b, fieldPredValues, v)
	}
	return b
}

func unmarshalPredicate(buf []byte) (Predicate, error) {
	var p Predicate
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldPredPath:
			return consumeString(data, &p.Path)
		case fieldPredValues:
			var s string
			n, err := consumeString(data, &s)
			if err == nil {
				p.Values = append(p.Values, s)
			}
			return n, err
		}
		return 0, nil
	})
	return p, err
}

func marshalRule(r Rule) []byte {
	var b []byte
	b = appendStringField(b, fieldRuleName, r.Name)
	b = appendStringField(b, fieldRuleSegment, r.Segment)
	b = appendBoolField(b, fieldRuleEnabled, r.Enabled)
	b = appendStringField(b, fieldRuleSelector, r.TargetingKeySelector)
	for _, p := range r.Predicates {
		b = appendMessageField(b, fieldRulePreds, marshalPredicate(p))
	}
	if sub := marshalAssignmentSpec(r.AssignmentSpec); sub != nil {
		b = appendMessageField(b, fieldRuleAssign, sub)
	}
	if sub := marshalMaterializationSpec(r.MaterializationSpec); sub != nil {
		b = appendMessageField(b, fieldRuleSticky, sub)
	}
	return b
}

func unmarshalRule(buf []byte) (Rule, error) {
	var r Rule
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldRuleName:
			return consumeString(data, &r.Name)
		case fieldRuleSegment:
			return consumeString(data, &r.Segment)
		case fieldRuleEnabled:
			return consumeBool(data, &r.Enabled)
		case fieldRuleSelector:
			return consumeString(data, &r.TargetingKeySelector)
		case fieldRulePreds:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			p, err := unmarshalPredicate(sub)
			if err != nil {
				return 0, err
			}
			r.Predicates = append(r.Predicates, p)
			return n, nil
		case fieldRuleAssign:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			spec, err := unmarshalAssignmentSpec(sub)
			if err != nil {
				return 0, err
			}
			r.AssignmentSpec = spec
			return n, nil
		case fieldRuleSticky:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			spec, err := unmarshalMaterializationSpec(sub)
			if err != nil {
				return 0, err
			}
			r.MaterializationSpec = spec
			return n, nil
		}
		return 0, nil
	})
	return r, err
}

func marshalVariant(v Variant) []byte {
	var b []byte
	b = appendStringField(b, fieldVariantName, v.Name)
	if v.Value != nil {
		data, _ := proto.Marshal(v.Value)
		b = appendMessageField(b, fieldVariantValue, data)
	}
	if v.Schema != nil {
		data, _ := proto.Marshal(v.Schema)
		b = appendMessageField(b, fieldVariantSchema, data)
	}
	return b
}

func unmarshalVariant(buf []byte) (Variant, error) {
	var v Variant
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldVariantName:
			return consumeString(data, &v.Name)
		case fieldVariantValue:
			return consumeStruct(data, &v.Value)
		case fieldVariantSchema:
			return consumeStruct(data, &v.Schema)
		}
		return 0, nil
	})
	return v, err
}

func marshalFlag(f Flag) []byte {
	var b []byte
	b = appendStringField(b, fieldFlagName, f.Name)
	b = appendVarintField(b, fieldFlagState, uint64(f.State))
	for _, v := range f.Variants {
		b = appendMessageField(b, fieldFlagVariant, marshalVariant(v))
	}
	for _, r := range f.Rules {
		b = appendMessageField(b, fieldFlagRule, marshalRule(r))
	}
	for _, c := range f.ClientNames {
		b = appendStringField(b, fieldFlagClients, c)
	}
	return b
}

func unmarshalFlag(buf []byte) (Flag, error) {
	var f Flag
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldFlagName:
			return consumeString(data, &f.Name)
		case fieldFlagState:
			var v uint64
			n, err := consumeVarint(data, &v)
			f.State = int32(v)
			return n, err
		case fieldFlagVariant:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			v, err := unmarshalVariant(sub)
			if err != nil {
				return 0, err
			}
			f.Variants = append(f.Variants, v)
			return n, nil
		case fieldFlagRule:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			r, err := unmarshalRule(sub)
			if err != nil {
				return 0, err
			}
			f.Rules = append(f.Rules, r)
			return n, nil
		case fieldFlagClients:
			var s string
			n, err := consumeString(data, &s)
			if err == nil {
				f.ClientNames = append(f.ClientNames, s)
			}
			return n, err
		}
		return 0, nil
	})
	return f, err
}

func marshalSegment(s Segment) []byte {
	var b []byte
	b = appendStringField(b, fieldSegName, s.Name)
	b = appendVarintField(b, fieldSegKind, uint64(s.Kind))
	b = appendVarintField(b, fieldSegSize, s.Size)
	for _, w := range s.Words {
		b = appendVarintField(b, fieldSegWords, w)
	}
	return b
}

func unmarshalSegment(buf []byte) (Segment, error) {
	var s Segment
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldSegName:
			return consumeString(data, &s.Name)
		case fieldSegKind:
			var v uint64
			n, err := consumeVarint(data, &v)
			s.Kind = int32(v)
			return n, err
		case fieldSegSize:
			return consumeVarint(data, &s.Size)
		case fieldSegWords:
			var v uint64
			n, err := consumeVarint(data, &v)
			if err == nil {
				s.Words = append(s.Words, v)
			}
			return n, err
		}
		return 0, nil
	})
	return s, err
}

func marshalCredential(c Credential) []byte {
	var b []byte
	b = appendStringField(b, fieldCredName, c.Name)
	b = appendStringField(b, fieldCredSecret, c.Secret)
	return b
}

func unmarshalCredential(buf []byte) (Credential, error) {
	var c Credential
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldCredName:
			return consumeString(data, &c.Name)
		case fieldCredSecret:
			return consumeString(data, &c.Secret)
		}
		return 0, nil
	})
	return c, err
}

func marshalClient(c Client) []byte {
	var b []byte
	b = appendStringField(b, fieldClientName, c.Name)
	for _, cred := range c.Credentials {
		b = appendMessageField(b, fieldClientCred, marshalCredential(cred))
	}
	return b
}

func unmarshalClient(buf []byte) (Client, error) {
	var c Client
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldClientName:
			return consumeString(data, &c.Name)
		case fieldClientCred:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			cred, err := unmarshalCredential(sub)
			if err != nil {
				return 0, err
			}
			c.Credentials = append(c.Credentials, cred)
			return n, nil
		}
		return 0, nil
	})
	return c, err
}

// Marshal encodes a compiled Snapshot.
func (m *Snapshot) Marshal() ([]byte, error) {
	var b []byte
	for _, c := range m.Clients {
		b = appendMessageField(b, fieldSnapClients, marshalClient(c))
	}
	for _, s := range m.Segments {
		b = appendMessageField(b, fieldSnapSegments, marshalSegment(s))
	}
	for _, f := range m.Flags {
		b = appendMessageField(b, fieldSnapFlags, marshalFlag(f))
	}
	b = appendStringField(b, fieldSnapAccount, m.AccountID)
	return b, nil
}

// Unmarshal decodes a compiled Snapshot.
func (m *Snapshot) Unmarshal(buf []byte) error {
	*m = Snapshot{}
	return scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldSnapClients:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			c, err := unmarshalClient(sub)
			if err != nil {
				return 0, err
			}
			m.Clients = append(m.Clients, c)
			return n, nil
		case fieldSnapSegments:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			s, err := unmarshalSegment(sub)
			if err != nil {
				return 0, err
			}
			m.Segments = append(m.Segments, s)
			return n, nil
		case fieldSnapFlags:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			f, err := unmarshalFlag(sub)
			if err != nil {
				return 0, err
			}
			m.Flags = append(m.Flags, f)
			return n, nil
		case fieldSnapAccount:
			return consumeString(data, &m.AccountID)
		}
		return 0, nil
	})
}
