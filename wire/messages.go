package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ResolvedFlag is the wire form of one flag's resolution outcome. Schema
// is a passthrough for host-side type checks.
type ResolvedFlag struct {
	FlagName    string
	Variant     string
	RuleName    string
	Reason      int32
	Value       *structpb.Struct
	Schema      *structpb.Struct
	ShouldApply bool
}

// Sdk identifies the calling SDK for telemetry aggregation.
type Sdk struct {
	ID      string
	Version string
}

// ResolveFlagsRequest is guest_resolve's request payload. An empty
// FlagNames resolves every flag visible to ClientSecret.
type ResolveFlagsRequest struct {
	ClientSecret      string
	EvaluationContext *structpb.Struct
	FlagNames         []string
	Apply             bool
	Sdk               Sdk
}

// ResolveFlagsResponse is guest_resolve's response payload. Error
// is non-empty only for request-level failures; per-flag failures are
// carried as a ResolvedFlag with ReasonError.
type ResolveFlagsResponse struct {
	ResolveID    string
	Values       []ResolvedFlag
	ResolveToken []byte
	Error        string
}

// RuleVariant is one prior (rule -> variant) assignment inside a
// materialization record.
type RuleVariant struct {
	Rule    string
	Variant string
}

// MaterializationEntry is the record for one named materialization of one
// unit: audience inclusion plus prior per-rule assignments.
type MaterializationEntry struct {
	Name     string
	Included bool
	Rules    []RuleVariant
}

// UnitMaterializations carries every supplied materialization record for
// one unit.
type UnitMaterializations struct {
	Unit    string
	Entries []MaterializationEntry
}

// StickyWrite is one materialization write the caller must persist.
type StickyWrite struct {
	Materialization string
	Unit            string
	Flag            string
	Rule            string
	Variant         string
}

// StickyRequest identifies a rule whose decision was deferred for lack of
// a materialization record.
type StickyRequest struct {
	Flag            string
	Rule            string
	Unit            string
	Materialization string
}

// ResolveWithStickyRequest is guest_resolve_with_sticky's request payload.
type ResolveWithStickyRequest struct {
	Resolve          ResolveFlagsRequest
	Materializations []UnitMaterializations
	FailFastOnSticky bool
	NotProcessSticky bool
}

// ResolveWithStickyResponse is guest_resolve_with_sticky's response
// payload.
type ResolveWithStickyResponse struct {
	Resolve      ResolveFlagsResponse
	StickyWrites []StickyWrite
	NeedsSticky  []StickyRequest
}

// SetResolverStateRequest is guest_set_resolver_state's request payload.
// StateBytes is the host-compiled snapshot, opaque to this
// layer.
type SetResolverStateRequest struct {
	StateBytes []byte
	AccountID  string
}

// AppliedFlag is the wire form of one applied assignment.
type AppliedFlag struct {
	Flag         string
	Rule         string
	Variant      string
	AssignmentID string
	TargetingKey string
}

// FlagAssigned is the wire form of one apply event.
type FlagAssigned struct {
	ResolveID string
	Client    string
	Flags     []AppliedFlag
}

// FlagResolveInfo is the wire form of one aggregated per-flag counter.
type FlagResolveInfo struct {
	Flag         string
	Rule         string
	AssignmentID string
	Variant      string
	Reason       int32
	Count        uint64
}

// ClientResolveInfo is the wire form of one aggregated per-client counter.
type ClientResolveInfo struct {
	Client     string
	SdkID      string
	SdkVersion string
	Count      uint64
}

// TelemetryData is the wire form of one per-sdk request counter.
type TelemetryData struct {
	SdkID      string
	SdkVersion string
	Requests   uint64
}

// WriteFlagLogsRequest is guest_flush_logs's chunked output payload,
// named for the host-side write it triggers. The aggregate
// streams appear only on the first chunk of a flush.
type WriteFlagLogsRequest struct {
	Assigned       []FlagAssigned
	ClientResolves []ClientResolveInfo
	FlagResolves   []FlagResolveInfo
	Telemetry      []TelemetryData
	Final          bool
}

const (
	fieldResolveReqClientSecret = 1
	fieldResolveReqContext      = 2
	fieldResolveReqFlagNames    = 3
	fieldResolveReqApply        = 4
	fieldResolveReqSdkID        = 5
	fieldResolveReqSdkVersion   = 6

	fieldResolveRespID     = 1
	fieldResolveRespValues = 2
	fieldResolveRespError  = 3
	fieldResolveRespToken  = 4

	fieldResolvedFlagName        = 1
	fieldResolvedFlagVariant     = 2
	fieldResolvedFlagRule        = 3
	fieldResolvedFlagReason      = 4
	fieldResolvedFlagValue       = 5
	fieldResolvedFlagSchema      = 6
	fieldResolvedFlagShouldApply = 7

	fieldStickyReqResolve    = 1
	fieldStickyReqMats       = 2
	fieldStickyReqFailFast   = 3
	fieldStickyReqNotProcess = 4

	fieldStickyRespResolve = 1
	fieldStickyRespWrites  = 2
	fieldStickyRespNeeds   = 3

	fieldUnitMatsUnit    = 1
	fieldUnitMatsEntries = 2

	fieldMatEntryName     = 1
	fieldMatEntryIncluded = 2
	fieldMatEntryRules    = 3

	fieldRuleVariantRule    = 1
	fieldRuleVariantVariant = 2

	fieldStickyWriteMat     = 1
	fieldStickyWriteUnit    = 2
	fieldStickyWriteFlag    = 3
	fieldStickyWriteRule    = 4
	fieldStickyWriteVariant = 5

	fieldStickyReqFlag = 1
	fieldStickyReqRule = 2
	fieldStickyReqUnit = 3
	fieldStickyReqMat  = 4

	fieldSetStateBytes   = 1
	fieldSetStateAccount = 2

	fieldAppliedFlagFlag         = 1
	fieldAppliedFlagRule         = 2
	fieldAppliedFlagVariant      = 3
	fieldAppliedFlagAssignmentID = 4
	fieldAppliedFlagTargetingKey = 5

	fieldAssignedResolveID = 1
	fieldAssignedClient    = 2
	fieldAssignedFlags     = 3

	fieldFlagResolveFlag         = 1
	fieldFlagResolveRule         = 2
	fieldFlagResolveAssignmentID = 3
	fieldFlagResolveVariant      = 4
	fieldFlagResolveReason       = 5
	fieldFlagResolveCount        = 6

	fieldClientResolveClient     = 1
	fieldClientResolveSdkID      = 2
	fieldClientResolveSdkVersion = 3
	fieldClientResolveCount      = 4

	fieldTelemetrySdkID      = 1
	fieldTelemetrySdkVersion = 2
	fieldTelemetryRequests   = 3

	fieldLogReqAssigned       = 1
	fieldLogReqClientResolves = 2
	fieldLogReqFlagResolves   = 3
	fieldLogReqTelemetry      = 4
	fieldLogReqFinal          = 5
)

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, num protowire.Number, data []byte) []byte {
	if len(data) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, data)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarintField(b, num, 1)
}

func appendMessageField(b []byte, num protowire.Number, sub []byte) []byte {
	if sub == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, sub)
}

// scanFields walks the fields of one protobuf message, dispatching each
// to the caller and skipping unknown numbers, so every Unmarshal below
// shares one malformed-input path.
func scanFields(buf []byte, visit func(num protowire.Number, typ protowire.Type, data []byte) (int, error)) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return ErrMalformedEnvelope
		}
		buf = buf[n:]
		consumed, err := visit(num, typ, buf)
		if err != nil {
			return err
		}
		if consumed == 0 {
			consumed = protowire.ConsumeFieldValue(num, typ, buf)
		}
		if consumed < 0 {
			return ErrMalformedEnvelope
		}
		buf = buf[consumed:]
	}
	return nil
}

func consumeString(buf []byte, dst *string) (int, error) {
	s, n := protowire.ConsumeString(buf)
	if n < 0 {
		return 0, ErrMalformedEnvelope
	}
	*dst = s
	return n, nil
}

func consumeBool(buf []byte, dst *bool) (int, error) {
	v, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return 0, ErrMalformedEnvelope
	}
	*dst = v != 0
	return n, nil
}

func consumeVarint(buf []byte, dst *uint64) (int, error) {
	v, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return 0, ErrMalformedEnvelope
	}
	*dst = v
	return n, nil
}

func consumeStruct(buf []byte, dst **structpb.Struct) (int, error) {
	data, n := protowire.ConsumeBytes(buf)
	if n < 0 {
		return 0, ErrMalformedEnvelope
	}
	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return 0, err
	}
	*dst = s
	return n, nil
}

func consumeMessage(buf []byte) ([]byte, int, error) {
	data, n := protowire.ConsumeBytes(buf)
	if n < 0 {
		return nil, 0, ErrMalformedEnvelope
	}
	return data, n, nil
}

// Marshal encodes a ResolveFlagsRequest.
func (m *ResolveFlagsRequest) Marshal() ([]byte, error) {
	var b []byte
	b = appendStringField(b, fieldResolveReqClientSecret, m.ClientSecret)
	if m.EvaluationContext != nil {
		sub, err := proto.Marshal(m.EvaluationContext)
		if err != nil {
			return nil, err
		}
		b = appendMessageField(b, fieldResolveReqContext, sub)
	}
	for _, name := range m.FlagNames {
		b = appendStringField(b, fieldResolveReqFlagNames, name)
	}
	b = appendBoolField(b, fieldResolveReqApply, m.Apply)
	b = appendStringField(b, fieldResolveReqSdkID, m.Sdk.ID)
	b = appendStringField(b, fieldResolveReqSdkVersion, m.Sdk.Version)
	return b, nil
}

// Unmarshal decodes a ResolveFlagsRequest.
func (m *ResolveFlagsRequest) Unmarshal(buf []byte) error {
	*m = ResolveFlagsRequest{}
	return scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldResolveReqClientSecret:
			return consumeString(data, &m.ClientSecret)
		case fieldResolveReqContext:
			return consumeStruct(data, &m.EvaluationContext)
		case fieldResolveReqFlagNames:
			var s string
			n, err := consumeString(data, &s)
			if err == nil {
				m.FlagNames = append(m.FlagNames, s)
			}
			return n, err
		case fieldResolveReqApply:
			return consumeBool(data, &m.Apply)
		case fieldResolveReqSdkID:
			return consumeString(data, &m.Sdk.ID)
		case fieldResolveReqSdkVersion:
			return consumeString(data, &m.Sdk.Version)
		}
		return 0, nil
	})
}

func marshalResolvedFlag(v ResolvedFlag) ([]byte, error) {
	var b []byte
	b = appendStringField(b, fieldResolvedFlagName, v.FlagName)
	b = appendStringField(b, fieldResolvedFlagVariant, v.Variant)
	b = appendStringField(b, fieldResolvedFlagRule, v.RuleName)
	b = appendVarintField(b, fieldResolvedFlagReason, uint64(v.Reason))
	if v.Value != nil {
		sub, err := proto.Marshal(v.Value)
		if err != nil {
			return nil, err
		}
		b = appendMessageField(b, fieldResolvedFlagValue, sub)
	}
	if v.Schema != nil {
		sub, err := proto.Marshal(v.Schema)
		if err != nil {
			return nil, err
		}
		b = appendMessageField(b, fieldResolvedFlagSchema, sub)
	}
	b = appendBoolField(b, fieldResolvedFlagShouldApply, v.ShouldApply)
	return b, nil
}

func unmarshalResolvedFlag(buf []byte) (ResolvedFlag, error) {
	var v ResolvedFlag
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldResolvedFlagName:
			return consumeString(data, &v.FlagName)
		case fieldResolvedFlagVariant:
			return consumeString(data, &v.Variant)
		case fieldResolvedFlagRule:
			return consumeString(data, &v.RuleName)
		case fieldResolvedFlagReason:
			var n uint64
			consumed, err := consumeVarint(data, &n)
			v.Reason = int32(n)
			return consumed, err
		case fieldResolvedFlagValue:
			return consumeStruct(data, &v.Value)
		case fieldResolvedFlagSchema:
			return consumeStruct(data, &v.Schema)
		case fieldResolvedFlagShouldApply:
			return consumeBool(data, &v.ShouldApply)
		}
		return 0, nil
	})
	return v, err
}

// Marshal encodes a ResolveFlagsResponse.
func (m *ResolveFlagsResponse) Marshal() ([]byte, error) {
	var b []byte
	b = appendStringField(b, fieldResolveRespID, m.ResolveID)
	for _, v := range m.Values {
		sub, err := marshalResolvedFlag(v)
		if err != nil {
			return nil, err
		}
		b = appendMessageField(b, fieldResolveRespValues, sub)
	}
	b = appendStringField(b, fieldResolveRespError, m.Error)
	b = appendBytesField(b, fieldResolveRespToken, m.ResolveToken)
	return b, nil
}

// Unmarshal decodes a ResolveFlagsResponse.
func (m *ResolveFlagsResponse) Unmarshal(buf []byte) error {
	*m = ResolveFlagsResponse{}
	return scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldResolveRespID:
			return consumeString(data, &m.ResolveID)
		case fieldResolveRespValues:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			v, err := unmarshalResolvedFlag(sub)
			if err != nil {
				return 0, err
			}
			m.Values = append(m.Values, v)
			return n, nil
		case fieldResolveRespError:
			return consumeString(data, &m.Error)
		case fieldResolveRespToken:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			m.ResolveToken = append([]byte(nil), sub...)
			return n, nil
		}
		return 0, nil
	})
}

func marshalRuleVariant(rv RuleVariant) []byte {
	var b []byte
	b = appendStringField(b, fieldRuleVariantRule, rv.Rule)
	b = appendStringField(b, fieldRuleVariantVariant, rv.Variant)
	return b
}

func unmarshalRuleVariant(buf []byte) (RuleVariant, error) {
	var rv RuleVariant
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldRuleVariantRule:
			return consumeString(data, &rv.Rule)
		case fieldRuleVariantVariant:
			return consumeString(data, &rv.Variant)
		}
		return 0, nil
	})
	return rv, err
}

func marshalMaterializationEntry(e MaterializationEntry) []byte {
	var b []byte
	b = appendStringField(b, fieldMatEntryName, e.Name)
	b = appendBoolField(b, fieldMatEntryIncluded, e.Included)
	for _, rv := range e.Rules {
		b = appendMessageField(b, fieldMatEntryRules, marshalRuleVariant(rv))
	}
	return b
}

func unmarshalMaterializationEntry(buf []byte) (MaterializationEntry, error) {
	var e MaterializationEntry
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldMatEntryName:
			return consumeString(data, &e.Name)
		case fieldMatEntryIncluded:
			return consumeBool(data, &e.Included)
		case fieldMatEntryRules:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			rv, err := unmarshalRuleVariant(sub)
			if err != nil {
				return 0, err
			}
			e.Rules = append(e.Rules, rv)
			return n, nil
		}
		return 0, nil
	})
	return e, err
}

func marshalUnitMaterializations(u UnitMaterializations) []byte {
	var b []byte
	b = appendStringField(b, fieldUnitMatsUnit, u.Unit)
	for _, e := range u.Entries {
		b = appendMessageField(b, fieldUnitMatsEntries, marshalMaterializationEntry(e))
	}
	return b
}

func unmarshalUnitMaterializations(buf []byte) (UnitMaterializations, error) {
	var u UnitMaterializations
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldUnitMatsUnit:
			return consumeString(data, &u.Unit)
		case fieldUnitMatsEntries:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			e, err := unmarshalMaterializationEntry(sub)
			if err != nil {
				return 0, err
			}
			u.Entries = append(u.Entries, e)
			return n, nil
		}
		return 0, nil
	})
	return u, err
}

func marshalStickyWrite(w StickyWrite) []byte {
	var b []byte
	b = appendStringField(b, fieldStickyWriteMat, w.Materialization)
	b = appendStringField(b, fieldStickyWriteUnit, w.Unit)
	b = appendStringField(b, fieldStickyWriteFlag, w.Flag)
	b = appendStringField(b, fieldStickyWriteRule, w.Rule)
	b = appendStringField(b, fieldStickyWriteVariant, w.Variant)
	return b
}

func unmarshalStickyWrite(buf []byte) (StickyWrite, error) {
	var w StickyWrite
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldStickyWriteMat:
			return consumeString(data, &w.Materialization)
		case fieldStickyWriteUnit:
			return consumeString(data, &w.Unit)
		case fieldStickyWriteFlag:
			return consumeString(data, &w.Flag)
		case fieldStickyWriteRule:
			return consumeString(data, &w.Rule)
		case fieldStickyWriteVariant:
			return consumeString(data, &w.Variant)
		}
		return 0, nil
	})
	return w, err
}

func marshalStickyRequest(r StickyRequest) []byte {
	var b []byte
	b = appendStringField(b, fieldStickyReqFlag, r.Flag)
	b = appendStringField(b, fieldStickyReqRule, r.Rule)
	b = appendStringField(b, fieldStickyReqUnit, r.Unit)
	b = appendStringField(b, fieldStickyReqMat, r.Materialization)
	return b
}

func unmarshalStickyRequest(buf []byte) (StickyRequest, error) {
	var r StickyRequest
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldStickyReqFlag:
			return consumeString(data, &r.Flag)
		case fieldStickyReqRule:
			return consumeString(data, &r.Rule)
		case fieldStickyReqUnit:
			return consumeString(data, &r.Unit)
		case fieldStickyReqMat:
			return consumeString(data, &r.Materialization)
		}
		return 0, nil
	})
	return r, err
}

// Marshal encodes a ResolveWithStickyRequest.
func (m *ResolveWithStickyRequest) Marshal() ([]byte, error) {
	var b []byte
	sub, err := m.Resolve.Marshal()
	if err != nil {
		return nil, err
	}
	b = appendMessageField(b, fieldStickyReqResolve, sub)
	for _, u := range m.Materializations {
		b = appendMessageField(b, fieldStickyReqMats, marshalUnitMaterializations(u))
	}
	b = appendBoolField(b, fieldStickyReqFailFast, m.FailFastOnSticky)
	b = appendBoolField(b, fieldStickyReqNotProcess, m.NotProcessSticky)
	return b, nil
}

// Unmarshal decodes a ResolveWithStickyRequest.
func (m *ResolveWithStickyRequest) Unmarshal(buf []byte) error {
	*m = ResolveWithStickyRequest{}
	return scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldStickyReqResolve:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			if err := m.Resolve.Unmarshal(sub); err != nil {
				return 0, err
			}
			return n, nil
		case fieldStickyReqMats:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			u, err := unmarshalUnitMaterializations(sub)
			if err != nil {
				return 0, err
			}
			m.Materializations = append(m.Materializations, u)
			return n, nil
		case fieldStickyReqFailFast:
			return consumeBool(data, &m.FailFastOnSticky)
		case fieldStickyReqNotProcess:
			return consumeBool(data, &m.NotProcessSticky)
		}
		return 0, nil
	})
}

// Marshal encodes a ResolveWithStickyResponse.
func (m *ResolveWithStickyResponse) Marshal() ([]byte, error) {
	var b []byte
	sub, err := m.Resolve.Marshal()
	if err != nil {
		return nil, err
	}
	b = appendMessageField(b, fieldStickyRespResolve, sub)
	for _, w := range m.StickyWrites {
		b = appendMessageField(b, fieldStickyRespWrites, marshalStickyWrite(w))
	}
	for _, r := range m.NeedsSticky {
		b = appendMessageField(b, fieldStickyRespNeeds, marshalStickyRequest(r))
	}
	return b, nil
}

// Unmarshal decodes a ResolveWithStickyResponse.
func (m *ResolveWithStickyResponse) Unmarshal(buf []byte) error {
	*m = ResolveWithStickyResponse{}
	return scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldStickyRespResolve:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			if err := m.Resolve.Unmarshal(sub); err != nil {
				return 0, err
			}
			return n, nil
		case fieldStickyRespWrites:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			w, err := unmarshalStickyWrite(sub)
			if err != nil {
				return 0, err
			}
			m.StickyWrites = append(m.StickyWrites, w)
			return n, nil
		case fieldStickyRespNeeds:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			r, err := unmarshalStickyRequest(sub)
			if err != nil {
				return 0, err
			}
			m.NeedsSticky = append(m.NeedsSticky, r)
			return n, nil
		}
		return 0, nil
	})
}

// Marshal encodes a SetResolverStateRequest.
func (m *SetResolverStateRequest) Marshal() ([]byte, error) {
	var b []byte
	b = appendBytesField(b, fieldSetStateBytes, m.StateBytes)
	b = appendStringField(b, fieldSetStateAccount, m.AccountID)
	return b, nil
}

// Unmarshal decodes a SetResolverStateRequest.
func (m *SetResolverStateRequest) Unmarshal(buf []byte) error {
	*m = SetResolverStateRequest{}
	return scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldSetStateBytes:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			m.StateBytes = append([]byte(nil), sub...)
			return n, nil
		case fieldSetStateAccount:
			return consumeString(data, &m.AccountID)
		}
		return 0, nil
	})
}

func marshalAppliedFlag(a AppliedFlag) []byte {
	var b []byte
	b = appendStringField(b, fieldAppliedFlagFlag, a.Flag)
	b = appendStringField(b, fieldAppliedFlagRule, a.Rule)
	b = appendStringField(b, fieldAppliedFlagVariant, a.Variant)
	b = appendStringField(b, fieldAppliedFlagAssignmentID, a.AssignmentID)
	b = appendStringField(b, fieldAppliedFlagTargetingKey, a.TargetingKey)
	return b
}

func unmarshalAppliedFlag(buf []byte) (AppliedFlag, error) {
	var a AppliedFlag
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldAppliedFlagFlag:
			return consumeString(data, &a.Flag)
		case fieldAppliedFlagRule:
			return consumeString(data, &a.Rule)
		case fieldAppliedFlagVariant:
			return consumeString(data, &a.Variant)
		case fieldAppliedFlagAssignmentID:
			return consumeString(data, &a.AssignmentID)
		case fieldAppliedFlagTargetingKey:
			return consumeString(data, &a.TargetingKey)
		}
		return 0, nil
	})
	return a, err
}

func marshalFlagAssigned(e FlagAssigned) []byte {
	var b []byte
	b = appendStringField(b, fieldAssignedResolveID, e.ResolveID)
	b = appendStringField(b, fieldAssignedClient, e.Client)
	for _, a := range e.Flags {
		b = appendMessageField(b, fieldAssignedFlags, marshalAppliedFlag(a))
	}
	return b
}

func unmarshalFlagAssigned(buf []byte) (FlagAssigned, error) {
	var e FlagAssigned
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldAssignedResolveID:
			return consumeString(data, &e.ResolveID)
		case fieldAssignedClient:
			return consumeString(data, &e.Client)
		case fieldAssignedFlags:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			a, err := unmarshalAppliedFlag(sub)
			if err != nil {
				return 0, err
			}
			e.Flags = append(e.Flags, a)
			return n, nil
		}
		return 0, nil
	})
	return e, err
}

func marshalFlagResolveInfo(i FlagResolveInfo) []byte {
	var b []byte
	b = appendStringField(b, fieldFlagResolveFlag, i.Flag)
	b = appendStringField(b, fieldFlagResolveRule, i.Rule)
	b = appendStringField(b, fieldFlagResolveAssignmentID, i.AssignmentID)
	b = appendStringField(b, fieldFlagResolveVariant, i.Variant)
	b = appendVarintField(b, fieldFlagResolveReason, uint64(i.Reason))
	b = appendVarintField(b, fieldFlagResolveCount, i.Count)
	return b
}

func unmarshalFlagResolveInfo(buf []byte) (FlagResolveInfo, error) {
	var i FlagResolveInfo
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldFlagResolveFlag:
			return consumeString(data, &i.Flag)
		case fieldFlagResolveRule:
			return consumeString(data, &i.Rule)
		case fieldFlagResolveAssignmentID:
			return consumeString(data, &i.AssignmentID)
		case fieldFlagResolveVariant:
			return consumeString(data, &i.Variant)
		case fieldFlagResolveReason:
			var n uint64
			consumed, err := consumeVarint(data, &n)
			i.Reason = int32(n)
			return consumed, err
		case fieldFlagResolveCount:
			return consumeVarint(data, &i.Count)
		}
		return 0, nil
	})
	return i, err
}

func marshalClientResolveInfo(i ClientResolveInfo) []byte {
	var b []byte
	b = appendStringField(b, fieldClientResolveClient, i.Client)
	b = appendStringField(b, fieldClientResolveSdkID, i.SdkID)
	b = appendStringField(b, fieldClientResolveSdkVersion, i.SdkVersion)
	b = appendVarintField(b, fieldClientResolveCount, i.Count)
	return b
}

func unmarshalClientResolveInfo(buf []byte) (ClientResolveInfo, error) {
	var i ClientResolveInfo
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldClientResolveClient:
			return consumeString(data, &i.Client)
		case fieldClientResolveSdkID:
			return consumeString(data, &i.SdkID)
		case fieldClientResolveSdkVersion:
			return consumeString(data, &i.SdkVersion)
		case fieldClientResolveCount:
			return consumeVarint(data, &i.Count)
		}
		return 0, nil
	})
	return i, err
}

func marshalTelemetryData(t TelemetryData) []byte {
	var b []byte
	b = appendStringField(b, fieldTelemetrySdkID, t.SdkID)
	b = appendStringField(b, fieldTelemetrySdkVersion, t.SdkVersion)
	b = appendVarintField(b, fieldTelemetryRequests, t.Requests)
	return b
}

func unmarshalTelemetryData(buf []byte) (TelemetryData, error) {
	var t TelemetryData
	err := scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldTelemetrySdkID:
			return consumeString(data, &t.SdkID)
		case fieldTelemetrySdkVersion:
			return consumeString(data, &t.SdkVersion)
		case fieldTelemetryRequests:
			return consumeVarint(data, &t.Requests)
		}
		return 0, nil
	})
	return t, err
}

// Marshal encodes a WriteFlagLogsRequest.
func (m *WriteFlagLogsRequest) Marshal() ([]byte, error) {
	var b []byte
	for _, e := range m.Assigned {
		b = appendMessageField(b, fieldLogReqAssigned, marshalFlagAssigned(e))
	}
	for _, i := range m.ClientResolves {
		b = appendMessageField(b, fieldLogReqClientResolves, marshalClientResolveInfo(i))
	}
	for _, i := range m.FlagResolves {
		b = appendMessageField(b, fieldLogReqFlagResolves, marshalFlagResolveInfo(i))
	}
	for _, t := range m.Telemetry {
		b = appendMessageField(b, fieldLogReqTelemetry, marshalTelemetryData(t))
	}
	if m.Final {
		b = appendVarintField(b, fieldLogReqFinal, 1)
	}
	return b, nil
}

// Unmarshal decodes a WriteFlagLogsRequest.
func (m *WriteFlagLogsRequest) Unmarshal(buf []byte) error {
	*m = WriteFlagLogsRequest{}
	return scanFields(buf, func(num protowire.Number, typ protowire.Type, data []byte) (int, error) {
		switch num {
		case fieldLogReqAssigned:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			e, err := unmarshalFlagAssigned(sub)
			if err != nil {
				return 0, err
			}
			m.Assigned = append(m.Assigned, e)
			return n, nil
		case fieldLogReqClientResolves:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			i, err := unmarshalClientResolveInfo(sub)
			if err != nil {
				return 0, err
			}
			m.ClientResolves = append(m.ClientResolves, i)
			return n, nil
		case fieldLogReqFlagResolves:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			i, err := unmarshalFlagResolveInfo(sub)
			if err != nil {
				return 0, err
			}
			m.FlagResolves = append(m.FlagResolves, i)
			return n, nil
		case fieldLogReqTelemetry:
			sub, n, err := consumeMessage(data)
			if err != nil {
				return 0, err
			}
			t, err := unmarshalTelemetryData(sub)
			if err != nil {
				return 0, err
			}
			m.Telemetry = append(m.Telemetry, t)
			return n, nil
		case fieldLogReqFinal:
			return consumeBool(data, &m.Final)
		}
		return 0, nil
	})
}
