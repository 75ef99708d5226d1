package wire

import (
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

func TestResolveFlagsRequestRoundTrip(t *testing.T) {
	ctx, err := structpb.NewStruct(map[string]any{"visitor_id": "unit-1"})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	want := ResolveFlagsRequest{
		ClientSecret:      "secret-1",
		EvaluationContext: ctx,
		FlagNames:         []string{"flags/a", "flags/b"},
		Apply:             true,
		Sdk:               Sdk{ID: "go-sdk", Version: "1.2.3"},
	}
	data, err := want.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got ResolveFlagsRequest
	if err := got.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ClientSecret != want.ClientSecret {
		t.Fatalf("ClientSecret = %q, want %q", got.ClientSecret, want.ClientSecret)
	}
	if len(got.FlagNames) != 2 || got.FlagNames[0] != "flags/a" || got.FlagNames[1] != "flags/b" {
		t.Fatalf("FlagNames = %v, want [flags/a flags/b]", got.FlagNames)
	}
	if got.EvaluationContext.GetFields()["visitor_id"].GetStringValue() != "unit-1" {
		t.Fatalf("EvaluationContext round-trip failed: %v", got.EvaluationContext)
	}
	if !got.Apply || got.Sdk != want.Sdk {
		t.Fatalf("got %+v", got)
	}
}

func TestResolveFlagsResponseRoundTrip(t *testing.T) {
	val, _ := structpb.NewStruct(map[string]any{"enabled": true})
	schema, _ := structpb.NewStruct(map[string]any{"enabled": "bool"})
	want := ResolveFlagsResponse{
		ResolveID: "01HRESOLVE",
		Values: []ResolvedFlag{
			{FlagName: "flags/a", Variant: "flags/a/variants/on", RuleName: "flags/a/rules/r", Reason: 1, Value: val, Schema: schema, ShouldApply: true},
		},
		ResolveToken: []byte{9, 8, 7},
	}
	data, err := want.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got ResolveFlagsResponse
	if err := got.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ResolveID != want.ResolveID {
		t.Fatalf("ResolveID = %q, want %q", got.ResolveID, want.ResolveID)
	}
	if len(got.Values) != 1 || got.Values[0].Variant != "flags/a/variants/on" || !got.Values[0].ShouldApply {
		t.Fatalf("Values = %+v", got.Values)
	}
	if got.Values[0].Value.GetFields()["enabled"].GetBoolValue() != true {
		t.Fatalf("resolved value round-trip failed: %v", got.Values[0].Value)
	}
	if got.Values[0].Schema.GetFields()["enabled"].GetStringValue() != "bool" {
		t.Fatalf("schema round-trip failed: %v", got.Values[0].Schema)
	}
	if string(got.ResolveToken) != string(want.ResolveToken) {
		t.Fatalf("ResolveToken = %v, want %v", got.ResolveToken, want.ResolveToken)
	}
}

func TestResolveFlagsResponseErrorRoundTrip(t *testing.T) {
	want := ResolveFlagsResponse{Error: "client secret not found"}
	data, err := want.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got ResolveFlagsResponse
	if err := got.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Error != want.Error {
		t.Fatalf("Error = %q, want %q", got.Error, want.Error)
	}
}

func TestResolveWithStickyRequestRoundTrip(t *testing.T) {
	want := ResolveWithStickyRequest{
		Resolve: ResolveFlagsRequest{
			ClientSecret: "secret-1",
			FlagNames:    []string{"flags/a"},
		},
		Materializations: []UnitMaterializations{{
			Unit: "unit-1",
			Entries: []MaterializationEntry{{
				Name:     "experiment_v1",
				Included: true,
				Rules: []RuleVariant{
					{Rule: "flags/a/rules/r", Variant: "flags/a/variants/on"},
				},
			}},
		}},
		FailFastOnSticky: true,
	}
	data, err := want.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got ResolveWithStickyRequest
	if err := got.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Resolve.ClientSecret != "secret-1" || len(got.Resolve.FlagNames) != 1 {
		t.Fatalf("Resolve = %+v", got.Resolve)
	}
	if len(got.Materializations) != 1 {
		t.Fatalf("Materializations = %+v", got.Materializations)
	}
	u := got.Materializations[0]
	if u.Unit != "unit-1" || len(u.Entries) != 1 || !u.Entries[0].Included {
		t.Fatalf("UnitMaterializations = %+v", u)
	}
	if len(u.Entries[0].Rules) != 1 || u.Entries[0].Rules[0].Variant != "flags/a/variants/on" {
		t.Fatalf("Rules = %+v", u.Entries[0].Rules)
	}
	if !got.FailFastOnSticky || got.NotProcessSticky {
		t.Fatalf("mode flags did not round-trip: %+v", got)
	}
}

func TestResolveWithStickyResponseRoundTrip(t *testing.T) {
	want := ResolveWithStickyResponse{
		Resolve: ResolveFlagsResponse{ResolveID: "01HRESOLVE"},
		StickyWrites: []StickyWrite{
			{Materialization: "experiment_v1", Unit: "unit-1", Flag: "flags/a", Rule: "flags/a/rules/r", Variant: "flags/a/variants/on"},
		},
		NeedsSticky: []StickyRequest{
			{Flag: "flags/b", Rule: "flags/b/rules/r", Unit: "unit-2", Materialization: "experiment_v2"},
		},
	}
	data, err := want.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got ResolveWithStickyResponse
	if err := got.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Resolve.ResolveID != "01HRESOLVE" {
		t.Fatalf("Resolve = %+v", got.Resolve)
	}
	if len(got.StickyWrites) != 1 || got.StickyWrites[0] != want.StickyWrites[0] {
		t.Fatalf("StickyWrites = %+v", got.StickyWrites)
	}
	if len(got.NeedsSticky) != 1 || got.NeedsSticky[0] != want.NeedsSticky[0] {
		t.Fatalf("NeedsSticky = %+v", got.NeedsSticky)
	}
}

func TestSetResolverStateRequestRoundTrip(t *testing.T) {
	want := SetResolverStateRequest{StateBytes: []byte{1, 2, 3, 4, 5}, AccountID: "accounts/a"}
	data, err := want.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got SetResolverStateRequest
	if err := got.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if string(got.StateBytes) != string(want.StateBytes) || got.AccountID != "accounts/a" {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestWriteFlagLogsRequestRoundTrip(t *testing.T) {
	want := WriteFlagLogsRequest{
		Assigned: []FlagAssigned{{
			ResolveID: "r1",
			Client:    "clients/c",
			Flags: []AppliedFlag{
				{Flag: "flags/a", Rule: "flags/a/rules/r", Variant: "flags/a/variants/on", AssignmentID: "a1", TargetingKey: "unit-1"},
			},
		}},
		ClientResolves: []ClientResolveInfo{
			{Client: "clients/c", SdkID: "go-sdk", SdkVersion: "1.2.3", Count: 7},
		},
		FlagResolves: []FlagResolveInfo{
			{Flag: "flags/a", Rule: "flags/a/rules/r", AssignmentID: "a1", Variant: "flags/a/variants/on", Reason: 1, Count: 5},
		},
		Telemetry: []TelemetryData{
			{SdkID: "go-sdk", SdkVersion: "1.2.3", Requests: 7},
		},
		Final: true,
	}
	data, err := want.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got WriteFlagLogsRequest
	if err := got.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Assigned) != 1 || got.Assigned[0].Client != "clients/c" || len(got.Assigned[0].Flags) != 1 {
		t.Fatalf("Assigned = %+v", got.Assigned)
	}
	if got.Assigned[0].Flags[0] != want.Assigned[0].Flags[0] {
		t.Fatalf("AppliedFlag = %+v", got.Assigned[0].Flags[0])
	}
	if len(got.ClientResolves) != 1 || got.ClientResolves[0].Count != 7 {
		t.Fatalf("ClientResolves = %+v", got.ClientResolves)
	}
	if len(got.FlagResolves) != 1 || got.FlagResolves[0].Count != 5 {
		t.Fatalf("FlagResolves = %+v", got.FlagResolves)
	}
	if len(got.Telemetry) != 1 || got.Telemetry[0].Requests != 7 {
		t.Fatalf("Telemetry = %+v", got.Telemetry)
	}
	if !got.Final {
		t.Fatalf("Final did not round-trip")
	}
}

func TestWriteFlagLogsRequestChunkWithoutAggregates(t *testing.T) {
	want := WriteFlagLogsRequest{
		Assigned: []FlagAssigned{{ResolveID: "r2"}},
	}
	data, err := want.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got WriteFlagLogsRequest
	if err := got.Unmarshal(data); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Telemetry) != 0 || len(got.FlagResolves) != 0 || len(got.ClientResolves) != 0 {
		t.Fatalf("expected a non-first chunk to round-trip without aggregates: %+v", got)
	}
	if got.Final {
		t.Fatalf("expected Final=false to round-trip")
	}
}

func TestUnmarshalTruncatedInputFails(t *testing.T) {
	var req ResolveFlagsRequest
	// Field 1, bytes type, claims 100 bytes but only 2 follow.
	if err := req.Unmarshal([]byte{0x0a, 0x64, 0x01, 0x02}); err == nil {
		t.Fatalf("expected truncated input to fail decoding")
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	// Field 200, varint type: unknown to every message in the catalog.
	payload := []byte{0xc0, 0x0c, 0x2a}
	var req ResolveFlagsRequest
	if err := req.Unmarshal(payload); err != nil {
		t.Fatalf("expected unknown fields to be skipped, got %v", err)
	}
}
