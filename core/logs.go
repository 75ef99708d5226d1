package core

import (
	"sort"
	"sync"
)

// LogChunkSize is the maximum number of FlagAssigned entries carried in a
// single flush chunk, sized to stay under typical host-side gRPC message
// ceilings.
const LogChunkSize = 1000

// AppliedFlag is one applied assignment inside a FlagAssigned record.
type AppliedFlag struct {
	Flag         string
	Rule         string
	Variant      string
	AssignmentID string
	TargetingKey string
}

// FlagAssigned records the applied assignments of one resolve: it is
// only emitted when the request asked for apply=true and at least one
// flag matched.
type FlagAssigned struct {
	ResolveID string
	Client    string
	Flags     []AppliedFlag
}

// FlagResolveInfo is one aggregated per-(flag, rule, assignment, reason)
// resolution counter.
type FlagResolveInfo struct {
	Flag         string
	Rule         string
	AssignmentID string
	Variant      string
	Reason       ResolveReason
	Count        uint64
}

// ClientResolveInfo is one aggregated per-(client, sdk) request counter.
type ClientResolveInfo struct {
	Client     string
	SdkID      string
	SdkVersion string
	Count      uint64
}

// TelemetryData is one per-sdk request counter.
type TelemetryData struct {
	SdkID      string
	SdkVersion string
	Requests   uint64
}

// LogChunk is one unit of a chunked flush. Only the first chunk of a
// flush carries the aggregate streams.
type LogChunk struct {
	Assigned       []FlagAssigned
	FlagResolves   []FlagResolveInfo
	ClientResolves []ClientResolveInfo
	Telemetry      []TelemetryData
	Final          bool
}

type flagResolveKey struct {
	flag, rule, assignmentID, variant string
	reason                            ResolveReason
}

type clientResolveKey struct {
	client, sdkID, sdkVersion string
}

type sdkKey struct {
	id, version string
}

// LogBuffer accumulates analytics between flushes. It is safe for
// concurrent use; the instance pool still serializes flush calls under
// its maintenance lock, but the buffer's own counters are protected
// independently so a resolve on one pooled instance cannot race a flush
// triggered from another.
type LogBuffer struct {
	mu             sync.Mutex
	assigned       []FlagAssigned
	flagResolves   map[flagResolveKey]uint64
	clientResolves map[clientResolveKey]uint64
	telemetry      map[sdkKey]uint64
}

// NewLogBuffer returns an empty LogBuffer.
func NewLogBuffer() *LogBuffer {
	return &LogBuffer{
		flagResolves:   make(map[flagResolveKey]uint64),
		clientResolves: make(map[clientResolveKey]uint64),
		telemetry:      make(map[sdkKey]uint64),
	}
}

// RecordAssigned appends one FlagAssigned record. Insertion order is
// preserved across flush chunks.
func (b *LogBuffer) RecordAssigned(e FlagAssigned) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.assigned = append(b.assigned, e)
}

// RecordFlagResolve bumps the aggregate counter for one per-flag outcome.
func (b *LogBuffer) RecordFlagResolve(flag, rule, assignmentID, variant string, reason ResolveReason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flagResolves[flagResolveKey{flag, rule, assignmentID, variant, reason}]++
}

// RecordRequest bumps the per-client and per-sdk request counters.
func (b *LogBuffer) RecordRequest(client, sdkID, sdkVersion string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clientResolves[clientResolveKey{client, sdkID, sdkVersion}]++
	b.telemetry[sdkKey{sdkID, sdkVersion}]++
}

// Flush drains the buffer into zero or more LogChunks: at most
// LogChunkSize FlagAssigned entries per chunk, the aggregate streams on
// the first chunk only, in deterministic (sorted) order. An empty buffer
// flushes to no chunks at all.
func (b *LogBuffer) Flush() []LogChunk {
	b.mu.Lock()
	assigned := b.assigned
	flagResolves := b.flagResolves
	clientResolves := b.clientResolves
	telemetry := b.telemetry
	b.assigned = nil
	b.flagResolves = make(map[flagResolveKey]uint64)
	b.clientResolves = make(map[clientResolveKey]uint64)
	b.telemetry = make(map[sdkKey]uint64)
	b.mu.Unlock()

	first := LogChunk{
		FlagResolves:   drainFlagResolves(flagResolves),
		ClientResolves: drainClientResolves(clientResolves),
		Telemetry:      drainTelemetry(telemetry),
	}
	hasAggregates := len(first.FlagResolves) > 0 || len(first.ClientResolves) > 0 || len(first.Telemetry) > 0
	if len(assigned) == 0 {
		if !hasAggregates {
			return nil
		}
		first.Final = true
		return []LogChunk{first}
	}

	var chunks []LogChunk
	for start := 0; start < len(assigned); start += LogChunkSize {
		end := start + LogChunkSize
		if end > len(assigned) {
			end = len(assigned)
		}
		chunk := LogChunk{Assigned: append([]FlagAssigned(nil), assigned[start:end]...)}
		if start == 0 {
			chunk.FlagResolves = first.FlagResolves
			chunk.ClientResolves = first.ClientResolves
			chunk.Telemetry = first.Telemetry
		}
		chunk.Final = end == len(assigned)
		chunks = append(chunks, chunk)
	}
	return chunks
}

func drainFlagResolves(m map[flagResolveKey]uint64) []FlagResolveInfo {
	out := make([]FlagResolveInfo, 0, len(m))
	for k, count := range m {
		out = append(out, FlagResolveInfo{
			Flag:         k.flag,
			Rule:         k.rule,
			AssignmentID: k.assignmentID,
			Variant:      k.variant,
			Reason:       k.reason,
			Count:        count,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Flag != out[j].Flag {
			return out[i].Flag < out[j].Flag
		}
		if out[i].Rule != out[j].Rule {
			return out[i].Rule < out[j].Rule
		}
		if out[i].AssignmentID != out[j].AssignmentID {
			return out[i].AssignmentID < out[j].AssignmentID
		}
		if out[i].Variant != out[j].Variant {
			return out[i].Variant < out[j].Variant
		}
		return out[i].Reason < out[j].Reason
	})
	return out
}

func drainClientResolves(m map[clientResolveKey]uint64) []ClientResolveInfo {
	out := make([]ClientResolveInfo, 0, len(m))
	for k, count := range m {
		out = append(out, ClientResolveInfo{Client: k.client, SdkID: k.sdkID, SdkVersion: k.sdkVersion, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Client != out[j].Client {
			return out[i].Client < out[j].Client
		}
		if out[i].SdkID != out[j].SdkID {
			return out[i].SdkID < out[j].SdkID
		}
		return out[i].SdkVersion < out[j].SdkVersion
	})
	return out
}

func drainTelemetry(m map[sdkKey]uint64) []TelemetryData {
	out := make([]TelemetryData, 0, len(m))
	for k, requests := range m {
		out = append(out, TelemetryData{SdkID: k.id, SdkVersion: k.version, Requests: requests})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SdkID != out[j].SdkID {
			return out[i].SdkID < out[j].SdkID
		}
		return out[i].SdkVersion < out[j].SdkVersion
	})
	return out
}
