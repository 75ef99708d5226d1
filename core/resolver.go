package core

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"confidence-resolver/wire"
)

// Resolver is the single-threaded facade over one installed Snapshot.
// It is not safe for concurrent Resolve/ResolveWithSticky/
// InstallState/FlushLogs calls on the same instance; InstancePool is what
// supplies that safety, one lock per pooled Resolver.
type Resolver struct {
	log    *logrus.Logger
	reader MaterializationReader
	now    func() int64
	minter resolveIDMinter
	tokens *tokenSealer

	snapshot *Snapshot
	logs     *LogBuffer
}

// NewResolver returns an empty Resolver with no snapshot installed.
// Resolve calls made before InstallState fail with ClientSecretNotFound
// rather than panicking. reader may be nil; sticky rules then rely
// entirely on caller-supplied materializations.
func NewResolver(log *logrus.Logger, reader MaterializationReader) *Resolver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	sealer, err := newTokenSealer()
	if err != nil {
		// Only reachable if the process cannot read entropy; tokens are
		// then omitted from responses rather than failing every resolve.
		log.WithError(err).Warn("resolve-token sealer unavailable")
	}
	return &Resolver{
		log:    log,
		reader: reader,
		now:    func() int64 { return time.Now().UnixMilli() },
		tokens: sealer,
		logs:   NewLogBuffer(),
	}
}

// SetTimeSource replaces the resolver's clock with a host-provided one.
// fn returns Unix milliseconds and must be monotonically non-decreasing.
func (r *Resolver) SetTimeSource(fn func() int64) {
	if fn != nil {
		r.now = fn
	}
}

// InstallState decodes and installs a compiled snapshot. In-flight
// evaluations on other pooled instances keep their prior snapshot; on
// this instance the swap is a single pointer store between calls.
func (r *Resolver) InstallState(ctx context.Context, reqBytes []byte) error {
	return SafeCall(func() error {
		var req wire.SetResolverStateRequest
		if err := req.Unmarshal(reqBytes); err != nil {
			return err
		}
		snap, err := DecodeSnapshot(req.StateBytes, req.AccountID, r.log)
		if err != nil {
			return err
		}
		r.snapshot = snap
		return nil
	})
}

// Resolve implements guest_resolve: equivalent to
// ResolveWithSticky with no supplied materializations and fail-fast off.
func (r *Resolver) Resolve(ctx context.Context, reqBytes []byte) ([]byte, error) {
	var out wire.ResolveFlagsResponse
	err := SafeCall(func() error {
		var req wire.ResolveFlagsRequest
		if err := req.Unmarshal(reqBytes); err != nil {
			return err
		}
		out, _, _ = r.resolve(ctx, &req, EvalOptions{Reader: r.reader})
		return nil
	})
	var pe *PanicError
	if errors.As(err, &pe) {
		return nil, err
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out.Marshal()
}

// ResolveWithSticky implements guest_resolve_with_sticky.
func (r *Resolver) ResolveWithSticky(ctx context.Context, reqBytes []byte) ([]byte, error) {
	var out wire.ResolveWithStickyResponse
	err := SafeCall(func() error {
		var req wire.ResolveWithStickyRequest
		if err := req.Unmarshal(reqBytes); err != nil {
			return err
		}

		opts := EvalOptions{
			Materializations: decodeMaterializations(req.Materializations),
			FailFastOnSticky: req.FailFastOnSticky,
			NotProcessSticky: req.NotProcessSticky,
			Reader:           r.reader,
		}
		resolve, writes, needs := r.resolve(ctx, &req.Resolve, opts)
		out.Resolve = resolve
		for _, w := range writes {
			out.StickyWrites = append(out.StickyWrites, wire.StickyWrite{
				Materialization: w.Materialization,
				Unit:            w.Unit,
				Flag:            w.FlagName,
				Rule:            w.RuleName,
				Variant:         w.Variant,
			})
		}
		for _, n := range needs {
			out.NeedsSticky = append(out.NeedsSticky, wire.StickyRequest{
				Flag:            n.FlagName,
				Rule:            n.RuleName,
				Unit:            n.Unit,
				Materialization: n.Materialization,
			})
		}
		return nil
	})
	var pe *PanicError
	if errors.As(err, &pe) {
		return nil, err
	}
	if err != nil {
		out.Resolve.Error = err.Error()
	}
	return out.Marshal()
}

// resolve is the sequence shared by both resolve entry points: mint a
// resolve id, authenticate the client secret, classify and evaluate each
// requested flag, and record analytics.
func (r *Resolver) resolve(ctx context.Context, req *wire.ResolveFlagsRequest, opts EvalOptions) (wire.ResolveFlagsResponse, []StickyWrite, []StickyRequest) {
	var out wire.ResolveFlagsResponse
	out.ResolveID = r.minter.next(r.now())

	snap := r.snapshot
	if snap == nil {
		out.Error = ErrClientSecretNotFound.Error()
		return out, nil, nil
	}
	client, ok := snap.AuthorizeClientSecret(req.ClientSecret)
	if !ok {
		out.Error = ErrClientSecretNotFound.Error()
		return out, nil, nil
	}

	var (
		writes  []StickyWrite
		needs   []StickyRequest
		applied []AppliedFlag
		pairs   []fingerprintPair
	)
	for _, f := range r.flagsForRequest(snap, client, req.FlagNames, &out) {
		rv := snap.EvaluateFlag(ctx, f, req.EvaluationContext, opts)
		if len(rv.NeedsSticky) > 0 {
			// Deferred: the flag stays unresolved and unlogged.
			needs = append(needs, rv.NeedsSticky...)
			continue
		}

		out.Values = append(out.Values, wire.ResolvedFlag{
			FlagName:    rv.FlagName,
			Variant:     rv.Variant,
			RuleName:    rv.RuleName,
			Reason:      int32(rv.Reason),
			Value:       rv.Value,
			Schema:      rv.Schema,
			ShouldApply: rv.Reason == ReasonMatch,
		})
		r.logs.RecordFlagResolve(rv.FlagName, rv.RuleName, rv.AssignmentID, rv.Variant, rv.Reason)
		pairs = append(pairs, fingerprintPair{flag: rv.FlagName, variant: rv.Variant})

		if rv.Reason == ReasonMatch {
			writes = append(writes, rv.StickyWrites...)
			if req.Apply {
				applied = append(applied, AppliedFlag{
					Flag:         rv.FlagName,
					Rule:         rv.RuleName,
					Variant:      rv.Variant,
					AssignmentID: rv.AssignmentID,
					TargetingKey: rv.TargetingKey,
				})
			}
		}
	}

	if len(applied) > 0 {
		r.logs.RecordAssigned(FlagAssigned{ResolveID: out.ResolveID, Client: client.Name, Flags: applied})
	}
	r.logs.RecordRequest(client.Name, req.Sdk.ID, req.Sdk.Version)

	if r.tokens != nil {
		token, err := r.tokens.Seal(out.ResolveID, assignmentFingerprint(pairs))
		if err == nil {
			out.ResolveToken = token
		}
	}
	return out, writes, needs
}

// flagsForRequest expands the request's flag list against the snapshot:
// an empty list means every flag the client is authorized for; a name the
// snapshot does not know is answered with an error-reason entry; an
// unauthorized flag is skipped with no trace; a non-active flag is
// answered with flag_archived by the evaluator.
func (r *Resolver) flagsForRequest(snap *Snapshot, client *Client, names []string, out *wire.ResolveFlagsResponse) []*Flag {
	if len(names) == 0 {
		return snap.AllFlagsForClient(client)
	}
	flags := make([]*Flag, 0, len(names))
	for _, n := range names {
		f, status := snap.FlagForClient(client, n)
		switch status {
		case flagEvaluable, flagNotActive:
			flags = append(flags, f)
		case flagUnknown:
			out.Values = append(out.Values, wire.ResolvedFlag{FlagName: n, Reason: int32(ReasonError)})
			r.logs.RecordFlagResolve(n, "", "", "", ReasonError)
		case flagUnauthorized:
			// Unauthorized flags stay invisible: no response entry, no
			// analytics, no sticky writes.
		}
	}
	return flags
}

// FlushLogs implements guest_flush_logs: drains the buffered
// analytics into zero or more WriteFlagLogsRequest payloads, each holding
// at most LogChunkSize FlagAssigned entries, with the aggregate streams
// on the first chunk only. A chunk that fails to serialize is dropped and
// reported while the remaining chunks are still attempted.
func (r *Resolver) FlushLogs(ctx context.Context) ([]byte, error) {
	var payload []byte
	var flushErr error
	err := SafeCall(func() error {
		for _, c := range r.logs.Flush() {
			req := wire.WriteFlagLogsRequest{Final: c.Final}
			for _, e := range c.Assigned {
				w := wire.FlagAssigned{ResolveID: e.ResolveID, Client: e.Client}
				for _, a := range e.Flags {
					w.Flags = append(w.Flags, wire.AppliedFlag{
						Flag:         a.Flag,
						Rule:         a.Rule,
						Variant:      a.Variant,
						AssignmentID: a.AssignmentID,
						TargetingKey: a.TargetingKey,
					})
				}
				req.Assigned = append(req.Assigned, w)
			}
			for _, i := range c.ClientResolves {
				req.ClientResolves = append(req.ClientResolves, wire.ClientResolveInfo{
					Client: i.Client, SdkID: i.SdkID, SdkVersion: i.SdkVersion, Count: i.Count,
				})
			}
			for _, i := range c.FlagResolves {
				req.FlagResolves = append(req.FlagResolves, wire.FlagResolveInfo{
					Flag:         i.Flag,
					Rule:         i.Rule,
					AssignmentID: i.AssignmentID,
					Variant:      i.Variant,
					Reason:       int32(i.Reason),
					Count:        i.Count,
				})
			}
			for _, t := range c.Telemetry {
				req.Telemetry = append(req.Telemetry, wire.TelemetryData{
					SdkID: t.SdkID, SdkVersion: t.SdkVersion, Requests: t.Requests,
				})
			}
			encoded, err := req.Marshal()
			if err != nil {
				flushErr = err
				continue
			}
			payload = append(payload, wire.EncodeEnvelope(encoded)...)
		}
		return nil
	})
	if err != nil {
		return payload, err
	}
	return payload, flushErr
}

// decodeMaterializations indexes the request's unit records for O(1)
// lookup during evaluation.
func decodeMaterializations(units []wire.UnitMaterializations) MaterializationMap {
	if len(units) == 0 {
		return nil
	}
	out := make(MaterializationMap, len(units))
	for _, u := range units {
		entries := make(map[string]MaterializationInfo, len(u.Entries))
		for _, e := range u.Entries {
			info := MaterializationInfo{Included: e.Included}
			if len(e.Rules) > 0 {
				info.RuleToVariant = make(map[string]string, len(e.Rules))
				for _, rv := range e.Rules {
					info.RuleToVariant[rv.Rule] = rv.Variant
				}
			}
			entries[e.Name] = info
		}
		out[u.Unit] = entries
	}
	return out
}
