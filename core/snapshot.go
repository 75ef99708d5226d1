package core

import (
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"
)

// Snapshot is the compiled, authenticated state installed on a resolver.
// It is produced by the host, never mutated by the
// resolver, and swapped atomically under the instance pool's exclusive
// lock.
type Snapshot struct {
	Flags    map[string]*Flag
	Segments map[string]*Segment
	Clients  map[string]*Client
	Account  string

	// credentials indexes by the raw client secret for O(1) auth lookup.
	credentials map[string]credentialEntry

	// archivedFlags retains non-active flags so a request naming one can
	// be answered with flag_archived instead of flag-not-found.
	archivedFlags map[string]*Flag
}

type credentialEntry struct {
	client     *Client
	credential *Credential
}

// Client is one named authenticated caller.
type Client struct {
	Name        string
	Credentials []*Credential
}

// Credential is one secret that authenticates as a Client. Its name is
// expected to extend the client's name (clients/<c>/credentials/<cc>).
type Credential struct {
	Name   string
	Secret string
}

// FlagState is a flag's lifecycle state; only active flags
// evaluate positively.
type FlagState int

const (
	FlagStateUnspecified FlagState = iota
	FlagStateActive
	FlagStateArchived
	FlagStateDraft
)

// Flag is one evaluable flag.
type Flag struct {
	Name     string
	State    FlagState
	Variants map[string]*Variant
	Rules    []*Rule

	// Clients is the set of client names this flag resolves for; a flag
	// is invisible to any client outside the set.
	Clients map[string]bool
}

// Variant is one named outcome with its structured value and the schema
// the host uses for type checks; the schema is a passthrough here.
type Variant struct {
	Name   string
	Value  *structpb.Struct
	Schema *structpb.Struct
}

// Rule is one ordered evaluation step within a flag.
type Rule struct {
	Name                 string
	Segment              string
	Enabled              bool
	TargetingKeySelector string
	Predicates           []Predicate
	AssignmentSpec       *AssignmentSpec
	Materialization      *MaterializationSpec
}

// Predicate is one attribute condition on the evaluation context, ANDed
// with the rule's segment bitset. The terminal value at Path,
// canonicalized the same way as a targeting key, must be one of Values.
type Predicate struct {
	Path   string
	Values []string
}

// AssignmentSpec describes the bucketed variant assignment for a rule.
type AssignmentSpec struct {
	BucketCount uint32
	Assignments []Assignment
}

// Assignment maps a set of bucket ranges to a target: a variant name, or
// "" for NoVariant, which terminates evaluation with no treatment.
type Assignment struct {
	ID      string
	Variant string
	Ranges  []BucketRange
}

// BucketRange is one half-open bucket interval [Lower, Upper).
type BucketRange struct {
	Lower, Upper uint32
}

// Segment is a named, hashed membership set.
type Segment struct {
	Name   string
	Bitset PackedBitset
}

// InstallSnapshot builds a Snapshot from raw compiled state, applying
// install-time validation and conflict resolution:
//
//  1. Builds client_secret -> (client, credential) with duplicate-secret
//     detection; later entries lose, first entry wins, with a logged
//     warning. Credentials whose name does not extend their client's
//     name are kept but warned about.
//  2. Builds segment_name -> Segment (including its PackedBitset).
//  3. Builds flag_name -> Flag, filtering non-active flags out of the
//     evaluable set while retaining them for flag_archived answers.
//  4. Validates internal references; a rule referencing an unknown
//     segment and an assignment referencing an unknown variant are both
//     dropped from the evaluable set with a structured warning rather
//     than failing the install.
func InstallSnapshot(account string, clients []*Client, segments []*Segment, flags []*Flag, log *logrus.Logger) *Snapshot {
	if log == nil {
		log = logrus.StandardLogger()
	}

	snap := &Snapshot{
		Flags:         make(map[string]*Flag, len(flags)),
		Segments:      make(map[string]*Segment, len(segments)),
		Clients:       make(map[string]*Client, len(clients)),
		Account:       account,
		credentials:   make(map[string]credentialEntry),
		archivedFlags: make(map[string]*Flag),
	}

	for _, c := range clients {
		snap.Clients[c.Name] = c
		for _, cred := range c.Credentials {
			if cred.Name != "" && !strings.HasPrefix(cred.Name, c.Name) {
				log.WithFields(logrus.Fields{
					"client":     c.Name,
					"credential": cred.Name,
				}).Warn("credential name does not extend its client name")
			}
			if _, exists := snap.credentials[cred.Secret]; exists {
				log.WithFields(logrus.Fields{
					"client":  c.Name,
					"account": account,
				}).Warn("duplicate client_secret in snapshot; keeping first registered client")
				continue
			}
			snap.credentials[cred.Secret] = credentialEntry{client: c, credential: cred}
		}
	}

	for _, s := range segments {
		snap.Segments[s.Name] = s
	}

	for _, f := range flags {
		if f.State != FlagStateActive {
			snap.archivedFlags[f.Name] = f
			continue
		}
		snap.Flags[f.Name] = f
	}

	for _, f := range snap.Flags {
		keptRules := f.Rules[:0]
		for _, r := range f.Rules {
			if r.Segment != "" {
				if _, ok := snap.Segments[r.Segment]; !ok {
					log.WithFields(logrus.Fields{
						"flag":    f.Name,
						"rule":    r.Name,
						"segment": r.Segment,
					}).Warn("rule references unknown segment; dropping rule from evaluable set")
					continue
				}
			}
			if r.AssignmentSpec != nil {
				keptAssignments := r.AssignmentSpec.Assignments[:0]
				for _, a := range r.AssignmentSpec.Assignments {
					if a.Variant != "" {
						if _, ok := f.Variants[a.Variant]; !ok {
							log.WithFields(logrus.Fields{
								"flag":       f.Name,
								"rule":       r.Name,
								"assignment": a.ID,
								"variant":    a.Variant,
							}).Warn("assignment references unknown variant; dropping assignment")
							continue
						}
					}
					keptAssignments = append(keptAssignments, a)
				}
				r.AssignmentSpec.Assignments = keptAssignments
			}
			keptRules = append(keptRules, r)
		}
		f.Rules = keptRules
	}

	return snap
}

// AuthorizeClientSecret resolves a client secret to its Client, or
// (nil, false) if unknown. Unknown credentials produce ErrClientSecretNotFound
// at the request boundary; this function only performs the lookup.
func (s *Snapshot) AuthorizeClientSecret(secret string) (*Client, bool) {
	entry, ok := s.credentials[secret]
	if !ok {
		return nil, false
	}
	return entry.client, true
}

// flagStatus classifies a requested flag name for one client.
type flagStatus int

const (
	flagEvaluable flagStatus = iota
	// flagUnknown: no flag with this name exists in the snapshot.
	flagUnknown
	// flagUnauthorized: the flag exists but its authorized-clients set
	// does not include the caller; it must stay invisible.
	flagUnauthorized
	// flagNotActive: the flag exists and the caller is authorized, but
	// its lifecycle state is not active.
	flagNotActive
)

// FlagForClient looks up name and classifies it for client.
func (s *Snapshot) FlagForClient(client *Client, name string) (*Flag, flagStatus) {
	f, active := s.Flags[name]
	if !active {
		var archived bool
		if f, archived = s.archivedFlags[name]; !archived {
			return nil, flagUnknown
		}
	}
	if client == nil || !f.Clients[client.Name] {
		return nil, flagUnauthorized
	}
	if !active {
		return f, flagNotActive
	}
	return f, flagEvaluable
}

// AllFlagsForClient returns every active flag authorized for client, in
// name order, for "resolve all flags" requests.
func (s *Snapshot) AllFlagsForClient(client *Client) []*Flag {
	if client == nil {
		return nil
	}
	out := make([]*Flag, 0, len(s.Flags))
	for _, f := range s.Flags {
		if f.Clients[client.Name] {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
