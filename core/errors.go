package core

import "errors"

// Request-level errors: these fail the whole Resolve/ResolveWithSticky
// call rather than being carried as a per-flag ResolveReason.
var (
	// ErrClientSecretNotFound is returned when a request's client_secret
	// does not match any credential in the installed snapshot.
	ErrClientSecretNotFound = errors.New("client secret not found")

	// ErrMalformedResolveToken is returned when a resolve token does not
	// decrypt under this instance's key.
	ErrMalformedResolveToken = errors.New("malformed resolve token")
)

// ResolveReason is the per-flag outcome of rule evaluation.
type ResolveReason int

const (
	ReasonUnspecified ResolveReason = iota
	ReasonMatch
	ReasonNoSegmentMatch
	ReasonNoTreatmentMatch
	ReasonFlagArchived
	ReasonTargetingKeyError
	ReasonError
)

func (r ResolveReason) String() string {
	switch r {
	case ReasonMatch:
		return "match"
	case ReasonNoSegmentMatch:
		return "no_segment_match"
	case ReasonNoTreatmentMatch:
		return "no_treatment_match"
	case ReasonFlagArchived:
		return "flag_archived"
	case ReasonTargetingKeyError:
		return "targeting_key_error"
	case ReasonError:
		return "error"
	default:
		return "unspecified"
	}
}
