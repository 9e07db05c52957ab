// Package analyze runs both rustfmt builds over acquired workspace members
// and classifies how their formatting behavior differs.
package analyze

import "time"

// OutcomeKind says what one formatter run produced.
type OutcomeKind int

const (
	// OutcomeNoDiff means the formatter accepted the code as-is.
	OutcomeNoDiff OutcomeKind = iota

	// OutcomeDiff means the formatter wanted changes; Diff holds them.
	OutcomeDiff

	// OutcomeError means the run failed: bad exit status, timeout, or an
	// exit code 1 with nothing on stdout.
	OutcomeError
)

// Outcome is the result of one formatter invocation.
type Outcome struct {
	Kind OutcomeKind

	// Diff is the check output when Kind is OutcomeDiff.
	Diff string

	// Message describes the failure when Kind is OutcomeError.
	Message string

	Elapsed time.Duration
}

// Divergence classifies the two outcomes against each other.
type Divergence int

const (
	// DivergenceNone: both formatters agreed, including agreeing on the
	// exact same diff. Failed runs also land here; an error says nothing
	// about formatting behavior.
	DivergenceNone Divergence = iota

	// DivergenceCandidateOnly: only the candidate build wanted changes.
	DivergenceCandidateOnly

	// DivergenceReferenceOnly: only the reference build wanted changes.
	DivergenceReferenceOnly

	// DivergenceDiffersBetween: both wanted changes, but different ones.
	DivergenceDiffersBetween
)

// Diverged reports whether the classification is anything but agreement.
func (d Divergence) Diverged() bool {
	return d != DivergenceNone
}

func (d Divergence) String() string {
	switch d {
	case DivergenceCandidateOnly:
		return "candidate-only"
	case DivergenceReferenceOnly:
		return "reference-only"
	case DivergenceDiffersBetween:
		return "differs-between"
	default:
		return "none"
	}
}

// Classify compares the candidate run against the reference run.
func Classify(candidate, reference Outcome) Divergence {
	if candidate.Kind == OutcomeError || reference.Kind == OutcomeError {
		return DivergenceNone
	}
	switch {
	case candidate.Kind == OutcomeDiff && reference.Kind != OutcomeDiff:
		return DivergenceCandidateOnly
	case candidate.Kind != OutcomeDiff && reference.Kind == OutcomeDiff:
		return DivergenceReferenceOnly
	case candidate.Kind == OutcomeDiff && reference.Kind == OutcomeDiff:
		if candidate.Diff != reference.Diff {
			return DivergenceDiffersBetween
		}
	}
	return DivergenceNone
}
