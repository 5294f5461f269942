package scoring

import "fmt"

// Phase names one stage of a round execution. The pipeline is linear;
// Failed is reachable from every non-terminal phase.
type Phase string

const (
	// AwaitingData covers fetching the observation snapshots.
	AwaitingData Phase = "awaiting-data"
	// Resolving covers computing the correct values.
	Resolving Phase = "resolving"
	// Scoring covers measuring and scoring the miner predictions.
	Scoring Phase = "scoring"
	// Allocating covers turning scores into reward shares.
	Allocating Phase = "allocating"
	// Complete is the terminal phase of a round that produced a result.
	Complete Phase = "complete"
	// Failed is the terminal phase of a round with no surviving instance.
	Failed Phase = "failed"
)

// Terminal reports whether the phase is final.
func (p Phase) Terminal() bool {
	switch p {
	case Complete, Failed:
		return true
	default:
		return false
	}
}

// Transition performs a validated phase change. A disallowed
// transition is a programming error, not a round outcome.
func Transition(from, to Phase) (Phase, error) {
	if !isAllowedTransition(from, to) {
		return from, fmt.Errorf("disallowed phase transition: %s -> %s", from, to)
	}
	return to, nil
}

func isAllowedTransition(from, to Phase) bool {
	if to == Failed {
		return !from.Terminal()
	}
	switch from {
	case AwaitingData:
		return to == Resolving
	case Resolving:
		return to == Scoring
	case Scoring:
		return to == Allocating
	case Allocating:
		return to == Complete
	default:
		return false
	}
}
