package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/minio/sha256-simd"
)

// Domain identifies a prediction task family.
type Domain string

const (
	Trajectory        Domain = "trajectory"
	GravitationalWave Domain = "gravitational-wave"
	DarkMatter        Domain = "dark-matter"
	Exoplanet         Domain = "exoplanet"
	StellarEvolution  Domain = "stellar-evolution"
	CMB               Domain = "cmb"
)

// Domains returns every known domain in a fixed order.
func Domains() []Domain {
	return []Domain{Trajectory, GravitationalWave, DarkMatter, Exoplanet, StellarEvolution, CMB}
}

func ParseDomain(value string) (Domain, error) {
	for _, known := range Domains() {
		if Domain(value) == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDomain, value)
}

// MinerID identifies a miner. It is opaque to the core; the external
// ledger owns the mapping to actual network identities.
type MinerID string

// Submission is a raw prediction payload as received from a miner.
// The payload is kept uninterpreted until scoring so that malformed
// data degrades to a missing prediction instead of being rejected.
type Submission struct {
	Miner   MinerID
	Domain  Domain
	Payload []byte
}

// Prediction is the parse result of a submission. A submission that
// could not be parsed into the task's declared shape is Missing.
type Prediction struct {
	Miner   MinerID
	Domain  Domain
	Values  []float64
	Missing bool
}

// ObservationSnapshot is a timestamped set of raw measurements for one
// task instance, supplied by the external data endpoint. Read-only
// within the core.
type ObservationSnapshot struct {
	Domain  Domain
	TakenAt time.Time
	Params  map[string]float64
	Series  map[string][]float64
}

// CorrectValue is the authoritative output vector for a task instance,
// ordered per the task's dimensions. Recomputed fresh every round.
type CorrectValue []float64

// MinerScore is one miner's outcome for a single task instance.
type MinerScore struct {
	Miner    MinerID
	Distance float64
	Missing  bool
	Score    float64
}

// MarshalJSON drops the sentinel distance of a missing score; JSON has
// no representation for non-finite numbers.
func (s MinerScore) MarshalJSON() ([]byte, error) {
	type wire struct {
		Miner    MinerID
		Distance *float64 `json:",omitempty"`
		Missing  bool     `json:",omitempty"`
		Score    float64
	}
	w := wire{Miner: s.Miner, Missing: s.Missing, Score: s.Score}
	if !math.IsInf(s.Distance, 0) && !math.IsNaN(s.Distance) {
		w.Distance = &s.Distance
	}
	return json.Marshal(w)
}

// RewardDistribution maps miners to non-negative fractions of the
// round's reward pool. Fractions sum to 1, or the map is empty when no
// miner produced a valid score.
type RewardDistribution map[MinerID]float64

func (d RewardDistribution) Sum() float64 {
	var sum float64
	for _, share := range d {
		sum += share
	}
	return sum
}

// Instance result statuses.
const (
	InstanceComplete = "complete"
	InstanceFailed   = "failed"
)

// InstanceResult is the outcome of scoring one task instance within a
// round. Failure carries the error kind when Status is failed.
type InstanceResult struct {
	Domain  Domain
	Status  string
	Failure string
	Truth   CorrectValue
	Scores  []MinerScore
	Shares  RewardDistribution
}

// RoundResult is the final outcome of one round: per-instance results
// and the combined reward distribution over the whole pool.
// Failure is the round-level error kind; it is empty unless the whole
// round failed, in which case Shares is empty.
type RoundResult struct {
	Epoch     uint
	Digest    []byte
	Started   time.Time
	Finished  time.Time
	Instances []InstanceResult
	Shares    RewardDistribution
	Failure   string
}

func (r *RoundResult) Failed() bool {
	return r.Failure != ""
}

// HashDigestTreeNode calculates an internal node of the submission
// digest merkle tree.
func HashDigestTreeNode(buf, lChild, rChild []byte) []byte {
	hasher := sha256.New()
	_, _ = hasher.Write([]byte{0x01})
	_, _ = hasher.Write(lChild)
	_, _ = hasher.Write(rChild)
	return hasher.Sum(buf)
}

// ClosedRound travels from the submission registry to the scorer when
// a round's submission window ends. The digest commits to the exact
// submission set; the deadline bounds the scoring work.
type ClosedRound struct {
	Epoch       uint
	Digest      []byte
	Submissions []Submission
	Opened      time.Time
	Closed      time.Time
	Deadline    time.Time
}

// RewardSink receives finished round results. Implemented by the
// external ledger collaborator; in-process implementations exist for
// tests and standalone runs.
type RewardSink interface {
	Deliver(ctx context.Context, result RoundResult) error
}
