package scoring

import (
	"context"
	"encoding/json"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orrerynet/orrery/logging"
	"github.com/orrerynet/orrery/metric"
	"github.com/orrerynet/orrery/observations"
	"github.com/orrerynet/orrery/shared"
	"github.com/orrerynet/orrery/tasks"
	"github.com/orrerynet/orrery/truth"
)

// instanceRun carries one task instance through a round execution.
// A non-empty failure kind takes the instance out of play; the other
// instances are not affected.
type instanceRun struct {
	desc        tasks.Descriptor
	submissions []shared.Submission

	snapshot    shared.ObservationSnapshot
	truth       shared.CorrectValue
	predictions []shared.Prediction
	scores      []shared.MinerScore
	scored      atomic.Int32
	shares      shared.RewardDistribution

	failure string
}

func (i *instanceRun) fail(kind string) {
	i.failure = kind
}

func (i *instanceRun) failed() bool {
	return i.failure != ""
}

// execution is the state of scoring one closed round.
type execution struct {
	round     shared.ClosedRound
	phase     Phase
	instances []*instanceRun
	logger    *zap.Logger
}

func newExecution(round shared.ClosedRound, descriptors []tasks.Descriptor, logger *zap.Logger) *execution {
	byDomain := make(map[shared.Domain][]shared.Submission)
	for _, submission := range round.Submissions {
		byDomain[submission.Domain] = append(byDomain[submission.Domain], submission)
	}

	instances := make([]*instanceRun, 0, len(descriptors))
	for _, desc := range descriptors {
		instances = append(instances, &instanceRun{desc: desc, submissions: byDomain[desc.Domain]})
		delete(byDomain, desc.Domain)
	}
	for domain, orphaned := range byDomain {
		logger.Warn(
			"dropping submissions for a domain with no enabled task",
			zap.String("domain", string(domain)),
			zap.Int("submissions", len(orphaned)),
		)
	}

	return &execution{
		round:     round,
		phase:     AwaitingData,
		instances: instances,
		logger:    logger,
	}
}

func (e *execution) enter(to Phase) {
	next, err := Transition(e.phase, to)
	if err != nil {
		e.logger.Panic("round execution phase machine violated", zap.Error(err))
	}
	e.phase = next
	e.logger.Debug("entering phase", zap.String("phase", string(next)))
}

// alive counts the instances still in play.
func (e *execution) alive() int {
	var count int
	for _, inst := range e.instances {
		if !inst.failed() {
			count++
		}
	}
	return count
}

// fetchKind classifies a snapshot fetch failure. Causes outside the
// taxonomy (an unreachable or empty endpoint) count as the
// unresponsive-collaborator kind.
func fetchKind(err error) string {
	if kind := shared.KindOf(err); kind != shared.KindInternal {
		return kind
	}
	return shared.KindTimeout
}

// fetchSnapshots pulls the observation snapshot of every instance
// concurrently, each fetch under its own timeout.
func (e *execution) fetchSnapshots(ctx context.Context, provider observations.Provider, timeout time.Duration) {
	window := observations.Window{Start: e.round.Opened, End: e.round.Closed}
	var eg errgroup.Group
	for _, inst := range e.instances {
		inst := inst
		eg.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			snapshot, err := provider.Snapshot(fetchCtx, inst.desc.Domain, window)
			if err != nil {
				inst.fail(fetchKind(err))
				e.logger.Warn(
					"observation snapshot fetch failed",
					zap.String("domain", string(inst.desc.Domain)),
					zap.Error(err),
				)
				return nil
			}
			inst.snapshot = snapshot
			return nil
		})
	}
	_ = eg.Wait() // failures are recorded per instance
}

// resolveTruths computes the correct value of every surviving instance.
func (e *execution) resolveTruths(resolver *truth.Resolver) {
	for _, inst := range e.instances {
		if inst.failed() {
			continue
		}
		value, err := resolver.Resolve(inst.desc, inst.snapshot)
		if err != nil {
			inst.fail(shared.KindOf(err))
			e.logger.Warn(
				"ground truth resolution failed",
				zap.String("domain", string(inst.desc.Domain)),
				zap.Error(err),
			)
			continue
		}
		inst.truth = value
	}
}

// parsePayload decodes a submission into the task's declared shape: a
// JSON array of exactly as many finite numbers as the task has
// dimensions. Submissions are untrusted, so anything else degrades to
// a missing prediction instead of an error.
func parsePayload(submission shared.Submission, dimensions int) shared.Prediction {
	prediction := shared.Prediction{Miner: submission.Miner, Domain: submission.Domain, Missing: true}
	var values []float64
	if err := json.Unmarshal(submission.Payload, &values); err != nil {
		return prediction
	}
	if len(values) != dimensions {
		return prediction
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return prediction
		}
	}
	prediction.Values = values
	prediction.Missing = false
	return prediction
}

// scoreMiners parses every surviving instance's submissions and scores
// them under one bounded worker pool. Workers write to pre-indexed
// slots; the ground truth vectors are the only shared reads. An
// instance whose slots did not all fill before the round deadline is
// failed, the fully scored ones are kept.
func (e *execution) scoreMiners(ctx context.Context, parallelism int) {
	var eg errgroup.Group
	eg.SetLimit(parallelism)
	for _, inst := range e.instances {
		if inst.failed() {
			continue
		}
		inst := inst
		dimensions := len(inst.desc.Dimensions)
		scales := inst.desc.Scales()
		weights := inst.desc.Weights()

		inst.predictions = make([]shared.Prediction, len(inst.submissions))
		inst.scores = make([]shared.MinerScore, len(inst.submissions))
		for i, submission := range inst.submissions {
			inst.predictions[i] = parsePayload(submission, dimensions)
		}

		for i := range inst.predictions {
			i := i
			eg.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				discrepancy := metric.Measure(inst.predictions[i], inst.truth, scales, weights)
				inst.scores[i] = shared.MinerScore{
					Miner:    inst.predictions[i].Miner,
					Distance: discrepancy.Distance,
					Missing:  discrepancy.Missing,
					Score:    inst.desc.Curve.Score(discrepancy),
				}
				inst.scored.Add(1)
				return nil
			})
		}
	}
	_ = eg.Wait() // interrupted instances show up in their scored count

	for _, inst := range e.instances {
		if inst.failed() {
			continue
		}
		if int(inst.scored.Load()) != len(inst.predictions) {
			inst.fail(shared.KindTimeout)
			e.logger.Warn(
				"miner scoring interrupted by the round deadline",
				zap.String("domain", string(inst.desc.Domain)),
			)
		}
	}
}

// allocate distributes each funded instance's sub-pool and combines
// them into the round distribution. The round pool is split across the
// instances with at least one positive score, proportionally to their
// pool weights.
func (e *execution) allocate() shared.RewardDistribution {
	var poolWeight float64
	funded := make([]*instanceRun, 0, len(e.instances))
	for _, inst := range e.instances {
		if inst.failed() {
			continue
		}
		shares, err := inst.desc.Allocator.Allocate(inst.scores)
		if err != nil {
			// Every miner was missing or below the score floor; the
			// instance completed but holds no stake in the round pool.
			inst.shares = shared.RewardDistribution{}
			continue
		}
		inst.shares = shares
		funded = append(funded, inst)
		poolWeight += inst.desc.PoolWeight
	}
	if len(funded) == 0 {
		return shared.RewardDistribution{}
	}

	combined := make(shared.RewardDistribution)
	for _, inst := range funded {
		weight := inst.desc.PoolWeight / poolWeight
		for miner, share := range inst.shares {
			combined[miner] += weight * share
		}
	}
	return combined
}

// results snapshots the per-instance outcomes. Failed instances carry
// only their domain and failure kind; partial data of an interrupted
// instance never reaches the record.
func (e *execution) results() []shared.InstanceResult {
	results := make([]shared.InstanceResult, len(e.instances))
	for i, inst := range e.instances {
		if inst.failed() {
			results[i] = shared.InstanceResult{
				Domain:  inst.desc.Domain,
				Status:  shared.InstanceFailed,
				Failure: inst.failure,
			}
			continue
		}
		results[i] = shared.InstanceResult{
			Domain: inst.desc.Domain,
			Status: shared.InstanceComplete,
			Truth:  inst.truth,
			Scores: inst.scores,
			Shares: inst.shares,
		}
	}
	return results
}

// roundFailure picks the kind recorded for a round with no surviving
// instance. An expired deadline wins over the individual causes.
func (e *execution) roundFailure(ctx context.Context) string {
	if err := ctx.Err(); err != nil {
		return shared.KindOf(err)
	}
	if len(e.instances) == 0 {
		return shared.KindInvalidConfiguration
	}
	kind := e.instances[0].failure
	for _, inst := range e.instances[1:] {
		if inst.failure != kind {
			return shared.KindInternal
		}
	}
	return kind
}

// execute runs the full pipeline for one closed round. It always
// produces a result; a round that dies before any instance is scored
// produces a failed one.
func (s *Service) execute(ctx context.Context, round shared.ClosedRound) shared.RoundResult {
	started := time.Now()
	logger := logging.FromContext(ctx).With(
		zap.Uint("epoch", round.Epoch),
		zap.Stringer("execution", uuid.New()),
	)
	ctx = logging.NewContext(ctx, logger)
	if !round.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, round.Deadline)
		defer cancel()
	}

	logger.Info(
		"executing round",
		zap.Int("submissions", len(round.Submissions)),
		zap.Time("deadline", round.Deadline),
	)

	exec := newExecution(round, s.tasks.Enabled(), logger)
	exec.fetchSnapshots(ctx, s.provider, s.cfg.FetchTimeout)
	if exec.alive() > 0 {
		exec.enter(Resolving)
		exec.resolveTruths(s.resolver)
	}
	if exec.alive() > 0 {
		exec.enter(Scoring)
		exec.scoreMiners(ctx, s.cfg.Parallelism)
	}
	var shares shared.RewardDistribution
	if exec.alive() > 0 {
		exec.enter(Allocating)
		shares = exec.allocate()
	}

	result := shared.RoundResult{
		Epoch:     round.Epoch,
		Digest:    round.Digest,
		Started:   started,
		Finished:  time.Now(),
		Instances: exec.results(),
		Shares:    shares,
	}
	if exec.alive() == 0 {
		exec.enter(Failed)
		result.Failure = exec.roundFailure(ctx)
		result.Shares = nil
		logger.Warn(
			"round failed",
			zap.String("failure", result.Failure),
			zap.Duration("took", result.Finished.Sub(started)),
		)
	} else {
		exec.enter(Complete)
		logger.Info(
			"round complete",
			zap.Int("instances", exec.alive()),
			zap.Int("miners", len(result.Shares)),
			zap.Duration("took", result.Finished.Sub(started)),
		)
	}

	for _, instance := range result.Instances {
		instancesMetric.WithLabelValues(string(instance.Domain), instance.Status).Inc()
	}
	if result.Failed() {
		roundsMetric.WithLabelValues(shared.InstanceFailed).Inc()
	} else {
		roundsMetric.WithLabelValues(shared.InstanceComplete).Inc()
	}
	executionLatencyMetric.Observe(result.Finished.Sub(started).Seconds())

	return result
}
