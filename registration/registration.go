package registration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrerynet/orrery/logging"
	"github.com/orrerynet/orrery/shared"
)

type WorkerService interface {
	ScoreRound(ctx context.Context, round shared.ClosedRound) error
	RegisterForResults(ctx context.Context) <-chan shared.RoundResult
}

type roundConfig interface {
	OpenRoundId(genesis, now time.Time) uint
	RoundStart(genesis time.Time, epoch uint) time.Time
	RoundEnd(genesis time.Time, epoch uint) time.Time
}

var (
	ErrRoundClosed     = errors.New("round is not accepting submissions")
	ErrPayloadTooLarge = errors.New("submission payload exceeds the size limit")
)

// Registration orchestrates rounds functionality.
// It is responsible for:
//   - accepting miner predictions,
//   - scheduling rounds,
//   - feeding workers with closed rounds for scoring,
//   - persisting round results and forwarding them to the reward sink.
type Registration struct {
	genesis  time.Time
	cfg      Config
	roundCfg roundConfig
	dbdir    string

	openRoundMutex sync.RWMutex
	openRound      *round

	db *database

	workerSvc WorkerService
	sink      shared.RewardSink
}

type newRegistrationOptionFunc func(*newRegistrationOptions)

type newRegistrationOptions struct {
	cfg  Config
	sink shared.RewardSink
}

func WithConfig(cfg Config) newRegistrationOptionFunc {
	return func(opts *newRegistrationOptions) {
		opts.cfg = cfg
	}
}

func WithRewardSink(sink shared.RewardSink) newRegistrationOptionFunc {
	return func(opts *newRegistrationOptions) {
		opts.sink = sink
	}
}

func New(
	ctx context.Context,
	genesis time.Time,
	dbdir string,
	workerSvc WorkerService,
	roundCfg roundConfig,
	opts ...newRegistrationOptionFunc,
) (*Registration, error) {
	options := newRegistrationOptions{
		cfg: DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	dbPath := filepath.Join(dbdir, "results")
	db, err := newDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening results database: %w", err)
	}

	r := &Registration{
		genesis:   genesis,
		cfg:       options.cfg,
		roundCfg:  roundCfg,
		dbdir:     dbdir,
		db:        db,
		workerSvc: workerSvc,
		sink:      options.sink,
	}

	epoch := r.roundCfg.OpenRoundId(r.genesis, time.Now())
	round, err := newRound(epoch, r.dbdir, r.newRoundOpts()...)
	if err != nil {
		return nil, fmt.Errorf("creating new round: %w", err)
	}
	logging.FromContext(ctx).Info("opened round", zap.Uint("epoch", epoch), zap.Int("submissions", round.members))
	r.openRound = round

	return r, nil
}

func (r *Registration) Close() error {
	return errors.Join(r.db.Close(), r.openRound.Close())
}

func (r *Registration) closeRound(ctx context.Context) error {
	r.openRoundMutex.Lock()
	defer r.openRoundMutex.Unlock()
	closed, err := r.closingData(r.openRound)
	if err != nil {
		return fmt.Errorf("collecting round %d data: %w", r.openRound.epoch, err)
	}
	logging.FromContext(ctx).Info(
		"closing round",
		zap.Uint("epoch", closed.Epoch),
		zap.Binary("digest", closed.Digest),
		zap.Int("submissions", len(closed.Submissions)),
	)

	if err := r.openRound.Close(); err != nil {
		logging.FromContext(ctx).Error("failed to close the open round", zap.Error(err))
	}
	if err := r.workerSvc.ScoreRound(ctx, closed); err != nil {
		return fmt.Errorf("closing round for epoch %d: %w", closed.Epoch, err)
	}
	epoch := r.roundCfg.OpenRoundId(r.genesis, time.Now())
	round, err := newRound(epoch, r.dbdir, r.newRoundOpts()...)
	if err != nil {
		return fmt.Errorf("creating new round: %w", err)
	}
	logging.FromContext(ctx).Info("opened round", zap.Uint("epoch", epoch), zap.Int("submissions", round.members))

	r.openRound = round
	return nil
}

// closingData assembles the ClosedRound handed to the scoring worker.
// The window times are the scheduled ones, not wall-clock, so that the
// observation window is identical when a round is scored again after a
// restart.
func (r *Registration) closingData(round *round) (shared.ClosedRound, error) {
	digest, err := round.calcDigest()
	if err != nil {
		return shared.ClosedRound{}, fmt.Errorf("calculating submissions digest: %w", err)
	}
	submissions, err := round.getSubmissions()
	if err != nil {
		return shared.ClosedRound{}, fmt.Errorf("reading submissions: %w", err)
	}
	epoch := round.epoch
	closed := shared.ClosedRound{
		Epoch:       epoch,
		Digest:      digest,
		Submissions: submissions,
		Opened:      r.roundCfg.RoundStart(r.genesis, epoch),
		Closed:      r.roundCfg.RoundEnd(r.genesis, epoch),
		Deadline:    r.roundCfg.RoundStart(r.genesis, epoch+1),
	}
	// A round recovered long after its schedule gets a fresh scoring
	// window of the same length.
	if now := time.Now(); closed.Deadline.Before(now) {
		closed.Deadline = now.Add(closed.Deadline.Sub(closed.Closed))
	}
	return closed, nil
}

func (r *Registration) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx).Named("registration")
	ctx = logging.NewContext(ctx, logger)

	results := r.workerSvc.RegisterForResults(ctx)

	// First hand over closed rounds that were never scored, if any.
	if err := r.recoverRounds(ctx); err != nil {
		return fmt.Errorf("recovering rounds: %w", err)
	}

	timer := r.scheduleRound(ctx, r.openRound.epoch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer:
			if err := r.closeRound(ctx); err != nil {
				logger.Error("failed to close round", zap.Error(err))
			}
			timer = r.scheduleRound(ctx, r.openRound.epoch)
		case result := <-results:
			if err := r.onResult(ctx, result); err != nil {
				logger.Error("failed to process round result", zap.Error(err), zap.Uint("epoch", result.Epoch))
			}
		}
	}
}

// recoverRounds scans the rounds directory for stores left over from a
// previous run. Closed epochs without a persisted result are re-closed
// and handed to the worker again; epochs that already have a result are
// deleted. The currently open round was already reopened in place.
func (r *Registration) recoverRounds(ctx context.Context) error {
	roundsDir := filepath.Join(r.dbdir, "rounds")
	entries, err := os.ReadDir(roundsDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return err
	}

	logger := logging.FromContext(ctx)
	for _, entry := range entries {
		epoch, err := strconv.ParseUint(entry.Name(), 10, 64)
		if err != nil {
			logger.Warn("skipping unrecognized dir in rounds", zap.String("name", entry.Name()))
			continue
		}
		if uint(epoch) >= r.openRound.epoch {
			continue
		}
		scored, err := r.db.HasResult(ctx, uint(epoch))
		if err != nil {
			return fmt.Errorf("checking result for round %d: %w", epoch, err)
		}
		if scored {
			if err := os.RemoveAll(filepath.Join(roundsDir, entry.Name())); err != nil {
				logger.Warn("failed to remove scored round dir", zap.Error(err), zap.Uint64("epoch", epoch))
			}
			continue
		}
		if err := r.recoverExecution(ctx, uint(epoch)); err != nil {
			return fmt.Errorf("recovering round %d: %w", epoch, err)
		}
	}
	return nil
}

func (r *Registration) recoverExecution(ctx context.Context, epoch uint) error {
	opts := append(r.newRoundOpts(), failIfNotExists())
	round, err := newRound(epoch, r.dbdir, opts...)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return err
	}
	defer round.Close()

	logging.FromContext(ctx).Info("found unscored round, scheduling it", zap.Uint("epoch", round.epoch))
	closed, err := r.closingData(round)
	if err != nil {
		return fmt.Errorf("collecting round data: %w", err)
	}
	if err := r.workerSvc.ScoreRound(ctx, closed); err != nil {
		return fmt.Errorf("scheduling unscored round for epoch %d: %w", round.epoch, err)
	}
	return nil
}

func (r *Registration) onResult(ctx context.Context, result shared.RoundResult) error {
	logger := logging.FromContext(ctx).Named("on-result").With(zap.Uint("epoch", result.Epoch))
	logger.Info("received round result",
		zap.Int("instances", len(result.Instances)),
		zap.Int("miners", len(result.Shares)),
	)

	if err := r.db.SaveResult(ctx, result); err != nil {
		return fmt.Errorf("saving round result in DB: %w", err)
	}
	if r.sink != nil {
		if err := r.sink.Deliver(ctx, result); err != nil {
			return fmt.Errorf("delivering round result: %w", err)
		}
	}

	// Never remove the store of the round that is currently open.
	if result.Epoch != r.OpenRound() {
		roundDir := filepath.Join(r.dbdir, "rounds", epochToRoundId(result.Epoch))
		if err := os.RemoveAll(roundDir); err != nil {
			logger.Warn("failed to remove round dir", zap.Error(err))
		}
		submissionsMetric.DeleteLabelValues(epochToRoundId(result.Epoch))
	}
	return nil
}

func (r *Registration) newRoundOpts() []newRoundOptionFunc {
	return []newRoundOptionFunc{
		withMaxMembers(r.cfg.MaxRoundMembers),
		withMaxSubmitBatchSize(r.cfg.MaxSubmitBatchSize),
		withSubmitFlushInterval(r.cfg.SubmitFlushInterval),
	}
}

// Submit admits a prediction payload into the open round.
// Admission is idempotent: resubmitting an identical payload for the
// same (miner, domain) pair succeeds without effect, while a different
// payload for an accepted pair is rejected.
// Returns the round epoch the submission landed in and the time the
// round closes for submissions.
func (r *Registration) Submit(
	ctx context.Context,
	miner shared.MinerID,
	domain shared.Domain,
	payload []byte,
) (epoch uint, roundEnd time.Time, err error) {
	logger := logging.FromContext(ctx)

	if len(payload) > r.cfg.MaxSubmissionSize {
		return 0, time.Time{}, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(payload), r.cfg.MaxSubmissionSize)
	}

	r.openRoundMutex.RLock()
	epoch = r.openRound.epoch
	opening := r.roundCfg.RoundStart(r.genesis, epoch)
	endTime := r.roundCfg.RoundEnd(r.genesis, epoch)
	if now := time.Now(); now.Before(opening) || !now.Before(endTime) {
		r.openRoundMutex.RUnlock()
		logger.Debug(
			"rejecting submission outside the round submission window",
			zap.Uint("round", epoch),
			zap.Time("opens", opening),
			zap.Time("closes", endTime),
		)
		return epoch, endTime, fmt.Errorf("%w: round %d", ErrRoundClosed, epoch)
	}
	done, err := r.openRound.submit(ctx, miner, domain, payload)
	r.openRoundMutex.RUnlock()

	switch {
	case err == nil:
		logger.Debug("async-submitted prediction for round",
			zap.Uint("round", epoch),
			zap.String("miner", string(miner)),
			zap.String("domain", string(domain)),
		)
		// wait for actually submitted
		select {
		case <-ctx.Done():
			return 0, time.Time{}, ctx.Err()
		case err := <-done:
			if err != nil {
				return 0, time.Time{}, err
			}
		}
	case errors.Is(err, ErrSubmissionAlreadyAccepted):
	case err != nil:
		return 0, time.Time{}, err
	}

	return epoch, endTime, nil
}

func (r *Registration) OpenRound() uint {
	r.openRoundMutex.RLock()
	defer r.openRoundMutex.RUnlock()
	return r.openRound.epoch
}

// Result returns the stored result for a scored round, or ErrNotFound.
func (r *Registration) Result(ctx context.Context, epoch uint) (*shared.RoundResult, error) {
	return r.db.GetResult(ctx, epoch)
}

func (r *Registration) scheduleRound(ctx context.Context, epoch uint) <-chan time.Time {
	waitTime := time.Until(r.roundCfg.RoundEnd(r.genesis, epoch))
	timer := time.After(waitTime)
	if waitTime > 0 {
		logging.FromContext(ctx).
			Info("waiting for round to end", zap.Duration("wait time", waitTime), zap.Uint("epoch", epoch))
	}
	return timer
}
