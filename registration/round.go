package registration

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/minio/sha256-simd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/spacemeshos/merkle-tree"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"go.uber.org/zap"

	"github.com/orrerynet/orrery/logging"
	"github.com/orrerynet/orrery/shared"
)

var (
	ErrMaxMembersReached         = errors.New("maximum number of round members reached")
	ErrSubmissionAlreadyAccepted = errors.New("submission is already accepted")
	ErrConflictingSubmission     = errors.New("conflicting submission for the same miner and domain")

	submissionsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orrery",
		Subsystem: "round",
		Name:      "submissions_total",
		Help:      "Number of accepted submissions in a round",
	}, []string{"id"})

	batchWriteLatencyMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "orrery",
		Subsystem: "round",
		Name:      "batch_write_latency_seconds",
		Help:      "Latency of batch write operations",
		Buckets:   prometheus.ExponentialBuckets(0.001, 1.5, 20),
	})
)

// submissionKey builds the store key for a (miner, domain) pair. The
// miner part is length-prefixed so that keys cannot collide across the
// two fields.
func submissionKey(miner shared.MinerID, domain shared.Domain) []byte {
	key := make([]byte, 0, binary.MaxVarintLen64+len(miner)+len(domain))
	key = binary.AppendUvarint(key, uint64(len(miner)))
	key = append(key, miner...)
	return append(key, domain...)
}

func parseSubmissionKey(key []byte) (shared.MinerID, shared.Domain, error) {
	length, read := binary.Uvarint(key)
	if read <= 0 || uint64(len(key)-read) < length {
		return "", "", fmt.Errorf("malformed submission key %X", key)
	}
	miner := shared.MinerID(key[read : read+int(length)])
	domain := shared.Domain(key[read+int(length):])
	return miner, domain, nil
}

type pendingSubmit struct {
	done    chan<- error
	payload []byte
}

type round struct {
	epoch uint
	db    *leveldb.DB

	maxMembers        int
	members           int
	submissionCounter prometheus.Counter

	// protects concurrent access to batch, pendingSubmits and
	// pendingFlush (all are used in submit and the flush paths) while
	// the timed flush runs on a timer goroutine.
	batchMutex     sync.Mutex
	batch          *leveldb.Batch
	pendingSubmits map[string]pendingSubmit
	pendingFlush   *time.Timer
	flushInterval  time.Duration
	maxBatchSize   int
}

type newRoundOptions struct {
	submitFlushInterval time.Duration
	maxMembers          int
	maxSubmitBatchSize  int
	failIfNotExists     bool
}

type newRoundOptionFunc func(*newRoundOptions)

func withMaxMembers(maxMembers int) newRoundOptionFunc {
	return func(o *newRoundOptions) {
		o.maxMembers = maxMembers
	}
}

func withSubmitFlushInterval(interval time.Duration) newRoundOptionFunc {
	return func(o *newRoundOptions) {
		o.submitFlushInterval = interval
	}
}

func withMaxSubmitBatchSize(size int) newRoundOptionFunc {
	return func(o *newRoundOptions) {
		o.maxSubmitBatchSize = size
	}
}

func failIfNotExists() newRoundOptionFunc {
	return func(o *newRoundOptions) {
		o.failIfNotExists = true
	}
}

func newRound(epoch uint, dbdir string, options ...newRoundOptionFunc) (*round, error) {
	id := epochToRoundId(epoch)
	opts := newRoundOptions{
		submitFlushInterval: time.Microsecond,
		maxMembers:          1 << 32,
		maxSubmitBatchSize:  1000,
	}
	for _, opt := range options {
		opt(&opts)
	}

	dbdir = filepath.Join(dbdir, "rounds", id)
	db, err := leveldb.OpenFile(dbdir, &opt.Options{ErrorIfMissing: opts.failIfNotExists})
	if err != nil {
		return nil, fmt.Errorf("failed to open round db: %w", err)
	}

	// Note: using the panicking version here because it panics
	// only if the number of label values is not the same as the number of variable labels in Desc.
	// There is only 1 label (round ID), that is passed, so it's safe to use.
	submissionCounter := submissionsMetric.WithLabelValues(id)

	r := &round{
		epoch:             epoch,
		db:                db,
		members:           countSubmissionsInDB(db),
		submissionCounter: submissionCounter,
		maxMembers:        opts.maxMembers,
		maxBatchSize:      opts.maxSubmitBatchSize,
		flushInterval:     opts.submitFlushInterval,
		pendingSubmits:    make(map[string]pendingSubmit),
	}

	submissionCounter.Add(float64(r.members))

	return r, nil
}

// submit a prediction payload to the round under the (miner, domain) key.
// The submissions are collected in a batch and persisted to disk periodically.
// Returns an error if it was not possible to add the submission to the batch
// (for example, a duplicated key) and a channel to which the final result will
// be sent when the submission is persisted.
// The caller must await the returned channel to make sure that the submission is persisted.
func (r *round) submit(
	ctx context.Context,
	miner shared.MinerID,
	domain shared.Domain,
	payload []byte,
) (<-chan error, error) {
	key := submissionKey(miner, domain)

	r.batchMutex.Lock()
	defer r.batchMutex.Unlock()

	if pending, ok := r.pendingSubmits[string(key)]; ok {
		if bytes.Equal(payload, pending.payload) {
			return nil, fmt.Errorf("%w: miner %s, domain %s", ErrSubmissionAlreadyAccepted, miner, domain)
		}
		return nil, ErrConflictingSubmission
	}

	accepted, err := r.db.Get(key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		// OK - the submission is not accepted yet.
	case err != nil:
		return nil, fmt.Errorf("failed to check for an accepted submission: %w", err)
	case bytes.Equal(payload, accepted):
		return nil, fmt.Errorf("%w: miner %s, domain %s", ErrSubmissionAlreadyAccepted, miner, domain)
	default:
		return nil, ErrConflictingSubmission
	}

	if r.members+len(r.pendingSubmits) >= r.maxMembers {
		return nil, ErrMaxMembersReached
	}

	if r.batch == nil {
		r.batch = leveldb.MakeBatch(r.maxBatchSize)
		r.pendingFlush = time.AfterFunc(r.flushInterval, r.timedFlushPendingSubmits)
	}

	r.batch.Put(key, payload)
	done := make(chan error, 1)
	r.pendingSubmits[string(key)] = pendingSubmit{
		done,
		payload,
	}

	if r.batch.Len() >= r.maxBatchSize {
		r.flushPendingSubmitsLocked()
	}

	return done, nil
}

func (r *round) timedFlushPendingSubmits() {
	r.batchMutex.Lock()
	defer r.batchMutex.Unlock()
	// a manual flush could have won the race and canceled this one
	if r.pendingFlush == nil {
		return
	}
	r.flushPendingSubmitsLocked()
}

func (r *round) flushPendingSubmits() {
	r.batchMutex.Lock()
	defer r.batchMutex.Unlock()
	r.flushPendingSubmitsLocked()
}

func (r *round) flushPendingSubmitsLocked() {
	if r.pendingFlush != nil {
		r.pendingFlush.Stop()
		r.pendingFlush = nil
	}
	if r.batch == nil || r.batch.Len() == 0 {
		return
	}
	logging.FromContext(context.Background()).
		Debug("flushing pending submissions", zap.Int("num", len(r.pendingSubmits)), zap.Uint("round", r.epoch))
	start := time.Now()
	err := r.db.Write(r.batch, &opt.WriteOptions{Sync: true})
	if err == nil {
		batchWriteLatencyMetric.Observe(time.Since(start).Seconds())
		r.members += len(r.pendingSubmits)
		r.submissionCounter.Add(float64(len(r.pendingSubmits)))
	}
	for _, pending := range r.pendingSubmits {
		pending.done <- err
		close(pending.done)
	}

	r.pendingSubmits = make(map[string]pendingSubmit)
	r.batch = nil
}

func countSubmissionsInDB(db *leveldb.DB) (count int) {
	iter := db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		count++
	}
	return count
}

// calcDigest computes the merkle root committing to the accepted
// submission set. Leaves are sha256 over the stored key and payload,
// iterated in key order. An empty round has a nil digest.
func (r *round) calcDigest() ([]byte, error) {
	r.flushPendingSubmits()
	mtree, err := merkle.NewTreeBuilder().
		WithHashFunc(shared.HashDigestTreeNode).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize merkle tree: %v", err)
	}

	leaves := 0
	iter := r.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		hasher := sha256.New()
		_, _ = hasher.Write(iter.Key())
		_, _ = hasher.Write(iter.Value())
		if err := mtree.AddLeaf(hasher.Sum(nil)); err != nil {
			return nil, err
		}
		leaves++
	}
	if leaves == 0 {
		return nil, nil
	}

	return mtree.Root(), nil
}

func (r *round) getSubmissions() ([]shared.Submission, error) {
	iter := r.db.NewIterator(nil, nil)
	defer iter.Release()
	var submissions []shared.Submission
	for iter.Next() {
		miner, domain, err := parseSubmissionKey(iter.Key())
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, shared.Submission{
			Miner:   miner,
			Domain:  domain,
			Payload: append([]byte{}, iter.Value()...),
		})
	}
	return submissions, nil
}

func (r *round) Close() error {
	r.flushPendingSubmits()
	return r.db.Close()
}

func epochToRoundId(epoch uint) string {
	return strconv.FormatUint(uint64(epoch), 10)
}
