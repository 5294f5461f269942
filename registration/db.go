package registration

import (
	"bytes"
	"context"
	"fmt"
	"time"

	xdr "github.com/nullstyle/go-xdr/xdr3"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"golang.org/x/exp/slices"

	"github.com/orrerynet/orrery/shared"
)

var ErrNotFound = leveldb.ErrNotFound

// The database stores one record per scored round, keyed by epoch.
// Records use XDR with explicitly sized fields; the reward map is
// flattened into a slice sorted by miner so that the serialized bytes
// are deterministic.
type shareRecord struct {
	Miner string
	Share float64
}

type scoreRecord struct {
	Miner    string
	Distance float64
	Missing  bool
	Score    float64
}

type instanceRecord struct {
	Domain  string
	Status  string
	Failure string
	Truth   []float64
	Scores  []scoreRecord
	Shares  []shareRecord
}

type roundRecord struct {
	Epoch     uint64
	Digest    []byte
	Started   int64
	Finished  int64
	Instances []instanceRecord
	Shares    []shareRecord
	Failure   string
}

func sharesToRecords(shares shared.RewardDistribution) []shareRecord {
	records := make([]shareRecord, 0, len(shares))
	for miner, share := range shares {
		records = append(records, shareRecord{Miner: string(miner), Share: share})
	}
	slices.SortFunc(records, func(a, b shareRecord) bool { return a.Miner < b.Miner })
	return records
}

func sharesFromRecords(records []shareRecord) shared.RewardDistribution {
	if len(records) == 0 {
		return nil
	}
	shares := make(shared.RewardDistribution, len(records))
	for _, record := range records {
		shares[shared.MinerID(record.Miner)] = record.Share
	}
	return shares
}

func toRoundRecord(result shared.RoundResult) roundRecord {
	record := roundRecord{
		Epoch:    uint64(result.Epoch),
		Digest:   result.Digest,
		Started:  result.Started.UnixNano(),
		Finished: result.Finished.UnixNano(),
		Shares:   sharesToRecords(result.Shares),
		Failure:  result.Failure,
	}
	for _, instance := range result.Instances {
		scores := make([]scoreRecord, len(instance.Scores))
		for i, score := range instance.Scores {
			scores[i] = scoreRecord{
				Miner:    string(score.Miner),
				Distance: score.Distance,
				Missing:  score.Missing,
				Score:    score.Score,
			}
		}
		record.Instances = append(record.Instances, instanceRecord{
			Domain:  string(instance.Domain),
			Status:  instance.Status,
			Failure: instance.Failure,
			Truth:   instance.Truth,
			Scores:  scores,
			Shares:  sharesToRecords(instance.Shares),
		})
	}
	return record
}

func fromRoundRecord(record roundRecord) shared.RoundResult {
	result := shared.RoundResult{
		Epoch:    uint(record.Epoch),
		Digest:   record.Digest,
		Started:  time.Unix(0, record.Started),
		Finished: time.Unix(0, record.Finished),
		Shares:   sharesFromRecords(record.Shares),
		Failure:  record.Failure,
	}
	for _, instance := range record.Instances {
		scores := make([]shared.MinerScore, len(instance.Scores))
		for i, score := range instance.Scores {
			scores[i] = shared.MinerScore{
				Miner:    shared.MinerID(score.Miner),
				Distance: score.Distance,
				Missing:  score.Missing,
				Score:    score.Score,
			}
		}
		result.Instances = append(result.Instances, shared.InstanceResult{
			Domain:  shared.Domain(instance.Domain),
			Status:  instance.Status,
			Failure: instance.Failure,
			Truth:   instance.Truth,
			Scores:  scores,
			Shares:  sharesFromRecords(instance.Shares),
		})
	}
	return result
}

type database struct {
	db *leveldb.DB
}

func newDatabase(dbPath string) (*database, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database @ %s: %w", dbPath, err)
	}

	return &database{db}, nil
}

func (db *database) Close() error {
	return db.db.Close()
}

func (db *database) SaveResult(ctx context.Context, result shared.RoundResult) error {
	serialized, err := serializeRecord(toRoundRecord(result))
	if err != nil {
		return fmt.Errorf("failed serializing round result: %w", err)
	}
	key := []byte(epochToRoundId(result.Epoch))
	if err := db.db.Put(key, serialized, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("storing round result in DB: %w", err)
	}
	return nil
}

func (db *database) GetResult(ctx context.Context, epoch uint) (*shared.RoundResult, error) {
	data, err := db.db.Get([]byte(epochToRoundId(epoch)), nil)
	if err != nil {
		return nil, fmt.Errorf("get result for round %d from DB: %w", epoch, err)
	}

	record := roundRecord{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &record); err != nil {
		return nil, fmt.Errorf("failed to deserialize: %v", err)
	}
	result := fromRoundRecord(record)
	return &result, nil
}

func (db *database) HasResult(ctx context.Context, epoch uint) (bool, error) {
	return db.db.Has([]byte(epochToRoundId(epoch)), nil)
}

func serializeRecord(record roundRecord) ([]byte, error) {
	var dataBuf bytes.Buffer
	if _, err := xdr.Marshal(&dataBuf, &record); err != nil {
		return nil, fmt.Errorf("serialization failure: %v", err)
	}

	return dataBuf.Bytes(), nil
}
