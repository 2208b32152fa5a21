// Package statestore persists the tranche ledger records as JSON documents
// in a key-value database, keyed under fixed per-table prefixes.
package statestore

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"tranchepool/crypto"
	"tranchepool/native/tranche"
	"tranchepool/storage"
)

const (
	poolPrefix       = "tranche/pool/"
	poolKeyPrefix    = "tranche/poolkey/"
	poolCountKey     = "tranche/poolcount"
	juniorPrefix     = "tranche/junior/"
	seniorPrefix     = "tranche/senior/"
	investorPrefix   = "tranche/investor/"
	aggregatesKeyRaw = "tranche/aggregates"
)

// Store implements the engine's persistence surface over a storage.Database.
type Store struct {
	db storage.Database
}

// New wraps a database in a tranche state store.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

func poolKey(id uint64) []byte {
	return []byte(poolPrefix + strconv.FormatUint(id, 10))
}

func poolIndexKey(trancheKey string) []byte {
	return []byte(poolKeyPrefix + trancheKey)
}

func investorKey(addr crypto.Address) []byte {
	return []byte(investorPrefix + string(addr.Prefix()) + "/" + hex.EncodeToString(addr.Bytes()))
}

// getJSON decodes the record at key into out. A missing key reports false
// with no error.
func (s *Store) getJSON(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("statestore: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) putJSON(key []byte, record interface{}) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("statestore: encode %s: %w", key, err)
	}
	return s.db.Put(key, raw)
}

// GetPool loads a pool by id; nil when absent.
func (s *Store) GetPool(id uint64) (*tranche.LendingPool, error) {
	var pool tranche.LendingPool
	ok, err := s.getJSON(poolKey(id), &pool)
	if err != nil || !ok {
		return nil, err
	}
	return &pool, nil
}

// GetPoolByKey resolves the tranche-key index, then the pool record.
func (s *Store) GetPoolByKey(key string) (*tranche.LendingPool, error) {
	raw, err := s.db.Get(poolIndexKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("statestore: corrupt pool index for %q: %w", key, err)
	}
	return s.GetPool(id)
}

// PutPool stores the pool under its id and maintains the key index and the
// registry count.
func (s *Store) PutPool(pool *tranche.LendingPool) error {
	if pool == nil {
		return errors.New("statestore: nil pool")
	}
	known, err := s.db.Has(poolKey(pool.ID))
	if err != nil {
		return err
	}
	if err := s.putJSON(poolKey(pool.ID), pool); err != nil {
		return err
	}
	if err := s.db.Put(poolIndexKey(pool.TrancheKey), []byte(strconv.FormatUint(pool.ID, 10))); err != nil {
		return err
	}
	if known {
		return nil
	}
	count, err := s.PoolCount()
	if err != nil {
		return err
	}
	return s.db.Put([]byte(poolCountKey), []byte(strconv.FormatUint(count+1, 10)))
}

// PoolCount reports how many pools the registry has stored.
func (s *Store) PoolCount() (uint64, error) {
	raw, err := s.db.Get([]byte(poolCountKey))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	count, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("statestore: corrupt pool count: %w", err)
	}
	return count, nil
}

// ListPools returns every stored pool in id order. Ids are sequential from 1,
// so the scan is a straight walk up to the registry count.
func (s *Store) ListPools() ([]*tranche.LendingPool, error) {
	count, err := s.PoolCount()
	if err != nil {
		return nil, err
	}
	pools := make([]*tranche.LendingPool, 0, count)
	for id := uint64(1); id <= count; id++ {
		pool, err := s.GetPool(id)
		if err != nil {
			return nil, err
		}
		if pool == nil {
			continue
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

// GetJuniorTranche loads a junior tranche record; nil when absent.
func (s *Store) GetJuniorTranche(key string) (*tranche.JuniorTranche, error) {
	var record tranche.JuniorTranche
	ok, err := s.getJSON([]byte(juniorPrefix+key), &record)
	if err != nil || !ok {
		return nil, err
	}
	return &record, nil
}

// PutJuniorTranche stores a junior tranche record.
func (s *Store) PutJuniorTranche(key string, record *tranche.JuniorTranche) error {
	if record == nil {
		return errors.New("statestore: nil junior tranche")
	}
	return s.putJSON([]byte(juniorPrefix+key), record)
}

// GetSeniorTranche loads a senior tranche record; nil when absent.
func (s *Store) GetSeniorTranche(key string) (*tranche.SeniorTranche, error) {
	var record tranche.SeniorTranche
	ok, err := s.getJSON([]byte(seniorPrefix+key), &record)
	if err != nil || !ok {
		return nil, err
	}
	return &record, nil
}

// PutSeniorTranche stores a senior tranche record.
func (s *Store) PutSeniorTranche(key string, record *tranche.SeniorTranche) error {
	if record == nil {
		return errors.New("statestore: nil senior tranche")
	}
	return s.putJSON([]byte(seniorPrefix+key), record)
}

// GetInvestor loads an investor record; nil when absent.
func (s *Store) GetInvestor(addr crypto.Address) (*tranche.Investor, error) {
	var record tranche.Investor
	ok, err := s.getJSON(investorKey(addr), &record)
	if err != nil || !ok {
		return nil, err
	}
	return &record, nil
}

// PutInvestor stores an investor record keyed by its address.
func (s *Store) PutInvestor(record *tranche.Investor) error {
	if record == nil {
		return errors.New("statestore: nil investor")
	}
	return s.putJSON(investorKey(record.Address), record)
}

// SeniorAggregates loads the process-wide senior accounting; nil when absent.
func (s *Store) SeniorAggregates() (*tranche.SeniorAggregates, error) {
	var record tranche.SeniorAggregates
	ok, err := s.getJSON([]byte(aggregatesKeyRaw), &record)
	if err != nil || !ok {
		return nil, err
	}
	return &record, nil
}

// PutSeniorAggregates stores the process-wide senior accounting.
func (s *Store) PutSeniorAggregates(record *tranche.SeniorAggregates) error {
	if record == nil {
		return errors.New("statestore: nil senior aggregates")
	}
	return s.putJSON([]byte(aggregatesKeyRaw), record)
}
