package store

import (
	"bytes"
	"errors"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"

	"github.com/hxrts/aura-sub001/consensus"
	"github.com/hxrts/aura-sub001/lib"
)

/*
	Durable commit fact store backed by badger. Commit facts are the only durable artifact
	the consensus core produces; the store's contract is an idempotent insert under the
	agreement invariant: at most one fact per (instance id, prestate hash), duplicate inserts
	of the same fact are no-ops, and a differing fact for an occupied key is refused.
*/

var factPrefix = []byte("f/")

var _ consensus.StoreI = &Store{}

// Store is the badger backed commit fact store
type Store struct {
	db  *badger.DB
	log lib.LoggerI
}

// New() opens (or creates) the commit fact database under the data directory
func New(config lib.Config, log lib.LoggerI) (*Store, lib.ErrorI) {
	path := filepath.Join(config.DataDir, config.DBName)
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, ErrOpenDB(err)
	}
	return &Store{db: db, log: log}, nil
}

func factKey(instanceId, prestateHash []byte) []byte {
	key := make([]byte, 0, len(factPrefix)+len(instanceId)+1+len(prestateHash))
	key = append(key, factPrefix...)
	key = append(key, instanceId...)
	key = append(key, '/')
	return append(key, prestateHash...)
}

// InsertCommitFact() writes a fact; re-inserting the same fact is a no-op and a different
// fact under an occupied key is a conflict, never an overwrite
func (s *Store) InsertCommitFact(f *consensus.CommitFact) lib.ErrorI {
	value, err := lib.Marshal(f)
	if err != nil {
		return err
	}
	key := factKey(f.InstanceId, f.PrestateHash)
	dbErr := s.db.Update(func(txn *badger.Txn) error {
		item, getErr := txn.Get(key)
		switch {
		case getErr == nil:
			existing, valErr := item.ValueCopy(nil)
			if valErr != nil {
				return valErr
			}
			if !bytes.Equal(existing, value) {
				return ErrFactConflict()
			}
			return nil // duplicate insert, nothing to do
		case errors.Is(getErr, badger.ErrKeyNotFound):
			return txn.Set(key, value)
		default:
			return getErr
		}
	})
	if dbErr != nil {
		if e, ok := dbErr.(lib.ErrorI); ok {
			return e
		}
		return ErrStoreWrite(dbErr)
	}
	return nil
}

// GetCommitFact() returns the fact for (instance, prestate) or nil if none exists
func (s *Store) GetCommitFact(instanceId, prestateHash []byte) (*consensus.CommitFact, lib.ErrorI) {
	var value []byte
	dbErr := s.db.View(func(txn *badger.Txn) error {
		item, getErr := txn.Get(factKey(instanceId, prestateHash))
		if getErr != nil {
			return getErr
		}
		var valErr error
		value, valErr = item.ValueCopy(nil)
		return valErr
	})
	if dbErr != nil {
		if errors.Is(dbErr, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, ErrStoreRead(dbErr)
	}
	fact := new(consensus.CommitFact)
	if err := lib.Unmarshal(value, fact); err != nil {
		return nil, err
	}
	return fact, nil
}

// IterateCommitFacts() invokes the callback for every stored fact; returning false stops
func (s *Store) IterateCommitFacts(callback func(f *consensus.CommitFact) bool) lib.ErrorI {
	dbErr := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = factPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			value, valErr := it.Item().ValueCopy(nil)
			if valErr != nil {
				return valErr
			}
			fact := new(consensus.CommitFact)
			if err := lib.Unmarshal(value, fact); err != nil {
				return err
			}
			if !callback(fact) {
				return nil
			}
		}
		return nil
	})
	if dbErr != nil {
		return ErrStoreRead(dbErr)
	}
	return nil
}

// Close() releases the database
func (s *Store) Close() lib.ErrorI {
	if err := s.db.Close(); err != nil {
		return ErrCloseDB(err)
	}
	return nil
}
