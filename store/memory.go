package store

import (
	"bytes"
	"sync"

	"github.com/hxrts/aura-sub001/consensus"
	"github.com/hxrts/aura-sub001/lib"
)

var _ consensus.StoreI = &Memory{}

// Memory is a map backed commit fact store with the same insert contract as Store;
// used by tests and the in-process simulator
type Memory struct {
	l     sync.Mutex
	facts map[string][]byte
}

// NewMemory() constructs an empty in-memory store
func NewMemory() *Memory {
	return &Memory{facts: make(map[string][]byte)}
}

// InsertCommitFact() writes a fact; duplicates are no-ops, conflicts are refused
func (m *Memory) InsertCommitFact(f *consensus.CommitFact) lib.ErrorI {
	value, err := lib.Marshal(f)
	if err != nil {
		return err
	}
	key := string(factKey(f.InstanceId, f.PrestateHash))
	m.l.Lock()
	defer m.l.Unlock()
	if existing, found := m.facts[key]; found {
		if !bytes.Equal(existing, value) {
			return ErrFactConflict()
		}
		return nil
	}
	m.facts[key] = value
	return nil
}

// GetCommitFact() returns the fact for (instance, prestate) or nil if none exists
func (m *Memory) GetCommitFact(instanceId, prestateHash []byte) (*consensus.CommitFact, lib.ErrorI) {
	m.l.Lock()
	value, found := m.facts[string(factKey(instanceId, prestateHash))]
	m.l.Unlock()
	if !found {
		return nil, nil
	}
	fact := new(consensus.CommitFact)
	if err := lib.Unmarshal(value, fact); err != nil {
		return nil, err
	}
	return fact, nil
}

// Len() returns the number of stored facts
func (m *Memory) Len() int {
	m.l.Lock()
	defer m.l.Unlock()
	return len(m.facts)
}
