package consensus

import (
	"bytes"

	"github.com/hxrts/aura-sub001/lib"
)

/*
	Evidence is a state-based CRDT accumulating everything a participant knows about one
	instance: the shares it has seen, the witnesses proven to have equivocated, and the commit
	fact once one exists. Every protocol message carries an evidence delta, so a laggard or
	rejoining witness converges by merge alone; there is no separate catch-up protocol.

	Merge() is commutative, associative, and idempotent. Entries keyed the same but carrying
	different bytes are resolved by keeping the canonically smaller encoding, which keeps the
	join deterministic regardless of arrival order.
*/

// Evidence is the per-instance accumulator; a full copy is also the delta type
type Evidence struct {
	InstanceId   lib.HexBytes                  `json:"instanceId"`
	Shares       map[string]*Share             `json:"shares,omitempty"`
	Equivocators map[uint64]*EquivocationProof `json:"equivocators,omitempty"`
	CommitFact   *CommitFact                   `json:"commitFact,omitempty"`
}

// NewEvidence() constructs an empty accumulator for an instance
func NewEvidence(instanceId lib.HexBytes) *Evidence {
	return &Evidence{
		InstanceId:   instanceId,
		Shares:       make(map[string]*Share),
		Equivocators: make(map[uint64]*EquivocationProof),
	}
}

// AddShare() records a share attestation
func (e *Evidence) AddShare(s *Share) {
	if s == nil {
		return
	}
	if e.Shares == nil {
		e.Shares = make(map[string]*Share)
	}
	key := s.Key()
	if existing, found := e.Shares[key]; !found || lesserCanonical(s, existing) {
		e.Shares[key] = s
	}
}

// AddEquivocator() records a proof that a witness double-signed
func (e *Evidence) AddEquivocator(p *EquivocationProof) {
	if p == nil {
		return
	}
	if e.Equivocators == nil {
		e.Equivocators = make(map[uint64]*EquivocationProof)
	}
	if existing, found := e.Equivocators[p.WitnessId]; !found || lesserCanonical(p, existing) {
		e.Equivocators[p.WitnessId] = p
	}
}

// SetCommitFact() writes the commit fact register
func (e *Evidence) SetCommitFact(f *CommitFact) {
	if f == nil {
		return
	}
	if e.CommitFact == nil || lesserCanonical(f, e.CommitFact) {
		e.CommitFact = f
	}
}

// IsEquivocator() reports whether the witness is in the proven equivocator set
func (e *Evidence) IsEquivocator(witness uint64) bool {
	_, found := e.Equivocators[witness]
	return found
}

// Excluded() returns the equivocator set as an exclusion map for bucket queries
func (e *Evidence) Excluded() map[uint64]bool {
	excluded := make(map[uint64]bool, len(e.Equivocators))
	for id := range e.Equivocators {
		excluded[id] = true
	}
	return excluded
}

// DeltaFor() returns a deep copy of the local evidence to attach to an outbound message
func (e *Evidence) DeltaFor() *Evidence {
	if e == nil {
		return nil
	}
	delta := NewEvidence(bytes.Clone(e.InstanceId))
	for key, s := range e.Shares {
		delta.Shares[key] = s.Copy()
	}
	for id, p := range e.Equivocators {
		delta.Equivocators[id] = p.Copy()
	}
	delta.CommitFact = e.CommitFact.Copy()
	return delta
}

// Merge() folds a delta into local evidence; the join is a set union with a deterministic
// tie-break, never removing anything already known
func (e *Evidence) Merge(delta *Evidence) lib.ErrorI {
	if delta == nil {
		return nil
	}
	if !bytes.Equal(e.InstanceId, delta.InstanceId) {
		return ErrEvidenceWrongInstance()
	}
	for _, s := range delta.Shares {
		e.AddShare(s.Copy())
	}
	for _, p := range delta.Equivocators {
		e.AddEquivocator(p.Copy())
	}
	e.SetCommitFact(delta.CommitFact.Copy())
	return nil
}

// Equal() compares two evidence states by canonical encoding
func (e *Evidence) Equal(other *Evidence) bool {
	return bytes.Equal(lib.MustMarshal(e), lib.MustMarshal(other))
}

// lesserCanonical() reports whether a encodes strictly smaller than b; used as the
// deterministic tie-break when two entries share a key
func lesserCanonical(a, b any) bool {
	return bytes.Compare(lib.MustMarshal(a), lib.MustMarshal(b)) < 0
}
