package consensus

import (
	"bytes"
	"fmt"

	"github.com/hxrts/aura-sub001/lib"
)

/*
	Equivocation handling: a witness that signs two different rids under the same
	(instance, prestate hash) can otherwise split its share between competing buckets and
	help two contradictory results both reach threshold. Detection runs before any externally
	received share enters the buckets and again before any combination attempt; a proven
	equivocator's shares never count toward threshold for that prestate.
*/

// EquivocationProof names a witness and the two conflicting rids it signed under one
// pre-state hash; carried in evidence so every participant converges on the same exclusions
type EquivocationProof struct {
	WitnessId    uint64       `json:"witnessId"`
	PrestateHash lib.HexBytes `json:"prestateHash"`
	RidA         lib.HexBytes `json:"ridA"`
	RidB         lib.HexBytes `json:"ridB"`
}

// Copy() returns a deep copy of the proof
func (p *EquivocationProof) Copy() *EquivocationProof {
	if p == nil {
		return nil
	}
	return &EquivocationProof{
		WitnessId:    p.WitnessId,
		PrestateHash: bytes.Clone(p.PrestateHash),
		RidA:         bytes.Clone(p.RidA),
		RidB:         bytes.Clone(p.RidB),
	}
}

// HasEquivocated() reports whether the witness already contributed to a bucket with the
// same pre-state hash but a different rid than the candidate
func HasEquivocated(buckets *ProposalBuckets, witness uint64, prestateHash, candidateRid []byte) bool {
	for _, bucket := range buckets.buckets {
		s, found := bucket[witness]
		if !found {
			continue
		}
		if bytes.Equal(s.PrestateHash, prestateHash) && !bytes.Equal(s.Rid, candidateRid) {
			return true
		}
	}
	return false
}

// EquivocationDetector tracks the first rid each witness vouched for under each pre-state
// hash within one instance and yields a proof the moment a conflicting share appears
type EquivocationDetector struct {
	firstSeen map[string]*Share
}

// NewEquivocationDetector() constructs an empty detector for one instance
func NewEquivocationDetector() *EquivocationDetector {
	return &EquivocationDetector{firstSeen: make(map[string]*Share)}
}

// Observe() records the share's (witness, prestate) binding; it returns a proof if the
// witness previously vouched for a different rid under the same pre-state, nil otherwise
func (d *EquivocationDetector) Observe(s *Share) *EquivocationProof {
	key := fmt.Sprintf("%d/%s", s.WitnessId, s.PrestateHash)
	first, found := d.firstSeen[key]
	if !found {
		d.firstSeen[key] = s
		return nil
	}
	if bytes.Equal(first.Rid, s.Rid) {
		return nil
	}
	return &EquivocationProof{
		WitnessId:    s.WitnessId,
		PrestateHash: s.PrestateHash,
		RidA:         first.Rid,
		RidB:         s.Rid,
	}
}
