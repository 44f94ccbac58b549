package consensus

import (
	"testing"

	"github.com/hxrts/aura-sub001/lib/crypto"
	"github.com/stretchr/testify/require"
)

func TestEquivocationDetector(t *testing.T) {
	// pre-compute two rids under one prestate
	prestate := crypto.Hash([]byte("state"))
	ridA, ridB := NewResultId([]byte("a"), prestate), NewResultId([]byte("b"), prestate)
	tests := []struct {
		name    string
		detail  string
		observe []*Share
		proofAt int // index of the observation expected to yield a proof; -1 for none
	}{
		{
			name:    "first share is clean",
			detail:  "a witness's first share under a prestate is never a proof",
			observe: []*Share{{WitnessId: 1, Rid: ridA, PrestateHash: prestate}},
			proofAt: -1,
		},
		{
			name:   "repeat of the same rid is clean",
			detail: "re-sending the same vouch is duplication, not equivocation",
			observe: []*Share{
				{WitnessId: 1, Rid: ridA, PrestateHash: prestate},
				{WitnessId: 1, Rid: ridA, PrestateHash: prestate},
			},
			proofAt: -1,
		},
		{
			name:   "conflicting rid is a proof",
			detail: "a second rid under the same (witness, prestate) yields a proof naming both",
			observe: []*Share{
				{WitnessId: 1, Rid: ridA, PrestateHash: prestate},
				{WitnessId: 1, Rid: ridB, PrestateHash: prestate},
			},
			proofAt: 1,
		},
		{
			name:   "different witnesses never conflict",
			detail: "disagreement between two witnesses is a conflict, not an equivocation",
			observe: []*Share{
				{WitnessId: 1, Rid: ridA, PrestateHash: prestate},
				{WitnessId: 2, Rid: ridB, PrestateHash: prestate},
			},
			proofAt: -1,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// initialize a detector to test with
			detector := NewEquivocationDetector()
			for i, share := range test.observe {
				proof := detector.Observe(share)
				if i != test.proofAt {
					require.Nil(t, proof, test.detail)
					continue
				}
				// validate the proof names the witness and both rids
				require.NotNil(t, proof, test.detail)
				require.Equal(t, share.WitnessId, proof.WitnessId)
				require.EqualValues(t, ridA, proof.RidA)
				require.EqualValues(t, ridB, proof.RidB)
			}
		})
	}
}

func TestHasEquivocated(t *testing.T) {
	// seed buckets with witness 1 vouching for ridA
	prestate := crypto.Hash([]byte("state"))
	otherPrestate := crypto.Hash([]byte("other"))
	ridA, ridB := NewResultId([]byte("a"), prestate), NewResultId([]byte("b"), prestate)
	buckets := NewProposalBuckets()
	buckets.Add(&Share{WitnessId: 1, Rid: ridA, PrestateHash: prestate, Signature: []byte("s")})
	// the same rid is not equivocation
	require.False(t, HasEquivocated(buckets, 1, prestate, ridA))
	// a different rid under the same prestate is
	require.True(t, HasEquivocated(buckets, 1, prestate, ridB))
	// a different prestate scopes independently
	require.False(t, HasEquivocated(buckets, 1, otherPrestate, ridB))
	// an uninvolved witness is clean
	require.False(t, HasEquivocated(buckets, 2, prestate, ridB))
}

func TestEquivocationExclusionFromCombination(t *testing.T) {
	// generate a real 3-of-5 threshold key set
	signers, err := crypto.NewThresholdKeygen(3, 5)
	require.NoError(t, err)
	// pre-compute the instance and two competing rids under one prestate
	prestate := crypto.Hash([]byte("state"))
	operation := []byte("op")
	ridA := NewResultId(operation, prestate)
	ridB := NewResultId([]byte("attack"), prestate)
	instanceId := NewInstanceId(prestate, crypto.Hash(operation), []byte("n"))
	sign := func(idx int, rid []byte) *Share {
		sig, e := signers[idx].SignShare(SignBytes(instanceId, rid))
		require.NoError(t, e)
		return &Share{WitnessId: uint64(signers[idx].Index()), Rid: rid, PrestateHash: prestate, Signature: sig}
	}
	// witness 1 signs ridA, then equivocates with ridB
	buckets, evidence, detector := NewProposalBuckets(), NewEvidence(instanceId), NewEquivocationDetector()
	for _, share := range []*Share{sign(1, ridA), sign(2, ridA), sign(3, ridA), sign(1, ridB)} {
		if proof := detector.Observe(share); proof != nil {
			evidence.AddEquivocator(proof)
		}
		evidence.AddShare(share)
		buckets.Add(share)
	}
	// the {W1, W2, W3} bucket has only two countable contributors once W1 is excluded
	excluded := evidence.Excluded()
	require.True(t, evidence.IsEquivocator(1))
	require.Equal(t, 2, buckets.Count(ridA, prestate, excluded))
	// an honest fourth vouch restores threshold without the equivocator
	buckets.Add(sign(4, ridA))
	require.Equal(t, 3, buckets.Count(ridA, prestate, excluded))
	shares := buckets.SharesFor(ridA, prestate, excluded)
	require.Len(t, shares, 3)
	for _, s := range shares {
		require.NotEqualValues(t, 1, s.WitnessId)
	}
	// the combination over {W2, W3, W4} produces a verifiable group signature
	msg := SignBytes(instanceId, ridA)
	sigs := make([][]byte, 0, len(shares))
	for _, s := range shares {
		sigs = append(sigs, s.Signature)
	}
	combined, e := signers[0].Combine(msg, sigs)
	require.NoError(t, e)
	require.True(t, signers[0].VerifySignature(msg, combined))
}
