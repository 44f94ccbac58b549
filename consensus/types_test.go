package consensus

import (
	"testing"

	"github.com/hxrts/aura-sub001/lib"
	"github.com/hxrts/aura-sub001/lib/crypto"
	"github.com/stretchr/testify/require"
)

func TestIdentifierDerivation(t *testing.T) {
	// pre-compute some inputs to derive with
	prestate, operation, nonce := crypto.Hash([]byte("state")), []byte("op"), []byte("nonce")
	opHash := crypto.Hash(operation)
	tests := []struct {
		name   string
		detail string
		a      lib.HexBytes
		b      lib.HexBytes
		equal  bool
	}{
		{
			name:   "instance id is deterministic",
			detail: "the same inputs always derive the same instance id",
			a:      NewInstanceId(prestate, opHash, nonce),
			b:      NewInstanceId(prestate, opHash, nonce),
			equal:  true,
		},
		{
			name:   "nonce freshens the instance id",
			detail: "a different nonce derives a different instance id for the same work",
			a:      NewInstanceId(prestate, opHash, nonce),
			b:      NewInstanceId(prestate, opHash, []byte("nonce2")),
			equal:  false,
		},
		{
			name:   "result id is deterministic",
			detail: "the same (operation, prestate) always derives the same rid",
			a:      NewResultId(operation, prestate),
			b:      NewResultId(operation, prestate),
			equal:  true,
		},
		{
			name:   "result id binds the prestate",
			detail: "the same operation against a different prestate is a different rid",
			a:      NewResultId(operation, prestate),
			b:      NewResultId(operation, crypto.Hash([]byte("other state"))),
			equal:  false,
		},
		{
			name:   "domains are separated",
			detail: "instance and result derivations never collide even on identical inputs",
			a:      NewInstanceId(prestate, opHash, nil),
			b:      NewResultId(append(prestate, opHash...), nil),
			equal:  false,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.equal, test.a.String() == test.b.String(), test.detail)
		})
	}
}

func TestCommitFactCheckBasic(t *testing.T) {
	// pre-compute a valid fact to mutate per test case
	prestate, operation := crypto.Hash([]byte("state")), []byte("op")
	valid := &CommitFact{
		InstanceId:   NewInstanceId(prestate, crypto.Hash(operation), []byte("n")),
		PrestateHash: prestate,
		Operation:    operation,
		Rid:          NewResultId(operation, prestate),
		Signature:    []byte("sig"),
		Attesters:    []uint64{0, 1, 2},
		Threshold:    3,
	}
	tests := []struct {
		name   string
		detail string
		mutate func(f *CommitFact)
		error  string
	}{
		{
			name:   "valid fact",
			detail: "a well formed fact passes",
			mutate: func(f *CommitFact) {},
		},
		{
			name:   "rid mismatch",
			detail: "the rid must be the digest of the carried operation and prestate",
			mutate: func(f *CommitFact) { f.Rid = NewResultId([]byte("different op"), f.PrestateHash) },
			error:  "rid does not match",
		},
		{
			name:   "attesters below threshold",
			detail: "a fact cannot claim fewer attesters than its threshold",
			mutate: func(f *CommitFact) { f.Attesters = []uint64{0} },
			error:  "below threshold",
		},
		{
			name:   "missing signature",
			detail: "a fact without a combined signature is rejected",
			mutate: func(f *CommitFact) { f.Signature = nil },
			error:  "missing field",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// copy and mutate the valid fact
			fact := valid.Copy()
			test.mutate(fact)
			// execute the function call
			err := fact.CheckBasic()
			// validate if an error is expected
			require.Equal(t, err != nil, test.error != "", test.detail)
			if err != nil {
				require.ErrorContains(t, err, test.error)
			}
		})
	}
}

func TestProposalBuckets(t *testing.T) {
	// pre-compute two rids under one prestate
	prestate := crypto.Hash([]byte("state"))
	ridA, ridB := NewResultId([]byte("a"), prestate), NewResultId([]byte("b"), prestate)
	newShare := func(witness uint64, rid lib.HexBytes) *Share {
		return &Share{WitnessId: witness, Rid: rid, PrestateHash: prestate, Signature: []byte{byte(witness)}}
	}
	// initialize a bucket set to test with
	buckets := NewProposalBuckets()
	// the first share per (bucket, witness) is added
	require.True(t, buckets.Add(newShare(1, ridA)))
	require.True(t, buckets.Add(newShare(2, ridA)))
	require.True(t, buckets.Add(newShare(3, ridB)))
	// a duplicate contribution reports false
	require.False(t, buckets.Add(newShare(1, ridA)))
	// counts are per bucket
	require.Equal(t, 2, buckets.Count(ridA, prestate, nil))
	require.Equal(t, 1, buckets.Count(ridB, prestate, nil))
	// exclusions are honored
	require.Equal(t, 1, buckets.Count(ridA, prestate, map[uint64]bool{1: true}))
	// shares come back in witness id order
	shares := buckets.SharesFor(ridA, prestate, nil)
	require.Len(t, shares, 2)
	require.EqualValues(t, 1, shares[0].WitnessId)
	require.EqualValues(t, 2, shares[1].WitnessId)
	// the snapshot is a deterministic flattening of every bucket
	require.Len(t, buckets.Snapshot(), 3)
	require.Equal(t, buckets.Snapshot(), buckets.Snapshot())
	// two distinct rids are observed under the prestate
	require.Len(t, buckets.Rids(prestate), 2)
}
