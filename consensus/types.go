package consensus

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/hxrts/aura-sub001/lib"
	"github.com/hxrts/aura-sub001/lib/crypto"
)

/*
	Shared identifiers and protocol data types.

	Identifier derivation is domain separated with fixed, versioned prefixes; all participants
	must compute byte-identical identifiers or agreement breaks, so the constants below are part
	of the wire protocol and may only change with the version string.
*/

const (
	instanceDomain = "aura/consensus/v1/instance"
	resultDomain   = "aura/consensus/v1/result"
	signDomain     = "aura/consensus/v1/sign"
)

// NewInstanceId() derives the identifier of a consensus run from the pre-state it applies to,
// the operation being decided, and a freshness nonce that makes the identifier single-use
func NewInstanceId(prestateHash, operationHash, nonce []byte) lib.HexBytes {
	h := crypto.Hasher()
	h.Write([]byte(instanceDomain))
	h.Write(prestateHash)
	h.Write(operationHash)
	h.Write(nonce)
	return h.Sum(nil)
}

// NewResultId() derives the result identifier: the digest binding an operation to the
// pre-state it applies to, which is the unit the witnesses agree on
func NewResultId(operation, prestateHash []byte) lib.HexBytes {
	h := crypto.Hasher()
	h.Write([]byte(resultDomain))
	h.Write(operation)
	h.Write(prestateHash)
	return h.Sum(nil)
}

// SignBytes() is the exact byte string a witness signs for (instance, rid); binding the
// instance id prevents a share minted for one run from counting in another
func SignBytes(instanceId, rid []byte) []byte {
	h := crypto.Hasher()
	h.Write([]byte(signDomain))
	h.Write(instanceId)
	h.Write(rid)
	return h.Sum(nil)
}

// Share is one witness's partial threshold signature over a result identifier
type Share struct {
	WitnessId    uint64       `json:"witnessId"`
	Rid          lib.HexBytes `json:"rid"`
	PrestateHash lib.HexBytes `json:"prestateHash"`
	Signature    lib.HexBytes `json:"signature"`
}

// CheckBasic() performs stateless sanity checks on a share
func (s *Share) CheckBasic() lib.ErrorI {
	if s == nil {
		return ErrEmptyShare()
	}
	if len(s.Rid) == 0 || len(s.PrestateHash) == 0 || len(s.Signature) == 0 {
		return ErrEmptyShare()
	}
	return nil
}

// Key() returns a stable map key unique per (witness, rid, prestate)
func (s *Share) Key() string {
	return fmt.Sprintf("%d/%s/%s", s.WitnessId, s.Rid, s.PrestateHash)
}

// Copy() returns a deep copy of the share
func (s *Share) Copy() *Share {
	if s == nil {
		return nil
	}
	return &Share{
		WitnessId:    s.WitnessId,
		Rid:          bytes.Clone(s.Rid),
		PrestateHash: bytes.Clone(s.PrestateHash),
		Signature:    bytes.Clone(s.Signature),
	}
}

// CommitFact is the immutable, threshold-signed outcome of a decided instance
type CommitFact struct {
	InstanceId   lib.HexBytes `json:"instanceId"`
	PrestateHash lib.HexBytes `json:"prestateHash"`
	Operation    lib.HexBytes `json:"operation"`
	Rid          lib.HexBytes `json:"rid"`
	Signature    lib.HexBytes `json:"signature"`
	GroupPubKey  lib.HexBytes `json:"groupPublicKey,omitempty"`
	Attesters    []uint64     `json:"attesters"`
	Threshold    uint64       `json:"threshold"`
	FastPath     bool         `json:"fastPath"`
}

// CheckBasic() validates the internal consistency of a commit fact: the rid must be the
// digest of the operation and pre-state it carries, and the attester set must meet threshold
func (f *CommitFact) CheckBasic() lib.ErrorI {
	if f == nil {
		return ErrInvalidCommitFact("nil fact")
	}
	if len(f.InstanceId) == 0 || len(f.PrestateHash) == 0 || len(f.Signature) == 0 {
		return ErrInvalidCommitFact("missing field")
	}
	if !bytes.Equal(f.Rid, NewResultId(f.Operation, f.PrestateHash)) {
		return ErrMismatchResultId()
	}
	if f.Threshold == 0 || uint64(len(f.Attesters)) < f.Threshold {
		return ErrInvalidCommitFact("attester set below threshold")
	}
	return nil
}

// Copy() returns a deep copy of the commit fact
func (f *CommitFact) Copy() *CommitFact {
	if f == nil {
		return nil
	}
	return &CommitFact{
		InstanceId:   bytes.Clone(f.InstanceId),
		PrestateHash: bytes.Clone(f.PrestateHash),
		Operation:    bytes.Clone(f.Operation),
		Rid:          bytes.Clone(f.Rid),
		Signature:    bytes.Clone(f.Signature),
		GroupPubKey:  bytes.Clone(f.GroupPubKey),
		Attesters:    append([]uint64(nil), f.Attesters...),
		Threshold:    f.Threshold,
		FastPath:     f.FastPath,
	}
}

// ProposalBuckets groups shares by the (rid, prestate hash) pair they vouch for. Buckets
// grow monotonically while the instance is undecided; both the fast path and the fallback
// gossip engine accumulate into the same structure, so shares gathered before a stall seed
// the fallback rather than being discarded.
type ProposalBuckets struct {
	buckets map[string]map[uint64]*Share
}

// NewProposalBuckets() constructs an empty bucket set
func NewProposalBuckets() *ProposalBuckets {
	return &ProposalBuckets{buckets: make(map[string]map[uint64]*Share)}
}

func bucketKey(rid, prestateHash []byte) string {
	return lib.BytesToString(rid) + "/" + lib.BytesToString(prestateHash)
}

// Add() records a share in its bucket; the first share per (bucket, witness) wins and
// later duplicates report false
func (p *ProposalBuckets) Add(s *Share) bool {
	key := bucketKey(s.Rid, s.PrestateHash)
	bucket, found := p.buckets[key]
	if !found {
		bucket = make(map[uint64]*Share)
		p.buckets[key] = bucket
	}
	if _, exists := bucket[s.WitnessId]; exists {
		return false
	}
	bucket[s.WitnessId] = s
	return true
}

// Count() returns the number of contributors in the (rid, prestate) bucket, excluding the
// given witness ids
func (p *ProposalBuckets) Count(rid, prestateHash []byte, exclude map[uint64]bool) (n int) {
	for id := range p.buckets[bucketKey(rid, prestateHash)] {
		if !exclude[id] {
			n++
		}
	}
	return
}

// SharesFor() returns the bucket's shares in witness id order, excluding the given ids
func (p *ProposalBuckets) SharesFor(rid, prestateHash []byte, exclude map[uint64]bool) (shares []*Share) {
	bucket := p.buckets[bucketKey(rid, prestateHash)]
	ids := make([]uint64, 0, len(bucket))
	for id := range bucket {
		if !exclude[id] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		shares = append(shares, bucket[id])
	}
	return
}

// Snapshot() flattens all buckets into a deterministic share list for the wire
func (p *ProposalBuckets) Snapshot() (shares []*Share) {
	for _, bucket := range p.buckets {
		for _, s := range bucket {
			shares = append(shares, s)
		}
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].Key() < shares[j].Key() })
	return
}

// Rids() returns the distinct rids observed under a pre-state hash in deterministic order;
// more than one rid for the same pre-state means the witness set disagrees on the result
func (p *ProposalBuckets) Rids(prestateHash []byte) (rids []lib.HexBytes) {
	for _, bucket := range p.buckets {
		for _, s := range bucket {
			if bytes.Equal(s.PrestateHash, prestateHash) {
				rids = append(rids, s.Rid)
			}
			break
		}
	}
	sort.Slice(rids, func(i, j int) bool { return bytes.Compare(rids[i], rids[j]) < 0 })
	return
}

// Len() returns the number of distinct buckets
func (p *ProposalBuckets) Len() int { return len(p.buckets) }
