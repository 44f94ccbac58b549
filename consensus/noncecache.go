package consensus

import (
	"bytes"
	"sync"

	"github.com/hxrts/aura-sub001/lib"
	"github.com/hxrts/aura-sub001/lib/crypto"
)

/*
	Nonce commitment pipelining. A witness bundles a commitment for its next round into the
	current round's share response; the next round in the same epoch then completes in one
	round trip by revealing the committed token instead of running a separate nonce exchange.

	The token is single use and epoch bound: Take() is an atomic remove-and-return with the
	epoch check held under the same lock, and Invalidate() runs synchronously with epoch
	rotation, so a round started under a new epoch can never consume a token minted for the
	old one.
*/

// NonceCache holds this witness's own pending (commitment, token) pair
type NonceCache struct {
	l          sync.Mutex
	commitment lib.HexBytes
	token      crypto.NonceToken
	epoch      uint64
	armed      bool
}

// NewNonceCache() constructs an empty cache
func NewNonceCache() *NonceCache {
	return &NonceCache{}
}

// GetCachedCommitment() returns the cached commitment only if it is bound to the epoch
func (c *NonceCache) GetCachedCommitment(epoch uint64) (lib.HexBytes, bool) {
	c.l.Lock()
	defer c.l.Unlock()
	if !c.armed || c.epoch != epoch {
		return nil, false
	}
	return bytes.Clone(c.commitment), true
}

// TakeNonce() consumes the cached token if it is bound to the epoch; at most one caller
// can ever receive a given token
func (c *NonceCache) TakeNonce(epoch uint64) (crypto.NonceToken, bool) {
	c.l.Lock()
	defer c.l.Unlock()
	if !c.armed || c.epoch != epoch {
		return nil, false
	}
	token := c.token
	c.commitment, c.token, c.armed = nil, nil, false
	return token, true
}

// SetNextNonce() stores a freshly generated pair for the next round in the given epoch
func (c *NonceCache) SetNextNonce(n *crypto.NonceCommitment, epoch uint64) {
	if n == nil {
		return
	}
	c.l.Lock()
	defer c.l.Unlock()
	c.commitment, c.token, c.epoch, c.armed = n.Commitment, n.Token, epoch, true
}

// Invalidate() clears all cached state; called synchronously on epoch rotation
func (c *NonceCache) Invalidate() {
	c.l.Lock()
	defer c.l.Unlock()
	c.commitment, c.token, c.armed = nil, nil, false
}

// CommitmentBook is the initiator side of pipelining: the latest next-round commitment
// each witness advertised, bound to the epoch it was advertised under
type CommitmentBook struct {
	l       sync.Mutex
	entries map[uint64]*bookEntry
}

type bookEntry struct {
	commitment lib.HexBytes
	epoch      uint64
}

// NewCommitmentBook() constructs an empty book
func NewCommitmentBook() *CommitmentBook {
	return &CommitmentBook{entries: make(map[uint64]*bookEntry)}
}

// Put() records a witness's advertised next commitment for the epoch
func (b *CommitmentBook) Put(witness uint64, commitment []byte, epoch uint64) {
	if len(commitment) == 0 {
		return
	}
	b.l.Lock()
	defer b.l.Unlock()
	b.entries[witness] = &bookEntry{commitment: bytes.Clone(commitment), epoch: epoch}
}

// Take() removes and returns the witness's commitment if bound to the epoch
func (b *CommitmentBook) Take(witness uint64, epoch uint64) (lib.HexBytes, bool) {
	b.l.Lock()
	defer b.l.Unlock()
	entry, found := b.entries[witness]
	if !found || entry.epoch != epoch {
		return nil, false
	}
	delete(b.entries, witness)
	return entry.commitment, true
}

// Get() returns the witness's commitment without consuming it
func (b *CommitmentBook) Get(witness uint64, epoch uint64) (lib.HexBytes, bool) {
	b.l.Lock()
	defer b.l.Unlock()
	entry, found := b.entries[witness]
	if !found || entry.epoch != epoch {
		return nil, false
	}
	return bytes.Clone(entry.commitment), true
}

// WarmCount() returns how many witnesses hold a commitment valid for the epoch; a round
// can only start at one round trip when at least threshold witnesses are warm
func (b *CommitmentBook) WarmCount(epoch uint64) (n int) {
	b.l.Lock()
	defer b.l.Unlock()
	for _, entry := range b.entries {
		if entry.epoch == epoch {
			n++
		}
	}
	return
}

// Invalidate() clears the book; called synchronously on epoch rotation
func (b *CommitmentBook) Invalidate() {
	b.l.Lock()
	defer b.l.Unlock()
	b.entries = make(map[uint64]*bookEntry)
}
