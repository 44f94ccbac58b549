package consensus

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hxrts/aura-sub001/lib/crypto"
	"github.com/stretchr/testify/require"
)

func newTestNonce(t *testing.T) *crypto.NonceCommitment {
	n, err := crypto.NewNonceCommitment()
	require.NoError(t, err)
	return n
}

func TestNonceCacheEpochBinding(t *testing.T) {
	tests := []struct {
		name     string
		detail   string
		setEpoch uint64
		getEpoch uint64
		hit      bool
	}{
		{
			name:     "same epoch hits",
			detail:   "a pair cached in the current epoch is served",
			setEpoch: 7,
			getEpoch: 7,
			hit:      true,
		},
		{
			name:     "newer epoch misses",
			detail:   "a pair minted under an older epoch is never served",
			setEpoch: 7,
			getEpoch: 8,
			hit:      false,
		},
		{
			name:     "older epoch misses",
			detail:   "the epoch check is equality, not ordering",
			setEpoch: 7,
			getEpoch: 6,
			hit:      false,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// initialize a cache holding one pair
			cache := NewNonceCache()
			pair := newTestNonce(t)
			cache.SetNextNonce(pair, test.setEpoch)
			// the commitment read honors the binding
			_, ok := cache.GetCachedCommitment(test.getEpoch)
			require.Equal(t, test.hit, ok, test.detail)
			// the take honors the binding
			token, ok := cache.TakeNonce(test.getEpoch)
			require.Equal(t, test.hit, ok, test.detail)
			if !test.hit {
				return
			}
			// the taken token opens the commitment and a second take finds nothing
			require.True(t, pair.Opens(token))
			_, ok = cache.TakeNonce(test.getEpoch)
			require.False(t, ok, "a token may be used exactly once")
		})
	}
}

func TestNonceCacheConcurrentTake(t *testing.T) {
	// one cached pair, many concurrent rounds trying to consume it
	cache := NewNonceCache()
	cache.SetNextNonce(newTestNonce(t), 1)
	var wins atomic.Uint64
	wg := sync.WaitGroup{}
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := cache.TakeNonce(1); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	// exactly one take wins, regardless of interleaving
	require.EqualValues(t, 1, wins.Load())
}

func TestNonceCacheInvalidatesOnRotation(t *testing.T) {
	// wire a cache to an epoch source the way a replica does
	epochs := NewManualEpochSource(1)
	cache := NewNonceCache()
	epochs.Subscribe(func(uint64) { cache.Invalidate() })
	cache.SetNextNonce(newTestNonce(t), epochs.Current())
	// warm before rotation
	_, ok := cache.GetCachedCommitment(epochs.Current())
	require.True(t, ok)
	// the rotation clears the cache before the new epoch is readable
	epochs.Rotate()
	_, ok = cache.TakeNonce(epochs.Current())
	require.False(t, ok, "a round under the new epoch must not consume an old token")
}

func TestCommitmentBook(t *testing.T) {
	// initialize a book holding one advertised commitment
	book := NewCommitmentBook()
	book.Put(3, []byte("commitment"), 5)
	// the read honors the epoch binding
	_, ok := book.Get(3, 6)
	require.False(t, ok)
	commitment, ok := book.Get(3, 5)
	require.True(t, ok)
	require.EqualValues(t, []byte("commitment"), commitment)
	// the warm count only sees the bound epoch
	require.Equal(t, 1, book.WarmCount(5))
	require.Zero(t, book.WarmCount(6))
	// the take consumes the entry
	_, ok = book.Take(3, 5)
	require.True(t, ok)
	_, ok = book.Take(3, 5)
	require.False(t, ok)
	// invalidation empties the book
	book.Put(4, []byte("c"), 5)
	book.Invalidate()
	require.Zero(t, book.WarmCount(5))
}
