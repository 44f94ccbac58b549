package consensus

import (
	"testing"

	"github.com/hxrts/aura-sub001/lib/crypto"
	"github.com/stretchr/testify/require"
)

func TestPeerSamplerSelection(t *testing.T) {
	require.IsType(t, &RendezvousSampler{}, NewPeerSampler("rendezvous"))
	require.IsType(t, &RendezvousSampler{}, NewPeerSampler("Rendezvous"))
	require.IsType(t, &RandomSampler{}, NewPeerSampler("random"))
	require.IsType(t, &RandomSampler{}, NewPeerSampler(""))
}

func TestRandomSampler(t *testing.T) {
	witnesses := []uint64{0, 1, 2, 3, 4, 5, 6}
	sampler := RandomSampler{}
	tests := []struct {
		name   string
		detail string
		k      int
		want   int
	}{
		{
			name:   "fanout within peer count",
			detail: "k peers are returned when enough exist",
			k:      3,
			want:   3,
		},
		{
			name:   "fanout clamps to peer count",
			detail: "asking for more peers than exist returns everyone else",
			k:      10,
			want:   6,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			peers := sampler.Sample(nil, 0, 3, witnesses, test.k)
			require.Len(t, peers, test.want, test.detail)
			// self is never sampled and no peer repeats
			seen := map[uint64]bool{}
			for _, peer := range peers {
				require.NotEqualValues(t, 3, peer)
				require.False(t, seen[peer])
				seen[peer] = true
			}
		})
	}
}

func TestRendezvousSamplerIsDeterministic(t *testing.T) {
	// the same (instance, round) always yields the same fanout
	witnesses := []uint64{0, 1, 2, 3, 4, 5, 6}
	instanceId := crypto.Hash([]byte("instance"))
	sampler := RendezvousSampler{}
	first := sampler.Sample(instanceId, 9, 0, witnesses, 3)
	require.Len(t, first, 3)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, sampler.Sample(instanceId, 9, 0, witnesses, 3))
	}
	// a different round re-ranks the peers
	other := sampler.Sample(instanceId, 10, 0, witnesses, 3)
	require.Len(t, other, 3)
	// every participant excludes itself
	for _, peer := range first {
		require.NotZero(t, peer)
	}
}
