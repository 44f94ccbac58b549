package consensus

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"sort"
	"strings"

	"github.com/hxrts/aura-sub001/lib"
	"github.com/hxrts/aura-sub001/lib/crypto"
)

/*
	Fallback gossip engine: leaderless completion when the fast path stalls or disagrees.
	Every undecided participant periodically pushes its full bucket state to k sampled peers;
	whoever first assembles a valid threshold signature broadcasts completion. First valid
	signature wins; the decided flag makes any later success a no-op.
*/

// gossipLoop() drives the periodic exchange and stale instance sweeps until Stop()
func (r *Replica) gossipLoop() {
	defer lib.CatchPanic(r.log)
	timer := lib.NewTimer()
	defer lib.StopTimer(timer)
	for {
		lib.ResetTimer(timer, r.config.TickInterval())
		select {
		case <-r.stop:
			return
		case <-timer.C:
		}
		for _, inst := range r.undecidedFallback() {
			r.gossipInstance(inst)
		}
		r.evictStaleInstances()
	}
}

// undecidedFallback() snapshots the instances currently in the fallback engine
func (r *Replica) undecidedFallback() (out []*Instance) {
	r.l.RLock()
	defer r.l.RUnlock()
	for _, inst := range r.instances {
		inst.l.Lock()
		if !inst.decided && inst.fallback {
			out = append(out, inst)
		}
		inst.l.Unlock()
	}
	return
}

// gossipInstance() sends the instance's aggregate proposal state to k sampled peers
func (r *Replica) gossipInstance(inst *Instance) {
	inst.l.Lock()
	if inst.decided || !inst.fallback {
		inst.l.Unlock()
		return
	}
	msg := &Message{
		Type:   MsgAggregateShare,
		Sender: r.id,
		AggregateShare: &AggregateShare{
			InstanceId: inst.id,
			Shares:     inst.buckets.Snapshot(),
			Evidence:   inst.evidence.DeltaFor(),
		},
	}
	inst.l.Unlock()
	round := r.round.Add(1)
	k := r.config.FanoutFor(len(r.witnesses))
	for _, peer := range r.sampler.Sample(inst.id, round, r.id, r.witnesses, k) {
		if err := r.transport.Send(peer, msg); err != nil {
			r.log.Debugf("witness %d gossip send to %d failed: %s", r.id, peer, err.Error())
		}
	}
}

// onConflict() enters the fallback seeded with the sender's conflicting snapshot
func (r *Replica) onConflict(sender uint64, c *Conflict) lib.ErrorI {
	inst := r.getOrCreateInstance(c.InstanceId, nil, nil, nil, false)
	inst.l.Lock()
	defer inst.l.Unlock()
	if err := inst.evidence.Merge(c.Evidence); err != nil {
		return err
	}
	r.syncFromEvidence(inst)
	if inst.decided {
		return r.replyDecision(sender, inst)
	}
	inst.fallback = true
	for _, s := range c.Snapshot {
		r.ingestShare(inst, s, s.WitnessId != r.id)
	}
	return r.checkThreshold(inst)
}

// onAggregateShare() merges a peer's bucket state and re-runs the threshold check; a
// decided receiver instead answers with the decision so laggards converge after a heal
func (r *Replica) onAggregateShare(sender uint64, a *AggregateShare) lib.ErrorI {
	inst := r.getOrCreateInstance(a.InstanceId, nil, nil, nil, false)
	inst.l.Lock()
	defer inst.l.Unlock()
	if err := inst.evidence.Merge(a.Evidence); err != nil {
		return err
	}
	r.syncFromEvidence(inst)
	if inst.decided {
		return r.replyDecision(sender, inst)
	}
	for _, s := range a.Shares {
		r.ingestShare(inst, s, s.WitnessId != r.id)
	}
	return r.checkThreshold(inst)
}

// checkThreshold() scans every bucket for t distinct non-equivocating contributors whose
// rid is the true digest of the instance's operation and pre-state; the first bucket to
// combine and verify decides the instance. Caller holds the instance lock.
func (r *Replica) checkThreshold(inst *Instance) lib.ErrorI {
	if !inst.opKnown {
		return nil // a shell can relay evidence but cannot validate a result
	}
	excluded := inst.evidence.Excluded()
	t := r.threshold()
	keys := make([]string, 0, len(inst.buckets.buckets))
	for key := range inst.buckets.buckets {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		var rep *Share
		for _, s := range inst.buckets.buckets[key] {
			rep = s
			break
		}
		if rep == nil {
			continue
		}
		if !bytes.Equal(rep.Rid, NewResultId(inst.operation, rep.PrestateHash)) {
			continue // shares vouching for a rid that is not the operation's digest
		}
		if inst.buckets.Count(rep.Rid, rep.PrestateHash, excluded) < t {
			continue
		}
		fact, err := r.combineBucket(inst, rep.Rid, rep.PrestateHash, excluded, false)
		if err != nil {
			r.log.Debugf("witness %d combination attempt failed: %s", r.id, err.Error())
			continue
		}
		if err = r.decide(inst, fact); err != nil {
			return err
		}
		// first valid signature wins, no further buckets are attempted
		return r.transport.Broadcast(&Message{
			Type:   MsgThresholdComplete,
			Sender: r.id,
			ThresholdComplete: &ThresholdComplete{
				InstanceId: fact.InstanceId,
				Rid:        fact.Rid,
				Signature:  fact.Signature,
				Attesters:  fact.Attesters,
				Evidence:   inst.evidence.DeltaFor(),
			},
		})
	}
	return nil
}

// replyDecision() sends the instance's commit fact back to a still-gossiping peer, typed
// by the path that produced it. Caller holds the instance lock.
func (r *Replica) replyDecision(to uint64, inst *Instance) lib.ErrorI {
	fact := inst.fact
	if fact == nil || to == r.id {
		return nil
	}
	delta := inst.evidence.DeltaFor()
	if fact.FastPath {
		return r.transport.Send(to, &Message{
			Type:   MsgCommit,
			Sender: r.id,
			Commit: &Commit{
				InstanceId: fact.InstanceId,
				Rid:        fact.Rid,
				Signature:  fact.Signature,
				Attesters:  fact.Attesters,
				Evidence:   delta,
			},
		})
	}
	return r.transport.Send(to, &Message{
		Type:   MsgThresholdComplete,
		Sender: r.id,
		ThresholdComplete: &ThresholdComplete{
			InstanceId: fact.InstanceId,
			Rid:        fact.Rid,
			Signature:  fact.Signature,
			Attesters:  fact.Attesters,
			Evidence:   delta,
		},
	})
}

// PeerSampler selects the gossip fanout targets for one exchange round
type PeerSampler interface {
	// Sample() returns up to k peers from the witness set, never including self
	Sample(instanceId []byte, round uint64, self uint64, witnesses []uint64, k int) []uint64
}

// NewPeerSampler() returns the strategy for the config string: uniform random by default,
// deterministic rendezvous hashing for deployments where witnesses may be adversarially
// positioned and random sampling is eclipse prone
func NewPeerSampler(strategy string) PeerSampler {
	if strings.EqualFold(strategy, "rendezvous") {
		return &RendezvousSampler{}
	}
	return &RandomSampler{}
}

var _ PeerSampler = &RandomSampler{}
var _ PeerSampler = &RendezvousSampler{}

// RandomSampler draws k peers uniformly without replacement
type RandomSampler struct{}

// Sample() shuffles the peer set and takes the first k
func (RandomSampler) Sample(_ []byte, _ uint64, self uint64, witnesses []uint64, k int) []uint64 {
	peers := withoutSelf(witnesses, self)
	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
	if k > len(peers) {
		k = len(peers)
	}
	return peers[:k]
}

// RendezvousSampler ranks peers by H(instanceId, round, peer) and takes the k smallest,
// so every honest participant computes the same fanout for a given (instance, round)
type RendezvousSampler struct{}

// Sample() returns the k peers with the smallest rendezvous weights
func (RendezvousSampler) Sample(instanceId []byte, round uint64, self uint64, witnesses []uint64, k int) []uint64 {
	peers := withoutSelf(witnesses, self)
	weights := make(map[uint64][]byte, len(peers))
	for _, peer := range peers {
		buf := make([]byte, 0, len(instanceId)+16)
		buf = append(buf, instanceId...)
		buf = binary.BigEndian.AppendUint64(buf, round)
		buf = binary.BigEndian.AppendUint64(buf, peer)
		weights[peer] = crypto.Hash(buf)
	}
	sort.Slice(peers, func(i, j int) bool {
		return bytes.Compare(weights[peers[i]], weights[peers[j]]) < 0
	})
	if k > len(peers) {
		k = len(peers)
	}
	return peers[:k]
}

func withoutSelf(witnesses []uint64, self uint64) []uint64 {
	peers := make([]uint64, 0, len(witnesses))
	for _, w := range witnesses {
		if w != self {
			peers = append(peers, w)
		}
	}
	return peers
}
