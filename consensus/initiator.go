package consensus

import (
	"bytes"

	"github.com/hxrts/aura-sub001/lib"
	"github.com/hxrts/aura-sub001/lib/crypto"
)

/*
	Initiator side: drive the optimistic one-round-trip path. The initiator is an ordinary
	witness with no special authority; if it crashes mid-instance the fallback path finishes
	the job from the witnesses' own timers.
*/

// StartInstance() opens a consensus run for an operation against this replica's local
// pre-state view and broadcasts the execute request to the witness set
func (r *Replica) StartInstance(operation []byte) (lib.HexBytes, lib.ErrorI) {
	prestateHash := r.PrestateHash()
	nonce, err := r.instanceNonce()
	if err != nil {
		return nil, err
	}
	instanceId := NewInstanceId(prestateHash, crypto.Hash(operation), nonce)
	inst := r.getOrCreateInstance(instanceId, operation, prestateHash, nonce, true)
	inst.l.Lock()
	inst.initiator = true
	// the initiator is itself a witness: contribute its own share before asking anyone
	rid := NewResultId(operation, prestateHash)
	sig, err := r.signer.SignShare(SignBytes(instanceId, rid))
	if err != nil {
		inst.l.Unlock()
		return nil, err
	}
	r.ingestShare(inst, &Share{WitnessId: r.id, Rid: rid, PrestateHash: prestateHash, Signature: sig}, false)
	inst.signed = true
	r.armFallbackTimer(inst)
	inst.l.Unlock()
	r.log.Infof("witness %d starting instance %s", r.id, lib.BytesToTruncatedString(instanceId))
	// the initiator's own share stays local until combination or gossip; the execute
	// request must never be worth a share toward threshold on its own
	if err = r.transport.Broadcast(&Message{
		Type:   MsgExecute,
		Sender: r.id,
		Execute: &Execute{
			InstanceId:   instanceId,
			Operation:    operation,
			PrestateHash: prestateHash,
			Nonce:        nonce,
		},
	}); err != nil {
		return nil, err
	}
	return instanceId, nil
}

// instanceNonce() supplies the freshness nonce for a new instance id: the token cached for
// the current epoch when the pipeline is warm, a fresh one otherwise. Either way a pair for
// the next round is cached, so only the first round after an epoch rotation runs cold.
func (r *Replica) instanceNonce() (lib.HexBytes, lib.ErrorI) {
	epoch := r.epochs.Current()
	if r.config.EnablePipelining {
		// one round trip needs the witness set warm too: the initiator's token plus valid
		// cached commitments from at least threshold-1 peers for this epoch
		if r.book.WarmCount(epoch) >= r.threshold()-1 {
			if token, warm := r.nonceCache.TakeNonce(epoch); warm {
				r.oneRTT.Add(1)
				next, e := r.signer.GenerateNonce()
				if e != nil {
					return nil, e
				}
				r.nonceCache.SetNextNonce(next, epoch)
				return lib.HexBytes(token), nil
			}
		}
		r.twoRTT.Add(1)
	}
	fresh, err := r.signer.GenerateNonce()
	if err != nil {
		return nil, err
	}
	if r.config.EnablePipelining {
		next, e := r.signer.GenerateNonce()
		if e != nil {
			return nil, e
		}
		r.nonceCache.SetNextNonce(next, epoch)
	}
	return lib.HexBytes(fresh.Token), nil
}

// onWitnessShare() accumulates a witness's response; at threshold it combines the partial
// signatures and broadcasts the one commit fact for the instance
func (r *Replica) onWitnessShare(ws *WitnessShare) lib.ErrorI {
	inst, found := r.getInstance(ws.InstanceId)
	if !found {
		return ErrUnknownInstance(ws.InstanceId)
	}
	inst.l.Lock()
	defer inst.l.Unlock()
	if err := inst.evidence.Merge(ws.Evidence); err != nil {
		return err
	}
	r.syncFromEvidence(inst)
	if inst.decided {
		return nil
	}
	if !r.acceptPipelineFields(ws) {
		return nil // a bad reveal voids the response, not the instance
	}
	r.ingestShare(inst, ws.Share, true)
	// two distinct rids under one pre-state cannot both be right: seed the fallback with
	// the conflicting snapshot instead of waiting for timers. The fast path stays live,
	// a bucket of t non-equivocating contributors can still complete.
	if len(inst.buckets.Rids(ws.PrestateHash)) > 1 {
		if err := r.seedConflict(inst); err != nil {
			return err
		}
	}
	return r.tryFastPath(inst, ws.Rid, ws.PrestateHash)
}

// acceptPipelineFields() checks a share response's nonce fields: a reveal must open the
// commitment this witness previously advertised for the epoch, and any new commitment is
// recorded for the next round. Reports whether the response may be counted.
func (r *Replica) acceptPipelineFields(ws *WitnessShare) bool {
	if !r.config.EnablePipelining || ws.Share == nil {
		return true
	}
	// commitments are epoch bound; pipeline state from another epoch is unusable but the
	// share itself still counts
	if current := r.epochs.Current(); ws.Epoch != current {
		r.log.Debugf("witness %d ignoring pipeline fields: %s", r.id, ErrStaleEpoch(ws.Epoch, current).Error())
		return true
	}
	witness := ws.Share.WitnessId
	if len(ws.NonceReveal) != 0 {
		if commitment, warm := r.book.Get(witness, ws.Epoch); warm {
			expected := &crypto.NonceCommitment{Commitment: commitment}
			if !expected.Opens(crypto.NonceToken(ws.NonceReveal)) {
				r.log.Warnf("witness %d rejected a stale nonce reveal from %d", r.id, witness)
				return false
			}
			r.book.Take(witness, ws.Epoch) // single use
		}
	}
	r.book.Put(witness, ws.NextCommitment, ws.Epoch)
	return true
}

// tryFastPath() combines the bucket into a threshold signature once t non-equivocating
// contributors agree. Caller holds the instance lock.
func (r *Replica) tryFastPath(inst *Instance, rid, prestateHash []byte) lib.ErrorI {
	excluded := inst.evidence.Excluded()
	t := r.threshold()
	if inst.buckets.Count(rid, prestateHash, excluded) < t {
		return nil
	}
	fact, err := r.combineBucket(inst, rid, prestateHash, excluded, true)
	if err != nil {
		return err
	}
	if err = r.decide(inst, fact); err != nil {
		return err
	}
	return r.transport.Broadcast(&Message{
		Type:   MsgCommit,
		Sender: r.id,
		Commit: &Commit{
			InstanceId: fact.InstanceId,
			Rid:        fact.Rid,
			Signature:  fact.Signature,
			Attesters:  fact.Attesters,
			Evidence:   inst.evidence.DeltaFor(),
		},
	})
}

// combineBucket() recovers the group signature from the bucket's first t non-equivocating
// shares and assembles the commit fact. Caller holds the instance lock.
func (r *Replica) combineBucket(inst *Instance, rid, prestateHash []byte, excluded map[uint64]bool, fastPath bool) (*CommitFact, lib.ErrorI) {
	t := r.threshold()
	shares := inst.buckets.SharesFor(rid, prestateHash, excluded)
	if len(shares) < t {
		return nil, ErrThresholdNotReached(len(shares), t)
	}
	shares = shares[:t]
	msg := SignBytes(inst.id, rid)
	sigs := make([][]byte, 0, t)
	attesters := make([]uint64, 0, t)
	for _, s := range shares {
		sigs = append(sigs, s.Signature)
		attesters = append(attesters, s.WitnessId)
	}
	combined, err := r.signer.Combine(msg, sigs)
	if err != nil {
		return nil, err
	}
	if !r.signer.VerifySignature(msg, combined) {
		return nil, ErrInvalidSignature()
	}
	return &CommitFact{
		InstanceId:   inst.id,
		PrestateHash: bytes.Clone(prestateHash),
		Operation:    inst.operation,
		Rid:          bytes.Clone(rid),
		Signature:    combined,
		GroupPubKey:  r.signer.GroupPublicKey(),
		Attesters:    attesters,
		Threshold:    uint64(t),
		FastPath:     fastPath,
	}, nil
}

// seedConflict() broadcasts the conflicting bucket snapshot so every witness enters the
// fallback immediately instead of waiting out its timer. Caller holds the instance lock.
func (r *Replica) seedConflict(inst *Instance) lib.ErrorI {
	if inst.fallback {
		return nil
	}
	inst.fallback = true
	r.log.Warnf("witness %d seeding fallback for instance %s after rid conflict",
		r.id, lib.BytesToTruncatedString(inst.id))
	return r.transport.Broadcast(&Message{
		Type:   MsgConflict,
		Sender: r.id,
		Conflict: &Conflict{
			InstanceId: inst.id,
			Snapshot:   inst.buckets.Snapshot(),
			Evidence:   inst.evidence.DeltaFor(),
		},
	})
}

// onStateMismatch() records a witness's disagreement; the fast path may still complete if
// threshold others agree, so the initiator only merges evidence and keeps its timer armed
func (r *Replica) onStateMismatch(sm *StateMismatch) lib.ErrorI {
	inst, found := r.getInstance(sm.InstanceId)
	if !found {
		return ErrUnknownInstance(sm.InstanceId)
	}
	inst.l.Lock()
	defer inst.l.Unlock()
	if err := inst.evidence.Merge(sm.Evidence); err != nil {
		return err
	}
	r.syncFromEvidence(inst)
	if inst.decided {
		return nil
	}
	r.log.Warnf("witness %d notified of a prestate mismatch on instance %s (expected %s, peer saw %s)",
		r.id, lib.BytesToTruncatedString(sm.InstanceId),
		lib.BytesToTruncatedString(sm.ExpectedPrestateHash), lib.BytesToTruncatedString(sm.ActualPrestateHash))
	return nil
}
