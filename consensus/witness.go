package consensus

import (
	"bytes"

	"github.com/hxrts/aura-sub001/lib"
	"github.com/hxrts/aura-sub001/lib/crypto"
)

/*
	Witness side of the protocol: validate the pre-state, sign the result identifier once,
	and accept a decision from anyone who can prove one. A witness signs at most one rid per
	(instance, prestate) pair; everything else it learns arrives through evidence merge.
*/

// onExecute() handles the initiator's request to validate and sign
func (r *Replica) onExecute(sender uint64, x *Execute) lib.ErrorI {
	// the instance id must be the derivation of its advertised inputs
	if !bytes.Equal(x.InstanceId, NewInstanceId(x.PrestateHash, crypto.Hash(x.Operation), x.Nonce)) {
		return ErrMismatchInstanceId()
	}
	inst := r.getOrCreateInstance(x.InstanceId, x.Operation, x.PrestateHash, x.Nonce, true)
	localPrestate := r.PrestateHash()
	inst.l.Lock()
	defer inst.l.Unlock()
	if err := inst.evidence.Merge(x.Evidence); err != nil {
		return err
	}
	r.syncFromEvidence(inst)
	if inst.decided {
		return nil
	}
	// a disagreeing view is not fatal: report it and wait for the fallback path
	if !bytes.Equal(localPrestate, x.PrestateHash) {
		r.log.Warnf("witness %d instance %s: %s", r.id, lib.BytesToTruncatedString(x.InstanceId),
			ErrPrestateMismatch(x.PrestateHash, localPrestate).Error())
		r.armFallbackTimer(inst)
		return r.transport.Send(sender, &Message{
			Type:   MsgStateMismatch,
			Sender: r.id,
			StateMismatch: &StateMismatch{
				InstanceId:           x.InstanceId,
				ExpectedPrestateHash: x.PrestateHash,
				ActualPrestateHash:   localPrestate,
				Evidence:             inst.evidence.DeltaFor(),
			},
		})
	}
	if inst.signed {
		return nil // duplicate execute, the original reply may still be in flight
	}
	rid := NewResultId(x.Operation, x.PrestateHash)
	sig, err := r.signer.SignShare(SignBytes(x.InstanceId, rid))
	if err != nil {
		return err
	}
	own := &Share{WitnessId: r.id, Rid: rid, PrestateHash: x.PrestateHash, Signature: sig}
	r.ingestShare(inst, own, false)
	inst.signed = true
	reveal, nextCommitment := r.pipelineNonce()
	r.armFallbackTimer(inst)
	return r.transport.Send(sender, &Message{
		Type:   MsgWitnessShare,
		Sender: r.id,
		WitnessShare: &WitnessShare{
			InstanceId:     x.InstanceId,
			Rid:            rid,
			Share:          own,
			PrestateHash:   x.PrestateHash,
			NonceReveal:    reveal,
			NextCommitment: nextCommitment,
			Epoch:          r.epochs.Current(),
			Evidence:       inst.evidence.DeltaFor(),
		},
	})
}

// pipelineNonce() runs the signing round's cache protocol: consume the token cached for
// the current epoch if present (one round trip), otherwise start cold (two round trips),
// and in either case mint and cache a pair for the next round
func (r *Replica) pipelineNonce() (reveal lib.HexBytes, nextCommitment lib.HexBytes) {
	if !r.config.EnablePipelining {
		return nil, nil
	}
	epoch := r.epochs.Current()
	if token, warm := r.nonceCache.TakeNonce(epoch); warm {
		reveal = lib.HexBytes(token)
		r.oneRTT.Add(1)
	} else {
		r.twoRTT.Add(1)
	}
	next, err := r.signer.GenerateNonce()
	if err != nil {
		r.log.Errorf("witness %d failed to generate a nonce: %s", r.id, err.Error())
		return reveal, nil
	}
	r.nonceCache.SetNextNonce(next, epoch)
	return reveal, next.Commitment
}

// onDecision() handles both fast path Commit and fallback ThresholdComplete: any
// participant accepts a decision from any source once the threshold signature verifies
func (r *Replica) onDecision(instanceId, rid, signature lib.HexBytes, attesters []uint64, delta *Evidence, fastPath bool) lib.ErrorI {
	inst, found := r.getInstance(instanceId)
	if !found {
		// a decision for an unseen instance is only actionable through the commit fact
		// carried in its evidence, and only a fact that verifies may seed instance state:
		// an unverified operation would block the genuine execute from ever installing one
		if delta == nil || delta.CommitFact == nil {
			return ErrUnknownInstance(instanceId)
		}
		fact := delta.CommitFact
		if !bytes.Equal(fact.InstanceId, instanceId) {
			return ErrMismatchInstanceId()
		}
		if err := fact.CheckBasic(); err != nil {
			return err
		}
		if !r.signer.VerifySignature(SignBytes(fact.InstanceId, fact.Rid), fact.Signature) {
			return ErrInvalidSignature()
		}
		inst = r.getOrCreateInstance(instanceId, fact.Operation, fact.PrestateHash, nil, true)
	}
	inst.l.Lock()
	defer inst.l.Unlock()
	if err := inst.evidence.Merge(delta); err != nil {
		return err
	}
	r.syncFromEvidence(inst)
	if inst.decided {
		return nil
	}
	if !inst.opKnown {
		return ErrUnknownInstance(instanceId)
	}
	if !bytes.Equal(rid, NewResultId(inst.operation, inst.prestateHash)) {
		return ErrMismatchResultId()
	}
	if !r.signer.VerifySignature(SignBytes(instanceId, rid), signature) {
		return ErrInvalidSignature()
	}
	return r.decide(inst, &CommitFact{
		InstanceId:   instanceId,
		PrestateHash: inst.prestateHash,
		Operation:    inst.operation,
		Rid:          rid,
		Signature:    signature,
		GroupPubKey:  r.signer.GroupPublicKey(),
		Attesters:    attesters,
		Threshold:    uint64(r.threshold()),
		FastPath:     fastPath,
	})
}

// onFallbackTimeout() moves an undecided instance into the fallback gossip engine; the
// fast path's accumulated buckets seed the gossip state as-is
func (r *Replica) onFallbackTimeout(instanceId []byte) {
	defer lib.CatchPanic(r.log)
	inst, found := r.getInstance(instanceId)
	if !found {
		return
	}
	inst.l.Lock()
	if inst.decided || inst.fallback {
		inst.l.Unlock()
		return
	}
	inst.fallback = true
	r.log.Warnf("witness %d entering fallback for instance %s", r.id, lib.BytesToTruncatedString(instanceId))
	inst.l.Unlock()
	// one immediate exchange before the periodic loop takes over
	r.gossipInstance(inst)
}

// ingestShare() is the single entry point for a share into local state: sanity check,
// partial signature verification for externally produced shares, the equivocation gate,
// then the evidence accumulator and the proposal buckets
func (r *Replica) ingestShare(inst *Instance, s *Share, verify bool) {
	if err := s.CheckBasic(); err != nil {
		return
	}
	if !r.inWitnessSet(s.WitnessId) {
		return
	}
	// verification is pairing heavy; a share is processed at most once per signature
	if inst.seen.Found(s.Key() + "/" + lib.BytesToString(s.Signature)) {
		return
	}
	if verify {
		// the claimed witness must be the share holder embedded in the partial signature,
		// otherwise a valid signature could be replayed under another witness's name
		idx, err := r.signer.PartialIndex(s.Signature)
		if err != nil || uint64(idx) != s.WitnessId {
			r.log.Debugf("witness %d dropped a share misattributed to %d", r.id, s.WitnessId)
			return
		}
		if err = r.signer.VerifyPartial(SignBytes(inst.id, s.Rid), s.Signature); err != nil {
			r.log.Debugf("witness %d dropped an invalid share from %d", r.id, s.WitnessId)
			return
		}
	}
	if proof := inst.detector.Observe(s); proof != nil {
		r.log.Warnf("witness %d instance %s: %s", r.id, lib.BytesToTruncatedString(inst.id),
			ErrEquivocation(s.WitnessId).Error())
		inst.evidence.AddEquivocator(proof)
	}
	inst.evidence.AddShare(s)
	if !inst.buckets.Add(s) {
		r.log.Debugf("witness %d instance %s: %s", r.id, lib.BytesToTruncatedString(inst.id),
			ErrDuplicateShare(s.WitnessId).Error())
	}
}

// syncFromEvidence() replays merged evidence into the detector and buckets so that shares
// learned purely by merge still count toward threshold, and accepts a merged commit fact
// once it verifies; convergence requires nothing beyond merge. Caller holds the instance lock.
func (r *Replica) syncFromEvidence(inst *Instance) {
	for _, s := range inst.evidence.Shares {
		r.ingestShare(inst, s, s.WitnessId != r.id)
	}
	if inst.decided || inst.evidence.CommitFact == nil {
		return
	}
	fact := inst.evidence.CommitFact.Copy()
	if !bytes.Equal(fact.InstanceId, inst.id) {
		return
	}
	if err := fact.CheckBasic(); err != nil {
		return
	}
	if !r.signer.VerifySignature(SignBytes(fact.InstanceId, fact.Rid), fact.Signature) {
		return
	}
	if !inst.opKnown {
		inst.operation, inst.prestateHash, inst.opKnown = fact.Operation, fact.PrestateHash, true
	}
	if err := r.decide(inst, fact); err != nil {
		r.log.Errorf("witness %d could not persist a merged commit fact: %s", r.id, err.Error())
	}
}

// inWitnessSet() reports whether the id belongs to the configured witness set
func (r *Replica) inWitnessSet(id uint64) bool {
	for _, w := range r.witnesses {
		if w == id {
			return true
		}
	}
	return false
}
