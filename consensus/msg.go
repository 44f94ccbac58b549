package consensus

import (
	"github.com/hxrts/aura-sub001/lib"
)

/*
	Wire messages. Binary encoding is canonical CBOR through lib.Marshal, so sign-bytes and
	digests computed over encodings are identical across participants. Every message carries
	an evidence delta; merging it is the first thing every handler does.
*/

type MessageType uint32

const (
	MsgExecute MessageType = iota + 1
	MsgWitnessShare
	MsgCommit
	MsgStateMismatch
	MsgConflict
	MsgAggregateShare
	MsgThresholdComplete
)

// Message is the transport envelope: a type tag, the sender id, and exactly one payload
type Message struct {
	Type              MessageType        `json:"type"`
	Sender            uint64             `json:"sender"`
	Execute           *Execute           `json:"execute,omitempty"`
	WitnessShare      *WitnessShare      `json:"witnessShare,omitempty"`
	Commit            *Commit            `json:"commit,omitempty"`
	StateMismatch     *StateMismatch     `json:"stateMismatch,omitempty"`
	Conflict          *Conflict          `json:"conflict,omitempty"`
	AggregateShare    *AggregateShare    `json:"aggregateShare,omitempty"`
	ThresholdComplete *ThresholdComplete `json:"thresholdComplete,omitempty"`
}

// Execute opens an instance: the initiator's request that each witness validate the
// pre-state and sign the result identifier
type Execute struct {
	InstanceId   lib.HexBytes `json:"instanceId"`
	Operation    lib.HexBytes `json:"operation"`
	PrestateHash lib.HexBytes `json:"prestateHash"`
	Nonce        lib.HexBytes `json:"nonce"` // freshness nonce the instance id was derived with
	Evidence     *Evidence    `json:"evidence,omitempty"`
}

// WitnessShare is a witness's signed response; when pipelining is warm it also reveals the
// nonce token committed in the previous round and commits to the next one
type WitnessShare struct {
	InstanceId     lib.HexBytes `json:"instanceId"`
	Rid            lib.HexBytes `json:"rid"`
	Share          *Share       `json:"share"`
	PrestateHash   lib.HexBytes `json:"prestateHash"`
	NonceReveal    lib.HexBytes `json:"nonceReveal,omitempty"`    // opens the previously advertised commitment
	NextCommitment lib.HexBytes `json:"nextCommitment,omitempty"` // commitment for the next round in this epoch
	Epoch          uint64       `json:"epoch"`
	Evidence       *Evidence    `json:"evidence,omitempty"`
}

// Commit is the fast path outcome broadcast by the initiator once threshold is reached
type Commit struct {
	InstanceId lib.HexBytes `json:"instanceId"`
	Rid        lib.HexBytes `json:"rid"`
	Signature  lib.HexBytes `json:"signature"`
	Attesters  []uint64     `json:"attesters"`
	Evidence   *Evidence    `json:"evidence,omitempty"`
}

// StateMismatch tells the initiator a witness's local pre-state disagrees; not fatal, the
// witness keeps participating through the fallback path
type StateMismatch struct {
	InstanceId           lib.HexBytes `json:"instanceId"`
	ExpectedPrestateHash lib.HexBytes `json:"expectedPrestateHash"`
	ActualPrestateHash   lib.HexBytes `json:"actualPrestateHash"`
	Evidence             *Evidence    `json:"evidence,omitempty"`
}

// Conflict proactively seeds the fallback with the conflicting bucket snapshot once two
// distinct rids are observed under one pre-state hash
type Conflict struct {
	InstanceId lib.HexBytes `json:"instanceId"`
	Snapshot   []*Share     `json:"snapshot"`
	Evidence   *Evidence    `json:"evidence,omitempty"`
}

// AggregateShare is the periodic fallback gossip payload: the sender's full bucket state
type AggregateShare struct {
	InstanceId lib.HexBytes `json:"instanceId"`
	Shares     []*Share     `json:"shares"`
	Evidence   *Evidence    `json:"evidence,omitempty"`
}

// ThresholdComplete is broadcast by whichever participant first assembles a valid
// threshold signature during fallback
type ThresholdComplete struct {
	InstanceId lib.HexBytes `json:"instanceId"`
	Rid        lib.HexBytes `json:"rid"`
	Signature  lib.HexBytes `json:"signature"`
	Attesters  []uint64     `json:"attesters"`
	Evidence   *Evidence    `json:"evidence,omitempty"`
}

// CheckBasic() validates the envelope: the type tag must match the one populated payload
func (m *Message) CheckBasic() lib.ErrorI {
	if m == nil {
		return ErrEmptyMessage()
	}
	switch m.Type {
	case MsgExecute:
		if m.Execute == nil || len(m.Execute.InstanceId) == 0 {
			return ErrEmptyMessage()
		}
	case MsgWitnessShare:
		if m.WitnessShare == nil || len(m.WitnessShare.InstanceId) == 0 {
			return ErrEmptyMessage()
		}
		return m.WitnessShare.Share.CheckBasic()
	case MsgCommit:
		if m.Commit == nil || len(m.Commit.InstanceId) == 0 {
			return ErrEmptyMessage()
		}
	case MsgStateMismatch:
		if m.StateMismatch == nil || len(m.StateMismatch.InstanceId) == 0 {
			return ErrEmptyMessage()
		}
	case MsgConflict:
		if m.Conflict == nil || len(m.Conflict.InstanceId) == 0 {
			return ErrEmptyMessage()
		}
	case MsgAggregateShare:
		if m.AggregateShare == nil || len(m.AggregateShare.InstanceId) == 0 {
			return ErrEmptyMessage()
		}
	case MsgThresholdComplete:
		if m.ThresholdComplete == nil || len(m.ThresholdComplete.InstanceId) == 0 {
			return ErrEmptyMessage()
		}
	default:
		return ErrUnknownMessage(m.Type)
	}
	return nil
}

// HandleMessage() routes an inbound message to the proper handler for its type
func (r *Replica) HandleMessage(msg *Message) lib.ErrorI {
	if err := msg.CheckBasic(); err != nil {
		return err
	}
	switch msg.Type {
	case MsgExecute:
		return r.onExecute(msg.Sender, msg.Execute)
	case MsgWitnessShare:
		return r.onWitnessShare(msg.WitnessShare)
	case MsgCommit:
		c := msg.Commit
		return r.onDecision(c.InstanceId, c.Rid, c.Signature, c.Attesters, c.Evidence, true)
	case MsgStateMismatch:
		return r.onStateMismatch(msg.StateMismatch)
	case MsgConflict:
		return r.onConflict(msg.Sender, msg.Conflict)
	case MsgAggregateShare:
		return r.onAggregateShare(msg.Sender, msg.AggregateShare)
	case MsgThresholdComplete:
		t := msg.ThresholdComplete
		return r.onDecision(t.InstanceId, t.Rid, t.Signature, t.Attesters, t.Evidence, false)
	default:
		return ErrUnknownMessage(msg.Type)
	}
}
