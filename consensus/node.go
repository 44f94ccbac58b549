package consensus

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hxrts/aura-sub001/lib"
	"github.com/hxrts/aura-sub001/lib/crypto"
)

/*
	Replica is one participant in the witness set. It hosts arbitrarily many concurrent
	consensus instances, each an independent state machine keyed by instance id; there is no
	cross-instance locking. A replica acts as initiator for the instances it starts and as
	witness for everything else.
*/

// TransportI carries protocol messages between participants; delivery is assumed
// at-least-once, the protocol tolerates loss, duplication, and reordering
type TransportI interface {
	// Send() delivers a message to one participant
	Send(to uint64, msg *Message) lib.ErrorI
	// Broadcast() delivers a message to every other participant in the witness set
	Broadcast(msg *Message) lib.ErrorI
}

// StoreI absorbs commit facts; Insert is idempotent, a duplicate of the same
// (instance, prestate, rid, signature) is a no-op
type StoreI interface {
	InsertCommitFact(f *CommitFact) lib.ErrorI
	GetCommitFact(instanceId, prestateHash []byte) (*CommitFact, lib.ErrorI)
}

// Replica is a single witness node servicing concurrent consensus instances
type Replica struct {
	l          sync.RWMutex
	config     lib.Config
	id         uint64
	witnesses  []uint64
	signer     crypto.ThresholdSignerI
	transport  TransportI
	store      StoreI
	epochs     EpochSourceI
	sampler    PeerSampler
	nonceCache *NonceCache
	book       *CommitmentBook
	prestate   lib.HexBytes
	instances  map[string]*Instance
	round      atomic.Uint64
	oneRTT     atomic.Uint64
	twoRTT     atomic.Uint64
	stop       chan struct{}
	stopOnce   sync.Once
	log        lib.LoggerI
}

// Instance is the per-run state machine: Idle -> AwaitingDecision -> Decided. All fields
// are guarded by the instance lock; instances never share state with each other.
type Instance struct {
	l            sync.Mutex
	id           lib.HexBytes
	operation    lib.HexBytes
	opKnown      bool // false for shells created from gossip before the operation is learned
	prestateHash lib.HexBytes
	nonce        lib.HexBytes
	initiator    bool
	decided      bool
	fallback     bool
	signed       bool
	buckets      *ProposalBuckets
	evidence     *Evidence
	detector     *EquivocationDetector
	seen         *lib.DeDuplicator[string] // shares already processed, keyed by signature
	timer        *time.Timer
	createdAt    time.Time
	fact         *CommitFact
}

// New() constructs a replica; the witness set must contain the replica's own id and match
// the signer's share holder set in size
func New(config lib.Config, id uint64, witnesses []uint64, signer crypto.ThresholdSignerI,
	transport TransportI, store StoreI, epochs EpochSourceI, log lib.LoggerI) (*Replica, lib.ErrorI) {
	if len(witnesses) == 0 {
		return nil, ErrInvalidWitnessSet("empty")
	}
	if len(witnesses) != signer.Total() {
		return nil, ErrInvalidWitnessSet("size does not match the signer share holder set")
	}
	self := false
	for _, w := range witnesses {
		if w == id {
			self = true
			break
		}
	}
	if !self {
		return nil, ErrNotWitness(id)
	}
	r := &Replica{
		config:     config,
		id:         id,
		witnesses:  append([]uint64(nil), witnesses...),
		signer:     signer,
		transport:  transport,
		store:      store,
		epochs:     epochs,
		sampler:    NewPeerSampler(config.PeerSampling),
		nonceCache: NewNonceCache(),
		book:       NewCommitmentBook(),
		instances:  make(map[string]*Instance),
		stop:       make(chan struct{}),
		log:        log,
	}
	// cached nonce material must die before the first read under the new epoch
	epochs.Subscribe(func(epoch uint64) {
		r.nonceCache.Invalidate()
		r.book.Invalidate()
		r.log.Debugf("witness %d invalidated nonce material for epoch %d", r.id, epoch)
	})
	return r, nil
}

// Start() launches the gossip loop
func (r *Replica) Start() {
	go r.gossipLoop()
}

// Stop() halts the gossip loop; in-flight instances remain readable
func (r *Replica) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// SetPrestate() installs this replica's local view of the pre-state
func (r *Replica) SetPrestate(prestate []byte) {
	r.l.Lock()
	defer r.l.Unlock()
	r.prestate = bytes.Clone(prestate)
}

// PrestateHash() returns the digest of this replica's local pre-state view
func (r *Replica) PrestateHash() lib.HexBytes {
	r.l.RLock()
	defer r.l.RUnlock()
	return crypto.Hash(r.prestate)
}

// Id() returns this replica's witness id
func (r *Replica) Id() uint64 { return r.id }

// getOrCreateInstance() returns the state machine for the id, creating it on first contact
func (r *Replica) getOrCreateInstance(id, operation, prestateHash, nonce []byte, opKnown bool) *Instance {
	key := lib.BytesToString(id)
	r.l.Lock()
	inst, found := r.instances[key]
	if !found {
		inst = &Instance{
			id:           bytes.Clone(id),
			operation:    bytes.Clone(operation),
			opKnown:      opKnown,
			prestateHash: bytes.Clone(prestateHash),
			nonce:        bytes.Clone(nonce),
			buckets:      NewProposalBuckets(),
			evidence:     NewEvidence(bytes.Clone(id)),
			detector:     NewEquivocationDetector(),
			seen:         lib.NewDeDuplicator[string](),
			createdAt:    time.Now(),
		}
		r.instances[key] = inst
	}
	r.l.Unlock()
	// a shell created from gossip learns its operation on first authoritative contact
	if found && opKnown {
		inst.l.Lock()
		if !inst.opKnown {
			inst.operation, inst.prestateHash, inst.nonce, inst.opKnown = bytes.Clone(operation), bytes.Clone(prestateHash), bytes.Clone(nonce), true
		}
		inst.l.Unlock()
	}
	return inst
}

// getInstance() returns the state machine for the id if it exists
func (r *Replica) getInstance(id []byte) (*Instance, bool) {
	r.l.RLock()
	defer r.l.RUnlock()
	inst, found := r.instances[lib.BytesToString(id)]
	return inst, found
}

// Fact() returns the commit fact for an instance once decided
func (r *Replica) Fact(instanceId []byte) (*CommitFact, bool) {
	inst, found := r.getInstance(instanceId)
	if !found {
		return nil, false
	}
	inst.l.Lock()
	defer inst.l.Unlock()
	if !inst.decided {
		return nil, false
	}
	return inst.fact.Copy(), true
}

// Decided() reports whether an instance has reached its terminal state on this replica
func (r *Replica) Decided(instanceId []byte) bool {
	_, decided := r.Fact(instanceId)
	return decided
}

// decide() is the single write point of the terminal state: persists the fact, sets the
// write-once decided flag, and cancels the fallback timer. Caller holds the instance lock.
func (r *Replica) decide(inst *Instance, fact *CommitFact) lib.ErrorI {
	if inst.decided {
		return nil
	}
	if err := fact.CheckBasic(); err != nil {
		return err
	}
	if err := r.store.InsertCommitFact(fact); err != nil {
		return err
	}
	inst.decided, inst.fact = true, fact
	inst.evidence.SetCommitFact(fact.Copy())
	lib.StopTimer(inst.timer)
	r.log.Infof("witness %d decided instance %s rid %s (fastPath=%t)",
		r.id, lib.BytesToTruncatedString(fact.InstanceId), lib.BytesToTruncatedString(fact.Rid), fact.FastPath)
	return nil
}

// armFallbackTimer() starts or restarts the instance's fallback countdown. Caller holds
// the instance lock. A stray fire after decision is a no-op.
func (r *Replica) armFallbackTimer(inst *Instance) {
	if inst.decided || inst.fallback {
		return
	}
	id := bytes.Clone(inst.id)
	if inst.timer == nil {
		inst.timer = time.AfterFunc(r.config.FallbackTimeout(), func() { r.onFallbackTimeout(id) })
		return
	}
	inst.timer.Reset(r.config.FallbackTimeout())
}

// threshold() returns t from the signer
func (r *Replica) threshold() int { return r.signer.Threshold() }

// Stats is a point-in-time snapshot of the replica's protocol counters
type Stats struct {
	WitnessId        uint64 `json:"witnessId"`
	ActiveInstances  int    `json:"activeInstances"`
	DecidedInstances int    `json:"decidedInstances"`
	Epoch            uint64 `json:"epoch"`
	Threshold        int    `json:"threshold"`
	Witnesses        int    `json:"witnesses"`
	OneRoundTrip     uint64 `json:"oneRoundTrip"`
	TwoRoundTrip     uint64 `json:"twoRoundTrip"`
	PipelineWarm     bool   `json:"pipelineWarm"` // a nonce token is cached for the current epoch
	WarmPeers        int    `json:"warmPeers"`    // peers holding a valid commitment for the current epoch
}

// Stats() returns a snapshot of the replica's protocol counters
func (r *Replica) Stats() Stats {
	r.l.RLock()
	defer r.l.RUnlock()
	s := Stats{
		WitnessId:    r.id,
		Epoch:        r.epochs.Current(),
		Threshold:    r.threshold(),
		Witnesses:    len(r.witnesses),
		OneRoundTrip: r.oneRTT.Load(),
		TwoRoundTrip: r.twoRTT.Load(),
		WarmPeers:    r.book.WarmCount(r.epochs.Current()),
	}
	_, s.PipelineWarm = r.nonceCache.GetCachedCommitment(s.Epoch)
	for _, inst := range r.instances {
		inst.l.Lock()
		if inst.decided {
			s.DecidedInstances++
		} else {
			s.ActiveInstances++
		}
		inst.l.Unlock()
	}
	return s
}

// evictStaleInstances() drops undecided instances older than the configured window;
// decided instances survive only as their commit facts in the store
func (r *Replica) evictStaleInstances() {
	cutoff := time.Now().Add(-r.config.StaleInstanceTimeout())
	r.l.Lock()
	defer r.l.Unlock()
	for key, inst := range r.instances {
		inst.l.Lock()
		stale := !inst.decided && inst.createdAt.Before(cutoff)
		if stale {
			lib.StopTimer(inst.timer)
			delete(r.instances, key)
			r.log.Warnf("witness %d evicted stale instance %s", r.id, lib.BytesToTruncatedString(inst.id))
		}
		inst.l.Unlock()
	}
}
