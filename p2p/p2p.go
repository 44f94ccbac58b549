package p2p

import (
	"sync"

	"github.com/hxrts/aura-sub001/consensus"
	"github.com/hxrts/aura-sub001/lib"
)

/*
	In-process transport for simulations and tests. Participants join the network with a
	handler; sends are encoded through the wire codec and decoded on delivery, so every hop
	exercises exactly the bytes a remote peer would see and no state is shared by pointer.

	Delivery is asynchronous and best effort: severed links and full inboxes drop messages
	silently, which is within the protocol's loss assumptions.
*/

const inboxSize = 1024

// Filter decides whether a message travels the (from, to) link; nil delivers everything
type Filter func(from, to uint64, msg *consensus.Message) bool

// Network multiplexes per-participant inboxes
type Network struct {
	l       sync.RWMutex
	inboxes map[uint64]chan []byte
	severed map[[2]uint64]bool
	filter  Filter
	stop    chan struct{}
	once    sync.Once
	log     lib.LoggerI
}

// NewNetwork() constructs an empty network
func NewNetwork(log lib.LoggerI) *Network {
	return &Network{
		inboxes: make(map[uint64]chan []byte),
		severed: make(map[[2]uint64]bool),
		stop:    make(chan struct{}),
		log:     log,
	}
}

// Peer is one participant's handle on the network; it implements the consensus transport
type Peer struct {
	net *Network
	id  uint64
}

var _ consensus.TransportI = &Peer{}

// Join() registers a participant and starts its delivery loop; inbound messages are
// decoded and passed to the handler one at a time
func (n *Network) Join(id uint64, handler func(*consensus.Message)) *Peer {
	inbox := make(chan []byte, inboxSize)
	n.l.Lock()
	n.inboxes[id] = inbox
	n.l.Unlock()
	go func() {
		defer lib.CatchPanic(n.log)
		for {
			select {
			case <-n.stop:
				return
			case bz := <-inbox:
				msg := new(consensus.Message)
				if err := lib.Unmarshal(bz, msg); err != nil {
					n.log.Errorf("dropping undecodable message for %d: %s", id, err.Error())
					continue
				}
				handler(msg)
			}
		}
	}()
	return &Peer{net: n, id: id}
}

// Sever() cuts the link between two participants in both directions
func (n *Network) Sever(a, b uint64) {
	n.l.Lock()
	defer n.l.Unlock()
	n.severed[[2]uint64{a, b}] = true
	n.severed[[2]uint64{b, a}] = true
}

// Partition() severs every link crossing the boundary between the two groups
func (n *Network) Partition(groupA, groupB []uint64) {
	for _, a := range groupA {
		for _, b := range groupB {
			n.Sever(a, b)
		}
	}
}

// Heal() restores all severed links
func (n *Network) Heal() {
	n.l.Lock()
	defer n.l.Unlock()
	n.severed = make(map[[2]uint64]bool)
}

// SetFilter() installs a per-message drop rule; nil removes it
func (n *Network) SetFilter(f Filter) {
	n.l.Lock()
	defer n.l.Unlock()
	n.filter = f
}

// Shutdown() stops all delivery loops
func (n *Network) Shutdown() {
	n.once.Do(func() { close(n.stop) })
}

// deliver() routes encoded bytes to one inbox, applying link and filter rules
func (n *Network) deliver(from, to uint64, msg *consensus.Message, bz []byte) {
	n.l.RLock()
	inbox, joined := n.inboxes[to]
	cut := n.severed[[2]uint64{from, to}]
	filter := n.filter
	n.l.RUnlock()
	if !joined || cut {
		return
	}
	if filter != nil && !filter(from, to, msg) {
		return
	}
	select {
	case inbox <- bz:
	default:
		n.log.Warnf("inbox for %d is full, dropping a message from %d", to, from)
	}
}

// Send() delivers a message to one participant
func (p *Peer) Send(to uint64, msg *consensus.Message) lib.ErrorI {
	bz, err := lib.Marshal(msg)
	if err != nil {
		return err
	}
	p.net.deliver(p.id, to, msg, bz)
	return nil
}

// Broadcast() delivers a message to every joined participant except the sender
func (p *Peer) Broadcast(msg *consensus.Message) lib.ErrorI {
	bz, err := lib.Marshal(msg)
	if err != nil {
		return err
	}
	p.net.l.RLock()
	targets := make([]uint64, 0, len(p.net.inboxes))
	for id := range p.net.inboxes {
		if id != p.id {
			targets = append(targets, id)
		}
	}
	p.net.l.RUnlock()
	for _, to := range targets {
		p.net.deliver(p.id, to, msg, bz)
	}
	return nil
}
