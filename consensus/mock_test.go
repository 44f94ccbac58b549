package consensus

import (
	"bytes"
	"sync"
	"testing"

	"github.com/hxrts/aura-sub001/lib"
	"github.com/hxrts/aura-sub001/lib/crypto"
	"github.com/stretchr/testify/require"
)

// sentMessage pairs a unicast with its destination
type sentMessage struct {
	to  uint64
	msg *Message
}

var _ TransportI = &mockTransport{}

// mockTransport captures outbound traffic on channels instead of delivering it
type mockTransport struct {
	sent      chan *sentMessage
	broadcast chan *Message
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		sent:      make(chan *sentMessage, 64),
		broadcast: make(chan *Message, 64),
	}
}

func (m *mockTransport) Send(to uint64, msg *Message) lib.ErrorI {
	m.sent <- &sentMessage{to: to, msg: msg}
	return nil
}

func (m *mockTransport) Broadcast(msg *Message) lib.ErrorI {
	m.broadcast <- msg
	return nil
}

// expectBroadcast() requires a queued broadcast of the given type
func (m *mockTransport) expectBroadcast(t *testing.T, want MessageType) *Message {
	select {
	case msg := <-m.broadcast:
		require.Equal(t, want, msg.Type)
		return msg
	default:
		require.FailNow(t, "expected a broadcast", "wanted message type %d", want)
		return nil
	}
}

// expectSend() requires a queued unicast of the given type
func (m *mockTransport) expectSend(t *testing.T, want MessageType) *sentMessage {
	select {
	case sent := <-m.sent:
		require.Equal(t, want, sent.msg.Type)
		return sent
	default:
		require.FailNow(t, "expected a unicast", "wanted message type %d", want)
		return nil
	}
}

// expectQuiet() requires no queued traffic at all
func (m *mockTransport) expectQuiet(t *testing.T) {
	select {
	case msg := <-m.broadcast:
		require.FailNow(t, "unexpected broadcast", "message type %d", msg.Type)
	case sent := <-m.sent:
		require.FailNow(t, "unexpected unicast", "message type %d to %d", sent.msg.Type, sent.to)
	default:
	}
}

var _ StoreI = &mockStore{}

// mockStore is a map backed fact store with the production insert contract
type mockStore struct {
	l     sync.Mutex
	facts map[string]*CommitFact
}

func newMockStore() *mockStore {
	return &mockStore{facts: make(map[string]*CommitFact)}
}

func (m *mockStore) InsertCommitFact(f *CommitFact) lib.ErrorI {
	m.l.Lock()
	defer m.l.Unlock()
	key := f.InstanceId.String() + "/" + f.PrestateHash.String()
	if existing, found := m.facts[key]; found {
		if !bytes.Equal(lib.MustMarshal(existing), lib.MustMarshal(f)) {
			return ErrInvalidCommitFact("conflicting duplicate")
		}
		return nil
	}
	m.facts[key] = f.Copy()
	return nil
}

func (m *mockStore) GetCommitFact(instanceId, prestateHash []byte) (*CommitFact, lib.ErrorI) {
	m.l.Lock()
	defer m.l.Unlock()
	fact, found := m.facts[lib.HexBytes(instanceId).String()+"/"+lib.HexBytes(prestateHash).String()]
	if !found {
		return nil, nil
	}
	return fact.Copy(), nil
}

func (m *mockStore) len() int {
	m.l.Lock()
	defer m.l.Unlock()
	return len(m.facts)
}

// testReplica bundles one replica with its captured collaborators
type testReplica struct {
	replica   *Replica
	transport *mockTransport
	store     *mockStore
	epochs    *ManualEpochSource
	signer    *crypto.TBLS
}

// newTestReplica() constructs an isolated replica for one share holder; the gossip loop is
// not started, tests drive the state machine through HandleMessage
func newTestReplica(t *testing.T, signers []*crypto.TBLS, idx int, prestate []byte) *testReplica {
	config := lib.DefaultConfig()
	config.FallbackTimeoutMS = 60_000 // timers must never fire mid test
	witnesses := make([]uint64, len(signers))
	for i := range signers {
		witnesses[i] = uint64(signers[i].Index())
	}
	transport, store, epochs := newMockTransport(), newMockStore(), NewManualEpochSource(1)
	replica, err := New(config, uint64(signers[idx].Index()), witnesses, signers[idx], transport, store, epochs, lib.NewNullLogger())
	require.NoError(t, err)
	replica.SetPrestate(prestate)
	return &testReplica{replica: replica, transport: transport, store: store, epochs: epochs, signer: signers[idx]}
}

// witnessShareFrom() crafts the share response witness idx would send for the rid
func witnessShareFrom(t *testing.T, signers []*crypto.TBLS, idx int, instanceId lib.HexBytes, rid, prestateHash lib.HexBytes) *Message {
	sig, err := signers[idx].SignShare(SignBytes(instanceId, rid))
	require.NoError(t, err)
	id := uint64(signers[idx].Index())
	return &Message{
		Type:   MsgWitnessShare,
		Sender: id,
		WitnessShare: &WitnessShare{
			InstanceId:   instanceId,
			Rid:          rid,
			Share:        &Share{WitnessId: id, Rid: rid, PrestateHash: prestateHash, Signature: sig},
			PrestateHash: prestateHash,
			Epoch:        1,
		},
	}
}
