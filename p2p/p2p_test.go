package p2p

import (
	"testing"
	"time"

	"github.com/hxrts/aura-sub001/consensus"
	"github.com/hxrts/aura-sub001/lib"
	"github.com/stretchr/testify/require"
)

// inbox collects decoded deliveries for one participant
type inbox struct {
	messages chan *consensus.Message
}

func join(n *Network, id uint64) (*Peer, *inbox) {
	box := &inbox{messages: make(chan *consensus.Message, 64)}
	peer := n.Join(id, func(msg *consensus.Message) { box.messages <- msg })
	return peer, box
}

// expect() waits briefly for one delivery
func (b *inbox) expect(t *testing.T) *consensus.Message {
	select {
	case msg := <-b.messages:
		return msg
	case <-time.After(time.Second):
		require.FailNow(t, "expected a delivery")
		return nil
	}
}

// expectNone() asserts silence for a settling window
func (b *inbox) expectNone(t *testing.T) {
	select {
	case msg := <-b.messages:
		require.FailNow(t, "unexpected delivery", "message type %d from %d", msg.Type, msg.Sender)
	case <-time.After(50 * time.Millisecond):
	}
}

func conflictMessage(sender uint64) *consensus.Message {
	return &consensus.Message{
		Type:   consensus.MsgConflict,
		Sender: sender,
		Conflict: &consensus.Conflict{
			InstanceId: []byte("instance"),
			Snapshot: []*consensus.Share{{
				WitnessId:    sender,
				Rid:          []byte("rid"),
				PrestateHash: []byte("prestate"),
				Signature:    []byte("signature"),
			}},
		},
	}
}

func TestSendRoundTripsThroughTheCodec(t *testing.T) {
	n := NewNetwork(lib.NewNullLogger())
	defer n.Shutdown()
	a, _ := join(n, 0)
	_, boxB := join(n, 1)
	require.NoError(t, a.Send(1, conflictMessage(0)))
	got := boxB.expect(t)
	require.Equal(t, consensus.MsgConflict, got.Type)
	require.EqualValues(t, 0, got.Sender)
	require.Len(t, got.Conflict.Snapshot, 1)
	require.EqualValues(t, []byte("rid"), got.Conflict.Snapshot[0].Rid)
	// a send to a participant that never joined vanishes without an error
	require.NoError(t, a.Send(9, conflictMessage(0)))
	boxB.expectNone(t)
}

func TestBroadcastExcludesTheSender(t *testing.T) {
	n := NewNetwork(lib.NewNullLogger())
	defer n.Shutdown()
	a, boxA := join(n, 0)
	_, boxB := join(n, 1)
	_, boxC := join(n, 2)
	require.NoError(t, a.Broadcast(conflictMessage(0)))
	boxB.expect(t)
	boxC.expect(t)
	boxA.expectNone(t)
}

func TestSeverAndHeal(t *testing.T) {
	n := NewNetwork(lib.NewNullLogger())
	defer n.Shutdown()
	a, boxA := join(n, 0)
	b, boxB := join(n, 1)
	n.Sever(0, 1)
	// the cut applies in both directions
	require.NoError(t, a.Send(1, conflictMessage(0)))
	require.NoError(t, b.Send(0, conflictMessage(1)))
	boxA.expectNone(t)
	boxB.expectNone(t)
	n.Heal()
	require.NoError(t, a.Send(1, conflictMessage(0)))
	boxB.expect(t)
}

func TestPartitionSeversCrossLinksOnly(t *testing.T) {
	n := NewNetwork(lib.NewNullLogger())
	defer n.Shutdown()
	a, _ := join(n, 0)
	_, boxB := join(n, 1)
	_, boxC := join(n, 2)
	n.Partition([]uint64{0, 1}, []uint64{2})
	require.NoError(t, a.Broadcast(conflictMessage(0)))
	boxB.expect(t)
	boxC.expectNone(t)
}

func TestFilterDropsSelectedMessages(t *testing.T) {
	n := NewNetwork(lib.NewNullLogger())
	defer n.Shutdown()
	a, _ := join(n, 0)
	_, boxB := join(n, 1)
	n.SetFilter(func(_, _ uint64, msg *consensus.Message) bool {
		return msg.Type != consensus.MsgConflict
	})
	require.NoError(t, a.Send(1, conflictMessage(0)))
	boxB.expectNone(t)
	n.SetFilter(nil)
	require.NoError(t, a.Send(1, conflictMessage(0)))
	boxB.expect(t)
}
