package peerconn

import (
	"testing"

	"github.com/prxssh/rabbitsoul/internal/wire"
)

func TestAttachSocketDrainsPendingInOrder(t *testing.T) {
	c := NewConn("1.2.3.4:2234", "alice", wire.KindPeer)

	c.AppendPending(&wire.Frame{Channel: wire.ChannelPeer, Code: wire.PeerGetSharedFileList, Payload: []byte("first")})
	c.AppendPending(&wire.Frame{Channel: wire.ChannelPeer, Code: wire.PeerUserInfoRequest, Payload: []byte("second")})

	if c.HasSocket() {
		t.Fatal("expected no socket before AttachSocket")
	}

	drained := c.AttachSocket(SocketHandle(7))
	if !c.HasSocket() {
		t.Fatal("expected socket after AttachSocket")
	}
	if len(drained) != 2 || string(drained[0].Payload) != "first" || string(drained[1].Payload) != "second" {
		t.Fatalf("drained out of order: %v", drained)
	}

	// pendingMsgs must now be empty (spec invariant: pendingMsgs=∅ whenever socket≠none).
	more := c.AttachSocket(SocketHandle(7))
	if len(more) != 0 {
		t.Fatalf("expected empty pending on second attach, got %v", more)
	}
}

func TestRegistryThreeWayIndexAndRemove(t *testing.T) {
	r := NewRegistry()
	c := NewConn("1.2.3.4:2234", "alice", wire.KindFile)
	r.Add(c)

	if _, ok := r.ByUserKind("alice", wire.KindFile); !ok {
		t.Fatal("expected lookup by (user,kind) to succeed")
	}

	r.IndexSocket(SocketHandle(42), c)
	if got, ok := r.BySocket(SocketHandle(42)); !ok || got != c {
		t.Fatal("expected lookup by socket to succeed")
	}

	c.SetToken(0xABCD)
	r.IndexToken(0xABCD, c)
	if got, ok := r.ByToken(0xABCD); !ok || got != c {
		t.Fatal("expected lookup by token to succeed")
	}

	r.Remove(c)
	if _, ok := r.ByUserKind("alice", wire.KindFile); ok {
		t.Fatal("expected conn removed from user index")
	}
	if _, ok := r.BySocket(SocketHandle(42)); ok {
		t.Fatal("expected conn removed from socket index")
	}
	if _, ok := r.ByToken(0xABCD); ok {
		t.Fatal("expected conn removed from token index")
	}
}

func TestDistributedConnsFiltersByKind(t *testing.T) {
	r := NewRegistry()
	r.Add(NewConn("a", "u1", wire.KindDistributed))
	r.Add(NewConn("b", "u2", wire.KindPeer))
	r.Add(NewConn("c", "u3", wire.KindDistributed))

	got := r.DistributedConns()
	if len(got) != 2 {
		t.Fatalf("expected 2 distributed conns, got %d", len(got))
	}
}

func TestHistoryRingBuffer(t *testing.T) {
	c := NewConn("a", "u", wire.KindPeer)
	for i := 0; i < 10; i++ {
		c.RecordEvent(EventSent, uint32(i), "x", i)
	}

	events, err := c.RecentHistory(3)
	if err != nil {
		t.Fatalf("RecentHistory: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	// oldest of the last 3 written (codes 7,8,9) should be code 7.
	if events[0].Code != 7 {
		t.Fatalf("expected oldest retained code 7, got %d", events[0].Code)
	}
}
