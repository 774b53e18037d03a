package core

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prxssh/rabbitsoul/internal/netio"
	"github.com/prxssh/rabbitsoul/internal/peerconn"
	"github.com/prxssh/rabbitsoul/internal/wire"
)

func ipUint32(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

func newTestProcessor(t *testing.T) (*Processor, *netio.IO) {
	t.Helper()
	p := New(nil, nil, nil)
	io := netio.New(p, netio.DefaultOptions(), nil)
	p.SetNetIO(io)
	return p, io
}

// Scenario 5: a known address for a user that disagrees with a socket's
// claimed address fails check_spoof.
func TestCheckSpoofRejection(t *testing.T) {
	p, _ := newTestProcessor(t)

	ua := p.addrBook.getOrCreate("u")
	ua.HasAddr = true
	ua.IP = ipUint32(1, 1, 1, 1)

	spoofed := peerconn.NewConn("2.2.2.2:5000", "u", wire.KindPeer)
	if p.checkSpoofOK(spoofed) {
		t.Fatal("expected check_spoof to fail for mismatched address")
	}

	legit := peerconn.NewConn("1.1.1.1:5000", "u", wire.KindPeer)
	if !p.checkSpoofOK(legit) {
		t.Fatal("expected check_spoof to pass for matching address")
	}
}

// Scenario 6: ten port-0 GetPeerAddressReply messages cause the tenth to
// be accepted as final rather than triggering an eleventh re-request.
func TestPortZeroGiveup(t *testing.T) {
	p, _ := newTestProcessor(t)

	conn := peerconn.NewConn("", "u", wire.KindPeer)
	conn.ConnectTimerName = connectTimerName("u", wire.KindPeer)
	p.registry.Add(conn)

	for i := 0; i < maxAddrRetries-1; i++ {
		p.onGetPeerAddressReply(&wire.GetPeerAddressReply{Username: "u", IP: ipUint32(5, 6, 7, 8), Port: 0})
		if conn.AddrRetryCount != i+1 {
			t.Fatalf("reply %d: expected AddrRetryCount %d, got %d", i+1, i+1, conn.AddrRetryCount)
		}
		if ua, _ := p.addrBook.get("u"); ua.HasAddr {
			t.Fatalf("reply %d: address should not be accepted yet", i+1)
		}
	}

	p.onGetPeerAddressReply(&wire.GetPeerAddressReply{Username: "u", IP: ipUint32(5, 6, 7, 8), Port: 0})

	ua, ok := p.addrBook.get("u")
	if !ok || !ua.HasAddr {
		t.Fatal("expected address accepted as final on the 10th port-0 reply")
	}
}

// Scenario 1: a firewalled target with no known address is reached
// indirectly once the direct attempt fails, and the handshake + queued
// message land on the socket the peer pierces back with, in order.
func TestFirewalledTargetIndirectSucceeds(t *testing.T) {
	p, pio := newTestProcessor(t)
	p.username = "me"

	serverApp, serverTest := net.Pipe()
	serverHandle := pio.Accept(serverApp, wire.ChannelServer)
	p.mu.Lock()
	p.serverHandle = serverHandle
	p.hasServerHandle = true
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// GetPeerAddress and ConnectToPeer share their wire codes with reply/
	// inbound variants the server would send the other direction, so
	// this reads by known outbound shape rather than through the
	// generic (receive-side) decode table.
	tokenCh := make(chan uint32, 1)
	go func() {
		for {
			f, err := wire.ReadFrame(serverTest, wire.ChannelServer)
			if err != nil {
				return
			}
			switch f.Code {
			case wire.ServerGetPeerAddress:
				var m wire.GetPeerAddress
				if err := m.Unmarshal(wire.NewReader(f.Payload)); err != nil {
					continue
				}
				reply := &wire.GetPeerAddressReply{
					Username: m.Username,
					IP:       ipUint32(127, 0, 0, 1),
					Port:     1, // reserved, refuses immediately on loopback
				}
				_ = wire.WriteFrame(serverTest, wire.Encode(wire.ChannelServer, reply))
			case wire.ServerConnectToPeer:
				var m wire.ConnectToPeer
				if err := m.Unmarshal(wire.NewReader(f.Payload)); err != nil {
					continue
				}
				tokenCh <- m.Token
			}
		}
	}()

	p.RequestToPeer("u", &wire.GetSharedFileList{})

	var token uint32
	select {
	case token = <-tokenCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ConnectToPeer")
	}

	peerApp, peerTest := net.Pipe()
	pio.Accept(peerApp, wire.ChannelPeer)

	if err := wire.WriteFrame(peerTest, wire.Encode(wire.ChannelPeer, &wire.PierceFireWall{Token: token})); err != nil {
		t.Fatalf("WriteFrame PierceFireWall: %v", err)
	}

	first, err := wire.ReadFrame(peerTest, wire.ChannelPeer)
	if err != nil {
		t.Fatalf("ReadFrame (expected PeerInit): %v", err)
	}
	if first.Code != wire.PeerInitCode {
		t.Fatalf("expected PeerInit first, got code %d", first.Code)
	}
	initDecoded, err := wire.Decode(first)
	if err != nil {
		t.Fatalf("decode PeerInit: %v", err)
	}
	init, ok := initDecoded.Message.(*wire.PeerInit)
	if !ok || init.Username != "me" || init.Kind != wire.KindPeer {
		t.Fatalf("unexpected PeerInit contents: %+v", init)
	}

	second, err := wire.ReadFrame(peerTest, wire.ChannelPeer)
	if err != nil {
		t.Fatalf("ReadFrame (expected GetSharedFileList): %v", err)
	}
	if second.Code != wire.PeerGetSharedFileList {
		t.Fatalf("expected GetSharedFileList second, got code %d", second.Code)
	}
}
