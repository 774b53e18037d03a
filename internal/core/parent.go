package core

import (
	"context"
	"net"
	"strconv"

	"github.com/prxssh/rabbitsoul/internal/peerconn"
	"github.com/prxssh/rabbitsoul/internal/wire"
)

// onPossibleParents attempts a distributed-kind connection to every
// candidate the server offered (spec.md §4.1 "Parent peer logic").
func (p *Processor) onPossibleParents(m *wire.PossibleParents) {
	p.mu.Lock()
	hasParent := p.hasParent
	p.mu.Unlock()
	if hasParent {
		return
	}

	for _, cand := range m.Parents {
		if _, ok := p.registry.ByUserKind(cand.Username, wire.KindDistributed); ok {
			continue
		}

		conn := peerconn.NewConn(
			net.JoinHostPort(ipToString(cand.IP), strconv.FormatUint(uint64(cand.Port), 10)),
			cand.Username,
			wire.KindDistributed,
		)
		p.registry.Add(conn)

		h := p.io.Dial(context.Background(), conn.Addr, wire.ChannelDistributed, false)
		p.registry.IndexSocket(h, conn)
	}
}

// onDistribFrame reacts to distributed-channel traffic on an established
// D-kind socket: the first BranchLevel observed elects that peer as our
// parent (spec.md §4.1).
func (p *Processor) onDistribFrame(conn *peerconn.Conn, msg wire.Message) {
	if _, ok := msg.(*wire.BranchLevel); !ok {
		return
	}

	p.mu.Lock()
	if p.hasParent {
		p.mu.Unlock()
		return
	}
	p.hasParent = true
	p.parentConn = conn
	p.mu.Unlock()

	p.sendServer(&wire.SearchParent{IP: parentIP(conn)})
	p.sendServer(&wire.HaveNoParent{NoParent: false})

	for _, other := range p.registry.DistributedConns() {
		if other == conn {
			continue
		}
		if h, ok := other.Socket(); ok {
			p.io.Close(h)
		}
	}
}

func parentIP(conn *peerconn.Conn) uint32 {
	host, _, err := net.SplitHostPort(conn.Addr)
	if err != nil {
		return 0
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return 0
	}
	ip = ip.To4()
	if ip == nil {
		return 0
	}
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func (p *Processor) isParent(conn *peerconn.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasParent && p.parentConn == conn
}

func (p *Processor) onParentClosed() {
	p.mu.Lock()
	p.hasParent = false
	p.parentConn = nil
	p.mu.Unlock()

	p.sendServer(&wire.HaveNoParent{NoParent: true})
}

// onTunneledMessage handles the deprecated server-relayed peer message
// path (spec.md §4.1 "Server-peer tunnelled messages"): it dispatches the
// message inline through dispatchPeerMessage, the same path a frame read
// directly from the peer takes. A tunneled message for a user with no
// kind-P registry entry is dropped.
func (p *Processor) onTunneledMessage(m *wire.TunneledMessage) {
	frame := &wire.Frame{Channel: wire.ChannelPeer, Code: m.MsgCode, Payload: m.Body}

	conn, ok := p.registry.ByUserKind(m.Username, wire.KindPeer)
	if !ok {
		p.log.Debug("tunneled message for unknown peer, dropping", "user", m.Username)
		return
	}
	h, ok := conn.Socket()
	if !ok {
		h = peerconn.NoSocket
	}

	p.dispatchPeerMessage(conn, h, frame)
}
