package core

import (
	"github.com/prxssh/rabbitsoul/internal/peerconn"
	"github.com/prxssh/rabbitsoul/internal/wire"
)

// handoffFileSocket takes conn's socket away from NetIO's generic framed
// loops once its handshake is written and hands the raw net.Conn to the
// transfer manager (spec.md §4.2 "hand the file to NetIO for
// receive/send"). The PeerConn itself is discarded afterward: a kind-F
// entry exists only to get the handshake done, not for the lifetime of
// the transfer.
func (p *Processor) handoffFileSocket(conn *peerconn.Conn, h peerconn.SocketHandle, weDialed bool) {
	p.timers.Cancel(conn.ConnectTimerName)
	p.registry.Remove(conn)

	nc, ok := p.io.TakeOver(h)
	if !ok {
		p.log.Warn("file socket vanished before handoff", "user", conn.Username)
		return
	}
	if p.transfers == nil {
		p.log.Debug("no transfer manager wired, closing file socket", "user", conn.Username)
		_ = nc.Close()
		return
	}
	p.transfers.HandleFileConn(conn.Username, nc, weDialed)
}

func (p *Processor) onPeerConnected(ev EvPeerConnected) {
	conn, ok := p.registry.BySocket(ev.Handle)
	if !ok {
		// An inbound socket NetIO already registered by handle before the
		// handshake frame arrives goes through the same path once its
		// first frame is read; remember its address for check_spoof.
		p.mu.Lock()
		p.pendingAddrs[ev.Handle] = ev.RemoteAddr
		p.mu.Unlock()
		return
	}

	ch := peerChannelFor(conn.Kind)
	if token, hasToken := conn.Token(); hasToken {
		p.sendPeerFrame(ev.Handle, wire.Encode(ch, &wire.PierceFireWall{Token: token}))
	} else {
		p.sendPeerFrame(ev.Handle, wire.Encode(ch, &wire.PeerInit{Username: p.username, Kind: conn.Kind, Token: 0}))
	}

	for _, f := range conn.AttachSocket(ev.Handle) {
		p.sendPeerFrame(ev.Handle, f)
	}

	if conn.Kind == wire.KindFile {
		p.handoffFileSocket(conn, ev.Handle, true)
		return
	}
	p.timers.Cancel(conn.ConnectTimerName)
}

func (p *Processor) onPeerConnectError(ev EvPeerConnectError) {
	conn, ok := p.registry.BySocket(ev.Handle)
	if !ok {
		return
	}

	if _, hasToken := conn.Token(); !hasToken {
		ua := p.addrBook.getOrCreate(conn.Username)
		ua.BehindFirewall = TriYes
		p.connectIndirect(conn)
		return
	}

	p.cantConnectFinal(conn)
}

func (p *Processor) onPeerClosed(ev EvPeerClosed) {
	conn, ok := p.registry.BySocket(ev.Handle)
	if !ok {
		return
	}

	username := conn.Username
	wasParent := p.isParent(conn)
	p.registry.Remove(conn)

	if wasParent {
		p.onParentClosed()
	}

	if p.transfers != nil {
		p.transfers.HandlePeerClosed(username, ev.Handle, ev.Err)
	}
}

func (p *Processor) onPeerFrame(ev EvPeerFrame) {
	conn, ok := p.registry.BySocket(ev.Handle)
	if !ok {
		p.onPeerHandshakeFrame(ev.Handle, ev.Frame)
		return
	}

	p.dispatchPeerMessage(conn, ev.Handle, ev.Frame)
}

// dispatchPeerMessage decodes and routes a frame already attributed to
// conn, used both by the normal socket-read path and by tunnelled
// server-relayed messages reinjected without a live socket.
func (p *Processor) dispatchPeerMessage(conn *peerconn.Conn, h peerconn.SocketHandle, f *wire.Frame) {
	decoded, err := wire.Decode(f)
	if err != nil {
		p.log.Warn("failed to decode peer frame", "user", conn.Username, "error", err)
		return
	}
	if decoded.Message == nil {
		p.log.Debug("unknown peer code, dropping", "user", conn.Username)
		return
	}

	conn.RecordEvent(peerconn.EventReceived, decoded.Code, "", len(f.Payload))

	switch decoded.Message.(type) {
	case *wire.TransferRequest, *wire.TransferResponse, *wire.QueueUpload,
		*wire.PlaceInQueue, *wire.PlaceInQueueRequest, *wire.UploadFailed, *wire.QueueFailed:
		if p.transfers != nil {
			p.transfers.HandlePeerMessage(conn.Username, h, decoded.Message)
		} else {
			p.log.Debug("no transfer manager wired, dropping transfer message", "user", conn.Username)
		}

	case *wire.GetSharedFileList, *wire.UserInfoRequest:
		if !p.checkSpoofOK(conn) {
			p.log.Warn("spoof check failed, closing socket", "user", conn.Username)
			p.io.Close(h)
			return
		}
		p.log.Debug("browse/userinfo request received", "user", conn.Username)

	case *wire.BranchLevel, *wire.BranchRoot:
		p.onDistribFrame(conn, decoded.Message)

	default:
		p.log.Debug("unhandled peer message", "user", conn.Username)
	}
}

// onPeerHandshakeFrame decodes the very first frame read from a socket
// NetIO has not yet been told belongs to a registry entry: either we
// accepted an unsolicited inbound connection, or the remote side is
// piercing a firewall we requested.
func (p *Processor) onPeerHandshakeFrame(h peerconn.SocketHandle, f *wire.Frame) {
	decoded, err := wire.Decode(f)
	if err != nil {
		p.log.Warn("failed to decode handshake frame", "error", err)
		p.io.Close(h)
		return
	}

	p.mu.Lock()
	remoteAddr := p.pendingAddrs[h]
	delete(p.pendingAddrs, h)
	p.mu.Unlock()

	switch m := decoded.Message.(type) {
	case *wire.PeerInit:
		if !m.Kind.Valid() {
			p.log.Debug("invalid peer-init kind, closing", "kind", m.Kind)
			p.io.Close(h)
			return
		}
		conn, ok := p.registry.ByUserKind(m.Username, m.Kind)
		if !ok {
			conn = peerconn.NewConn(remoteAddr, m.Username, m.Kind)
			p.registry.Add(conn)
		} else if conn.Addr == "" {
			conn.Addr = remoteAddr
		}
		for _, pending := range conn.AttachSocket(h) {
			p.sendPeerFrame(h, pending)
		}

		if m.Kind == wire.KindFile {
			p.handoffFileSocket(conn, h, false)
			return
		}
		p.registry.IndexSocket(h, conn)
		p.io.ResumeReading(h)

	case *wire.PierceFireWall:
		conn, ok := p.registry.ByToken(m.Token)
		if !ok {
			p.log.Debug("pierce-firewall with unknown token, closing")
			p.io.Close(h)
			return
		}
		p.timers.Cancel(conn.ConnectTimerName)
		p.sendPeerFrame(h, wire.Encode(peerChannelFor(conn.Kind), &wire.PeerInit{Username: p.username, Kind: conn.Kind, Token: 0}))
		for _, pending := range conn.AttachSocket(h) {
			p.sendPeerFrame(h, pending)
		}

		if conn.Kind == wire.KindFile {
			p.handoffFileSocket(conn, h, false)
			return
		}
		p.registry.IndexSocket(h, conn)
		p.io.ResumeReading(h)

	default:
		p.log.Debug("unexpected first frame on peer socket, closing")
		p.io.Close(h)
	}
}
