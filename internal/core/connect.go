package core

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prxssh/rabbitsoul/internal/config"
	"github.com/prxssh/rabbitsoul/internal/peerconn"
	"github.com/prxssh/rabbitsoul/internal/wire"
)

const connectTimerPrefix = "connect:"
const connectTimeout = 120 * time.Second
const maxAddrRetries = 10

func connectTimerName(user string, kind wire.PeerInitKind) string {
	return connectTimerPrefix + user + ":" + kind.String()
}

func isConnectTimerName(name string) bool {
	return strings.HasPrefix(name, connectTimerPrefix)
}

func connectTimerTarget(name string) (string, wire.PeerInitKind) {
	rest := strings.TrimPrefix(name, connectTimerPrefix)
	idx := strings.LastIndex(rest, ":")
	if idx < 0 {
		return rest, wire.KindPeer
	}
	user, kindStr := rest[:idx], rest[idx+1:]
	var kind wire.PeerInitKind
	if len(kindStr) == 1 {
		kind = wire.PeerInitKind(kindStr[0])
	}
	return user, kind
}

func peerChannelFor(kind wire.PeerInitKind) wire.Channel {
	if kind == wire.KindDistributed {
		return wire.ChannelDistributed
	}
	return wire.ChannelPeer
}

func ipToString(ip uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}

// RequestToPeer is the public entry point for process_request_to_peer
// (spec.md §4.1): used directly by core (e.g. parent-peer dialing) and
// indirectly by the transfer manager via EvProcessRequestToPeer so the
// resolve/connect state machine always runs on the single event-loop
// goroutine.
func (p *Processor) RequestToPeer(user string, msg wire.Message) {
	p.Post(EvProcessRequestToPeer{User: user, Message: PendingMessage{Kind: classifyKind(msg), Msg: msg}})
}

// RequestFileConn establishes (directly or indirectly) a kind-F socket
// for user and, once its handshake completes, hands the raw connection
// to the transfer manager (spec.md §4.2). Unlike RequestToPeer, no
// framed message is queued on it: kind-F sockets never carry framed
// peer-channel messages, only the raw token/offset/file-byte stream the
// transfer manager drives directly.
func (p *Processor) RequestFileConn(user string) {
	p.Post(EvProcessRequestToPeer{User: user, Message: PendingMessage{Kind: wire.KindFile}})
}

func (p *Processor) processRequestToPeer(user string, pm PendingMessage, presetAddr string) {
	p.watchUser(user)

	var frame *wire.Frame
	if pm.Msg != nil {
		frame = wire.Encode(peerChannelFor(pm.Kind), pm.Msg)
	}

	if conn, ok := p.registry.ByUserKind(user, pm.Kind); ok {
		if h, hasSocket := conn.Socket(); hasSocket {
			if frame != nil {
				p.sendPeerFrame(h, frame)
			}
			return
		}
		if frame != nil {
			conn.AppendPending(frame)
		}
		return
	}

	conn := peerconn.NewConn(presetAddr, user, pm.Kind)
	conn.ConnectTimerName = connectTimerName(user, pm.Kind)
	p.registry.Add(conn)
	if frame != nil {
		conn.AppendPending(frame)
	}

	p.resolveAndConnect(conn)
}

func (p *Processor) resolveAndConnect(conn *peerconn.Conn) {
	cfg := config.Load()

	// Only a firewalled client needs the peer's address before it can
	// even attempt a direct connect; otherwise it mints a token and
	// asks the server to relay ConnectToPeer immediately (spec.md §4.1
	// step 3).
	if !cfg.Firewalled {
		p.connectIndirect(conn)
		return
	}

	ua := p.addrBook.getOrCreate(conn.Username)

	if !ua.HasAddr {
		if p.addrBook.requestOnce(conn.Username) {
			p.sendServer(&wire.GetPeerAddress{Username: conn.Username})
		}
		return
	}

	p.beginConnect(conn, ua)
}

func (p *Processor) beginConnect(conn *peerconn.Conn, ua *UserAddr) {
	cfg := config.Load()

	if cfg.Firewalled && ua.BehindFirewall == TriUnknown {
		p.connectDirect(conn, ua)
		return
	}
	p.connectIndirect(conn)
}

func (p *Processor) connectDirect(conn *peerconn.Conn, ua *UserAddr) {
	addr := net.JoinHostPort(ipToString(ua.IP), strconv.FormatUint(uint64(ua.Port), 10))
	conn.Addr = addr

	h := p.io.Dial(context.Background(), addr, peerChannelFor(conn.Kind), conn.Kind == wire.KindFile)
	p.registry.IndexSocket(h, conn)
}

var tokenCounter atomic.Uint32

func mintToken() uint32 {
	return tokenCounter.Add(1)
}

func (p *Processor) connectIndirect(conn *peerconn.Conn) {
	token := mintToken()
	conn.SetToken(token)
	p.registry.IndexToken(token, conn)

	p.sendServer(&wire.ConnectToPeer{Token: token, Username: conn.Username, Kind: conn.Kind.String()})
	p.timers.Arm(conn.ConnectTimerName, connectTimeout)
}

func (p *Processor) onGetPeerAddressReply(m *wire.GetPeerAddressReply) {
	ua := p.addrBook.getOrCreate(m.Username)
	ua.IP = m.IP
	ua.Port = m.Port
	p.addrBook.clearRequested(m.Username)

	for _, kind := range []wire.PeerInitKind{wire.KindPeer, wire.KindFile, wire.KindDistributed} {
		conn, ok := p.registry.ByUserKind(m.Username, kind)
		if !ok || conn.HasSocket() {
			continue
		}
		if _, hasToken := conn.Token(); hasToken {
			continue
		}

		if m.Port == 0 {
			conn.AddrRetryCount++
			if conn.AddrRetryCount < maxAddrRetries {
				if p.addrBook.requestOnce(m.Username) {
					p.sendServer(&wire.GetPeerAddress{Username: m.Username})
				}
				continue
			}
			// Port-0 giveup (spec.md §8 scenario 6): accept the
			// address as final and proceed to connect anyway.
			p.log.Warn("giving up on address retry, proceeding with port 0", "user", m.Username)
		}

		ua.HasAddr = true
		p.beginConnect(conn, ua)
	}
}

// onConnectToPeerInbound handles the server relaying our own
// ConnectToPeer request to the target, or relaying someone else's
// reverse-connect request to us. Only the latter matters here: someone
// asking us to dial them back is not a pattern this client-side core
// initiates, so this mirrors the teacher's read of "ConnectToPeer" as
// informational unless we are the target being told to pierce.
func (p *Processor) onConnectToPeerInbound(m *wire.ConnectToPeerInbound) {
	kind := wire.PeerInitKind(0)
	if len(m.Kind) == 1 {
		kind = wire.PeerInitKind(m.Kind[0])
	}
	if !kind.Valid() {
		p.log.Debug("dropping ConnectToPeer with unrecognized kind", "kind", m.Kind)
		return
	}

	p.watchUser(m.Username)

	addr := net.JoinHostPort(ipToString(m.IP), strconv.FormatUint(uint64(m.Port), 10))
	h := p.io.Dial(context.Background(), addr, peerChannelFor(kind), kind == wire.KindFile)

	conn := peerconn.NewConn(addr, m.Username, kind)
	conn.SetToken(m.Token)
	p.registry.Add(conn)
	p.registry.IndexSocket(h, conn)
	p.registry.IndexToken(m.Token, conn)
}

func (p *Processor) onConnectTimeout(user string, kind wire.PeerInitKind) {
	conn, ok := p.registry.ByUserKind(user, kind)
	if !ok {
		return
	}
	p.cantConnectFinal(conn)
}

// cantConnectFinal tears down a PeerConn that has exhausted both direct
// and indirect connect attempts (spec.md §4.1 "direct failure handling").
func (p *Processor) cantConnectFinal(conn *peerconn.Conn) {
	if token, ok := conn.Token(); ok {
		p.sendServer(&wire.CantConnectToPeer{Token: token, Username: conn.Username})
	}
	p.timers.Cancel(conn.ConnectTimerName)
	p.registry.Remove(conn)

	if p.transfers != nil {
		p.transfers.HandlePeerClosed(conn.Username, peerconn.NoSocket, errCantConnect)
	}
}

var errCantConnect = fmt.Errorf("core: could not establish peer connection")

func (p *Processor) sendPeerFrame(h peerconn.SocketHandle, f *wire.Frame) {
	if err := p.io.Send(h, f); err != nil {
		p.log.Warn("failed to send peer frame", "handle", h, "error", err)
	}
}
