package core

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prxssh/rabbitsoul/internal/eventqueue"
	"github.com/prxssh/rabbitsoul/internal/geoip"
	"github.com/prxssh/rabbitsoul/internal/netio"
	"github.com/prxssh/rabbitsoul/internal/peerconn"
	"github.com/prxssh/rabbitsoul/internal/timer"
	"github.com/prxssh/rabbitsoul/internal/userlist"
	"github.com/prxssh/rabbitsoul/internal/wire"
)

// TransferSink is the seam the transfer manager plugs into: peer-channel
// messages relevant to transfers (spec.md §4.2) are forwarded here
// instead of the processor knowing anything about Transfer state,
// matching spec.md §9's "presence-gated collaborators" note generalized
// from UI singletons to the transfer manager itself.
type TransferSink interface {
	HandlePeerMessage(user string, handle peerconn.SocketHandle, msg wire.Message)
	HandlePeerClosed(user string, handle peerconn.SocketHandle, err error)
	// HandleFileConn delivers a kind-F socket that has completed its
	// PeerInit/PierceFireWall handshake and been taken over from
	// NetIO's generic framed loops (spec.md §4.2's file-request
	// handshake). weDialed reports whether this side initiated the TCP
	// connection, so the manager knows which end writes the transfer
	// token first.
	HandleFileConn(user string, conn net.Conn, weDialed bool)
	AbortAll()
	// OnServerSessionEstablished fires once Login succeeds, so the
	// transfer manager can load its persisted queue and start its
	// watchdog without knowing anything about the server handshake.
	OnServerSessionEstablished()
}

const serverTimerName = "server-reconnect"

// Processor is the EventProcessor: single-threaded with respect to its
// own state (spec.md §4.1), consuming events serially off queue.
type Processor struct {
	log *slog.Logger

	queue *eventqueue.Queue[Event]
	io    *netio.IO
	timers *timer.Manager

	lists *userlist.Lists
	geo   geoip.Lookup

	mu sync.Mutex

	registry *peerconn.Registry
	addrBook *userAddrBook

	// pendingAddrs remembers the observed remote address of an inbound
	// socket until its first frame (PeerInit/PierceFireWall) identifies
	// which PeerConn it belongs to, so check_spoof has something to
	// compare against (spec.md §8 scenario 5).
	pendingAddrs map[peerconn.SocketHandle]string

	watchedUsers    map[string]struct{}
	privilegedUsers map[string]struct{}

	serverAddr       string
	serverHandle     peerconn.SocketHandle
	hasServerHandle  bool
	loggedIn         bool
	manualDisconnect bool
	reconnectDelay   time.Duration

	username    string
	credentials credentials

	hasParent  bool
	parentConn *peerconn.Conn

	listenPort uint32

	transfers TransferSink
}

func New(log *slog.Logger, lists *userlist.Lists, geo geoip.Lookup) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if geo == nil {
		geo = geoip.NoOp{}
	}

	p := &Processor{
		log:            log.With("component", "core"),
		queue:          eventqueue.New[Event](1024),
		registry:       peerconn.NewRegistry(),
		addrBook:       newUserAddrBook(),
		watchedUsers:    make(map[string]struct{}),
		privilegedUsers: make(map[string]struct{}),
		pendingAddrs:    make(map[peerconn.SocketHandle]string),
		lists:          lists,
		geo:            geo,
		reconnectDelay: 15 * time.Second,
		serverHandle:   peerconn.NoSocket,
	}
	p.timers = timer.NewManager(func(name string) {
		p.queue.TryPush(EvTimerFired{Name: name})
	})
	return p
}

// SetNetIO wires the NetIO instance this processor drives. Must be
// called once before Run.
func (p *Processor) SetNetIO(io *netio.IO) { p.io = io }

// SetTransferSink wires the transfer manager. Optional: if absent,
// transfer-shaped peer messages are logged and dropped (spec.md §9
// "tolerate each being absent and downgrade to logging").
func (p *Processor) SetTransferSink(t TransferSink) { p.transfers = t }

// Post enqueues an event for processing on the next loop iteration.
// Safe to call from any goroutine (NetIO callbacks, timers, the
// transfer manager's background loops).
func (p *Processor) Post(e Event) { _ = p.queue.Push(context.Background(), e) }

// Run is the single-threaded cooperative event loop (spec.md §5),
// grounded on the teacher's scheduler.PieceScheduler.Run select-loop
// shape.
func (p *Processor) Run(ctx context.Context) error {
	p.log.Debug("event loop starting")

	for {
		select {
		case <-ctx.Done():
			p.log.Debug("event loop stopping", "reason", ctx.Err())
			return ctx.Err()

		case e := <-p.queue.Chan():
			p.handle(e)
		}
	}
}

func (p *Processor) handle(e Event) {
	switch ev := e.(type) {
	case EvConnectToServer:
		p.onConnectToServer()
	case EvServerConnected:
		p.onServerConnected(ev)
	case EvServerConnectError:
		p.onServerConnectError(ev)
	case EvServerFrame:
		p.onServerFrame(ev)
	case EvServerClosed:
		p.onServerClosed(ev)
	case EvPeerConnected:
		p.onPeerConnected(ev)
	case EvPeerConnectError:
		p.onPeerConnectError(ev)
	case EvPeerFrame:
		p.onPeerFrame(ev)
	case EvPeerClosed:
		p.onPeerClosed(ev)
	case EvTimerFired:
		p.onTimerFired(ev)
	case EvProcessRequestToPeer:
		p.processRequestToPeer(ev.User, ev.Message, "")
	default:
		p.log.Warn("unknown event type", "event", e)
	}
}

// Login starts the server session: dial, then Login()/SetWaitPort()
// once connected (spec.md §4.1 "Server session").
func (p *Processor) Login(username, password, serverAddr string) {
	p.mu.Lock()
	p.username = username
	p.serverAddr = serverAddr
	p.manualDisconnect = false
	p.mu.Unlock()

	p.credentials = credentials{username: username, password: password}
	p.onConnectToServer()
}

type credentials struct {
	username string
	password string
}

func (p *Processor) onConnectToServer() {
	p.log.Debug("dialing server", "addr", p.serverAddr)
	handle := p.io.Dial(context.Background(), p.serverAddr, wire.ChannelServer, false)

	p.mu.Lock()
	p.serverHandle = handle
	p.hasServerHandle = true
	p.mu.Unlock()
}

func (p *Processor) onServerConnected(ev EvServerConnected) {
	p.log.Info("server connected", "addr", ev.RemoteAddr)
	p.timers.Cancel(serverTimerName)

	p.sendServer(&wire.Login{
		Username:     p.credentials.username,
		Password:     p.credentials.password,
		Version:      157,
		MinorVersion: 19,
	})
}

func (p *Processor) onServerConnectError(ev EvServerConnectError) {
	p.log.Warn("server connect failed", "error", ev.Err)
	p.scheduleReconnect()
}

func (p *Processor) onServerClosed(ev EvServerClosed) {
	p.log.Warn("server connection closed", "error", ev.Err)

	p.mu.Lock()
	p.loggedIn = false
	p.hasServerHandle = false
	manual := p.manualDisconnect
	p.mu.Unlock()

	p.abortTransfers()

	if !manual {
		p.scheduleReconnect()
	}
}

// scheduleReconnect arms the doubling 15s→600s backoff (spec.md §4.1/§8).
func (p *Processor) scheduleReconnect() {
	p.mu.Lock()
	if p.manualDisconnect {
		p.mu.Unlock()
		return
	}
	delay := p.reconnectDelay
	next := delay * 2
	if next > 600*time.Second {
		next = 600 * time.Second
	}
	p.reconnectDelay = next
	p.mu.Unlock()

	p.log.Debug("scheduling reconnect", "delay", delay)
	p.timers.Arm(serverTimerName, delay)
}

func (p *Processor) resetReconnectBackoff() {
	p.mu.Lock()
	p.reconnectDelay = 15 * time.Second
	p.mu.Unlock()
}

func (p *Processor) onTimerFired(ev EvTimerFired) {
	switch {
	case ev.Name == serverTimerName:
		p.onConnectToServer()
	case isConnectTimerName(ev.Name):
		user, kind := connectTimerTarget(ev.Name)
		p.onConnectTimeout(user, kind)
	}
}

func (p *Processor) sendServer(m wire.Message) {
	p.mu.Lock()
	h, ok := p.serverHandle, p.hasServerHandle
	p.mu.Unlock()
	if !ok {
		p.log.Warn("dropping outbound server message: no server connection", "code", m.Code())
		return
	}
	if err := p.io.Send(h, wire.Encode(wire.ChannelServer, m)); err != nil {
		p.log.Warn("failed to send server message", "error", err)
	}
}

// abortTransfers cancels all timers and hands off to the transfer
// manager on server disconnect (spec.md §5 abort_transfers).
func (p *Processor) abortTransfers() {
	p.timers.CancelAll()
	p.watchedUsers = make(map[string]struct{})

	if p.transfers != nil {
		p.transfers.AbortAll()
	}
}

// Disconnect requests a manual, non-reconnecting disconnect (spec.md
// §4.1 "manual disconnect suppresses one cycle" / §7 "Relogged notice").
func (p *Processor) Disconnect() {
	p.mu.Lock()
	p.manualDisconnect = true
	h, ok := p.serverHandle, p.hasServerHandle
	p.mu.Unlock()

	if ok {
		p.io.Close(h)
	}
}
