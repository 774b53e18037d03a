// Package peerconn implements PeerConnRegistry (spec.md §2/§3/§9): the
// set of in-flight and established peer connections, indexed by socket
// handle, by (user,kind), and by reverse-connect token, matching spec.md
// §9's "registry by tag, not by reference" design note (three maps
// behind one mutex; lookups by any of the three keys are map hits, not
// linear scans). Architecture is grounded on the
// teacher's peer.Swarm (connection map + dialer pool + idle reaper),
// generalized from "one peer role" to the three SoulSeek kinds P/F/D.
package peerconn

import (
	"fmt"
	"sync"
	"time"

	"github.com/prxssh/rabbitsoul/internal/wire"
)

// SocketHandle is an opaque identifier NetIO assigns to a live socket.
// NoSocket (-1) means "no socket yet".
type SocketHandle int64

const NoSocket SocketHandle = -1

// Conn is one PeerConn (spec.md §3). Exactly one of socket/token is in
// the "connect in progress" phase at a time; see Registry for the
// state transitions that preserve that invariant.
type Conn struct {
	mu sync.Mutex

	Addr     string
	Username string
	Kind     wire.PeerInitKind

	socket    SocketHandle
	hasSocket bool

	pendingMsgs []*wire.Frame

	token    uint32
	hasToken bool

	InitFrame *wire.PeerInit

	// ConnectTimerName is the name this Conn's 120s indirect-connect
	// timer (spec.md §4.1) is armed under in an internal/timer.Manager.
	// It is set when process_request_to_peer creates the Conn, whether
	// or not the timer is currently armed, and is empty for Conns
	// created elsewhere.
	ConnectTimerName string

	// AddrRetryCount counts GetPeerAddress replies with port 0 (spec.md
	// §4.1 "port-0 address retry", giving up at 10).
	AddrRetryCount int

	CreatedAt time.Time

	history *historyBuffer
}

// NewConn creates a fresh PeerConn with no socket and no token, matching
// the state right after process_request_to_peer decides to create one
// (spec.md §4.1 step 4).
func NewConn(addr, username string, kind wire.PeerInitKind) *Conn {
	return &Conn{
		Addr:      addr,
		Username:  username,
		Kind:      kind,
		socket:    NoSocket,
		hasSocket: false,
		CreatedAt: time.Now(),
		history:   newHistoryBuffer(64),
	}
}

func (c *Conn) HasSocket() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasSocket
}

func (c *Conn) Socket() (SocketHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socket, c.hasSocket
}

func (c *Conn) Token() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, c.hasToken
}

// SetToken mints/records the reverse-connect token, transitioning the
// Conn to "indirect-connect requested" (spec.md §3).
func (c *Conn) SetToken(token uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.hasToken = true
}

// AppendPending queues an outbound frame for delivery once the socket
// is live (spec.md §3 "pendingMsgs: ordered list of outbound messages
// queued before the socket is ready").
func (c *Conn) AppendPending(frame *wire.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingMsgs = append(c.pendingMsgs, frame)
}

// AttachSocket transitions socket from none to live and drains
// pendingMsgs in order, enforcing spec.md §3's invariant that
// pendingMsgs=∅ whenever socket≠none. The caller is responsible for
// actually writing the returned frames to the socket, in order, before
// any further message destined for this Conn.
func (c *Conn) AttachSocket(h SocketHandle) []*wire.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.socket = h
	c.hasSocket = true

	drained := c.pendingMsgs
	c.pendingMsgs = nil
	return drained
}

func (c *Conn) RecordEvent(direction string, code uint32, name string, payloadSize int) {
	c.history.add(HistoryEvent{
		Timestamp:   time.Now(),
		Direction:   direction,
		Code:        code,
		MessageName: name,
		PayloadSize: payloadSize,
	})
}

func (c *Conn) RecentHistory(n int) ([]HistoryEvent, error) {
	return c.history.recent(n)
}

// key identifies a Conn by (user,kind) — the second of the registry's
// three indices (spec.md §9).
type key struct {
	user string
	kind wire.PeerInitKind
}

// Registry is the PeerConnRegistry: three maps behind one mutex indexing
// the same set of live Conns by socket handle, by (user,kind), and by
// token.
type Registry struct {
	mu sync.Mutex

	bySocket map[SocketHandle]*Conn
	byUser   map[key]*Conn
	byToken  map[uint32]*Conn
}

func NewRegistry() *Registry {
	return &Registry{
		bySocket: make(map[SocketHandle]*Conn),
		byUser:   make(map[key]*Conn),
		byToken:  make(map[uint32]*Conn),
	}
}

// Add registers a freshly created Conn under its (user,kind) index.
// Socket and token indices are populated later via IndexSocket/IndexToken
// as those values become known.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[key{c.Username, c.Kind}] = c
}

func (r *Registry) IndexSocket(h SocketHandle, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySocket[h] = c
}

func (r *Registry) IndexToken(token uint32, c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byToken[token] = c
}

func (r *Registry) BySocket(h SocketHandle) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.bySocket[h]
	return c, ok
}

func (r *Registry) ByUserKind(user string, kind wire.PeerInitKind) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byUser[key{user, kind}]
	return c, ok
}

func (r *Registry) ByToken(token uint32) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byToken[token]
	return c, ok
}

// Remove drops c from all three indices. Called on successful close,
// explicit CantConnect, timeout, or replacement (spec.md §3).
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byUser, key{c.Username, c.Kind})

	// A handle can be indexed before (or without) AttachSocket, e.g. a
	// direct dial that failed, so drop every handle that points at c.
	for h, sc := range r.bySocket {
		if sc == c {
			delete(r.bySocket, h)
		}
	}
	if t, ok := c.Token(); ok {
		delete(r.byToken, t)
	}
}

// Len reports the number of live registry entries, mainly for tests and
// diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}

// DistributedConns returns every kind=D Conn currently registered, used
// by core's parent-peer election (spec.md §4.1) which is explicitly
// allowed to linear-scan the small distributed-peer set (spec.md §9).
func (r *Registry) DistributedConns() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Conn, 0)
	for k, c := range r.byUser {
		if k.kind == wire.KindDistributed {
			out = append(out, c)
		}
	}
	return out
}

func (k key) String() string {
	return fmt.Sprintf("%s/%c", k.user, k.kind)
}
