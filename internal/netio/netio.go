// Package netio implements NetIO (spec.md §2/§5): owns all sockets,
// multiplexes reads/writes, and posts connect/frame/close/error
// notifications to a Sink. It never mutates core state directly — only
// the Sink (implemented by internal/core) decides what an event means,
// matching spec.md §5's "NetIO... never mutates core state; it posts
// events" and §9's discipline for timers/IO boundaries alike.
//
// Per-connection read/write-loop architecture (errgroup.WithContext
// running a read loop, a write loop, and a keep-alive ticker per
// connection) is grounded on the teacher's internal/peer.Peer.Run,
// generalized from one fixed BitTorrent connection role to any of the
// three SoulSeek channels.
package netio

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prxssh/rabbitsoul/internal/peerconn"
	"github.com/prxssh/rabbitsoul/internal/wire"
	"golang.org/x/sync/errgroup"
)

// Sink receives NetIO notifications. Implementations (internal/core)
// must not block for long inside these callbacks; NetIO calls them
// synchronously from per-connection goroutines.
type Sink interface {
	OnConnected(h peerconn.SocketHandle, ch wire.Channel, remoteAddr string)
	OnConnectError(h peerconn.SocketHandle, ch wire.Channel, err error)
	OnFrame(h peerconn.SocketHandle, ch wire.Channel, f *wire.Frame)
	OnClosed(h peerconn.SocketHandle, ch wire.Channel, err error)
}

// Options configures timing behavior shared by every connection NetIO
// owns.
type Options struct {
	DialTimeout       time.Duration
	KeepAliveInterval time.Duration
	OutboxBacklog     int
}

func DefaultOptions() Options {
	return Options{
		DialTimeout:       10 * time.Second,
		KeepAliveInterval: 2 * time.Minute,
		OutboxBacklog:     256,
	}
}

type connState struct {
	conn    net.Conn
	channel wire.Channel
	outbox  chan *wire.Frame
	cancel  context.CancelFunc

	// suppressRead/haltAfterFirst/resume/takeOver implement the kind-F
	// raw handoff (spec.md §4.2 "hand the file to NetIO for
	// receive/send"). A peer-channel socket whose eventual PeerInitKind
	// is not yet known (an accepted, unsolicited connection) reads
	// exactly one handshake frame and then pauses instead of looping,
	// so the decision to resume generic framed reads (kind P/D) or take
	// the raw net.Conn for a file transfer (kind F) never races against
	// a second, wrongly-interpreted read. A socket whose kind is
	// already known to be F at connect time (an outbound dial the
	// caller already knows is for a transfer) starts paused and never
	// reads a generic frame at all.
	suppressRead   atomic.Bool
	haltAfterFirst atomic.Bool
	resume         chan struct{}
	takeOver       chan struct{}
	takenOver      atomic.Bool
	stopped        chan struct{}

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

// IO is the concrete NetIO: a registry of live connections plus the
// dial/accept/send/close entry points core and the transfer manager use.
type IO struct {
	log  *slog.Logger
	opts Options
	sink Sink

	mu       sync.Mutex
	conns    map[peerconn.SocketHandle]*connState
	nextID   int64
}

func New(sink Sink, opts Options, log *slog.Logger) *IO {
	if log == nil {
		log = slog.Default()
	}
	return &IO{
		log:   log.With("component", "netio"),
		opts:  opts,
		sink:  sink,
		conns: make(map[peerconn.SocketHandle]*connState),
	}
}

func (io *IO) allocHandle() peerconn.SocketHandle {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.nextID++
	return peerconn.SocketHandle(io.nextID)
}

// Dial opens an outbound connection asynchronously. It returns
// immediately with the reserved handle; OnConnected or OnConnectError
// fires later from a background goroutine (spec.md's OutConn/ConnectError
// events). raw must be true when the caller already knows this socket
// is for a kind-F file transfer: no generic frame is ever read off it,
// and the caller must call TakeOver once its handshake write (if any)
// has been queued.
func (io *IO) Dial(ctx context.Context, addr string, ch wire.Channel, raw bool) peerconn.SocketHandle {
	h := io.allocHandle()

	go func() {
		dialCtx, cancel := context.WithTimeout(ctx, io.opts.DialTimeout)
		defer cancel()

		var d net.Dialer
		conn, err := d.DialContext(dialCtx, "tcp", addr)
		if err != nil {
			io.sink.OnConnectError(h, ch, err)
			return
		}

		cs := io.register(h, conn, ch)
		if raw {
			cs.suppressRead.Store(true)
		}
		io.sink.OnConnected(h, ch, conn.RemoteAddr().String())
		io.runLoops(h, ch)
	}()

	return h
}

// Accept registers an already-accepted inbound connection (from a
// net.Listener core drives) and starts its I/O loops. A freshly accepted
// peer-channel connection reads exactly one handshake frame and then
// pauses (see connState), since its eventual PeerInitKind is not known
// until that frame is decoded; the caller must follow up with
// ResumeReading or TakeOver.
func (io *IO) Accept(conn net.Conn, ch wire.Channel) peerconn.SocketHandle {
	h := io.allocHandle()
	cs := io.register(h, conn, ch)
	if ch == wire.ChannelPeer {
		cs.haltAfterFirst.Store(true)
	}
	io.sink.OnConnected(h, ch, conn.RemoteAddr().String())
	go io.runLoops(h, ch)
	return h
}

// Serve accepts unsolicited inbound connections on ln and hands each
// to Accept, until ctx is cancelled or the listener errors. Used for
// the peer channel's "unsolicited inbound" path (spec.md §4.1).
func (io *IO) Serve(ctx context.Context, ln net.Listener, ch wire.Channel) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return err
		}
		io.Accept(conn, ch)
	}
}

func (io *IO) register(h peerconn.SocketHandle, conn net.Conn, ch wire.Channel) *connState {
	cs := &connState{
		conn:     conn,
		channel:  ch,
		outbox:   make(chan *wire.Frame, io.opts.OutboxBacklog),
		resume:   make(chan struct{}),
		takeOver: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	io.mu.Lock()
	io.conns[h] = cs
	io.mu.Unlock()
	return cs
}

func (io *IO) runLoops(h peerconn.SocketHandle, ch wire.Channel) {
	io.mu.Lock()
	cs, ok := io.conns[h]
	io.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	cs.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return io.readLoop(gctx, h, cs) })
	g.Go(func() error { return io.writeLoop(gctx, h, cs) })

	err := g.Wait()

	io.mu.Lock()
	delete(io.conns, h)
	io.mu.Unlock()

	if cs.takenOver.Load() {
		close(cs.stopped)
		return
	}

	_ = cs.conn.Close()
	io.sink.OnClosed(h, ch, err)
}

func (io *IO) readLoop(ctx context.Context, h peerconn.SocketHandle, cs *connState) error {
	l := io.log.With("handle", h, "channel", cs.channel, "loop", "read")

	for {
		if cs.suppressRead.Load() {
			select {
			case <-ctx.Done():
				return nil
			case <-cs.resume:
				cs.suppressRead.Store(false)
				continue
			case <-cs.takeOver:
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}

		f, err := wire.ReadFrame(cs.conn, cs.channel)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.Debug("read failed", "error", err)
			return err
		}

		cs.bytesRead.Add(uint64(4 + len(f.Payload)))
		io.sink.OnFrame(h, cs.channel, f)

		if cs.haltAfterFirst.Load() {
			cs.haltAfterFirst.Store(false)
			cs.suppressRead.Store(true)
		}
	}
}

func (io *IO) writeLoop(ctx context.Context, h peerconn.SocketHandle, cs *connState) error {
	l := io.log.With("handle", h, "channel", cs.channel, "loop", "write")

	interval := io.opts.KeepAliveInterval
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case f, ok := <-cs.outbox:
			if !ok {
				return nil
			}
			if err := wire.WriteFrame(cs.conn, f); err != nil {
				l.Debug("write failed", "error", err)
				return err
			}
			cs.bytesWritten.Add(uint64(4 + len(f.Payload)))

		case <-ticker.C:
			// Keep-alive: SoulSeek has no dedicated keep-alive frame on
			// these channels, so this tick only exists to notice a
			// half-open socket on the next write attempt; nothing is
			// sent.
		}
	}
}

// Send enqueues f for delivery on h's outbox, preserving FIFO order
// relative to other Sends on the same handle (spec.md §5 ordering
// guarantee). Returns an error if h is unknown or its outbox is full.
func (io *IO) Send(h peerconn.SocketHandle, f *wire.Frame) error {
	io.mu.Lock()
	cs, ok := io.conns[h]
	io.mu.Unlock()
	if !ok {
		return errUnknownHandle
	}

	select {
	case cs.outbox <- f:
		return nil
	default:
		return errOutboxFull
	}
}

// ResumeReading un-pauses a peer-channel socket that paused after its
// one handshake frame (see Accept), telling it to resume normal
// continuous framed reads. Use for kind P/D once the handshake frame has
// identified the connection; use TakeOver instead for kind F.
func (io *IO) ResumeReading(h peerconn.SocketHandle) {
	io.mu.Lock()
	cs, ok := io.conns[h]
	io.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-cs.resume:
	default:
		close(cs.resume)
	}
}

// TakeOver stops h's generic framed read/write loops without closing the
// underlying socket and hands the raw net.Conn to the caller for
// exclusive byte-level use (spec.md §4.2's file-request handshake: "hand
// the file to NetIO for receive/send"). The caller owns conn entirely
// from this point on, including closing it; NetIO no longer tracks h and
// posts no further events for it. Blocks until any already-queued
// outbound frame on h (e.g. the handshake PeerInit/PierceFireWall write)
// has been flushed.
func (io *IO) TakeOver(h peerconn.SocketHandle) (net.Conn, bool) {
	io.mu.Lock()
	cs, ok := io.conns[h]
	if ok {
		delete(io.conns, h)
	}
	io.mu.Unlock()
	if !ok {
		return nil, false
	}

	cs.takenOver.Store(true)
	close(cs.outbox)
	select {
	case <-cs.takeOver:
	default:
		close(cs.takeOver)
	}
	<-cs.stopped

	return cs.conn, true
}

// Close tears down h's connection, which unwinds its read/write loops
// and triggers OnClosed.
func (io *IO) Close(h peerconn.SocketHandle) {
	io.mu.Lock()
	cs, ok := io.conns[h]
	io.mu.Unlock()
	if !ok {
		return
	}
	if cs.cancel != nil {
		cs.cancel()
	}
	_ = cs.conn.Close()
}

func (io *IO) BytesCounters(h peerconn.SocketHandle) (read, written uint64, ok bool) {
	io.mu.Lock()
	cs, present := io.conns[h]
	io.mu.Unlock()
	if !present {
		return 0, 0, false
	}
	return cs.bytesRead.Load(), cs.bytesWritten.Load(), true
}

var (
	errUnknownHandle = errors.New("netio: unknown handle")
	errOutboxFull    = errors.New("netio: outbox full")
)
