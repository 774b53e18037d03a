package transfer

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/prxssh/rabbitsoul/internal/config"
	"github.com/prxssh/rabbitsoul/internal/peerconn"
	"github.com/prxssh/rabbitsoul/internal/shares"
	"github.com/prxssh/rabbitsoul/internal/timer"
	"github.com/prxssh/rabbitsoul/internal/userlist"
	"github.com/prxssh/rabbitsoul/internal/wire"
)

// Core is the seam back into the event processor Manager needs: posting
// peer-channel messages and kind-F connection requests through the same
// process_request_to_peer logic core itself uses (spec.md §2
// "TransferManager emits outbound messages through EventProcessor"), plus
// the policy checks check_user/ip_ignored guard a transfer request with.
type Core interface {
	RequestToPeer(user string, msg wire.Message)
	RequestFileConn(user string)
	CheckUser(user, addr string) (tier int, reason string)
	IPIgnored(addr string) bool
}

// Manager is the TransferManager (spec.md §2/§4.2): it implements
// core.TransferSink and owns every Transfer's lifecycle. Unlike the
// EventProcessor it plugs into, Manager is fed from three independent
// sources — core's single event-loop goroutine (via the TransferSink
// methods), its own watchdog timer, and the per-transfer raw-copy
// goroutines started once a kind-F socket is handed off — so, like the
// teacher's peer.Registry, it protects its state with a plain mutex
// rather than funnelling everything through one more channel.
type Manager struct {
	log    *slog.Logger
	core   Core
	shares shares.DB
	lists  *userlist.Lists

	timers *timer.Manager

	mu sync.Mutex

	// downloads/uploads are keyed by (user, virtual filename): spec.md
	// §3 treats a download and an upload of the same filename/user pair
	// as distinct Transfers, so they live in separate maps instead of
	// one keyed by the full key{} tuple.
	downloads map[dlKey]*Transfer
	uploads   map[dlKey]*Transfer

	// byReq indexes in-flight negotiations (TransferRequest sent, no
	// TransferResponse yet, or vice versa) by the Req id carried on the
	// wire, since that's the only thing a TransferResponse/UploadFailed/
	// QueueFailed frame correlates against.
	byReq map[uint32]*Transfer

	// awaitingFileConn indexes a transfer by username while it has
	// asked core for a kind-F socket and not yet received one, working
	// around the registry's one-F-connection-per-user limitation
	// (see DESIGN.md) by construction: Manager never has two entries
	// in this map for the same user at once.
	awaitingFileConn map[string]*Transfer

	uploadQueue *uploadScheduler
	bw          *bandwidth

	// requestedUploadQueue is requested_upload_queue (spec.md §4.2):
	// usernames who sent an UploadQueueNotification while
	// can_upload(user) held, making them eligible to have an
	// unsolicited TransferRequest accepted as Queued instead of
	// Cancelled (see onIncomingDownloadOffer).
	requestedUploadQueue map[string]bool

	reqCounter atomic.Uint32

	queuePath string
}

// dlKey identifies a Transfer within one direction's map.
type dlKey struct {
	user     string
	filename string
}

// New builds a Manager. queuePath is the TOML file the download queue is
// persisted to (spec.md §6); pass "" to disable persistence (tests).
func New(log *slog.Logger, core Core, db shares.DB, lists *userlist.Lists, queuePath string) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		log:              log.With("component", "transfer"),
		core:             core,
		shares:           db,
		lists:            lists,
		downloads:        make(map[dlKey]*Transfer),
		uploads:          make(map[dlKey]*Transfer),
		byReq:            make(map[uint32]*Transfer),
		awaitingFileConn: make(map[string]*Transfer),
		requestedUploadQueue: make(map[string]bool),
		queuePath:        queuePath,
	}
	m.uploadQueue = newUploadScheduler()
	m.bw = newBandwidth()
	m.timers = timer.NewManager(m.onTimerFired)
	return m
}

func (m *Manager) mintReq() uint32 { return m.reqCounter.Add(1) }

const watchdogTimerName = "transfer-watchdog"

func (m *Manager) onTimerFired(name string) {
	if name == watchdogTimerName {
		m.runWatchdog()
		return
	}
}

// OnServerSessionEstablished implements core.TransferSink: loads the
// persisted queue and arms the 60s watchdog (spec.md §4.2/§6).
func (m *Manager) OnServerSessionEstablished() {
	m.loadQueue()
	m.timers.Arm(watchdogTimerName, config.WatchdogInterval)
}

// HandlePeerMessage implements core.TransferSink, routing each of the
// eight transfer-negotiation message types to its handler.
func (m *Manager) HandlePeerMessage(user string, handle peerconn.SocketHandle, msg wire.Message) {
	switch mm := msg.(type) {
	case *wire.TransferRequest:
		m.onTransferRequest(user, mm)
	case *wire.TransferResponse:
		m.onTransferResponse(user, mm)
	case *wire.QueueUpload:
		m.onQueueUpload(user, mm)
	case *wire.PlaceInQueue:
		m.onPlaceInQueue(user, mm)
	case *wire.PlaceInQueueRequest:
		m.onPlaceInQueueRequest(user, mm)
	case *wire.UploadFailed:
		m.onUploadFailed(user, mm)
	case *wire.QueueFailed:
		m.onQueueFailed(user, mm)
	case *wire.UploadQueueNotification:
		m.onUploadQueueNotification(user)
	default:
		m.log.Debug("unhandled transfer message", "user", user)
	}
}

// HandlePeerClosed implements core.TransferSink: a P-channel socket to
// user closed (or never connected) while a negotiation was in flight.
func (m *Manager) HandlePeerClosed(user string, handle peerconn.SocketHandle, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reason := StatusConnClosedByPeer
	if err != nil {
		reason = StatusCannotConnect
	}

	for _, t := range m.allForUserLocked(user) {
		if Terminal(t.Status) || t.Status == StatusTransferring {
			continue
		}
		m.failLocked(t, reason)
	}
}

// HandleFileConn implements core.TransferSink: a kind-F socket has
// completed its handshake and been handed off from NetIO.
func (m *Manager) HandleFileConn(user string, conn net.Conn, weDialed bool) {
	m.mu.Lock()
	t, ok := m.awaitingFileConn[user]
	if ok {
		delete(m.awaitingFileConn, user)
	}
	m.mu.Unlock()

	if !ok {
		m.log.Warn("file connection with no awaiting transfer, closing", "user", user)
		_ = conn.Close()
		return
	}

	go m.runFileHandshake(t, conn, weDialed)
}

// AbortAll implements core.TransferSink (spec.md §5 abort_transfers):
// every transfer not already terminal is demoted and its socket/file
// torn down; downloads fall back to Getting status so the next
// session's watchdog retries them, and uploads become Cancelled.
func (m *Manager) AbortAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.downloads {
		m.abortOneLocked(t)
	}
	for _, t := range m.uploads {
		m.abortOneLocked(t)
	}
	m.timers.CancelAll()
	m.saveQueueLocked()
}

func (m *Manager) abortOneLocked(t *Transfer) {
	if Terminal(t.Status) {
		return
	}
	t.closeLocked()
	if t.Direction == Download {
		t.setStatus(StatusGettingStatus)
	} else {
		t.setStatus(StatusCancelled)
	}
}

func (t *Transfer) closeLocked() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
	}
	if t.abortCopy != nil {
		t.abortCopy()
		t.abortCopy = nil
	}
}

func (m *Manager) allForUserLocked(user string) []*Transfer {
	out := make([]*Transfer, 0, 2)
	for k, t := range m.downloads {
		if k.user == user {
			out = append(out, t)
		}
	}
	for k, t := range m.uploads {
		if k.user == user {
			out = append(out, t)
		}
	}
	return out
}

// failLocked demotes t to status and tears down any live resources,
// called with m.mu held.
func (m *Manager) failLocked(t *Transfer, status Status) {
	t.closeLocked()
	m.forgetReqLocked(t)
	t.setStatus(status)
}

func (m *Manager) forgetReqLocked(t *Transfer) {
	if t.Req != 0 {
		if cur, ok := m.byReq[t.Req]; ok && cur == t {
			delete(m.byReq, t.Req)
		}
	}
}

// Transfers returns a snapshot of every known transfer, for UI/CLI
// listing. Order is unspecified.
func (m *Manager) Transfers() []*Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Transfer, 0, len(m.downloads)+len(m.uploads))
	for _, t := range m.downloads {
		out = append(out, t)
	}
	for _, t := range m.uploads {
		out = append(out, t)
	}
	return out
}

func (m *Manager) errNotFound(user, filename string) error {
	return fmt.Errorf("transfer: no transfer for %s from %s", filename, user)
}
