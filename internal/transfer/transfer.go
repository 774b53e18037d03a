// Package transfer implements the TransferManager (spec.md §4.2): queues,
// negotiates, and executes concurrent uploads and downloads with per-user
// fairness, privileged-user prioritisation, rate limiting, and recovery
// from partial failure. It plugs into internal/core as a core.TransferSink
// and calls back into a *core.Processor to reuse the same peer-connection
// setup logic (process_request_to_peer) for its own socket needs, per
// spec.md §2's "TransferManager emits outbound messages through
// EventProcessor".
package transfer

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Status is spec.md §3's Transfer status enum.
type Status string

const (
	StatusQueued              Status = "Queued"
	StatusGettingStatus        Status = "Getting status"
	StatusGettingAddress       Status = "Getting address"
	StatusConnecting           Status = "Connecting"
	StatusWaitingForPeer       Status = "Waiting for peer to connect"
	StatusWaitingForDownload   Status = "Waiting for download"
	StatusWaitingForUpload     Status = "Waiting for upload"
	StatusRequestingFile       Status = "Requesting file"
	StatusInitializingTransfer Status = "Initializing transfer"
	StatusEstablishingConn     Status = "Establishing connection"
	StatusTransferring         Status = "Transferring"
	StatusFinished             Status = "Finished"
	StatusAborted              Status = "Aborted"
	StatusPaused               Status = "Paused"
	StatusFiltered             Status = "Filtered"
	StatusCancelled            Status = "Cancelled"
	StatusCannotConnect        Status = "Cannot connect"
	StatusConnClosedByPeer     Status = "Connection closed by peer"
	StatusUserLoggedOff        Status = "User logged off"
	StatusLocalFileError       Status = "Local file error"
	StatusDownloadDirError     Status = "Download directory error"
	StatusOld                  Status = "Old"
)

// failedStatuses is spec.md §4.2's retry-watchdog set: downloads stuck in
// any of these are reset to Getting status and re-requested on the next
// 60s tick.
var failedStatuses = map[Status]bool{
	StatusGettingStatus:        true,
	StatusGettingAddress:       true,
	StatusConnecting:           true,
	StatusWaitingForPeer:       true,
	StatusRequestingFile:       true,
	StatusInitializingTransfer: true,
}

// IsFailedOrStuck reports whether s belongs to spec.md §4.2's watchdog
// rescan set.
func IsFailedOrStuck(s Status) bool { return failedStatuses[s] }

// Terminal reports whether s is one of the statuses spec.md §3 names as
// the terminal set a transfer's status is monotonic towards, barring a
// retry demoting it back to Getting status.
func Terminal(s Status) bool {
	switch s {
	case StatusFinished, StatusFiltered, StatusAborted, StatusPaused:
		return true
	default:
		return false
	}
}

// Direction distinguishes uploads from downloads (spec.md §3).
type Direction int

const (
	Download Direction = iota
	Upload
)

// Transfer is spec.md §3's shared upload/download shape.
type Transfer struct {
	// ID is a stable identifier for UI/CLI listing, independent of Req
	// (which is a wire-level negotiation id that changes across
	// retries; ID does not).
	ID string

	User            string
	VirtualFilename string
	RealFilename    string
	DestDir         string
	Direction       Direction
	Req             uint32

	Size         uint64
	CurrentBytes uint64
	Offset       uint64
	Speed        float64

	StartTime      time.Time
	LastTickTime   time.Time
	LastTickBytes  uint64
	LastStatusChange time.Time

	Status     Status
	QueuePlace int
	Bitrate    uint32
	Length     uint32
	TimeQueued time.Time

	// privileged records whether the requesting user was privileged at
	// the moment this upload was queued, used only by the scheduler's
	// priority ordering (spec.md §3 queue accounting).
	privileged bool

	// TransferTimerName names a per-transfer negotiation timer. Manager
	// never sets or arms it, so no timeout runs while a transfer waits
	// on a TransferResponse or a peer socket.
	TransferTimerName string

	// conn, file, and abortCopy are non-nil only while Status is one
	// of the live-socket statuses (Establishing connection through
	// Transferring); nil otherwise, matching spec.md §3's "While
	// status=Transferring, an open file handle exists and socket is
	// non-null; neither is true in any other status" invariant
	// generalized to the whole live-socket window.
	conn      rawConn
	file      rawFile
	abortCopy func()

	// limiter paces this transfer's own byte rate when spec.md §6's
	// limitby=="transfer" (per-transfer cap rather than one shared
	// total), nil otherwise.
	limiter *rate.Limiter
}

func newTransferID() string { return uuid.NewString() }

// rawConn/rawFile are the minimal surfaces Transfer needs from net.Conn
// and *os.File, kept narrow so tests can fake both without real sockets
// or a filesystem.
type rawConn interface {
	Close() error
}

type rawFile interface {
	Close() error
}

func (t *Transfer) setStatus(s Status) {
	t.Status = s
	t.LastStatusChange = time.Now()
}

// SetStatusAt is used by tests that cannot rely on time.Now() for
// deterministic LastStatusChange assertions.
func (t *Transfer) SetStatusAt(s Status, at time.Time) {
	t.Status = s
	t.LastStatusChange = at
}
