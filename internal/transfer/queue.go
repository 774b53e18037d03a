package transfer

import (
	"fmt"
	"regexp"
	"time"

	"github.com/prxssh/rabbitsoul/internal/config"
	"github.com/prxssh/rabbitsoul/internal/pqueue"
	"github.com/prxssh/rabbitsoul/internal/wire"
)

// uploadScheduler picks the next queued upload to offer a free slot to
// (spec.md §4.2 "round-robin/FIFO upload queue"), backed by
// internal/pqueue so the pick is O(log n) instead of a scan over every
// queued user.
type uploadScheduler struct {
	q *pqueue.Queue[*Transfer]

	items map[*Transfer]*pqueue.Item[*Transfer]

	// usersQueued/privUsersQueued/privCount are spec.md §3's queue
	// accounting: for each user exactly one of usersQueued[user] or
	// privUsersQueued[user] is nonzero, and privCount is the number of
	// distinct privileged users with queued bytes.
	usersQueued     map[string]int64
	privUsersQueued map[string]int64
	privCount       int
}

func newUploadScheduler() *uploadScheduler {
	s := &uploadScheduler{
		items:           make(map[*Transfer]*pqueue.Item[*Transfer]),
		usersQueued:     make(map[string]int64),
		privUsersQueued: make(map[string]int64),
	}
	s.q = pqueue.New(func(a, b *Transfer) bool {
		aPriv, bPriv := a.privileged, b.privileged
		if aPriv != bPriv {
			return aPriv
		}
		return a.TimeQueued.Before(b.TimeQueued)
	})
	return s
}

func (s *uploadScheduler) enqueue(t *Transfer, privileged bool) {
	t.privileged = privileged
	item := s.q.Enqueue(t)
	s.items[t] = item

	if privileged {
		if s.privUsersQueued[t.User] == 0 {
			s.privCount++
		}
		s.privUsersQueued[t.User] += int64(t.Size)
	} else {
		s.usersQueued[t.User] += int64(t.Size)
	}
}

func (s *uploadScheduler) remove(t *Transfer) {
	item, ok := s.items[t]
	if !ok {
		return
	}
	delete(s.items, t)
	s.q.Remove(item)

	if t.privileged {
		s.privUsersQueued[t.User] -= int64(t.Size)
		if s.privUsersQueued[t.User] <= 0 {
			delete(s.privUsersQueued, t.User)
			s.privCount--
		}
	} else {
		s.usersQueued[t.User] -= int64(t.Size)
		if s.usersQueued[t.User] <= 0 {
			delete(s.usersQueued, t.User)
		}
	}
}

func (s *uploadScheduler) dequeue() (*Transfer, bool) {
	t, ok := s.q.Dequeue()
	if !ok {
		return nil, false
	}
	delete(s.items, t)
	if t.privileged {
		s.privUsersQueued[t.User] -= int64(t.Size)
		if s.privUsersQueued[t.User] <= 0 {
			delete(s.privUsersQueued, t.User)
			s.privCount--
		}
	} else {
		s.usersQueued[t.User] -= int64(t.Size)
		if s.usersQueued[t.User] <= 0 {
			delete(s.usersQueued, t.User)
		}
	}
	return t, true
}

// dequeueExcluding pops the highest-priority transfer whose user is not
// in excluded, leaving every skipped entry's position otherwise
// untouched (spec.md §4.2 check_upload_queue filters list_queued to
// users not already transferring before picking a candidate).
func (s *uploadScheduler) dequeueExcluding(excluded map[string]bool) (*Transfer, bool) {
	var skipped []*Transfer
	defer func() {
		for _, t := range skipped {
			s.enqueue(t, t.privileged)
		}
	}()

	for {
		t, ok := s.dequeue()
		if !ok {
			return nil, false
		}
		if !excluded[t.User] {
			return t, true
		}
		skipped = append(skipped, t)
	}
}

func (s *uploadScheduler) len() int { return s.q.Len() }

// GetFile queues a download (spec.md §4.2): a fresh Transfer is created
// in Getting status and a TransferRequest is sent immediately (status
// Requesting file), skipping the classic QueueUpload handshake since we
// always know the filename up front. A filename matching the download
// filter is marked Filtered instead and no request is sent.
func (m *Manager) GetFile(user, virtualFilename, destDir string) *Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := dlKey{user: user, filename: virtualFilename}
	if existing, ok := m.downloads[k]; ok {
		return existing
	}

	now := time.Now()
	t := &Transfer{
		ID:              newTransferID(),
		User:            user,
		VirtualFilename: virtualFilename,
		DestDir:         destDir,
		Direction:       Download,
		TimeQueued:      now,
		StartTime:       now,
	}
	m.downloads[k] = t

	// "Only filter downloads, never uploads!" — the regexp filter
	// applies to our own outbound download requests, not to files we
	// serve (see onIncomingUploadRequest).
	cfg := config.Load()
	if cfg.EnableFilters && cfg.DownloadRegexp != "" {
		re, err := regexp.Compile(cfg.DownloadRegexp)
		if err != nil {
			m.log.Warn("invalid download filter regexp, ignoring", "pattern", cfg.DownloadRegexp, "error", err)
		} else if re.MatchString(virtualFilename) {
			t.setStatus(StatusFiltered)
			m.saveQueueLocked()
			return t
		}
	}

	t.setStatus(StatusGettingStatus)
	m.startDownloadNegotiationLocked(t)
	m.saveQueueLocked()
	return t
}

func (m *Manager) startDownloadNegotiationLocked(t *Transfer) {
	t.Req = m.mintReq()
	m.byReq[t.Req] = t
	t.setStatus(StatusRequestingFile)
	m.core.RequestToPeer(t.User, &wire.TransferRequest{
		Direction: wire.DirectionDownload,
		Req:       t.Req,
		Filename:  t.VirtualFilename,
	})
}

// PushFile proactively offers an upload, used when a share is announced
// to a peer that has not yet asked for it (spec.md §4.2 "uploader-
// initiated transfer").
func (m *Manager) PushFile(user, virtualFilename string) (*Transfer, error) {
	entry, ok := m.shares.Resolve(virtualFilename)
	if !ok {
		return nil, m.errNotFound(user, virtualFilename)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := dlKey{user: user, filename: virtualFilename}
	if existing, ok := m.uploads[k]; ok {
		return existing, nil
	}

	now := time.Now()
	t := &Transfer{
		ID:              newTransferID(),
		User:            user,
		VirtualFilename: virtualFilename,
		RealFilename:    entry.Real,
		Direction:       Upload,
		Size:            entry.Size,
		Bitrate:         entry.Bitrate,
		Length:          entry.Length,
		TimeQueued:      now,
		StartTime:       now,
	}
	t.Req = m.mintReq()
	m.byReq[t.Req] = t
	t.setStatus(StatusRequestingFile)
	m.uploads[k] = t

	m.core.RequestToPeer(user, &wire.TransferRequest{
		Direction: wire.DirectionUpload,
		Req:       t.Req,
		Filename:  virtualFilename,
		Size:      entry.Size,
	})
	return t, nil
}

// onTransferRequest handles an inbound TransferRequest (spec.md §4.2).
// Direction=Download means the remote wants to download from us (we
// upload); Direction=Upload means the remote wants to send us a file
// (we download).
func (m *Manager) onTransferRequest(user string, req *wire.TransferRequest) {
	if req.Direction == wire.DirectionDownload {
		m.onIncomingUploadRequest(user, req)
		return
	}
	m.onIncomingDownloadOffer(user, req)
}

// onIncomingUploadRequest is the upload gate (spec.md §4.2): checked in
// order, first failure wins — check_user, share lookup, an existing
// upload of the same file, the queue-size and file-count limits, then
// queueing when no upload slot is free. There is no plugin-notification
// step, and a user who already has an upload in flight is not queued
// for that reason alone.
func (m *Manager) onIncomingUploadRequest(user string, req *wire.TransferRequest) {
	cfg := config.Load()

	deny := func(reason string) {
		m.core.RequestToPeer(user, &wire.TransferResponse{Req: req.Req, Allow: false, Reason: reason})
	}

	tier, reason := m.core.CheckUser(user, "")
	if tier == 0 {
		deny(reason)
		return
	}

	entry, ok := m.shares.Resolve(req.Filename)
	if !ok {
		deny("File not shared.")
		return
	}

	isFriend := m.lists != nil && m.lists.IsBuddy(user)
	isPriv := m.lists != nil && m.lists.IsPrivilegedBuddy(user)
	limited := !(isFriend && cfg.FriendsNoLimits)

	m.mu.Lock()
	defer m.mu.Unlock()

	k := dlKey{user: user, filename: req.Filename}
	if existing, ok := m.uploads[k]; ok && !Terminal(existing.Status) {
		m.core.RequestToPeer(user, &wire.TransferResponse{Req: req.Req, Allow: false, Reason: "Queued"})
		return
	}

	// Queue-size/file-count limits (spec.md §4.2 step 4, spec.md §8
	// scenario 2), bypassed for buddies when friendsNoLimits is set.
	if limited && cfg.QueueLimit > 0 {
		var queuedSize int64
		for _, u := range m.uploads {
			if u.User == user && u.Status == StatusQueued {
				queuedSize += int64(u.Size)
			}
		}
		if queuedSize >= cfg.QueueLimit {
			m.core.RequestToPeer(user, &wire.TransferResponse{
				Req: req.Req, Allow: false,
				Reason: fmt.Sprintf("User limit of %d megabytes exceeded", cfg.QueueLimit>>20),
			})
			return
		}
	}
	if limited && cfg.FileLimit > 0 {
		var queuedFiles int
		for _, u := range m.uploads {
			if u.User == user && u.Status == StatusQueued {
				queuedFiles++
			}
		}
		if queuedFiles >= cfg.FileLimit {
			m.core.RequestToPeer(user, &wire.TransferResponse{
				Req: req.Req, Allow: false,
				Reason: fmt.Sprintf("User limit of %d files exceeded", cfg.FileLimit),
			})
			return
		}
	}

	now := time.Now()
	t := &Transfer{
		ID:              newTransferID(),
		User:            user,
		VirtualFilename: req.Filename,
		RealFilename:    entry.Real,
		Direction:       Upload,
		Size:            entry.Size,
		Bitrate:         entry.Bitrate,
		Length:          entry.Length,
		Req:             req.Req,
		TimeQueued:      now,
		StartTime:       now,
	}
	m.uploads[k] = t
	m.byReq[req.Req] = t

	if !m.allowNewUploadsLocked(cfg) {
		t.setStatus(StatusQueued)
		m.uploadQueue.enqueue(t, isPriv)
		m.core.RequestToPeer(user, &wire.TransferResponse{Req: req.Req, Allow: false, Reason: "Queued"})
		return
	}

	t.setStatus(StatusEstablishingConn)
	m.core.RequestToPeer(user, &wire.TransferResponse{Req: req.Req, Allow: true, Size: entry.Size})
	m.awaitOurFileConnLocked(t)
}

// onIncomingDownloadOffer handles the uploader announcing readiness
// after we were queued (spec.md §4.2): Req here is a fresh id the
// uploader minted, distinct from the one we used for our own
// TransferRequest, if any. If no matching queued download exists, this
// is an unsolicited push: only accept it (as Queued) when the sender
// both can_upload and previously sent an UploadQueueNotification,
// otherwise reject with reason=Cancelled and create nothing.
func (m *Manager) onIncomingDownloadOffer(user string, req *wire.TransferRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := dlKey{user: user, filename: req.Filename}
	if t, ok := m.downloads[k]; ok && !Terminal(t.Status) {
		m.forgetReqLocked(t)
		t.Req = req.Req
		// A SoulseekQt bug sends a malformed zero size for files over
		// 2GB; only trust a nonzero size.
		if req.Size > 0 {
			t.Size = req.Size
		}
		m.byReq[req.Req] = t
		t.setStatus(StatusEstablishingConn)

		m.core.RequestToPeer(user, &wire.TransferResponse{Req: req.Req, Allow: true, Size: t.Size})
		m.awaitPeerFileConnLocked(t)
		return
	}

	if !m.canUploadLocked(user) || !m.requestedUploadQueue[user] {
		m.core.RequestToPeer(user, &wire.TransferResponse{Req: req.Req, Allow: false, Reason: "Cancelled"})
		return
	}

	now := time.Now()
	t := &Transfer{
		ID:              newTransferID(),
		User:            user,
		VirtualFilename: req.Filename,
		Direction:       Download,
		Size:            req.Size,
		TimeQueued:      now,
		StartTime:       now,
	}
	t.setStatus(StatusQueued)
	m.downloads[k] = t

	m.core.RequestToPeer(user, &wire.TransferResponse{Req: req.Req, Allow: false, Reason: "Queued"})
}

// canUploadLocked implements can_upload (spec.md §4.2): whether
// user is even allowed to push files to us at all, independent of
// requestedUploadQueue. Safe to call with m.mu held; it only touches
// config and the read-mostly userlist.
func (m *Manager) canUploadLocked(user string) bool {
	cfg := config.Load()
	if !cfg.RemoteDownloads {
		return false
	}
	switch cfg.UploadAllowed {
	case 0:
		return false
	case 1:
		return true
	case 2:
		return m.lists != nil && m.lists.IsBuddy(user)
	case 3:
		if m.lists == nil {
			return false
		}
		info, ok := m.lists.Buddy(user)
		return ok && info.Trusted
	default:
		return true
	}
}

// onUploadQueueNotification implements upload_queue_notification: a
// peer announcing it is about to push us file(s). Only buddies/tiers
// can_upload allows get added to requestedUploadQueue; anyone else's
// notification is dropped (the original implementation additionally sends a
// warning chat message here, which this client has no wire message for
// yet, so it is only logged).
func (m *Manager) onUploadQueueNotification(user string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.canUploadLocked(user) {
		m.log.Debug("upload queue notification from a user not allowed to upload to us", "user", user)
		return
	}
	m.requestedUploadQueue[user] = true
}

// awaitOurFileConnLocked requests the kind-F socket we (the uploader)
// will write the token on first.
func (m *Manager) awaitOurFileConnLocked(t *Transfer) {
	m.awaitingFileConn[t.User] = t
	m.core.RequestFileConn(t.User)
}

// awaitPeerFileConnLocked also requests the socket: either side may end
// up dialing depending on firewall status (spec.md §4.1's direct/
// indirect connect logic, reused verbatim via RequestFileConn), and
// HandleFileConn's weDialed flag tells us afterward which one happened.
func (m *Manager) awaitPeerFileConnLocked(t *Transfer) {
	m.awaitingFileConn[t.User] = t
	m.core.RequestFileConn(t.User)
}

func (m *Manager) onTransferResponse(user string, resp *wire.TransferResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byReq[resp.Req]
	if !ok {
		m.log.Debug("TransferResponse for unknown req", "user", user, "req", resp.Req)
		return
	}

	if !resp.Allow {
		if resp.Reason == "Queued" {
			t.setStatus(StatusQueued)
			return
		}
		m.failLocked(t, Status(resp.Reason))
		return
	}

	if t.Direction == Download {
		t.Size = resp.Size
		t.setStatus(StatusEstablishingConn)
		m.awaitPeerFileConnLocked(t)
	}
}

func (m *Manager) onQueueUpload(user string, q *wire.QueueUpload) {
	m.mu.Lock()
	t, ok := m.downloads[dlKey{user: user, filename: q.Filename}]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.mu.Lock()
	t.setStatus(StatusQueued)
	m.mu.Unlock()
}

func (m *Manager) onPlaceInQueue(user string, p *wire.PlaceInQueue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.downloads[dlKey{user: user, filename: p.Filename}]; ok {
		t.QueuePlace = int(p.Place)
	}
}

func (m *Manager) onPlaceInQueueRequest(user string, p *wire.PlaceInQueueRequest) {
	m.mu.Lock()
	t, ok := m.uploads[dlKey{user: user, filename: p.Filename}]
	m.mu.Unlock()
	if !ok {
		return
	}

	place := m.queuePositionOf(t)
	m.core.RequestToPeer(user, &wire.PlaceInQueue{Filename: p.Filename, Place: uint32(place)})
}

func (m *Manager) queuePositionOf(t *Transfer) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item, ok := m.uploadQueue.items[t]; ok {
		return item.Index + 1
	}
	return 0
}

func (m *Manager) onUploadFailed(user string, u *wire.UploadFailed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.downloads[dlKey{user: user, filename: u.Filename}]; ok {
		m.failLocked(t, StatusCannotConnect)
	}
}

func (m *Manager) onQueueFailed(user string, q *wire.QueueFailed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.downloads[dlKey{user: user, filename: q.Filename}]; ok {
		m.failLocked(t, Status(q.Reason))
	}
}

// transfersNegotiatingLocked implements transfer_negotiating: uploads
// that changed status in the last 30s and are either awaiting a
// TransferResponse, holding an open socket with no speed sample yet, or
// stuck on "Getting status" each count once toward the total (a single
// transfer can match more than one condition).
func (m *Manager) transfersNegotiatingLocked() int {
	count := 0
	now := time.Now()
	for _, t := range m.uploads {
		if now.Sub(t.LastStatusChange) >= 30*time.Second {
			continue
		}
		if t.Req != 0 {
			count++
		}
		if t.conn != nil && t.Speed == 0 {
			count++
		}
		if t.Status == StatusGettingStatus {
			count++
		}
	}
	return count
}

// allowNewUploadsLocked implements allow_new_uploads (spec.md §4.2):
// whether a free slot exists for an upload to start immediately rather
// than queue. Gates on up to three independent conditions — slot count,
// the uploadlimit speed cap (checked against the summed speed of active
// uploads, and refusing while any upload is negotiating), and the global
// bandwidth cap — any one of which can refuse admission. Must be called
// with m.mu held.
func (m *Manager) allowNewUploadsLocked(cfg *config.Config) bool {
	var bandwidthSum float64
	inProgress := 0
	for _, t := range m.uploads {
		if t.conn != nil && t.Speed != 0 {
			bandwidthSum += t.Speed
			inProgress++
		}
	}
	negotiating := m.transfersNegotiatingLocked()

	if cfg.UseUpSlots {
		if inProgress+negotiating >= cfg.UploadSlots {
			return false
		}
	}

	if cfg.UseLimit {
		if bandwidthSum >= float64(cfg.UploadLimit) {
			return false
		}
		if negotiating > 0 {
			return false
		}
	}

	if cfg.UploadBandwidth > 0 && bandwidthSum >= float64(cfg.UploadBandwidth) {
		return false
	}

	return true
}

// transferringUsersLocked implements get_transferring_users: the set of
// users with an upload that is awaiting a response, holding a socket, or
// stuck checking status — used by checkUploadQueue to skip a user's
// other queued files while one of their uploads is already in flight.
func (m *Manager) transferringUsersLocked() map[string]bool {
	users := make(map[string]bool)
	for _, t := range m.uploads {
		if t.Req != 0 || t.conn != nil || t.Status == StatusGettingStatus {
			users[t.User] = true
		}
	}
	return users
}

// checkUploadQueue implements check_upload_queue (spec.md §4.2): called
// whenever an upload slot frees up (a transfer finishes, aborts, or
// fails) to offer the slot to the next queued upload, preferring
// privileged users' queued transfers per spec.md §3's privilege
// accounting and skipping any user who already has another upload in
// flight so one user's backlog can't starve everyone else's turn.
func (m *Manager) checkUploadQueue() {
	m.mu.Lock()
	cfg := config.Load()
	if !m.allowNewUploadsLocked(cfg) {
		m.mu.Unlock()
		return
	}
	excluded := m.transferringUsersLocked()
	t, ok := m.uploadQueue.dequeueExcluding(excluded)
	if !ok {
		m.mu.Unlock()
		return
	}
	t.Req = m.mintReq()
	m.byReq[t.Req] = t
	t.setStatus(StatusRequestingFile)
	m.mu.Unlock()

	m.core.RequestToPeer(t.User, &wire.TransferRequest{
		Direction: wire.DirectionUpload,
		Req:       t.Req,
		Filename:  t.VirtualFilename,
		Size:      t.Size,
	})
}
