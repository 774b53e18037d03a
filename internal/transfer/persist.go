package transfer

import (
	"time"

	"github.com/prxssh/rabbitsoul/internal/config"
)

// loadQueue implements the queue-file half of spec.md §6's persistence:
// read every saved download entry, remap its status per RemapOnLoad,
// and reinstate it so the watchdog's first tick resolves it.
func (m *Manager) loadQueue() {
	if m.queuePath == "" {
		return
	}

	entries, err := config.LoadQueueFile(m.queuePath)
	if err != nil {
		m.log.Warn("failed to load download queue", "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		k := dlKey{user: e.User, filename: e.Filename}
		if _, exists := m.downloads[k]; exists {
			continue
		}

		t := &Transfer{
		ID:              newTransferID(),
			User:            e.User,
			VirtualFilename: e.Filename,
			DestDir:         e.Path,
			Direction:       Download,
			Size:            e.Size,
			CurrentBytes:    e.CurrentBytes,
			Bitrate:         e.Bitrate,
			Length:          e.Length,
			TimeQueued:      time.Now(),
			StartTime:       time.Now(),
		}

		switch config.RemapOnLoad(string(e.Status)) {
		case config.QueueStatusPaused:
			t.setStatus(StatusPaused)
		case config.QueueStatusFiltered:
			t.setStatus(StatusFiltered)
		default:
			t.setStatus(StatusGettingStatus)
		}

		m.downloads[k] = t
	}
}

// saveQueueLocked persists every download except Finished and Cancelled
// ones. Must be called with m.mu held.
func (m *Manager) saveQueueLocked() {
	if m.queuePath == "" {
		return
	}

	entries := make([]config.QueueEntry, 0, len(m.downloads))
	for _, t := range m.downloads {
		if t.Status == StatusFinished || t.Status == StatusCancelled {
			continue
		}
		entries = append(entries, config.QueueEntry{
			User:         t.User,
			Filename:     t.VirtualFilename,
			Path:         t.DestDir,
			Status:       config.QueueStatus(t.Status),
			Size:         t.Size,
			CurrentBytes: t.CurrentBytes,
			Bitrate:      t.Bitrate,
			Length:       t.Length,
		})
	}

	if err := config.SaveQueueFile(m.queuePath, entries); err != nil {
		m.log.Warn("failed to save download queue", "error", err)
	}
}
