package transfer

import (
	"github.com/prxssh/rabbitsoul/internal/config"
)

// retryableStatuses is the set of failure statuses the watchdog
// re-requests a download for, in addition to IsFailedOrStuck's "stuck
// mid-negotiation" set (spec.md §4.2 "queue_failed/upload_failed
// handling").
var retryableStatuses = map[Status]bool{
	StatusCannotConnect:    true,
	StatusConnClosedByPeer: true,
}

// runWatchdog is the 60s retry tick (spec.md §4.2/§5): every download
// stuck mid-negotiation or demoted by a remote failure is re-requested,
// then the timer is re-armed for another interval.
func (m *Manager) runWatchdog() {
	m.mu.Lock()
	var retry []*Transfer
	for _, t := range m.downloads {
		if IsFailedOrStuck(t.Status) || retryableStatuses[t.Status] {
			retry = append(retry, t)
		}
	}
	m.mu.Unlock()

	for _, t := range retry {
		m.mu.Lock()
		if Terminal(t.Status) {
			m.mu.Unlock()
			continue
		}
		t.setStatus(StatusGettingStatus)
		m.startDownloadNegotiationLocked(t)
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.saveQueueLocked()
	m.mu.Unlock()

	m.timers.Arm(watchdogTimerName, config.WatchdogInterval)
}
