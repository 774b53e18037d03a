package transfer

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"
)

const copyChunkSize = 64 << 10

// tick implements the progress-tick computation (spec.md §4.2): speed is
// the byte rate since the last tick, guarded against a zero time
// interval (successive ticks in the same clock tick, or a paused
// transfer resuming) reporting an infinite rate.
func (t *Transfer) tick(now time.Time) {
	elapsed := now.Sub(t.LastTickTime).Seconds()
	if elapsed > 0 {
		delta := int64(t.CurrentBytes) - int64(t.LastTickBytes)
		if delta < 0 {
			delta = 0
		}
		t.Speed = float64(delta) / elapsed
	}
	t.LastTickTime = now
	t.LastTickBytes = t.CurrentBytes
}

// TimeLeft formats the remaining transfer time as spec.md §4.2
// specifies: DD.HH:MM:SS, or "∞" when speed is zero or unknown.
func (t *Transfer) TimeLeft() string {
	if t.Speed <= 0 || t.Size <= t.CurrentBytes {
		return "∞"
	}
	remaining := float64(t.Size-t.CurrentBytes) / t.Speed
	d := time.Duration(remaining * float64(time.Second))

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d.%02d:%02d:%02d", days, hours, minutes, seconds)
}

// copyDownload streams conn into f, updating t.CurrentBytes and ticking
// speed every chunk, until Size bytes have been received, the peer
// closes, or abortCopy is tripped.
func (m *Manager) copyDownload(t *Transfer, conn net.Conn, f *os.File, aborted *atomic.Bool) {
	buf := make([]byte, copyChunkSize)

	for {
		if aborted.Load() {
			m.finishCopy(t, conn, f, StatusAborted)
			return
		}

		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				m.finishCopy(t, conn, f, StatusLocalFileError)
				return
			}
			m.throttle(t, Download, n)

			m.mu.Lock()
			t.CurrentBytes += uint64(n)
			t.tick(time.Now())
			done := t.Size != 0 && t.CurrentBytes >= t.Size
			m.mu.Unlock()

			if done {
				m.finishDownload(t, conn, f)
				return
			}
		}

		if err != nil {
			if err == io.EOF {
				m.mu.Lock()
				complete := t.Size == 0 || t.CurrentBytes >= t.Size
				m.mu.Unlock()
				if complete {
					m.finishDownload(t, conn, f)
				} else {
					m.finishCopy(t, conn, f, StatusConnClosedByPeer)
				}
				return
			}
			m.finishCopy(t, conn, f, StatusConnClosedByPeer)
			return
		}
	}
}

// copyUpload streams f into conn.
func (m *Manager) copyUpload(t *Transfer, conn net.Conn, f *os.File, aborted *atomic.Bool) {
	buf := make([]byte, copyChunkSize)

	for {
		if aborted.Load() {
			m.finishCopy(t, conn, f, StatusAborted)
			return
		}

		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				m.finishCopy(t, conn, f, StatusConnClosedByPeer)
				return
			}
			m.throttle(t, Upload, n)

			m.mu.Lock()
			t.CurrentBytes += uint64(n)
			t.tick(time.Now())
			done := t.Size != 0 && t.CurrentBytes >= t.Size
			m.mu.Unlock()

			if done {
				m.finishUpload(t, conn, f)
				return
			}
		}

		if rerr != nil {
			if rerr == io.EOF {
				m.finishUpload(t, conn, f)
			} else {
				m.finishCopy(t, conn, f, StatusLocalFileError)
			}
			return
		}
	}
}

// finishCopy tears down a transfer that ended in anything other than
// success.
func (m *Manager) finishCopy(t *Transfer, conn net.Conn, f *os.File, status Status) {
	_ = conn.Close()
	_ = f.Close()

	m.mu.Lock()
	t.conn = nil
	t.file = nil
	t.abortCopy = nil
	m.forgetReqLocked(t)
	t.setStatus(status)
	m.saveQueueLocked()
	m.mu.Unlock()

	if t.Direction == Upload {
		m.checkUploadQueue()
	}
}
