package transfer

import (
	"testing"
	"time"

	"github.com/prxssh/rabbitsoul/internal/config"
	"github.com/prxssh/rabbitsoul/internal/wire"
)

// Scenario: upload-slot limit. With one upload slot configured, a
// second inbound TransferRequest for a different file queues instead of
// starting immediately (spec.md §4.2 allow_new_uploads).
func TestUploadSlotLimitQueuesSecondRequest(t *testing.T) {
	original := *config.Load()
	defer config.Swap(original)
	config.Update(func(c *config.Config) {
		c.UseUpSlots = true
		c.UploadSlots = 1
	})

	m, core, db := newTestManager()
	db.add("file1.mp3", "/real/file1.mp3", 100)
	db.add("file2.mp3", "/real/file2.mp3", 200)

	m.onTransferRequest("alice", &wire.TransferRequest{Direction: wire.DirectionDownload, Req: 1, Filename: "file1.mp3"})
	user, msg := core.lastSent()
	resp, ok := msg.(*wire.TransferResponse)
	if user != "alice" || !ok || !resp.Allow {
		t.Fatalf("expected first upload allowed immediately, got %+v", msg)
	}

	m.onTransferRequest("bob", &wire.TransferRequest{Direction: wire.DirectionDownload, Req: 2, Filename: "file2.mp3"})
	user, msg = core.lastSent()
	resp, ok = msg.(*wire.TransferResponse)
	if user != "bob" || !ok || resp.Allow || resp.Reason != "Queued" {
		t.Fatalf("expected second upload to queue with the slot full, got %+v", msg)
	}

	m.mu.Lock()
	qlen := m.uploadQueue.len()
	m.mu.Unlock()
	if qlen != 1 {
		t.Fatalf("expected one queued upload, got %d", qlen)
	}
}

// Scenario: round-robin/privilege fairness. Privileged uploads dequeue
// ahead of normal ones regardless of queue order; within the same
// privilege tier, earliest TimeQueued wins (spec.md §3/§4.2).
func TestUploadSchedulerPrivilegeFairness(t *testing.T) {
	s := newUploadScheduler()

	now := time.Now()
	normal1 := &Transfer{User: "n1", TimeQueued: now}
	normal2 := &Transfer{User: "n2", TimeQueued: now.Add(time.Second)}
	priv := &Transfer{User: "p1", TimeQueued: now.Add(2 * time.Second)}

	s.enqueue(normal1, false)
	s.enqueue(normal2, false)
	s.enqueue(priv, true)

	first, ok := s.dequeue()
	if !ok || first != priv {
		t.Fatalf("expected privileged transfer first, got %+v", first)
	}

	second, ok := s.dequeue()
	if !ok || second != normal1 {
		t.Fatalf("expected earliest-queued normal transfer second, got %+v", second)
	}

	third, ok := s.dequeue()
	if !ok || third != normal2 {
		t.Fatalf("expected remaining normal transfer third, got %+v", third)
	}

	if s.len() != 0 {
		t.Fatalf("expected scheduler drained, got len %d", s.len())
	}
	if s.privCount != 0 {
		t.Fatalf("expected privCount reset to 0, got %d", s.privCount)
	}
}

