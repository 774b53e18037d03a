package transfer

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Scenario: download completion collision. A finished download whose
// destination basename is already taken gets a " (1)" suffix rather
// than overwriting (spec.md §4.2).
func TestFinishDownloadCollisionRename(t *testing.T) {
	dir := t.TempDir()

	existing := filepath.Join(dir, "song.mp3")
	if err := os.WriteFile(existing, []byte("already here"), 0o644); err != nil {
		t.Fatalf("seeding existing file: %v", err)
	}

	incomplete, err := os.CreateTemp(dir, "INCOMPLETE*")
	if err != nil {
		t.Fatalf("creating incomplete file: %v", err)
	}
	if _, err := incomplete.WriteString("payload"); err != nil {
		t.Fatalf("writing incomplete payload: %v", err)
	}
	incomplete.Close()
	incomplete, err = os.OpenFile(incomplete.Name(), os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("reopening incomplete file: %v", err)
	}

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	go serverConn.Close()

	m, _, _ := newTestManager()
	tr := &Transfer{
		User:            "alice",
		VirtualFilename: `music\song.mp3`,
		DestDir:         dir,
		Direction:       Download,
		Size:            7,
		CurrentBytes:    7,
		TimeQueued:      time.Now(),
	}
	tr.setStatus(StatusTransferring)
	m.downloads[dlKey{user: "alice", filename: tr.VirtualFilename}] = tr

	m.finishDownload(tr, clientConn, incomplete)

	wantPath := filepath.Join(dir, "song (1).mp3")
	if tr.RealFilename != wantPath {
		t.Fatalf("expected collision-renamed path %q, got %q", wantPath, tr.RealFilename)
	}
	if _, err := os.Stat(wantPath); err != nil {
		t.Fatalf("expected finished file at %q: %v", wantPath, err)
	}
	if tr.Status != StatusFinished {
		t.Fatalf("expected status Finished, got %q", tr.Status)
	}
}

func TestTimeLeftFormatting(t *testing.T) {
	tr := &Transfer{Size: 1000, CurrentBytes: 0, Speed: 0}
	if got := tr.TimeLeft(); got != "∞" {
		t.Fatalf("expected infinite time-left at zero speed, got %q", got)
	}

	tr = &Transfer{Size: 1000, CurrentBytes: 0, Speed: 10}
	if got := tr.TimeLeft(); got != "00.00:01:40" {
		t.Fatalf("expected 00.00:01:40, got %q", got)
	}

	tr = &Transfer{Size: 100, CurrentBytes: 100, Speed: 10}
	if got := tr.TimeLeft(); got != "∞" {
		t.Fatalf("expected infinite time-left once complete, got %q", got)
	}
}

func TestIsFailedOrStuckAndTerminal(t *testing.T) {
	if !IsFailedOrStuck(StatusConnecting) {
		t.Fatal("expected Connecting to be a stuck status")
	}
	if IsFailedOrStuck(StatusTransferring) {
		t.Fatal("did not expect Transferring to be a stuck status")
	}
	if !Terminal(StatusFinished) || !Terminal(StatusFiltered) {
		t.Fatal("expected Finished/Filtered to be terminal")
	}
	if Terminal(StatusQueued) {
		t.Fatal("did not expect Queued to be terminal")
	}
}
