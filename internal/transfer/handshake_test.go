package transfer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIncompleteCandidatesOrderAndResume(t *testing.T) {
	dir := t.TempDir()

	candidates := incompleteCandidates(`music\song.mp3`, "alice")
	if candidates[0] != "INCOMPLETE~song.mp3" {
		t.Fatalf("expected manual-rename marker first, got %q", candidates[0])
	}
	if candidates[1] != "INCOMPLETEsong.mp3" {
		t.Fatalf("expected plain marker second, got %q", candidates[1])
	}

	// No existing file: a fresh hashed-name file is created at offset 0.
	f, offset, err := openIncompleteFile(dir, `music\song.mp3`, "alice")
	if err != nil {
		t.Fatalf("openIncompleteFile: %v", err)
	}
	if offset != 0 {
		t.Fatalf("expected offset 0 for a fresh file, got %d", offset)
	}
	wantPath := filepath.Join(dir, candidates[2])
	if f.Name() != wantPath {
		t.Fatalf("expected hashed-name file %q, got %q", wantPath, f.Name())
	}
	if _, err := f.WriteString("resumeme"); err != nil {
		t.Fatalf("writing partial content: %v", err)
	}
	f.Close()

	// A second open of the same (virtualFilename, user) pair resumes
	// from the prior write rather than truncating it.
	f2, offset2, err := openIncompleteFile(dir, `music\song.mp3`, "alice")
	if err != nil {
		t.Fatalf("openIncompleteFile (resume): %v", err)
	}
	defer f2.Close()
	if offset2 != uint64(len("resumeme")) {
		t.Fatalf("expected resume offset %d, got %d", len("resumeme"), offset2)
	}
}

func TestOpenIncompleteFilePrefersManualRename(t *testing.T) {
	dir := t.TempDir()
	candidates := incompleteCandidates("album/track.flac", "bob")

	manual := filepath.Join(dir, candidates[0])
	if err := os.WriteFile(manual, []byte("1234"), 0o644); err != nil {
		t.Fatalf("seeding manual-rename file: %v", err)
	}

	f, offset, err := openIncompleteFile(dir, "album/track.flac", "bob")
	if err != nil {
		t.Fatalf("openIncompleteFile: %v", err)
	}
	defer f.Close()
	if f.Name() != manual {
		t.Fatalf("expected manual-rename file to be preferred, got %q", f.Name())
	}
	if offset != 4 {
		t.Fatalf("expected resume offset 4, got %d", offset)
	}
}
