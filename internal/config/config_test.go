package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileMissingWritesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := LoadFile(path, nil)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.UploadSlots != Default().UploadSlots {
		t.Fatalf("got %d want default %d", cfg.UploadSlots, Default().UploadSlots)
	}

	reloaded, err := LoadFile(path, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.UploadDir != cfg.UploadDir {
		t.Fatalf("round-trip mismatch: %q vs %q", reloaded.UploadDir, cfg.UploadDir)
	}
}

func TestLoadFileCorruptQuarantines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := SaveFile(path, Default()); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	// Overwrite with garbage that is not valid TOML.
	if err := writeRaw(path, "{{{not toml"); err != nil {
		t.Fatalf("writeRaw: %v", err)
	}

	cfg, err := LoadFile(path, nil)
	if err != nil {
		t.Fatalf("LoadFile on corrupt: %v", err)
	}
	if cfg.UploadSlots != Default().UploadSlots {
		t.Fatalf("expected fresh default after quarantine")
	}

	matches, err := filepath.Glob(path + ".*.corrupt")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly one quarantined file, got %v", matches)
	}
}

func TestGlobalLoadUpdateSwap(t *testing.T) {
	orig := Load()
	defer Swap(*orig)

	Update(func(c *Config) { c.UploadSlots = 99 })
	if Load().UploadSlots != 99 {
		t.Fatalf("Update did not take effect")
	}

	Swap(Default())
	if Load().UploadSlots != Default().UploadSlots {
		t.Fatalf("Swap did not take effect")
	}
}

func TestQueueFileRoundTripAndRemap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "downloads.toml")

	entries := []QueueEntry{
		{User: "alice", Filename: `music\a.mp3`, Path: "music", Status: QueueStatusPaused, Size: 100},
	}
	if err := SaveQueueFile(path, entries); err != nil {
		t.Fatalf("SaveQueueFile: %v", err)
	}

	got, err := LoadQueueFile(path)
	if err != nil {
		t.Fatalf("LoadQueueFile: %v", err)
	}
	if len(got) != 1 || got[0].User != "alice" {
		t.Fatalf("got %+v", got)
	}

	if RemapOnLoad("Aborted") != QueueStatusPaused {
		t.Fatal("Aborted should remap to Paused")
	}
	if RemapOnLoad("Filtered") != QueueStatusFiltered {
		t.Fatal("Filtered should remain Filtered")
	}
	if RemapOnLoad("Transferring") != QueueStatusGettingStatus {
		t.Fatal("anything else should remap to Getting status")
	}
}

func writeRaw(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
