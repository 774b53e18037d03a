package shares

import "testing"

func TestMemoryResolveAndTierFiltering(t *testing.T) {
	db := NewMemory()
	db.Add(Entry{Virtual: `music\a.mp3`, Real: "/shared/a.mp3", Size: 100}, false)
	db.Add(Entry{Virtual: `private\b.mp3`, Real: "/shared/b.mp3", Size: 50}, true)

	e, ok := db.Resolve(`music\a.mp3`)
	if !ok || e.Real != "/shared/a.mp3" {
		t.Fatalf("Resolve failed: %+v, %v", e, ok)
	}

	if _, ok := db.Resolve(`nope.mp3`); ok {
		t.Fatal("expected miss for unshared file")
	}

	tier1 := db.List(1)
	if len(tier1) != 1 {
		t.Fatalf("tier 1 should only see non-buddy files, got %d", len(tier1))
	}

	tier2 := db.List(2)
	if len(tier2) != 2 {
		t.Fatalf("tier 2 should see all files, got %d", len(tier2))
	}
}

func TestToVirtualToReal(t *testing.T) {
	if got := ToVirtual("music/a.mp3"); got != `music\a.mp3` {
		t.Fatalf("got %q", got)
	}
	if got := ToReal(`music\a.mp3`); got != "music/a.mp3" {
		t.Fatalf("got %q", got)
	}
}
