package transfer

import (
	"log/slog"
	"sync"

	"github.com/prxssh/rabbitsoul/internal/shares"
	"github.com/prxssh/rabbitsoul/internal/wire"
)

// fakeCore records every outbound call Manager makes through Core,
// standing in for *core.Processor the way peerconn's own tests fake out
// their socket layer.
type fakeCore struct {
	mu       sync.Mutex
	sent     []sentMsg
	fileReqs []string
	tier     int
	reason   string
	ignored  bool
}

type sentMsg struct {
	user string
	msg  wire.Message
}

func (f *fakeCore) RequestToPeer(user string, msg wire.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{user, msg})
}

func (f *fakeCore) RequestFileConn(user string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fileReqs = append(f.fileReqs, user)
}

func (f *fakeCore) CheckUser(user, addr string) (int, string) {
	return f.tier, f.reason
}

func (f *fakeCore) IPIgnored(addr string) bool { return f.ignored }

func (f *fakeCore) lastSent() (string, wire.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return "", nil
	}
	last := f.sent[len(f.sent)-1]
	return last.user, last.msg
}

func newTestManager() (*Manager, *fakeCore, *shareDB) {
	core := &fakeCore{tier: 1}
	db := newShareDB()
	m := New(slog.Default(), core, db, nil, "")
	return m, core, db
}

// shareDB is a minimal shares.DB fake, avoiding a dependency on
// internal/shares' concrete Memory type so tests can seed entries
// without a real filesystem path.
type shareDB struct {
	entries map[string]shares.Entry
}

func newShareDB() *shareDB { return &shareDB{entries: make(map[string]shares.Entry)} }

func (s *shareDB) add(virtual, real string, size uint64) {
	s.entries[virtual] = shares.Entry{Virtual: virtual, Real: real, Size: size}
}

func (s *shareDB) Resolve(virtual string) (shares.Entry, bool) {
	e, ok := s.entries[virtual]
	return e, ok
}

func (s *shareDB) List(tier int) []shares.Entry { return nil }
