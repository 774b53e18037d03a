package core

import (
	"github.com/prxssh/rabbitsoul/internal/syncmap"
)

// TriState is the behindFirewall tri-state spec.md §3 UserAddr
// requires: unknown until we've actually tried a direct connection.
type TriState uint8

const (
	TriUnknown TriState = iota
	TriYes
	TriNo
)

type OnlineStatus uint8

const (
	StatusUnknown OnlineStatus = iota
	StatusOffline
	StatusAway
	StatusOnline
)

// UserAddr is spec.md §3's UserAddr: created on first reference, never
// destroyed during a session, updated in place as address/status
// messages arrive.
type UserAddr struct {
	Username       string
	IP             uint32
	Port           uint32
	HasAddr        bool
	BehindFirewall TriState
	Status         OnlineStatus
}

// userAddrBook owns the UserAddr map plus the userAddrRequested dedup
// set (spec.md §4.1 "deduped via userAddrRequested").
type userAddrBook struct {
	addrs     *syncmap.Map[string, *UserAddr]
	requested *syncmap.Map[string, struct{}]
}

func newUserAddrBook() *userAddrBook {
	return &userAddrBook{
		addrs:     syncmap.New[string, *UserAddr](),
		requested: syncmap.New[string, struct{}](),
	}
}

// getOrCreate returns the UserAddr for user, creating an empty one on
// first reference (spec.md §3).
func (b *userAddrBook) getOrCreate(user string) *UserAddr {
	return b.addrs.GetOrInsert(user, func() *UserAddr {
		return &UserAddr{Username: user}
	})
}

func (b *userAddrBook) get(user string) (*UserAddr, bool) {
	return b.addrs.Get(user)
}

// requestOnce returns true the first time it's called for user (and
// marks it requested); subsequent calls return false until
// clearRequested is called. Backs the GetPeerAddress dedup.
func (b *userAddrBook) requestOnce(user string) bool {
	if _, already := b.requested.Get(user); already {
		return false
	}
	b.requested.Put(user, struct{}{})
	return true
}

func (b *userAddrBook) clearRequested(user string) {
	b.requested.Delete(user)
}

func (b *userAddrBook) knownUsers() []string {
	return b.addrs.Keys()
}
