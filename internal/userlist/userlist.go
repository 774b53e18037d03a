// Package userlist implements the buddy/ban/ignore-list collaborator
// spec.md §4.1's check_user and ip_ignored lean on: membership tests
// over the lists spec.md §6 enumerates (banlist, userlist, ipignorelist)
// plus the per-octet IP glob matcher ip_ignored requires.
package userlist

import (
	"strconv"
	"strings"

	"github.com/prxssh/rabbitsoul/internal/syncmap"
)

// Lists holds the three membership sets spec.md §6 persists as config
// keys. Buddies may additionally be flagged as privileged, as having
// buddy-shares access, or as trusted; AddBuddy stores that per-buddy
// state, replacing any earlier entry.
type Lists struct {
	banned    *syncmap.Map[string, struct{}]
	buddies   *syncmap.Map[string, BuddyInfo]
	ignoredIP []ipPattern
}

type BuddyInfo struct {
	Privileged        bool
	BuddySharesAccess bool

	// Trusted mirrors the userlist's per-buddy "trusted" column
	// (spec.md §6 uploadAllowed==3 "trusted buddies" tier).
	Trusted bool
}

func New() *Lists {
	return &Lists{
		banned:  syncmap.New[string, struct{}](),
		buddies: syncmap.New[string, BuddyInfo](),
	}
}

// LoadFrom seeds the lists from persisted config values (spec.md §6
// banlist/userlist/ipignorelist keys).
func LoadFrom(banlist, userlist, ipignorelist []string) *Lists {
	l := New()
	for _, u := range banlist {
		l.Ban(u)
	}
	for _, u := range userlist {
		l.AddBuddy(u, BuddyInfo{})
	}
	l.ignoredIP = parsePatterns(ipignorelist)
	return l
}

func (l *Lists) Ban(user string)      { l.banned.Put(user, struct{}{}) }
func (l *Lists) Unban(user string)    { l.banned.Delete(user) }
func (l *Lists) IsBanned(user string) bool {
	_, ok := l.banned.Get(user)
	return ok
}

func (l *Lists) AddBuddy(user string, info BuddyInfo) { l.buddies.Put(user, info) }
func (l *Lists) RemoveBuddy(user string)              { l.buddies.Delete(user) }

func (l *Lists) IsBuddy(user string) bool {
	_, ok := l.buddies.Get(user)
	return ok
}

func (l *Lists) Buddy(user string) (BuddyInfo, bool) {
	return l.buddies.Get(user)
}

// IsPrivilegedBuddy reports whether user is a buddy flagged as
// privileged, one leg of spec.md §4.2's is_privileged union.
func (l *Lists) IsPrivilegedBuddy(user string) bool {
	info, ok := l.buddies.Get(user)
	return ok && info.Privileged
}

func (l *Lists) HasBuddyShares(user string) bool {
	info, ok := l.buddies.Get(user)
	return ok && info.BuddySharesAccess
}

// ipPattern is one dot-separated octet pattern where "*" matches any
// value for that octet (spec.md §4.1 ip_ignored).
type ipPattern [4]string

func parsePatterns(raw []string) []ipPattern {
	patterns := make([]ipPattern, 0, len(raw))
	for _, s := range raw {
		parts := strings.Split(s, ".")
		if len(parts) != 4 {
			continue
		}
		var p ipPattern
		copy(p[:], parts)
		patterns = append(patterns, p)
	}
	return patterns
}

func (p ipPattern) matches(octets [4]string) bool {
	for i := 0; i < 4; i++ {
		if p[i] == "*" {
			continue
		}
		if p[i] != octets[i] {
			return false
		}
	}
	return true
}

// IPIgnored evaluates the glob patterns left to right against ip,
// returning true on the first match (spec.md §4.1 ip_ignored).
func (l *Lists) IPIgnored(ip string) bool {
	octets, ok := splitOctets(ip)
	if !ok {
		return false
	}
	for _, p := range l.ignoredIP {
		if p.matches(octets) {
			return true
		}
	}
	return false
}

func splitOctets(ip string) ([4]string, bool) {
	var out [4]string
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return out, false
	}
	for i, part := range parts {
		if _, err := strconv.Atoi(part); err != nil {
			return out, false
		}
		out[i] = part
	}
	return out, true
}

// SetIgnoredIPPatterns replaces the ip_ignored pattern list.
func (l *Lists) SetIgnoredIPPatterns(raw []string) {
	l.ignoredIP = parsePatterns(raw)
}
