package core

import (
	"net"
	"strings"

	"github.com/prxssh/rabbitsoul/internal/config"
	"github.com/prxssh/rabbitsoul/internal/peerconn"
)

// Tier is the outcome of check_user (spec.md §4.1): 0 denies with a
// reason, 1 is ordinary access, 2 additionally unlocks buddy-only shares.
type Tier int

const (
	TierDenied Tier = iota
	TierNormal
	TierBuddyShares
)

// CheckUser implements check_user(user, addr?) → (tier, reason).
func (p *Processor) CheckUser(user, addr string) (Tier, string) {
	if p.lists == nil {
		return TierNormal, ""
	}

	if p.lists.IsBanned(user) {
		return TierDenied, "Banned"
	}

	if p.lists.IsBuddy(user) {
		if p.lists.HasBuddyShares(user) {
			return TierBuddyShares, ""
		}
		return TierNormal, ""
	}

	cfg := config.Load()
	if cfg.FriendsOnly {
		return TierDenied, "Only friends are allowed"
	}
	if !cfg.GeoBlock {
		return TierNormal, ""
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	cc, found := p.geo.CountryCode(host)
	if !found {
		if cfg.GeoPanic {
			return TierDenied, "Country unknown, geo-blocked"
		}
		return TierNormal, ""
	}
	for _, blocked := range cfg.GeoBlockCC {
		if strings.EqualFold(strings.TrimSpace(blocked), cc) {
			return TierDenied, "Geo-blocked country: " + cc
		}
	}
	return TierNormal, ""
}

// checkSpoofOK implements check_spoof: a known address for the user that
// disagrees with the socket's observed remote address is a spoof
// (spec.md §8 scenario 5).
func (p *Processor) checkSpoofOK(conn *peerconn.Conn) bool {
	ua, ok := p.addrBook.get(conn.Username)
	if !ok || !ua.HasAddr {
		return true
	}

	host, _, err := net.SplitHostPort(conn.Addr)
	if err != nil || host == "" {
		return true
	}
	if host == ipToString(ua.IP) {
		return true
	}

	p.log.Warn("peer address mismatch, possible spoof", "user", conn.Username, "claimed", host, "known", ipToString(ua.IP))
	return false
}

// IPIgnored implements ip_ignored(address) by delegating to the
// configured wildcard pattern list.
func (p *Processor) IPIgnored(addr string) bool {
	if p.lists == nil {
		return false
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return p.lists.IPIgnored(host)
}
