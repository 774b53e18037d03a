package userlist

import "testing"

func TestBanAndBuddyMembership(t *testing.T) {
	l := New()

	l.Ban("troll")
	if !l.IsBanned("troll") {
		t.Fatal("expected troll to be banned")
	}
	l.Unban("troll")
	if l.IsBanned("troll") {
		t.Fatal("expected troll to be unbanned")
	}

	l.AddBuddy("alice", BuddyInfo{Privileged: true, BuddySharesAccess: true})
	if !l.IsBuddy("alice") {
		t.Fatal("expected alice to be a buddy")
	}
	if !l.IsPrivilegedBuddy("alice") {
		t.Fatal("expected alice to be privileged")
	}
	if !l.HasBuddyShares("alice") {
		t.Fatal("expected alice to have buddy shares")
	}

	l.RemoveBuddy("alice")
	if l.IsBuddy("alice") {
		t.Fatal("expected alice removed")
	}
}

func TestIPIgnoredWildcardMatching(t *testing.T) {
	l := New()
	l.SetIgnoredIPPatterns([]string{"192.168.*.*", "10.0.0.5"})

	cases := []struct {
		ip   string
		want bool
	}{
		{"192.168.1.1", true},
		{"192.168.200.200", true},
		{"10.0.0.5", true},
		{"10.0.0.6", false},
		{"8.8.8.8", false},
		{"not-an-ip", false},
	}

	for _, tc := range cases {
		if got := l.IPIgnored(tc.ip); got != tc.want {
			t.Errorf("IPIgnored(%q) = %v, want %v", tc.ip, got, tc.want)
		}
	}
}

func TestLoadFromSeedsLists(t *testing.T) {
	l := LoadFrom([]string{"spammer"}, []string{"bob"}, []string{"1.2.3.*"})

	if !l.IsBanned("spammer") {
		t.Fatal("expected spammer banned")
	}
	if !l.IsBuddy("bob") {
		t.Fatal("expected bob to be a buddy")
	}
	if !l.IPIgnored("1.2.3.4") {
		t.Fatal("expected 1.2.3.4 ignored")
	}
}
