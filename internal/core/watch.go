package core

import "github.com/prxssh/rabbitsoul/internal/wire"

// watchUser implements the additive "Subscribed users" set (spec.md
// §4.1): the first reference to a remote user that needs online
// tracking emits WatchUser; later references are no-ops.
func (p *Processor) watchUser(user string) {
	p.mu.Lock()
	_, already := p.watchedUsers[user]
	if !already {
		p.watchedUsers[user] = struct{}{}
	}
	p.mu.Unlock()

	if !already {
		p.sendServer(&wire.WatchUser{Username: user})
	}
}
