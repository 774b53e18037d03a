package core

import (
	"context"
	"net"

	"github.com/prxssh/rabbitsoul/internal/wire"
)

// ListenPeers accepts unsolicited inbound peer-channel connections on
// ln and hands each to NetIO, so the other side's PeerInit/
// PierceFireWall frame lands on the normal onPeerHandshakeFrame path
// (spec.md §4.1 "Unsolicited inbound"). Runs until ctx is cancelled or
// the listener errors.
func (p *Processor) ListenPeers(ctx context.Context, ln net.Listener) error {
	return p.io.Serve(ctx, ln, wire.ChannelPeer)
}
