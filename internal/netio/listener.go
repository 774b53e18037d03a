package netio

import (
	"context"
	"net"

	"github.com/prxssh/rabbitsoul/internal/wire"
)

// Serve accepts inbound connections on ln and registers each one on
// channel ch, until ctx is cancelled or ln.Accept fails permanently.
// core.ListenPeers calls it with the peer channel for unsolicited
// inbound connections.
func (io *IO) Serve(ctx context.Context, ln net.Listener, ch wire.Channel) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		io.Accept(conn, ch)
	}
}
