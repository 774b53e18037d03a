package core

import (
	"github.com/prxssh/rabbitsoul/internal/peerconn"
	"github.com/prxssh/rabbitsoul/internal/wire"
)

// Processor implements netio.Sink: every notification NetIO posts is
// translated into an Event and pushed onto the single queue, so nothing
// from NetIO's goroutines ever touches core state directly (spec.md §5).
var _ interface {
	OnConnected(peerconn.SocketHandle, wire.Channel, string)
	OnConnectError(peerconn.SocketHandle, wire.Channel, error)
	OnFrame(peerconn.SocketHandle, wire.Channel, *wire.Frame)
	OnClosed(peerconn.SocketHandle, wire.Channel, error)
} = (*Processor)(nil)

func (p *Processor) OnConnected(h peerconn.SocketHandle, ch wire.Channel, addr string) {
	if ch == wire.ChannelServer {
		p.Post(EvServerConnected{RemoteAddr: addr})
		return
	}
	p.Post(EvPeerConnected{Handle: h, RemoteAddr: addr})
}

func (p *Processor) OnConnectError(h peerconn.SocketHandle, ch wire.Channel, err error) {
	if ch == wire.ChannelServer {
		p.Post(EvServerConnectError{Err: err})
		return
	}
	p.Post(EvPeerConnectError{Handle: h, Err: err})
}

func (p *Processor) OnFrame(h peerconn.SocketHandle, ch wire.Channel, f *wire.Frame) {
	if ch == wire.ChannelServer {
		p.Post(EvServerFrame{Frame: f})
		return
	}
	p.Post(EvPeerFrame{Handle: h, Frame: f})
}

func (p *Processor) OnClosed(h peerconn.SocketHandle, ch wire.Channel, err error) {
	if ch == wire.ChannelServer {
		p.Post(EvServerClosed{Err: err})
		return
	}
	p.Post(EvPeerClosed{Handle: h, Err: err})
}
