// Package core implements the EventProcessor (spec.md §2/§4.1): the
// protocol and policy state machine that serializes all inbound events
// and drives outbound messages, timers, and the transfer manager.
// Event dispatch follows the teacher's scheduler.Event tagged-union
// pattern (an Event interface plus a type switch in the loop), matching
// spec.md §9's "polymorphic event dispatch... as a tagged-union
// discriminator" design note.
package core

import (
	"github.com/prxssh/rabbitsoul/internal/peerconn"
	"github.com/prxssh/rabbitsoul/internal/wire"
)

type Event interface{ isEvent() }

// Server-session events.

type EvConnectToServer struct{}

func (EvConnectToServer) isEvent() {}

type EvServerConnected struct{ RemoteAddr string }

func (EvServerConnected) isEvent() {}

type EvServerConnectError struct{ Err error }

func (EvServerConnectError) isEvent() {}

type EvServerFrame struct{ Frame *wire.Frame }

func (EvServerFrame) isEvent() {}

type EvServerClosed struct{ Err error }

func (EvServerClosed) isEvent() {}

// Peer-socket events, one handle per connection attempt regardless of
// kind (P/F/D).

type EvPeerConnected struct {
	Handle     peerconn.SocketHandle
	RemoteAddr string
}

func (EvPeerConnected) isEvent() {}

type EvPeerConnectError struct {
	Handle peerconn.SocketHandle
	Err    error
}

func (EvPeerConnectError) isEvent() {}

type EvPeerFrame struct {
	Handle peerconn.SocketHandle
	Frame  *wire.Frame
}

func (EvPeerFrame) isEvent() {}

type EvPeerClosed struct {
	Handle peerconn.SocketHandle
	Err    error
}

func (EvPeerClosed) isEvent() {}

// Timer events, posted by internal/timer on expiry (spec.md §5/§9).

type EvTimerFired struct{ Name string }

func (EvTimerFired) isEvent() {}

// EvProcessRequestToPeer is the serialized form of
// process_request_to_peer (spec.md §4.1): callers (including the
// transfer manager) post this instead of calling into the processor
// directly, so the call always runs on the single event-loop goroutine.
type EvProcessRequestToPeer struct {
	User    string
	Message PendingMessage
}

func (EvProcessRequestToPeer) isEvent() {}

// PendingMessage is an outbound peer-channel message not yet tied to a
// socket, carried by EvProcessRequestToPeer and PeerConn.pendingMsgs.
type PendingMessage struct {
	Kind wire.PeerInitKind
	Msg  wire.Message
}

// classifyKind always resolves to the P connection: every message
// PendingMessage ever carries (including the transfer-negotiation
// messages TransferRequest/TransferResponse/QueueUpload/PlaceInQueue/
// PlaceInQueueRequest/UploadFailed/QueueFailed) is a framed peer-channel
// message. Kind F sockets carry no framed messages at all — once their
// handshake completes they are raw byte streams handed to the transfer
// manager (spec.md §4.2) — so the only kind-F request that reaches
// process_request_to_peer is RequestFileConn's, which carries no message
// and sets the kind itself instead of calling classifyKind.
func classifyKind(wire.Message) wire.PeerInitKind {
	return wire.KindPeer
}
