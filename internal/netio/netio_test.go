package netio

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prxssh/rabbitsoul/internal/peerconn"
	"github.com/prxssh/rabbitsoul/internal/wire"
)

type fakeSink struct {
	mu        sync.Mutex
	connected []peerconn.SocketHandle
	frames    []*wire.Frame
	closed    []peerconn.SocketHandle
	errs      []error

	frameCh chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{frameCh: make(chan struct{}, 16)}
}

func (s *fakeSink) OnConnected(h peerconn.SocketHandle, ch wire.Channel, addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = append(s.connected, h)
}

func (s *fakeSink) OnConnectError(h peerconn.SocketHandle, ch wire.Channel, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *fakeSink) OnFrame(h peerconn.SocketHandle, ch wire.Channel, f *wire.Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	s.frameCh <- struct{}{}
}

func (s *fakeSink) OnClosed(h peerconn.SocketHandle, ch wire.Channel, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, h)
}

func TestDialSendReceiveRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverSink := newFakeSink()
	serverIO := New(serverSink, DefaultOptions(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go serverIO.Serve(ctx, ln, wire.ChannelPeer)

	clientSink := newFakeSink()
	clientIO := New(clientSink, DefaultOptions(), nil)

	h := clientIO.Dial(context.Background(), ln.Addr().String(), wire.ChannelPeer, false)

	deadline := time.After(2 * time.Second)
	for len(clientSink.connectedSnapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for OnConnected")
		case <-time.After(10 * time.Millisecond):
		}
	}

	frame := &wire.Frame{Channel: wire.ChannelPeer, Code: wire.PeerGetSharedFileList, Payload: []byte("hi")}
	if err := clientIO.Send(h, frame); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-serverSink.frameCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive frame")
	}

	got := serverSink.frameSnapshot()
	if len(got) != 1 || got[0].Code != frame.Code {
		t.Fatalf("got %+v", got)
	}
}

func TestDialConnectErrorOnUnreachable(t *testing.T) {
	sink := newFakeSink()
	io := New(sink, Options{DialTimeout: 200 * time.Millisecond, OutboxBacklog: 4}, nil)

	// Port 1 is reserved and should refuse immediately on loopback.
	io.Dial(context.Background(), "127.0.0.1:1", wire.ChannelPeer, false)

	deadline := time.After(2 * time.Second)
	for len(sink.errSnapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for OnConnectError")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (s *fakeSink) connectedSnapshot() []peerconn.SocketHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]peerconn.SocketHandle(nil), s.connected...)
}

func (s *fakeSink) frameSnapshot() []*wire.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*wire.Frame(nil), s.frames...)
}

func (s *fakeSink) errSnapshot() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}
