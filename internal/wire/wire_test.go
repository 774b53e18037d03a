package wire

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		ch   Channel
	}{
		{"server", ChannelServer},
		{"peer", ChannelPeer},
		{"distributed", ChannelDistributed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			want := &Frame{Channel: tc.ch, Code: 7, Payload: []byte("hello")}
			buf, err := want.MarshalBinary()
			if err != nil {
				t.Fatalf("MarshalBinary: %v", err)
			}

			got := &Frame{Channel: tc.ch}
			if err := got.UnmarshalBinary(buf); err != nil {
				t.Fatalf("UnmarshalBinary: %v", err)
			}

			if got.Code != want.Code || !bytes.Equal(got.Payload, want.Payload) {
				t.Fatalf("round-trip mismatch: got %+v want %+v", got, want)
			}
		})
	}
}

func TestReadFrameWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	f := &Frame{Channel: ChannelServer, Code: ServerLogin, Payload: []byte("x")}
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf, ChannelServer)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Code != f.Code || !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("got %+v want %+v", got, f)
	}
}

func TestLoginRoundTrip(t *testing.T) {
	want := Login{Username: "alice", Password: "s3cret", Version: 157, MinorVersion: 19}
	payload := want.Marshal()

	var got Login
	if err := got.Unmarshal(NewReader(payload)); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestTransferRequestRoundTripBothDirections(t *testing.T) {
	upload := TransferRequest{Direction: DirectionUpload, Req: 42, Filename: `music\track.mp3`, Size: 1 << 20}
	payload := upload.Marshal()
	var got TransferRequest
	if err := got.Unmarshal(NewReader(payload)); err != nil {
		t.Fatalf("Unmarshal upload: %v", err)
	}
	if got != upload {
		t.Fatalf("upload round-trip: got %+v want %+v", got, upload)
	}

	download := TransferRequest{Direction: DirectionDownload, Req: 43, Filename: `music\other.mp3`}
	payload = download.Marshal()
	got = TransferRequest{}
	if err := got.Unmarshal(NewReader(payload)); err != nil {
		t.Fatalf("Unmarshal download: %v", err)
	}
	if got.Direction != download.Direction || got.Req != download.Req || got.Filename != download.Filename {
		t.Fatalf("download round-trip: got %+v want %+v", got, download)
	}
}

func TestTransferResponseRoundTrip(t *testing.T) {
	allow := TransferResponse{Req: 1, Allow: true, Size: 2048}
	payload := allow.Marshal()
	var got TransferResponse
	if err := got.Unmarshal(NewReader(payload)); err != nil {
		t.Fatalf("Unmarshal allow: %v", err)
	}
	if got != allow {
		t.Fatalf("allow round-trip: got %+v want %+v", got, allow)
	}

	deny := TransferResponse{Req: 2, Allow: false, Reason: "Queued"}
	payload = deny.Marshal()
	got = TransferResponse{}
	if err := got.Unmarshal(NewReader(payload)); err != nil {
		t.Fatalf("Unmarshal deny: %v", err)
	}
	if got != deny {
		t.Fatalf("deny round-trip: got %+v want %+v", got, deny)
	}
}

func TestPeerInitRoundTrip(t *testing.T) {
	want := PeerInit{Username: "bob", Kind: KindFile, Token: 0}
	payload := want.Marshal()
	var got PeerInit
	if err := got.Unmarshal(NewReader(payload)); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestPierceFireWallRoundTrip(t *testing.T) {
	want := PierceFireWall{Token: 0xdeadbeef}
	payload := want.Marshal()
	var got PierceFireWall
	if err := got.Unmarshal(NewReader(payload)); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestPeerInitFrameRoundTripThroughDecode(t *testing.T) {
	f := Encode(ChannelPeer, &PeerInit{Username: "bob", Kind: KindPeer, Token: 42})
	d, err := Decode(f)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	pi, ok := d.Message.(*PeerInit)
	if !ok {
		t.Fatalf("expected *PeerInit, got %T", d.Message)
	}
	if pi.Username != "bob" || pi.Kind != KindPeer || pi.Token != 42 {
		t.Fatalf("got %+v", pi)
	}
}

func TestDecodeDispatchUnknownCodeIsNotError(t *testing.T) {
	f := &Frame{Channel: ChannelServer, Code: 999999, Payload: nil}
	d, err := Decode(f)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if d.Message != nil {
		t.Fatalf("expected nil Message for unknown code, got %#v", d.Message)
	}
}

func TestDecodeDispatchKnownCode(t *testing.T) {
	f := Encode(ChannelPeer, &TransferRequest{Direction: DirectionDownload, Req: 5, Filename: "a.txt"})
	d, err := Decode(f)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	tr, ok := d.Message.(*TransferRequest)
	if !ok {
		t.Fatalf("expected *TransferRequest, got %T", d.Message)
	}
	if tr.Req != 5 || tr.Filename != "a.txt" {
		t.Fatalf("got %+v", tr)
	}
}

func TestShortFrameIsError(t *testing.T) {
	f := &Frame{Channel: ChannelServer}
	if err := f.UnmarshalBinary([]byte{1, 2}); err == nil {
		t.Fatal("expected error for short frame")
	}
}
