package wire

import "fmt"

// Peer-channel message codes, exchanged once a peer socket is
// established (spec.md §4.1/§4.2, §6). PeerInit/PierceFireWall, the
// two handshake frames that precede the rest of this table, get their
// own low codes below and go through the same Message table as every
// other peer message.
const (
	PeerGetSharedFileList  uint32 = 4
	PeerSharedFileList     uint32 = 5
	PeerFileSearchResult   uint32 = 9
	PeerUserInfoRequest    uint32 = 15
	PeerUserInfoReply      uint32 = 16
	PeerFolderContents     uint32 = 36
	PeerTransferRequest    uint32 = 40
	PeerTransferResponse   uint32 = 41
	PeerQueueUpload        uint32 = 43
	PeerPlaceInQueue       uint32 = 44
	PeerUploadFailed       uint32 = 46
	PeerQueueFailed        uint32 = 50
	PeerPlaceInQueueReq    uint32 = 51
	PeerUploadQueueNotification uint32 = 52
)

func PeerCodeName(code uint32) string {
	switch code {
	case PeerGetSharedFileList:
		return "GetSharedFileList"
	case PeerSharedFileList:
		return "SharedFileList"
	case PeerFileSearchResult:
		return "FileSearchResult"
	case PeerUserInfoRequest:
		return "UserInfoRequest"
	case PeerUserInfoReply:
		return "UserInfoReply"
	case PeerFolderContents:
		return "FolderContents"
	case PeerTransferRequest:
		return "TransferRequest"
	case PeerTransferResponse:
		return "TransferResponse"
	case PeerQueueUpload:
		return "QueueUpload"
	case PeerPlaceInQueue:
		return "PlaceInQueue"
	case PeerUploadFailed:
		return "UploadFailed"
	case PeerQueueFailed:
		return "QueueFailed"
	case PeerPlaceInQueueReq:
		return "PlaceInQueueRequest"
	case PeerUploadQueueNotification:
		return "UploadQueueNotification"
	default:
		return fmt.Sprintf("PeerCode(%d)", code)
	}
}

// PeerInitKind is the spec.md GLOSSARY "peer-init kind" byte.
type PeerInitKind byte

const (
	KindPeer        PeerInitKind = 'P'
	KindFile        PeerInitKind = 'F'
	KindDistributed PeerInitKind = 'D'
)

func (k PeerInitKind) String() string { return string(rune(k)) }

func (k PeerInitKind) Valid() bool {
	switch k {
	case KindPeer, KindFile, KindDistributed:
		return true
	default:
		return false
	}
}

// PierceFireWallCode and PeerInitCode are reserved below the rest of the
// peer-channel table: these two frames are the only ones a freshly
// connected peer socket ever sends before anything else, so a real
// SoulSeek implementation frames them without a code at all and tells
// them apart by length. The Codec is external to the core (spec.md §1),
// so here they simply get two low codes and ride the same Frame/Message
// plumbing as everything else — simpler to multiplex through one NetIO
// read loop, with no behavioral difference core relies on.
const (
	PierceFireWallCode uint32 = 0
	PeerInitCode       uint32 = 1
)

// PierceFireWall is the indirect-connect handshake frame sent in
// response to a server ConnectToPeer relay: just the token.
type PierceFireWall struct{ Token uint32 }

func (PierceFireWall) Code() uint32          { return PierceFireWallCode }
func (m PierceFireWall) Marshal() []byte     { return NewWriter().Uint32(m.Token).Payload() }
func (m *PierceFireWall) Unmarshal(r *Reader) error {
	m.Token = r.Uint32()
	return r.Err()
}

// PeerInit is the direct-connect handshake frame: <username><kind
// byte><token:4>.
type PeerInit struct {
	Username string
	Kind     PeerInitKind
	Token    uint32
}

func (PeerInit) Code() uint32 { return PeerInitCode }

func (m PeerInit) Marshal() []byte {
	return NewWriter().String(m.Username).Uint8(uint8(m.Kind)).Uint32(m.Token).Payload()
}

func (m *PeerInit) Unmarshal(r *Reader) error {
	m.Username = r.String()
	m.Kind = PeerInitKind(r.Uint8())
	m.Token = r.Uint32()
	return r.Err()
}

type GetSharedFileList struct{}

func (GetSharedFileList) Code() uint32          { return PeerGetSharedFileList }
func (GetSharedFileList) Marshal() []byte       { return nil }
func (*GetSharedFileList) Unmarshal(*Reader) error { return nil }

// SharedFile is one entry of a browse reply (spec.md §6 virtual
// filename / realFilename mapping happens in internal/shares, not here;
// this struct only carries what crosses the wire).
type SharedFile struct {
	Filename string
	Size     uint64
	Bitrate  uint32
	Length   uint32 // seconds
}

type SharedFileList struct {
	Files []SharedFile
}

func (SharedFileList) Code() uint32 { return PeerSharedFileList }

func (m SharedFileList) Marshal() []byte {
	w := NewWriter().Uint32(uint32(len(m.Files)))
	for _, f := range m.Files {
		w.String(f.Filename).Uint64(f.Size).Uint32(f.Bitrate).Uint32(f.Length)
	}
	return w.Payload()
}

func (m *SharedFileList) Unmarshal(r *Reader) error {
	n := r.Uint32()
	m.Files = make([]SharedFile, 0, n)
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		m.Files = append(m.Files, SharedFile{
			Filename: r.String(),
			Size:     r.Uint64(),
			Bitrate:  r.Uint32(),
			Length:   r.Uint32(),
		})
	}
	return r.Err()
}

type UserInfoRequest struct{}

func (UserInfoRequest) Code() uint32          { return PeerUserInfoRequest }
func (UserInfoRequest) Marshal() []byte       { return nil }
func (*UserInfoRequest) Unmarshal(*Reader) error { return nil }

type UserInfoReply struct {
	Description   string
	HasPicture    bool
	Picture       []byte
	UploadSlots   uint32
	QueueSize     uint32
	SlotsFree     bool
}

func (UserInfoReply) Code() uint32 { return PeerUserInfoReply }

func (m UserInfoReply) Marshal() []byte {
	w := NewWriter().String(m.Description).Bool(m.HasPicture)
	if m.HasPicture {
		w.Uint32(uint32(len(m.Picture))).Bytes(m.Picture)
	}
	w.Uint32(m.UploadSlots).Uint32(m.QueueSize).Bool(m.SlotsFree)
	return w.Payload()
}

func (m *UserInfoReply) Unmarshal(r *Reader) error {
	m.Description = r.String()
	m.HasPicture = r.Bool()
	if m.HasPicture {
		n := r.Uint32()
		if r.Err() == nil {
			if uint64(n) > uint64(r.buf.Len()) {
				r.fail(ErrShortPayload)
			} else {
				m.Picture = make([]byte, n)
				_, _ = r.buf.Read(m.Picture)
			}
		}
	}
	m.UploadSlots = r.Uint32()
	m.QueueSize = r.Uint32()
	m.SlotsFree = r.Bool()
	return r.Err()
}

// TransferDirection matches spec.md §4.2: 0 means "peer wants to
// download from us" (we'd be uploading), 1 means "peer wants to send us
// a file" (we'd be downloading).
type TransferDirection uint32

const (
	DirectionDownload TransferDirection = 0
	DirectionUpload   TransferDirection = 1
)

// TransferRequest is sent by either side to start a transfer handshake
// (spec.md §4.2 "Remote TransferRequest").
type TransferRequest struct {
	Direction TransferDirection
	Req       uint32
	Filename  string
	Size      uint64
}

func (TransferRequest) Code() uint32 { return PeerTransferRequest }

func (m TransferRequest) Marshal() []byte {
	w := NewWriter().Uint32(uint32(m.Direction)).Uint32(m.Req).String(m.Filename)
	if m.Direction == DirectionUpload {
		w.Uint64(m.Size)
	}
	return w.Payload()
}

func (m *TransferRequest) Unmarshal(r *Reader) error {
	m.Direction = TransferDirection(r.Uint32())
	m.Req = r.Uint32()
	m.Filename = r.String()
	if m.Direction == DirectionUpload {
		m.Size = r.Uint64()
	}
	return r.Err()
}

// TransferResponse answers a TransferRequest. Allow=false carries Reason;
// Allow=true carries Size.
type TransferResponse struct {
	Req    uint32
	Allow  bool
	Size   uint64
	Reason string
}

func (TransferResponse) Code() uint32 { return PeerTransferResponse }

func (m TransferResponse) Marshal() []byte {
	w := NewWriter().Uint32(m.Req).Bool(m.Allow)
	if m.Allow {
		w.Uint64(m.Size)
	} else {
		w.String(m.Reason)
	}
	return w.Payload()
}

func (m *TransferResponse) Unmarshal(r *Reader) error {
	m.Req = r.Uint32()
	m.Allow = r.Bool()
	if m.Allow {
		m.Size = r.Uint64()
	} else {
		m.Reason = r.String()
	}
	return r.Err()
}

// QueueUpload is the classic "please queue this file" request used when
// no TransferRequest handshake has started yet.
type QueueUpload struct{ Filename string }

func (QueueUpload) Code() uint32               { return PeerQueueUpload }
func (m QueueUpload) Marshal() []byte          { return NewWriter().String(m.Filename).Payload() }
func (m *QueueUpload) Unmarshal(r *Reader) error { m.Filename = r.String(); return r.Err() }

type PlaceInQueue struct {
	Filename string
	Place    uint32
}

func (PlaceInQueue) Code() uint32 { return PeerPlaceInQueue }

func (m PlaceInQueue) Marshal() []byte {
	return NewWriter().String(m.Filename).Uint32(m.Place).Payload()
}

func (m *PlaceInQueue) Unmarshal(r *Reader) error {
	m.Filename = r.String()
	m.Place = r.Uint32()
	return r.Err()
}

type PlaceInQueueRequest struct{ Filename string }

func (PlaceInQueueRequest) Code() uint32               { return PeerPlaceInQueueReq }
func (m PlaceInQueueRequest) Marshal() []byte          { return NewWriter().String(m.Filename).Payload() }
func (m *PlaceInQueueRequest) Unmarshal(r *Reader) error { m.Filename = r.String(); return r.Err() }

// UploadFailed notifies the downloading side that the uploader gave up
// (spec.md §4.2 "upload_failed from the remote").
type UploadFailed struct{ Filename string }

func (UploadFailed) Code() uint32               { return PeerUploadFailed }
func (m UploadFailed) Marshal() []byte          { return NewWriter().String(m.Filename).Payload() }
func (m *UploadFailed) Unmarshal(r *Reader) error { m.Filename = r.String(); return r.Err() }

// QueueFailed demotes a download with a peer-supplied reason (spec.md
// §4.2 "queue_failed from the remote").
type QueueFailed struct {
	Filename string
	Reason   string
}

func (QueueFailed) Code() uint32 { return PeerQueueFailed }

func (m QueueFailed) Marshal() []byte {
	return NewWriter().String(m.Filename).String(m.Reason).Payload()
}

func (m *QueueFailed) Unmarshal(r *Reader) error {
	m.Filename = r.String()
	m.Reason = r.String()
	return r.Err()
}

// UploadQueueNotification tells us a peer is about to push file(s) to
// us without having an existing queued download on our side (spec.md
// §4.2 "unsolicited upload"); it carries no payload and only marks the
// sender eligible to be accepted as Queued on their next TransferRequest.
type UploadQueueNotification struct{}

func (UploadQueueNotification) Code() uint32             { return PeerUploadQueueNotification }
func (UploadQueueNotification) Marshal() []byte          { return nil }
func (*UploadQueueNotification) Unmarshal(r *Reader) error { return nil }
