package wire

// Decoded is the tagged-union result of decoding a Frame: Message holds
// the concrete decoded type, Code/Channel identify which table entry
// produced it. Unknown codes decode to a nil Message with Code set, so
// callers can log-and-drop per spec.md §4.1 "failure semantics" without
// a type assertion panicking.
type Decoded struct {
	Channel Channel
	Code    uint32
	Message Message
}

type decoderFunc func() Message

var serverDecoders = map[uint32]decoderFunc{
	ServerLogin:               func() Message { return &LoginReply{} },
	ServerSetWaitPort:         func() Message { return &SetWaitPort{} },
	ServerGetPeerAddress:      func() Message { return &GetPeerAddressReply{} },
	ServerWatchUser:           func() Message { return &WatchUser{} },
	ServerGetUserStatus:       func() Message { return &GetUserStatus{} },
	ServerConnectToPeer:       func() Message { return &ConnectToPeerInbound{} },
	ServerCantConnectToPeer:   func() Message { return &CantConnectToPeer{} },
	ServerSetStatus:           func() Message { return &SetStatus{} },
	ServerCheckPrivileges:     func() Message { return &CheckPrivilegesReply{} },
	ServerAckNotifyPrivileges: func() Message { return &AckNotifyPrivileges{} },
	ServerHaveNoParent:        func() Message { return &HaveNoParent{} },
	ServerAcceptChildren:      func() Message { return &AcceptChildren{} },
	ServerPossibleParents:     func() Message { return &PossibleParents{} },
	ServerSearchParent:        func() Message { return &SearchParent{} },
	ServerTunneledMessage:     func() Message { return &TunneledMessage{} },
	ServerPrivilegedUsers:     func() Message { return &PrivilegedUsers{} },
	ServerRelogged:            func() Message { return &Relogged{} },
}

var peerDecoders = map[uint32]decoderFunc{
	PierceFireWallCode:    func() Message { return &PierceFireWall{} },
	PeerInitCode:          func() Message { return &PeerInit{} },
	PeerGetSharedFileList: func() Message { return &GetSharedFileList{} },
	PeerSharedFileList:    func() Message { return &SharedFileList{} },
	PeerUserInfoRequest:   func() Message { return &UserInfoRequest{} },
	PeerUserInfoReply:     func() Message { return &UserInfoReply{} },
	PeerTransferRequest:   func() Message { return &TransferRequest{} },
	PeerTransferResponse:  func() Message { return &TransferResponse{} },
	PeerQueueUpload:       func() Message { return &QueueUpload{} },
	PeerPlaceInQueue:      func() Message { return &PlaceInQueue{} },
	PeerPlaceInQueueReq:   func() Message { return &PlaceInQueueRequest{} },
	PeerUploadFailed:      func() Message { return &UploadFailed{} },
	PeerQueueFailed:       func() Message { return &QueueFailed{} },
	PeerUploadQueueNotification: func() Message { return &UploadQueueNotification{} },
}

var distribDecoders = map[uint32]decoderFunc{
	DistribPing:        func() Message { return &Ping{} },
	DistribSearch:      func() Message { return &Search{} },
	DistribBranchLevel: func() Message { return &BranchLevel{} },
	DistribBranchRoot:  func() Message { return &BranchRoot{} },
}

func tableFor(ch Channel) map[uint32]decoderFunc {
	switch ch {
	case ChannelServer:
		return serverDecoders
	case ChannelPeer:
		return peerDecoders
	case ChannelDistributed:
		return distribDecoders
	default:
		return nil
	}
}

// Decode looks up f.Code in the channel's table and unmarshals the
// payload into the matching Message type. An unknown code is not an
// error: Decoded.Message is nil and the caller decides whether to log
// and drop (spec.md §4.1).
func Decode(f *Frame) (Decoded, error) {
	table := tableFor(f.Channel)
	ctor, ok := table[f.Code]
	if !ok {
		return Decoded{Channel: f.Channel, Code: f.Code}, nil
	}

	msg := ctor()
	if err := msg.Unmarshal(NewReader(f.Payload)); err != nil {
		return Decoded{}, err
	}

	return Decoded{Channel: f.Channel, Code: f.Code, Message: msg}, nil
}
