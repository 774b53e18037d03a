package wire

import "fmt"

// Server message codes. Numbering follows the long-standing SoulSeek
// server protocol (as documented by the pynicotine/museekd/slskd
// projects); only the subset spec.md actually names is implemented here.
const (
	ServerLogin               uint32 = 1
	ServerSetWaitPort         uint32 = 2
	ServerGetPeerAddress      uint32 = 3
	ServerWatchUser           uint32 = 5
	ServerUnwatchUser         uint32 = 6
	ServerGetUserStatus       uint32 = 7
	ServerConnectToPeer       uint32 = 18
	ServerCantConnectToPeer   uint32 = 1001
	ServerSetStatus           uint32 = 28
	ServerCheckPrivileges     uint32 = 92
	ServerAckNotifyPrivileges uint32 = 124
	ServerHaveNoParent        uint32 = 71
	ServerAcceptChildren      uint32 = 100
	ServerPossibleParents     uint32 = 102
	ServerSearchParent        uint32 = 73
	ServerTunneledMessage     uint32 = 68
	ServerAddThingILike       uint32 = 51
	ServerAddThingIHate       uint32 = 117
	ServerPrivilegedUsers     uint32 = 69
	ServerRelogged            uint32 = 41
)

func ServerCodeName(code uint32) string {
	switch code {
	case ServerLogin:
		return "Login"
	case ServerSetWaitPort:
		return "SetWaitPort"
	case ServerGetPeerAddress:
		return "GetPeerAddress"
	case ServerWatchUser:
		return "WatchUser"
	case ServerUnwatchUser:
		return "UnwatchUser"
	case ServerGetUserStatus:
		return "GetUserStatus"
	case ServerConnectToPeer:
		return "ConnectToPeer"
	case ServerCantConnectToPeer:
		return "CantConnectToPeer"
	case ServerSetStatus:
		return "SetStatus"
	case ServerCheckPrivileges:
		return "CheckPrivileges"
	case ServerAckNotifyPrivileges:
		return "AckNotifyPrivileges"
	case ServerHaveNoParent:
		return "HaveNoParent"
	case ServerAcceptChildren:
		return "AcceptChildren"
	case ServerPossibleParents:
		return "PossibleParents"
	case ServerSearchParent:
		return "SearchParent"
	case ServerTunneledMessage:
		return "TunneledMessage"
	case ServerPrivilegedUsers:
		return "PrivilegedUsers"
	case ServerRelogged:
		return "Relogged"
	case ServerAddThingIHate:
		return "AddThingIHate"
	default:
		return fmt.Sprintf("ServerCode(%d)", code)
	}
}

// Login is sent by the client immediately after the server connection
// opens. version/minorVersion are fixed per spec.md §4.1 (157, 19).
type Login struct {
	Username     string
	Password     string
	Version      int32
	HashedPass   string
	MinorVersion int32
}

func (Login) Code() uint32 { return ServerLogin }

func (m Login) Marshal() []byte {
	return NewWriter().
		String(m.Username).
		String(m.Password).
		Int32(m.Version).
		String(m.HashedPass).
		Int32(m.MinorVersion).
		Payload()
}

func (m *Login) Unmarshal(r *Reader) error {
	m.Username = r.String()
	m.Password = r.String()
	m.Version = r.Int32()
	m.HashedPass = r.String()
	m.MinorVersion = r.Int32()
	return r.Err()
}

// LoginReply is the server's response to Login: Success carries the
// MOTD and our externally-observed IP; failure carries Reason.
type LoginReply struct {
	Success bool
	Reason  string
	MOTD    string
	IP      uint32
}

func (LoginReply) Code() uint32 { return ServerLogin }

func (m LoginReply) Marshal() []byte {
	w := NewWriter().Bool(m.Success)
	if m.Success {
		w.String(m.MOTD).Uint32(m.IP)
	} else {
		w.String(m.Reason)
	}
	return w.Payload()
}

func (m *LoginReply) Unmarshal(r *Reader) error {
	m.Success = r.Bool()
	if m.Success {
		m.MOTD = r.String()
		m.IP = r.Uint32()
	} else {
		m.Reason = r.String()
	}
	return r.Err()
}

// SetWaitPort reports our listening port, sent after IncPort is observed.
type SetWaitPort struct{ Port uint32 }

func (SetWaitPort) Code() uint32               { return ServerSetWaitPort }
func (m SetWaitPort) Marshal() []byte          { return NewWriter().Uint32(m.Port).Payload() }
func (m *SetWaitPort) Unmarshal(r *Reader) error { m.Port = r.Uint32(); return r.Err() }

// GetPeerAddress requests a user's current address from the server.
type GetPeerAddress struct{ Username string }

func (GetPeerAddress) Code() uint32               { return ServerGetPeerAddress }
func (m GetPeerAddress) Marshal() []byte          { return NewWriter().String(m.Username).Payload() }
func (m *GetPeerAddress) Unmarshal(r *Reader) error { m.Username = r.String(); return r.Err() }

// GetPeerAddressReply answers GetPeerAddress. Port 0 means "address
// unknown to the server right now" (spec.md §4.1 port-0 retry).
type GetPeerAddressReply struct {
	Username string
	IP       uint32
	Port     uint32
}

func (GetPeerAddressReply) Code() uint32 { return ServerGetPeerAddress }

func (m GetPeerAddressReply) Marshal() []byte {
	return NewWriter().String(m.Username).Uint32(m.IP).Uint32(m.Port).Payload()
}

func (m *GetPeerAddressReply) Unmarshal(r *Reader) error {
	m.Username = r.String()
	m.IP = r.Uint32()
	m.Port = r.Uint32()
	return r.Err()
}

// WatchUser subscribes to status updates for a user (spec.md §4.1
// watchedUsers / AddUser).
type WatchUser struct{ Username string }

func (WatchUser) Code() uint32               { return ServerWatchUser }
func (m WatchUser) Marshal() []byte          { return NewWriter().String(m.Username).Payload() }
func (m *WatchUser) Unmarshal(r *Reader) error { m.Username = r.String(); return r.Err() }

// GetUserStatus reports a watched user's online status.
type GetUserStatus struct {
	Username string
	Status   uint32 // 0 offline, 1 away, 2 online
}

func (GetUserStatus) Code() uint32 { return ServerGetUserStatus }

func (m GetUserStatus) Marshal() []byte {
	return NewWriter().String(m.Username).Uint32(m.Status).Payload()
}

func (m *GetUserStatus) Unmarshal(r *Reader) error {
	m.Username = r.String()
	m.Status = r.Uint32()
	return r.Err()
}

// ConnectToPeer asks the server to tell user to connect back to us,
// carrying the reverse-handshake token (spec.md GLOSSARY).
type ConnectToPeer struct {
	Token    uint32
	Username string
	Kind     string // "P", "F", "D"
}

func (ConnectToPeer) Code() uint32 { return ServerConnectToPeer }

func (m ConnectToPeer) Marshal() []byte {
	return NewWriter().Uint32(m.Token).String(m.Username).String(m.Kind).Payload()
}

func (m *ConnectToPeer) Unmarshal(r *Reader) error {
	m.Token = r.Uint32()
	m.Username = r.String()
	m.Kind = r.String()
	return r.Err()
}

// ConnectToPeerInbound is the variant the server relays to the target
// user, additionally carrying the requester's address.
type ConnectToPeerInbound struct {
	Username     string
	Kind         string
	IP           uint32
	Port         uint32
	Token        uint32
	Privileged   bool
}

func (ConnectToPeerInbound) Code() uint32 { return ServerConnectToPeer }

func (m ConnectToPeerInbound) Marshal() []byte {
	return NewWriter().
		String(m.Username).String(m.Kind).
		Uint32(m.IP).Uint32(m.Port).
		Uint32(m.Token).Bool(m.Privileged).
		Payload()
}

func (m *ConnectToPeerInbound) Unmarshal(r *Reader) error {
	m.Username = r.String()
	m.Kind = r.String()
	m.IP = r.Uint32()
	m.Port = r.Uint32()
	m.Token = r.Uint32()
	m.Privileged = r.Bool()
	return r.Err()
}

// CantConnectToPeer is sent to the server when both direct and indirect
// connection attempts to a peer have failed.
type CantConnectToPeer struct {
	Token    uint32
	Username string
}

func (CantConnectToPeer) Code() uint32 { return ServerCantConnectToPeer }

func (m CantConnectToPeer) Marshal() []byte {
	return NewWriter().Uint32(m.Token).String(m.Username).Payload()
}

func (m *CantConnectToPeer) Unmarshal(r *Reader) error {
	m.Token = r.Uint32()
	m.Username = r.String()
	return r.Err()
}

// SetStatus pushes our away/online status (spec.md §4.1 Login.success
// side effects).
type SetStatus struct{ Status uint32 }

func (SetStatus) Code() uint32               { return ServerSetStatus }
func (m SetStatus) Marshal() []byte          { return NewWriter().Uint32(m.Status).Payload() }
func (m *SetStatus) Unmarshal(r *Reader) error { m.Status = r.Uint32(); return r.Err() }

type CheckPrivileges struct{}

func (CheckPrivileges) Code() uint32          { return ServerCheckPrivileges }
func (CheckPrivileges) Marshal() []byte       { return nil }
func (*CheckPrivileges) Unmarshal(*Reader) error { return nil }

type CheckPrivilegesReply struct{ TimeLeftSeconds uint32 }

func (CheckPrivilegesReply) Code() uint32 { return ServerCheckPrivileges }
func (m CheckPrivilegesReply) Marshal() []byte {
	return NewWriter().Uint32(m.TimeLeftSeconds).Payload()
}
func (m *CheckPrivilegesReply) Unmarshal(r *Reader) error {
	m.TimeLeftSeconds = r.Uint32()
	return r.Err()
}

// AckNotifyPrivileges acknowledges a privilege-notification token.
// spec.md §9 preserves the teacher's own uncertainty about why the same
// token is echoed back; behavior is preserved verbatim, not re-derived.
type AckNotifyPrivileges struct{ Token uint32 }

func (AckNotifyPrivileges) Code() uint32               { return ServerAckNotifyPrivileges }
func (m AckNotifyPrivileges) Marshal() []byte          { return NewWriter().Uint32(m.Token).Payload() }
func (m *AckNotifyPrivileges) Unmarshal(r *Reader) error { m.Token = r.Uint32(); return r.Err() }

// HaveNoParent tells the server whether we have a distributed parent.
type HaveNoParent struct{ NoParent bool }

func (HaveNoParent) Code() uint32               { return ServerHaveNoParent }
func (m HaveNoParent) Marshal() []byte          { return NewWriter().Bool(m.NoParent).Payload() }
func (m *HaveNoParent) Unmarshal(r *Reader) error { m.NoParent = r.Bool(); return r.Err() }

// AcceptChildren tells the server whether we accept distributed children.
// Always sent false per spec.md §4.1 (child forwarding unimplemented).
type AcceptChildren struct{ Accept bool }

func (AcceptChildren) Code() uint32               { return ServerAcceptChildren }
func (m AcceptChildren) Marshal() []byte          { return NewWriter().Bool(m.Accept).Payload() }
func (m *AcceptChildren) Unmarshal(r *Reader) error { m.Accept = r.Bool(); return r.Err() }

// PossibleParents lists up to 10 candidate distributed-network parents.
type PossibleParents struct {
	Parents []ParentCandidate
}

type ParentCandidate struct {
	Username string
	IP       uint32
	Port     uint32
}

func (PossibleParents) Code() uint32 { return ServerPossibleParents }

func (m PossibleParents) Marshal() []byte {
	w := NewWriter().Uint32(uint32(len(m.Parents)))
	for _, p := range m.Parents {
		w.String(p.Username).Uint32(p.IP).Uint32(p.Port)
	}
	return w.Payload()
}

func (m *PossibleParents) Unmarshal(r *Reader) error {
	n := r.Uint32()
	m.Parents = make([]ParentCandidate, 0, n)
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		m.Parents = append(m.Parents, ParentCandidate{
			Username: r.String(),
			IP:       r.Uint32(),
			Port:     r.Uint32(),
		})
	}
	return r.Err()
}

// SearchParent informs the server which address is our elected parent.
type SearchParent struct{ IP uint32 }

func (SearchParent) Code() uint32               { return ServerSearchParent }
func (m SearchParent) Marshal() []byte          { return NewWriter().Uint32(m.IP).Payload() }
func (m *SearchParent) Unmarshal(r *Reader) error { m.IP = r.Uint32(); return r.Err() }

// TunneledMessage is the deprecated server-relayed peer message path
// (spec.md §4.1 "server-peer tunnelled messages").
type TunneledMessage struct {
	Username string
	Req      uint32
	MsgCode  uint32
	IP       uint32
	Port     uint32
	Body     []byte
}

func (TunneledMessage) Code() uint32 { return ServerTunneledMessage }

func (m TunneledMessage) Marshal() []byte {
	return NewWriter().
		String(m.Username).Uint32(m.Req).Uint32(m.MsgCode).
		Uint32(m.IP).Uint32(m.Port).Bytes(m.Body).
		Payload()
}

func (m *TunneledMessage) Unmarshal(r *Reader) error {
	m.Username = r.String()
	m.Req = r.Uint32()
	m.MsgCode = r.Uint32()
	m.IP = r.Uint32()
	m.Port = r.Uint32()
	m.Body = r.Remaining()
	return r.Err()
}

type PrivilegedUsers struct{ Usernames []string }

func (PrivilegedUsers) Code() uint32 { return ServerPrivilegedUsers }

func (m PrivilegedUsers) Marshal() []byte {
	w := NewWriter().Uint32(uint32(len(m.Usernames)))
	for _, u := range m.Usernames {
		w.String(u)
	}
	return w.Payload()
}

func (m *PrivilegedUsers) Unmarshal(r *Reader) error {
	n := r.Uint32()
	m.Usernames = make([]string, 0, n)
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		m.Usernames = append(m.Usernames, r.String())
	}
	return r.Err()
}

// AddThingILike pushes one liked interest after login (spec.md §4.1
// "push user interests").
type AddThingILike struct{ Thing string }

func (AddThingILike) Code() uint32               { return ServerAddThingILike }
func (m AddThingILike) Marshal() []byte          { return NewWriter().String(m.Thing).Payload() }
func (m *AddThingILike) Unmarshal(r *Reader) error { m.Thing = r.String(); return r.Err() }

// AddThingIHate pushes one disliked interest after login (spec.md §4.1
// "push user interests"), the counterpart to AddThingILike.
type AddThingIHate struct{ Thing string }

func (AddThingIHate) Code() uint32               { return ServerAddThingIHate }
func (m AddThingIHate) Marshal() []byte          { return NewWriter().String(m.Thing).Payload() }
func (m *AddThingIHate) Unmarshal(r *Reader) error { m.Thing = r.String(); return r.Err() }

// Relogged notifies that our account logged in elsewhere; the processor
// must treat this as a manual disconnect (spec.md §7).
type Relogged struct{}

func (Relogged) Code() uint32          { return ServerRelogged }
func (Relogged) Marshal() []byte       { return nil }
func (*Relogged) Unmarshal(*Reader) error { return nil }
