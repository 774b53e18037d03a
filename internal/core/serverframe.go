package core

import (
	"github.com/prxssh/rabbitsoul/internal/config"
	"github.com/prxssh/rabbitsoul/internal/wire"
)

func (p *Processor) onServerFrame(ev EvServerFrame) {
	decoded, err := wire.Decode(ev.Frame)
	if err != nil {
		p.log.Warn("failed to decode server frame", "code", ev.Frame.Code, "error", err)
		return
	}
	if decoded.Message == nil {
		p.log.Debug("unknown server code, dropping", "code", wire.ServerCodeName(decoded.Code))
		return
	}

	switch m := decoded.Message.(type) {
	case *wire.LoginReply:
		p.onLoginReply(m)
	case *wire.GetPeerAddressReply:
		p.onGetPeerAddressReply(m)
	case *wire.WatchUser:
		// Echoed back by some server implementations; nothing to do.
	case *wire.GetUserStatus:
		p.onGetUserStatus(m)
	case *wire.ConnectToPeerInbound:
		p.onConnectToPeerInbound(m)
	case *wire.CantConnectToPeer:
		p.onServerCantConnectToPeer(m)
	case *wire.CheckPrivilegesReply:
		p.log.Info("privilege time remaining", "seconds", m.TimeLeftSeconds)
	case *wire.AckNotifyPrivileges:
		// TODO: same token is echoed back; protocol intent here is not
		// well understood, behavior preserved as observed.
		p.sendServer(&wire.AckNotifyPrivileges{Token: m.Token})
	case *wire.PossibleParents:
		p.onPossibleParents(m)
	case *wire.TunneledMessage:
		p.onTunneledMessage(m)
	case *wire.PrivilegedUsers:
		p.mu.Lock()
		for _, u := range m.Usernames {
			p.privilegedUsers[u] = struct{}{}
		}
		p.mu.Unlock()
	case *wire.Relogged:
		p.log.Warn("account logged in elsewhere, not reconnecting")
		p.Disconnect()
	default:
		p.log.Debug("unhandled server message", "code", wire.ServerCodeName(decoded.Code))
	}
}

func (p *Processor) onLoginReply(m *wire.LoginReply) {
	if !m.Success {
		p.log.Error("login failed", "reason", m.Reason)
		p.Disconnect()
		return
	}

	p.log.Info("login succeeded", "motd", m.MOTD)

	p.mu.Lock()
	p.loggedIn = true
	p.mu.Unlock()
	p.resetReconnectBackoff()

	cfg := config.Load()
	for _, like := range cfg.Likes {
		p.sendServer(&wire.AddThingILike{Thing: like})
	}
	for _, hate := range cfg.Dislikes {
		p.sendServer(&wire.AddThingIHate{Thing: hate})
	}

	p.sendServer(&wire.HaveNoParent{NoParent: true})
	p.sendServer(&wire.AcceptChildren{Accept: false})
	p.sendServer(&wire.CheckPrivileges{})
	p.sendServer(&wire.SetStatus{Status: uint32(StatusOnline)})

	if p.listenPort != 0 {
		p.sendServer(&wire.SetWaitPort{Port: p.listenPort})
	}

	if p.transfers != nil {
		p.transfers.OnServerSessionEstablished()
	}
}

func (p *Processor) onGetUserStatus(m *wire.GetUserStatus) {
	addr := p.addrBook.getOrCreate(m.Username)
	addr.Status = OnlineStatus(m.Status)
}

func (p *Processor) onServerCantConnectToPeer(m *wire.CantConnectToPeer) {
	p.log.Debug("server reports cant-connect", "user", m.Username, "token", m.Token)
}

// SetListenPort latches the observed listening port (IncPort) and, once
// logged in, forwards it to the server (spec.md §4.1).
func (p *Processor) SetListenPort(port uint32) {
	p.mu.Lock()
	p.listenPort = port
	loggedIn := p.loggedIn
	p.mu.Unlock()

	if loggedIn {
		p.sendServer(&wire.SetWaitPort{Port: port})
	}
}
