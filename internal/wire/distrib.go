package wire

import "fmt"

// Distributed-channel message codes, exchanged over kind=D sockets
// (spec.md §4.1 "parent peer logic"). Distributed frames use a 1-byte
// code (see codeWidth in wire.go), the one place SoulSeek departs from
// the 4-byte code width used on the other two channels.
const (
	DistribPing         uint32 = 0
	DistribSearch       uint32 = 3
	DistribBranchLevel  uint32 = 4
	DistribBranchRoot   uint32 = 5
	DistribChildDepth   uint32 = 7
)

func DistribCodeName(code uint32) string {
	switch code {
	case DistribPing:
		return "Ping"
	case DistribSearch:
		return "Search"
	case DistribBranchLevel:
		return "BranchLevel"
	case DistribBranchRoot:
		return "BranchRoot"
	case DistribChildDepth:
		return "ChildDepth"
	default:
		return fmt.Sprintf("DistribCode(%d)", code)
	}
}

// BranchLevel is sent by a candidate parent to announce its depth in
// the distributed network tree. The first one to arrive while we have
// no parent wins (spec.md §4.1 "On DistribBranchLevel arriving... and
// hasParent=false, mark that peer as parent").
type BranchLevel struct{ Level uint32 }

func (BranchLevel) Code() uint32               { return DistribBranchLevel }
func (m BranchLevel) Marshal() []byte          { return NewWriter().Uint32(m.Level).Payload() }
func (m *BranchLevel) Unmarshal(r *Reader) error { m.Level = r.Uint32(); return r.Err() }

type BranchRoot struct{ Username string }

func (BranchRoot) Code() uint32               { return DistribBranchRoot }
func (m BranchRoot) Marshal() []byte          { return NewWriter().String(m.Username).Payload() }
func (m *BranchRoot) Unmarshal(r *Reader) error { m.Username = r.String(); return r.Err() }

// Search is a distributed-search frame forwarded down the parent tree.
// Child forwarding is explicitly unimplemented (spec.md §4.1, §9); this
// type exists so an incoming Search can be decoded and logged/dropped
// rather than rejected as an unknown code.
type Search struct {
	Username string
	Token    uint32
	Query    string
}

func (Search) Code() uint32 { return DistribSearch }

func (m Search) Marshal() []byte {
	return NewWriter().String(m.Username).Uint32(m.Token).String(m.Query).Payload()
}

func (m *Search) Unmarshal(r *Reader) error {
	m.Username = r.String()
	m.Token = r.Uint32()
	m.Query = r.String()
	return r.Err()
}

type Ping struct{}

func (Ping) Code() uint32          { return DistribPing }
func (Ping) Marshal() []byte       { return nil }
func (*Ping) Unmarshal(*Reader) error { return nil }
