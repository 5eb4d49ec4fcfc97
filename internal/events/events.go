// Package events defines the consensus events exchanged between peers and
// their wire envelopes.
//
// Both Event and Envelope are closed sum types: the unexported marker method
// keeps foreign types out, and every consumer switches over the concrete
// variants.
package events

import "github.com/dmitrijs2005/peerkeeper/internal/models"

// EventType tags an Event variant on the wire.
type EventType uint8

const (
	TypeMemberJoin EventType = iota + 1
	TypeMemberLeave
	TypeMessageCreate
	TypeGroupRename
	TypeGroupClose
)

// Event is a state-changing action on a group.
type Event interface {
	Type() EventType
}

// MemberJoin admits Member, reachable at Addr.
type MemberJoin struct {
	Member string `cbor:"member"`
	Addr   string `cbor:"addr"`
	Name   string `cbor:"name"`
	Avatar []byte `cbor:"avatar,omitempty"`
}

// MemberLeave removes Member.
type MemberLeave struct {
	Member string `cbor:"member"`
}

// Payload is the user content of a message.
type Payload struct {
	Type    models.MessageType `cbor:"type"`
	Content string             `cbor:"content"`
}

// MessageCreate posts Payload on behalf of Author.
type MessageCreate struct {
	Author    string  `cbor:"author"`
	Payload   Payload `cbor:"payload"`
	Timestamp int64   `cbor:"ts"`
}

type GroupRename struct {
	Name string `cbor:"name"`
}

// GroupClose dissolves the group.
type GroupClose struct{}

func (MemberJoin) Type() EventType    { return TypeMemberJoin }
func (MemberLeave) Type() EventType   { return TypeMemberLeave }
func (MessageCreate) Type() EventType { return TypeMessageCreate }
func (GroupRename) Type() EventType   { return TypeGroupRename }
func (GroupClose) Type() EventType    { return TypeGroupClose }

// Kind tags an Envelope variant on the wire.
type Kind uint8

const (
	KindSync Kind = iota + 1
	KindClose
	KindInvite
	KindProfile
)

func (k Kind) String() string {
	switch k {
	case KindSync:
		return "sync"
	case KindClose:
		return "close"
	case KindInvite:
		return "invite"
	case KindProfile:
		return "profile"
	default:
		return "unknown"
	}
}

// Envelope is a message between peers.
type Envelope interface {
	Kind() Kind
}

// Sync carries Event for Group. Height zero means the event has not been
// minted yet and is addressed to the group authority.
type Sync struct {
	Group  string
	Height uint64
	Event  Event
}

// Close tells members that the group is gone. It carries no height.
type Close struct {
	Group string `cbor:"group"`
}

// Invite asks the receiver to track Group, hosted by Authority, from Height.
// Members is the roster as of Height, the invitee included.
type Invite struct {
	Group     string         `cbor:"group"`
	Authority string         `cbor:"authority"`
	Name      string         `cbor:"name"`
	Height    uint64         `cbor:"height"`
	Members   []InviteMember `cbor:"members,omitempty"`
}

type InviteMember struct {
	ID     string `cbor:"id"`
	Addr   string `cbor:"addr"`
	Name   string `cbor:"name"`
	Height uint64 `cbor:"height"`
}

// Profile synchronizes an identity's public profile across its own devices.
type Profile struct {
	Account   string `cbor:"account"`
	Height    uint64 `cbor:"height"`
	Name      string `cbor:"name"`
	Avatar    []byte `cbor:"avatar,omitempty"`
	Wallet    string `cbor:"wallet,omitempty"`
	PubHeight int64  `cbor:"pub_height"`
}

func (Sync) Kind() Kind    { return KindSync }
func (Close) Kind() Kind   { return KindClose }
func (Invite) Kind() Kind  { return KindInvite }
func (Profile) Kind() Kind { return KindProfile }
