package models

// Group is a group chat known to this node.
//
// When Local is true this node owns the group and is the only peer that mints
// heights for it; otherwise Owner is the address of the authority peer.
type Group struct {
	ID       int64
	GID      string
	Owner    string
	Name     string
	Avatar   []byte
	Local    bool
	Height   uint64
	Datetime int64
}

func (g *Group) ToRPC() []any {
	return []any{g.ID, g.GID, g.Owner, g.Name, g.Local, g.Height, g.Datetime}
}

// Member is a group member admitted at Height.
type Member struct {
	ID       int64
	GroupID  int64
	MemberID string
	Addr     string
	Name     string
	Height   uint64
	Datetime int64
}

func (m *Member) ToRPC() []any {
	return []any{m.ID, m.GroupID, m.MemberID, m.Addr, m.Name, m.Height}
}

// MessageType classifies message content.
type MessageType int64

const (
	MessageString MessageType = iota
	MessageImage
	MessageFile
	MessageContact
	MessageInvite
)

// MessageTypeFromInt maps a stored value to a MessageType, treating unknown
// values as plain text.
func MessageTypeFromInt(v int64) MessageType {
	if v < int64(MessageString) || v > int64(MessageInvite) {
		return MessageString
	}
	return MessageType(v)
}

// Message is a group message created at Height.
type Message struct {
	ID          int64
	GroupID     int64
	MemberRowID int64
	IsMe        bool
	Type        MessageType
	Content     string
	Height      uint64
	Datetime    int64
}

func (m *Message) ToRPC() []any {
	return []any{m.ID, m.GroupID, m.MemberRowID, m.IsMe, m.Type, m.Content, m.Height, m.Datetime}
}
