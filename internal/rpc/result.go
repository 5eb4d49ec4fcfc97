// Package rpc defines the result bundle returned by every node operation and
// the method table that exposes those operations to a local UI.
package rpc

// Echo is a notification for the local UI, emitted on behalf of Identity.
type Echo struct {
	Identity string
	Method   string
	Params   []any
}

// Outbound is a payload addressed to one peer. Entity and Height identify the
// consensus entry it carries; Height is zero for heightless messages.
type Outbound struct {
	Entity  string
	To      string
	Height  uint64
	Payload []byte
}

// ControlKind tells the transport collaborator to start or stop serving an
// entity.
type ControlKind int

const (
	AddGroup ControlKind = iota + 1
	RemoveGroup
)

func (k ControlKind) String() string {
	switch k {
	case AddGroup:
		return "add-group"
	case RemoveGroup:
		return "remove-group"
	default:
		return "unknown"
	}
}

type Control struct {
	Kind   ControlKind
	Entity string
}

// HandleResult collects local echoes, outbound sends and control messages
// produced by one operation. Dispatch happens outside the core.
type HandleResult struct {
	Rpcs     []Echo
	Sends    []Outbound
	Controls []Control
}

func NewHandleResult() *HandleResult {
	return &HandleResult{}
}

// Rpc appends a UI notification.
func (r *HandleResult) Rpc(identity, method string, params ...any) {
	r.Rpcs = append(r.Rpcs, Echo{Identity: identity, Method: method, Params: params})
}

func (r *HandleResult) Send(o Outbound) {
	r.Sends = append(r.Sends, o)
}

func (r *HandleResult) Control(kind ControlKind, entity string) {
	r.Controls = append(r.Controls, Control{Kind: kind, Entity: entity})
}

// Merge appends everything in o to r. A nil o is ignored.
func (r *HandleResult) Merge(o *HandleResult) {
	if o == nil {
		return
	}
	r.Rpcs = append(r.Rpcs, o.Rpcs...)
	r.Sends = append(r.Sends, o.Sends...)
	r.Controls = append(r.Controls, o.Controls...)
}

// Empty reports whether the bundle carries nothing.
func (r *HandleResult) Empty() bool {
	return len(r.Rpcs) == 0 && len(r.Sends) == 0 && len(r.Controls) == 0
}
