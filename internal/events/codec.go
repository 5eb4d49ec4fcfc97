package events

import (
	"fmt"

	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"github.com/fxamacker/cbor/v2"
)

// Wire layout: one byte format version, one byte envelope kind, then the
// CBOR encoded body.
const headerSize = 2

type syncWire struct {
	Group  string          `cbor:"group"`
	Height uint64          `cbor:"height"`
	Type   EventType       `cbor:"type"`
	Event  cbor.RawMessage `cbor:"event"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode serializes env with the current protocol version.
func Encode(env Envelope) ([]byte, error) {
	var (
		body []byte
		err  error
	)

	switch e := env.(type) {
	case Sync:
		body, err = encodeSync(e)
	case *Sync:
		body, err = encodeSync(*e)
	case Close, Invite, Profile, *Close, *Invite, *Profile:
		body, err = encMode.Marshal(e)
	default:
		return nil, fmt.Errorf("encode envelope %T: %w", env, common.ErrDecode)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Kind(), err)
	}

	out := make([]byte, 0, headerSize+len(body))
	out = append(out, common.ProtocolVersion, byte(env.Kind()))
	return append(out, body...), nil
}

func encodeSync(s Sync) ([]byte, error) {
	if s.Event == nil {
		return nil, fmt.Errorf("sync without event: %w", common.ErrDecode)
	}
	ev, err := encMode.Marshal(s.Event)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(syncWire{
		Group:  s.Group,
		Height: s.Height,
		Type:   s.Event.Type(),
		Event:  ev,
	})
}

// Decode parses a payload produced by Encode. Any malformed input, an
// unsupported version or an unknown kind yields common.ErrDecode.
func Decode(b []byte) (Envelope, error) {
	if len(b) < headerSize {
		return nil, fmt.Errorf("envelope too short (%d bytes): %w", len(b), common.ErrDecode)
	}
	if b[0] != common.ProtocolVersion {
		return nil, fmt.Errorf("unsupported envelope version %d: %w", b[0], common.ErrDecode)
	}

	kind, body := Kind(b[1]), b[headerSize:]

	switch kind {
	case KindSync:
		var w syncWire
		if err := unmarshal(body, &w); err != nil {
			return nil, err
		}
		ev, err := decodeEvent(w.Type, w.Event)
		if err != nil {
			return nil, err
		}
		return Sync{Group: w.Group, Height: w.Height, Event: ev}, nil
	case KindClose:
		var c Close
		if err := unmarshal(body, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindInvite:
		var i Invite
		if err := unmarshal(body, &i); err != nil {
			return nil, err
		}
		return i, nil
	case KindProfile:
		var p Profile
		if err := unmarshal(body, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown envelope kind %d: %w", kind, common.ErrDecode)
	}
}

func decodeEvent(t EventType, raw []byte) (Event, error) {
	switch t {
	case TypeMemberJoin:
		return decodeAs[MemberJoin](raw)
	case TypeMemberLeave:
		return decodeAs[MemberLeave](raw)
	case TypeMessageCreate:
		return decodeAs[MessageCreate](raw)
	case TypeGroupRename:
		return decodeAs[GroupRename](raw)
	case TypeGroupClose:
		return decodeAs[GroupClose](raw)
	default:
		return nil, fmt.Errorf("unknown event type %d: %w", t, common.ErrDecode)
	}
}

func decodeAs[T Event](raw []byte) (Event, error) {
	var e T
	if err := unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return e, nil
}

func unmarshal(b []byte, v any) error {
	if err := decMode.Unmarshal(b, v); err != nil {
		return fmt.Errorf("cbor: %v: %w", err, common.ErrDecode)
	}
	return nil
}
