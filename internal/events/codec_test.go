package events

import (
	"testing"

	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"github.com/dmitrijs2005/peerkeeper/internal/models"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_AllKinds(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{"join", Sync{Group: "g", Height: 3, Event: MemberJoin{Member: "m", Addr: "a", Name: "n", Avatar: []byte{1}}}},
		{"leave", Sync{Group: "g", Height: 4, Event: MemberLeave{Member: "m"}}},
		{"message", Sync{Group: "g", Event: MessageCreate{Author: "m", Payload: Payload{Type: models.MessageImage, Content: "c"}, Timestamp: 42}}},
		{"rename", Sync{Group: "g", Height: 9, Event: GroupRename{Name: "x"}}},
		{"group close", Sync{Group: "g", Height: 10, Event: GroupClose{}}},
		{"close", Close{Group: "g"}},
		{"invite", Invite{Group: "g", Authority: "peer", Name: "n", Height: 5}},
		{"invite with roster", Invite{Group: "g", Authority: "peer", Name: "n", Height: 5, Members: []InviteMember{
			{ID: "a", Addr: "a@h:1", Name: "A", Height: 1},
			{ID: "b", Addr: "b@h:2", Name: "B", Height: 5},
		}}},
		{"profile", Profile{Account: "acc", Height: 2, Name: "alice", Wallet: "w", PubHeight: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.env)
			require.NoError(t, err)
			assert.Equal(t, common.ProtocolVersion, b[0])
			assert.Equal(t, byte(tt.env.Kind()), b[1])

			got, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, tt.env, got)
		})
	}
}

func TestEncode_PointerEnvelope(t *testing.T) {
	b, err := Encode(&Sync{Group: "g", Height: 1, Event: GroupRename{Name: "n"}})
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, Sync{Group: "g", Height: 1, Event: GroupRename{Name: "n"}}, got)
}

func TestEncode_SyncWithoutEvent(t *testing.T) {
	_, err := Encode(Sync{Group: "g"})
	require.ErrorIs(t, err, common.ErrDecode)
}

func TestDecode_Errors(t *testing.T) {
	valid, err := Encode(Close{Group: "g"})
	require.NoError(t, err)

	wrongVersion := append([]byte{}, valid...)
	wrongVersion[0] = common.ProtocolVersion + 1

	unknownKind := append([]byte{}, valid...)
	unknownKind[1] = 0xEE

	badEvent, err := cbor.Marshal(syncWire{Group: "g", Height: 1, Type: 99, Event: []byte{0xa0}})
	require.NoError(t, err)
	badEvent = append([]byte{common.ProtocolVersion, byte(KindSync)}, badEvent...)

	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"header only version", []byte{common.ProtocolVersion}},
		{"wrong version", wrongVersion},
		{"unknown kind", unknownKind},
		{"garbage body", []byte{common.ProtocolVersion, byte(KindInvite), 0xff, 0x00}},
		{"unknown event type", badEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.in)
			require.ErrorIs(t, err, common.ErrDecode)
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "sync", KindSync.String())
	assert.Equal(t, "profile", KindProfile.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
