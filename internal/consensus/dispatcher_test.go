package consensus

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/peerkeeper/internal/blobstore"
	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"github.com/dmitrijs2005/peerkeeper/internal/events"
	"github.com/dmitrijs2005/peerkeeper/internal/logging"
	"github.com/dmitrijs2005/peerkeeper/internal/models"
	"github.com/dmitrijs2005/peerkeeper/internal/presence"
	"github.com/dmitrijs2005/peerkeeper/internal/rpc"
	"github.com/dmitrijs2005/peerkeeper/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = Identity{ID: "alice", Addr: "alice@127.0.0.1:7001", Name: "Alice", Avatar: []byte("a")}
	bob   = Identity{ID: "bob", Addr: "bob@127.0.0.1:7002", Name: "Bob"}
	carol = Identity{ID: "carol", Addr: "carol@127.0.0.1:7003", Name: "Carol"}
	dave  = Identity{ID: "dave", Addr: "dave@127.0.0.1:7004", Name: "Dave"}
	erin  = Identity{ID: "erin", Addr: "erin@127.0.0.1:7005", Name: "Erin"}
)

type node struct {
	d        *Dispatcher
	registry *presence.Registry
	blobs    *blobstore.FS
}

func newNode(t *testing.T, self Identity, dir string) *node {
	t.Helper()
	db, err := storage.OpenGroups(context.Background(), dir, self.ID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := presence.NewRegistry(self.Addr)
	blobs := blobstore.NewFS(dir, logging.NewNop())
	d := New(Config{
		Self:     self,
		DB:       db,
		Registry: reg,
		Blobs:    blobs,
		Logger:   logging.NewNop(),
		Now:      func() time.Time { return time.Unix(1700000000, 0) },
	})
	return &node{d: d, registry: reg, blobs: blobs}
}

func createGroup(t *testing.T, n *node, name string) (int64, string) {
	t.Helper()
	res, err := n.d.CreateGroup(context.Background(), name)
	require.NoError(t, err)
	require.Len(t, res.Rpcs, 1)
	params := res.Rpcs[0].Params
	return params[0].(int64), params[1].(string)
}

func member(id Identity) NewMember {
	return NewMember{ID: id.ID, Addr: id.Addr, Name: id.Name}
}

func syncSends(res *rpc.HandleResult) []rpc.Outbound {
	var out []rpc.Outbound
	for _, s := range res.Sends {
		if s.Height > 0 {
			out = append(out, s)
		}
	}
	return out
}

func recipients(sends []rpc.Outbound) []string {
	to := make([]string, 0, len(sends))
	for _, s := range sends {
		to = append(to, s.To)
	}
	sort.Strings(to)
	return to
}

func decode(t *testing.T, b []byte) events.Envelope {
	t.Helper()
	env, err := events.Decode(b)
	require.NoError(t, err)
	return env
}

func TestCreateGroup(t *testing.T) {
	n := newNode(t, alice, t.TempDir())
	ctx := context.Background()

	res, err := n.d.CreateGroup(ctx, "friends")
	require.NoError(t, err)
	gid := res.Rpcs[0].Params[1].(string)

	assert.Len(t, gid, 64)
	assert.Equal(t, LocalAuthority, n.d.Mode(gid))
	assert.Equal(t, []rpc.Control{{Kind: rpc.AddGroup, Entity: gid}}, res.Controls)
	assert.Empty(t, res.Sends)

	h, err := n.registry.Height(gid)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h)

	detail, err := n.d.Detail(ctx, res.Rpcs[0].Params[0].(int64))
	require.NoError(t, err)
	require.Len(t, detail.Members, 1)
	assert.Equal(t, "alice", detail.Members[0].MemberID)
	assert.Equal(t, uint64(1), detail.Group.Height)
	assert.Equal(t, alice.Addr, detail.Group.Owner)

	assert.Equal(t, []byte("a"), n.blobs.ReadAvatar(ctx, "alice", "alice"))

	_, err = n.d.CreateGroup(ctx, "")
	require.ErrorIs(t, err, common.ErrState)
}

func TestJoinMember_SelectiveFanOut(t *testing.T) {
	n := newNode(t, alice, t.TempDir())
	ctx := context.Background()
	id, gid := createGroup(t, n, "g")

	for _, m := range []Identity{bob, carol, dave} {
		_, err := n.d.JoinMember(ctx, id, member(m))
		require.NoError(t, err)
	}
	for _, m := range []Identity{bob, carol} {
		_, _, err := n.d.PeerOnline(ctx, gid, m.Addr)
		require.NoError(t, err)
	}

	res, err := n.d.JoinMember(ctx, id, member(erin))
	require.NoError(t, err)

	sends := syncSends(res)
	assert.Equal(t, []string{bob.Addr, carol.Addr}, recipients(sends))
	for _, s := range sends {
		assert.Equal(t, uint64(5), s.Height)
		env := decode(t, s.Payload).(events.Sync)
		assert.Equal(t, events.MemberJoin{Member: "erin", Addr: erin.Addr, Name: "Erin"}, env.Event)
	}

	// the new member gets an invite with the roster as of its admission
	var invites []events.Invite
	for _, s := range res.Sends {
		if inv, ok := decode(t, s.Payload).(events.Invite); ok {
			assert.Equal(t, erin.Addr, s.To)
			invites = append(invites, inv)
		}
	}
	require.Len(t, invites, 1)
	assert.Equal(t, uint64(5), invites[0].Height)
	assert.Equal(t, alice.Addr, invites[0].Authority)
	assert.Len(t, invites[0].Members, 5)
}

func TestJoinMember_ValidationBeforeMint(t *testing.T) {
	n := newNode(t, alice, t.TempDir())
	ctx := context.Background()
	id, gid := createGroup(t, n, "g")

	_, err := n.d.JoinMember(ctx, id, member(bob))
	require.NoError(t, err)

	_, err = n.d.JoinMember(ctx, id, member(bob))
	require.ErrorIs(t, err, common.ErrState)

	_, err = n.d.JoinMember(ctx, id, NewMember{ID: "carol", Addr: bob.Addr})
	require.ErrorIs(t, err, common.ErrState)

	_, err = n.d.JoinMember(ctx, id, NewMember{ID: "carol", Addr: "garbage"})
	require.ErrorIs(t, err, common.ErrDecode)

	_, err = n.d.JoinMember(ctx, 999, member(carol))
	require.ErrorIs(t, err, common.ErrNotFound)

	h, err := n.registry.Height(gid)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h)
}

func TestCreateMessage_ConcurrentHeights(t *testing.T) {
	n := newNode(t, alice, t.TempDir())
	ctx := context.Background()
	id, gid := createGroup(t, n, "g")

	before, err := n.registry.Height(gid)
	require.NoError(t, err)

	const count = 50
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := n.d.CreateMessage(ctx, id, events.Payload{Type: models.MessageString, Content: "hi"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	detail, err := n.d.Detail(ctx, id)
	require.NoError(t, err)
	require.Len(t, detail.Messages, count)

	for i, m := range detail.Messages {
		assert.Equal(t, before+uint64(i)+1, m.Height)
		assert.True(t, m.IsMe)
	}
	assert.Equal(t, before+count, detail.Group.Height)
}

func TestCreateMessage_RequiresMembership(t *testing.T) {
	n := newNode(t, alice, t.TempDir())
	ctx := context.Background()
	id, _ := createGroup(t, n, "g")

	// a remote authority removed us behind our back
	_, err := n.d.db.Exec(`DELETE FROM members WHERE mid = 'alice'`)
	require.NoError(t, err)

	_, err = n.d.CreateMessage(ctx, id, events.Payload{Content: "x"})
	require.ErrorIs(t, err, common.ErrState)
}

// joined sets up alice as authority and bob as a remote member that accepted
// the invite. It returns both nodes and the group ids on each side.
func joined(t *testing.T) (a, b *node, aliceRow, bobRow int64, gid string) {
	t.Helper()
	ctx := context.Background()
	a = newNode(t, alice, t.TempDir())
	b = newNode(t, bob, t.TempDir())

	aliceRow, gid = createGroup(t, a, "g")
	res, err := a.d.JoinMember(ctx, aliceRow, member(bob))
	require.NoError(t, err)

	var invite []byte
	for _, s := range res.Sends {
		if s.To == bob.Addr {
			invite = s.Payload
		}
	}
	require.NotNil(t, invite)

	notify, err := b.d.HandleInbound(ctx, alice.Addr, invite)
	require.NoError(t, err)
	require.Len(t, notify.Rpcs, 1)
	assert.Equal(t, MethodInvite, notify.Rpcs[0].Method)
	require.Len(t, b.d.PendingInvites(), 1)

	acc, err := b.d.AcceptInvite(ctx, gid)
	require.NoError(t, err)
	bobRow = acc.Rpcs[0].Params[0].(int64)
	require.Equal(t, RemoteAuthority, b.d.Mode(gid))
	require.Empty(t, b.d.PendingInvites())

	_, _, err = a.d.PeerOnline(ctx, gid, bob.Addr)
	require.NoError(t, err)
	return a, b, aliceRow, bobRow, gid
}

func TestRemoteAuthority_Forwarding(t *testing.T) {
	a, b, _, bobRow, gid := joined(t)
	ctx := context.Background()

	before, err := b.registry.Height(gid)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), before)

	res, err := b.d.CreateMessage(ctx, bobRow, events.Payload{Type: models.MessageString, Content: "hello"})
	require.NoError(t, err)
	require.Len(t, res.Sends, 1)
	assert.Equal(t, alice.Addr, res.Sends[0].To)
	assert.Zero(t, res.Sends[0].Height)

	after, err := b.registry.Height(gid)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	detail, err := b.d.Detail(ctx, bobRow)
	require.NoError(t, err)
	assert.Empty(t, detail.Messages)
	assert.Equal(t, uint64(2), detail.Group.Height)

	// the authority mints it and sends the Sync back to the originator
	minted, err := a.d.HandleInbound(ctx, bob.Addr, res.Sends[0].Payload)
	require.NoError(t, err)
	sends := syncSends(minted)
	require.Len(t, sends, 1)
	assert.Equal(t, bob.Addr, sends[0].To)
	assert.Equal(t, uint64(3), sends[0].Height)

	applied, err := b.d.HandleInbound(ctx, alice.Addr, sends[0].Payload)
	require.NoError(t, err)
	require.Len(t, applied.Rpcs, 1)
	assert.Equal(t, MethodMessageCreate, applied.Rpcs[0].Method)

	detail, err = b.d.Detail(ctx, bobRow)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, "hello", detail.Messages[0].Content)
	assert.True(t, detail.Messages[0].IsMe)
	assert.Equal(t, uint64(3), detail.Group.Height)
}

func TestRemoteAuthority_OrderedIdempotentApply(t *testing.T) {
	a, b, aliceRow, bobRow, gid := joined(t)
	ctx := context.Background()

	var payloads [][]byte
	for _, name := range []string{"one", "two", "three"} {
		res, err := a.d.RenameGroup(ctx, aliceRow, name)
		require.NoError(t, err)
		sends := syncSends(res)
		require.Len(t, sends, 1)
		payloads = append(payloads, sends[0].Payload)
	}

	// heights 3, 4, 5 arrive as 5, 3, 3, 4
	res, err := b.d.HandleInbound(ctx, alice.Addr, payloads[2])
	require.NoError(t, err)
	assert.Empty(t, res.Rpcs)

	res, err = b.d.HandleInbound(ctx, alice.Addr, payloads[0])
	require.NoError(t, err)
	assert.Len(t, res.Rpcs, 1)

	res, err = b.d.HandleInbound(ctx, alice.Addr, payloads[0])
	require.NoError(t, err)
	assert.Empty(t, res.Rpcs)

	res, err = b.d.HandleInbound(ctx, alice.Addr, payloads[1])
	require.NoError(t, err)
	require.Len(t, res.Rpcs, 2)
	assert.Equal(t, []any{bobRow, "two"}, res.Rpcs[0].Params)
	assert.Equal(t, []any{bobRow, "three"}, res.Rpcs[1].Params)

	detail, err := b.d.Detail(ctx, bobRow)
	require.NoError(t, err)
	assert.Equal(t, "three", detail.Group.Name)
	assert.Equal(t, uint64(5), detail.Group.Height)

	h, err := b.registry.Height(gid)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), h)
}

func TestRemoteAuthority_RejectsNonAuthority(t *testing.T) {
	a, b, aliceRow, _, _ := joined(t)
	ctx := context.Background()

	res, err := a.d.RenameGroup(ctx, aliceRow, "x")
	require.NoError(t, err)
	payload := syncSends(res)[0].Payload

	_, err = b.d.HandleInbound(ctx, carol.Addr, payload)
	require.ErrorIs(t, err, common.ErrState)

	_, err = b.d.HandleInbound(ctx, alice.Addr, []byte{0xff})
	require.ErrorIs(t, err, common.ErrDecode)
}

func TestAuthority_ValidatesForwarded(t *testing.T) {
	a, b, _, bobRow, gid := joined(t)
	ctx := context.Background()

	forged, err := events.Encode(events.Sync{Group: gid, Event: events.MessageCreate{Author: "alice", Payload: events.Payload{Content: "x"}}})
	require.NoError(t, err)
	_, err = a.d.HandleInbound(ctx, bob.Addr, forged)
	require.ErrorIs(t, err, common.ErrState)

	msg, err := events.Encode(events.Sync{Group: gid, Event: events.MessageCreate{Author: "carol"}})
	require.NoError(t, err)
	_, err = a.d.HandleInbound(ctx, carol.Addr, msg)
	require.ErrorIs(t, err, common.ErrState)

	kick, err := events.Encode(events.Sync{Group: gid, Event: events.MemberLeave{Member: "alice"}})
	require.NoError(t, err)
	_, err = a.d.HandleInbound(ctx, bob.Addr, kick)
	require.ErrorIs(t, err, common.ErrState)

	closing, err := events.Encode(events.Sync{Group: gid, Event: events.GroupClose{}})
	require.NoError(t, err)
	_, err = a.d.HandleInbound(ctx, bob.Addr, closing)
	require.ErrorIs(t, err, common.ErrState)

	minted, err := events.Encode(events.Sync{Group: gid, Height: 9, Event: events.GroupRename{Name: "x"}})
	require.NoError(t, err)
	_, err = a.d.HandleInbound(ctx, bob.Addr, minted)
	require.ErrorIs(t, err, common.ErrState)

	h, err := a.registry.Height(gid)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h)

	// a remote member may invite someone through the authority
	res, err := b.d.JoinMember(ctx, bobRow, member(carol))
	require.NoError(t, err)
	require.Len(t, res.Sends, 1)
	out, err := a.d.HandleInbound(ctx, bob.Addr, res.Sends[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, []string{bob.Addr}, recipients(syncSends(out)))
	assert.Len(t, out.Sends, 2)
}

func TestLeaveMember(t *testing.T) {
	a, b, aliceRow, bobRow, gid := joined(t)
	ctx := context.Background()

	_, err := a.d.LeaveMember(ctx, aliceRow, "alice")
	require.ErrorIs(t, err, common.ErrState)

	_, err = a.d.LeaveMember(ctx, aliceRow, "carol")
	require.ErrorIs(t, err, common.ErrState)

	_, err = b.d.LeaveMember(ctx, bobRow, "alice")
	require.ErrorIs(t, err, common.ErrState)

	res, err := a.d.LeaveMember(ctx, aliceRow, "bob")
	require.NoError(t, err)
	sends := syncSends(res)
	require.Len(t, sends, 1)
	assert.Equal(t, bob.Addr, sends[0].To)

	peers, err := a.registry.Peers(gid)
	require.NoError(t, err)
	assert.Equal(t, []string{alice.Addr}, peers)

	// bob applies its own removal and forgets the group
	applied, err := b.d.HandleInbound(ctx, alice.Addr, sends[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, MethodClose, applied.Rpcs[len(applied.Rpcs)-1].Method)
	assert.Equal(t, NotTracked, b.d.Mode(gid))

	_, err = b.d.Detail(ctx, bobRow)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestDeleteGroup_Local(t *testing.T) {
	a, b, aliceRow, bobRow, gid := joined(t)
	ctx := context.Background()

	res, err := a.d.DeleteGroup(ctx, aliceRow)
	require.NoError(t, err)
	require.Len(t, res.Sends, 1)
	assert.Equal(t, bob.Addr, res.Sends[0].To)
	assert.Zero(t, res.Sends[0].Height)
	assert.Equal(t, events.Close{Group: gid}, decode(t, res.Sends[0].Payload))
	assert.Equal(t, []rpc.Control{{Kind: rpc.RemoveGroup, Entity: gid}}, res.Controls)
	assert.Equal(t, NotTracked, a.d.Mode(gid))
	assert.False(t, a.registry.Has(gid))

	_, err = a.d.Detail(ctx, aliceRow)
	require.ErrorIs(t, err, common.ErrNotFound)

	// a close from anyone but the authority is refused
	_, err = b.d.HandleInbound(ctx, carol.Addr, res.Sends[0].Payload)
	require.ErrorIs(t, err, common.ErrState)

	closed, err := b.d.HandleInbound(ctx, alice.Addr, res.Sends[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, MethodClose, closed.Rpcs[0].Method)
	assert.Equal(t, NotTracked, b.d.Mode(gid))

	_, err = b.d.Detail(ctx, bobRow)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestDeleteGroup_RemoteLeaves(t *testing.T) {
	a, b, _, bobRow, gid := joined(t)
	ctx := context.Background()

	res, err := b.d.DeleteGroup(ctx, bobRow)
	require.NoError(t, err)
	require.Len(t, res.Sends, 1)
	assert.Equal(t, alice.Addr, res.Sends[0].To)
	assert.Equal(t, events.Sync{Group: gid, Event: events.MemberLeave{Member: "bob"}}, decode(t, res.Sends[0].Payload))
	assert.Empty(t, res.Controls)
	assert.Equal(t, NotTracked, b.d.Mode(gid))

	out, err := a.d.HandleInbound(ctx, bob.Addr, res.Sends[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, []string{bob.Addr}, recipients(syncSends(out)))

	peers, err := a.registry.Peers(gid)
	require.NoError(t, err)
	assert.Equal(t, []string{alice.Addr}, peers)
}

func TestLoad_RestoresModes(t *testing.T) {
	ctx := context.Background()
	dirA, dirB := t.TempDir(), t.TempDir()

	a := newNode(t, alice, dirA)
	aliceRow, gid := createGroup(t, a, "g")
	res, err := a.d.JoinMember(ctx, aliceRow, member(bob))
	require.NoError(t, err)

	b := newNode(t, bob, dirB)
	_, err = b.d.HandleInbound(ctx, alice.Addr, res.Sends[len(res.Sends)-1].Payload)
	require.NoError(t, err)
	_, err = b.d.AcceptInvite(ctx, gid)
	require.NoError(t, err)

	a2 := newNode(t, alice, dirA)
	require.NoError(t, a2.d.Load(ctx))
	assert.Equal(t, LocalAuthority, a2.d.Mode(gid))
	h, err := a2.registry.Height(gid)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h)
	peers, err := a2.registry.Peers(gid)
	require.NoError(t, err)
	assert.Equal(t, []string{alice.Addr, bob.Addr}, peers)

	b2 := newNode(t, bob, dirB)
	require.NoError(t, b2.d.Load(ctx))
	assert.Equal(t, RemoteAuthority, b2.d.Mode(gid))
	assert.Equal(t, []string{gid}, b2.d.Tracked(RemoteAuthority))
}

func TestAcceptInvite_Errors(t *testing.T) {
	_, b, _, _, gid := joined(t)
	ctx := context.Background()

	_, err := b.d.AcceptInvite(ctx, "unknown")
	require.ErrorIs(t, err, common.ErrNotFound)

	// invites for tracked groups are ignored
	inv, err := events.Encode(events.Invite{Group: gid, Authority: alice.Addr, Height: 9})
	require.NoError(t, err)
	res, err := b.d.HandleInbound(ctx, alice.Addr, inv)
	require.NoError(t, err)
	assert.True(t, res.Empty())

	relayed, err := events.Encode(events.Invite{Group: "other", Authority: alice.Addr})
	require.NoError(t, err)
	_, err = b.d.HandleInbound(ctx, carol.Addr, relayed)
	require.ErrorIs(t, err, common.ErrState)
}

func TestPeerPresence(t *testing.T) {
	n := newNode(t, alice, t.TempDir())
	ctx := context.Background()
	id, gid := createGroup(t, n, "g")
	_, err := n.d.JoinMember(ctx, id, member(bob))
	require.NoError(t, err)

	last, res, err := n.d.PeerOnline(ctx, gid, bob.Addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)
	require.Len(t, res.Rpcs, 1)
	assert.Equal(t, MethodMemberOnline, res.Rpcs[0].Method)

	last2, res, err := n.d.PeerOnline(ctx, gid, bob.Addr)
	require.NoError(t, err)
	assert.Equal(t, last, last2)
	assert.Empty(t, res.Rpcs)

	_, res, err = n.d.PeerOffline(ctx, gid, bob.Addr)
	require.NoError(t, err)
	assert.Equal(t, MethodMemberOffline, res.Rpcs[0].Method)

	_, _, err = n.d.PeerOnline(ctx, gid, carol.Addr)
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, n.d.Acknowledge(ctx, gid, bob.Addr, 2))
}

func TestInvite_HoldsSyncsUntilAccepted(t *testing.T) {
	ctx := context.Background()
	a := newNode(t, alice, t.TempDir())
	b := newNode(t, bob, t.TempDir())

	aliceRow, gid := createGroup(t, a, "g")
	res, err := a.d.JoinMember(ctx, aliceRow, member(bob))
	require.NoError(t, err)
	_, err = b.d.HandleInbound(ctx, alice.Addr, res.Sends[len(res.Sends)-1].Payload)
	require.NoError(t, err)

	// bob is reachable before it decides on the invite
	_, _, err = a.d.PeerOnline(ctx, gid, bob.Addr)
	require.NoError(t, err)

	var payloads [][]byte
	for _, text := range []string{"three", "four", "five", "six"} {
		res, err := a.d.CreateMessage(ctx, aliceRow, events.Payload{Type: models.MessageString, Content: text})
		require.NoError(t, err)
		sends := syncSends(res)
		require.Len(t, sends, 1)
		assert.Equal(t, bob.Addr, sends[0].To)
		payloads = append(payloads, sends[0].Payload)
	}

	for _, p := range [][]byte{payloads[1], payloads[0], payloads[0]} {
		held, err := b.d.HandleInbound(ctx, alice.Addr, p)
		require.NoError(t, err)
		assert.Empty(t, held.Rpcs)
	}
	assert.Equal(t, NotTracked, b.d.Mode(gid))

	_, err = b.d.HandleInbound(ctx, carol.Addr, payloads[2])
	require.ErrorIs(t, err, common.ErrState)

	acc, err := b.d.AcceptInvite(ctx, gid)
	require.NoError(t, err)
	require.Len(t, acc.Rpcs, 3)
	assert.Equal(t, MethodInviteAccept, acc.Rpcs[0].Method)
	assert.Equal(t, MethodMessageCreate, acc.Rpcs[1].Method)
	assert.Equal(t, MethodMessageCreate, acc.Rpcs[2].Method)
	bobRow := acc.Rpcs[0].Params[0].(int64)

	for _, p := range payloads[2:] {
		applied, err := b.d.HandleInbound(ctx, alice.Addr, p)
		require.NoError(t, err)
		assert.Len(t, applied.Rpcs, 1)
	}

	detail, err := b.d.Detail(ctx, bobRow)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 4)
	for i, m := range detail.Messages {
		assert.Equal(t, uint64(i+3), m.Height)
		assert.False(t, m.IsMe)
	}
	assert.Equal(t, "three", detail.Messages[0].Content)
	assert.Equal(t, uint64(6), detail.Group.Height)

	h, err := b.registry.Height(gid)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), h)
}

func TestHandleSync_UnknownGroup(t *testing.T) {
	b := newNode(t, bob, t.TempDir())

	payload, err := events.Encode(events.Sync{Group: "nope", Height: 3, Event: events.GroupRename{Name: "x"}})
	require.NoError(t, err)
	_, err = b.d.HandleInbound(context.Background(), alice.Addr, payload)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestMint_FailedWriteLeavesNoGap(t *testing.T) {
	a, b, aliceRow, bobRow, gid := joined(t)
	ctx := context.Background()

	_, err := a.d.db.Exec(`CREATE TRIGGER reject_messages BEFORE INSERT ON messages
		BEGIN SELECT RAISE(ABORT, 'store unavailable'); END`)
	require.NoError(t, err)

	_, err = a.d.CreateMessage(ctx, aliceRow, events.Payload{Type: models.MessageString, Content: "lost"})
	require.Error(t, err)

	h, err := a.registry.Height(gid)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h)

	_, err = a.d.db.Exec(`DROP TRIGGER reject_messages`)
	require.NoError(t, err)

	res, err := a.d.CreateMessage(ctx, aliceRow, events.Payload{Type: models.MessageString, Content: "kept"})
	require.NoError(t, err)
	sends := syncSends(res)
	require.Len(t, sends, 1)
	assert.Equal(t, uint64(3), sends[0].Height)

	applied, err := b.d.HandleInbound(ctx, alice.Addr, sends[0].Payload)
	require.NoError(t, err)
	require.Len(t, applied.Rpcs, 1)

	detail, err := b.d.Detail(ctx, bobRow)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, "kept", detail.Messages[0].Content)
	assert.Equal(t, uint64(3), detail.Group.Height)
}

func TestJoinMember_ConcurrentSameMember(t *testing.T) {
	n := newNode(t, alice, t.TempDir())
	ctx := context.Background()
	id, gid := createGroup(t, n, "g")

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := n.d.JoinMember(ctx, id, member(carol))
			if err != nil {
				assert.ErrorIs(t, err, common.ErrState)
				return
			}
			mu.Lock()
			admitted++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
	h, err := n.registry.Height(gid)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h)

	detail, err := n.d.Detail(ctx, id)
	require.NoError(t, err)
	assert.Len(t, detail.Members, 2)
	assert.Equal(t, uint64(2), detail.Group.Height)
}

func TestRenameGroup_AfterDelete(t *testing.T) {
	n := newNode(t, alice, t.TempDir())
	ctx := context.Background()
	id, gid := createGroup(t, n, "g")

	g, tr, err := n.d.resolve(ctx, id)
	require.NoError(t, err)
	_, err = n.d.DeleteGroup(ctx, id)
	require.NoError(t, err)

	// a rename that resolved the group before the delete must not mint
	_, _, err = n.d.mint(ctx, g, tr, events.GroupRename{Name: "late"}, nil, nil)
	require.ErrorIs(t, err, common.ErrState)
	assert.False(t, n.registry.Has(gid))
}

func TestAuthority_RejectedForwardKeepsPresence(t *testing.T) {
	a, _, _, _, gid := joined(t)
	ctx := context.Background()

	_, _, err := a.d.PeerOffline(ctx, gid, bob.Addr)
	require.NoError(t, err)

	forged, err := events.Encode(events.Sync{Group: gid, Event: events.MessageCreate{Author: "alice", Payload: events.Payload{Content: "x"}}})
	require.NoError(t, err)
	_, err = a.d.HandleInbound(ctx, bob.Addr, forged)
	require.ErrorIs(t, err, common.ErrState)
	assert.False(t, a.registry.IsOnline(gid, bob.Addr))

	valid, err := events.Encode(events.Sync{Group: gid, Event: events.MessageCreate{Author: "bob", Payload: events.Payload{Content: "y"}}})
	require.NoError(t, err)
	out, err := a.d.HandleInbound(ctx, bob.Addr, valid)
	require.NoError(t, err)
	assert.True(t, a.registry.IsOnline(gid, bob.Addr))
	assert.Equal(t, []string{bob.Addr}, recipients(syncSends(out)))
}

func TestAcknowledge_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a := newNode(t, alice, dir)
	id, gid := createGroup(t, a, "g")
	_, err := a.d.JoinMember(ctx, id, member(bob))
	require.NoError(t, err)
	_, err = a.d.CreateMessage(ctx, id, events.Payload{Type: models.MessageString, Content: "hi"})
	require.NoError(t, err)

	require.NoError(t, a.d.Acknowledge(ctx, gid, bob.Addr, 3))
	require.NoError(t, a.d.Acknowledge(ctx, gid, bob.Addr, 2))

	restarted := newNode(t, alice, dir)
	require.NoError(t, restarted.d.Load(ctx))
	last, err := restarted.registry.LastKnown(gid, bob.Addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)
}
