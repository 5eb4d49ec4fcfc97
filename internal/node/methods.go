package node

import (
	"context"

	"github.com/dmitrijs2005/peerkeeper/internal/accounts"
	"github.com/dmitrijs2005/peerkeeper/internal/consensus"
	"github.com/dmitrijs2005/peerkeeper/internal/events"
	"github.com/dmitrijs2005/peerkeeper/internal/models"
	"github.com/dmitrijs2005/peerkeeper/internal/rpc"
)

// Account methods. Group methods share their names with the consensus
// notifications they produce.
const (
	MethodAccountList = "account-list"
	MethodPin         = "account-pin"
	MethodMnemonic    = "account-mnemonic"
	MethodProfile     = "account-profile"
	MethodDeviceAdd   = "account-device-add"
	MethodGroupList   = "group-list"
	MethodGroupDetail = "group-detail"
)

func (n *Node) buildMethods() *rpc.Handler {
	h := rpc.NewHandler()

	h.AddMethod(MethodAccountList, n.accountList)
	h.AddMethod(MethodPin, n.accountPin)
	h.AddMethod(MethodMnemonic, n.accountMnemonic)
	h.AddMethod(MethodProfile, n.withSession(accountProfile))
	h.AddMethod(MethodDeviceAdd, n.withSession(deviceAdd))

	h.AddMethod(MethodGroupList, n.withSession(groupList))
	h.AddMethod(MethodGroupDetail, n.withSession(groupDetail))
	h.AddMethod(consensus.MethodCreate, n.withSession(groupCreate))
	h.AddMethod(consensus.MethodMemberJoin, n.withSession(groupMemberJoin))
	h.AddMethod(consensus.MethodMemberLeave, n.withSession(groupMemberLeave))
	h.AddMethod(consensus.MethodMessageCreate, n.withSession(groupMessageCreate))
	h.AddMethod(consensus.MethodName, n.withSession(groupName))
	h.AddMethod(consensus.MethodDelete, n.withSession(groupDelete))
	h.AddMethod(consensus.MethodInviteAccept, n.withSession(groupInviteAccept))

	return h
}

type sessionMethod func(ctx context.Context, s *Session, params rpc.Params) (*rpc.HandleResult, error)

func (n *Node) withSession(fn sessionMethod) rpc.MethodFunc {
	return func(ctx context.Context, caller string, params rpc.Params) (*rpc.HandleResult, error) {
		s, err := n.session(caller)
		if err != nil {
			return nil, err
		}
		return fn(ctx, s, params)
	}
}

func (n *Node) accountList(ctx context.Context, caller string, _ rpc.Params) (*rpc.HandleResult, error) {
	list, err := n.accounts.List(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]any, 0, len(list))
	for i := range list {
		rows = append(rows, list[i].ToRPC())
	}
	res := rpc.NewHandleResult()
	res.Rpc(caller, MethodAccountList, rows...)
	return res, nil
}

// [old pin, new pin]
func (n *Node) accountPin(ctx context.Context, caller string, params rpc.Params) (*rpc.HandleResult, error) {
	oldPin, err := params.String(0)
	if err != nil {
		return nil, err
	}
	newPin, err := params.String(1)
	if err != nil {
		return nil, err
	}
	if err := n.accounts.ChangePin(ctx, caller, oldPin, newPin); err != nil {
		return nil, err
	}
	res := rpc.NewHandleResult()
	res.Rpc(caller, MethodPin)
	return res, nil
}

// [pin]
func (n *Node) accountMnemonic(ctx context.Context, caller string, params rpc.Params) (*rpc.HandleResult, error) {
	pin, err := params.String(0)
	if err != nil {
		return nil, err
	}
	phrase, err := n.accounts.Mnemonic(ctx, caller, pin)
	if err != nil {
		return nil, err
	}
	res := rpc.NewHandleResult()
	res.Rpc(caller, MethodMnemonic, phrase)
	return res, nil
}

// [name, avatar (base64), wallet]
func accountProfile(ctx context.Context, s *Session, params rpc.Params) (*rpc.HandleResult, error) {
	name, err := params.String(0)
	if err != nil {
		return nil, err
	}
	avatar, err := params.Bytes(1)
	if err != nil {
		return nil, err
	}
	wallet, err := params.String(2)
	if err != nil {
		return nil, err
	}
	return s.UpdateProfile(ctx, accounts.Info{Name: name, Avatar: avatar, Wallet: wallet})
}

// [name, info, addr]
func deviceAdd(ctx context.Context, s *Session, params rpc.Params) (*rpc.HandleResult, error) {
	name, err := params.String(0)
	if err != nil {
		return nil, err
	}
	info, err := params.String(1)
	if err != nil {
		return nil, err
	}
	addr, err := params.String(2)
	if err != nil {
		return nil, err
	}
	return s.AddDevice(ctx, name, info, addr)
}

func groupList(ctx context.Context, s *Session, _ rpc.Params) (*rpc.HandleResult, error) {
	list, err := s.dispatcher.List(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]any, 0, len(list))
	for i := range list {
		rows = append(rows, list[i].ToRPC())
	}
	res := rpc.NewHandleResult()
	res.Rpc(s.gid, MethodGroupList, rows...)
	return res, nil
}

// [group id]
func groupDetail(ctx context.Context, s *Session, params rpc.Params) (*rpc.HandleResult, error) {
	id, err := params.Int64(0)
	if err != nil {
		return nil, err
	}
	d, err := s.dispatcher.Detail(ctx, id)
	if err != nil {
		return nil, err
	}

	members := make([]any, 0, len(d.Members))
	for i := range d.Members {
		members = append(members, d.Members[i].ToRPC())
	}
	messages := make([]any, 0, len(d.Messages))
	for i := range d.Messages {
		messages = append(messages, d.Messages[i].ToRPC())
	}

	res := rpc.NewHandleResult()
	res.Rpc(s.gid, MethodGroupDetail, d.Group.ToRPC(), members, messages)
	return res, nil
}

// [name]
func groupCreate(ctx context.Context, s *Session, params rpc.Params) (*rpc.HandleResult, error) {
	name, err := params.String(0)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.CreateGroup(ctx, name)
}

// [group id, member id, member addr, member name, member avatar (optional)]
func groupMemberJoin(ctx context.Context, s *Session, params rpc.Params) (*rpc.HandleResult, error) {
	id, err := params.Int64(0)
	if err != nil {
		return nil, err
	}
	var m consensus.NewMember
	if m.ID, err = params.String(1); err != nil {
		return nil, err
	}
	if m.Addr, err = params.String(2); err != nil {
		return nil, err
	}
	if m.Name, err = params.String(3); err != nil {
		return nil, err
	}
	if len(params) > 4 {
		if m.Avatar, err = params.Bytes(4); err != nil {
			return nil, err
		}
	}
	return s.dispatcher.JoinMember(ctx, id, m)
}

// [group id, member id]
func groupMemberLeave(ctx context.Context, s *Session, params rpc.Params) (*rpc.HandleResult, error) {
	id, err := params.Int64(0)
	if err != nil {
		return nil, err
	}
	member, err := params.String(1)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.LeaveMember(ctx, id, member)
}

// [group id, message type, content]
func groupMessageCreate(ctx context.Context, s *Session, params rpc.Params) (*rpc.HandleResult, error) {
	id, err := params.Int64(0)
	if err != nil {
		return nil, err
	}
	kind, err := params.Int64(1)
	if err != nil {
		return nil, err
	}
	content, err := params.String(2)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.CreateMessage(ctx, id, events.Payload{Type: models.MessageTypeFromInt(kind), Content: content})
}

// [group id, name]
func groupName(ctx context.Context, s *Session, params rpc.Params) (*rpc.HandleResult, error) {
	id, err := params.Int64(0)
	if err != nil {
		return nil, err
	}
	name, err := params.String(1)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.RenameGroup(ctx, id, name)
}

// [group id]
func groupDelete(ctx context.Context, s *Session, params rpc.Params) (*rpc.HandleResult, error) {
	id, err := params.Int64(0)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.DeleteGroup(ctx, id)
}

// [group network id]
func groupInviteAccept(ctx context.Context, s *Session, params rpc.Params) (*rpc.HandleResult, error) {
	gid, err := params.String(0)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.AcceptInvite(ctx, gid)
}
