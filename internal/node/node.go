// Package node hosts the unlocked identities of one process and connects them
// to the peer transport.
//
// Each unlocked identity is a Session with its own stores, presence registry
// and consensus dispatcher. The Node routes inbound deliveries to the session
// they are addressed to, executes the sends every operation returns, and
// periodically pings known peers to keep reachability current.
package node

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/peerkeeper/internal/accounts"
	"github.com/dmitrijs2005/peerkeeper/internal/blobstore"
	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"github.com/dmitrijs2005/peerkeeper/internal/custody"
	"github.com/dmitrijs2005/peerkeeper/internal/logging"
	"github.com/dmitrijs2005/peerkeeper/internal/rpc"
	"github.com/dmitrijs2005/peerkeeper/internal/transport"
	"github.com/sasha-s/go-deadlock"
)

// Messenger reaches other peers on behalf of one identity.
type Messenger interface {
	transport.Sender
	transport.Pinger
}

// MessengerFactory builds the Messenger of the identity kp reachable at self.
type MessengerFactory func(kp custody.Keypair, self string) Messenger

// DialerMessengers adapts a transport.Dialer into a MessengerFactory issuing
// tokens valid for ttl.
func DialerMessengers(d *transport.Dialer, ttl time.Duration) MessengerFactory {
	return func(kp custody.Keypair, self string) Messenger {
		return d.Client(kp, self, ttl)
	}
}

// Config wires a Node.
type Config struct {
	DataDir string
	// Advertise is the host:port peers dial to reach this node.
	Advertise string

	SendTimeout  time.Duration
	PingInterval time.Duration
	FanOutLimit  int

	Accounts   *accounts.Service
	Blobs      blobstore.Store
	Messengers MessengerFactory
	Logger     logging.Logger

	// Notify receives UI notifications produced by inbound traffic and
	// background presence changes. Defaults to a debug log line.
	Notify func(rpc.Echo)
}

type Node struct {
	cfg      Config
	accounts *accounts.Service
	logger   logging.Logger
	notify   func(rpc.Echo)
	methods  *rpc.Handler

	mu       deadlock.RWMutex
	sessions map[string]*Session
}

func New(cfg Config) *Node {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 10 * time.Second
	}
	if cfg.FanOutLimit <= 0 {
		cfg.FanOutLimit = 16
	}

	n := &Node{
		cfg:      cfg,
		accounts: cfg.Accounts,
		logger:   cfg.Logger.With("module", "node"),
		notify:   cfg.Notify,
		sessions: make(map[string]*Session),
	}
	if n.notify == nil {
		n.notify = func(e rpc.Echo) {
			n.logger.Debug(context.Background(), "notification", "identity", e.Identity, "method", e.Method)
		}
	}
	n.methods = n.buildMethods()
	return n
}

// Unlock authenticates pin for identity gid and starts its session. Unlocking
// an identity that is already unlocked returns the running session.
func (n *Node) Unlock(ctx context.Context, gid, pin string) (*Session, error) {
	acc, kp, err := n.accounts.Unlock(ctx, gid, pin)
	if err != nil {
		return nil, err
	}

	if s, err := n.session(gid); err == nil {
		return s, nil
	}

	s, err := openSession(ctx, n, acc, kp)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	if existing, ok := n.sessions[gid]; ok {
		n.mu.Unlock()
		s.close()
		return existing, nil
	}
	n.sessions[gid] = s
	n.mu.Unlock()

	n.logger.Info(ctx, "identity unlocked", "gid", gid, "addr", s.addr)
	return s, nil
}

// Lock ends the session of gid.
func (n *Node) Lock(ctx context.Context, gid string) error {
	n.mu.Lock()
	s, ok := n.sessions[gid]
	delete(n.sessions, gid)
	n.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s: %w", gid, common.ErrNotFound)
	}
	s.close()
	n.logger.Info(ctx, "identity locked", "gid", gid)
	return nil
}

// Close ends every session.
func (n *Node) Close(ctx context.Context) {
	for _, s := range n.Sessions() {
		_ = n.Lock(ctx, s.gid)
	}
}

// Sessions returns a snapshot of the running sessions.
func (n *Node) Sessions() []*Session {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]*Session, 0, len(n.sessions))
	for _, s := range n.sessions {
		out = append(out, s)
	}
	return out
}

// Session returns the running session of gid or common.ErrNotFound.
func (n *Node) Session(gid string) (*Session, error) {
	return n.session(gid)
}

func (n *Node) session(gid string) (*Session, error) {
	n.mu.RLock()
	s, ok := n.sessions[gid]
	n.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("identity %s is locked: %w", gid, common.ErrNotFound)
	}
	return s, nil
}

// Call runs a UI method as identity caller and delivers the resulting sends.
// The returned bundle carries the notifications for the caller.
func (n *Node) Call(ctx context.Context, caller, method string, params rpc.Params) (*rpc.HandleResult, error) {
	res, err := n.methods.Handle(ctx, caller, method, params)
	if err != nil {
		return nil, err
	}
	if len(res.Sends) > 0 || len(res.Controls) > 0 {
		s, err := n.session(caller)
		if err != nil {
			return nil, err
		}
		n.dispatch(ctx, s, res)
	}
	return res, nil
}

// Methods lists the UI method names.
func (n *Node) Methods() []string {
	return n.methods.Methods()
}

func (n *Node) notifyAll(echoes []rpc.Echo) {
	for _, e := range echoes {
		n.notify(e)
	}
}
