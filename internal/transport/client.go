package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"github.com/dmitrijs2005/peerkeeper/internal/custody"
	"github.com/dmitrijs2005/peerkeeper/internal/netx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Sender hands an opaque payload to the peer at address to.
type Sender interface {
	Send(ctx context.Context, to string, payload []byte) error
}

// Pinger checks whether a peer is reachable.
type Pinger interface {
	Ping(ctx context.Context, to string) error
}

// Dialer caches one client connection per remote endpoint. It is shared by
// every identity of the node.
type Dialer struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
	opts  []grpc.DialOption
}

// NewDialer returns a Dialer. Without options connections are plaintext.
func NewDialer(opts ...grpc.DialOption) *Dialer {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &Dialer{
		conns: make(map[string]*grpc.ClientConn),
		opts:  opts,
	}
}

func (d *Dialer) conn(host string) (*grpc.ClientConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.conns[host]; ok {
		return c, nil
	}
	c, err := grpc.NewClient(host, d.opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", host, err)
	}
	d.conns[host] = c
	return c, nil
}

// Close closes every cached connection.
func (d *Dialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for host, c := range d.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(d.conns, host)
	}
	return firstErr
}

// Client sends on behalf of one identity.
type Client struct {
	dialer   *Dialer
	keypair  custody.Keypair
	self     string
	validity time.Duration
}

// Client returns a sender for the identity kp reachable at self.
func (d *Dialer) Client(kp custody.Keypair, self string, validity time.Duration) *Client {
	return &Client{dialer: d, keypair: kp, self: self, validity: validity}
}

func (c *Client) outgoing(ctx context.Context, to string) (context.Context, *grpc.ClientConn, error) {
	addr, err := netx.ParsePeerAddr(to)
	if err != nil {
		return nil, nil, err
	}
	token, err := GenerateToken(c.keypair, c.self, addr.ID, c.validity)
	if err != nil {
		return nil, nil, err
	}
	conn, err := c.dialer.conn(addr.Host)
	if err != nil {
		return nil, nil, err
	}
	ctx = metadata.AppendToOutgoingContext(ctx, common.AuthorizationHeaderName, bearerPrefix+token)
	return ctx, conn, nil
}

func (c *Client) Send(ctx context.Context, to string, payload []byte) error {
	ctx, conn, err := c.outgoing(ctx, to)
	if err != nil {
		return err
	}
	if err := conn.Invoke(ctx, deliverMethod, wrapperspb.Bytes(payload), new(emptypb.Empty)); err != nil {
		return fmt.Errorf("deliver to %s: %w", to, err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context, to string) error {
	ctx, conn, err := c.outgoing(ctx, to)
	if err != nil {
		return err
	}
	if err := conn.Invoke(ctx, pingMethod, new(emptypb.Empty), new(emptypb.Empty)); err != nil {
		return fmt.Errorf("ping %s: %w", to, err)
	}
	return nil
}

var (
	_ Sender = (*Client)(nil)
	_ Pinger = (*Client)(nil)
)
