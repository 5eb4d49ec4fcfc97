// Package netx parses and formats peer addresses.
//
// A peer address names one identity at one network endpoint:
//
//	<public id>@<host>:<port>
//
// Several identities unlocked on the same node share the endpoint and differ
// by public id.
package netx

import (
	"fmt"
	"net"
	"strings"

	"github.com/dmitrijs2005/peerkeeper/internal/common"
)

// PeerAddr is a parsed peer address.
type PeerAddr struct {
	ID   string
	Host string
}

func (p PeerAddr) String() string {
	return p.ID + "@" + p.Host
}

// ParsePeerAddr splits s into identity and endpoint and validates both parts.
func ParsePeerAddr(s string) (PeerAddr, error) {
	id, host, ok := strings.Cut(s, "@")
	if !ok || id == "" || host == "" {
		return PeerAddr{}, fmt.Errorf("peer address %q: %w", s, common.ErrDecode)
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		return PeerAddr{}, fmt.Errorf("peer address %q: %v: %w", s, err, common.ErrDecode)
	}
	return PeerAddr{ID: id, Host: host}, nil
}

// JoinPeerAddr formats id and host as a peer address.
func JoinPeerAddr(id, host string) string {
	return PeerAddr{ID: id, Host: host}.String()
}
