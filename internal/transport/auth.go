package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"github.com/dmitrijs2005/peerkeeper/internal/custody"
	"github.com/dmitrijs2005/peerkeeper/internal/netx"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims identify the sending identity and the intended recipient.
//
// Subject is the sender public id, Issuer its full peer address and Audience
// the recipient public id. The token is signed with the sender identity key,
// so the receiver verifies it against the key encoded in Subject.
type Claims struct {
	jwt.RegisteredClaims
}

// Peer is an authenticated sender.
type Peer struct {
	ID   string
	Addr string
}

// GenerateToken signs a short-lived token for a call from self to recipient.
func GenerateToken(kp custody.Keypair, self, recipient string, validity time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   kp.PublicID(),
			Issuer:    self,
			Audience:  jwt.ClaimStrings{recipient},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
	})

	s, err := token.SignedString(kp.PrivateKey())
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

// VerifyToken checks signature, expiry and that the issuer address belongs
// to the signing identity. It returns the sender and the recipient id.
func VerifyToken(tokenString string) (Peer, string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return custody.PublicKeyFromID(claims.Subject)
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Peer{}, "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Peer{}, "", ErrInvalidToken
	}

	addr, err := netx.ParsePeerAddr(claims.Issuer)
	if err != nil || addr.ID != claims.Subject {
		return Peer{}, "", fmt.Errorf("%w: issuer %q does not match subject", ErrInvalidToken, claims.Issuer)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] == "" {
		return Peer{}, "", fmt.Errorf("%w: missing recipient: %w", ErrInvalidToken, common.ErrDecode)
	}

	return Peer{ID: claims.Subject, Addr: claims.Issuer}, claims.Audience[0], nil
}
