package transport

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/peerkeeper/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const (
	peerKey      ctxKey = "peer"
	recipientKey ctxKey = "recipient"
)

const bearerPrefix = "Bearer "

func (s *Server) authInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	var token string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(common.AuthorizationHeaderName)
		if len(values) > 0 {
			token = strings.TrimPrefix(values[0], bearerPrefix)
		}
	}
	if len(token) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	from, to, err := VerifyToken(token)
	if err != nil {
		s.logger.Debug(ctx, "token rejected", "method", info.FullMethod, "error", err)
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	ctx = context.WithValue(ctx, peerKey, from)
	ctx = context.WithValue(ctx, recipientKey, to)

	return handler(ctx, req)
}

func callerFromContext(ctx context.Context) (Peer, string, bool) {
	from, ok := ctx.Value(peerKey).(Peer)
	if !ok {
		return Peer{}, "", false
	}
	to, ok := ctx.Value(recipientKey).(string)
	return from, to, ok
}
