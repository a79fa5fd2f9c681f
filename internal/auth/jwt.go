// Package auth implements the bearer-token authentication filter (spec.md
// §4.2 item 2), grounded on the original implementation's JWTInterceptor:
// extract a bearer token from request metadata, verify it with HS256, cache
// successful verifications in a TTL'd LRU, and re-inject the verified claims
// as first-class context values for downstream consumers (the per-user rate
// limiter and the RPC handlers).
package auth

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"time"

	"github.com/pgoagent/agentserver/internal/ratelimit"
)

// Claims are the two required JWT claims (spec.md §6).
type Claims struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	jwt.RegisteredClaims
}

type verification struct {
	claims Claims
	valid  bool
}

// Filter verifies bearer tokens and caches successful verifications.
type Filter struct {
	secret      []byte
	tokenHeader string
	skipMethods []string
	cache       *lru.LRU[string, verification]
}

// New constructs a Filter. cacheSize and ttl bound the verification cache
// (defaults: 1000 entries, 10 minutes, per spec.md §4.2).
func New(secret []byte, tokenHeader string, skipMethods []string, cacheSize int, ttl time.Duration) *Filter {
	if tokenHeader == "" {
		tokenHeader = "authorization"
	}
	return &Filter{
		secret:      secret,
		tokenHeader: strings.ToLower(tokenHeader),
		skipMethods: skipMethods,
		cache:       lru.NewLRU[string, verification](cacheSize, nil, ttl),
	}
}

func methodName(fullMethod string) string {
	for i := len(fullMethod) - 1; i >= 0; i-- {
		if fullMethod[i] == '/' {
			return fullMethod[i+1:]
		}
	}
	return fullMethod
}

func skip(method string, skipList []string) bool {
	for _, m := range skipList {
		if m == method {
			return true
		}
	}
	return false
}

func extractToken(ctx context.Context, preferredHeader string) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	for _, key := range []string{preferredHeader, "authorization", "token"} {
		if vals := md.Get(key); len(vals) > 0 && vals[0] != "" {
			return vals[0], true
		}
	}
	return "", false
}

func (f *Filter) verify(token string) (Claims, error) {
	if v, ok := f.cache.Get(token); ok {
		if !v.valid {
			return Claims{}, status.Error(codes.Unauthenticated, "current token has expired")
		}
		return v.claims, nil
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return f.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))

	switch {
	case err == nil:
		f.cache.Add(token, verification{claims: claims, valid: true})
		return claims, nil
	case strings.Contains(err.Error(), "token is expired"):
		f.cache.Add(token, verification{valid: false})
		return Claims{}, status.Error(codes.Unauthenticated, "token has expired")
	default:
		return Claims{}, status.Errorf(codes.Unauthenticated, "invalid token: %v", err)
	}
}

func (f *Filter) authenticate(ctx context.Context, fullMethod string) (context.Context, error) {
	if skip(methodName(fullMethod), f.skipMethods) {
		return ctx, nil
	}

	raw, ok := extractToken(ctx, f.tokenHeader)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, "request is missing an authentication token; provide one in the authorization metadata")
	}
	raw = strings.TrimPrefix(raw, "Bearer ")

	claims, err := f.verify(raw)
	if err != nil {
		return ctx, err
	}

	ctx = context.WithValue(ctx, ratelimit.UserIDContextKey, claims.UserID)
	ctx = context.WithValue(ctx, userNameContextKey{}, claims.UserName)
	return ctx, nil
}

type userNameContextKey struct{}

// UserNameFromContext retrieves the verified user_name claim, if any.
func UserNameFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userNameContextKey{}).(string)
	return v, ok
}

// UnaryInterceptor authenticates unary RPCs.
func (f *Filter) UnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx, err := f.authenticate(ctx, info.FullMethod)
	if err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

// authedStream wraps a ServerStream to override its Context with the
// authenticated one, since grpc.ServerStream.Context is otherwise read-only.
type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

// StreamInterceptor authenticates streaming RPCs.
func (f *Filter) StreamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx, err := f.authenticate(ss.Context(), info.FullMethod)
	if err != nil {
		return err
	}
	return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
}
