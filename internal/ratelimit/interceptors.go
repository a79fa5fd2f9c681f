package ratelimit

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// methodName extracts the bare RPC method from a gRPC full method string such
// as "/pkg.Service/Chat".
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

// Global is the shared, server-wide QPS filter (spec.md §4.2 item 1).
type Global struct {
	bucket      *Bucket
	skipMethods []string
}

// NewGlobal constructs the global filter.
func NewGlobal(ratePerSec float64, burst int64, skipMethods []string) (*Global, error) {
	b, err := New(ratePerSec, burst)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: global filter: %w", err)
	}
	return &Global{bucket: b, skipMethods: skipMethods}, nil
}

// UnaryInterceptor enforces the global bucket for unary RPCs.
func (g *Global) UnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if skip(methodName(info.FullMethod), g.skipMethods) {
		return handler(ctx, req)
	}
	if !g.bucket.TryTake(1) {
		return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded: too many requests globally, please retry later")
	}
	return handler(ctx, req)
}

// StreamInterceptor enforces the global bucket for streaming RPCs. It aborts
// before the handler runs, so the abort is a plain error return rather than a
// send on the (not-yet-used) stream, satisfying the "handler compatible with
// the RPC call type" requirement in spec.md §4.2.
func (g *Global) StreamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if skip(methodName(info.FullMethod), g.skipMethods) {
		return handler(srv, ss)
	}
	if !g.bucket.TryTake(1) {
		return status.Error(codes.ResourceExhausted, "rate limit exceeded: too many requests globally, please retry later")
	}
	return handler(srv, ss)
}

// userIDContextKey is the context key the auth filter publishes the verified
// user_id under (see internal/auth).
type userIDContextKey struct{}

// UserIDContextKey is exported so the auth filter can publish the identity
// this filter reads.
var UserIDContextKey userIDContextKey

// shard holds the buckets of every user hashed to it, plus the earliest time
// of its next lazy TTL eviction sweep; each userBucket records when it was
// last touched.
type shard struct {
	mu          sync.Mutex
	buckets     map[string]*userBucket
	nextCleanup time.Time
}

type userBucket struct {
	bucket   *Bucket
	lastSeen time.Time
}

// PerUser is the sharded, per-user RPM filter (spec.md §4.2 item 3).
type PerUser struct {
	ratePerMinute   float64
	burst           int64
	shards          []*shard
	bucketTTL       time.Duration
	cleanupInterval time.Duration
	skipMethods     []string
	now             func() time.Time
}

// NewPerUser constructs the per-user filter with nShards independent shards.
func NewPerUser(ratePerMinute float64, burst int64, nShards int, bucketTTL, cleanupInterval time.Duration, skipMethods []string) *PerUser {
	shards := make([]*shard, nShards)
	for i := range shards {
		shards[i] = &shard{buckets: map[string]*userBucket{}}
	}
	return &PerUser{
		ratePerMinute:   ratePerMinute,
		burst:           burst,
		shards:          shards,
		bucketTTL:       bucketTTL,
		cleanupInterval: cleanupInterval,
		skipMethods:     skipMethods,
		now:             time.Now,
	}
}

func (p *PerUser) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return p.shards[h.Sum32()%uint32(len(p.shards))]
}

// allow performs the lazy cleanup sweep (at most once per cleanupInterval),
// then the lazily-created bucket lookup/admission check.
func (p *PerUser) allow(userID string) (bool, error) {
	s := p.shardFor(userID)
	now := p.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.nextCleanup.After(now) {
		for id, ub := range s.buckets {
			if now.Sub(ub.lastSeen) > p.bucketTTL {
				delete(s.buckets, id)
			}
		}
		s.nextCleanup = now.Add(p.cleanupInterval)
	}

	ub, ok := s.buckets[userID]
	if !ok {
		b, err := New(p.ratePerMinute/60.0, p.burst)
		if err != nil {
			return false, err
		}
		ub = &userBucket{bucket: b}
		s.buckets[userID] = ub
	}
	ub.lastSeen = now
	return ub.bucket.TryTake(1), nil
}

func userIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(UserIDContextKey).(string)
	return v, ok && v != ""
}

// UnaryInterceptor enforces the per-user bucket for unary RPCs. It must run
// after the auth interceptor, which publishes the verified user_id into the
// context.
func (p *PerUser) UnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if skip(methodName(info.FullMethod), p.skipMethods) {
		return handler(ctx, req)
	}
	userID, ok := userIDFromContext(ctx)
	if !ok {
		return handler(ctx, req)
	}
	allowed, err := p.allow(userID)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "rate limit: %v", err)
	}
	if !allowed {
		return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded for user %s, please retry later", userID)
	}
	return handler(ctx, req)
}

// StreamInterceptor enforces the per-user bucket for streaming RPCs.
func (p *PerUser) StreamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if skip(methodName(info.FullMethod), p.skipMethods) {
		return handler(srv, ss)
	}
	userID, ok := userIDFromContext(ss.Context())
	if !ok {
		return handler(srv, ss)
	}
	allowed, err := p.allow(userID)
	if err != nil {
		return status.Errorf(codes.Internal, "rate limit: %v", err)
	}
	if !allowed {
		return status.Errorf(codes.ResourceExhausted, "rate limit exceeded for user %s, please retry later", userID)
	}
	return handler(srv, ss)
}
