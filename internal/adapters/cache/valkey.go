// Package cache provides a shared voted cache backed by Valkey so that
// several processes can skip duplicate votes before touching the database.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/okian/ascent/internal/domain/model"
	"github.com/okian/ascent/pkg/logger"
)

const (
	defaultPrefix = "ascent:votes:"
	pingTimeout   = 5 * time.Second
)

// ErrAddressRequired is returned when no Valkey address is configured.
var ErrAddressRequired = errors.New("valkey address is required")

// VoteCache stores the voters of each thread in a Valkey set. Sets expire
// a day after a thread could last have accepted a vote.
type VoteCache struct {
	client valkey.Client
	prefix string
	ttl    time.Duration
	logger logger.Logger
}

// Option applies a configuration option to the VoteCache.
type Option func(*VoteCache)

// WithPrefix namespaces the cache keys.
func WithPrefix(p string) Option {
	return func(c *VoteCache) {
		if p != "" {
			c.prefix = p
		}
	}
}

// WithTTL sets how long a thread's voter set lives.
func WithTTL(d time.Duration) Option {
	return func(c *VoteCache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// NewVoteCache connects to Valkey at addr and verifies the connection.
func NewVoteCache(ctx context.Context, addr string, opts ...Option) (*VoteCache, error) {
	if addr == "" {
		return nil, ErrAddressRequired
	}
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("connect to valkey: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Do(pingCtx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping valkey: %w", err)
	}
	c := NewVoteCacheWithClient(client, opts...)
	c.logger.Info(ctx, "valkey vote cache ready", logger.String("address", addr), logger.String("prefix", c.prefix))
	return c, nil
}

// NewVoteCacheWithClient wraps an existing client.
func NewVoteCacheWithClient(client valkey.Client, opts ...Option) *VoteCache {
	c := &VoteCache{
		client: client,
		prefix: defaultPrefix,
		ttl:    model.ThreadTTL + 24*time.Hour,
		logger: logger.Get().Named("vote-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Has reports whether voterID is cached as having voted on threadID.
func (c *VoteCache) Has(ctx context.Context, threadID, voterID string) (bool, error) {
	ok, err := c.client.Do(ctx, c.client.B().Sismember().Key(c.Key(threadID)).Member(voterID).Build()).AsBool()
	if err != nil {
		return false, fmt.Errorf("sismember %s: %w", threadID, err)
	}
	return ok, nil
}

// Add caches a vote and refreshes the set's expiry.
func (c *VoteCache) Add(ctx context.Context, threadID, voterID string) error {
	key := c.Key(threadID)
	for _, res := range c.client.DoMulti(ctx,
		c.client.B().Sadd().Key(key).Member(voterID).Build(),
		c.client.B().Expire().Key(key).Seconds(int64(c.ttl/time.Second)).Build(),
	) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("cache vote on %s: %w", threadID, err)
		}
	}
	return nil
}

// Key returns the Valkey key holding a thread's voters.
func (c *VoteCache) Key(threadID string) string {
	return c.prefix + threadID
}

// Close releases the client.
func (c *VoteCache) Close() {
	c.client.Close()
}
