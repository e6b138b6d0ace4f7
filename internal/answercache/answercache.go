// Package answercache memoizes final answers keyed by document identity,
// normalized question and pipeline configuration.
package answercache

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultShards spreads keys across independently locked LRUs so answer
// lookups under concurrent questions do not serialize.
const DefaultShards = 8

// Entry is one memoized answer plus the chunk positions that supported
// it.
type Entry struct {
	Answer    string
	Chunks    []int
	CreatedAt time.Time
}

// Cache is a sharded LRU with TTL expiry. An entry falls out when either
// capacity pressure or its TTL says so, whichever happens first. The
// total capacity is split across shards, rounding up to one entry per
// shard.
type Cache struct {
	shards []*expirable.LRU[string, Entry]
	ttl    time.Duration
}

// Option adjusts a Cache.
type Option func(*settings)

type settings struct {
	shards int
}

// WithShards overrides DefaultShards. Tests use a single shard to make
// eviction order observable.
func WithShards(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.shards = n
		}
	}
}

// New builds a cache holding at most capacity entries with the given TTL.
func New(capacity int, ttl time.Duration, opts ...Option) *Cache {
	cfg := settings{shards: DefaultShards}
	for _, opt := range opts {
		opt(&cfg)
	}

	perShard := capacity / cfg.shards
	if perShard < 1 {
		perShard = 1
	}

	c := &Cache{
		shards: make([]*expirable.LRU[string, Entry], cfg.shards),
		ttl:    ttl,
	}
	for i := range c.shards {
		c.shards[i] = expirable.NewLRU[string, Entry](perShard, nil, ttl)
	}
	return c
}

// Normalize lowercases, trims and collapses internal whitespace so
// trivial rephrasings share an entry. Punctuation is kept: "what is
// covered?" and "what is covered" are different questions.
func Normalize(question string) string {
	return strings.ToLower(strings.Join(strings.Fields(question), " "))
}

// Key derives the cache key for a question against a document and config
// fingerprint. The document ID stays in clear so Invalidate can find a
// document's entries; the rest is hashed.
func Key(documentID, question, fingerprint string) string {
	h := sha256.Sum256([]byte(Normalize(question) + "\x00" + fingerprint))
	return documentID + ":" + hex.EncodeToString(h[:16])
}

// Get returns the cached entry for a key.
func (c *Cache) Get(key string) (Entry, bool) {
	return c.shard(key).Get(key)
}

// Put stores the entry for a key, stamping CreatedAt if unset.
func (c *Cache) Put(key string, e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	c.shard(key).Add(key, e)
}

// Invalidate removes every entry belonging to a document and reports how
// many were dropped.
func (c *Cache) Invalidate(documentID string) int {
	prefix := documentID + ":"
	removed := 0
	for _, shard := range c.shards {
		for _, key := range shard.Keys() {
			if strings.HasPrefix(key, prefix) && shard.Remove(key) {
				removed++
			}
		}
	}
	return removed
}

// Purge drops everything, e.g. after a config change.
func (c *Cache) Purge() {
	for _, shard := range c.shards {
		shard.Purge()
	}
}

// Len reports the number of live entries across all shards.
func (c *Cache) Len() int {
	n := 0
	for _, shard := range c.shards {
		n += shard.Len()
	}
	return n
}

func (c *Cache) shard(key string) *expirable.LRU[string, Entry] {
	if len(c.shards) == 1 {
		return c.shards[0]
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}
