package client

import (
	"time"

	"github.com/hashicorp/golang-lru"
	"go.sqlcluster.dev/core/metrics"
	pb "go.sqlcluster.dev/core/protocol"
)

// LeaderCache caches the last observed leader of clusters, keyed by a
// cluster key. With a LeaderCache, a Client skips leader resolution while its
// cached leader is fresh, and dispatches statements directly to it. Entries
// are invalidated when the cached leader refuses a request as not-leader, or
// when a session with it fails.
//
//	// Share a cache of leaders across Clients of the same cluster.
//	var cache = NewLeaderCache(16, time.Minute)
//	var c, err = New(Config{Nodes: nodes, LeaderCache: cache, ClusterKey: "prod"})
type LeaderCache struct {
	cache *lru.Cache
	ttl   time.Duration
}

// NewLeaderCache returns a LeaderCache of the given size (which must be > 0)
// and caching Duration.
func NewLeaderCache(size int, ttl time.Duration) *LeaderCache {
	var cache, err = lru.New(size)
	if err != nil {
		panic(err.Error()) // Only errors on size <= 0.
	}
	return &LeaderCache{cache: cache, ttl: ttl}
}

// Update caches |leader| as the leader of cluster |key|, or invalidates the
// cached leader if |leader| has a zero ID.
func (lc *LeaderCache) Update(key string, leader pb.Node) {
	if leader.ID == 0 {
		lc.Invalidate(key)
		return
	}
	lc.cache.Add(key, cachedLeader{node: leader, at: timeNow()})
}

// Invalidate the cached leader of cluster |key|.
func (lc *LeaderCache) Invalidate(key string) {
	if lc.cache.Remove(key) {
		metrics.LeaderCacheTotal.WithLabelValues(metrics.CacheInvalidate).Inc()
	}
}

// Leader returns the cached leader of cluster |key|, if present and fresh.
func (lc *LeaderCache) Leader(key string) (pb.Node, bool) {
	if v, ok := lc.cache.Get(key); ok {
		// If the TTL has elapsed, treat as a cache miss and remove.
		if cl := v.(cachedLeader); cl.at.Add(lc.ttl).Before(timeNow()) {
			lc.cache.Remove(key)
		} else {
			metrics.LeaderCacheTotal.WithLabelValues(metrics.CacheHit).Inc()
			return cl.node, true
		}
	}
	metrics.LeaderCacheTotal.WithLabelValues(metrics.CacheMiss).Inc()
	return pb.Node{}, false
}

type cachedLeader struct {
	node pb.Node
	at   time.Time
}

var timeNow = time.Now
