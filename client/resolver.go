package client

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.sqlcluster.dev/core/metrics"
	pb "go.sqlcluster.dev/core/protocol"
)

// Resolver locates the current cluster leader among the nodes of a Pool.
type Resolver struct {
	pool  *Pool
	cache *LeaderCache // Optional.
	key   string
}

// NewResolver returns a Resolver over |pool|. If |cache| is non-nil, leaders
// are cached under cluster |key|.
func NewResolver(pool *Pool, cache *LeaderCache, key string) *Resolver {
	return &Resolver{pool: pool, cache: cache, key: key}
}

// Resolve the current leader, returning it and its slot in the Pool.
//
// Active slots are probed from the highest index downward. Each probed node
// is asked for the leader, and the first to name one (by a non-zero ID)
// determines the result: the named leader is located in the Pool, or adopted
// into it if it's not yet a member. Slots which can't be dialed or fail to
// answer are logged and skipped. If no node names a leader, ErrNoLeaderFound
// is returned.
func (r *Resolver) Resolve(ctx context.Context) (pb.Node, int, error) {
	if r.cache != nil {
		if leader, ok := r.cache.Leader(r.key); ok {
			if ind, ok := r.pool.Lookup(leader); ok {
				return r.pool.Node(ind), ind, nil
			}
		}
	}

	for i := r.pool.Len() - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return pb.Node{}, -1, err
		}
		var fields = log.Fields{"slot": i, "node": r.pool.Node(i).Address}

		var s, err = r.pool.Connect(ctx, i)
		if err != nil {
			fields["err"] = err
			log.WithFields(fields).Warn("failed to dial node for leader (skipping)")
			continue
		}
		leader, err := s.Leader(ctx)
		if err != nil {
			fields["err"] = err
			log.WithFields(fields).Warn("failed to query node for leader (skipping)")

			if s.Broken() != nil {
				r.pool.Drop(i)
			}
			continue
		} else if leader.ID == 0 {
			log.WithFields(fields).Debug("node doesn't know of a leader (skipping)")
			continue
		}

		var ind, ok = r.pool.Lookup(leader)
		if !ok {
			if ind, err = r.pool.Adopt(leader); err != nil {
				fields["err"] = err
				log.WithFields(fields).Warn("failed to adopt redirected leader (skipping)")
				continue
			}
		}
		r.pool.learn(ind, leader.ID)
		leader = r.pool.Node(ind)

		if r.cache != nil {
			r.cache.Update(r.key, leader)
		}
		metrics.LeaderResolutionsTotal.WithLabelValues(metrics.Ok).Inc()

		log.WithFields(log.Fields{
			"leader":     leader.String(),
			"slot":       ind,
			"answeredBy": i,
		}).Debug("resolved leader")

		return leader, ind, nil
	}

	metrics.LeaderResolutionsTotal.WithLabelValues(metrics.Fail).Inc()
	return pb.Node{}, -1, ErrNoLeaderFound
}

// Invalidate any cached leader.
func (r *Resolver) Invalidate() {
	if r.cache != nil {
		r.cache.Invalidate(r.key)
	}
}
