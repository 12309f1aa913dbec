package client

import (
	"fmt"
	"time"

	pb "go.sqlcluster.dev/core/protocol"
	gc "gopkg.in/check.v1"
)

type LeaderCacheSuite struct{}

func (s *LeaderCacheSuite) TestCachingCases(c *gc.C) {
	defer func(f func() time.Time) { timeNow = f }(timeNow)

	var fixedtime int64 = 1000
	timeNow = func() time.Time { return time.Unix(fixedtime, 0) }

	var lc = NewLeaderCache(3, time.Minute)

	for i, key := range []string{"A", "B", "C", "D"} {
		lc.Update(key, buildLeaderFixture(pb.NodeID(i+1)))
	}
	c.Check(lc.cache.Len(), gc.Equals, 3)

	// Case: cached leaders are returned.
	var leader, ok = lc.Leader("D")
	c.Check(ok, gc.Equals, true)
	c.Check(leader, gc.DeepEquals, buildLeaderFixture(4))

	// Case: leaders which have fallen out of cache are not.
	_, ok = lc.Leader("A")
	c.Check(ok, gc.Equals, false)

	// Case: a leader without an ID invalidates.
	lc.Update("C", pb.Node{Address: "10.0.0.9"})
	_, ok = lc.Leader("C")
	c.Check(ok, gc.Equals, false)

	// Case: explicit invalidation.
	lc.Invalidate("B")
	_, ok = lc.Leader("B")
	c.Check(ok, gc.Equals, false)

	// Case: TTLs are enforced.
	fixedtime += 31
	lc.Update("B", buildLeaderFixture(2))

	// Precondition: both B and D are cached.
	_, ok = lc.Leader("B")
	c.Check(ok, gc.Equals, true)
	_, ok = lc.Leader("D")
	c.Check(ok, gc.Equals, true)

	fixedtime += 30

	// TTL for D has elapsed, but not for B.
	_, ok = lc.Leader("B")
	c.Check(ok, gc.Equals, true)
	_, ok = lc.Leader("D")
	c.Check(ok, gc.Equals, false)
}

func (s *LeaderCacheSuite) TestSizeMustBePositive(c *gc.C) {
	c.Check(func() { NewLeaderCache(0, time.Minute) }, gc.PanicMatches, ".*positive size.*")
}

func buildLeaderFixture(id pb.NodeID) pb.Node {
	return pb.Node{ID: id, Address: fmt.Sprintf("10.0.0.%d:24000", id)}
}

var _ = gc.Suite(&LeaderCacheSuite{})
