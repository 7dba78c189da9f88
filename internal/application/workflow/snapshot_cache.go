package workflow

import (
	"fmt"
	"sync"

	"github.com/rhadityaaa/ewd-tools/internal/application/port"
)

// generationStripes bounds the generation table; reports sharing a stripe
// only cost each other a skipped cache fill.
const generationStripes = 64

// snapshotCache stores report snapshots keyed by report id. A reader takes a
// generation before its read transaction and may store the result only while
// the generation is unchanged, so a snapshot read before a concurrent write
// committed is never cached after that write invalidated the report.
type snapshotCache struct {
	cache port.Cache

	mu   sync.Mutex
	gens [generationStripes]uint64
}

func newSnapshotCache(c port.Cache) *snapshotCache {
	return &snapshotCache{cache: c}
}

func stripe(reportID int64) int {
	s := reportID % generationStripes
	if s < 0 {
		s = -s
	}
	return int(s)
}

func (c *snapshotCache) generation(reportID int64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[stripe(reportID)]
}

func (c *snapshotCache) get(reportID int64) (*Snapshot, bool) {
	v, ok := c.cache.Get(snapshotKey(reportID))
	if !ok {
		return nil, false
	}
	snap, ok := v.(*Snapshot)
	if !ok {
		return nil, false
	}
	return snap.clone(), true
}

// store caches snap unless the report was invalidated since gen was taken.
// It reports whether snap was stored.
func (c *snapshotCache) store(reportID int64, gen uint64, snap *Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[stripe(reportID)] != gen {
		return false
	}
	c.cache.Set(snapshotKey(reportID), snap.clone())
	return true
}

// invalidate runs after a write to the report has committed
func (c *snapshotCache) invalidate(reportID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[stripe(reportID)]++
	c.cache.DeletePrefix(reportKeyPrefix(reportID))
}

func reportKeyPrefix(reportID int64) string {
	return fmt.Sprintf("report:%d:", reportID)
}

func snapshotKey(reportID int64) string {
	return reportKeyPrefix(reportID) + "snapshot"
}
