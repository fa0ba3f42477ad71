package cluster

import "github.com/zeebo/xxh3"

// PartitionOf maps an item key to a worker index in [0, total) with a
// stable hash, or -1 when total is not positive. All members compute the
// same value for the same key and total, which is what makes the
// (base, workers, total) triple usable for deterministic work partitioning.
func PartitionOf(key []byte, total int) int {
	if total <= 0 {
		return -1
	}

	return int(xxh3.Hash(key) % uint64(total))
}

// Owns reports whether the item key hashes to one of this member's worker
// slots under the current assignment. Always false while the member has no
// assignment (index -1), including passive members.
//
// The result is advisory: during an arrival or departure transient two
// members may briefly both claim a key. Use a separate authoritative
// mechanism where mutual exclusion matters.
func (c *Cluster) Owns(key []byte) bool {
	c.mu.RLock()
	index := c.index
	workers := c.cfg.Workers
	total := c.total
	c.mu.RUnlock()

	if index < 0 || total <= 0 {
		return false
	}

	p := PartitionOf(key, total)

	return p >= index && p < index+workers
}
