// Package cluster lets a set of cooperating processes agree, without direct
// peer-to-peer communication, on a contiguous integer assignment of workers.
//
// Each process declares a worker count and joins a named cluster backed by a
// shared registry (etcd, a SQL database, or NATS JetStream KV). The library
// assigns each member a base index and a cluster-wide total, keeps the
// member's registry entry fresh with a background heartbeat, watches the
// registry for membership changes, and invokes the application's rebalance
// callback whenever the member's (base, total) pair changes.
//
// Applications use the (base, workers, total) triple to partition work
// deterministically: hash each item's key, take it modulo total, and handle
// locally those values v with base <= v < base+workers. Owns and PartitionOf
// implement that split with a stable hash.
//
// Assignments are advisory. Two members may briefly compute different totals
// during an arrival or departure transient, or briefly share a base while
// their views of the registry converge. Use a separate authoritative
// mechanism (for example, a transaction on the work itself) where mutual
// exclusion matters.
//
// Basic usage:
//
//	c, err := cluster.New("spider", cluster.WithWorkers(4))
//	if err != nil { /* handle */ }
//	c.SetBalancer(func(c *cluster.Cluster, s cluster.State) {
//	    log.Printf("index=%d total=%d", s.Index, s.Total)
//	})
//	if err := c.SetRegistry("http://etcd.internal:2379/"); err != nil { /* handle */ }
//	if err := c.Join(); err != nil { /* handle */ }
//	defer c.Leave()
//
// With no registry configured the cluster is static: the application supplies
// the member's index and the cluster total directly via SetStaticIndex and
// SetStaticTotal, and Join fires the callback once with those values.
package cluster
