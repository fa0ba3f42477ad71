package types

// State is an immutable snapshot of a member's position within the cluster,
// passed to the rebalance callback whenever the member's base index or the
// cluster-wide total changes.
type State struct {
	// Index is the offset of this member's first worker in the global
	// ordering, or -1 when this member is not part of the current
	// snapshot (expired, passive, or quiesced for a fork).
	Index int

	// Workers is the number of worker slots this member contributes.
	Workers int

	// Total is the sum of workers across all members of the cluster.
	Total int

	// Passive indicates the member observes the cluster without
	// contributing workers.
	Passive bool
}
