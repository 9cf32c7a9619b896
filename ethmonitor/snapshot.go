package ethmonitor

// SnapshotRecord is one entry in a Snapshot: a block's identity plus its
// childDepth at the time the snapshot was taken.
type SnapshotRecord struct {
	Hash       Hash   `json:"hash"`
	ParentHash Hash   `json:"parentHash"`
	Number     uint64 `json:"number"`
	ChildDepth uint64 `json:"childDepth"`
}

// Snapshot is the ordered, serializable form of every block currently
// retained in the tree (spec.md §6). Round-trip property: a Monitor
// anchored with WithSnapshot(TakeSnapshot()) restores the same retained tree.
type Snapshot []SnapshotRecord
