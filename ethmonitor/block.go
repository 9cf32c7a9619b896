package ethmonitor

import "fmt"

// Hash is an opaque 32-byte block identifier. Internally we keep it as the
// 0x-prefixed hex string used at the RPC boundary -- the core never
// interprets it beyond equality and map-key use.
type Hash string

// NullHash is the distinguished parentHash value meaning "no parent"; it
// marks a block as a chain genesis / anchor.
const NullHash Hash = "0x0000000000000000000000000000000000000000000000000000000000000000"

// Block is the core's only domain entity. hash/parentHash/number are set
// once at creation and never mutated; childDepth is the one field the tree
// engine is allowed to update after insertion.
type Block struct {
	Hash       Hash
	ParentHash Hash
	Number     uint64

	// ChildDepth is the length of the longest path of descendants of this
	// block currently present in the tree. A leaf has ChildDepth == 0.
	ChildDepth uint64

	// seq records insertion order into the tree; it tie-breaks the
	// pruner's ascending-number ordering guarantee when two blocks share
	// a Number (e.g. competing siblings).
	seq uint64
}

func (b *Block) String() string {
	if b == nil {
		return "<nil block>"
	}
	return fmt.Sprintf("Block{hash:%s parent:%s number:%d depth:%d}", b.Hash, b.ParentHash, b.Number, b.ChildDepth)
}

// clone returns a value copy of the block, used whenever a Block crosses
// an API boundary (event payloads, GetBlock) so callers can't mutate
// tree state through the pointer.
func (b *Block) clone() *Block {
	if b == nil {
		return nil
	}
	cp := *b
	return &cp
}

// IsAnchor reports whether this block's ParentHash is NullHash, i.e. it has
// no parent to look up and is always treated as a root. An anchor seeded
// from a non-genesis block (seedAnchor) is not reported as one.
func (b *Block) IsAnchor() bool {
	return b.ParentHash == NullHash
}
