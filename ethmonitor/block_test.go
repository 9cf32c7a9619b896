package ethmonitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullHashIsThirtyTwoBytes(t *testing.T) {
	// "0x" + 64 hex chars == 32 bytes, the same shape as every other hash
	// the core handles; a malformed constant here would silently make
	// every genesis block indistinguishable from a hash collision.
	require.Len(t, string(NullHash), 66)
}

func TestBlockIsAnchor(t *testing.T) {
	genesis := &Block{Hash: "0xA", ParentHash: NullHash, Number: 0}
	assert.True(t, genesis.IsAnchor())

	child := &Block{Hash: "0xB", ParentHash: "0xA", Number: 1}
	assert.False(t, child.IsAnchor())
}

func TestBlockCloneIsIndependent(t *testing.T) {
	b := &Block{Hash: "0xA", ParentHash: NullHash, Number: 5, ChildDepth: 2}
	cp := b.clone()

	cp.ChildDepth = 99
	assert.Equal(t, uint64(2), b.ChildDepth)
	assert.Equal(t, b.Hash, cp.Hash)
}

func TestBlockCloneNil(t *testing.T) {
	var b *Block
	assert.Nil(t, b.clone())
}
