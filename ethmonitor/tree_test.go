package ethmonitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeInsertGetRemove(t *testing.T) {
	tr := newTree()
	require.Equal(t, 0, tr.size())

	a := &Block{Hash: "0xA", Number: 1}
	tr.insert(a)
	require.Equal(t, 1, tr.size())
	assert.Same(t, a, tr.get("0xA"))
	assert.Nil(t, tr.get("0xB"))

	tr.remove("0xA")
	assert.Equal(t, 0, tr.size())
	assert.Nil(t, tr.get("0xA"))
}

func TestTreeInsertReplacesSameHash(t *testing.T) {
	tr := newTree()
	tr.insert(&Block{Hash: "0xA", Number: 1})
	tr.insert(&Block{Hash: "0xA", Number: 1, ChildDepth: 3})

	require.Equal(t, 1, tr.size())
	assert.Equal(t, uint64(3), tr.get("0xA").ChildDepth)
}

func TestTreeNextSeqIsMonotonic(t *testing.T) {
	tr := newTree()
	first := tr.nextSeq()
	second := tr.nextSeq()
	third := tr.nextSeq()

	assert.Less(t, first, second)
	assert.Less(t, second, third)
}

func TestTreeMaxBlockNumber(t *testing.T) {
	tr := newTree()
	assert.Equal(t, uint64(0), tr.maxBlockNumber())

	tr.insert(&Block{Hash: "0xA", Number: 10})
	tr.insert(&Block{Hash: "0xB", Number: 25})
	tr.insert(&Block{Hash: "0xC", Number: 3})
	assert.Equal(t, uint64(25), tr.maxBlockNumber())
}

func TestTreeIterVisitsEveryBlock(t *testing.T) {
	tr := newTree()
	tr.insert(&Block{Hash: "0xA", Number: 1})
	tr.insert(&Block{Hash: "0xB", Number: 2})

	seen := map[Hash]bool{}
	tr.iter(func(b *Block) { seen[b.Hash] = true })

	assert.Equal(t, map[Hash]bool{"0xA": true, "0xB": true}, seen)
}
