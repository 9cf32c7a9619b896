package ethmonitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestQueueFIFOWithinSameNumber(t *testing.T) {
	tr := newTree()
	q := newIngestQueue()

	// B and C share a number; offer order must be preserved (FIFO tie-break).
	a := &Block{Hash: "0xA", Number: 10}
	b := &Block{Hash: "0xB", Number: 11}
	c := &Block{Hash: "0xC", Number: 11}

	require.True(t, q.offer(b, tr))
	require.True(t, q.offer(a, tr))
	require.True(t, q.offer(c, tr))

	require.Equal(t, 3, q.len())
	assert.Equal(t, Hash("0xA"), q.drainLowest().Hash)
	assert.Equal(t, Hash("0xB"), q.drainLowest().Hash)
	assert.Equal(t, Hash("0xC"), q.drainLowest().Hash)
	assert.True(t, q.isEmpty())
}

func TestIngestQueueOfferDedupesAgainstQueueAndTree(t *testing.T) {
	tr := newTree()
	q := newIngestQueue()

	a := &Block{Hash: "0xA", Number: 1}
	require.True(t, q.offer(a, tr))
	assert.False(t, q.offer(a, tr), "already queued")

	q.drainLowest()
	tr.insert(a)
	assert.False(t, q.offer(a, tr), "already in tree")
}

func TestIngestQueueDrainLowestOnEmpty(t *testing.T) {
	q := newIngestQueue()
	assert.Nil(t, q.drainLowest())
}
