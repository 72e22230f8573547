package console

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogBuffer_AppendAndSnapshot(t *testing.T) {
	b := NewLogBuffer(3)

	assert.Empty(t, b.Snapshot())

	assert.Equal(t, uint64(1), b.Append("a"))
	assert.Equal(t, uint64(2), b.Append("b"))

	assert.Equal(t, []string{"a", "b"}, b.Lines())
	assert.Equal(t, 2, b.Len())
}

func TestLogBuffer_EvictsOldestFirst(t *testing.T) {
	b := NewLogBuffer(3)
	for i := 1; i <= 5; i++ {
		b.Append(fmt.Sprintf("line-%d", i))
	}

	snap := b.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"line-3", "line-4", "line-5"}, b.Lines())
	assert.Equal(t, uint64(3), snap[0].Seq)
	assert.Equal(t, uint64(5), snap[2].Seq)
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 3, b.Cap())
}

func TestLogBuffer_DefaultCapacity(t *testing.T) {
	b := NewLogBuffer(0)
	assert.Equal(t, DefaultLogBufferSize, b.Cap())
}

func TestLogBuffer_ConcurrentAppendKeepsSequenceUnique(t *testing.T) {
	b := NewLogBuffer(1000)

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				b.Append("x")
			}
		}()
	}
	wg.Wait()

	snap := b.Snapshot()
	require.Len(t, snap, 500)
	for i := 1; i < len(snap); i++ {
		assert.Equal(t, snap[i-1].Seq+1, snap[i].Seq)
	}
}
