package ids

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorUniqueUnderConcurrency(t *testing.T) {
	g := NewGenerator(7)

	const workers, per = 8, 2000
	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{}, workers*per)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, per)
			for i := 0; i < per; i++ {
				local = append(local, g.Next())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, workers*per)
}

func TestNodeIDEmbedded(t *testing.T) {
	g := NewGenerator(513)
	assert.Equal(t, int64(513), NodeOf(g.Next()))

	bad := NewGenerator(5000)
	assert.Equal(t, int64(1), NodeOf(bad.Next()))
}

func TestMonotonic(t *testing.T) {
	g := NewGenerator(1)
	prev := g.Next()
	for i := 0; i < 10000; i++ {
		id := g.Next()
		require.Greater(t, id, prev)
		prev = id
	}
}
