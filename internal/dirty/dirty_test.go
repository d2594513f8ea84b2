package dirty

import (
	"sync"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/scopegrid/internal/graph"
)

func handles(t *testing.T, n int) []graph.Handle {
	t.Helper()
	g := graph.New()
	out := make([]graph.Handle, n)
	for i := range out {
		h, err := g.AddChannel("aux", i)
		require.NoError(t, err)
		out[i] = h
	}
	return out
}

func TestSet_MarkAndTake(t *testing.T) {
	hs := handles(t, 2)
	s := New()

	s.Mark(hs[0])
	s.Mark(hs[0])
	s.Mark(hs[1])
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains(hs[0]))

	taken := s.Take()
	assert.True(t, taken.Equal(mapset.NewThreadUnsafeSet(hs...)))
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, s.Take().Cardinality())
}

// Marks racing with repeated Takes must each show up in exactly one snapshot.
func TestSet_NoLossUnderConcurrentMark(t *testing.T) {
	hs := handles(t, 64)
	s := New()

	var wg sync.WaitGroup
	for _, h := range hs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Mark(h)
		}()
	}

	seen := mapset.NewThreadUnsafeSet[graph.Handle]()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		seen = seen.Union(s.Take())
	}
	seen = seen.Union(s.Take())

	assert.Equal(t, len(hs), seen.Cardinality())
}
