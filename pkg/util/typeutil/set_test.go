package typeutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConcurrentSet(t *testing.T) {
	s := NewConcurrentSet[string]("x")
	assert.False(t, s.Insert("x"))
	assert.True(t, s.Insert("y"))
	assert.ElementsMatch(t, []string{"x", "y"}, s.Collect())
	assert.True(t, s.Contain("x", "y"))
	assert.False(t, s.Contain("x", "z"))

	s.Remove("x")
	assert.False(t, s.Contain("x"))
	assert.True(t, s.Contain("y"))
	assert.Equal(t, 1, s.Len())
}

func TestSorted(t *testing.T) {
	var s ConcurrentSet[string]
	assert.Empty(t, Sorted(&s))

	s.Upsert("pkg.C", "pkg.A", "pkg.B")
	assert.Equal(t, []string{"pkg.A", "pkg.B", "pkg.C"}, Sorted(&s))
}

func TestConcurrentUpsert(t *testing.T) {
	var s ConcurrentSet[int]
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Upsert(base*100 + j)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 800, s.Len())
	sorted := Sorted(&s)
	assert.Equal(t, 0, sorted[0])
	assert.Equal(t, 799, sorted[len(sorted)-1])
}
