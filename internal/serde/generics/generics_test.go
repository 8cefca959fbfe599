package generics

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextOnlyAtChildDepth(t *testing.T) {
	s := NewStack()
	g := Build(reflect.TypeFor[[]int](), nil)
	s.Push(g, 3)

	assert.Same(t, g, s.Next(4))
	// 兄弟或更深层调用看不到该帧。
	assert.Nil(t, s.Next(3))
	assert.Nil(t, s.Next(5))

	s.Pop()
	assert.Nil(t, s.Next(4))
}

func TestPopEmptyIsNoop(t *testing.T) {
	s := NewStack()
	s.Pop()
	s.Pop()
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.Next(1))
}

func TestGrowKeepsArraysAligned(t *testing.T) {
	s := NewStack()
	frames := make([]*GenericType, 0, 100)
	for i := 0; i < 100; i++ {
		g := &GenericType{Type: reflect.TypeFor[int]()}
		frames = append(frames, g)
		s.Push(g, i)
	}
	assert.Equal(t, 100, s.Len())
	assert.Equal(t, 128, s.Cap())
	for i := 99; i >= 0; i-- {
		require.Same(t, frames[i], s.Next(i+1))
		s.Pop()
	}
	assert.Equal(t, 0, s.Len())
}

func TestBuild(t *testing.T) {
	calls := 0
	g := Build(reflect.TypeFor[map[string][]any](), func(reflect.Type) any {
		calls++
		return calls
	})
	require.Len(t, g.Params, 2)
	assert.Equal(t, reflect.TypeFor[string](), g.Param(0).Type)
	assert.True(t, g.Param(0).Final)
	elem := g.Param(1).Param(0)
	require.NotNil(t, elem)
	assert.False(t, elem.Final)
	assert.Nil(t, g.Param(5))
	assert.Equal(t, 4, calls)
}
