// Package generics 在嵌套容器的编解码过程中向下传递元素、key、value 的类型信息。
package generics

import "reflect"

// GenericType 是一棵类型参数树，例如 map[string][]int 的 Params 为 [string, []int]。
type GenericType struct {
	Type reflect.Type
	// Final 为 true 表示该位置的运行时类型与静态类型一致，不需要写类型标记。
	Final  bool
	Params []*GenericType
	// Binding 保存调用方为该类型缓存的编解码器，本包不解释其内容。
	Binding any
}

// Param 返回第 i 个类型参数，不存在时返回 nil。
func (g *GenericType) Param(i int) *GenericType {
	if g == nil || i >= len(g.Params) {
		return nil
	}
	return g.Params[i]
}

// Build 根据 Go 类型构造参数树，bind 为每个节点计算 Binding（可为 nil）。
func Build(t reflect.Type, bind func(reflect.Type) any) *GenericType {
	g := &GenericType{
		Type:  t,
		Final: t.Kind() != reflect.Interface,
	}
	if bind != nil {
		g.Binding = bind(t)
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		g.Params = []*GenericType{Build(t.Elem(), bind)}
	case reflect.Map:
		g.Params = []*GenericType{Build(t.Key(), bind), Build(t.Elem(), bind)}
	}
	return g
}

const initialCapacity = 4

// Stack 是以深度为键的泛型帧栈。frames 与 depths 两个数组下标对齐，扩容时同步翻倍。
//
// Next(depth) 只在栈顶帧的入栈深度恰好为 depth-1 时返回该帧，
// 这样没有消费帧的编解码器不会把过期的类型信息泄露给更深层的无关调用。
// 深度由引擎在每次嵌套调用前后维护，而非本栈。
type Stack struct {
	frames []*GenericType
	depths []int
	size   int
}

func NewStack() *Stack {
	return &Stack{
		frames: make([]*GenericType, initialCapacity),
		depths: make([]int, initialCapacity),
	}
}

// Push 在 depth 处压入一帧。
func (s *Stack) Push(g *GenericType, depth int) {
	if s.size == len(s.frames) {
		s.grow()
	}
	s.frames[s.size] = g
	s.depths[s.size] = depth
	s.size++
}

func (s *Stack) grow() {
	newCap := len(s.frames) * 2
	if newCap == 0 {
		newCap = initialCapacity
	}
	frames := make([]*GenericType, newCap)
	depths := make([]int, newCap)
	copy(frames, s.frames[:s.size])
	copy(depths, s.depths[:s.size])
	s.frames = frames
	s.depths = depths
}

// Pop 弹出栈顶帧，空栈时什么也不做。
func (s *Stack) Pop() {
	if s.size == 0 {
		return
	}
	s.size--
	s.frames[s.size] = nil
}

// Next 返回在 depth-1 处压入的栈顶帧，否则返回 nil。
func (s *Stack) Next(depth int) *GenericType {
	if s.size == 0 {
		return nil
	}
	top := s.size - 1
	if s.depths[top] != depth-1 {
		return nil
	}
	return s.frames[top]
}

func (s *Stack) Len() int {
	return s.size
}

// Cap 返回当前底层数组容量。
func (s *Stack) Cap() int {
	return len(s.frames)
}

// Reset 清空所有帧，保留容量。
func (s *Stack) Reset() {
	for i := 0; i < s.size; i++ {
		s.frames[i] = nil
	}
	s.size = 0
}
