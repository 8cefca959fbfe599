package serde

import "sync"

// Interner 为相等的 Config 分配相同的小整数编号，编号从 1 开始。
// 表只增不减，生命周期与进程相同。
type Interner struct {
	mu  sync.Mutex
	ids map[Config]uint32
}

var defaultInterner = NewInterner()

func NewInterner() *Interner {
	return &Interner{ids: make(map[Config]uint32)}
}

// DefaultInterner 返回进程级的驻留表。
func DefaultInterner() *Interner {
	return defaultInterner
}

// Intern 返回 cfg 的编号。
func (i *Interner) Intern(cfg Config) uint32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	if id, ok := i.ids[cfg]; ok {
		return id
	}
	id := uint32(len(i.ids) + 1)
	i.ids[cfg] = id
	return id
}

func (i *Interner) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.ids)
}
