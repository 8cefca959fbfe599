package serde

import (
	"reflect"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-serde/internal/serde/meta"
	"github.com/lk2023060901/danmu-garden-serde/pkg/log"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// BindingMode 决定 CodecContext 的释放方式。
type BindingMode int

const (
	// StrongBinding 的上下文一直有效，直到调用方显式 Release。
	StrongBinding BindingMode = iota
	// ScopedBinding 的上下文在最后一个绑定它的引擎关闭时自动释放。
	ScopedBinding
)

type layoutKey struct {
	cfgID uint32
	typ   reflect.Type
}

type remapKey struct {
	cfgID uint32
	hash  uint64
	typ   reflect.Type
}

// CodecContext 保存可以在多个引擎之间共享、只增不减的类型级缓存：
// 结构体字段布局与兼容模式下的字段映射。
//
// 嵌入方通过 Rebind 丢弃全部缓存（例如重新加载了一组类型定义），
// 通过 Release 结束上下文的生命周期；已绑定的引擎在下一次调用时感知到变化。
type CodecContext struct {
	name string
	mode BindingMode

	layouts sync.Map // layoutKey -> *structLayout
	remaps  sync.Map // remapKey -> meta.FieldMapping

	generation atomic.Uint64
	released   atomic.Bool
	refs       atomic.Int32
}

func NewCodecContext(name string, mode BindingMode) *CodecContext {
	return &CodecContext{name: name, mode: mode}
}

func (c *CodecContext) Name() string {
	return c.name
}

func (c *CodecContext) Mode() BindingMode {
	return c.mode
}

// Generation 在每次 Rebind 后递增。
func (c *CodecContext) Generation() uint64 {
	return c.generation.Load()
}

func (c *CodecContext) Released() bool {
	return c.released.Load()
}

// Rebind 丢弃全部缓存，绑定的引擎会在下一次调用时重建自己的编解码器。
func (c *CodecContext) Rebind() error {
	if c.Released() {
		return merr.WrapErrCodecContextReleased(c.name)
	}
	c.clear()
	gen := c.generation.Inc()
	log.Debug("codec context rebound", log.FieldComponent(c.name), zap.Uint64("generation", gen))
	return nil
}

// Release 结束上下文的生命周期，之后绑定它的引擎调用都会返回 CodecContextReleased。
func (c *CodecContext) Release() {
	if c.released.CompareAndSwap(false, true) {
		c.clear()
		log.Debug("codec context released", log.FieldComponent(c.name))
	}
}

// Refs 返回当前绑定的引擎数量。
func (c *CodecContext) Refs() int {
	return int(c.refs.Load())
}

func (c *CodecContext) clear() {
	c.layouts.Range(func(k, _ any) bool {
		c.layouts.Delete(k)
		return true
	})
	c.remaps.Range(func(k, _ any) bool {
		c.remaps.Delete(k)
		return true
	})
}

func (c *CodecContext) acquire() error {
	if c.Released() {
		return merr.WrapErrCodecContextReleased(c.name)
	}
	c.refs.Inc()
	return nil
}

func (c *CodecContext) release() {
	if c.refs.Dec() <= 0 && c.mode == ScopedBinding {
		c.Release()
	}
}

func (c *CodecContext) loadLayout(cfgID uint32, t reflect.Type) (*structLayout, bool) {
	v, ok := c.layouts.Load(layoutKey{cfgID: cfgID, typ: t})
	if !ok {
		return nil, false
	}
	return v.(*structLayout), true
}

func (c *CodecContext) storeLayout(cfgID uint32, t reflect.Type, layout *structLayout) *structLayout {
	v, _ := c.layouts.LoadOrStore(layoutKey{cfgID: cfgID, typ: t}, layout)
	return v.(*structLayout)
}

func (c *CodecContext) remap(cfgID uint32, def *meta.ClassDef, layout *structLayout) meta.FieldMapping {
	key := remapKey{cfgID: cfgID, hash: def.Hash(), typ: layout.typ}
	if v, ok := c.remaps.Load(key); ok {
		return v.(meta.FieldMapping)
	}
	mapping := meta.Remap(def, layout.def.Fields)
	v, _ := c.remaps.LoadOrStore(key, mapping)
	return v.(meta.FieldMapping)
}
