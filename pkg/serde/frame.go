package serde

import (
	"github.com/lk2023060901/danmu-garden-serde/internal/serde/meta"
	"github.com/lk2023060901/danmu-garden-serde/internal/serde/names"
	"github.com/lk2023060901/danmu-garden-serde/internal/serde/resolver"
)

// frameScope 是自定义编解码器帧内使用的会话状态。帧内的名称字典、引用编号与
// ClassDef 都从零开始，帧外看不到也不引用它们，读端整体跳过帧时不会错位。
type frameScope struct {
	resolver resolver.Resolver
	nameW    *names.Writer
	nameR    *names.Reader
	meta     *meta.MetaContext
}

func (e *Engine) newFrameScope() *frameScope {
	f := &frameScope{
		nameW: names.NewWriter(),
		nameR: names.NewReader(),
		meta:  meta.NewMetaContext(),
	}
	if e.cfg.RefTracking {
		f.resolver = resolver.NewMapResolver()
	} else {
		f.resolver = resolver.NoRefResolver{}
	}
	return f
}

// inFrame 在下一层帧作用域内执行 fn，返回后恢复外层状态。
func (e *Engine) inFrame(fn func() error) error {
	defer e.enterFrame()()
	return fn()
}

// enterFrame 切换到下一层帧作用域，返回的函数恢复外层状态。
func (e *Engine) enterFrame() (restore func()) {
	if e.frameDepth == len(e.frames) {
		e.frames = append(e.frames, e.newFrameScope())
	}
	f := e.frames[e.frameDepth]
	e.frameDepth++
	f.resolver.Reset()
	f.nameW.Reset()
	f.nameR.Reset()
	f.meta.Clear()

	outerResolver, outerW, outerR, outerMeta := e.resolver, e.nameW, e.nameR, e.active
	e.resolver, e.nameW, e.nameR = f.resolver, f.nameW, f.nameR
	if outerMeta != nil {
		e.active = f.meta
	}
	return func() {
		e.frameBackRefs += f.resolver.BackRefs()
		e.resolver, e.nameW, e.nameR, e.active = outerResolver, outerW, outerR, outerMeta
		e.frameDepth--
	}
}
