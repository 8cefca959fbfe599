package serde

import (
	"sync"

	"github.com/lk2023060901/danmu-garden-serde/pkg/log"
)

// LocalPool 基于 sync.Pool，为每个 P 缓存引擎实例，实例数量不设上限、不会阻塞。
// 适合短小、高频的调用；需要限制实例数量时使用 Pool。
type LocalPool struct {
	log.Binder
	registrar

	opt     *options
	ownsCtx bool
	engines sync.Pool
}

func NewLocalPool(opts ...Option) (*LocalPool, error) {
	opt, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	p := &LocalPool{opt: opt}
	if opt.cctx == nil {
		opt.cctx = NewCodecContext("local-"+opt.cfg.Pool.Name, StrongBinding)
		p.ownsCtx = true
	}
	trial, err := newEngine(opt)
	if err != nil {
		return nil, err
	}
	p.trial = trial
	p.Bind("serde-local-pool")
	return p, nil
}

func (p *LocalPool) get() (*Engine, error) {
	e, ok := p.engines.Get().(*Engine)
	if !ok {
		var err error
		if e, err = newEngine(p.opt); err != nil {
			return nil, err
		}
		e.owner = &p.registrar
	}
	if err := p.replay(e); err != nil {
		p.engines.Put(e)
		return nil, err
	}
	return e, nil
}

func (p *LocalPool) put(e *Engine) {
	e.BindMetaContext(nil)
	p.engines.Put(e)
}

// Execute 取一个实例执行 fn，结束后放回。
func (p *LocalPool) Execute(fn func(e *Engine) error) error {
	e, err := p.get()
	if err != nil {
		return err
	}
	defer p.put(e)
	return fn(e)
}

func (p *LocalPool) Marshal(v any) ([]byte, error) {
	var data []byte
	err := p.Execute(func(e *Engine) error {
		var err error
		data, err = e.Marshal(v)
		return err
	})
	return data, err
}

func (p *LocalPool) Unmarshal(data []byte, v any) error {
	return p.Execute(func(e *Engine) error {
		return e.Unmarshal(data, v)
	})
}

// Close 释放池自建的编解码上下文，之后缓存中的实例都不可再用。
func (p *LocalPool) Close() {
	p.trial.Close()
	if p.ownsCtx {
		p.opt.cctx.Release()
	}
}
