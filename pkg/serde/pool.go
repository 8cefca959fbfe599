package serde

import (
	"context"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-serde/pkg/log"
	"github.com/lk2023060901/danmu-garden-serde/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/conc"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// Pool 是有界的引擎实例池，使一组非并发安全的引擎整体表现为一个并发安全的序列化器。
//
// 空闲实例放在容量为 MaxSize 的队列中；只有在 created 计数自增后仍不超过上限时才会新建实例，
// 否则回滚计数并在空闲队列上等待。等待没有默认超时，调用方通过 ctx 施加截止时间。
type Pool struct {
	log.Binder
	registrar

	name    string
	maxSize int
	opt     *options
	ownsCtx bool

	idle       chan *Engine
	created    atomic.Int32
	checkedOut atomic.Int32
	closed     atomic.Bool

	workers *conc.Pool[[]byte]
}

// NewPool 按选项创建引擎池。池内引擎共享同一个编解码上下文。
func NewPool(opts ...Option) (*Pool, error) {
	opt, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	p := &Pool{
		name:    opt.cfg.Pool.Name,
		maxSize: opt.cfg.Pool.MaxSize,
		opt:     opt,
		idle:    make(chan *Engine, opt.cfg.Pool.MaxSize),
	}
	if opt.cctx == nil {
		opt.cctx = NewCodecContext("pool-"+p.name, StrongBinding)
		p.ownsCtx = true
	}
	p.Bind("serde-pool", zap.String("pool", p.name))

	trial, err := newEngine(opt)
	if err != nil {
		return nil, err
	}
	p.trial = trial

	workers, err := conc.NewPool[[]byte](p.maxSize, conc.WithConcealPanic(true), conc.WithLogger(p.Logger()))
	if err != nil {
		trial.Close()
		return nil, err
	}
	p.workers = workers
	metrics.PoolInstances.WithLabelValues(p.name).Set(0)
	metrics.PoolCheckedOut.WithLabelValues(p.name).Set(0)
	return p, nil
}

func (p *Pool) Name() string {
	return p.name
}

// MaxSize 返回实例数上限。
func (p *Pool) MaxSize() int {
	return p.maxSize
}

// Size 返回已创建的实例数。
func (p *Pool) Size() int {
	return int(p.created.Load())
}

// CheckedOut 返回当前借出的实例数。
func (p *Pool) CheckedOut() int {
	return int(p.checkedOut.Load())
}

// Checkout 借出一个引擎实例，用完后必须调用 Checkin 归还。
// 所有实例都被借出且数量已达上限时阻塞，直到有实例归还或 ctx 结束。
func (p *Pool) Checkout(ctx context.Context) (*Engine, error) {
	if p.closed.Load() {
		return nil, merr.WrapErrPoolClosed(p.name)
	}
	start := time.Now()
	select {
	case e := <-p.idle:
		return p.lend(e, start)
	default:
	}

	if n := p.created.Inc(); int(n) <= p.maxSize {
		e, err := newEngine(p.opt)
		if err != nil {
			p.created.Dec()
			return nil, err
		}
		e.owner = &p.registrar
		metrics.PoolInstances.WithLabelValues(p.name).Set(float64(n))
		p.Logger().Info("engine instance created", zap.Int32("instances", n), zap.Int("maxSize", p.maxSize))
		return p.lend(e, start)
	}
	p.created.Dec()

	select {
	case e := <-p.idle:
		return p.lend(e, start)
	case <-ctx.Done():
		return nil, merr.WrapErrPoolExhaustedTimeout(p.name, p.maxSize, ctx.Err())
	}
}

func (p *Pool) lend(e *Engine, start time.Time) (*Engine, error) {
	if err := p.replay(e); err != nil {
		p.put(e)
		return nil, err
	}
	n := p.checkedOut.Inc()
	metrics.PoolCheckedOut.WithLabelValues(p.name).Set(float64(n))
	metrics.PoolCheckoutWait.WithLabelValues(p.name).Observe(float64(time.Since(start).Milliseconds()))
	return e, nil
}

// Checkin 归还 Checkout 借出的实例，归还后调用方不得再使用 e。
func (p *Pool) Checkin(e *Engine) {
	if e == nil {
		return
	}
	n := p.checkedOut.Dec()
	metrics.PoolCheckedOut.WithLabelValues(p.name).Set(float64(n))
	p.put(e)
}

func (p *Pool) put(e *Engine) {
	e.BindMetaContext(nil)
	if !p.closed.Load() {
		select {
		case p.idle <- e:
			return
		default:
		}
	}
	e.Close()
	n := p.created.Dec()
	metrics.PoolInstances.WithLabelValues(p.name).Set(float64(n))
}

// Execute 借出一个实例执行 fn，无论 fn 是否出错都会归还。
func (p *Pool) Execute(ctx context.Context, fn func(e *Engine) error) error {
	e, err := p.Checkout(ctx)
	if err != nil {
		return err
	}
	defer p.Checkin(e)
	return fn(e)
}

func (p *Pool) Marshal(v any) ([]byte, error) {
	var data []byte
	err := p.Execute(context.Background(), func(e *Engine) error {
		var err error
		data, err = e.Marshal(v)
		return err
	})
	return data, err
}

func (p *Pool) Unmarshal(data []byte, v any) error {
	return p.Execute(context.Background(), func(e *Engine) error {
		return e.Unmarshal(data, v)
	})
}

// MarshalAll 在协程池上并行编码 values，结果与输入一一对应；任一编码失败时返回第一个错误。
func (p *Pool) MarshalAll(ctx context.Context, values []any) ([][]byte, error) {
	futures := make([]*conc.Future[[]byte], 0, len(values))
	for _, v := range values {
		v := v
		futures = append(futures, p.workers.Submit(func() ([]byte, error) {
			var data []byte
			err := p.Execute(ctx, func(e *Engine) error {
				var err error
				data, err = e.Marshal(v)
				return err
			})
			return data, err
		}))
	}
	if err := conc.AwaitAll(futures...); err != nil {
		log.Ctx(ctx).Warn("batch encode failed",
			zap.String("pool", p.name), zap.Int("values", len(values)), zap.Error(err))
		return nil, err
	}
	out := make([][]byte, len(futures))
	for i, f := range futures {
		out[i] = f.Value()
	}
	return out, nil
}

// Close 关闭池并释放空闲实例，借出中的实例在归还时释放。
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.workers.Release()
	for drained := false; !drained; {
		select {
		case e := <-p.idle:
			e.Close()
			p.created.Dec()
		default:
			drained = true
		}
	}
	p.trial.Close()
	if p.ownsCtx {
		p.opt.cctx.Release()
	}
	metrics.PoolInstances.WithLabelValues(p.name).Set(float64(p.created.Load()))
	p.Logger().Info("engine pool closed", zap.Int32("inUse", p.checkedOut.Load()))
}
