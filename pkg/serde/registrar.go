package serde

import (
	"reflect"
	"sync"

	"google.golang.org/protobuf/proto"

	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// registrar 累积作用于引擎的注册回调。
//
// 每个回调先在试验引擎上执行以校验，成功后追加到列表；池中的引擎在借出前
// 按 Engine.applied 回放尚未执行的回调，因此注册对过去与将来的实例都生效。
// 借出的引擎上直接调用的 Register 系列方法同样经由这里登记。
type registrar struct {
	mu        sync.Mutex
	trial     *Engine
	callbacks []func(e *Engine) error
}

func (r *registrar) apply(cb func(e *Engine) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := cb(r.trial); err != nil {
		return err
	}
	r.callbacks = append(r.callbacks, cb)
	r.trial.applied = len(r.callbacks)
	return nil
}

// replay 为 e 补齐尚未执行的回调。
func (r *registrar) replay(e *Engine) error {
	r.mu.Lock()
	pending := r.callbacks[e.applied:]
	r.mu.Unlock()
	for _, cb := range pending {
		if err := cb(e); err != nil {
			return err
		}
		e.applied++
	}
	return nil
}

// Register 以编号注册类型。
func (r *registrar) Register(t reflect.Type, id uint32) error {
	return r.apply(func(e *Engine) error { return e.register(t, id) })
}

// RegisterNamed 以命名空间与名称注册类型。
func (r *registrar) RegisterNamed(t reflect.Type, namespace, name string) error {
	return r.apply(func(e *Engine) error { return e.registerNamed(t, namespace, name) })
}

// RegisterCodec 为类型绑定自定义编解码器，c 会被所有引擎共享，必须无状态。
func (r *registrar) RegisterCodec(t reflect.Type, c Codec) error {
	return r.apply(func(e *Engine) error { return e.registerCodec(t, c) })
}

// RegisterProto 以 Protobuf 全名注册消息类型。
func (r *registrar) RegisterProto(msg proto.Message) error {
	if msg == nil {
		return merr.WrapErrParameterInvalidMsg("proto message is nil")
	}
	return r.apply(func(e *Engine) error { return e.registerProto(msg) })
}

// SetClassChecker 为所有引擎设置类型检查器，checker 必须并发安全。
func (r *registrar) SetClassChecker(checker ClassChecker) error {
	return r.apply(func(e *Engine) error {
		e.registry.SetClassChecker(checker)
		return nil
	})
}
