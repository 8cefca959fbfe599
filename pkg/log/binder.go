package log

import (
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Binder 嵌入到引擎、池与流读写器中，持有组件自己的 Logger。
type Binder struct {
	logger atomic.Pointer[MLogger]
}

// Bind 以组件名和固定字段派生子 Logger。
func (b *Binder) Bind(component string, fields ...zap.Field) {
	fields = append([]zap.Field{FieldComponent(component)}, fields...)
	b.logger.Store(With(fields...))
}

func (b *Binder) SetLogger(logger *MLogger) {
	b.logger.Store(logger)
}

// Logger 未绑定时回落到全局 Logger。
func (b *Binder) Logger() *MLogger {
	if l := b.logger.Load(); l != nil {
		return l
	}
	return With()
}
