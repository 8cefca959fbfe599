package serde

import (
	"reflect"

	"github.com/bytedance/sonic"
	"google.golang.org/protobuf/proto"

	"github.com/lk2023060901/danmu-garden-serde/pkg/buffer"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// Codec 是绑定到某个类型的编解码例程。
//
// 对指针与 map 类型，引用标记由引擎负责：Write 收到的 v 一定非空，
// Read 收到的 v 已经由引擎分配好（指针指向新零值，map 为空 map），
// 并已登记到引用表中，Codec 只需读写内容。
// 其它类型的 v 在 Read 时都是可设置的。
type Codec interface {
	Write(e *Engine, buf *buffer.Buffer, v reflect.Value) error
	Read(e *Engine, buf *buffer.Buffer, v reflect.Value) error
}

// CompiledCodecFactory 为类型提供预先生成的编解码器，返回 false 时回退到反射实现。
type CompiledCodecFactory func(t reflect.Type) (Codec, bool)

// extCodec 以 uint32 长度前缀包裹自定义编解码器的输出，读端可以不认识类型而整体跳过。
// 帧内通过 WriteValue 写出的嵌套值使用独立的名称字典、引用编号和 ClassDef。
type extCodec struct {
	inner Codec
}

func (c *extCodec) Write(e *Engine, buf *buffer.Buffer, v reflect.Value) error {
	off := buf.Len()
	buf.WriteUint32(0)
	if err := e.inFrame(func() error { return c.inner.Write(e, buf, v) }); err != nil {
		return err
	}
	buf.PutUint32At(off, uint32(buf.Len()-off-4))
	return nil
}

func (c *extCodec) Read(e *Engine, buf *buffer.Buffer, v reflect.Value) error {
	n := buf.ReadUint32()
	data := buf.ReadBinary(int(n))
	if err := buf.Err(); err != nil {
		return merr.WrapErrMalformedInput("truncated custom codec frame", err)
	}
	sub := buffer.Wrap(data)
	if err := e.inFrame(func() error { return c.inner.Read(e, sub, v) }); err != nil {
		return err
	}
	if err := sub.Err(); err != nil {
		return merr.WrapErrMalformedInput("custom codec read past its frame", err)
	}
	return nil
}

var protoMessageType = reflect.TypeFor[proto.Message]()

// ProtoFactory 是一个 CompiledCodecFactory，为所有实现了 proto.Message 的指针类型提供 ProtoCodec。
func ProtoFactory(t reflect.Type) (Codec, bool) {
	if t.Kind() == reflect.Pointer && t.Implements(protoMessageType) {
		return ProtoCodec{}, true
	}
	return nil, false
}

// ProtoCodec 用 Protobuf 编解码实现了 proto.Message 的指针类型。
type ProtoCodec struct{}

var _ Codec = ProtoCodec{}

func (ProtoCodec) Write(_ *Engine, buf *buffer.Buffer, v reflect.Value) error {
	msg, ok := v.Interface().(proto.Message)
	if !ok {
		return merr.WrapErrUnsupportedType(v.Type().String(), "ProtoCodec requires proto.Message")
	}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	if err != nil {
		return err
	}
	buf.WriteBinary(data)
	return nil
}

func (ProtoCodec) Read(_ *Engine, buf *buffer.Buffer, v reflect.Value) error {
	msg, ok := v.Interface().(proto.Message)
	if !ok {
		return merr.WrapErrUnsupportedType(v.Type().String(), "ProtoCodec requires proto.Message")
	}
	if err := proto.Unmarshal(buf.ReadBinary(buf.Remaining()), msg); err != nil {
		return merr.WrapErrMalformedInput("invalid protobuf payload", err)
	}
	return nil
}

// JSONCodec 以 JSON 文本编码值，适合结构频繁变化、对体积不敏感的类型。
type JSONCodec struct{}

var _ Codec = JSONCodec{}

func (JSONCodec) Write(_ *Engine, buf *buffer.Buffer, v reflect.Value) error {
	data, err := sonic.Marshal(v.Interface())
	if err != nil {
		return err
	}
	buf.WriteBinary(data)
	return nil
}

func (JSONCodec) Read(_ *Engine, buf *buffer.Buffer, v reflect.Value) error {
	var target any
	if v.Kind() == reflect.Pointer {
		target = v.Interface()
	} else {
		target = v.Addr().Interface()
	}
	if err := sonic.Unmarshal(buf.ReadBinary(buf.Remaining()), target); err != nil {
		return merr.WrapErrMalformedInput("invalid json payload", err)
	}
	return nil
}
