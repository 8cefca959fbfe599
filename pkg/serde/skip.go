package serde

import (
	"strconv"

	"github.com/lk2023060901/danmu-garden-serde/internal/serde/types"
	"github.com/lk2023060901/danmu-garden-serde/pkg/buffer"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// skipValue 按写端描述消费一个值而不构造它，读取的字节与 writeTyped 写出的一致。
// 被跳过的引用值仍然占用引用编号，保证后续编号对齐。
func (e *Engine) skipValue(buf *buffer.Buffer, s *types.TypeSpec) error {
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > e.cfg.MaxDepth {
		return merr.WrapErrMaxDepthExceeded(e.depth, e.cfg.MaxDepth)
	}

	if s.Kind.IsPrimitive() {
		e.skipPrimitive(buf, s.Kind)
		return e.checkSkip(buf, s)
	}
	switch s.Kind {
	case types.KindString:
		buf.Skip(int(buf.ReadVarUint32()))
	case types.KindBinary:
		isNull, err := readNullFlag(buf)
		if err != nil || isNull {
			return err
		}
		buf.Skip(int(buf.ReadVarUint32()))
	case types.KindTime:
		buf.ReadVarInt64()
		buf.ReadVarUint32()
	case types.KindList:
		isNull, err := readNullFlag(buf)
		if err != nil || isNull {
			return err
		}
		n := int(buf.ReadVarUint32())
		if err := e.checkSkip(buf, s); err != nil {
			return err
		}
		if n > buf.Remaining() && n > maxEmptyElems {
			return merr.WrapErrMalformedInput("list length " + strconv.Itoa(n) + " exceeds remaining input")
		}
		for i := 0; i < n; i++ {
			if err := e.skipValue(buf, s.Elem); err != nil {
				return err
			}
		}
	case types.KindArray:
		for i := 0; i < s.Len; i++ {
			if err := e.skipValue(buf, s.Elem); err != nil {
				return err
			}
		}
	case types.KindMap, types.KindPointer:
		if follows, err := e.skipRefMarker(buf); err != nil || !follows {
			return err
		}
		return e.skipContent(buf, s)
	case types.KindExt:
		if s.Ref {
			if follows, err := e.skipRefMarker(buf); err != nil || !follows {
				return err
			}
		}
		return e.skipContent(buf, s)
	case types.KindStruct:
		return e.skipContent(buf, s)
	case types.KindInterface:
		return e.skipAny(buf)
	default:
		return merr.WrapErrMalformedInput("cannot skip value of kind " + strconv.Itoa(int(s.Kind)))
	}
	return e.checkSkip(buf, s)
}

// skipContent 消费引用标记之后的内容。
func (e *Engine) skipContent(buf *buffer.Buffer, s *types.TypeSpec) error {
	switch s.Kind {
	case types.KindMap:
		n := int(buf.ReadVarUint32())
		if err := e.checkSkip(buf, s); err != nil {
			return err
		}
		if n > buf.Remaining() {
			return merr.WrapErrMalformedInput("map length " + strconv.Itoa(n) + " exceeds remaining input")
		}
		for i := 0; i < n; i++ {
			if err := e.skipValue(buf, s.Key); err != nil {
				return err
			}
			if err := e.skipValue(buf, s.Elem); err != nil {
				return err
			}
		}
	case types.KindPointer:
		return e.skipValue(buf, s.Elem)
	case types.KindExt:
		// 帧内状态自成一体，整体跳过不影响帧外的名称与引用编号。
		buf.Skip(int(buf.ReadUint32()))
	case types.KindStruct:
		if !e.cfg.Compatible {
			return merr.WrapErrMalformedInput("cannot skip struct " + s.String() + " outside compatible mode")
		}
		def, err := e.active.ReadClassDef(buf, e.nameR)
		if err != nil {
			return err
		}
		for i := range def.Fields {
			if err := e.skipValue(buf, def.Fields[i].Spec); err != nil {
				return err
			}
		}
	default:
		return e.skipValue(buf, s)
	}
	return e.checkSkip(buf, s)
}

// skipAny 跳过接口位置上的值：引用标记 + 类型标记 + 内容。按名称写出的类型
// 使用标记附带的描述，读端不需要认识它；按编号写出的类型必须已在本地注册。
func (e *Engine) skipAny(buf *buffer.Buffer) error {
	follows, err := e.skipRefMarker(buf)
	if err != nil || !follows {
		return err
	}
	m, spec, err := e.readMarker(buf)
	if err != nil {
		return err
	}
	if spec == nil {
		t, err := e.registry.typeOf(m)
		if err != nil {
			return err
		}
		if spec, err = e.specOf(t); err != nil {
			return err
		}
	}
	return e.skipContent(buf, spec)
}

// skipRefMarker 读取引用标记，返回随后是否跟着值的内容。
func (e *Engine) skipRefMarker(buf *buffer.Buffer) (bool, error) {
	return e.resolver.SkipRefOrNull(buf)
}

func (e *Engine) skipPrimitive(buf *buffer.Buffer, k types.Kind) {
	compress := e.cfg.CompressNumber
	switch k {
	case types.KindBool, types.KindInt8, types.KindUint8:
		buf.Skip(1)
	case types.KindInt16, types.KindUint16:
		buf.Skip(2)
	case types.KindInt32, types.KindUint32, types.KindInt64, types.KindInt, types.KindUint64, types.KindUint:
		if compress {
			buf.ReadVarUint64()
		} else {
			buf.Skip(types.PrimitiveWidth(k))
		}
	case types.KindFloat32:
		buf.Skip(4)
	case types.KindFloat64:
		buf.Skip(8)
	}
}

func (e *Engine) checkSkip(buf *buffer.Buffer, s *types.TypeSpec) error {
	if err := buf.Err(); err != nil {
		return merr.WrapErrMalformedInput("truncated "+s.String()+" while skipping", err)
	}
	return nil
}
