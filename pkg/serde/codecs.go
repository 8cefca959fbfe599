package serde

import (
	"reflect"
	"strconv"
	"time"

	"github.com/lk2023060901/danmu-garden-serde/internal/serde/resolver"
	"github.com/lk2023060901/danmu-garden-serde/internal/serde/types"
	"github.com/lk2023060901/danmu-garden-serde/pkg/buffer"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

func (e *Engine) writePrimitive(buf *buffer.Buffer, k types.Kind, v reflect.Value) {
	compress := e.cfg.CompressNumber
	switch k {
	case types.KindBool:
		buf.WriteBool(v.Bool())
	case types.KindInt8:
		buf.WriteInt8(int8(v.Int()))
	case types.KindInt16:
		buf.WriteInt16(int16(v.Int()))
	case types.KindInt32:
		if compress {
			buf.WriteVarInt32(int32(v.Int()))
		} else {
			buf.WriteInt32(int32(v.Int()))
		}
	case types.KindInt64, types.KindInt:
		if compress {
			buf.WriteVarInt64(v.Int())
		} else {
			buf.WriteInt64(v.Int())
		}
	case types.KindUint8:
		_ = buf.WriteByte(uint8(v.Uint()))
	case types.KindUint16:
		buf.WriteUint16(uint16(v.Uint()))
	case types.KindUint32:
		if compress {
			buf.WriteVarUint32(uint32(v.Uint()))
		} else {
			buf.WriteUint32(uint32(v.Uint()))
		}
	case types.KindUint64, types.KindUint:
		if compress {
			buf.WriteVarUint64(v.Uint())
		} else {
			buf.WriteUint64(v.Uint())
		}
	case types.KindFloat32:
		buf.WriteFloat32(float32(v.Float()))
	case types.KindFloat64:
		buf.WriteFloat64(v.Float())
	}
}

func (e *Engine) readPrimitive(buf *buffer.Buffer, k types.Kind, v reflect.Value) error {
	compress := e.cfg.CompressNumber
	switch k {
	case types.KindBool:
		v.SetBool(buf.ReadBool())
	case types.KindInt8:
		v.SetInt(int64(buf.ReadInt8()))
	case types.KindInt16:
		v.SetInt(int64(buf.ReadInt16()))
	case types.KindInt32:
		if compress {
			v.SetInt(int64(buf.ReadVarInt32()))
		} else {
			v.SetInt(int64(buf.ReadInt32()))
		}
	case types.KindInt64, types.KindInt:
		if compress {
			v.SetInt(buf.ReadVarInt64())
		} else {
			v.SetInt(buf.ReadInt64())
		}
	case types.KindUint8:
		v.SetUint(uint64(buf.ReadUint8()))
	case types.KindUint16:
		v.SetUint(uint64(buf.ReadUint16()))
	case types.KindUint32:
		if compress {
			v.SetUint(uint64(buf.ReadVarUint32()))
		} else {
			v.SetUint(uint64(buf.ReadUint32()))
		}
	case types.KindUint64, types.KindUint:
		if compress {
			v.SetUint(buf.ReadVarUint64())
		} else {
			v.SetUint(buf.ReadUint64())
		}
	case types.KindFloat32:
		v.SetFloat(float64(buf.ReadFloat32()))
	case types.KindFloat64:
		v.SetFloat(buf.ReadFloat64())
	}
	if err := buf.Err(); err != nil {
		return merr.WrapErrMalformedInput("truncated "+k.String(), err)
	}
	return nil
}

type primitiveCodec struct {
	kind types.Kind
}

func (c primitiveCodec) Write(e *Engine, buf *buffer.Buffer, v reflect.Value) error {
	e.writePrimitive(buf, c.kind, v)
	return nil
}

func (c primitiveCodec) Read(e *Engine, buf *buffer.Buffer, v reflect.Value) error {
	return e.readPrimitive(buf, c.kind, v)
}

type stringCodec struct{}

func (stringCodec) Write(_ *Engine, buf *buffer.Buffer, v reflect.Value) error {
	s := v.String()
	buf.WriteVarUint32(uint32(len(s)))
	buf.WriteBinary([]byte(s))
	return nil
}

func (stringCodec) Read(_ *Engine, buf *buffer.Buffer, v reflect.Value) error {
	n := buf.ReadVarUint32()
	b := buf.ReadBinary(int(n))
	if err := buf.Err(); err != nil {
		return merr.WrapErrMalformedInput("truncated string", err)
	}
	v.SetString(string(b))
	return nil
}

// binaryCodec 编码字节切片：空标记 + varuint 长度 + 原始字节。
type binaryCodec struct{}

func (binaryCodec) Write(_ *Engine, buf *buffer.Buffer, v reflect.Value) error {
	if v.IsNil() {
		buf.WriteInt8(resolver.NullFlag)
		return nil
	}
	buf.WriteInt8(resolver.NotNullValueFlag)
	b := v.Bytes()
	buf.WriteVarUint32(uint32(len(b)))
	buf.WriteBinary(b)
	return nil
}

func (binaryCodec) Read(_ *Engine, buf *buffer.Buffer, v reflect.Value) error {
	isNull, err := readNullFlag(buf)
	if err != nil {
		return err
	}
	if isNull {
		v.Set(reflect.Zero(v.Type()))
		return nil
	}
	n := buf.ReadVarUint32()
	data := buf.ReadBinary(int(n))
	if err := buf.Err(); err != nil {
		return merr.WrapErrMalformedInput("truncated binary", err)
	}
	b := make([]byte, len(data))
	copy(b, data)
	v.SetBytes(b)
	return nil
}

func readNullFlag(buf *buffer.Buffer) (bool, error) {
	flag := buf.ReadInt8()
	if err := buf.Err(); err != nil {
		return false, merr.WrapErrMalformedInput("truncated null flag", err)
	}
	switch flag {
	case resolver.NullFlag:
		return true, nil
	case resolver.NotNullValueFlag:
		return false, nil
	default:
		return false, merr.WrapErrMalformedInput("invalid null flag " + strconv.Itoa(int(flag)))
	}
}

// timeCodec 编码为 zigzag 秒数 + varuint 纳秒，解码为 UTC。
type timeCodec struct{}

func (timeCodec) Write(_ *Engine, buf *buffer.Buffer, v reflect.Value) error {
	t := v.Interface().(time.Time)
	buf.WriteVarInt64(t.Unix())
	buf.WriteVarUint32(uint32(t.Nanosecond()))
	return nil
}

func (timeCodec) Read(_ *Engine, buf *buffer.Buffer, v reflect.Value) error {
	sec := buf.ReadVarInt64()
	nsec := buf.ReadVarUint32()
	if err := buf.Err(); err != nil {
		return merr.WrapErrMalformedInput("truncated time", err)
	}
	if nsec >= uint32(time.Second) {
		return merr.WrapErrMalformedInput("time nanoseconds out of range")
	}
	v.Set(reflect.ValueOf(time.Unix(sec, int64(nsec)).UTC()))
	return nil
}

func primitiveElem(e *Engine, t reflect.Type) types.Kind {
	if e.registry.extFor(t) != nil || types.IsTime(t) {
		return 0
	}
	k, _ := types.PrimitiveKindOf(t.Kind())
	return k
}

// maxEmptyElems 限制零宽元素的数量，这类元素不占字节，无法用剩余输入约束长度。
const maxEmptyElems = 1 << 20

func checkElemCount(n int, empty bool, buf *buffer.Buffer) error {
	limit := buf.Remaining()
	if empty {
		limit = maxEmptyElems
	}
	if n > limit {
		return merr.WrapErrMalformedInput("element count " + strconv.Itoa(n) + " exceeds limit " + strconv.Itoa(limit))
	}
	return nil
}

// sliceCodec 编码切片：空标记 + varuint 长度 + 元素。
type sliceCodec struct {
	typ      reflect.Type
	elem     Codec
	elemKind types.Kind
}

func (c *sliceCodec) init(e *Engine) error {
	elem, err := e.codecFor(c.typ.Elem())
	if err != nil {
		return err
	}
	c.elem = elem
	c.elemKind = primitiveElem(e, c.typ.Elem())
	return nil
}

func (c *sliceCodec) Write(e *Engine, buf *buffer.Buffer, v reflect.Value) error {
	if v.IsNil() {
		buf.WriteInt8(resolver.NullFlag)
		return nil
	}
	buf.WriteInt8(resolver.NotNullValueFlag)
	n := v.Len()
	buf.WriteVarUint32(uint32(n))
	return writeElems(e, buf, c.typ, c.elem, c.elemKind, v, n)
}

func (c *sliceCodec) Read(e *Engine, buf *buffer.Buffer, v reflect.Value) error {
	isNull, err := readNullFlag(buf)
	if err != nil {
		return err
	}
	if isNull {
		v.Set(reflect.Zero(c.typ))
		return nil
	}
	n := int(buf.ReadVarUint32())
	if err := buf.Err(); err != nil {
		return merr.WrapErrMalformedInput("truncated slice length", err)
	}
	if err := checkElemCount(n, c.typ.Elem().Size() == 0, buf); err != nil {
		return err
	}
	v.Set(reflect.MakeSlice(c.typ, n, n))
	return readElems(e, buf, c.typ, c.elem, c.elemKind, v, n)
}

// arrayCodec 编码定长数组，只写元素。
type arrayCodec struct {
	typ      reflect.Type
	elem     Codec
	elemKind types.Kind
}

func (c *arrayCodec) init(e *Engine) error {
	elem, err := e.codecFor(c.typ.Elem())
	if err != nil {
		return err
	}
	c.elem = elem
	c.elemKind = primitiveElem(e, c.typ.Elem())
	return nil
}

func (c *arrayCodec) Write(e *Engine, buf *buffer.Buffer, v reflect.Value) error {
	return writeElems(e, buf, c.typ, c.elem, c.elemKind, v, c.typ.Len())
}

func (c *arrayCodec) Read(e *Engine, buf *buffer.Buffer, v reflect.Value) error {
	return readElems(e, buf, c.typ, c.elem, c.elemKind, v, c.typ.Len())
}

func writeElems(e *Engine, buf *buffer.Buffer, t reflect.Type, elem Codec, kind types.Kind, v reflect.Value, n int) error {
	if kind != 0 {
		for i := 0; i < n; i++ {
			e.writePrimitive(buf, kind, v.Index(i))
		}
		return nil
	}
	elem, child := e.nextGeneric(t, 0, elem)
	if child != nil {
		e.generics.Push(child, e.depth)
		defer e.generics.Pop()
	}
	for i := 0; i < n; i++ {
		if err := e.writeTyped(buf, elem, v.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

func readElems(e *Engine, buf *buffer.Buffer, t reflect.Type, elem Codec, kind types.Kind, v reflect.Value, n int) error {
	if kind != 0 {
		for i := 0; i < n; i++ {
			if err := e.readPrimitive(buf, kind, v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	}
	elem, child := e.nextGeneric(t, 0, elem)
	if child != nil {
		e.generics.Push(child, e.depth)
		defer e.generics.Pop()
	}
	for i := 0; i < n; i++ {
		if err := e.readTyped(buf, elem, v.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

// mapCodec 编码 map 内容：varuint 长度 + 键值对。引用标记由引擎写出。
type mapCodec struct {
	typ reflect.Type
	key Codec
	val Codec
}

func (c *mapCodec) init(e *Engine) error {
	key, err := e.codecFor(c.typ.Key())
	if err != nil {
		return err
	}
	val, err := e.codecFor(c.typ.Elem())
	if err != nil {
		return err
	}
	c.key, c.val = key, val
	return nil
}

func (c *mapCodec) Write(e *Engine, buf *buffer.Buffer, v reflect.Value) error {
	buf.WriteVarUint32(uint32(v.Len()))
	key, keyGen := e.nextGeneric(c.typ, 0, c.key)
	val, valGen := e.nextGeneric(c.typ, 1, c.val)
	iter := v.MapRange()
	for iter.Next() {
		if err := e.writeWithGeneric(buf, keyGen, key, iter.Key()); err != nil {
			return err
		}
		if err := e.writeWithGeneric(buf, valGen, val, iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func (c *mapCodec) Read(e *Engine, buf *buffer.Buffer, v reflect.Value) error {
	n := int(buf.ReadVarUint32())
	if err := buf.Err(); err != nil {
		return merr.WrapErrMalformedInput("truncated map length", err)
	}
	if n > buf.Remaining() {
		return merr.WrapErrMalformedInput("map length " + strconv.Itoa(n) + " exceeds remaining input")
	}
	key, keyGen := e.nextGeneric(c.typ, 0, c.key)
	val, valGen := e.nextGeneric(c.typ, 1, c.val)
	kt, vt := c.typ.Key(), c.typ.Elem()
	for i := 0; i < n; i++ {
		k := reflect.New(kt).Elem()
		if err := e.readWithGeneric(buf, keyGen, key, k); err != nil {
			return err
		}
		item := reflect.New(vt).Elem()
		if err := e.readWithGeneric(buf, valGen, val, item); err != nil {
			return err
		}
		v.SetMapIndex(k, item)
	}
	return nil
}

// ptrCodec 编码指针指向的内容。指向指针或 map 时，内层值自带引用标记。
type ptrCodec struct {
	typ     reflect.Type
	elem    Codec
	elemRef bool
}

func (c *ptrCodec) init(e *Engine) error {
	elem, err := e.codecFor(c.typ.Elem())
	if err != nil {
		return err
	}
	c.elem = elem
	c.elemRef = types.IsRefKind(c.typ.Elem())
	return nil
}

func (c *ptrCodec) Write(e *Engine, buf *buffer.Buffer, v reflect.Value) error {
	if c.elemRef {
		return e.writeTyped(buf, c.elem, v.Elem())
	}
	return c.elem.Write(e, buf, v.Elem())
}

func (c *ptrCodec) Read(e *Engine, buf *buffer.Buffer, v reflect.Value) error {
	if c.elemRef {
		return e.readTyped(buf, c.elem, v.Elem())
	}
	return c.elem.Read(e, buf, v.Elem())
}

// anyCodec 编码接口位置上的值：引用标记 + 类型标记 + 内容。
type anyCodec struct{}

func (anyCodec) Write(e *Engine, buf *buffer.Buffer, v reflect.Value) error {
	if v.IsNil() {
		buf.WriteInt8(resolver.NullFlag)
		return nil
	}
	return e.writeAny(buf, v.Elem())
}

func (anyCodec) Read(e *Engine, buf *buffer.Buffer, v reflect.Value) error {
	r, err := e.resolver.ReadRefOrNull(buf)
	if err != nil {
		return err
	}
	switch r.Kind {
	case resolver.ReadNull:
		v.Set(reflect.Zero(v.Type()))
		return nil
	case resolver.ReadExisting:
		if !r.Value.Type().AssignableTo(v.Type()) {
			return merr.WrapErrMalformedInput("reference to " + r.Value.Type().String() + " is not assignable to " + v.Type().String())
		}
		v.Set(r.Value)
		return nil
	}
	t, err := e.readType(buf)
	if err != nil {
		return err
	}
	if !t.AssignableTo(v.Type()) {
		return merr.WrapErrMalformedInput(t.String() + " is not assignable to " + v.Type().String())
	}
	val, err := e.readAnyValue(buf, t, r.ID)
	if err != nil {
		return err
	}
	v.Set(val)
	return nil
}
