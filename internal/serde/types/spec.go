package types

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/lk2023060901/danmu-garden-serde/pkg/buffer"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// Kind 是字段类型描述中的类型种类。基础类型与对应的 TypeID 取值一致。
type Kind uint8

const (
	KindBool    = Kind(BoolID)
	KindInt8    = Kind(Int8ID)
	KindInt16   = Kind(Int16ID)
	KindInt32   = Kind(Int32ID)
	KindInt64   = Kind(Int64ID)
	KindInt     = Kind(IntID)
	KindUint8   = Kind(Uint8ID)
	KindUint16  = Kind(Uint16ID)
	KindUint32  = Kind(Uint32ID)
	KindUint64  = Kind(Uint64ID)
	KindUint    = Kind(UintID)
	KindFloat32 = Kind(Float32ID)
	KindFloat64 = Kind(Float64ID)
	KindString  = Kind(StringID)
	KindBinary  = Kind(BinaryID)
	KindList    = Kind(ListID)
	KindMap     = Kind(MapID)
	KindTime    = Kind(TimeID)
)

// 复合种类不对应任何 TypeID。
const (
	KindArray Kind = iota + 48
	KindPointer
	KindStruct
	KindInterface
	KindExt
)

var primitiveKinds = map[reflect.Kind]Kind{
	reflect.Bool:    KindBool,
	reflect.Int8:    KindInt8,
	reflect.Int16:   KindInt16,
	reflect.Int32:   KindInt32,
	reflect.Int64:   KindInt64,
	reflect.Int:     KindInt,
	reflect.Uint8:   KindUint8,
	reflect.Uint16:  KindUint16,
	reflect.Uint32:  KindUint32,
	reflect.Uint64:  KindUint64,
	reflect.Uint:    KindUint,
	reflect.Float32: KindFloat32,
	reflect.Float64: KindFloat64,
}

// PrimitiveKindOf 将 reflect.Kind 映射为基础类型种类。
func PrimitiveKindOf(k reflect.Kind) (Kind, bool) {
	kind, ok := primitiveKinds[k]
	return kind, ok
}

// IsPrimitive 判断 k 是否为基础类型种类。
func (k Kind) IsPrimitive() bool {
	return IsPrimitive(TypeID(k))
}

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindTime:
		return "time"
	case KindArray:
		return "array"
	case KindPointer:
		return "pointer"
	case KindStruct:
		return "struct"
	case KindInterface:
		return "interface"
	case KindExt:
		return "ext"
	}
	for rk, pk := range primitiveKinds {
		if pk == k {
			return rk.String()
		}
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// TypeSpec 描述字段的静态类型，写入 ClassDef 后用于兼容模式下的字段匹配与跳过。
type TypeSpec struct {
	Kind Kind
	// Namespace 与 Name 仅对 KindStruct 与 KindExt 有效。
	Namespace string
	Name      string
	// Ref 仅对 KindExt 有效，表示值前带引用标记。
	Ref bool
	// Len 仅对 KindArray 有效。
	Len  int
	Elem *TypeSpec
	// Key 仅对 KindMap 有效，Elem 为 value 类型。
	Key *TypeSpec
}

// QualifiedName 返回 "namespace.Name" 形式的名称，命名空间为空时只返回名称。
func QualifiedName(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

// String 返回稳定的类型名，字段排序以它作为类型名比较的依据。
func (s *TypeSpec) String() string {
	if s == nil {
		return "<nil>"
	}
	switch s.Kind {
	case KindList:
		return "[]" + s.Elem.String()
	case KindArray:
		return "[" + strconv.Itoa(s.Len) + "]" + s.Elem.String()
	case KindPointer:
		return "*" + s.Elem.String()
	case KindMap:
		return "map[" + s.Key.String() + "]" + s.Elem.String()
	case KindStruct, KindExt:
		return QualifiedName(s.Namespace, s.Name)
	case KindInterface:
		return "any"
	default:
		return s.Kind.String()
	}
}

// Equal 判断两个描述是否结构相同。
func (s *TypeSpec) Equal(o *TypeSpec) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Kind != o.Kind || s.Namespace != o.Namespace || s.Name != o.Name || s.Ref != o.Ref || s.Len != o.Len {
		return false
	}
	return s.Elem.Equal(o.Elem) && s.Key.Equal(o.Key)
}

// NameWriter 写出一个名称字符串，实现可以做字典压缩。
type NameWriter interface {
	WriteName(buf *buffer.Buffer, s string)
}

// NameReader 读取 NameWriter 写出的名称字符串。
type NameReader interface {
	ReadName(buf *buffer.Buffer) (string, error)
}

// PlainNames 以 "varuint 长度 + UTF-8" 编码名称，不做压缩，用于计算稳定摘要。
type PlainNames struct{}

func (PlainNames) WriteName(buf *buffer.Buffer, s string) {
	buf.WriteVarUint32(uint32(len(s)))
	buf.WriteBinary([]byte(s))
}

func (PlainNames) ReadName(buf *buffer.Buffer) (string, error) {
	n := buf.ReadVarUint32()
	b := buf.ReadBinary(int(n))
	if err := buf.Err(); err != nil {
		return "", merr.WrapErrMalformedInput("truncated name", err)
	}
	return string(b), nil
}

// maxSpecDepth 限制嵌套描述的深度，防止恶意输入导致无限递归。
const maxSpecDepth = 64

// WriteSpec 将描述编码到 buf。
func WriteSpec(buf *buffer.Buffer, s *TypeSpec, names NameWriter) {
	buf.WriteInt8(int8(s.Kind))
	switch s.Kind {
	case KindStruct:
		names.WriteName(buf, s.Namespace)
		names.WriteName(buf, s.Name)
	case KindExt:
		names.WriteName(buf, s.Namespace)
		names.WriteName(buf, s.Name)
		buf.WriteBool(s.Ref)
	case KindList, KindPointer:
		WriteSpec(buf, s.Elem, names)
	case KindArray:
		buf.WriteVarUint32(uint32(s.Len))
		WriteSpec(buf, s.Elem, names)
	case KindMap:
		WriteSpec(buf, s.Key, names)
		WriteSpec(buf, s.Elem, names)
	}
}

// ReadSpec 从 buf 解码一个描述。
func ReadSpec(buf *buffer.Buffer, names NameReader) (*TypeSpec, error) {
	return readSpec(buf, names, 0)
}

func readSpec(buf *buffer.Buffer, names NameReader, depth int) (*TypeSpec, error) {
	if depth > maxSpecDepth {
		return nil, merr.WrapErrMalformedInput("type spec nested too deep")
	}
	kind := Kind(buf.ReadUint8())
	if err := buf.Err(); err != nil {
		return nil, merr.WrapErrMalformedInput("truncated type spec", err)
	}
	s := &TypeSpec{Kind: kind}
	var err error
	switch {
	case kind.IsPrimitive(), kind == KindString, kind == KindBinary, kind == KindTime, kind == KindInterface:
	case kind == KindStruct || kind == KindExt:
		if s.Namespace, err = names.ReadName(buf); err != nil {
			return nil, err
		}
		if s.Name, err = names.ReadName(buf); err != nil {
			return nil, err
		}
		if kind == KindExt {
			s.Ref = buf.ReadBool()
		}
	case kind == KindList || kind == KindPointer:
		if s.Elem, err = readSpec(buf, names, depth+1); err != nil {
			return nil, err
		}
	case kind == KindArray:
		s.Len = int(buf.ReadVarUint32())
		if s.Elem, err = readSpec(buf, names, depth+1); err != nil {
			return nil, err
		}
	case kind == KindMap:
		if s.Key, err = readSpec(buf, names, depth+1); err != nil {
			return nil, err
		}
		if s.Elem, err = readSpec(buf, names, depth+1); err != nil {
			return nil, err
		}
	default:
		return nil, merr.WrapErrMalformedInput("unknown type spec kind " + strconv.Itoa(int(kind)))
	}
	if err := buf.Err(); err != nil {
		return nil, merr.WrapErrMalformedInput("truncated type spec", err)
	}
	return s, nil
}

// SplitQualifiedName 是 QualifiedName 的逆操作，以最后一个 "." 为分隔。
func SplitQualifiedName(qualified string) (namespace, name string) {
	i := strings.LastIndexByte(qualified, '.')
	if i < 0 {
		return "", qualified
	}
	return qualified[:i], qualified[i+1:]
}
