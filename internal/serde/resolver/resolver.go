// Package resolver 负责一次编码或解码调用内的对象身份跟踪。
//
// 写端以 (类型, 地址) 作为对象句柄分配递增编号；读端以编号为下标保存已构造的对象。
// 地址相同但类型不同的值（例如结构体与其首字段）是不同的对象。
package resolver

import (
	"reflect"
	"strconv"

	"github.com/lk2023060901/danmu-garden-serde/pkg/buffer"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// 引用标记，写在每个可为空或参与引用跟踪的值之前。
const (
	NullFlag         int8 = -3
	RefFlag          int8 = -2
	NotNullValueFlag int8 = -1
	RefValueFlag     int8 = 0
)

// WriteResult 是 WriteRefOrNull 的结果。
type WriteResult uint8

const (
	// WroteNull 表示写出了空标记，调用方无需再写值。
	WroteNull WriteResult = iota
	// WroteRef 表示写出了回引，调用方无需再写值。
	WroteRef
	// NeedsValue 表示写出了首次出现标记，调用方必须紧接着写出值的内容。
	NeedsValue
)

// ReadKind 是 ReadRefOrNull 的结果种类。
type ReadKind uint8

const (
	ReadNull ReadKind = iota
	ReadExisting
	ReadPlaceholder
)

// ReadResult 描述读到的引用标记。
//
//   - ReadExisting：Value 为此前已构造的对象；
//   - ReadPlaceholder：调用方需分配新对象，并在递归读取其内容之前调用 SetReadObject(ID, v)。
//     ID < 0 表示该值不参与引用跟踪。
type ReadResult struct {
	Kind  ReadKind
	ID    int
	Value reflect.Value
}

// Resolver 是单次会话内的引用解析器，非并发安全。
type Resolver interface {
	// WriteRefOrNull 为指针或 map 值 v 写出引用标记。
	WriteRefOrNull(buf *buffer.Buffer, v reflect.Value) WriteResult
	// WriteNotNull 为不参与引用跟踪的非空值写出标记。
	WriteNotNull(buf *buffer.Buffer)
	// ReadRefOrNull 读取一个引用标记。
	ReadRefOrNull(buf *buffer.Buffer) (ReadResult, error)
	// SkipRefOrNull 在跳过值时读取引用标记，返回随后是否跟着值的内容。
	// 与 ReadRefOrNull 不同，它接受指向已预留但未绑定对象（同样被跳过的值）的回引。
	SkipRefOrNull(buf *buffer.Buffer) (bool, error)
	// SetReadObject 为占位编号绑定刚分配的对象。
	SetReadObject(id int, v reflect.Value)
	// BackRefs 返回本次会话写出的回引数量。
	BackRefs() int
	// Reset 清空会话状态。
	Reset()
}

type refKey struct {
	t reflect.Type
	p uintptr
}

// MapResolver 是开启引用跟踪时使用的解析器。
type MapResolver struct {
	written  map[refKey]int
	read     []reflect.Value
	backRefs int
}

var _ Resolver = (*MapResolver)(nil)

func NewMapResolver() *MapResolver {
	return &MapResolver{written: make(map[refKey]int)}
}

func (r *MapResolver) WriteRefOrNull(buf *buffer.Buffer, v reflect.Value) WriteResult {
	if v.IsNil() {
		buf.WriteInt8(NullFlag)
		return WroteNull
	}
	key := refKey{t: v.Type(), p: v.Pointer()}
	if id, ok := r.written[key]; ok {
		buf.WriteInt8(RefFlag)
		buf.WriteVarUint32(uint32(id))
		r.backRefs++
		return WroteRef
	}
	r.written[key] = len(r.written)
	buf.WriteInt8(RefValueFlag)
	return NeedsValue
}

func (r *MapResolver) WriteNotNull(buf *buffer.Buffer) {
	buf.WriteInt8(NotNullValueFlag)
}

func (r *MapResolver) ReadRefOrNull(buf *buffer.Buffer) (ReadResult, error) {
	flag := buf.ReadInt8()
	if err := buf.Err(); err != nil {
		return ReadResult{}, merr.WrapErrMalformedInput("truncated reference marker", err)
	}
	switch flag {
	case NullFlag:
		return ReadResult{Kind: ReadNull}, nil
	case RefFlag:
		id := int(buf.ReadVarUint32())
		if err := buf.Err(); err != nil {
			return ReadResult{}, merr.WrapErrMalformedInput("truncated reference id", err)
		}
		if id >= len(r.read) || !r.read[id].IsValid() {
			return ReadResult{}, merr.WrapErrMalformedInput("reference id " + strconv.Itoa(id) + " not yet defined")
		}
		return ReadResult{Kind: ReadExisting, ID: id, Value: r.read[id]}, nil
	case RefValueFlag:
		r.read = append(r.read, reflect.Value{})
		return ReadResult{Kind: ReadPlaceholder, ID: len(r.read) - 1}, nil
	case NotNullValueFlag:
		return ReadResult{Kind: ReadPlaceholder, ID: -1}, nil
	default:
		return ReadResult{}, merr.WrapErrMalformedInput("unknown reference marker " + strconv.Itoa(int(flag)))
	}
}

func (r *MapResolver) SkipRefOrNull(buf *buffer.Buffer) (bool, error) {
	flag := buf.ReadInt8()
	if err := buf.Err(); err != nil {
		return false, merr.WrapErrMalformedInput("truncated reference marker", err)
	}
	switch flag {
	case NullFlag:
		return false, nil
	case RefFlag:
		id := int(buf.ReadVarUint32())
		if err := buf.Err(); err != nil {
			return false, merr.WrapErrMalformedInput("truncated reference id", err)
		}
		if id >= len(r.read) {
			return false, merr.WrapErrMalformedInput("reference id " + strconv.Itoa(id) + " not yet reserved")
		}
		return false, nil
	case RefValueFlag:
		r.read = append(r.read, reflect.Value{})
		return true, nil
	case NotNullValueFlag:
		return true, nil
	default:
		return false, merr.WrapErrMalformedInput("unknown reference marker " + strconv.Itoa(int(flag)))
	}
}

func (r *MapResolver) SetReadObject(id int, v reflect.Value) {
	if id >= 0 && id < len(r.read) {
		r.read[id] = v
	}
}

func (r *MapResolver) BackRefs() int {
	return r.backRefs
}

func (r *MapResolver) Reset() {
	clear(r.written)
	clear(r.read)
	r.read = r.read[:0]
	r.backRefs = 0
}

// NoRefResolver 在关闭引用跟踪时使用：只区分空与非空，共享对象会被重复写出。
type NoRefResolver struct{}

var _ Resolver = NoRefResolver{}

func (NoRefResolver) WriteRefOrNull(buf *buffer.Buffer, v reflect.Value) WriteResult {
	if v.IsNil() {
		buf.WriteInt8(NullFlag)
		return WroteNull
	}
	buf.WriteInt8(NotNullValueFlag)
	return NeedsValue
}

func (NoRefResolver) WriteNotNull(buf *buffer.Buffer) {
	buf.WriteInt8(NotNullValueFlag)
}

func (NoRefResolver) ReadRefOrNull(buf *buffer.Buffer) (ReadResult, error) {
	flag := buf.ReadInt8()
	if err := buf.Err(); err != nil {
		return ReadResult{}, merr.WrapErrMalformedInput("truncated reference marker", err)
	}
	switch flag {
	case NullFlag:
		return ReadResult{Kind: ReadNull}, nil
	case NotNullValueFlag:
		return ReadResult{Kind: ReadPlaceholder, ID: -1}, nil
	default:
		return ReadResult{}, merr.WrapErrMalformedInput("unexpected reference marker " + strconv.Itoa(int(flag)) + " with reference tracking disabled")
	}
}

func (n NoRefResolver) SkipRefOrNull(buf *buffer.Buffer) (bool, error) {
	res, err := n.ReadRefOrNull(buf)
	if err != nil {
		return false, err
	}
	return res.Kind == ReadPlaceholder, nil
}

func (NoRefResolver) SetReadObject(int, reflect.Value) {}

func (NoRefResolver) BackRefs() int { return 0 }

func (NoRefResolver) Reset() {}
