// Package types 定义序列化引擎在线上使用的类型编号、字段分类以及字段类型描述。
package types

import (
	"reflect"
	"time"
)

// TypeID 是类型在线上的紧凑编号。
type TypeID uint32

// 内置类型编号。基础类型占据连续区间 [BoolID, Float64ID]，
// 因此 IsPrimitive 只需一次区间判断。
const (
	UnknownID TypeID = iota
	BoolID
	Int8ID
	Int16ID
	Int32ID
	Int64ID
	IntID
	Uint8ID
	Uint16ID
	Uint32ID
	Uint64ID
	UintID
	Float32ID
	Float64ID
	StringID
	BinaryID
	ListID
	MapID
	BoolArrayID
	Int32ArrayID
	Int64ArrayID
	Float64ArrayID
	StringArrayID
	TimeID
	AnyMapID

	// FirstUserID 之前的编号保留给内置类型。
	FirstUserID TypeID = 64
)

// IsPrimitive 判断 id 是否为内置基础类型。
func IsPrimitive(id TypeID) bool {
	return id >= BoolID && id <= Float64ID
}

// IsBuiltin 判断 id 是否落在内置保留区间。
func IsBuiltin(id TypeID) bool {
	return id > UnknownID && id < FirstUserID
}

var (
	timeType  = reflect.TypeFor[time.Time]()
	bytesType = reflect.TypeFor[[]byte]()
)

// BuiltinTypes 返回内置编号与 Go 类型的对应关系。
func BuiltinTypes() map[TypeID]reflect.Type {
	return map[TypeID]reflect.Type{
		BoolID:         reflect.TypeFor[bool](),
		Int8ID:         reflect.TypeFor[int8](),
		Int16ID:        reflect.TypeFor[int16](),
		Int32ID:        reflect.TypeFor[int32](),
		Int64ID:        reflect.TypeFor[int64](),
		IntID:          reflect.TypeFor[int](),
		Uint8ID:        reflect.TypeFor[uint8](),
		Uint16ID:       reflect.TypeFor[uint16](),
		Uint32ID:       reflect.TypeFor[uint32](),
		Uint64ID:       reflect.TypeFor[uint64](),
		UintID:         reflect.TypeFor[uint](),
		Float32ID:      reflect.TypeFor[float32](),
		Float64ID:      reflect.TypeFor[float64](),
		StringID:       reflect.TypeFor[string](),
		BinaryID:       bytesType,
		ListID:         reflect.TypeFor[[]any](),
		MapID:          reflect.TypeFor[map[string]any](),
		BoolArrayID:    reflect.TypeFor[[]bool](),
		Int32ArrayID:   reflect.TypeFor[[]int32](),
		Int64ArrayID:   reflect.TypeFor[[]int64](),
		Float64ArrayID: reflect.TypeFor[[]float64](),
		StringArrayID:  reflect.TypeFor[[]string](),
		TimeID:         timeType,
		AnyMapID:       reflect.TypeFor[map[any]any](),
	}
}

// IsTime 判断 t 是否为 time.Time。
func IsTime(t reflect.Type) bool {
	return t == timeType
}

// IsBinary 判断 t 是否按二进制块编码（元素为 uint8 的切片）。
func IsBinary(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
}

// IsRefKind 判断 t 是否参与引用跟踪：指针与 map。
func IsRefKind(t reflect.Type) bool {
	k := t.Kind()
	return k == reflect.Pointer || k == reflect.Map
}
