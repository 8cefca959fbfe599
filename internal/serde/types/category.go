package types

import "reflect"

// FieldCategory 是字段的存储分类，在字段分组时一次性确定，编解码时直接按分类分派。
type FieldCategory uint8

const (
	// CategoryPrimitive 为非指针的基础数值类型。
	CategoryPrimitive FieldCategory = iota + 1
	// CategoryBoxed 为指向基础数值类型的指针，可以为空。
	CategoryBoxed
	// CategoryCollection 为切片与数组（二进制块除外）。
	CategoryCollection
	// CategoryMap 为 map。
	CategoryMap
	// CategoryFinal 为静态类型确定、无需类型标记的对象字段。
	CategoryFinal
	// CategoryOther 为接口字段，运行时类型需要随值写出。
	CategoryOther
)

var categoryNames = map[FieldCategory]string{
	CategoryPrimitive:  "primitive",
	CategoryBoxed:      "boxed",
	CategoryCollection: "collection",
	CategoryMap:        "map",
	CategoryFinal:      "final",
	CategoryOther:      "other",
}

func (c FieldCategory) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "unknown"
}

// Valid 判断 c 是否为已定义的分类。
func (c FieldCategory) Valid() bool {
	return c >= CategoryPrimitive && c <= CategoryOther
}

// CategoryOf 返回 Go 类型 t 对应的字段分类。
func CategoryOf(t reflect.Type) FieldCategory {
	if _, ok := PrimitiveKindOf(t.Kind()); ok {
		return CategoryPrimitive
	}
	switch t.Kind() {
	case reflect.Pointer:
		if _, ok := PrimitiveKindOf(t.Elem().Kind()); ok {
			return CategoryBoxed
		}
		return CategoryFinal
	case reflect.Slice:
		if IsBinary(t) {
			return CategoryFinal
		}
		return CategoryCollection
	case reflect.Array:
		return CategoryCollection
	case reflect.Map:
		return CategoryMap
	case reflect.Interface:
		return CategoryOther
	default:
		return CategoryFinal
	}
}

// PrimitiveWidth 返回基础类型的定长字节数，非基础类型返回 0。
func PrimitiveWidth(k Kind) int {
	switch k {
	case KindBool, KindInt8, KindUint8:
		return 1
	case KindInt16, KindUint16:
		return 2
	case KindInt32, KindUint32, KindFloat32:
		return 4
	case KindInt64, KindInt, KindUint64, KindUint, KindFloat64:
		return 8
	default:
		return 0
	}
}

// IsCompressible 判断基础类型在开启数值压缩时是否采用变长编码。
func IsCompressible(k Kind) bool {
	switch k {
	case KindInt32, KindInt64, KindInt, KindUint32, KindUint64, KindUint:
		return true
	default:
		return false
	}
}
