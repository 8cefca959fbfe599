// Package grouper 将类型的字段集合划分为存储分类，并在每个分类内按确定性规则排序。
//
// 排序只依赖字段自身的属性，与输入顺序无关，
// 因此不同进程、不同机器对同一字段集合总能得到完全相同的结果。
package grouper

import (
	"cmp"
	"slices"

	"github.com/samber/lo"

	"github.com/lk2023060901/danmu-garden-serde/internal/serde/types"
)

// Field 是参与分组的字段描述。
type Field struct {
	Name string
	// TypeName 是稳定的类型名（TypeSpec.String()）。
	TypeName string
	// Declaring 是声明该字段的类型的限定名，用于区分嵌入结构体中的同名字段。
	Declaring string
	Category  types.FieldCategory
	// Width 是基础类型的定长字节数，其它分类为 0。
	Width int
	// Compressible 表示该字段在开启数值压缩时为变长编码。
	Compressible bool
	// Index 为调用方自定义的下标，不参与排序。
	Index int
}

// Groups 是分组结果，每个分类内部已排序。
type Groups struct {
	Primitives   []Field
	Boxed        []Field
	Collections  []Field
	Maps         []Field
	FinalObjects []Field
	OtherObjects []Field
}

// Flatten 按分类顺序拼接所有字段，即线上字段顺序。
func (g Groups) Flatten() []Field {
	out := make([]Field, 0, g.Len())
	out = append(out, g.Primitives...)
	out = append(out, g.Boxed...)
	out = append(out, g.Collections...)
	out = append(out, g.Maps...)
	out = append(out, g.FinalObjects...)
	out = append(out, g.OtherObjects...)
	return out
}

func (g Groups) Len() int {
	return len(g.Primitives) + len(g.Boxed) + len(g.Collections) + len(g.Maps) + len(g.FinalObjects) + len(g.OtherObjects)
}

// Comparator 返回负数、零或正数，语义同 cmp.Compare。
type Comparator func(a, b Field) int

// DefaultComparator 依次比较：基础类型宽度降序、类型名、字段名、声明类型。
func DefaultComparator(a, b Field) int {
	if c := cmp.Compare(b.Width, a.Width); c != 0 {
		return c
	}
	if c := cmp.Compare(a.TypeName, b.TypeName); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return cmp.Compare(a.Declaring, b.Declaring)
}

// CompressedComparator 在 DefaultComparator 之前先把变长编码的数值字段沉到末尾。
// 变长字段的线上长度不可预知，放在最后可以让前面定长字段的偏移保持固定。
func CompressedComparator(a, b Field) int {
	if a.Compressible != b.Compressible {
		if a.Compressible {
			return 1
		}
		return -1
	}
	return DefaultComparator(a, b)
}

// Group 对 fields 分组并排序，cmp 为 nil 时使用 DefaultComparator。输入切片不会被修改。
func Group(fields []Field, cmpFn Comparator) Groups {
	if cmpFn == nil {
		cmpFn = DefaultComparator
	}
	bucket := func(category types.FieldCategory, fn Comparator) []Field {
		out := lo.Filter(fields, func(f Field, _ int) bool { return f.Category == category })
		slices.SortFunc(out, fn)
		return out
	}
	return Groups{
		Primitives:   bucket(types.CategoryPrimitive, cmpFn),
		Boxed:        bucket(types.CategoryBoxed, DefaultComparator),
		Collections:  bucket(types.CategoryCollection, DefaultComparator),
		Maps:         bucket(types.CategoryMap, DefaultComparator),
		FinalObjects: bucket(types.CategoryFinal, DefaultComparator),
		OtherObjects: bucket(types.CategoryOther, DefaultComparator),
	}
}
