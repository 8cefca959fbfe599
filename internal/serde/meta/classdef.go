package meta

import (
	"github.com/bytedance/sonic"
	"github.com/cespare/xxhash/v2"

	"github.com/lk2023060901/danmu-garden-serde/internal/serde/types"
	"github.com/lk2023060901/danmu-garden-serde/pkg/buffer"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// maxFieldCount 限制单个 ClassDef 的字段数量。
const maxFieldCount = 1 << 12

// FieldDef 是 ClassDef 中的一个字段。
type FieldDef struct {
	Name     string
	Category types.FieldCategory
	Spec     *types.TypeSpec
}

// ClassDef 描述一个结构体类型的字段列表，字段顺序即分组排序后的线上顺序。
type ClassDef struct {
	Namespace string
	Name      string
	Fields    []FieldDef

	hash uint64
}

// NewClassDef 构造 ClassDef 并计算其内容摘要。
func NewClassDef(namespace, name string, fields []FieldDef) *ClassDef {
	d := &ClassDef{Namespace: namespace, Name: name, Fields: fields}
	d.hash = d.computeHash()
	return d
}

func (d *ClassDef) computeHash() uint64 {
	buf := buffer.New(64 + 16*len(d.Fields))
	d.encodeBody(buf, types.PlainNames{})
	return xxhash.Sum64(buf.Bytes())
}

// Hash 返回字段列表的 64 位摘要。
func (d *ClassDef) Hash() uint64 {
	return d.hash
}

// Fingerprint 是 Hash 的低 32 位，一致模式下用于类版本校验。
func (d *ClassDef) Fingerprint() uint32 {
	return uint32(d.hash)
}

func (d *ClassDef) QualifiedName() string {
	return types.QualifiedName(d.Namespace, d.Name)
}

// Encode 将 ClassDef 写入 buf，名称经由 names 写出。
func (d *ClassDef) Encode(buf *buffer.Buffer, names types.NameWriter) {
	d.encodeBody(buf, names)
}

func (d *ClassDef) encodeBody(buf *buffer.Buffer, names types.NameWriter) {
	names.WriteName(buf, d.Namespace)
	names.WriteName(buf, d.Name)
	buf.WriteVarUint32(uint32(len(d.Fields)))
	for i := range d.Fields {
		f := &d.Fields[i]
		_ = buf.WriteByte(byte(f.Category))
		names.WriteName(buf, f.Name)
		types.WriteSpec(buf, f.Spec, names)
	}
}

// DecodeClassDef 读取 Encode 写出的 ClassDef。
func DecodeClassDef(buf *buffer.Buffer, names types.NameReader) (*ClassDef, error) {
	namespace, err := names.ReadName(buf)
	if err != nil {
		return nil, err
	}
	name, err := names.ReadName(buf)
	if err != nil {
		return nil, err
	}
	n := buf.ReadVarUint32()
	if err := buf.Err(); err != nil {
		return nil, merr.WrapErrMalformedInput("truncated class def", err)
	}
	if n > maxFieldCount {
		return nil, merr.WrapErrMalformedInput("class def field count too large")
	}
	fields := make([]FieldDef, 0, n)
	for i := uint32(0); i < n; i++ {
		category := types.FieldCategory(buf.ReadUint8())
		if err := buf.Err(); err != nil {
			return nil, merr.WrapErrMalformedInput("truncated class def field", err)
		}
		if !category.Valid() {
			return nil, merr.WrapErrMalformedInput("invalid field category in " + types.QualifiedName(namespace, name))
		}
		fieldName, err := names.ReadName(buf)
		if err != nil {
			return nil, err
		}
		spec, err := types.ReadSpec(buf, names)
		if err != nil {
			return nil, err
		}
		fields = append(fields, FieldDef{Name: fieldName, Category: category, Spec: spec})
	}
	return NewClassDef(namespace, name, fields), nil
}

type fieldView struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Type     string `json:"type"`
}

type classDefView struct {
	Namespace string      `json:"namespace"`
	Name      string      `json:"name"`
	Hash      uint64      `json:"hash"`
	Fields    []fieldView `json:"fields"`
}

// DumpJSON 以 JSON 输出 ClassDef，用于诊断。
func (d *ClassDef) DumpJSON() ([]byte, error) {
	view := classDefView{
		Namespace: d.Namespace,
		Name:      d.Name,
		Hash:      d.hash,
		Fields:    make([]fieldView, 0, len(d.Fields)),
	}
	for _, f := range d.Fields {
		view.Fields = append(view.Fields, fieldView{
			Name:     f.Name,
			Category: f.Category.String(),
			Type:     f.Spec.String(),
		})
	}
	return sonic.Marshal(&view)
}

// FieldMapping 是写端 ClassDef 到本地字段的映射。
type FieldMapping struct {
	// Local[i] 为写端第 i 个字段对应的本地下标，-1 表示本地不存在，需要跳过。
	Local []int
	// Missing 为写端未写出的本地字段下标，解码后置为零值。
	Missing []int
}

// Skipped 返回需要跳过的写端字段数量。
func (m FieldMapping) Skipped() int {
	n := 0
	for _, idx := range m.Local {
		if idx < 0 {
			n++
		}
	}
	return n
}

// Remap 按字段名匹配写端与本地字段。同名但类型不同的字段视为本地不存在。
func Remap(writer *ClassDef, local []FieldDef) FieldMapping {
	byName := make(map[string]int, len(local))
	for i, f := range local {
		// 嵌入结构体导致的重名只保留第一个。
		if _, ok := byName[f.Name]; !ok {
			byName[f.Name] = i
		}
	}
	matched := make([]bool, len(local))
	mapping := FieldMapping{Local: make([]int, len(writer.Fields))}
	for i, wf := range writer.Fields {
		mapping.Local[i] = -1
		idx, ok := byName[wf.Name]
		if !ok || matched[idx] {
			continue
		}
		if local[idx].Category != wf.Category || !local[idx].Spec.Equal(wf.Spec) {
			continue
		}
		mapping.Local[i] = idx
		matched[idx] = true
	}
	for i, ok := range matched {
		if !ok {
			mapping.Missing = append(mapping.Missing, i)
		}
	}
	return mapping
}
