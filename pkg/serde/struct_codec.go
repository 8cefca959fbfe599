package serde

import (
	"reflect"
	"slices"

	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-serde/internal/serde/generics"
	"github.com/lk2023060901/danmu-garden-serde/internal/serde/grouper"
	"github.com/lk2023060901/danmu-garden-serde/internal/serde/meta"
	"github.com/lk2023060901/danmu-garden-serde/internal/serde/types"
	"github.com/lk2023060901/danmu-garden-serde/pkg/buffer"
	"github.com/lk2023060901/danmu-garden-serde/pkg/log"
	"github.com/lk2023060901/danmu-garden-serde/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

const (
	tagName = "serde"
	// maxSpecNesting 限制无名复合类型的嵌套层数，自引用的具名切片类型会在这里被拒绝。
	maxSpecNesting = 32
)

// fieldInfo 是结构体布局中的一个字段，只包含类型级信息，可以在引擎之间共享。
type fieldInfo struct {
	name      string
	declaring string
	index     []int
	typ       reflect.Type
	category  types.FieldCategory
	spec      *types.TypeSpec
}

// structLayout 是结构体按分组排序后的字段布局及其 ClassDef。
type structLayout struct {
	typ         reflect.Type
	fields      []fieldInfo
	def         *meta.ClassDef
	fingerprint uint32
}

func structName(t reflect.Type) (namespace, name string) {
	namespace, name = typeName(t)
	if name == "" {
		name = t.String()
	}
	return namespace, name
}

// schemaName 返回类型在 ClassDef 中使用的名称。显式注册过名称的类型使用注册名，
// 这样两端各自的 Go 类型只要注册为同一名称就能互相匹配。
func (e *Engine) schemaName(t reflect.Type) (namespace, name string) {
	if info, ok := e.registry.byType[t]; ok && info.explicit && info.name != "" {
		return info.namespace, info.name
	}
	return structName(t)
}

// specOf 返回类型 t 在 ClassDef 中的描述。
func (e *Engine) specOf(t reflect.Type) (*types.TypeSpec, error) {
	return e.specOfDepth(t, 0)
}

func (e *Engine) specOfDepth(t reflect.Type, depth int) (*types.TypeSpec, error) {
	if depth > maxSpecNesting {
		return nil, merr.WrapErrUnsupportedType(t.String(), "type nesting too deep")
	}
	if e.registry.extFor(t) != nil {
		namespace, name := e.schemaName(t)
		return &types.TypeSpec{Kind: types.KindExt, Namespace: namespace, Name: name, Ref: types.IsRefKind(t)}, nil
	}
	if types.IsTime(t) {
		return &types.TypeSpec{Kind: types.KindTime}, nil
	}
	if k, ok := types.PrimitiveKindOf(t.Kind()); ok {
		return &types.TypeSpec{Kind: k}, nil
	}
	elem := func(et reflect.Type) (*types.TypeSpec, error) {
		return e.specOfDepth(et, depth+1)
	}
	switch t.Kind() {
	case reflect.String:
		return &types.TypeSpec{Kind: types.KindString}, nil
	case reflect.Slice:
		if types.IsBinary(t) {
			return &types.TypeSpec{Kind: types.KindBinary}, nil
		}
		es, err := elem(t.Elem())
		if err != nil {
			return nil, err
		}
		return &types.TypeSpec{Kind: types.KindList, Elem: es}, nil
	case reflect.Array:
		es, err := elem(t.Elem())
		if err != nil {
			return nil, err
		}
		return &types.TypeSpec{Kind: types.KindArray, Len: t.Len(), Elem: es}, nil
	case reflect.Map:
		ks, err := elem(t.Key())
		if err != nil {
			return nil, err
		}
		vs, err := elem(t.Elem())
		if err != nil {
			return nil, err
		}
		return &types.TypeSpec{Kind: types.KindMap, Key: ks, Elem: vs}, nil
	case reflect.Pointer:
		es, err := elem(t.Elem())
		if err != nil {
			return nil, err
		}
		return &types.TypeSpec{Kind: types.KindPointer, Elem: es}, nil
	case reflect.Interface:
		return &types.TypeSpec{Kind: types.KindInterface}, nil
	case reflect.Struct:
		namespace, name := e.schemaName(t)
		return &types.TypeSpec{Kind: types.KindStruct, Namespace: namespace, Name: name}, nil
	default:
		return nil, merr.WrapErrUnsupportedType(t.String())
	}
}

// categoryOf 与 types.CategoryOf 相同，但自定义编解码器的类型一律归为 final。
func (e *Engine) categoryOf(t reflect.Type) types.FieldCategory {
	if e.registry.extFor(t) != nil {
		return types.CategoryFinal
	}
	return types.CategoryOf(t)
}

// collectFields 收集可导出字段，匿名嵌入的结构体值被展开。
func (e *Engine) collectFields(t reflect.Type, index []int, out []fieldInfo) ([]fieldInfo, error) {
	namespace, name := e.schemaName(t)
	declaring := types.QualifiedName(namespace, name)
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get(tagName)
		if tag == "-" {
			continue
		}
		idx := append(slices.Clone(index), i)
		if sf.Anonymous && tag == "" && sf.Type.Kind() == reflect.Struct &&
			!types.IsTime(sf.Type) && e.registry.extFor(sf.Type) == nil {
			var err error
			if out, err = e.collectFields(sf.Type, idx, out); err != nil {
				return nil, err
			}
			continue
		}
		if !sf.IsExported() {
			continue
		}
		spec, err := e.specOf(sf.Type)
		if err != nil {
			return nil, err
		}
		fieldName := sf.Name
		if tag != "" {
			fieldName = tag
		}
		out = append(out, fieldInfo{
			name:      fieldName,
			declaring: declaring,
			index:     idx,
			typ:       sf.Type,
			category:  e.categoryOf(sf.Type),
			spec:      spec,
		})
	}
	return out, nil
}

// buildLayout 计算结构体的字段顺序与 ClassDef。同样的字段集合总是得到同样的结果。
func (e *Engine) buildLayout(t reflect.Type) (*structLayout, error) {
	fields, err := e.collectFields(t, nil, nil)
	if err != nil {
		return nil, err
	}
	input := make([]grouper.Field, len(fields))
	for i, f := range fields {
		gf := grouper.Field{
			Name:      f.name,
			TypeName:  f.spec.String(),
			Declaring: f.declaring,
			Category:  f.category,
			Index:     i,
		}
		if f.category == types.CategoryPrimitive {
			gf.Width = types.PrimitiveWidth(f.spec.Kind)
			gf.Compressible = e.cfg.CompressNumber && types.IsCompressible(f.spec.Kind)
		}
		input[i] = gf
	}
	cmp := grouper.DefaultComparator
	if e.cfg.CompressNumber {
		cmp = grouper.CompressedComparator
	}
	ordered := grouper.Group(input, cmp).Flatten()

	layout := &structLayout{typ: t, fields: make([]fieldInfo, 0, len(fields))}
	defs := make([]meta.FieldDef, 0, len(fields))
	for _, gf := range ordered {
		f := fields[gf.Index]
		layout.fields = append(layout.fields, f)
		defs = append(defs, meta.FieldDef{Name: f.name, Category: f.category, Spec: f.spec})
	}
	namespace, name := e.schemaName(t)
	layout.def = meta.NewClassDef(namespace, name, defs)
	layout.fingerprint = layout.def.Fingerprint()
	return layout, nil
}

func (e *Engine) layoutFor(t reflect.Type) (*structLayout, error) {
	if layout, ok := e.cctx.loadLayout(e.cfgID, t); ok {
		return layout, nil
	}
	layout, err := e.buildLayout(t)
	if err != nil {
		return nil, err
	}
	return e.cctx.storeLayout(e.cfgID, t, layout), nil
}

// structCodec 是反射实现的结构体编解码器，字段按布局顺序写出。
type structCodec struct {
	typ    reflect.Type
	info   *typeInfo
	layout *structLayout
	codecs []Codec
	gens   []*generics.GenericType
}

func (c *structCodec) init(e *Engine) error {
	if e.registry.Strict() || c.typ.Name() != "" {
		info, err := e.registry.Resolve(c.typ)
		if err != nil {
			return err
		}
		c.info = info
	}
	layout, err := e.layoutFor(c.typ)
	if err != nil {
		return err
	}
	c.layout = layout
	c.codecs = make([]Codec, len(layout.fields))
	c.gens = make([]*generics.GenericType, len(layout.fields))
	for i, f := range layout.fields {
		codec, err := e.codecFor(f.typ)
		if err != nil {
			return err
		}
		c.codecs[i] = codec
		switch f.typ.Kind() {
		case reflect.Slice, reflect.Array, reflect.Map:
			if f.spec.Kind == types.KindList || f.spec.Kind == types.KindArray || f.spec.Kind == types.KindMap {
				c.gens[i] = generics.Build(f.typ, e.bindCodec)
			}
		}
	}
	log.Debug("struct codec built",
		log.FieldType(c.typ),
		zap.Int("fields", len(layout.fields)),
		zap.Uint64("defHash", layout.def.Hash()))
	return nil
}

func (c *structCodec) checkAllowed(e *Engine) error {
	if c.info == nil {
		return nil
	}
	return e.registry.check(c.info)
}

func (c *structCodec) Write(e *Engine, buf *buffer.Buffer, v reflect.Value) error {
	if err := c.checkAllowed(e); err != nil {
		return err
	}
	if e.cfg.Compatible {
		if _, isNew := e.active.WriteIfNew(buf, e.nameW, c.layout.def); isNew {
			metrics.ClassDefsWritten.Inc()
		}
	} else if e.cfg.CheckClassVersion {
		buf.WriteUint32(c.layout.fingerprint)
	}
	for i := range c.layout.fields {
		if err := c.writeField(e, buf, i, v.FieldByIndex(c.layout.fields[i].index)); err != nil {
			return err
		}
	}
	return nil
}

func (c *structCodec) writeField(e *Engine, buf *buffer.Buffer, i int, fv reflect.Value) error {
	f := &c.layout.fields[i]
	if f.spec.Kind.IsPrimitive() {
		e.writePrimitive(buf, f.spec.Kind, fv)
		return nil
	}
	return e.writeWithGeneric(buf, c.gens[i], c.codecs[i], fv)
}

func (c *structCodec) readField(e *Engine, buf *buffer.Buffer, i int, fv reflect.Value) error {
	f := &c.layout.fields[i]
	if f.spec.Kind.IsPrimitive() {
		return e.readPrimitive(buf, f.spec.Kind, fv)
	}
	return e.readWithGeneric(buf, c.gens[i], c.codecs[i], fv)
}

func (c *structCodec) Read(e *Engine, buf *buffer.Buffer, v reflect.Value) error {
	if err := c.checkAllowed(e); err != nil {
		return err
	}
	if e.cfg.Compatible {
		def, err := e.active.ReadClassDef(buf, e.nameR)
		if err != nil {
			return err
		}
		if def.Hash() != c.layout.def.Hash() {
			return c.readRemapped(e, buf, v, def)
		}
	} else if e.cfg.CheckClassVersion {
		fp := buf.ReadUint32()
		if err := buf.Err(); err != nil {
			return merr.WrapErrMalformedInput("truncated class version", err)
		}
		if fp != c.layout.fingerprint {
			return merr.WrapErrClassVersionMismatch(c.layout.def.QualifiedName(), c.layout.fingerprint, fp)
		}
	}
	for i := range c.layout.fields {
		if err := c.readField(e, buf, i, v.FieldByIndex(c.layout.fields[i].index)); err != nil {
			return err
		}
	}
	return nil
}

// readRemapped 按字段名把写端字段映射到本地字段：本地不存在的字段被跳过，
// 写端没有的本地字段置为零值。
func (c *structCodec) readRemapped(e *Engine, buf *buffer.Buffer, v reflect.Value, def *meta.ClassDef) error {
	mapping := e.cctx.remap(e.cfgID, def, c.layout)
	for wi, li := range mapping.Local {
		if li < 0 {
			if err := e.skipValue(buf, def.Fields[wi].Spec); err != nil {
				return err
			}
			continue
		}
		if err := c.readField(e, buf, li, v.FieldByIndex(c.layout.fields[li].index)); err != nil {
			return err
		}
	}
	for _, li := range mapping.Missing {
		fv := v.FieldByIndex(c.layout.fields[li].index)
		fv.Set(reflect.Zero(fv.Type()))
	}
	if skipped := mapping.Skipped(); skipped > 0 {
		e.Logger().RatedWarn(10, "fields unknown to local type skipped",
			log.FieldType(c.typ),
			zap.String("writerType", def.QualifiedName()),
			zap.Int("skipped", skipped))
	}
	return nil
}
