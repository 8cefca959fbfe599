package serde

import (
	"reflect"
	"strconv"

	"github.com/lk2023060901/danmu-garden-serde/internal/serde/types"
	"github.com/lk2023060901/danmu-garden-serde/pkg/buffer"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// typeInfo 是注册表中的一个类型条目。
type typeInfo struct {
	typ reflect.Type
	// id 为 0 表示按名称写出。
	id        types.TypeID
	namespace string
	name      string
	qualified string
	builtin   bool
	// explicit 为 false 表示宽松模式下首次使用时自动登记的名称。
	explicit bool
}

// Registry 维护类型与线上编号或名称之间的双向映射，并缓存每个类型的编解码器。
// 它归属于单个 Engine，不可并发使用。
type Registry struct {
	strict  bool
	checker ClassChecker

	byType map[reflect.Type]*typeInfo
	byID   map[types.TypeID]*typeInfo
	byName map[string]*typeInfo

	custom   map[reflect.Type]Codec
	factory  CompiledCodecFactory
	compiled map[reflect.Type]Codec
	codecs   map[reflect.Type]Codec
}

func NewRegistry(strict bool) *Registry {
	r := &Registry{
		strict:   strict,
		byType:   make(map[reflect.Type]*typeInfo),
		byID:     make(map[types.TypeID]*typeInfo),
		byName:   make(map[string]*typeInfo),
		custom:   make(map[reflect.Type]Codec),
		compiled: make(map[reflect.Type]Codec),
		codecs:   make(map[reflect.Type]Codec),
	}
	for id, t := range types.BuiltinTypes() {
		info := &typeInfo{typ: t, id: id, qualified: t.String(), builtin: true, explicit: true}
		r.byType[t] = info
		r.byID[id] = info
	}
	return r
}

// Strict 返回是否要求显式注册。
func (r *Registry) Strict() bool {
	return r.strict
}

func typeName(t reflect.Type) (namespace, name string) {
	return t.PkgPath(), t.Name()
}

// Register 以编号 id 注册类型 t，id 必须不小于 types.FirstUserID。
func (r *Registry) Register(t reflect.Type, id uint32) error {
	if t == nil {
		return merr.WrapErrParameterInvalidMsg("cannot register nil type")
	}
	if types.TypeID(id) < types.FirstUserID {
		return merr.WrapErrParameterInvalid(">= "+strconv.Itoa(int(types.FirstUserID)), strconv.Itoa(int(id)), "type id is reserved for builtin types")
	}
	if prev, ok := r.byID[types.TypeID(id)]; ok {
		if prev.typ == t {
			return nil
		}
		return merr.WrapErrDuplicateRegistration(t.String(), id)
	}
	if prev, ok := r.byType[t]; ok && prev.explicit {
		return merr.WrapErrDuplicateRegistration(t.String(), id)
	}
	namespace, name := typeName(t)
	info := &typeInfo{
		typ:       t,
		id:        types.TypeID(id),
		namespace: namespace,
		name:      name,
		qualified: t.String(),
		explicit:  true,
	}
	if name != "" {
		info.qualified = types.QualifiedName(namespace, name)
		// 保留名称映射，使按名称写出的旧消息仍然可以解码。
		r.byName[info.qualified] = info
	}
	r.byType[t] = info
	r.byID[info.id] = info
	return nil
}

// RegisterNamed 以自定义的命名空间与名称注册类型 t。
func (r *Registry) RegisterNamed(t reflect.Type, namespace, name string) error {
	if t == nil || name == "" {
		return merr.WrapErrParameterInvalidMsg("type and name are required")
	}
	qualified := types.QualifiedName(namespace, name)
	if prev, ok := r.byName[qualified]; ok && prev.typ != t {
		return merr.WrapErrDuplicateRegistration(qualified, prev.typ.String())
	}
	if prev, ok := r.byType[t]; ok {
		if prev.explicit {
			if prev.qualified == qualified && prev.id == 0 {
				return nil
			}
			return merr.WrapErrDuplicateRegistration(t.String(), qualified)
		}
		delete(r.byName, prev.qualified)
	}
	info := &typeInfo{
		typ:       t,
		namespace: namespace,
		name:      name,
		qualified: qualified,
		explicit:  true,
	}
	r.byType[t] = info
	r.byName[qualified] = info
	return nil
}

// RegisterCodec 为类型 t 绑定自定义编解码器，值以长度前缀帧写出，读端不认识时可以整体跳过。
// 已缓存的编解码器全部失效。
func (r *Registry) RegisterCodec(t reflect.Type, c Codec) error {
	if t == nil || c == nil {
		return merr.WrapErrParameterInvalidMsg("type and codec are required")
	}
	r.custom[t] = c
	clear(r.codecs)
	return nil
}

// SetCodecFactory 设置编译型编解码器工厂。
func (r *Registry) SetCodecFactory(factory CompiledCodecFactory) {
	r.factory = factory
	clear(r.compiled)
	clear(r.codecs)
}

// SetClassChecker 设置类型检查器，nil 表示全部放行。
func (r *Registry) SetClassChecker(checker ClassChecker) {
	r.checker = checker
}

// IsPrimitive 判断 id 是否为内置基础类型。
func (r *Registry) IsPrimitive(id types.TypeID) bool {
	return types.IsPrimitive(id)
}

// IsRegistered 判断 t 是否已显式注册（内置类型视为已注册）。
func (r *Registry) IsRegistered(t reflect.Type) bool {
	info, ok := r.byType[t]
	return ok && info.explicit
}

func (r *Registry) check(info *typeInfo) error {
	if info.builtin || r.checker == nil {
		return nil
	}
	if !r.checker.Allow(info.qualified) {
		return merr.WrapErrInsecure(info.qualified)
	}
	return nil
}

// Resolve 返回 t 的注册条目。宽松模式下具名类型在首次使用时自动按名称登记；
// 严格模式下未注册的类型返回 RegistrationRequired。
func (r *Registry) Resolve(t reflect.Type) (*typeInfo, error) {
	info, ok := r.byType[t]
	if !ok {
		if r.strict {
			return nil, merr.WrapErrRegistrationRequired(t.String())
		}
		if t.Name() == "" {
			return nil, merr.WrapErrUnsupportedType(t.String(), "unnamed type must be registered with an id")
		}
		namespace, name := typeName(t)
		qualified := types.QualifiedName(namespace, name)
		if prev, ok := r.byName[qualified]; ok && prev.typ != t {
			return nil, merr.WrapErrDuplicateRegistration(qualified, prev.typ.String())
		}
		info = &typeInfo{typ: t, namespace: namespace, name: name, qualified: qualified}
		r.byType[t] = info
		r.byName[qualified] = info
	}
	if err := r.check(info); err != nil {
		return nil, err
	}
	return info, nil
}

// CheckStatic 校验出现在静态类型位置（结构体字段、容器元素）上的结构体类型。
func (r *Registry) CheckStatic(t reflect.Type) error {
	_, err := r.Resolve(t)
	return err
}

// WriteType 写出类型标记。未单独注册的指针类型写为 "指向" 标志加元素类型。
// named 表示标记按名称写出。
func (r *Registry) WriteType(buf *buffer.Buffer, names types.NameWriter, t reflect.Type) (named bool, err error) {
	var header uint32
	if t.Kind() == reflect.Pointer {
		if _, ok := r.byType[t]; !ok {
			header |= 2
			t = t.Elem()
		}
	}
	info, err := r.Resolve(t)
	if err != nil {
		return false, err
	}
	if info.id != types.UnknownID {
		buf.WriteVarUint32(uint32(info.id)<<2 | header)
		return false, nil
	}
	buf.WriteVarUint32(header | 1)
	names.WriteName(buf, info.namespace)
	names.WriteName(buf, info.name)
	return true, nil
}

// typeMarker 是尚未解析的类型标记。
type typeMarker struct {
	named     bool
	pointer   bool
	id        types.TypeID
	namespace string
	name      string
}

// ReadType 读取类型标记。
func (r *Registry) ReadType(buf *buffer.Buffer, names types.NameReader) (reflect.Type, error) {
	m, err := r.readMarker(buf, names)
	if err != nil {
		return nil, err
	}
	return r.typeOf(m)
}

func (r *Registry) readMarker(buf *buffer.Buffer, names types.NameReader) (typeMarker, error) {
	header := buf.ReadVarUint32()
	if err := buf.Err(); err != nil {
		return typeMarker{}, merr.WrapErrMalformedInput("truncated type marker", err)
	}
	m := typeMarker{named: header&1 == 1, pointer: header&2 != 0}
	if !m.named {
		m.id = types.TypeID(header >> 2)
		return m, nil
	}
	var err error
	if m.namespace, err = names.ReadName(buf); err != nil {
		return typeMarker{}, err
	}
	if m.name, err = names.ReadName(buf); err != nil {
		return typeMarker{}, err
	}
	return m, nil
}

// typeOf 把标记解析为本地类型。
func (r *Registry) typeOf(m typeMarker) (reflect.Type, error) {
	var info *typeInfo
	if m.named {
		qualified := types.QualifiedName(m.namespace, m.name)
		if info = r.byName[qualified]; info == nil {
			return nil, merr.WrapErrRegistrationRequired(qualified, "unknown type name")
		}
	} else if info = r.byID[m.id]; info == nil {
		if types.IsBuiltin(m.id) || m.id == types.UnknownID {
			return nil, merr.WrapErrMalformedInput("unknown builtin type id " + strconv.Itoa(int(m.id)))
		}
		return nil, merr.WrapErrRegistrationRequired("id="+strconv.Itoa(int(m.id)), "unknown type id")
	}
	if err := r.check(info); err != nil {
		return nil, err
	}
	t := info.typ
	if m.pointer {
		t = reflect.PointerTo(t)
	}
	return t, nil
}

// extFor 返回 t 的自定义或编译型编解码器，没有时返回 nil。
func (r *Registry) extFor(t reflect.Type) Codec {
	if c, ok := r.custom[t]; ok {
		return c
	}
	if r.factory == nil {
		return nil
	}
	if c, ok := r.compiled[t]; ok {
		return c
	}
	c, ok := r.factory(t)
	if !ok {
		c = nil
	}
	r.compiled[t] = c
	return c
}

func (r *Registry) cachedCodec(t reflect.Type) (Codec, bool) {
	c, ok := r.codecs[t]
	return c, ok
}

func (r *Registry) storeCodec(t reflect.Type, c Codec) {
	r.codecs[t] = c
}

func (r *Registry) dropCodec(t reflect.Type) {
	delete(r.codecs, t)
}

func (r *Registry) resetCodecs() {
	clear(r.codecs)
}
