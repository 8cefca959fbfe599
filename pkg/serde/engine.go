package serde

import (
	"reflect"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/lk2023060901/danmu-garden-serde/internal/serde/generics"
	"github.com/lk2023060901/danmu-garden-serde/internal/serde/meta"
	"github.com/lk2023060901/danmu-garden-serde/internal/serde/names"
	"github.com/lk2023060901/danmu-garden-serde/internal/serde/resolver"
	"github.com/lk2023060901/danmu-garden-serde/internal/serde/types"
	"github.com/lk2023060901/danmu-garden-serde/pkg/buffer"
	"github.com/lk2023060901/danmu-garden-serde/pkg/log"
	"github.com/lk2023060901/danmu-garden-serde/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// 消息头标志位。
const (
	flagRefTracking byte = 1 << iota
	flagCompatible
	flagScopedMeta
	flagClassVersion
	flagCompressNumber

	modeMask  = flagRefTracking | flagCompatible | flagClassVersion | flagCompressNumber
	knownMask = modeMask | flagScopedMeta
)

// MetaContext 是一个通信会话中共享的 ClassDef 缓存，两端各持有一个。
type MetaContext = meta.MetaContext

func NewMetaContext() *MetaContext {
	return meta.NewMetaContext()
}

// Engine 是一份可变的编解码状态：缓冲区、引用表、泛型栈、类型注册表。
// 同一时刻只能被一个调用方使用，并发场景请使用 Pool 或 LocalPool。
type Engine struct {
	log.Binder

	cfg      Config
	cfgID    uint32
	registry *Registry
	cctx     *CodecContext
	cctxGen  uint64

	resolver resolver.Resolver
	generics *generics.Stack
	nameW    *names.Writer
	nameR    *names.Reader
	out      *buffer.Buffer
	in       *buffer.Buffer
	depth    int

	shared *meta.MetaContext
	scoped *meta.MetaContext
	active *meta.MetaContext

	// frames 按嵌套深度缓存自定义编解码器帧的独立作用域。
	frames        []*frameScope
	frameDepth    int
	frameBackRefs int

	// owner 非空时引擎属于某个池，applied 记录已经回放的池级注册回调数量。
	owner   *registrar
	applied int
	closed  bool
}

var _ Serializer = (*Engine)(nil)

// NewEngine 按选项创建引擎。
func NewEngine(opts ...Option) (*Engine, error) {
	opt, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return newEngine(opt)
}

func newEngine(opt *options) (*Engine, error) {
	cctx := opt.cctx
	if cctx == nil {
		cctx = NewCodecContext("engine", ScopedBinding)
	}
	if err := cctx.acquire(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      opt.cfg,
		cfgID:    opt.interner.Intern(opt.cfg),
		registry: NewRegistry(opt.cfg.RequireRegistration),
		cctx:     cctx,
		cctxGen:  cctx.Generation(),
		generics: generics.NewStack(),
		nameW:    names.NewWriter(),
		nameR:    names.NewReader(),
		out:      buffer.New(opt.cfg.InitialBufferSize),
		in:       buffer.Wrap(nil),
		scoped:   meta.NewMetaContext(),
	}
	if opt.cfg.RefTracking {
		e.resolver = resolver.NewMapResolver()
	} else {
		e.resolver = resolver.NoRefResolver{}
	}
	if opt.factory != nil {
		e.registry.SetCodecFactory(opt.factory)
	}
	if opt.checker != nil {
		e.registry.SetClassChecker(opt.checker)
	}
	e.Bind("serde-engine", zap.Uint32("configID", e.cfgID))
	if opt.cfg.Compatible {
		// 同一分组的所有引擎共享额度，字段跳过告警不会随池大小放大。
		e.Logger().WithRateGroup("serde.compatible", 1, 60)
	}
	return e, nil
}

// Config 返回规范化后的配置。
func (e *Engine) Config() Config {
	return e.cfg
}

// CodecContext 返回引擎绑定的编解码上下文。
func (e *Engine) CodecContext() *CodecContext {
	return e.cctx
}

// Register 以编号注册类型。池中借出的引擎会把注册转交给所属的池，对池内所有实例生效。
func (e *Engine) Register(t reflect.Type, id uint32) error {
	return e.route(func(x *Engine) error { return x.register(t, id) })
}

// RegisterNamed 以命名空间与名称注册类型。
func (e *Engine) RegisterNamed(t reflect.Type, namespace, name string) error {
	return e.route(func(x *Engine) error { return x.registerNamed(t, namespace, name) })
}

// RegisterCodec 为类型绑定自定义编解码器。
func (e *Engine) RegisterCodec(t reflect.Type, c Codec) error {
	return e.route(func(x *Engine) error { return x.registerCodec(t, c) })
}

// RegisterProto 以 Protobuf 全名注册消息类型，并绑定 ProtoCodec。
func (e *Engine) RegisterProto(msg proto.Message) error {
	if msg == nil {
		return merr.WrapErrParameterInvalidMsg("proto message is nil")
	}
	return e.route(func(x *Engine) error { return x.registerProto(msg) })
}

// SetClassChecker 设置类型检查器，nil 表示全部放行。
func (e *Engine) SetClassChecker(checker ClassChecker) {
	_ = e.route(func(x *Engine) error {
		x.registry.SetClassChecker(checker)
		return nil
	})
}

// route 对独立引擎直接执行注册；池中的引擎先登记到池，再补齐到自身。
func (e *Engine) route(cb func(x *Engine) error) error {
	if e.owner == nil {
		return cb(e)
	}
	if err := e.owner.apply(cb); err != nil {
		return err
	}
	return e.owner.replay(e)
}

func (e *Engine) register(t reflect.Type, id uint32) error {
	if err := e.registry.Register(t, id); err != nil {
		return err
	}
	e.Logger().Debug("type registered", log.FieldType(t), zap.Uint32("id", id))
	return nil
}

func (e *Engine) registerNamed(t reflect.Type, namespace, name string) error {
	if err := e.registry.RegisterNamed(t, namespace, name); err != nil {
		return err
	}
	e.Logger().Debug("type registered", log.FieldType(t), zap.String("name", types.QualifiedName(namespace, name)))
	return nil
}

func (e *Engine) registerCodec(t reflect.Type, c Codec) error {
	if err := e.registry.RegisterCodec(t, c); err != nil {
		return err
	}
	e.Logger().Debug("custom codec registered", log.FieldType(t))
	return nil
}

func (e *Engine) registerProto(msg proto.Message) error {
	t := reflect.TypeOf(msg)
	desc := msg.ProtoReflect().Descriptor()
	if err := e.registry.RegisterNamed(t, string(desc.ParentFile().Package()), string(desc.Name())); err != nil {
		return err
	}
	return e.registerCodec(t, ProtoCodec{})
}

// Registry 返回引擎的类型注册表。
func (e *Engine) Registry() *Registry {
	return e.registry
}

// BindMetaContext 绑定一个会话级 MetaContext，nil 表示每条消息自带 ClassDef。
// 只在兼容模式下生效。
func (e *Engine) BindMetaContext(ctx *MetaContext) {
	e.shared = ctx
}

// BackRefs 返回上一次编码写出的回引数量。
func (e *Engine) BackRefs() int {
	return e.resolver.BackRefs() + e.frameBackRefs
}

// Close 解除与编解码上下文的绑定。
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.cctx.release()
}

func (e *Engine) modeFlags() byte {
	var flags byte
	if e.cfg.RefTracking {
		flags |= flagRefTracking
	}
	if e.cfg.Compatible {
		flags |= flagCompatible
	}
	if e.cfg.CheckClassVersion {
		flags |= flagClassVersion
	}
	if e.cfg.CompressNumber {
		flags |= flagCompressNumber
	}
	return flags
}

func (e *Engine) begin() error {
	if e.closed {
		return merr.WrapErrCodecContextReleased(e.cctx.Name())
	}
	if e.cctx.Released() {
		return merr.WrapErrCodecContextReleased(e.cctx.Name())
	}
	if gen := e.cctx.Generation(); gen != e.cctxGen {
		e.registry.resetCodecs()
		e.cctxGen = gen
	}
	return nil
}

// reset 清理单次调用的状态，但保留 BackRefs 供调用方查询。
func (e *Engine) reset() {
	e.generics.Reset()
	e.nameW.Reset()
	e.nameR.Reset()
	e.depth = 0
	e.frameDepth = 0
	e.active = nil
}

// Marshal 编码 v，返回值不与引擎内部缓冲区共享内存。
func (e *Engine) Marshal(v any) ([]byte, error) {
	e.out.Reset()
	if err := e.MarshalTo(e.out, v); err != nil {
		return nil, err
	}
	data := make([]byte, e.out.Len())
	copy(data, e.out.Bytes())
	return data, nil
}

// MarshalTo 把 v 的编码追加到 buf。失败时 buf 中可能残留部分数据，调用方应当丢弃。
func (e *Engine) MarshalTo(buf *buffer.Buffer, v any) (err error) {
	if err := e.begin(); err != nil {
		return err
	}
	e.resolver.Reset()
	e.frameBackRefs = 0
	defer e.reset()

	start := buf.Len()
	flags := e.modeFlags()
	if e.cfg.Compatible {
		if e.shared != nil {
			e.active = e.shared
		} else {
			e.scoped.Reset()
			e.active = e.scoped
			flags |= flagScopedMeta
		}
	}
	_ = buf.WriteByte(flags)
	if e.active != nil && flags&flagScopedMeta == 0 {
		e.active.WriteHeader(buf)
	}

	err = e.writeRoot(buf, v)
	if e.active != nil {
		if err != nil {
			e.active.Rollback()
		} else {
			e.active.Commit()
		}
	}
	if err != nil {
		return err
	}
	size := buf.Len() - start
	metrics.EncodedBytes.Add(float64(size))
	metrics.MessageSize.WithLabelValues(metrics.DirectionEncode).Observe(float64(size))
	return nil
}

// Unmarshal 将 data 解码到 v 指向的位置。解码失败时 v 保持不变。
func (e *Engine) Unmarshal(data []byte, v any) error {
	e.in.ResetFor(data)
	err := e.UnmarshalFrom(e.in, v)
	e.in.ResetFor(nil)
	return err
}

// UnmarshalFrom 从 buf 的读游标处解码一条消息到 v。
func (e *Engine) UnmarshalFrom(buf *buffer.Buffer, v any) (err error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Pointer || rv.IsNil() {
		return merr.WrapErrParameterInvalidMsg("unmarshal target must be a non-nil pointer, got %T", v)
	}
	if err := e.begin(); err != nil {
		return err
	}
	e.resolver.Reset()
	e.frameBackRefs = 0
	defer e.reset()
	defer func() {
		if err != nil {
			metrics.DecodeFailures.WithLabelValues(merr.KindName(err)).Inc()
		}
	}()

	start := buf.ReaderIndex()
	flags, rerr := buf.ReadByte()
	if rerr != nil {
		return merr.WrapErrMalformedInput("empty message", rerr)
	}
	if flags&^knownMask != 0 || flags&modeMask != e.modeFlags() {
		return merr.WrapErrMalformedInput("message header 0x" + strconv.FormatUint(uint64(flags), 16) +
			" does not match local mode 0x" + strconv.FormatUint(uint64(e.modeFlags()), 16))
	}
	if e.cfg.Compatible {
		if flags&flagScopedMeta != 0 {
			e.scoped.Reset()
			e.active = e.scoped
		} else {
			if e.shared == nil {
				return merr.WrapErrMetaContextMismatch("none", "message refers to a shared meta context but none is bound")
			}
			e.active = e.shared
			if err := e.active.ReadHeader(buf); err != nil {
				return err
			}
		}
	}

	holder := reflect.New(rv.Elem().Type()).Elem()
	if err := e.readRoot(buf, holder); err != nil {
		return err
	}
	if err := buf.Err(); err != nil {
		return merr.WrapErrMalformedInput("truncated message", err)
	}
	rv.Elem().Set(holder)
	metrics.MessageSize.WithLabelValues(metrics.DirectionDecode).Observe(float64(buf.ReaderIndex() - start))
	return nil
}

// WriteValue 在自定义编解码器内部以接口位置的格式写出一个嵌套值。
func (e *Engine) WriteValue(buf *buffer.Buffer, v any) error {
	if v == nil {
		buf.WriteInt8(resolver.NullFlag)
		return nil
	}
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > e.cfg.MaxDepth {
		return merr.WrapErrMaxDepthExceeded(e.depth, e.cfg.MaxDepth)
	}
	return e.writeAny(buf, reflect.ValueOf(v))
}

// ReadValue 读取 WriteValue 写出的值到 ptr 指向的位置。
func (e *Engine) ReadValue(buf *buffer.Buffer, ptr any) error {
	rv := reflect.ValueOf(ptr)
	if !rv.IsValid() || rv.Kind() != reflect.Pointer || rv.IsNil() {
		return merr.WrapErrParameterInvalidMsg("read target must be a non-nil pointer, got %T", ptr)
	}
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > e.cfg.MaxDepth {
		return merr.WrapErrMaxDepthExceeded(e.depth, e.cfg.MaxDepth)
	}
	return e.readRoot(buf, rv.Elem())
}

func (e *Engine) writeRoot(buf *buffer.Buffer, v any) error {
	if v == nil {
		buf.WriteInt8(resolver.NullFlag)
		return nil
	}
	return e.writeAny(buf, reflect.ValueOf(v))
}

// writeAny 写出接口位置上的非空值：引用标记、类型标记、内容。
func (e *Engine) writeAny(buf *buffer.Buffer, v reflect.Value) error {
	t := v.Type()
	if types.IsRefKind(t) {
		if e.resolver.WriteRefOrNull(buf, v) != resolver.NeedsValue {
			return nil
		}
	} else {
		e.resolver.WriteNotNull(buf)
	}
	if err := e.writeType(buf, t); err != nil {
		return err
	}
	c, err := e.codecFor(t)
	if err != nil {
		return err
	}
	return c.Write(e, buf, v)
}

// writeType 写出类型标记。兼容模式下按名称写出的标记后面附带 t 的描述，
// 不认识该名称的读端据此跳过随后的内容。
func (e *Engine) writeType(buf *buffer.Buffer, t reflect.Type) error {
	named, err := e.registry.WriteType(buf, e.nameW, t)
	if err != nil || !named || !e.cfg.Compatible {
		return err
	}
	spec, err := e.specOf(t)
	if err != nil {
		return err
	}
	types.WriteSpec(buf, spec, e.nameW)
	return nil
}

// readType 是 writeType 的逆操作。
func (e *Engine) readType(buf *buffer.Buffer) (reflect.Type, error) {
	m, _, err := e.readMarker(buf)
	if err != nil {
		return nil, err
	}
	return e.registry.typeOf(m)
}

// readMarker 读取类型标记及其附带的类型描述，不解析为本地类型。
func (e *Engine) readMarker(buf *buffer.Buffer) (typeMarker, *types.TypeSpec, error) {
	m, err := e.registry.readMarker(buf, e.nameR)
	if err != nil || !m.named || !e.cfg.Compatible {
		return m, nil, err
	}
	spec, err := types.ReadSpec(buf, e.nameR)
	if err != nil {
		return typeMarker{}, nil, err
	}
	return m, spec, nil
}

// readRoot 读取顶层值。写端类型可以与目标相同、是目标的指针、是目标指向的类型，
// 或者实现了目标接口。
func (e *Engine) readRoot(buf *buffer.Buffer, target reflect.Value) error {
	t := target.Type()
	if t.Kind() != reflect.Interface {
		// 提前构建目标类型的编解码器，宽松模式下同时登记其名称。
		if _, err := e.codecFor(t); err != nil {
			return err
		}
	}
	r, err := e.resolver.ReadRefOrNull(buf)
	if err != nil {
		return err
	}
	switch r.Kind {
	case resolver.ReadNull:
		target.Set(reflect.Zero(t))
		return nil
	case resolver.ReadExisting:
		if !r.Value.Type().AssignableTo(t) {
			return merr.WrapErrMalformedInput("reference to " + r.Value.Type().String() + " is not assignable to " + t.String())
		}
		target.Set(r.Value)
		return nil
	}
	wt, err := e.readType(buf)
	if err != nil {
		return err
	}
	val, err := e.readAnyValue(buf, wt, r.ID)
	if err != nil {
		return err
	}
	switch {
	case wt.AssignableTo(t):
		target.Set(val)
	case wt.Kind() == reflect.Pointer && wt.Elem() == t:
		target.Set(val.Elem())
	case t.Kind() == reflect.Pointer && t.Elem() == wt:
		p := reflect.New(wt)
		p.Elem().Set(val)
		target.Set(p)
	default:
		return merr.WrapErrMalformedInput("encoded " + wt.String() + " cannot be decoded into " + t.String())
	}
	return nil
}

// readAnyValue 读取类型为 t 的值内容，引用类型在读取内容之前登记到引用表。
func (e *Engine) readAnyValue(buf *buffer.Buffer, t reflect.Type, id int) (reflect.Value, error) {
	c, err := e.codecFor(t)
	if err != nil {
		return reflect.Value{}, err
	}
	holder := reflect.New(t).Elem()
	if types.IsRefKind(t) {
		holder.Set(alloc(t))
		e.resolver.SetReadObject(id, holder)
		return holder, c.Read(e, buf, holder)
	}
	if err := c.Read(e, buf, holder); err != nil {
		return reflect.Value{}, err
	}
	e.resolver.SetReadObject(id, holder)
	return holder, nil
}

func alloc(t reflect.Type) reflect.Value {
	if t.Kind() == reflect.Map {
		return reflect.MakeMap(t)
	}
	return reflect.New(t.Elem())
}

// writeTyped 在静态类型位置写出值，每次调用深度加一。指针与 map 先写引用标记。
func (e *Engine) writeTyped(buf *buffer.Buffer, c Codec, v reflect.Value) error {
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > e.cfg.MaxDepth {
		return merr.WrapErrMaxDepthExceeded(e.depth, e.cfg.MaxDepth)
	}
	if k := v.Kind(); k == reflect.Pointer || k == reflect.Map {
		if e.resolver.WriteRefOrNull(buf, v) != resolver.NeedsValue {
			return nil
		}
	}
	return c.Write(e, buf, v)
}

// readTyped 是 writeTyped 的逆操作，v 必须可设置。
func (e *Engine) readTyped(buf *buffer.Buffer, c Codec, v reflect.Value) error {
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > e.cfg.MaxDepth {
		return merr.WrapErrMaxDepthExceeded(e.depth, e.cfg.MaxDepth)
	}
	if k := v.Kind(); k == reflect.Pointer || k == reflect.Map {
		r, err := e.resolver.ReadRefOrNull(buf)
		if err != nil {
			return err
		}
		switch r.Kind {
		case resolver.ReadNull:
			v.Set(reflect.Zero(v.Type()))
			return nil
		case resolver.ReadExisting:
			if r.Value.Type() != v.Type() {
				return merr.WrapErrMalformedInput("reference to " + r.Value.Type().String() + " used as " + v.Type().String())
			}
			v.Set(r.Value)
			return nil
		}
		nv := alloc(v.Type())
		v.Set(nv)
		e.resolver.SetReadObject(r.ID, v)
	}
	return c.Read(e, buf, v)
}

func (e *Engine) writeWithGeneric(buf *buffer.Buffer, g *generics.GenericType, c Codec, v reflect.Value) error {
	if g == nil {
		return e.writeTyped(buf, c, v)
	}
	e.generics.Push(g, e.depth)
	err := e.writeTyped(buf, c, v)
	e.generics.Pop()
	return err
}

func (e *Engine) readWithGeneric(buf *buffer.Buffer, g *generics.GenericType, c Codec, v reflect.Value) error {
	if g == nil {
		return e.readTyped(buf, c, v)
	}
	e.generics.Push(g, e.depth)
	err := e.readTyped(buf, c, v)
	e.generics.Pop()
	return err
}

// nextGeneric 取出父调用为容器类型 t 压入的泛型帧，返回第 i 个类型参数绑定的编解码器，
// 以及需要继续向下传递的子帧（没有嵌套参数时为 nil）。
func (e *Engine) nextGeneric(t reflect.Type, i int, fallback Codec) (Codec, *generics.GenericType) {
	g := e.generics.Next(e.depth)
	if g == nil || g.Type != t {
		return fallback, nil
	}
	p := g.Param(i)
	if p == nil {
		return fallback, nil
	}
	c := fallback
	if b, ok := p.Binding.(Codec); ok && b != nil {
		c = b
	}
	if len(p.Params) == 0 {
		return c, nil
	}
	return c, p
}

func (e *Engine) bindCodec(t reflect.Type) any {
	c, err := e.codecFor(t)
	if err != nil {
		return nil
	}
	return c
}

type codecInit interface {
	init(e *Engine) error
}

// codecFor 返回类型 t 的编解码器并缓存。带子编解码器的实现先登记占位再初始化，
// 以支持递归类型；初始化失败时清空整个缓存，避免残留引用半成品。
func (e *Engine) codecFor(t reflect.Type) (Codec, error) {
	if c, ok := e.registry.cachedCodec(t); ok {
		return c, nil
	}
	if ext := e.registry.extFor(t); ext != nil {
		c := &extCodec{inner: ext}
		e.registry.storeCodec(t, c)
		return c, nil
	}
	var c Codec
	if types.IsTime(t) {
		c = timeCodec{}
	} else if k, ok := types.PrimitiveKindOf(t.Kind()); ok {
		c = primitiveCodec{kind: k}
	} else {
		switch t.Kind() {
		case reflect.String:
			c = stringCodec{}
		case reflect.Slice:
			if types.IsBinary(t) {
				c = binaryCodec{}
			} else {
				c = &sliceCodec{typ: t}
			}
		case reflect.Array:
			c = &arrayCodec{typ: t}
		case reflect.Map:
			c = &mapCodec{typ: t}
		case reflect.Pointer:
			c = &ptrCodec{typ: t}
		case reflect.Interface:
			c = anyCodec{}
		case reflect.Struct:
			c = &structCodec{typ: t}
		default:
			return nil, merr.WrapErrUnsupportedType(t.String())
		}
	}
	e.registry.storeCodec(t, c)
	if ci, ok := c.(codecInit); ok {
		if err := ci.init(e); err != nil {
			e.registry.resetCodecs()
			return nil, err
		}
	}
	return c, nil
}
