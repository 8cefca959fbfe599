package meta

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-serde/internal/serde/names"
	"github.com/lk2023060901/danmu-garden-serde/internal/serde/types"
	"github.com/lk2023060901/danmu-garden-serde/pkg/buffer"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

func field(name string, kind types.Kind) FieldDef {
	spec := &types.TypeSpec{Kind: kind}
	category := types.CategoryFinal
	if kind.IsPrimitive() {
		category = types.CategoryPrimitive
	}
	return FieldDef{Name: name, Category: category, Spec: spec}
}

func userDef(fields ...FieldDef) *ClassDef {
	return NewClassDef("example.com/app", "User", fields)
}

func TestClassDefEncodeDecode(t *testing.T) {
	tags := FieldDef{
		Name:     "tags",
		Category: types.CategoryCollection,
		Spec:     &types.TypeSpec{Kind: types.KindList, Elem: &types.TypeSpec{Kind: types.KindString}},
	}
	def := userDef(field("id", types.KindInt64), field("name", types.KindString), tags)

	buf := buffer.New(0)
	def.Encode(buf, names.NewWriter())
	got, err := DecodeClassDef(buffer.Wrap(buf.Bytes()), names.NewReader())
	require.NoError(t, err)
	assert.Equal(t, def.Hash(), got.Hash())
	assert.Equal(t, "example.com/app.User", got.QualifiedName())
	require.Len(t, got.Fields, 3)
	assert.True(t, got.Fields[2].Spec.Equal(tags.Spec))
}

func TestHashDependsOnFieldOrder(t *testing.T) {
	a := userDef(field("id", types.KindInt64), field("name", types.KindString))
	b := userDef(field("name", types.KindString), field("id", types.KindInt64))
	c := userDef(field("id", types.KindInt64), field("name", types.KindString))
	assert.NotEqual(t, a.Hash(), b.Hash())
	assert.Equal(t, a.Hash(), c.Hash())
	assert.Equal(t, uint32(a.Hash()), a.Fingerprint())
}

func TestDecodeRejectsBadCategory(t *testing.T) {
	buf := buffer.New(0)
	w := types.PlainNames{}
	w.WriteName(buf, "ns")
	w.WriteName(buf, "T")
	buf.WriteVarUint32(1)
	_ = buf.WriteByte(99)
	_, err := DecodeClassDef(buffer.Wrap(buf.Bytes()), types.PlainNames{})
	assert.ErrorIs(t, err, merr.ErrMalformedInput)
}

func TestDumpJSON(t *testing.T) {
	def := userDef(field("id", types.KindInt64))
	data, err := def.DumpJSON()
	require.NoError(t, err)
	var view map[string]any
	require.NoError(t, sonic.Unmarshal(data, &view))
	assert.Equal(t, "User", view["name"])
	fields := view["fields"].([]any)
	require.Len(t, fields, 1)
	assert.Equal(t, "int64", fields[0].(map[string]any)["type"])
	assert.Equal(t, "primitive", fields[0].(map[string]any)["category"])
}

func TestRemap(t *testing.T) {
	writer := userDef(
		field("a", types.KindInt32),
		field("b", types.KindString),
		field("c", types.KindFloat64),
		field("d", types.KindInt64),
	)
	local := []FieldDef{
		field("b", types.KindString),
		field("a", types.KindInt32),
		// 类型变化的字段视为不存在。
		field("d", types.KindString),
		field("e", types.KindBool),
	}
	m := Remap(writer, local)
	assert.Equal(t, []int{1, 0, -1, -1}, m.Local)
	assert.Equal(t, []int{2, 3}, m.Missing)
	assert.Equal(t, 2, m.Skipped())
}

func TestWriteIfNewAndReadClassDef(t *testing.T) {
	wctx, rctx := NewMetaContext(), NewMetaContext()
	def := userDef(field("id", types.KindInt64))

	buf := buffer.New(0)
	nw := names.NewWriter()
	id, isNew := wctx.WriteIfNew(buf, nw, def)
	assert.Equal(t, 0, id)
	assert.True(t, isNew)
	firstLen := buf.Len()
	id, isNew = wctx.WriteIfNew(buf, nw, def)
	assert.Equal(t, 0, id)
	assert.False(t, isNew)
	assert.Equal(t, 1, buf.Len()-firstLen)
	wctx.Commit()

	r := buffer.Wrap(buf.Bytes())
	nr := names.NewReader()
	got, err := rctx.ReadClassDef(r, nr)
	require.NoError(t, err)
	assert.Equal(t, def.Hash(), got.Hash())
	got, err = rctx.ReadClassDef(r, nr)
	require.NoError(t, err)
	assert.Same(t, rctx.readDefs[0], got)
	assert.Equal(t, 1, rctx.ReadDefs())
}

func TestRollbackDropsStagedDefs(t *testing.T) {
	ctx := NewMetaContext()
	a := userDef(field("a", types.KindInt32))
	b := userDef(field("b", types.KindInt32))

	ctx.DefineOrLookup(a)
	ctx.Commit()
	id, isNew := ctx.DefineOrLookup(b)
	assert.Equal(t, 1, id)
	assert.True(t, isNew)
	ctx.Rollback()
	assert.Equal(t, 1, ctx.WrittenDefs())

	id, isNew = ctx.DefineOrLookup(b)
	assert.Equal(t, 1, id)
	assert.True(t, isNew)
	id, isNew = ctx.DefineOrLookup(a)
	assert.Equal(t, 0, id)
	assert.False(t, isNew)
}

func TestClearKeepsSessionID(t *testing.T) {
	ctx := NewMetaContext()
	ctx.DefineOrLookup(userDef(field("a", types.KindInt32)))
	ctx.Commit()
	id := ctx.ID()

	ctx.Clear()
	assert.Equal(t, id, ctx.ID())
	assert.Equal(t, 0, ctx.WrittenDefs())
	_, isNew := ctx.DefineOrLookup(userDef(field("a", types.KindInt32)))
	assert.True(t, isNew)

	ctx.Reset()
	assert.NotEqual(t, id, ctx.ID())
}

func TestHeaderDetectsDesync(t *testing.T) {
	writer, reader := NewMetaContext(), NewMetaContext()
	def := userDef(field("a", types.KindInt32))

	send := func(w *MetaContext) *buffer.Buffer {
		buf := buffer.New(0)
		w.WriteHeader(buf)
		w.WriteIfNew(buf, names.NewWriter(), def)
		w.Commit()
		return buffer.Wrap(buf.Bytes())
	}
	receive := func(r *MetaContext, buf *buffer.Buffer) error {
		if err := r.ReadHeader(buf); err != nil {
			return err
		}
		_, err := r.ReadClassDef(buf, names.NewReader())
		return err
	}

	require.NoError(t, receive(reader, send(writer)))
	require.NoError(t, receive(reader, send(writer)))

	// 写端更换会话，读端仍持有旧定义。
	err := receive(reader, send(NewMetaContext()))
	assert.ErrorIs(t, err, merr.ErrMetaContextMismatch)

	// 读端更换会话，写端仍引用旧编号。
	err = receive(NewMetaContext(), send(writer))
	assert.ErrorIs(t, err, merr.ErrMetaContextMismatch)

	// 双方同时重置后恢复正常。
	writer.Reset()
	reader.Reset()
	require.NoError(t, receive(reader, send(writer)))
	require.NoError(t, receive(reader, send(writer)))
}

func TestReadDefOutOfRange(t *testing.T) {
	_, err := NewMetaContext().ReadDef(3)
	assert.ErrorIs(t, err, merr.ErrMetaContextMismatch)
}

func TestResetChangesFingerprint(t *testing.T) {
	ctx := NewMetaContext()
	id := ctx.ID()
	ctx.Reset()
	assert.NotEqual(t, id, ctx.ID())
}
