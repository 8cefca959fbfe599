package resolver

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-serde/pkg/buffer"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

type node struct {
	Val  int
	Next *node
}

func TestWriteRefOrNull(t *testing.T) {
	r := NewMapResolver()
	buf := buffer.New(0)

	shared := &node{Val: 1}
	var nilNode *node

	assert.Equal(t, WroteNull, r.WriteRefOrNull(buf, reflect.ValueOf(nilNode)))
	assert.Equal(t, NeedsValue, r.WriteRefOrNull(buf, reflect.ValueOf(shared)))
	for i := 0; i < 3; i++ {
		assert.Equal(t, WroteRef, r.WriteRefOrNull(buf, reflect.ValueOf(shared)))
	}
	// 出现 4 次，回引 3 次。
	assert.Equal(t, 3, r.BackRefs())

	// 同一地址不同类型是不同对象。
	assert.Equal(t, NeedsValue, r.WriteRefOrNull(buf, reflect.ValueOf(&shared.Val)))

	rb := buffer.Wrap(buf.Bytes())
	assert.Equal(t, NullFlag, rb.ReadInt8())
	assert.Equal(t, RefValueFlag, rb.ReadInt8())
	assert.Equal(t, RefFlag, rb.ReadInt8())
	assert.Equal(t, uint32(0), rb.ReadVarUint32())
}

func TestReadPlaceholderBeforeRecursion(t *testing.T) {
	w := NewMapResolver()
	buf := buffer.New(0)
	self := &node{Val: 7}
	self.Next = self
	require.Equal(t, NeedsValue, w.WriteRefOrNull(buf, reflect.ValueOf(self)))
	require.Equal(t, WroteRef, w.WriteRefOrNull(buf, reflect.ValueOf(self.Next)))

	r := NewMapResolver()
	rb := buffer.Wrap(buf.Bytes())
	res, err := r.ReadRefOrNull(rb)
	require.NoError(t, err)
	require.Equal(t, ReadPlaceholder, res.Kind)
	require.Equal(t, 0, res.ID)

	shell := reflect.New(reflect.TypeOf(node{}))
	r.SetReadObject(res.ID, shell)

	res, err = r.ReadRefOrNull(rb)
	require.NoError(t, err)
	require.Equal(t, ReadExisting, res.Kind)
	assert.Equal(t, shell.Pointer(), res.Value.Pointer())
}

func TestReadErrors(t *testing.T) {
	r := NewMapResolver()
	_, err := r.ReadRefOrNull(buffer.Wrap([]byte{byte(0xfe), 5}))
	assert.ErrorIs(t, err, merr.ErrMalformedInput)

	_, err = r.ReadRefOrNull(buffer.Wrap([]byte{9}))
	assert.ErrorIs(t, err, merr.ErrMalformedInput)

	_, err = r.ReadRefOrNull(buffer.Wrap(nil))
	assert.ErrorIs(t, err, merr.ErrMalformedInput)

	// 占位尚未绑定对象时回引无效。
	res, err := r.ReadRefOrNull(buffer.Wrap([]byte{0}))
	require.NoError(t, err)
	require.Equal(t, 0, res.ID)
	_, err = r.ReadRefOrNull(buffer.Wrap([]byte{byte(0xfe), 0}))
	assert.ErrorIs(t, err, merr.ErrMalformedInput)
}

func TestSkipAcceptsRefToSkippedValue(t *testing.T) {
	r := NewMapResolver()
	rb := buffer.Wrap([]byte{0, byte(0xfe), 0, byte(0xfd), byte(0xff)})
	follows, err := r.SkipRefOrNull(rb)
	require.NoError(t, err)
	assert.True(t, follows)

	// 编号 0 已预留但未绑定，跳过时允许回引。
	follows, err = r.SkipRefOrNull(rb)
	require.NoError(t, err)
	assert.False(t, follows)

	follows, err = r.SkipRefOrNull(rb)
	require.NoError(t, err)
	assert.False(t, follows)

	follows, err = r.SkipRefOrNull(rb)
	require.NoError(t, err)
	assert.True(t, follows)

	// 正常读取仍然拒绝未绑定的编号。
	_, err = r.ReadRefOrNull(buffer.Wrap([]byte{byte(0xfe), 0}))
	assert.ErrorIs(t, err, merr.ErrMalformedInput)

	_, err = r.SkipRefOrNull(buffer.Wrap([]byte{byte(0xfe), 3}))
	assert.ErrorIs(t, err, merr.ErrMalformedInput)
}

func TestReset(t *testing.T) {
	r := NewMapResolver()
	buf := buffer.New(0)
	n := &node{}
	r.WriteRefOrNull(buf, reflect.ValueOf(n))
	r.WriteRefOrNull(buf, reflect.ValueOf(n))
	r.Reset()
	assert.Equal(t, 0, r.BackRefs())
	assert.Equal(t, NeedsValue, r.WriteRefOrNull(buf, reflect.ValueOf(n)))
}

func TestNoRefResolver(t *testing.T) {
	var r NoRefResolver
	buf := buffer.New(0)
	n := &node{}
	assert.Equal(t, NeedsValue, r.WriteRefOrNull(buf, reflect.ValueOf(n)))
	assert.Equal(t, NeedsValue, r.WriteRefOrNull(buf, reflect.ValueOf(n)))
	assert.Equal(t, 0, r.BackRefs())

	rb := buffer.Wrap(buf.Bytes())
	res, err := r.ReadRefOrNull(rb)
	require.NoError(t, err)
	assert.Equal(t, -1, res.ID)

	_, err = r.ReadRefOrNull(buffer.Wrap([]byte{byte(0xfe), 0}))
	assert.ErrorIs(t, err, merr.ErrMalformedInput)
}
