package names

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-serde/pkg/buffer"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

func TestDictionaryCompression(t *testing.T) {
	w := NewWriter()
	buf := buffer.New(0)

	ns := "github.com/lk2023060901/danmu-garden-serde/pkg/demo"
	w.WriteName(buf, ns)
	first := buf.Len()
	w.WriteName(buf, ns)
	assert.Equal(t, 1, buf.Len()-first)
	w.WriteName(buf, "Foo")
	assert.Equal(t, 2, w.Len())

	r := NewReader()
	rb := buffer.Wrap(buf.Bytes())
	for _, want := range []string{ns, ns, "Foo"} {
		got, err := r.ReadName(rb)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 0, rb.Remaining())
}

func TestResetStartsNewSession(t *testing.T) {
	w := NewWriter()
	buf := buffer.New(0)
	w.WriteName(buf, "a")
	w.Reset()
	buf.Reset()
	w.WriteName(buf, "a")
	// 重置后重新写出完整字符串。
	assert.Equal(t, []byte{2, 'a'}, buf.Bytes())
}

func TestReadNameErrors(t *testing.T) {
	r := NewReader()
	_, err := r.ReadName(buffer.Wrap([]byte{3}))
	assert.ErrorIs(t, err, merr.ErrMalformedInput)

	_, err = r.ReadName(buffer.Wrap([]byte{10, 'x'}))
	assert.ErrorIs(t, err, merr.ErrMalformedInput)

	_, err = r.ReadName(buffer.Wrap(nil))
	assert.ErrorIs(t, err, merr.ErrMalformedInput)
}
