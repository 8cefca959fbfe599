package framer

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-serde/pkg/buffer"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

func TestRoundTrip(t *testing.T) {
	f := NewLengthPrefixedFramer(0)
	var stream bytes.Buffer
	n, err := f.WriteFrame(&stream, 0, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	_, err = f.WriteFrame(&stream, FlagCompressed, nil)
	require.NoError(t, err)

	// 长度字段为大端，包含标志字节。
	assert.Equal(t, []byte{0, 0, 0, 6, 0}, stream.Bytes()[:5])

	dst := buffer.New(0)
	flags, err := f.ReadFrame(&stream, dst)
	require.NoError(t, err)
	assert.Equal(t, byte(0), flags)
	assert.Equal(t, []byte("hello"), dst.ReadBinary(dst.Remaining()))

	flags, err = f.ReadFrame(&stream, dst)
	require.NoError(t, err)
	assert.Equal(t, FlagCompressed, flags)
	assert.Equal(t, 0, dst.Remaining())

	_, err = f.ReadFrame(&stream, dst)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameTooLarge(t *testing.T) {
	f := NewLengthPrefixedFramer(4)
	var stream bytes.Buffer
	_, err := f.WriteFrame(&stream, 0, []byte("toolong"))
	assert.ErrorIs(t, err, merr.ErrFrameTooLarge)
	assert.Equal(t, 0, stream.Len())

	stream.Write([]byte{0, 0, 1, 0})
	_, err = f.ReadFrame(&stream, buffer.New(0))
	assert.ErrorIs(t, err, merr.ErrFrameTooLarge)
}

func TestTruncatedFrame(t *testing.T) {
	f := NewLengthPrefixedFramer(0)
	_, err := f.ReadFrame(bytes.NewReader([]byte{0, 0}), buffer.New(0))
	assert.ErrorIs(t, err, merr.ErrMalformedInput)

	_, err = f.ReadFrame(bytes.NewReader([]byte{0, 0, 0, 8, 0, 1}), buffer.New(0))
	assert.ErrorIs(t, err, merr.ErrMalformedInput)

	_, err = f.ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0}), buffer.New(0))
	assert.ErrorIs(t, err, merr.ErrMalformedInput)
}
