package compressor

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

func TestNew(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	assert.IsType(t, NopCompressor{}, c)

	c, err = New(KindZstd)
	require.NoError(t, err)
	defer c.Close()
	assert.IsType(t, &ZstdCompressor{}, c)

	_, err = New("lz4")
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
}

func TestNop(t *testing.T) {
	src := []byte("plain")
	out, err := NopCompressor{}.Compress(nil, src)
	require.NoError(t, err)
	assert.Equal(t, src, out)
	out, err = NopCompressor{}.Decompress(nil, out)
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

func TestZstdRoundTrip(t *testing.T) {
	c, err := NewZstdCompressor(WithConcurrency(1), WithLevel(zstd.SpeedFastest))
	require.NoError(t, err)
	defer c.Close()

	src := bytes.Repeat([]byte("danmu-garden "), 512)
	packed, err := c.Compress(nil, src)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(src))

	plain, err := c.Decompress(make([]byte, 0, 16), packed)
	require.NoError(t, err)
	assert.Equal(t, src, plain)

	_, err = c.Decompress(nil, []byte("not zstd"))
	assert.Error(t, err)
}

func TestZstdClosed(t *testing.T) {
	c, err := NewZstdCompressor()
	require.NoError(t, err)
	c.Close()
	c.Close()
	_, err = c.Compress(nil, []byte("x"))
	assert.ErrorIs(t, err, zstd.ErrEncoderClosed)
	_, err = c.Decompress(nil, []byte("x"))
	assert.ErrorIs(t, err, zstd.ErrDecoderClosed)
}

func TestZstdMaxDecodedSize(t *testing.T) {
	big, err := NewZstdCompressor()
	require.NoError(t, err)
	defer big.Close()
	packed, err := big.Compress(nil, bytes.Repeat([]byte{0}, 1<<20))
	require.NoError(t, err)

	small, err := New(KindZstd, WithMaxDecodedSize(64<<10))
	require.NoError(t, err)
	defer small.Close()
	_, err = small.Decompress(nil, packed)
	assert.Error(t, err)
}
