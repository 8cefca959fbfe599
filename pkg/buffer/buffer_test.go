package buffer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarsLittleEndian(t *testing.T) {
	b := New(1)
	b.WriteUint16(0x0102)
	b.WriteUint32(0x03040506)
	b.WriteInt64(-2)
	b.WriteFloat64(math.Pi)

	assert.Equal(t, []byte{0x02, 0x01, 0x06, 0x05, 0x04, 0x03}, b.Bytes()[:6])

	r := Wrap(b.Bytes())
	assert.Equal(t, uint16(0x0102), r.ReadUint16())
	assert.Equal(t, uint32(0x03040506), r.ReadUint32())
	assert.Equal(t, int64(-2), r.ReadInt64())
	assert.Equal(t, math.Pi, r.ReadFloat64())
	require.NoError(t, r.Err())
	assert.Equal(t, 0, r.Remaining())
}

func TestVarints(t *testing.T) {
	cases := []int64{0, 1, -1, 63, -64, 64, 1 << 20, math.MaxInt64, math.MinInt64}
	b := New(0)
	for _, c := range cases {
		b.WriteVarInt64(c)
	}
	b.WriteVarUint32(300)
	b.WriteVarInt32(math.MinInt32)

	r := Wrap(b.Bytes())
	for _, c := range cases {
		assert.Equal(t, c, r.ReadVarInt64())
	}
	assert.Equal(t, uint32(300), r.ReadVarUint32())
	assert.Equal(t, int32(math.MinInt32), r.ReadVarInt32())
	require.NoError(t, r.Err())
}

func TestVarUintEncodingSize(t *testing.T) {
	b := New(0)
	b.WriteVarUint32(127)
	assert.Equal(t, 1, b.Len())
	b.WriteVarUint32(128)
	assert.Equal(t, 3, b.Len())
}

func TestUnderflowIsSticky(t *testing.T) {
	r := Wrap([]byte{1, 2})
	assert.Equal(t, uint32(0), r.ReadUint32())
	require.ErrorIs(t, r.Err(), ErrUnderflow)
	// 后续读取保持失败状态。
	assert.Equal(t, uint8(0), r.ReadUint8())
	assert.Nil(t, r.ReadBinary(1))
}

func TestAbsoluteOffsets(t *testing.T) {
	b := New(4)
	b.WriteUint32(0)
	b.WriteUint32(7)
	b.PutUint32At(0, 42)
	assert.Equal(t, uint32(42), b.Uint32At(0))
	assert.Equal(t, uint32(7), b.Uint32At(4))
	assert.Equal(t, uint32(0), b.Uint32At(6))
	assert.Error(t, b.Err())
}

func TestGrowKeepsContent(t *testing.T) {
	b := New(2)
	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}
	b.WriteBinary(payload)
	assert.Equal(t, payload, b.Bytes())

	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.GreaterOrEqual(t, b.Cap(), 1000)
}

func TestMalformedVarint(t *testing.T) {
	r := Wrap([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01})
	r.ReadVarUint64()
	assert.Error(t, r.Err())
}
