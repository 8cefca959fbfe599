// Package buffer 提供序列化引擎使用的可增长字节缓冲区。
//
// 写入端按需扩容，读取端采用“粘滞错误”模式：一旦发生越界读取，
// 后续所有读取都返回零值，调用方在合适的位置检查 Err() 即可。
package buffer

import (
	"math"

	"github.com/cockroachdb/errors"
)

const (
	// DefaultBufferSize 是缓冲区的默认初始大小。
	DefaultBufferSize = 512

	bufferGrowThreshold = 64 * 1024
)

// ErrUnderflow 表示读取位置越过了已写入数据的末尾。
var ErrUnderflow = errors.New("buffer underflow")

// Buffer 是一个线性字节缓冲区，同时维护读写两个游标。
type Buffer struct {
	data []byte
	w    int // 下一次写入位置
	r    int // 下一次读取位置
	err  error
}

// New 创建一个给定初始容量的 Buffer，size <= 0 时使用默认值。
func New(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{data: make([]byte, size)}
}

// Wrap 以 data 作为可读内容创建 Buffer，不拷贝数据。
func Wrap(data []byte) *Buffer {
	return &Buffer{data: data, w: len(data)}
}

// Reset 清空读写游标与错误状态，保留底层容量。
func (b *Buffer) Reset() {
	b.w = 0
	b.r = 0
	b.err = nil
}

// ResetFor 使 Buffer 指向新的可读数据。
func (b *Buffer) ResetFor(data []byte) {
	b.data = data
	b.w = len(data)
	b.r = 0
	b.err = nil
}

// Bytes 返回已写入的数据，返回值在下一次写入前有效。
func (b *Buffer) Bytes() []byte { return b.data[:b.w] }

// Len 返回已写入的字节数。
func (b *Buffer) Len() int { return b.w }

// Cap 返回底层切片容量。
func (b *Buffer) Cap() int { return cap(b.data) }

// WriterIndex 返回当前写游标。
func (b *Buffer) WriterIndex() int { return b.w }

// ReaderIndex 返回当前读游标。
func (b *Buffer) ReaderIndex() int { return b.r }

// SetReaderIndex 移动读游标到绝对位置。
func (b *Buffer) SetReaderIndex(i int) {
	if i < 0 || i > b.w {
		b.fail()
		return
	}
	b.r = i
}

// Remaining 返回尚未读取的字节数。
func (b *Buffer) Remaining() int { return b.w - b.r }

// Err 返回第一次读取失败时记录的错误。
func (b *Buffer) Err() error { return b.err }

func (b *Buffer) fail() {
	if b.err == nil {
		b.err = errors.Wrapf(ErrUnderflow, "reader=%d writer=%d", b.r, b.w)
	}
}

// Grow 保证至少还能写入 n 个字节。
func (b *Buffer) Grow(n int) {
	if b.w+n <= len(b.data) {
		return
	}
	newSize := len(b.data) * 2
	if len(b.data) >= bufferGrowThreshold {
		newSize = len(b.data) + len(b.data)/2
	}
	if newSize < b.w+n {
		newSize = b.w + n
	}
	data := make([]byte, newSize)
	copy(data, b.data[:b.w])
	b.data = data
}

// Write 实现 io.Writer。
func (b *Buffer) Write(p []byte) (int, error) {
	b.WriteBinary(p)
	return len(p), nil
}

// WriteBinary 追加原始字节。
func (b *Buffer) WriteBinary(p []byte) {
	b.Grow(len(p))
	b.w += copy(b.data[b.w:], p)
}

// WriteByte 追加单个字节。
func (b *Buffer) WriteByte(v byte) error {
	b.Grow(1)
	b.data[b.w] = v
	b.w++
	return nil
}

func (b *Buffer) WriteBool(v bool) {
	if v {
		_ = b.WriteByte(1)
	} else {
		_ = b.WriteByte(0)
	}
}

func (b *Buffer) WriteInt8(v int8) { _ = b.WriteByte(byte(v)) }

func (b *Buffer) WriteUint16(v uint16) {
	b.Grow(2)
	b.PutUint16At(b.w, v)
	b.w += 2
}

func (b *Buffer) WriteInt16(v int16) { b.WriteUint16(uint16(v)) }

func (b *Buffer) WriteUint32(v uint32) {
	b.Grow(4)
	b.PutUint32At(b.w, v)
	b.w += 4
}

func (b *Buffer) WriteInt32(v int32) { b.WriteUint32(uint32(v)) }

func (b *Buffer) WriteUint64(v uint64) {
	b.Grow(8)
	b.PutUint64At(b.w, v)
	b.w += 8
}

func (b *Buffer) WriteInt64(v int64) { b.WriteUint64(uint64(v)) }

func (b *Buffer) WriteFloat32(v float32) { b.WriteUint32(math.Float32bits(v)) }

func (b *Buffer) WriteFloat64(v float64) { b.WriteUint64(math.Float64bits(v)) }

// WriteVarUint32 以 LEB128 编码写入无符号 32 位整数。
func (b *Buffer) WriteVarUint32(v uint32) {
	b.WriteVarUint64(uint64(v))
}

// WriteVarUint64 以 LEB128 编码写入无符号 64 位整数。
func (b *Buffer) WriteVarUint64(v uint64) {
	b.Grow(10)
	for v >= 0x80 {
		b.data[b.w] = byte(v) | 0x80
		b.w++
		v >>= 7
	}
	b.data[b.w] = byte(v)
	b.w++
}

// WriteVarInt32 使用 zigzag + LEB128 写入有符号 32 位整数。
func (b *Buffer) WriteVarInt32(v int32) {
	b.WriteVarUint64(uint64(uint32((v << 1) ^ (v >> 31))))
}

// WriteVarInt64 使用 zigzag + LEB128 写入有符号 64 位整数。
func (b *Buffer) WriteVarInt64(v int64) {
	b.WriteVarUint64(uint64((v << 1) ^ (v >> 63)))
}

// PutUint16At 在绝对位置写入小端 uint16，不移动写游标。
func (b *Buffer) PutUint16At(off int, v uint16) {
	b.data[off] = byte(v)
	b.data[off+1] = byte(v >> 8)
}

// PutUint32At 在绝对位置写入小端 uint32，不移动写游标。
func (b *Buffer) PutUint32At(off int, v uint32) {
	b.data[off] = byte(v)
	b.data[off+1] = byte(v >> 8)
	b.data[off+2] = byte(v >> 16)
	b.data[off+3] = byte(v >> 24)
}

// PutUint64At 在绝对位置写入小端 uint64，不移动写游标。
func (b *Buffer) PutUint64At(off int, v uint64) {
	b.PutUint32At(off, uint32(v))
	b.PutUint32At(off+4, uint32(v>>32))
}

// Uint32At 读取绝对位置上的小端 uint32，不移动读游标。
func (b *Buffer) Uint32At(off int) uint32 {
	if off < 0 || off+4 > b.w {
		b.fail()
		return 0
	}
	d := b.data[off : off+4]
	return uint32(d[0]) | uint32(d[1])<<8 | uint32(d[2])<<16 | uint32(d[3])<<24
}

func (b *Buffer) take(n int) []byte {
	if b.err != nil {
		return nil
	}
	if n < 0 || b.r+n > b.w {
		b.fail()
		return nil
	}
	p := b.data[b.r : b.r+n]
	b.r += n
	return p
}

// ReadByte 实现 io.ByteReader。
func (b *Buffer) ReadByte() (byte, error) {
	p := b.take(1)
	if p == nil {
		return 0, b.err
	}
	return p[0], nil
}

func (b *Buffer) ReadBool() bool {
	v, _ := b.ReadByte()
	return v != 0
}

func (b *Buffer) ReadInt8() int8 {
	v, _ := b.ReadByte()
	return int8(v)
}

func (b *Buffer) ReadUint8() uint8 {
	v, _ := b.ReadByte()
	return v
}

func (b *Buffer) ReadUint16() uint16 {
	p := b.take(2)
	if p == nil {
		return 0
	}
	return uint16(p[0]) | uint16(p[1])<<8
}

func (b *Buffer) ReadInt16() int16 { return int16(b.ReadUint16()) }

func (b *Buffer) ReadUint32() uint32 {
	p := b.take(4)
	if p == nil {
		return 0
	}
	return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
}

func (b *Buffer) ReadInt32() int32 { return int32(b.ReadUint32()) }

func (b *Buffer) ReadUint64() uint64 {
	lo := b.ReadUint32()
	hi := b.ReadUint32()
	return uint64(lo) | uint64(hi)<<32
}

func (b *Buffer) ReadInt64() int64 { return int64(b.ReadUint64()) }

func (b *Buffer) ReadFloat32() float32 { return math.Float32frombits(b.ReadUint32()) }

func (b *Buffer) ReadFloat64() float64 { return math.Float64frombits(b.ReadUint64()) }

// ReadVarUint64 读取 LEB128 编码的无符号整数，超过 10 字节视为数据损坏。
func (b *Buffer) ReadVarUint64() uint64 {
	var x uint64
	var s uint
	for i := 0; i < 10; i++ {
		c, err := b.ReadByte()
		if err != nil {
			return 0
		}
		if c < 0x80 {
			if i == 9 && c > 1 {
				break
			}
			return x | uint64(c)<<s
		}
		x |= uint64(c&0x7f) << s
		s += 7
	}
	b.fail()
	return 0
}

func (b *Buffer) ReadVarUint32() uint32 {
	v := b.ReadVarUint64()
	if v > math.MaxUint32 {
		b.fail()
		return 0
	}
	return uint32(v)
}

func (b *Buffer) ReadVarInt32() int32 {
	v := b.ReadVarUint32()
	return int32(v>>1) ^ -int32(v&1)
}

func (b *Buffer) ReadVarInt64() int64 {
	v := b.ReadVarUint64()
	return int64(v>>1) ^ -int64(v&1)
}

// ReadBinary 读取 n 个字节，返回值与底层数据共享内存。
func (b *Buffer) ReadBinary(n int) []byte {
	return b.take(n)
}

// Skip 跳过 n 个字节。
func (b *Buffer) Skip(n int) {
	b.take(n)
}
