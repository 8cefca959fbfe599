// Package framer 实现流上的长度前缀帧。
//
// 一帧的格式为：4 字节大端长度 n + 1 字节帧标志 + n-1 字节负载。
package framer

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/danmu-garden-serde/pkg/buffer"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// FlagCompressed 表示负载经过压缩。
const FlagCompressed byte = 1

const (
	headerSize = 4

	defaultMaxFrameSize uint32 = 16 * 1024 * 1024
)

// LengthPrefixedFramer 以长度前缀划分帧边界，适用于 TCP、文件等字节流。
type LengthPrefixedFramer struct {
	// MaxFrameSize 为帧体（标志加负载）的最大字节数，为 0 时使用默认值。
	MaxFrameSize uint32
}

func NewLengthPrefixedFramer(maxFrameSize uint32) *LengthPrefixedFramer {
	if maxFrameSize == 0 {
		maxFrameSize = defaultMaxFrameSize
	}
	return &LengthPrefixedFramer{MaxFrameSize: maxFrameSize}
}

// WriteFrame 写出一帧，返回写入的总字节数。
func (f *LengthPrefixedFramer) WriteFrame(w io.Writer, flags byte, payload []byte) (int, error) {
	length := uint64(len(payload)) + 1
	if length > uint64(f.effectiveMaxSize()) {
		return 0, merr.WrapErrFrameTooLarge(uint32(min(length, uint64(^uint32(0)))), f.effectiveMaxSize())
	}

	var header [headerSize + 1]byte
	binary.BigEndian.PutUint32(header[:headerSize], uint32(length))
	header[headerSize] = flags
	if _, err := w.Write(header[:]); err != nil {
		return 0, errors.Wrap(err, "framer: write header failed")
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return 0, errors.Wrap(err, "framer: write body failed")
		}
	}
	return headerSize + int(length), nil
}

// ReadFrame 读取一帧，负载写入 dst（先清空）。流在帧边界处结束时返回 io.EOF。
func (f *LengthPrefixedFramer) ReadFrame(r io.Reader, dst *buffer.Buffer) (flags byte, err error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, merr.WrapErrMalformedInput("truncated frame header", err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return 0, merr.WrapErrMalformedInput("empty frame")
	}
	if length > f.effectiveMaxSize() {
		return 0, merr.WrapErrFrameTooLarge(length, f.effectiveMaxSize())
	}

	dst.Reset()
	dst.Grow(int(length))
	if _, err := io.CopyN(dst, r, int64(length)); err != nil {
		return 0, merr.WrapErrMalformedInput("truncated frame body", err)
	}
	flags, _ = dst.ReadByte()
	return flags, nil
}

func (f *LengthPrefixedFramer) effectiveMaxSize() uint32 {
	if f == nil || f.MaxFrameSize == 0 {
		return defaultMaxFrameSize
	}
	return f.MaxFrameSize
}
