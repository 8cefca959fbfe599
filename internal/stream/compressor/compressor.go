// Package compressor 提供流帧的整块压缩实现。
package compressor

import (
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

const (
	KindNone = "none"
	KindZstd = "zstd"
)

// Compressor 抽象了单次压缩与解压。
type Compressor interface {
	// Compress 将 src 压缩后追加到 dst[:0]，返回压缩结果。
	Compress(dst, src []byte) ([]byte, error)

	// Decompress 是 Compress 的逆操作。
	Decompress(dst, src []byte) ([]byte, error)

	Close()
}

// New 按名称创建压缩器，空名称等同于 none。opts 只作用于 zstd。
func New(kind string, opts ...ZstdOption) (Compressor, error) {
	switch kind {
	case "", KindNone:
		return NopCompressor{}, nil
	case KindZstd:
		return NewZstdCompressor(opts...)
	default:
		return nil, merr.WrapErrParameterInvalid(KindNone+"|"+KindZstd, kind, "unknown compression")
	}
}

// NopCompressor 原样返回输入，未开启压缩时使用。
type NopCompressor struct{}

var _ Compressor = NopCompressor{}

func (NopCompressor) Compress(_ []byte, src []byte) ([]byte, error) {
	return src, nil
}

func (NopCompressor) Decompress(_ []byte, src []byte) ([]byte, error) {
	return src, nil
}

func (NopCompressor) Close() {}
