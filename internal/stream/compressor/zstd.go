package compressor

import (
	"runtime"

	"github.com/klauspost/compress/zstd"
)

type zstdOptions struct {
	concurrency int
	level       zstd.EncoderLevel
	maxDecoded  uint64
}

// ZstdOption 调整 ZstdCompressor 的参数。
type ZstdOption func(*zstdOptions)

// WithConcurrency 设置 encoder/decoder 的并发度，<= 0 时使用 GOMAXPROCS。
func WithConcurrency(n int) ZstdOption {
	return func(o *zstdOptions) { o.concurrency = n }
}

func WithLevel(level zstd.EncoderLevel) ZstdOption {
	return func(o *zstdOptions) { o.level = level }
}

// WithMaxDecodedSize 限制单帧解压后的大小，防止小帧解压出超大消息。
func WithMaxDecodedSize(n uint32) ZstdOption {
	return func(o *zstdOptions) { o.maxDecoded = uint64(n) }
}

// ZstdCompressor 用于整帧压缩，EncodeAll 与 DecodeAll 可以并发调用。
type ZstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

var _ Compressor = (*ZstdCompressor)(nil)

func NewZstdCompressor(opts ...ZstdOption) (*ZstdCompressor, error) {
	o := zstdOptions{level: zstd.SpeedDefault}
	for _, opt := range opts {
		opt(&o)
	}
	if o.concurrency <= 0 {
		o.concurrency = runtime.GOMAXPROCS(0)
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithZeroFrames(true),
		zstd.WithEncoderLevel(o.level),
		zstd.WithEncoderConcurrency(o.concurrency),
	)
	if err != nil {
		return nil, err
	}
	decOpts := []zstd.DOption{zstd.WithDecoderConcurrency(o.concurrency)}
	if o.maxDecoded > 0 {
		decOpts = append(decOpts, zstd.WithDecoderMaxMemory(o.maxDecoded))
	}
	dec, err := zstd.NewReader(nil, decOpts...)
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	return &ZstdCompressor{enc: enc, dec: dec}, nil
}

func (c *ZstdCompressor) Compress(dst, src []byte) ([]byte, error) {
	if c.enc == nil {
		return nil, zstd.ErrEncoderClosed
	}
	return c.enc.EncodeAll(src, dst[:0]), nil
}

func (c *ZstdCompressor) Decompress(dst, src []byte) ([]byte, error) {
	if c.dec == nil {
		return nil, zstd.ErrDecoderClosed
	}
	return c.dec.DecodeAll(src, dst[:0])
}

// Close 可以重复调用。
func (c *ZstdCompressor) Close() {
	if c.enc != nil {
		_ = c.enc.Close()
		c.enc = nil
	}
	if c.dec != nil {
		c.dec.Close()
		c.dec = nil
	}
}
