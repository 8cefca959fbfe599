package stream

import (
	"io"

	"github.com/blang/semver/v4"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-serde/internal/pool/bytebuffer"
	"github.com/lk2023060901/danmu-garden-serde/internal/stream/compressor"
	"github.com/lk2023060901/danmu-garden-serde/internal/stream/framer"
	"github.com/lk2023060901/danmu-garden-serde/pkg/buffer"
	"github.com/lk2023060901/danmu-garden-serde/pkg/log"
	"github.com/lk2023060901/danmu-garden-serde/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-serde/pkg/serde"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// Writer 把值逐条编码为帧写入 w。Writer 独占使用 engine 期间不可并发调用。
type Writer struct {
	log.Binder

	w           io.Writer
	engine      *serde.Engine
	framer      *framer.LengthPrefixedFramer
	comp        compressor.Compressor
	minCompress int
	version     semver.Version
	meta        *serde.MetaContext

	buf     *buffer.Buffer
	scratch []byte
	started bool
	frames  int
	err     error
}

// NewWriter 按 engine 的 Stream 配置创建 Writer。前导块在第一次 Write 时写出。
func NewWriter(w io.Writer, engine *serde.Engine) (*Writer, error) {
	cfg := engine.Config().Stream
	version, err := parseVersion(cfg.ProtocolVersion)
	if err != nil {
		return nil, err
	}
	comp, err := compressor.New(cfg.Compression)
	if err != nil {
		return nil, err
	}
	sw := &Writer{
		w:           w,
		engine:      engine,
		framer:      framer.NewLengthPrefixedFramer(cfg.MaxFrameSize),
		comp:        comp,
		minCompress: cfg.MinCompressSize,
		version:     version,
		buf:         bytebuffer.Get(),
	}
	if engine.Config().Compatible {
		sw.meta = serde.NewMetaContext()
	}
	sw.Bind("serde-stream-writer", zap.String("version", version.String()))
	return sw, nil
}

// Write 编码 v 并写出一帧。编码失败不影响后续写入；底层写失败后 Writer 不再可用。
func (sw *Writer) Write(v any) error {
	if sw.err != nil {
		return sw.err
	}
	if !sw.started {
		n, err := writePreamble(sw.w, sw.version)
		if err != nil {
			sw.err = err
			return err
		}
		sw.started = true
		metrics.StreamWireBytes.WithLabelValues(metrics.DirectionEncode).Add(float64(n))
	}

	sw.buf.Reset()
	sw.engine.BindMetaContext(sw.meta)
	err := sw.engine.MarshalTo(sw.buf, v)
	sw.engine.BindMetaContext(nil)
	if err != nil {
		return err
	}

	payload, flags, err := sw.compress(sw.buf.Bytes())
	if err != nil {
		sw.err = err
		return err
	}
	n, err := sw.framer.WriteFrame(sw.w, flags, payload)
	if err != nil {
		// 写端 MetaContext 已经提交，读端无法再对齐。
		sw.err = err
		sw.Logger().Warn("stream write failed", zap.Int("frames", sw.frames), zap.Error(err))
		return err
	}
	sw.frames++
	metrics.StreamFrames.WithLabelValues(metrics.DirectionEncode).Inc()
	metrics.StreamWireBytes.WithLabelValues(metrics.DirectionEncode).Add(float64(n))
	if flags&framer.FlagCompressed != 0 {
		metrics.StreamCompressedFrames.WithLabelValues(metrics.DirectionEncode).Inc()
	}
	return nil
}

func (sw *Writer) compress(raw []byte) ([]byte, byte, error) {
	if _, nop := sw.comp.(compressor.NopCompressor); nop || len(raw) < sw.minCompress {
		return raw, 0, nil
	}
	packed, err := sw.comp.Compress(sw.scratch, raw)
	if err != nil {
		return nil, 0, merr.WrapErrStreamCompression(err)
	}
	sw.scratch = packed
	if len(packed) >= len(raw) {
		return raw, 0, nil
	}
	return packed, framer.FlagCompressed, nil
}

// Frames 返回已写出的帧数。
func (sw *Writer) Frames() int {
	return sw.frames
}

// Close 释放 Writer 持有的缓冲区与压缩器，不关闭底层 io.Writer。
func (sw *Writer) Close() {
	if sw.buf == nil {
		return
	}
	bytebuffer.Put(sw.buf)
	sw.buf = nil
	sw.comp.Close()
	if sw.err == nil {
		sw.err = merr.WrapErrParameterInvalidMsg("stream writer closed")
	}
}
