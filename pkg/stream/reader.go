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

// Reader 从 r 中逐帧读取 Writer 写出的值。
type Reader struct {
	log.Binder

	r       io.Reader
	engine  *serde.Engine
	framer  *framer.LengthPrefixedFramer
	comp    compressor.Compressor
	local   semver.Version
	remote  semver.Version
	meta    *serde.MetaContext
	started bool

	frame   *buffer.Buffer
	scratch []byte
	err     error
}

// NewReader 按 engine 的 Stream 配置创建 Reader。压缩帧总是可以解压，与本端是否开启压缩无关。
func NewReader(r io.Reader, engine *serde.Engine) (*Reader, error) {
	cfg := engine.Config().Stream
	local, err := parseVersion(cfg.ProtocolVersion)
	if err != nil {
		return nil, err
	}
	comp, err := compressor.New(compressor.KindZstd, compressor.WithMaxDecodedSize(cfg.MaxFrameSize))
	if err != nil {
		return nil, err
	}
	sr := &Reader{
		r:      r,
		engine: engine,
		framer: framer.NewLengthPrefixedFramer(cfg.MaxFrameSize),
		comp:   comp,
		local:  local,
		frame:  bytebuffer.Get(),
	}
	if engine.Config().Compatible {
		sr.meta = serde.NewMetaContext()
	}
	sr.Bind("serde-stream-reader", zap.String("version", local.String()))
	return sr, nil
}

// RemoteVersion 返回对端的协议版本，第一次 Read 之前为零值。
func (sr *Reader) RemoteVersion() semver.Version {
	return sr.remote
}

// Read 读取下一条消息到 v。流正常结束时返回 io.EOF。
func (sr *Reader) Read(v any) error {
	if sr.err != nil {
		return sr.err
	}
	if !sr.started {
		remote, n, err := readPreamble(sr.r, sr.local)
		if err != nil {
			sr.err = err
			return err
		}
		sr.remote = remote
		sr.started = true
		metrics.StreamWireBytes.WithLabelValues(metrics.DirectionDecode).Add(float64(n))
		sr.Logger().Debug("stream opened", zap.String("remote", remote.String()))
	}

	flags, err := sr.framer.ReadFrame(sr.r, sr.frame)
	if err != nil {
		sr.err = err
		return err
	}
	metrics.StreamFrames.WithLabelValues(metrics.DirectionDecode).Inc()
	metrics.StreamWireBytes.WithLabelValues(metrics.DirectionDecode).Add(float64(sr.frame.Len() + 4))

	payload := sr.frame.ReadBinary(sr.frame.Remaining())
	if flags&framer.FlagCompressed != 0 {
		plain, err := sr.comp.Decompress(sr.scratch, payload)
		if err != nil {
			sr.err = merr.WrapErrStreamCompression(err)
			return sr.err
		}
		sr.scratch = plain
		payload = plain
		metrics.StreamCompressedFrames.WithLabelValues(metrics.DirectionDecode).Inc()
	}

	sr.engine.BindMetaContext(sr.meta)
	err = sr.engine.Unmarshal(payload, v)
	sr.engine.BindMetaContext(nil)
	if err != nil && sr.meta != nil {
		// 未读完的 ClassDef 会让后续消息的 MetaContext 错位。
		sr.err = err
	}
	return err
}

// Close 释放 Reader 持有的缓冲区与解压器，不关闭底层 io.Reader。
func (sr *Reader) Close() {
	if sr.frame == nil {
		return
	}
	bytebuffer.Put(sr.frame)
	sr.frame = nil
	sr.comp.Close()
	if sr.err == nil {
		sr.err = merr.WrapErrParameterInvalidMsg("stream reader closed")
	}
}
