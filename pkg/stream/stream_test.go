package stream

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/blang/semver/v4"
	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/danmu-garden-serde/pkg/serde"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

type comment struct {
	User    string
	Content string
	Likes   int64
	Tags    []string
}

type gift struct {
	User  string
	Count int32
	Combo *comment
}

type StreamSuite struct {
	suite.Suite
}

func (s *StreamSuite) newEngine(mutate func(cfg *serde.Config)) *serde.Engine {
	cfg := serde.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := serde.NewEngine(serde.WithConfig(cfg))
	s.Require().NoError(err)
	s.T().Cleanup(e.Close)
	return e
}

func (s *StreamSuite) pipe(mutate func(cfg *serde.Config)) (*bytes.Buffer, *Writer, func() *Reader) {
	var stream bytes.Buffer
	w, err := NewWriter(&stream, s.newEngine(mutate))
	s.Require().NoError(err)
	s.T().Cleanup(w.Close)
	readEngine := s.newEngine(mutate)
	return &stream, w, func() *Reader {
		r, err := NewReader(bytes.NewReader(stream.Bytes()), readEngine)
		s.Require().NoError(err)
		s.T().Cleanup(r.Close)
		return r
	}
}

func (s *StreamSuite) TestRoundTrip() {
	_, w, open := s.pipe(nil)
	c := &comment{User: "u1", Content: "hi", Likes: 3, Tags: []string{"a"}}
	s.Require().NoError(w.Write(c))
	s.Require().NoError(w.Write(gift{User: "u2", Count: 9, Combo: c}))
	s.Require().NoError(w.Write("bye"))
	s.Equal(3, w.Frames())

	r := open()
	var c1 *comment
	s.Require().NoError(r.Read(&c1))
	s.Equal(c, c1)
	s.Equal(semver.MustParse(serde.DefaultProtocolVersion), r.RemoteVersion())
	var g gift
	s.Require().NoError(r.Read(&g))
	s.Equal(int32(9), g.Count)
	s.Equal(c, g.Combo)
	var text string
	s.Require().NoError(r.Read(&text))
	s.Equal("bye", text)

	s.ErrorIs(r.Read(&text), io.EOF)
	s.ErrorIs(r.Read(&text), io.EOF)
}

func (s *StreamSuite) TestCompatibleStreamSharesClassDefs() {
	stream, w, open := s.pipe(func(cfg *serde.Config) { cfg.Compatible = true })
	s.Require().NoError(w.Write(comment{User: "a", Content: "first"}))
	first := stream.Len()
	s.Require().NoError(w.Write(comment{User: "a", Content: "first"}))
	second := stream.Len() - first
	s.Less(second, first-len(magic)-1-len(serde.DefaultProtocolVersion))

	r := open()
	for i := 0; i < 2; i++ {
		var out comment
		s.Require().NoError(r.Read(&out))
		s.Equal(comment{User: "a", Content: "first", Tags: []string{}}, normalize(out))
	}
}

func (s *StreamSuite) TestFailedEncodeKeepsStreamUsable() {
	_, w, open := s.pipe(func(cfg *serde.Config) { cfg.Compatible = true })
	s.Require().NoError(w.Write(comment{User: "ok"}))
	s.ErrorIs(w.Write(func() {}), merr.ErrUnsupportedType)
	s.Require().NoError(w.Write(gift{User: "after", Count: 1}))
	s.Equal(2, w.Frames())

	r := open()
	var c comment
	s.Require().NoError(r.Read(&c))
	var g gift
	s.Require().NoError(r.Read(&g))
	s.Equal("after", g.User)
}

func (s *StreamSuite) TestZstdFrames() {
	zstd := func(cfg *serde.Config) {
		cfg.Stream.Compression = serde.CompressionZstd
		cfg.Stream.MinCompressSize = 256
	}
	stream, w, open := s.pipe(zstd)
	big := comment{User: "z", Content: strings.Repeat("弹幕", 2048)}
	s.Require().NoError(w.Write(big))
	s.Less(stream.Len(), len(big.Content))
	s.Require().NoError(w.Write(comment{User: "small"}))

	r := open()
	var out comment
	s.Require().NoError(r.Read(&out))
	s.Equal(big.Content, out.Content)
	s.Require().NoError(r.Read(&out))
	s.Equal("small", out.User)

	// 未开启压缩的读端同样能解压。
	plain, err := NewReader(bytes.NewReader(stream.Bytes()), s.newEngine(nil))
	s.Require().NoError(err)
	defer plain.Close()
	s.Require().NoError(plain.Read(&out))
	s.Equal(big.Content, out.Content)
}

func (s *StreamSuite) TestVersionNegotiation() {
	var stream bytes.Buffer
	w, err := NewWriter(&stream, s.newEngine(func(cfg *serde.Config) { cfg.Stream.ProtocolVersion = "2.1.0" }))
	s.Require().NoError(err)
	defer w.Close()
	s.Require().NoError(w.Write("x"))

	r, err := NewReader(bytes.NewReader(stream.Bytes()), s.newEngine(nil))
	s.Require().NoError(err)
	defer r.Close()
	var out string
	s.ErrorIs(r.Read(&out), merr.ErrStreamVersion)

	same, err := NewReader(bytes.NewReader(stream.Bytes()), s.newEngine(func(cfg *serde.Config) { cfg.Stream.ProtocolVersion = "2.0.3" }))
	s.Require().NoError(err)
	defer same.Close()
	s.Require().NoError(same.Read(&out))
	s.Equal("x", out)

	_, err = NewWriter(&stream, s.newEngine(func(cfg *serde.Config) { cfg.Stream.ProtocolVersion = "v-next" }))
	s.ErrorIs(err, merr.ErrParameterInvalid)
}

func (s *StreamSuite) TestCompatibleVersions() {
	v := semver.MustParse
	s.True(compatible(v("1.0.0"), v("1.4.2")))
	s.False(compatible(v("1.0.0"), v("2.0.0")))
	s.True(compatible(v("0.3.0"), v("0.3.9")))
	s.False(compatible(v("0.3.0"), v("0.4.0")))
}

func (s *StreamSuite) TestMalformedStream() {
	var out string
	r, err := NewReader(strings.NewReader("XXXX\x051.0.0"), s.newEngine(nil))
	s.Require().NoError(err)
	defer r.Close()
	s.ErrorIs(r.Read(&out), merr.ErrMalformedInput)
	s.ErrorIs(r.Read(&out), merr.ErrMalformedInput)

	stream, w, _ := s.pipe(nil)
	s.Require().NoError(w.Write(strings.Repeat("x", 64)))
	truncated := stream.Bytes()[:stream.Len()-3]
	r2, err := NewReader(bytes.NewReader(truncated), s.newEngine(nil))
	s.Require().NoError(err)
	defer r2.Close()
	s.ErrorIs(r2.Read(&out), merr.ErrMalformedInput)
}

func (s *StreamSuite) TestFrameTooLarge() {
	_, w, _ := s.pipe(func(cfg *serde.Config) { cfg.Stream.MaxFrameSize = 32 })
	s.ErrorIs(w.Write(strings.Repeat("x", 64)), merr.ErrFrameTooLarge)
	// 写失败后 Writer 不再可用。
	s.ErrorIs(w.Write("y"), merr.ErrFrameTooLarge)
}

func (s *StreamSuite) TestClosed() {
	_, w, open := s.pipe(nil)
	s.Require().NoError(w.Write("x"))
	w.Close()
	w.Close()
	s.ErrorIs(w.Write("y"), merr.ErrParameterInvalid)

	r := open()
	r.Close()
	var out string
	s.ErrorIs(r.Read(&out), merr.ErrParameterInvalid)
}

func normalize(c comment) comment {
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return c
}

func TestStream(t *testing.T) {
	suite.Run(t, new(StreamSuite))
}
