package serde

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/danmu-garden-serde/pkg/buffer"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

type EngineSuite struct {
	suite.Suite
	engine *Engine
}

func (s *EngineSuite) SetupTest() {
	e, err := NewEngine()
	s.Require().NoError(err)
	s.engine = e
}

func (s *EngineSuite) TearDownTest() {
	s.engine.Close()
}

func (s *EngineSuite) roundTrip(in any, out any) {
	data, err := s.engine.Marshal(in)
	s.Require().NoError(err)
	s.Require().NoError(s.engine.Unmarshal(data, out))
}

func (s *EngineSuite) TestPrimitivesAtRoot() {
	var i int
	s.roundTrip(-42, &i)
	s.Equal(-42, i)

	var str string
	s.roundTrip("hello", &str)
	s.Equal("hello", str)

	var f float64
	s.roundTrip(math.Pi, &f)
	s.Equal(math.Pi, f)

	var u uint64
	s.roundTrip(uint64(math.MaxUint64), &u)
	s.Equal(uint64(math.MaxUint64), u)

	var b []byte
	s.roundTrip([]byte{1, 2, 3}, &b)
	s.Equal([]byte{1, 2, 3}, b)
}

func (s *EngineSuite) TestCycleRoundTrip() {
	a := &node{Name: "a"}
	b := &node{Name: "b", Next: a}
	a.Next = b
	a.Peers = []*node{a, b}

	data, err := s.engine.Marshal(a)
	s.Require().NoError(err)
	// a 出现 3 次，b 出现 2 次，每个对象只写一次，其余都是回引。
	s.Equal(3, s.engine.BackRefs())

	d, err := NewEngine()
	s.Require().NoError(err)
	defer d.Close()

	var out *node
	s.Require().NoError(d.Unmarshal(data, &out))
	s.Require().NotNil(out)
	s.Equal("a", out.Name)
	s.Equal("b", out.Next.Name)
	s.Same(out, out.Next.Next)
	s.Require().Len(out.Peers, 2)
	s.Same(out, out.Peers[0])
	s.Same(out.Next, out.Peers[1])
	s.Nil(out.Next.Peers)
}

func (s *EngineSuite) TestSelfReference() {
	a := &node{Name: "self"}
	a.Next = a

	var out *node
	s.roundTrip(a, &out)
	s.Same(out, out.Next)
}

func (s *EngineSuite) TestSharedObjectWithoutRefTracking() {
	e, err := NewEngine(WithRefTracking(false))
	s.Require().NoError(err)
	defer e.Close()

	shared := &node{Name: "shared"}
	root := &node{Name: "root", Peers: []*node{shared, shared}}
	data, err := e.Marshal(root)
	s.Require().NoError(err)
	s.Equal(0, e.BackRefs())

	var out *node
	s.Require().NoError(e.Unmarshal(data, &out))
	s.Require().Len(out.Peers, 2)
	s.Equal("shared", out.Peers[0].Name)
	s.Equal("shared", out.Peers[1].Name)
	s.NotSame(out.Peers[0], out.Peers[1])
}

func (s *EngineSuite) TestCycleWithoutRefTrackingHitsMaxDepth() {
	e, err := NewEngine(WithRefTracking(false), WithMaxDepth(16))
	s.Require().NoError(err)
	defer e.Close()

	a := &node{Name: "a"}
	a.Next = a
	_, err = e.Marshal(a)
	s.ErrorIs(err, merr.ErrMaxDepthExceeded)
}

func (s *EngineSuite) TestMaxDepth() {
	e, err := NewEngine(WithMaxDepth(8))
	s.Require().NoError(err)
	defer e.Close()

	var head *node
	for i := 0; i < 20; i++ {
		head = &node{Name: "n", Next: head}
	}
	_, err = e.Marshal(head)
	s.ErrorIs(err, merr.ErrMaxDepthExceeded)

	short := &node{Name: "a", Next: &node{Name: "b"}}
	_, err = e.Marshal(short)
	s.NoError(err)
}

func (s *EngineSuite) TestNestedGenerics() {
	ratio := 0.5
	in := nested{
		Matrix:    [][]int32{{1, 2}, {}, nil, {-3}},
		Index:     map[string][]string{"a": {"x", "y"}, "b": nil},
		Deep:      map[string]map[int64]string{"outer": {1: "one", -2: "minus two"}, "empty": {}},
		Grid:      [2][3]uint16{{1, 2, 3}, {4, 5, 6}},
		Points:    []point{{1, 2}, {3, 4}},
		PtrPoints: []*point{{5, 6}, nil},
		ByName:    map[string]*point{"origin": {}},
		Times:     []time.Time{time.Unix(1700000000, 123).UTC(), {}},
		Blob:      []byte("blob"),
		Flags:     []bool{true, false},
		Color:     color(7),
		Ratio:     &ratio,
	}
	var out nested
	s.roundTrip(in, &out)
	s.Equal(in, out)
	s.Equal(0, s.engine.generics.Len())
}

func (s *EngineSuite) TestInterfaceValues() {
	in := holder{
		Label: "mixed",
		Any:   map[string]any{"n": 1, "s": "two", "l": []any{int64(3), true}},
		List:  []any{1, "x", nil, point{1, 2}, &point{3, 4}, color(2), []byte{9}},
	}
	var out holder
	s.roundTrip(in, &out)
	s.Equal(in, out)
}

func (s *EngineSuite) TestSharedMapInInterfaces() {
	m := map[string]any{"k": "v"}
	in := holder{Any: m, List: []any{m}}
	var out holder
	s.roundTrip(in, &out)

	got, ok := out.Any.(map[string]any)
	s.Require().True(ok)
	got["added"] = true
	s.Equal(true, out.List[0].(map[string]any)["added"])
}

func (s *EngineSuite) TestTypedNilInInterfaceDecodesAsNil() {
	in := holder{Any: (*point)(nil)}
	out := holder{Any: "stale"}
	s.roundTrip(in, &out)
	s.Nil(out.Any)
}

func (s *EngineSuite) TestEmbeddedAndTags() {
	in := derived{
		base:    base{ID: 9, Created: time.Unix(10, 0).UTC()},
		Title:   "t",
		Ignored: "dropped",
		Renamed: "kept",
		secret:  "hidden",
	}
	var out derived
	s.roundTrip(in, &out)
	s.Equal(int64(9), out.ID)
	s.Equal(in.Created, out.Created)
	s.Equal("t", out.Title)
	s.Equal("kept", out.Renamed)
	s.Empty(out.Ignored)
	s.Empty(out.secret)

	layout, err := s.engine.layoutFor(reflect.TypeFor[derived]())
	s.Require().NoError(err)
	var names []string
	for _, f := range layout.def.Fields {
		names = append(names, f.Name)
	}
	s.ElementsMatch([]string{"ID", "Created", "Title", "alias"}, names)
}

func (s *EngineSuite) TestZeroTime() {
	var out time.Time
	s.roundTrip(time.Time{}, &out)
	s.True(out.IsZero())
}

func (s *EngineSuite) TestRootConversions() {
	// 写端为指针，读端为值。
	var p point
	s.roundTrip(&point{1, 2}, &p)
	s.Equal(point{1, 2}, p)

	// 写端为值，读端为指针。
	var pp *point
	s.roundTrip(point{3, 4}, &pp)
	s.Equal(&point{3, 4}, pp)

	// 读端为接口。
	var a any
	s.roundTrip(point{5, 6}, &a)
	s.Equal(point{5, 6}, a)

	var nilOut *point
	s.roundTrip(nil, &nilOut)
	s.Nil(nilOut)
}

func (s *EngineSuite) TestTypeMismatchAtRoot() {
	data, err := s.engine.Marshal(point{1, 2})
	s.Require().NoError(err)
	var str string
	s.ErrorIs(s.engine.Unmarshal(data, &str), merr.ErrMalformedInput)
}

func (s *EngineSuite) TestFailedDecodeLeavesTargetUntouched() {
	type message struct {
		Data string
	}
	data, err := s.engine.Marshal(message{Data: "hello"})
	s.Require().NoError(err)

	out := message{Data: "previous"}
	err = s.engine.Unmarshal(data[:len(data)-1], &out)
	s.ErrorIs(err, merr.ErrMalformedInput)
	s.Equal("previous", out.Data)

	// 引擎在失败后仍可继续使用。
	s.Require().NoError(s.engine.Unmarshal(data, &out))
	s.Equal("hello", out.Data)
}

func (s *EngineSuite) TestZeroSizeElementCountIsBounded() {
	type emptyRows struct {
		Rows [][0]int32
	}
	in := emptyRows{Rows: make([][0]int32, 1000)}
	data, err := s.engine.Marshal(in)
	s.Require().NoError(err)
	var out emptyRows
	s.Require().NoError(s.engine.Unmarshal(data, &out))
	s.Len(out.Rows, 1000)

	data, err = s.engine.Marshal(emptyRows{Rows: make([][0]int32, 3)})
	s.Require().NoError(err)
	s.Require().Equal(byte(3), data[len(data)-1])
	crafted := append(data[:len(data)-1:len(data)-1], 0xff, 0xff, 0xff, 0xff, 0x0f)
	s.ErrorIs(s.engine.Unmarshal(crafted, &out), merr.ErrMalformedInput)
	s.Len(out.Rows, 1000)
}

func (s *EngineSuite) TestInvalidTarget() {
	data, err := s.engine.Marshal(1)
	s.Require().NoError(err)
	var i int
	s.ErrorIs(s.engine.Unmarshal(data, i), merr.ErrParameterInvalid)
	s.ErrorIs(s.engine.Unmarshal(data, nil), merr.ErrParameterInvalid)
}

func (s *EngineSuite) TestHeaderMismatch() {
	data, err := s.engine.Marshal(point{1, 2})
	s.Require().NoError(err)

	e, err := NewEngine(WithRefTracking(false))
	s.Require().NoError(err)
	defer e.Close()
	var p point
	s.ErrorIs(e.Unmarshal(data, &p), merr.ErrMalformedInput)

	s.ErrorIs(s.engine.Unmarshal(nil, &p), merr.ErrMalformedInput)
}

func (s *EngineSuite) TestUncompressedNumbers() {
	e, err := NewEngine(WithCompressNumber(false))
	s.Require().NoError(err)
	defer e.Close()

	in := nested{Matrix: [][]int32{{math.MinInt32, math.MaxInt32}}, Color: -1}
	data, err := e.Marshal(in)
	s.Require().NoError(err)
	var out nested
	s.Require().NoError(e.Unmarshal(data, &out))
	s.Equal(in.Matrix, out.Matrix)
	s.Equal(color(-1), out.Color)

	// 两种数值编码互不兼容，消息头会拒绝。
	s.ErrorIs(s.engine.Unmarshal(data, &out), merr.ErrMalformedInput)
}

func (s *EngineSuite) TestUnsupportedType() {
	type withChan struct {
		C chan int
	}
	_, err := s.engine.Marshal(withChan{})
	s.ErrorIs(err, merr.ErrUnsupportedType)

	_, err = s.engine.Marshal(holder{Any: make(chan int)})
	s.ErrorIs(err, merr.ErrUnsupportedType)

	// 失败后缓存被重置，正常类型不受影响。
	var p point
	s.roundTrip(point{1, 1}, &p)
	s.Equal(point{1, 1}, p)
}

func (s *EngineSuite) TestMarshalToAndUnmarshalFrom() {
	buf := buffer.New(0)
	s.Require().NoError(s.engine.MarshalTo(buf, point{1, 2}))
	s.Require().NoError(s.engine.MarshalTo(buf, "second"))

	r := buffer.Wrap(buf.Bytes())
	var p point
	var str string
	s.Require().NoError(s.engine.UnmarshalFrom(r, &p))
	s.Require().NoError(s.engine.UnmarshalFrom(r, &str))
	s.Equal(point{1, 2}, p)
	s.Equal("second", str)
	s.Equal(0, r.Remaining())
}

func (s *EngineSuite) TestMarshalResultIsDetached() {
	first, err := s.engine.Marshal("first")
	s.Require().NoError(err)
	snapshot := append([]byte(nil), first...)
	_, err = s.engine.Marshal("second value that overwrites the buffer")
	s.Require().NoError(err)
	s.Equal(snapshot, first)
}

func (s *EngineSuite) TestClosedEngine() {
	e, err := NewEngine()
	s.Require().NoError(err)
	e.Close()
	_, err = e.Marshal(1)
	s.ErrorIs(err, merr.ErrCodecContextReleased)
}

func TestEngine(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}
