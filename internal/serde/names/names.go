// Package names 实现会话内名称字符串的字典压缩。
//
// 每个名称编码为 varuint h：
//   - h&1 == 1：回引，h>>1 为此前出现过的字典下标；
//   - h&1 == 0：新字符串，h>>1 为随后的 UTF-8 字节数，并分配下一个字典下标。
//
// 同一会话中第二次及之后出现的命名空间或类型名只占 O(1) 字节。
package names

import (
	"strconv"

	"github.com/lk2023060901/danmu-garden-serde/internal/serde/types"
	"github.com/lk2023060901/danmu-garden-serde/pkg/buffer"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// maxNameLength 限制单个名称的长度。
const maxNameLength = 1 << 16

// Writer 是写端字典，一次编码调用内有效。
type Writer struct {
	index map[string]int
}

var _ types.NameWriter = (*Writer)(nil)

func NewWriter() *Writer {
	return &Writer{index: make(map[string]int)}
}

// WriteName 写出 s，已出现过的字符串只写字典下标。
func (w *Writer) WriteName(buf *buffer.Buffer, s string) {
	if idx, ok := w.index[s]; ok {
		buf.WriteVarUint32(uint32(idx)<<1 | 1)
		return
	}
	w.index[s] = len(w.index)
	buf.WriteVarUint32(uint32(len(s)) << 1)
	buf.WriteBinary([]byte(s))
}

// Len 返回字典中的字符串数量。
func (w *Writer) Len() int {
	return len(w.index)
}

func (w *Writer) Reset() {
	clear(w.index)
}

// Reader 是读端字典。
type Reader struct {
	table []string
}

var _ types.NameReader = (*Reader)(nil)

func NewReader() *Reader {
	return &Reader{}
}

// ReadName 读取一个名称，回引越界或数据截断时返回 MalformedInput。
func (r *Reader) ReadName(buf *buffer.Buffer) (string, error) {
	h := buf.ReadVarUint32()
	if err := buf.Err(); err != nil {
		return "", merr.WrapErrMalformedInput("truncated name header", err)
	}
	if h&1 == 1 {
		idx := int(h >> 1)
		if idx >= len(r.table) {
			return "", merr.WrapErrMalformedInput("name reference " + strconv.Itoa(idx) + " out of range")
		}
		return r.table[idx], nil
	}
	n := int(h >> 1)
	if n > maxNameLength {
		return "", merr.WrapErrMalformedInput("name too long")
	}
	b := buf.ReadBinary(n)
	if err := buf.Err(); err != nil {
		return "", merr.WrapErrMalformedInput("truncated name", err)
	}
	s := string(b)
	r.table = append(r.table, s)
	return s, nil
}

func (r *Reader) Reset() {
	r.table = r.table[:0]
}
