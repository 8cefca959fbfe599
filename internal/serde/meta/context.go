// Package meta 实现类结构定义（ClassDef）的会话级共享。
//
// 写端在一个 MetaContext 中第一次编码某个类型时写出完整的 ClassDef 并分配编号，
// 之后只写编号；读端按相同顺序缓存收到的 ClassDef。
// 两端的定义数量与会话指纹随每条消息校验，任何一端被替换或重置而另一端未同步时，
// 解码返回 MetaContextMismatch，而不是用错位的编号继续解码。
package meta

import (
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/lk2023060901/danmu-garden-serde/internal/serde/types"
	"github.com/lk2023060901/danmu-garden-serde/pkg/buffer"
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/merr"
)

// maxDefs 限制一个会话中可以定义的 ClassDef 数量。
const maxDefs = 1 << 16

// MetaContext 保存一个通信会话中已经交换过的 ClassDef。
//
// 写端定义先进入暂存区，编码成功后 Commit 转正，失败时 Rollback 丢弃，
// 保证对端从未见过的定义不会被后续消息以编号引用。
// 读端收到的定义立即生效，不回滚：写端只有在整条消息编码成功后才会提交。
type MetaContext struct {
	mu sync.Mutex

	id          uuid.UUID
	fingerprint uint32

	writeIndex map[uint64]int
	writeDefs  []*ClassDef
	staged     int

	readDefs    []*ClassDef
	peer        uint32
	peerAdopted bool
}

func NewMetaContext() *MetaContext {
	c := &MetaContext{writeIndex: make(map[uint64]int)}
	c.resetID()
	return c
}

func (c *MetaContext) resetID() {
	c.id = uuid.New()
	c.fingerprint = uint32(xxhash.Sum64(c.id[:]))
}

// ID 返回会话标识，Reset 后改变。
func (c *MetaContext) ID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Fingerprint 返回写端会话指纹。
func (c *MetaContext) Fingerprint() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fingerprint
}

// DefineOrLookup 返回 def 在写端的编号，isNew 表示本次新分配、需要随消息写出。
func (c *MetaContext) DefineOrLookup(def *ClassDef) (id int, isNew bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.writeIndex[def.Hash()]; ok {
		return id, false
	}
	id = len(c.writeDefs)
	c.writeIndex[def.Hash()] = id
	c.writeDefs = append(c.writeDefs, def)
	c.staged++
	return id, true
}

// WriteIfNew 在结构体位置写出 varuint(id<<1|isNew)，新定义随后紧跟完整的 ClassDef。
func (c *MetaContext) WriteIfNew(buf *buffer.Buffer, names types.NameWriter, def *ClassDef) (id int, isNew bool) {
	id, isNew = c.DefineOrLookup(def)
	header := uint32(id) << 1
	if isNew {
		header |= 1
	}
	buf.WriteVarUint32(header)
	if isNew {
		def.Encode(buf, names)
	}
	return id, isNew
}

// Commit 使暂存的写端定义转正。
func (c *MetaContext) Commit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staged = 0
}

// Rollback 丢弃本次消息暂存的写端定义。
func (c *MetaContext) Rollback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.staged == 0 {
		return
	}
	keep := len(c.writeDefs) - c.staged
	for _, def := range c.writeDefs[keep:] {
		delete(c.writeIndex, def.Hash())
	}
	clear(c.writeDefs[keep:])
	c.writeDefs = c.writeDefs[:keep]
	c.staged = 0
}

// WrittenDefs 返回已提交的写端定义数量。
func (c *MetaContext) WrittenDefs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writeDefs) - c.staged
}

// ReadDefs 返回读端已缓存的定义数量。
func (c *MetaContext) ReadDefs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.readDefs)
}

// WriteHeader 写出消息级的会话头：varuint 已提交定义数 + uint32 会话指纹。
func (c *MetaContext) WriteHeader(buf *buffer.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf.WriteVarUint32(uint32(len(c.writeDefs) - c.staged))
	buf.WriteUint32(c.fingerprint)
}

// ReadHeader 校验对端的会话头。
//
// 对端宣称的定义数必须与本端已缓存的数量一致；对端宣称 0 个定义时视为新会话，
// 本端必须同样为空，并记下对端指纹，之后的消息指纹必须保持不变。
func (c *MetaContext) ReadHeader(buf *buffer.Buffer) error {
	known := buf.ReadVarUint32()
	fp := buf.ReadUint32()
	if err := buf.Err(); err != nil {
		return merr.WrapErrMalformedInput("truncated meta header", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if known == 0 {
		if len(c.readDefs) != 0 {
			return merr.WrapErrMetaContextMismatch(fp, "peer started a new meta session but "+strconv.Itoa(len(c.readDefs))+" defs are cached locally")
		}
		c.peer = fp
		c.peerAdopted = true
		return nil
	}
	if !c.peerAdopted || c.peer != fp {
		return merr.WrapErrMetaContextMismatch(fp, "meta session fingerprint changed")
	}
	if int(known) != len(c.readDefs) {
		return merr.WrapErrMetaContextMismatch(fp, "peer knows "+strconv.Itoa(int(known))+" defs, local cache has "+strconv.Itoa(len(c.readDefs)))
	}
	return nil
}

// AddReadDef 缓存对端新定义的 ClassDef，编号必须紧接已缓存的定义。
func (c *MetaContext) AddReadDef(id int, def *ClassDef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != len(c.readDefs) {
		return merr.WrapErrMetaContextMismatch(id, "unexpected new def id, expected "+strconv.Itoa(len(c.readDefs)))
	}
	if id >= maxDefs {
		return merr.WrapErrMalformedInput("too many class defs in one meta session")
	}
	c.readDefs = append(c.readDefs, def)
	return nil
}

// ReadDef 返回读端编号为 id 的定义。
func (c *MetaContext) ReadDef(id int) (*ClassDef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id < 0 || id >= len(c.readDefs) {
		return nil, merr.WrapErrMetaContextMismatch(id, "class def id not defined in this meta session")
	}
	return c.readDefs[id], nil
}

// ReadClassDef 读取结构体位置上的定义头，新定义会被解码并缓存。
func (c *MetaContext) ReadClassDef(buf *buffer.Buffer, names types.NameReader) (*ClassDef, error) {
	header := buf.ReadVarUint32()
	if err := buf.Err(); err != nil {
		return nil, merr.WrapErrMalformedInput("truncated class def header", err)
	}
	id := int(header >> 1)
	if header&1 == 0 {
		return c.ReadDef(id)
	}
	def, err := DecodeClassDef(buf, names)
	if err != nil {
		return nil, err
	}
	if err := c.AddReadDef(id, def); err != nil {
		return nil, err
	}
	return def, nil
}

// Reset 清空两端状态并更换会话标识，通信双方需要同时重置。
func (c *MetaContext) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearDefs()
	c.resetID()
}

// Clear 清空两端的定义但保留会话标识，用于不写会话头的临时作用域。
func (c *MetaContext) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearDefs()
}

func (c *MetaContext) clearDefs() {
	clear(c.writeIndex)
	clear(c.writeDefs)
	c.writeDefs = c.writeDefs[:0]
	c.staged = 0
	clear(c.readDefs)
	c.readDefs = c.readDefs[:0]
	c.peer = 0
	c.peerAdopted = false
}
