// Copyright (c) 2019 The Gnet Authors. All rights reserved.
// Copyright (c) 2016 Aliaksandr Valialkin, VertaMedia
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Use of this source code is governed by a MIT license that can be found
// at https://github.com/valyala/bytebufferpool/blob/master/LICENSE

// Package bytebuffer 实现了 buffer.Buffer 的对象池，按归还长度的分布自动校准。
package bytebuffer

import (
	"math/bits"
	"slices"
	"sync"

	"go.uber.org/atomic"

	"github.com/lk2023060901/danmu-garden-serde/pkg/buffer"
)

const (
	smallestClassBits = 6 // 64 字节
	classes           = 20

	recalibrateAfter = 42000
	retainPercentile = 0.95

	// DefaultHardLimit 与流的默认最大帧长一致。
	DefaultHardLimit = 16 << 20
)

// Pool 缓存序列化用的缓冲区。
//
// 每次归还按长度落入一个 2 的幂大小类，累计到一定次数后重新计算：
//   - initial：出现次数最多的大小类，作为新缓冲区的初始容量；
//   - retain：覆盖 95% 归还次数的最大大小类，超过它的缓冲区直接丢弃。
//
// hardLimit 不受校准影响，偶发的超大消息不会把巨型缓冲区留在池中。
type Pool struct {
	hist        [classes]atomic.Uint64
	calibrating atomic.Bool

	initial atomic.Int64
	retain  atomic.Int64

	hardLimit int
	buffers   sync.Pool
}

// NewPool 创建缓冲区池，hardLimit <= 0 表示不设硬上限。
func NewPool(hardLimit int) *Pool {
	return &Pool{hardLimit: hardLimit}
}

var shared = NewPool(DefaultHardLimit)

// Get 从共享池取出一个空缓冲区。
func Get() *buffer.Buffer { return shared.Get() }

// Put 归还到共享池，归还后不允许再访问。
func Put(b *buffer.Buffer) { shared.Put(b) }

func (p *Pool) Get() *buffer.Buffer {
	if v := p.buffers.Get(); v != nil {
		return v.(*buffer.Buffer)
	}
	return buffer.New(int(p.initial.Load()))
}

func (p *Pool) Put(b *buffer.Buffer) {
	if b == nil {
		return
	}
	if p.hist[classOf(b.Len())].Inc() > recalibrateAfter {
		p.calibrate()
	}

	if p.hardLimit > 0 && b.Cap() > p.hardLimit {
		return
	}
	if retain := int(p.retain.Load()); retain > 0 && b.Cap() > retain {
		return
	}
	b.Reset()
	p.buffers.Put(b)
}

type classStat struct {
	count uint64
	size  int64
}

func (p *Pool) calibrate() {
	if !p.calibrating.CompareAndSwap(false, true) {
		return
	}
	defer p.calibrating.Store(false)

	stats := make([]classStat, classes)
	var total uint64
	for i := range stats {
		n := p.hist[i].Swap(0)
		total += n
		stats[i] = classStat{count: n, size: 1 << (smallestClassBits + i)}
	}
	slices.SortStableFunc(stats, func(a, b classStat) int {
		switch {
		case a.count > b.count:
			return -1
		case a.count < b.count:
			return 1
		}
		return 0
	})

	initial := stats[0].size
	retain := initial
	limit := uint64(float64(total) * retainPercentile)
	var covered uint64
	for _, s := range stats {
		if covered > limit {
			break
		}
		covered += s.count
		retain = max(retain, s.size)
	}

	p.initial.Store(initial)
	p.retain.Store(retain)
}

// classOf 返回长度 n 所在的大小类：0 表示不超过 64 字节，之后每类翻倍。
func classOf(n int) int {
	n = (n - 1) >> smallestClassBits
	if n <= 0 {
		return 0
	}
	return min(bits.Len(uint(n)), classes-1)
}
