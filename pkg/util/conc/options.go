// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conc

import (
	ants "github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-serde/pkg/log"
)

type poolOption struct {
	preAlloc     bool
	concealPanic bool
	preHandler   func()
	logger       *log.MLogger
}

func defaultPoolOption() *poolOption {
	return &poolOption{concealPanic: true}
}

// antsOptions 中的 panic 处理只在 concealPanic 关闭、任务 panic 穿透时触发。
func (opt *poolOption) antsOptions() []ants.Option {
	logger := opt.logger
	if logger == nil {
		logger = log.With(log.FieldComponent("conc-pool"))
	}
	return []ants.Option{
		ants.WithPreAlloc(opt.preAlloc),
		ants.WithPanicHandler(func(v any) {
			logger.Error("worker panicked", zap.Any("panic", v), zap.Stack("stack"))
		}),
	}
}

type PoolOption func(opt *poolOption)

func WithPreAlloc(v bool) PoolOption {
	return func(opt *poolOption) {
		opt.preAlloc = v
	}
}

// WithConcealPanic 为 true 时任务 panic 转为 Future 的错误，默认开启。
func WithConcealPanic(v bool) PoolOption {
	return func(opt *poolOption) {
		opt.concealPanic = v
	}
}

// WithPreHandler 在每个任务执行前调用 fn。
func WithPreHandler(fn func()) PoolOption {
	return func(opt *poolOption) {
		opt.preHandler = fn
	}
}

func WithLogger(logger *log.MLogger) PoolOption {
	return func(opt *poolOption) {
		opt.logger = logger
	}
}
