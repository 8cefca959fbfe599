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

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// serdeNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	serdeNamespace = "serde"

	poolSubsystem   = "pool"
	engineSubsystem = "engine"

	poolNameLabelName  = "pool_name"
	kindLabelName      = "kind"
	directionLabelName = "direction"

	DirectionEncode = "encode"
	DirectionDecode = "decode"
)

var (
	// buckets 为耗时直方图的桶划分，单位为毫秒。
	// [1 2 4 8 16 32 64 128 256 512 1024 2048 4096 8192 16384 32768]
	buckets = prometheus.ExponentialBuckets(1, 2, 16)

	// sizeBuckets 为消息大小的桶划分，单位为字节。
	sizeBuckets = prometheus.ExponentialBuckets(64, 4, 10)

	PoolInstances = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: serdeNamespace,
			Subsystem: poolSubsystem,
			Name:      "instances",
			Help:      "已创建的引擎实例数量",
		}, []string{poolNameLabelName})

	PoolCheckedOut = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: serdeNamespace,
			Subsystem: poolSubsystem,
			Name:      "checked_out",
			Help:      "当前被借出的引擎实例数量",
		}, []string{poolNameLabelName})

	PoolCheckoutWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: serdeNamespace,
			Subsystem: poolSubsystem,
			Name:      "checkout_wait_ms",
			Help:      "借出引擎实例的等待耗时（毫秒）",
			Buckets:   buckets,
		}, []string{poolNameLabelName})

	EncodedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: serdeNamespace,
			Subsystem: engineSubsystem,
			Name:      "encoded_bytes_total",
			Help:      "编码输出的总字节数",
		})

	MessageSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: serdeNamespace,
			Subsystem: engineSubsystem,
			Name:      "message_size_bytes",
			Help:      "单条消息的字节数",
			Buckets:   sizeBuckets,
		}, []string{directionLabelName})

	DecodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serdeNamespace,
			Subsystem: engineSubsystem,
			Name:      "decode_failures_total",
			Help:      "按错误种类统计的解码失败次数",
		}, []string{kindLabelName})

	ClassDefsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: serdeNamespace,
			Subsystem: engineSubsystem,
			Name:      "class_defs_written_total",
			Help:      "写入消息中的新 ClassDef 数量",
		})

	metricRegisterer prometheus.Registerer
	registerOnce     sync.Once
)

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 注册当前定义的所有指标，只有第一次调用生效。
func Register(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(PoolInstances)
		r.MustRegister(PoolCheckedOut)
		r.MustRegister(PoolCheckoutWait)
		r.MustRegister(EncodedBytes)
		r.MustRegister(MessageSize)
		r.MustRegister(DecodeFailures)
		r.MustRegister(ClassDefsWritten)
		registerStreamMetrics(r)
		metricRegisterer = r
	})
}
