package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	streamSubsystem = "stream"
)

var (
	StreamFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serdeNamespace,
			Subsystem: streamSubsystem,
			Name:      "frames_total",
			Help:      "流上读写的帧数量",
		}, []string{directionLabelName})

	StreamCompressedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serdeNamespace,
			Subsystem: streamSubsystem,
			Name:      "compressed_frames_total",
			Help:      "经过压缩的帧数量",
		}, []string{directionLabelName})

	StreamWireBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serdeNamespace,
			Subsystem: streamSubsystem,
			Name:      "wire_bytes_total",
			Help:      "实际写入或读出底层连接的字节数",
		}, []string{directionLabelName})
)

func registerStreamMetrics(r prometheus.Registerer) {
	r.MustRegister(StreamFrames)
	r.MustRegister(StreamCompressedFrames)
	r.MustRegister(StreamWireBytes)
}
