package serde

// Serializer 抽象了“对象 <-> 字节序列”的编解码能力。
//
// Engine 本身非并发安全；Pool 与 LocalPool 在其之上提供并发安全的同一接口。
type Serializer interface {
	// Marshal 将任意对象编码为字节序列。
	Marshal(v any) ([]byte, error)

	// Unmarshal 将字节序列解码到 v 指向的对象，失败时 v 保持不变。
	Unmarshal(data []byte, v any) error
}

var (
	_ Serializer = (*Pool)(nil)
	_ Serializer = (*LocalPool)(nil)
)
