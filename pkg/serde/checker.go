package serde

import (
	"github.com/lk2023060901/danmu-garden-serde/pkg/util/typeutil"
)

// ClassChecker 决定一个限定名（"namespace.Name"）的类型是否允许参与编解码。
// 每次解析用户类型时都会询问，结果不缓存，因此名单的修改立即生效。
type ClassChecker interface {
	Allow(qualifiedName string) bool
}

// ClassCheckerFunc 把普通函数适配为 ClassChecker。
type ClassCheckerFunc func(qualifiedName string) bool

func (f ClassCheckerFunc) Allow(qualifiedName string) bool {
	return f(qualifiedName)
}

// AllowListChecker 只放行名单中的类型，名单可以在运行期并发修改。
type AllowListChecker struct {
	names *typeutil.ConcurrentSet[string]
}

var _ ClassChecker = (*AllowListChecker)(nil)

func NewAllowListChecker(names ...string) *AllowListChecker {
	return &AllowListChecker{names: typeutil.NewConcurrentSet(names...)}
}

func (c *AllowListChecker) Allow(qualifiedName string) bool {
	return c.names.Contain(qualifiedName)
}

// Add 将类型加入名单。
func (c *AllowListChecker) Add(names ...string) {
	c.names.Upsert(names...)
}

func (c *AllowListChecker) Remove(names ...string) {
	c.names.Remove(names...)
}

// Names 返回名单的有序快照。
func (c *AllowListChecker) Names() []string {
	return typeutil.Sorted(c.names)
}

// DenyListChecker 拒绝名单中的类型，其余放行。
type DenyListChecker struct {
	names *typeutil.ConcurrentSet[string]
}

var _ ClassChecker = (*DenyListChecker)(nil)

func NewDenyListChecker(names ...string) *DenyListChecker {
	return &DenyListChecker{names: typeutil.NewConcurrentSet(names...)}
}

func (c *DenyListChecker) Allow(qualifiedName string) bool {
	return !c.names.Contain(qualifiedName)
}

func (c *DenyListChecker) Add(names ...string) {
	c.names.Upsert(names...)
}

func (c *DenyListChecker) Remove(names ...string) {
	c.names.Remove(names...)
}

func (c *DenyListChecker) Names() []string {
	return typeutil.Sorted(c.names)
}
