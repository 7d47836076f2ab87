package wspect

import (
	"sync"

	"github.com/dolthub/maphash"
	"github.com/wspect/wspect/internal"
)

// NewConcurrentMap 创建分片字典, num 代表分片数量, 会被转换为 2 的 n 次幂
// creates a sharded map, num is the number of shards, it will be rounded up to pow(2, n)
func NewConcurrentMap[K comparable, V any](num uint64) *ConcurrentMap[K, V] {
	if num == 0 {
		num = 16
	}
	num = uint64(internal.BinaryCeil(uint32(num)))
	var cm = &ConcurrentMap[K, V]{
		hasher:    maphash.NewHasher[K](),
		num:       num,
		shardings: make([]*Map[K, V], num),
	}
	for i := range cm.shardings {
		cm.shardings[i] = NewMap[K, V]()
	}
	return cm
}

// ConcurrentMap 并发安全的分片字典
// concurrency-safe sharded map
type ConcurrentMap[K comparable, V any] struct {
	hasher    maphash.Hasher[K]
	num       uint64
	shardings []*Map[K, V]
}

// GetSharding 返回 key 所属的分片
// 分片内部是线程安全的; 一个键始终落在同一个分片上.
// returns the shard to which the key belongs.
// The shard is thread-safe; a key always maps to the same shard.
func (c *ConcurrentMap[K, V]) GetSharding(key K) *Map[K, V] {
	var hashCode = c.hasher.Hash(key)
	var index = hashCode & (c.num - 1)
	return c.shardings[index]
}

// Len 返回元素数量
// returns the number of elements
func (c *ConcurrentMap[K, V]) Len() int {
	var length = 0
	for _, m := range c.shardings {
		length += m.Len()
	}
	return length
}

// Load 查询 key 对应的值
// returns the value for the key
func (c *ConcurrentMap[K, V]) Load(key K) (value V, ok bool) {
	return c.GetSharding(key).Load(key)
}

// Delete 删除一个键
// deletes a key
func (c *ConcurrentMap[K, V]) Delete(key K) {
	c.GetSharding(key).Delete(key)
}

// Store 存储键值对
// stores a key-value pair
func (c *ConcurrentMap[K, V]) Store(key K, value V) {
	c.GetSharding(key).Store(key, value)
}

// Range 遍历字典, f 返回 false 时终止遍历
// iterates over the map, stopping when f returns false
func (c *ConcurrentMap[K, V]) Range(f func(key K, value V) bool) {
	for _, m := range c.shardings {
		if !m.Range(f) {
			return
		}
	}
}

func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{m: make(map[K]V)}
}

// Map 并发安全的字典
// concurrency-safe map
type Map[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

func (c *Map[K, V]) Len() int {
	c.mu.RLock()
	n := len(c.m)
	c.mu.RUnlock()
	return n
}

func (c *Map[K, V]) Load(key K) (value V, ok bool) {
	c.mu.RLock()
	value, ok = c.m[key]
	c.mu.RUnlock()
	return
}

func (c *Map[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

func (c *Map[K, V]) Store(key K, value V) {
	c.mu.Lock()
	c.m[key] = value
	c.mu.Unlock()
}

func (c *Map[K, V]) Range(f func(key K, value V) bool) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.m {
		if !f(k, v) {
			return false
		}
	}
	return true
}

// SessionStorage 会话存储
// session storage
type SessionStorage interface {
	Len() int
	Load(key string) (value any, exist bool)
	Delete(key string)
	Store(key string, value any)
	Range(f func(key string, value any) bool)
}

func newSmap() *smap {
	return &smap{m: NewMap[string, any]()}
}

type smap struct {
	m *Map[string, any]
}

func (c *smap) Len() int                              { return c.m.Len() }
func (c *smap) Load(key string) (any, bool)           { return c.m.Load(key) }
func (c *smap) Delete(key string)                     { c.m.Delete(key) }
func (c *smap) Store(key string, value any)           { c.m.Store(key, value) }
func (c *smap) Range(f func(key string, v any) bool)  { c.m.Range(f) }
