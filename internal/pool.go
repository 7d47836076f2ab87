package internal

import (
	"bytes"
	"math/bits"
	"sync"
)

// BufferPool 按容量指数分片的缓冲区内存池
// 每个分片只存放容量恰好为 2 的 i 次幂的缓冲区, 取还都按指数直接寻址.
// buffer pool sharded by capacity exponent.
// Each shard holds buffers whose capacity is exactly pow(2, i), so lookups on
// both sides address the shard directly by exponent.
type BufferPool struct {
	minExp int
	maxExp int
	shards []*sync.Pool
}

// NewBufferPool 创建一个内存池, 区间端点会被向上取整到 2 的 n 次幂
// creates a buffer pool; both interval endpoints are rounded up to pow(2, n)
func NewBufferPool(left, right uint32) *BufferPool {
	var p = &BufferPool{
		minExp: exponent(BinaryCeil(left)),
		maxExp: exponent(BinaryCeil(right)),
	}
	p.shards = make([]*sync.Pool, p.maxExp+1)
	for i := p.minExp; i <= p.maxExp; i++ {
		var capacity = 1 << i
		p.shards[i] = &sync.Pool{
			New: func() any { return bytes.NewBuffer(make([]byte, 0, capacity)) },
		}
	}
	return p
}

// Get 从内存池中获取一个容量至少为 n 字节的空缓冲区
// fetches an empty buffer of at least n bytes from the pool
func (p *BufferPool) Get(n int) *bytes.Buffer {
	var exp = exponent(BinaryCeil(uint32(n)))
	if exp < p.minExp {
		exp = p.minExp
	}
	if exp <= p.maxExp {
		var b = p.shards[exp].Get().(*bytes.Buffer)
		b.Reset()
		return b
	}
	return bytes.NewBuffer(make([]byte, 0, n))
}

// Put 将缓冲区放回到内存池
// 容量不是 2 的幂或超出区间的缓冲区会被丢弃, 保证分片内的容量不变式.
// returns the buffer to the pool.
// Buffers whose capacity is not a power of two, or falls outside the interval,
// are dropped to keep the per-shard capacity invariant.
func (p *BufferPool) Put(b *bytes.Buffer) {
	if b == nil {
		return
	}
	var n = uint32(b.Cap())
	if n == 0 || n != BinaryCeil(n) {
		return
	}
	if exp := exponent(n); exp >= p.minExp && exp <= p.maxExp {
		p.shards[exp].Put(b)
	}
}

// exponent 返回 2 的幂 v 的指数
// returns the exponent of the power of two v
func exponent(v uint32) int {
	return bits.Len32(v) - 1
}

// NewPool 创建一个新的泛型内存池
// creates a new generic pool
func NewPool[T any](f func() T) *Pool[T] {
	return &Pool[T]{p: sync.Pool{New: func() any { return f() }}}
}

// Pool 泛型内存池
// generic pool
type Pool[T any] struct {
	p sync.Pool
}

// Put 将一个值放入池中
// puts a value into the pool
func (c *Pool[T]) Put(v T) {
	c.p.Put(v)
}

// Get 从池中获取一个值
// gets a value from the pool
func (c *Pool[T]) Get() T {
	return c.p.Get().(T)
}
