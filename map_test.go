package wspect

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConcurrentMap(t *testing.T) {
	t.Run("shard count rounded to power of two", func(t *testing.T) {
		var as = assert.New(t)
		as.Equal(uint64(16), NewConcurrentMap[string, int](0).num)
		as.Equal(uint64(16), NewConcurrentMap[string, int](13).num)
		as.Equal(uint64(64), NewConcurrentMap[string, int](64).num)
	})

	t.Run("stable sharding", func(t *testing.T) {
		var as = assert.New(t)
		var cm = NewConcurrentMap[string, []byte](16)
		for i := 0; i < 100; i++ {
			var key = strconv.Itoa(i)
			as.Equal(cm.GetSharding(key), cm.GetSharding(key))
		}
	})

	t.Run("basic operations", func(t *testing.T) {
		var as = assert.New(t)
		var cm = NewConcurrentMap[string, int](16)
		for i := 0; i < 1000; i++ {
			cm.Store(strconv.Itoa(i), i)
		}
		as.Equal(1000, cm.Len())

		v, ok := cm.Load("500")
		as.True(ok)
		as.Equal(500, v)

		cm.Delete("500")
		_, ok = cm.Load("500")
		as.False(ok)
		as.Equal(999, cm.Len())

		var sum = 0
		cm.Range(func(key string, value int) bool {
			sum++
			return true
		})
		as.Equal(999, sum)
	})

	t.Run("range early exit", func(t *testing.T) {
		var as = assert.New(t)
		var cm = NewConcurrentMap[string, int](16)
		for i := 0; i < 100; i++ {
			cm.Store(strconv.Itoa(i), i)
		}
		var visited = 0
		cm.Range(func(key string, value int) bool {
			visited++
			return visited < 10
		})
		as.Equal(10, visited)
	})

	t.Run("concurrent access", func(t *testing.T) {
		var as = assert.New(t)
		var cm = NewConcurrentMap[string, int](16)
		var wg = sync.WaitGroup{}
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(base int) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					cm.Store(strconv.Itoa(base*100+j), j)
				}
			}(i)
		}
		wg.Wait()
		as.Equal(800, cm.Len())
	})
}

func TestSessionStorage(t *testing.T) {
	var as = assert.New(t)
	var ss SessionStorage = newSmap()
	ss.Store("name", "wspect")
	ss.Store("count", 3)
	as.Equal(2, ss.Len())

	v, ok := ss.Load("name")
	as.True(ok)
	as.Equal("wspect", v)

	ss.Delete("count")
	_, ok = ss.Load("count")
	as.False(ok)

	ss.Range(func(key string, value any) bool {
		as.Equal("name", key)
		return true
	})
}
