package wspect

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/flate"
	"github.com/wspect/wspect/internal"
)

// deflaterPool 压缩器池
// 每条连接从池中选取一个压缩器, 以减少内存占用
// compressor pool, each connection picks one deflater from the pool
type deflaterPool struct {
	serial uint64
	num    uint64
	pool   []*deflater
}

func (c *deflaterPool) initialize(options PermessageDeflate, limit int) *deflaterPool {
	c.num = uint64(options.PoolSize)
	for i := uint64(0); i < c.num; i++ {
		c.pool = append(c.pool, new(deflater).initialize(true, options, limit))
	}
	return c
}

// Select 从池中取出一个压缩器
// 使用请求序列号取模, 而非加锁
// picks a deflater from the pool, round robin instead of locking
func (c *deflaterPool) Select() *deflater {
	var j = atomic.AddUint64(&c.serial, 1) & (c.num - 1)
	return c.pool[j]
}

// deflater 压缩与解压缩器对
// 压缩和解压缩各自持有独立的锁, 可以并行工作
// paired compressor and decompressor.
// Compression and decompression hold independent locks and may run in parallel.
type deflater struct {
	dpsLocker sync.Mutex
	dpsReader io.ReadCloser
	cpsLocker sync.Mutex
	cpsWriter *flate.Writer
	limit     int
}

// initialize 根据协商结果初始化压缩器
// 窗口大小为协商的滑动窗口指数的 2 次幂; 15 为默认值, 使用标准压缩器.
// initializes the deflater from the negotiated configuration.
// The window size is pow(2, negotiated bits); 15 is the default and uses the
// standard writer.
func (c *deflater) initialize(isServer bool, options PermessageDeflate, limit int) *deflater {
	c.dpsReader = flate.NewReader(nil)
	c.limit = limit
	windowBits := internal.SelectValue(isServer, options.ServerMaxWindowBits, options.ClientMaxWindowBits)
	if windowBits == maxWindowBits {
		c.cpsWriter, _ = flate.NewWriter(nil, options.Level)
	} else {
		c.cpsWriter, _ = flate.NewWriterWindow(nil, internal.BinaryPow(windowBits))
	}
	return c
}

// Decompress 解压缩
// dict 为上下文接管时对端方向的滑动窗口字典
// decompresses the payload, dict is the peer direction sliding window dictionary
func (c *deflater) Decompress(src *bytes.Buffer, dict []byte) (*bytes.Buffer, error) {
	c.dpsLocker.Lock()
	defer c.dpsLocker.Unlock()

	_, _ = src.Write(internal.FlateTail)
	resetter := c.dpsReader.(flate.Resetter)
	if err := resetter.Reset(src, dict); err != nil {
		return nil, err
	}

	var dst = binaryPool.Get(3 * src.Len())
	var reader = io.LimitReader(c.dpsReader, int64(c.limit)+1)
	if _, err := io.Copy(dst, reader); err != nil {
		binaryPool.Put(dst)
		return nil, err
	}
	if dst.Len() > c.limit {
		binaryPool.Put(dst)
		return nil, ErrMessageTooLarge
	}
	binaryPool.Put(src)
	return dst, nil
}

// Compress 压缩
// dict 为上下文接管时本方向的滑动窗口字典
// compresses the payload, dict is the local direction sliding window dictionary
func (c *deflater) Compress(src []byte, dst *bytes.Buffer, dict []byte) error {
	c.cpsLocker.Lock()
	defer c.cpsLocker.Unlock()

	c.cpsWriter.ResetDict(dst, dict)
	if err := internal.WriteN(c.cpsWriter, src); err != nil {
		return err
	}
	if err := c.cpsWriter.Flush(); err != nil {
		return err
	}

	// 去掉同步刷新产生的 00 00 ff ff 尾部
	// strip the 00 00 ff ff tail produced by the sync flush
	if n := dst.Len(); n >= 4 {
		compressedContent := dst.Bytes()
		if tail := compressedContent[n-4:]; binary.BigEndian.Uint32(tail) == math.MaxUint16 {
			dst.Truncate(n - 4)
		}
	}
	return nil
}

// slideWindow 滑动窗口
// 维护最近写入的明文作为压缩字典, 实现上下文接管
// sliding window, keeps the most recent plaintext as the compression
// dictionary to implement context takeover
type slideWindow struct {
	enabled bool
	dict    []byte
	size    int
}

func (c *slideWindow) initialize(windowBits int) *slideWindow {
	c.enabled = true
	c.size = internal.BinaryPow(windowBits)
	if c.dict == nil {
		c.dict = make([]byte, 0, c.size)
	}
	return c
}

func (c *slideWindow) Write(p []byte) (int, error) {
	if !c.enabled {
		return 0, nil
	}

	var total = len(p)
	var n = total
	var length = len(c.dict)
	if n+length <= c.size {
		c.dict = append(c.dict, p...)
		return total, nil
	}

	if m := c.size - length; m > 0 {
		c.dict = append(c.dict, p[:m]...)
		p = p[m:]
		n = len(p)
	}

	if n >= c.size {
		copy(c.dict, p[n-c.size:])
		return total, nil
	}

	copy(c.dict, c.dict[n:])
	copy(c.dict[c.size-n:], p)
	return total, nil
}
