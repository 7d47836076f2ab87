package wspect

import (
	"github.com/wspect/wspect/internal"
)

var (
	// binaryPool 内存池
	// buffer pool
	binaryPool = internal.NewBufferPool(128, 256*1024)

	// defaultLogger 默认日志工具
	// default logging tool
	defaultLogger = new(stdLogger)
)
