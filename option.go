package wspect

import (
	"bufio"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/wspect/wspect/internal"
)

const (
	defaultHandshakeTimeout   = 5 * time.Second
	defaultReadMaxPayloadSize = 16 * 1024 * 1024
	defaultReadBufferSize     = 4 * 1024
	defaultCompressLevel      = flate.BestSpeed
	defaultCompressThreshold  = 512
	defaultCompressorPoolSize = 32
	defaultWindowBits         = 15
)

// PermessageDeflate 压缩拓展配置
// 对于频率较高的小消息, 压缩收益不大, 此时建议关闭上下文接管
// permessage-deflate extension configuration
// For small messages with high frequency, the compression gain is small,
// and context takeover is recommended to be disabled at this time.
type PermessageDeflate struct {
	// 是否开启压缩
	// Whether to turn on compression
	Enabled bool

	// 压缩级别
	// Compress level
	Level int

	// 压缩阈值, 长度小于阈值的消息不会被压缩
	// Compression threshold, messages below the threshold will not be compressed
	Threshold int

	// 压缩器内存池大小
	// 数值越大竞争的概率越小, 但是会耗费大量内存
	// Compressor memory pool size
	// The higher the value the lower the probability of competition, but it will consume a lot of memory
	PoolSize int

	// 服务端上下文接管
	// Server side context takeover
	ServerContextTakeover bool

	// 客户端上下文接管
	// Client side context takeover
	ClientContextTakeover bool

	// 服务端滑动窗口指数, 取值范围 8<=n<=15
	// The server-side sliding window index, with a value range of 8<=n<=15
	ServerMaxWindowBits int

	// 客户端滑动窗口指数, 取值范围 8<=n<=15
	// The client-side sliding window index, with a value range of 8<=n<=15
	ClientMaxWindowBits int
}

// ServerOption 服务端配置
// server configuration
type ServerOption struct {
	config *Config

	// 压缩拓展配置
	// permessage-deflate extension configuration
	PermessageDeflate PermessageDeflate

	// 可接受的子协议列表
	// list of acceptable sub-protocols
	SubProtocols []string

	// 握手超时时间
	// handshake timeout
	HandshakeTimeout time.Duration

	// 读取的最大消息长度
	// maximum read message length
	ReadMaxPayloadSize int

	// 读缓冲区大小
	// read buffer size
	ReadBufferSize int

	// 是否校验文本帧的 utf8 编码
	// whether to check the utf8 encoding of text frames
	CheckUtf8Enabled bool

	// 日志工具
	// logging tool
	Logger Logger

	// 额外的响应头 (客户端可能不支持)
	// extra response headers (may not be supported by the client)
	ResponseHeader http.Header

	// 鉴权, 返回 true 表示通过
	// authentication, return true to pass
	Authorize func(r *http.Request, session SessionStorage) bool

	// 创建新的会话存储
	// creates a new session storage
	NewSession func() SessionStorage

	// TLS 设置
	// TLS configuration
	TlsConfig *tls.Config
}

// Config 运行时配置, 由 ServerOption 初始化而来
// runtime configuration, derived from ServerOption
type Config struct {
	readerPool         *internal.Pool[*bufio.Reader]
	ReadMaxPayloadSize int
	ReadBufferSize     int
	CheckUtf8Enabled   bool
	Logger             Logger
}

func (c *ServerOption) deleteProtectedHeaders() {
	c.ResponseHeader.Del(internal.Upgrade.Key)
	c.ResponseHeader.Del(internal.Connection.Key)
	c.ResponseHeader.Del(internal.SecWebSocketAccept.Key)
	c.ResponseHeader.Del(internal.SecWebSocketExtensions.Key)
	c.ResponseHeader.Del(internal.SecWebSocketProtocol.Key)
}

func initServerOption(c *ServerOption) *ServerOption {
	if c == nil {
		c = new(ServerOption)
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.ReadMaxPayloadSize <= 0 {
		c.ReadMaxPayloadSize = defaultReadMaxPayloadSize
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = defaultReadBufferSize
	}
	if c.Logger == nil {
		c.Logger = defaultLogger
	}
	if c.ResponseHeader == nil {
		c.ResponseHeader = http.Header{}
	}
	if c.Authorize == nil {
		c.Authorize = func(r *http.Request, session SessionStorage) bool { return true }
	}
	if c.NewSession == nil {
		c.NewSession = func() SessionStorage { return newSmap() }
	}

	if c.PermessageDeflate.Enabled {
		if c.PermessageDeflate.Level == 0 {
			c.PermessageDeflate.Level = defaultCompressLevel
		}
		if c.PermessageDeflate.Threshold <= 0 {
			c.PermessageDeflate.Threshold = defaultCompressThreshold
		}
		if c.PermessageDeflate.PoolSize <= 0 {
			c.PermessageDeflate.PoolSize = defaultCompressorPoolSize
		}
		c.PermessageDeflate.PoolSize = int(internal.BinaryCeil(uint32(c.PermessageDeflate.PoolSize)))
		if c.PermessageDeflate.ServerMaxWindowBits < minWindowBits || c.PermessageDeflate.ServerMaxWindowBits > maxWindowBits {
			c.PermessageDeflate.ServerMaxWindowBits = defaultWindowBits
		}
		if c.PermessageDeflate.ClientMaxWindowBits < minWindowBits || c.PermessageDeflate.ClientMaxWindowBits > maxWindowBits {
			c.PermessageDeflate.ClientMaxWindowBits = defaultWindowBits
		}
	}

	c.deleteProtectedHeaders()

	c.config = &Config{
		readerPool:         internal.NewPool(func() *bufio.Reader { return bufio.NewReaderSize(nil, c.ReadBufferSize) }),
		ReadMaxPayloadSize: c.ReadMaxPayloadSize,
		ReadBufferSize:     c.ReadBufferSize,
		CheckUtf8Enabled:   c.CheckUtf8Enabled,
		Logger:             c.Logger,
	}
	return c
}

func (c *ServerOption) getConfig() *Config { return c.config }
