package wspect

import (
	"bufio"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"

	"github.com/wspect/wspect/internal"
)

// Conn 完成握手后的连接
// 同步接口: 读写都在调用方的 goroutine 中完成, 内部没有事件循环.
// a connection after a completed handshake.
// The interface is synchronous: reads and writes run on the caller's
// goroutine, there is no internal event loop.
type Conn struct {
	// 写锁
	// write lock
	mu sync.Mutex

	conn        net.Conn
	br          *bufio.Reader
	config      *Config
	ss          SessionStorage
	isServer    bool
	subprotocol string
	closed      uint32

	// 压缩拓展协商结果, 协商完成后不再变更
	// negotiated permessage-deflate configuration, frozen after the handshake
	pd       PermessageDeflate
	deflater *deflater

	// 压缩滑动窗口, 本端写方向
	// compression sliding window, local write direction
	cpsWindow slideWindow

	// 解压缩滑动窗口, 对端写方向
	// decompression sliding window, peer write direction
	dpsWindow slideWindow

	fh                frameHeader
	continuationFrame continuationFrame
}

func (c *Conn) init() *Conn {
	if c.pd.Enabled {
		if c.isServer {
			if c.pd.ServerContextTakeover {
				c.cpsWindow.initialize(c.pd.ServerMaxWindowBits)
			}
			if c.pd.ClientContextTakeover {
				c.dpsWindow.initialize(c.pd.ClientMaxWindowBits)
			}
		} else {
			if c.pd.ClientContextTakeover {
				c.cpsWindow.initialize(c.pd.ClientMaxWindowBits)
			}
			if c.pd.ServerContextTakeover {
				c.dpsWindow.initialize(c.pd.ServerMaxWindowBits)
			}
		}
	}
	return c
}

// Subprotocol 返回协商的子协议
// returns the negotiated sub-protocol
func (c *Conn) Subprotocol() string { return c.subprotocol }

// PermessageDeflate 返回协商的压缩拓展配置
// returns the negotiated permessage-deflate configuration
func (c *Conn) PermessageDeflate() PermessageDeflate { return c.pd }

// Session 返回会话存储
// returns the session storage
func (c *Conn) Session() SessionStorage { return c.ss }

// NetConn 返回底层连接
// returns the underlying connection
func (c *Conn) NetConn() net.Conn { return c.conn }

func (c *Conn) isClosed() bool { return atomic.LoadUint32(&c.closed) == 1 }

// Close 关闭底层连接
// closes the underlying connection
func (c *Conn) Close() error {
	atomic.StoreUint32(&c.closed, 1)
	return c.conn.Close()
}

// WriteClose 发送关闭帧并关闭连接
// sends a close frame and closes the connection
func (c *Conn) WriteClose(code uint16, reason []byte) error {
	var payload = make([]byte, 0, 2+len(reason))
	payload = append(payload, internal.StatusCode(code).Bytes()...)
	payload = append(payload, reason...)
	var err = c.writeFrame(OpcodeCloseConnection, payload, false)
	_ = c.Close()
	return err
}

// WritePing 发送心跳探测帧
// sends a ping frame
func (c *Conn) WritePing(payload []byte) error {
	return c.writeFrame(OpcodePing, payload, false)
}

// WritePong 发送心跳响应帧
// sends a pong frame
func (c *Conn) WritePong(payload []byte) error {
	return c.writeFrame(OpcodePong, payload, false)
}

// WriteString 发送文本消息
// sends a text message
func (c *Conn) WriteString(s string) error {
	return c.WriteMessage(OpcodeText, []byte(s))
}

// WriteMessage 发送消息
// 长度达到压缩阈值且压缩拓展开启时, 消息会被压缩
// sends a message, compressing it when the extension is enabled and the
// payload reaches the threshold
func (c *Conn) WriteMessage(opcode Opcode, payload []byte) error {
	var compress = c.pd.Enabled && opcode.isDataFrame() && len(payload) >= c.pd.Threshold
	if !compress {
		return c.writeFrame(opcode, payload, false)
	}

	var dst = binaryPool.Get(len(payload) / 2)
	defer binaryPool.Put(dst)
	if err := c.deflater.Compress(payload, dst, c.cpsWindow.dict); err != nil {
		return err
	}
	_, _ = c.cpsWindow.Write(payload)
	return c.writeFrame(opcode, dst.Bytes(), true)
}

func (c *Conn) writeFrame(opcode Opcode, payload []byte, compressed bool) error {
	if c.isClosed() {
		return ErrConnClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var fh = frameHeader{}
	var n = len(payload)
	headerLength, maskBytes := fh.GenerateHeader(c.isServer, true, compressed, opcode, n)
	if !c.isServer {
		// 客户端需要在发送前对负载做掩码处理; 在副本上操作, 不破坏调用方的切片
		// The client masks the payload before sending; operate on a copy so the
		// caller's slice stays intact.
		var masked = binaryPool.Get(n)
		masked.Write(payload)
		payload = masked.Bytes()
		defer binaryPool.Put(masked)
		maskXOR(payload, maskBytes)
	}

	if err := internal.WriteN(c.conn, fh[:headerLength]); err != nil {
		return err
	}
	return internal.WriteN(c.conn, payload)
}

// ReadMessage 读取一条完整消息
// 自动响应 ping 帧; 收到关闭帧时返回 *CloseError.
// reads one complete message.
// Ping frames are answered automatically; a close frame is surfaced as a
// *CloseError.
func (c *Conn) ReadMessage() (*Message, error) {
	for {
		msg, err := c.readFrame()
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
	}
}

func (c *Conn) readFrame() (*Message, error) {
	payloadLength, err := c.fh.Parse(c.br)
	if err != nil {
		return nil, err
	}
	if c.fh.GetRSV2() || c.fh.GetRSV3() {
		return nil, internal.CloseProtocolError
	}

	var opcode = c.fh.GetOpcode()
	var compressed = c.pd.Enabled && c.fh.GetRSV1()
	if c.fh.GetRSV1() && !c.pd.Enabled {
		return nil, internal.CloseProtocolError
	}
	if payloadLength > c.config.ReadMaxPayloadSize {
		return nil, internal.CloseMessageTooLarge
	}

	var buf = binaryPool.Get(payloadLength)
	buf.Grow(payloadLength)
	var p = buf.Bytes()[:payloadLength]
	if err := internal.ReadN(c.br, p); err != nil {
		return nil, err
	}
	if c.fh.GetMask() {
		maskXOR(p, c.fh.GetMaskKey())
	}
	buf.Reset()
	buf.Write(p)

	// 控制帧
	// control frames
	if !opcode.isDataFrame() {
		if !c.fh.GetFIN() || payloadLength > internal.ThresholdV1 {
			return nil, internal.CloseProtocolError
		}
		switch opcode {
		case OpcodePing:
			defer binaryPool.Put(buf)
			return nil, c.WritePong(buf.Bytes())
		case OpcodePong:
			binaryPool.Put(buf)
			return nil, nil
		case OpcodeCloseConnection:
			defer binaryPool.Put(buf)
			return nil, c.readCloseFrame(buf.Bytes())
		default:
			return nil, internal.CloseProtocolError
		}
	}

	var fin = c.fh.GetFIN()
	if opcode != OpcodeContinuation {
		if c.continuationFrame.initialized {
			return nil, internal.CloseProtocolError
		}
		if fin {
			return c.emitMessage(&Message{Opcode: opcode, Data: buf, compressed: compressed})
		}
		c.continuationFrame.initialized = true
		c.continuationFrame.compressed = compressed
		c.continuationFrame.opcode = opcode
		c.continuationFrame.buffer = binaryPool.Get(payloadLength)
		c.continuationFrame.buffer.Write(buf.Bytes())
		binaryPool.Put(buf)
		return nil, nil
	}

	if !c.continuationFrame.initialized {
		return nil, internal.CloseProtocolError
	}
	c.continuationFrame.buffer.Write(buf.Bytes())
	binaryPool.Put(buf)
	if c.continuationFrame.buffer.Len() > c.config.ReadMaxPayloadSize {
		return nil, internal.CloseMessageTooLarge
	}
	if !fin {
		return nil, nil
	}

	msg := &Message{
		Opcode:     c.continuationFrame.opcode,
		Data:       c.continuationFrame.buffer,
		compressed: c.continuationFrame.compressed,
	}
	c.continuationFrame.reset()
	return c.emitMessage(msg)
}

func (c *Conn) emitMessage(msg *Message) (*Message, error) {
	if msg.compressed {
		data, err := c.deflater.Decompress(msg.Data, c.dpsWindow.dict)
		if err != nil {
			return nil, internal.NewError(internal.CloseInternalErr, err)
		}
		msg.Data = data
		_, _ = c.dpsWindow.Write(data.Bytes())
	}
	if !internal.CheckEncoding(c.config.CheckUtf8Enabled, uint8(msg.Opcode), msg.Data.Bytes()) {
		return nil, internal.NewError(internal.CloseUnsupportedData, ErrTextEncoding)
	}
	return msg, nil
}

func (c *Conn) readCloseFrame(payload []byte) error {
	atomic.StoreUint32(&c.closed, 1)
	var closeErr = &CloseError{Code: uint16(internal.CloseNormalClosure)}
	if len(payload) >= 2 {
		closeErr.Code = binary.BigEndian.Uint16(payload[:2])
		closeErr.Reason = append(closeErr.Reason, payload[2:]...)
	}
	_ = c.conn.Close()
	return closeErr
}
