package wspect

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/wspect/wspect/internal"
)

// HandshakeError 握手校验错误
// 携带违反约束的头部及其字面值, 便于不借助调试器定位问题.
// handshake validation failure.
// Carries the violated header and its literal value so the cause can be
// diagnosed without a debugger.
type HandshakeError struct {
	// 违反约束的头部 (或 "method", "proto")
	// the violated header, or "method" / "proto"
	Header string

	// 头部的字面值
	// the literal header value
	Value string
}

func (c *HandshakeError) Error() string {
	return fmt.Sprintf("wspect: handshake error: invalid %s: %q", c.Header, c.Value)
}

func newHandshakeError(header, value string) *HandshakeError {
	return &HandshakeError{Header: header, Value: value}
}

// validateRequest 校验升级请求, RFC 6455 4.2.1
// validates the upgrade request, RFC 6455 section 4.2.1
func validateRequest(r *http.Request) error {
	if r.Method != http.MethodGet {
		return newHandshakeError("method", r.Method)
	}
	if r.ProtoMajor != 1 || r.ProtoMinor != 1 {
		return newHandshakeError("proto", r.Proto)
	}
	if !internal.HttpHeaderEqual(r.Header.Get(internal.Upgrade.Key), internal.Upgrade.Val) {
		return newHandshakeError(internal.Upgrade.Key, r.Header.Get(internal.Upgrade.Key))
	}
	if !internal.HttpHeaderContains(r.Header.Get(internal.Connection.Key), internal.Connection.Val) {
		return newHandshakeError(internal.Connection.Key, r.Header.Get(internal.Connection.Key))
	}
	if r.Host == "" && r.Header.Get(internal.Host.Key) == "" {
		return newHandshakeError(internal.Host.Key, "")
	}
	return nil
}

// validateWebSocketKey 校验 Sec-WebSocket-Key
// 字面值中的逗号意味着重复的头部被折叠, 直接判为非法;
// 随后执行严格的 RFC 4648 校验并要求解码结果恰好为 16 字节.
// validates the Sec-WebSocket-Key header.
// A literal comma means duplicate headers were folded together and the key is
// rejected outright; the remainder must pass the strict RFC 4648 check and
// decode to exactly 16 bytes.
func validateWebSocketKey(key string) error {
	if key == "" || strings.ContainsRune(key, ',') {
		return newHandshakeError(internal.SecWebSocketKey.Key, key)
	}
	if _, ok := internal.DecodeChallengeKey(key); !ok {
		return newHandshakeError(internal.SecWebSocketKey.Key, key)
	}
	return nil
}

// responseWriter 按固定顺序构建 101 响应
// builds the 101 response with a fixed header order
type responseWriter struct {
	err         error
	b           *bytes.Buffer
	subprotocol string
}

func (c *responseWriter) Init() *responseWriter {
	c.b = binaryPool.Get(512)
	c.b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	c.b.WriteString("Upgrade: websocket\r\n")
	c.b.WriteString("Connection: Upgrade\r\n")
	return c
}

func (c *responseWriter) Close() {
	binaryPool.Put(c.b)
	c.b = nil
}

func (c *responseWriter) WithHeader(k, v string) {
	c.b.WriteString(k)
	c.b.WriteString(": ")
	c.b.WriteString(v)
	c.b.WriteString("\r\n")
}

func (c *responseWriter) WithExtraHeader(h http.Header) {
	for k := range h {
		c.WithHeader(k, h.Get(k))
	}
}

func (c *responseWriter) WithSubProtocol(requestHeader http.Header, expectedSubProtocols []string) {
	if len(expectedSubProtocols) > 0 {
		c.subprotocol = internal.GetIntersectionElem(expectedSubProtocols, ParseSubprotocols(requestHeader.Get(internal.SecWebSocketProtocol.Key)))
		if c.subprotocol == "" {
			c.err = ErrSubprotocolNegotiation
			return
		}
		c.WithHeader(internal.SecWebSocketProtocol.Key, c.subprotocol)
	}
}

func (c *responseWriter) Write(conn net.Conn, timeout time.Duration) error {
	if c.err != nil {
		return c.err
	}
	c.b.WriteString("\r\n")
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	if _, err := c.b.WriteTo(conn); err != nil {
		return err
	}
	return conn.SetDeadline(time.Time{})
}
