package wspect

import (
	"bufio"
	"bytes"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wspect/wspect/internal"
)

func newHttpWriter() *httpWriter {
	server, client := net.Pipe()
	var r = bytes.NewBuffer(nil)
	var w = bytes.NewBuffer(nil)
	var brw = bufio.NewReadWriter(bufio.NewReader(r), bufio.NewWriter(w))

	go func() {
		for {
			var p [1024]byte
			if _, err := client.Read(p[0:]); err != nil {
				return
			}
		}
	}()

	return &httpWriter{
		conn: server,
		brw:  brw,
	}
}

type httpWriter struct {
	conn net.Conn
	brw  *bufio.ReadWriter
}

func (c *httpWriter) Header() http.Header { return http.Header{} }

func (c *httpWriter) Write(i []byte) (int, error) { return 0, nil }

func (c *httpWriter) WriteHeader(statusCode int) {}

func (c *httpWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return c.conn, c.brw, nil
}

// 没有实现 http.Hijacker 的 ResponseWriter
type plainWriter struct{}

func (c *plainWriter) Header() http.Header         { return http.Header{} }
func (c *plainWriter) Write(i []byte) (int, error) { return 0, nil }
func (c *plainWriter) WriteHeader(statusCode int)  {}

func TestUpgrade(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		var as = assert.New(t)
		var upgrader = NewUpgrader(&ServerOption{
			SubProtocols:      []string{"chat"},
			PermessageDeflate: PermessageDeflate{Enabled: true},
			ResponseHeader:    http.Header{"Server": []string{"wspect"}},
		})
		var request = newUpgradeRequest()
		request.Header.Set("Sec-WebSocket-Extensions", "permessage-deflate; client_no_context_takeover")
		request.Header.Set("Sec-WebSocket-Protocol", "chat")

		socket, err := upgrader.Upgrade(newHttpWriter(), request)
		as.NoError(err)
		as.Equal("chat", socket.Subprotocol())
		as.True(socket.PermessageDeflate().Enabled)
		as.False(socket.PermessageDeflate().ClientContextTakeover)
		as.NotNil(socket.deflater)
	})

	t.Run("ok without extensions", func(t *testing.T) {
		var as = assert.New(t)
		var upgrader = NewUpgrader(&ServerOption{
			PermessageDeflate: PermessageDeflate{Enabled: true},
		})
		socket, err := upgrader.Upgrade(newHttpWriter(), newUpgradeRequest())
		as.NoError(err)
		as.False(socket.PermessageDeflate().Enabled)
		as.Nil(socket.deflater)
	})

	t.Run("rejected extension degrades gracefully", func(t *testing.T) {
		var as = assert.New(t)
		var upgrader = NewUpgrader(&ServerOption{
			PermessageDeflate: PermessageDeflate{Enabled: true},
		})
		var request = newUpgradeRequest()
		request.Header.Set("Sec-WebSocket-Extensions", "permessage-deflate; mystery_param=1")

		socket, err := upgrader.Upgrade(newHttpWriter(), request)
		as.NoError(err)
		as.False(socket.PermessageDeflate().Enabled)
	})

	t.Run("fail version", func(t *testing.T) {
		var as = assert.New(t)
		var upgrader = NewUpgrader(nil)
		var request = newUpgradeRequest()
		request.Header.Set("Sec-WebSocket-Version", "12")
		_, err := upgrader.Upgrade(newHttpWriter(), request)
		he, ok := err.(*HandshakeError)
		as.True(ok)
		as.Equal("Sec-WebSocket-Version", he.Header)
	})

	t.Run("fail key", func(t *testing.T) {
		var as = assert.New(t)
		var upgrader = NewUpgrader(nil)
		var request = newUpgradeRequest()
		request.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ")
		_, err := upgrader.Upgrade(newHttpWriter(), request)
		he, ok := err.(*HandshakeError)
		as.True(ok)
		as.Equal("Sec-WebSocket-Key", he.Header)
	})

	t.Run("fail method", func(t *testing.T) {
		var as = assert.New(t)
		var upgrader = NewUpgrader(nil)
		var request = newUpgradeRequest()
		request.Method = http.MethodPost
		_, err := upgrader.Upgrade(newHttpWriter(), request)
		as.Error(err)
	})

	t.Run("fail subprotocol", func(t *testing.T) {
		var as = assert.New(t)
		var upgrader = NewUpgrader(&ServerOption{SubProtocols: []string{"chat"}})
		var request = newUpgradeRequest()
		request.Header.Set("Sec-WebSocket-Protocol", "superchat")
		_, err := upgrader.Upgrade(newHttpWriter(), request)
		as.ErrorIs(err, ErrSubprotocolNegotiation)
	})

	t.Run("fail authorize", func(t *testing.T) {
		var as = assert.New(t)
		var upgrader = NewUpgrader(&ServerOption{
			Authorize: func(r *http.Request, session SessionStorage) bool {
				return false
			},
		})
		_, err := upgrader.Upgrade(newHttpWriter(), newUpgradeRequest())
		as.ErrorIs(err, ErrUnauthorized)
	})

	t.Run("fail hijack", func(t *testing.T) {
		var as = assert.New(t)
		var upgrader = NewUpgrader(nil)
		_, err := upgrader.Upgrade(new(plainWriter), newUpgradeRequest())
		as.Error(err)
	})

	t.Run("session populated by authorize", func(t *testing.T) {
		var as = assert.New(t)
		var upgrader = NewUpgrader(&ServerOption{
			Authorize: func(r *http.Request, session SessionStorage) bool {
				session.Store("host", r.Host)
				return true
			},
		})
		socket, err := upgrader.Upgrade(newHttpWriter(), newUpgradeRequest())
		as.NoError(err)
		v, ok := socket.Session().Load("host")
		as.True(ok)
		as.Equal("example.com", v)
	})

	t.Run("protected headers removed", func(t *testing.T) {
		var as = assert.New(t)
		var upgrader = NewUpgrader(&ServerOption{
			ResponseHeader: http.Header{
				"Upgrade":              []string{"spoofed"},
				"Sec-Websocket-Accept": []string{"spoofed"},
				"X-Custom":             []string{"kept"},
			},
		})
		as.Equal("", upgrader.option.ResponseHeader.Get("Upgrade"))
		as.Equal("", upgrader.option.ResponseHeader.Get("Sec-WebSocket-Accept"))
		as.Equal("kept", upgrader.option.ResponseHeader.Get("X-Custom"))
	})
}

func TestInitServerOption(t *testing.T) {
	var as = assert.New(t)

	var option = initServerOption(nil)
	as.Equal(defaultHandshakeTimeout, option.HandshakeTimeout)
	as.Equal(defaultReadMaxPayloadSize, option.ReadMaxPayloadSize)
	as.Equal(defaultReadBufferSize, option.ReadBufferSize)
	as.NotNil(option.Logger)
	as.NotNil(option.Authorize)
	as.NotNil(option.NewSession)
	as.NotNil(option.getConfig())

	option = initServerOption(&ServerOption{
		PermessageDeflate: PermessageDeflate{Enabled: true, ServerMaxWindowBits: 3, ClientMaxWindowBits: 99, PoolSize: 30},
	})
	as.Equal(defaultCompressLevel, option.PermessageDeflate.Level)
	as.Equal(defaultCompressThreshold, option.PermessageDeflate.Threshold)
	as.Equal(32, option.PermessageDeflate.PoolSize)
	as.Equal(defaultWindowBits, option.PermessageDeflate.ServerMaxWindowBits)
	as.Equal(defaultWindowBits, option.PermessageDeflate.ClientMaxWindowBits)
	as.Equal(internal.PermessageDeflate, "permessage-deflate")
}
