package wspect

import (
	"bufio"
	"crypto/tls"
	"net"
	"net/http"

	"github.com/wspect/wspect/internal"
)

// Upgrader 将 HTTP 连接升级为 WebSocket 连接
// upgrades HTTP connections to the WebSocket protocol
type Upgrader struct {
	option       *ServerOption
	deflaterPool *deflaterPool
	registry     *ExtensionRegistry
}

func NewUpgrader(option *ServerOption) *Upgrader {
	var u = &Upgrader{option: initServerOption(option)}
	u.registry = NewExtensionRegistry()
	if u.option.PermessageDeflate.Enabled {
		u.deflaterPool = new(deflaterPool).initialize(u.option.PermessageDeflate, u.option.ReadMaxPayloadSize)
		options := u.option.PermessageDeflate
		u.registry.Register(internal.PermessageDeflate, func() ExtensionProcessor {
			return newDeflateProcessor(options)
		})
	}
	return u
}

// Upgrade 升级连接
// upgrades the http connection to a websocket connection
func (c *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	netConn, br, err := c.hijack(w)
	if err != nil {
		return nil, err
	}

	socket, err := c.doUpgrade(r, netConn, br)
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}
	return socket, err
}

// 为了节省内存, 不复用 hijack 返回的 bufio.ReadWriter
func (c *Upgrader) hijack(w http.ResponseWriter) (net.Conn, *bufio.Reader, error) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, nil, internal.CloseInternalErr
	}
	netConn, _, err := hj.Hijack()
	if err != nil {
		return nil, nil, err
	}
	br := c.option.config.readerPool.Get()
	br.Reset(netConn)
	return netConn, br, nil
}

func (c *Upgrader) doUpgrade(r *http.Request, netConn net.Conn, br *bufio.Reader) (*Conn, error) {
	var session = c.option.NewSession()
	if !c.option.Authorize(r, session) {
		return nil, ErrUnauthorized
	}

	if err := validateRequest(r); err != nil {
		return nil, err
	}
	if version := r.Header.Get(internal.SecWebSocketVersion.Key); version != internal.SecWebSocketVersion.Val {
		return nil, newHandshakeError(internal.SecWebSocketVersion.Key, version)
	}
	var websocketKey = r.Header.Get(internal.SecWebSocketKey.Key)
	if err := validateWebSocketKey(websocketKey); err != nil {
		return nil, err
	}

	var rw = new(responseWriter).Init()
	defer rw.Close()

	rw.WithHeader(internal.SecWebSocketAccept.Key, internal.ComputeAcceptKey(websocketKey))
	rw.WithSubProtocol(r.Header, c.option.SubProtocols)

	// 拓展协商失败不影响握手, 连接以未压缩方式继续
	// A failed extension negotiation does not fail the handshake, the
	// connection proceeds uncompressed.
	var pd = PermessageDeflate{}
	responses, accepted := c.registry.Negotiate(r.Header.Get(internal.SecWebSocketExtensions.Key))
	if len(responses) > 0 {
		rw.WithHeader(internal.SecWebSocketExtensions.Key, BuildExtensions(responses))
		for _, processor := range accepted {
			if dp, ok := processor.(*deflateProcessor); ok {
				pd, _ = dp.Config()
			}
		}
	}

	rw.WithExtraHeader(c.option.ResponseHeader)
	if err := rw.Write(netConn, c.option.HandshakeTimeout); err != nil {
		return nil, err
	}

	socket := &Conn{
		ss:          session,
		isServer:    true,
		subprotocol: rw.subprotocol,
		pd:          pd,
		conn:        netConn,
		config:      c.option.getConfig(),
		br:          br,
	}
	if pd.Enabled {
		socket.deflater = c.deflaterPool.Select()
	}
	return socket.init(), nil
}

// Server WebSocket 服务器
// websocket server
type Server struct {
	upgrader *Upgrader
	option   *ServerOption

	// OnError 接收握手过程中产生的错误回调
	// Receive error callbacks generated during the handshake
	OnError func(conn net.Conn, err error)

	// OnRequest 握手成功后的回调
	// callback invoked after a successful handshake
	OnRequest func(socket *Conn, request *http.Request)
}

// NewServer 创建 WebSocket 服务器
// creates a websocket server
func NewServer(option *ServerOption) *Server {
	var c = &Server{upgrader: NewUpgrader(option)}
	c.option = c.upgrader.option
	c.OnError = func(conn net.Conn, err error) { c.option.Logger.Error("wspect: " + err.Error()) }
	c.OnRequest = func(socket *Conn, request *http.Request) { _ = socket.Close() }
	return c
}

// Run 运行. 可以被多次调用, 监听不同的地址.
// It can be called multiple times, listening to different addresses.
func (c *Server) Run(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return c.RunListener(listener)
}

// RunTLS 运行 TLS 服务. 可以被多次调用, 监听不同的地址.
// Runs the TLS server. It can be called multiple times, listening to different addresses.
func (c *Server) RunTLS(addr string, certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return err
	}

	if c.option.TlsConfig == nil {
		c.option.TlsConfig = &tls.Config{}
	}
	config := c.option.TlsConfig.Clone()
	config.Certificates = []tls.Certificate{cert}
	config.NextProtos = []string{"http/1.1"}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return c.RunListener(tls.NewListener(listener, config))
}

// RunListener 运行网络监听器
// Running the network listener
func (c *Server) RunListener(listener net.Listener) error {
	defer listener.Close()

	for {
		netConn, err := listener.Accept()
		if err != nil {
			c.OnError(netConn, err)
			continue
		}

		go func(conn net.Conn) {
			br := c.option.config.readerPool.Get()
			br.Reset(conn)
			r, err := http.ReadRequest(br)
			if err != nil {
				c.OnError(conn, err)
				_ = conn.Close()
				return
			}

			socket, err := c.upgrader.doUpgrade(r, conn, br)
			if err != nil {
				c.OnError(conn, err)
				_ = conn.Close()
				return
			}
			c.OnRequest(socket, r)
		}(netConn)
	}
}
