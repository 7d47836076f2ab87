package wspect

import (
	"net"

	"github.com/valyala/fasthttp"
	"github.com/wspect/wspect/internal"
)

// UpgradeFastHTTP 在 fasthttp 服务器中升级连接
// 响应由 fasthttp 先行写出, 握手成功后在 hijack 回调中交付连接;
// 此路径不经过 Authorize 钩子, 鉴权应在 fasthttp 中间件中完成.
// upgrades a connection inside a fasthttp server.
// fasthttp writes the response itself, the connection is delivered to the
// hijack callback after a successful handshake. The Authorize hook is not
// consulted on this path, authentication belongs in fasthttp middleware.
func (c *Upgrader) UpgradeFastHTTP(ctx *fasthttp.RequestCtx, handler func(socket *Conn)) error {
	if !ctx.IsGet() {
		return newHandshakeError("method", string(ctx.Method()))
	}
	if proto := string(ctx.Request.Header.Protocol()); proto != "HTTP/1.1" {
		return newHandshakeError("proto", proto)
	}
	if upgrade := string(ctx.Request.Header.Peek(internal.Upgrade.Key)); !internal.HttpHeaderEqual(upgrade, internal.Upgrade.Val) {
		return newHandshakeError(internal.Upgrade.Key, upgrade)
	}
	if connection := string(ctx.Request.Header.Peek(internal.Connection.Key)); !internal.HttpHeaderContains(connection, internal.Connection.Val) {
		return newHandshakeError(internal.Connection.Key, connection)
	}
	if len(ctx.Host()) == 0 {
		return newHandshakeError(internal.Host.Key, "")
	}
	if version := string(ctx.Request.Header.Peek(internal.SecWebSocketVersion.Key)); version != internal.SecWebSocketVersion.Val {
		return newHandshakeError(internal.SecWebSocketVersion.Key, version)
	}

	var websocketKey = string(ctx.Request.Header.Peek(internal.SecWebSocketKey.Key))
	if err := validateWebSocketKey(websocketKey); err != nil {
		return err
	}

	var subprotocol = ""
	if len(c.option.SubProtocols) > 0 {
		var requested = ParseSubprotocols(string(ctx.Request.Header.Peek(internal.SecWebSocketProtocol.Key)))
		subprotocol = internal.GetIntersectionElem(c.option.SubProtocols, requested)
		if subprotocol == "" {
			return ErrSubprotocolNegotiation
		}
	}

	var pd = PermessageDeflate{}
	responses, accepted := c.registry.Negotiate(string(ctx.Request.Header.Peek(internal.SecWebSocketExtensions.Key)))
	for _, processor := range accepted {
		if dp, ok := processor.(*deflateProcessor); ok {
			pd, _ = dp.Config()
		}
	}

	ctx.SetStatusCode(fasthttp.StatusSwitchingProtocols)
	ctx.Response.Header.Set(internal.Upgrade.Key, internal.Upgrade.Val)
	ctx.Response.Header.Set(internal.Connection.Key, internal.Connection.Val)
	ctx.Response.Header.Set(internal.SecWebSocketAccept.Key, internal.ComputeAcceptKey(websocketKey))
	if subprotocol != "" {
		ctx.Response.Header.Set(internal.SecWebSocketProtocol.Key, subprotocol)
	}
	if len(responses) > 0 {
		ctx.Response.Header.Set(internal.SecWebSocketExtensions.Key, BuildExtensions(responses))
	}
	for k := range c.option.ResponseHeader {
		ctx.Response.Header.Set(k, c.option.ResponseHeader.Get(k))
	}

	var session = c.option.NewSession()
	ctx.Hijack(func(netConn net.Conn) {
		br := c.option.config.readerPool.Get()
		br.Reset(netConn)
		socket := &Conn{
			ss:          session,
			isServer:    true,
			subprotocol: subprotocol,
			pd:          pd,
			conn:        netConn,
			config:      c.option.getConfig(),
			br:          br,
		}
		if pd.Enabled {
			socket.deflater = c.deflaterPool.Select()
		}
		handler(socket.init())
	})
	return nil
}
