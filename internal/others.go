package internal

import (
	"math"
	"net"
)

const PermessageDeflate = "permessage-deflate"

type Pair struct {
	Key string
	Val string
}

var (
	SecWebSocketVersion    = Pair{"Sec-WebSocket-Version", "13"}
	SecWebSocketKey        = Pair{"Sec-WebSocket-Key", ""}
	SecWebSocketExtensions = Pair{"Sec-WebSocket-Extensions", ""}
	SecWebSocketAccept     = Pair{"Sec-WebSocket-Accept", ""}
	SecWebSocketProtocol   = Pair{"Sec-WebSocket-Protocol", ""}
	Connection             = Pair{"Connection", "Upgrade"}
	Upgrade                = Pair{"Upgrade", "websocket"}
	Host                   = Pair{"Host", ""}
)

// MagicNumber RFC 6455 握手密钥固定后缀
// fixed GUID appended to the challenge key, RFC 6455 section 4.2.2
const MagicNumber = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

const (
	ThresholdV1 = 125
	ThresholdV2 = math.MaxUint16
	ThresholdV3 = math.MaxUint64
)

// FlateTail deflate 尾部标记
// Add four bytes as specified in RFC 7692.
// Add the final block to squelch unexpected EOF errors from the flate reader.
var FlateTail = []byte{0x00, 0x00, 0xff, 0xff, 0x01, 0x00, 0x00, 0xff, 0xff}

type NetConn interface {
	NetConn() net.Conn
}
