package wspect

import (
	"bufio"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wspect/wspect/internal"
)

// newConnPair 通过 net.Pipe 构造一对已完成握手的连接
// builds a handshaked connection pair over net.Pipe
func newConnPair(option *ServerOption) (server, client *Conn) {
	option = initServerOption(option)
	var pd = option.PermessageDeflate
	s, c := net.Pipe()
	server = &Conn{
		conn:     s,
		br:       bufio.NewReader(s),
		config:   option.getConfig(),
		ss:       newSmap(),
		isServer: true,
		pd:       pd,
	}
	client = &Conn{
		conn:     c,
		br:       bufio.NewReader(c),
		config:   option.getConfig(),
		ss:       newSmap(),
		isServer: false,
		pd:       pd,
	}
	if pd.Enabled {
		server.deflater = new(deflater).initialize(true, pd, option.ReadMaxPayloadSize)
		client.deflater = new(deflater).initialize(false, pd, option.ReadMaxPayloadSize)
	}
	return server.init(), client.init()
}

func TestConn_ReadWrite(t *testing.T) {
	t.Run("server to client text", func(t *testing.T) {
		var as = assert.New(t)
		server, client := newConnPair(nil)
		defer server.Close()
		defer client.Close()

		go func() { _ = server.WriteString("hello") }()
		msg, err := client.ReadMessage()
		as.NoError(err)
		as.Equal(OpcodeText, msg.Opcode)
		as.Equal("hello", string(msg.Bytes()))
		_ = msg.Close()
	})

	t.Run("client to server masked binary", func(t *testing.T) {
		var as = assert.New(t)
		server, client := newConnPair(nil)
		defer server.Close()
		defer client.Close()

		var payload = internal.AlphabetNumeric.Generate(1024)
		go func() { _ = client.WriteMessage(OpcodeBinary, payload) }()
		msg, err := server.ReadMessage()
		as.NoError(err)
		as.Equal(OpcodeBinary, msg.Opcode)
		as.Equal(string(payload), string(msg.Bytes()))
		_ = msg.Close()
	})

	t.Run("large payload", func(t *testing.T) {
		var as = assert.New(t)
		server, client := newConnPair(nil)
		defer server.Close()
		defer client.Close()

		var payload = internal.AlphabetNumeric.Generate(128 * 1024)
		go func() { _ = server.WriteMessage(OpcodeBinary, payload) }()
		msg, err := client.ReadMessage()
		as.NoError(err)
		as.Equal(string(payload), string(msg.Bytes()))
		_ = msg.Close()
	})

	t.Run("ping answered with pong", func(t *testing.T) {
		var as = assert.New(t)
		server, client := newConnPair(nil)
		defer server.Close()
		defer client.Close()

		go func() { _ = client.WritePing([]byte("heartbeat")) }()
		var done = make(chan error, 1)
		go func() {
			_, err := server.readFrame()
			done <- err
		}()
		msg, err := client.readFrame()
		as.NoError(err)
		as.Nil(msg)
		as.NoError(<-done)
	})

	t.Run("close frame surfaces close error", func(t *testing.T) {
		var as = assert.New(t)
		server, client := newConnPair(nil)

		go func() { _ = client.WriteClose(1001, []byte("going away")) }()
		_, err := server.ReadMessage()
		closeErr, ok := err.(*CloseError)
		as.True(ok)
		as.Equal(uint16(1001), closeErr.Code)
		as.Equal("going away", string(closeErr.Reason))
	})

	t.Run("write on closed connection", func(t *testing.T) {
		var as = assert.New(t)
		server, client := newConnPair(nil)
		_ = client.Close()
		_ = server.Close()
		as.ErrorIs(client.WriteString("late"), ErrConnClosed)
	})

	t.Run("invalid utf8 text rejected", func(t *testing.T) {
		var as = assert.New(t)
		server, client := newConnPair(&ServerOption{CheckUtf8Enabled: true})
		defer server.Close()
		defer client.Close()

		go func() { _ = client.WriteMessage(OpcodeText, []byte{0xff, 0xfe, 0xfd}) }()
		_, err := server.ReadMessage()
		as.Error(err)
		ev, ok := err.(*internal.Error)
		as.True(ok)
		as.ErrorIs(ev.Err, ErrTextEncoding)
		as.Equal(internal.CloseUnsupportedData, ev.Code)
	})

	t.Run("payload over limit", func(t *testing.T) {
		var as = assert.New(t)
		server, client := newConnPair(&ServerOption{ReadMaxPayloadSize: 16})
		defer server.Close()
		defer client.Close()

		go func() { _ = client.WriteMessage(OpcodeBinary, internal.AlphabetNumeric.Generate(64)) }()
		_, err := server.ReadMessage()
		as.ErrorIs(err, internal.CloseMessageTooLarge)
	})
}

func TestConn_Compression(t *testing.T) {
	var newOption = func() *ServerOption {
		return &ServerOption{
			PermessageDeflate: PermessageDeflate{
				Enabled:               true,
				Threshold:             1,
				ServerContextTakeover: true,
				ClientContextTakeover: true,
			},
		}
	}

	t.Run("compressed round trip", func(t *testing.T) {
		var as = assert.New(t)
		server, client := newConnPair(newOption())
		defer server.Close()
		defer client.Close()

		var payload = strings.Repeat(`{"method":"Page.frameNavigated"}`, 32)
		go func() { _ = server.WriteString(payload) }()
		msg, err := client.ReadMessage()
		as.NoError(err)
		as.Equal(payload, string(msg.Bytes()))
		_ = msg.Close()
	})

	t.Run("context takeover across messages", func(t *testing.T) {
		var as = assert.New(t)
		server, client := newConnPair(newOption())
		defer server.Close()
		defer client.Close()

		for i := 0; i < 10; i++ {
			var payload = strings.Repeat("repeated payload benefits from the shared window ", i+1)
			go func() { _ = client.WriteString(payload) }()
			msg, err := server.ReadMessage()
			as.NoError(err)
			as.Equal(payload, string(msg.Bytes()))
			_ = msg.Close()
		}
	})

	t.Run("below threshold stays uncompressed", func(t *testing.T) {
		var as = assert.New(t)
		var option = newOption()
		option.PermessageDeflate.Threshold = 1024
		server, client := newConnPair(option)
		defer server.Close()
		defer client.Close()

		go func() { _ = server.WriteString("tiny") }()
		msg, err := client.ReadMessage()
		as.NoError(err)
		as.False(msg.compressed)
		as.Equal("tiny", string(msg.Bytes()))
		_ = msg.Close()
	})
}

func TestConn_Accessors(t *testing.T) {
	var as = assert.New(t)
	server, client := newConnPair(nil)
	defer server.Close()
	defer client.Close()

	as.Equal("", server.Subprotocol())
	as.False(server.PermessageDeflate().Enabled)
	as.NotNil(server.Session())
	as.NotNil(server.NetConn())

	server.Session().Store("user", "alice")
	v, ok := server.Session().Load("user")
	as.True(ok)
	as.Equal("alice", v)
}
