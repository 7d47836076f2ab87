package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeAcceptKey(t *testing.T) {
	var as = assert.New(t)
	// RFC 6455 section 1.3 样例
	as.Equal("s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", ComputeAcceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestDecodeChallengeKey(t *testing.T) {
	var as = assert.New(t)

	p, ok := DecodeChallengeKey("dGhlIHNhbXBsZSBub25jZQ==")
	as.True(ok)
	as.Equal(16, len(p))

	for _, key := range []string{
		"",
		"dGhlIHNhbXBsZSBub25jZQ",   // 缺少填充
		"dGhlIHNhbXBsZSBub25jZQ=",  // 填充不完整
		"dGhlIHNhbXBsZSBub25jZR==", // 填充比特非零
		"dGhlIHNhbXBsZSBub2 jZQ==", // 非法字符
		"dGhlIHNhbXBsZQ==",         // 过短
		"dGhlIHNhbXBsZSBub25jZXNhbQ==",
	} {
		_, ok := DecodeChallengeKey(key)
		as.False(ok, key)
	}
}

func TestSplit(t *testing.T) {
	var as = assert.New(t)
	as.True(IsSameSlice([]string{"chat", "superchat"}, Split("chat, superchat", ",")))
	as.True(IsSameSlice([]string{"a", "b"}, Split(" a ,, b ,", ",")))
	as.Equal(0, len(Split("", ",")))
}

func TestHttpHeader(t *testing.T) {
	var as = assert.New(t)
	as.True(HttpHeaderEqual("WebSocket", "websocket"))
	as.False(HttpHeaderEqual("h2c", "websocket"))

	as.True(HttpHeaderContains("keep-alive, Upgrade", "upgrade"))
	as.True(HttpHeaderContains("Upgrade", "Upgrade"))
	as.False(HttpHeaderContains("keep-alive", "Upgrade"))
	as.False(HttpHeaderContains("", "Upgrade"))
}

func TestGetIntersectionElem(t *testing.T) {
	var as = assert.New(t)
	as.Equal("chat", GetIntersectionElem([]string{"chat", "superchat"}, []string{"other", "chat"}))
	as.Equal("", GetIntersectionElem([]string{"chat"}, []string{"other"}))
	as.Equal("", GetIntersectionElem(nil, []string{"chat"}))
}

func TestMathHelpers(t *testing.T) {
	var as = assert.New(t)
	as.Equal(1, Min(1, 2))
	as.Equal(2, Max(1, 2))
	as.Equal(1024, BinaryPow(10))
	as.Equal(uint32(1), BinaryCeil(1))
	as.Equal(uint32(4), BinaryCeil(3))
	as.Equal(uint32(1024), BinaryCeil(1000))
	as.Equal("a", SelectValue(true, "a", "b"))
	as.Equal("b", SelectValue(false, "a", "b"))
	as.Equal("fallback", WithDefault("fallback", ""))
	as.Equal("value", WithDefault("fallback", "value"))
}

func TestCheckEncoding(t *testing.T) {
	var as = assert.New(t)
	as.True(CheckEncoding(true, 1, []byte("hello")))
	as.False(CheckEncoding(true, 1, []byte{0xff, 0xfe}))
	as.True(CheckEncoding(true, 2, []byte{0xff, 0xfe}))
	as.True(CheckEncoding(false, 1, []byte{0xff, 0xfe}))
	as.False(CheckEncoding(true, 8, []byte{0xff, 0xfe}))
}
