package wspect

import (
	"strconv"
	"strings"

	"github.com/wspect/wspect/internal"
)

const (
	minWindowBits = 8
	maxWindowBits = 15
)

// permessage-deflate 拓展参数, RFC 7692
// parameter keys of the permessage-deflate extension, RFC 7692
const (
	paramServerNoContextTakeover = "server_no_context_takeover"
	paramClientNoContextTakeover = "client_no_context_takeover"
	paramServerMaxWindowBits     = "server_max_window_bits"
	paramClientMaxWindowBits     = "client_max_window_bits"
)

// ExtensionParam 拓展参数
// 参数可以没有值 (HasValue=false), 此时 Val 为空串
// a single extension parameter
// A parameter may carry no value (HasValue=false), in which case Val is empty.
type ExtensionParam struct {
	Key      string
	Val      string
	HasValue bool
}

// ExtensionOffer 一条拓展提议, 对应 Sec-WebSocket-Extensions 头部的一个逗号分隔段
// one extension offer, one comma-separated segment of the Sec-WebSocket-Extensions header
type ExtensionOffer struct {
	Name   string
	Params []ExtensionParam
}

// GetParam 返回第一个键等于 key 的参数
// returns the first parameter whose key equals key
func (c *ExtensionOffer) GetParam(key string) (ExtensionParam, bool) {
	for _, v := range c.Params {
		if v.Key == key {
			return v, true
		}
	}
	return ExtensionParam{}, false
}

// ParseExtensions 解析 Sec-WebSocket-Extensions 头部
// 提议以逗号分隔, 参数以分号分隔, 参数值可以使用双引号包裹; 分隔符周围的空白不敏感;
// 空提议 (连续的逗号) 会被丢弃.
// parses a Sec-WebSocket-Extensions header value.
// Offers are comma-separated, parameters are semicolon-separated, parameter
// values may be quoted. Whitespace around delimiters is insignificant and
// empty offers (doubled commas) are dropped.
func ParseExtensions(header string) []ExtensionOffer {
	var offers = make([]ExtensionOffer, 0, 2)
	for _, segment := range splitUnquoted(header, ',') {
		var parts = splitUnquoted(segment, ';')
		if len(parts) == 0 {
			continue
		}
		var name = strings.TrimSpace(parts[0])
		if name == "" {
			continue
		}
		var offer = ExtensionOffer{Name: name}
		for _, part := range parts[1:] {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if idx := strings.IndexByte(part, '='); idx >= 0 {
				var key = strings.TrimSpace(part[:idx])
				var val = unquoteValue(strings.TrimSpace(part[idx+1:]))
				offer.Params = append(offer.Params, ExtensionParam{Key: key, Val: val, HasValue: true})
			} else {
				offer.Params = append(offer.Params, ExtensionParam{Key: part})
			}
		}
		offers = append(offers, offer)
	}
	return offers
}

// BuildExtensions 构建 Sec-WebSocket-Extensions 头部, 是 ParseExtensions 的逆运算
// builds a Sec-WebSocket-Extensions header value, the inverse of ParseExtensions
func BuildExtensions(offers []ExtensionOffer) string {
	var b = strings.Builder{}
	for i, offer := range offers {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(offer.Name)
		for _, p := range offer.Params {
			b.WriteString("; ")
			b.WriteString(p.Key)
			if p.HasValue {
				b.WriteString("=")
				b.WriteString(quoteValue(p.Val))
			}
		}
	}
	return b.String()
}

// ParseSubprotocols 解析 Sec-WebSocket-Protocol 头部
// parses a Sec-WebSocket-Protocol header value
func ParseSubprotocols(header string) []string {
	return internal.Split(header, ",")
}

// BuildSubprotocols 构建 Sec-WebSocket-Protocol 头部, 是 ParseSubprotocols 的逆运算
// builds a Sec-WebSocket-Protocol header value, the inverse of ParseSubprotocols
func BuildSubprotocols(subprotocols []string) string {
	return strings.Join(subprotocols, ", ")
}

// 按分隔符切割, 忽略双引号内部的分隔符
// splits on sep, ignoring separators inside double quotes
func splitUnquoted(s string, sep byte) []string {
	var list = make([]string, 0, 4)
	var begin = 0
	var quoted = false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if quoted {
				i++
			}
		case '"':
			quoted = !quoted
		case sep:
			if !quoted {
				if v := strings.TrimSpace(s[begin:i]); v != "" {
					list = append(list, v)
				}
				begin = i + 1
			}
		}
	}
	if v := strings.TrimSpace(s[begin:]); v != "" {
		list = append(list, v)
	}
	return list
}

// 去除参数值的双引号包裹, 并还原转义字符
// strips surrounding quotes from a parameter value and unescapes it
func unquoteValue(s string) string {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s
	}
	var b = strings.Builder{}
	for i := 1; i < len(s)-1; i++ {
		if s[i] == '\\' && i+1 < len(s)-1 {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// 值包含非 token 字符时使用双引号包裹
// quotes a parameter value when it contains non-token characters
func quoteValue(s string) string {
	if isToken(s) {
		return s
	}
	var b = strings.Builder{}
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}

// RFC 2616 token 字符集
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		var c = s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return true
}

// ExtensionProcessor 拓展协商器
// 对每条提议计算响应; 返回 nil 表示拒绝该提议, 握手仍然继续 (优雅降级),
// 协商失败从不作为 error 向上传播.
// negotiates a single extension offer. A nil response rejects the offer while
// the handshake proceeds without the extension; rejection is never an error.
type ExtensionProcessor interface {
	// Name 拓展名称
	// name of the extension
	Name() string

	// Negotiate 根据提议计算响应提议
	// computes the response offer for a client offer
	Negotiate(offer ExtensionOffer) *ExtensionOffer
}

// ExtensionRegistry 拓展注册表, 按名称分发提议
// extension registry, dispatches offers by name
type ExtensionRegistry struct {
	factories map[string]func() ExtensionProcessor
}

func NewExtensionRegistry() *ExtensionRegistry {
	return &ExtensionRegistry{factories: make(map[string]func() ExtensionProcessor)}
}

// Register 注册一个拓展
// registers an extension constructor
func (c *ExtensionRegistry) Register(name string, f func() ExtensionProcessor) {
	c.factories[name] = f
}

// Negotiate 解析头部并逐条协商
// 每个拓展名称最多接受一条提议; 未注册的拓展和被拒绝的提议直接跳过.
// parses the header and negotiates offer by offer. At most one offer per
// extension name is accepted; unregistered extensions and rejected offers are
// skipped.
func (c *ExtensionRegistry) Negotiate(header string) ([]ExtensionOffer, []ExtensionProcessor) {
	var responses []ExtensionOffer
	var accepted []ExtensionProcessor
	var seen = make(map[string]bool)
	for _, offer := range ParseExtensions(header) {
		if seen[offer.Name] {
			continue
		}
		factory, ok := c.factories[offer.Name]
		if !ok {
			continue
		}
		processor := factory()
		if response := processor.Negotiate(offer); response != nil {
			seen[offer.Name] = true
			responses = append(responses, *response)
			accepted = append(accepted, processor)
		}
	}
	return responses, accepted
}

// deflateProcessor permessage-deflate 协商器
// 状态机: OFFERED -> PARSED -> ACCEPTED/REJECTED; 响应发出后配置冻结, 连接存续期内不再变更.
// permessage-deflate negotiator.
// State machine: OFFERED -> PARSED -> ACCEPTED/REJECTED; once the response has
// been produced the configuration is frozen for the connection lifetime.
type deflateProcessor struct {
	// 服务端本地偏好
	// server-side local preferences
	options PermessageDeflate

	// 协商结果, 仅在 accepted=true 时有效
	// negotiated configuration, valid only when accepted=true
	config   PermessageDeflate
	accepted bool
}

func newDeflateProcessor(options PermessageDeflate) *deflateProcessor {
	return &deflateProcessor{options: options}
}

func (c *deflateProcessor) Name() string {
	return internal.PermessageDeflate
}

// Config 返回协商结果
// returns the negotiated configuration
func (c *deflateProcessor) Config() (PermessageDeflate, bool) {
	return c.config, c.accepted
}

// Negotiate 协商一条 permessage-deflate 提议
// 未知参数和非法参数值会拒绝整条提议; 响应只包含实际接受的参数, 不回显默认值.
// negotiates one permessage-deflate offer.
// Unknown parameters and invalid values reject the whole offer; the response
// contains only the parameters that were actually accepted, defaults are
// never echoed.
func (c *deflateProcessor) Negotiate(offer ExtensionOffer) *ExtensionOffer {
	var config = c.options
	var response = &ExtensionOffer{Name: internal.PermessageDeflate}
	var seen = make(map[string]bool)
	var clientBitsOffered = false

	for _, p := range offer.Params {
		if seen[p.Key] {
			return nil
		}
		seen[p.Key] = true

		switch p.Key {
		case paramServerNoContextTakeover:
			if p.HasValue {
				return nil
			}
			config.ServerContextTakeover = false
			response.Params = append(response.Params, ExtensionParam{Key: paramServerNoContextTakeover})

		case paramClientNoContextTakeover:
			if p.HasValue {
				return nil
			}
			config.ClientContextTakeover = false
			response.Params = append(response.Params, ExtensionParam{Key: paramClientNoContextTakeover})

		case paramServerMaxWindowBits:
			if !p.HasValue {
				return nil
			}
			bits, ok := parseWindowBits(p.Val)
			if !ok {
				return nil
			}
			config.ServerMaxWindowBits = internal.Min(bits, c.options.ServerMaxWindowBits)
			response.Params = append(response.Params, ExtensionParam{
				Key: paramServerMaxWindowBits, Val: strconv.Itoa(config.ServerMaxWindowBits), HasValue: true,
			})

		case paramClientMaxWindowBits:
			clientBitsOffered = true
			if p.HasValue {
				bits, ok := parseWindowBits(p.Val)
				if !ok {
					return nil
				}
				config.ClientMaxWindowBits = internal.Min(bits, c.options.ClientMaxWindowBits)
				response.Params = append(response.Params, ExtensionParam{
					Key: paramClientMaxWindowBits, Val: strconv.Itoa(config.ClientMaxWindowBits), HasValue: true,
				})
			} else if c.options.ClientMaxWindowBits < maxWindowBits {
				// 无值表示客户端支持该参数, 由服务端指定窗口大小
				// A valueless parameter means the client supports it and the server picks the bits.
				config.ClientMaxWindowBits = c.options.ClientMaxWindowBits
				response.Params = append(response.Params, ExtensionParam{
					Key: paramClientMaxWindowBits, Val: strconv.Itoa(config.ClientMaxWindowBits), HasValue: true,
				})
			}

		default:
			return nil
		}
	}

	// 客户端没有提供 client_max_window_bits 时, 服务端不能授予未提议的能力
	// The server cannot grant a capability the client did not offer.
	if c.options.ClientMaxWindowBits < maxWindowBits && !clientBitsOffered {
		return nil
	}

	config.Enabled = true
	c.config = config
	c.accepted = true
	return response
}

// parseWindowBits 解析滑动窗口指数, 仅接受 [8,15] 范围内的十进制整数
// parses a sliding window exponent, accepting only decimal integers in [8,15]
func parseWindowBits(s string) (int, bool) {
	if len(s) == 0 || len(s) > 2 {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minWindowBits || n > maxWindowBits {
		return 0, false
	}
	return n, true
}
