package internal

import (
	"crypto/sha1"
	"encoding/base64"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ComputeAcceptKey 计算 Sec-WebSocket-Accept 的值
// computes the value of the Sec-WebSocket-Accept header
func ComputeAcceptKey(challengeKey string) string {
	h := sha1.New()
	buf := make([]byte, 0, 64)
	buf = append(buf, challengeKey...)
	buf = append(buf, MagicNumber...)
	h.Write(buf)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// 前 21 个字符任意 base64 字符, 第 22 个字符受限于 16 字节密钥的两个剩余比特, 填充必须为零
// RFC 4648: the two trailing padding bits must be zero, which restricts the 22nd character.
var challengeKeyRegexp = regexp.MustCompile(`^[+/0-9A-Za-z]{21}[AQgw]==$`)

// DecodeChallengeKey 严格校验并解码 Sec-WebSocket-Key
// validates a challenge key strictly before decoding, a lenient base64
// decoder would silently accept keys with non-zero padding bits
func DecodeChallengeKey(challengeKey string) ([]byte, bool) {
	if !challengeKeyRegexp.MatchString(challengeKey) {
		return nil, false
	}
	p, err := base64.StdEncoding.DecodeString(challengeKey)
	if err != nil || len(p) != 16 {
		return nil, false
	}
	return p, true
}

// Split 分割字符串, 去除空白和空串
// splits the string, trimming whitespace and dropping empty elements
func Split(s string, sep string) []string {
	var list = strings.Split(s, sep)
	var j = 0
	for _, v := range list {
		if v = strings.TrimSpace(v); v != "" {
			list[j] = v
			j++
		}
	}
	return list[:j]
}

// HttpHeaderEqual 不区分大小写比较头部值
// case-insensitively compares header values
func HttpHeaderEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}

// HttpHeaderContains 判断逗号分隔的头部值中是否包含某个令牌
// checks whether a comma-separated header value contains the token
func HttpHeaderContains(value string, token string) bool {
	for _, v := range Split(value, ",") {
		if strings.EqualFold(v, token) {
			return true
		}
	}
	return false
}

// GetIntersectionElem 返回两个切片的第一个交集元素
// returns the first intersection element of two slices
func GetIntersectionElem(a, b []string) string {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return x
			}
		}
	}
	return ""
}

// SelectValue 三元表达式
// ternary operation
func SelectValue[T any](ok bool, a, b T) T {
	if ok {
		return a
	}
	return b
}

// WithDefault 如果原值为零值, 返回新值, 否则返回原值
// if the original value is the zero value, return the new value, otherwise return the original
func WithDefault[T comparable](d, v T) T {
	var zero T
	if v == zero {
		return d
	}
	return v
}

func Min[T int | int64 | uint64](a, b T) T {
	if a < b {
		return a
	}
	return b
}

func Max[T int | int64 | uint64](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// BinaryPow 返回 2 的 n 次幂
// returns 2 to the nth power
func BinaryPow(n int) int {
	return 1 << n
}

// BinaryCeil 将给定的 uint32 值向上取整到最近的 2 的幂
// rounds up the given uint32 value to the nearest power of 2
func BinaryCeil(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}

// IsSameSlice 比较两个切片是否相同
// checks whether two slices are identical
func IsSameSlice[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}

// CheckEncoding 检查 payload 的编码是否有效
// checks if the encoding of the payload is valid
func CheckEncoding(enabled bool, opcode uint8, payload []byte) bool {
	if enabled && (opcode == 1 || opcode == 8) {
		return utf8.Valid(payload)
	}
	return true
}
