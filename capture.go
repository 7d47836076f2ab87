package wspect

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"io"
	"strings"
	"unicode/utf8"
)

// CapturedPacket 一条原始抓包记录
// 生存期很短, 解析后立刻被重组器消费
// one raw captured network record, consumed by the reassembler immediately
// after parsing
type CapturedPacket struct {
	// 抓包时间戳, 原样保留
	// capture timestamp, kept verbatim
	Timestamp string

	// 逻辑连接的路由键
	// routing key of the logical connection
	Port string

	// 解码后的负载
	// decoded payload bytes
	Payload []byte
}

// CaptureMessage 重组出的一条完整消息
// complete reassembled message
type CaptureMessage struct {
	// 消息完成时所在分组的时间戳
	// timestamp of the group in which the record completed
	Timestamp string

	// UTF-8 解码后的内容
	// the UTF-8 decoded content
	Text string

	// 全局序号, 从零开始单调递增, 只分配给解码成功的记录
	// global zero-based monotonically increasing index, assigned only to
	// successfully decoded records
	Index int
}

// Demultiplexer 抓包流分解与重组器
// 将按端口交错的抓包流还原为逐条完整的长度前缀消息.
// 解码和分帧层面的错误永远不会作为 error 向上传播: 损坏的片段被告警并丢弃,
// 不完整的记录被挂起等待后续数据, 处理过程始终继续.
// capture stream demultiplexer and reassembler.
// Restores the port-interleaved capture stream into complete length-prefixed
// messages. Decode and framing failures never propagate as errors: corrupt
// fragments are logged and dropped, incomplete records are deferred until more
// data arrives, and processing always continues.
type Demultiplexer struct {
	logger Logger

	// 每个端口一个挂起缓冲区, 保存跨包截断的不完整记录
	// one pending buffer per port, holding records truncated across packets
	pending *ConcurrentMap[string, []byte]

	index int
}

func NewDemultiplexer(logger Logger) *Demultiplexer {
	if logger == nil {
		logger = defaultLogger
	}
	return &Demultiplexer{
		logger:  logger,
		pending: NewConcurrentMap[string, []byte](16),
	}
}

// Process 处理一批抓包记录行
// 行格式为制表符分隔的 时间戳, 端口, 十六进制负载; 空行被跳过.
// processes a batch of capture lines.
// Lines are tab-separated timestamp, port and hex payload; empty lines are
// skipped.
func (c *Demultiplexer) Process(lines []string) []CaptureMessage {
	var messages = make([]CaptureMessage, 0, len(lines))

	// 相邻的同端口记录合并为一个分组; 这不是按端口的全局排序,
	// 端口切换总是开启新的分组.
	// Adjacent same-port records coalesce into one group; this is not a global
	// sort by port, a port switch always starts a new group.
	var groupPort = ""
	var groupTimestamp = ""
	var groupBuffer []byte
	var flush = func() {
		if groupPort != "" {
			messages = append(messages, c.drain(groupTimestamp, groupPort, groupBuffer)...)
			groupPort, groupTimestamp, groupBuffer = "", "", nil
		}
	}

	for _, line := range lines {
		packet, ok := c.parseLine(line)
		if !ok {
			continue
		}
		if packet.Port != groupPort {
			flush()
			groupPort, groupTimestamp = packet.Port, packet.Timestamp
		}
		groupBuffer = append(groupBuffer, packet.Payload...)
	}
	flush()
	return messages
}

// ProcessReader 读取全部抓包记录后一次性处理
// 分组合并依赖相邻性, 因此输入先被完整缓冲再处理.
// buffers the full input and processes it in one pass; coalescing depends on
// adjacency, so the input is fully buffered first.
func (c *Demultiplexer) ProcessReader(r io.Reader) ([]CaptureMessage, error) {
	var lines []string
	var scanner = bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return c.Process(lines), nil
}

// parseLine 解析一行抓包记录
// parses one capture line
func (c *Demultiplexer) parseLine(line string) (CapturedPacket, bool) {
	if strings.TrimSpace(line) == "" {
		return CapturedPacket{}, false
	}
	var fields = strings.SplitN(line, "\t", 3)
	if len(fields) < 3 {
		c.logger.Warn("wspect: malformed capture line:", line)
		return CapturedPacket{}, false
	}

	var payload, ok = c.decodeHex(fields[2])
	if !ok {
		return CapturedPacket{}, false
	}
	return CapturedPacket{Timestamp: fields[0], Port: fields[1], Payload: payload}, true
}

// decodeHex 解码十六进制负载
// 长度为奇数时丢弃末尾的半个字节并告警; 这是有损行为, 下游工具依赖这种
// 尽力而为的恢复方式来处理长时间运行的抓包.
// decodes a hex payload.
// An odd-length string drops the trailing nibble with a warning; this is
// lossy on purpose, downstream tooling relies on best-effort recovery for
// long-running captures.
func (c *Demultiplexer) decodeHex(s string) ([]byte, bool) {
	if len(s)%2 == 1 {
		c.logger.Warn("wspect: odd-length hex payload, dropping trailing nibble")
		s = s[:len(s)-1]
	}
	p, err := hex.DecodeString(s)
	if err != nil {
		c.logger.Warn("wspect: invalid hex payload:", err.Error())
		return nil, false
	}
	return p, true
}

// drain 将分组字节拼接到端口的挂起缓冲区后, 提取所有完整记录
// appends the group bytes to the port's pending buffer, then extracts every
// complete record
func (c *Demultiplexer) drain(timestamp string, port string, p []byte) []CaptureMessage {
	var sharding = c.pending.GetSharding(port)
	var buf, _ = sharding.Load(port)
	buf = append(buf, p...)

	var messages []CaptureMessage
	for {
		record, consumed, ok := nextRecord(buf)
		if !ok {
			break
		}
		buf = buf[consumed:]

		if !utf8.Valid(record) {
			c.logger.Warn("wspect: dropping record with invalid utf8, port:", port)
			continue
		}
		messages = append(messages, CaptureMessage{Timestamp: timestamp, Text: string(record), Index: c.index})
		c.index++
	}

	if len(buf) > 0 {
		sharding.Store(port, buf)
	} else {
		sharding.Delete(port)
	}
	return messages
}

// 长度前缀的最大十进制位数; 更长的前缀必然描述不了一个可缓冲的负载,
// 且不加限制的累加会溢出
// maximum decimal digits of a length prefix; longer prefixes cannot describe a
// bufferable payload and unchecked accumulation would overflow
const maxLengthDigits = 18

// nextRecord 解析一条 "长度:负载" 记录
// 长度前缀无法解析或负载不足时返回 ok=false, 整个缓冲区被挂起.
// parses one "length:payload" record.
// Returns ok=false when the length prefix cannot be parsed or the payload is
// short, in which case the whole buffer stays pending.
func nextRecord(buf []byte) (record []byte, consumed int, ok bool) {
	var idx = bytes.IndexByte(buf, ':')
	if idx <= 0 || idx > maxLengthDigits {
		return nil, 0, false
	}
	var length = int64(0)
	for _, b := range buf[:idx] {
		if b < '0' || b > '9' {
			return nil, 0, false
		}
		length = length*10 + int64(b-'0')
	}
	var end = int64(idx) + 1 + length
	if int64(len(buf)) < end {
		return nil, 0, false
	}
	return buf[idx+1:end], int(end), true
}
