package wspect

import (
	"encoding/json"
	"io"
)

// DevtoolsMessage 一条 devtools 协议消息信封
// 重组出的记录是 JSON-RPC 风格的 devtools 协议消息, 这里只解码信封,
// 参数和结果保持原始 JSON.
// one devtools protocol message envelope.
// Reassembled records are JSON-RPC style devtools protocol messages; only the
// envelope is decoded here, params and results stay raw JSON.
type DevtoolsMessage struct {
	ID        int64           `json:"id,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *DevtoolsError  `json:"error,omitempty"`
}

// DevtoolsError devtools 协议错误
// devtools protocol error
type DevtoolsError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// IsEvent 判断消息是否为事件 (没有 id 的通知)
// reports whether the message is an event, a notification without an id
func (c *DevtoolsMessage) IsEvent() bool {
	return c.ID == 0 && c.Method != ""
}

// DecodeDevtools 解码一条重组消息的信封
// decodes the envelope of a reassembled message
func DecodeDevtools(m CaptureMessage) (*DevtoolsMessage, error) {
	var msg = new(DevtoolsMessage)
	if err := json.Unmarshal([]byte(m.Text), msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ndjsonRow NDJSON 输出行
// one NDJSON output row
type ndjsonRow struct {
	Index     int    `json:"index"`
	Timestamp string `json:"timestamp"`
	ID        int64  `json:"id,omitempty"`
	Method    string `json:"method,omitempty"`
	Message   string `json:"message"`
}

// WriteNDJSON 以 NDJSON 格式输出重组消息
// 信封解码失败的消息仍然输出, 只是缺少 id 和 method 字段.
// writes reassembled messages as NDJSON.
// Messages whose envelope fails to decode are still emitted, just without the
// id and method fields.
func WriteNDJSON(w io.Writer, messages []CaptureMessage) error {
	var encoder = json.NewEncoder(w)
	for _, m := range messages {
		var row = ndjsonRow{Index: m.Index, Timestamp: m.Timestamp, Message: m.Text}
		if msg, err := DecodeDevtools(m); err == nil {
			row.ID = msg.ID
			row.Method = msg.Method
		}
		if err := encoder.Encode(row); err != nil {
			return err
		}
	}
	return nil
}
