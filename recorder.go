package wspect

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Recorder 实时抓包器
// 连接 devtools 调试端点, 将收到的消息追加为抓包记录, 供 Demultiplexer 回放.
// live capture recorder.
// Connects to a devtools debugging endpoint and appends inbound messages as
// capture records, for later replay through the Demultiplexer.
type Recorder struct {
	// devtools HTTP 端点, 例如 "http://127.0.0.1:9222"
	// devtools http endpoint, e.g. "http://127.0.0.1:9222"
	httpBase string

	logger Logger
}

func NewRecorder(httpBase string, logger Logger) *Recorder {
	if logger == nil {
		logger = defaultLogger
	}
	return &Recorder{httpBase: httpBase, logger: logger}
}

// targetEntry /json/list 条目
// one /json/list entry
type targetEntry struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

func (c *Recorder) listEntries(ctx context.Context) ([]targetEntry, error) {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(listCtx, http.MethodGet, c.httpBase+"/json/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wspect: /json/list: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var entries []targetEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Targets 列出打开的调试目标
// lists the open debugging targets
func (c *Recorder) Targets(ctx context.Context) ([]*target.Info, error) {
	entries, err := c.listEntries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{
			TargetID: target.ID(e.ID),
			Type:     e.Type,
			Title:    e.Title,
			URL:      e.URL,
		})
	}
	return out, nil
}

// DebuggerURL 返回第一个页面目标的调试地址
// returns the debugger url of the first page target
func (c *Recorder) DebuggerURL(ctx context.Context) (string, error) {
	entries, err := c.listEntries(ctx)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Type == "page" && e.WebSocketDebuggerURL != "" {
			return e.WebSocketDebuggerURL, nil
		}
	}
	return "", errors.New("wspect: no debuggable page target")
}

// Record 记录一条 devtools 连接上的消息流
// 每条入站消息写为一行抓包记录; ctx 取消时正常返回, 半截消息被静默丢弃.
// records the message stream of one devtools connection.
// Each inbound message becomes one capture line; when the ctx is cancelled the
// recorder returns normally and any partial message is discarded silently.
func (c *Recorder) Record(ctx context.Context, wsURL string, port string, w io.Writer) error {
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("wspect: dial: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var record = fmt.Sprintf("%d:%s", len(data), data)
		var line = fmt.Sprintf("%s\t%s\t%s\n",
			time.Now().UTC().Format(time.RFC3339Nano), port, hex.EncodeToString([]byte(record)))
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
}
