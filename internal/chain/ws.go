package chain

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// FinalityQuery subscribes to transaction finality notifications.
const FinalityQuery = "tm.event='TxFinality'"

type WSClient struct {
	Endpoint string
	Conn     *websocket.Conn
}

func NewWSClient(endpoint string) *WSClient {
	return &WSClient{Endpoint: endpoint}
}

func (c *WSClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.Endpoint, nil)
	if err != nil {
		return err
	}
	c.Conn = conn
	return nil
}

func (c *WSClient) Close() {
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}

func (c *WSClient) Subscribe(ctx context.Context, query string) error {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "subscribe",
		"params": map[string]any{
			"query": query,
		},
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.Conn.SetWriteDeadline(deadline)
	}
	return c.Conn.WriteJSON(payload)
}

func (c *WSClient) Read(ctx context.Context) ([]byte, error) {
	_, msg, err := c.Conn.ReadMessage()
	return msg, err
}

// ParseFinality extracts a finality notification from a subscription
// message. ok is false for acknowledgements and unrelated events.
func ParseFinality(msg []byte) (*TxInfo, bool, error) {
	var env struct {
		Result struct {
			Data json.RawMessage `json:"data"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, false, err
	}
	if env.Error != nil {
		return nil, false, errors.New(env.Error.Message)
	}
	if len(env.Result.Data) == 0 {
		return nil, false, nil
	}

	var data struct {
		Type  string `json:"type"`
		Value rpcTx  `json:"value"`
	}
	if err := json.Unmarshal(env.Result.Data, &data); err != nil {
		return nil, false, err
	}
	if !strings.Contains(data.Type, "TxFinality") {
		return nil, false, nil
	}
	if strings.TrimSpace(data.Value.Hash) == "" {
		return nil, false, nil
	}

	info, err := data.Value.info()
	if err != nil {
		return nil, false, err
	}
	if info.Timestamp.IsZero() {
		info.Timestamp = time.Now().UTC()
	}
	return info, true, nil
}
