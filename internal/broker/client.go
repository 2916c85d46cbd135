package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/openmsi-go/chunkstream/internal/logging"
)

// Client is a TCP + JSON-RPC pub/sub implementation of Producer and
// Consumer: one persistent connection, a background listener goroutine,
// and channel-based correlation of requests to responses.
type Client struct {
	address string
	log     *logging.Logger

	mu      sync.Mutex
	conn    net.Conn
	encoder *json.Encoder
	decoder *json.Decoder
	reqID   int64

	listenersMu sync.RWMutex
	listeners   map[string]chan Message

	pendingMu sync.Mutex
	pending   map[string]chan rpcResponse

	unacked sync.WaitGroup
}

var (
	_ Producer = (*Client)(nil)
	_ Consumer = (*Client)(nil)
)

type rpcRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// wireMessage is the envelope carried over the wire for a pub/sub delivery.
// Payload round-trips through JSON's standard base64 encoding of []byte, so
// arbitrary chunk bytes survive intact.
type wireMessage struct {
	ID      string `json:"id"`
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

// NewClient dials address and completes the broker handshake. log may be
// nil, in which case a default logger is used.
func NewClient(address string, log *logging.Logger) (*Client, error) {
	if log == nil {
		log = logging.Default("broker")
	}
	c := &Client{
		address:   address,
		log:       log,
		listeners: make(map[string]chan Message),
		pending:   make(map[string]chan rpcResponse),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	conn, err := net.Dial("tcp", c.address)
	if err != nil {
		return fmt.Errorf("dial broker at %s: %w", c.address, err)
	}
	c.conn = conn
	c.encoder = json.NewEncoder(conn)
	c.decoder = json.NewDecoder(conn)
	go c.listen()

	time.Sleep(10 * time.Millisecond)
	if _, err := c.call("connect", nil); err != nil {
		conn.Close()
		return fmt.Errorf("register with broker: %w", err)
	}
	c.log.Debug("connected to broker at %s", c.address)
	return nil
}

func (c *Client) call(method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.reqID++
	reqID := fmt.Sprintf("req_%d", c.reqID)
	c.mu.Unlock()

	if conn == nil {
		return nil, fmt.Errorf("not connected to broker")
	}

	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		raw = b
	}

	respCh := make(chan rpcResponse, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respCh
	c.pendingMu.Unlock()

	req := rpcRequest{ID: reqID, Method: method, Params: raw}
	c.mu.Lock()
	err := c.encoder.Encode(req)
	c.mu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, fmt.Errorf("broker error: %s (code %d)", resp.Error.Message, resp.Error.Code)
		}
		return resp.Result, nil
	case <-time.After(30 * time.Second):
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("request %s timed out", method)
	}
}

func (c *Client) listen() {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("broker listener panic: %v", r)
		}
	}()

	for {
		var raw json.RawMessage
		if err := c.decoder.Decode(&raw); err != nil {
			c.log.Debug("broker connection closed: %v", err)
			c.closeListeners()
			return
		}

		var probe struct {
			ID     string          `json:"id"`
			Result json.RawMessage `json:"result,omitempty"`
			Error  *rpcError       `json:"error,omitempty"`
			Topic  string          `json:"topic"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			c.log.Warn("malformed broker frame: %v", err)
			continue
		}

		if probe.ID != "" && (probe.Result != nil || probe.Error != nil) {
			var resp rpcResponse
			json.Unmarshal(raw, &resp)
			c.pendingMu.Lock()
			if ch, ok := c.pending[resp.ID]; ok {
				ch <- resp
				delete(c.pending, resp.ID)
			}
			c.pendingMu.Unlock()
			continue
		}

		if probe.Topic != "" {
			var wm wireMessage
			if err := json.Unmarshal(raw, &wm); err != nil {
				c.log.Warn("malformed delivery on topic %s: %v", probe.Topic, err)
				continue
			}
			c.listenersMu.RLock()
			ch, ok := c.listeners[wm.Topic]
			c.listenersMu.RUnlock()
			if !ok {
				continue
			}
			msg := Message{Topic: wm.Topic, Payload: wm.Payload}
			select {
			case ch <- msg:
			default:
				c.log.Warn("subscriber channel full for topic %s, dropping delivery", wm.Topic)
			}
		}
	}
}

func (c *Client) closeListeners() {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	for topic, ch := range c.listeners {
		close(ch)
		delete(c.listeners, topic)
	}
}

// Publish implements Producer.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.unacked.Add(1)
	defer c.unacked.Done()

	done := make(chan error, 1)
	go func() {
		_, err := c.call("publish", wireMessage{Topic: topic, Payload: payload})
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush implements Producer. The JSON-RPC call/response protocol already
// acknowledges each Publish synchronously, so Flush only needs to wait for
// any in-flight calls to finish.
func (c *Client) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.unacked.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe implements Consumer.
func (c *Client) Subscribe(ctx context.Context, topic, groupID string) (<-chan Message, error) {
	params := map[string]string{"topic": topic, "group_id": groupID}
	if _, err := c.call("subscribe", params); err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	ch := make(chan Message, 100)
	c.listenersMu.Lock()
	c.listeners[topic] = ch
	c.listenersMu.Unlock()

	go func() {
		<-ctx.Done()
		c.listenersMu.Lock()
		if existing, ok := c.listeners[topic]; ok && existing == ch {
			delete(c.listeners, topic)
		}
		c.listenersMu.Unlock()
	}()

	return ch, nil
}

// Close implements both Producer and Consumer.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
