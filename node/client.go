package node

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/stitchbot/stitchbot/logger"
	"github.com/stitchbot/stitchbot/models"
)

const (
	methodGetBlockDagInfo   = "getBlockDagInfo"
	methodGetBlock          = "getBlock"
	methodNotifyBlockAdded  = "notifyBlockAdded"
	methodBlockAdded        = "blockAddedNotification"
	methodSubmitTransaction = "submitTransaction"

	writeWait        = 10 * time.Second
	streamBufferSize = 256
)

var (
	// ErrNotFound is returned when the node does not know the requested block.
	ErrNotFound = errors.New("block not found")
	// ErrClosed is returned by calls made after the connection went away.
	ErrClosed = errors.New("rpc connection closed")
)

// Client is the node surface used by the agent.
type Client interface {
	GetTipHashes(ctx context.Context) ([]models.BlockHash, error)
	GetBlock(ctx context.Context, hash models.BlockHash) (*models.Block, error)
	SubscribeBlockAdded(ctx context.Context) (BlockStream, error)
	SubmitTransaction(ctx context.Context, tx *models.PaymentTx) (string, error)
}

// BlockStream yields added blocks in delivery order. Recv returns an error
// once the stream has terminated.
type BlockStream interface {
	Recv(ctx context.Context) (*models.Block, error)
}

type request struct {
	ID     uint64      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

type rpcError struct {
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return e.Message }

type message struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

// RPCClient talks to the node's JSON wRPC endpoint over a single websocket.
// Responses are matched to requests by id; notifications are routed to the
// block-added stream.
type RPCClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan message
	stream  *blockStream
	err     error
	done    chan struct{}
}

// Dial connects to the node at url, e.g. ws://127.0.0.1:18110.
func Dial(ctx context.Context, url string) (*RPCClient, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial node %s (status %d)", url, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "dial node %s", url)
	}
	c := &RPCClient{
		conn:    conn,
		pending: make(map[uint64]chan message),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close shuts the connection down. Pending calls and the stream fail with ErrClosed.
func (c *RPCClient) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *RPCClient) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(errors.Wrap(ErrClosed, err.Error()))
			return
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Logger.Warn("Undecodable node message", zap.Error(err))
			continue
		}

		if msg.ID != nil {
			c.mu.Lock()
			ch, ok := c.pending[*msg.ID]
			delete(c.pending, *msg.ID)
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
			continue
		}
		if msg.Method == methodBlockAdded {
			c.deliver(msg.Params)
		}
	}
}

func (c *RPCClient) deliver(params json.RawMessage) {
	var n struct {
		Block models.Block `json:"block"`
	}
	if err := json.Unmarshal(params, &n); err != nil {
		logger.Logger.Warn("Undecodable block notification", zap.Error(err))
		return
	}
	c.mu.Lock()
	s := c.stream
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.push(&n.Block)
}

func (c *RPCClient) shutdown(err error) {
	c.mu.Lock()
	c.err = err
	pending := c.pending
	c.pending = make(map[uint64]chan message)
	s := c.stream
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	if s != nil {
		s.fail(err)
	}
}

func (c *RPCClient) call(ctx context.Context, method string, params, result interface{}) error {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan message, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	data, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		c.forget(id)
		return errors.Wrapf(err, "encode %s", method)
	}
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return errors.Wrapf(err, "send %s", method)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case msg, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		if msg.Error != nil {
			if strings.Contains(strings.ToLower(msg.Error.Message), "not found") {
				return errors.Wrap(ErrNotFound, msg.Error.Message)
			}
			return errors.Wrap(msg.Error, method)
		}
		if result == nil || len(msg.Params) == 0 {
			return nil
		}
		return errors.Wrapf(json.Unmarshal(msg.Params, result), "decode %s", method)
	}
}

func (c *RPCClient) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// GetTipHashes returns the node's current DAG tips.
func (c *RPCClient) GetTipHashes(ctx context.Context) ([]models.BlockHash, error) {
	var res struct {
		TipHashes []models.BlockHash `json:"tipHashes"`
	}
	if err := c.call(ctx, methodGetBlockDagInfo, struct{}{}, &res); err != nil {
		return nil, err
	}
	return res.TipHashes, nil
}

// GetBlock fetches a block with its transactions.
func (c *RPCClient) GetBlock(ctx context.Context, hash models.BlockHash) (*models.Block, error) {
	params := struct {
		Hash                models.BlockHash `json:"hash"`
		IncludeTransactions bool             `json:"includeTransactions"`
	}{hash, true}
	var res struct {
		Block *models.Block `json:"block"`
	}
	if err := c.call(ctx, methodGetBlock, params, &res); err != nil {
		return nil, err
	}
	if res.Block == nil {
		return nil, errors.Wrap(ErrNotFound, string(hash))
	}
	return res.Block, nil
}

// SubmitTransaction submits a signed payment and returns its transaction id.
func (c *RPCClient) SubmitTransaction(ctx context.Context, tx *models.PaymentTx) (string, error) {
	params := struct {
		Transaction *models.PaymentTx `json:"transaction"`
		AllowOrphan bool              `json:"allowOrphan"`
	}{tx, false}
	var res struct {
		TransactionID string `json:"transactionId"`
	}
	if err := c.call(ctx, methodSubmitTransaction, params, &res); err != nil {
		return "", err
	}
	return res.TransactionID, nil
}

// SubscribeBlockAdded starts block-added notifications. Only one stream is
// kept per connection; subscribing again replaces it.
func (c *RPCClient) SubscribeBlockAdded(ctx context.Context) (BlockStream, error) {
	s := newBlockStream(streamBufferSize)
	c.mu.Lock()
	c.stream = s
	c.mu.Unlock()

	if err := c.call(ctx, methodNotifyBlockAdded, struct{}{}, nil); err != nil {
		c.mu.Lock()
		if c.stream == s {
			c.stream = nil
		}
		c.mu.Unlock()
		return nil, errors.Wrap(err, "subscribe block added")
	}
	return s, nil
}
