package wsclient

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"ScrollsReplayRecorder/internal/protocol"
)

// ClientState 客户端连接状态
type ClientState int32

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// MessageListener 协议消息监听器，在读取协程上同步调用
type MessageListener func(msg *protocol.Message)

// StateChangeHandler 状态变化处理器
type StateChangeHandler func(oldState, newState ClientState)

// ClientConfig 客户端配置
type ClientConfig struct {
	URL               string
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	ReconnectInterval time.Duration
	MaxReconnectTries int
	UserAgent         string
}

// DefaultClientConfig 返回默认配置
func DefaultClientConfig(url string) *ClientConfig {
	return &ClientConfig{
		URL:               url,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReconnectInterval: 2 * time.Second,
		MaxReconnectTries: 10,
		UserAgent:         "ScrollsReplayRecorder/1.0",
	}
}

// Client 游戏服务器的WebSocket客户端
// 每帧是一条JSON文本消息，解码后原样广播给所有监听器，支持自动重连
type Client struct {
	config *ClientConfig
	dialer *websocket.Dialer
	conn   *websocket.Conn
	state  atomic.Int32

	onStateChange StateChangeHandler

	// 同步控制
	mu            sync.RWMutex
	writeMu       sync.Mutex // 专用于WebSocket写入同步
	listenerMu    sync.RWMutex
	listeners     []MessageListener
	stopChan      chan struct{}
	reconnectChan chan struct{}

	// 统计
	reconnectCount atomic.Int32
	reconnects     atomic.Int32
	received       atomic.Uint64
	dropped        atomic.Uint64
}

// New 创建新的WebSocket客户端
func New(config *ClientConfig) *Client {
	if config == nil {
		panic("config cannot be nil")
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = config.HandshakeTimeout

	client := &Client{
		config:        config,
		dialer:        &dialer,
		stopChan:      make(chan struct{}),
		reconnectChan: make(chan struct{}, 1),
	}

	client.setState(StateDisconnected)
	return client
}

// AddListener 注册消息监听器，必须在Connect之前调用
func (c *Client) AddListener(listener MessageListener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.listeners = append(c.listeners, listener)
}

// SetStateChangeHandler 设置状态变化处理器
func (c *Client) SetStateChangeHandler(handler StateChangeHandler) {
	c.onStateChange = handler
}

// Connect 连接到服务器
func (c *Client) Connect(ctx context.Context) error {
	if !c.compareAndSwapState(StateDisconnected, StateConnecting) {
		return errors.New("client is not in disconnected state")
	}

	if err := c.doConnect(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.setState(StateConnected)

	// 启动后台任务
	go c.readLoop()
	go c.reconnectLoop()

	return nil
}

// doConnect 执行实际的连接逻辑
func (c *Client) doConnect(ctx context.Context) error {
	headers := http.Header{
		"User-Agent": []string{c.config.UserAgent},
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.config.URL, headers)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer func() {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
	}()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	return nil
}

// Close 关闭客户端连接
func (c *Client) Close() error {
	if !c.compareAndSwapState(StateConnected, StateClosed) &&
		!c.compareAndSwapState(StateReconnecting, StateClosed) &&
		!c.compareAndSwapState(StateDisconnected, StateClosed) {
		return nil // 已经关闭
	}

	close(c.stopChan)

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}

	return nil
}

// Send 发送一帧JSON文本
func (c *Client) Send(frame string) error {
	if c.getState() != StateConnected {
		return errors.New("client is not connected")
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return errors.New("connection is nil")
	}

	// 使用专用的写入锁防止并发写入
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// readLoop 消息读取循环
func (c *Client) readLoop() {
	for {
		select {
		case <-c.stopChan:
			return
		default:
			if c.getState() != StateConnected {
				time.Sleep(100 * time.Millisecond)
				continue
			}

			frame, err := c.readFrame()
			if err != nil {
				log.Printf("Read message failed: %v", err)
				c.triggerReconnect()
				continue
			}

			msg, err := protocol.Decode(frame)
			if err != nil {
				// 解析不了的帧丢弃计数，不打断消息流
				c.dropped.Add(1)
				continue
			}

			c.received.Add(1)
			c.dispatch(msg)
		}
	}
}

// readFrame 读取单帧文本
func (c *Client) readFrame() (string, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return "", errors.New("connection is nil")
	}

	messageType, rawData, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}

	if messageType != websocket.TextMessage {
		return "", errors.New("received non-text message")
	}

	return string(rawData), nil
}

// dispatch 按注册顺序同步广播消息
func (c *Client) dispatch(msg *protocol.Message) {
	c.listenerMu.RLock()
	listeners := c.listeners
	c.listenerMu.RUnlock()

	for _, listener := range listeners {
		listener(msg)
	}
}

// reconnectLoop 重连循环
func (c *Client) reconnectLoop() {
	for {
		select {
		case <-c.stopChan:
			return
		case <-c.reconnectChan:
			c.doReconnect()
		}
	}
}

// triggerReconnect 触发重连
func (c *Client) triggerReconnect() {
	if c.getState() == StateConnected {
		c.setState(StateReconnecting)
		select {
		case c.reconnectChan <- struct{}{}:
		default:
		}
	}
}

// doReconnect 执行重连
func (c *Client) doReconnect() {
	count := c.reconnectCount.Add(1)
	if count > int32(c.config.MaxReconnectTries) {
		log.Printf("Max reconnect tries exceeded, giving up")
		c.setState(StateDisconnected)
		return
	}

	log.Printf("Reconnecting... (attempt %d/%d)", count, c.config.MaxReconnectTries)

	// 关闭旧连接
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	// 指数退避
	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = c.config.ReconnectInterval
	backOff.MaxElapsedTime = time.Duration(c.config.MaxReconnectTries) * c.config.ReconnectInterval

	ctx := context.Background()
	err := backoff.Retry(func() error {
		return c.doConnect(ctx)
	}, backOff)

	if err != nil {
		log.Printf("Reconnect failed: %v", err)
		c.setState(StateDisconnected)
	} else {
		log.Printf("Reconnected successfully")
		c.setState(StateConnected)
		c.reconnectCount.Store(0) // 重置重连计数
		c.reconnects.Add(1)
	}
}

// getState 获取当前状态
func (c *Client) getState() ClientState {
	return ClientState(c.state.Load())
}

// State 当前连接状态
func (c *Client) State() ClientState {
	return c.getState()
}

// setState 设置状态
func (c *Client) setState(newState ClientState) {
	oldState := ClientState(c.state.Swap(int32(newState)))
	if oldState != newState && c.onStateChange != nil {
		c.onStateChange(oldState, newState)
	}
}

// compareAndSwapState 原子性状态切换
func (c *Client) compareAndSwapState(oldState, newState ClientState) bool {
	swapped := c.state.CompareAndSwap(int32(oldState), int32(newState))
	if swapped && c.onStateChange != nil {
		c.onStateChange(oldState, newState)
	}
	return swapped
}

// Reconnects 获取重连成功次数（线程安全）
func (c *Client) Reconnects() int {
	return int(c.reconnects.Load())
}

// GetStats 获取客户端统计信息
func (c *Client) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"state":           c.getState().String(),
		"received":        c.received.Load(),
		"dropped":         c.dropped.Load(),
		"reconnect_count": c.reconnectCount.Load(),
		"reconnects":      c.reconnects.Load(),
	}
}
