package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"zhaojing/internal/protocol"
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

// StateChangeHandler 状态变化处理器
type StateChangeHandler func(oldState, newState ClientState)

// ClientConfig 页面端连接配置
type ClientConfig struct {
	URL               string // 后台的 websocket 地址
	TabID             string
	PageURL           string
	HandshakeTimeout  time.Duration
	ReconnectInterval time.Duration
	MaxReconnectTries int
	EnableCompression bool
	UserAgent         string
	Peer              PeerConfig
}

// DefaultClientConfig 返回默认配置
func DefaultClientConfig(url, tabID string) *ClientConfig {
	return &ClientConfig{
		URL:               url,
		TabID:             tabID,
		HandshakeTimeout:  10 * time.Second,
		ReconnectInterval: 2 * time.Second,
		MaxReconnectTries: 10,
		EnableCompression: true,
		UserAgent:         "zhaojing-page/1.0",
		Peer:              DefaultPeerConfig(),
	}
}

// Client 页面上下文到后台的连接，断线后自动重连并重新登记
type Client struct {
	config  *ClientConfig
	dialer  *websocket.Dialer
	handler Handler

	peer  atomic.Pointer[Peer]
	state atomic.Int32

	mu            sync.RWMutex
	onStateChange StateChangeHandler

	stopChan  chan struct{}
	closeOnce sync.Once

	reconnectCount atomic.Int32
	reconnects     atomic.Int32
}

// NewClient 创建客户端
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		panic("config cannot be nil")
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = config.HandshakeTimeout
	dialer.EnableCompression = config.EnableCompression

	client := &Client{
		config:   config,
		dialer:   &dialer,
		stopChan: make(chan struct{}),
	}
	client.state.Store(int32(StateDisconnected))
	return client
}

// SetHandler 设置后台请求（GET / SET）的处理器，需在 Connect 之前调用
func (c *Client) SetHandler(handler Handler) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// SetStateChangeHandler 设置状态变化处理器
func (c *Client) SetStateChangeHandler(handler StateChangeHandler) {
	c.mu.Lock()
	c.onStateChange = handler
	c.mu.Unlock()
}

// Connect 连接后台并登记标签页
func (c *Client) Connect(ctx context.Context) error {
	if !c.compareAndSwapState(StateDisconnected, StateConnecting) {
		return errors.New("client is not in disconnected state")
	}

	if err := c.doConnect(ctx); err != nil {
		c.compareAndSwapState(StateConnecting, StateDisconnected)
		return err
	}

	c.compareAndSwapState(StateConnecting, StateConnected)
	return nil
}

// doConnect 拨号、启动读循环、发送 HELLO
func (c *Client) doConnect(ctx context.Context) error {
	headers := http.Header{
		"User-Agent": []string{c.config.UserAgent},
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.config.URL, headers)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()

	peer := NewPeer(c.config.TabID, conn, handler, c.config.Peer)
	go c.serve(peer)

	if err := c.hello(ctx, peer); err != nil {
		peer.Close()
		return fmt.Errorf("hello failed: %w", err)
	}

	c.peer.Store(peer)
	log.Printf("[%s] connected to %s", c.config.TabID, c.config.URL)
	return nil
}

func (c *Client) hello(ctx context.Context, peer *Peer) error {
	msg, err := protocol.NewMessage(protocol.ActionHello, protocol.Hello{
		TabID: c.config.TabID,
		URL:   c.config.PageURL,
	})
	if err != nil {
		return err
	}

	helloCtx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()

	_, err = peer.Request(helloCtx, msg)
	return err
}

// serve 连接的读循环；非主动关闭的断开会触发重连
func (c *Client) serve(peer *Peer) {
	if err := peer.Serve(); err != nil {
		log.Printf("[%s] connection lost: %v", c.config.TabID, err)
	}

	if c.peer.Load() != peer {
		return // 握手阶段失败的连接或已被替换
	}
	if c.compareAndSwapState(StateConnected, StateReconnecting) {
		go c.doReconnect()
	}
}

// doReconnect 指数退避重连
func (c *Client) doReconnect() {
	count := c.reconnectCount.Add(1)
	log.Printf("[%s] reconnecting... (attempt %d/%d)", c.config.TabID, count, c.config.MaxReconnectTries)

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = c.config.ReconnectInterval
	backOff.MaxElapsedTime = time.Duration(c.config.MaxReconnectTries) * c.config.ReconnectInterval

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := backoff.Retry(func() error {
		if c.getState() == StateClosed {
			return backoff.Permanent(ErrChannelClosed)
		}
		return c.doConnect(ctx)
	}, backoff.WithContext(backOff, ctx))

	if err != nil {
		log.Printf("[%s] reconnect failed: %v", c.config.TabID, err)
		c.compareAndSwapState(StateReconnecting, StateDisconnected)
		return
	}

	if !c.compareAndSwapState(StateReconnecting, StateConnected) {
		// 重连期间被关闭
		if peer := c.peer.Load(); peer != nil {
			peer.Close()
		}
		return
	}
	c.reconnectCount.Store(0)
	c.reconnects.Add(1)
	log.Printf("[%s] reconnected successfully", c.config.TabID)
}

// Request 实现 Requester；未连接时返回 ErrChannelClosed
func (c *Client) Request(ctx context.Context, msg protocol.Message) (json.RawMessage, error) {
	if c.getState() != StateConnected {
		return nil, ErrChannelClosed
	}
	peer := c.peer.Load()
	if peer == nil {
		return nil, ErrChannelClosed
	}
	return peer.Request(ctx, msg)
}

// Close 关闭客户端，不再重连
func (c *Client) Close() error {
	old := c.getState()
	if old == StateClosed {
		return nil
	}
	c.setState(StateClosed)
	c.closeOnce.Do(func() { close(c.stopChan) })

	if peer := c.peer.Load(); peer != nil {
		err := peer.Close()
		peer.Wait()
		return err
	}
	return nil
}

// State 当前状态
func (c *Client) State() ClientState {
	return c.getState()
}

// Reconnects 成功重连的次数
func (c *Client) Reconnects() int {
	return int(c.reconnects.Load())
}

// getState 获取当前状态
func (c *Client) getState() ClientState {
	return ClientState(c.state.Load())
}

// setState 设置状态
func (c *Client) setState(newState ClientState) {
	oldState := ClientState(c.state.Swap(int32(newState)))
	if oldState != newState {
		c.notify(oldState, newState)
	}
}

// compareAndSwapState 原子性状态切换
func (c *Client) compareAndSwapState(oldState, newState ClientState) bool {
	swapped := c.state.CompareAndSwap(int32(oldState), int32(newState))
	if swapped {
		c.notify(oldState, newState)
	}
	return swapped
}

func (c *Client) notify(oldState, newState ClientState) {
	c.mu.RLock()
	handler := c.onStateChange
	c.mu.RUnlock()
	if handler != nil {
		handler(oldState, newState)
	}
}
