package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"zhaojing/internal/protocol"
)

// PeerConfig 连接参数
type PeerConfig struct {
	WriteTimeout time.Duration
	PingInterval time.Duration // 0 表示不发送 ping
	PongTimeout  time.Duration
}

// DefaultPeerConfig 返回默认配置
func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
	}
}

type result struct {
	reply protocol.Reply
	err   error
}

// Peer 一条双向的请求/响应通道
// 两端都可以发请求；每个请求在独立的 goroutine 里处理，响应按请求 ID 配对
type Peer struct {
	ID string

	conn    *websocket.Conn
	handler Handler
	config  PeerConfig

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint32]chan result
	nextID  atomic.Uint32

	// ctx 在通道关闭时取消，传给所有处理中的请求
	ctx    context.Context
	cancel context.CancelFunc

	done      chan struct{}
	closeOnce sync.Once
	inflight  sync.WaitGroup

	requests  atomic.Uint64
	responses atomic.Uint64
}

// NewPeer 包装一个已建立的 websocket 连接，调用 Serve 之后开始收发
func NewPeer(id string, conn *websocket.Conn, handler Handler, config PeerConfig) *Peer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Peer{
		ID:      id,
		conn:    conn,
		handler: handler,
		config:  config,
		pending: make(map[uint32]chan result),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Serve 读循环，连接断开后返回；返回前所有等待中的请求都会以 ErrChannelClosed 失败
func (p *Peer) Serve() error {
	defer p.shutdown()

	if p.config.PongTimeout > 0 {
		p.conn.SetReadDeadline(time.Now().Add(p.config.PongTimeout))
		p.conn.SetPongHandler(func(string) error {
			return p.conn.SetReadDeadline(time.Now().Add(p.config.PongTimeout))
		})
	}
	p.conn.SetReadLimit(protocol.MaxFrameSize)

	if p.config.PingInterval > 0 {
		go p.pingLoop()
	}

	for {
		messageType, raw, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("read: %w", err)
			}
			return nil
		}

		if p.config.PongTimeout > 0 {
			p.conn.SetReadDeadline(time.Now().Add(p.config.PongTimeout))
		}

		if messageType != websocket.BinaryMessage {
			continue
		}

		frame, err := protocol.DecodeFrame(raw)
		if err != nil {
			log.Printf("[%s] decode frame failed: %v", p.ID, err)
			continue
		}

		switch frame.Kind {
		case protocol.KindRequest:
			p.requests.Add(1)
			p.inflight.Add(1)
			go p.serveRequest(frame)
		case protocol.KindResponse:
			p.responses.Add(1)
			p.deliver(frame)
		}
	}
}

// serveRequest 处理一条请求并写回响应；处理器阻塞期间读循环照常工作
func (p *Peer) serveRequest(frame *protocol.Frame) {
	defer p.inflight.Done()

	var reply protocol.Reply
	var msg protocol.Message
	if err := json.Unmarshal(frame.Body, &msg); err != nil {
		reply = protocol.Reply{Error: fmt.Sprintf("decode request: %v", err)}
	} else {
		reply = invoke(p.ctx, p.handler, msg)
	}

	body, err := json.Marshal(reply)
	if err != nil {
		log.Printf("[%s] marshal reply %d failed: %v", p.ID, frame.ID, err)
		return
	}

	if err := p.write(protocol.KindResponse, frame.ID, body); err != nil {
		log.Printf("[%s] reply %d (%s) not delivered: %v", p.ID, frame.ID, msg.Action, err)
	}
}

func (p *Peer) deliver(frame *protocol.Frame) {
	p.mu.Lock()
	ch, ok := p.pending[frame.ID]
	delete(p.pending, frame.ID)
	p.mu.Unlock()

	if !ok {
		log.Printf("[%s] response %d has no pending request", p.ID, frame.ID)
		return
	}

	var reply protocol.Reply
	if err := json.Unmarshal(frame.Body, &reply); err != nil {
		ch <- result{err: fmt.Errorf("decode reply: %w", err)}
		return
	}
	ch <- result{reply: reply}
}

// Request 发送请求并等待对端的响应
func (p *Peer) Request(ctx context.Context, msg protocol.Message) (json.RawMessage, error) {
	select {
	case <-p.done:
		return nil, ErrChannelClosed
	default:
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.Action, err)
	}

	id := p.nextID.Add(1)
	ch := make(chan result, 1)

	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()

	if err := p.write(protocol.KindRequest, id, body); err != nil {
		p.forget(id)
		if errors.Is(err, protocol.ErrFrameTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return unwrap(msg.Action, res.reply)
	case <-ctx.Done():
		p.forget(id)
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrChannelClosed
	}
}

func (p *Peer) forget(id uint32) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// write websocket 只允许一个并发写者
func (p *Peer) write(kind protocol.FrameKind, id uint32, body []byte) error {
	frame, err := protocol.EncodeFrame(kind, id, body)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.config.WriteTimeout > 0 {
		p.conn.SetWriteDeadline(time.Now().Add(p.config.WriteTimeout))
	}
	return p.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (p *Peer) pingLoop() {
	ticker := time.NewTicker(p.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.writeMu.Lock()
			err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.config.WriteTimeout))
			p.writeMu.Unlock()
			if err != nil {
				log.Printf("[%s] ping failed: %v", p.ID, err)
				p.conn.Close()
				return
			}
		}
	}
}

// shutdown 通道关闭：取消处理中的请求，唤醒所有等待者
func (p *Peer) shutdown() {
	p.closeOnce.Do(func() {
		p.cancel()
		close(p.done)

		p.mu.Lock()
		p.pending = make(map[uint32]chan result)
		p.mu.Unlock()
	})
}

// Close 发送关闭帧并断开连接
func (p *Peer) Close() error {
	p.writeMu.Lock()
	p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
		time.Now().Add(time.Second))
	p.writeMu.Unlock()

	err := p.conn.Close()
	p.shutdown()
	return err
}

// Done 通道关闭后可读
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Wait 等待所有处理中的请求结束
func (p *Peer) Wait() {
	p.inflight.Wait()
}

// Stats 收到的请求和响应计数
func (p *Peer) Stats() (requests, responses uint64) {
	return p.requests.Load(), p.responses.Load()
}
