package transport

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"zhaojing/internal/logger"
	"zhaojing/internal/protocol"
)

// ServerConfig 后台端连接配置
type ServerConfig struct {
	MaxConnections    int
	ReadBufferSize    int
	WriteBufferSize   int
	EnableCompression bool
	HelloTimeout      time.Duration
	Peer              PeerConfig
}

// DefaultServerConfig 返回默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		MaxConnections:    1000,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		EnableCompression: true,
		HelloTimeout:      10 * time.Second,
		Peer:              DefaultPeerConfig(),
	}
}

// TabInfo 已登记的标签页
type TabInfo struct {
	TabID       string    `json:"tab_id"`
	URL         string    `json:"url"`
	ConnID      string    `json:"conn_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// tabConn 一个页面连接
type tabConn struct {
	peer *Peer

	mu   sync.RWMutex
	info TabInfo
}

func (t *tabConn) snapshot() TabInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.info
}

// Server 后台上下文的 websocket 端点，维护标签页到连接的登记表
type Server struct {
	config   *ServerConfig
	upgrader websocket.Upgrader
	handler  Handler

	connections sync.Map // connID -> *tabConn
	tabs        sync.Map // tabID -> *tabConn
	connCount   atomic.Int32
	connWg      sync.WaitGroup

	isClosed atomic.Bool

	totalConnections atomic.Uint64
}

// NewServer 创建后台端点；handler 处理页面发来的 SAVE_RECORDING，HELLO 由端点自己处理
func NewServer(config *ServerConfig, handler Handler) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}

	return &Server{
		config:  config,
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    config.ReadBufferSize,
			WriteBufferSize:   config.WriteBufferSize,
			EnableCompression: config.EnableCompression,
			CheckOrigin: func(r *http.Request) bool {
				return true // 页面 origin 各不相同
			},
		},
	}
}

// ServeHTTP 升级为 websocket 并服务到连接断开
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.isClosed.Load() {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}
	if s.connCount.Load() >= int32(s.config.MaxConnections) {
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.totalConnections.Add(1)
	tc := &tabConn{}
	tc.info = TabInfo{ConnID: uuid.NewString(), ConnectedAt: time.Now()}
	tc.peer = NewPeer(tc.info.ConnID, wsConn, s.connHandler(tc), s.config.Peer)

	s.connections.Store(tc.info.ConnID, tc)
	s.connCount.Add(1)
	s.connWg.Add(1)
	defer func() {
		s.release(tc)
		s.connWg.Done()
	}()

	log.Printf("New page connection: %s from %s", tc.info.ConnID, r.RemoteAddr)

	if s.config.HelloTimeout > 0 {
		go s.expectHello(tc)
	}

	if err := tc.peer.Serve(); err != nil {
		log.Printf("Connection %s ended: %v", tc.info.ConnID, err)
	}
	tc.peer.Wait()
}

// connHandler HELLO 登记标签页，其余请求带上来源标签页后交给 handler
func (s *Server) connHandler(tc *tabConn) Handler {
	return HandlerFunc(func(ctx context.Context, msg protocol.Message) (any, error) {
		if msg.Action == protocol.ActionHello {
			hello, err := protocol.DecodeHello(msg)
			if err != nil {
				return nil, err
			}
			s.register(tc, hello)
			return true, nil
		}

		tabID := tc.snapshot().TabID
		if tabID == "" {
			return nil, fmt.Errorf("%s before hello", msg.Action)
		}
		if s.handler == nil {
			return nil, fmt.Errorf("no handler for %s", msg.Action)
		}
		return s.handler.Handle(WithTabID(ctx, tabID), msg)
	})
}

// register 同一标签页重新登记时，新连接替换旧连接
func (s *Server) register(tc *tabConn, hello *protocol.Hello) {
	tc.mu.Lock()
	tc.info.TabID = hello.TabID
	tc.info.URL = hello.URL
	tc.mu.Unlock()

	prev, loaded := s.tabs.Swap(hello.TabID, tc)
	if loaded && prev.(*tabConn) != tc {
		old := prev.(*tabConn)
		logger.LogWarning("Transport", fmt.Sprintf("标签页重新登记，替换连接 %s", old.info.ConnID), &hello.TabID)
		go old.peer.Close()
	}

	logger.LogInfo("Transport", fmt.Sprintf("标签页已登记: %s", hello.URL), &hello.TabID)
}

// expectHello 超时未登记的连接直接断开
func (s *Server) expectHello(tc *tabConn) {
	timer := time.NewTimer(s.config.HelloTimeout)
	defer timer.Stop()

	select {
	case <-tc.peer.Done():
	case <-timer.C:
		if tc.snapshot().TabID == "" {
			log.Printf("Connection %s sent no hello, closing", tc.info.ConnID)
			tc.peer.Close()
		}
	}
}

// release 只有登记表仍指向这条连接时才注销标签页
func (s *Server) release(tc *tabConn) {
	tc.peer.Close()
	s.connections.Delete(tc.info.ConnID)
	s.connCount.Add(-1)

	info := tc.snapshot()
	if info.TabID != "" && s.tabs.CompareAndDelete(info.TabID, tc) {
		logger.LogInfo("Transport", "标签页已断开", &info.TabID)
	}
}

// Tab 返回到标签页的请求通道
func (s *Server) Tab(tabID string) (Requester, error) {
	value, ok := s.tabs.Load(tabID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTab, tabID)
	}
	return value.(*tabConn).peer, nil
}

// Tabs 已登记的标签页，按连接时间排序
func (s *Server) Tabs() []TabInfo {
	var tabs []TabInfo
	s.tabs.Range(func(_, value any) bool {
		tabs = append(tabs, value.(*tabConn).snapshot())
		return true
	})

	sort.Slice(tabs, func(i, j int) bool {
		if tabs[i].ConnectedAt.Equal(tabs[j].ConnectedAt) {
			return tabs[i].TabID < tabs[j].TabID
		}
		return tabs[i].ConnectedAt.Before(tabs[j].ConnectedAt)
	})
	return tabs
}

// Shutdown 断开所有连接并等待处理结束
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.isClosed.CompareAndSwap(false, true) {
		return nil
	}

	log.Printf("Shutting down page endpoint...")

	s.connections.Range(func(_, value any) bool {
		value.(*tabConn).peer.Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		s.connWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStats 获取统计信息
func (s *Server) GetStats() map[string]interface{} {
	tabs := 0
	s.tabs.Range(func(_, _ any) bool {
		tabs++
		return true
	})

	return map[string]interface{}{
		"current_connections": s.connCount.Load(),
		"total_connections":   s.totalConnections.Load(),
		"tabs":                tabs,
	}
}
