package logger

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// LogMessage 日志消息结构
type LogMessage struct {
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Module    string    `json:"module"`
	TabID     *string   `json:"tab_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WebSocketLogger 把录制生命周期日志广播给订阅者
type WebSocketLogger struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan LogMessage
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex
}

// NewWebSocketLogger 创建新的WebSocket日志器
func NewWebSocketLogger() *WebSocketLogger {
	return &WebSocketLogger{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan LogMessage, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run 启动广播循环，Close 后退出
func (wsl *WebSocketLogger) Run() {
	for {
		select {
		case <-wsl.done:
			wsl.mu.Lock()
			for client := range wsl.clients {
				client.Close()
				delete(wsl.clients, client)
			}
			wsl.mu.Unlock()
			return

		case client := <-wsl.register:
			wsl.mu.Lock()
			wsl.clients[client] = true
			count := len(wsl.clients)
			wsl.mu.Unlock()
			log.Printf("日志订阅者已连接，当前连接数: %d", count)

		case client := <-wsl.unregister:
			wsl.mu.Lock()
			if _, ok := wsl.clients[client]; ok {
				delete(wsl.clients, client)
				client.Close()
			}
			count := len(wsl.clients)
			wsl.mu.Unlock()
			log.Printf("日志订阅者已断开，当前连接数: %d", count)

		case message := <-wsl.broadcast:
			wsl.fanOut(message)
		}
	}
}

// fanOut 写超时或失败的订阅者直接移除
func (wsl *WebSocketLogger) fanOut(message LogMessage) {
	wsl.mu.Lock()
	defer wsl.mu.Unlock()

	for client := range wsl.clients {
		client.SetWriteDeadline(time.Now().Add(time.Second))
		if err := client.WriteJSON(message); err != nil {
			log.Printf("发送日志消息失败: %v", err)
			delete(wsl.clients, client)
			client.Close()
		}
	}
}

// Close 停止广播并断开所有订阅者
func (wsl *WebSocketLogger) Close() {
	wsl.closeOnce.Do(func() {
		close(wsl.done)
	})
}

// Publish 非阻塞投递，通道满时丢弃
func (wsl *WebSocketLogger) Publish(msg LogMessage) {
	select {
	case wsl.broadcast <- msg:
	default:
	}
}

// Subscribers 当前订阅者数量
func (wsl *WebSocketLogger) Subscribers() int {
	wsl.mu.RLock()
	defer wsl.mu.RUnlock()
	return len(wsl.clients)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 扩展页面的 origin 不固定
	},
}

// HandleWebSocket 处理日志订阅连接
func (wsl *WebSocketLogger) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket升级失败: %v", err)
		return
	}

	select {
	case wsl.register <- conn:
	case <-wsl.done:
		conn.Close()
		return
	}

	defer func() {
		select {
		case wsl.unregister <- conn:
		case <-wsl.done:
		}
	}()

	// 只读不处理，读失败即视为断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("日志订阅连接错误: %v", err)
			}
			return
		}
	}
}

// 全局日志器实例
var (
	globalMu     sync.RWMutex
	GlobalLogger *WebSocketLogger
)

// InitGlobalLogger 初始化全局日志广播
func InitGlobalLogger() *WebSocketLogger {
	wsl := NewWebSocketLogger()
	go wsl.Run()

	globalMu.Lock()
	GlobalLogger = wsl
	globalMu.Unlock()
	return wsl
}

// Log 输出到控制台，并在启用广播时推送给订阅者
func Log(level Level, module, message string, tabID *string) {
	if !Enabled(level) {
		return
	}

	if tabID != nil {
		log.Printf("[%s] [Tab-%s] %s: %s", level, *tabID, module, message)
	} else {
		log.Printf("[%s] %s: %s", level, module, message)
	}

	globalMu.RLock()
	wsl := GlobalLogger
	globalMu.RUnlock()
	if wsl == nil {
		return
	}

	wsl.Publish(LogMessage{
		Level:     level,
		Message:   message,
		Module:    module,
		TabID:     tabID,
		Timestamp: time.Now(),
	})
}

// 便捷函数
func LogInfo(module, message string, tabID *string) {
	Log(LevelInfo, module, message, tabID)
}

func LogError(module, message string, tabID *string) {
	Log(LevelError, module, message, tabID)
}

func LogSuccess(module, message string, tabID *string) {
	Log(LevelSuccess, module, message, tabID)
}

func LogWarning(module, message string, tabID *string) {
	Log(LevelWarning, module, message, tabID)
}
