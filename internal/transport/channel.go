package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"zhaojing/internal/protocol"
)

var (
	// ErrChannelClosed 对端断开，或在等待响应时通道关闭
	ErrChannelClosed = errors.New("channel closed")
	// ErrUnknownTab 没有该标签页的连接
	ErrUnknownTab = errors.New("unknown tab")
)

// RemoteError 对端处理请求失败
type RemoteError struct {
	Action  protocol.Action
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed: %s", e.Action, e.Message)
}

// Handler 处理对端发来的请求
// 返回值序列化后作为响应数据；处理可以阻塞，响应在返回后才写回
type Handler interface {
	Handle(ctx context.Context, msg protocol.Message) (any, error)
}

// HandlerFunc 函数适配器
type HandlerFunc func(ctx context.Context, msg protocol.Message) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, msg protocol.Message) (any, error) {
	return f(ctx, msg)
}

// Requester 发出一条请求，等待唯一的响应
type Requester interface {
	Request(ctx context.Context, msg protocol.Message) (json.RawMessage, error)
}

type tabKey struct{}

// WithTabID 把请求来源的标签页放进上下文
func WithTabID(ctx context.Context, tabID string) context.Context {
	return context.WithValue(ctx, tabKey{}, tabID)
}

// TabIDFromContext 取出请求来源的标签页，未登记时为空
func TabIDFromContext(ctx context.Context) string {
	tabID, _ := ctx.Value(tabKey{}).(string)
	return tabID
}

// invoke 调用处理器并把结果编码为响应体，处理器 panic 视为失败
func invoke(ctx context.Context, handler Handler, msg protocol.Message) (reply protocol.Reply) {
	defer func() {
		if p := recover(); p != nil {
			reply = protocol.Reply{Error: fmt.Sprintf("handler panicked: %v", p)}
		}
	}()

	if handler == nil {
		return protocol.Reply{Error: fmt.Sprintf("no handler for %s", msg.Action)}
	}

	data, err := handler.Handle(ctx, msg)
	if err != nil {
		return protocol.Reply{Error: err.Error()}
	}

	reply.OK = true
	if data == nil {
		return reply
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return protocol.Reply{Error: fmt.Sprintf("marshal %s result: %v", msg.Action, err)}
	}
	reply.Data = raw
	return reply
}

// unwrap 把响应体转换为调用方看到的结果
func unwrap(action protocol.Action, reply protocol.Reply) (json.RawMessage, error) {
	if !reply.OK {
		return nil, &RemoteError{Action: action, Message: reply.Error}
	}
	return reply.Data, nil
}
