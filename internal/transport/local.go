package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"zhaojing/internal/protocol"
)

// Local 进程内通道，请求直接交给处理器，语义与 websocket 通道一致：
// 数据经过一次 JSON 编解码，处理在独立 goroutine 里进行
type Local struct {
	handler Handler
	tabID   string

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

// NewLocal 创建进程内通道；tabID 会作为请求来源放进处理器的上下文
func NewLocal(handler Handler, tabID string) *Local {
	ctx, cancel := context.WithCancel(context.Background())
	if tabID != "" {
		ctx = WithTabID(ctx, tabID)
	}
	return &Local{handler: handler, tabID: tabID, ctx: ctx, cancel: cancel}
}

// Request 实现 Requester
func (l *Local) Request(ctx context.Context, msg protocol.Message) (json.RawMessage, error) {
	select {
	case <-l.ctx.Done():
		return nil, ErrChannelClosed
	default:
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.Action, err)
	}
	var wire protocol.Message
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode %s: %w", msg.Action, err)
	}

	ch := make(chan protocol.Reply, 1)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ch <- invoke(l.ctx, l.handler, wire)
	}()

	select {
	case reply := <-ch:
		if l.ctx.Err() != nil {
			return nil, ErrChannelClosed
		}
		return unwrap(msg.Action, reply)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.ctx.Done():
		return nil, ErrChannelClosed
	}
}

// Close 关闭通道，等待中的请求以 ErrChannelClosed 失败
func (l *Local) Close() error {
	l.once.Do(l.cancel)
	l.wg.Wait()
	return nil
}
