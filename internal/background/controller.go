package background

import (
	"context"
	"fmt"

	"zhaojing/internal/logger"
	"zhaojing/internal/protocol"
	"zhaojing/internal/transport"
)

// Registry 已登记标签页的通道
type Registry interface {
	Tab(tabID string) (transport.Requester, error)
	Tabs() []transport.TabInfo
}

// Controller 远程发起者：读取或翻转某个标签页的录制状态
// 状态只由页面上下文持有，这里不缓存
type Controller struct {
	registry Registry
}

// NewController 创建控制器
func NewController(registry Registry) *Controller {
	return &Controller{registry: registry}
}

// Tabs 已登记的标签页
func (c *Controller) Tabs() []transport.TabInfo {
	return c.registry.Tabs()
}

// Query 发送 {action:"GET"}
func (c *Controller) Query(ctx context.Context, tabID string) (bool, error) {
	return c.exchange(ctx, tabID, protocol.GetMessage())
}

// Toggle 发送 {action:"SET"}，页面完成定稿和提交后才返回
func (c *Controller) Toggle(ctx context.Context, tabID string) (bool, error) {
	state, err := c.exchange(ctx, tabID, protocol.SetMessage())
	if err != nil {
		logger.LogError("Controller", fmt.Sprintf("切换录制失败: %v", err), &tabID)
		return false, err
	}

	if state {
		logger.LogInfo("Controller", "录制已开始", &tabID)
	} else {
		logger.LogInfo("Controller", "录制已停止", &tabID)
	}
	return state, nil
}

func (c *Controller) exchange(ctx context.Context, tabID string, msg protocol.Message) (bool, error) {
	channel, err := c.registry.Tab(tabID)
	if err != nil {
		return false, err
	}

	raw, err := channel.Request(ctx, msg)
	if err != nil {
		return false, fmt.Errorf("%s %s: %w", msg.Action, tabID, err)
	}
	return protocol.DecodeBool(raw)
}
