package content

import (
	"context"
	"errors"
	"fmt"

	"zhaojing/internal/logger"
	"zhaojing/internal/protocol"
	"zhaojing/internal/session"
	"zhaojing/internal/transport"
)

// ErrUnknownAction 页面上下文只应答 GET 和 SET
var ErrUnknownAction = errors.New("unknown action")

type agentOptions struct {
	tabID    string
	pageURL  func() string
	policy   RetryPolicy
	recorder []session.RecorderOption
}

// AgentOption 页面代理选项
type AgentOption func(*agentOptions)

// WithTabID 标签页标识
func WithTabID(tabID string) AgentOption {
	return func(o *agentOptions) { o.tabID = tabID }
}

// WithPageURL 当前页面地址，在停止录制时读取
func WithPageURL(fn func() string) AgentOption {
	return func(o *agentOptions) { o.pageURL = fn }
}

// WithRetryPolicy 提交重试策略
func WithRetryPolicy(policy RetryPolicy) AgentOption {
	return func(o *agentOptions) { o.policy = policy }
}

// WithRecorderOptions 透传给录制器的选项
func WithRecorderOptions(opts ...session.RecorderOption) AgentOption {
	return func(o *agentOptions) { o.recorder = append(o.recorder, opts...) }
}

// Agent 一个页面上下文：持有录制器，应答后台的 GET / SET，把定稿的会话提交给后台
// 页面初始化时创建，卸载时 Close
type Agent struct {
	tabID     string
	recorder  *session.Recorder
	submitter *Submitter
}

// NewAgent 创建页面代理；channel 是到后台的请求通道
func NewAgent(channel transport.Requester, sink session.EventSink, opts ...AgentOption) *Agent {
	o := agentOptions{
		pageURL: func() string { return "" },
		policy:  DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	submitter := NewSubmitter(channel, o.tabID, o.policy)
	recOpts := append([]session.RecorderOption{
		session.WithURLFunc(o.pageURL),
		session.WithTabID(o.tabID),
	}, o.recorder...)

	return &Agent{
		tabID:     o.tabID,
		recorder:  session.NewRecorder(sink, submitter, recOpts...),
		submitter: submitter,
	}
}

// Handle 实现 transport.Handler
// SET 的响应要等 Toggle 返回（含定稿和提交）后才写回
func (a *Agent) Handle(ctx context.Context, msg protocol.Message) (any, error) {
	switch msg.Action {
	case protocol.ActionGet:
		return a.recorder.Query(), nil

	case protocol.ActionSet:
		state, err := a.recorder.Toggle(ctx)
		if err != nil {
			a.log(logger.LevelError, fmt.Sprintf("切换录制失败: %v", err))
			return nil, err
		}
		return state, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, msg.Action)
	}
}

// Recorder 录制器
func (a *Agent) Recorder() *session.Recorder {
	return a.recorder
}

// Submitter 提交器
func (a *Agent) Submitter() *Submitter {
	return a.submitter
}

// TabID 标签页标识
func (a *Agent) TabID() string {
	return a.tabID
}

// Close 页面卸载，未定稿的缓冲被丢弃
func (a *Agent) Close() {
	a.recorder.Close()
	a.log(logger.LevelInfo, "页面上下文已卸载")
}

func (a *Agent) log(level logger.Level, message string) {
	var tabID *string
	if a.tabID != "" {
		tabID = &a.tabID
	}
	logger.Log(level, "ContentAgent", message, tabID)
}
