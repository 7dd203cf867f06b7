package protocol

// Action 消息动作，决定请求由哪一端处理
type Action string

const (
	// 页面上下文处理：查询与翻转录制状态
	ActionGet Action = "GET"
	ActionSet Action = "SET"

	// 后台上下文处理：保存定稿的会话
	ActionSaveRecording Action = "SAVE_RECORDING"

	// 后台上下文处理：页面连接后登记标签页
	ActionHello Action = "HELLO"
)

// String 实现字符串接口
func (a Action) String() string {
	return string(a)
}

// IsValidAction 检查动作是否有效
func IsValidAction(a Action) bool {
	switch a {
	case ActionGet, ActionSet, ActionSaveRecording, ActionHello:
		return true
	default:
		return false
	}
}

// IsPageAction 判断是否由页面上下文应答
func IsPageAction(a Action) bool {
	switch a {
	case ActionGet, ActionSet:
		return true
	default:
		return false
	}
}

// IsBackgroundAction 判断是否由后台上下文应答
func IsBackgroundAction(a Action) bool {
	switch a {
	case ActionSaveRecording, ActionHello:
		return true
	default:
		return false
	}
}
