package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"zhaojing/internal/session"
)

// Message 请求消息: {action, data}
type Message struct {
	Action Action          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Reply 响应帧的消息体
// OK=false 表示对端处理失败，Error 为原因
type Reply struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// SaveRecordingResponse SAVE_RECORDING 的应答
type SaveRecordingResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Hello 页面连接后发送的登记信息
type Hello struct {
	TabID string `json:"tab_id"`
	URL   string `json:"url,omitempty"`
}

// NewMessage 构造带数据的消息
func NewMessage(action Action, data any) (Message, error) {
	msg := Message{Action: action}
	if data == nil {
		return msg, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s data: %w", action, err)
	}
	msg.Data = raw
	return msg, nil
}

// GetMessage {action: "GET"}
func GetMessage() Message {
	return Message{Action: ActionGet}
}

// SetMessage {action: "SET"}
func SetMessage() Message {
	return Message{Action: ActionSet}
}

// SaveRecordingMessage {action: "SAVE_RECORDING", data: {url, timestamp, records, duration}}
func SaveRecordingMessage(payload *session.Payload) (Message, error) {
	return NewMessage(ActionSaveRecording, payload)
}

// ErrMalformedPayload SAVE_RECORDING 数据缺少必要字段
var ErrMalformedPayload = errors.New("malformed recording payload")

// DecodePayload 解析 SAVE_RECORDING 携带的会话
// timestamp、url、records 必须存在；duration 不信任页面，按事件重新计算
func DecodePayload(msg Message) (*session.Payload, error) {
	if msg.Action != ActionSaveRecording {
		return nil, fmt.Errorf("unexpected action %s", msg.Action)
	}
	if len(msg.Data) == 0 {
		return nil, fmt.Errorf("%s without data", msg.Action)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg.Data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	for _, key := range []string{"timestamp", "url", "records"} {
		if v, ok := fields[key]; !ok || string(v) == "null" {
			return nil, fmt.Errorf("%w: missing %q", ErrMalformedPayload, key)
		}
	}

	var payload session.Payload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode recording payload: %w", err)
	}
	payload.Duration = session.Duration(payload.Records)
	return &payload, nil
}

// DecodeHello 解析 HELLO 的登记信息
func DecodeHello(msg Message) (*Hello, error) {
	var hello Hello
	if err := json.Unmarshal(msg.Data, &hello); err != nil {
		return nil, fmt.Errorf("decode hello: %w", err)
	}
	if hello.TabID == "" {
		return nil, fmt.Errorf("hello without tab_id")
	}
	return &hello, nil
}

// DecodeBool 解析 GET/SET 返回的布尔状态
func DecodeBool(raw json.RawMessage) (bool, error) {
	var state bool
	if err := json.Unmarshal(raw, &state); err != nil {
		return false, fmt.Errorf("decode state: %w", err)
	}
	return state, nil
}

// DecodeSaveResponse 解析 SAVE_RECORDING 的应答
func DecodeSaveResponse(raw json.RawMessage) (*SaveRecordingResponse, error) {
	var resp SaveRecordingResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode save response: %w", err)
	}
	return &resp, nil
}
