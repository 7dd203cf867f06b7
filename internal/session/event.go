package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	ErrMissingTimestamp = errors.New("event record has no timestamp")
	ErrInvalidEvent     = errors.New("event record is not a JSON object")
)

// EventRecord 一条采集事件
// 负载对录制管线不透明，只提取 timestamp（毫秒）用于排序和时长计算
type EventRecord struct {
	Timestamp int64
	raw       json.RawMessage
}

// ParseEventRecord 从原始 JSON 解析事件
// 负载会被规整为紧凑形式，之后在传输和存储中逐字节保持不变
func ParseEventRecord(data []byte) (EventRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return EventRecord{}, ErrInvalidEvent
	}

	var probe struct {
		Timestamp *json.Number `json:"timestamp"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return EventRecord{}, fmt.Errorf("decode event record: %w", err)
	}
	if probe.Timestamp == nil {
		return EventRecord{}, ErrMissingTimestamp
	}

	ts, err := probe.Timestamp.Int64()
	if err != nil {
		// rrweb 之类的采集器偶尔给出浮点毫秒
		f, ferr := probe.Timestamp.Float64()
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return EventRecord{}, fmt.Errorf("invalid timestamp %q: %w", probe.Timestamp.String(), err)
		}
		ts = int64(f)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return EventRecord{}, fmt.Errorf("compact event record: %w", err)
	}
	// 与 encoding/json 输出 Marshaler 结果时的转义保持一致
	var canonical bytes.Buffer
	json.HTMLEscape(&canonical, compact.Bytes())

	return EventRecord{Timestamp: ts, raw: canonical.Bytes()}, nil
}

// NewEventRecord 用给定时间戳和附加字段构造事件，字段中的 timestamp 会被覆盖
func NewEventRecord(timestamp int64, fields map[string]any) (EventRecord, error) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["timestamp"] = timestamp

	data, err := json.Marshal(body)
	if err != nil {
		return EventRecord{}, fmt.Errorf("encode event record: %w", err)
	}
	return ParseEventRecord(data)
}

// Raw 返回事件的原始负载，调用方不得修改
func (e EventRecord) Raw() json.RawMessage {
	return e.raw
}

// MarshalJSON 原样输出负载
func (e EventRecord) MarshalJSON() ([]byte, error) {
	if len(e.raw) == 0 {
		return []byte(fmt.Sprintf(`{"timestamp":%d}`, e.Timestamp)), nil
	}
	return e.raw, nil
}

// UnmarshalJSON 解析负载并提取时间戳
func (e *EventRecord) UnmarshalJSON(data []byte) error {
	parsed, err := ParseEventRecord(data)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// Duration 计算事件序列覆盖的时长（毫秒），空序列为 0
func Duration(records []EventRecord) int64 {
	if len(records) == 0 {
		return 0
	}
	return records[len(records)-1].Timestamp - records[0].Timestamp
}
