package session

import (
	"time"
)

// Payload 定稿后的会话，即 SAVE_RECORDING 请求携带的数据
type Payload struct {
	Timestamp int64         `json:"timestamp"`
	URL       string        `json:"url"`
	Duration  int64         `json:"duration"`
	Records   []EventRecord `json:"records"`
}

// NewPayload 在停止时刻定稿会话，时长由事件序列计算
func NewPayload(url string, stoppedAt time.Time, records []EventRecord) *Payload {
	return &Payload{
		Timestamp: stoppedAt.UnixMilli(),
		URL:       url,
		Duration:  Duration(records),
		Records:   records,
	}
}
