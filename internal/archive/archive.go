// Package archive 录制的导出与导入格式
package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"zhaojing/internal/session"
	"zhaojing/internal/store"
)

// ErrMalformedImport 导入数据缺少必要字段或格式错误
var ErrMalformedImport = errors.New("malformed import")

// Export 导出为 {id, timestamp, url, duration, records}，同一条录制每次输出相同的字节
func Export(rec *store.Recording) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("nil recording")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("export recording %d: %w", rec.ID, err)
	}
	return data, nil
}

// ExportFileName 下载文件名
func ExportFileName(rec *store.Recording) string {
	return fmt.Sprintf("zhaojing-%d-%d.json", rec.ID, rec.Timestamp)
}

// Import 解析导入数据，至少需要 timestamp、url、records，事件时间戳不能倒退
// 输入中的 id 被忽略；duration 按事件重新计算
func Import(data []byte) (*session.Payload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedImport)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedImport, err)
	}
	for _, key := range []string{"timestamp", "url", "records"} {
		if v, ok := fields[key]; !ok || string(v) == "null" {
			return nil, fmt.Errorf("%w: missing %q", ErrMalformedImport, key)
		}
	}

	var payload session.Payload
	if err := json.Unmarshal(fields["timestamp"], &payload.Timestamp); err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", ErrMalformedImport, err)
	}
	if err := json.Unmarshal(fields["url"], &payload.URL); err != nil {
		return nil, fmt.Errorf("%w: url: %v", ErrMalformedImport, err)
	}
	if err := json.Unmarshal(fields["records"], &payload.Records); err != nil {
		return nil, fmt.Errorf("%w: records: %v", ErrMalformedImport, err)
	}
	if len(payload.Records) == 0 {
		return nil, fmt.Errorf("%w: records is empty", ErrMalformedImport)
	}
	for i := 1; i < len(payload.Records); i++ {
		if payload.Records[i].Timestamp < payload.Records[i-1].Timestamp {
			return nil, fmt.Errorf("%w: records[%d] is earlier than records[%d]", ErrMalformedImport, i, i-1)
		}
	}

	payload.Duration = session.Duration(payload.Records)
	return &payload, nil
}
