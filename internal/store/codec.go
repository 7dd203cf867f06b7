package store

import (
	"encoding/json"
	"fmt"

	"zhaojing/internal/session"
)

// 事件序列以 JSON 数组文本入库，读出后逐字节不变

func encodeRecords(records []session.EventRecord) (string, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("failed to marshal records: %w", err)
	}
	return string(data), nil
}

func decodeRecords(text string) ([]session.EventRecord, error) {
	var records []session.EventRecord
	if err := json.Unmarshal([]byte(text), &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal records: %w", err)
	}
	return records, nil
}
