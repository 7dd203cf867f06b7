package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"zhaojing/internal/logger"
)

// EventSink 外部提供的事件采集能力
// Start 开始发射事件，返回的 stop 同步停止发射
type EventSink interface {
	Start(emit func(EventRecord)) (stop func(), err error)
}

// SinkFunc 函数适配器
type SinkFunc func(emit func(EventRecord)) (func(), error)

// Start 实现 EventSink
func (f SinkFunc) Start(emit func(EventRecord)) (func(), error) {
	return f(emit)
}

// MaxStreamLine 单行事件的最大字节数
const MaxStreamLine = 16 * 1024 * 1024

// StreamSink 从按行分隔的 JSON 流读取事件
// 只有在 Start 与 stop 之间读到的事件才会发射，其余直接丢弃
type StreamSink struct {
	r io.Reader

	mu      sync.Mutex
	emit    func(EventRecord)
	read    int64
	dropped int64
}

// NewStreamSink 创建流式事件源
func NewStreamSink(r io.Reader) *StreamSink {
	return &StreamSink{r: r}
}

// Start 实现 EventSink
func (s *StreamSink) Start(emit func(EventRecord)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.emit != nil {
		return nil, fmt.Errorf("stream sink already started")
	}
	s.emit = emit

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			s.emit = nil
			s.mu.Unlock()
		})
	}
	return stop, nil
}

// Run 读取事件直到输入结束或 ctx 取消
func (s *StreamSink) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxStreamLine)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		event, err := ParseEventRecord(line)
		if err != nil {
			logger.LogWarning("EventSink", fmt.Sprintf("跳过无法解析的事件: %v", err), nil)
			continue
		}

		// 持锁发射，stop 返回后不会再有事件发出
		s.mu.Lock()
		s.read++
		if s.emit != nil {
			s.emit(event)
		} else {
			s.dropped++
		}
		s.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}

// Counts 返回已读取和因未采集而丢弃的事件数
func (s *StreamSink) Counts() (read, dropped int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read, s.dropped
}
