package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"zhaojing/internal/logger"
)

var (
	// ErrCaptureFault 采集能力启动或停止失败，本次录制作废
	ErrCaptureFault = errors.New("capture fault")
	// ErrRecorderClosed 页面上下文已卸载
	ErrRecorderClosed = errors.New("recorder closed")
)

// Submitter 把定稿的会话交给存储端
// 返回即表示这次提交已经结束（成功、失败或放弃）
type Submitter interface {
	Submit(ctx context.Context, payload *Payload) error
}

// RecorderStats 录制统计
type RecorderStats struct {
	Active    bool  `json:"active"`
	Buffered  int   `json:"buffered"`
	Sessions  int64 `json:"sessions"`
	Submitted int64 `json:"submitted"`
	Discarded int64 `json:"discarded"`
	Failed    int64 `json:"failed"`
	Ignored   int64 `json:"ignored"`
}

// RecorderOption 录制器选项
type RecorderOption func(*Recorder)

// WithURLFunc 设置当前页面地址的来源，停止录制时读取
func WithURLFunc(fn func() string) RecorderOption {
	return func(r *Recorder) {
		r.url = fn
	}
}

// WithClock 设置时钟（测试用）
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		r.now = now
	}
}

// WithTabID 设置日志里使用的标签页标识
func WithTabID(tabID string) RecorderOption {
	return func(r *Recorder) {
		r.tabID = tabID
	}
}

// Recorder 单个标签页的录制状态机（Idle / Active）
type Recorder struct {
	sink      EventSink
	submitter Submitter
	url       func() string
	now       func() time.Time
	tabID     string

	// toggleMu 覆盖整个 toggle，包括定稿和提交，保证同一标签页最多一个提交在途
	toggleMu sync.Mutex
	closed   bool

	mu        sync.Mutex
	events    []EventRecord
	stop      func()
	gen       uint64
	capturing bool

	isActive atomic.Bool

	sessions  atomic.Int64
	submitted atomic.Int64
	discarded atomic.Int64
	failed    atomic.Int64
	ignored   atomic.Int64
}

// NewRecorder 创建录制器，初始状态为 Idle
func NewRecorder(sink EventSink, submitter Submitter, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sink:      sink,
		submitter: submitter,
		url:       func() string { return "" },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Query 返回当前是否在录制，无副作用
func (r *Recorder) Query() bool {
	return r.isActive.Load()
}

// Toggle 翻转录制状态并返回翻转后的状态
// 停止时会等定稿和提交结束才返回；提交失败不影响返回的状态
func (r *Recorder) Toggle(ctx context.Context) (bool, error) {
	r.toggleMu.Lock()
	defer r.toggleMu.Unlock()

	if r.closed {
		return false, ErrRecorderClosed
	}

	if !r.isActive.Load() {
		if err := r.start(); err != nil {
			return false, err
		}
		return true, nil
	}

	if err := r.finish(ctx); err != nil {
		return false, err
	}
	return false, nil
}

// start Idle -> Active
func (r *Recorder) start() error {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.events = make([]EventRecord, 0, 256)
	r.capturing = true
	r.mu.Unlock()

	stop, err := r.sink.Start(func(event EventRecord) {
		r.accept(gen, event)
	})
	if err != nil {
		r.mu.Lock()
		r.capturing = false
		r.events = nil
		r.mu.Unlock()

		r.log(logger.LevelError, fmt.Sprintf("启动采集失败: %v", err))
		return fmt.Errorf("%w: start: %v", ErrCaptureFault, err)
	}

	r.mu.Lock()
	r.stop = stop
	r.mu.Unlock()

	r.isActive.Store(true)
	r.sessions.Add(1)
	r.log(logger.LevelInfo, "开始录制")
	return nil
}

// finish Active -> Idle：停止采集、定稿、提交
func (r *Recorder) finish(ctx context.Context) error {
	events, stopErr := r.halt()
	if stopErr != nil {
		r.discarded.Add(1)
		r.log(logger.LevelError, fmt.Sprintf("停止采集失败，丢弃 %d 个事件: %v", len(events), stopErr))
		return fmt.Errorf("%w: stop: %v", ErrCaptureFault, stopErr)
	}

	if len(events) == 0 {
		r.discarded.Add(1)
		r.log(logger.LevelInfo, "停止录制，没有事件，不保存")
		return nil
	}

	payload := NewPayload(r.url(), r.now(), events)
	r.log(logger.LevelInfo, fmt.Sprintf("停止录制，提交 %d 个事件，时长 %dms", len(events), payload.Duration))

	if err := r.submitter.Submit(ctx, payload); err != nil {
		r.failed.Add(1)
		r.log(logger.LevelError, fmt.Sprintf("录制数据提交失败，本次会话丢失: %v", err))
		return nil
	}

	r.submitted.Add(1)
	r.log(logger.LevelSuccess, "录制数据已提交")
	return nil
}

// halt 停止采集并取走缓冲；缓冲无论后续提交结果如何都会被清空
func (r *Recorder) halt() ([]EventRecord, error) {
	r.mu.Lock()
	stop := r.stop
	r.stop = nil
	r.mu.Unlock()

	var stopErr error
	if stop != nil {
		stopErr = callStop(stop)
	}
	r.isActive.Store(false)

	r.mu.Lock()
	events := r.events
	r.events = nil
	r.capturing = false
	r.mu.Unlock()

	return events, stopErr
}

// accept 只接收当前这一轮录制的事件
func (r *Recorder) accept(gen uint64, event EventRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.capturing || gen != r.gen {
		r.ignored.Add(1)
		return
	}
	r.events = append(r.events, event)
}

// Close 页面上下文卸载：停止采集并丢弃未定稿的缓冲
func (r *Recorder) Close() {
	r.toggleMu.Lock()
	defer r.toggleMu.Unlock()

	if r.closed {
		return
	}
	r.closed = true

	if r.isActive.Load() {
		events, _ := r.halt()
		r.discarded.Add(1)
		r.log(logger.LevelWarning, fmt.Sprintf("页面卸载，丢弃 %d 个未保存的事件", len(events)))
	}
}

// Buffered 当前缓冲的事件数
func (r *Recorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Stats 获取统计信息
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Active:    r.isActive.Load(),
		Buffered:  r.Buffered(),
		Sessions:  r.sessions.Load(),
		Submitted: r.submitted.Load(),
		Discarded: r.discarded.Load(),
		Failed:    r.failed.Load(),
		Ignored:   r.ignored.Load(),
	}
}

func (r *Recorder) log(level logger.Level, message string) {
	var tabID *string
	if r.tabID != "" {
		tabID = &r.tabID
	}
	logger.Log(level, "Recorder", message, tabID)
}

// callStop 把采集端 stop 的 panic 转成错误
func callStop(stop func()) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("stop panicked: %v", p)
		}
	}()
	stop()
	return nil
}
