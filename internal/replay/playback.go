package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"zhaojing/internal/session"
)

// Speed 回放速度
type Speed float64

const (
	SpeedSlow    Speed = 0.5 // 慢速回放
	SpeedNormal  Speed = 1.0 // 正常速度
	SpeedFast    Speed = 2.0 // 快速回放
	SpeedInstant Speed = 0.0 // 瞬间回放（无延迟）
)

// Frame 回放到的一帧
type Frame struct {
	Index  int                 `json:"index"`
	Event  session.EventRecord `json:"event"`
	Offset time.Duration       `json:"offset"` // 相对第一个事件
	Delay  time.Duration       `json:"delay"`  // 相对上一个事件，未按速度缩放
}

// FrameFunc 渲染一帧；返回错误只计数，不中断回放
type FrameFunc func(frame Frame) error

// PlaybackStats 回放统计
type PlaybackStats struct {
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"duration"`
	TotalEvents  int           `json:"total_events"`
	PlayedEvents int           `json:"played_events"`
	ErrorEvents  int           `json:"error_events"`
	PauseCount   int           `json:"pause_count"`
}

// Playback 把事件序列按原始间隔交给 FrameFunc，是默认的回放界面
type Playback struct {
	events  []session.EventRecord
	speed   Speed
	onFrame FrameFunc

	mu        sync.RWMutex
	stats     PlaybackStats
	isPlaying bool
	isPaused  bool
	started   bool

	ctx      context.Context
	cancel   context.CancelFunc
	resumeCh chan struct{}
	wg       sync.WaitGroup
}

// NewPlayback 创建回放；events 应为 Projector 的输出
func NewPlayback(events []session.EventRecord, speed Speed, onFrame FrameFunc) *Playback {
	if speed < 0 {
		speed = SpeedInstant
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Playback{
		events:   events,
		speed:    speed,
		onFrame:  onFrame,
		stats:    PlaybackStats{TotalEvents: len(events)},
		ctx:      ctx,
		cancel:   cancel,
		resumeCh: make(chan struct{}, 1),
	}
}

// Len 事件数
func (p *Playback) Len() int {
	return len(p.events)
}

// Play 开始回放，一个 Playback 只能播放一次
func (p *Playback) Play() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("playback already started")
	}
	p.started = true
	p.isPlaying = true
	p.stats.StartTime = time.Now()
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop()
	}()
	return nil
}

// Pause 暂停，当前帧之后生效
func (p *Playback) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isPlaying {
		return fmt.Errorf("playback is not playing")
	}
	if p.isPaused {
		return fmt.Errorf("playback is already paused")
	}
	p.isPaused = true
	p.stats.PauseCount++
	return nil
}

// Resume 恢复
func (p *Playback) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isPlaying {
		return fmt.Errorf("playback is not playing")
	}
	if !p.isPaused {
		return fmt.Errorf("playback is not paused")
	}
	p.isPaused = false

	select {
	case p.resumeCh <- struct{}{}:
	default:
	}
	return nil
}

// Stop 停止并等待回放协程退出，可重复调用
func (p *Playback) Stop() error {
	p.cancel()
	p.wg.Wait()
	return nil
}

// Wait 等待回放结束
func (p *Playback) Wait() {
	p.wg.Wait()
}

// IsPlaying 是否在播放
func (p *Playback) IsPlaying() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isPlaying
}

// IsPaused 是否已暂停
func (p *Playback) IsPaused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isPaused
}

// Stats 获取统计信息
func (p *Playback) Stats() PlaybackStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := p.stats
	if p.isPlaying {
		stats.Duration = time.Since(stats.StartTime)
	}
	return stats
}

func (p *Playback) loop() {
	defer func() {
		p.mu.Lock()
		p.isPlaying = false
		p.isPaused = false
		p.stats.EndTime = time.Now()
		p.stats.Duration = p.stats.EndTime.Sub(p.stats.StartTime)
		p.mu.Unlock()
	}()

	if len(p.events) == 0 {
		return
	}
	first := p.events[0].Timestamp
	prev := first

	for i, event := range p.events {
		if !p.waitIfPaused() {
			return
		}

		delay := time.Duration(event.Timestamp-prev) * time.Millisecond
		prev = event.Timestamp

		if p.speed > 0 && delay > 0 {
			select {
			case <-time.After(time.Duration(float64(delay) / float64(p.speed))):
			case <-p.ctx.Done():
				return
			}
		} else if p.ctx.Err() != nil {
			return
		}

		frame := Frame{
			Index:  i,
			Event:  event,
			Offset: time.Duration(event.Timestamp-first) * time.Millisecond,
			Delay:  delay,
		}

		var err error
		if p.onFrame != nil {
			err = callFrame(p.onFrame, frame)
		}

		p.mu.Lock()
		if err != nil {
			p.stats.ErrorEvents++
		} else {
			p.stats.PlayedEvents++
		}
		p.mu.Unlock()
	}
}

// waitIfPaused 返回 false 表示回放被停止
func (p *Playback) waitIfPaused() bool {
	for {
		p.mu.RLock()
		paused := p.isPaused
		p.mu.RUnlock()
		if !paused {
			return p.ctx.Err() == nil
		}

		select {
		case <-p.resumeCh:
		case <-p.ctx.Done():
			return false
		}
	}
}

func callFrame(fn FrameFunc, frame Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("frame %d panicked: %v", frame.Index, r)
		}
	}()
	return fn(frame)
}
