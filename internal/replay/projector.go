package replay

import (
	"sync"

	"zhaojing/internal/session"
	"zhaojing/internal/store"
)

// NothingToPlay 空录制的提示
const NothingToPlay = "nothing to play"

// Projector 存储与回放界面之间唯一的接缝
type Projector struct{}

// Project 原样返回事件序列：不变换、不重排、不过滤
func (Projector) Project(rec *store.Recording) []session.EventRecord {
	if rec == nil || len(rec.Records) == 0 {
		return []session.EventRecord{}
	}
	return append([]session.EventRecord(nil), rec.Records...)
}

// Surface 回放界面
type Surface interface {
	Play() error
	Stop() error
	Wait()
	Len() int
}

// SurfaceFactory 用投影出的事件构建回放界面
type SurfaceFactory func(events []session.EventRecord) Surface

// PlaybackFactory 以 Playback 作为回放界面
func PlaybackFactory(speed Speed, onFrame FrameFunc) SurfaceFactory {
	return func(events []session.EventRecord) Surface {
		return NewPlayback(events, speed, onFrame)
	}
}

// EmptySurface 没有可回放的事件
type EmptySurface struct{}

func (EmptySurface) Play() error    { return nil }
func (EmptySurface) Stop() error    { return nil }
func (EmptySurface) Wait()          {}
func (EmptySurface) Len() int       { return 0 }
func (EmptySurface) String() string { return NothingToPlay }

// Selection 当前选中的录制与它的回放界面
// 选中变化时旧界面先被拆除，再构建新界面
type Selection struct {
	projector Projector
	factory   SurfaceFactory

	mu      sync.Mutex
	current *store.Recording
	surface Surface
}

// NewSelection 创建选择；factory 为空时使用瞬时回放
func NewSelection(factory SurfaceFactory) *Selection {
	if factory == nil {
		factory = PlaybackFactory(SpeedInstant, nil)
	}
	return &Selection{factory: factory}
}

// Select 选中录制并返回新的回放界面
func (s *Selection) Select(rec *store.Recording) Surface {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardown()

	if rec == nil {
		s.current = nil
		return nil
	}

	s.current = rec
	events := s.projector.Project(rec)
	if len(events) == 0 {
		s.surface = EmptySurface{}
	} else {
		s.surface = s.factory(events)
	}
	return s.surface
}

// Clear 取消选中并拆除回放界面
func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardown()
	s.current = nil
}

// Current 当前选中的录制
func (s *Selection) Current() (*store.Recording, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.current != nil
}

// Surface 当前回放界面，未选中时为 nil
func (s *Selection) Surface() Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface
}

// Events 当前选中录制的投影，未选中时为空序列
func (s *Selection) Events() []session.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projector.Project(s.current)
}

func (s *Selection) teardown() {
	if s.surface != nil {
		s.surface.Stop()
		s.surface = nil
	}
}
