package store

import (
	"context"
	"sort"
	"sync"

	"zhaojing/internal/session"
)

// MemoryStore 进程内存储，用于测试和不需要持久化的运行
type MemoryStore struct {
	mu         sync.RWMutex
	recordings map[int64]Recording
	lastID     int64
	closed     bool
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recordings: make(map[int64]Recording)}
}

func (s *MemoryStore) Create(ctx context.Context, payload *session.Payload) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validate(payload); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}

	s.lastID++
	rec := Recording{ID: s.lastID, Payload: clonePayload(payload)}
	s.recordings[rec.ID] = rec
	return rec.ID, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	out := make([]Recording, 0, len(s.recordings))
	for _, rec := range s.recordings {
		out = append(out, Recording{ID: rec.ID, Payload: clonePayload(&rec.Payload)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	rec, ok := s.recordings[id]
	if !ok {
		return nil, notFound(id)
	}
	return &Recording{ID: rec.ID, Payload: clonePayload(&rec.Payload)}, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	if _, ok := s.recordings[id]; !ok {
		return notFound(id)
	}
	delete(s.recordings, id)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// clonePayload 事件本身不可变，复制切片即可
func clonePayload(p *session.Payload) session.Payload {
	cp := *p
	cp.Records = append([]session.EventRecord(nil), p.Records...)
	return cp
}
