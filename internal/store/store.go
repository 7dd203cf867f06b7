package store

import (
	"context"
	"errors"
	"fmt"

	"zhaojing/internal/session"
)

var (
	// ErrNotFound 指定 id 的录制不存在
	ErrNotFound = errors.New("recording not found")
	// ErrEmptyRecording 没有事件的会话不入库
	ErrEmptyRecording = errors.New("recording has no events")

	errClosed = errors.New("store closed")
)

// Recording 入库后的录制，写入后只读不改，只能删除
type Recording struct {
	ID int64 `json:"id"`
	session.Payload
}

// EventCount 事件数
func (r *Recording) EventCount() int {
	return len(r.Records)
}

// Store 录制的持久化存储
// Create 分配 id 与写入对调用方是原子的；List 不保证顺序，由调用方排序
type Store interface {
	Create(ctx context.Context, payload *session.Payload) (int64, error)
	List(ctx context.Context) ([]Recording, error)
	Get(ctx context.Context, id int64) (*Recording, error)
	Delete(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
	Close() error
}

// validate 入库前检查；duration 总是按事件重新计算
func validate(payload *session.Payload) error {
	if payload == nil {
		return fmt.Errorf("nil payload")
	}
	if len(payload.Records) == 0 {
		return ErrEmptyRecording
	}
	payload.Duration = session.Duration(payload.Records)
	return nil
}

// notFound 统一的不存在错误
func notFound(id int64) error {
	return fmt.Errorf("%w: id=%d", ErrNotFound, id)
}
