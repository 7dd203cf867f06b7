package background

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"zhaojing/internal/logger"
	"zhaojing/internal/protocol"
	"zhaojing/internal/store"
	"zhaojing/internal/transport"
)

// ErrUnsupportedAction 后台只处理 SAVE_RECORDING
var ErrUnsupportedAction = errors.New("unsupported action")

// ServiceStats 保存统计
type ServiceStats struct {
	Saved    int64 `json:"saved"`
	Rejected int64 `json:"rejected"`
}

// Service 后台上下文的请求处理：把页面提交的会话写入存储
type Service struct {
	store store.Store

	saved    atomic.Int64
	rejected atomic.Int64
}

// NewService 创建后台服务
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// Handle 实现 transport.Handler
// 存储失败不作为通道错误，而是以 {success:false, error} 应答
func (s *Service) Handle(ctx context.Context, msg protocol.Message) (any, error) {
	switch msg.Action {
	case protocol.ActionSaveRecording:
		return s.save(ctx, msg), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAction, msg.Action)
	}
}

func (s *Service) save(ctx context.Context, msg protocol.Message) protocol.SaveRecordingResponse {
	tabID := tabOf(ctx)

	payload, err := protocol.DecodePayload(msg)
	if err != nil {
		s.rejected.Add(1)
		logger.LogError("Background", fmt.Sprintf("录制数据无法解析: %v", err), tabID)
		return protocol.SaveRecordingResponse{Success: false, Error: err.Error()}
	}

	id, err := s.store.Create(ctx, payload)
	if err != nil {
		s.rejected.Add(1)
		logger.LogError("Background", fmt.Sprintf("保存录制失败: %v", err), tabID)
		return protocol.SaveRecordingResponse{Success: false, Error: err.Error()}
	}

	s.saved.Add(1)
	logger.LogSuccess("Background",
		fmt.Sprintf("录制已保存: id=%d url=%s events=%d duration=%dms", id, payload.URL, len(payload.Records), payload.Duration),
		tabID)
	return protocol.SaveRecordingResponse{Success: true}
}

// Stats 获取统计信息
func (s *Service) Stats() ServiceStats {
	return ServiceStats{Saved: s.saved.Load(), Rejected: s.rejected.Load()}
}

func tabOf(ctx context.Context) *string {
	if id := transport.TabIDFromContext(ctx); id != "" {
		return &id
	}
	return nil
}
