package content

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"zhaojing/internal/logger"
	"zhaojing/internal/protocol"
	"zhaojing/internal/session"
	"zhaojing/internal/transport"
)

// ErrSaveRejected 后台收到了会话但没有保存成功
var ErrSaveRejected = errors.New("recording rejected")

// RetryPolicy 提交失败后的重试策略，MaxRetries 为 0 时失败即放弃
type RetryPolicy struct {
	MaxRetries    int
	RetryInterval time.Duration
	Timeout       time.Duration // 单次提交的等待上限，0 表示不限
}

// DefaultRetryPolicy 不重试
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RetryInterval: 500 * time.Millisecond,
		Timeout:       30 * time.Second,
	}
}

// Submitter 通过 SAVE_RECORDING 把会话交给后台，并等待确认
type Submitter struct {
	channel transport.Requester
	tabID   string

	mu     sync.RWMutex
	policy RetryPolicy
}

// NewSubmitter 创建提交器
func NewSubmitter(channel transport.Requester, tabID string, policy RetryPolicy) *Submitter {
	return &Submitter{channel: channel, tabID: tabID, policy: policy}
}

// SetPolicy 配置热加载时调整重试策略
func (s *Submitter) SetPolicy(policy RetryPolicy) {
	s.mu.Lock()
	s.policy = policy
	s.mu.Unlock()
}

// Policy 当前策略
func (s *Submitter) Policy() RetryPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// Submit 实现 session.Submitter；确认结果只记录日志，调用方据返回值统计
func (s *Submitter) Submit(ctx context.Context, payload *session.Payload) error {
	msg, err := protocol.SaveRecordingMessage(payload)
	if err != nil {
		return err
	}

	policy := s.Policy()
	attempts := 0
	op := func() error {
		attempts++
		err := s.submitOnce(ctx, policy.Timeout, msg)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	if policy.MaxRetries <= 0 {
		err = op()
	} else {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = policy.RetryInterval
		exp.MaxElapsedTime = 0
		err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(exp, uint64(policy.MaxRetries)), ctx))
	}

	if err != nil {
		s.log(logger.LevelError, fmt.Sprintf("保存录制失败（%d 次尝试）: %v", attempts, err))
		return err
	}
	s.log(logger.LevelSuccess, fmt.Sprintf("录制已保存: %d 个事件", len(payload.Records)))
	return nil
}

func (s *Submitter) submitOnce(ctx context.Context, timeout time.Duration, msg protocol.Message) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	raw, err := s.channel.Request(ctx, msg)
	if err != nil {
		return err
	}

	ack, err := protocol.DecodeSaveResponse(raw)
	if err != nil {
		return err
	}
	if !ack.Success {
		return fmt.Errorf("%w: %s", ErrSaveRejected, ack.Error)
	}
	return nil
}

func (s *Submitter) log(level logger.Level, message string) {
	var tabID *string
	if s.tabID != "" {
		tabID = &s.tabID
	}
	logger.Log(level, "Submitter", message, tabID)
}
