package replay

import (
	"context"
	"fmt"
	"sync"

	"zhaojing/internal/archive"
	"zhaojing/internal/logger"
	"zhaojing/internal/store"
)

// Library 录制列表的页面模型：列表、选中、删除、导入导出
type Library struct {
	store     store.Store
	selection *Selection

	mu    sync.RWMutex
	items []Summary
}

// NewLibrary 创建列表模型
func NewLibrary(s store.Store, selection *Selection) *Library {
	if selection == nil {
		selection = NewSelection(nil)
	}
	return &Library{store: s, selection: selection}
}

// Load 重新读取列表，最新的在前；失败时保留原列表
func (l *Library) Load(ctx context.Context) ([]Summary, error) {
	recs, err := l.store.List(ctx)
	if err != nil {
		logger.LogError("Library", fmt.Sprintf("加载录制列表失败: %v", err), nil)
		return l.Items(), err
	}

	items := Summaries(recs)

	l.mu.Lock()
	l.items = items
	l.mu.Unlock()
	return l.Items(), nil
}

// Items 当前内存中的列表
func (l *Library) Items() []Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Summary(nil), l.items...)
}

// Select 选中并重建回放界面
func (l *Library) Select(ctx context.Context, id int64) (Surface, error) {
	rec, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.selection.Select(rec), nil
}

// Selection 当前选择
func (l *Library) Selection() *Selection {
	return l.selection
}

// Delete 删除录制；失败时列表不变，删除的是当前选中时清空选中
func (l *Library) Delete(ctx context.Context, id int64) error {
	if err := l.store.Delete(ctx, id); err != nil {
		logger.LogError("Library", fmt.Sprintf("删除录制 %d 失败: %v", id, err), nil)
		return err
	}

	if cur, ok := l.selection.Current(); ok && cur.ID == id {
		l.selection.Clear()
	}

	logger.LogInfo("Library", fmt.Sprintf("录制 %d 已删除", id), nil)
	_, err := l.Load(ctx)
	return err
}

// Import 导入录制文件，返回新分配的 id
func (l *Library) Import(ctx context.Context, data []byte) (int64, error) {
	payload, err := archive.Import(data)
	if err != nil {
		return 0, err
	}

	id, err := l.store.Create(ctx, payload)
	if err != nil {
		return 0, err
	}

	logger.LogSuccess("Library", fmt.Sprintf("导入录制 %d: %s", id, payload.URL), nil)
	if _, err := l.Load(ctx); err != nil {
		return id, err
	}
	return id, nil
}

// Export 导出录制，返回文件名和内容
func (l *Library) Export(ctx context.Context, id int64) (string, []byte, error) {
	rec, err := l.store.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}

	data, err := archive.Export(rec)
	if err != nil {
		return "", nil, err
	}
	return archive.ExportFileName(rec), data, nil
}
