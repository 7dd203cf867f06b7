package replay

import (
	"fmt"
	"sort"
	"time"

	"zhaojing/internal/store"
)

// Summary 列表项
type Summary struct {
	ID         int64  `json:"id"`
	Timestamp  int64  `json:"timestamp"`
	URL        string `json:"url"`
	Duration   int64  `json:"duration"`
	EventCount int    `json:"event_count"`
}

// Summarize 录制的列表摘要
func Summarize(rec *store.Recording) Summary {
	return Summary{
		ID:         rec.ID,
		Timestamp:  rec.Timestamp,
		URL:        rec.URL,
		Duration:   rec.Duration,
		EventCount: rec.EventCount(),
	}
}

// Summaries 列表摘要，最新的（id 最大）在前
func Summaries(recs []store.Recording) []Summary {
	items := make([]Summary, 0, len(recs))
	for i := range recs {
		items = append(items, Summarize(&recs[i]))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return items
}

// FormatDuration 毫秒格式化为 m:ss，不足一秒的部分舍去
func FormatDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	seconds := ms / 1000
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// FormatDate 毫秒时间戳格式化为本地时间
func FormatDate(ms int64) string {
	return FormatDateIn(ms, time.Local)
}

// FormatDateIn 指定时区
func FormatDateIn(ms int64, loc *time.Location) string {
	return time.UnixMilli(ms).In(loc).Format("2006/1/2 15:04:05")
}
