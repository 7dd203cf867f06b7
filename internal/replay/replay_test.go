package replay_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhaojing/internal/replay"
	"zhaojing/internal/session"
	"zhaojing/internal/store"
)

func events(t *testing.T, timestamps ...int64) []session.EventRecord {
	t.Helper()
	out := make([]session.EventRecord, 0, len(timestamps))
	for _, ts := range timestamps {
		ev, err := session.NewEventRecord(ts, map[string]any{"type": 3})
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func create(t *testing.T, s store.Store, url string, timestamps ...int64) int64 {
	t.Helper()
	records := events(t, timestamps...)
	id, err := s.Create(context.Background(), &session.Payload{
		Timestamp: 1700000000000,
		URL:       url,
		Duration:  session.Duration(records),
		Records:   records,
	})
	require.NoError(t, err)
	return id
}

// fakeSurface 记录拆除顺序
type fakeSurface struct {
	name    string
	n       int
	log     *[]string
	stopped bool
}

func (f *fakeSurface) Play() error { *f.log = append(*f.log, "play "+f.name); return nil }
func (f *fakeSurface) Stop() error {
	f.stopped = true
	*f.log = append(*f.log, "stop "+f.name)
	return nil
}
func (f *fakeSurface) Wait()    {}
func (f *fakeSurface) Len() int { return f.n }

// TestProjectIsIdentity 投影不改变事件序列
func TestProjectIsIdentity(t *testing.T) {
	rec := &store.Recording{ID: 1}
	rec.Records = events(t, 300, 100, 100, 200) // 不排序也不去重

	out := replay.Projector{}.Project(rec)
	require.Len(t, out, 4)
	for i := range out {
		assert.Equal(t, string(rec.Records[i].Raw()), string(out[i].Raw()))
	}

	assert.Empty(t, replay.Projector{}.Project(&store.Recording{}))
	assert.NotNil(t, replay.Projector{}.Project(nil))
}

// TestSelectionTearsDownBeforeBuild 选中变化时先拆旧界面
func TestSelectionTearsDownBeforeBuild(t *testing.T) {
	var log []string
	built := 0
	sel := replay.NewSelection(func(evs []session.EventRecord) replay.Surface {
		built++
		log = append(log, "build")
		return &fakeSurface{name: string(rune('a' + built - 1)), n: len(evs), log: &log}
	})

	r1 := &store.Recording{ID: 1}
	r1.Records = events(t, 1, 2)
	r2 := &store.Recording{ID: 2}
	r2.Records = events(t, 5)

	first := sel.Select(r1).(*fakeSurface)
	assert.Equal(t, 2, first.Len())

	sel.Select(r2)
	assert.True(t, first.stopped)
	assert.Equal(t, []string{"build", "stop a", "build"}, log)

	cur, ok := sel.Current()
	require.True(t, ok)
	assert.Equal(t, int64(2), cur.ID)
}

// TestSelectionEmptyRecording 空录制得到“无可回放”界面
func TestSelectionEmptyRecording(t *testing.T) {
	sel := replay.NewSelection(nil)
	surface := sel.Select(&store.Recording{ID: 3})

	require.IsType(t, replay.EmptySurface{}, surface)
	assert.Equal(t, 0, surface.Len())
	assert.NoError(t, surface.Play())
	assert.Equal(t, replay.NothingToPlay, surface.(replay.EmptySurface).String())
}

// TestDeleteSelectedClearsSelection 删除当前选中的录制后选中为空，投影为空序列
func TestDeleteSelectedClearsSelection(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	keep := create(t, s, "https://keep", 1, 2)
	gone := create(t, s, "https://gone", 10, 20, 30)

	lib := replay.NewLibrary(s, nil)
	items, err := lib.Load(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, gone, items[0].ID, "最新的在前")

	surface, err := lib.Select(ctx, gone)
	require.NoError(t, err)
	assert.Equal(t, 3, surface.Len())
	assert.Len(t, lib.Selection().Events(), 3)

	require.NoError(t, lib.Delete(ctx, gone))

	_, ok := lib.Selection().Current()
	assert.False(t, ok)
	assert.Nil(t, lib.Selection().Surface())
	assert.Empty(t, lib.Selection().Events())

	items = lib.Items()
	require.Len(t, items, 1)
	assert.Equal(t, keep, items[0].ID)
}

// TestDeleteOtherKeepsSelection 删除其他录制不影响选中
func TestDeleteOtherKeepsSelection(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	a := create(t, s, "https://a", 1)
	b := create(t, s, "https://b", 1, 4)

	lib := replay.NewLibrary(s, nil)
	_, err := lib.Select(ctx, a)
	require.NoError(t, err)
	require.NoError(t, lib.Delete(ctx, b))

	cur, ok := lib.Selection().Current()
	require.True(t, ok)
	assert.Equal(t, a, cur.ID)
}

// failingStore 删除总是失败
type failingStore struct {
	store.Store
}

func (failingStore) Delete(context.Context, int64) error {
	return errors.New("disk on fire")
}

// TestDeleteFailureKeepsList 删除失败时列表不变
func TestDeleteFailureKeepsList(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	id := create(t, mem, "https://a", 1, 2)

	lib := replay.NewLibrary(failingStore{mem}, nil)
	_, err := lib.Load(ctx)
	require.NoError(t, err)
	_, err = lib.Select(ctx, id)
	require.NoError(t, err)

	err = lib.Delete(ctx, id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNotFound)

	assert.Len(t, lib.Items(), 1)
	_, ok := lib.Selection().Current()
	assert.True(t, ok)
}

// TestLibraryImportExport 导入后出现在列表中，导出的文件名带 id
func TestLibraryImportExport(t *testing.T) {
	ctx := context.Background()
	lib := replay.NewLibrary(store.NewMemoryStore(), nil)

	id, err := lib.Import(ctx, []byte(`{"timestamp":1000,"url":"https://x","records":[{"timestamp":1000},{"timestamp":1500}]}`))
	require.NoError(t, err)

	items := lib.Items()
	require.Len(t, items, 1)
	assert.Equal(t, int64(500), items[0].Duration)
	assert.Equal(t, 2, items[0].EventCount)

	name, data, err := lib.Export(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "zhaojing-1-1000.json", name)
	assert.JSONEq(t, `{"id":1,"timestamp":1000,"url":"https://x","duration":500,"records":[{"timestamp":1000},{"timestamp":1500}]}`, string(data))

	_, _, err = lib.Export(ctx, 42)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// TestPlaybackInstant 瞬时回放按顺序交付所有帧
func TestPlaybackInstant(t *testing.T) {
	var mu sync.Mutex
	var frames []replay.Frame
	p := replay.NewPlayback(events(t, 100, 250, 400), replay.SpeedInstant, func(f replay.Frame) error {
		mu.Lock()
		frames = append(frames, f)
		mu.Unlock()
		return nil
	})

	require.NoError(t, p.Play())
	p.Wait()

	require.Len(t, frames, 3)
	assert.Equal(t, time.Duration(0), frames[0].Offset)
	assert.Equal(t, 150*time.Millisecond, frames[1].Delay)
	assert.Equal(t, 300*time.Millisecond, frames[2].Offset)

	stats := p.Stats()
	assert.Equal(t, 3, stats.PlayedEvents)
	assert.False(t, p.IsPlaying())
	assert.Error(t, p.Play(), "同一个回放不能播放两次")
}

// TestPlaybackHonoursGaps 按速度缩放事件间隔
func TestPlaybackHonoursGaps(t *testing.T) {
	p := replay.NewPlayback(events(t, 0, 100, 200), replay.SpeedFast, nil)

	start := time.Now()
	require.NoError(t, p.Play())
	p.Wait()
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

// TestPlaybackPauseResumeStop 暂停期间不出帧，停止后协程退出
func TestPlaybackPauseResumeStop(t *testing.T) {
	count := make(chan int, 16)
	n := 0
	p := replay.NewPlayback(events(t, 0, 50, 100, 150, 5000), replay.SpeedNormal, func(replay.Frame) error {
		n++
		count <- n
		return nil
	})

	require.NoError(t, p.Play())
	<-count
	require.NoError(t, p.Pause())
	assert.True(t, p.IsPaused())
	assert.Error(t, p.Pause())

	require.NoError(t, p.Resume())
	<-count
	require.NoError(t, p.Stop())
	assert.False(t, p.IsPlaying())
	assert.Less(t, p.Stats().PlayedEvents, 5)
}

// TestPlaybackFrameErrorsCounted 帧错误只计数
func TestPlaybackFrameErrorsCounted(t *testing.T) {
	p := replay.NewPlayback(events(t, 1, 2, 3), replay.SpeedInstant, func(f replay.Frame) error {
		if f.Index == 1 {
			panic("renderer crashed")
		}
		return nil
	})
	require.NoError(t, p.Play())
	p.Wait()

	stats := p.Stats()
	assert.Equal(t, 2, stats.PlayedEvents)
	assert.Equal(t, 1, stats.ErrorEvents)
}

// TestFormatters 时长与日期格式
func TestFormatters(t *testing.T) {
	assert.Equal(t, "0:00", replay.FormatDuration(0))
	assert.Equal(t, "0:00", replay.FormatDuration(999))
	assert.Equal(t, "0:05", replay.FormatDuration(5300))
	assert.Equal(t, "1:05", replay.FormatDuration(65000))
	assert.Equal(t, "61:01", replay.FormatDuration(3661000))

	loc := time.FixedZone("CST", 8*3600)
	assert.Equal(t, "2023/11/15 06:13:20", replay.FormatDateIn(1700000000000, loc))
}

// TestSummariesNewestFirst 列表按 id 倒序，与 Library.Load 一致
func TestSummariesNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	first := create(t, s, "https://a", 100, 400)
	second := create(t, s, "https://b", 1, 2, 3)

	recs, err := s.List(ctx)
	require.NoError(t, err)
	items := replay.Summaries(recs)
	require.Len(t, items, 2)
	assert.Equal(t, second, items[0].ID)
	assert.Equal(t, 3, items[0].EventCount)
	assert.Equal(t, first, items[1].ID)
	assert.Equal(t, int64(300), items[1].Duration)

	loaded, err := replay.NewLibrary(s, nil).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, items, loaded)

	assert.Empty(t, replay.Summaries(nil))
}
