package background_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhaojing/internal/background"
	"zhaojing/internal/content"
	"zhaojing/internal/session"
	"zhaojing/internal/store"
	"zhaojing/internal/transport"
)

// scriptedSink 采集开始后发射固定的事件序列
type scriptedSink struct {
	timestamps []int64
	mu         sync.Mutex
	stopped    bool
}

func (s *scriptedSink) Start(emit func(session.EventRecord)) (func(), error) {
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()

	for _, ts := range s.timestamps {
		ev, err := session.NewEventRecord(ts, map[string]any{"type": 3, "data": map[string]any{"source": 1}})
		if err != nil {
			return nil, err
		}
		emit(ev)
	}
	return func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
	}, nil
}

// TestRecordingPipeline 远程发起者切换两次，页面定稿并经 websocket 提交，后台写入存储
func TestRecordingPipeline(t *testing.T) {
	s := store.NewMemoryStore()
	svc := background.NewService(s)

	config := transport.DefaultServerConfig()
	endpoint := transport.NewServer(config, svc)
	hs := httptest.NewServer(endpoint)
	defer hs.Close()
	defer endpoint.Shutdown(context.Background())

	url := "ws" + strings.TrimPrefix(hs.URL, "http")
	client := transport.NewClient(transport.DefaultClientConfig(url, "tab-42"))
	agent := content.NewAgent(client, &scriptedSink{timestamps: []int64{100, 250, 400}},
		content.WithTabID("tab-42"),
		content.WithPageURL(func() string { return "https://example.com/checkout" }),
	)
	client.SetHandler(agent)
	require.NoError(t, client.Connect(context.Background()))
	defer func() {
		client.Close()
		agent.Close()
	}()

	ctl := background.NewController(endpoint)
	require.Eventually(t, func() bool { return len(ctl.Tabs()) == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state, err := ctl.Toggle(ctx, "tab-42")
	require.NoError(t, err)
	assert.True(t, state)
	t.Log("🎬 recording started on tab-42")

	state, err = ctl.Query(ctx, "tab-42")
	require.NoError(t, err)
	assert.True(t, state)

	state, err = ctl.Toggle(ctx, "tab-42")
	require.NoError(t, err)
	assert.False(t, state)

	// SET 的响应在提交确认之后才写回，此时存储里已有记录
	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "https://example.com/checkout", recs[0].URL)
	assert.Equal(t, int64(300), recs[0].Duration)
	require.Len(t, recs[0].Records, 3)
	assert.JSONEq(t, `{"type":3,"timestamp":250,"data":{"source":1}}`, string(recs[0].Records[1].Raw()))
	assert.Equal(t, int64(1), svc.Stats().Saved)
	t.Logf("✅ recording %d saved: %d events, %dms", recs[0].ID, len(recs[0].Records), recs[0].Duration)
}
