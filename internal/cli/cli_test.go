package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhaojing/internal/background"
	"zhaojing/internal/httpserver"
	"zhaojing/internal/protocol"
	"zhaojing/internal/session"
	"zhaojing/internal/store"
	"zhaojing/internal/transport"
)

type oneTab struct {
	channel transport.Requester
}

func (o oneTab) Tab(tabID string) (transport.Requester, error) {
	if tabID != "tab-1" {
		return nil, transport.ErrUnknownTab
	}
	return o.channel, nil
}

func (o oneTab) Tabs() []transport.TabInfo {
	return []transport.TabInfo{{TabID: "tab-1", URL: "https://example.com"}}
}

func startAPI(t *testing.T) (string, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()

	recording := false
	page := transport.NewLocal(transport.HandlerFunc(func(_ context.Context, msg protocol.Message) (any, error) {
		if msg.Action == protocol.ActionSet {
			recording = !recording
		}
		return recording, nil
	}), "tab-1")
	t.Cleanup(func() { page.Close() })

	api := httpserver.NewAPIServer(httpserver.Options{
		Store:      s,
		Service:    background.NewService(s),
		Controller: background.NewController(oneTab{channel: page}),
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv.URL, s
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func seedRecording(t *testing.T, s store.Store, timestamps ...int64) int64 {
	t.Helper()
	records := make([]session.EventRecord, 0, len(timestamps))
	for _, ts := range timestamps {
		ev, err := session.NewEventRecord(ts, map[string]any{"type": 3})
		require.NoError(t, err)
		records = append(records, ev)
	}
	id, err := s.Create(context.Background(), session.NewPayload("https://example.com/a", time.UnixMilli(1700000000000), records))
	require.NoError(t, err)
	return id
}

func TestRootCommand(t *testing.T) {
	root := NewRootCmd()
	assert.Equal(t, "zhaojing", root.Use)
	assert.NotEmpty(t, root.Long)

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, expected := range []string{"status", "tabs", "state", "toggle", "list", "show", "export", "import", "delete", "replay"} {
		assert.True(t, names[expected], "missing command %s", expected)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("server"))
	assert.NotNil(t, root.PersistentFlags().Lookup("local"))
}

func TestTabCommands(t *testing.T) {
	url, _ := startAPI(t)

	out, err := run(t, "--server", url, "tabs")
	require.NoError(t, err)
	assert.Contains(t, out, "tab-1")

	out, err = run(t, "--server", url, "toggle", "tab-1")
	require.NoError(t, err)
	assert.Equal(t, "recording\n", out)

	out, err = run(t, "--server", url, "state", "tab-1")
	require.NoError(t, err)
	assert.Equal(t, "recording\n", out)

	_, err = run(t, "--server", url, "toggle", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown_tab")
}

func TestRecordingCommandsRemote(t *testing.T) {
	url, s := startAPI(t)
	seedRecording(t, s, 100, 250, 400)

	out, err := run(t, "--server", url, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "https://example.com/a")
	assert.Contains(t, out, "0:00")

	dir := t.TempDir()
	out, err = run(t, "--server", url, "export", "1", "-o", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported recording 1")

	files, err := filepath.Glob(filepath.Join(dir, "zhaojing-1-*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	out, err = run(t, "--server", url, "import", files[0])
	require.NoError(t, err)
	assert.Contains(t, out, "as recording 2")

	out, err = run(t, "--server", url, "replay", "2", "--speed", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "3 events")
	assert.Equal(t, 3, strings.Count(out, "\"type\":3"))

	_, err = run(t, "--server", url, "delete", "1")
	require.NoError(t, err)
	_, err = run(t, "--server", url, "show", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_found")

	_, err = run(t, "--server", url, "delete", "abc")
	assert.Error(t, err)
}

// TestRecordingCommandsLocal --local 直接打开配置里的存储
func TestRecordingCommandsLocal(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "zhaojing.yaml")
	dbPath := filepath.Join(dir, "records.db")
	require.NoError(t, os.WriteFile(configPath, []byte("store:\n  driver: sqlite\n  sqlite:\n    path: "+dbPath+"\n"), 0o644))

	archive := filepath.Join(dir, "in.json")
	require.NoError(t, os.WriteFile(archive, []byte(`{"timestamp":1000,"url":"https://x","records":[{"timestamp":1000},{"timestamp":1500}]}`), 0o644))

	out, err := run(t, "--local", "--config", configPath, "import", archive)
	require.NoError(t, err)
	assert.Contains(t, out, "as recording 1")

	out, err = run(t, "--local", "--config", configPath, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "https://x")

	out, err = run(t, "--local", "--config", configPath, "export", "1", "-o", "-")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"timestamp":1000,"url":"https://x","duration":500,"records":[{"timestamp":1000},{"timestamp":1500}]}`, out)

	_, err = run(t, "--local", "--config", configPath, "delete", "1")
	require.NoError(t, err)

	out, err = run(t, "--local", "--config", configPath, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No recordings.")
}
