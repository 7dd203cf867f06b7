package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhaojing/internal/protocol"
	"zhaojing/internal/transport"
)

// startBackground 启动带 httptest 的后台端点
func startBackground(t *testing.T, handler transport.Handler) (*transport.Server, string) {
	t.Helper()
	config := transport.DefaultServerConfig()
	config.HelloTimeout = 0
	srv := transport.NewServer(config, handler)

	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		hs.Close()
	})
	return srv, "ws" + strings.TrimPrefix(hs.URL, "http")
}

// connectPage 以 tabID 连接后台
func connectPage(t *testing.T, url, tabID string, handler transport.Handler) *transport.Client {
	t.Helper()
	config := transport.DefaultClientConfig(url, tabID)
	config.PageURL = "https://example.com/" + tabID
	config.ReconnectInterval = 20 * time.Millisecond
	config.MaxReconnectTries = 3

	client := transport.NewClient(config)
	client.SetHandler(handler)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { client.Close() })
	return client
}

func waitForTab(t *testing.T, srv *transport.Server, tabID string) transport.Requester {
	t.Helper()
	var channel transport.Requester
	require.Eventually(t, func() bool {
		var err error
		channel, err = srv.Tab(tabID)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	return channel
}

func TestRoundTripBothDirections(t *testing.T) {
	var savedFrom atomic.Value
	srv, url := startBackground(t, transport.HandlerFunc(func(ctx context.Context, msg protocol.Message) (any, error) {
		assert.Equal(t, protocol.ActionSaveRecording, msg.Action)
		savedFrom.Store(transport.TabIDFromContext(ctx))
		return protocol.SaveRecordingResponse{Success: true}, nil
	}))

	client := connectPage(t, url, "tab-a", transport.HandlerFunc(func(ctx context.Context, msg protocol.Message) (any, error) {
		return msg.Action == protocol.ActionGet, nil
	}))
	assert.Equal(t, transport.StateConnected, client.State())

	channel := waitForTab(t, srv, "tab-a")
	raw, err := channel.Request(context.Background(), protocol.GetMessage())
	require.NoError(t, err)
	state, err := protocol.DecodeBool(raw)
	require.NoError(t, err)
	assert.True(t, state)

	msg, err := protocol.NewMessage(protocol.ActionSaveRecording, map[string]any{"url": "x"})
	require.NoError(t, err)
	raw, err = client.Request(context.Background(), msg)
	require.NoError(t, err)
	resp, err := protocol.DecodeSaveResponse(raw)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "tab-a", savedFrom.Load())

	tabs := srv.Tabs()
	require.Len(t, tabs, 1)
	assert.Equal(t, "https://example.com/tab-a", tabs[0].URL)
}

// TestReplyDeferredUntilHandlerReturns 处理器阻塞期间调用方一直等待，其他请求不受影响
func TestReplyDeferredUntilHandlerReturns(t *testing.T) {
	srv, url := startBackground(t, nil)

	release := make(chan struct{})
	connectPage(t, url, "tab-b", transport.HandlerFunc(func(ctx context.Context, msg protocol.Message) (any, error) {
		if msg.Action == protocol.ActionSet {
			<-release
			return false, nil
		}
		return true, nil
	}))
	channel := waitForTab(t, srv, "tab-b")

	done := make(chan json.RawMessage, 1)
	go func() {
		raw, err := channel.Request(context.Background(), protocol.SetMessage())
		if err == nil {
			done <- raw
		}
	}()

	select {
	case <-done:
		t.Fatal("reply arrived before handler returned")
	case <-time.After(100 * time.Millisecond):
	}

	// 读循环不被阻塞
	raw, err := channel.Request(context.Background(), protocol.GetMessage())
	require.NoError(t, err)
	assert.JSONEq(t, "true", string(raw))

	close(release)
	select {
	case raw := <-done:
		assert.JSONEq(t, "false", string(raw))
	case <-time.After(2 * time.Second):
		t.Fatal("deferred reply never arrived")
	}
}

// TestCloseFailsPendingRequests 页面断开后等待中的请求以 ErrChannelClosed 失败
func TestCloseFailsPendingRequests(t *testing.T) {
	srv, url := startBackground(t, nil)

	entered := make(chan struct{})
	client := connectPage(t, url, "tab-c", transport.HandlerFunc(func(ctx context.Context, msg protocol.Message) (any, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	channel := waitForTab(t, srv, "tab-c")

	errCh := make(chan error, 1)
	go func() {
		_, err := channel.Request(context.Background(), protocol.SetMessage())
		errCh <- err
	}()

	<-entered
	require.NoError(t, client.Close())

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, transport.ErrChannelClosed), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request was not failed")
	}

	assert.Eventually(t, func() bool {
		_, err := srv.Tab("tab-c")
		return errors.Is(err, transport.ErrUnknownTab)
	}, 2*time.Second, 10*time.Millisecond)

	_, err := client.Request(context.Background(), protocol.GetMessage())
	assert.ErrorIs(t, err, transport.ErrChannelClosed)
}

func TestRemoteErrorAndUnknownTab(t *testing.T) {
	srv, url := startBackground(t, nil)

	connectPage(t, url, "tab-d", transport.HandlerFunc(func(ctx context.Context, msg protocol.Message) (any, error) {
		return nil, errors.New("capture refused")
	}))
	channel := waitForTab(t, srv, "tab-d")

	_, err := channel.Request(context.Background(), protocol.SetMessage())
	var remote *transport.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, protocol.ActionSet, remote.Action)
	assert.Equal(t, "capture refused", remote.Message)

	_, err = srv.Tab("nobody")
	assert.ErrorIs(t, err, transport.ErrUnknownTab)
}

// TestRehelloReplacesConnection 同一标签页的新连接取代旧连接，旧连接被关闭
func TestRehelloReplacesConnection(t *testing.T) {
	srv, url := startBackground(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	first := transport.NewPeer("first", conn, transport.HandlerFunc(func(context.Context, protocol.Message) (any, error) {
		return "first", nil
	}), transport.DefaultPeerConfig())
	go first.Serve()
	t.Cleanup(func() { first.Close() })

	hello, err := protocol.NewMessage(protocol.ActionHello, protocol.Hello{TabID: "tab-e", URL: "https://old"})
	require.NoError(t, err)
	_, err = first.Request(context.Background(), hello)
	require.NoError(t, err)
	waitForTab(t, srv, "tab-e")

	connectPage(t, url, "tab-e", transport.HandlerFunc(func(context.Context, protocol.Message) (any, error) {
		return "second", nil
	}))

	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("replaced connection was not closed")
	}

	channel, err := srv.Tab("tab-e")
	require.NoError(t, err)
	raw, err := channel.Request(context.Background(), protocol.GetMessage())
	require.NoError(t, err)
	assert.JSONEq(t, `"second"`, string(raw))

	tabs := srv.Tabs()
	require.Len(t, tabs, 1, "旧连接断开不注销新连接")
	assert.Equal(t, "https://example.com/tab-e", tabs[0].URL)
}

// TestRequestBeforeHelloRejected 未登记的连接不能提交
func TestRequestBeforeHelloRejected(t *testing.T) {
	_, url := startBackground(t, transport.HandlerFunc(func(context.Context, protocol.Message) (any, error) {
		return true, nil
	}))

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	peer := transport.NewPeer("anon", conn, nil, transport.DefaultPeerConfig())
	go peer.Serve()
	t.Cleanup(func() { peer.Close() })

	msg, err := protocol.NewMessage(protocol.ActionSaveRecording, map[string]any{})
	require.NoError(t, err)
	_, err = peer.Request(context.Background(), msg)
	var remote *transport.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "before hello")
}

func TestRequestHonoursContext(t *testing.T) {
	srv, url := startBackground(t, nil)
	connectPage(t, url, "tab-f", transport.HandlerFunc(func(ctx context.Context, msg protocol.Message) (any, error) {
		<-ctx.Done()
		return nil, nil
	}))
	channel := waitForTab(t, srv, "tab-f")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := channel.Request(ctx, protocol.GetMessage())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalChannel(t *testing.T) {
	local := transport.NewLocal(transport.HandlerFunc(func(ctx context.Context, msg protocol.Message) (any, error) {
		switch msg.Action {
		case protocol.ActionGet:
			return transport.TabIDFromContext(ctx), nil
		case protocol.ActionSet:
			<-ctx.Done()
			return nil, ctx.Err()
		}
		panic("unexpected action")
	}), "tab-local")

	raw, err := local.Request(context.Background(), protocol.GetMessage())
	require.NoError(t, err)
	assert.JSONEq(t, `"tab-local"`, string(raw))

	_, err = local.Request(context.Background(), protocol.Message{Action: protocol.ActionHello})
	var remote *transport.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "panicked")

	errCh := make(chan error, 1)
	go func() {
		_, err := local.Request(context.Background(), protocol.SetMessage())
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, local.Close())
	assert.ErrorIs(t, <-errCh, transport.ErrChannelClosed)

	_, err = local.Request(context.Background(), protocol.GetMessage())
	assert.ErrorIs(t, err, transport.ErrChannelClosed)
}
