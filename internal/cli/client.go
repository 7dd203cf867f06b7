package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"zhaojing/internal/httpserver"
	"zhaojing/internal/replay"
	"zhaojing/internal/store"
	"zhaojing/internal/transport"
)

// APIError 后台返回的失败响应
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// apiClient 后台 HTTP 接口的客户端
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v1",
		http:    &http.Client{Timeout: timeout},
	}
}

// do 发送请求并把 APIResponse.Data 解到 out
func (c *apiClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope struct {
		httpserver.APIResponse
		Data json.RawMessage `json:"data,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	if !envelope.Success {
		return &APIError{Status: resp.StatusCode, Code: envelope.Code, Message: envelope.Message}
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

func (c *apiClient) send(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func (c *apiClient) List(ctx context.Context) ([]replay.Summary, error) {
	var items []replay.Summary
	err := c.do(ctx, http.MethodGet, "/recordings", nil, &items)
	return items, err
}

func (c *apiClient) Get(ctx context.Context, id int64) (*store.Recording, error) {
	var rec store.Recording
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/recordings/%d", id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *apiClient) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/recordings/%d", id), nil, nil)
}

func (c *apiClient) Import(ctx context.Context, data []byte) (int64, error) {
	var out struct {
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/recordings/import", data, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// Export 导出接口直接返回文件内容，失败时才是 APIResponse
func (c *apiClient) Export(ctx context.Context, id int64) (string, []byte, error) {
	path := fmt.Sprintf("/recordings/%d/export", id)
	resp, err := c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, err
	}
	if resp.StatusCode != http.StatusOK {
		var failure httpserver.APIResponse
		json.Unmarshal(data, &failure)
		return "", nil, &APIError{Status: resp.StatusCode, Code: failure.Code, Message: failure.Message}
	}

	name := fmt.Sprintf("zhaojing-%d.json", id)
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	return name, data, nil
}

func (c *apiClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// tabState GET / toggle 的响应
type tabState struct {
	TabID     string `json:"tab_id"`
	Recording bool   `json:"recording"`
}

func (c *apiClient) Tabs(ctx context.Context) ([]transport.TabInfo, error) {
	var tabs []transport.TabInfo
	err := c.do(ctx, http.MethodGet, "/tabs", nil, &tabs)
	return tabs, err
}

func (c *apiClient) State(ctx context.Context, tabID string) (bool, error) {
	var out tabState
	err := c.do(ctx, http.MethodGet, "/tabs/"+tabID+"/recording", nil, &out)
	return out.Recording, err
}

func (c *apiClient) Toggle(ctx context.Context, tabID string) (bool, error) {
	var out tabState
	err := c.do(ctx, http.MethodPost, "/tabs/"+tabID+"/recording/toggle", nil, &out)
	return out.Recording, err
}

func (c *apiClient) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

func (c *apiClient) Stats(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.do(ctx, http.MethodGet, "/stats", nil, &out)
	return out, err
}

// localRecordings 直接打开存储，不经过后台
type localRecordings struct {
	store   store.Store
	library *replay.Library
}

func openLocal(ctx context.Context, cfg store.Config) (*localRecordings, error) {
	s, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &localRecordings{store: s, library: replay.NewLibrary(s, nil)}, nil
}

func (l *localRecordings) List(ctx context.Context) ([]replay.Summary, error) {
	return l.library.Load(ctx)
}

func (l *localRecordings) Get(ctx context.Context, id int64) (*store.Recording, error) {
	return l.store.Get(ctx, id)
}

func (l *localRecordings) Delete(ctx context.Context, id int64) error {
	return l.library.Delete(ctx, id)
}

func (l *localRecordings) Import(ctx context.Context, data []byte) (int64, error) {
	return l.library.Import(ctx, data)
}

func (l *localRecordings) Export(ctx context.Context, id int64) (string, []byte, error) {
	return l.library.Export(ctx, id)
}

func (l *localRecordings) Close() error {
	return l.store.Close()
}
