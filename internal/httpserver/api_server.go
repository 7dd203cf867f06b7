package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"zhaojing/internal/archive"
	"zhaojing/internal/background"
	"zhaojing/internal/replay"
	"zhaojing/internal/store"
	"zhaojing/internal/transport"
)

// 导入文件的大小上限，与单帧上限一致
const maxImportSize = 16 * 1024 * 1024

// Options HTTP 服务的依赖
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Store      store.Store
	Controller *background.Controller
	Service    *background.Service

	// 页面连接端点与日志订阅端点，为空时不挂载
	Pages     http.Handler
	PagesPath string
	Logs      http.HandlerFunc
	LogsPath  string
}

// APIServer 后台上下文的 HTTP 接口：录制管理、标签页控制、websocket 端点
type APIServer struct {
	router *mux.Router
	server *http.Server
	opts   Options

	// 统计信息
	requestCount int64
	errorCount   int64
	startTime    time.Time
	mu           sync.RWMutex
}

// APIResponse API响应结构
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Code      string      `json:"code,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewAPIServer 创建HTTP API服务器
func NewAPIServer(opts Options) *APIServer {
	server := &APIServer{
		router:    mux.NewRouter(),
		opts:      opts,
		startTime: time.Now(),
	}

	server.setupRoutes()

	// 选项页运行在扩展 origin 上
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	server.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      c.Handler(server.router),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return server
}

// setupRoutes 设置路由
func (s *APIServer) setupRoutes() {
	if s.opts.Pages != nil && s.opts.PagesPath != "" {
		s.router.Handle(s.opts.PagesPath, s.opts.Pages)
	}
	if s.opts.Logs != nil && s.opts.LogsPath != "" {
		s.router.HandleFunc(s.opts.LogsPath, s.opts.Logs)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.metricsMiddleware)

	// 录制
	api.HandleFunc("/recordings", s.listRecordingsHandler).Methods("GET")
	api.HandleFunc("/recordings/import", s.importRecordingHandler).Methods("POST")
	api.HandleFunc("/recordings/{id:[0-9]+}", s.getRecordingHandler).Methods("GET")
	api.HandleFunc("/recordings/{id:[0-9]+}", s.deleteRecordingHandler).Methods("DELETE")
	api.HandleFunc("/recordings/{id:[0-9]+}/export", s.exportRecordingHandler).Methods("GET")

	// 标签页
	api.HandleFunc("/tabs", s.listTabsHandler).Methods("GET")
	api.HandleFunc("/tabs/{tab}/recording", s.getTabStateHandler).Methods("GET")
	api.HandleFunc("/tabs/{tab}/recording/toggle", s.toggleTabHandler).Methods("POST")

	// 健康检查和监控
	api.HandleFunc("/health", s.healthCheckHandler).Methods("GET")
	api.HandleFunc("/stats", s.statsHandler).Methods("GET")
}

// 中间件
func (s *APIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		duration := time.Since(start)
		log.Printf("%s %s %s %v", r.Method, r.RequestURI, r.RemoteAddr, duration)
	})
}

func (s *APIServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		s.mu.Lock()
		s.requestCount++
		s.mu.Unlock()
	})
}

// 录制相关处理器
func (s *APIServer) listRecordingsHandler(w http.ResponseWriter, r *http.Request) {
	recs, err := s.opts.Store.List(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	s.writeSuccessResponse(w, replay.Summaries(recs))
}

func (s *APIServer) getRecordingHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordingID(w, r)
	if !ok {
		return
	}

	rec, err := s.opts.Store.Get(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeSuccessResponse(w, rec)
}

func (s *APIServer) deleteRecordingHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordingID(w, r)
	if !ok {
		return
	}

	if err := s.opts.Store.Delete(r.Context(), id); err != nil {
		s.writeFailure(w, err)
		return
	}
	log.Printf("Recording %d deleted", id)
	s.writeSuccessResponse(w, map[string]interface{}{"id": id, "deleted": true})
}

// exportRecordingHandler 直接输出导出字节，不包一层响应结构
func (s *APIServer) exportRecordingHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordingID(w, r)
	if !ok {
		return
	}

	rec, err := s.opts.Store.Get(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	data, err := archive.Export(rec)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "export_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, archive.ExportFileName(rec)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *APIServer) importRecordingHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportSize+1))
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if len(body) > maxImportSize {
		s.writeErrorResponse(w, http.StatusRequestEntityTooLarge, "import_too_large", "Import file too large")
		return
	}

	payload, err := archive.Import(body)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	id, err := s.opts.Store.Create(r.Context(), payload)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	log.Printf("Recording %d imported from %s", id, payload.URL)
	s.writeJSONResponse(w, http.StatusCreated, APIResponse{
		Success:   true,
		Data:      map[string]interface{}{"id": id, "duration": payload.Duration, "event_count": len(payload.Records)},
		Timestamp: time.Now().UnixMilli(),
	})
}

// 标签页相关处理器
func (s *APIServer) listTabsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireController(w) {
		return
	}
	tabs := s.opts.Controller.Tabs()
	if tabs == nil {
		tabs = []transport.TabInfo{}
	}
	s.writeSuccessResponse(w, tabs)
}

func (s *APIServer) getTabStateHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireController(w) {
		return
	}
	tabID := mux.Vars(r)["tab"]

	state, err := s.opts.Controller.Query(r.Context(), tabID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeSuccessResponse(w, map[string]interface{}{"tab_id": tabID, "recording": state})
}

func (s *APIServer) toggleTabHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireController(w) {
		return
	}
	tabID := mux.Vars(r)["tab"]

	state, err := s.opts.Controller.Toggle(r.Context(), tabID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeSuccessResponse(w, map[string]interface{}{"tab_id": tabID, "recording": state})
}

// 健康检查和监控
func (s *APIServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.opts.Store.Ping(ctx); err != nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	s.writeSuccessResponse(w, map[string]interface{}{
		"status":    "healthy",
		"uptime":    time.Since(s.startTime).Seconds(),
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *APIServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := s.GetStats()
	if s.opts.Service != nil {
		stats["recordings"] = s.opts.Service.Stats()
	}
	if s.opts.Controller != nil {
		stats["tabs"] = len(s.opts.Controller.Tabs())
	}
	s.writeSuccessResponse(w, stats)
}

func (s *APIServer) recordingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid recording id")
		return 0, false
	}
	return id, true
}

func (s *APIServer) requireController(w http.ResponseWriter) bool {
	if s.opts.Controller == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "tabs_unavailable", "Tab control is not enabled")
		return false
	}
	return true
}

// writeFailure 按错误类别映射状态码：不存在、导入格式、标签页通道、存储故障
func (s *APIServer) writeFailure(w http.ResponseWriter, err error) {
	var remote *transport.RemoteError

	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, archive.ErrMalformedImport):
		s.writeErrorResponse(w, http.StatusBadRequest, "malformed_import", err.Error())
	case errors.Is(err, transport.ErrUnknownTab):
		s.writeErrorResponse(w, http.StatusNotFound, "unknown_tab", err.Error())
	case errors.As(err, &remote):
		s.writeErrorResponse(w, http.StatusBadGateway, "tab_error", remote.Message)
	case errors.Is(err, transport.ErrChannelClosed), errors.Is(err, context.DeadlineExceeded):
		s.writeErrorResponse(w, http.StatusBadGateway, "tab_unreachable", err.Error())
	default:
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
	}
}

func (s *APIServer) writeSuccessResponse(w http.ResponseWriter, data interface{}) {
	response := APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	s.writeJSONResponse(w, http.StatusOK, response)
}

func (s *APIServer) writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	s.mu.Lock()
	s.errorCount++
	s.mu.Unlock()

	response := APIResponse{
		Success:   false,
		Message:   message,
		Code:      code,
		Timestamp: time.Now().UnixMilli(),
	}
	s.writeJSONResponse(w, statusCode, response)
}

func (s *APIServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// Handler 带 CORS 的完整处理器（测试用 httptest 挂载）
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

// Start 启动服务器
func (s *APIServer) Start() error {
	log.Printf("Starting HTTP API server on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop 停止服务器
func (s *APIServer) Stop(ctx context.Context) error {
	log.Printf("Stopping HTTP API server")
	return s.server.Shutdown(ctx)
}

// GetStats 获取服务器统计信息
func (s *APIServer) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"total_requests": s.requestCount,
		"error_count":    s.errorCount,
	}
}
