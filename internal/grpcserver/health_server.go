package grpcserver

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// ServiceName 录制服务在健康检查中的名字
const ServiceName = "zhaojing.Recordings"

// Pinger 被探测的依赖，一般是录制存储
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer gRPC 健康检查服务：按存储可用性上报 SERVING / NOT_SERVING
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	target   Pinger
	interval time.Duration

	// 统计信息
	probes    int64
	failures  int64
	serving   bool
	startTime time.Time
	mu        sync.RWMutex

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewHealthServer 创建健康检查服务；interval<=0 时每 5 秒探测一次
func NewHealthServer(target Pinger, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	s := &HealthServer{
		server:    grpc.NewServer(),
		health:    health.NewServer(),
		target:    target,
		interval:  interval,
		startTime: time.Now(),
		stopChan:  make(chan struct{}),
	}

	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)

	s.setServing(false)
	return s
}

// Serve 在 lis 上提供服务，直到 Stop
func (s *HealthServer) Serve(lis net.Listener) error {
	s.probe()

	s.wg.Add(1)
	go s.probeLoop()

	log.Printf("Starting gRPC health server on %s", lis.Addr())
	return s.server.Serve(lis)
}

// ListenAndServe 监听 addr 并提供服务
func (s *HealthServer) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(lis)
}

func (s *HealthServer) probeLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.probe()
		case <-s.stopChan:
			return
		}
	}
}

// probe 探测一次存储并更新状态
func (s *HealthServer) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	err := s.target.Ping(ctx)

	s.mu.Lock()
	s.probes++
	if err != nil {
		s.failures++
	}
	changed := s.serving != (err == nil)
	s.mu.Unlock()

	if changed {
		if err != nil {
			log.Printf("Store probe failed, reporting NOT_SERVING: %v", err)
		} else {
			log.Printf("Store reachable, reporting SERVING")
		}
	}
	s.setServing(err == nil)
}

func (s *HealthServer) setServing(ok bool) {
	s.mu.Lock()
	s.serving = ok
	s.mu.Unlock()

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Stop 停止探测并优雅关闭
func (s *HealthServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.health.Shutdown()
		s.server.GracefulStop()
		s.wg.Wait()
	})
}

// GetStats 获取统计信息
func (s *HealthServer) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"serving":        s.serving,
		"probes":         s.probes,
		"failures":       s.failures,
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	}
}

// Check 作为客户端查询 addr 上的健康状态
func Check(ctx context.Context, addr, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    30 * time.Second,
			Timeout: 5 * time.Second,
		}),
	)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
