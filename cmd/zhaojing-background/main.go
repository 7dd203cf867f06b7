package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zhaojing/internal/background"
	"zhaojing/internal/config"
	"zhaojing/internal/grpcserver"
	"zhaojing/internal/httpserver"
	"zhaojing/internal/logger"
	"zhaojing/internal/store"
	"zhaojing/internal/transport"
)

func main() {
	var (
		configPath = flag.String("config", "", "配置文件路径（默认搜索 configs/zhaojing.yaml）")
		envFile    = flag.String("env", ".env", "环境变量文件")
		watch      = flag.Bool("watch", true, "监控配置文件变化")
	)
	flag.Parse()

	manager := config.NewManager(
		config.WithConfigPath(*configPath),
		config.WithEnvFiles(*envFile),
		config.WithWatchEnabled(*watch),
	)
	cfg, err := manager.Load()
	if err != nil {
		log.Fatalf("❌ 加载配置失败: %v", err)
	}

	logger.InitLogger(cfg.Logging.Level)
	var logs http.HandlerFunc
	if cfg.Logging.Broadcast {
		hub := logger.InitGlobalLogger()
		defer hub.Close()
		logs = hub.HandleWebSocket
	}

	manager.OnChange(func(old, updated *config.Config) {
		logger.SetLevel(logger.ParseLevel(updated.Logging.Level))
		if old.Store != updated.Store || old.Server.Addr != updated.Server.Addr || old.GRPC != updated.GRPC {
			log.Printf("⚠️  存储或监听地址的变更需要重启后生效")
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, err := store.Open(ctx, cfg.Store)
	cancel()
	if err != nil {
		log.Fatalf("❌ 打开录制存储失败: %v", err)
	}

	service := background.NewService(st)
	endpoint := transport.NewServer(cfg.Server.ServerOptions(), service)
	controller := background.NewController(endpoint)

	api := httpserver.NewAPIServer(httpserver.Options{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Store:        st,
		Controller:   controller,
		Service:      service,
		Pages:        endpoint,
		PagesPath:    cfg.Server.WebSocket.Path,
		Logs:         logs,
		LogsPath:     cfg.Server.LogsPath,
	})

	go func() {
		fmt.Printf("🚀 后台服务启动在 %s\n", cfg.Server.Addr)
		fmt.Printf("📄 页面连接: ws://localhost%s%s\n", cfg.Server.Addr, cfg.Server.WebSocket.Path)
		fmt.Printf("📊 录制接口: http://localhost%s/api/v1/recordings\n", cfg.Server.Addr)
		if logs != nil {
			fmt.Printf("📜 日志订阅: ws://localhost%s%s\n", cfg.Server.Addr, cfg.Server.LogsPath)
		}
		fmt.Printf("💾 存储: %s\n", cfg.Store.Driver)

		if err := api.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ 服务器启动失败: %v", err)
		}
	}()

	var health *grpcserver.HealthServer
	if cfg.GRPC.Enabled {
		health = grpcserver.NewHealthServer(st, 0)
		go func() {
			if err := health.ListenAndServe(cfg.GRPC.Addr); err != nil {
				log.Printf("❌ gRPC健康检查服务错误: %v", err)
			}
		}()
	}

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\n🔄 正在关闭后台服务...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// 先断开页面，等待进行中的保存结束，再关闭存储
	if err := endpoint.Shutdown(shutdownCtx); err != nil {
		log.Printf("页面连接关闭错误: %v", err)
	}
	if err := api.Stop(shutdownCtx); err != nil {
		log.Printf("HTTP服务关闭错误: %v", err)
	}
	if health != nil {
		health.Stop()
	}
	if err := st.Close(); err != nil {
		log.Printf("存储关闭错误: %v", err)
	}

	stats := service.Stats()
	fmt.Printf("✅ 后台服务已关闭（保存 %d，拒绝 %d）\n", stats.Saved, stats.Rejected)
}
