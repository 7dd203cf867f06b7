package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"zhaojing/internal/background"
	"zhaojing/internal/config"
	"zhaojing/internal/content"
	"zhaojing/internal/logger"
	"zhaojing/internal/protocol"
	"zhaojing/internal/session"
	"zhaojing/internal/store"
	"zhaojing/internal/transport"
)

// 页面上下文：从 stdin（或 --events 文件）读取按行分隔的事件，
// 由后台远程切换录制；SIGUSR1 在本地发起一次切换。
func main() {
	var (
		pageURL    = flag.String("url", "about:blank", "页面地址，停止录制时写入会话")
		tabID      = flag.String("tab", "", "标签页标识（默认随机生成）")
		configPath = flag.String("config", "", "配置文件路径")
		eventsPath = flag.String("events", "-", "事件流文件，- 表示标准输入")
		standalone = flag.Bool("standalone", false, "不连接后台，直接写入本地存储")
	)
	flag.Parse()

	if *tabID == "" {
		*tabID = uuid.NewString()
	}

	manager := config.NewManager(
		config.WithConfigPath(*configPath),
		config.WithWatchEnabled(true),
	)
	cfg, err := manager.Load()
	if err != nil {
		log.Fatalf("❌ 加载配置失败: %v", err)
	}
	logger.InitLogger(cfg.Logging.Level)

	input, err := openEvents(*eventsPath)
	if err != nil {
		log.Fatalf("❌ 打开事件流失败: %v", err)
	}
	defer input.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink := session.NewStreamSink(input)
	go func() {
		if err := sink.Run(ctx); err != nil && ctx.Err() == nil {
			logger.LogError("EventSink", err.Error(), tabID)
		}
		read, dropped := sink.Counts()
		log.Printf("事件流结束: 读取 %d，未录制丢弃 %d", read, dropped)
	}()

	opts := []content.AgentOption{
		content.WithTabID(*tabID),
		content.WithPageURL(func() string { return *pageURL }),
		content.WithRetryPolicy(cfg.Submission.RetryPolicy()),
	}

	var (
		agent    *content.Agent
		shutdown func()
	)

	if *standalone {
		openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		st, err := store.Open(openCtx, cfg.Store)
		cancel()
		if err != nil {
			log.Fatalf("❌ 打开录制存储失败: %v", err)
		}

		channel := transport.NewLocal(background.NewService(st), *tabID)
		agent = content.NewAgent(channel, sink, opts...)
		shutdown = func() {
			channel.Close()
			agent.Close()
			st.Close()
		}
		fmt.Printf("📄 标签页 %s 以独立模式运行，存储: %s\n", *tabID, cfg.Store.Driver)
	} else {
		client := transport.NewClient(cfg.Transport.ClientOptions(*tabID, *pageURL))
		agent = content.NewAgent(client, sink, opts...)
		client.SetHandler(agent)
		client.SetStateChangeHandler(func(oldState, newState transport.ClientState) {
			log.Printf("[%s] 连接状态: %s -> %s", *tabID, oldState, newState)
		})

		if err := client.Connect(ctx); err != nil {
			log.Fatalf("❌ 连接后台失败: %v", err)
		}
		// 先断开连接让进行中的提交失败返回，再卸载页面
		shutdown = func() {
			client.Close()
			agent.Close()
		}
		fmt.Printf("📄 标签页 %s 已连接 %s\n", *tabID, cfg.Transport.BackgroundURL)
	}

	// 日志级别和重试策略可以热加载
	manager.OnChange(func(_, updated *config.Config) {
		logger.SetLevel(logger.ParseLevel(updated.Logging.Level))
		agent.Submitter().SetPolicy(updated.Submission.RetryPolicy())
	})

	// 本地发起者
	initiator := transport.NewLocal(agent, *tabID)
	defer initiator.Close()

	toggle := make(chan os.Signal, 1)
	signal.Notify(toggle, syscall.SIGUSR1)
	defer signal.Stop(toggle)

	fmt.Printf("🎛  kill -USR1 %d 切换录制\n", os.Getpid())

	for {
		select {
		case <-toggle:
			raw, err := initiator.Request(ctx, protocol.SetMessage())
			if err != nil {
				log.Printf("切换录制失败: %v", err)
				continue
			}
			state, _ := protocol.DecodeBool(raw)
			log.Printf("录制状态: %v", state)

		case <-ctx.Done():
			fmt.Println("\n🔄 页面卸载...")
			shutdown()
			stats := agent.Recorder().Stats()
			fmt.Printf("✅ 会话 %d，已保存 %d，丢弃 %d，失败 %d\n", stats.Sessions, stats.Submitted, stats.Discarded, stats.Failed)
			return
		}
	}
}

func openEvents(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}
