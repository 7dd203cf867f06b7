package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"zhaojing/internal/config"
	"zhaojing/internal/replay"
	"zhaojing/internal/store"
)

// recordings 录制管理的两种后端：后台 HTTP 接口，或直接打开存储
type recordings interface {
	List(ctx context.Context) ([]replay.Summary, error)
	Get(ctx context.Context, id int64) (*store.Recording, error)
	Delete(ctx context.Context, id int64) error
	Import(ctx context.Context, data []byte) (int64, error)
	Export(ctx context.Context, id int64) (string, []byte, error)
	Close() error
}

// options 全局参数
type options struct {
	server     string
	grpcAddr   string
	timeout    time.Duration
	local      bool
	configPath string
}

func (o *options) api() *apiClient {
	return newAPIClient(o.server, o.timeout)
}

// recordings 按 --local 选择后端
func (o *options) recordings(ctx context.Context) (recordings, error) {
	if !o.local {
		return o.api(), nil
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return openLocal(ctx, cfg.Store)
}

// NewRootCmd 创建命令行根命令
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "zhaojing",
		Short: "Manage page session recordings",
		Long: `zhaojing controls session recording in connected pages and manages the
recordings saved by the background service.

Recording is toggled remotely: the first toggle starts capture in the page,
the second stops it, finalizes the session and saves it.

Examples:
  # Check the background service
  zhaojing status

  # Start and stop recording in a tab
  zhaojing tabs
  zhaojing toggle <tab-id>
  zhaojing toggle <tab-id>

  # Browse and replay recordings
  zhaojing list
  zhaojing replay 3 --speed 2

  # Move recordings between machines
  zhaojing export 3 -o session.json
  zhaojing import session.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.server, "server", "http://127.0.0.1:8090", "background service base URL")
	root.PersistentFlags().StringVar(&opts.grpcAddr, "grpc", "127.0.0.1:9090", "background gRPC health address")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&opts.local, "local", false, "open the recording store directly instead of going through the background service")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file used with --local (default: search for zhaojing.yaml)")

	root.SuggestionsMinimumDistance = 2

	root.AddCommand(
		newStatusCmd(opts),
		newTabsCmd(opts),
		newStateCmd(opts),
		newToggleCmd(opts),
		newListCmd(opts),
		newShowCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newDeleteCmd(opts),
		newReplayCmd(opts),
	)
	return root
}

// Execute 运行命令行
func Execute() error {
	return NewRootCmd().Execute()
}
