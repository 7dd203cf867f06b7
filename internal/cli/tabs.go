package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"zhaojing/internal/grpcserver"
)

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show background service health and statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			api := opts.api()
			defer api.Close()

			health, err := api.Health(ctx)
			if err != nil {
				fmt.Fprintf(out, "HTTP API:   unavailable (%v)\n", err)
			} else {
				fmt.Fprintf(out, "HTTP API:   %v (uptime %.0fs)\n", health["status"], health["uptime"])
			}

			status, err := grpcserver.Check(ctx, opts.grpcAddr, grpcserver.ServiceName)
			if err != nil {
				fmt.Fprintf(out, "gRPC:       unavailable (%v)\n", err)
			} else {
				fmt.Fprintf(out, "gRPC:       %s\n", status)
			}

			stats, err := api.Stats(ctx)
			if err == nil {
				if rec, ok := stats["recordings"].(map[string]interface{}); ok {
					fmt.Fprintf(out, "Saved:      %v (rejected %v)\n", rec["saved"], rec["rejected"])
				}
				fmt.Fprintf(out, "Tabs:       %v\n", stats["tabs"])
			}

			if health == nil && status != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("background service is not reachable")
			}
			return nil
		},
	}
}

func newTabsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tabs",
		Short: "List connected tabs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api := opts.api()
			defer api.Close()

			tabs, err := api.Tabs(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list tabs: %w", err)
			}
			if len(tabs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tabs connected.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TAB\tURL\tCONNECTED")
			for _, tab := range tabs {
				fmt.Fprintf(w, "%s\t%s\t%s\n", tab.TabID, tab.URL, tab.ConnectedAt.Local().Format("2006/1/2 15:04:05"))
			}
			return w.Flush()
		},
	}
}

func newStateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "state <tab-id>",
		Short: "Show whether a tab is recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api := opts.api()
			defer api.Close()

			recording, err := api.State(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to query %s: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), describeState(recording))
			return nil
		},
	}
}

func newToggleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <tab-id>",
		Short: "Start or stop recording in a tab",
		Long: `Flip the recording state of a tab. Stopping waits until the page has
finalized the session and the background has answered the save request.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api := opts.api()
			defer api.Close()

			recording, err := api.Toggle(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to toggle %s: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), describeState(recording))
			return nil
		},
	}
}

func describeState(recording bool) string {
	if recording {
		return "recording"
	}
	return "idle"
}
