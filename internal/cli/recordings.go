package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"zhaojing/internal/config"
	"zhaojing/internal/replay"
)

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid recording id %q", arg)
	}
	return id, nil
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved recordings, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			recs, err := opts.recordings(ctx)
			if err != nil {
				return err
			}
			defer recs.Close()

			items, err := recs.List(ctx)
			if err != nil {
				return fmt.Errorf("failed to list recordings: %w", err)
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No recordings.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDATE\tDURATION\tEVENTS\tURL")
			for _, item := range items {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
					item.ID, replay.FormatDate(item.Timestamp), replay.FormatDuration(item.Duration), item.EventCount, item.URL)
			}
			return w.Flush()
		},
	}
}

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			recs, err := opts.recordings(ctx)
			if err != nil {
				return err
			}
			defer recs.Close()

			rec, err := recs.Get(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to load recording %d: %w", id, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Recording %d\n", rec.ID)
			fmt.Fprintf(out, "  URL:      %s\n", rec.URL)
			fmt.Fprintf(out, "  Date:     %s\n", replay.FormatDate(rec.Timestamp))
			fmt.Fprintf(out, "  Duration: %s\n", replay.FormatDuration(rec.Duration))
			fmt.Fprintf(out, "  Events:   %d\n", rec.EventCount())
			return nil
		},
	}
}

func newExportCmd(opts *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a recording to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			recs, err := opts.recordings(ctx)
			if err != nil {
				return err
			}
			defer recs.Close()

			name, data, err := recs.Export(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to export recording %d: %w", id, err)
			}

			if output == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if output == "" {
				output = name
			}
			if info, err := os.Stat(output); err == nil && info.IsDir() {
				output = filepath.Join(output, name)
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported recording %d to %s\n", id, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file or directory, - for stdout (default: zhaojing-<id>-<timestamp>.json)")
	return cmd
}

func newImportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a previously exported recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			ctx := cmd.Context()
			recs, err := opts.recordings(ctx)
			if err != nil {
				return err
			}
			defer recs.Close()

			id, err := recs.Import(ctx, data)
			if err != nil {
				return fmt.Errorf("failed to import %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s as recording %d\n", args[0], id)
			return nil
		},
	}
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			recs, err := opts.recordings(ctx)
			if err != nil {
				return err
			}
			defer recs.Close()

			if err := recs.Delete(ctx, id); err != nil {
				return fmt.Errorf("failed to delete recording %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted recording %d\n", id)
			return nil
		},
	}
}

func newReplayCmd(opts *options) *cobra.Command {
	var speed float64

	cmd := &cobra.Command{
		Use:   "replay <id>",
		Short: "Replay a recording's events to stdout",
		Long: `Replay the events of a recording in order, keeping the original gaps
between events scaled by --speed. A speed of 0 prints every event at once.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("speed") {
				if cfg, err := config.Load(opts.configPath); err == nil {
					speed = cfg.Playback.Speed
				}
			}
			if speed < 0 {
				return fmt.Errorf("speed must be >= 0")
			}
			ctx := cmd.Context()
			recs, err := opts.recordings(ctx)
			if err != nil {
				return err
			}
			defer recs.Close()

			rec, err := recs.Get(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to load recording %d: %w", id, err)
			}

			out := cmd.OutOrStdout()
			selection := replay.NewSelection(replay.PlaybackFactory(replay.Speed(speed), func(frame replay.Frame) error {
				_, err := fmt.Fprintf(out, "[%s] #%d %s\n",
					replay.FormatDuration(frame.Offset.Milliseconds()), frame.Index, frame.Event.Raw())
				return err
			}))
			defer selection.Clear()

			surface := selection.Select(rec)
			if empty, ok := surface.(replay.EmptySurface); ok {
				fmt.Fprintln(out, empty.String())
				return nil
			}

			fmt.Fprintf(out, "Replaying recording %d: %d events over %s\n", rec.ID, surface.Len(), replay.FormatDuration(rec.Duration))
			if err := surface.Play(); err != nil {
				return err
			}

			done := make(chan struct{})
			go func() {
				surface.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-ctx.Done():
				surface.Stop()
				return ctx.Err()
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&speed, "speed", float64(replay.SpeedNormal), "playback speed multiplier, 0 for instant")
	return cmd
}

var (
	_ recordings = (*apiClient)(nil)
	_ recordings = (*localRecordings)(nil)
)
