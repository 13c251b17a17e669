package cli

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/r9s-ai/proxy-unifier/internal/batch"
	"github.com/r9s-ai/proxy-unifier/internal/watch"
	"github.com/r9s-ai/proxy-unifier/pkg/grouping"
	"github.com/r9s-ai/proxy-unifier/pkg/unifier"
)

type watchOptions struct {
	initial bool
}

var startWatchFn = watch.Start

func newWatchCmd(a *app) *cobra.Command {
	opts := watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-unify proxy directories whenever their files change",
		RunE: func(cmd *cobra.Command, args []string) error {
			debounce := time.Duration(a.cfg.Watch.DebounceMs) * time.Millisecond
			return runWatch(cmd.Context(), a.batchOptions(), debounce, opts, a.log, cmd.OutOrStdout(), nil)
		},
	}
	cmd.Flags().BoolVar(&opts.initial, "initial", false, "unify every proxy once before watching")
	return cmd
}

// runWatch blocks until ctx ends. Each report is printed and, when record is
// set, handed to it.
func runWatch(ctx context.Context, bo batch.Options, debounce time.Duration, opts watchOptions, log *zap.Logger, out io.Writer, record func(unifier.Report)) error {
	if err := grouping.ValidateCapacity(bo.Unifier.Capacity, bo.Unifier.MaxCapacity); err != nil {
		return err
	}
	handle := func(ctx context.Context, proxies []string) {
		report := batchUnifyFn(ctx, bo, proxies, log)
		renderReport(out, report)
		if record != nil {
			record(report)
		}
	}
	if opts.initial {
		proxies, err := listProxiesFn(bo.Unifier.SourceDir)
		if err != nil {
			return err
		}
		handle(ctx, proxies)
	}

	w, err := startWatchFn(ctx, bo.Unifier.SourceDir, debounce, handle, log)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	select {
	case <-ctx.Done():
	case <-w.Done():
	}
	return nil
}
