package cli

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/r9s-ai/proxy-unifier/internal/batch"
	"github.com/r9s-ai/proxy-unifier/internal/reportserver"
	"github.com/r9s-ai/proxy-unifier/pkg/unifier"
)

type serveOptions struct {
	listen string
	watch  bool
}

type listener interface {
	ListenAndServe(ctx context.Context, addr string) error
	Record(r unifier.Report)
}

var newReportServerFn = func(sourceDir, bundleDir string, unify reportserver.UnifyFunc, log *zap.Logger) listener {
	return reportserver.New(sourceDir, bundleDir, unify, log)
}

func newServeCmd(a *app) *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run reports and bundle archives over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(opts.listen) == "" {
				opts.listen = a.cfg.Server.Listen
			}
			debounce := time.Duration(a.cfg.Watch.DebounceMs) * time.Millisecond
			return runServe(cmd.Context(), a.batchOptions(), debounce, opts, a.log, cmd.OutOrStdout())
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&opts.listen, "listen", "", "http listen address (overrides server.listen)")
	fs.BoolVar(&opts.watch, "watch", false, "also re-unify changed proxies and publish their reports")
	return cmd
}

func runServe(ctx context.Context, bo batch.Options, debounce time.Duration, opts serveOptions, log *zap.Logger, out io.Writer) error {
	srv := newReportServerFn(bo.Unifier.SourceDir, bo.Unifier.BundleDir, func(ctx context.Context, proxies []string) unifier.Report {
		return batchUnifyFn(ctx, bo, proxies, log)
	}, log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(ctx, opts.listen) })
	if opts.watch {
		g.Go(func() error {
			return runWatch(ctx, bo, debounce, watchOptions{}, log, out, srv.Record)
		})
	}
	return g.Wait()
}
