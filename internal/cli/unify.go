package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/r9s-ai/proxy-unifier/internal/batch"
	"github.com/r9s-ai/proxy-unifier/pkg/grouping"
	"github.com/r9s-ai/proxy-unifier/pkg/unifier"
)

type unifyOptions struct {
	all        bool
	count      int
	reportPath string
	debug      bool
}

var (
	batchUnifyFn   = batch.Unify
	listProxiesFn  = unifier.ListProxies
	errNoSelection = errors.New("name at least one proxy directory or pass --all")
)

func newUnifyCmd(a *app) *cobra.Command {
	opts := unifyOptions{}
	cmd := &cobra.Command{
		Use:   "unify [proxy-dir...]",
		Short: "Merge proxy endpoints of exported bundles into path-grouped bundles",
		RunE: func(cmd *cobra.Command, args []string) error {
			bo := a.batchOptions()
			if cmd.Flags().Changed("count") {
				bo.Unifier.Capacity = opts.count
			}
			if opts.debug {
				bo.Unifier.Debug = true
			}
			return runUnify(cmd.Context(), bo, opts, args, a.log, cmd.OutOrStdout())
		},
	}
	fs := cmd.Flags()
	fs.BoolVar(&opts.all, "all", false, "unify every proxy directory under unifier.source_dir")
	fs.IntVar(&opts.count, "count", 0, "proxy endpoints per output bundle (overrides unifier.proxy_endpoint_count)")
	fs.StringVar(&opts.reportPath, "report", "", "write the run summary as JSON to this path")
	fs.BoolVar(&opts.debug, "debug", false, "dump intermediate stages to unifier.debug_dir")
	return cmd
}

func runUnify(ctx context.Context, bo batch.Options, opts unifyOptions, args []string, log *zap.Logger, out io.Writer) error {
	if err := grouping.ValidateCapacity(bo.Unifier.Capacity, bo.Unifier.MaxCapacity); err != nil {
		return err
	}
	proxies, err := selectProxies(bo.Unifier.SourceDir, opts.all, args)
	if err != nil {
		return err
	}

	report := batchUnifyFn(ctx, bo, proxies, log)
	renderReport(out, report)
	if p := strings.TrimSpace(opts.reportPath); p != "" {
		if err := report.WriteFile(p); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d proxies failed", report.Failed, report.Total)
	}
	return nil
}

func selectProxies(sourceDir string, all bool, args []string) ([]string, error) {
	if all {
		if len(args) > 0 {
			return nil, errors.New("--all cannot be combined with proxy names")
		}
		proxies, err := listProxiesFn(sourceDir)
		if err != nil {
			return nil, err
		}
		if len(proxies) == 0 {
			return nil, fmt.Errorf("no proxy directories with an apiproxy tree under %s", sourceDir)
		}
		return proxies, nil
	}
	if len(args) == 0 {
		return nil, errNoSelection
	}
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if arg = strings.Trim(strings.TrimSpace(arg), "/"); arg != "" {
			out = append(out, arg)
		}
	}
	return out, nil
}
