// Package cli wires the proxy-unifier commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/r9s-ai/proxy-unifier/internal/batch"
	"github.com/r9s-ai/proxy-unifier/internal/logx"
	"github.com/r9s-ai/proxy-unifier/pkg/config"
)

const defaultConfigPath = "unifier.yaml"

type rootOptions struct {
	cfgPath  string
	logLevel string
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	closeLog func() error
}

func (a *app) batchOptions() batch.Options {
	return batch.OptionsFromConfig(a.cfg)
}

var (
	loadConfigFn = config.LoadIfExists
	newLoggerFn  = logx.New
)

func (a *app) init(opts rootOptions, stderr io.Writer) error {
	cfg, err := loadConfigFn(strings.TrimSpace(opts.cfgPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if lvl := strings.TrimSpace(opts.logLevel); lvl != "" {
		cfg.Logging.Level = lvl
	}
	lo := logx.OptionsFromConfig(cfg.Logging)
	lo.Stderr = stderr
	log, closeFn, err := newLoggerFn(lo)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.cfg, a.log, a.closeLog = cfg, log, closeFn
	return nil
}

func (a *app) close() {
	if a.closeLog != nil {
		_ = a.closeLog()
		a.closeLog = nil
	}
}

func newRootCmd() *cobra.Command {
	return buildRootCmd(&app{})
}

func buildRootCmd(a *app) *cobra.Command {
	opts := rootOptions{cfgPath: defaultConfigPath}

	cmd := &cobra.Command{
		Use:           "proxy-unifier",
		Short:         "Merge exported API proxy bundles into fewer, path-grouped bundles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.init(opts, cmd.ErrOrStderr())
		},
	}
	fs := cmd.PersistentFlags()
	fs.StringVarP(&opts.cfgPath, "config", "c", defaultConfigPath, "config yaml path (missing file means defaults)")
	fs.StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug|info|warn|error)")

	cmd.AddCommand(
		newUnifyCmd(a),
		newValidateCmd(a),
		newWatchCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the command line and returns the first error.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	defer a.close()
	cmd := buildRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.ExecuteContext(ctx)
}
