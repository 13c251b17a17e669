package cli

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/r9s-ai/proxy-unifier/pkg/bundle"
	"github.com/r9s-ai/proxy-unifier/pkg/relations"
)

type validateOptions struct {
	all    bool
	strict bool
}

func newValidateCmd(a *app) *cobra.Command {
	opts := validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate [proxy-dir...]",
		Short: "Check exported bundles for missing files and dangling references",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(a.cfg.Unifier.SourceDir, opts, args, a.log, cmd.OutOrStdout())
		},
	}
	fs := cmd.Flags()
	fs.BoolVar(&opts.all, "all", false, "validate every proxy directory under unifier.source_dir")
	fs.BoolVar(&opts.strict, "strict", false, "exit non-zero when any warning is reported")
	return cmd
}

func runValidate(sourceDir string, opts validateOptions, args []string, log *zap.Logger, out io.Writer) error {
	proxies, err := selectProxies(sourceDir, opts.all, args)
	if err != nil {
		return err
	}
	clean, warned := 0, 0
	for _, p := range proxies {
		desc := bundle.Read(filepath.Join(sourceDir, p, "apiproxy"), log)
		issues := relations.Check(desc)
		if len(issues) == 0 {
			clean++
			_, _ = fmt.Fprintf(out, "%s: ok\n", p)
			continue
		}
		warned++
		_, _ = fmt.Fprintf(out, "%s: %d warning(s)\n", p, len(issues))
		for _, is := range issues {
			_, _ = fmt.Fprintf(out, "  WARNING %s\n", is)
		}
	}
	_, _ = fmt.Fprintf(out, "validate summary: total=%d clean=%d warned=%d\n", len(proxies), clean, warned)
	if opts.strict && warned > 0 {
		return fmt.Errorf("%d of %d proxies have warnings", warned, len(proxies))
	}
	return nil
}
