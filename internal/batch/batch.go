// Package batch unifies several proxy directories in parallel.
package batch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/r9s-ai/proxy-unifier/internal/taskrunner"
	"github.com/r9s-ai/proxy-unifier/pkg/config"
	"github.com/r9s-ai/proxy-unifier/pkg/grouping"
	"github.com/r9s-ai/proxy-unifier/pkg/unifier"
)

// RunFunc unifies one proxy directory. It is unifier.Run outside of tests.
type RunFunc func(ctx context.Context, opts unifier.Options, proxyDir string, log *zap.Logger) (unifier.Result, error)

type Options struct {
	Unifier    unifier.Options
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
	Run        RunFunc
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Unifier:    unifier.OptionsFromConfig(cfg.Unifier),
		Workers:    cfg.Runner.Workers,
		MaxRetries: cfg.Runner.MaxRetries,
		RetryDelay: time.Duration(cfg.Runner.RetryDelayMs) * time.Millisecond,
	}
}

// Unify runs every proxy through the unifier and collects a report in input
// order. A proxy that still fails after its retries appears as a failed Result.
func Unify(ctx context.Context, opts Options, proxies []string, log *zap.Logger) unifier.Report {
	if log == nil {
		log = zap.NewNop()
	}
	run := opts.Run
	if run == nil {
		run = unifier.Run
	}
	tasks := make([]taskrunner.Task[unifier.Result], 0, len(proxies))
	for _, p := range proxies {
		tasks = append(tasks, taskrunner.Task[unifier.Result]{
			Name: p,
			Run: func(ctx context.Context) (unifier.Result, error) {
				res, err := run(ctx, opts.Unifier, p, log)
				if errors.Is(err, grouping.ErrInvalidCapacity) {
					return res, taskrunner.Permanent(err)
				}
				return res, err
			},
		})
	}
	out := taskrunner.Run(ctx, taskrunner.Options{
		Workers:    opts.Workers,
		MaxRetries: opts.MaxRetries,
		RetryDelay: opts.RetryDelay,
		Log:        log,
	}, tasks)

	runs := make([]unifier.Result, 0, len(out))
	for _, r := range out {
		if r.Failed() {
			runs = append(runs, unifier.FailedResult(r.Name, r.Err))
			continue
		}
		runs = append(runs, r.Value)
	}
	report := unifier.NewReport(runs)
	log.Info("batch finished",
		zap.Int("total", report.Total),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
	)
	return report
}
