// Package unifier runs the unification pipeline for one exported proxy:
// read, extract relationships, group by path, partition, merge, materialize.
package unifier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/r9s-ai/proxy-unifier/pkg/bundle"
	"github.com/r9s-ai/proxy-unifier/pkg/config"
	"github.com/r9s-ai/proxy-unifier/pkg/grouping"
	"github.com/r9s-ai/proxy-unifier/pkg/materialize"
	"github.com/r9s-ai/proxy-unifier/pkg/merge"
	"github.com/r9s-ai/proxy-unifier/pkg/relations"
)

type Options struct {
	// SourceDir holds one directory per exported proxy, each with an apiproxy/ tree.
	SourceDir string
	// OutputDir receives <proxy dir>_<index>/apiproxy per output bundle.
	OutputDir string
	// BundleDir receives the zip archives.
	BundleDir   string
	Capacity    int
	MaxCapacity int
	Debug       bool
	DebugDir    string
}

// OptionsFromConfig maps the unifier config section onto Options.
func OptionsFromConfig(c config.UnifierConfig) Options {
	return Options{
		SourceDir:   c.SourceDir,
		OutputDir:   c.OutputDir,
		BundleDir:   c.BundleDir,
		Capacity:    c.ProxyEndpointCount,
		MaxCapacity: c.MaxProxyEndpointLimit,
		Debug:       c.Debug,
		DebugDir:    c.DebugDir,
	}
}

// BundleSummary describes one output bundle.
type BundleSummary struct {
	Name            string   `json:"name"`
	ProxyEndpoints  []string `json:"proxy_endpoints"`
	Policies        []string `json:"policies"`
	TargetEndpoints []string `json:"target_endpoints"`
	Dir             string   `json:"dir,omitempty"`
	Archive         string   `json:"archive,omitempty"`
}

// Result is the outcome of one run. Bundles lists every bundle that was merged,
// including those whose materialization failed (their Archive is empty).
type Result struct {
	RunID      string          `json:"run_id"`
	Proxy      string          `json:"proxy"`
	ProxyName  string          `json:"proxy_name,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Bundles    []BundleSummary `json:"bundles"`
	Outcomes   []Outcome       `json:"outcomes"`
	Issues     []bundle.Issue  `json:"issues,omitempty"`
	// Error is set when the run itself was aborted.
	Error string `json:"error,omitempty"`
}

func newResult(proxyDir string) Result {
	return Result{
		RunID:     uuid.NewString(),
		Proxy:     proxyDir,
		StartedAt: time.Now().UTC(),
		Bundles:   []BundleSummary{},
		Outcomes:  []Outcome{},
	}
}

// Run unifies SourceDir/<proxyDir>/apiproxy. Only an invalid capacity, an
// unusable output location or a cancelled context are returned as errors;
// everything else is recorded as an outcome and the run carries on, so the
// returned Result is always usable.
func Run(ctx context.Context, opts Options, proxyDir string, log *zap.Logger) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		log = zap.NewNop()
	}
	res := newResult(proxyDir)
	log = log.With(zap.String("run_id", res.RunID), zap.String("proxy", proxyDir))

	if err := grouping.ValidateCapacity(opts.Capacity, opts.MaxCapacity); err != nil {
		res.FinishedAt = time.Now().UTC()
		return res, err
	}
	for _, dir := range []string{opts.OutputDir, opts.BundleDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			res.FinishedAt = time.Now().UTC()
			return res, fmt.Errorf("create output dir %s: %w", dir, err)
		}
	}

	src := filepath.Join(opts.SourceDir, proxyDir, "apiproxy")
	desc := bundle.Read(src, log.With(zap.String("stage", StageRead)))
	res.ProxyName = desc.Name
	res.Issues = desc.Issues
	if desc.Empty() {
		res.record(StageRead, proxyDir, StatusSkipped, "no proxy endpoints found")
		log.Warn("nothing to unify", zap.String("dir", src))
		res.FinishedAt = time.Now().UTC()
		return res, nil
	}
	res.record(StageRead, proxyDir, StatusOK, "")

	rels := relations.Extract(desc, log.With(zap.String("stage", StageExtract)))
	for _, name := range desc.ProxyEndpointNames {
		if desc.ProxyEndpoints[name].Malformed {
			res.record(StageExtract, name, StatusSkipped, "malformed proxy endpoint")
		}
	}
	groups := grouping.GroupByPath(rels)
	batches, err := grouping.Partition(groups, opts.Capacity)
	if err != nil {
		res.FinishedAt = time.Now().UTC()
		return res, err
	}
	res.record(StagePartition, proxyDir, StatusOK, fmt.Sprintf("%d group(s) in %d batch(es)", len(groups), len(batches)))

	bundles := make([]merge.Bundle, 0, len(batches))
	for i, batch := range batches {
		b := merge.MergeBatch(desc, rels, i, batch, log.With(zap.String("stage", StageMerge)))
		bundles = append(bundles, b)
		res.record(StageMerge, b.Name, StatusOK, "")
	}

	for _, b := range bundles {
		if err := ctx.Err(); err != nil {
			res.FinishedAt = time.Now().UTC()
			return res, err
		}
		summary := BundleSummary{
			Name:            b.Name,
			ProxyEndpoints:  b.ProxyEndpoints,
			Policies:        b.Policies,
			TargetEndpoints: b.TargetEndpoints,
		}
		target := materialize.Target{
			SourceDir:  src,
			OutputDir:  filepath.Join(opts.OutputDir, fmt.Sprintf("%s_%d", proxyDir, b.Index)),
			ArchiveDir: opts.BundleDir,
		}
		out, err := materialize.Materialize(target, b, log.With(zap.String("stage", StageMaterialize)))
		if err != nil {
			log.Error("materialize bundle failed", zap.String("bundle", b.Name), zap.Error(err))
			res.record(StageMaterialize, b.Name, StatusFailed, err.Error())
		} else {
			summary.Dir = out.Dir
			summary.Archive = out.Archive
			res.record(StageMaterialize, b.Name, StatusOK, "")
		}
		res.Bundles = append(res.Bundles, summary)
	}

	if opts.Debug {
		dump := debugDump{
			Descriptor:      desc,
			Relationships:   rels,
			PathGroups:      groups,
			Batches:         batches,
			MergedEndpoints: mergedEndpoints(bundles),
			MergedBundles:   res.Bundles,
		}
		dir := filepath.Join(opts.DebugDir, proxyDir)
		if err := dump.write(dir); err != nil {
			log.Warn("write debug dump failed", zap.String("dir", dir), zap.Error(err))
			res.record(StageDebug, proxyDir, StatusFailed, err.Error())
		} else {
			res.record(StageDebug, proxyDir, StatusOK, dir)
		}
	}

	counts := res.Counts()
	log.Info("unification finished",
		zap.String("proxy_name", desc.Name),
		zap.Int("bundles", len(res.Bundles)),
		zap.Int("failed", counts[StatusFailed]),
		zap.Int("skipped", counts[StatusSkipped]),
	)
	res.FinishedAt = time.Now().UTC()
	return res, nil
}

// ListProxies returns the directories under sourceDir that contain an apiproxy tree, sorted.
func ListProxies(sourceDir string) ([]string, error) {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("list proxies in %s: %w", sourceDir, err)
	}
	var out []string
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		if st, err := os.Stat(filepath.Join(sourceDir, ent.Name(), "apiproxy")); err == nil && st.IsDir() {
			out = append(out, ent.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
