package unifier

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Report aggregates the results of unifying several proxies.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Total       int       `json:"total"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Runs        []Result  `json:"runs"`
}

func NewReport(runs []Result) Report {
	r := Report{GeneratedAt: time.Now().UTC(), Total: len(runs), Runs: runs}
	if r.Runs == nil {
		r.Runs = []Result{}
	}
	for _, run := range runs {
		if run.Failed() {
			r.Failed++
		} else {
			r.Succeeded++
		}
	}
	return r
}

// FailedResult stands in for a run that never produced a Result.
func FailedResult(proxyDir string, err error) Result {
	res := newResult(proxyDir)
	res.FinishedAt = res.StartedAt
	res.Error = err.Error()
	return res
}

// Bundles flattens the bundle summaries of every run.
func (r Report) Bundles() []BundleSummary {
	out := []BundleSummary{}
	for _, run := range r.Runs {
		out = append(out, run.Bundles...)
	}
	return out
}

// WriteFile stores the report as indented JSON.
func (r Report) WriteFile(path string) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
