package unifier

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/r9s-ai/proxy-unifier/pkg/bundle"
	"github.com/r9s-ai/proxy-unifier/pkg/grouping"
	"github.com/r9s-ai/proxy-unifier/pkg/merge"
	"github.com/r9s-ai/proxy-unifier/pkg/relations"
)

// debugDump holds the intermediate state of a run, one file per stage.
type debugDump struct {
	Descriptor      *bundle.Descriptor
	Relationships   relations.Set
	PathGroups      grouping.Groups
	Batches         []grouping.Batch
	MergedEndpoints []merge.Endpoint
	MergedBundles   []BundleSummary
}

func (d debugDump) write(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	files := []struct {
		name string
		v    any
	}{
		{"descriptor", d.Descriptor},
		{"relationships", d.Relationships},
		{"path_groups", d.PathGroups},
		{"batches", d.Batches},
		{"merged_endpoints", d.MergedEndpoints},
		{"merged_bundles", d.MergedBundles},
	}
	for _, f := range files {
		b, err := json.MarshalIndent(f.v, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", f.name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, f.name+".json"), append(b, '\n'), 0o600); err != nil {
			return err
		}
	}
	return nil
}

func mergedEndpoints(bundles []merge.Bundle) []merge.Endpoint {
	var out []merge.Endpoint
	for _, b := range bundles {
		out = append(out, b.Endpoints...)
	}
	return out
}
