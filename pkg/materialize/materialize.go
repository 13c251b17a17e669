// Package materialize turns a merged bundle into a deployable apiproxy tree and
// a zip archive.
package materialize

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/r9s-ai/proxy-unifier/pkg/bundle"
	"github.com/r9s-ai/proxy-unifier/pkg/merge"
	"github.com/r9s-ai/proxy-unifier/pkg/xmltree"
)

// Target says where one bundle is written.
type Target struct {
	// SourceDir is the original apiproxy directory.
	SourceDir string
	// OutputDir receives the expanded tree as OutputDir/apiproxy.
	OutputDir string
	// ArchiveDir receives <bundle name>.zip.
	ArchiveDir string
}

// Result locates what was written for one bundle.
type Result struct {
	Name     string `json:"name"`
	Dir      string `json:"dir"`
	Manifest string `json:"manifest"`
	Archive  string `json:"archive"`
}

// Materialize clones the source tree for b, rewrites and prunes it, and zips it.
// Any previous output at the same location is replaced, so reruns are safe.
func Materialize(t Target, b merge.Bundle, log *zap.Logger) (Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("bundle", b.Name))
	if len(b.ProxyEndpoints) == 0 {
		return Result{}, fmt.Errorf("bundle %s has no proxy endpoints", b.Name)
	}
	dst := filepath.Join(t.OutputDir, "apiproxy")
	res := Result{Name: b.Name, Dir: dst}

	if err := os.RemoveAll(dst); err != nil {
		return res, fmt.Errorf("clear %s: %w", dst, err)
	}
	if err := copyTree(t.SourceDir, dst); err != nil {
		return res, err
	}

	m, err := bundle.ReadManifest(dst)
	if err != nil {
		return res, fmt.Errorf("read cloned manifest: %w", err)
	}
	if err := os.Remove(m.Path); err != nil {
		return res, fmt.Errorf("remove cloned manifest: %w", err)
	}
	root := m.Root
	root.CreateAttr("name", b.Name)
	filterListing(root, bundle.ListingPolicies, b.Policies)
	filterListing(root, bundle.ListingTargetEndpoints, b.TargetEndpoints)

	if err := prune(filepath.Join(dst, bundle.DirPolicies), b.Policies); err != nil {
		return res, err
	}
	if err := prune(filepath.Join(dst, bundle.DirTargets), b.TargetEndpoints); err != nil {
		return res, err
	}

	proxies := filepath.Join(dst, bundle.DirProxies)
	if err := os.MkdirAll(proxies, 0o750); err != nil {
		return res, err
	}
	for _, ep := range b.Endpoints {
		if err := xmltree.Save(filepath.Join(proxies, ep.Name+".xml"), ep.Render()); err != nil {
			return res, err
		}
	}
	if err := prune(proxies, b.ProxyEndpoints); err != nil {
		return res, err
	}
	setListing(root, bundle.ListingProxyEndpoints, b.ProxyEndpoints)

	res.Manifest = filepath.Join(dst, b.Name+".xml")
	if err := xmltree.Save(res.Manifest, root); err != nil {
		return res, err
	}
	if err := os.RemoveAll(filepath.Join(dst, bundle.DirManifests)); err != nil {
		return res, fmt.Errorf("remove deployment manifests: %w", err)
	}

	if err := os.MkdirAll(t.ArchiveDir, 0o750); err != nil {
		return res, fmt.Errorf("create archive dir: %w", err)
	}
	res.Archive = filepath.Join(t.ArchiveDir, b.Name+".zip")
	if err := zipTree(t.OutputDir, dst, res.Archive); err != nil {
		return res, err
	}
	log.Info("materialized bundle",
		zap.String("dir", dst),
		zap.String("archive", res.Archive),
		zap.Int("proxy_endpoints", len(b.ProxyEndpoints)),
		zap.Int("target_endpoints", len(b.TargetEndpoints)),
		zap.Int("policies", len(b.Policies)),
	)
	return res, nil
}

// filterListing keeps only the listed items named in keep, in manifest order.
func filterListing(root *etree.Element, l bundle.Listing, keep []string) {
	wrapper := xmltree.Child(root, l.Wrapper)
	if wrapper == nil {
		return
	}
	set := toSet(keep)
	for _, item := range xmltree.Children(wrapper, l.Item) {
		if !set[xmltree.Text(item)] {
			wrapper.RemoveChild(item)
		}
	}
}

func setListing(root *etree.Element, l bundle.Listing, names []string) {
	wrapper := xmltree.Child(root, l.Wrapper)
	if wrapper == nil {
		wrapper = root.CreateElement(l.Wrapper)
	}
	xmltree.ReplaceChildren(wrapper, l.Item, names)
}

// prune deletes the xml files in dir whose base name is not in keep.
func prune(dir string, keep []string) error {
	set := toSet(keep)
	for _, name := range bundle.ListXMLNames(dir) {
		if set[name] {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name+".xml")); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("prune %s: %w", name, err)
		}
	}
	return nil
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[strings.TrimSpace(v)] = true
	}
	return out
}
