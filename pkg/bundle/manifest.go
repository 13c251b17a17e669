package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"

	"github.com/r9s-ai/proxy-unifier/pkg/xmltree"
)

// Conventional directory names inside an apiproxy tree.
const (
	DirPolicies  = "policies"
	DirProxies   = "proxies"
	DirTargets   = "targets"
	DirManifests = "manifests"
)

var (
	ErrNoEntrypoint        = errors.New("no xml file at bundle root")
	ErrMultipleEntrypoints = errors.New("multiple xml files at bundle root")
	ErrNotAPIProxy         = errors.New("bundle root document is not an APIProxy")
)

// ListingSource tells where a manifest listing came from.
type ListingSource string

const (
	FromManifest   ListingSource = "manifest"
	FromFilesystem ListingSource = "filesystem"
)

// Listing describes one of the manifest's name lists: its wrapper element,
// item element, and the directory holding the matching files.
type Listing struct {
	Wrapper string
	Item    string
	Dir     string
}

var (
	ListingPolicies        = Listing{Wrapper: "Policies", Item: "Policy", Dir: DirPolicies}
	ListingProxyEndpoints  = Listing{Wrapper: "ProxyEndpoints", Item: "ProxyEndpoint", Dir: DirProxies}
	ListingTargetEndpoints = Listing{Wrapper: "TargetEndpoints", Item: "TargetEndpoint", Dir: DirTargets}
)

// Manifest is the bundle root descriptor (apiproxy/<name>.xml).
type Manifest struct {
	Path            string                   `json:"path"`
	Name            string                   `json:"name"`
	BasePaths       []string                 `json:"base_paths,omitempty"`
	Policies        []string                 `json:"policies"`
	ProxyEndpoints  []string                 `json:"proxy_endpoints"`
	TargetEndpoints []string                 `json:"target_endpoints"`
	Sources         map[string]ListingSource `json:"sources"`
	// Root is the parsed APIProxy element with filesystem fallbacks applied.
	Root *etree.Element `json:"-"`
}

// FindEntrypoint returns the single *.xml file directly under dir.
func FindEntrypoint(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read bundle dir %q: %w", dir, err)
	}
	var found []string
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".xml") {
			continue
		}
		found = append(found, ent.Name())
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNoEntrypoint, dir)
	case 1:
		return filepath.Join(dir, found[0]), nil
	default:
		return "", fmt.Errorf("%w: %s (%s)", ErrMultipleEntrypoints, dir, strings.Join(found, ", "))
	}
}

// ReadManifest locates and parses the root descriptor of the apiproxy tree at dir.
// Empty listings are filled from the matching directory and written back into Root,
// so a manifest re-rendered from Root always names what the reader saw.
func ReadManifest(dir string) (*Manifest, error) {
	path, err := FindEntrypoint(dir)
	if err != nil {
		return nil, err
	}
	root, err := xmltree.LoadRoot(path)
	if err != nil {
		return nil, err
	}
	if root.Tag != "APIProxy" {
		return nil, fmt.Errorf("%w: %s has root %s", ErrNotAPIProxy, path, root.Tag)
	}
	m := &Manifest{
		Path:      path,
		Name:      xmltree.Attr(root, "name"),
		BasePaths: xmltree.ChildTexts(root, "Basepaths"),
		Sources:   map[string]ListingSource{},
		Root:      root,
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), ".xml")
	}
	m.Policies = m.resolve(dir, ListingPolicies)
	m.ProxyEndpoints = m.resolve(dir, ListingProxyEndpoints)
	m.TargetEndpoints = m.resolve(dir, ListingTargetEndpoints)
	return m, nil
}

func (m *Manifest) resolve(dir string, l Listing) []string {
	names := ListingNames(m.Root, l)
	if len(names) > 0 {
		m.Sources[l.Wrapper] = FromManifest
		return names
	}
	m.Sources[l.Wrapper] = FromFilesystem
	names = ListXMLNames(filepath.Join(dir, l.Dir))
	wrapper := xmltree.Child(m.Root, l.Wrapper)
	if wrapper == nil {
		wrapper = m.Root.CreateElement(l.Wrapper)
	}
	xmltree.ReplaceChildren(wrapper, l.Item, names)
	return names
}

// ListingNames returns the item names listed under the given wrapper of an APIProxy root.
func ListingNames(root *etree.Element, l Listing) []string {
	return xmltree.ChildTexts(xmltree.Child(root, l.Wrapper), l.Item)
}

// ListXMLNames returns the base names (without .xml) of the xml files in dir,
// in directory order. A missing directory yields no names.
func ListXMLNames(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".xml") {
			continue
		}
		out = append(out, strings.TrimSuffix(ent.Name(), ".xml"))
	}
	return out
}
