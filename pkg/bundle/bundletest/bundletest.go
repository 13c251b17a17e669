// Package bundletest writes small apiproxy trees for tests.
package bundletest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// Fixture describes an apiproxy tree. Map values are raw XML documents keyed by
// artifact name. When ListInManifest is false the manifest lists are left empty,
// forcing the reader's filesystem fallback.
type Fixture struct {
	Name           string
	Basepaths      []string
	ListInManifest bool
	Proxies        map[string]string
	Targets        map[string]string
	Policies       map[string]string
	// ProxyOrder fixes manifest order for proxies; unlisted names are appended sorted.
	ProxyOrder []string
	// ExtraRootFiles are written next to the manifest (used to provoke entrypoint errors).
	ExtraRootFiles map[string]string
	// WithDeploymentManifest adds a manifests/ subtree.
	WithDeploymentManifest bool
}

// Write materializes f under parent/<dirName>/apiproxy and returns the apiproxy path.
func Write(t testing.TB, parent, dirName string, f Fixture) string {
	t.Helper()
	root := filepath.Join(parent, dirName, "apiproxy")
	for _, d := range []string{"policies", "proxies", "targets"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o750); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
	writeAll(t, filepath.Join(root, "proxies"), f.Proxies)
	writeAll(t, filepath.Join(root, "targets"), f.Targets)
	writeAll(t, filepath.Join(root, "policies"), f.Policies)
	for name, content := range f.ExtraRootFiles {
		writeFile(t, filepath.Join(root, name), content)
	}
	if f.WithDeploymentManifest {
		if err := os.MkdirAll(filepath.Join(root, "manifests"), 0o750); err != nil {
			t.Fatalf("mkdir manifests: %v", err)
		}
		writeFile(t, filepath.Join(root, "manifests", "manifest.xml"), `<Manifest name="manifest"/>`)
	}
	writeFile(t, filepath.Join(root, f.Name+".xml"), ManifestXML(f))
	return root
}

// ManifestXML renders the APIProxy root document for f.
func ManifestXML(f Fixture) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<APIProxy revision=\"1\" name=%q>\n", f.Name)
	for _, bp := range f.Basepaths {
		fmt.Fprintf(&b, "  <Basepaths>%s</Basepaths>\n", bp)
	}
	list := func(wrapper, item string, names []string) {
		if !f.ListInManifest || len(names) == 0 {
			fmt.Fprintf(&b, "  <%s/>\n", wrapper)
			return
		}
		fmt.Fprintf(&b, "  <%s>\n", wrapper)
		for _, n := range names {
			fmt.Fprintf(&b, "    <%s>%s</%s>\n", item, n, item)
		}
		fmt.Fprintf(&b, "  </%s>\n", wrapper)
	}
	list("Policies", "Policy", ordered(f.Policies, nil))
	list("ProxyEndpoints", "ProxyEndpoint", ordered(f.Proxies, f.ProxyOrder))
	list("Resources", "Resource", nil)
	list("TargetEndpoints", "TargetEndpoint", ordered(f.Targets, nil))
	b.WriteString("</APIProxy>\n")
	return b.String()
}

// ProxyEndpoint renders a proxy endpoint with one PreFlow request step per
// policy and one route rule per target. Empty basePath omits the BasePath element.
func ProxyEndpoint(name, basePath string, policies []string, targets []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<ProxyEndpoint name=%q>\n", name)
	b.WriteString("  <Description/>\n  <FaultRules/>\n")
	b.WriteString("  <PreFlow name=\"PreFlow\">\n    <Request>\n")
	for _, p := range policies {
		fmt.Fprintf(&b, "      <Step>\n        <Name>%s</Name>\n      </Step>\n", p)
	}
	b.WriteString("    </Request>\n    <Response/>\n  </PreFlow>\n")
	b.WriteString("  <PostFlow name=\"PostFlow\">\n    <Request/>\n    <Response/>\n  </PostFlow>\n")
	b.WriteString("  <Flows/>\n  <HTTPProxyConnection>\n")
	if basePath != "" {
		fmt.Fprintf(&b, "    <BasePath>%s</BasePath>\n", basePath)
	}
	b.WriteString("    <Properties/>\n    <VirtualHost>secure</VirtualHost>\n  </HTTPProxyConnection>\n")
	for i, t := range targets {
		fmt.Fprintf(&b, "  <RouteRule name=\"route-%d\">\n    <TargetEndpoint>%s</TargetEndpoint>\n  </RouteRule>\n", i, t)
	}
	b.WriteString("</ProxyEndpoint>\n")
	return b.String()
}

// TargetEndpoint renders a target endpoint with one PreFlow request step per policy.
func TargetEndpoint(name string, policies []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<TargetEndpoint name=%q>\n  <PreFlow name=\"PreFlow\">\n    <Request>\n", name)
	for _, p := range policies {
		fmt.Fprintf(&b, "      <Step>\n        <Name>%s</Name>\n      </Step>\n", p)
	}
	b.WriteString("    </Request>\n    <Response/>\n  </PreFlow>\n")
	b.WriteString("  <HTTPTargetConnection>\n    <URL>https://backend.example.com</URL>\n  </HTTPTargetConnection>\n")
	b.WriteString("</TargetEndpoint>\n")
	return b.String()
}

// Policy renders a minimal AssignMessage policy.
func Policy(name string) string {
	return fmt.Sprintf("<AssignMessage async=\"false\" continueOnError=\"false\" enabled=\"true\" name=%q>\n  <DisplayName>%s</DisplayName>\n</AssignMessage>\n", name, name)
}

func ordered(m map[string]string, order []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(m))
	for _, n := range order {
		if _, ok := m[n]; ok && !seen[n] {
			out = append(out, n)
			seen[n] = true
		}
	}
	rest := make([]string, 0, len(m))
	for n := range m {
		if !seen[n] {
			rest = append(rest, n)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func writeAll(t testing.TB, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		writeFile(t, filepath.Join(dir, name+".xml"), content)
	}
}

func writeFile(t testing.TB, path, content string) {
	t.Helper()
	// #nosec G306 -- test data file.
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
