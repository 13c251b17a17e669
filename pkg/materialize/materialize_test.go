package materialize

import (
	"archive/zip"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r9s-ai/proxy-unifier/pkg/bundle"
	"github.com/r9s-ai/proxy-unifier/pkg/bundle/bundletest"
	"github.com/r9s-ai/proxy-unifier/pkg/grouping"
	"github.com/r9s-ai/proxy-unifier/pkg/merge"
	"github.com/r9s-ai/proxy-unifier/pkg/relations"
)

func proxyFixture(listed bool) bundletest.Fixture {
	return bundletest.Fixture{
		Name:           "Proxy",
		Basepaths:      []string{"/v1"},
		ListInManifest: listed,
		Proxies: map[string]string{
			"PE1": bundletest.ProxyEndpoint("PE1", "/v1/orders", []string{"P1"}, []string{"T1"}),
			"PE2": bundletest.ProxyEndpoint("PE2", "/v1/users", []string{"P2"}, []string{"T2"}),
			// Ghost is referenced but has no policy file.
			"PE3": bundletest.ProxyEndpoint("PE3", "/v2/admin", []string{"P3", "Ghost"}, []string{"T3"}),
		},
		ProxyOrder: []string{"PE1", "PE2", "PE3"},
		Targets: map[string]string{
			"T1": bundletest.TargetEndpoint("T1", nil),
			"T2": bundletest.TargetEndpoint("T2", []string{"TP2"}),
			"T3": bundletest.TargetEndpoint("T3", nil),
		},
		Policies: map[string]string{
			"P1": bundletest.Policy("P1"), "P2": bundletest.Policy("P2"), "P3": bundletest.Policy("P3"),
			"TP2": bundletest.Policy("TP2"), "Unused": bundletest.Policy("Unused"),
		},
		WithDeploymentManifest: true,
	}
}

func bundlesFor(t *testing.T, src string, capacity int) []merge.Bundle {
	t.Helper()
	desc := bundle.Read(src, nil)
	require.False(t, desc.Empty())
	rels := relations.Extract(desc, nil)
	batches, err := grouping.Partition(grouping.GroupByPath(rels), capacity)
	require.NoError(t, err)
	out := make([]merge.Bundle, 0, len(batches))
	for i, b := range batches {
		out = append(out, merge.MergeBatch(desc, rels, i, b, nil))
	}
	return out
}

func zipNames(t *testing.T, path string) []string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer func() { _ = zr.Close() }()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestMaterialize_ManifestMatchesBundle(t *testing.T) {
	for _, listed := range []bool{true, false} {
		root := t.TempDir()
		src := bundletest.Write(t, root, "proxy", proxyFixture(listed))
		bundles := bundlesFor(t, src, 1)
		require.Len(t, bundles, 2)

		for _, b := range bundles {
			out := filepath.Join(root, "out", "proxy_"+b.Name[len(b.Name)-1:])
			res, err := Materialize(Target{SourceDir: src, OutputDir: out, ArchiveDir: filepath.Join(root, "zips")}, b, nil)
			require.NoError(t, err, "listed=%v bundle=%s", listed, b.Name)

			m, err := bundle.ReadManifest(res.Dir)
			require.NoError(t, err)
			assert.Equal(t, b.Name, m.Name)
			assert.Equal(t, res.Manifest, m.Path)
			assert.ElementsMatch(t, b.Policies, m.Policies, "listed=%v", listed)
			assert.NotContains(t, b.Policies, "Ghost")
			assert.ElementsMatch(t, b.TargetEndpoints, m.TargetEndpoints)
			assert.Equal(t, b.ProxyEndpoints, m.ProxyEndpoints)
			assert.Equal(t, bundle.FromManifest, m.Sources["ProxyEndpoints"])

			assert.ElementsMatch(t, b.Policies, bundle.ListXMLNames(filepath.Join(res.Dir, bundle.DirPolicies)))
			assert.ElementsMatch(t, b.TargetEndpoints, bundle.ListXMLNames(filepath.Join(res.Dir, bundle.DirTargets)))
			assert.Equal(t, b.ProxyEndpoints, bundle.ListXMLNames(filepath.Join(res.Dir, bundle.DirProxies)))
			assert.NoDirExists(t, filepath.Join(res.Dir, bundle.DirManifests))
			assert.NoFileExists(t, filepath.Join(res.Dir, "Proxy.xml"))
		}
	}
}

func TestMaterialize_ScenarioArchive(t *testing.T) {
	root := t.TempDir()
	f := proxyFixture(true)
	delete(f.Proxies, "PE3")
	f.ProxyOrder = []string{"PE1", "PE2"}
	src := bundletest.Write(t, root, "proxy", f)
	bundles := bundlesFor(t, src, 1)
	require.Len(t, bundles, 1)
	b := bundles[0]
	require.Equal(t, []string{"PE1-PE2"}, b.ProxyEndpoints)

	zips := filepath.Join(root, "zips")
	res, err := Materialize(Target{SourceDir: src, OutputDir: filepath.Join(root, "out", "proxy_0"), ArchiveDir: zips}, b, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(zips, "Proxy_0.zip"), res.Archive)
	assert.Equal(t, []string{
		"apiproxy/Proxy_0.xml",
		"apiproxy/policies/P1.xml",
		"apiproxy/policies/P2.xml",
		"apiproxy/policies/TP2.xml",
		"apiproxy/proxies/PE1-PE2.xml",
		"apiproxy/targets/T1.xml",
		"apiproxy/targets/T2.xml",
	}, zipNames(t, res.Archive))

	merged := bundle.Read(res.Dir, nil)
	pe := merged.ProxyEndpoints["PE1-PE2"]
	assert.Equal(t, "/v1", pe.BasePath)
	require.Len(t, pe.RouteRules, 2)
	assert.Equal(t, `(request.path Matches "/v1/users*")`, pe.RouteRules[1].Condition)
	assert.Empty(t, relations.Check(merged))
}

func TestMaterialize_RerunReplacesPreviousOutput(t *testing.T) {
	root := t.TempDir()
	src := bundletest.Write(t, root, "proxy", proxyFixture(true))
	b := bundlesFor(t, src, 5)[0]
	target := Target{SourceDir: src, OutputDir: filepath.Join(root, "out", "proxy_0"), ArchiveDir: filepath.Join(root, "zips")}

	_, err := Materialize(target, b, nil)
	require.NoError(t, err)
	stale := filepath.Join(target.OutputDir, "apiproxy", "resources", "stale.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o750))
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o600))

	res, err := Materialize(target, b, nil)
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
	assert.NotContains(t, zipNames(t, res.Archive), "apiproxy/resources/stale.txt")
	assert.NoFileExists(t, res.Archive+".tmp")
}

func TestMaterialize_Errors(t *testing.T) {
	root := t.TempDir()
	_, err := Materialize(Target{SourceDir: root, OutputDir: filepath.Join(root, "o"), ArchiveDir: root}, merge.Bundle{Name: "Empty_0"}, nil)
	require.Error(t, err)

	b := merge.Bundle{Name: "X_0", ProxyEndpoints: []string{"a"}}
	_, err = Materialize(Target{SourceDir: filepath.Join(root, "missing"), OutputDir: filepath.Join(root, "o"), ArchiveDir: root}, b, nil)
	require.Error(t, err)

	noManifest := filepath.Join(root, "nomanifest", "apiproxy")
	require.NoError(t, os.MkdirAll(noManifest, 0o750))
	_, err = Materialize(Target{SourceDir: noManifest, OutputDir: filepath.Join(root, "o2"), ArchiveDir: root}, b, nil)
	require.ErrorIs(t, err, bundle.ErrNoEntrypoint)
}
