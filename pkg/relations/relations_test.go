package relations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r9s-ai/proxy-unifier/pkg/bundle"
	"github.com/r9s-ai/proxy-unifier/pkg/bundle/bundletest"
)

const faultyProxy = `<ProxyEndpoint name="faulty">
  <FaultRules>
    <FaultRule name="invalid-key">
      <Step><Name>RF-InvalidKey</Name></Step>
      <Condition>fault.name = "InvalidApiKey"</Condition>
    </FaultRule>
  </FaultRules>
  <DefaultFaultRule name="default">
    <Step><Name>RF-Default</Name></Step>
  </DefaultFaultRule>
  <PreFlow name="PreFlow">
    <Request>
      <Step><Name>VA-Key</Name></Step>
    </Request>
  </PreFlow>
  <PostFlow name="PostFlow">
    <Response>
      <Step><Name>AM-Headers</Name></Step>
      <Step><Name>VA-Key</Name></Step>
    </Response>
  </PostFlow>
  <Flows>
    <Flow name="get">
      <Request><Step><Name>JS-Get</Name></Step></Request>
    </Flow>
    <Flow name="post">
      <Response><Step><Name>JS-Post</Name></Step></Response>
    </Flow>
  </Flows>
  <HTTPProxyConnection><BasePath>/faulty</BasePath></HTTPProxyConnection>
  <RouteRule name="a"><TargetEndpoint>backend</TargetEndpoint></RouteRule>
  <RouteRule name="b"><Condition>false</Condition><TargetEndpoint>backend</TargetEndpoint></RouteRule>
  <RouteRule name="c"><TargetEndpoint>missing</TargetEndpoint></RouteRule>
  <RouteRule name="none"/>
</ProxyEndpoint>`

func readFixture(t *testing.T, f bundletest.Fixture) *bundle.Descriptor {
	t.Helper()
	dir := bundletest.Write(t, t.TempDir(), "proxy", f)
	desc := bundle.Read(dir, nil)
	require.False(t, desc.Empty())
	return desc
}

func TestExtract_CollectsEveryFlowKind(t *testing.T) {
	desc := readFixture(t, bundletest.Fixture{
		Name:           "Faulty",
		ListInManifest: true,
		Proxies:        map[string]string{"faulty": faultyProxy},
		Targets:        map[string]string{"backend": bundletest.TargetEndpoint("backend", []string{"AM-Target", "VA-Key"})},
		Policies: map[string]string{
			"VA-Key": bundletest.Policy("VA-Key"), "AM-Headers": bundletest.Policy("AM-Headers"),
			"JS-Get": bundletest.Policy("JS-Get"), "JS-Post": bundletest.Policy("JS-Post"),
			"RF-InvalidKey": bundletest.Policy("RF-InvalidKey"), "RF-Default": bundletest.Policy("RF-Default"),
			"AM-Target": bundletest.Policy("AM-Target"),
		},
	})

	rels := Extract(desc, nil)
	require.Len(t, rels, 1)
	r := rels[0]
	assert.Equal(t, "faulty", r.Name)
	assert.Equal(t, "/faulty", r.BasePath)
	assert.Equal(t, []string{"backend", "missing"}, r.TargetEndpoints)
	assert.Equal(t, []string{
		"VA-Key", "AM-Headers", "JS-Get", "JS-Post", "RF-InvalidKey", "RF-Default", "AM-Target",
	}, r.Policies)
}

func TestExtract_MalformedAndNullBasePath(t *testing.T) {
	desc := readFixture(t, bundletest.Fixture{
		Name:           "Mixed",
		ListInManifest: true,
		Proxies: map[string]string{
			"root":   bundletest.ProxyEndpoint("root", "", []string{"P1"}, nil),
			"broken": `<TargetEndpoint name="broken"/>`,
		},
		ProxyOrder: []string{"root", "broken"},
		Policies:   map[string]string{"P1": bundletest.Policy("P1")},
	})

	rels := Extract(desc, nil)
	require.Len(t, rels, 2)
	assert.Equal(t, Relationship{Name: "root", Policies: []string{"P1"}, TargetEndpoints: []string{}}, rels[0])
	assert.Equal(t, Relationship{Name: "broken", Policies: []string{}, TargetEndpoints: []string{}, Malformed: true}, rels[1])

	r, ok := rels.Get("root")
	require.True(t, ok)
	assert.Empty(t, r.BasePath)
	_, ok = rels.Get("nope")
	assert.False(t, ok)
}

func TestExtract_EmptyDescriptor(t *testing.T) {
	rels := Extract(bundle.NewDescriptor(t.TempDir()), nil)
	assert.Empty(t, rels)
}

func TestUnion(t *testing.T) {
	got := Union([]string{"b", "a"}, nil, []string{"a", "c", "b"})
	assert.Equal(t, []string{"b", "a", "c"}, got)
	assert.Equal(t, []string{}, Union())
}

func TestCheck_ReportsDanglingReferences(t *testing.T) {
	desc := readFixture(t, bundletest.Fixture{
		Name:           "Faulty",
		ListInManifest: true,
		Proxies:        map[string]string{"faulty": faultyProxy},
		Targets:        map[string]string{"backend": bundletest.TargetEndpoint("backend", []string{"AM-Gone"})},
		Policies: map[string]string{
			"VA-Key": bundletest.Policy("VA-Key"), "AM-Headers": bundletest.Policy("AM-Headers"),
			"JS-Get": bundletest.Policy("JS-Get"), "JS-Post": bundletest.Policy("JS-Post"),
			"RF-InvalidKey": bundletest.Policy("RF-InvalidKey"), "RF-Default": bundletest.Policy("RF-Default"),
			"Orphan": bundletest.Policy("Orphan"),
		},
	})

	issues := Check(desc)
	var msgs []string
	for _, is := range issues {
		msgs = append(msgs, is.Message)
	}
	joined := strings.Join(msgs, "\n")
	assert.Contains(t, joined, "references unknown target endpoint missing")
	assert.Contains(t, joined, "references unknown policy AM-Gone")
	assert.Contains(t, joined, "policy is not referenced by any flow and will be pruned")
	assert.NotContains(t, joined, "unknown policy VA-Key")
	assert.Len(t, issues, 3)
}

func TestCheck_MissingManifest(t *testing.T) {
	issues := Check(bundle.NewDescriptor("/nowhere"))
	require.Len(t, issues, 1)
	assert.Equal(t, "no readable proxy manifest", issues[0].Message)
}
