package relations

import (
	"path/filepath"

	"github.com/r9s-ai/proxy-unifier/pkg/bundle"
)

// Check cross-references the descriptor and reports dangling references and
// unused artifacts. It returns the reader's issues followed by its own, sorted.
func Check(desc *bundle.Descriptor) []bundle.Issue {
	if desc == nil {
		return nil
	}
	issues := append([]bundle.Issue(nil), desc.Issues...)
	if desc.Manifest == nil {
		issues = append(issues, bundle.Issue{File: desc.Dir, Message: "no readable proxy manifest"})
		return issues
	}
	proxyFile := func(name string) string { return filepath.Join(desc.Dir, bundle.DirProxies, name+".xml") }
	targetFile := func(name string) string { return filepath.Join(desc.Dir, bundle.DirTargets, name+".xml") }

	if len(desc.ProxyEndpointNames) == 0 {
		issues = append(issues, bundle.Issue{File: desc.Manifest.Path, Element: "ProxyEndpoints", Message: "bundle has no proxy endpoints"})
	}

	used := map[string]bool{}
	for _, pe := range desc.Endpoints() {
		if pe.Malformed {
			continue
		}
		file := proxyFile(pe.Name)
		if pe.BasePath == "" {
			issues = append(issues, bundle.Issue{File: file, Element: "HTTPProxyConnection/BasePath",
				Message: "no base path; endpoint lands in the catch-all group"})
		}
		for _, rr := range pe.RouteRules {
			if rr.TargetEndpoint == "" {
				continue
			}
			if _, ok := desc.TargetEndpoints[rr.TargetEndpoint]; !ok {
				issues = append(issues, bundle.Issue{File: file, Element: "RouteRule[" + rr.Name + "]",
					Message: "references unknown target endpoint " + rr.TargetEndpoint})
			}
		}
		issues = append(issues, unknownPolicies(desc, file, append(FlowSetPolicies(pe.FlowSet), pe.PostClientFlow.StepNames()...), used)...)
	}
	for _, name := range desc.TargetEndpointNames {
		te, ok := desc.TargetEndpoints[name]
		if !ok || te.Malformed {
			continue
		}
		issues = append(issues, unknownPolicies(desc, targetFile(name), FlowSetPolicies(te.FlowSet), used)...)
	}
	for _, name := range desc.PolicyNames {
		if !used[name] {
			issues = append(issues, bundle.Issue{File: filepath.Join(desc.Dir, bundle.DirPolicies, name+".xml"),
				Message: "policy is not referenced by any flow and will be pruned"})
		}
	}
	bundle.SortIssues(issues)
	return issues
}

func unknownPolicies(desc *bundle.Descriptor, file string, names []string, used map[string]bool) []bundle.Issue {
	var out []bundle.Issue
	reported := map[string]bool{}
	for _, name := range names {
		used[name] = true
		if _, ok := desc.Policies[name]; ok || reported[name] {
			continue
		}
		reported[name] = true
		out = append(out, bundle.Issue{File: file, Element: "Step", Message: "references unknown policy " + name})
	}
	return out
}
