// Package merge collapses the proxy endpoints sharing a path key into one
// endpoint. Each source endpoint's steps, flows and route rules are guarded by
// a discriminator on its original base path, so they keep firing only for the
// requests they used to receive.
package merge

import (
	"fmt"
	"slices"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/r9s-ai/proxy-unifier/pkg/bundle"
	"github.com/r9s-ai/proxy-unifier/pkg/grouping"
	"github.com/r9s-ai/proxy-unifier/pkg/relations"
)

// Endpoint is a synthesized proxy endpoint. An empty BasePath means the
// endpoint came from the catch-all group and has no base path.
type Endpoint struct {
	Name     string   `json:"name"`
	Key      string   `json:"key"`
	BasePath string   `json:"base_path,omitempty"`
	Sources  []string `json:"sources"`

	Description      string             `json:"description,omitempty"`
	FaultRules       []bundle.FaultRule `json:"fault_rules,omitempty"`
	DefaultFaultRule *bundle.FaultRule  `json:"default_fault_rule,omitempty"`
	PreFlow          bundle.Flow        `json:"pre_flow"`
	PostFlow         bundle.Flow        `json:"post_flow"`
	Flows            []bundle.Flow      `json:"flows,omitempty"`
	PostClientFlow   *bundle.Flow       `json:"post_client_flow,omitempty"`
	RouteRules       []bundle.RouteRule `json:"route_rules,omitempty"`
	VirtualHosts     []string           `json:"virtual_hosts,omitempty"`
	Properties       *etree.Element     `json:"-"`

	Policies        []string `json:"policies"`
	TargetEndpoints []string `json:"target_endpoints"`
}

// Discriminator returns the guard matching requests under basePath.
// A missing base path matches everything and yields no guard.
func Discriminator(basePath string) string {
	if basePath == "" {
		return ""
	}
	return fmt.Sprintf(`(request.path Matches "%s*")`, basePath)
}

// Conjoin prefixes existing with disc. The existing condition is not
// parenthesized, so a top-level "or" in it binds looser than the guard.
func Conjoin(disc, existing string) string {
	if disc == "" {
		return existing
	}
	if strings.TrimSpace(existing) == "" {
		return disc
	}
	return disc + " and " + existing
}

// Merge builds the endpoint for one batch subgroup. Sources are processed in
// the given order. A source missing from desc or marked malformed keeps its
// place in the name but contributes nothing else.
func Merge(desc *bundle.Descriptor, rels relations.Set, sub grouping.Subgroup, log *zap.Logger) Endpoint {
	if log == nil {
		log = zap.NewNop()
	}
	out := Endpoint{
		Name:            strings.Join(sub.Endpoints, "-"),
		Key:             sub.Key,
		Sources:         append([]string(nil), sub.Endpoints...),
		PreFlow:         bundle.Flow{Name: "PreFlow"},
		PostFlow:        bundle.Flow{Name: "PostFlow"},
		Policies:        []string{},
		TargetEndpoints: []string{},
	}
	if sub.Key != grouping.NullKey {
		out.BasePath = "/" + sub.Key
	}

	first := true
	for _, name := range sub.Endpoints {
		pe, ok := desc.ProxyEndpoints[name]
		if !ok || pe.Malformed {
			log.Error("skipping malformed proxy endpoint in merge",
				zap.String("proxy", desc.Name), zap.String("endpoint", name), zap.String("merged", out.Name))
			continue
		}
		if first {
			out.Description = pe.Description
			out.FaultRules = append([]bundle.FaultRule(nil), pe.FaultRules...)
			out.DefaultFaultRule = pe.DefaultFaultRule
			out.VirtualHosts = append([]string(nil), pe.VirtualHosts...)
			out.Properties = pe.Properties
			first = false
		} else if !slices.Equal(out.VirtualHosts, pe.VirtualHosts) {
			log.Warn("merged endpoint keeps the first source's virtual hosts",
				zap.String("proxy", desc.Name), zap.String("merged", out.Name), zap.String("endpoint", name),
				zap.Strings("kept", out.VirtualHosts), zap.Strings("dropped", pe.VirtualHosts))
		}

		disc := Discriminator(pe.BasePath)
		for _, rr := range pe.RouteRules {
			rr.Condition = Conjoin(disc, rr.Condition)
			out.RouteRules = append(out.RouteRules, rr)
		}
		if pe.PreFlow != nil {
			out.PreFlow.Request = append(out.PreFlow.Request, guardSteps(pe.PreFlow.Request, disc)...)
			out.PreFlow.Response = append(out.PreFlow.Response, guardSteps(pe.PreFlow.Response, disc)...)
		}
		if pe.PostFlow != nil {
			out.PostFlow.Request = append(out.PostFlow.Request, guardSteps(pe.PostFlow.Request, disc)...)
			out.PostFlow.Response = append(out.PostFlow.Response, guardSteps(pe.PostFlow.Response, disc)...)
		}
		// PostClientFlow runs after the response is sent and is not path-specific,
		// so a step shared by several sources must run once.
		if pe.PostClientFlow != nil {
			if out.PostClientFlow == nil {
				out.PostClientFlow = &bundle.Flow{Name: "PostClientFlow"}
			}
			out.PostClientFlow.Response = appendNewSteps(out.PostClientFlow.Response, pe.PostClientFlow.Response)
		}
		for _, f := range pe.Flows {
			f.Condition = Conjoin(disc, f.Condition)
			f.Request = guardSteps(f.Request, disc)
			f.Response = guardSteps(f.Response, disc)
			out.Flows = append(out.Flows, f)
		}

		if r, ok := rels.Get(name); ok {
			out.Policies = relations.Union(out.Policies, r.Policies)
			out.TargetEndpoints = relations.Union(out.TargetEndpoints, r.TargetEndpoints)
		}
	}
	log.Debug("merged proxy endpoints",
		zap.String("proxy", desc.Name), zap.String("merged", out.Name),
		zap.String("base_path", out.BasePath), zap.Int("sources", len(sub.Endpoints)))
	return out
}

// appendNewSteps appends the steps of src not already in dst.
func appendNewSteps(dst, src []bundle.Step) []bundle.Step {
	seen := make(map[bundle.Step]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if !seen[s] {
			dst = append(dst, s)
		}
	}
	return dst
}

func guardSteps(steps []bundle.Step, disc string) []bundle.Step {
	if len(steps) == 0 {
		return nil
	}
	out := make([]bundle.Step, len(steps))
	for i, s := range steps {
		s.Condition = Conjoin(disc, s.Condition)
		out[i] = s
	}
	return out
}

// Bundle is one output proxy: the merged endpoints of a batch and the
// deduplicated artifacts they reference.
type Bundle struct {
	Name            string     `json:"name"`
	Index           int        `json:"index"`
	ProxyEndpoints  []string   `json:"proxy_endpoints"`
	Policies        []string   `json:"policies"`
	TargetEndpoints []string   `json:"target_endpoints"`
	Endpoints       []Endpoint `json:"-"`
}

// BundleName names the index-th output bundle of a proxy.
func BundleName(proxyName string, index int) string {
	return fmt.Sprintf("%s_%d", proxyName, index)
}

// MergeBatch merges every subgroup of batch into the index-th bundle of desc.
// The bundle's policy and target lists only name artifacts desc lists; dangling
// references stay on the merged endpoints and are logged.
func MergeBatch(desc *bundle.Descriptor, rels relations.Set, index int, batch grouping.Batch, log *zap.Logger) Bundle {
	if log == nil {
		log = zap.NewNop()
	}
	b := Bundle{
		Name:            BundleName(desc.Name, index),
		Index:           index,
		ProxyEndpoints:  []string{},
		Policies:        []string{},
		TargetEndpoints: []string{},
	}
	for _, sub := range batch.Subgroups() {
		ep := Merge(desc, rels, sub, log)
		b.Endpoints = append(b.Endpoints, ep)
		b.ProxyEndpoints = append(b.ProxyEndpoints, ep.Name)
		b.Policies = relations.Union(b.Policies, ep.Policies)
		b.TargetEndpoints = relations.Union(b.TargetEndpoints, ep.TargetEndpoints)
	}
	b.Policies = listed(b.Policies, desc.PolicyNames, "policy", b.Name, log)
	b.TargetEndpoints = listed(b.TargetEndpoints, desc.TargetEndpointNames, "target endpoint", b.Name, log)
	return b
}

func listed(names, known []string, kind, bundleName string, log *zap.Logger) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if slices.Contains(known, n) {
			out = append(out, n)
			continue
		}
		log.Warn("referenced "+kind+" is not listed by the source bundle",
			zap.String("bundle", bundleName), zap.String("name", n))
	}
	return out
}
