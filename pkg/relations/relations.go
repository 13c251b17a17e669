// Package relations computes, per proxy endpoint, the policies it invokes and the
// target endpoints it routes to.
package relations

import (
	"go.uber.org/zap"

	"github.com/r9s-ai/proxy-unifier/pkg/bundle"
)

// Relationship is what one proxy endpoint drags along when it moves into a new bundle.
// Policies include those reached through its target endpoints.
type Relationship struct {
	Name            string   `json:"name"`
	BasePath        string   `json:"base_path,omitempty"`
	Policies        []string `json:"policies"`
	TargetEndpoints []string `json:"target_endpoints"`
	// Malformed endpoints have nothing to merge and are left out of grouping.
	Malformed bool `json:"malformed,omitempty"`
}

// Set holds relationships in descriptor order.
type Set []Relationship

// Get returns the relationship for the named endpoint.
func (s Set) Get(name string) (Relationship, bool) {
	for _, r := range s {
		if r.Name == name {
			return r, true
		}
	}
	return Relationship{}, false
}

// Extract walks every proxy endpoint of desc, PostClientFlow included. A
// malformed endpoint yields a relationship with only its name, and a route to
// an unknown target contributes the target name but no policies.
func Extract(desc *bundle.Descriptor, log *zap.Logger) Set {
	if log == nil {
		log = zap.NewNop()
	}
	out := make(Set, 0, len(desc.ProxyEndpointNames))
	for _, pe := range desc.Endpoints() {
		if pe.Malformed {
			log.Warn("malformed proxy endpoint contributes no relationships",
				zap.String("proxy", desc.Name), zap.String("endpoint", pe.Name))
			out = append(out, Relationship{Name: pe.Name, Policies: []string{}, TargetEndpoints: []string{}, Malformed: true})
			continue
		}
		targets := newOrderedSet()
		for _, rr := range pe.RouteRules {
			if rr.TargetEndpoint != "" {
				targets.add(rr.TargetEndpoint)
			}
		}
		policies := newOrderedSet()
		policies.add(FlowSetPolicies(pe.FlowSet)...)
		policies.add(pe.PostClientFlow.StepNames()...)
		for _, name := range targets.items {
			te, ok := desc.TargetEndpoints[name]
			if !ok {
				log.Warn("route rule references unknown target endpoint",
					zap.String("proxy", desc.Name), zap.String("endpoint", pe.Name), zap.String("target", name))
				continue
			}
			policies.add(FlowSetPolicies(te.FlowSet)...)
		}
		out = append(out, Relationship{
			Name:            pe.Name,
			BasePath:        pe.BasePath,
			Policies:        policies.items,
			TargetEndpoints: targets.items,
		})
	}
	log.Debug("extracted endpoint relationships", zap.String("proxy", desc.Name), zap.Int("endpoints", len(out)))
	return out
}

// FlowSetPolicies lists the step names of a flow set: PreFlow, PostFlow, each
// conditional Flow, then the fault rules. Duplicates are kept.
func FlowSetPolicies(fs bundle.FlowSet) []string {
	var out []string
	out = append(out, fs.PreFlow.StepNames()...)
	out = append(out, fs.PostFlow.StepNames()...)
	for i := range fs.Flows {
		out = append(out, fs.Flows[i].StepNames()...)
	}
	for i := range fs.FaultRules {
		out = append(out, fs.FaultRules[i].StepNames()...)
	}
	out = append(out, fs.DefaultFaultRule.StepNames()...)
	return out
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: map[string]struct{}{}, items: []string{}}
}

func (s *orderedSet) add(values ...string) {
	for _, v := range values {
		if _, ok := s.seen[v]; ok {
			continue
		}
		s.seen[v] = struct{}{}
		s.items = append(s.items, v)
	}
}

// Union returns the distinct values of lists in first-seen order.
func Union(lists ...[]string) []string {
	s := newOrderedSet()
	for _, l := range lists {
		s.add(l...)
	}
	return s.items
}
