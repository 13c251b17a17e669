package bundle

import (
	"github.com/beevik/etree"
)

// Step is one policy invocation inside a flow.
type Step struct {
	Name      string `json:"name"`
	Condition string `json:"condition,omitempty"`
}

// Flow is a named, optionally conditional pair of request/response step lists.
// PreFlow, PostFlow, PostClientFlow and conditional flows share this shape.
type Flow struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Condition   string `json:"condition,omitempty"`
	Request     []Step `json:"request,omitempty"`
	Response    []Step `json:"response,omitempty"`
}

// StepNames returns the policy names invoked by the flow, request side first.
func (f *Flow) StepNames() []string {
	if f == nil {
		return nil
	}
	out := make([]string, 0, len(f.Request)+len(f.Response))
	for _, s := range f.Request {
		out = append(out, s.Name)
	}
	for _, s := range f.Response {
		out = append(out, s.Name)
	}
	return out
}

// FaultRule holds a flat step list; fault rules have no request/response split.
type FaultRule struct {
	Name          string `json:"name,omitempty"`
	Condition     string `json:"condition,omitempty"`
	AlwaysEnforce string `json:"always_enforce,omitempty"`
	Steps         []Step `json:"steps,omitempty"`
}

// StepNames returns the policy names invoked by the fault rule.
func (r *FaultRule) StepNames() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		out = append(out, s.Name)
	}
	return out
}

// RouteRule forwards matching requests to a target endpoint or URL.
type RouteRule struct {
	Name           string `json:"name,omitempty"`
	Condition      string `json:"condition,omitempty"`
	TargetEndpoint string `json:"target_endpoint,omitempty"`
	URL            string `json:"url,omitempty"`
}

// FlowSet is the flow-bearing part shared by proxy and target endpoints.
// A nil PreFlow/PostFlow/DefaultFaultRule means the element was absent.
type FlowSet struct {
	PreFlow          *Flow       `json:"pre_flow,omitempty"`
	PostFlow         *Flow       `json:"post_flow,omitempty"`
	Flows            []Flow      `json:"flows,omitempty"`
	FaultRules       []FaultRule `json:"fault_rules,omitempty"`
	DefaultFaultRule *FaultRule  `json:"default_fault_rule,omitempty"`
}

// ProxyEndpoint is the typed form of a proxies/<name>.xml file.
type ProxyEndpoint struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	FlowSet
	PostClientFlow *Flow       `json:"post_client_flow,omitempty"`
	BasePath       string      `json:"base_path,omitempty"`
	VirtualHosts   []string    `json:"virtual_hosts,omitempty"`
	RouteRules     []RouteRule `json:"route_rules,omitempty"`

	// Properties is the raw HTTPProxyConnection/Properties subtree, carried verbatim.
	Properties *etree.Element `json:"-"`
	// Malformed is set when the file could not be read as a ProxyEndpoint;
	// such an endpoint contributes nothing but its name downstream.
	Malformed bool `json:"malformed,omitempty"`
}

// TargetEndpoint is the typed form of a targets/<name>.xml file.
type TargetEndpoint struct {
	Name string `json:"name"`
	FlowSet
	Malformed bool `json:"malformed,omitempty"`
}

// Policy is a parsed policies/<name>.xml file.
type Policy struct {
	Name    string         `json:"name"`
	Type    string         `json:"type"`
	Enabled bool           `json:"enabled"`
	Source  *etree.Element `json:"-"`
}
