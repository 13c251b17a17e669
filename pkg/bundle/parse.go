package bundle

import (
	"strings"

	"github.com/beevik/etree"

	"github.com/r9s-ai/proxy-unifier/pkg/xmltree"
)

const (
	tagProxyEndpoint  = "ProxyEndpoint"
	tagTargetEndpoint = "TargetEndpoint"
)

// ParseProxyEndpoint converts a ProxyEndpoint element into its typed form.
// Shape problems are reported as issues; the returned endpoint is always usable.
func ParseProxyEndpoint(file, name string, root *etree.Element) (ProxyEndpoint, []Issue) {
	pe := ProxyEndpoint{Name: name}
	if root == nil || root.Tag != tagProxyEndpoint {
		pe.Malformed = true
		return pe, []Issue{issuef(file, tagProxyEndpoint, "root element is %s, expected %s", tagOf(root), tagProxyEndpoint)}
	}
	var issues []Issue
	if n := xmltree.Attr(root, "name"); n != "" {
		pe.Name = n
	}
	pe.Description = xmltree.ChildText(root, "Description")
	pe.FlowSet, issues = parseFlowSet(file, root)
	if pcf := xmltree.Child(root, "PostClientFlow"); pcf != nil {
		f, fi := parseFlow(file, "PostClientFlow", pcf)
		pe.PostClientFlow = &f
		issues = append(issues, fi...)
	}

	conn := xmltree.Child(root, "HTTPProxyConnection")
	if conn == nil {
		issues = append(issues, issuef(file, "HTTPProxyConnection", "missing; endpoint has no base path"))
	}
	pe.BasePath = xmltree.ChildText(conn, "BasePath")
	pe.VirtualHosts = xmltree.ChildTexts(conn, "VirtualHost")
	pe.Properties = xmltree.CopyOf(xmltree.Child(conn, "Properties"))

	for _, rr := range xmltree.Children(root, "RouteRule") {
		pe.RouteRules = append(pe.RouteRules, RouteRule{
			Name:           xmltree.Attr(rr, "name"),
			Condition:      xmltree.ChildText(rr, "Condition"),
			TargetEndpoint: xmltree.ChildText(rr, "TargetEndpoint"),
			URL:            xmltree.ChildText(rr, "URL"),
		})
	}
	return pe, issues
}

// ParseTargetEndpoint converts a TargetEndpoint element into its typed form.
func ParseTargetEndpoint(file, name string, root *etree.Element) (TargetEndpoint, []Issue) {
	te := TargetEndpoint{Name: name}
	if root == nil || root.Tag != tagTargetEndpoint {
		te.Malformed = true
		return te, []Issue{issuef(file, tagTargetEndpoint, "root element is %s, expected %s", tagOf(root), tagTargetEndpoint)}
	}
	if n := xmltree.Attr(root, "name"); n != "" {
		te.Name = n
	}
	var issues []Issue
	te.FlowSet, issues = parseFlowSet(file, root)
	return te, issues
}

// ParsePolicy records the policy's type (its root tag) and enabled flag.
func ParsePolicy(name string, root *etree.Element) Policy {
	p := Policy{Name: name, Enabled: true, Source: root}
	if root == nil {
		return p
	}
	p.Type = root.Tag
	if n := xmltree.Attr(root, "name"); n != "" {
		p.Name = n
	}
	if strings.EqualFold(xmltree.Attr(root, "enabled"), "false") {
		p.Enabled = false
	}
	return p
}

func parseFlowSet(file string, root *etree.Element) (FlowSet, []Issue) {
	var fs FlowSet
	var issues []Issue
	if el := xmltree.Child(root, "PreFlow"); el != nil {
		f, fi := parseFlow(file, "PreFlow", el)
		fs.PreFlow = &f
		issues = append(issues, fi...)
	}
	if el := xmltree.Child(root, "PostFlow"); el != nil {
		f, fi := parseFlow(file, "PostFlow", el)
		fs.PostFlow = &f
		issues = append(issues, fi...)
	}
	// Some exports repeat the Flows wrapper; only the first one is meaningful.
	for _, el := range xmltree.Children(xmltree.Child(root, "Flows"), "Flow") {
		f, fi := parseFlow(file, "Flow", el)
		fs.Flows = append(fs.Flows, f)
		issues = append(issues, fi...)
	}
	for _, el := range xmltree.Children(xmltree.Child(root, "FaultRules"), "FaultRule") {
		r, ri := parseFaultRule(file, "FaultRule", el)
		fs.FaultRules = append(fs.FaultRules, r)
		issues = append(issues, ri...)
	}
	if el := xmltree.Child(root, "DefaultFaultRule"); el != nil {
		r, ri := parseFaultRule(file, "DefaultFaultRule", el)
		fs.DefaultFaultRule = &r
		issues = append(issues, ri...)
	}
	return fs, issues
}

func parseFlow(file, kind string, el *etree.Element) (Flow, []Issue) {
	f := Flow{
		Name:        xmltree.Attr(el, "name"),
		Description: xmltree.ChildText(el, "Description"),
		Condition:   xmltree.ChildText(el, "Condition"),
	}
	if f.Name == "" && kind != "Flow" {
		f.Name = kind
	}
	where := kind
	if f.Name != "" && f.Name != kind {
		where = kind + "[" + f.Name + "]"
	}
	var issues, si []Issue
	f.Request, si = parseSteps(file, where+"/Request", xmltree.Child(el, "Request"))
	issues = append(issues, si...)
	f.Response, si = parseSteps(file, where+"/Response", xmltree.Child(el, "Response"))
	issues = append(issues, si...)
	return f, issues
}

func parseFaultRule(file, kind string, el *etree.Element) (FaultRule, []Issue) {
	r := FaultRule{
		Name:          xmltree.Attr(el, "name"),
		Condition:     xmltree.ChildText(el, "Condition"),
		AlwaysEnforce: xmltree.ChildText(el, "AlwaysEnforce"),
	}
	where := kind
	if r.Name != "" {
		where = kind + "[" + r.Name + "]"
	}
	steps, issues := parseSteps(file, where, el)
	r.Steps = steps
	return r, issues
}

func parseSteps(file, where string, parent *etree.Element) ([]Step, []Issue) {
	var out []Step
	var issues []Issue
	for _, el := range xmltree.Children(parent, "Step") {
		name := xmltree.ChildText(el, "Name")
		if name == "" {
			issues = append(issues, issuef(file, where, "step without a policy name skipped"))
			continue
		}
		out = append(out, Step{Name: name, Condition: xmltree.ChildText(el, "Condition")})
	}
	return out, issues
}

func tagOf(el *etree.Element) string {
	if el == nil {
		return "<none>"
	}
	return el.Tag
}
