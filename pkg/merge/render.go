package merge

import (
	"github.com/beevik/etree"

	"github.com/r9s-ai/proxy-unifier/pkg/bundle"
	"github.com/r9s-ai/proxy-unifier/pkg/xmltree"
)

// Render serializes the endpoint back into a ProxyEndpoint element.
func (e Endpoint) Render() *etree.Element {
	root := etree.NewElement("ProxyEndpoint")
	root.CreateAttr("name", e.Name)
	xmltree.AddText(root, "Description", e.Description)

	frs := root.CreateElement("FaultRules")
	for _, fr := range e.FaultRules {
		renderFaultRule(frs, "FaultRule", fr)
	}
	if e.DefaultFaultRule != nil {
		renderFaultRule(root, "DefaultFaultRule", *e.DefaultFaultRule)
	}

	renderFlow(root, "PreFlow", e.PreFlow)
	renderFlow(root, "PostFlow", e.PostFlow)
	flows := root.CreateElement("Flows")
	for _, f := range e.Flows {
		renderFlow(flows, "Flow", f)
	}
	if e.PostClientFlow != nil {
		renderFlow(root, "PostClientFlow", *e.PostClientFlow)
	}

	conn := root.CreateElement("HTTPProxyConnection")
	if e.BasePath != "" {
		xmltree.AddText(conn, "BasePath", e.BasePath)
	}
	if e.Properties != nil {
		conn.AddChild(e.Properties.Copy())
	} else {
		conn.CreateElement("Properties")
	}
	for _, vh := range e.VirtualHosts {
		xmltree.AddText(conn, "VirtualHost", vh)
	}

	for _, rr := range e.RouteRules {
		el := root.CreateElement("RouteRule")
		if rr.Name != "" {
			el.CreateAttr("name", rr.Name)
		}
		if rr.Condition != "" {
			xmltree.AddText(el, "Condition", rr.Condition)
		}
		if rr.TargetEndpoint != "" {
			xmltree.AddText(el, "TargetEndpoint", rr.TargetEndpoint)
		}
		if rr.URL != "" {
			xmltree.AddText(el, "URL", rr.URL)
		}
	}
	return root
}

func renderFlow(parent *etree.Element, tag string, f bundle.Flow) {
	el := parent.CreateElement(tag)
	if f.Name != "" {
		el.CreateAttr("name", f.Name)
	}
	if f.Description != "" {
		xmltree.AddText(el, "Description", f.Description)
	}
	renderSteps(el.CreateElement("Request"), f.Request)
	renderSteps(el.CreateElement("Response"), f.Response)
	if f.Condition != "" {
		xmltree.AddText(el, "Condition", f.Condition)
	}
}

func renderFaultRule(parent *etree.Element, tag string, fr bundle.FaultRule) {
	el := parent.CreateElement(tag)
	if fr.Name != "" {
		el.CreateAttr("name", fr.Name)
	}
	renderSteps(el, fr.Steps)
	if fr.AlwaysEnforce != "" {
		xmltree.AddText(el, "AlwaysEnforce", fr.AlwaysEnforce)
	}
	if fr.Condition != "" {
		xmltree.AddText(el, "Condition", fr.Condition)
	}
}

func renderSteps(parent *etree.Element, steps []bundle.Step) {
	for _, s := range steps {
		el := parent.CreateElement("Step")
		if s.Condition != "" {
			xmltree.AddText(el, "Condition", s.Condition)
		}
		xmltree.AddText(el, "Name", s.Name)
	}
}
