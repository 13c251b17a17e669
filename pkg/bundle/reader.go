package bundle

import (
	"path/filepath"

	"go.uber.org/zap"

	"github.com/r9s-ai/proxy-unifier/pkg/xmltree"
)

// Descriptor is everything the pipeline knows about one source proxy.
// Name lists keep manifest order; maps are keyed by those names.
type Descriptor struct {
	Name      string   `json:"name"`
	Dir       string   `json:"dir"`
	BasePaths []string `json:"base_paths,omitempty"`

	PolicyNames         []string `json:"policy_names"`
	ProxyEndpointNames  []string `json:"proxy_endpoint_names"`
	TargetEndpointNames []string `json:"target_endpoint_names"`

	Policies        map[string]Policy         `json:"policies"`
	ProxyEndpoints  map[string]ProxyEndpoint  `json:"proxy_endpoints"`
	TargetEndpoints map[string]TargetEndpoint `json:"target_endpoints"`

	Manifest *Manifest `json:"-"`
	Issues   []Issue   `json:"issues,omitempty"`
}

// NewDescriptor returns an empty descriptor rooted at dir.
func NewDescriptor(dir string) *Descriptor {
	return &Descriptor{
		Dir:             dir,
		Policies:        map[string]Policy{},
		ProxyEndpoints:  map[string]ProxyEndpoint{},
		TargetEndpoints: map[string]TargetEndpoint{},
	}
}

// Empty reports whether the descriptor has no proxy endpoints to work on.
func (d *Descriptor) Empty() bool {
	return d == nil || len(d.ProxyEndpointNames) == 0
}

// Endpoints returns the proxy endpoints in manifest order.
func (d *Descriptor) Endpoints() []ProxyEndpoint {
	if d == nil {
		return nil
	}
	out := make([]ProxyEndpoint, 0, len(d.ProxyEndpointNames))
	for _, name := range d.ProxyEndpointNames {
		if pe, ok := d.ProxyEndpoints[name]; ok {
			out = append(out, pe)
		}
	}
	return out
}

// Read loads the apiproxy tree at dir into a Descriptor.
//
// Read never fails: a missing or malformed manifest is logged and produces an
// empty descriptor, and unreadable artifact files become Malformed entries plus
// an Issue, so downstream stages simply have less to do.
func Read(dir string, log *zap.Logger) *Descriptor {
	if log == nil {
		log = zap.NewNop()
	}
	desc := NewDescriptor(dir)
	m, err := ReadManifest(dir)
	if err != nil {
		log.Error("read proxy manifest failed", zap.String("dir", dir), zap.Error(err))
		return desc
	}
	for _, l := range []Listing{ListingProxyEndpoints, ListingTargetEndpoints, ListingPolicies} {
		if m.Sources[l.Wrapper] == FromFilesystem {
			log.Info("proceeding with filesystem parse", zap.String("listing", l.Wrapper), zap.String("dir", filepath.Join(dir, l.Dir)))
		} else {
			log.Debug("skipping filesystem parse", zap.String("listing", l.Wrapper))
		}
	}

	desc.Name = m.Name
	desc.BasePaths = m.BasePaths
	desc.Manifest = m
	desc.PolicyNames = m.Policies
	desc.ProxyEndpointNames = m.ProxyEndpoints
	desc.TargetEndpointNames = m.TargetEndpoints

	for _, name := range m.ProxyEndpoints {
		file := filepath.Join(dir, DirProxies, name+".xml")
		root, err := xmltree.LoadRoot(file)
		if err != nil {
			desc.Issues = append(desc.Issues, issuef(file, tagProxyEndpoint, "%v", err))
			desc.ProxyEndpoints[name] = ProxyEndpoint{Name: name, Malformed: true}
			continue
		}
		pe, issues := ParseProxyEndpoint(file, name, root)
		// The manifest name is authoritative for file lookups downstream.
		pe.Name = name
		desc.ProxyEndpoints[name] = pe
		desc.Issues = append(desc.Issues, issues...)
	}
	for _, name := range m.TargetEndpoints {
		file := filepath.Join(dir, DirTargets, name+".xml")
		root, err := xmltree.LoadRoot(file)
		if err != nil {
			desc.Issues = append(desc.Issues, issuef(file, tagTargetEndpoint, "%v", err))
			desc.TargetEndpoints[name] = TargetEndpoint{Name: name, Malformed: true}
			continue
		}
		te, issues := ParseTargetEndpoint(file, name, root)
		te.Name = name
		desc.TargetEndpoints[name] = te
		desc.Issues = append(desc.Issues, issues...)
	}
	for _, name := range m.Policies {
		file := filepath.Join(dir, DirPolicies, name+".xml")
		root, err := xmltree.LoadRoot(file)
		if err != nil {
			desc.Issues = append(desc.Issues, issuef(file, "Policy", "%v", err))
			continue
		}
		p := ParsePolicy(name, root)
		p.Name = name
		desc.Policies[name] = p
	}

	for _, is := range desc.Issues {
		log.Warn("bundle issue", zap.String("proxy", desc.Name), zap.String("issue", is.String()))
	}
	log.Info("read proxy artifacts",
		zap.String("proxy", desc.Name),
		zap.Int("proxy_endpoints", len(desc.ProxyEndpointNames)),
		zap.Int("target_endpoints", len(desc.TargetEndpointNames)),
		zap.Int("policies", len(desc.PolicyNames)),
	)
	return desc
}
