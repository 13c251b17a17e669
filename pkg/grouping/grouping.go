// Package grouping buckets proxy endpoints by the first segment of their base path
// and packs the buckets into capacity-bounded batches.
package grouping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/r9s-ai/proxy-unifier/pkg/relations"
)

// NullKey collects endpoints whose base path is absent or "/".
const NullKey = "_null_"

// ErrInvalidCapacity is returned for a capacity outside (0, max].
var ErrInvalidCapacity = errors.New("invalid proxy endpoint capacity")

// Member is one endpoint placed under a grouping key.
type Member struct {
	Endpoint string `json:"endpoint"`
	Key      string `json:"key"`
}

// Group is the endpoints sharing one key, in relationship order.
type Group struct {
	Key     string   `json:"key"`
	Members []Member `json:"members"`
}

// Groups keeps groups in the order their keys were first encountered.
type Groups []Group

// Keys returns the group keys in order.
func (gs Groups) Keys() []string {
	out := make([]string, 0, len(gs))
	for _, g := range gs {
		out = append(out, g.Key)
	}
	return out
}

// KeyOf returns the grouping key for a base path.
func KeyOf(basePath string) string {
	for _, seg := range strings.Split(basePath, "/") {
		if seg != "" {
			return seg
		}
	}
	return NullKey
}

// GroupByPath assigns every relationship to exactly one group. Malformed
// endpoints are left out.
func GroupByPath(rels relations.Set) Groups {
	var out Groups
	index := map[string]int{}
	for _, r := range rels {
		if r.Malformed {
			continue
		}
		key := KeyOf(r.BasePath)
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, Group{Key: key})
		}
		out[i].Members = append(out[i].Members, Member{Endpoint: r.Name, Key: key})
	}
	return out
}

// Batch is the endpoints of one output bundle. It spans at most capacity keys.
type Batch []Member

// Subgroup is the endpoints of a batch sharing one key; each becomes one merged endpoint.
type Subgroup struct {
	Key       string   `json:"key"`
	Endpoints []string `json:"endpoints"`
}

// Subgroups splits the batch by key, keeping first-seen order.
func (b Batch) Subgroups() []Subgroup {
	var out []Subgroup
	index := map[string]int{}
	for _, m := range b {
		i, ok := index[m.Key]
		if !ok {
			i = len(out)
			index[m.Key] = i
			out = append(out, Subgroup{Key: m.Key})
		}
		out[i].Endpoints = append(out[i].Endpoints, m.Endpoint)
	}
	return out
}

// ValidateCapacity checks 0 < capacity <= limit. A limit of zero or less disables the upper bound.
func ValidateCapacity(capacity, limit int) error {
	if capacity <= 0 {
		return fmt.Errorf("%w: %d must be greater than zero", ErrInvalidCapacity, capacity)
	}
	if limit > 0 && capacity > limit {
		return fmt.Errorf("%w: %d exceeds the limit of %d", ErrInvalidCapacity, capacity, limit)
	}
	return nil
}

// Partition packs groups into batches of at most capacity keys each. A group is
// never split across batches, however many endpoints it holds.
func Partition(groups Groups, capacity int) ([]Batch, error) {
	if err := ValidateCapacity(capacity, 0); err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return []Batch{}, nil
	}
	if len(groups) <= capacity {
		return []Batch{flatten(groups)}, nil
	}
	out := make([]Batch, 0, (len(groups)+capacity-1)/capacity)
	for i := 0; i < len(groups); i += capacity {
		end := min(i+capacity, len(groups))
		out = append(out, flatten(groups[i:end]))
	}
	return out, nil
}

func flatten(groups Groups) Batch {
	var b Batch
	for _, g := range groups {
		b = append(b, g.Members...)
	}
	return b
}
