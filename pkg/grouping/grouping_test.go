package grouping

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r9s-ai/proxy-unifier/pkg/relations"
)

func rel(name, basePath string) relations.Relationship {
	return relations.Relationship{Name: name, BasePath: basePath}
}

func TestKeyOf(t *testing.T) {
	cases := map[string]string{
		"":               NullKey,
		"/":              NullKey,
		"//":             NullKey,
		"/v1/orders":     "v1",
		"v1":             "v1",
		"//orders//x/":   "orders",
		"/users/{id}/xs": "users",
	}
	for in, want := range cases {
		if got := KeyOf(in); got != want {
			t.Fatalf("KeyOf(%q)=%q want=%q", in, got, want)
		}
	}
}

func TestGroupByPath_SharedFirstSegment(t *testing.T) {
	groups := GroupByPath(relations.Set{
		rel("PE1", "/v1/orders"),
		rel("root", ""),
		rel("PE2", "/v1/users"),
		rel("health", "/health"),
	})
	require.Equal(t, []string{"v1", NullKey, "health"}, groups.Keys())
	assert.Equal(t, []Member{{Endpoint: "PE1", Key: "v1"}, {Endpoint: "PE2", Key: "v1"}}, groups[0].Members)
	assert.Equal(t, []Member{{Endpoint: "root", Key: NullKey}}, groups[1].Members)
}

func TestGroupByPath_SkipsMalformed(t *testing.T) {
	bad := relations.Relationship{Name: "BAD", Malformed: true}
	groups := GroupByPath(relations.Set{rel("root", ""), bad, rel("PE1", "/v1/orders")})
	require.Equal(t, []string{NullKey, "v1"}, groups.Keys())
	assert.Equal(t, []Member{{Endpoint: "root", Key: NullKey}}, groups[0].Members)

	assert.Empty(t, GroupByPath(relations.Set{bad}))
}

func TestPartition_SingleBatchWhenKeysFit(t *testing.T) {
	groups := GroupByPath(relations.Set{rel("PE1", "/v1/orders"), rel("PE2", "/v1/users")})
	batches, err := Partition(groups, 1)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, Batch{{Endpoint: "PE1", Key: "v1"}, {Endpoint: "PE2", Key: "v1"}}, batches[0])
	assert.Equal(t, []Subgroup{{Key: "v1", Endpoints: []string{"PE1", "PE2"}}}, batches[0].Subgroups())
}

func TestPartition_WindowsOverKeys(t *testing.T) {
	groups := GroupByPath(relations.Set{
		rel("a1", "/a"), rel("b1", "/b/1"), rel("a2", "/a/2"), rel("c1", "/c"),
	})
	batches, err := Partition(groups, 2)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, []Subgroup{
		{Key: "a", Endpoints: []string{"a1", "a2"}},
		{Key: "b", Endpoints: []string{"b1"}},
	}, batches[0].Subgroups())
	assert.Equal(t, []Subgroup{{Key: "c", Endpoints: []string{"c1"}}}, batches[1].Subgroups())
}

func TestPartition_OversizedGroupStaysWhole(t *testing.T) {
	var rels relations.Set
	for i := 0; i < 10; i++ {
		rels = append(rels, rel(fmt.Sprintf("pe%d", i), "/big"))
	}
	rels = append(rels, rel("other", "/other"))
	batches, err := Partition(GroupByPath(rels), 1)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 1)
}

func TestPartition_EmptyInputHasNoBatches(t *testing.T) {
	batches, err := Partition(nil, 3)
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestPartition_InvalidCapacity(t *testing.T) {
	for _, c := range []int{0, -1} {
		_, err := Partition(GroupByPath(relations.Set{rel("a", "/a")}), c)
		if !errors.Is(err, ErrInvalidCapacity) {
			t.Fatalf("capacity=%d err=%v", c, err)
		}
	}
	require.NoError(t, ValidateCapacity(20, 20))
	require.ErrorIs(t, ValidateCapacity(21, 20), ErrInvalidCapacity)
	require.NoError(t, ValidateCapacity(500, 0))
}

// Every endpoint lands in exactly one batch and no batch spans more than capacity keys.
func TestPartition_CoversEveryEndpointOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		n := rng.Intn(30)
		keys := 1 + rng.Intn(8)
		capacity := 1 + rng.Intn(5)
		var rels relations.Set
		for i := 0; i < n; i++ {
			bp := fmt.Sprintf("/k%d/x", rng.Intn(keys))
			if rng.Intn(6) == 0 {
				bp = ""
			}
			rels = append(rels, rel(fmt.Sprintf("pe%d", i), bp))
		}
		batches, err := Partition(GroupByPath(rels), capacity)
		require.NoError(t, err)

		seen := map[string]int{}
		for _, b := range batches {
			assert.LessOrEqual(t, len(b.Subgroups()), capacity)
			for _, m := range b {
				seen[m.Endpoint]++
			}
		}
		require.Len(t, seen, n, "round %d", round)
		for name, count := range seen {
			require.Equal(t, 1, count, "round %d endpoint %s", round, name)
		}
	}
}
