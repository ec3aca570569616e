package engine

import (
	"math/rand"
	"strings"
	"testing"
)

func defOf(ids string, edges ...string) Definition {
	var nodes []NodeSpec
	for _, id := range strings.Split(ids, ",") {
		nodes = append(nodes, NodeSpec{ID: id, ComponentID: "x"})
	}
	var conns []Connection
	for _, e := range edges {
		parts := strings.Split(e, ">")
		conns = append(conns, Connection{FromNode: parts[0], ToNode: parts[1]})
	}
	return NewDefinition(nodes, conns)
}

func TestOrderTieBreakFollowsDeclaration(t *testing.T) {
	cases := []struct {
		def  Definition
		want string
	}{
		{defOf("c,b,a"), "c,b,a"},
		{defOf("a,b,c", "c>a"), "b,c,a"},
		{defOf("d,c,b,a", "a>b", "a>c"), "d,a,c,b"},
		{defOf("a,b,c,d", "a>d", "b>d", "c>d", "a>b"), "a,b,c,d"},
	}
	for _, tc := range cases {
		got, err := Order(tc.def)
		if err != nil {
			t.Fatalf("order %s: %v", nodeIDs(tc.def), err)
		}
		if strings.Join(got, ",") != tc.want {
			t.Fatalf("order %s: got %v, want %s", nodeIDs(tc.def), got, tc.want)
		}
	}
}

func TestOrderDetectsCycles(t *testing.T) {
	cases := []struct {
		def  Definition
		want string
	}{
		{defOf("a", "a>a"), "a -> a"},
		{defOf("a,b", "a>b", "b>a"), "a -> b -> a"},
		{defOf("x,a,b,c,y", "x>a", "a>b", "b>c", "c>a", "c>y"), "a -> b -> c -> a"},
	}
	for _, tc := range cases {
		_, err := Order(tc.def)
		if err == nil {
			t.Fatalf("expected cycle error for %v", tc.def.Connections)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("expected %q in %q", tc.want, err.Error())
		}
	}
}

// Random DAGs: edges only go from lower to higher index, so every graph is acyclic.
func TestOrderRespectsEveryEdge(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		n := 2 + rng.Intn(10)
		ids := make([]string, n)
		for i := range ids {
			ids[i] = string(rune('a' + i))
		}
		perm := rng.Perm(n)
		declared := make([]string, n)
		for i, p := range perm {
			declared[i] = ids[p]
		}
		var edges []string
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if rng.Intn(3) == 0 {
					edges = append(edges, ids[i]+">"+ids[j])
				}
			}
		}
		def := defOf(strings.Join(declared, ","), edges...)
		order, err := Order(def)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		pos := make(map[string]int, n)
		for i, id := range order {
			pos[id] = i
		}
		if len(pos) != n {
			t.Fatalf("order %v does not cover %d nodes", order, n)
		}
		for _, c := range def.Connections {
			if pos[c.FromNode] >= pos[c.ToNode] {
				t.Fatalf("edge %s violated by order %v", c, order)
			}
		}
	}
}
