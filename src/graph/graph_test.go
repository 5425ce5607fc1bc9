package graph

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sofmeright/treebuild/src/image"
)

// node builds a minimal image node; parent "" means root.
func node(t *testing.T, name, parent string) image.Node {
	t.Helper()
	ref, err := image.ParseRef(name)
	if err != nil {
		t.Fatalf("ParseRef(%q): %v", name, err)
	}
	n := image.Node{ID: ref.String(), Ref: ref, Context: name}
	if parent != "" {
		n.Parent = image.NormalizeID(parent)
	}
	return n
}

func mustBuild(t *testing.T, nodes ...image.Node) *Graph {
	t.Helper()
	for i := range nodes {
		nodes[i].Index = i
	}
	g, err := Build(nodes)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func TestBuildTree(t *testing.T) {
	g := mustBuild(t,
		node(t, "a", ""),
		node(t, "b", "a"),
		node(t, "c", "a"),
		node(t, "d", "b"),
		node(t, "e", ""),
	)

	if diff := cmp.Diff([]string{"a:latest", "e:latest"}, g.Roots()); diff != "" {
		t.Errorf("Roots (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b:latest", "c:latest"}, g.Children("a:latest")); diff != "" {
		t.Errorf("Children (-want +got):\n%s", diff)
	}
	if got := g.Parent("d:latest"); got != "b:latest" {
		t.Errorf("Parent(d) = %q", got)
	}
	if diff := cmp.Diff([]string{"b:latest", "d:latest", "c:latest"}, g.Descendants("a:latest")); diff != "" {
		t.Errorf("Descendants (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b:latest", "a:latest"}, g.Ancestors("d:latest")); diff != "" {
		t.Errorf("Ancestors (-want +got):\n%s", diff)
	}
	if g.Depth("d:latest") != 2 {
		t.Errorf("Depth(d) = %d", g.Depth("d:latest"))
	}

	order := g.TopoOrder()
	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	for _, id := range order {
		if p := g.Parent(id); p != "" && pos[p] > pos[id] {
			t.Errorf("TopoOrder puts %s before its parent %s: %v", id, p, order)
		}
	}
	if len(order) != g.Len() {
		t.Errorf("TopoOrder has %d nodes, want %d", len(order), g.Len())
	}
}

func TestBuildChildBeforeParent(t *testing.T) {
	g := mustBuild(t,
		node(t, "app", "base"),
		node(t, "base", ""),
	)
	if diff := cmp.Diff([]string{"base:latest"}, g.Roots()); diff != "" {
		t.Errorf("Roots (-want +got):\n%s", diff)
	}
}

func TestBuildCycle(t *testing.T) {
	nodes := []image.Node{
		node(t, "x", "y"),
		node(t, "y", "x"),
	}
	_, err := Build(nodes)

	var cycle *CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("Build error = %v, want *CycleError", err)
	}
	if diff := cmp.Diff([]string{"x:latest", "y:latest", "x:latest"}, cycle.Cycle); diff != "" {
		t.Errorf("Cycle (-want +got):\n%s", diff)
	}
	var ge GraphError
	if !errors.As(err, &ge) {
		t.Errorf("CycleError does not satisfy GraphError")
	}
	for _, id := range []string{"x:latest", "y:latest"} {
		if !strings.Contains(err.Error(), id) {
			t.Errorf("error %q does not mention %s", err, id)
		}
	}
}

func TestBuildCycleBehindTail(t *testing.T) {
	// t -> a -> b -> c -> a: the tail is not part of the cycle.
	_, err := Build([]image.Node{
		node(t, "t", "a"),
		node(t, "a", "c"),
		node(t, "b", "a"),
		node(t, "c", "b"),
	})
	var cycle *CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("Build error = %v, want *CycleError", err)
	}
	if diff := cmp.Diff([]string{"a:latest", "c:latest", "b:latest", "a:latest"}, cycle.Cycle); diff != "" {
		t.Errorf("Cycle (-want +got):\n%s", diff)
	}
}

func TestBuildDangling(t *testing.T) {
	_, err := Build([]image.Node{
		node(t, "a", ""),
		node(t, "b", "z"),
	})

	var dangling *DanglingDependencyError
	if !errors.As(err, &dangling) {
		t.Fatalf("Build error = %v, want *DanglingDependencyError", err)
	}
	if dangling.ID != "b:latest" || dangling.Parent != "z:latest" {
		t.Errorf("DanglingDependencyError = %+v", dangling)
	}
	if !strings.Contains(err.Error(), "z:latest") {
		t.Errorf("error %q does not name the missing parent", err)
	}
}

func TestSelect(t *testing.T) {
	g := mustBuild(t,
		node(t, "org/base", ""),
		node(t, "org/app", "org/base"),
		node(t, "org/app-debug", "org/app"),
		node(t, "org/other", ""),
	)

	sub, err := g.Select([]string{"org/app"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	want := []string{"org/app:latest", "org/app-debug:latest"}
	var got []string
	for _, n := range sub.Nodes() {
		got = append(got, n.ID)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("selected (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"org/app:latest"}, sub.Roots()); diff != "" {
		t.Errorf("Roots (-want +got):\n%s", diff)
	}
	if sub.Parent("org/app:latest") != "" {
		t.Errorf("selected root still has an in-graph parent")
	}
	if n, _ := sub.Node("org/app:latest"); n.Parent != "org/base:latest" {
		t.Errorf("node lost its parent reference: %q", n.Parent)
	}

	if _, err := g.Select([]string{"nope"}); err == nil {
		t.Error("Select with no match should fail")
	}
	if _, err := g.Select([]string{"org/app", "!org/app"}); err == nil {
		t.Error("Select excluding every match should fail")
	}
	if same, _ := g.Select(nil); same != g {
		t.Error("Select(nil) should return the full graph")
	}
}

func TestSelectExclude(t *testing.T) {
	g := mustBuild(t,
		node(t, "org/base", ""),
		node(t, "org/app", "org/base"),
		node(t, "org/app-debug", "org/app"),
		node(t, "org/tool", "org/base"),
		node(t, "org/other", ""),
	)

	tests := []struct {
		name      string
		patterns  []string
		want      []string
		wantRoots []string
	}{
		{
			name:      "exclude only drops the subtree",
			patterns:  []string{"!org/app"},
			want:      []string{"org/base:latest", "org/tool:latest", "org/other:latest"},
			wantRoots: []string{"org/base:latest", "org/other:latest"},
		},
		{
			name:      "exclude a descendant of an include",
			patterns:  []string{"org/base", "!org/app-debug"},
			want:      []string{"org/base:latest", "org/app:latest", "org/tool:latest"},
			wantRoots: []string{"org/base:latest"},
		},
		{
			name:      "exclude by identifier regex",
			patterns:  []string{"org/base", "!org/(app|tool):latest"},
			want:      []string{"org/base:latest"},
			wantRoots: []string{"org/base:latest"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := g.Select(tt.patterns)
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			var got []string
			for _, n := range sub.Nodes() {
				got = append(got, n.ID)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("selected (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantRoots, sub.Roots()); diff != "" {
				t.Errorf("Roots (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExport(t *testing.T) {
	g := mustBuild(t,
		node(t, "a", ""),
		node(t, "b", "a"),
		node(t, "c", "a"),
	)

	var tree bytes.Buffer
	if err := g.Export(&tree, FormatTree); err != nil {
		t.Fatal(err)
	}
	wantTree := "a:latest\n├── b:latest\n└── c:latest\n"
	if tree.String() != wantTree {
		t.Errorf("tree =\n%s\nwant\n%s", tree.String(), wantTree)
	}

	var dot bytes.Buffer
	if err := g.Export(&dot, FormatDot); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(dot.String(), `"a:latest" -> "b:latest";`) {
		t.Errorf("dot output missing edge:\n%s", dot.String())
	}

	var y bytes.Buffer
	if err := g.Export(&y, FormatYAML); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(y.String(), "children:") || !strings.Contains(y.String(), "c:latest") {
		t.Errorf("yaml output:\n%s", y.String())
	}

	if err := g.Export(&y, "svg"); err == nil {
		t.Error("unknown format should fail")
	}
}
