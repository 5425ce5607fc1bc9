package graph

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Export formats.
const (
	FormatTree = "tree"
	FormatYAML = "yaml"
	FormatDot  = "dot"
)

// Formats lists the accepted export formats.
var Formats = []string{FormatTree, FormatYAML, FormatDot}

// Export writes the graph to w in the given format.
func (g *Graph) Export(w io.Writer, format string) error {
	switch format {
	case FormatTree, "":
		return g.writeTree(w)
	case FormatYAML:
		return g.writeYAML(w)
	case FormatDot:
		return g.writeDot(w)
	default:
		return fmt.Errorf("unknown graph format %q (want one of %s)", format, strings.Join(Formats, ", "))
	}
}

func (g *Graph) writeTree(w io.Writer) error {
	var b strings.Builder
	var walk func(id, prefix string)
	walk = func(id, prefix string) {
		kids := g.children[id]
		for i, c := range kids {
			branch, next := "├── ", "│   "
			if i == len(kids)-1 {
				branch, next = "└── ", "    "
			}
			b.WriteString(prefix + branch + c + "\n")
			walk(c, prefix+next)
		}
	}
	for _, r := range g.roots {
		label := r
		if n, _ := g.Node(r); n.HasParent() {
			label += " (from " + n.Parent + ")"
		}
		b.WriteString(label + "\n")
		walk(r, "")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// yamlNode is the nested export shape.
type yamlNode struct {
	Name     string            `yaml:"name"`
	Context  string            `yaml:"context"`
	From     string            `yaml:"from,omitempty"`
	Tags     []string          `yaml:"tags,omitempty"`
	Args     map[string]string `yaml:"build_args,omitempty"`
	Push     bool              `yaml:"push,omitempty"`
	Children []yamlNode        `yaml:"children,omitempty"`
}

func (g *Graph) writeYAML(w io.Writer) error {
	var build func(id string) yamlNode
	build = func(id string) yamlNode {
		n, _ := g.Node(id)
		y := yamlNode{
			Name:    n.ID,
			Context: n.Context,
			Tags:    n.Tags,
			Args:    n.BuildArgs,
			Push:    n.Push,
		}
		if _, inGraph := g.parent[id]; !inGraph && n.HasParent() {
			y.From = n.Parent
		}
		for _, c := range g.children[id] {
			y.Children = append(y.Children, build(c))
		}
		return y
	}

	out := make([]yamlNode, 0, len(g.roots))
	for _, r := range g.roots {
		out = append(out, build(r))
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}

func (g *Graph) writeDot(w io.Writer) error {
	var b strings.Builder
	b.WriteString("digraph images {\n")
	b.WriteString("  rankdir=LR;\n")
	for _, n := range g.nodes {
		fmt.Fprintf(&b, "  %q;\n", n.ID)
	}
	for _, n := range g.nodes {
		if p, ok := g.parent[n.ID]; ok {
			fmt.Fprintf(&b, "  %q -> %q;\n", p, n.ID)
		}
	}
	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}
