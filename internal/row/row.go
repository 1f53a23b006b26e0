// Package row holds the value records shared by every layer of the grid engine:
// flattened rows and columns, the hierarchical node shape they are built from,
// and the page/viewport request contracts.
package row

import "fmt"

// Kind distinguishes leaf rows from the synthetic rows the grouping engine emits.
type Kind uint8

const (
	KindLeaf Kind = iota
	KindGroup
	KindSummary
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindGroup:
		return "group"
	case KindSummary:
		return "summary"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// SummaryScope says whether a summary row closes a group or the whole grid.
type SummaryScope uint8

const (
	ScopeGroup SummaryScope = iota
	ScopeGrid
)

// GroupInfo is carried by group rows.
type GroupInfo struct {
	Path      string // stable identity across rebuilds
	Column    string // column key of the descriptor that produced the bucket
	Key       any    // normalized bucket key
	Label     string
	Level     int
	ItemCount int // leaf items below this bucket
}

// SummaryInfo is carried by summary rows.
type SummaryInfo struct {
	Path   string // path of the owning group, "" for the grid footer
	Scope  SummaryScope
	Values map[string]string // column key -> formatted aggregate
	Raw    map[string]any    // column key -> aggregate value
}

// Row is one entry of a flattened sequence. Rows are values: identity is the
// index they were read from, never the Row itself.
type Row struct {
	Item          any
	Level         int
	HasChildren   bool
	IsExpanded    bool
	Kind          Kind
	IsPlaceholder bool
	Group         *GroupInfo
	Summary       *SummaryInfo
	Caps          Capability
}

// IsGroup reports whether r is a synthetic group header.
func (r Row) IsGroup() bool { return r.Kind == KindGroup }

// IsSummary reports whether r is a synthetic aggregate row.
func (r Row) IsSummary() bool { return r.Kind == KindSummary }

// Placeholder returns a renderable stand-in for a row that is not available yet.
func Placeholder(index int) Row {
	return Row{
		Item:          PlaceholderItem{Index: index},
		IsPlaceholder: true,
		Caps:          Capability{Kind: CapPlain},
	}
}

// PlaceholderItem is the Item of placeholder rows. It renders as an empty cell
// rather than a nil.
type PlaceholderItem struct {
	Index int
}

func (p PlaceholderItem) String() string { return "" }

// Node is the hierarchical shape rows are flattened from. Group and summary
// nodes are produced by the grouping engine; leaf nodes wrap source items.
type Node struct {
	Row      Row
	Children []*Node
}

// NewItemNode wraps a source item. The item's capabilities are resolved here,
// once.
func NewItemNode(item any, children ...*Node) *Node {
	return &Node{
		Row: Row{
			Item:        item,
			Kind:        KindLeaf,
			HasChildren: len(children) > 0,
			Caps:        ResolveCapability(item),
		},
		Children: children,
	}
}

// Add appends children and keeps HasChildren in sync.
func (n *Node) Add(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	n.Row.HasChildren = len(n.Children) > 0
	return n
}

// Leaves returns the items of the leaf nodes reachable from nodes, in
// pre-order.
func Leaves(nodes []*Node) []any {
	var out []any
	var walk func([]*Node)
	walk = func(ns []*Node) {
		for _, n := range ns {
			if n.Row.Kind == KindLeaf {
				out = append(out, n.Row.Item)
			}
			walk(n.Children)
		}
	}
	walk(nodes)
	return out
}
