package row

// CapKind tags the optional behaviors an item brings with it.
type CapKind uint8

const (
	CapPlain CapKind = iota
	CapGroupAware
	CapHeightAware
)

// HeightAware items report their own row height.
type HeightAware interface {
	RowHeight() float64
}

// GroupAware items expose metadata the grouping layer copies to group rows.
type GroupAware interface {
	GroupMetadata() map[string]any
}

// Capability is the resolved capability set of an item. Resolution happens once
// at node construction so readers never type-switch on the hot path.
type Capability struct {
	Kind     CapKind
	Height   float64        // valid when Kind == CapHeightAware or HasHeight
	Metadata map[string]any // valid when Kind == CapGroupAware or HasMetadata
	// An item can implement both interfaces; Kind holds the first match and the
	// flags below record the full set.
	HasHeight   bool
	HasMetadata bool
}

// ResolveCapability inspects item once and records what it implements.
func ResolveCapability(item any) Capability {
	var c Capability
	if g, ok := item.(GroupAware); ok {
		c.Kind = CapGroupAware
		c.Metadata = g.GroupMetadata()
		c.HasMetadata = true
	}
	if h, ok := item.(HeightAware); ok {
		if !c.HasMetadata {
			c.Kind = CapHeightAware
		}
		c.Height = h.RowHeight()
		c.HasHeight = true
	}
	return c
}
