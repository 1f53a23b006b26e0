package row

// Column is one entry of the column axis.
type Column struct {
	Key           string
	Header        string
	Path          string // JSONPath selecting the cell value from a record
	Width         int
	IsPlaceholder bool
}

// PlaceholderColumn returns a renderable stand-in column.
func PlaceholderColumn(_ int) Column {
	return Column{IsPlaceholder: true}
}
