package grouping

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Placement says where an aggregate is shown.
type Placement uint8

const (
	GroupFooter Placement = iota
	GridFooter
	GroupAndGrid
)

func (p Placement) inGroup() bool { return p == GroupFooter || p == GroupAndGrid }
func (p Placement) inGrid() bool  { return p == GridFooter || p == GroupAndGrid }

// ParsePlacement accepts "group", "grid" and "both".
func ParsePlacement(s string) (Placement, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "group", "group_footer":
		return GroupFooter, nil
	case "grid", "grid_footer":
		return GridFooter, nil
	case "", "both", "group_and_grid":
		return GroupAndGrid, nil
	}
	return 0, fmt.Errorf("unknown aggregate placement %q", s)
}

// AggregateDescriptor computes one column's aggregate in the scopes its
// Placement selects.
type AggregateDescriptor struct {
	ColumnKey  string
	Placement  Placement
	Aggregator Aggregator
	// Formatter renders the aggregate value. Defaults to FormatValue.
	Formatter func(any) string
	// Value reads the aggregated cell from an item. Defaults to
	// FieldValue(item, ColumnKey).
	Value func(item any) any
}

func (d AggregateDescriptor) format(v any) string {
	if d.Formatter != nil {
		return d.Formatter(v)
	}
	return FormatValue(v)
}

// AggregateContext is what an aggregator sees: the full item set of one
// scope, once.
type AggregateContext struct {
	Path       string // "" for the grid footer
	Level      int    // level of the summary row
	Key        any
	Items      []any
	Descriptor AggregateDescriptor
}

// Values returns the aggregated cell of every item, in order.
func (c AggregateContext) Values() []any {
	get := c.Descriptor.Value
	if get == nil {
		col := c.Descriptor.ColumnKey
		get = func(item any) any { return FieldValue(item, col) }
	}
	out := make([]any, len(c.Items))
	for i, it := range c.Items {
		out[i] = get(it)
	}
	return out
}

// Aggregator computes an aggregate value over a scope.
type Aggregator interface {
	Aggregate(ctx AggregateContext) (any, error)
}

// AggregatorFunc adapts a function to Aggregator.
type AggregatorFunc func(ctx AggregateContext) (any, error)

func (f AggregatorFunc) Aggregate(ctx AggregateContext) (any, error) { return f(ctx) }

// Built-in aggregators. Integer sums accumulate in int64, decimal sums in
// shopspring/decimal, so grid totals equal the sum of group totals exactly.
var (
	Count Aggregator = AggregatorFunc(func(c AggregateContext) (any, error) {
		return int64(len(c.Items)), nil
	})
	SumInt Aggregator = AggregatorFunc(func(c AggregateContext) (any, error) {
		var total int64
		for _, v := range c.Values() {
			n, ok := toInt64(v)
			if !ok {
				continue
			}
			total += n
		}
		return total, nil
	})
	SumDecimal Aggregator = AggregatorFunc(func(c AggregateContext) (any, error) {
		total := decimal.Zero
		for _, v := range c.Values() {
			if d, ok := numeric(v); ok {
				total = total.Add(d)
			}
		}
		return total, nil
	})
	Average Aggregator = AggregatorFunc(func(c AggregateContext) (any, error) {
		total, n := decimal.Zero, int64(0)
		for _, v := range c.Values() {
			if d, ok := numeric(v); ok {
				total = total.Add(d)
				n++
			}
		}
		if n == 0 {
			return nil, nil
		}
		return total.Div(decimal.NewFromInt(n)), nil
	})
	Min Aggregator = AggregatorFunc(func(c AggregateContext) (any, error) {
		return extreme(c.Values(), -1), nil
	})
	Max Aggregator = AggregatorFunc(func(c AggregateContext) (any, error) {
		return extreme(c.Values(), 1), nil
	})
)

// AggregatorByName resolves the names the CLI and tool surface accept.
func AggregatorByName(name string) (Aggregator, error) {
	switch strings.ToLower(name) {
	case "count":
		return Count, nil
	case "sum", "sum_decimal":
		return SumDecimal, nil
	case "sum_int":
		return SumInt, nil
	case "avg", "average":
		return Average, nil
	case "min":
		return Min, nil
	case "max":
		return Max, nil
	}
	return nil, fmt.Errorf("unknown aggregator %q", name)
}

func extreme(values []any, sign int) any {
	var best any
	for _, v := range values {
		v = normalizeKey(v)
		if v == nil {
			continue
		}
		if best == nil || CompareKeys(v, best)*sign > 0 {
			best = v
		}
	}
	return best
}

// numeric converts numbers and numeric strings to decimal.
func numeric(v any) (decimal.Decimal, bool) {
	if s, ok := v.(string); ok {
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		return d, err == nil
	}
	return toDecimal(v)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case float64:
		if n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64 {
			return int64(n), true
		}
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	case decimal.Decimal:
		if n.IsInteger() && n.BigInt().IsInt64() {
			return n.IntPart(), true
		}
	}
	return 0, false
}

// FormatValue is the default aggregate formatter.
func FormatValue(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(n, 10)
	case decimal.Decimal:
		return n.String()
	}
	return KeyText(v)
}
