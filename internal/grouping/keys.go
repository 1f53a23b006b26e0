package grouping

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Blank is the label and path text of buckets whose key is nil or empty.
const Blank = "(Blank)"

// normalizeKey folds nil, empty and whitespace-only strings into the nil key,
// which renders as Blank.
func normalizeKey(k any) any {
	switch v := k.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
	case json.Number:
		if v == "" {
			return nil
		}
	case *string:
		if v == nil {
			return nil
		}
		return normalizeKey(*v)
	}
	return k
}

// KeyText renders a normalized key as the text used for labels and paths.
func KeyText(k any) string {
	switch v := k.(type) {
	case nil:
		return Blank
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	case decimal.Decimal:
		return v.String()
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

const (
	rankNil = iota
	rankBool
	rankNumber
	rankTime
	rankString
	rankOther
)

func rank(k any) int {
	switch v := k.(type) {
	case nil:
		return rankNil
	case bool:
		return rankBool
	case time.Time:
		return rankTime
	case string:
		return rankString
	case json.Number:
		if _, ok := toDecimal(v); ok {
			return rankNumber
		}
		return rankString
	}
	if _, ok := toDecimal(k); ok {
		return rankNumber
	}
	return rankOther
}

// CompareKeys is the default total order over bucket keys:
// nil < bool < numbers < time < strings < everything else (by text).
func CompareKeys(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case rankNil:
		return 0
	case rankBool:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case rankNumber:
		x, _ := toDecimal(a)
		y, _ := toDecimal(b)
		return x.Cmp(y)
	case rankTime:
		return a.(time.Time).Compare(b.(time.Time))
	}
	return strings.Compare(KeyText(a), KeyText(b))
}

// toDecimal converts any numeric representation to a decimal without going
// through float64 where the source is exact.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int8:
		return decimal.NewFromInt(int64(n)), true
	case int16:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(n)), 0), true
	case uint8:
		return decimal.NewFromInt(int64(n)), true
	case uint16:
		return decimal.NewFromInt(int64(n)), true
	case uint32:
		return decimal.NewFromInt(int64(n)), true
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0), true
	case float32:
		return toDecimal(float64(n))
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(n), true
	}
	return decimal.Decimal{}, false
}
