package timerange

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseRanges decodes ranges as found in configuration. Accepted items:
//
//	"22h-6h"
//	["22:00", "06:00"]
//	["22:00", "06:00", 0.12]
//	{range: "22h-6h", cost: 0.12}
//	{begin: "22h", end: "6h", cost: 0.12}
//
// Items without a cost get defaultCost.
func ParseRanges(raw any, defaultCost float64) ([]Range, error) {
	if raw == nil {
		return nil, nil
	}
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case []string:
		for _, s := range v {
			items = append(items, s)
		}
	case [][]string:
		for _, s := range v {
			items = append(items, s)
		}
	case string:
		items = []any{v}
	default:
		return nil, fmt.Errorf("hours ranges: unsupported %T", raw)
	}
	out := make([]Range, 0, len(items))
	for i, it := range items {
		r, err := parseRange(it, defaultCost)
		if err != nil {
			return nil, fmt.Errorf("hours range #%d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// ParseHoursRanges is ParseRanges followed by New.
func ParseHoursRanges(raw any, defaultCost, outRangeCost float64) (*HoursRanges, error) {
	ranges, err := ParseRanges(raw, defaultCost)
	if err != nil {
		return nil, err
	}
	return New(ranges, outRangeCost)
}

func parseRange(it any, cost float64) (Range, error) {
	switch v := it.(type) {
	case string:
		b, e, ok := strings.Cut(v, "-")
		if !ok {
			return Range{}, fmt.Errorf("%q: expected begin-end", v)
		}
		return newRange(b, e, cost)
	case []string:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return parseRange(items, cost)
	case []any:
		switch len(v) {
		case 1:
			return parseRange(v[0], cost)
		case 2, 3:
			if len(v) == 3 {
				c, err := toCost(v[2])
				if err != nil {
					return Range{}, err
				}
				cost = c
			}
			// [["22h-6h"], cost] style
			if s, ok := v[0].(string); ok && strings.Contains(s, "-") && len(v) == 2 {
				if c, err := toCost(v[1]); err == nil {
					return parseRange(s, c)
				}
			}
			return newRange(fmt.Sprint(v[0]), fmt.Sprint(v[1]), cost)
		}
		return Range{}, fmt.Errorf("%v: expected 2 or 3 items", v)
	case map[string]any:
		if c, ok := v["cost"]; ok {
			f, err := toCost(c)
			if err != nil {
				return Range{}, err
			}
			cost = f
		}
		if r, ok := v["range"]; ok {
			return parseRange(r, cost)
		}
		return newRange(fmt.Sprint(v["begin"]), fmt.Sprint(v["end"]), cost)
	}
	return Range{}, fmt.Errorf("unsupported %T", it)
}

func newRange(b, e string, cost float64) (Range, error) {
	begin, err := ParseTime(b)
	if err != nil {
		return Range{}, err
	}
	end, err := ParseTime(e)
	if err != nil {
		return Range{}, err
	}
	return Range{Begin: begin, End: end, Cost: cost}, nil
}

func toCost(v any) (float64, error) {
	switch c := v.(type) {
	case float64:
		return c, nil
	case float32:
		return float64(c), nil
	case int:
		return float64(c), nil
	case int64:
		return float64(c), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(c), 64)
	}
	return 0, fmt.Errorf("cost: unsupported %T", v)
}
