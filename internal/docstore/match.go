package docstore

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// NormalizeValue converts v to one of the supported scalar representations.
func NormalizeValue(v any) (any, error) {
	switch value := v.(type) {
	case nil, string, bool, int64, float64:
		return value, nil
	case int:
		return int64(value), nil
	case int32:
		return int64(value), nil
	case float32:
		return float64(value), nil
	case time.Time:
		return value.UTC(), nil
	case *time.Time:
		if value == nil {
			return nil, nil
		}
		return value.UTC(), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidValue, v)
	}
}

// Normalize returns a copy of fields with every value normalised.
func Normalize(fields Fields) (Fields, error) {
	out := make(Fields, len(fields))
	for key, value := range fields {
		if strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("%w: empty field name", ErrInvalidValue)
		}
		normalized, err := NormalizeValue(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		out[key] = normalized
	}
	return out, nil
}

// NormalizeFilters normalises filter values so they compare with stored fields.
func NormalizeFilters(filters []Filter) ([]Filter, error) {
	out := make([]Filter, len(filters))
	for i, f := range filters {
		value, err := NormalizeValue(f.Value)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", f.Field, err)
		}
		switch f.Op {
		case Equal, NotEqual, Less, LessOrEqual, Greater, GreaterOrEqual:
		default:
			return nil, fmt.Errorf("%w: operator %q", ErrInvalidValue, f.Op)
		}
		out[i] = Filter{Field: f.Field, Op: f.Op, Value: value}
	}
	return out, nil
}

// Compare orders two normalised scalars. ok is false when the values are not
// of comparable kinds.
func Compare(a, b any) (result int, ok bool) {
	switch x := a.(type) {
	case nil:
		if b == nil {
			return 0, true
		}
		return 0, false
	case string:
		y, isString := b.(string)
		if !isString {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, isBool := b.(bool)
		if !isBool {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	case int64:
		switch y := b.(type) {
		case int64:
			return compareOrdered(x, y), true
		case float64:
			return compareOrdered(float64(x), y), true
		}
		return 0, false
	case float64:
		switch y := b.(type) {
		case float64:
			return compareOrdered(x, y), true
		case int64:
			return compareOrdered(x, float64(y)), true
		}
		return 0, false
	case time.Time:
		y, isTime := b.(time.Time)
		if !isTime {
			return 0, false
		}
		return x.Compare(y), true
	}
	return 0, false
}

func compareOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Matches reports whether fields satisfy every filter. Missing fields read as nil.
func Matches(fields Fields, filters []Filter) bool {
	for _, f := range filters {
		if !matchFilter(fields[f.Field], f) {
			return false
		}
	}
	return true
}

func matchFilter(value any, f Filter) bool {
	c, ok := Compare(value, f.Value)
	switch f.Op {
	case Equal:
		return ok && c == 0
	case NotEqual:
		return !ok || c != 0
	}
	if !ok || value == nil {
		return false
	}
	switch f.Op {
	case Less:
		return c < 0
	case LessOrEqual:
		return c <= 0
	case Greater:
		return c > 0
	case GreaterOrEqual:
		return c >= 0
	}
	return false
}

// Sort orders docs in place by the given keys, falling back to the id so the
// result is deterministic. Nil values sort first.
func Sort(docs []Document, orderBy []Order) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, o := range orderBy {
			c := compareForSort(docs[i].Fields[o.Field], docs[j].Fields[o.Field])
			if c == 0 {
				continue
			}
			if o.Descending {
				return c > 0
			}
			return c < 0
		}
		return docs[i].ID < docs[j].ID
	})
}

func compareForSort(a, b any) int {
	if c, ok := Compare(a, b); ok {
		return c
	}
	switch {
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return strings.Compare(fmt.Sprintf("%T", a), fmt.Sprintf("%T", b))
}

// Apply filters, sorts and limits docs according to q.
func Apply(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if Matches(doc.Fields, q.Filters) {
			out = append(out, doc)
		}
	}
	Sort(out, q.OrderBy)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Equivalent reports whether two result sets hold the same documents in the
// same order with equal fields.
func Equivalent(a, b []Document) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || len(a[i].Fields) != len(b[i].Fields) {
			return false
		}
		for key, av := range a[i].Fields {
			bv, present := b[i].Fields[key]
			if !present {
				return false
			}
			if c, ok := Compare(av, bv); !ok || c != 0 {
				return false
			}
		}
	}
	return true
}

// Validate checks that a query is well formed and returns it with normalised filters.
func Validate(q Query) (Query, error) {
	if strings.TrimSpace(q.Collection) == "" {
		return Query{}, fmt.Errorf("%w: empty collection", ErrInvalidValue)
	}
	filters, err := NormalizeFilters(q.Filters)
	if err != nil {
		return Query{}, err
	}
	q.Filters = filters
	return q, nil
}
