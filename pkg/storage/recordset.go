package storage

import (
	"encoding/json"
	"sort"
	"strings"
)

// Record is a decoded stored object: arbitrary JSON fields plus the
// configured id and last-modified fields.
type Record map[string]any

func (r Record) clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Operator is a filter comparator.
type Operator string

const (
	OperatorEQ      Operator = "eq"
	OperatorNOT     Operator = "not"
	OperatorLT      Operator = "lt"
	OperatorGT      Operator = "gt"
	OperatorMIN     Operator = "min" // >=
	OperatorMAX     Operator = "max" // <=
	OperatorIN      Operator = "in"
	OperatorEXCLUDE Operator = "exclude"
	OperatorHAS     Operator = "has" // value true: field present, false: absent
)

// Filter is one field predicate. A filter list is a conjunction.
type Filter struct {
	Field    string
	Value    any
	Operator Operator
}

// Sort is one sorting column. Direction 1 sorts ascending, -1 descending.
type Sort struct {
	Field     string
	Direction int
}

// extractRecordSet filters, paginates, sorts and truncates a materialized
// record set. paginationRules is a disjunction of conjunctions (resume-after
// cursors derived from the sort columns). The returned count is the
// post-filter cardinality minus the tombstones present in the processed set.
func extractRecordSet(records []Record, filters []Filter, sorting []Sort,
	idField, deletedField string, paginationRules [][]Filter, limit int) ([]Record, int) {

	filtered := applyFilters(records, filters)
	total := len(filtered)

	paginated := filtered
	if len(paginationRules) > 0 {
		paginated = nil
		for _, rule := range paginationRules {
			paginated = append(paginated, applyFilters(filtered, rule)...)
		}
	}

	sortRecords(paginated, sorting, idField)

	deletedCount := 0
	for _, r := range paginated {
		if v, ok := r[deletedField].(bool); ok && v {
			deletedCount++
		}
	}

	if limit > 0 && len(paginated) > limit {
		paginated = paginated[:limit]
	}
	if paginated == nil {
		paginated = []Record{}
	}
	return paginated, total - deletedCount
}

func applyFilters(records []Record, filters []Filter) []Record {
	if len(filters) == 0 {
		out := make([]Record, len(records))
		copy(out, records)
		return out
	}
	var out []Record
	for _, r := range records {
		matches := true
		for _, f := range filters {
			if !matchFilter(r, f) {
				matches = false
				break
			}
		}
		if matches {
			out = append(out, r)
		}
	}
	return out
}

func matchFilter(r Record, f Filter) bool {
	left, present := r[f.Field]

	if f.Operator == OperatorHAS {
		want, _ := f.Value.(bool)
		return present == want
	}

	if !present {
		// A missing field never satisfies an ordering or equality
		// predicate, but it is trivially "not equal" and "excluded".
		return f.Operator == OperatorNOT || f.Operator == OperatorEXCLUDE
	}

	switch f.Operator {
	case OperatorEQ:
		return compareValues(left, f.Value) == 0
	case OperatorNOT:
		return compareValues(left, f.Value) != 0
	case OperatorLT:
		return compareValues(left, f.Value) < 0
	case OperatorGT:
		return compareValues(left, f.Value) > 0
	case OperatorMIN:
		return compareValues(left, f.Value) >= 0
	case OperatorMAX:
		return compareValues(left, f.Value) <= 0
	case OperatorIN:
		return containsValue(f.Value, left)
	case OperatorEXCLUDE:
		return !containsValue(f.Value, left)
	}
	return false
}

func containsValue(list any, v any) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if compareValues(v, item) == 0 {
			return true
		}
	}
	return false
}

// sortRecords orders records by the sorting columns in priority order, with
// the id field ascending as the final tie-break. A record missing a sort
// field orders as the lowest possible value for that column.
func sortRecords(records []Record, sorting []Sort, idField string) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		for _, s := range sorting {
			c := compareFields(a, b, s.Field)
			if c == 0 {
				continue
			}
			if s.Direction < 0 {
				return c > 0
			}
			return c < 0
		}
		return compareFields(a, b, idField) < 0
	})
}

func compareFields(a, b Record, field string) int {
	av, aok := a[field]
	bv, bok := b[field]
	if !aok && !bok {
		return 0
	}
	if !aok {
		return -1
	}
	if !bok {
		return 1
	}
	return compareValues(av, bv)
}

// compareValues defines a total order across the JSON scalar types:
// nil < bool < number < string < everything else. Values of the same class
// compare naturally; other composite values fall back to comparing their
// JSON encoding, which at least keeps the order deterministic.
func compareValues(a, b any) int {
	ra, rb := valueRank(a), valueRank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case rankNil:
		return 0
	case rankBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case rankNumber:
		af, bf := toFloat64(a), toFloat64(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case rankString:
		return strings.Compare(a.(string), b.(string))
	default:
		aj, _ := json.Marshal(a)
		bj, _ := json.Marshal(b)
		return strings.Compare(string(aj), string(bj))
	}
}

const (
	rankNil = iota
	rankBool
	rankNumber
	rankString
	rankOther
)

func valueRank(v any) int {
	switch v.(type) {
	case nil:
		return rankNil
	case bool:
		return rankBool
	case float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		return rankNumber
	case string:
		return rankString
	default:
		return rankOther
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}
