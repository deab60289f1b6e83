package memdb

import (
	"math/big"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

func filterRows(meta *dbx.EntityMeta, rows []any, criteria dbx.Criteria) ([]any, error) {
	restrictions := criteria.Restrictions()
	if len(restrictions) == 0 {
		return rows, nil
	}

	matched := make([]any, 0, len(rows))

	for _, row := range rows {
		ok, err := matches(meta, row, restrictions)
		if err != nil {
			return nil, err
		}

		if ok {
			matched = append(matched, row)
		}
	}

	return matched, nil
}

func matches(meta *dbx.EntityMeta, row any, restrictions []dbx.Restriction) (bool, error) {
	for _, r := range restrictions {
		c, ok := meta.Column(r.Field)
		if !ok {
			return false, errors.Errorf("memdb: unknown field %q of %s", r.Field, meta.Name())
		}

		ok, err := evaluate(meta.Field(row, c), r)
		if err != nil {
			return false, err
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}

func evaluate(field reflect.Value, r dbx.Restriction) (bool, error) {
	switch r.Op {
	case dbx.OpIsNull:
		return isNull(field), nil
	case dbx.OpIsNotNull:
		return !isNull(field), nil
	}

	if isNull(field) {
		return false, nil
	}

	value := deref(field).Interface()

	switch r.Op {
	case dbx.OpLike:
		pattern, ok := r.Value.(string)
		if !ok {
			return false, errors.Errorf("memdb: LIKE on %s needs a string pattern", r.Field)
		}

		s, ok := value.(string)
		if !ok {
			return false, errors.Errorf("memdb: LIKE on non-string field %s", r.Field)
		}

		return likeToRegexp(pattern).MatchString(s), nil
	case dbx.OpIn:
		values, ok := r.Value.([]any)
		if !ok {
			return false, errors.Errorf("memdb: IN on %s needs a list", r.Field)
		}

		for _, v := range values {
			if equal(value, v) {
				return true, nil
			}
		}

		return false, nil
	case dbx.OpEq:
		return equal(value, r.Value), nil
	case dbx.OpNe:
		return !equal(value, r.Value), nil
	}

	cmp, err := compare(value, r.Value)
	if err != nil {
		return false, errors.Wrapf(err, "memdb: %s %s", r.Field, r.Op)
	}

	switch r.Op {
	case dbx.OpGt:
		return cmp > 0, nil
	case dbx.OpGe:
		return cmp >= 0, nil
	case dbx.OpLt:
		return cmp < 0, nil
	case dbx.OpLe:
		return cmp <= 0, nil
	default:
		return false, errors.Errorf("memdb: unsupported operator %q", r.Op)
	}
}

func isNull(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}

func deref(v reflect.Value) reflect.Value {
	for (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) && !v.IsNil() {
		v = v.Elem()
	}

	return v
}

func likeToRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder

	b.WriteString("(?s)^")

	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}

	b.WriteString("$")

	return regexp.MustCompile(b.String())
}

func equal(a, b any) bool {
	if cmp, err := compare(a, b); err == nil {
		return cmp == 0
	}

	return reflect.DeepEqual(a, b)
}

// compare orders two values of compatible types: numbers (including decimal.Decimal), strings and times.
func compare(a, b any) (int, error) {
	if b != nil {
		b = deref(reflect.ValueOf(b)).Interface()
	}

	if da, ok := toDecimal(a); ok {
		if db, ok := toDecimal(b); ok {
			return da.Cmp(db), nil
		}
	}

	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), nil
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv), nil
		}
	case bool:
		if bv, ok := b.(bool); ok {
			if av == bv {
				return 0, nil
			}

			if !av {
				return -1, nil
			}

			return 1, nil
		}
	}

	return 0, errors.Errorf("cannot compare %T with %T", a, b)
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case nil:
		return decimal.Zero, false
	}

	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return decimal.NewFromInt(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(rv.Uint()), 0), true
	case reflect.Float32, reflect.Float64:
		return decimal.NewFromFloat(rv.Float()), true
	default:
		return decimal.Zero, false
	}
}

func sortRows(meta *dbx.EntityMeta, rows []any, orders []dbx.Order) error {
	columns := make([]dbx.Column, len(orders))

	for i, o := range orders {
		c, ok := meta.Column(o.Field)
		if !ok {
			return errors.Errorf("memdb: unknown order field %q of %s", o.Field, meta.Name())
		}

		columns[i] = c
	}

	sort.SliceStable(rows, func(i, j int) bool {
		for k, o := range orders {
			a := meta.Field(rows[i], columns[k])
			b := meta.Field(rows[j], columns[k])

			// nulls last
			switch an, bn := isNull(a), isNull(b); {
			case an && bn:
				continue
			case an:
				return false
			case bn:
				return true
			}

			cmp, err := compare(deref(a).Interface(), deref(b).Interface())
			if err != nil || cmp == 0 {
				continue
			}

			if o.Desc {
				return cmp > 0
			}

			return cmp < 0
		}

		return false
	})

	return nil
}

func applyPage(rows []any, page dbx.Page) []any {
	if page.HasOffset() {
		if page.Offset >= len(rows) {
			return rows[:0]
		}

		rows = rows[page.Offset:]
	}

	if page.HasLimit() && page.Limit < len(rows) {
		rows = rows[:page.Limit]
	}

	return rows
}

func aggregateRows(meta *dbx.EntityMeta, rows []any, aggregate dbx.Aggregate) (dbx.Scalar, error) {
	if aggregate.Kind == dbx.Count {
		return dbx.Scalar{Int: int64(len(rows)), Decimal: decimal.NewFromInt(int64(len(rows)))}, nil
	}

	c, ok := meta.Column(aggregate.Field)
	if !ok {
		return dbx.Scalar{}, errors.Errorf("memdb: unknown aggregate field %q of %s", aggregate.Field, meta.Name())
	}

	total := decimal.Zero
	var (
		maximum decimal.Decimal
		found   bool
	)

	for _, row := range rows {
		field := meta.Field(row, c)
		if isNull(field) {
			continue
		}

		d, ok := toDecimal(deref(field).Interface())
		if !ok {
			return dbx.Scalar{}, errors.Errorf("memdb: %s of non-numeric field %s", aggregate.Kind, aggregate.Field)
		}

		total = total.Add(d)

		if !found || d.GreaterThan(maximum) {
			maximum = d
			found = true
		}
	}

	switch aggregate.Kind {
	case dbx.Sum:
		return dbx.Scalar{Int: total.IntPart(), Decimal: total}, nil
	case dbx.Max:
		if !found {
			return dbx.Scalar{Null: true}, nil
		}

		return dbx.Scalar{Int: maximum.IntPart(), Decimal: maximum}, nil
	default:
		return dbx.Scalar{}, errors.Errorf("memdb: unsupported aggregate %s", aggregate.Kind)
	}
}
