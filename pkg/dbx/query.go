package dbx

import (
	"github.com/shopspring/decimal"
)

// NoLimit is the unset sentinel of Page.Limit and Page.Offset.
const NoLimit = -1

// Op is a restriction operator.
type Op string

const (
	OpEq        Op = "="
	OpNe        Op = "<>"
	OpGt        Op = ">"
	OpGe        Op = ">="
	OpLt        Op = "<"
	OpLe        Op = "<="
	OpLike      Op = "LIKE"
	OpIn        Op = "IN"
	OpIsNull    Op = "IS NULL"
	OpIsNotNull Op = "IS NOT NULL"
)

// Restriction is one condition of a Criteria. Field is a Go field name or a column name.
type Restriction struct {
	Field string
	Op    Op
	Value any
}

type Order struct {
	Field string
	Desc  bool
}

// Criteria is a conjunction of restrictions plus an optional ordering.
// The zero value matches every row. Builder methods return a new Criteria and
// never modify the receiver.
//
//	c := dbx.Where().Eq("ExternalID", "X").Gt("Amount", 0).OrderBy("ID", false)
type Criteria struct {
	restrictions []Restriction
	orders       []Order
}

// Where returns an empty Criteria.
func Where() Criteria {
	return Criteria{}
}

func (c Criteria) with(r Restriction) Criteria {
	next := Criteria{
		restrictions: make([]Restriction, 0, len(c.restrictions)+1),
		orders:       c.orders,
	}
	next.restrictions = append(append(next.restrictions, c.restrictions...), r)

	return next
}

func (c Criteria) Eq(field string, value any) Criteria {
	return c.with(Restriction{Field: field, Op: OpEq, Value: value})
}

func (c Criteria) Ne(field string, value any) Criteria {
	return c.with(Restriction{Field: field, Op: OpNe, Value: value})
}

func (c Criteria) Gt(field string, value any) Criteria {
	return c.with(Restriction{Field: field, Op: OpGt, Value: value})
}

func (c Criteria) Ge(field string, value any) Criteria {
	return c.with(Restriction{Field: field, Op: OpGe, Value: value})
}

func (c Criteria) Lt(field string, value any) Criteria {
	return c.with(Restriction{Field: field, Op: OpLt, Value: value})
}

func (c Criteria) Le(field string, value any) Criteria {
	return c.with(Restriction{Field: field, Op: OpLe, Value: value})
}

// Like matches a SQL LIKE pattern (% and _ wildcards).
func (c Criteria) Like(field string, pattern string) Criteria {
	return c.with(Restriction{Field: field, Op: OpLike, Value: pattern})
}

// In matches any of values. An empty list matches nothing.
func (c Criteria) In(field string, values ...any) Criteria {
	return c.with(Restriction{Field: field, Op: OpIn, Value: values})
}

func (c Criteria) IsNull(field string) Criteria {
	return c.with(Restriction{Field: field, Op: OpIsNull})
}

func (c Criteria) IsNotNull(field string) Criteria {
	return c.with(Restriction{Field: field, Op: OpIsNotNull})
}

func (c Criteria) OrderBy(field string, desc bool) Criteria {
	orders := make([]Order, 0, len(c.orders)+1)
	orders = append(append(orders, c.orders...), Order{Field: field, Desc: desc})

	return Criteria{restrictions: c.restrictions, orders: orders}
}

func (c Criteria) Restrictions() []Restriction {
	return append([]Restriction(nil), c.restrictions...)
}

func (c Criteria) Orders() []Order {
	return append([]Order(nil), c.orders...)
}

// Page is a pagination overlay. Values <= 0 (NoLimit included) leave the
// corresponding bound unset, so the zero Page is unpaged.
type Page struct {
	Limit  int
	Offset int
}

// Unpaged is the explicit "no pagination" overlay.
var Unpaged = Page{Limit: NoLimit, Offset: NoLimit}

func (p Page) HasLimit() bool {
	return p.Limit > 0
}

func (p Page) HasOffset() bool {
	return p.Offset > 0
}

// TextQuery is a parameterized query string.
//
// Non-native text is an entity query: the entity name (e.g. "Note") stands for the table and
// the entity's field names stand for its columns. Native text is sent to the store as is.
// Named parameters are written as :name and bound from Params. Native queries may use
// positional Args instead, or name a registered PreparedStatement as their Text.
type TextQuery struct {
	Text   string
	Params map[string]any
	Args   []any
	Native bool
}

// EntityQuery returns a non-native TextQuery.
func EntityQuery(text string, params map[string]any) TextQuery {
	return TextQuery{Text: text, Params: params}
}

// NativeQuery returns a native TextQuery with positional args.
func NativeQuery(text string, args ...any) TextQuery {
	return TextQuery{Text: text, Args: args, Native: true}
}

// WithParam returns a copy of q with the named parameter set.
func (q TextQuery) WithParam(name string, value any) TextQuery {
	params := make(map[string]any, len(q.Params)+1)
	for k, v := range q.Params {
		params[k] = v
	}

	params[name] = value
	q.Params = params

	return q
}

// Query selects entities, either by Criteria or, when Text is set, by a TextQuery.
type Query struct {
	Criteria Criteria
	Text     *TextQuery
	Page     Page
}

// CriteriaQuery returns an unpaged criteria query.
func CriteriaQuery(c Criteria) Query {
	return Query{Criteria: c, Page: Unpaged}
}

// TextQueryOf returns an unpaged text query.
func TextQueryOf(q TextQuery) Query {
	return Query{Text: &q, Page: Unpaged}
}

// WithPage returns a copy of q with the pagination overlay set.
func (q Query) WithPage(limit, offset int) Query {
	q.Page = Page{Limit: limit, Offset: offset}

	return q
}

type AggregateKind int

const (
	Count AggregateKind = iota
	Sum
	Max
)

func (k AggregateKind) String() string {
	switch k {
	case Count:
		return "COUNT"
	case Sum:
		return "SUM"
	case Max:
		return "MAX"
	default:
		return "UNKNOWN"
	}
}

// Aggregate is a named projection over the rows matching Criteria.
// Field is ignored for Count.
type Aggregate struct {
	Kind     AggregateKind
	Field    string
	Criteria Criteria
}

// Scalar is the result of an Aggregate.
//
// Count fills Int. Sum fills Decimal and is zero over no rows. Max fills Int and sets Null over no rows.
type Scalar struct {
	Int     int64
	Decimal decimal.Decimal
	Null    bool
}
