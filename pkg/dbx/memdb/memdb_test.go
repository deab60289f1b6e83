package memdb_test

import (
	"context"
	"strings"
	"testing"

	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/marcodd23/go-micro-dao/pkg/dbx/memdb"
	"github.com/marcodd23/go-micro-dao/pkg/errorx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Item struct {
	dbx.BaseEntity
	Code   string          `db:"code"`
	Group  string          `db:"group_name"`
	Qty    int             `db:"qty"`
	Amount decimal.Decimal `db:"amount"`
	Note   *string         `db:"note"`
}

var itemMeta = dbx.MustEntityMeta[*Item]("items")

func begin(t *testing.T, store *memdb.Store, readOnly bool) dbx.Session {
	t.Helper()

	s, err := store.OpenSession(context.Background(), readOnly)
	require.NoError(t, err)
	require.NoError(t, s.Begin(context.Background()))

	return s
}

func seed(t *testing.T, store *memdb.Store, items ...*Item) {
	t.Helper()

	ctx := context.Background()
	s := begin(t, store, false)

	for _, it := range items {
		require.NoError(t, s.Insert(ctx, itemMeta, it))
	}

	require.NoError(t, s.Commit(ctx))
	require.NoError(t, s.Close(ctx))
}

func TestInsertAssignsIdentityAndCommits(t *testing.T) {
	ctx := context.Background()
	store := memdb.NewStore(dbx.ConnConfig{DBName: "mem"})

	s := begin(t, store, false)
	a := &Item{Code: "a", Qty: 1}
	b := &Item{Code: "b", Qty: 2}
	require.NoError(t, s.Insert(ctx, itemMeta, a))
	require.NoError(t, s.Insert(ctx, itemMeta, b))
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)

	assert.Empty(t, store.Committed("items"), "nothing is visible before commit")

	got, err := s.FetchByKey(ctx, itemMeta, a.ID, dbx.LockNone)
	require.NoError(t, err)
	assert.Same(t, a, got, "the session returns the tracked instance")

	require.NoError(t, s.Commit(ctx))
	require.NoError(t, s.Close(ctx))

	assert.Len(t, store.Committed("items"), 2)
	assert.Equal(t, "mem", store.GetConnectionConfig().DBName)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	store := memdb.NewStore(dbx.ConnConfig{})

	s := begin(t, store, false)
	require.NoError(t, s.Insert(ctx, itemMeta, &Item{Code: "a"}))
	require.NoError(t, s.Rollback(ctx))
	assert.False(t, s.IsActive())
	assert.Error(t, s.Rollback(ctx))
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))

	assert.Empty(t, store.Committed("items"))
}

func TestCloseRollsBackActiveTransaction(t *testing.T) {
	ctx := context.Background()
	store := memdb.NewStore(dbx.ConnConfig{})

	s := begin(t, store, false)
	require.NoError(t, s.Insert(ctx, itemMeta, &Item{Code: "a"}))
	require.NoError(t, s.Close(ctx))

	assert.Empty(t, store.Committed("items"))
	assert.Error(t, s.Begin(ctx))
}

func TestFetchByKeys(t *testing.T) {
	ctx := context.Background()
	store := memdb.NewStore(dbx.ConnConfig{})
	seed(t, store, &Item{Code: "a"}, &Item{Code: "b"}, &Item{Code: "c"})

	s := begin(t, store, true)
	defer s.Close(ctx)

	rows, err := s.FetchByKeys(ctx, itemMeta, []int64{3, 99, 1, 3}, dbx.LockNone)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].(*Item).Code)
	assert.Equal(t, "c", rows[1].(*Item).Code)

	missing, err := s.FetchByKey(ctx, itemMeta, 42, dbx.LockNone)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpgradeNoWaitFailsImmediately(t *testing.T) {
	ctx := context.Background()
	store := memdb.NewStore(dbx.ConnConfig{})
	seed(t, store, &Item{Code: "a"})

	first := begin(t, store, false)
	second := begin(t, store, false)

	_, err := first.FetchByKey(ctx, itemMeta, 1, dbx.LockUpgradeNoWait)
	require.NoError(t, err)

	_, err = second.FetchByKey(ctx, itemMeta, 1, dbx.LockUpgradeNoWait)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dbx.ErrLockNotAvailable))

	// plain reads are not blocked
	_, err = second.FetchByKey(ctx, itemMeta, 1, dbx.LockNone)
	require.NoError(t, err)

	require.NoError(t, first.Commit(ctx))

	_, err = second.FetchByKey(ctx, itemMeta, 1, dbx.LockUpgradeNoWait)
	require.NoError(t, err)

	require.NoError(t, first.Close(ctx))
	require.NoError(t, second.Close(ctx))
}

func TestReadOnlySessionRejectsWrites(t *testing.T) {
	ctx := context.Background()
	store := memdb.NewStore(dbx.ConnConfig{})
	s := begin(t, store, true)
	defer s.Close(ctx)

	err := s.Insert(ctx, itemMeta, &Item{Code: "a"})
	assert.True(t, errors.Is(err, dbx.ErrReadOnlySession))

	_, err = s.FetchByKey(ctx, itemMeta, 1, dbx.LockUpgradeNoWait)
	assert.True(t, errors.Is(err, dbx.ErrReadOnlySession))
}

func TestUniqueConstraint(t *testing.T) {
	ctx := context.Background()
	store := memdb.NewStore(dbx.ConnConfig{})
	store.AddUniqueConstraint("items", "items_code_key", "Code")
	seed(t, store, &Item{Code: "a"})

	s := begin(t, store, false)
	defer s.Close(ctx)

	err := s.Insert(ctx, itemMeta, &Item{Code: "a"})
	require.Error(t, err)
	assert.True(t, errorx.IsConstraintViolation(err))

	var cv *errorx.ConstraintViolationError
	require.True(t, errors.As(err, &cv))
	assert.Equal(t, "items_code_key", cv.Constraint)

	err = s.Insert(ctx, itemMeta, &Item{BaseEntity: dbx.BaseEntity{ID: 1}, Code: "z"})
	assert.True(t, errorx.IsConstraintViolation(err), "duplicate primary key")
}

func TestUniqueConstraintCheckedAtCommit(t *testing.T) {
	ctx := context.Background()
	store := memdb.NewStore(dbx.ConnConfig{})
	store.AddUniqueConstraint("items", "items_code_key", "code")

	first := begin(t, store, false)
	second := begin(t, store, false)
	require.NoError(t, first.Insert(ctx, itemMeta, &Item{Code: "a"}))
	require.NoError(t, second.Insert(ctx, itemMeta, &Item{Code: "a"}))

	require.NoError(t, first.Commit(ctx))
	err := second.Commit(ctx)
	assert.True(t, errorx.IsConstraintViolation(err))
	assert.False(t, second.IsActive())

	assert.Len(t, store.Committed("items"), 1)
}

func TestUpdateAndUpsert(t *testing.T) {
	ctx := context.Background()
	store := memdb.NewStore(dbx.ConnConfig{})
	seed(t, store, &Item{Code: "a", Qty: 1})

	s := begin(t, store, false)

	err := s.Update(ctx, itemMeta, &Item{BaseEntity: dbx.BaseEntity{ID: 5}, Code: "x"})
	assert.Error(t, err, "update of a missing row")

	require.NoError(t, s.Update(ctx, itemMeta, &Item{BaseEntity: dbx.BaseEntity{ID: 1}, Code: "a", Qty: 10}))
	require.NoError(t, s.Upsert(ctx, itemMeta, &Item{Code: "b"}))
	require.NoError(t, s.Upsert(ctx, itemMeta, &Item{BaseEntity: dbx.BaseEntity{ID: 10}, Code: "c"}))
	require.NoError(t, s.Commit(ctx))
	require.NoError(t, s.Close(ctx))

	rows := store.Committed("items")
	require.Len(t, rows, 3)
	assert.Equal(t, 10, rows[0].(*Item).Qty)
	assert.Equal(t, int64(2), rows[1].(*Item).ID)
	assert.Equal(t, int64(10), rows[2].(*Item).ID)
}

func TestIdentityMap(t *testing.T) {
	ctx := context.Background()
	store := memdb.NewStore(dbx.ConnConfig{})
	seed(t, store, &Item{Code: "a", Qty: 1})

	s := begin(t, store, false)
	defer s.Close(ctx)

	got, err := s.FetchByKey(ctx, itemMeta, 1, dbx.LockNone)
	require.NoError(t, err)
	item := got.(*Item)
	assert.True(t, s.Contains(itemMeta, item))
	assert.False(t, s.Contains(itemMeta, &Item{BaseEntity: dbx.BaseEntity{ID: 1}}))

	item.Qty = 99
	require.NoError(t, s.Refresh(ctx, itemMeta, item))
	assert.Equal(t, 1, item.Qty, "refresh discards in-memory edits")

	s.Evict(itemMeta, item)
	assert.False(t, s.Contains(itemMeta, item))

	again, err := s.FetchByKey(ctx, itemMeta, 1, dbx.LockNone)
	require.NoError(t, err)
	assert.NotSame(t, item, again)

	s.Clear()
	assert.False(t, s.Contains(itemMeta, again))
	require.NoError(t, s.Flush(ctx))
}

func TestFetchedInstancesAreCopies(t *testing.T) {
	ctx := context.Background()
	store := memdb.NewStore(dbx.ConnConfig{})
	seed(t, store, &Item{Code: "a"})

	s := begin(t, store, false)
	got, err := s.FetchByKey(ctx, itemMeta, 1, dbx.LockNone)
	require.NoError(t, err)
	got.(*Item).Code = "changed"
	require.NoError(t, s.Commit(ctx))
	require.NoError(t, s.Close(ctx))

	assert.Equal(t, "a", store.Committed("items")[0].(*Item).Code, "edits without Update are not stored")
}

func TestRunQueryCriteria(t *testing.T) {
	ctx := context.Background()
	store := memdb.NewStore(dbx.ConnConfig{})
	note := "n"
	seed(t, store,
		&Item{Code: "apple", Group: "g1", Qty: 3},
		&Item{Code: "banana", Group: "g1", Qty: 1, Note: &note},
		&Item{Code: "avocado", Group: "g2", Qty: 2},
		&Item{Code: "apricot", Group: "g1", Qty: 5},
	)

	s := begin(t, store, true)
	defer s.Close(ctx)

	codes := func(rows []any) []string {
		out := make([]string, 0, len(rows))
		for _, r := range rows {
			out = append(out, r.(*Item).Code)
		}

		return out
	}

	tests := []struct {
		name  string
		query dbx.Query
		want  []string
	}{
		{
			name:  "all rows in identity order",
			query: dbx.CriteriaQuery(dbx.Where()),
			want:  []string{"apple", "banana", "avocado", "apricot"},
		},
		{
			name:  "eq and ordering",
			query: dbx.CriteriaQuery(dbx.Where().Eq("Group", "g1").OrderBy("Qty", true)),
			want:  []string{"apricot", "apple", "banana"},
		},
		{
			name:  "like by column name",
			query: dbx.CriteriaQuery(dbx.Where().Like("code", "a%").Ge("Qty", 3)),
			want:  []string{"apple", "apricot"},
		},
		{
			name:  "in",
			query: dbx.CriteriaQuery(dbx.Where().In("ID", int64(2), int64(4))),
			want:  []string{"banana", "apricot"},
		},
		{
			name:  "null checks",
			query: dbx.CriteriaQuery(dbx.Where().IsNotNull("Note")),
			want:  []string{"banana"},
		},
		{
			name:  "pagination",
			query: dbx.CriteriaQuery(dbx.Where().OrderBy("Code", false)).WithPage(2, 1),
			want:  []string{"apricot", "avocado"},
		},
		{
			name:  "offset past the end",
			query: dbx.CriteriaQuery(dbx.Where()).WithPage(dbx.NoLimit, 10),
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := s.RunQuery(ctx, itemMeta, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, codes(rows))
		})
	}

	_, err := s.RunQuery(ctx, itemMeta, dbx.CriteriaQuery(dbx.Where().Eq("Missing", 1)))
	assert.Error(t, err)
}

func TestRunQueryText(t *testing.T) {
	ctx := context.Background()
	store := memdb.NewStore(dbx.ConnConfig{})
	seed(t, store, &Item{Code: "a", Qty: 1}, &Item{Code: "b", Qty: 2})

	const text = "from Item where Qty > :qty"
	store.OnSelect(text, func(rows []any, q dbx.TextQuery) ([]any, error) {
		var out []any
		for _, r := range rows {
			if r.(*Item).Qty > q.Params["qty"].(int) {
				out = append(out, r)
			}
		}

		return out, nil
	})

	s := begin(t, store, true)
	defer s.Close(ctx)

	rows, err := s.RunQuery(ctx, itemMeta, dbx.TextQueryOf(dbx.EntityQuery(text, map[string]any{"qty": 1})))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "b", rows[0].(*Item).Code)

	_, err = s.RunQuery(ctx, itemMeta, dbx.TextQueryOf(dbx.EntityQuery("from Item", nil)))
	assert.Error(t, err)
}

func TestExecuteMutatingQuery(t *testing.T) {
	ctx := context.Background()
	store := memdb.NewStore(dbx.ConnConfig{})
	seed(t, store, &Item{Code: "a", Group: "g"}, &Item{Code: "b", Group: "g"}, &Item{Code: "c", Group: "h"})

	const text = "update Item set Code = upper(Code) where Group = :group"
	store.OnUpdate(text, func(rows []any, q dbx.TextQuery) ([]any, error) {
		var out []any
		for _, r := range rows {
			it := r.(*Item)
			if it.Group == q.Params["group"] {
				it.Code = strings.ToUpper(it.Code)
				out = append(out, it)
			}
		}

		return out, nil
	})

	s := begin(t, store, false)
	n, err := s.ExecuteMutatingQuery(ctx, itemMeta, dbx.EntityQuery(text, map[string]any{"group": "g"}))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, s.Commit(ctx))
	require.NoError(t, s.Close(ctx))

	rows := store.Committed("items")
	assert.Equal(t, "A", rows[0].(*Item).Code)
	assert.Equal(t, "B", rows[1].(*Item).Code)
	assert.Equal(t, "c", rows[2].(*Item).Code)
}

func TestRunAggregate(t *testing.T) {
	ctx := context.Background()
	store := memdb.NewStore(dbx.ConnConfig{})
	seed(t, store,
		&Item{Code: "a", Group: "g", Qty: 1, Amount: decimal.RequireFromString("1.25")},
		&Item{Code: "b", Group: "g", Qty: 4, Amount: decimal.RequireFromString("2.50")},
	)

	s := begin(t, store, true)
	defer s.Close(ctx)

	byGroup := dbx.Where().Eq("Group", "g")
	none := dbx.Where().Eq("Group", "missing")

	count, err := s.RunAggregate(ctx, itemMeta, dbx.Aggregate{Kind: dbx.Count, Criteria: byGroup})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count.Int)

	sum, err := s.RunAggregate(ctx, itemMeta, dbx.Aggregate{Kind: dbx.Sum, Field: "Amount", Criteria: byGroup})
	require.NoError(t, err)
	assert.Equal(t, "3.75", sum.Decimal.String())

	maximum, err := s.RunAggregate(ctx, itemMeta, dbx.Aggregate{Kind: dbx.Max, Field: "Qty", Criteria: byGroup})
	require.NoError(t, err)
	assert.False(t, maximum.Null)
	assert.Equal(t, int64(4), maximum.Int)

	count, err = s.RunAggregate(ctx, itemMeta, dbx.Aggregate{Kind: dbx.Count, Criteria: none})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count.Int)

	sum, err = s.RunAggregate(ctx, itemMeta, dbx.Aggregate{Kind: dbx.Sum, Field: "Amount", Criteria: none})
	require.NoError(t, err)
	assert.True(t, sum.Decimal.IsZero())

	maximum, err = s.RunAggregate(ctx, itemMeta, dbx.Aggregate{Kind: dbx.Max, Field: "Qty", Criteria: none})
	require.NoError(t, err)
	assert.True(t, maximum.Null)

	_, err = s.RunAggregate(ctx, itemMeta, dbx.Aggregate{Kind: dbx.Sum, Field: "Code", Criteria: byGroup})
	assert.Error(t, err)
}

func TestClosedStore(t *testing.T) {
	store := memdb.NewStore(dbx.ConnConfig{})
	store.Close()
	store.Close()

	_, err := store.OpenSession(context.Background(), false)
	assert.Error(t, err)
}
