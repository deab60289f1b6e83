package uow_test

import (
	"context"
	"testing"

	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/marcodd23/go-micro-dao/pkg/dbx/memdb"
	"github.com/marcodd23/go-micro-dao/pkg/errorx"
	"github.com/marcodd23/go-micro-dao/pkg/logx"
	"github.com/marcodd23/go-micro-dao/pkg/uow"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type note struct {
	dbx.BaseEntity
	Text string `db:"text"`
}

var noteMeta = dbx.MustEntityMeta[*note]("notes")

// failingStore opens sessions whose Begin fails.
type failingStore struct {
	dbx.Store
	opened []*failingSession
}

type failingSession struct {
	dbx.Session
	closed bool
}

func (s *failingStore) OpenSession(context.Context, bool) (dbx.Session, error) {
	sess := &failingSession{}
	s.opened = append(s.opened, sess)

	return sess, nil
}

func (s *failingSession) Begin(context.Context) error { return errors.New("connection reset") }

func (s *failingSession) Close(context.Context) error {
	s.closed = true
	return nil
}

func TestBeginCommitEnd(t *testing.T) {
	ctx := context.Background()
	store := memdb.NewStore(dbx.ConnConfig{})
	mgr := uow.NewManager(store, false)

	uctx, u, err := mgr.Begin(ctx)
	require.NoError(t, err)
	assert.Equal(t, uow.Active, u.State())
	assert.False(t, u.ReadOnly())
	assert.Equal(t, u.ID(), logx.CorrelationID(uctx))

	bound, ok := uow.FromContext(uctx)
	require.True(t, ok)
	assert.Same(t, u, bound)

	_, ok = uow.FromContext(ctx)
	assert.False(t, ok)

	require.NoError(t, u.Session().Insert(uctx, noteMeta, &note{Text: "A"}))
	require.NoError(t, mgr.End(uctx, u))

	assert.Equal(t, uow.Closed, u.State())
	assert.True(t, u.Committed())
	assert.Len(t, store.Committed("notes"), 1)

	// a closed unit is no longer joinable
	_, ok = uow.FromContext(uctx)
	assert.False(t, ok)

	// closing twice is a no-op
	mgr.Close(uctx, u)
	require.NoError(t, mgr.End(uctx, u))
	assert.Equal(t, uow.Closed, u.State())
}

func TestBeginFailureClosesSession(t *testing.T) {
	store := &failingStore{}
	mgr := uow.NewManager(store, true)

	_, u, err := mgr.Begin(context.Background())
	require.Error(t, err)
	assert.Nil(t, u)
	require.Len(t, store.opened, 1)
	assert.True(t, store.opened[0].closed)
}

func TestRollbackIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memdb.NewStore(dbx.ConnConfig{})
	mgr := uow.NewManager(store, false)

	uctx, u, err := mgr.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, u.Session().Insert(uctx, noteMeta, &note{Text: "A"}))

	require.NoError(t, mgr.Rollback(uctx, u))
	assert.Equal(t, uow.RolledBack, u.State())
	require.NoError(t, mgr.Rollback(uctx, u))

	// nothing left to commit
	require.NoError(t, mgr.End(uctx, u))
	assert.False(t, u.Committed())
	assert.Empty(t, store.Committed("notes"))
}

func TestOnError(t *testing.T) {
	ctx := context.Background()

	t.Run("rolls back and closes", func(t *testing.T) {
		store := memdb.NewStore(dbx.ConnConfig{})
		mgr := uow.NewManager(store, false)

		uctx, u, err := mgr.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, u.Session().Insert(uctx, noteMeta, &note{Text: "A"}))

		mgr.OnError(uctx, u, errors.New("boom"))

		assert.Equal(t, uow.Closed, u.State())
		assert.False(t, u.Session().IsActive())
		assert.Empty(t, store.Committed("notes"))
	})

	t.Run("constraint violation skips rollback but closes", func(t *testing.T) {
		store := memdb.NewStore(dbx.ConnConfig{})
		mgr := uow.NewManager(store, false)

		uctx, u, err := mgr.Begin(ctx)
		require.NoError(t, err)

		mgr.OnError(uctx, u, errorx.NewConstraintViolationError("notes_pkey", "duplicate key"))

		assert.Equal(t, uow.Closed, u.State())
		assert.False(t, u.Session().IsActive())

		// a second call has nothing left to do
		assert.NotPanics(t, func() { mgr.OnError(uctx, u, errors.New("again")) })
	})
}

func TestCommitFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := memdb.NewStore(dbx.ConnConfig{})
	store.AddUniqueConstraint("notes", "notes_text_key", "text")
	mgr := uow.NewManager(store, false)

	first, u1, err := mgr.Begin(ctx)
	require.NoError(t, err)
	second, u2, err := mgr.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, u1.Session().Insert(first, noteMeta, &note{Text: "same"}))
	require.NoError(t, u2.Session().Insert(second, noteMeta, &note{Text: "same"}))

	require.NoError(t, mgr.End(first, u1))

	err = mgr.End(second, u2)
	require.Error(t, err)
	assert.True(t, errorx.IsConstraintViolation(err))
	assert.False(t, u2.Committed())
	assert.Equal(t, uow.Closed, u2.State())
	assert.Len(t, store.Committed("notes"), 1)
}

func TestReadOnlyUnit(t *testing.T) {
	ctx := context.Background()
	mgr := uow.NewManager(memdb.NewStore(dbx.ConnConfig{}), true)

	uctx, u, err := mgr.Begin(ctx)
	require.NoError(t, err)
	defer mgr.Close(uctx, u)

	assert.True(t, u.ReadOnly())

	err = u.Session().Insert(uctx, noteMeta, &note{Text: "A"})
	assert.True(t, errors.Is(err, dbx.ErrReadOnlySession))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "not-started", uow.NotStarted.String())
	assert.Equal(t, "rolled-back", uow.RolledBack.String())
	assert.Equal(t, "State(9)", uow.State(9).String())
}

func TestForStore(t *testing.T) {
	ctx := context.Background()
	storeA := memdb.NewStore(dbx.ConnConfig{DBName: "a"})
	storeB := memdb.NewStore(dbx.ConnConfig{DBName: "b"})

	mgrA := uow.NewManager(storeA, false)
	actx, a, err := mgrA.Begin(ctx)
	require.NoError(t, err)
	defer mgrA.Close(actx, a)

	assert.Same(t, storeA, a.Store())

	bound, ok := uow.ForStore(actx, storeA)
	require.True(t, ok)
	assert.Same(t, a, bound)

	_, ok = uow.ForStore(actx, storeB)
	assert.False(t, ok)

	_, ok = uow.ForStore(actx, nil)
	assert.False(t, ok)

	// a unit of another store begun on top does not hide the first one
	mgrB := uow.NewManager(storeB, false)
	bctx, b, err := mgrB.Begin(actx)
	require.NoError(t, err)

	current, ok := uow.FromContext(bctx)
	require.True(t, ok)
	assert.Same(t, b, current)

	bound, ok = uow.ForStore(bctx, storeA)
	require.True(t, ok)
	assert.Same(t, a, bound)

	mgrB.Close(bctx, b)

	_, ok = uow.ForStore(bctx, storeB)
	assert.False(t, ok)
}
