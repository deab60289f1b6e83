package datastore_test

import (
	"context"
	"sync"
	"testing"

	"github.com/marcodd23/go-micro-dao/pkg/datastore"
	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/marcodd23/go-micro-dao/pkg/dbx/memdb"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingOpener opens memdb stores and records every call.
type countingOpener struct {
	mu     sync.Mutex
	calls  []dbx.ConnConfig
	stores []*memdb.Store
	fail   error
}

func (o *countingOpener) open(_ context.Context, conf dbx.ConnConfig) (dbx.Store, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.calls = append(o.calls, conf)
	if o.fail != nil {
		return nil, o.fail
	}

	s := memdb.NewStore(conf)
	o.stores = append(o.stores, s)

	return s, nil
}

func TestFactoryOpensOnce(t *testing.T) {
	ctx := context.Background()
	opener := &countingOpener{}
	f := datastore.NewFactory(dbx.ConnConfig{DBName: "notes"}, datastore.WithOpener(opener.open))

	assert.Empty(t, opener.calls, "nothing is opened before first use")

	var wg sync.WaitGroup
	stores := make([]dbx.Store, 8)
	for i := range stores {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := f.Store(ctx)
			assert.NoError(t, err)
			stores[i] = s
		}(i)
	}
	wg.Wait()

	require.Len(t, opener.calls, 1)
	for _, s := range stores {
		assert.Same(t, opener.stores[0], s)
	}

	assert.Equal(t, "notes", f.Config().DBName)
}

func TestFactoryClose(t *testing.T) {
	ctx := context.Background()
	opener := &countingOpener{}
	f := datastore.NewFactory(dbx.ConnConfig{}, datastore.WithOpener(opener.open))

	store, err := f.Store(ctx)
	require.NoError(t, err)

	f.Close()
	f.Close()
	assert.True(t, f.Closed())

	_, err = store.OpenSession(ctx, false)
	require.Error(t, err, "the underlying store is closed")

	_, err = f.Store(ctx)
	assert.True(t, errors.Is(err, datastore.ErrClosed))
	assert.Len(t, opener.calls, 1)
}

func TestFactoryOpenFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	opener := &countingOpener{fail: errors.New("connection refused")}
	f := datastore.NewFactory(dbx.ConnConfig{DBName: "notes"}, datastore.WithOpener(opener.open))

	_, err := f.Store(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	opener.fail = nil

	_, err = f.Store(ctx)
	require.NoError(t, err)
	assert.Len(t, opener.calls, 2)
}

func TestFactoryWithReplica(t *testing.T) {
	ctx := context.Background()
	opener := &countingOpener{}
	f := datastore.NewFactory(dbx.ConnConfig{DBName: "master"},
		datastore.WithOpener(opener.open),
		datastore.WithReplica(dbx.ConnConfig{DBName: "replica"}))

	store, err := f.Store(ctx)
	require.NoError(t, err)

	rs, ok := store.(*dbx.ReplicatedStore)
	require.True(t, ok)
	assert.Same(t, opener.stores[0], rs.Master)
	assert.Same(t, opener.stores[1], rs.Replica)
	assert.Equal(t, "master", store.GetConnectionConfig().DBName)

	f.Close()
}

func TestDefaultFactory(t *testing.T) {
	ctx := context.Background()
	opener := &countingOpener{}

	first := datastore.Setup(dbx.ConnConfig{DBName: "one"}, datastore.WithOpener(opener.open))
	again := datastore.Setup(dbx.ConnConfig{DBName: "two"}, datastore.WithOpener(opener.open))
	assert.Same(t, first, again)

	s1, err := datastore.Default(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one", s1.GetConnectionConfig().DBName)

	datastore.Close()
	datastore.Close()

	_, err = datastore.Default(ctx)
	assert.True(t, errors.Is(err, datastore.ErrClosed))

	fresh := datastore.Setup(dbx.ConnConfig{DBName: "three"}, datastore.WithOpener(opener.open))
	assert.NotSame(t, first, fresh)

	s3, err := datastore.Default(ctx)
	require.NoError(t, err)
	assert.Equal(t, "three", s3.GetConnectionConfig().DBName)

	datastore.Close()
}
