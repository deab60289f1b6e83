package dbx_test

import (
	"context"
	"testing"

	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedSession struct {
	dbx.Session
	store    string
	readOnly bool
}

type namedStore struct {
	name   string
	closed int
}

func (s *namedStore) OpenSession(_ context.Context, readOnly bool) (dbx.Session, error) {
	return &namedSession{store: s.name, readOnly: readOnly}, nil
}

func (s *namedStore) Close() { s.closed++ }

func (s *namedStore) GetConnectionConfig() dbx.ConnConfig {
	return dbx.ConnConfig{DBName: s.name}
}

func TestReplicatedStoreRouting(t *testing.T) {
	master := &namedStore{name: "master"}
	replica := &namedStore{name: "replica"}
	rs := dbx.NewReplicatedStore(master, replica)

	s, err := rs.OpenSession(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "replica", s.(*namedSession).store)

	s, err = rs.OpenSession(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "master", s.(*namedSession).store)

	assert.Equal(t, "master", rs.GetConnectionConfig().DBName)

	rs.Close()
	assert.Equal(t, 1, master.closed)
	assert.Equal(t, 1, replica.closed)
}

func TestReplicatedStoreWithoutReplica(t *testing.T) {
	master := &namedStore{name: "master"}
	rs := dbx.NewReplicatedStore(master, nil)

	s, err := rs.OpenSession(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "master", s.(*namedSession).store)
	assert.True(t, s.(*namedSession).readOnly)

	_, err = dbx.NewReplicatedStore(nil, nil).OpenSession(context.Background(), false)
	assert.Error(t, err)
}
