// Package memdb provides a transactional in-memory dbx.Store.
//
// Sessions stage their writes and apply them on Commit; Rollback and Close discard them.
// Rows fetched with dbx.LockUpgradeNoWait are locked until the owning session ends, and a
// second session asking for the same lock, or writing the row, fails at once with
// dbx.ErrLockNotAvailable. Unique constraints registered with AddUniqueConstraint raise
// errorx.ConstraintViolationError.
//
// Criteria queries and aggregates are evaluated by reflection over the entity fields.
// Text queries have no parser: their results come from handlers registered with OnSelect
// and OnUpdate, keyed by the exact query text.
package memdb

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/marcodd23/go-micro-dao/pkg/logx"
	"github.com/marcodd23/go-micro-dao/pkg/utilx/copyx"
	"github.com/pkg/errors"
)

// SelectFunc answers a text query. rows are copies of every row of the table visible to the session.
type SelectFunc func(rows []any, query dbx.TextQuery) ([]any, error)

// UpdateFunc answers a mutating text query. It modifies the rows it wants to update and returns them.
type UpdateFunc func(rows []any, query dbx.TextQuery) ([]any, error)

type uniqueConstraint struct {
	name    string
	columns []string
}

type table struct {
	meta    *dbx.EntityMeta
	rows    map[int64]any
	seq     int64
	locks   map[int64]string
	uniques []uniqueConstraint
}

// Store is an in-memory dbx.Store. The zero value is not usable, use NewStore.
type Store struct {
	mu      sync.Mutex
	conf    dbx.ConnConfig
	tables  map[string]*table
	selects map[string]SelectFunc
	updates map[string]UpdateFunc
	closed  bool
}

// NewStore creates an empty store. conf is only reported back by GetConnectionConfig.
func NewStore(conf dbx.ConnConfig) *Store {
	return &Store{
		conf:    conf,
		tables:  make(map[string]*table),
		selects: make(map[string]SelectFunc),
		updates: make(map[string]UpdateFunc),
	}
}

// AddUniqueConstraint registers a unique constraint over the given columns of tableName.
func (s *Store) AddUniqueConstraint(tableName, name string, columns ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(tableName)
	t.uniques = append(t.uniques, uniqueConstraint{name: name, columns: columns})
}

// OnSelect registers the handler answering the query text.
func (s *Store) OnSelect(text string, fn SelectFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.selects[text] = fn
}

// OnUpdate registers the handler answering the mutating query text.
func (s *Store) OnUpdate(text string, fn UpdateFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updates[text] = fn
}

// Committed returns copies of the committed rows of tableName in identity order.
func (s *Store) Committed(tableName string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[tableName]
	if !ok {
		return nil
	}

	ids := make([]int64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rows := make([]any, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, copyx.Clone(t.rows[id]))
	}

	return rows
}

func (s *Store) OpenSession(ctx context.Context, readOnly bool) (dbx.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("memdb: store is closed")
	}

	return &Session{
		id:       uuid.NewString(),
		store:    s,
		readOnly: readOnly,
		pending:  make(map[string]map[int64]any),
		tracked:  make(map[string]map[int64]any),
	}, nil
}

func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		logx.GetLogger().LogInfo(context.TODO(), "memdb store closed")
	}
}

func (s *Store) GetConnectionConfig() dbx.ConnConfig {
	return s.conf
}

// table returns the table, creating it on first use. Callers hold s.mu.
func (s *Store) table(name string) *table {
	t, ok := s.tables[name]
	if !ok {
		t = &table{
			rows:  make(map[int64]any),
			locks: make(map[int64]string),
		}
		s.tables[name] = t
	}

	return t
}

func (s *Store) tableFor(meta *dbx.EntityMeta) *table {
	t := s.table(meta.Table())
	if t.meta == nil {
		t.meta = meta
	}

	return t
}
