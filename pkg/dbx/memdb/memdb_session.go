package memdb

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/marcodd23/go-micro-dao/pkg/errorx"
	"github.com/marcodd23/go-micro-dao/pkg/utilx/copyx"
	"github.com/pkg/errors"
)

// Session is a memdb session. It implements dbx.Session.
type Session struct {
	id       string
	store    *Store
	readOnly bool
	active   bool
	closed   bool
	// pending holds the staged copies of written rows, per table and id.
	pending map[string]map[int64]any
	// tracked is the identity map: the instances handed out to the caller.
	tracked map[string]map[int64]any
	locked  []lockRef
}

type lockRef struct {
	table *table
	id    int64
}

func (s *Session) ID() string { return s.id }

func (s *Session) ReadOnly() bool { return s.readOnly }

func (s *Session) IsActive() bool {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	return s.active
}

func (s *Session) Begin(ctx context.Context) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if s.closed {
		return errors.New("memdb: session is closed")
	}

	if s.active {
		return errors.New("memdb: transaction already active")
	}

	s.active = true

	return nil
}

func (s *Session) Commit(ctx context.Context) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if !s.active {
		return errors.New("memdb: no active transaction")
	}

	defer s.endTx()

	for tableName, rows := range s.pending {
		t := s.store.tables[tableName]
		for id, row := range rows {
			if err := s.checkUniques(t, id, row, true); err != nil {
				return err
			}
		}
	}

	for tableName, rows := range s.pending {
		t := s.store.tables[tableName]
		for id, row := range rows {
			t.rows[id] = row
		}
	}

	return nil
}

func (s *Session) Rollback(ctx context.Context) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if !s.active {
		return errors.New("memdb: no active transaction")
	}

	s.endTx()

	return nil
}

func (s *Session) Close(ctx context.Context) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if s.closed {
		return nil
	}

	if s.active {
		s.endTx()
	}

	s.closed = true
	s.tracked = make(map[string]map[int64]any)

	return nil
}

// endTx discards staged writes and releases row locks. Callers hold store.mu.
func (s *Session) endTx() {
	for _, l := range s.locked {
		if l.table.locks[l.id] == s.id {
			delete(l.table.locks, l.id)
		}
	}

	s.locked = nil
	s.pending = make(map[string]map[int64]any)
	s.active = false
}

func (s *Session) FetchByKey(ctx context.Context, meta *dbx.EntityMeta, id int64, mode dbx.LockMode) (any, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if err := s.checkLockMode(mode); err != nil {
		return nil, err
	}

	t := s.store.tableFor(meta)

	row := s.view(t, meta.Table(), id)
	if row == nil {
		return nil, nil
	}

	if mode == dbx.LockUpgradeNoWait {
		if err := s.lock(t, meta, id); err != nil {
			return nil, err
		}
	}

	return s.materialize(meta, id, row), nil
}

func (s *Session) FetchByKeys(ctx context.Context, meta *dbx.EntityMeta, ids []int64, mode dbx.LockMode) ([]any, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if err := s.checkLockMode(mode); err != nil {
		return nil, err
	}

	t := s.store.tableFor(meta)

	unique := make(map[int64]struct{}, len(ids))
	sorted := make([]int64, 0, len(ids))

	for _, id := range ids {
		if _, seen := unique[id]; !seen {
			unique[id] = struct{}{}
			sorted = append(sorted, id)
		}
	}

	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	result := make([]any, 0, len(sorted))

	for _, id := range sorted {
		row := s.view(t, meta.Table(), id)
		if row == nil {
			continue
		}

		if mode == dbx.LockUpgradeNoWait {
			if err := s.lock(t, meta, id); err != nil {
				return nil, err
			}
		}

		result = append(result, s.materialize(meta, id, row))
	}

	return result, nil
}

func (s *Session) Insert(ctx context.Context, meta *dbx.EntityMeta, entity any) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if err := s.checkWrite(meta, entity); err != nil {
		return err
	}

	return s.insert(meta, entity)
}

func (s *Session) Update(ctx context.Context, meta *dbx.EntityMeta, entity any) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if err := s.checkWrite(meta, entity); err != nil {
		return err
	}

	return s.update(meta, entity)
}

func (s *Session) Upsert(ctx context.Context, meta *dbx.EntityMeta, entity any) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if err := s.checkWrite(meta, entity); err != nil {
		return err
	}

	id := meta.ID(entity)
	if id == 0 || s.view(s.store.tableFor(meta), meta.Table(), id) == nil {
		return s.insert(meta, entity)
	}

	return s.update(meta, entity)
}

func (s *Session) insert(meta *dbx.EntityMeta, entity any) error {
	t := s.store.tableFor(meta)
	e, ok := entity.(dbx.Entity)
	if !ok {
		return errors.Errorf("memdb: %T does not implement dbx.Entity", entity)
	}

	id := e.GetID()
	if id == 0 {
		t.seq++
		id = t.seq
	} else {
		if s.view(t, meta.Table(), id) != nil {
			name := meta.Table() + "_pkey"

			return errorx.NewConstraintViolationError(name, "duplicate key value violates unique constraint %q", name)
		}

		if id > t.seq {
			t.seq = id
		}
	}

	row := copyx.Clone(entity)
	row.(dbx.Entity).SetID(id)

	if err := s.checkUniques(t, id, row, false); err != nil {
		return err
	}

	if err := s.lock(t, meta, id); err != nil {
		return err
	}

	e.SetID(id)
	s.stage(meta.Table(), id, row)
	s.track(meta.Table(), id, entity)

	return nil
}

func (s *Session) update(meta *dbx.EntityMeta, entity any) error {
	t := s.store.tableFor(meta)
	id := meta.ID(entity)

	if id == 0 || s.view(t, meta.Table(), id) == nil {
		return errors.Errorf("memdb: update of %s with id %d: row does not exist", meta.Name(), id)
	}

	row := copyx.Clone(entity)
	if err := s.checkUniques(t, id, row, false); err != nil {
		return err
	}

	if err := s.lock(t, meta, id); err != nil {
		return err
	}

	s.stage(meta.Table(), id, row)
	s.track(meta.Table(), id, entity)

	return nil
}

func (s *Session) RunQuery(ctx context.Context, meta *dbx.EntityMeta, query dbx.Query) ([]any, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	t := s.store.tableFor(meta)
	rows := s.rows(t, meta.Table())

	var (
		result []any
		err    error
	)

	if query.Text != nil {
		fn, ok := s.store.selects[query.Text.Text]
		if !ok {
			return nil, errors.Errorf("memdb: no select handler registered for %q", query.Text.Text)
		}

		if result, err = fn(rows, *query.Text); err != nil {
			return nil, err
		}
	} else {
		if result, err = filterRows(meta, rows, query.Criteria); err != nil {
			return nil, err
		}

		if err = sortRows(meta, result, query.Criteria.Orders()); err != nil {
			return nil, err
		}
	}

	result = applyPage(result, query.Page)

	for i, row := range result {
		result[i] = s.materialize(meta, meta.ID(row), row)
	}

	return result, nil
}

func (s *Session) RunAggregate(ctx context.Context, meta *dbx.EntityMeta, aggregate dbx.Aggregate) (dbx.Scalar, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	t := s.store.tableFor(meta)

	matched, err := filterRows(meta, s.rows(t, meta.Table()), aggregate.Criteria)
	if err != nil {
		return dbx.Scalar{}, err
	}

	return aggregateRows(meta, matched, aggregate)
}

func (s *Session) ExecuteMutatingQuery(ctx context.Context, meta *dbx.EntityMeta, query dbx.TextQuery) (int64, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if err := s.checkWritable(); err != nil {
		return 0, err
	}

	fn, ok := s.store.updates[query.Text]
	if !ok {
		return 0, errors.Errorf("memdb: no update handler registered for %q", query.Text)
	}

	t := s.store.tableFor(meta)

	updated, err := fn(s.rows(t, meta.Table()), query)
	if err != nil {
		return 0, err
	}

	for _, row := range updated {
		id := meta.ID(row)
		if err := s.checkUniques(t, id, row, false); err != nil {
			return 0, err
		}

		if err := s.lock(t, meta, id); err != nil {
			return 0, err
		}

		s.stage(meta.Table(), id, copyx.Clone(row))
	}

	return int64(len(updated)), nil
}

func (s *Session) Contains(meta *dbx.EntityMeta, entity any) bool {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	tracked, ok := s.tracked[meta.Table()][meta.ID(entity)]

	return ok && tracked == entity
}

// Refresh overwrites entity with the row visible to the session, discarding in-memory edits.
func (s *Session) Refresh(ctx context.Context, meta *dbx.EntityMeta, entity any) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if err := meta.Check(entity); err != nil {
		return err
	}

	id := meta.ID(entity)

	row := s.view(s.store.tableFor(meta), meta.Table(), id)
	if row == nil {
		return errors.Errorf("memdb: refresh of %s with id %d: row does not exist", meta.Name(), id)
	}

	reflect.ValueOf(entity).Elem().Set(reflect.ValueOf(copyx.Clone(row)).Elem())

	return nil
}

func (s *Session) Evict(meta *dbx.EntityMeta, entity any) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	id := meta.ID(entity)
	if tracked, ok := s.tracked[meta.Table()][id]; ok && tracked == entity {
		delete(s.tracked[meta.Table()], id)
	}
}

// Flush is a no-op: writes are staged as soon as they are issued.
func (s *Session) Flush(ctx context.Context) error {
	return nil
}

func (s *Session) Clear() {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	s.tracked = make(map[string]map[int64]any)
}

func (s *Session) String() string {
	return fmt.Sprintf("memdb.Session(%s)", s.id)
}

// view returns the row visible to the session: its own staged write, or the committed row.
func (s *Session) view(t *table, tableName string, id int64) any {
	if row, ok := s.pending[tableName][id]; ok {
		return row
	}

	return t.rows[id]
}

// rows returns copies of every row visible to the session, in identity order.
func (s *Session) rows(t *table, tableName string) []any {
	ids := make([]int64, 0, len(t.rows)+len(s.pending[tableName]))

	for id := range t.rows {
		ids = append(ids, id)
	}

	for id := range s.pending[tableName] {
		if _, ok := t.rows[id]; !ok {
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rows := make([]any, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, copyx.Clone(s.view(t, tableName, id)))
	}

	return rows
}

// materialize returns the tracked instance for id, or tracks a copy of row.
func (s *Session) materialize(meta *dbx.EntityMeta, id int64, row any) any {
	if tracked, ok := s.tracked[meta.Table()][id]; ok {
		return tracked
	}

	instance := copyx.Clone(row)
	s.track(meta.Table(), id, instance)

	return instance
}

func (s *Session) track(tableName string, id int64, entity any) {
	if s.tracked[tableName] == nil {
		s.tracked[tableName] = make(map[int64]any)
	}

	s.tracked[tableName][id] = entity
}

func (s *Session) stage(tableName string, id int64, row any) {
	if s.pending[tableName] == nil {
		s.pending[tableName] = make(map[int64]any)
	}

	s.pending[tableName][id] = row
}

func (s *Session) lock(t *table, meta *dbx.EntityMeta, id int64) error {
	owner, locked := t.locks[id]
	if locked {
		if owner == s.id {
			return nil
		}

		return errors.Wrapf(dbx.ErrLockNotAvailable, "memdb: %s with id %d is locked by another session", meta.Name(), id)
	}

	t.locks[id] = s.id
	s.locked = append(s.locked, lockRef{table: t, id: id})

	return nil
}

func (s *Session) checkLockMode(mode dbx.LockMode) error {
	if mode != dbx.LockUpgradeNoWait {
		return nil
	}

	return s.checkWritable()
}

func (s *Session) checkWritable() error {
	if s.closed {
		return errors.New("memdb: session is closed")
	}

	if s.readOnly {
		return errors.WithStack(dbx.ErrReadOnlySession)
	}

	if !s.active {
		return errors.New("memdb: no active transaction")
	}

	return nil
}

func (s *Session) checkWrite(meta *dbx.EntityMeta, entity any) error {
	if err := s.checkWritable(); err != nil {
		return err
	}

	return meta.Check(entity)
}

// checkUniques verifies the unique constraints of t for row. When committed is true only the
// committed rows not overwritten by this session are compared, otherwise the session view is.
func (s *Session) checkUniques(t *table, id int64, row any, committed bool) error {
	if len(t.uniques) == 0 || t.meta == nil {
		return nil
	}

	tableName := t.meta.Table()

	var others []any

	if committed {
		for otherID, other := range t.rows {
			if _, overwritten := s.pending[tableName][otherID]; !overwritten && otherID != id {
				others = append(others, other)
			}
		}
	} else {
		for _, other := range s.rows(t, tableName) {
			if t.meta.ID(other) != id {
				others = append(others, other)
			}
		}
	}

	for _, u := range t.uniques {
		key, err := uniqueKey(t.meta, row, u.columns)
		if err != nil {
			return err
		}

		for _, other := range others {
			otherKey, err := uniqueKey(t.meta, other, u.columns)
			if err != nil {
				return err
			}

			if reflect.DeepEqual(key, otherKey) {
				return errorx.NewConstraintViolationError(u.name, "duplicate key value violates unique constraint %q", u.name)
			}
		}
	}

	return nil
}

func uniqueKey(meta *dbx.EntityMeta, row any, columns []string) ([]any, error) {
	key := make([]any, 0, len(columns))

	for _, name := range columns {
		c, ok := meta.Column(name)
		if !ok {
			return nil, errors.Errorf("memdb: unknown column %q in unique constraint of %s", name, meta.Name())
		}

		key = append(key, meta.Value(row, c))
	}

	return key, nil
}
