// Package dao exposes generic, transactional data access per entity type.
//
// Every EntityDao operation is one transactional call: it begins a unit of work, runs the
// record operation, applies the optional result handler, then commits, or rolls back on
// failure. A call made with a context that already carries a unit of work joins it, which
// is how chained steps of a TransactionContext become part of one atomic unit.
package dao

import (
	"context"

	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Validator checks an entity before it is written.
type Validator interface {
	Validate(entity any) error
}

// Option configures an EntityDao.
type Option func(*options)

type options struct {
	validator Validator
}

// WithValidation validates every entity before insert and update.
// Failures are reported as errorx.ValidationFailedError.
func WithValidation(v Validator) Option {
	return func(o *options) {
		o.validator = v
	}
}

// Updater receives the resolved entity and returns the entity to write.
// Returning false declines the update.
type Updater[E any] func(entity E) (E, bool)

// EntityDao - transactional data access for entities of type E.
type EntityDao[E dbx.Entity] struct {
	store   dbx.Store
	gateway recordGateway[E]
}

// NewEntityDao - EntityDao constructor. meta must describe E.
func NewEntityDao[E dbx.Entity](store dbx.Store, meta *dbx.EntityMeta, opts ...Option) (*EntityDao[E], error) {
	if store == nil {
		return nil, errors.New("dao: store is nil")
	}

	if meta == nil {
		return nil, errors.New("dao: entity meta is nil")
	}

	if _, ok := meta.New().(E); !ok {
		var zero E
		return nil, errors.Errorf("dao: meta of %s does not describe %T", meta.Name(), zero)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return &EntityDao[E]{
		store:   store,
		gateway: recordGateway[E]{meta: meta, validator: o.validator},
	}, nil
}

// MustEntityDao is like NewEntityDao but panics on error.
func MustEntityDao[E dbx.Entity](store dbx.Store, meta *dbx.EntityMeta, opts ...Option) *EntityDao[E] {
	d, err := NewEntityDao[E](store, meta, opts...)
	if err != nil {
		panic(err)
	}

	return d
}

func (d *EntityDao[E]) Meta() *dbx.EntityMeta { return d.gateway.meta }

func (d *EntityDao[E]) Store() dbx.Store { return d.store }

type found[E any] struct {
	entity E
	ok     bool
}

func (d *EntityDao[E]) get(mode dbx.LockMode) operation[int64, found[E]] {
	return func(ctx context.Context, s dbx.Session, id int64) (found[E], error) {
		e, ok, err := d.gateway.getByID(ctx, s, id, mode)
		return found[E]{entity: e, ok: ok}, err
	}
}

func (d *EntityDao[E]) getMany(mode dbx.LockMode) operation[[]int64, []E] {
	return func(ctx context.Context, s dbx.Session, ids []int64) ([]E, error) {
		return d.gateway.getByIDs(ctx, s, ids, mode)
	}
}

func (d *EntityDao[E]) save(ctx context.Context, s dbx.Session, entity E) (E, error) {
	return d.gateway.insertOrUpdate(ctx, s, entity)
}

func (d *EntityDao[E]) saveAll(ctx context.Context, s dbx.Session, entities []E) ([]E, error) {
	return d.gateway.insertOrUpdateBatch(ctx, s, entities)
}

func (d *EntityDao[E]) selectQuery(ctx context.Context, s dbx.Session, q dbx.Query) ([]E, error) {
	return d.gateway.query(ctx, s, q)
}

// Get returns the entity with the given id. A missing entity is not an error: ok is false.
func (d *EntityDao[E]) Get(ctx context.Context, id int64) (E, bool, error) {
	return GetWith(ctx, d, id, func(e E, ok bool) (E, bool) { return e, ok })
}

// GetMany returns the entities with the given ids, in store order. Missing ids are omitted.
func (d *EntityDao[E]) GetMany(ctx context.Context, ids []int64) ([]E, error) {
	return GetManyWith(ctx, d, ids, func(es []E) []E { return es })
}

func (d *EntityDao[E]) Exists(ctx context.Context, id int64) (bool, error) {
	_, ok, err := d.Get(ctx, id)
	return ok, err
}

// Save inserts a new entity, or updates an existing one, and returns it with its identity set.
func (d *EntityDao[E]) Save(ctx context.Context, entity E) (E, error) {
	return SaveWith(ctx, d, entity, func(e E) E { return e })
}

// SaveAll writes the entities in order within one unit of work.
func (d *EntityDao[E]) SaveAll(ctx context.Context, entities []E) ([]E, error) {
	return execute(ctx, d.store, false, d.saveAll, entities, identity[[]E])
}

// Update resolves id, applies updater and writes the result.
// It reports false, and writes nothing, when id does not resolve or updater declines.
func (d *EntityDao[E]) Update(ctx context.Context, id int64, updater Updater[E]) (bool, error) {
	return d.update(ctx, id, dbx.LockNone, updater)
}

// UpdateInLock is Update with the row locked for write. It fails at once,
// with dbx.ErrLockNotAvailable in the chain, when another unit holds the lock.
func (d *EntityDao[E]) UpdateInLock(ctx context.Context, id int64, updater Updater[E]) (bool, error) {
	return d.update(ctx, id, dbx.LockUpgradeNoWait, updater)
}

func (d *EntityDao[E]) update(ctx context.Context, id int64, mode dbx.LockMode, updater Updater[E]) (bool, error) {
	return execute(ctx, d.store, false, d.get(mode), id,
		func(ctx context.Context, s dbx.Session, f found[E]) (bool, error) {
			if !f.ok {
				return false, nil
			}

			updated, ok := updater(f.entity)
			if !ok {
				return false, nil
			}

			if err := d.gateway.update(ctx, s, updated); err != nil {
				return false, err
			}

			return true, nil
		})
}

// Select returns the entities matching c.
func (d *EntityDao[E]) Select(ctx context.Context, c dbx.Criteria) ([]E, error) {
	return d.SelectBy(ctx, dbx.CriteriaQuery(c))
}

// SelectPage returns at most limit entities matching c, skipping offset.
// A limit or offset <= 0 leaves it unset.
func (d *EntityDao[E]) SelectPage(ctx context.Context, c dbx.Criteria, limit, offset int) ([]E, error) {
	return d.SelectBy(ctx, dbx.CriteriaQuery(c).WithPage(limit, offset))
}

// SelectQuery runs a text query returning entities.
func (d *EntityDao[E]) SelectQuery(ctx context.Context, q dbx.TextQuery) ([]E, error) {
	return d.SelectBy(ctx, dbx.TextQueryOf(q))
}

// SelectBy runs any query descriptor.
func (d *EntityDao[E]) SelectBy(ctx context.Context, q dbx.Query) ([]E, error) {
	return SelectWith(ctx, d, q, func(es []E) []E { return es })
}

// SelectSingle returns the only entity matching c. More than one match is an error.
func (d *EntityDao[E]) SelectSingle(ctx context.Context, c dbx.Criteria) (E, bool, error) {
	f, err := execute(ctx, d.store, true,
		func(ctx context.Context, s dbx.Session, q dbx.Query) (found[E], error) {
			e, ok, err := d.gateway.queryOne(ctx, s, q)
			return found[E]{entity: e, ok: ok}, err
		}, dbx.CriteriaQuery(c), identity[found[E]])

	return f.entity, f.ok, err
}

func (d *EntityDao[E]) Count(ctx context.Context, c dbx.Criteria) (int64, error) {
	return execute(ctx, d.store, true,
		func(ctx context.Context, s dbx.Session, c dbx.Criteria) (int64, error) {
			return d.gateway.count(ctx, s, c)
		}, c, identity[int64])
}

// Sum of field over the entities matching c, zero when nothing matches.
func (d *EntityDao[E]) Sum(ctx context.Context, c dbx.Criteria, field string) (decimal.Decimal, error) {
	return execute(ctx, d.store, true,
		func(ctx context.Context, s dbx.Session, c dbx.Criteria) (decimal.Decimal, error) {
			return d.gateway.sum(ctx, s, c, field)
		}, c, identity[decimal.Decimal])
}

// Max of field over the entities matching c. ok is false when nothing matches.
func (d *EntityDao[E]) Max(ctx context.Context, c dbx.Criteria, field string) (int64, bool, error) {
	r, err := execute(ctx, d.store, true,
		func(ctx context.Context, s dbx.Session, c dbx.Criteria) (found[int64], error) {
			v, ok, err := d.gateway.max(ctx, s, c, field)
			return found[int64]{entity: v, ok: ok}, err
		}, c, identity[found[int64]])

	return r.entity, r.ok, err
}

// UpdateQuery runs a bulk update or delete written against entity and field names.
// It returns the number of affected rows.
func (d *EntityDao[E]) UpdateQuery(ctx context.Context, text string, params map[string]any) (int64, error) {
	return d.ExecuteUpdate(ctx, dbx.EntityQuery(text, params))
}

// UpdateNative runs a bulk update or delete in the store dialect.
func (d *EntityDao[E]) UpdateNative(ctx context.Context, text string, params map[string]any) (int64, error) {
	return d.ExecuteUpdate(ctx, dbx.TextQuery{Text: text, Params: params, Native: true})
}

// ExecuteUpdate runs any mutating text query.
func (d *EntityDao[E]) ExecuteUpdate(ctx context.Context, q dbx.TextQuery) (int64, error) {
	return execute(ctx, d.store, false,
		func(ctx context.Context, s dbx.Session, q dbx.TextQuery) (int64, error) {
			return d.gateway.executeUpdate(ctx, s, q)
		}, q, identity[int64])
}

// GetWith resolves id and hands the result to handler inside the same unit of work.
func GetWith[E dbx.Entity, U any](ctx context.Context, d *EntityDao[E], id int64, handler func(entity E, ok bool) (U, bool)) (U, bool, error) {
	r, err := execute(ctx, d.store, true, d.get(dbx.LockNone), id,
		func(_ context.Context, _ dbx.Session, f found[E]) (found[U], error) {
			u, ok := handler(f.entity, f.ok)
			return found[U]{entity: u, ok: ok}, nil
		})

	return r.entity, r.ok, err
}

// GetManyWith resolves ids and hands the result to handler inside the same unit of work.
func GetManyWith[E dbx.Entity, U any](ctx context.Context, d *EntityDao[E], ids []int64, handler func([]E) []U) ([]U, error) {
	return execute(ctx, d.store, true, d.getMany(dbx.LockNone), ids,
		func(_ context.Context, _ dbx.Session, es []E) ([]U, error) {
			return handler(es), nil
		})
}

// SaveWith saves entity and hands the persisted entity to handler.
func SaveWith[E dbx.Entity, U any](ctx context.Context, d *EntityDao[E], entity E, handler func(E) U) (U, error) {
	return execute(ctx, d.store, false, d.save, entity,
		func(_ context.Context, _ dbx.Session, e E) (U, error) {
			return handler(e), nil
		})
}

// SaveAllWith saves entities and hands the persisted list to handler.
func SaveAllWith[E dbx.Entity, U any](ctx context.Context, d *EntityDao[E], entities []E, handler func([]E) []U) ([]U, error) {
	return execute(ctx, d.store, false, d.saveAll, entities,
		func(_ context.Context, _ dbx.Session, es []E) ([]U, error) {
			return handler(es), nil
		})
}

// SelectWith runs q and hands the entities to handler.
func SelectWith[E dbx.Entity, U any](ctx context.Context, d *EntityDao[E], q dbx.Query, handler func([]E) []U) ([]U, error) {
	return execute(ctx, d.store, true, d.selectQuery, q,
		func(_ context.Context, _ dbx.Session, es []E) ([]U, error) {
			return handler(es), nil
		})
}
