package dao

import (
	"context"

	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/marcodd23/go-micro-dao/pkg/errorx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// recordGateway - per entity type operations over an already open session.
// Store errors are returned as they are.
type recordGateway[E dbx.Entity] struct {
	meta      *dbx.EntityMeta
	validator Validator
}

func (g recordGateway[E]) cast(v any) (E, error) {
	e, ok := v.(E)
	if !ok {
		var zero E
		return zero, errors.Errorf("store returned %T for %s", v, g.meta.Name())
	}

	return e, nil
}

func (g recordGateway[E]) castAll(values []any) ([]E, error) {
	entities := make([]E, 0, len(values))

	for _, v := range values {
		e, err := g.cast(v)
		if err != nil {
			return nil, err
		}

		entities = append(entities, e)
	}

	return entities, nil
}

func (g recordGateway[E]) validate(entity E) error {
	if g.validator == nil {
		return nil
	}

	if err := g.validator.Validate(entity); err != nil {
		if errorx.IsValidationFailed(err) {
			return err
		}

		return errorx.NewValidationFailedErrorWrapper(err, "%s is not valid", g.meta.Name())
	}

	return nil
}

// getByID - absent is (zero, false, nil).
func (g recordGateway[E]) getByID(ctx context.Context, s dbx.Session, id int64, mode dbx.LockMode) (E, bool, error) {
	var zero E

	found, err := s.FetchByKey(ctx, g.meta, id, mode)
	if err != nil || found == nil {
		return zero, false, err
	}

	e, err := g.cast(found)
	if err != nil {
		return zero, false, err
	}

	return e, true, nil
}

// getByIDs - absent ids are omitted, order is the store's.
func (g recordGateway[E]) getByIDs(ctx context.Context, s dbx.Session, ids []int64, mode dbx.LockMode) ([]E, error) {
	found, err := s.FetchByKeys(ctx, g.meta, ids, mode)
	if err != nil {
		return nil, err
	}

	return g.castAll(found)
}

// insertOrUpdate refreshes an entity already tracked by the session, then upserts it.
func (g recordGateway[E]) insertOrUpdate(ctx context.Context, s dbx.Session, entity E) (E, error) {
	if err := g.validate(entity); err != nil {
		return entity, err
	}

	if s.Contains(g.meta, entity) {
		if err := s.Refresh(ctx, g.meta, entity); err != nil {
			return entity, err
		}
	}

	if err := s.Upsert(ctx, g.meta, entity); err != nil {
		return entity, err
	}

	return entity, nil
}

// insertOrUpdateBatch writes the entities in order, then flushes and detaches everything
// so later operations of the unit read from the store.
func (g recordGateway[E]) insertOrUpdateBatch(ctx context.Context, s dbx.Session, entities []E) ([]E, error) {
	for _, e := range entities {
		if err := g.validate(e); err != nil {
			return entities, err
		}
	}

	if writer, ok := s.(dbx.BatchWriter); ok {
		values := make([]any, len(entities))
		for i, e := range entities {
			values[i] = e
		}

		if err := writer.UpsertAll(ctx, g.meta, values); err != nil {
			return entities, err
		}
	} else {
		for _, e := range entities {
			if err := s.Upsert(ctx, g.meta, e); err != nil {
				return entities, err
			}
		}
	}

	if err := s.Flush(ctx); err != nil {
		return entities, err
	}

	s.Clear()

	return entities, nil
}

// update evicts the entity before writing it, a tracked unchanged instance would not be written otherwise.
func (g recordGateway[E]) update(ctx context.Context, s dbx.Session, entity E) error {
	if err := g.validate(entity); err != nil {
		return err
	}

	s.Evict(g.meta, entity)

	return s.Update(ctx, g.meta, entity)
}

func (g recordGateway[E]) query(ctx context.Context, s dbx.Session, q dbx.Query) ([]E, error) {
	rows, err := s.RunQuery(ctx, g.meta, q)
	if err != nil {
		return nil, err
	}

	return g.castAll(rows)
}

// queryOne - absent is (zero, false, nil); more than one row is an error.
func (g recordGateway[E]) queryOne(ctx context.Context, s dbx.Session, q dbx.Query) (E, bool, error) {
	var zero E

	rows, err := g.query(ctx, s, q.WithPage(2, dbx.NoLimit))
	if err != nil {
		return zero, false, err
	}

	switch len(rows) {
	case 0:
		return zero, false, nil
	case 1:
		return rows[0], true, nil
	default:
		return zero, false, errors.Errorf("query did not return a unique %s", g.meta.Name())
	}
}

func (g recordGateway[E]) count(ctx context.Context, s dbx.Session, c dbx.Criteria) (int64, error) {
	scalar, err := s.RunAggregate(ctx, g.meta, dbx.Aggregate{Kind: dbx.Count, Criteria: c})
	if err != nil {
		return 0, err
	}

	return scalar.Int, nil
}

// sum is zero over no rows.
func (g recordGateway[E]) sum(ctx context.Context, s dbx.Session, c dbx.Criteria, field string) (decimal.Decimal, error) {
	scalar, err := s.RunAggregate(ctx, g.meta, dbx.Aggregate{Kind: dbx.Sum, Field: field, Criteria: c})
	if err != nil {
		return decimal.Zero, err
	}

	if scalar.Null {
		return decimal.Zero, nil
	}

	return scalar.Decimal, nil
}

// max is absent over no rows.
func (g recordGateway[E]) max(ctx context.Context, s dbx.Session, c dbx.Criteria, field string) (int64, bool, error) {
	scalar, err := s.RunAggregate(ctx, g.meta, dbx.Aggregate{Kind: dbx.Max, Field: field, Criteria: c})
	if err != nil || scalar.Null {
		return 0, false, err
	}

	return scalar.Int, true, nil
}

func (g recordGateway[E]) executeUpdate(ctx context.Context, s dbx.Session, q dbx.TextQuery) (int64, error) {
	return s.ExecuteMutatingQuery(ctx, g.meta, q)
}
