package dao

import (
	"context"

	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/marcodd23/go-micro-dao/pkg/errorx"
	"github.com/marcodd23/go-micro-dao/pkg/validator"
)

type rootMode int

const (
	// modeRead resolves the root by id, locked for write.
	modeRead rootMode = iota
	// modeInsert saves a caller supplied root.
	modeInsert
)

func rootValidator(v Validator) Validator {
	if v != nil {
		return v
	}

	return validator.NewValidator()
}

//###################################
//#      Transaction Context        #
//###################################

// TransactionContext accumulates dependent operations against one root entity and runs
// them in a single unit of work on Execute.
//
// In read mode the root is fetched with dbx.LockUpgradeNoWait and a missing root fails with
// errorx.EntityNotFoundError. In insert mode the root is saved first. Steps then run in the
// order they were added and the root is written back after every Mutate and Apply step.
// Any failure rolls back everything done by the pipeline, chained saves included.
type TransactionContext[E dbx.Entity] struct {
	dao    *EntityDao[E]
	mode   rootMode
	id     int64
	entity E
	steps  []Step[E]
}

// TransactionContext - context over the entity with the given id.
func (d *EntityDao[E]) TransactionContext(id int64) *TransactionContext[E] {
	return &TransactionContext[E]{dao: d, mode: modeRead, id: id}
}

// TransactionContextFrom - context over the entity whose id supplier returns.
func (d *EntityDao[E]) TransactionContextFrom(supplier func() int64) *TransactionContext[E] {
	return d.TransactionContext(supplier())
}

// SaveContext - context inserting entity as its root.
func (d *EntityDao[E]) SaveContext(entity E) *TransactionContext[E] {
	return &TransactionContext[E]{dao: d, mode: modeInsert, entity: entity}
}

// SaveContextFrom - context inserting the entity generator returns.
func (d *EntityDao[E]) SaveContextFrom(generator func() E) *TransactionContext[E] {
	return d.SaveContext(generator())
}

// Mutate changes the root in place.
func (tc *TransactionContext[E]) Mutate(fn func(root E)) *TransactionContext[E] {
	return tc.Then(mutateStep(fn))
}

// Apply runs fn with the pipeline context, so nested dao calls join the unit of work.
func (tc *TransactionContext[E]) Apply(fn func(ctx context.Context, root E) error) *TransactionContext[E] {
	return tc.Then(applyStep(fn))
}

// Filter aborts the pipeline with errorx.ValidationFailedError when pred rejects the root.
func (tc *TransactionContext[E]) Filter(pred func(root E) bool) *TransactionContext[E] {
	return tc.Then(filterStep[E](pred, nil))
}

// FilterOr is Filter reporting failure as the cause of the validation error.
func (tc *TransactionContext[E]) FilterOr(pred func(root E) bool, failure error) *TransactionContext[E] {
	return tc.Then(filterStep[E](pred, failure))
}

// Validate checks the root struct tags with the dao validator, or the default one.
func (tc *TransactionContext[E]) Validate() *TransactionContext[E] {
	v := rootValidator(tc.dao.gateway.validator)

	return tc.Then(Step[E]{Kind: KindValidate, run: func(_ context.Context, root E) error {
		if err := v.Validate(root); err != nil {
			return errorx.NewValidationFailedErrorWrapper(err, "%s is not valid", tc.dao.Meta().Name())
		}

		return nil
	}})
}

// Then appends steps, typically SaveRelated, SaveAllRelated, UpdateRelated or UpdateRelatedQuery.
func (tc *TransactionContext[E]) Then(steps ...Step[E]) *TransactionContext[E] {
	tc.steps = append(tc.steps, steps...)
	return tc
}

// Steps returns the kinds of the accumulated steps, in order.
func (tc *TransactionContext[E]) Steps() []StepKind {
	kinds := make([]StepKind, len(tc.steps))
	for i, s := range tc.steps {
		kinds[i] = s.Kind
	}

	return kinds
}

// Execute resolves the root, runs the pipeline and commits. It returns the root.
func (tc *TransactionContext[E]) Execute(ctx context.Context) (E, error) {
	d := tc.dao

	return execute(ctx, d.store, false, tc.resolve, struct{}{},
		func(ctx context.Context, s dbx.Session, root E) (E, error) {
			err := runPipeline(ctx, tc.steps, root, func(ctx context.Context, root E) error {
				return d.gateway.update(ctx, s, root)
			})

			return root, err
		})
}

func (tc *TransactionContext[E]) resolve(ctx context.Context, s dbx.Session, _ struct{}) (E, error) {
	d := tc.dao

	if tc.mode == modeInsert {
		return d.gateway.insertOrUpdate(ctx, s, tc.entity)
	}

	root, ok, err := d.gateway.getByID(ctx, s, tc.id, dbx.LockUpgradeNoWait)
	if err != nil {
		return root, err
	}

	if !ok {
		return root, errorx.NewEntityNotFoundError(d.Meta().Name(), tc.id)
	}

	return root, nil
}

//###################################
//#   Batch Transaction Context     #
//###################################

// BatchTransactionContext is TransactionContext for a list of root entities.
// Every step receives the whole list; one unit of work covers the batch.
//
// In read mode the roots are fetched with dbx.LockUpgradeNoWait. Ids that do not resolve are
// omitted, and only a fetch resolving none of the requested ids fails with errorx.EntityNotFoundError.
type BatchTransactionContext[E dbx.Entity] struct {
	dao      *EntityDao[E]
	mode     rootMode
	ids      []int64
	entities []E
	steps    []Step[[]E]
}

// BatchTransactionContext - context over the entities with the given ids.
func (d *EntityDao[E]) BatchTransactionContext(ids []int64) *BatchTransactionContext[E] {
	return &BatchTransactionContext[E]{dao: d, mode: modeRead, ids: ids}
}

// BatchTransactionContextFrom - context over the entities whose ids supplier returns.
func (d *EntityDao[E]) BatchTransactionContextFrom(supplier func() []int64) *BatchTransactionContext[E] {
	return d.BatchTransactionContext(supplier())
}

// SaveBatchContext - context inserting entities as its roots.
func (d *EntityDao[E]) SaveBatchContext(entities []E) *BatchTransactionContext[E] {
	return &BatchTransactionContext[E]{dao: d, mode: modeInsert, entities: entities}
}

// SaveBatchContextFrom - context inserting the entities generator returns.
func (d *EntityDao[E]) SaveBatchContextFrom(generator func() []E) *BatchTransactionContext[E] {
	return d.SaveBatchContext(generator())
}

func (bc *BatchTransactionContext[E]) Mutate(fn func(roots []E)) *BatchTransactionContext[E] {
	return bc.Then(mutateStep(fn))
}

func (bc *BatchTransactionContext[E]) Apply(fn func(ctx context.Context, roots []E) error) *BatchTransactionContext[E] {
	return bc.Then(applyStep(fn))
}

func (bc *BatchTransactionContext[E]) Filter(pred func(roots []E) bool) *BatchTransactionContext[E] {
	return bc.Then(filterStep[[]E](pred, nil))
}

func (bc *BatchTransactionContext[E]) FilterOr(pred func(roots []E) bool, failure error) *BatchTransactionContext[E] {
	return bc.Then(filterStep[[]E](pred, failure))
}

// Validate checks every root with the dao validator, or the default one.
func (bc *BatchTransactionContext[E]) Validate() *BatchTransactionContext[E] {
	v := rootValidator(bc.dao.gateway.validator)

	return bc.Then(Step[[]E]{Kind: KindValidate, run: func(_ context.Context, roots []E) error {
		for _, root := range roots {
			if err := v.Validate(root); err != nil {
				return errorx.NewValidationFailedErrorWrapper(err, "%s with id %d is not valid", bc.dao.Meta().Name(), root.GetID())
			}
		}

		return nil
	}})
}

// Then appends steps, typically SaveAllRelated deriving related entities from the whole list.
func (bc *BatchTransactionContext[E]) Then(steps ...Step[[]E]) *BatchTransactionContext[E] {
	bc.steps = append(bc.steps, steps...)
	return bc
}

func (bc *BatchTransactionContext[E]) Steps() []StepKind {
	kinds := make([]StepKind, len(bc.steps))
	for i, s := range bc.steps {
		kinds[i] = s.Kind
	}

	return kinds
}

// Execute resolves the roots, runs the pipeline and commits. It returns the roots.
func (bc *BatchTransactionContext[E]) Execute(ctx context.Context) ([]E, error) {
	d := bc.dao

	return execute(ctx, d.store, false, bc.resolve, struct{}{},
		func(ctx context.Context, s dbx.Session, roots []E) ([]E, error) {
			err := runPipeline(ctx, bc.steps, roots, func(ctx context.Context, roots []E) error {
				for _, root := range roots {
					if err := d.gateway.update(ctx, s, root); err != nil {
						return err
					}
				}

				return nil
			})

			return roots, err
		})
}

func (bc *BatchTransactionContext[E]) resolve(ctx context.Context, s dbx.Session, _ struct{}) ([]E, error) {
	d := bc.dao

	if bc.mode == modeInsert {
		return d.gateway.insertOrUpdateBatch(ctx, s, bc.entities)
	}

	roots, err := d.gateway.getByIDs(ctx, s, bc.ids, dbx.LockUpgradeNoWait)
	if err != nil {
		return nil, err
	}

	if len(roots) == 0 && len(bc.ids) > 0 {
		return nil, errorx.NewEntityNotFoundError(d.Meta().Name(), bc.ids)
	}

	return roots, nil
}
