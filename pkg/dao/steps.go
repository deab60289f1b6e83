package dao

import (
	"context"
	"fmt"

	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/marcodd23/go-micro-dao/pkg/errorx"
	"github.com/marcodd23/go-micro-dao/pkg/logx"
	"github.com/pkg/errors"
)

// StepKind - the closed set of pipeline operations.
type StepKind int

const (
	KindMutate StepKind = iota
	KindApply
	KindSaveRelated
	KindSaveAllRelated
	KindUpdateRelated
	KindUpdateRelatedQuery
	KindFilter
	KindValidate
)

func (k StepKind) String() string {
	switch k {
	case KindMutate:
		return "mutate"
	case KindApply:
		return "apply"
	case KindSaveRelated:
		return "save-related"
	case KindSaveAllRelated:
		return "save-all-related"
	case KindUpdateRelated:
		return "update-related"
	case KindUpdateRelatedQuery:
		return "update-related-query"
	case KindFilter:
		return "filter"
	case KindValidate:
		return "validate"
	default:
		return fmt.Sprintf("StepKind(%d)", int(k))
	}
}

// writesRoot reports whether the root is written back after the step.
func (k StepKind) writesRoot() bool {
	return k == KindMutate || k == KindApply
}

// Step - one pipeline operation against a root of type R.
// R is the entity for a TransactionContext and the entity list for a BatchTransactionContext.
type Step[R any] struct {
	Kind StepKind
	// Name is the entity type the step writes, empty for steps acting on the root only.
	Name string
	run  func(ctx context.Context, root R) error
}

// DefaultFilterFailure is the detail of a Filter step rejecting the root.
const DefaultFilterFailure = "predicate check failed"

func mutateStep[R any](fn func(R)) Step[R] {
	return Step[R]{Kind: KindMutate, run: func(_ context.Context, root R) error {
		fn(root)
		return nil
	}}
}

func applyStep[R any](fn func(ctx context.Context, root R) error) Step[R] {
	return Step[R]{Kind: KindApply, run: fn}
}

func filterStep[R any](pred func(R) bool, failure error) Step[R] {
	return Step[R]{Kind: KindFilter, run: func(_ context.Context, root R) error {
		if pred(root) {
			return nil
		}

		if failure == nil {
			return errorx.NewValidationFailedError(DefaultFilterFailure)
		}

		if errorx.IsValidationFailed(failure) {
			return failure
		}

		return errorx.NewValidationFailedErrorWrapper(failure, DefaultFilterFailure)
	}}
}

// SaveRelated derives zero or one entity from the root and saves it through d,
// in the unit of work of the pipeline.
func SaveRelated[R any, U dbx.Entity](d *EntityDao[U], derive func(root R) (U, bool)) Step[R] {
	return Step[R]{Kind: KindSaveRelated, Name: d.Meta().Name(), run: func(ctx context.Context, root R) error {
		related, ok := derive(root)
		if !ok {
			return nil
		}

		_, err := d.Save(ctx, related)

		return err
	}}
}

// SaveAllRelated derives a list of entities from the root and saves them through d.
func SaveAllRelated[R any, U dbx.Entity](d *EntityDao[U], derive func(root R) []U) Step[R] {
	return Step[R]{Kind: KindSaveAllRelated, Name: d.Meta().Name(), run: func(ctx context.Context, root R) error {
		related := derive(root)
		if len(related) == 0 {
			return nil
		}

		_, err := d.SaveAll(ctx, related)

		return err
	}}
}

// UpdateRelatedOption configures an UpdateRelated step.
type UpdateRelatedOption func(*updateRelatedOptions)

type updateRelatedOptions struct {
	requireApplied bool
}

// RequireApplied fails the pipeline with errorx.ChainedUpdateFailedError when the
// chained update is not applied.
func RequireApplied() UpdateRelatedOption {
	return func(o *updateRelatedOptions) {
		o.requireApplied = true
	}
}

// UpdateRelated runs d.Update(id, updater) as a step. An update that is not applied,
// because id does not resolve or updater declines, does not fail the pipeline
// unless RequireApplied is given.
func UpdateRelated[R any, U dbx.Entity](d *EntityDao[U], id int64, updater Updater[U], opts ...UpdateRelatedOption) Step[R] {
	var o updateRelatedOptions
	for _, opt := range opts {
		opt(&o)
	}

	return Step[R]{Kind: KindUpdateRelated, Name: d.Meta().Name(), run: func(ctx context.Context, _ R) error {
		applied, err := d.Update(ctx, id, updater)
		if err != nil {
			return err
		}

		if !applied {
			if o.requireApplied {
				return errorx.NewChainedUpdateFailedError(0, "update of %s with id %d was not applied", d.Meta().Name(), id)
			}

			logx.GetLogger().LogDebug(ctx, fmt.Sprintf("chained update of %s with id %d not applied", d.Meta().Name(), id))
		}

		return nil
	}}
}

// UpdateRelatedQuery runs a mutating query through d as a step.
// Fewer than one affected row fails the pipeline with errorx.ChainedUpdateFailedError.
func UpdateRelatedQuery[R any, U dbx.Entity](d *EntityDao[U], q dbx.TextQuery) Step[R] {
	return Step[R]{Kind: KindUpdateRelatedQuery, Name: d.Meta().Name(), run: func(ctx context.Context, _ R) error {
		affected, err := d.ExecuteUpdate(ctx, q)
		if err != nil {
			return err
		}

		if affected < 1 {
			return errorx.NewChainedUpdateFailedError(affected, "Update operation returned result %d", affected)
		}

		return nil
	}}
}

// runPipeline applies steps in order. writeBack is called after every step that may have
// changed the root. The first failure stops the pipeline and is reported as
// errorx.StepFailedError carrying the step index and kind.
func runPipeline[R any](ctx context.Context, steps []Step[R], root R, writeBack func(ctx context.Context, root R) error) error {
	for i, step := range steps {
		if step.run == nil {
			return errorx.NewStepFailedError(i, step.Kind.String(), errors.New("step has no operation"))
		}

		if err := step.run(ctx, root); err != nil {
			logx.GetLogger().LogDebug(ctx, fmt.Sprintf("pipeline step #%d (%s) failed: %v", i, step.Kind, err))
			return errorx.NewStepFailedError(i, step.Kind.String(), err)
		}

		if step.Kind.writesRoot() {
			if err := writeBack(ctx, root); err != nil {
				return errorx.NewStepFailedError(i, step.Kind.String(), err)
			}
		}
	}

	return nil
}
