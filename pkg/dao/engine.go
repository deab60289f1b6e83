package dao

import (
	"context"

	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/marcodd23/go-micro-dao/pkg/errorx"
	"github.com/marcodd23/go-micro-dao/pkg/uow"
	"github.com/pkg/errors"
)

// operation runs inside a unit of work.
type operation[A, T any] func(ctx context.Context, s dbx.Session, arg A) (T, error)

// resultHandler transforms the operation result inside the same unit of work.
type resultHandler[T, V any] func(ctx context.Context, s dbx.Session, result T) (V, error)

func identity[T any](_ context.Context, _ dbx.Session, result T) (T, error) {
	return result, nil
}

// execute runs op and handler as one transactional call.
//
// When ctx already carries an active unit of work opened on the same store the call joins it
// and leaves commit and rollback to the owner. A unit of another store is not joined. Otherwise a unit is begun, ended on success and terminated with
// OnError on failure. A panic rolls the unit back and is re-raised.
//
// Errors of the errorx taxonomy are returned as they are, anything else is wrapped in
// errorx.StoreOperationFailedError.
func execute[A, T, V any](
	ctx context.Context,
	store dbx.Store,
	readOnly bool,
	op operation[A, T],
	arg A,
	handler resultHandler[T, V],
) (result V, err error) {
	var zero V

	if u, ok := uow.ForStore(ctx, store); ok {
		result, err = run(ctx, u.Session(), op, arg, handler)
		if err != nil {
			return zero, classify(err)
		}

		return result, nil
	}

	mgr := uow.NewManager(store, readOnly)

	ctx, u, err := mgr.Begin(ctx)
	if err != nil {
		return zero, classify(err)
	}

	defer func() {
		if r := recover(); r != nil {
			mgr.OnError(ctx, u, errors.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	result, err = run(ctx, u.Session(), op, arg, handler)
	if err != nil {
		mgr.OnError(ctx, u, err)
		return zero, classify(err)
	}

	if err := mgr.End(ctx, u); err != nil {
		return zero, classify(err)
	}

	return result, nil
}

func run[A, T, V any](ctx context.Context, s dbx.Session, op operation[A, T], arg A, handler resultHandler[T, V]) (V, error) {
	raw, err := op(ctx, s, arg)
	if err != nil {
		var zero V
		return zero, err
	}

	return handler(ctx, s, raw)
}

func classify(err error) error {
	if errorx.IsClassified(err) {
		return err
	}

	return errorx.NewStoreOperationFailedErrorWrapper(err, "store operation failed")
}
