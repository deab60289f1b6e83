package pgxdb

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// TxQueryAndScan executes a query within the session and maps the result using the provided scanFunc.
//
// The query runs inside the session transaction when one is active, otherwise on the session connection.
//
// Arguments:
//   - sess: The session within which the query is executed.
//   - ctx: The context for the query execution, which can be used to control cancellation and deadlines.
//   - scanFunc: A function that maps each row (pgx.Rows) to the desired type (T).
//   - query: The SQL query to be executed.
//   - args: The variadic arguments for the SQL query, if any.
//
// Returns:
//   - []T: The mapped results from the query.
//   - error: Any error encountered during query execution or row scanning.
func TxQueryAndScan[T any](sess *PostgresSession, ctx context.Context, scanFunc func(rows pgx.Rows) (T, error), query string, args ...interface{}) ([]T, error) {
	rows, err := sess.querier().Query(ctx, query, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	defer rows.Close()

	var results []T
	for rows.Next() {
		result, err := scanFunc(rows)
		if err != nil {
			return nil, errors.Wrap(err, "TxQueryAndScan error scanFunc")
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "TxQueryAndScan error mapping rows with scanFunc")
	}

	return results, nil
}

// TxQueryAndMap uses pgx's struct scanning to map rows directly to a slice of structs within the session.
//
// Column names are matched against the `db` tags of T, so T must declare a field for every returned column.
func TxQueryAndMap[T any](sess *PostgresSession, ctx context.Context, query string, args ...interface{}) ([]T, error) {
	rows, err := sess.querier().Query(ctx, query, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	defer rows.Close()

	results, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, errors.Wrap(err, "TxQueryAndMap error mapping and collecting rows to struct slice")
	}

	return results, nil
}

// TxExecBatch sends a batch of statements within the session and returns the total number of rows affected.
// Processing stops at the first failing statement.
func TxExecBatch(sess *PostgresSession, ctx context.Context, batch *pgx.Batch) (int64, error) {
	batchResult := sess.querier().SendBatch(ctx, batch)
	defer batchResult.Close()

	var totalRowsAffected int64

	for i := 0; i < batch.Len(); i++ {
		ct, err := batchResult.Exec()
		if err != nil {
			return totalRowsAffected, classifyError(err, "batch execution failed")
		}

		totalRowsAffected += ct.RowsAffected()
	}

	return totalRowsAffected, nil
}
