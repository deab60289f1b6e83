package pgxdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/marcodd23/go-micro-dao/pkg/errorx"
	"github.com/marcodd23/go-micro-dao/pkg/logx"
	"github.com/pkg/errors"
)

// PostgreSQL error codes
const (
	pgIntegrityConstraintClass = "23"
	pgLockNotAvailable         = "55P03"
	pgReadOnlySQLTransaction   = "25006"
)

// classifyError maps PostgreSQL errors onto the dbx/errorx taxonomy:
// integrity violations (class 23) become ConstraintViolationError, NOWAIT lock
// failures wrap dbx.ErrLockNotAvailable and writes in a read-only transaction wrap
// dbx.ErrReadOnlySession. Everything else is wrapped with msg.
func classifyError(err error, msg string, args ...any) error {
	if err == nil {
		return nil
	}

	text := fmt.Sprintf(msg, args...)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, pgIntegrityConstraintClass):
			return errorx.NewConstraintViolationErrorWrapper(err, pgErr.ConstraintName, "%s", text)
		case pgErr.Code == pgLockNotAvailable:
			return errors.Wrapf(dbx.ErrLockNotAvailable, "%s: %s", text, pgErr.Message)
		case pgErr.Code == pgReadOnlySQLTransaction:
			return errors.Wrapf(dbx.ErrReadOnlySession, "%s: %s", text, pgErr.Message)
		}
	}

	return errors.Wrap(err, text)
}

//###################################
//#       SQL statement logging     #
//###################################

// sqlLogTracer logs every statement at debug level. Installed when ConnConfig.ShowSQL is set.
type sqlLogTracer struct{}

type traceStartKey struct{}

func (t *sqlLogTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	logx.GetLogger().LogDebug(ctx, fmt.Sprintf("SQL: %s %v", data.SQL, data.Args))

	return context.WithValue(ctx, traceStartKey{}, data.SQL)
}

func (t *sqlLogTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	if data.Err != nil {
		sql, _ := ctx.Value(traceStartKey{}).(string)
		logx.GetLogger().LogDebug(ctx, fmt.Sprintf("SQL failed: %s: %v", sql, data.Err))

		return
	}

	logx.GetLogger().LogDebug(ctx, fmt.Sprintf("SQL done: %s", data.CommandTag.String()))
}
