package pgxdb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/marcodd23/go-micro-dao/pkg/logx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

//###################################
//#       Postgres Session          #
//###################################

// querier is satisfied by both pgx.Tx and *pgxpool.Conn.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresSession - one pooled connection and its transaction.
// Implements dbx.Session and dbx.BatchWriter. It keeps no identity map: Contains is
// always false and Evict, Flush and Clear are no-ops.
type PostgresSession struct {
	id       string
	conn     *pgxpool.Conn
	tx       pgx.Tx
	readOnly bool
	closed   bool
}

// SessionFrom returns the PostgresSession behind s, if any.
func SessionFrom(s dbx.Session) (*PostgresSession, bool) {
	ps, ok := s.(*PostgresSession)

	return ps, ok
}

func (s *PostgresSession) ID() string { return s.id }

func (s *PostgresSession) ReadOnly() bool { return s.readOnly }

// GetTx - Returns the underlying pgx transaction, nil when none is active.
func (s *PostgresSession) GetTx() pgx.Tx {
	return s.tx
}

func (s *PostgresSession) querier() querier {
	if s.tx != nil {
		return s.tx
	}

	return s.conn
}

// Begin starts the transaction, READ ONLY for read-only sessions.
func (s *PostgresSession) Begin(ctx context.Context) error {
	if s.closed {
		return errors.New("session is closed")
	}

	if s.tx != nil {
		return errors.New("transaction already active")
	}

	opts := pgx.TxOptions{AccessMode: pgx.ReadWrite}
	if s.readOnly {
		opts.AccessMode = pgx.ReadOnly
	}

	tx, err := s.conn.BeginTx(ctx, opts)
	if err != nil {
		return classifyError(err, "error starting transaction")
	}

	s.tx = tx

	return nil
}

func (s *PostgresSession) IsActive() bool {
	return s.tx != nil
}

// Commit - Commits the transaction. The transaction is over even when commit fails.
func (s *PostgresSession) Commit(ctx context.Context) error {
	if s.tx == nil {
		return errors.New("no active transaction")
	}

	tx := s.tx
	s.tx = nil

	if err := tx.Commit(ctx); err != nil {
		logx.GetLogger().LogError(ctx, "error during transaction commit", err)
		return classifyError(err, "error during transaction commit")
	}

	return nil
}

// Rollback - Rolls back the transaction.
func (s *PostgresSession) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return errors.New("no active transaction")
	}

	tx := s.tx
	s.tx = nil

	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		logx.GetLogger().LogError(ctx, fmt.Sprintf("error Rolling Back transaction: %s", s.id), err)
		return classifyError(err, "error rolling back transaction")
	}

	logx.GetLogger().LogDebug(ctx, fmt.Sprintf("Rollback transaction: %s", s.id))

	return nil
}

// Close rolls back an active transaction and releases the connection to the pool.
func (s *PostgresSession) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}

	var err error
	if s.tx != nil {
		err = s.Rollback(ctx)
	}

	s.closed = true
	s.conn.Release()

	return err
}

func (s *PostgresSession) FetchByKey(ctx context.Context, meta *dbx.EntityMeta, id int64, mode dbx.LockMode) (any, error) {
	rows, err := TxQueryAndScan(s, ctx, scanEntity(meta), selectByIDSQL(meta, mode), id)
	if err != nil {
		return nil, classifyError(err, "error fetching %s with id %d", meta.Name(), id)
	}

	if len(rows) == 0 {
		return nil, nil
	}

	return rows[0], nil
}

func (s *PostgresSession) FetchByKeys(ctx context.Context, meta *dbx.EntityMeta, ids []int64, mode dbx.LockMode) ([]any, error) {
	if len(ids) == 0 {
		return []any{}, nil
	}

	rows, err := TxQueryAndScan(s, ctx, scanEntity(meta), selectByIDsSQL(meta, mode), ids)
	if err != nil {
		return nil, classifyError(err, "error fetching %s with ids %v", meta.Name(), ids)
	}

	return rows, nil
}

func (s *PostgresSession) Insert(ctx context.Context, meta *dbx.EntityMeta, entity any) error {
	if err := meta.Check(entity); err != nil {
		return err
	}

	sql, args := insertSQL(meta, entity)

	return s.writeReturningID(ctx, meta, entity, sql, args, "insert")
}

func (s *PostgresSession) Update(ctx context.Context, meta *dbx.EntityMeta, entity any) error {
	if err := meta.Check(entity); err != nil {
		return err
	}

	sql, args := updateSQL(meta, entity)

	tag, err := s.querier().Exec(ctx, sql, args...)
	if err != nil {
		return classifyError(err, "error updating %s with id %d", meta.Name(), meta.ID(entity))
	}

	if tag.RowsAffected() == 0 {
		return errors.Errorf("update of %s with id %d: row does not exist", meta.Name(), meta.ID(entity))
	}

	return nil
}

func (s *PostgresSession) Upsert(ctx context.Context, meta *dbx.EntityMeta, entity any) error {
	if err := meta.Check(entity); err != nil {
		return err
	}

	if meta.ID(entity) == 0 {
		return s.Insert(ctx, meta, entity)
	}

	sql, args := upsertSQL(meta, entity)

	return s.writeReturningID(ctx, meta, entity, sql, args, "upsert")
}

func (s *PostgresSession) writeReturningID(ctx context.Context, meta *dbx.EntityMeta, entity any, sql string, args []any, op string) error {
	var id int64
	if err := s.querier().QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		return classifyError(err, "error on %s of %s", op, meta.Name())
	}

	if e, ok := entity.(dbx.Entity); ok {
		e.SetID(id)
	}

	return nil
}

// UpsertAll writes entities in order through one pgx.Batch round trip.
func (s *PostgresSession) UpsertAll(ctx context.Context, meta *dbx.EntityMeta, entities []any) error {
	if len(entities) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	for _, entity := range entities {
		if err := meta.Check(entity); err != nil {
			return err
		}

		var (
			sql  string
			args []any
		)

		if meta.ID(entity) == 0 {
			sql, args = insertSQL(meta, entity)
		} else {
			sql, args = upsertSQL(meta, entity)
		}

		batch.Queue(sql, args...)
	}

	results := s.querier().SendBatch(ctx, batch)
	defer results.Close()

	for i, entity := range entities {
		var id int64
		if err := results.QueryRow().Scan(&id); err != nil {
			return classifyError(err, "batch write of %s failed at entity %d", meta.Name(), i)
		}

		if e, ok := entity.(dbx.Entity); ok {
			e.SetID(id)
		}
	}

	return nil
}

func (s *PostgresSession) RunQuery(ctx context.Context, meta *dbx.EntityMeta, query dbx.Query) ([]any, error) {
	var (
		sql  string
		args []any
		err  error
	)

	if query.Text != nil {
		sql, args, err = textSQL(meta, *query.Text, true)
		if err != nil {
			return nil, err
		}

		sql += pageSQL(query.Page)
	} else {
		sql, args, err = criteriaSQL(meta, query.Criteria, query.Page)
		if err != nil {
			return nil, err
		}
	}

	rows, err := TxQueryAndScan(s, ctx, scanEntity(meta), sql, args...)
	if err != nil {
		return nil, classifyError(err, "error querying %s", meta.Name())
	}

	if rows == nil {
		rows = []any{}
	}

	return rows, nil
}

func (s *PostgresSession) RunAggregate(ctx context.Context, meta *dbx.EntityMeta, aggregate dbx.Aggregate) (dbx.Scalar, error) {
	sql, args, err := aggregateSQL(meta, aggregate)
	if err != nil {
		return dbx.Scalar{}, err
	}

	var value *string
	if err := s.querier().QueryRow(ctx, sql, args...).Scan(&value); err != nil {
		return dbx.Scalar{}, classifyError(err, "error computing %s over %s", aggregate.Kind, meta.Name())
	}

	if value == nil {
		return dbx.Scalar{Null: true}, nil
	}

	d, err := decimal.NewFromString(*value)
	if err != nil {
		return dbx.Scalar{}, errors.Wrapf(err, "error parsing %s result %q", aggregate.Kind, *value)
	}

	return dbx.Scalar{Int: d.IntPart(), Decimal: d}, nil
}

func (s *PostgresSession) ExecuteMutatingQuery(ctx context.Context, meta *dbx.EntityMeta, query dbx.TextQuery) (int64, error) {
	sql, args, err := textSQL(meta, query, false)
	if err != nil {
		return 0, err
	}

	tag, err := s.querier().Exec(ctx, sql, args...)
	if err != nil {
		return 0, classifyError(err, "Error executing query '%s'", sql)
	}

	return tag.RowsAffected(), nil
}

func (s *PostgresSession) Contains(*dbx.EntityMeta, any) bool { return false }

// Refresh reloads entity from its row.
func (s *PostgresSession) Refresh(ctx context.Context, meta *dbx.EntityMeta, entity any) error {
	if err := meta.Check(entity); err != nil {
		return err
	}

	rows, err := s.querier().Query(ctx, selectByIDSQL(meta, dbx.LockNone), meta.ID(entity))
	if err != nil {
		return classifyError(err, "error refreshing %s", meta.Name())
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return classifyError(err, "error refreshing %s", meta.Name())
		}

		return errors.Errorf("refresh of %s with id %d: row does not exist", meta.Name(), meta.ID(entity))
	}

	if err := scanInto(meta, rows, entity); err != nil {
		return err
	}

	return rows.Err()
}

func (s *PostgresSession) Evict(*dbx.EntityMeta, any) {}

func (s *PostgresSession) Flush(context.Context) error { return nil }

func (s *PostgresSession) Clear() {}

// scanEntity returns a scan function building a new entity from one row.
// Result columns are matched to entity columns by name; unknown columns are discarded.
func scanEntity(meta *dbx.EntityMeta) func(rows pgx.Rows) (any, error) {
	return func(rows pgx.Rows) (any, error) {
		entity := meta.New()
		if err := scanInto(meta, rows, entity); err != nil {
			return nil, err
		}

		return entity, nil
	}
}

func scanInto(meta *dbx.EntityMeta, rows pgx.Rows, entity any) error {
	fields := rows.FieldDescriptions()
	byName := make(map[string]any, len(fields))

	for _, c := range meta.Columns() {
		byName[c.Name] = meta.Field(entity, c).Addr().Interface()
	}

	targets := make([]any, len(fields))

	for i, f := range fields {
		if target, ok := byName[f.Name]; ok {
			targets[i] = target
		} else {
			var discard any
			targets[i] = &discard
		}
	}

	if err := rows.Scan(targets...); err != nil {
		return errors.Wrapf(err, "error scanning %s", meta.Name())
	}

	return nil
}
