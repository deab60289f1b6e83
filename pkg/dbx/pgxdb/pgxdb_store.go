package pgxdb

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/marcodd23/go-micro-dao/pkg/errorx"
	"github.com/marcodd23/go-micro-dao/pkg/logx"
	"github.com/pkg/errors"
)

//###################################
//#    PostgresDB - dbx.Store       #
//###################################

// PostgresDB - PostgreSQL store backed by a pgx connection pool.
// It Implements dbx.Store.
type PostgresDB struct {
	pool   *pgxpool.Pool
	dbConf dbx.ConnConfig
}

// Option configures NewPostgresStore.
type Option func(*storeOptions)

type storeOptions struct {
	preparedStatements []dbx.PreparedStatement
	schema             []string
}

// WithPreparedStatements prepares the statements on every new connection.
func WithPreparedStatements(statements ...dbx.PreparedStatement) Option {
	return func(o *storeOptions) {
		o.preparedStatements = append(o.preparedStatements, statements...)
	}
}

// WithSchema registers DDL statements executed once at startup when ConnConfig.CreateSchema is set.
func WithSchema(statements ...string) Option {
	return func(o *storeOptions) {
		o.schema = append(o.schema, statements...)
	}
}

// NewPostgresStore - creates the connection pool and returns the store.
// The pool is checked with ConnConfig.TestQuery before returning.
func NewPostgresStore(ctx context.Context, dbConf dbx.ConnConfig, opts ...Option) (*PostgresDB, error) {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}

	pool, err := newConnectionPool(ctx, dbConf, o.preparedStatements...)
	if err != nil {
		return nil, err
	}

	db := &PostgresDB{
		pool:   pool,
		dbConf: dbConf,
	}

	if dbConf.TestQuery != "" {
		if _, err := pool.Exec(ctx, dbConf.TestQuery); err != nil {
			pool.Close()
			return nil, errorx.NewDatabaseErrorWrapper(err, "connection test query failed")
		}
	}

	if dbConf.CreateSchema {
		if err := db.createSchema(ctx, o.schema); err != nil {
			pool.Close()
			return nil, err
		}
	}

	logx.
		GetLogger().
		LogInfo(ctx, fmt.Sprintf("Created new Store Connection Pool: DB=%s, HOST=%s, PORT=%d",
			pool.Config().ConnConfig.Database,
			pool.Config().ConnConfig.Host,
			pool.Config().ConnConfig.Port))

	return db, nil
}

func newConnectionPool(ctx context.Context, dbConf dbx.ConnConfig, preparedStatements ...dbx.PreparedStatement) (*pgxpool.Pool, error) {
	poolConfig, err := createConnectionConfiguration(dbConf)
	if err != nil {
		return nil, fmt.Errorf("error: %w", err)
	}

	// Setup prepared statements
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return setupPreparedStatements(ctx, conn, preparedStatements...)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errorx.NewDatabaseErrorWrapper(err, "Error creating New Connection Pool")
	}

	return pool, nil
}

func createConnectionConfiguration(dbConf dbx.ConnConfig) (*pgxpool.Config, error) {
	if dbConf.DBName == "" {
		return nil, errorx.NewDatabaseError("Error creating Connection Pool ConnConfig: DB_Name is EMPTY")
	}

	if dbConf.User == "" {
		return nil, errorx.NewDatabaseError("Error creating Connection Pool ConnConfig: DB_User is EMPTY")
	}

	if dbConf.Password == "" {
		return nil, errorx.NewDatabaseError("Error creating Connection Pool ConnConfig: DB_Password is EMPTY")
	}

	connString := ""
	if dbConf.SSLMode != "" {
		connString = "sslmode=" + dbConf.SSLMode
	}

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errorx.NewDatabaseErrorWrapper(err, "Error creating Connection Pool ConnConfig")
	}

	poolConfig.ConnConfig.Database = dbConf.DBName
	poolConfig.ConnConfig.User = dbConf.User
	poolConfig.ConnConfig.Password = dbConf.Password

	if dbConf.MaxConn > 0 {
		poolConfig.MaxConns = dbConf.MaxConn
	}

	if dbConf.MinConn > 0 && dbConf.MinConn <= poolConfig.MaxConns {
		poolConfig.MinConns = dbConf.MinConn
	}

	if dbConf.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = dbConf.MaxConnIdleTime
	}

	if dbConf.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = dbConf.MaxConnLifetime
	}

	if dbConf.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = dbConf.ConnectTimeout
	}

	if dbConf.ShowSQL {
		poolConfig.ConnConfig.Tracer = &sqlLogTracer{}
	}

	if dbConf.IsLocalEnv || dbConf.VpcDirectConnection {
		// If local we need to specify the port, if not local
		// the port is defined in the Unix Socket configuration
		// mounted in the container at runtime (5432)
		logx.
			GetLogger().
			LogInfo(context.TODO(), fmt.Sprintf("Connecting to DB on HOST:%s and PORT:%d",
				dbConf.Host,
				uint16(dbConf.Port)))
		poolConfig.ConnConfig.Port = uint16(dbConf.Port)
		poolConfig.ConnConfig.Host = dbConf.Host
	} else {
		logx.GetLogger().LogInfo(context.TODO(), "Connecting to DB trough CLOUD SQL PROXY")
		poolConfig.ConnConfig.Host = fmt.Sprintf("/cloudsql/%s", dbConf.Host)
	}

	return poolConfig, nil
}

func setupPreparedStatements(ctx context.Context, conn *pgx.Conn, preparesStatements ...dbx.PreparedStatement) error {
	for _, stmt := range preparesStatements {
		_, err := conn.Prepare(ctx, stmt.GetName(), stmt.GetQuery())
		if err != nil {
			return errorx.NewDatabaseErrorWrapper(err, "Failed to prepare statement '%s'", stmt.GetName())
		}
	}

	return nil
}

func (dbm *PostgresDB) createSchema(ctx context.Context, statements []string) error {
	for _, stmt := range statements {
		if _, err := dbm.pool.Exec(ctx, stmt); err != nil {
			return errorx.NewDatabaseErrorWrapper(err, "error creating schema")
		}
	}

	if len(statements) > 0 {
		logx.GetLogger().LogInfo(ctx, fmt.Sprintf("Schema created: %d statements executed", len(statements)))
	}

	return nil
}

func acquireConnectionFromPool(ctx context.Context, db *PostgresDB) (*pgxpool.Conn, error) {
	if db.pool == nil {
		return nil, errorx.NewDatabaseError("error, Connection Pool To DB not initialized")
	}

	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		logx.GetLogger().LogError(ctx, "Error acquiring connection from pool", err)
		return nil, errors.Wrap(err, "Error acquiring connection from pool")
	}

	return conn, nil
}

// OpenSession - acquires a connection from the pool and wraps it in a session.
// The transaction is started by Begin; read-only sessions start a READ ONLY transaction.
func (dbm *PostgresDB) OpenSession(ctx context.Context, readOnly bool) (dbx.Session, error) {
	conn, err := acquireConnectionFromPool(ctx, dbm)
	if err != nil {
		return nil, err
	}

	return &PostgresSession{
		id:       uuid.NewString(),
		conn:     conn,
		readOnly: readOnly,
	}, nil
}

// GetDbConnPool - get the connection pool.
func (dbm *PostgresDB) GetDbConnPool() (*pgxpool.Pool, error) {
	if dbm.pool == nil {
		return nil, errorx.NewDatabaseError("error, Connection Pool To DB not initialized")
	}

	return dbm.pool, nil
}

// Close - close the connection pool.
func (dbm *PostgresDB) Close() {
	if dbm.pool != nil {
		dbm.pool.Close()
		dbm.pool = nil
		logx.GetLogger().LogInfo(context.TODO(), "DB Connection Pool Successfully Closed!")
	}
}

// GetConnectionConfig - get Db Connection config.
func (dbm *PostgresDB) GetConnectionConfig() dbx.ConnConfig {
	return dbm.dbConf
}
