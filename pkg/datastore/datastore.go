// Package datastore owns the process wide store.
//
// A Factory opens its store lazily on first use and closes it once. Applications use the
// package level default factory:
//
//	datastore.Setup(cfg.GetDatastoreConfig().ToConnConfig(cfg.IsLocalEnvironment()), datastore.WithSchema(ddl...))
//	defer datastore.Close()
//
//	store, err := datastore.Default(ctx)
package datastore

import (
	"context"
	"fmt"
	"sync"

	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/marcodd23/go-micro-dao/pkg/dbx/pgxdb"
	"github.com/marcodd23/go-micro-dao/pkg/errorx"
	"github.com/marcodd23/go-micro-dao/pkg/logx"
	"github.com/pkg/errors"
)

// ErrClosed is returned by Store once the factory is closed.
var ErrClosed = errors.New("datastore: factory is closed")

// ErrNotSetup is returned by Default before Setup.
var ErrNotSetup = errors.New("datastore: default factory is not set up")

// Opener creates a store from its connection config.
type Opener func(ctx context.Context, conf dbx.ConnConfig) (dbx.Store, error)

// Option configures a Factory.
type Option func(*factoryOptions)

type factoryOptions struct {
	schema             []string
	preparedStatements []dbx.PreparedStatement
	replica            *dbx.ConnConfig
	opener             Opener
}

// WithSchema registers the DDL executed at store creation when ConnConfig.CreateSchema is set.
func WithSchema(statements ...string) Option {
	return func(o *factoryOptions) {
		o.schema = append(o.schema, statements...)
	}
}

// WithPreparedStatements prepares the statements on every pooled connection.
func WithPreparedStatements(statements ...dbx.PreparedStatement) Option {
	return func(o *factoryOptions) {
		o.preparedStatements = append(o.preparedStatements, statements...)
	}
}

// WithReplica routes read-only units of work to a read replica.
func WithReplica(conf dbx.ConnConfig) Option {
	return func(o *factoryOptions) {
		o.replica = &conf
	}
}

// WithOpener replaces the PostgreSQL opener, e.g. with an in-memory store in tests.
func WithOpener(opener Opener) Option {
	return func(o *factoryOptions) {
		o.opener = opener
	}
}

//###################################
//#            Factory              #
//###################################

// Factory - lazily created, closable store.
type Factory struct {
	mu     sync.Mutex
	conf   dbx.ConnConfig
	opts   factoryOptions
	store  dbx.Store
	closed bool
}

// NewFactory - Factory constructor. Nothing is opened until Store is called.
func NewFactory(conf dbx.ConnConfig, opts ...Option) *Factory {
	f := &Factory{conf: conf}
	for _, opt := range opts {
		opt(&f.opts)
	}

	if f.opts.opener == nil {
		f.opts.opener = f.openPostgres
	}

	return f
}

// Config - return the connection config of the master store.
func (f *Factory) Config() dbx.ConnConfig {
	return f.conf
}

// Store returns the store, opening it on the first call.
// A failed open is not cached, the next call tries again.
func (f *Factory) Store(ctx context.Context) (dbx.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}

	if f.store != nil {
		return f.store, nil
	}

	store, err := f.open(ctx)
	if err != nil {
		return nil, err
	}

	f.store = store

	return store, nil
}

// Close releases the store. It is safe to call more than once.
func (f *Factory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	f.closed = true

	if f.store != nil {
		f.store.Close()
		f.store = nil
		logx.GetLogger().LogInfo(context.Background(), fmt.Sprintf("Datastore %s closed", f.conf.DBName))
	}
}

// Closed reports whether Close was called.
func (f *Factory) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

func (f *Factory) open(ctx context.Context) (dbx.Store, error) {
	master, err := f.opts.opener(ctx, f.conf)
	if err != nil {
		return nil, errorx.NewDatabaseErrorWrapper(err, "error opening datastore %s", f.conf.DBName)
	}

	if f.opts.replica == nil {
		return master, nil
	}

	replica, err := f.opts.opener(ctx, *f.opts.replica)
	if err != nil {
		master.Close()
		return nil, errorx.NewDatabaseErrorWrapper(err, "error opening read replica %s", f.opts.replica.DBName)
	}

	return dbx.NewReplicatedStore(master, replica), nil
}

func (f *Factory) openPostgres(ctx context.Context, conf dbx.ConnConfig) (dbx.Store, error) {
	return pgxdb.NewPostgresStore(ctx, conf,
		pgxdb.WithSchema(f.opts.schema...),
		pgxdb.WithPreparedStatements(f.opts.preparedStatements...))
}

//###################################
//#        Default Factory          #
//###################################

var (
	mu      sync.Mutex
	current *Factory
)

// Setup installs the default factory and returns it. While an open default factory
// exists it is returned unchanged; after Close a fresh one is installed.
func Setup(conf dbx.ConnConfig, opts ...Option) *Factory {
	mu.Lock()
	defer mu.Unlock()

	if current != nil && !current.Closed() {
		logx.GetLogger().LogWarning(context.Background(), "datastore already set up, keeping the current factory")
		return current
	}

	current = NewFactory(conf, opts...)

	return current
}

// Default returns the store of the default factory.
func Default(ctx context.Context) (dbx.Store, error) {
	mu.Lock()
	f := current
	mu.Unlock()

	if f == nil {
		return nil, ErrNotSetup
	}

	return f.Store(ctx)
}

// Close closes the default factory, if any.
func Close() {
	mu.Lock()
	f := current
	mu.Unlock()

	if f != nil {
		f.Close()
	}
}
