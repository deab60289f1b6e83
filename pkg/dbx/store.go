package dbx

import (
	"context"

	"github.com/pkg/errors"
)

// LockMode is the row locking strategy requested for a fetch.
type LockMode int

const (
	// LockNone is a plain read; concurrent readers are allowed.
	LockNone LockMode = iota
	// LockUpgradeNoWait requests an exclusive row lock and fails immediately when
	// another session already holds it.
	LockUpgradeNoWait
)

func (m LockMode) String() string {
	switch m {
	case LockNone:
		return "NONE"
	case LockUpgradeNoWait:
		return "UPGRADE_NOWAIT"
	default:
		return "UNKNOWN"
	}
}

// ErrLockNotAvailable is returned (wrapped) by a fetch in LockUpgradeNoWait mode when the row is locked.
var ErrLockNotAvailable = errors.New("row lock not available")

// ErrReadOnlySession is returned (wrapped) when a write is attempted through a read-only session.
var ErrReadOnlySession = errors.New("session is read-only")

// Store defines the contract of the relational store consumed by the data-access layer.
//
// A Store owns the connection pool. Every logical call opens its own Session, which is
// never shared across concurrent callers.
type Store interface {
	// OpenSession opens a new session. The transaction is not started until Session.Begin.
	OpenSession(ctx context.Context, readOnly bool) (Session, error)
	// Close releases the pool. Calling Close more than once is allowed.
	Close()
	GetConnectionConfig() ConnConfig
}

// Session is one physical session (connection plus transaction) against the store.
//
// Entities are passed as pointers to the struct described by the EntityMeta. Fetch
// operations return such pointers as `any`; the caller asserts them to the concrete type.
//
// Sessions that keep an identity map of the entities they loaded expose it through
// Contains, Refresh, Evict, Flush and Clear. A session without a cache reports false
// from Contains and treats the other identity-map calls as no-ops.
type Session interface {
	ID() string
	ReadOnly() bool

	Begin(ctx context.Context) error
	IsActive() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// Close releases the session. An active transaction is rolled back first.
	Close(ctx context.Context) error

	// FetchByKey returns nil, nil when no row exists for id.
	FetchByKey(ctx context.Context, meta *EntityMeta, id int64, mode LockMode) (any, error)
	// FetchByKeys returns the rows found in store order; absent ids are omitted.
	FetchByKeys(ctx context.Context, meta *EntityMeta, ids []int64, mode LockMode) ([]any, error)

	// Insert stores a new row and assigns the identity to entity.
	Insert(ctx context.Context, meta *EntityMeta, entity any) error
	// Update writes every column of an existing row.
	Update(ctx context.Context, meta *EntityMeta, entity any) error
	// Upsert inserts the entity when its identity is zero, otherwise inserts or updates it.
	Upsert(ctx context.Context, meta *EntityMeta, entity any) error

	RunQuery(ctx context.Context, meta *EntityMeta, query Query) ([]any, error)
	RunAggregate(ctx context.Context, meta *EntityMeta, aggregate Aggregate) (Scalar, error)
	// ExecuteMutatingQuery runs a bulk update/delete and returns the affected row count.
	ExecuteMutatingQuery(ctx context.Context, meta *EntityMeta, query TextQuery) (int64, error)

	Contains(meta *EntityMeta, entity any) bool
	Refresh(ctx context.Context, meta *EntityMeta, entity any) error
	Evict(meta *EntityMeta, entity any)
	Flush(ctx context.Context) error
	Clear()
}

// BatchWriter is implemented by sessions that can write a list of entities in one round trip.
// Entities are written in order, each with Upsert semantics.
type BatchWriter interface {
	UpsertAll(ctx context.Context, meta *EntityMeta, entities []any) error
}
