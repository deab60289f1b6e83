// Package uow manages units of work: one store session and its transaction,
// bound to the context.Context of the logical call that opened it.
package uow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/marcodd23/go-micro-dao/pkg/errorx"
	"github.com/marcodd23/go-micro-dao/pkg/logx"
	"github.com/pkg/errors"
)

// State - lifecycle state of a Unit.
type State int

const (
	NotStarted State = iota
	Active
	Committed
	RolledBack
	Closed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Active:
		return "active"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled-back"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Unit - one open transaction against the store.
// A Unit belongs to the call that began it and must not be shared between goroutines.
type Unit struct {
	id        string
	readOnly  bool
	store     dbx.Store
	session   dbx.Session
	state     State
	committed bool
}

func (u *Unit) ID() string { return u.id }

func (u *Unit) ReadOnly() bool { return u.readOnly }

// Store - the store that opened the unit.
func (u *Unit) Store() dbx.Store { return u.store }

// Session - the session bound to the unit.
func (u *Unit) Session() dbx.Session { return u.session }

func (u *Unit) State() State { return u.state }

// Committed reports whether the unit committed successfully. It stays true after Close.
func (u *Unit) Committed() bool { return u.committed }

type unitKey struct{}

// storeUnitKey binds a unit to the store that opened it. Stores are compared by identity.
type storeUnitKey struct{ store dbx.Store }

// WithUnit returns a copy of ctx carrying u, both as the current unit and as the unit of its store.
func WithUnit(ctx context.Context, u *Unit) context.Context {
	ctx = context.WithValue(ctx, unitKey{}, u)
	if u != nil && u.store != nil {
		ctx = context.WithValue(ctx, storeUnitKey{store: u.store}, u)
	}

	return ctx
}

// FromContext returns the most recent unit carried by ctx, as long as it is still active.
func FromContext(ctx context.Context) (*Unit, bool) {
	u, _ := ctx.Value(unitKey{}).(*Unit)
	return active(u)
}

// ForStore returns the active unit ctx carries for store. Units opened on other stores are
// never returned, even when they are more recent.
func ForStore(ctx context.Context, store dbx.Store) (*Unit, bool) {
	if store == nil {
		return nil, false
	}

	u, _ := ctx.Value(storeUnitKey{store: store}).(*Unit)

	return active(u)
}

func active(u *Unit) (*Unit, bool) {
	if u == nil || u.state != Active {
		return nil, false
	}

	return u, true
}

// Manager - opens and terminates units of work on a store.
// The read-only flag is fixed per manager: reads use read-only units, writes do not.
type Manager struct {
	store    dbx.Store
	readOnly bool
}

// NewManager - Manager constructor.
func NewManager(store dbx.Store, readOnly bool) *Manager {
	return &Manager{store: store, readOnly: readOnly}
}

// Begin opens a session, starts its transaction and binds the new unit to the returned context.
//
// If the transaction cannot be started the session is closed before the error is returned,
// so no session leaks on the failure path.
//
// Returns:
//   - context.Context: ctx carrying the unit and its correlation id.
//   - *Unit: the active unit.
//   - error: the session open or begin failure.
func (m *Manager) Begin(ctx context.Context) (context.Context, *Unit, error) {
	if m.store == nil {
		return ctx, nil, errors.New("unit of work manager has no store")
	}

	sess, err := m.store.OpenSession(ctx, m.readOnly)
	if err != nil {
		return ctx, nil, errors.Wrap(err, "error opening session")
	}

	u := &Unit{
		id:       uuid.NewString(),
		readOnly: m.readOnly,
		store:    m.store,
		session:  sess,
		state:    NotStarted,
	}

	ctx = logx.WithCorrelationID(ctx, u.id)

	if err := sess.Begin(ctx); err != nil {
		if closeErr := sess.Close(ctx); closeErr != nil {
			logx.GetLogger().LogWarning(ctx, "error closing session after failed begin", closeErr)
		}

		u.state = Closed

		return ctx, nil, errors.Wrap(err, "error starting transaction")
	}

	u.state = Active

	logx.GetLogger().LogDebug(ctx, fmt.Sprintf("unit of work %s begun (readOnly=%t, session=%s)", u.id, u.readOnly, sess.ID()))

	return WithUnit(ctx, u), u, nil
}

// Commit commits the unit when its transaction is still active, otherwise it is a no-op.
// A failed commit is rolled back and its error returned.
func (m *Manager) Commit(ctx context.Context, u *Unit) error {
	if u == nil || u.state != Active {
		return nil
	}

	if !u.session.IsActive() {
		return nil
	}

	if err := u.session.Commit(ctx); err != nil {
		logx.GetLogger().LogError(ctx, fmt.Sprintf("unit of work %s commit failed", u.id), err)

		if rbErr := m.Rollback(ctx, u); rbErr != nil {
			logx.GetLogger().LogError(ctx, fmt.Sprintf("unit of work %s rollback after failed commit failed", u.id), rbErr)
		}

		u.state = RolledBack

		return err
	}

	u.state = Committed
	u.committed = true

	logx.GetLogger().LogDebug(ctx, fmt.Sprintf("unit of work %s committed", u.id))

	return nil
}

// Rollback rolls the unit back if its transaction is still active. Calling it again is a no-op.
func (m *Manager) Rollback(ctx context.Context, u *Unit) error {
	if u == nil || u.state == Closed {
		return nil
	}

	if !u.session.IsActive() {
		if u.state == Active {
			u.state = RolledBack
		}

		return nil
	}

	err := u.session.Rollback(ctx)
	u.state = RolledBack

	if err != nil {
		return errors.Wrapf(err, "error rolling back unit of work %s", u.id)
	}

	logx.GetLogger().LogDebug(ctx, fmt.Sprintf("unit of work %s rolled back", u.id))

	return nil
}

// OnError terminates a failed unit. Constraint violations are not rolled back, the store
// has already aborted the transaction. The session is always closed.
func (m *Manager) OnError(ctx context.Context, u *Unit, cause error) {
	if u == nil || u.state == Closed {
		return
	}

	defer m.Close(ctx, u)

	if errorx.IsConstraintViolation(cause) {
		logx.GetLogger().LogWarning(ctx, fmt.Sprintf("unit of work %s failed on a constraint violation", u.id), cause)
		return
	}

	logx.GetLogger().LogDebug(ctx, fmt.Sprintf("unit of work %s failed: %v", u.id, cause))

	if err := m.Rollback(ctx, u); err != nil {
		logx.GetLogger().LogError(ctx, "error during rollback", err)
	}
}

// End commits the unit and closes it, whatever the commit outcome.
func (m *Manager) End(ctx context.Context, u *Unit) error {
	if u == nil || u.session == nil {
		return nil
	}

	defer m.Close(ctx, u)

	return m.Commit(ctx, u)
}

// Close releases the unit's session. Closing twice is a no-op.
func (m *Manager) Close(ctx context.Context, u *Unit) {
	if u == nil || u.state == Closed {
		return
	}

	if u.state == Active && u.session.IsActive() {
		u.state = RolledBack
	}

	if err := u.session.Close(ctx); err != nil {
		logx.GetLogger().LogError(ctx, fmt.Sprintf("error closing session of unit of work %s", u.id), err)
	}

	u.state = Closed

	logx.GetLogger().LogDebug(ctx, fmt.Sprintf("unit of work %s closed", u.id))
}
