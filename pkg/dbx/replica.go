package dbx

import (
	"context"

	"github.com/pkg/errors"
)

// ReplicatedStore routes read-only sessions to a read replica and everything else to the master.
//
// Fields:
//   - Master: the store handling all writes. Required.
//   - Replica: the read replica. When nil, read-only sessions go to the master.
type ReplicatedStore struct {
	Master  Store
	Replica Store
}

// NewReplicatedStore creates a ReplicatedStore. replica may be nil.
func NewReplicatedStore(master, replica Store) *ReplicatedStore {
	return &ReplicatedStore{Master: master, Replica: replica}
}

func (rs *ReplicatedStore) OpenSession(ctx context.Context, readOnly bool) (Session, error) {
	if rs.Master == nil {
		return nil, errors.New("replicated store: master not configured")
	}

	if readOnly && rs.Replica != nil {
		return rs.Replica.OpenSession(ctx, true)
	}

	return rs.Master.OpenSession(ctx, readOnly)
}

func (rs *ReplicatedStore) Close() {
	if rs.Replica != nil {
		rs.Replica.Close()
	}

	if rs.Master != nil {
		rs.Master.Close()
	}
}

// GetConnectionConfig returns the master's configuration.
func (rs *ReplicatedStore) GetConnectionConfig() ConnConfig {
	if rs.Master == nil {
		return ConnConfig{}
	}

	return rs.Master.GetConnectionConfig()
}
