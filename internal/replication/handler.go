package replication

import (
	"context"

	"quorumdb/internal/transport"
	"quorumdb/internal/wire"
)

var _ transport.ReplicaHandler = (*Manager)(nil)

// HandleReplicaWrite applies a coordinator's write to the local replica. An
// older item is acknowledged without being applied.
func (m *Manager) HandleReplicaWrite(_ context.Context, req *wire.ReplicaWrite) (*wire.ReplicaWriteAck, error) {
	if req.Item.Key == "" {
		return nil, ErrEmptyKey
	}
	return &wire.ReplicaWriteAck{Applied: m.store.Put(req.Item)}, nil
}

func (m *Manager) HandleReplicaRead(_ context.Context, req *wire.ReplicaRead) (*wire.ReplicaReadResult, error) {
	it, ok := m.store.Get(req.Key)
	return &wire.ReplicaReadResult{Found: ok, Item: it}, nil
}
