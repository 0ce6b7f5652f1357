// Package store defines the storage interface for extraction indexes.
package store

import (
	"github.com/Zerofisher/hcisnoop/pkg/model"
)

// SchemaVersion is incremented when schema changes require re-indexing.
const SchemaVersion = 1

// Store defines the interface for packet index storage.
type Store interface {
	// Lifecycle
	Close() error

	// Metadata
	GetMeta() (*model.IndexMeta, error)
	SetMeta(meta *model.IndexMeta) error

	// Write operations (used by the indexer)
	Writer

	// Read operations
	Packets(filter PacketFilter) ([]*model.PacketSummary, error)
}

// Writer defines write-side operations for the indexer.
type Writer interface {
	// BeginBatch starts a batch write transaction.
	BeginBatch() error

	// CommitBatch commits the current batch.
	CommitBatch() error

	// RollbackBatch rolls back the current batch.
	RollbackBatch() error

	// InsertPacket inserts a packet summary.
	InsertPacket(p *model.PacketSummary) error

	// InsertPackets inserts multiple packet summaries.
	InsertPackets(packets []*model.PacketSummary) error
}

// PacketFilter narrows a packet query. Zero values match everything.
type PacketFilter struct {
	Type   string
	Handle *int
	Limit  int
}
