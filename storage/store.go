package storage

import (
	"context"

	"github.com/pkg/errors"
)

type Collection string

const (
	CollectionElections  Collection = "elections"
	CollectionCandidates Collection = "candidates"
	CollectionVoters     Collection = "voters"
	CollectionVotes      Collection = "votes"
	CollectionReceipts   Collection = "receipts"
	CollectionBlocks     Collection = "blocks"
	CollectionAuditLogs  Collection = "audit_logs"
)

var Collections = []Collection{
	CollectionElections,
	CollectionCandidates,
	CollectionVoters,
	CollectionVotes,
	CollectionReceipts,
	CollectionBlocks,
	CollectionAuditLogs,
}

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
	ErrConflict  = errors.New("record changed concurrently")
	ErrClosed    = errors.New("store is closed")
)

// ScanFunc receives each record of a collection in id order. Returning false
// stops the scan.
type ScanFunc func(id string, value []byte) (bool, error)

// Store is the durable key-value collaborator. Records are addressed by
// (collection, id); there are no transactions spanning several records.
type Store interface {
	// Insert fails with ErrDuplicate when the id already exists.
	Insert(ctx context.Context, c Collection, id string, value []byte) error
	// Get fails with ErrNotFound when the id does not exist.
	Get(ctx context.Context, c Collection, id string) ([]byte, error)
	ScanAll(ctx context.Context, c Collection, fn ScanFunc) error
	// Update fails with ErrNotFound when the id does not exist.
	Update(ctx context.Context, c Collection, id string, value []byte) error
	// CompareAndSwap replaces the record only if its current value equals
	// old, failing with ErrConflict otherwise.
	CompareAndSwap(ctx context.Context, c Collection, id string, old, value []byte) error
	Close() error
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
