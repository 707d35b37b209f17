package blockchain

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"voting-ledger/logging"
	"voting-ledger/models"
	"voting-ledger/storage"
)

// Ledger is the hash-chained, append-only log of election events. A single
// Ledger is the only writer of the blocks collection.
type Ledger struct {
	*logging.Logging
	repo *storage.Repository
	now  func() time.Time

	mu        sync.RWMutex
	height    uint64
	tailHash  string
	hashIndex map[string]uint64
}

// Open loads the chain tail and hash index from the store.
func Open(ctx context.Context, repo *storage.Repository) (*Ledger, error) {
	l := &Ledger{
		Logging:   logging.NewModuleLogging("ledger"),
		repo:      repo,
		now:       time.Now,
		tailHash:  models.GenesisPreviousHash,
		hashIndex: make(map[string]uint64),
	}

	err := repo.ScanBlocks(ctx, func(b *models.Block) (bool, error) {
		l.hashIndex[b.Hash] = b.Index
		if b.Index+1 > l.height {
			l.height = b.Index + 1
			l.tailHash = b.Hash
		}
		return true, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load ledger")
	}

	return l, nil
}

// SetClock overrides the block timestamp source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.now = now
}

// Append links a new block for event onto the chain tail. Either the block
// is durably stored and returned, or an error is returned and the chain is
// unchanged.
func (l *Ledger) Append(ctx context.Context, event models.Event) (*models.Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	block, err := models.NewBlock(l.height, event, l.tailHash, l.now())
	if err != nil {
		return nil, err
	}

	if err := l.repo.InsertBlock(ctx, block); err != nil {
		l.Log().Error().Err(err).
			Uint64("index", block.Index).
			Str("event", string(block.EventType)).
			Msg("failed to append block")

		if storage.IsDuplicate(err) {
			return nil, errors.Wrapf(models.ErrStoreUnavailable, "block %d already exists; ledger has another writer", block.Index)
		}
		return nil, err
	}

	l.height++
	l.tailHash = block.Hash
	l.hashIndex[block.Hash] = block.Index

	l.Log().Debug().
		Uint64("index", block.Index).
		Str("event", string(block.EventType)).
		Str("hash", block.Hash).
		Msg("appended block")

	return block, nil
}

// GetByHash returns the block with the given hash, or ErrNotFound.
func (l *Ledger) GetByHash(ctx context.Context, hash string) (*models.Block, error) {
	l.mu.RLock()
	index, ok := l.hashIndex[hash]
	l.mu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "block %s", hash)
	}

	block, err := l.repo.GetBlock(ctx, index)
	if err != nil {
		return nil, err
	}

	if block.Hash != hash {
		return nil, errors.Wrapf(models.ErrNotFound, "block %s", hash)
	}

	return block, nil
}

// Verify walks the stored chain in index order and returns an error wrapping
// ErrChainIntegrityViolation at the first broken block. A block that no
// longer decodes counts as broken.
func (l *Ledger) Verify(ctx context.Context) error {
	var (
		expected uint64
		prevHash = models.GenesisPreviousHash
		broken   error
	)

	err := l.repo.Store().ScanAll(ctx, storage.CollectionBlocks, func(key string, raw []byte) (bool, error) {
		var b models.Block
		if err := json.Unmarshal(raw, &b); err != nil {
			broken = errors.Wrapf(models.ErrChainIntegrityViolation, "block %s cannot be decoded: %v", key, err)
			return false, nil
		}

		switch {
		case b.Index != expected:
			broken = errors.Wrapf(models.ErrChainIntegrityViolation, "expected block %d, found %d", expected, b.Index)
		case key != storage.BlockKey(b.Index):
			broken = errors.Wrapf(models.ErrChainIntegrityViolation, "block %d stored under key %s", b.Index, key)
		case !b.Validate():
			broken = errors.Wrapf(models.ErrChainIntegrityViolation, "block %d has invalid hash", b.Index)
		case b.PreviousHash != prevHash:
			broken = errors.Wrapf(models.ErrChainIntegrityViolation, "block %d has invalid previous hash link", b.Index)
		}
		if broken != nil {
			return false, nil
		}

		expected++
		prevHash = b.Hash
		return true, nil
	})

	switch {
	case err != nil:
		return errors.Wrapf(models.ErrStoreUnavailable, "scan blocks: %v", err)
	case broken != nil:
		return broken
	case expected < l.Height():
		return errors.Wrapf(models.ErrChainIntegrityViolation, "ledger holds %d blocks, %d expected", expected, l.Height())
	default:
		return nil
	}
}

// ValidateChain reports chain health; it never blocks writes.
func (l *Ledger) ValidateChain(ctx context.Context) bool {
	if err := l.Verify(ctx); err != nil {
		l.Log().Warn().Err(err).Msg("ledger validation failed")
		return false
	}

	return true
}

// Blocks returns up to limit blocks starting at offset, in index order.
// A non-positive limit returns everything from offset.
func (l *Ledger) Blocks(ctx context.Context, offset uint64, limit int) ([]*models.Block, error) {
	var blocks []*models.Block
	err := l.repo.ScanBlocks(ctx, func(b *models.Block) (bool, error) {
		if b.Index < offset {
			return true, nil
		}
		blocks = append(blocks, b)
		return limit <= 0 || len(blocks) < limit, nil
	})

	return blocks, err
}

func (l *Ledger) Height() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.height
}

func (l *Ledger) TailHash() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.tailHash
}
