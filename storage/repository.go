package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"voting-ledger/models"
)

const maxCASRetries = 16

// Repository encodes domain records as JSON on top of a Store and maps store
// failures onto the domain error taxonomy.
type Repository struct {
	store Store
}

func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

func (r *Repository) Store() Store {
	return r.store
}

func (r *Repository) Close() error {
	return r.store.Close()
}

// wrapStoreError keeps not-found and duplicate errors recognisable and turns
// everything else into ErrStoreUnavailable.
func wrapStoreError(err error, format string, args ...interface{}) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrStoreUnavailable):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case IsNotFound(err):
		return errors.Wrapf(models.ErrNotFound, format, args...)
	case IsDuplicate(err), IsConflict(err):
		return errors.Wrapf(err, format, args...)
	default:
		return errors.Wrapf(models.ErrStoreUnavailable, "%s: %v", fmt.Sprintf(format, args...), err)
	}
}

func (r *Repository) insert(ctx context.Context, c Collection, id string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s record", c)
	}

	return wrapStoreError(r.store.Insert(ctx, c, id, b), "insert %s/%s", c, id)
}

func (r *Repository) update(ctx context.Context, c Collection, id string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s record", c)
	}

	return wrapStoreError(r.store.Update(ctx, c, id, b), "update %s/%s", c, id)
}

func (r *Repository) get(ctx context.Context, c Collection, id string, v interface{}) ([]byte, error) {
	b, err := r.store.Get(ctx, c, id)
	if err != nil {
		return nil, wrapStoreError(err, "get %s/%s", c, id)
	}

	if err := json.Unmarshal(b, v); err != nil {
		return nil, errors.Wrapf(models.ErrStoreUnavailable, "corrupt %s/%s: %v", c, id, err)
	}

	return b, nil
}

func scan[T any](ctx context.Context, r *Repository, c Collection, fn func(*T) (bool, error)) error {
	var cbErr error
	err := r.store.ScanAll(ctx, c, func(id string, value []byte) (bool, error) {
		var v T
		if err := json.Unmarshal(value, &v); err != nil {
			return false, errors.Wrapf(models.ErrStoreUnavailable, "corrupt %s/%s: %v", c, id, err)
		}

		keep, err := fn(&v)
		if err != nil {
			cbErr = err
			return false, err
		}

		return keep, nil
	})

	if cbErr != nil {
		return cbErr
	}

	return wrapStoreError(err, "scan %s", c)
}

// mutate runs a compare-and-swap read-modify-write loop. fn returns false
// when nothing needs to change.
func mutate[T any](ctx context.Context, r *Repository, c Collection, id string, fn func(*T) (bool, error)) (*T, error) {
	for i := 0; i < maxCASRetries; i++ {
		var v T
		old, err := r.get(ctx, c, id, &v)
		if err != nil {
			return nil, err
		}

		changed, err := fn(&v)
		if err != nil {
			return nil, err
		}
		if !changed {
			return &v, nil
		}

		b, err := json.Marshal(&v)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal %s record", c)
		}

		switch err := r.store.CompareAndSwap(ctx, c, id, old, b); {
		case err == nil:
			return &v, nil
		case IsConflict(err):
			continue
		default:
			return nil, wrapStoreError(err, "update %s/%s", c, id)
		}
	}

	return nil, errors.Wrapf(models.ErrStoreUnavailable, "update %s/%s: too many concurrent modifications", c, id)
}

// Elections

func (r *Repository) InsertElection(ctx context.Context, e *models.Election) error {
	return r.insert(ctx, CollectionElections, e.ID, e)
}

func (r *Repository) UpdateElection(ctx context.Context, e *models.Election) error {
	return r.update(ctx, CollectionElections, e.ID, e)
}

func (r *Repository) GetElection(ctx context.Context, id string) (*models.Election, error) {
	var e models.Election
	if _, err := r.get(ctx, CollectionElections, id, &e); err != nil {
		return nil, err
	}

	return &e, nil
}

func (r *Repository) ListElections(ctx context.Context) ([]*models.Election, error) {
	var elections []*models.Election
	err := scan(ctx, r, CollectionElections, func(e *models.Election) (bool, error) {
		elections = append(elections, e)
		return true, nil
	})

	return elections, err
}

// Candidates

func (r *Repository) InsertCandidate(ctx context.Context, c *models.Candidate) error {
	return r.insert(ctx, CollectionCandidates, c.ID, c)
}

func (r *Repository) GetCandidate(ctx context.Context, id string) (*models.Candidate, error) {
	var c models.Candidate
	if _, err := r.get(ctx, CollectionCandidates, id, &c); err != nil {
		return nil, err
	}

	return &c, nil
}

func (r *Repository) ListCandidates(ctx context.Context, electionID string) ([]*models.Candidate, error) {
	var candidates []*models.Candidate
	err := scan(ctx, r, CollectionCandidates, func(c *models.Candidate) (bool, error) {
		if c.ElectionID == electionID {
			candidates = append(candidates, c)
		}
		return true, nil
	})

	return candidates, err
}

// Voters

func (r *Repository) InsertVoter(ctx context.Context, v *models.Voter) error {
	return r.insert(ctx, CollectionVoters, v.ID, v)
}

func (r *Repository) GetVoter(ctx context.Context, id string) (*models.Voter, error) {
	var v models.Voter
	if _, err := r.get(ctx, CollectionVoters, id, &v); err != nil {
		return nil, err
	}

	return &v, nil
}

func (r *Repository) ScanVoters(ctx context.Context, fn func(*models.Voter) (bool, error)) error {
	return scan(ctx, r, CollectionVoters, fn)
}

// MutateVoter applies fn to the stored voter with compare-and-swap, retrying
// when another writer changed the record in between.
func (r *Repository) MutateVoter(ctx context.Context, id string, fn func(*models.Voter) (bool, error)) (*models.Voter, error) {
	return mutate(ctx, r, CollectionVoters, id, fn)
}

// Votes

func (r *Repository) InsertVote(ctx context.Context, v *models.Vote) error {
	return r.insert(ctx, CollectionVotes, v.ID, v)
}

func (r *Repository) GetVote(ctx context.Context, id string) (*models.Vote, error) {
	var v models.Vote
	if _, err := r.get(ctx, CollectionVotes, id, &v); err != nil {
		return nil, err
	}

	return &v, nil
}

func (r *Repository) MutateVote(ctx context.Context, id string, fn func(*models.Vote) (bool, error)) (*models.Vote, error) {
	return mutate(ctx, r, CollectionVotes, id, fn)
}

func (r *Repository) ScanVotes(ctx context.Context, fn func(*models.Vote) (bool, error)) error {
	return scan(ctx, r, CollectionVotes, fn)
}

// InsertReceipt reserves a receipt code for a vote. Codes are globally
// unique, so a duplicate fails with ErrDuplicate.
func (r *Repository) InsertReceipt(ctx context.Context, code, voteID string) error {
	return r.insert(ctx, CollectionReceipts, code, voteID)
}

func (r *Repository) GetVoteByReceipt(ctx context.Context, code string) (*models.Vote, error) {
	var voteID string
	if _, err := r.get(ctx, CollectionReceipts, code, &voteID); err != nil {
		return nil, err
	}

	return r.GetVote(ctx, voteID)
}

// Blocks

// BlockKey zero-pads the index so store order equals chain order.
func BlockKey(index uint64) string {
	return fmt.Sprintf("%020d", index)
}

func ParseBlockKey(key string) (uint64, error) {
	return strconv.ParseUint(key, 10, 64)
}

func (r *Repository) InsertBlock(ctx context.Context, b *models.Block) error {
	return r.insert(ctx, CollectionBlocks, BlockKey(b.Index), b)
}

func (r *Repository) GetBlock(ctx context.Context, index uint64) (*models.Block, error) {
	var b models.Block
	if _, err := r.get(ctx, CollectionBlocks, BlockKey(index), &b); err != nil {
		return nil, err
	}

	return &b, nil
}

func (r *Repository) ScanBlocks(ctx context.Context, fn func(*models.Block) (bool, error)) error {
	return scan(ctx, r, CollectionBlocks, fn)
}

// Audit logs

func (r *Repository) InsertAuditLog(ctx context.Context, entry *models.AuditLogEntry) error {
	return r.insert(ctx, CollectionAuditLogs, entry.ID, entry)
}

// ListAuditLogs returns entries in key order, skipping the first offset. A
// non-positive limit returns everything after the offset.
func (r *Repository) ListAuditLogs(ctx context.Context, offset, limit int) ([]*models.AuditLogEntry, error) {
	var entries []*models.AuditLogEntry
	skipped := 0
	err := scan(ctx, r, CollectionAuditLogs, func(e *models.AuditLogEntry) (bool, error) {
		if skipped < offset {
			skipped++
			return true, nil
		}
		entries = append(entries, e)
		return limit <= 0 || len(entries) < limit, nil
	})

	return entries, err
}
