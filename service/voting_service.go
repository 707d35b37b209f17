package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"voting-ledger/anonymizer"
	"voting-ledger/blockchain"
	"voting-ledger/logging"
	"voting-ledger/models"
	"voting-ledger/storage"
)

// Signer is the cryptographic collaborator of the vote lifecycle.
type Signer interface {
	NewReceiptCode() (string, error)
	Sign(payload []byte) ([]byte, error)
	VerifySignature(payload, signature []byte) bool
}

const maxReceiptAttempts = 3

type CastVoteRequest struct {
	ElectionID  string    `json:"election_id"`
	CandidateID string    `json:"candidate_id"`
	VoterID     string    `json:"voter_id"`
	Timestamp   time.Time `json:"timestamp"`
	IsOffline   bool      `json:"is_offline"`
}

type CastVoteResult struct {
	Vote        *models.Vote `json:"vote"`
	ReceiptCode string       `json:"receipt_code"`
}

// ReceiptVerification is what a receipt code proves. It never carries the
// voter identity.
type ReceiptVerification struct {
	Valid          bool              `json:"valid"`
	ReceiptCode    string            `json:"receipt_code"`
	Reason         string            `json:"reason,omitempty"`
	ElectionID     string            `json:"election_id,omitempty"`
	ElectionTitle  string            `json:"election_title,omitempty"`
	CandidateName  string            `json:"candidate_name,omitempty"`
	CandidateParty string            `json:"candidate_party,omitempty"`
	CastAt         *time.Time        `json:"cast_at,omitempty"`
	BlockHash      string            `json:"block_hash,omitempty"`
	SyncStatus     models.SyncStatus `json:"sync_status,omitempty"`
}

type LedgerStatus struct {
	Valid     bool      `json:"valid"`
	Height    uint64    `json:"height"`
	TailHash  string    `json:"tail_hash"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// VotingService runs a vote from submission to a durable, ledger-backed
// record, and reconciles votes accepted offline.
type VotingService struct {
	*logging.Logging
	repo       *storage.Repository
	writer     *LedgerWriter
	signer     Signer
	anonymizer *anonymizer.Anonymizer
	auditor    *Auditor
	metrics    *MetricsCollector
	voterLocks *keyedMutex
	syncMu     sync.Mutex
	now        func() time.Time
}

func NewVotingService(
	repo *storage.Repository,
	writer *LedgerWriter,
	signer Signer,
	auditor *Auditor,
	metrics *MetricsCollector,
) *VotingService {
	return &VotingService{
		Logging:    logging.NewModuleLogging("voting"),
		repo:       repo,
		writer:     writer,
		signer:     signer,
		anonymizer: anonymizer.New(),
		auditor:    auditor,
		metrics:    metrics,
		voterLocks: newKeyedMutex(),
		now:        time.Now,
	}
}

func (vs *VotingService) Ledger() *blockchain.Ledger {
	return vs.writer.Ledger()
}

// SetAnonymizer replaces the batch shuffler.
func (vs *VotingService) SetAnonymizer(a *anonymizer.Anonymizer) {
	vs.anonymizer = a
}

// CastVote records one vote. Rejections (not found, not eligible, already
// voted, election not active) happen before any write. Once the vote record
// is stored the voter's history entry is flipped and the receipt returned,
// whether or not the vote reached the ledger yet.
func (vs *VotingService) CastVote(ctx context.Context, req CastVoteRequest) (*CastVoteResult, error) {
	started := vs.now()

	result, err := vs.castVote(ctx, req)
	if err != nil {
		vs.metrics.RecordVoteRejected(err)
		vs.Log().Debug().Err(err).
			Str("election", req.ElectionID).
			Bool("offline", req.IsOffline).
			Msg("vote rejected")
		return nil, err
	}

	vs.metrics.RecordVoteCast(req.IsOffline, vs.now().Sub(started))
	vs.auditor.Record(ctx, ActorAnonymous, ActionVoteCast,
		"vote cast in election %s (offline=%t)", req.ElectionID, req.IsOffline)

	return result, nil
}

func (vs *VotingService) castVote(ctx context.Context, req CastVoteRequest) (*CastVoteResult, error) {
	if req.ElectionID == "" || req.CandidateID == "" || req.VoterID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "election_id, candidate_id and voter_id are required")
	}

	unlock := vs.voterLocks.Lock(voterElectionKey(req.VoterID, req.ElectionID))
	defer unlock()

	if err := vs.checkPreconditions(ctx, req); err != nil {
		return nil, err
	}

	castAt := req.Timestamp
	if castAt.IsZero() {
		castAt = vs.now()
	}

	vote := &models.Vote{
		ID:          uuid.New().String(),
		ElectionID:  req.ElectionID,
		CandidateID: req.CandidateID,
		VoterID:     req.VoterID,
		CastAt:      castAt.UTC().Truncate(time.Millisecond),
		IsOffline:   req.IsOffline,
		SyncStatus:  models.SyncPending,
	}

	code, err := vs.reserveReceipt(ctx, vote.ID)
	if err != nil {
		return nil, err
	}
	vote.ReceiptCode = code

	signature, err := vs.sign(vote)
	if err != nil {
		return nil, err
	}
	vote.Signature = signature

	if !req.IsOffline {
		block, err := vs.writer.appendForElection(ctx, vote.ElectionID, models.VoteCastEvent{
			VoteID:      vote.ID,
			ElectionID:  vote.ElectionID,
			CandidateID: vote.CandidateID,
			ReceiptCode: vote.ReceiptCode,
			Signature:   hex.EncodeToString(signature),
			CastAt:      vote.CastAt.UnixMilli(),
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to append vote to ledger")
		}

		syncedAt := vs.now().UTC()
		vote.SyncStatus = models.SyncSynced
		vote.BlockchainHash = block.Hash
		vote.SyncedAt = &syncedAt
	}

	// The vote must be durable before the voter is marked as voted.
	if err := vs.repo.InsertVote(ctx, vote); err != nil {
		return nil, errors.Wrap(err, "failed to store vote")
	}

	if _, err := vs.repo.MutateVoter(ctx, vote.VoterID, func(v *models.Voter) (bool, error) {
		if err := v.MarkVoted(vote.ElectionID, vote.CastAt); err != nil {
			return false, err
		}
		v.UpdatedAt = vs.now().UTC()
		return true, nil
	}); err != nil {
		vs.Log().Error().Err(err).
			Str("vote", vote.ID).
			Str("election", vote.ElectionID).
			Msg("vote stored but voting history was not updated")
		return nil, errors.Wrap(err, "failed to update voting history")
	}

	return &CastVoteResult{Vote: vote, ReceiptCode: vote.ReceiptCode}, nil
}

func (vs *VotingService) checkPreconditions(ctx context.Context, req CastVoteRequest) error {
	voter, err := vs.repo.GetVoter(ctx, req.VoterID)
	if err != nil {
		return errors.Wrapf(err, "voter %s", req.VoterID)
	}

	if !voter.IsEligibleFor(req.ElectionID) {
		return errors.Wrapf(models.ErrNotEligible, "voter %s, election %s", req.VoterID, req.ElectionID)
	}

	if voter.HasVoted(req.ElectionID) {
		return errors.Wrapf(models.ErrAlreadyVoted, "voter %s, election %s", req.VoterID, req.ElectionID)
	}

	election, err := vs.repo.GetElection(ctx, req.ElectionID)
	if err != nil {
		return errors.Wrapf(err, "election %s", req.ElectionID)
	}

	if election.Status != models.ElectionActive {
		return errors.Wrapf(models.ErrElectionNotActive, "election %s is %s", election.ID, election.Status)
	}

	candidate, err := vs.repo.GetCandidate(ctx, req.CandidateID)
	if err != nil {
		return errors.Wrapf(err, "candidate %s", req.CandidateID)
	}

	if candidate.ElectionID != req.ElectionID {
		return errors.Wrapf(models.ErrNotFound, "candidate %s is not on the ballot of election %s", candidate.ID, req.ElectionID)
	}

	return nil
}

// reserveReceipt draws receipt codes until one is not taken.
func (vs *VotingService) reserveReceipt(ctx context.Context, voteID string) (string, error) {
	for i := 0; i < maxReceiptAttempts; i++ {
		code, err := vs.signer.NewReceiptCode()
		if err != nil {
			return "", errors.Wrapf(models.ErrSignatureFailure, "receipt code: %v", err)
		}

		switch err := vs.repo.InsertReceipt(ctx, code, voteID); {
		case err == nil:
			return code, nil
		case storage.IsDuplicate(err):
			continue
		default:
			return "", errors.Wrap(err, "failed to reserve receipt code")
		}
	}

	return "", errors.Wrap(models.ErrSignatureFailure, "could not draw an unused receipt code")
}

func (vs *VotingService) sign(vote *models.Vote) ([]byte, error) {
	payload, err := json.Marshal(vote.Payload())
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal vote payload")
	}

	signature, err := vs.signer.Sign(payload)
	if err != nil {
		return nil, errors.Wrapf(models.ErrSignatureFailure, "%v", err)
	}

	return signature, nil
}

// SyncOfflineVotes appends every pending vote to the ledger. A vote that
// cannot be signed or appended is marked failed and the pass moves on. It
// returns the number of votes synced by this call.
func (vs *VotingService) SyncOfflineVotes(ctx context.Context) (int, error) {
	vs.syncMu.Lock()
	defer vs.syncMu.Unlock()

	var pending []*models.Vote
	if err := vs.repo.ScanVotes(ctx, func(v *models.Vote) (bool, error) {
		if v.SyncStatus == models.SyncPending {
			pending = append(pending, v)
		}
		return true, nil
	}); err != nil {
		return 0, errors.Wrap(err, "failed to scan pending votes")
	}

	if len(pending) == 0 {
		vs.metrics.RecordSyncPass(0, 0, 0)
		return 0, nil
	}

	var synced, failed int
	for _, vote := range vs.anonymizer.ShuffleVotes(pending) {
		if err := ctx.Err(); err != nil {
			vs.metrics.RecordSyncPass(len(pending), synced, failed)
			return synced, err
		}

		ok, err := vs.syncVote(ctx, vote)
		switch {
		case err != nil:
			vs.Log().Error().Err(err).Str("vote", vote.ID).Msg("failed to record vote sync result")
		case ok:
			synced++
		default:
			failed++
		}
	}

	vs.metrics.RecordSyncPass(len(pending), synced, failed)
	vs.Log().Info().
		Int("pending", len(pending)).
		Int("synced", synced).
		Int("failed", failed).
		Msg("offline votes reconciled")

	vs.auditor.Record(ctx, ActorSystem, ActionVotesSynced,
		"reconciled %d pending votes: %d synced, %d failed", len(pending), synced, failed)

	return synced, nil
}

// syncVote reports whether vote reached synced. A non-nil error means the
// outcome could not be stored and the vote stays pending.
func (vs *VotingService) syncVote(ctx context.Context, vote *models.Vote) (bool, error) {
	signature, block, syncErr := vs.appendSync(ctx, vote)

	var synced bool
	_, err := vs.repo.MutateVote(ctx, vote.ID, func(v *models.Vote) (bool, error) {
		if v.SyncStatus != models.SyncPending {
			return false, nil
		}

		if syncErr != nil {
			v.SyncStatus = models.SyncFailed
			v.SyncError = syncErr.Error()
			return true, nil
		}

		syncedAt := time.UnixMilli(block.Timestamp).UTC()
		v.SyncStatus = models.SyncSynced
		v.BlockchainHash = block.Hash
		v.Signature = signature
		v.SyncedAt = &syncedAt
		v.SyncError = ""
		synced = true

		return true, nil
	})

	if syncErr != nil {
		vs.Log().Warn().Err(syncErr).Str("vote", vote.ID).Msg("vote sync failed")
	}

	return synced, err
}

func (vs *VotingService) appendSync(ctx context.Context, vote *models.Vote) ([]byte, *models.Block, error) {
	signature, err := vs.sign(vote)
	if err != nil {
		return nil, nil, err
	}

	block, err := vs.writer.appendForElection(ctx, vote.ElectionID, models.VoteSyncEvent{
		VoteID:      vote.ID,
		ElectionID:  vote.ElectionID,
		CandidateID: vote.CandidateID,
		ReceiptCode: vote.ReceiptCode,
		Signature:   hex.EncodeToString(signature),
		CastAt:      vote.CastAt.UnixMilli(),
		SyncedAt:    vs.now().UnixMilli(),
	})
	if err != nil {
		return nil, nil, err
	}

	return signature, block, nil
}

// RequeueFailedVotes moves failed votes back to pending so the next
// reconciliation pass retries them. With no ids every failed vote is
// requeued. Ids that are not failed are skipped.
func (vs *VotingService) RequeueFailedVotes(ctx context.Context, voteIDs ...string) (int, error) {
	if len(voteIDs) == 0 {
		if err := vs.repo.ScanVotes(ctx, func(v *models.Vote) (bool, error) {
			if v.SyncStatus == models.SyncFailed {
				voteIDs = append(voteIDs, v.ID)
			}
			return true, nil
		}); err != nil {
			return 0, errors.Wrap(err, "failed to scan failed votes")
		}
	}

	var requeued int
	for _, id := range voteIDs {
		changed := false
		if _, err := vs.repo.MutateVote(ctx, id, func(v *models.Vote) (bool, error) {
			if v.SyncStatus != models.SyncFailed {
				return false, nil
			}
			v.SyncStatus = models.SyncPending
			changed = true
			return true, nil
		}); err != nil {
			return requeued, errors.Wrapf(err, "failed to requeue vote %s", id)
		}

		if changed {
			requeued++
		}
	}

	if requeued > 0 {
		vs.auditor.Record(ctx, ActorSystem, ActionVotesRequeued, "requeued %d failed votes", requeued)
	}

	return requeued, nil
}

// VerifyReceipt checks a receipt code against the stored vote's signature
// and, for synced votes, against the ledger block and the signature it
// carries. An unknown code is invalid, not an error.
func (vs *VotingService) VerifyReceipt(ctx context.Context, code string) (*ReceiptVerification, error) {
	result := &ReceiptVerification{ReceiptCode: code}

	vote, err := vs.repo.GetVoteByReceipt(ctx, code)
	switch {
	case errors.Is(err, models.ErrNotFound):
		result.Reason = "receipt not found"
		return result, nil
	case err != nil:
		return nil, err
	}

	payload, err := json.Marshal(vote.Payload())
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal vote payload")
	}

	if !vs.signer.VerifySignature(payload, vote.Signature) {
		result.Reason = "vote signature is invalid"
		return result, nil
	}

	if vote.SyncStatus == models.SyncSynced {
		block, err := vs.writer.Ledger().GetByHash(ctx, vote.BlockchainHash)
		switch {
		case errors.Is(err, models.ErrNotFound):
			result.Reason = "ledger block not found"
			return result, nil
		case err != nil:
			return nil, err
		}

		electionID, candidateID, ok := models.VoteReference(block.Event)
		if !ok || electionID != vote.ElectionID || candidateID != vote.CandidateID {
			result.Reason = "ledger block does not match vote"
			return result, nil
		}

		encoded, _ := models.VoteSignature(block.Event)
		signature, err := hex.DecodeString(encoded)
		if err != nil || !vs.signer.VerifySignature(payload, signature) {
			result.Reason = "ledger block signature is invalid"
			return result, nil
		}
	}

	castAt := vote.CastAt
	result.Valid = true
	result.ElectionID = vote.ElectionID
	result.CastAt = &castAt
	result.BlockHash = vote.BlockchainHash
	result.SyncStatus = vote.SyncStatus

	if election, err := vs.repo.GetElection(ctx, vote.ElectionID); err == nil {
		result.ElectionTitle = election.Title
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	if candidate, err := vs.repo.GetCandidate(ctx, vote.CandidateID); err == nil {
		result.CandidateName = candidate.Name
		result.CandidateParty = candidate.Party
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	return result, nil
}

// ValidateLedger reports chain health. A broken chain is a report, not an
// error; only a store failure returns one.
func (vs *VotingService) ValidateLedger(ctx context.Context) (*LedgerStatus, error) {
	ledger := vs.writer.Ledger()

	status := &LedgerStatus{
		Valid:     true,
		Height:    ledger.Height(),
		TailHash:  ledger.TailHash(),
		CheckedAt: vs.now().UTC(),
	}

	if err := ledger.Verify(ctx); err != nil {
		if !errors.Is(err, models.ErrChainIntegrityViolation) {
			return nil, err
		}

		status.Valid = false
		status.Error = err.Error()
		vs.Log().Warn().Err(err).Msg("ledger integrity violation")
	}

	return status, nil
}
