package models

import "time"

type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

type Vote struct {
	ID             string     `json:"id"`
	ElectionID     string     `json:"election_id"`
	CandidateID    string     `json:"candidate_id"`
	VoterID        string     `json:"voter_id"`
	CastAt         time.Time  `json:"cast_at"`
	IsOffline      bool       `json:"is_offline"`
	SyncStatus     SyncStatus `json:"sync_status"`
	ReceiptCode    string     `json:"receipt_code"`
	BlockchainHash string     `json:"blockchain_hash"`
	Signature      []byte     `json:"signature"`
	SyncedAt       *time.Time `json:"synced_at,omitempty"`
	SyncError      string     `json:"sync_error,omitempty"`
}

// VotePayload is the content signed for a vote. It deliberately carries no
// voter identifier.
type VotePayload struct {
	ElectionID  string `json:"election_id"`
	CandidateID string `json:"candidate_id"`
	Timestamp   int64  `json:"timestamp"`
	ReceiptCode string `json:"receipt_code"`
}

func (v *Vote) Payload() VotePayload {
	return VotePayload{
		ElectionID:  v.ElectionID,
		CandidateID: v.CandidateID,
		Timestamp:   v.CastAt.UnixMilli(),
		ReceiptCode: v.ReceiptCode,
	}
}
