package models

import "time"

type CandidateResult struct {
	CandidateID string  `json:"candidate_id"`
	Name        string  `json:"name"`
	Party       string  `json:"party"`
	Position    int     `json:"position"`
	VoteCount   int     `json:"vote_count"`
	Percentage  float64 `json:"percentage"`
}

// ElectionResult is computed on demand and never persisted.
type ElectionResult struct {
	ElectionID     string            `json:"election_id"`
	Results        []CandidateResult `json:"results"`
	TotalVotes     int               `json:"total_votes"`
	EligibleVoters *int              `json:"eligible_voters,omitempty"`
	TurnoutRate    *float64          `json:"turnout_rate,omitempty"`
	LastUpdated    time.Time         `json:"last_updated"`
}

type AuditLogEntry struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}
