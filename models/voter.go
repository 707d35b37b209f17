package models

import "time"

type VotingHistoryEntry struct {
	Voted   bool       `json:"voted"`
	VotedAt *time.Time `json:"voted_at,omitempty"`
}

// Voter is the portion of a registered voter this core reads and writes.
// Identity data stays with the surrounding registry.
type Voter struct {
	ID                string                        `json:"id"`
	Name              string                        `json:"name,omitempty"`
	IsActive          bool                          `json:"is_active"`
	IsVerified        bool                          `json:"is_verified"`
	State             string                        `json:"state"`
	LGA               string                        `json:"lga"`
	EligibleElections []string                      `json:"eligible_elections"`
	VotingHistory     map[string]VotingHistoryEntry `json:"voting_history"`
	RegisteredAt      time.Time                     `json:"registered_at"`
	UpdatedAt         time.Time                     `json:"updated_at"`
}

func (v *Voter) Validate() error {
	if err := requireField("id", v.ID, MaxIDLength); err != nil {
		return err
	}
	if err := optionalField("name", v.Name, MaxNameLength); err != nil {
		return err
	}
	if err := optionalField("state", v.State, MaxRegionLength); err != nil {
		return err
	}

	return optionalField("lga", v.LGA, MaxRegionLength)
}

func (v *Voter) CanVote() bool {
	return v.IsActive && v.IsVerified
}

func (v *Voter) IsEligibleFor(electionID string) bool {
	for _, id := range v.EligibleElections {
		if id == electionID {
			return true
		}
	}

	return false
}

func (v *Voter) HasVoted(electionID string) bool {
	entry, ok := v.VotingHistory[electionID]
	return ok && entry.Voted
}

// GrantEligibility adds the election to the voter's eligible set with an
// unvoted history entry. It returns false when the voter already had it.
func (v *Voter) GrantEligibility(electionID string) bool {
	if v.IsEligibleFor(electionID) {
		return false
	}

	v.EligibleElections = append(v.EligibleElections, electionID)
	if v.VotingHistory == nil {
		v.VotingHistory = make(map[string]VotingHistoryEntry)
	}
	if _, ok := v.VotingHistory[electionID]; !ok {
		v.VotingHistory[electionID] = VotingHistoryEntry{Voted: false}
	}

	return true
}

// MarkVoted flips the voting-history entry to voted. The flag never goes
// back to false.
func (v *Voter) MarkVoted(electionID string, at time.Time) error {
	if !v.IsEligibleFor(electionID) {
		return ErrNotEligible
	}
	if v.HasVoted(electionID) {
		return ErrAlreadyVoted
	}

	if v.VotingHistory == nil {
		v.VotingHistory = make(map[string]VotingHistoryEntry)
	}
	v.VotingHistory[electionID] = VotingHistoryEntry{Voted: true, VotedAt: &at}

	return nil
}
