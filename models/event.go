package models

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

type EventType string

const (
	EventElectionCreated EventType = "election_created"
	EventElectionUpdated EventType = "election_updated"
	EventCandidateAdded  EventType = "candidate_added"
	EventVoteCast        EventType = "vote_cast"
	EventVoteSync        EventType = "vote_sync"
)

// Event is the closed set of payloads a ledger block may carry. Only the
// types in this file implement it.
type Event interface {
	EventType() EventType
	isEvent()
}

type ElectionCreatedEvent struct {
	ElectionID string       `json:"election_id"`
	Title      string       `json:"title"`
	Type       ElectionType `json:"type"`
	Scope      GeoScope     `json:"scope"`
	StartDate  int64        `json:"start_date"`
	EndDate    int64        `json:"end_date"`
	CreatedBy  string       `json:"created_by"`
}

type ElectionUpdatedEvent struct {
	ElectionID     string         `json:"election_id"`
	Title          string         `json:"title"`
	PreviousStatus ElectionStatus `json:"previous_status"`
	Status         ElectionStatus `json:"status"`
	UpdatedBy      string         `json:"updated_by"`
}

type CandidateAddedEvent struct {
	CandidateID string `json:"candidate_id"`
	ElectionID  string `json:"election_id"`
	Name        string `json:"name"`
	Party       string `json:"party"`
	Position    int    `json:"position"`
}

// VoteCastEvent records a vote accepted while connected.
type VoteCastEvent struct {
	VoteID      string `json:"vote_id"`
	ElectionID  string `json:"election_id"`
	CandidateID string `json:"candidate_id"`
	ReceiptCode string `json:"receipt_code"`
	Signature   string `json:"signature"`
	CastAt      int64  `json:"cast_at"`
}

// VoteSyncEvent records an offline vote reconciled into the ledger.
type VoteSyncEvent struct {
	VoteID      string `json:"vote_id"`
	ElectionID  string `json:"election_id"`
	CandidateID string `json:"candidate_id"`
	ReceiptCode string `json:"receipt_code"`
	Signature   string `json:"signature"`
	CastAt      int64  `json:"cast_at"`
	SyncedAt    int64  `json:"synced_at"`
}

func (ElectionCreatedEvent) EventType() EventType { return EventElectionCreated }
func (ElectionUpdatedEvent) EventType() EventType { return EventElectionUpdated }
func (CandidateAddedEvent) EventType() EventType  { return EventCandidateAdded }
func (VoteCastEvent) EventType() EventType        { return EventVoteCast }
func (VoteSyncEvent) EventType() EventType        { return EventVoteSync }

func (ElectionCreatedEvent) isEvent() {}
func (ElectionUpdatedEvent) isEvent() {}
func (CandidateAddedEvent) isEvent()  {}
func (VoteCastEvent) isEvent()        {}
func (VoteSyncEvent) isEvent()        {}

// VoteReference returns the election and candidate a vote event points at.
func VoteReference(e Event) (electionID, candidateID string, ok bool) {
	switch t := e.(type) {
	case VoteCastEvent:
		return t.ElectionID, t.CandidateID, true
	case VoteSyncEvent:
		return t.ElectionID, t.CandidateID, true
	default:
		return "", "", false
	}
}

// VoteSignature returns the hex signature a vote event carries.
func VoteSignature(e Event) (string, bool) {
	switch t := e.(type) {
	case VoteCastEvent:
		return t.Signature, true
	case VoteSyncEvent:
		return t.Signature, true
	default:
		return "", false
	}
}

// decodeStrict rejects fields the event type does not declare, so a payload
// cannot carry data the block hash would not cover.
func decodeStrict(raw json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after payload")
	}

	return nil
}

func decodeEvent(eventType EventType, raw json.RawMessage) (Event, error) {
	var (
		event Event
		err   error
	)

	switch eventType {
	case EventElectionCreated:
		var e ElectionCreatedEvent
		err = decodeStrict(raw, &e)
		event = e
	case EventElectionUpdated:
		var e ElectionUpdatedEvent
		err = decodeStrict(raw, &e)
		event = e
	case EventCandidateAdded:
		var e CandidateAddedEvent
		err = decodeStrict(raw, &e)
		event = e
	case EventVoteCast:
		var e VoteCastEvent
		err = decodeStrict(raw, &e)
		event = e
	case EventVoteSync:
		var e VoteSyncEvent
		err = decodeStrict(raw, &e)
		event = e
	default:
		return nil, errors.Errorf("unknown event type %q", eventType)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s payload", eventType)
	}

	return event, nil
}
