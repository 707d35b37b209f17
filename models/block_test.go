package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type testBlock struct {
	suite.Suite
	at time.Time
}

func (t *testBlock) SetupSuite() {
	t.at = time.Date(2027, 2, 25, 9, 30, 0, 0, time.UTC)
}

func (t *testBlock) chain(n int) []*Block {
	prev := GenesisPreviousHash
	blocks := make([]*Block, n)
	for i := range blocks {
		b, err := NewBlock(uint64(i), VoteCastEvent{
			VoteID:      "vote",
			ElectionID:  "e1",
			CandidateID: "c1",
			ReceiptCode: "VR-AAAA-BBBB-CCCC-DDDD",
			Signature:   "0x01",
			CastAt:      t.at.UnixMilli(),
		}, prev, t.at.Add(time.Duration(i)*time.Second))
		t.Require().NoError(err)
		blocks[i] = b
		prev = b.Hash
	}

	return blocks
}

func (t *testBlock) TestNewBlock() {
	b, err := NewBlock(0, ElectionCreatedEvent{ElectionID: "e1", Title: "General"}, GenesisPreviousHash, t.at)
	t.Require().NoError(err)

	t.Equal(EventElectionCreated, b.EventType)
	t.Len(b.Hash, 64)
	t.Equal(t.at.UnixMilli(), b.Timestamp)
	t.True(b.Validate())

	again, err := b.CalculateHash()
	t.Require().NoError(err)
	t.Equal(b.Hash, again)

	_, err = NewBlock(0, nil, GenesisPreviousHash, t.at)
	t.ErrorIs(err, ErrInvalidInput)
}

func (t *testBlock) TestHashCoversContent() {
	a, err := NewBlock(0, CandidateAddedEvent{CandidateID: "c1", ElectionID: "e1"}, GenesisPreviousHash, t.at)
	t.Require().NoError(err)
	b, err := NewBlock(0, CandidateAddedEvent{CandidateID: "c2", ElectionID: "e1"}, GenesisPreviousHash, t.at)
	t.Require().NoError(err)
	c, err := NewBlock(0, CandidateAddedEvent{CandidateID: "c1", ElectionID: "e1"}, GenesisPreviousHash, t.at.Add(time.Millisecond))
	t.Require().NoError(err)

	t.NotEqual(a.Hash, b.Hash)
	t.NotEqual(a.Hash, c.Hash)

	a.Event = CandidateAddedEvent{CandidateID: "c9", ElectionID: "e1"}
	t.False(a.Validate())
}

func (t *testBlock) TestEventTypeMismatchIsInvalid() {
	b, err := NewBlock(0, CandidateAddedEvent{CandidateID: "c1"}, GenesisPreviousHash, t.at)
	t.Require().NoError(err)

	b.EventType = EventVoteCast
	t.False(b.Validate())
}

func (t *testBlock) TestJSONRoundTrip() {
	blocks := t.chain(1)

	data, err := json.Marshal(blocks[0])
	t.Require().NoError(err)
	t.Contains(string(data), `"payload":{`)

	var decoded Block
	t.Require().NoError(json.Unmarshal(data, &decoded))
	t.Equal(*blocks[0], decoded)
	t.True(decoded.Validate())

	electionID, candidateID, ok := VoteReference(decoded.Event)
	t.True(ok)
	t.Equal("e1", electionID)
	t.Equal("c1", candidateID)
}

func (t *testBlock) TestUnknownEventTypeIsRejected() {
	raw := `{"index":0,"event_type":"voter_deleted","payload":{},"previous_hash":"","hash":"","timestamp":0}`

	var b Block
	t.Error(json.Unmarshal([]byte(raw), &b))
}

func (t *testBlock) TestPayloadWithUndeclaredFieldIsRejected() {
	data, err := json.Marshal(t.chain(1)[0])
	t.Require().NoError(err)

	injected := strings.Replace(string(data), `"election_id":"e1"`, `"election_id":"e1","voter_id":"v-01"`, 1)
	t.Require().NotEqual(string(data), injected)

	var b Block
	err = json.Unmarshal([]byte(injected), &b)
	t.Require().Error(err)
	t.Contains(err.Error(), "voter_id")
}

func (t *testBlock) TestVoteSignature() {
	sig, ok := VoteSignature(t.chain(1)[0].Event)
	t.True(ok)
	t.Equal("0x01", sig)

	_, ok = VoteSignature(CandidateAddedEvent{CandidateID: "c1"})
	t.False(ok)
}

func (t *testBlock) TestPayloadCarriesNoVoterID() {
	blocks := t.chain(1)

	data, err := json.Marshal(blocks[0])
	t.Require().NoError(err)
	t.False(strings.Contains(string(data), "voter"))
}

func (t *testBlock) TestValidateChain() {
	t.NoError(ValidateChain(nil))
	t.NoError(ValidateChain(t.chain(5)))
}

func (t *testBlock) TestValidateChainDetectsTampering() {
	blocks := t.chain(4)
	blocks[2].Event = VoteCastEvent{ElectionID: "e1", CandidateID: "c2"}
	t.ErrorIs(ValidateChain(blocks), ErrChainIntegrityViolation)

	blocks = t.chain(4)
	blocks[2].PreviousHash = GenesisPreviousHash
	hash, err := blocks[2].CalculateHash()
	t.Require().NoError(err)
	blocks[2].Hash = hash
	t.ErrorIs(ValidateChain(blocks), ErrChainIntegrityViolation)

	blocks = t.chain(4)
	t.ErrorIs(ValidateChain(append(blocks[:1], blocks[2:]...)), ErrChainIntegrityViolation)
}

func TestBlock(t *testing.T) {
	suite.Run(t, new(testBlock))
}
