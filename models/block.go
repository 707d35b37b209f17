package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// GenesisPreviousHash is the previous hash of block 0.
var GenesisPreviousHash = strings.Repeat("0", 64)

type Block struct {
	Index        uint64
	EventType    EventType
	Event        Event
	PreviousHash string
	Hash         string
	Timestamp    int64 // unix milliseconds
}

type blockJSON struct {
	Index        uint64          `json:"index"`
	EventType    EventType       `json:"event_type"`
	Payload      json.RawMessage `json:"payload"`
	PreviousHash string          `json:"previous_hash"`
	Hash         string          `json:"hash"`
	Timestamp    int64           `json:"timestamp"`
}

// blockForHash is the hashed content of a block, everything except the
// hash itself.
type blockForHash struct {
	Index        uint64          `json:"index"`
	EventType    EventType       `json:"event_type"`
	Payload      json.RawMessage `json:"payload"`
	PreviousHash string          `json:"previous_hash"`
	Timestamp    int64           `json:"timestamp"`
}

func NewBlock(index uint64, event Event, prevHash string, at time.Time) (*Block, error) {
	if event == nil {
		return nil, errors.Wrap(ErrInvalidInput, "block event is required")
	}

	block := &Block{
		Index:        index,
		EventType:    event.EventType(),
		Event:        event,
		PreviousHash: prevHash,
		Timestamp:    at.UnixMilli(),
	}

	hash, err := block.CalculateHash()
	if err != nil {
		return nil, err
	}
	block.Hash = hash

	return block, nil
}

func (b *Block) payload() (json.RawMessage, error) {
	if b.Event == nil {
		return nil, errors.Errorf("block %d has no event", b.Index)
	}

	raw, err := json.Marshal(b.Event)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal block %d payload", b.Index)
	}

	return raw, nil
}

func (b *Block) CalculateHash() (string, error) {
	raw, err := b.payload()
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(blockForHash{
		Index:        b.Index,
		EventType:    b.EventType,
		Payload:      raw,
		PreviousHash: b.PreviousHash,
		Timestamp:    b.Timestamp,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal block for hashing")
	}

	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Validate verifies the block's stored hash against its content.
func (b *Block) Validate() bool {
	if b.Event == nil || b.Event.EventType() != b.EventType {
		return false
	}

	calculated, err := b.CalculateHash()
	if err != nil {
		return false
	}

	return calculated == b.Hash
}

func (b Block) MarshalJSON() ([]byte, error) {
	raw, err := b.payload()
	if err != nil {
		return nil, err
	}

	return json.Marshal(blockJSON{
		Index:        b.Index,
		EventType:    b.EventType,
		Payload:      raw,
		PreviousHash: b.PreviousHash,
		Hash:         b.Hash,
		Timestamp:    b.Timestamp,
	})
}

func (b *Block) UnmarshalJSON(data []byte) error {
	var raw blockJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	event, err := decodeEvent(raw.EventType, raw.Payload)
	if err != nil {
		return err
	}

	*b = Block{
		Index:        raw.Index,
		EventType:    raw.EventType,
		Event:        event,
		PreviousHash: raw.PreviousHash,
		Hash:         raw.Hash,
		Timestamp:    raw.Timestamp,
	}

	return nil
}

// ValidateChain checks blocks in index order: content hashes, hash links
// and contiguous indexes starting at 0. The returned error wraps
// ErrChainIntegrityViolation and names the first broken block.
func ValidateChain(blocks []*Block) error {
	prevHash := GenesisPreviousHash

	for i, block := range blocks {
		if block.Index != uint64(i) {
			return errors.Wrapf(ErrChainIntegrityViolation,
				"block at position %d has index %d", i, block.Index)
		}

		if !block.Validate() {
			return errors.Wrapf(ErrChainIntegrityViolation, "block %d has invalid hash", i)
		}

		if block.PreviousHash != prevHash {
			return errors.Wrapf(ErrChainIntegrityViolation, "block %d has invalid previous hash link", i)
		}

		prevHash = block.Hash
	}

	return nil
}
