package core

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"FundLedger/internal/event"
)

const GenesisHashSeed = "FundLedger:genesis:v1"

// StateHasher chains event hashes
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: GenesisHash(),
	}
}

// RestoreStateHasher resumes a chain from a snapshot tip
func RestoreStateHasher(tip [32]byte) *StateHasher {
	return &StateHasher{prevHash: tip}
}

func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// ComputeHash returns SHA-256(prev_hash || sequence || payload) and advances the chain
func (h *StateHasher) ComputeHash(sequence int64, payload []byte) [32]byte {
	hash := chainHash(h.prevHash, sequence, payload)

	// Update prev_hash for next iteration
	h.prevHash = hash

	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

func chainHash(prev [32]byte, sequence int64, payload []byte) [32]byte {
	hasher := sha256.New()

	// Write prev_hash (32 bytes)
	hasher.Write(prev[:])

	// Write sequence (8 bytes LE)
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(payload)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// VerifyChain replays envelopes from tip and checks every link.
// Returns the new tip.
func VerifyChain(tip [32]byte, envelopes []*event.EventEnvelope) ([32]byte, error) {
	for _, env := range envelopes {
		if env.PrevHash != tip {
			return tip, fmt.Errorf("chain break at sequence %d: prev hash mismatch", env.Sequence)
		}
		want := chainHash(tip, env.Sequence, env.Payload)
		if env.StateHash != want {
			return tip, fmt.Errorf("chain break at sequence %d: state hash mismatch", env.Sequence)
		}
		tip = want
	}
	return tip, nil
}
