package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"copytrade-engine/internal/domain"
)

// ComputeEventID computes a deterministic event_id using SHA256.
// Formula: SHA256(leader|tx_hash|block_number|pair|event_type|side)
// Returns hex-encoded hash (64 characters).
func ComputeEventID(
	leaderAddress string,
	txHash string,
	blockNumber uint64,
	pair string,
	eventType string,
	isLong bool,
) string {
	side := "short"
	if isLong {
		side = "long"
	}

	data := fmt.Sprintf("%s|%s|%d|%s|%s|%s",
		NormalizeAddress(leaderAddress),
		txHash,
		blockNumber,
		pair,
		eventType,
		side,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// FillEventIDs sets EventID on every event that arrived without one.
// Indexers are not required to send ids.
func FillEventIDs(events []domain.TradeEvent) {
	for i := range events {
		e := &events[i]
		if e.EventID != "" {
			continue
		}
		e.EventID = ComputeEventID(e.LeaderAddress, e.TxHash, e.BlockNumber, e.Pair, e.EventType.String(), e.IsLong)
	}
}
