package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ComputeCopytraderID computes a deterministic copytrader_id using SHA256.
// Formula: SHA256(user_id|lower(leader_address)), truncated to 32 hex characters.
// Following the same leader twice resolves to the same copytrader.
func ComputeCopytraderID(userID, leaderAddress string) string {
	data := fmt.Sprintf("%s|%s", userID, NormalizeAddress(leaderAddress))
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16])
}

// NormalizeAddress lowercases and trims a hex address so lookups are
// case-insensitive.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
