package backend

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// nullHashMarker stands in for the missing previous hash of the first
// record in a stream.
const nullHashMarker = "∅"

// purgedContentHash replaces the content hash of purged records.
const purgedContentHash = "purged"

// timestampISO formats an epoch-millis timestamp the way it enters the
// record hash. Millisecond precision matches what the database stores, so
// a chain can be re-verified from persisted rows alone.
func timestampISO(epochMillis int64) string {
	return time.UnixMilli(epochMillis).UTC().Format("2006-01-02T15:04:05.000Z")
}

// contentHash returns the hex SHA-256 of the stored content bytes.
func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// recordHash derives the chain hash of a record from its predecessor's
// hash, the content hash, the author and the creation timestamp.
func recordHash(previousHash *string, contentHash, userID string, createdAt int64) string {
	prev := nullHashMarker
	if previousHash != nil {
		prev = *previousHash
	}
	sum := sha256.Sum256([]byte(prev + contentHash + userID + timestampISO(createdAt)))
	return hex.EncodeToString(sum[:])
}

// VerifyChain checks that records, ordered by index, form an unbroken
// hash chain: the first record has no previous hash and every later
// record links to its predecessor. Purged records keep their original
// hash, so link verification still succeeds after a purge.
func VerifyChain(records []*Record) bool {
	for k, record := range records {
		if k == 0 {
			if record.PreviousHash != nil {
				return false
			}
			continue
		}
		if record.PreviousHash == nil || *record.PreviousHash != records[k-1].Hash {
			return false
		}
	}
	return true
}
