package backend

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sum(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, sum("hi"), contentHash([]byte("hi")))
}

func TestRecordHashFirstRecordUsesNullMarker(t *testing.T) {
	ch := contentHash([]byte("hi"))
	createdAt := int64(1700000000000)
	expected := sum("∅" + ch + "alice" + "2023-11-14T22:13:20.000Z")
	assert.Equal(t, expected, recordHash(nil, ch, "alice", createdAt))
}

func TestRecordHashLinksToPrevious(t *testing.T) {
	previous := sum("anything")
	ch := contentHash([]byte("b"))
	createdAt := int64(1700000000001)
	expected := sum(previous + ch + "alice" + timestampISO(createdAt))
	assert.Equal(t, expected, recordHash(&previous, ch, "alice", createdAt))
}

func chainedRecords(userID string, contents ...string) []*Record {
	var records []*Record
	var previous *string
	for k, content := range contents {
		ch := contentHash([]byte(content))
		createdAt := int64(1700000000000 + k)
		hash := recordHash(previous, ch, userID, createdAt)
		records = append(records, &Record{
			Index:        k,
			Content:      content,
			ContentHash:  ch,
			Hash:         hash,
			PreviousHash: previous,
			UserID:       userID,
			CreatedAt:    createdAt,
		})
		h := hash
		previous = &h
	}
	return records
}

func TestVerifyChain(t *testing.T) {
	records := chainedRecords("alice", "a", "b", "c")
	assert.True(t, VerifyChain(records))

	// a broken link is detected
	bad := "deadbeef"
	records[2].PreviousHash = &bad
	assert.False(t, VerifyChain(records))

	// a first record with a previous hash is invalid
	records = chainedRecords("alice", "a")
	records[0].PreviousHash = &bad
	assert.False(t, VerifyChain(records))
}

func TestVerifyChainSurvivesPurge(t *testing.T) {
	records := chainedRecords("alice", "a", "b", "c")
	// purging clears content but preserves the chain hash
	records[1].Content = ""
	records[1].ContentHash = purgedContentHash
	records[1].Purged = true
	assert.True(t, VerifyChain(records))
}
